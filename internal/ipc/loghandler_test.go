// ABOUTME: Tests for the slog handler that emits protocol log messages.
// ABOUTME: Covers level filtering, attrs, groups, and error values.

package ipc

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogHandler_EmitsLogMessage(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewLogHandler(NewEncoder(&buf), slog.LevelInfo))

	logger.With("component", "worker").Warn("queue full", "depth", 3, "error", errors.New("nope"))

	msg, err := NewDecoder(&buf).Next()
	require.NoError(t, err)
	assert.Equal(t, TypeLog, msg.Type)
	assert.Equal(t, "warn", msg.Level)
	assert.Equal(t, "queue full", msg.Message)
	assert.Equal(t, "worker", msg.Data["component"])
	assert.Equal(t, float64(3), msg.Data["depth"])
	assert.Equal(t, "nope", msg.Data["error"])
}

func TestLogHandler_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewLogHandler(NewEncoder(&buf), slog.LevelInfo))

	logger.Debug("hidden")
	assert.Zero(t, buf.Len())
}

func TestLogHandler_Groups(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewLogHandler(NewEncoder(&buf), slog.LevelDebug))

	logger.WithGroup("req").Info("hi", "id", "req-1")

	msg, err := NewDecoder(&buf).Next()
	require.NoError(t, err)
	assert.Equal(t, "req-1", msg.Data["req.id"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
	assert.Equal(t, "error", LevelName(slog.LevelError))
}

func TestLogHandler_ClipsLargeValues(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewLogHandler(NewEncoder(&buf), slog.LevelInfo))

	huge := strings.Repeat("é", 2*MaxLineSize)
	logger.Info(huge, "input", huge, "err", errors.New(huge))

	msg, err := NewDecoder(&buf).Next()
	require.NoError(t, err)
	assert.Equal(t, MaxLogValue+1, utf8.RuneCountInString(msg.Message))
	input, ok := msg.Data["input"].(string)
	require.True(t, ok)
	assert.True(t, utf8.ValidString(input))
	assert.True(t, strings.HasSuffix(input, "é…"))
	assert.Equal(t, MaxLogValue+1, utf8.RuneCountInString(msg.Data["err"].(string)))
}

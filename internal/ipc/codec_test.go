// ABOUTME: Tests for line framing of protocol messages.
// ABOUTME: Covers concurrent encoding, blank and malformed lines, and EOF.

package ipc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncoder_OneMessagePerLine(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	require.NoError(t, enc.Encode(Ready()))
	require.NoError(t, enc.Encode(Text("req-1", "line one\nline two")))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"type":"ready"}`, lines[0])
	assert.Contains(t, lines[1], `line one\nline two`)
}

func TestEncoder_ConcurrentWritesDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = enc.Encode(Text(fmt.Sprintf("req-%d", n), strings.Repeat("x", 500)))
		}(i)
	}
	wg.Wait()

	dec := NewDecoder(&buf)
	count := 0
	for {
		msg, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, TypeText, msg.Type)
		count++
	}
	assert.Equal(t, 50, count)
}

func TestDecoder_SkipsBlankAndReportsMalformed(t *testing.T) {
	input := "\n{not json}\n{\"foo\":1}\n{\"type\":\"ping\"}\n"
	dec := NewDecoder(strings.NewReader(input))

	_, err := dec.Next()
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = dec.Next()
	assert.ErrorIs(t, err, ErrMalformed)

	msg, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, TypePing, msg.Type)

	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoder_LargeLine(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	big := strings.Repeat("a", 512*1024)
	require.NoError(t, enc.Encode(Prompt("req-1", big)))

	msg, err := NewDecoder(&buf).Next()
	require.NoError(t, err)
	assert.Len(t, msg.Prompt, len(big))
}

func TestDecoder_OverlongLineIsSkipped(t *testing.T) {
	input := strings.Repeat("x", MaxLineSize+10) + "\n" + `{"type":"pong"}` + "\n"
	dec := NewDecoder(strings.NewReader(input))

	_, err := dec.Next()
	assert.ErrorIs(t, err, ErrMalformed)

	msg, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, TypePong, msg.Type)

	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoder_OverlongTrailingLine(t *testing.T) {
	dec := NewDecoder(strings.NewReader(strings.Repeat("x", 2*MaxLineSize)))

	_, err := dec.Next()
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoder_LineAtLimit(t *testing.T) {
	prefix, suffix := `{"type":"log","message":"`, `"}`
	line := prefix + strings.Repeat("m", MaxLineSize-len(prefix)-len(suffix)) + suffix
	require.Len(t, line, MaxLineSize)

	msg, err := NewDecoder(strings.NewReader(line + "\r\n")).Next()
	require.NoError(t, err)
	assert.Equal(t, TypeLog, msg.Type)
	assert.Len(t, msg.Message, MaxLineSize-len(prefix)-len(suffix))
}

func TestDecoder_FinalLineWithoutNewline(t *testing.T) {
	dec := NewDecoder(strings.NewReader(`{"type":"ready"}`))

	msg, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, TypeReady, msg.Type)

	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

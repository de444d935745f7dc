// ABOUTME: slog.Handler that ships worker log records as protocol log messages.
// ABOUTME: Keeps stdout pure protocol while the supervisor owns the real logger.

package ipc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// LogHandler encodes each record as a {"type":"log"} message.
type LogHandler struct {
	enc    *Encoder
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

// NewLogHandler returns a handler writing records at or above level to enc.
func NewLogHandler(enc *Encoder, level slog.Leveler) *LogHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &LogHandler{enc: enc, level: level}
}

// Enabled implements slog.Handler.
func (h *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *LogHandler) Handle(_ context.Context, r slog.Record) error {
	data := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		addAttr(data, "", a)
	}
	prefix := strings.Join(h.groups, ".")
	r.Attrs(func(a slog.Attr) bool {
		addAttr(data, prefix, a)
		return true
	})
	if len(data) == 0 {
		data = nil
	}
	return h.enc.Encode(Log(LevelName(r.Level), clip(r.Message), data))
}

// WithAttrs implements slog.Handler.
func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	prefix := strings.Join(h.groups, ".")
	next.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		next.attrs = append(next.attrs, a)
	}
	return &next
}

// WithGroup implements slog.Handler.
func (h *LogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(append([]string(nil), h.groups...), name)
	return &next
}

func addAttr(data map[string]any, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	switch a.Value.Kind() {
	case slog.KindGroup:
		for _, ga := range a.Value.Group() {
			addAttr(data, key, ga)
		}
	case slog.KindTime:
		data[key] = a.Value.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		data[key] = a.Value.Duration().String()
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			data[key] = clip(err.Error())
			return
		}
		data[key] = clip(fmt.Sprint(a.Value.Any()))
	case slog.KindString:
		data[key] = clip(a.Value.String())
	default:
		data[key] = a.Value.Any()
	}
}

// MaxLogValue bounds, in runes, the message and each string attribute of a
// log message, keeping records well under MaxLineSize.
const MaxLogValue = 8 * 1024

func clip(s string) string {
	if len(s) <= MaxLogValue {
		return s
	}
	r := []rune(s)
	if len(r) <= MaxLogValue {
		return s
	}
	return string(r[:MaxLogValue]) + "…"
}

// LevelName maps a slog level to its protocol name.
func LevelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}

// ParseLevel maps a protocol level name back to a slog level. Unknown names
// map to info.
func ParseLevel(name string) slog.Level {
	switch name {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "debug":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

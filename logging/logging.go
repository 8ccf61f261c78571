// Package logging configures the leveled loggers used across the bridge.
//
// Logging is a pure side channel: components call into it but never depend
// on it for correctness. The package adds a Trace level below slog's Debug
// for per-operation diagnostics and renders timestamps as UTC with
// millisecond precision, matching the session log format expected by
// downstream tooling.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// LevelTrace is the finest-grained level, below slog.LevelDebug. Trace
// records cover individual wait wakeups, operation issues, and benign
// zero-length completions.
const LevelTrace = slog.LevelDebug - 4

// previewMax bounds the rendered length of payload previews.
const previewMax = 255

// ParseLevel maps a configuration string to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info", "":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "trace":
		return LevelTrace, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// New creates a text logger writing to w at the given minimum level.
// Timestamps are rendered in UTC with millisecond precision and the custom
// Trace level is labeled TRACE rather than DEBUG-4.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceAttr,
	}))
}

// Discard returns a logger that drops every record. Components accept a
// nil logger and substitute this.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.TimeKey:
		if len(groups) == 0 {
			t := a.Value.Time()
			a.Value = slog.StringValue(t.UTC().Format("2006-01-02T15:04:05.000Z"))
		}
	case slog.LevelKey:
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

// Preview renders a byte run for debug records. Bytes outside the printable
// ASCII range become '.', and the result is capped at 255 characters.
// Callers should gate on the handler level before rendering.
func Preview(b []byte) string {
	n := len(b)
	if n > previewMax {
		n = previewMax
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		c := b[i]
		if c < 0x20 || c > 0x7e {
			c = '.'
		}
		out[i] = c
	}
	return string(out)
}

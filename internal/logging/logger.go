package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New creates the process logger. It writes to stderr so stdout stays free
// for command results, and standardizes the "error" key to "err".
// Outside the local environment records are emitted as JSON.
func New(level slog.Level, env string) *slog.Logger {
	return newLogger(os.Stderr, level, env)
}

func newLogger(w io.Writer, level slog.Level, env string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == "error" {
				a.Key = "err"
			}
			return a
		},
	}
	env = strings.ToLower(strings.TrimSpace(env))
	if env == "" || env == "local" || env == "test" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
// Anything else is info.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// NewNop returns a no-op logger.
func NewNop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

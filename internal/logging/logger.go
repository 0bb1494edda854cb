// Package logging builds the slog loggers used across goSession.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns a text logger on stderr at the named level (debug, info, warn, error).
// Unknown levels fall back to info.
func New(level string) *slog.Logger {
	return NewWithWriter(os.Stderr, level, false)
}

// NewWithWriter returns a logger writing to w, as JSON when json is true.
func NewWithWriter(w io.Writer, level string, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// NewNop returns a logger that discards everything.
func NewNop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

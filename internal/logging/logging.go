// Package logging sets up the process logger. Everything else logs through
// log/slog directly.
package logging

import (
	"context"
	"io"
	"log/slog"
)

// NewLogger returns a text logger writing to w at the given level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Setup installs a logger writing to w as the slog default. Debug output is
// enabled when debug is set; otherwise only warnings and errors are logged.
func Setup(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	logger := NewLogger(w, level)
	slog.SetDefault(logger)
	return logger
}

// DebugEnabled reports whether the default logger emits debug records, so
// callers can skip building expensive attributes.
func DebugEnabled(ctx context.Context) bool {
	return slog.Default().Enabled(ctx, slog.LevelDebug)
}

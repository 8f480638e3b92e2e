// Package logger provides structured logging configuration using slog.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup initializes and returns a configured slog.Logger writing text to stdout.
func Setup(level string) *slog.Logger {
	return New(os.Stdout, level)
}

// New returns a text logger writing to w at the given level.
func New(w io.Writer, level string) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})

	return slog.New(handler)
}

// ParseLevel maps a level name to slog.Level, falling back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// Err returns the standard attribute for an error value.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}

	return slog.String("error", err.Error())
}

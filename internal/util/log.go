// Package util provides shared utility functions for logging, retries, rate
// limiting, and timeframe arithmetic.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the application logger on stdout. level is one of
// "debug", "info", "warn", "error" and format is "json" or "text";
// unrecognised values fall back to info and JSON, so a bad config still
// produces a working logger.
func NewLogger(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var h slog.Handler
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(h)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetDefault installs logger as the process-wide slog default.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}

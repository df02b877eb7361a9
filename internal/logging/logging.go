// Package logging builds the slog loggers shared by every component.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// silent sits above every standard level so nothing is emitted.
const silent = slog.Level(100)

// New creates a text logger writing records at or above level to w.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Discard returns a logger that drops all output.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: silent}))
}

// LevelFromString converts debug, info, warn or error (any case) to a level.
// Unrecognized strings map to info.
func LevelFromString(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "off", "none", "quiet":
		return silent
	default:
		return slog.LevelInfo
	}
}

// LevelFromVerbosity maps repeated -v flags to a level: none is warn, one is
// info, two or more is debug. quiet wins over everything.
func LevelFromVerbosity(verbosity int, quiet bool) slog.Level {
	if quiet {
		return silent
	}
	switch verbosity {
	case 0:
		return slog.LevelWarn
	case 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

package logger

import (
	"log/slog"
	"os"
	"strings"
)

// New returns the process-wide structured logger. Pipeline stages log through
// it with asset ids attached, so json output (the default) keeps those fields
// queryable; "text" is friendlier for local runs.
// level accepts "debug", "info", "warn" or "error" (default "info").
func New(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var h slog.Handler
	if strings.ToLower(format) == "text" {
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

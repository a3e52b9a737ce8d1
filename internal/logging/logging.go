// Package logging builds the process-wide structured logger from
// LoggingConfig, matching the teacher's cmd/bot/main.go setup: a single
// *slog.Logger constructed once in main() and passed explicitly down
// through every component constructor — no package-level global logger.
package logging

import (
	"log/slog"
	"os"

	"pmm/internal/config"
)

// New builds a *slog.Logger from the configured level and format. "json"
// selects a production-style JSON handler; anything else (including the
// empty string) selects the text handler used for local development.
func New(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a config string onto a slog.Level, defaulting to Info for
// anything unrecognized.
func ParseLevel(level string) slog.Level {
	switch level {
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

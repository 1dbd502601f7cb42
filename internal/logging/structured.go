package logging

import (
	"log/slog"
	"os"
)

// InitStructured reconfigures the operational logger.
// format: "text" (default) or "json" (Loki/ELK compatible)
// level: "debug", "info", "warn", "error"
func InitStructured(format, level string) {
	SetLevelFromString(level)

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	opLogger.Store(logger)
}

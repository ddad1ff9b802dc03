package main

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// newLogger builds the process logger. LOG_LEVEL overrides the level,
// debug_mode forces debug, LOG_FORMAT=json switches to the JSON handler.
func newLogger(config *Config, w io.Writer) *slog.Logger {
	level := getLogLevel(os.Getenv("LOG_LEVEL"))
	if config != nil && config.DebugMode {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

func getLogLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// discardLogger is used when a component is built without a logger.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loggerOrDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return discardLogger()
	}
	return logger
}

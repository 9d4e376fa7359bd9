// Package logger provides the process-wide slog logger and the shared
// logging attribute helpers used across domain packages.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"go.uber.org/fx"
)

var Module = fx.Module("logger",
	fx.Provide(NewLogger),
)

// NewLogger builds the root logger from the environment.
//
// LOG_LEVEL selects the minimum level (debug, info, warn/warning, error;
// case-insensitive, defaulting to info). GO_ENV=production switches the
// handler to JSON for log shippers; anything else logs human-readable text.
func NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(os.Getenv("LOG_LEVEL")),
	}

	var handler slog.Handler
	if os.Getenv("GO_ENV") == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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

// Scope tags a record with the subsystem it came from, e.g. "queue.worker".
func Scope(scope string) slog.Attr {
	return slog.String("scope", scope)
}

// Error attaches an error to a record under the conventional "error" key.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

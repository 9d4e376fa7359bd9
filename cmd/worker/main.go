// Package main runs the Banter queue worker: every registered queue
// consumer, the batching and loop workers, the scheduler, and the ops HTTP
// surface in one process.
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/banterhq/banter/domain/email"
	"github.com/banterhq/banter/domain/invites"
	"github.com/banterhq/banter/domain/mirror"
	"github.com/banterhq/banter/domain/missedmessage"
	"github.com/banterhq/banter/domain/push"
	"github.com/banterhq/banter/domain/scheduler"
	"github.com/banterhq/banter/domain/signup"
	"github.com/banterhq/banter/domain/useractivity"
	"github.com/banterhq/banter/internal/archive"
	"github.com/banterhq/banter/internal/config"
	"github.com/banterhq/banter/internal/database"
	"github.com/banterhq/banter/internal/migrate"
	"github.com/banterhq/banter/internal/queue"
	"github.com/banterhq/banter/internal/ratelimit"
	"github.com/banterhq/banter/internal/server"
	"github.com/banterhq/banter/pkg/logger"
)

func main() {
	// Load .env files if present (for local development)
	// Order matters: .env.local overrides .env
	// Note: Load() won't overwrite existing vars, Overload() will
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	fx.New(
		// Logging
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure modules
		logger.Module,
		config.Module,
		database.Module,
		migrate.Module,
		queue.Module,
		ratelimit.Module,
		archive.Module,
		server.Module,

		// Domain workers
		email.Module,
		push.Module,
		mirror.Module,
		missedmessage.Module,
		signup.Module,
		invites.Module,
		useractivity.Module,
		scheduler.Module,
	).Run()
}

// Package migrate runs the embedded Goose migrations.
package migrate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/banterhq/banter/internal/config"
	"github.com/banterhq/banter/migrations"
	"github.com/banterhq/banter/pkg/logger"
)

// Module provides migration dependencies.
var Module = fx.Options(
	fx.Provide(NewMigrator),
	fx.Invoke(RunOnStart),
)

// Migrator handles database migrations.
type Migrator struct {
	db  *bun.DB
	log *slog.Logger
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *bun.DB, log *slog.Logger) *Migrator {
	return &Migrator{
		db:  db,
		log: log.With(logger.Scope("migrator")),
	}
}

func (m *Migrator) setup() error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	return nil
}

// Up runs all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	m.log.Info("running database migrations")

	if err := m.setup(); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, m.db.DB, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	m.log.Info("migrations completed")
	return nil
}

// Status logs the current migration status.
func (m *Migrator) Status(ctx context.Context) error {
	if err := m.setup(); err != nil {
		return err
	}
	if err := goose.StatusContext(ctx, m.db.DB, "."); err != nil {
		return fmt.Errorf("get migration status: %w", err)
	}
	return nil
}

// Version returns the current database version.
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	if err := m.setup(); err != nil {
		return 0, err
	}
	version, err := goose.GetDBVersionContext(ctx, m.db.DB)
	if err != nil {
		return 0, fmt.Errorf("get version: %w", err)
	}
	return version, nil
}

// RunOnStart applies pending migrations during startup when
// MIGRATE_ON_START is set, gating worker spawn on an up-to-date schema.
func RunOnStart(lc fx.Lifecycle, m *Migrator, cfg *config.Config) {
	if !cfg.MigrateOnStart {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return m.Up(ctx)
		},
	})
}

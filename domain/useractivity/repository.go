package useractivity

import (
	"context"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/banterhq/banter/pkg/apperror"
	"github.com/banterhq/banter/pkg/logger"
)

// Repository handles database operations for user activity counts
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new user activity repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("useractivity.repo")),
	}
}

// Upsert folds a coalesced batch into the rollup table. An existing
// (user, client, query) row gains the batch's count and keeps its newest
// visit time.
func (r *Repository) Upsert(ctx context.Context, counts []*UserActivityCount) error {
	if len(counts) == 0 {
		return nil
	}
	_, err := r.db.NewInsert().
		Model(&counts).
		On("CONFLICT (user_id, client, query) DO UPDATE").
		Set("query_count = uac.query_count + EXCLUDED.query_count").
		Set("last_visit = GREATEST(uac.last_visit, EXCLUDED.last_visit)").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to upsert activity counts", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// DeleteStale removes rollup rows whose last visit is older than cutoff.
func (r *Repository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*UserActivityCount)(nil)).
		Where("last_visit < ?", cutoff).
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to delete stale activity counts", logger.Error(err))
		return 0, apperror.ErrDatabase.WithInternal(err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return deleted, nil
}

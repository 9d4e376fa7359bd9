package invites

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/banterhq/banter/pkg/apperror"
	"github.com/banterhq/banter/pkg/logger"
)

// Repository handles database operations for preregistration users
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new invites repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("invites.repo")),
	}
}

// GetByID loads one preregistration row. A missing row returns
// apperror.ErrNotFound.
func (r *Repository) GetByID(ctx context.Context, id int64) (*PreregistrationUser, error) {
	prereg := &PreregistrationUser{}
	err := r.db.NewSelect().
		Model(prereg).
		Where("pru.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrNotFound
		}
		r.log.Error("failed to load preregistration user", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return prereg, nil
}

// GetByEmail loads the newest pending preregistration row for an address.
// Legacy invite events carry only the email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*PreregistrationUser, error) {
	prereg := &PreregistrationUser{}
	err := r.db.NewSelect().
		Model(prereg).
		Where("LOWER(pru.email) = LOWER(?)", email).
		Where("pru.status = ?", "pending").
		Order("pru.created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrNotFound
		}
		r.log.Error("failed to load preregistration user by email", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return prereg, nil
}

// MarkReminded stamps the row's reminded_at.
func (r *Repository) MarkReminded(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.NewUpdate().
		Model((*PreregistrationUser)(nil)).
		Set("reminded_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to mark invite reminded", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

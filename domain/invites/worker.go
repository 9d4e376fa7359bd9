// Package invites consumes the invite_emails queue: each event points at a
// preregistration row and results in one confirmation email job.
package invites

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/banterhq/banter/domain/email"
	"github.com/banterhq/banter/internal/queue"
	"github.com/banterhq/banter/pkg/apperror"
	"github.com/banterhq/banter/pkg/logger"
)

// QueueName is the queue this package consumes.
const QueueName = "invite_emails"

// TemplateName is the outgoing email template invite confirmations render
// with.
const TemplateName = "invite_confirmation"

// Event is one queued invitation. Legacy producers identify the invite by
// email instead of prereg_id.
type Event struct {
	PreregID     int64  `json:"prereg_id,omitempty"`
	Email        string `json:"email,omitempty"`
	ReferrerName string `json:"referrer_name,omitempty"`
	RealmName    string `json:"realm_name,omitempty"`
	ActivateURL  string `json:"activate_url,omitempty"`
}

// Publish enqueues one invitation event.
func Publish(ctx context.Context, client queue.Client, event Event) error {
	return queue.PublishJSON(ctx, client, QueueName, event)
}

// Store is the repository surface the worker needs.
type Store interface {
	GetByID(ctx context.Context, id int64) (*PreregistrationUser, error)
	GetByEmail(ctx context.Context, email string) (*PreregistrationUser, error)
	MarkReminded(ctx context.Context, id int64, at time.Time) error
}

// Worker turns invitation events into confirmation email jobs.
type Worker struct {
	store  Store
	client queue.Client
	log    *slog.Logger
	now    func() time.Time
}

// NewWorker builds the invite email consumer.
func NewWorker(store Store, client queue.Client, log *slog.Logger) *Worker {
	return &Worker{
		store:  store,
		client: client,
		log:    log.With(logger.Scope("invites.worker")),
		now:    time.Now,
	}
}

// Consume handles one invitation. An invite whose preregistration row is
// gone was revoked or already accepted; it is dropped, not retried.
func (w *Worker) Consume(ctx context.Context, job queue.Job) error {
	var event Event
	if err := job.Unmarshal(&event); err != nil {
		return queue.Permanent(err)
	}
	if event.PreregID <= 0 && event.Email == "" {
		return queue.Permanent(fmt.Errorf("invite event requires prereg_id or email"))
	}

	prereg, err := w.resolve(ctx, event)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			w.log.Info("invite has no preregistration row, dropping",
				slog.Int64("prereg_id", event.PreregID),
				slog.String("email", event.Email))
			return nil
		}
		return fmt.Errorf("load preregistration: %w", err)
	}

	send := email.SendEvent{
		To:       prereg.Email,
		Template: TemplateName,
		Context: map[string]any{
			"referrer_name": event.ReferrerName,
			"realm_name":    event.RealmName,
			"activate_url":  event.ActivateURL,
		},
	}
	if err := email.Publish(ctx, w.client, send); err != nil {
		return fmt.Errorf("publish confirmation email for %s: %w", prereg.Email, err)
	}

	// The email job is already queued; a failed reminded_at stamp is
	// bookkeeping, and retrying the whole job would send a second email.
	if err := w.store.MarkReminded(ctx, prereg.ID, w.now()); err != nil {
		w.log.Warn("failed to mark invite reminded", logger.Error(err))
	}

	w.log.Info("invite confirmation queued",
		slog.Int64("prereg_id", prereg.ID),
		slog.String("email", prereg.Email))
	return nil
}

func (w *Worker) resolve(ctx context.Context, event Event) (*PreregistrationUser, error) {
	if event.PreregID > 0 {
		return w.store.GetByID(ctx, event.PreregID)
	}
	return w.store.GetByEmail(ctx, event.Email)
}

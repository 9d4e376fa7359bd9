// Package useractivity consumes the user_activity queue. Every API request
// a client makes lands here as one event; the loop worker drains them in
// batches and folds them into per-(user, client, query) count rows, so the
// hottest queue in the system costs one database statement per batch.
package useractivity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/banterhq/banter/internal/queue"
	"github.com/banterhq/banter/pkg/logger"
)

// QueueName is the queue this package consumes.
const QueueName = "user_activity"

// Event is one recorded client request.
type Event struct {
	UserID int64  `json:"user_id"`
	Client string `json:"client"`
	Query  string `json:"query"`
	// Time is the event's unix timestamp in seconds.
	Time float64 `json:"time"`
}

// Publish enqueues one activity event.
func Publish(ctx context.Context, client queue.Client, event Event) error {
	return queue.PublishJSON(ctx, client, QueueName, event)
}

// Store is the repository surface the worker needs.
type Store interface {
	Upsert(ctx context.Context, counts []*UserActivityCount) error
}

// Worker coalesces drained activity events and upserts the rollups.
type Worker struct {
	store Store
	log   *slog.Logger
}

// NewWorker builds the user activity batch handler.
func NewWorker(store Store, log *slog.Logger) *Worker {
	return &Worker{
		store: store,
		log:   log.With(logger.Scope("useractivity.worker")),
	}
}

// HandleBatch coalesces one drained batch per (user, client, query) and
// writes it in a single upsert. Events missing their identity fields are
// skipped with a warning; they would corrupt the rollup keyspace and a
// retry cannot repair them.
func (w *Worker) HandleBatch(ctx context.Context, jobs []queue.Job) error {
	counts := coalesce(w.log, jobs)
	if len(counts) == 0 {
		return nil
	}
	if err := w.store.Upsert(ctx, counts); err != nil {
		return fmt.Errorf("upsert %d activity rollups: %w", len(counts), err)
	}
	w.log.Debug("activity batch recorded",
		slog.Int("events", len(jobs)),
		slog.Int("rollups", len(counts)))
	return nil
}

type activityKey struct {
	userID int64
	client string
	query  string
}

// coalesce folds raw events into one count row per key, keeping the newest
// visit time. Order of first appearance is preserved so the upsert is
// deterministic.
func coalesce(log *slog.Logger, jobs []queue.Job) []*UserActivityCount {
	byKey := make(map[activityKey]*UserActivityCount, len(jobs))
	order := make([]activityKey, 0, len(jobs))

	for _, job := range jobs {
		var event Event
		if err := job.Unmarshal(&event); err != nil {
			log.Warn("skipping undecodable activity event", logger.Error(err))
			continue
		}
		if event.UserID <= 0 || event.Query == "" {
			log.Warn("skipping activity event without identity",
				slog.Int64("user_id", event.UserID),
				slog.String("query", event.Query))
			continue
		}

		key := activityKey{userID: event.UserID, client: event.Client, query: event.Query}
		visit := time.Unix(0, int64(event.Time*float64(time.Second))).UTC()

		row, ok := byKey[key]
		if !ok {
			row = &UserActivityCount{
				UserID:    event.UserID,
				Client:    event.Client,
				Query:     event.Query,
				LastVisit: visit,
			}
			byKey[key] = row
			order = append(order, key)
		}
		row.QueryCount++
		if visit.After(row.LastVisit) {
			row.LastVisit = visit
		}
	}

	counts := make([]*UserActivityCount, 0, len(order))
	for _, key := range order {
		counts = append(counts, byKey[key])
	}
	return counts
}

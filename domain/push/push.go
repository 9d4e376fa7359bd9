// Package push consumes the mobile_push queue and forwards notification
// events to the push bouncer service.
package push

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/banterhq/banter/internal/queue"
	"github.com/banterhq/banter/pkg/logger"
)

// QueueName is the queue this package consumes.
const QueueName = "mobile_push"

// Event types.
const (
	EventAdd    = "add"
	EventRemove = "remove"
)

// Event is one queued push notification event. Add events fan a new message
// out to a user's registered devices; remove events retract notifications
// for messages the user has since read.
type Event struct {
	Type       string  `json:"type"`
	UserID     int64   `json:"user_id"`
	MessageIDs []int64 `json:"message_ids"`
}

// Publish enqueues one push event.
func Publish(ctx context.Context, client queue.Client, event Event) error {
	return queue.PublishJSON(ctx, client, QueueName, event)
}

// Worker forwards queued push events to the bouncer.
type Worker struct {
	bouncer Bouncer
	log     *slog.Logger
}

// NewWorker builds the mobile push consumer.
func NewWorker(bouncer Bouncer, log *slog.Logger) *Worker {
	return &Worker{
		bouncer: bouncer,
		log:     log.With(logger.Scope("push.worker")),
	}
}

// Consume handles one push event. Malformed events fail permanently; bouncer
// availability problems are retryable; a bouncer rejection (4xx) means the
// event itself is bad and will never be accepted.
func (w *Worker) Consume(ctx context.Context, job queue.Job) error {
	var event Event
	if err := job.Unmarshal(&event); err != nil {
		return queue.Permanent(err)
	}
	if event.Type != EventAdd && event.Type != EventRemove {
		return queue.Permanent(fmt.Errorf("unknown push event type %q", event.Type))
	}
	if event.UserID <= 0 {
		return queue.Permanent(fmt.Errorf("push event requires a user id"))
	}

	if err := w.bouncer.Notify(ctx, event); err != nil {
		return err
	}

	w.log.Info("push event forwarded",
		slog.String("type", event.Type),
		slog.Int64("user_id", event.UserID),
		slog.Int("message_count", len(event.MessageIDs)))
	return nil
}

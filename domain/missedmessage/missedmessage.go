// Package missedmessage consumes the missed_message_emails queue. Events
// for one user are aggregated over a short window so a burst of mentions
// becomes one digest email instead of a dozen.
package missedmessage

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/banterhq/banter/domain/email"
	"github.com/banterhq/banter/internal/queue"
	"github.com/banterhq/banter/pkg/logger"
)

// QueueName is the queue this package consumes.
const QueueName = "missed_message_emails"

// TemplateName is the outgoing email template a flushed batch renders with.
const TemplateName = "missed_messages"

// Event is one notification trigger: a message the user missed while away.
type Event struct {
	UserID    int64  `json:"user_id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	MessageID int64  `json:"message_id"`
	Sender    string `json:"sender,omitempty"`
	Content   string `json:"content,omitempty"`
	NarrowURL string `json:"narrow_url,omitempty"`
	Trigger   string `json:"trigger,omitempty"`
}

// Publish enqueues one missed-message trigger.
func Publish(ctx context.Context, client queue.Client, event Event) error {
	return queue.PublishJSON(ctx, client, QueueName, event)
}

// Worker buffers missed-message triggers per user and emails one digest per
// window. Ingestion rides the per-message consumer; aggregation and delivery
// live in the batcher, whose pending windows are flushed on shutdown.
type Worker struct {
	*queue.Consumer
	batcher *queue.Batcher
}

// Config configures the missed-message worker.
type Config struct {
	// Window is how long a user's first trigger waits before the digest goes
	// out.
	Window time.Duration
	// MaxRetries bounds ingestion retries for malformed-but-parseable jobs.
	MaxRetries int
	// NewTimer overrides flush scheduling in tests.
	NewTimer queue.TimerFactory
}

// NewWorker builds the missed-message batching worker. Digest emails are
// published onto the outgoing_emails queue through client.
func NewWorker(cfg Config, client queue.Client, log *slog.Logger, sink *queue.ErrorSink) (*Worker, error) {
	flusher := &flusher{
		client: client,
		log:    log.With(logger.Scope("missedmessage.flush")),
	}
	batcher, err := queue.NewBatcher(queue.BatcherConfig{
		QueueName: QueueName,
		Window:    cfg.Window,
		NewTimer:  cfg.NewTimer,
	}, log, sink, flusher.Flush)
	if err != nil {
		return nil, err
	}

	consumer, err := queue.NewConsumer(queue.ConsumerConfig{
		QueueName:  QueueName,
		Type:       queue.TypeBatch,
		MaxRetries: cfg.MaxRetries,
	}, log, sink, func(ctx context.Context, job queue.Job) error {
		var event Event
		if err := job.Unmarshal(&event); err != nil {
			return queue.Permanent(err)
		}
		if event.UserID <= 0 {
			return queue.Permanent(fmt.Errorf("missed-message event requires a user id"))
		}
		if event.Email == "" {
			return queue.Permanent(fmt.Errorf("missed-message event for user %d requires an email address", event.UserID))
		}
		batcher.Add(strconv.FormatInt(event.UserID, 10), job)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Worker{Consumer: consumer, batcher: batcher}, nil
}

// Stop flushes every pending window so buffered triggers still go out as
// digests before shutdown.
func (w *Worker) Stop(ctx context.Context) error {
	w.batcher.FlushAll(ctx)
	return w.Consumer.Stop(ctx)
}

// FlushAll forces every pending digest out now.
func (w *Worker) FlushAll(ctx context.Context) {
	w.batcher.FlushAll(ctx)
}

// PendingUsers reports how many users have an open aggregation window.
func (w *Worker) PendingUsers() int {
	return w.batcher.PendingKeys()
}

// flusher turns one user's flushed window into a single digest email job.
type flusher struct {
	client queue.Client
	log    *slog.Logger
}

func (f *flusher) Flush(ctx context.Context, key string, jobs []queue.Job) error {
	events := make([]Event, 0, len(jobs))
	for _, job := range jobs {
		var event Event
		if err := job.Unmarshal(&event); err != nil {
			// Ingestion validated the payload; a decode failure here means
			// the job was mutated in flight.
			return fmt.Errorf("decode batched event for user %s: %w", key, err)
		}
		events = append(events, event)
	}
	if len(events) == 0 {
		return nil
	}

	send := buildDigest(events)
	if err := email.Publish(ctx, f.client, send); err != nil {
		return fmt.Errorf("publish digest for user %s: %w", key, err)
	}

	f.log.Info("missed-message digest queued",
		slog.String("user", key),
		slog.Int("message_count", len(events)))
	return nil
}

// buildDigest folds one user's window into a single outgoing email job.
func buildDigest(events []Event) email.SendEvent {
	first := events[0]

	messages := make([]map[string]any, 0, len(events))
	triggers := make([]string, 0, len(events))
	singleSender := true
	for _, e := range events {
		messages = append(messages, map[string]any{
			"sender":  e.Sender,
			"content": e.Content,
		})
		if e.Trigger != "" {
			triggers = append(triggers, e.Trigger)
		}
		if e.Sender != first.Sender {
			singleSender = false
		}
	}

	ctx := map[string]any{
		"to_name":       first.Name,
		"message_count": len(events),
		"single":        len(events) == 1,
		"messages":      messages,
		"triggers":      triggers,
		"narrow_url":    first.NarrowURL,
	}
	if singleSender && first.Sender != "" {
		ctx["sender_name"] = first.Sender
	}

	return email.SendEvent{
		To:       first.Email,
		ToName:   first.Name,
		Template: TemplateName,
		Context:  ctx,
	}
}

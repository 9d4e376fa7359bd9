// Package mirror consumes the email_mirror queue: inbound emails captured by
// the mail gateway, turned into platform messages. Ingestion is rate limited
// per realm so one noisy tenant cannot flood message creation.
package mirror

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/banterhq/banter/internal/queue"
	"github.com/banterhq/banter/internal/ratelimit"
	"github.com/banterhq/banter/pkg/logger"
)

// QueueName is the queue this package consumes.
const QueueName = "email_mirror"

// Event is one captured inbound email. Newer producers base64-encode the raw
// message; older ones send it as plain text in message.
type Event struct {
	RcptTo    string `json:"rcpt_to"`
	MsgBase64 string `json:"msg_base64,omitempty"`
	Message   string `json:"message,omitempty"`
	RealmID   int64  `json:"realm_id,omitempty"`
}

// Publish enqueues one inbound email for mirroring.
func Publish(ctx context.Context, client queue.Client, event Event) error {
	return queue.PublishJSON(ctx, client, QueueName, event)
}

// Worker mirrors inbound emails into the platform.
type Worker struct {
	codec     *AddressCodec
	limiter   ratelimit.Limiter
	processor Processor
	log       *slog.Logger
}

// NewWorker builds the email mirror consumer.
func NewWorker(codec *AddressCodec, limiter ratelimit.Limiter, processor Processor, log *slog.Logger) *Worker {
	return &Worker{
		codec:     codec,
		limiter:   limiter,
		processor: processor,
		log:       log.With(logger.Scope("mirror.worker")),
	}
}

// Consume handles one captured email. Over-budget and limiter-error jobs are
// dropped with a warning and counted as handled; retrying them would only
// replay the flood. Processor failures are retryable.
func (w *Worker) Consume(ctx context.Context, job queue.Job) error {
	var event Event
	if err := job.Unmarshal(&event); err != nil {
		return queue.Permanent(err)
	}
	if event.RcptTo == "" {
		return queue.Permanent(fmt.Errorf("mirror event requires rcpt_to"))
	}

	message, err := event.messageText()
	if err != nil {
		return queue.Permanent(err)
	}

	// Missed-message replies skip the limiter: their addresses are minted by
	// us, one per notification, so they cannot be used to flood a realm.
	if !IsMissedMessageAddress(event.RcptTo) {
		allowed, err := w.limiter.Allow(ctx, event.rateKey())
		if err != nil {
			w.log.Warn("rate limiter unavailable, dropping mirrored email",
				slog.String("rcpt_to", event.RcptTo),
				logger.Error(err))
			return nil
		}
		if !allowed {
			w.log.Warn("mirrored email over rate budget, dropping",
				slog.String("rcpt_to", event.RcptTo),
				slog.Int64("realm_id", event.RealmID))
			return nil
		}
	}

	if err := w.processor.Ingest(ctx, IngestRequest{
		RcptTo:  event.RcptTo,
		Message: message,
		RealmID: event.RealmID,
	}); err != nil {
		return fmt.Errorf("ingest mirrored email for %s: %w", event.RcptTo, err)
	}

	w.log.Info("mirrored email ingested", slog.String("rcpt_to", event.RcptTo))
	return nil
}

func (e Event) messageText() (string, error) {
	if e.MsgBase64 != "" {
		raw, err := base64.StdEncoding.DecodeString(e.MsgBase64)
		if err != nil {
			return "", fmt.Errorf("decode msg_base64: %w", err)
		}
		return string(raw), nil
	}
	return e.Message, nil
}

// rateKey buckets events per realm; events without a realm fall back to the
// recipient domain so unknown tenants still share one budget per domain.
func (e Event) rateKey() string {
	if e.RealmID > 0 {
		return "mirror:realm:" + strconv.FormatInt(e.RealmID, 10)
	}
	_, domain, err := splitAddress(e.RcptTo)
	if err != nil {
		return "mirror:unknown"
	}
	return "mirror:domain:" + domain
}

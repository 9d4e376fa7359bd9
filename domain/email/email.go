// Package email consumes the outgoing_emails queue: each job names a
// template and a recipient, gets rendered through the Handlebars template
// set, and goes out via Mailgun.
package email

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/banterhq/banter/internal/queue"
	"github.com/banterhq/banter/pkg/logger"
)

// QueueName is the queue this package consumes.
const QueueName = "outgoing_emails"

// SendEvent is one queued outgoing email.
type SendEvent struct {
	MessageID string         `json:"message_id,omitempty"`
	To        string         `json:"to"`
	ToName    string         `json:"to_name,omitempty"`
	Template  string         `json:"template"`
	Context   map[string]any `json:"context,omitempty"`
}

// Publish enqueues one outgoing email job. Other workers (missed-message
// batching, invite confirmations) send their mail through this.
func Publish(ctx context.Context, client queue.Client, event SendEvent) error {
	return queue.PublishJSON(ctx, client, QueueName, event)
}

// Worker turns queued send events into rendered, delivered emails.
type Worker struct {
	templates *TemplateService
	sender    Sender
	log       *slog.Logger
}

// NewWorker builds the outgoing email consumer.
func NewWorker(templates *TemplateService, sender Sender, log *slog.Logger) *Worker {
	return &Worker{
		templates: templates,
		sender:    sender,
		log:       log.With(logger.Scope("email.worker")),
	}
}

// Consume handles one send event. A malformed event or unknown template can
// never succeed and is failed permanently; a send failure is retryable.
func (w *Worker) Consume(ctx context.Context, job queue.Job) error {
	var event SendEvent
	if err := job.Unmarshal(&event); err != nil {
		return queue.Permanent(err)
	}
	if event.To == "" || event.Template == "" {
		return queue.Permanent(fmt.Errorf("send event requires to and template, got to=%q template=%q", event.To, event.Template))
	}

	rendered, err := w.templates.Render(event.Template, event.Context)
	if err != nil {
		return queue.Permanent(fmt.Errorf("render %s: %w", event.Template, err))
	}

	messageID, err := w.sender.Send(ctx, Message{
		To:      event.To,
		ToName:  event.ToName,
		Subject: rendered.Subject,
		HTML:    rendered.HTML,
		Text:    rendered.Text,
	})
	if err != nil {
		return fmt.Errorf("send %s to %s: %w", event.Template, event.To, err)
	}

	w.log.Info("email sent",
		slog.String("to", event.To),
		slog.String("template", event.Template),
		slog.String("message_id", messageID))
	return nil
}

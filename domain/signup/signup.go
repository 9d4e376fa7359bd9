// Package signup consumes the list_signups queue: each new account is
// subscribed to the product announcements mailing list.
package signup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/banterhq/banter/internal/queue"
	"github.com/banterhq/banter/pkg/logger"
)

// QueueName is the queue this package consumes.
const QueueName = "list_signups"

// Event is one new-account signup.
type Event struct {
	UserID       int64          `json:"user_id"`
	EmailAddress string         `json:"email_address"`
	MergeVars    map[string]any `json:"merge_vars,omitempty"`
}

// Publish enqueues one signup event.
func Publish(ctx context.Context, client queue.Client, event Event) error {
	return queue.PublishJSON(ctx, client, QueueName, event)
}

// ListSubscriber adds one member to a mailing list. *mailgun.MailgunImpl
// satisfies it.
type ListSubscriber interface {
	CreateMember(ctx context.Context, merge bool, list string, member mailgun.Member) error
}

// Worker subscribes signups to the announcements list.
type Worker struct {
	list       string
	subscriber ListSubscriber
	log        *slog.Logger
}

// NewWorker builds the list signup consumer. An empty list address disables
// subscription: events are logged and dropped.
func NewWorker(list string, subscriber ListSubscriber, log *slog.Logger) *Worker {
	return &Worker{
		list:       list,
		subscriber: subscriber,
		log:        log.With(logger.Scope("signup.worker")),
	}
}

// Consume handles one signup. An address that is already on the list is
// success, not failure: the outcome the job wanted already holds.
func (w *Worker) Consume(ctx context.Context, job queue.Job) error {
	var event Event
	if err := job.Unmarshal(&event); err != nil {
		return queue.Permanent(err)
	}
	if event.EmailAddress == "" {
		return queue.Permanent(fmt.Errorf("signup event requires an email address"))
	}

	if w.list == "" {
		w.log.Info("announcement list not configured, dropping signup",
			slog.String("email", event.EmailAddress))
		return nil
	}

	member := mailgun.Member{
		Address: event.EmailAddress,
		Vars:    event.MergeVars,
	}
	if name, ok := event.MergeVars["name"].(string); ok {
		member.Name = name
	}

	if err := w.subscriber.CreateMember(ctx, true, w.list, member); err != nil {
		if isMemberExists(err) {
			w.log.Warn("signup already subscribed",
				slog.String("email", event.EmailAddress),
				slog.String("list", w.list))
			return nil
		}
		return fmt.Errorf("subscribe %s to %s: %w", event.EmailAddress, w.list, err)
	}

	w.log.Info("signup subscribed",
		slog.String("email", event.EmailAddress),
		slog.String("list", w.list))
	return nil
}

// isMemberExists detects Mailgun's 400 response for an address that is
// already a list member.
func isMemberExists(err error) bool {
	var ure *mailgun.UnexpectedResponseError
	if !errors.As(err, &ure) {
		return false
	}
	if ure.Actual != http.StatusBadRequest {
		return false
	}
	body := strings.ToLower(string(ure.Data))
	return strings.Contains(body, "already exists") || strings.Contains(body, "member exists")
}

package signup

import (
	"context"
	"log/slog"

	"github.com/mailgun/mailgun-go/v4"
	"go.uber.org/fx"

	"github.com/banterhq/banter/internal/config"
	"github.com/banterhq/banter/internal/queue"
)

// Module wires the list signup worker.
var Module = fx.Module("signup",
	fx.Invoke(RegisterWorker),
)

// RegisterWorker declares the list_signups consumer in the registry.
func RegisterWorker(registry *queue.Registry, cfg *config.Config, log *slog.Logger, sink *queue.ErrorSink) error {
	var subscriber ListSubscriber
	if cfg.Email.MailgunDomain != "" && cfg.Email.MailgunAPIKey != "" {
		subscriber = mailgun.NewMailgun(cfg.Email.MailgunDomain, cfg.Email.MailgunAPIKey)
	}
	list := cfg.Signup.AnnouncementList
	if subscriber == nil {
		if list != "" {
			log.Warn("mailgun not configured, list signups will be logged and dropped")
		}
		list = ""
		subscriber = noOpSubscriber{}
	}
	worker := NewWorker(list, subscriber, log)

	return registry.Register(QueueName, queue.TypeConsumer, func() (queue.Worker, error) {
		return queue.NewConsumer(queue.ConsumerConfig{
			QueueName:  QueueName,
			MaxRetries: cfg.Queue.MaxRequestRetries,
		}, log, sink, worker.Consume)
	})
}

type noOpSubscriber struct{}

func (noOpSubscriber) CreateMember(ctx context.Context, merge bool, list string, member mailgun.Member) error {
	return nil
}

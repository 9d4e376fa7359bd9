package email

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/banterhq/banter/internal/config"
	"github.com/banterhq/banter/internal/queue"
	"github.com/banterhq/banter/pkg/logger"
)

// Module wires the outgoing email worker.
var Module = fx.Module("email",
	fx.Provide(
		NewConfig,
		NewTemplateService,
		NewSender,
		NewWorker,
	),
	fx.Invoke(RegisterWorker),
)

// NewSender picks the Mailgun sender when credentials are configured and the
// no-op sender otherwise, so unconfigured environments still consume the
// queue instead of piling up a backlog.
func NewSender(cfg *Config, log *slog.Logger) Sender {
	if cfg.Enabled && cfg.IsConfigured() {
		return NewMailgunSender(cfg, log)
	}
	log.Warn("mailgun not configured, outgoing emails will be logged and dropped")
	return &noOpSender{log: log.With(logger.Scope("email.noop"))}
}

// RegisterWorker declares the outgoing_emails consumer in the registry.
func RegisterWorker(registry *queue.Registry, worker *Worker, cfg *config.Config, log *slog.Logger, sink *queue.ErrorSink) error {
	return registry.Register(QueueName, queue.TypeConsumer, func() (queue.Worker, error) {
		return queue.NewConsumer(queue.ConsumerConfig{
			QueueName:  QueueName,
			MaxRetries: cfg.Queue.MaxRequestRetries,
		}, log, sink, worker.Consume)
	})
}

package push

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/banterhq/banter/internal/config"
	"github.com/banterhq/banter/internal/queue"
	"github.com/banterhq/banter/pkg/logger"
)

// Module wires the mobile push worker.
var Module = fx.Module("push",
	fx.Provide(
		NewBouncer,
		NewWorker,
	),
	fx.Invoke(RegisterWorker),
)

// NewBouncer picks the HTTP bouncer when a URL is configured and the no-op
// bouncer otherwise.
func NewBouncer(cfg *config.Config, log *slog.Logger) Bouncer {
	if cfg.Push.BouncerURL == "" {
		log.Warn("push bouncer not configured, push events will be logged and dropped")
		return &noOpBouncer{log: log.With(logger.Scope("push.noop"))}
	}
	return NewHTTPBouncer(cfg.Push.BouncerURL, cfg.Push.Token, cfg.Push.Timeout, log)
}

// RegisterWorker declares the mobile_push consumer in the registry.
func RegisterWorker(registry *queue.Registry, worker *Worker, cfg *config.Config, log *slog.Logger, sink *queue.ErrorSink) error {
	return registry.Register(QueueName, queue.TypeConsumer, func() (queue.Worker, error) {
		return queue.NewConsumer(queue.ConsumerConfig{
			QueueName:  QueueName,
			MaxRetries: cfg.Queue.MaxRequestRetries,
		}, log, sink, worker.Consume)
	})
}

package invites

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/banterhq/banter/internal/config"
	"github.com/banterhq/banter/internal/queue"
)

// Module wires the invite email worker.
var Module = fx.Module("invites",
	fx.Provide(
		fx.Annotate(NewRepository, fx.As(new(Store))),
	),
	fx.Invoke(RegisterWorker),
)

// RegisterWorker declares the invite_emails consumer in the registry.
func RegisterWorker(registry *queue.Registry, store Store, client queue.Client, cfg *config.Config, log *slog.Logger, sink *queue.ErrorSink) error {
	worker := NewWorker(store, client, log)
	return registry.Register(QueueName, queue.TypeConsumer, func() (queue.Worker, error) {
		return queue.NewConsumer(queue.ConsumerConfig{
			QueueName:  QueueName,
			MaxRetries: cfg.Queue.MaxRequestRetries,
		}, log, sink, worker.Consume)
	})
}

package missedmessage

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/banterhq/banter/internal/config"
	"github.com/banterhq/banter/internal/queue"
)

// Module wires the missed-message digest worker.
var Module = fx.Module("missedmessage",
	fx.Invoke(RegisterWorker),
)

// RegisterWorker declares the missed_message_emails batch worker in the
// registry.
func RegisterWorker(registry *queue.Registry, client queue.Client, cfg *config.Config, log *slog.Logger, sink *queue.ErrorSink) error {
	return registry.Register(QueueName, queue.TypeBatch, func() (queue.Worker, error) {
		return NewWorker(Config{
			Window:     cfg.MissedMessage.BatchDuration(),
			MaxRetries: cfg.Queue.MaxRequestRetries,
		}, client, log, sink)
	})
}

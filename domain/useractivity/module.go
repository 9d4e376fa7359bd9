package useractivity

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/banterhq/banter/internal/config"
	"github.com/banterhq/banter/internal/queue"
)

// Module wires the user activity loop worker.
var Module = fx.Module("useractivity",
	fx.Provide(NewRepository),
	fx.Invoke(RegisterWorker),
)

// RegisterWorker declares the user_activity loop worker in the registry.
// The scheduler's stale-row cleanup shares the repository, so it stays a
// concrete provide.
func RegisterWorker(registry *queue.Registry, repo *Repository, cfg *config.Config, log *slog.Logger, sink *queue.ErrorSink) error {
	worker := NewWorker(repo, log)
	return registry.Register(QueueName, queue.TypeLoop, func() (queue.Worker, error) {
		return queue.NewLoopConsumer(queue.LoopConfig{
			QueueName: QueueName,
			BatchSize: cfg.Queue.LoopBatchSize,
			IdleSleep: cfg.Queue.LoopIdleSleep(),
		}, log, sink, worker.HandleBatch)
	})
}

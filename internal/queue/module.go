package queue

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/banterhq/banter/internal/config"
)

// Module wires the consumer framework: the worker registry, the quarantine
// sink, the transport client, and the supervisor lifecycle. Domain modules
// register their worker factories into the Registry before the supervisor
// starts.
var Module = fx.Module("queue",
	fx.Provide(
		NewRegistry,
		NewSinkFromConfig,
		NewClientFromConfig,
		NewSupervisor,
	),
	fx.Invoke(RegisterSupervisorLifecycle),
)

// NewSinkFromConfig builds the quarantine sink at the configured directory.
func NewSinkFromConfig(cfg *config.Config, log *slog.Logger) *ErrorSink {
	return NewErrorSink(cfg.Queue.ErrorDir, log)
}

// NewClientFromConfig builds the transport client: RabbitMQ when a broker
// URL is configured, otherwise the in-process client for broker-less runs.
func NewClientFromConfig(cfg *config.Config, log *slog.Logger) (Client, error) {
	if cfg.Queue.BrokerURL == "" {
		log.Warn("no broker configured, using in-process queue client")
		return NewLocalClient(), nil
	}
	return NewAMQPClient(cfg.Queue.BrokerURL, cfg.Queue.PrefetchCount, log)
}

// RegisterSupervisorLifecycle starts the worker loops once every module has
// registered its factories, and drains them on shutdown.
func RegisterSupervisorLifecycle(lc fx.Lifecycle, s *Supervisor) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return s.Stop(ctx)
		},
	})
}

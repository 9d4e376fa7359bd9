package mirror

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/banterhq/banter/internal/config"
	"github.com/banterhq/banter/internal/queue"
	"github.com/banterhq/banter/pkg/logger"
)

// Module wires the inbound email mirror worker.
var Module = fx.Module("mirror",
	fx.Provide(
		NewCodecFromConfig,
		NewProcessor,
		NewWorker,
	),
	fx.Invoke(RegisterWorker),
)

// NewCodecFromConfig builds the address codec for the configured gateway
// pattern.
func NewCodecFromConfig(cfg *config.Config) (*AddressCodec, error) {
	return NewAddressCodec(cfg.Mirror.GatewayPattern)
}

// NewProcessor picks the HTTP processor when an ingest URL is configured and
// the no-op processor otherwise.
func NewProcessor(cfg *config.Config, log *slog.Logger) Processor {
	if cfg.Mirror.IngestURL == "" {
		log.Warn("mirror ingest endpoint not configured, mirrored emails will be logged and dropped")
		return &noOpProcessor{log: log.With(logger.Scope("mirror.noop"))}
	}
	return NewHTTPProcessor(cfg.Mirror.IngestURL, cfg.Mirror.Timeout, log)
}

// RegisterWorker declares the email_mirror consumer in the registry.
func RegisterWorker(registry *queue.Registry, worker *Worker, cfg *config.Config, log *slog.Logger, sink *queue.ErrorSink) error {
	return registry.Register(QueueName, queue.TypeConsumer, func() (queue.Worker, error) {
		return queue.NewConsumer(queue.ConsumerConfig{
			QueueName:  QueueName,
			MaxRetries: cfg.Queue.MaxRequestRetries,
		}, log, sink, worker.Consume)
	})
}

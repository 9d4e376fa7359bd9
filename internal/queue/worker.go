package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/banterhq/banter/pkg/logger"
	"github.com/banterhq/banter/pkg/tracing"
)

// DefaultMaxRetries bounds how many times a failed job is re-published
// before it is quarantined. A job's handler therefore runs at most
// 1 + DefaultMaxRetries times.
const DefaultMaxRetries = 3

// ConsumeFunc handles one decoded job. A nil return settles the job; a
// Permanent error quarantines it immediately; any other error sends it down
// the bounded retry path.
type ConsumeFunc func(ctx context.Context, job Job) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable: the job is quarantined right away
// instead of being re-published.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked
// Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// ConsumerConfig configures a per-message queue worker.
type ConsumerConfig struct {
	// QueueName is the queue this worker consumes. Required.
	QueueName string
	// Type tags the worker in the registry and ops output.
	Type WorkerType
	// MaxRetries overrides DefaultMaxRetries when > 0.
	MaxRetries int
}

// Consumer processes jobs one at a time off a single queue, settling every
// delivery: success, bounded retry via re-publish, or quarantine.
type Consumer struct {
	cfg    ConsumerConfig
	handle ConsumeFunc
	sink   *ErrorSink
	log    *slog.Logger
	stats  counters

	mu     sync.Mutex
	client Client
}

// NewConsumer builds a per-message worker. A missing queue name or handler
// is a declaration error: it fails here, not while consuming.
func NewConsumer(cfg ConsumerConfig, log *slog.Logger, sink *ErrorSink, handle ConsumeFunc) (*Consumer, error) {
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("%w: consumer requires a queue name", ErrWorkerDeclaration)
	}
	if handle == nil {
		return nil, fmt.Errorf("%w: consumer for %s requires a handler", ErrWorkerDeclaration, cfg.QueueName)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Type == "" {
		cfg.Type = TypeConsumer
	}
	return &Consumer{
		cfg:    cfg,
		handle: handle,
		sink:   sink,
		log:    log.With(logger.Scope("queue.worker"), slog.String("queue", cfg.QueueName)),
	}, nil
}

func (c *Consumer) QueueName() string { return c.cfg.QueueName }

// Setup hands the worker its queue client. Idempotent: only the first client
// sticks.
func (c *Consumer) Setup(client Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		c.client = client
	}
}

// Start registers the consume wrapper as the queue's callback and blocks on
// the client's consumption loop.
func (c *Consumer) Start(ctx context.Context) error {
	client := c.currentClient()
	if client == nil {
		return fmt.Errorf("queue %s: %w", c.cfg.QueueName, ErrNotSetUp)
	}
	if err := client.Register(c.cfg.QueueName, c.handleDelivery); err != nil {
		return err
	}
	return client.StartConsuming(ctx, c.cfg.QueueName)
}

func (c *Consumer) Stop(ctx context.Context) error { return nil }

// Metrics snapshots the worker's counters.
func (c *Consumer) Metrics() WorkerMetrics {
	return c.stats.snapshot(c.cfg.QueueName, c.cfg.Type)
}

func (c *Consumer) currentClient() Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// handleDelivery is the consume wrapper: it decodes, dispatches, and settles
// every delivery so that no job, however malformed or broken, can take down
// the consumption loop.
func (c *Consumer) handleDelivery(ctx context.Context, body []byte) {
	job, err := DecodeJob(body)
	if err != nil {
		c.log.Error("unparseable payload quarantined", logger.Error(err))
		if serr := c.sink.RecordRaw(c.cfg.QueueName, body); serr != nil {
			c.log.Error("failed to write quarantine record", logger.Error(serr))
		}
		c.stats.bumpQuarantined(1)
		return
	}

	cctx, span := tracing.Start(ctx, "queue.consume",
		attribute.String("banter.queue.name", c.cfg.QueueName),
	)
	start := time.Now()
	err = c.safeConsume(cctx, job)
	consumeDuration.WithLabelValues(c.cfg.QueueName).Observe(time.Since(start).Seconds())
	span.End()

	if err == nil {
		jobsProcessed.WithLabelValues(c.cfg.QueueName).Inc()
		c.stats.bumpProcessed(1)
		return
	}

	if IsPermanent(err) {
		c.log.Error("job failed permanently, quarantining", logger.Error(err))
		c.quarantine(job)
		return
	}

	tries := job.FailedTries + 1
	if tries > c.cfg.MaxRetries {
		c.log.Error("job failed after retries, quarantining",
			slog.Int("failed_tries", tries),
			logger.Error(err))
		job.FailedTries = tries
		c.quarantine(job)
		return
	}

	job.FailedTries = tries
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	c.log.Warn("job failed, retrying",
		slog.Int("failed_tries", tries),
		slog.Int("max_retries", c.cfg.MaxRetries),
		logger.Error(err))
	c.republish(cctx, job)
}

// safeConsume invokes the handler, converting panics into errors.
func (c *Consumer) safeConsume(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handle(ctx, job)
}

func (c *Consumer) republish(ctx context.Context, job Job) {
	body, err := job.Encode()
	if err == nil {
		err = c.currentClient().Publish(ctx, c.cfg.QueueName, body)
	}
	if err != nil {
		// The retry could not be enqueued; quarantine rather than lose it.
		c.log.Error("failed to re-publish job, quarantining", logger.Error(err))
		c.quarantine(job)
		return
	}
	jobsRetried.WithLabelValues(c.cfg.QueueName).Inc()
	c.stats.bumpRetried(1)
}

func (c *Consumer) quarantine(job Job) {
	if err := c.sink.Record(c.cfg.QueueName, job); err != nil {
		c.log.Error("failed to write quarantine record", logger.Error(err))
	}
	c.stats.bumpQuarantined(1)
}

package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/banterhq/banter/pkg/logger"
)

const (
	// DefaultLoopBatchSize caps how many buffered jobs one drain pass hands
	// to the batch handler.
	DefaultLoopBatchSize = 100

	// DefaultIdleSleep is how long the loop waits before polling again when
	// a drain pass came back empty.
	DefaultIdleSleep = time.Second
)

// BatchFunc handles one drained batch of jobs, in arrival order.
type BatchFunc func(ctx context.Context, jobs []Job) error

// LoopConfig configures a batched loop worker.
type LoopConfig struct {
	// QueueName is the queue this worker drains. Required.
	QueueName string
	// BatchSize caps one drain pass; DefaultLoopBatchSize when <= 0.
	BatchSize int
	// IdleSleep is the empty-drain poll interval; DefaultIdleSleep when 0.
	IdleSleep time.Duration
}

// LoopConsumer drains a queue in bounded batches instead of consuming one
// message at a time. Batching trades durability for throughput: a handler
// failure quarantines and drops the whole batch, with no per-job retry.
type LoopConsumer struct {
	cfg    LoopConfig
	handle BatchFunc
	sink   *ErrorSink
	log    *slog.Logger
	stats  counters

	client Client
}

// NewLoopConsumer builds a batched loop worker. A missing queue name or
// handler is a declaration error.
func NewLoopConsumer(cfg LoopConfig, log *slog.Logger, sink *ErrorSink, handle BatchFunc) (*LoopConsumer, error) {
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("%w: loop consumer requires a queue name", ErrWorkerDeclaration)
	}
	if handle == nil {
		return nil, fmt.Errorf("%w: loop consumer for %s requires a handler", ErrWorkerDeclaration, cfg.QueueName)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultLoopBatchSize
	}
	if cfg.IdleSleep == 0 {
		cfg.IdleSleep = DefaultIdleSleep
	}
	return &LoopConsumer{
		cfg:    cfg,
		handle: handle,
		sink:   sink,
		log:    log.With(logger.Scope("queue.loopworker"), slog.String("queue", cfg.QueueName)),
	}, nil
}

func (c *LoopConsumer) QueueName() string { return c.cfg.QueueName }

// Setup hands the worker its queue client. Idempotent: only the first client
// sticks.
func (c *LoopConsumer) Setup(client Client) {
	if c.client == nil {
		c.client = client
	}
}

// Start runs the drain/handle/sleep loop until ctx is done. Termination is
// not a normal code path; a clean ctx cancellation returns nil.
func (c *LoopConsumer) Start(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("queue %s: %w", c.cfg.QueueName, ErrNotSetUp)
	}

	timer := time.NewTimer(c.cfg.IdleSleep)
	defer timer.Stop()

	for {
		bodies, err := c.client.Drain(ctx, c.cfg.QueueName, c.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("drain %s: %w", c.cfg.QueueName, err)
		}

		if len(bodies) > 0 {
			c.consumeBatch(ctx, bodies)
			continue
		}

		timer.Reset(c.cfg.IdleSleep)
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}

func (c *LoopConsumer) Stop(ctx context.Context) error { return nil }

// Metrics snapshots the worker's counters.
func (c *LoopConsumer) Metrics() WorkerMetrics {
	return c.stats.snapshot(c.cfg.QueueName, TypeLoop)
}

// consumeBatch decodes a drained pass and invokes the handler once with the
// whole batch. Undecodable payloads are quarantined individually; the rest
// of the batch is still delivered. A handler failure quarantines the entire
// batch as one record and drops it.
func (c *LoopConsumer) consumeBatch(ctx context.Context, bodies [][]byte) {
	jobs := make([]Job, 0, len(bodies))
	for _, body := range bodies {
		job, err := DecodeJob(body)
		if err != nil {
			c.log.Error("unparseable payload quarantined", logger.Error(err))
			if serr := c.sink.RecordRaw(c.cfg.QueueName, body); serr != nil {
				c.log.Error("failed to write quarantine record", logger.Error(serr))
			}
			c.stats.bumpQuarantined(1)
			continue
		}
		jobs = append(jobs, job)
	}
	if len(jobs) == 0 {
		return
	}

	start := time.Now()
	err := c.safeConsumeBatch(ctx, jobs)
	consumeDuration.WithLabelValues(c.cfg.QueueName).Observe(time.Since(start).Seconds())

	if err == nil {
		jobsProcessed.WithLabelValues(c.cfg.QueueName).Add(float64(len(jobs)))
		c.stats.bumpProcessed(len(jobs))
		return
	}

	// No partial-batch retry: once batched, every job in the batch shares
	// the handler's fate. The quarantine line holds the whole batch.
	c.log.Error("batch failed, quarantining whole batch",
		slog.Int("batch_size", len(jobs)),
		logger.Error(err))
	if serr := c.sink.Record(c.cfg.QueueName, jobs...); serr != nil {
		c.log.Error("failed to write quarantine record", logger.Error(serr))
	}
	c.stats.bumpQuarantined(len(jobs))
}

func (c *LoopConsumer) safeConsumeBatch(ctx context.Context, jobs []Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch handler panic: %v", r)
		}
	}()
	return c.handle(ctx, jobs)
}

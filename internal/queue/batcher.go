package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/banterhq/banter/pkg/logger"
)

// DefaultBatchWindow is how long a key's first event waits before the
// accumulated batch is flushed.
const DefaultBatchWindow = 120 * time.Second

// FlushFunc handles one flushed key with its events in arrival order.
type FlushFunc func(ctx context.Context, key string, events []Job) error

// TimerHandle is the cancelable handle of a scheduled flush.
type TimerHandle interface {
	Stop() bool
}

// TimerFactory schedules fn to run once after d. Tests inject manual
// factories for deterministic flushing.
type TimerFactory func(d time.Duration, fn func()) TimerHandle

func afterFunc(d time.Duration, fn func()) TimerHandle {
	return time.AfterFunc(d, fn)
}

// BatcherConfig configures a deferred-aggregation batcher.
type BatcherConfig struct {
	// QueueName names the queue the batched events came from; quarantine
	// records for failed flushes land in its file.
	QueueName string
	// Window is the aggregation delay, anchored to a key's first event;
	// DefaultBatchWindow when 0.
	Window time.Duration
	// NewTimer overrides the flush scheduling; time.AfterFunc by default.
	NewTimer TimerFactory
}

// pending is one key's buffered events and its armed flush timer.
type pending struct {
	events []Job
	timer  TimerHandle
}

// Batcher groups per-message events into per-key windows. The first event
// for an idle key arms a single-shot timer; later events only append — the
// window is anchored to the first arrival, not the most recent. When the
// timer fires (or a manual flush runs) the key's buffer is atomically
// snapshotted and cleared, and the flush handler runs outside the lock, so
// events arriving mid-flush start a fresh window instead of being lost.
type Batcher struct {
	cfg   BatcherConfig
	flush FlushFunc
	sink  *ErrorSink
	log   *slog.Logger

	mu   sync.Mutex
	keys map[string]*pending
}

// NewBatcher builds a batcher. A missing queue name or flush handler is a
// declaration error.
func NewBatcher(cfg BatcherConfig, log *slog.Logger, sink *ErrorSink, flush FlushFunc) (*Batcher, error) {
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("%w: batcher requires a queue name", ErrWorkerDeclaration)
	}
	if flush == nil {
		return nil, fmt.Errorf("%w: batcher for %s requires a flush handler", ErrWorkerDeclaration, cfg.QueueName)
	}
	if cfg.Window == 0 {
		cfg.Window = DefaultBatchWindow
	}
	if cfg.NewTimer == nil {
		cfg.NewTimer = afterFunc
	}
	return &Batcher{
		cfg:   cfg,
		flush: flush,
		sink:  sink,
		log:   log.With(logger.Scope("queue.batcher"), slog.String("queue", cfg.QueueName)),
		keys:  make(map[string]*pending),
	}, nil
}

// Add buffers one event under key, arming the key's flush timer if it was
// idle. Buffer mutation and timer arming happen under one lock, so racing
// producers never arm two timers for the same key.
func (b *Batcher) Add(key string, event Job) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.keys[key]
	if !ok {
		p = &pending{}
		b.keys[key] = p
		p.timer = b.cfg.NewTimer(b.cfg.Window, func() {
			b.timerFired(key, p)
		})
	}
	p.events = append(p.events, event)
}

// timerFired flushes key when it fires for the window that armed it. A
// stale timer whose window was already flushed manually finds a different
// (or no) pending entry and does nothing.
func (b *Batcher) timerFired(key string, armed *pending) {
	b.mu.Lock()
	if b.keys[key] != armed {
		b.mu.Unlock()
		return
	}
	events, ok := b.take(key)
	b.mu.Unlock()
	if !ok {
		return
	}
	b.deliver(context.Background(), key, events)
}

// FlushKey flushes one key immediately, canceling its timer. A timer firing
// after a manual flush finds an empty snapshot and is a no-op, so a key is
// never flushed twice for the same window.
func (b *Batcher) FlushKey(ctx context.Context, key string) {
	b.mu.Lock()
	events, ok := b.take(key)
	b.mu.Unlock()
	if !ok {
		return
	}
	b.deliver(ctx, key, events)
}

// FlushAll flushes every pending key, canceling live timers. Used for
// graceful shutdown and deterministic tests; grouping and ordering match a
// timer-driven flush.
func (b *Batcher) FlushAll(ctx context.Context) {
	b.mu.Lock()
	flushed := make(map[string][]Job, len(b.keys))
	for key := range b.keys {
		if events, ok := b.take(key); ok {
			flushed[key] = events
		}
	}
	b.mu.Unlock()

	for key, events := range flushed {
		b.deliver(ctx, key, events)
	}
}

// PendingKeys reports how many keys currently have a live window.
func (b *Batcher) PendingKeys() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.keys)
}

// take snapshots and clears one key's state. Caller holds b.mu.
func (b *Batcher) take(key string) ([]Job, bool) {
	p, ok := b.keys[key]
	if !ok {
		return nil, false
	}
	delete(b.keys, key)
	if p.timer != nil {
		p.timer.Stop()
	}
	if len(p.events) == 0 {
		return nil, false
	}
	return p.events, true
}

// deliver invokes the flush handler outside the state lock. The events were
// acked when they were batched, so a failed flush falls back to the
// quarantine sink rather than a retry.
func (b *Batcher) deliver(ctx context.Context, key string, events []Job) {
	err := b.safeFlush(ctx, key, events)
	if err == nil {
		b.log.Debug("batch flushed",
			slog.String("key", key),
			slog.Int("events", len(events)))
		return
	}

	b.log.Error("batch flush failed, quarantining",
		slog.String("key", key),
		slog.Int("events", len(events)),
		logger.Error(err))
	if serr := b.sink.Record(b.cfg.QueueName, events...); serr != nil {
		b.log.Error("failed to write quarantine record", logger.Error(serr))
	}
}

func (b *Batcher) safeFlush(ctx context.Context, key string, events []Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("flush handler panic: %v", r)
		}
	}()
	return b.flush(ctx, key, events)
}

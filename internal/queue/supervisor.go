package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/banterhq/banter/pkg/logger"
)

// Supervisor spawns one consumption loop per registered queue and owns their
// lifetime. Each queue gets exactly one worker instance for the process
// lifetime; single-consumer ownership across processes is a deployment
// convention, not enforced here.
type Supervisor struct {
	registry *Registry
	client   Client
	log      *slog.Logger

	mu      sync.Mutex
	workers []Worker
	cancel  context.CancelFunc
	done    chan error
}

// NewSupervisor builds a supervisor over the registry's workers.
func NewSupervisor(registry *Registry, client Client, log *slog.Logger) *Supervisor {
	return &Supervisor{
		registry: registry,
		client:   client,
		log:      log.With(logger.Scope("queue.supervisor")),
	}
}

// Start builds every registered worker, hands each the shared client, and
// runs its consumption loop in its own goroutine. A worker loop returning an
// error fails the whole group; the process supervisor restarts us.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := s.registry.QueueNames()
	if len(names) == 0 {
		s.log.Warn("no queue workers registered")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(runCtx)

	for _, name := range names {
		worker, err := s.registry.Build(name)
		if err != nil {
			cancel()
			return fmt.Errorf("build worker for %s: %w", name, err)
		}
		worker.Setup(s.client)
		s.workers = append(s.workers, worker)

		w := worker
		g.Go(func() error {
			s.log.Info("worker started", slog.String("queue", w.QueueName()))
			if err := w.Start(gctx); err != nil {
				s.log.Error("worker loop failed",
					slog.String("queue", w.QueueName()),
					logger.Error(err))
				return fmt.Errorf("worker %s: %w", w.QueueName(), err)
			}
			s.log.Info("worker finished", slog.String("queue", w.QueueName()))
			return nil
		})
	}

	s.cancel = cancel
	s.done = make(chan error, 1)
	go func() { s.done <- g.Wait() }()

	s.log.Info("queue supervisor started", slog.Int("workers", len(names)))
	return nil
}

// Stop cancels the consumption loops, stops each worker (flushing pending
// aggregation), waits for the group within ctx's deadline, then closes the
// client.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return nil
	}
	s.cancel()

	for _, w := range s.workers {
		if err := w.Stop(ctx); err != nil {
			s.log.Error("worker stop failed",
				slog.String("queue", w.QueueName()),
				logger.Error(err))
		}
	}

	var err error
	select {
	case err = <-s.done:
	case <-ctx.Done():
		s.log.Warn("shutdown timeout waiting for workers")
		err = ctx.Err()
	}

	if cerr := s.client.Close(); cerr != nil && err == nil {
		err = cerr
	}
	s.cancel = nil
	s.workers = nil
	s.log.Info("queue supervisor stopped")
	return err
}

// WorkerMetrics snapshots every live worker's counters, for the ops API.
func (s *Supervisor) WorkerMetrics() []WorkerMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WorkerMetrics, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w.Metrics())
	}
	return out
}

package queue

import (
	"context"
	"fmt"
	"sync"
)

// WorkerType tags what kind of consumption loop a worker runs. Supervisors
// and the ops API can filter the registry by it.
type WorkerType string

const (
	TypeConsumer WorkerType = "consumer"
	TypeLoop     WorkerType = "loop"
	TypeBatch    WorkerType = "batch"
	TypeTest     WorkerType = "test"
)

// Worker is one live queue consumer.
type Worker interface {
	QueueName() string
	// Setup hands the worker its queue client. Idempotent; must run before
	// Start.
	Setup(c Client)
	// Start blocks on the worker's consumption loop until ctx is done, or
	// until the in-process backlog drains.
	Start(ctx context.Context) error
	// Stop releases worker state, flushing any pending aggregation.
	Stop(ctx context.Context) error
	// Metrics snapshots the worker's counters.
	Metrics() WorkerMetrics
}

// Factory builds the worker for a registered queue.
type Factory func() (Worker, error)

type registration struct {
	queueName string
	typ       WorkerType
	factory   Factory
}

// Registry is the process-scoped set of declared queue workers. Domain
// modules register their factories at wiring time; the supervisor reads the
// registry to know what to spawn.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
	order   []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// Register declares the worker for a queue name. Registration is explicit
// and happens once per queue; duplicates, empty names, and nil factories
// fail with ErrWorkerDeclaration.
func (r *Registry) Register(queueName string, typ WorkerType, factory Factory) error {
	if queueName == "" {
		return fmt.Errorf("%w: empty queue name", ErrWorkerDeclaration)
	}
	if factory == nil {
		return fmt.Errorf("%w: nil factory for queue %s", ErrWorkerDeclaration, queueName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[queueName]; exists {
		return fmt.Errorf("%w: queue %s registered twice", ErrWorkerDeclaration, queueName)
	}
	r.entries[queueName] = registration{queueName: queueName, typ: typ, factory: factory}
	r.order = append(r.order, queueName)
	return nil
}

// QueueNames returns the distinct registered queue names in registration
// order, optionally filtered to the given worker types.
func (r *Registry) QueueNames(types ...WorkerType) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.order))
	for _, name := range r.order {
		if len(types) > 0 && !matchesType(r.entries[name].typ, types) {
			continue
		}
		names = append(names, name)
	}
	return names
}

// Type returns the worker type registered for a queue name.
func (r *Registry) Type(queueName string) (WorkerType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[queueName]
	return reg.typ, ok
}

// Build instantiates the worker registered for a queue name.
func (r *Registry) Build(queueName string) (Worker, error) {
	r.mu.RLock()
	reg, ok := r.entries[queueName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no worker registered for queue %s", queueName)
	}
	return reg.factory()
}

func matchesType(typ WorkerType, types []WorkerType) bool {
	for _, t := range types {
		if t == typ {
			return true
		}
	}
	return false
}

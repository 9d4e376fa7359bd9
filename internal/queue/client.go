// Package queue implements the durable queue-consumer framework the Banter
// delivery workers run on: a transport-agnostic client capability, an
// explicit worker registry, per-message and batched-loop consumers with
// bounded retries, a deferred-aggregation batcher, and a quarantine sink
// that preserves jobs which exhausted their retries.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrWorkerDeclaration reports an invalid worker declaration (missing
	// queue name, handler, or factory). It is raised at construction or
	// registration time, never while consuming.
	ErrWorkerDeclaration = errors.New("invalid worker declaration")

	// ErrNotSetUp reports Start being called before Setup handed the worker
	// a queue client.
	ErrNotSetUp = errors.New("worker has no queue client")

	// ErrDuplicateConsumer reports a second consumer registration for a
	// queue that already has one.
	ErrDuplicateConsumer = errors.New("queue already has a consumer")
)

// HandlerFunc receives one raw delivery. Implementations settle every
// delivery themselves (retry, quarantine); nothing propagates to the client.
type HandlerFunc func(ctx context.Context, body []byte)

// Client is the transport capability workers consume queues through.
type Client interface {
	// Register installs the consumer callback for a queue. Each queue has
	// exactly one live consumer; a second registration fails.
	Register(queueName string, fn HandlerFunc) error

	// StartConsuming blocks delivering messages for the queue to its
	// registered callback. The broker client blocks until ctx is done; the
	// in-process client returns once the backlog, including messages
	// published while delivering, has drained.
	StartConsuming(ctx context.Context, queueName string) error

	// Drain destructively returns up to max buffered messages for the queue
	// (all of them when max <= 0). Draining again without new publishes
	// returns nothing.
	Drain(ctx context.Context, queueName string, max int) ([][]byte, error)

	// Publish enqueues an encoded job.
	Publish(ctx context.Context, queueName string, body []byte) error

	Close() error
}

// PublishJSON marshals payload and publishes it to queueName. This is the
// entry point producers and cross-queue workers enqueue jobs with.
func PublishJSON(ctx context.Context, c Client, queueName string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", queueName, err)
	}
	return c.Publish(ctx, queueName, body)
}

package queue

import (
	"context"
	"fmt"
	"sync"
)

// LocalClient is the in-process Client used by tests and broker-less runs.
// Each queue is a FIFO buffer. Because failed jobs are re-published onto the
// same buffer, StartConsuming keeps delivering until the queue is truly
// empty, so retry chains play out within a single call.
type LocalClient struct {
	mu        sync.Mutex
	queues    map[string][][]byte
	consumers map[string]HandlerFunc
	closed    bool
}

// NewLocalClient returns an empty in-process client.
func NewLocalClient() *LocalClient {
	return &LocalClient{
		queues:    make(map[string][][]byte),
		consumers: make(map[string]HandlerFunc),
	}
}

func (c *LocalClient) Register(queueName string, fn HandlerFunc) error {
	if fn == nil {
		return fmt.Errorf("nil consumer for queue %s", queueName)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.consumers[queueName]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateConsumer, queueName)
	}
	c.consumers[queueName] = fn
	return nil
}

func (c *LocalClient) StartConsuming(ctx context.Context, queueName string) error {
	c.mu.Lock()
	fn, ok := c.consumers[queueName]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("no consumer registered for queue %s", queueName)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.mu.Lock()
		buf := c.queues[queueName]
		if len(buf) == 0 {
			c.mu.Unlock()
			return nil
		}
		body := buf[0]
		c.queues[queueName] = buf[1:]
		c.mu.Unlock()

		fn(ctx, body)
	}
}

func (c *LocalClient) Drain(ctx context.Context, queueName string, max int) ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := c.queues[queueName]
	if max <= 0 || max > len(buf) {
		max = len(buf)
	}
	out := append([][]byte(nil), buf[:max]...)
	c.queues[queueName] = append([][]byte(nil), buf[max:]...)
	return out, nil
}

func (c *LocalClient) Publish(ctx context.Context, queueName string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("queue client is closed")
	}
	c.queues[queueName] = append(c.queues[queueName], append([]byte(nil), body...))
	return nil
}

func (c *LocalClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Pending reports how many messages are buffered for a queue.
func (c *LocalClient) Pending(queueName string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queues[queueName])
}

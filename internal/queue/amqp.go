package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/banterhq/banter/pkg/logger"
)

const (
	amqpRedialBase = time.Second
	amqpRedialMax  = 30 * time.Second
)

// AMQPClient is the RabbitMQ-backed Client. Queues are declared durable,
// publishes are persistent, and deliveries are acked only after the consumer
// callback returns, so an unacked message survives a process crash. When the
// broker connection drops mid-consumption the client redials with backoff
// and re-enters the consume loop.
type AMQPClient struct {
	url      string
	prefetch int
	log      *slog.Logger

	mu        sync.Mutex
	conn      *amqp.Connection
	consumers map[string]HandlerFunc
	declared  map[string]bool
	closed    bool
}

// NewAMQPClient dials the broker at url. prefetch bounds unacked deliveries
// per consumer.
func NewAMQPClient(url string, prefetch int, log *slog.Logger) (*AMQPClient, error) {
	c := &AMQPClient{
		url:       url,
		prefetch:  prefetch,
		log:       log.With(logger.Scope("queue.amqp")),
		consumers: make(map[string]HandlerFunc),
		declared:  make(map[string]bool),
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	c.conn = conn
	return c, nil
}

func (c *AMQPClient) Register(queueName string, fn HandlerFunc) error {
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

// StartConsuming delivers messages for queueName to its registered callback
// until ctx is done. Each dropped connection is redialed with exponential
// backoff; deliveries are acked after the callback returns.
func (c *AMQPClient) StartConsuming(ctx context.Context, queueName string) error {
	c.mu.Lock()
	fn, ok := c.consumers[queueName]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("no consumer registered for queue %s", queueName)
	}

	backoff := amqpRedialBase
	for {
		err := c.consumeOnce(ctx, queueName, fn)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		c.log.Warn("consume loop lost, redialing",
			slog.String("queue", queueName),
			slog.Duration("backoff", backoff),
			logger.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > amqpRedialMax {
			backoff = amqpRedialMax
		}
	}
}

// consumeOnce runs one consume session on a fresh channel. It returns nil
// only on ctx cancellation; a closed delivery stream surfaces as an error so
// the caller redials.
func (c *AMQPClient) consumeOnce(ctx context.Context, queueName string, fn HandlerFunc) error {
	ch, err := c.channel(queueName)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queueName, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, open := <-deliveries:
			if !open {
				return errors.New("delivery channel closed")
			}
			fn(ctx, d.Body)
			if err := d.Ack(false); err != nil {
				return fmt.Errorf("ack delivery: %w", err)
			}
		}
	}
}

// Drain fetches up to max buffered messages (all when max <= 0) with
// basic.get, acking each one.
func (c *AMQPClient) Drain(ctx context.Context, queueName string, max int) ([][]byte, error) {
	ch, err := c.channel(queueName)
	if err != nil {
		return nil, err
	}
	defer ch.Close()

	var out [][]byte
	for max <= 0 || len(out) < max {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		d, ok, err := ch.Get(queueName, false)
		if err != nil {
			return out, fmt.Errorf("get from %s: %w", queueName, err)
		}
		if !ok {
			break
		}
		out = append(out, d.Body)
		if err := d.Ack(false); err != nil {
			return out, fmt.Errorf("ack delivery: %w", err)
		}
	}
	return out, nil
}

func (c *AMQPClient) Publish(ctx context.Context, queueName string, body []byte) error {
	ch, err := c.channel(queueName)
	if err != nil {
		return err
	}
	defer ch.Close()

	err = ch.PublishWithContext(ctx, "", queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queueName, err)
	}
	return nil
}

func (c *AMQPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}

// channel opens a channel on the live connection, redialing first if the
// connection has dropped, and declares the durable queue once per name.
func (c *AMQPClient) channel(queueName string) (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("queue client is closed")
	}

	if c.conn == nil || c.conn.IsClosed() {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			return nil, fmt.Errorf("redial broker: %w", err)
		}
		c.conn = conn
		// Force re-declaration on the fresh connection.
		c.declared = make(map[string]bool)
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if !c.declared[queueName] {
		if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
			ch.Close()
			return nil, fmt.Errorf("declare queue %s: %w", queueName, err)
		}
		c.declared[queueName] = true
	}
	return ch, nil
}

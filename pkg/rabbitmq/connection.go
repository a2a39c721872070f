package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultConnTimeout = 5 * time.Second

// Config describes how to reach the broker.
type Config struct {
	URL         string
	ConnTimeout time.Duration
	Prefetch    int
	Logger      *slog.Logger
}

// QueueOptions are the properties a queue is declared with. Queues are always
// durable; DeadLetterQueue, when set, receives messages rejected without
// requeue.
type QueueOptions struct {
	DeadLetterQueue string
}

// Client owns one broker connection, a publish channel guarded by a mutex, and
// one consume channel per subscription. It must outlive every publisher and
// consumer that uses it.
type Client struct {
	conn     connection
	logger   *slog.Logger
	prefetch int

	pubMu   sync.Mutex
	pubCh   channel
	returns chan amqp.Return

	subsMu sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool

	closeOnce sync.Once
	closeErr  error
}

// Connect dials the broker and opens the publish channel in confirm mode.
// It makes a single attempt bounded by cfg.ConnTimeout; retrying is left to
// the caller.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	return connect(ctx, cfg, dialAMQP)
}

func connect(ctx context.Context, cfg Config, dial dialFunc) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: url required", ErrConnection)
	}
	timeout := cfg.ConnTimeout
	if timeout <= 0 {
		timeout = defaultConnTimeout
	}
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rabbitmq")

	conn, err := dial(ctx, cfg.URL, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnection, redactURL(cfg.URL), err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: open publish channel: %w", ErrConnection, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("%w: enable publisher confirms: %w", ErrConnection, err)
	}
	returns := ch.NotifyReturn(make(chan amqp.Return, 16))

	logger.Info("Connected to RabbitMQ", "url", redactURL(cfg.URL))
	return &Client{
		conn:     conn,
		logger:   logger,
		prefetch: prefetch,
		pubCh:    ch,
		returns:  returns,
		subs:     make(map[*Subscription]struct{}),
	}, nil
}

// DeclareQueue creates the durable queue name if it does not exist. Declaring
// an existing queue with the same properties is a no-op; declaring it with
// different properties fails with ErrQueueConfig.
func (c *Client) DeclareQueue(name string, opts QueueOptions) error {
	if c.isClosed() {
		return ErrClosed
	}

	// A failed declare closes the channel it ran on, so use a throwaway one
	// and keep the publish channel intact.
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("%w: open channel: %w", ErrConnection, err)
	}
	defer func() { _ = ch.Close() }()

	var args amqp.Table
	if opts.DeadLetterQueue != "" {
		if _, err := ch.QueueDeclare(opts.DeadLetterQueue, true, false, false, false, nil); err != nil {
			return declareError(opts.DeadLetterQueue, err)
		}
		args = amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": opts.DeadLetterQueue,
		}
	}

	if _, err := ch.QueueDeclare(name, true, false, false, false, args); err != nil {
		return declareError(name, err)
	}

	c.logger.Info("Queue declared", "queue", name, "dead_letter_queue", opts.DeadLetterQueue)
	return nil
}

func declareError(queue string, err error) error {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) && amqpErr.Code == amqp.PreconditionFailed {
		return fmt.Errorf("%w: queue %q: %s", ErrQueueConfig, queue, amqpErr.Reason)
	}
	return fmt.Errorf("%w: declare queue %q: %w", ErrConnection, queue, err)
}

// Close cancels every subscription, then releases the publish channel and the
// connection. Deliveries that were not acknowledged are requeued by the
// broker. Close is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.subsMu.Lock()
		c.closed = true
		subs := make([]*Subscription, 0, len(c.subs))
		for s := range c.subs {
			subs = append(subs, s)
		}
		c.subsMu.Unlock()

		for _, s := range subs {
			s.Cancel()
			<-s.Done()
		}

		c.pubMu.Lock()
		if c.pubCh != nil {
			_ = c.pubCh.Close()
			c.pubCh = nil
		}
		c.pubMu.Unlock()

		if c.conn != nil && !c.conn.IsClosed() {
			c.closeErr = c.conn.Close()
		}
		c.logger.Info("RabbitMQ connection closed")
	})
	return c.closeErr
}

func (c *Client) isClosed() bool {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	return c.closed
}

func (c *Client) track(s *Subscription) bool {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if c.closed {
		return false
	}
	c.subs[s] = struct{}{}
	return true
}

func (c *Client) untrack(s *Subscription) {
	c.subsMu.Lock()
	delete(c.subs, s)
	c.subsMu.Unlock()
}

// redactURL hides credentials embedded in an AMQP URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}

package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Delivery is a message handed to a subscription handler. Exactly one of Ack
// or Reject should be called; a delivery left unsettled is requeued by the
// broker when its subscription ends.
type Delivery interface {
	Body() []byte
	MessageID() string
	CorrelationID() string
	Redelivered() bool
	Ack() error
	Reject(requeue bool) error
}

// Handler processes one delivery. Handlers are invoked sequentially in
// delivery order.
type Handler func(ctx context.Context, d Delivery)

// Subscription is a running consumer on one queue.
type Subscription struct {
	queue    string
	consumer string
	ch       channel
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Subscribe starts consuming queue on a dedicated channel with manual
// acknowledgement. The returned subscription runs until ctx is cancelled,
// Cancel is called, or the channel is closed by the broker.
func (c *Client) Subscribe(ctx context.Context, queue, consumer string, handler Handler) (*Subscription, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: open consume channel: %w", ErrConnection, err)
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%w: set prefetch: %w", ErrConnection, err)
	}

	msgs, err := ch.Consume(
		queue,
		consumer,
		false, // auto-ack = false (manual ack)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%w: consume %q: %w", ErrConnection, queue, err)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		queue:    queue,
		consumer: consumer,
		ch:       ch,
		logger:   c.logger.With("queue", queue, "consumer", consumer),
		ctx:      sctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	if !c.track(s) {
		cancel()
		_ = ch.Close()
		return nil, ErrClosed
	}

	go func() {
		defer c.untrack(s)
		s.run(msgs, handler)
	}()

	s.logger.Info("Consumer started")
	return s, nil
}

func (s *Subscription) run(msgs <-chan amqp.Delivery, handler Handler) {
	defer close(s.done)
	// Closing the channel hands every unacknowledged delivery back to the
	// broker for redelivery.
	defer func() { _ = s.ch.Close() }()

	for {
		select {
		case <-s.ctx.Done():
			_ = s.ch.Cancel(s.consumer, false)
			s.logger.Info("Consumer stopped")
			return
		case msg, ok := <-msgs:
			if !ok {
				if s.ctx.Err() == nil {
					s.setErr(ErrConnectionLost)
					s.logger.Error("Delivery channel closed by broker")
				}
				return
			}
			// An in-flight delivery runs to completion after cancellation.
			handler(context.WithoutCancel(s.ctx), &delivery{msg: msg})
		}
	}
}

// Cancel stops the subscription. It does not wait; use Done for that.
func (s *Subscription) Cancel() { s.cancel() }

// Done is closed once the subscription has stopped and its channel is closed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns ErrConnectionLost if the broker ended the subscription, nil
// otherwise. It is meaningful after Done is closed.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

type delivery struct {
	msg     amqp.Delivery
	settled atomic.Bool
}

func (d *delivery) Body() []byte          { return d.msg.Body }
func (d *delivery) MessageID() string     { return d.msg.MessageId }
func (d *delivery) CorrelationID() string { return d.msg.CorrelationId }
func (d *delivery) Redelivered() bool     { return d.msg.Redelivered }

func (d *delivery) Ack() error {
	if !d.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	return d.msg.Ack(false)
}

func (d *delivery) Reject(requeue bool) error {
	if !d.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	return d.msg.Reject(requeue)
}

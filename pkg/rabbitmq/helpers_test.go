package rabbitmq

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// fakeBroker is an in-process stand-in for a RabbitMQ node that models the
// behaviour the client relies on: durable queue declaration, per-channel
// unacked tracking with requeue on close, mandatory returns and confirms.
type fakeBroker struct {
	mu       sync.Mutex
	queues   map[string]*fakeQueue
	nextTag  uint64
	dialErr  error
	nackAll  bool
	channels []*fakeChannel
}

type fakeQueue struct {
	args      amqp.Table
	ready     []amqp.Delivery
	consumers []*fakeConsumer
}

type fakeConsumer struct {
	tag    string
	ch     *fakeChannel
	out    chan amqp.Delivery
	closed bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{queues: make(map[string]*fakeQueue)}
}

func (b *fakeBroker) dial(ctx context.Context, url string, timeout time.Duration) (connection, error) {
	if b.dialErr != nil {
		return nil, b.dialErr
	}
	return &fakeConn{broker: b}, nil
}

// depth returns the number of ready (not yet delivered) messages on queue.
func (b *fakeBroker) depth(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[queue]; ok {
		return len(q.ready)
	}
	return 0
}

// dropConsumers simulates the broker closing every consume channel.
func (b *fakeBroker) dropConsumers() {
	b.mu.Lock()
	chans := append([]*fakeChannel(nil), b.channels...)
	b.mu.Unlock()
	for _, ch := range chans {
		if ch.hasConsumers() {
			_ = ch.Close()
		}
	}
}

// dispatchLocked hands ready messages to the first open consumer.
func (b *fakeBroker) dispatchLocked(name string) {
	q := b.queues[name]
	for len(q.ready) > 0 {
		var target *fakeConsumer
		for _, c := range q.consumers {
			if !c.closed {
				target = c
				break
			}
		}
		if target == nil {
			return
		}
		msg := q.ready[0]
		q.ready = q.ready[1:]
		b.nextTag++
		msg.DeliveryTag = b.nextTag
		msg.Acknowledger = target.ch
		msg.ConsumerTag = target.tag
		target.ch.unacked[msg.DeliveryTag] = pendingDelivery{queue: name, msg: msg}
		target.out <- msg
	}
}

type fakeConn struct {
	broker *fakeBroker
	closed bool
}

func (c *fakeConn) Channel() (channel, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	ch := &fakeChannel{broker: c.broker, unacked: make(map[uint64]pendingDelivery)}
	c.broker.channels = append(c.broker.channels, ch)
	return ch, nil
}

func (c *fakeConn) Close() error {
	c.broker.mu.Lock()
	c.closed = true
	chans := append([]*fakeChannel(nil), c.broker.channels...)
	c.broker.mu.Unlock()
	for _, ch := range chans {
		_ = ch.Close()
	}
	return nil
}

func (c *fakeConn) IsClosed() bool {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	return c.closed
}

type pendingDelivery struct {
	queue string
	msg   amqp.Delivery
}

type fakeChannel struct {
	broker    *fakeBroker
	closed    bool
	confirm   bool
	prefetch  int
	returns   []chan amqp.Return
	unacked   map[uint64]pendingDelivery
	consumers []*fakeConsumer
	acked     []uint64
	rejected  []uint64
}

func (ch *fakeChannel) hasConsumers() bool {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	return len(ch.consumers) > 0 && !ch.closed
}

func (ch *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}
	if !durable {
		return amqp.Queue{}, errors.New("fake broker only supports durable queues")
	}
	if q, ok := b.queues[name]; ok {
		if !sameArgs(q.args, args) {
			ch.closed = true
			return amqp.Queue{}, &amqp.Error{Code: amqp.PreconditionFailed, Reason: "PRECONDITION_FAILED - inequivalent arg", Server: true}
		}
		return amqp.Queue{Name: name, Messages: len(q.ready)}, nil
	}
	b.queues[name] = &fakeQueue{args: args}
	return amqp.Queue{Name: name}, nil
}

func sameArgs(a, b amqp.Table) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func (ch *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	ch.prefetch = prefetchCount
	return nil
}

func (ch *fakeChannel) Confirm(noWait bool) error {
	ch.confirm = true
	return nil
}

func (ch *fakeChannel) NotifyReturn(c chan amqp.Return) chan amqp.Return {
	ch.returns = append(ch.returns, c)
	return c
}

type fakeConfirmation struct{ ack bool }

func (f fakeConfirmation) WaitContext(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return f.ack, nil
}

func (ch *fakeChannel) PublishConfirmed(ctx context.Context, exchange, key string, mandatory bool, msg amqp.Publishing) (confirmation, error) {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return nil, amqp.ErrClosed
	}
	q, ok := b.queues[key]
	if !ok {
		if mandatory {
			for _, r := range ch.returns {
				r <- amqp.Return{ReplyCode: amqp.NoRoute, ReplyText: "NO_ROUTE", RoutingKey: key, MessageId: msg.MessageId}
			}
		}
		return fakeConfirmation{ack: !b.nackAll}, nil
	}
	if !b.nackAll {
		q.ready = append(q.ready, amqp.Delivery{
			Body:          msg.Body,
			MessageId:     msg.MessageId,
			CorrelationId: msg.CorrelationId,
			ContentType:   msg.ContentType,
			DeliveryMode:  msg.DeliveryMode,
			Type:          msg.Type,
			RoutingKey:    key,
		})
		b.dispatchLocked(key)
	}
	return fakeConfirmation{ack: !b.nackAll}, nil
}

func (ch *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return nil, amqp.ErrClosed
	}
	q, ok := b.queues[queue]
	if !ok {
		ch.closed = true
		return nil, &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no queue", Server: true}
	}
	c := &fakeConsumer{tag: consumer, ch: ch, out: make(chan amqp.Delivery, 256)}
	q.consumers = append(q.consumers, c)
	ch.consumers = append(ch.consumers, c)
	b.dispatchLocked(queue)
	return c.out, nil
}

func (ch *fakeChannel) Cancel(consumer string, noWait bool) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range ch.consumers {
		if c.tag == consumer && !c.closed {
			c.closed = true
			close(c.out)
		}
	}
	return nil
}

func (ch *fakeChannel) Close() error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed && len(ch.unacked) == 0 && len(ch.consumers) == 0 {
		return amqp.ErrClosed
	}
	ch.closed = true
	for _, c := range ch.consumers {
		if !c.closed {
			c.closed = true
			close(c.out)
		}
	}
	ch.consumers = nil

	// Unacked deliveries go back to the head of their queue in tag order.
	requeue := make(map[string][]amqp.Delivery)
	for tag := uint64(0); tag <= b.nextTag; tag++ {
		p, ok := ch.unacked[tag]
		if !ok {
			continue
		}
		m := p.msg
		m.Redelivered = true
		m.Acknowledger = nil
		requeue[p.queue] = append(requeue[p.queue], m)
	}
	ch.unacked = map[uint64]pendingDelivery{}
	for name, msgs := range requeue {
		q := b.queues[name]
		q.ready = append(msgs, q.ready...)
		b.dispatchLocked(name)
	}
	return nil
}

func (ch *fakeChannel) IsClosed() bool {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	return ch.closed
}

// amqp.Acknowledger

func (ch *fakeChannel) Ack(tag uint64, multiple bool) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := ch.unacked[tag]; !ok {
		return errors.New("unknown delivery tag")
	}
	delete(ch.unacked, tag)
	ch.acked = append(ch.acked, tag)
	return nil
}

func (ch *fakeChannel) Nack(tag uint64, multiple, requeue bool) error {
	return ch.Reject(tag, requeue)
}

func (ch *fakeChannel) Reject(tag uint64, requeue bool) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := ch.unacked[tag]
	if !ok {
		return errors.New("unknown delivery tag")
	}
	delete(ch.unacked, tag)
	ch.rejected = append(ch.rejected, tag)

	q := b.queues[p.queue]
	if requeue {
		m := p.msg
		m.Redelivered = true
		m.Acknowledger = nil
		q.ready = append([]amqp.Delivery{m}, q.ready...)
		b.dispatchLocked(p.queue)
		return nil
	}
	if dlq, ok := q.args["x-dead-letter-routing-key"].(string); ok {
		if dq, ok := b.queues[dlq]; ok {
			m := p.msg
			m.Acknowledger = nil
			dq.ready = append(dq.ready, m)
		}
	}
	return nil
}

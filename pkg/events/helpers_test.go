package events

import (
	"context"
	"encoding/json"
	"sync"

	"userservice/pkg/models"
	"userservice/pkg/rabbitmq"
)

// fakeDelivery records how a message was settled.
type fakeDelivery struct {
	body        []byte
	redelivered bool

	mu       sync.Mutex
	acks     int
	rejects  int
	requeued bool
}

func newDelivery(body string) *fakeDelivery { return &fakeDelivery{body: []byte(body)} }

func eventDelivery(event models.UserEvent) *fakeDelivery {
	body, _ := json.Marshal(event)
	return &fakeDelivery{body: body}
}

func (d *fakeDelivery) Body() []byte          { return d.body }
func (d *fakeDelivery) MessageID() string     { return "msg-1" }
func (d *fakeDelivery) CorrelationID() string { return "corr-1" }
func (d *fakeDelivery) Redelivered() bool     { return d.redelivered }

func (d *fakeDelivery) Ack() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.acks+d.rejects > 0 {
		return rabbitmq.ErrAlreadySettled
	}
	d.acks++
	return nil
}

func (d *fakeDelivery) Reject(requeue bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.acks+d.rejects > 0 {
		return rabbitmq.ErrAlreadySettled
	}
	d.rejects++
	d.requeued = requeue
	return nil
}

// recordingDispatcher captures dispatched events and the order of calls
// relative to acknowledgement.
type recordingDispatcher struct {
	mu     sync.Mutex
	events []models.UserEvent
	err    error
	panic  bool
	onCall func(models.UserEvent)
}

func (r *recordingDispatcher) Dispatch(ctx context.Context, event models.UserEvent) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	if r.onCall != nil {
		r.onCall(event)
	}
	if r.panic {
		panic("boom")
	}
	return r.err
}

func (r *recordingDispatcher) calls() []models.UserEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.UserEvent(nil), r.events...)
}

// fakeSubscription is driven by the test through deliver and end.
type fakeSubscription struct {
	ctx     context.Context
	handler rabbitmq.Handler
	done    chan struct{}
	once    sync.Once
	err     error
}

func (s *fakeSubscription) Done() <-chan struct{} { return s.done }
func (s *fakeSubscription) Err() error            { return s.err }

func (s *fakeSubscription) deliver(d rabbitmq.Delivery) { s.handler(s.ctx, d) }

func (s *fakeSubscription) end(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

type fakeSubscriber struct {
	started chan *fakeSubscription
	err     error
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{started: make(chan *fakeSubscription, 1)}
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, queue, consumer string, handler rabbitmq.Handler) (Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := &fakeSubscription{ctx: ctx, handler: handler, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			s.end(nil)
		case <-s.done:
		}
	}()
	f.started <- s
	return s, nil
}

// fakeQueuePublisher captures published messages.
type fakeQueuePublisher struct {
	mu       sync.Mutex
	queue    string
	messages []rabbitmq.Message
	err      error
	deadline bool
}

func (f *fakeQueuePublisher) Publish(ctx context.Context, queue string, msg rabbitmq.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, f.deadline = ctx.Deadline()
	f.queue = queue
	f.messages = append(f.messages, msg)
	return f.err
}

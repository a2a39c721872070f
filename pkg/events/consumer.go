package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"userservice/pkg/models"
	"userservice/pkg/rabbitmq"
)

// FailurePolicy decides what happens to a delivery whose dispatch failed.
type FailurePolicy string

const (
	// AckOnFailure logs the failure and acknowledges the delivery.
	AckOnFailure FailurePolicy = "ack"
	// RequeueOnFailure requeues a failed delivery once; a redelivered message
	// that fails again is rejected without requeue (dead-lettered).
	RequeueOnFailure FailurePolicy = "requeue"
)

// Dispatcher performs the downstream action for a USER_REGISTERED event. It
// may be called more than once for the same event.
type Dispatcher interface {
	Dispatch(ctx context.Context, event models.UserEvent) error
}

// Subscription is a running queue subscription.
type Subscription interface {
	Done() <-chan struct{}
	Err() error
}

// QueueSubscriber starts subscriptions on the broker.
type QueueSubscriber interface {
	Subscribe(ctx context.Context, queue, consumer string, handler rabbitmq.Handler) (Subscription, error)
}

// SubscriberFunc adapts a function to QueueSubscriber.
type SubscriberFunc func(ctx context.Context, queue, consumer string, handler rabbitmq.Handler) (Subscription, error)

func (f SubscriberFunc) Subscribe(ctx context.Context, queue, consumer string, handler rabbitmq.Handler) (Subscription, error) {
	return f(ctx, queue, consumer, handler)
}

// ClientSubscriber adapts a broker client to QueueSubscriber.
func ClientSubscriber(c *rabbitmq.Client) QueueSubscriber {
	return SubscriberFunc(func(ctx context.Context, queue, consumer string, handler rabbitmq.Handler) (Subscription, error) {
		s, err := c.Subscribe(ctx, queue, consumer, handler)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// ConsumerConfig holds configuration for the event consumer loop.
type ConsumerConfig struct {
	QueueName       string
	ConsumerName    string
	DispatchTimeout time.Duration
	FailurePolicy   FailurePolicy
}

// Consumer receives user events and routes them by kind.
type Consumer struct {
	cfg        ConsumerConfig
	sub        QueueSubscriber
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewConsumer creates a consumer. An empty failure policy means AckOnFailure.
func NewConsumer(sub QueueSubscriber, dispatcher Dispatcher, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = AckOnFailure
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = "notification-consumer"
	}
	return &Consumer{
		cfg:        cfg,
		sub:        sub,
		dispatcher: dispatcher,
		logger:     logger.With("component", "consumer", "queue", cfg.QueueName),
	}
}

// Run subscribes and blocks until the subscription ends. It returns nil when
// ctx is cancelled and rabbitmq.ErrConnectionLost when the broker ends it.
func (c *Consumer) Run(ctx context.Context) error {
	s, err := c.sub.Subscribe(ctx, c.cfg.QueueName, c.cfg.ConsumerName, c.HandleDelivery)
	if err != nil {
		return fmt.Errorf("events: subscribe %q: %w", c.cfg.QueueName, err)
	}
	c.logger.Info("Consumer is running. Waiting for messages...")

	<-s.Done()
	if err := s.Err(); err != nil {
		return err
	}
	c.logger.Info("Consumer stopped")
	return nil
}

// HandleDelivery processes one message. It settles the delivery exactly once
// and never panics, so one bad message cannot stop the loop.
func (c *Consumer) HandleDelivery(ctx context.Context, d rabbitmq.Delivery) {
	log := c.logger.With("message_id", d.MessageID(), "correlation_id", d.CorrelationID(), "redelivered", d.Redelivered())

	event, err := Decode(d.Body())
	if err != nil {
		log.Error("Rejecting poison message", "error", err)
		c.settle(log, d.Reject(false), "reject")
		return
	}
	log = log.With("event", event.Kind, "event_id", event.EventID)

	switch event.Kind {
	case models.EventUserRegistered:
		log.Info("New user registered", "user_id", event.User.ID, "email", event.User.Email)
		c.dispatch(ctx, log, d, event)
	default:
		log.Warn("Ignoring unknown event kind")
		c.settle(log, d.Ack(), "ack")
	}
}

func (c *Consumer) dispatch(ctx context.Context, log *slog.Logger, d rabbitmq.Delivery, event models.UserEvent) {
	err := c.safeDispatch(ctx, event)
	if err == nil {
		c.settle(log, d.Ack(), "ack")
		return
	}

	err = fmt.Errorf("%w: %w", ErrDispatch, err)
	switch {
	case c.cfg.FailurePolicy == RequeueOnFailure && !d.Redelivered():
		log.Error("Dispatch failed, requeueing", "error", err)
		c.settle(log, d.Reject(true), "requeue")
	case c.cfg.FailurePolicy == RequeueOnFailure:
		log.Error("Dispatch failed on redelivery, rejecting", "error", err)
		c.settle(log, d.Reject(false), "reject")
	default:
		log.Error("Dispatch failed, acknowledging", "error", err)
		c.settle(log, d.Ack(), "ack")
	}
}

func (c *Consumer) safeDispatch(ctx context.Context, event models.UserEvent) (err error) {
	if c.cfg.DispatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.DispatchTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatcher panic: %v", r)
		}
	}()
	return c.dispatcher.Dispatch(ctx, event)
}

func (c *Consumer) settle(log *slog.Logger, err error, action string) {
	if err == nil {
		return
	}
	if errors.Is(err, rabbitmq.ErrAlreadySettled) {
		log.Warn("Delivery already settled", "action", action)
		return
	}
	log.Error("Failed to settle delivery", "action", action, "error", err)
}

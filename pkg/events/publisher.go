package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"userservice/pkg/models"
	"userservice/pkg/rabbitmq"

	"github.com/google/uuid"
)

// QueuePublisher is the part of the broker client the publisher needs.
type QueuePublisher interface {
	Publish(ctx context.Context, queue string, msg rabbitmq.Message) error
}

// Publisher turns completed registrations into USER_REGISTERED events.
type Publisher struct {
	queue   string
	pub     QueuePublisher
	timeout time.Duration
	logger  *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewPublisher creates a publisher for queue. A zero timeout leaves the
// caller's context as the only bound.
func NewPublisher(pub QueuePublisher, queue string, timeout time.Duration, logger *slog.Logger) *Publisher {
	return &Publisher{
		queue:   queue,
		pub:     pub,
		timeout: timeout,
		logger:  logger.With("component", "publisher"),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// PublishUserRegistered queues a snapshot of user. The returned event is
// populated even on failure so callers can log its id.
func (p *Publisher) PublishUserRegistered(ctx context.Context, user models.User, correlationID string) (models.UserEvent, error) {
	event := models.UserEvent{
		Kind:          models.EventUserRegistered,
		User:          user.Snapshot(),
		EventID:       p.newID(),
		CorrelationID: correlationID,
		Timestamp:     p.now(),
	}

	body, err := Encode(event)
	if err != nil {
		return event, fmt.Errorf("%w: %w", ErrPublish, err)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	err = p.pub.Publish(ctx, p.queue, rabbitmq.Message{
		Body:          body,
		MessageID:     event.EventID,
		CorrelationID: correlationID,
		Type:          string(event.Kind),
	})
	if err != nil {
		return event, fmt.Errorf("%w: %s %s: %w", ErrPublish, event.Kind, event.EventID, err)
	}

	p.logger.Info("Event published",
		"event", event.Kind, "event_id", event.EventID, "user_id", user.ID, "correlation_id", correlationID)
	return event, nil
}

package notification

import (
	"context"
	"fmt"
	"log/slog"

	"userservice/pkg/models"
)

// Store records which notifications have been sent. Claim reports true only
// for the first caller of a key; Release undoes a claim whose send failed.
type Store interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Sender delivers a welcome notification.
type Sender interface {
	SendWelcome(ctx context.Context, user models.User) error
}

// Dispatcher sends one welcome notification per registered user, however
// many times the registration event is delivered.
type Dispatcher struct {
	store  Store
	sender Sender
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(store Store, sender Sender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{store: store, sender: sender, logger: logger.With("component", "notification")}
}

func welcomeKey(user models.User) string { return "welcome:" + user.ID }

// Dispatch sends the welcome notification for a USER_REGISTERED event.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.UserEvent) error {
	key := welcomeKey(event.User)
	log := d.logger.With("event_id", event.EventID, "correlation_id", event.CorrelationID, "user_id", event.User.ID)

	claimed, err := d.store.Claim(ctx, key)
	if err != nil {
		return fmt.Errorf("notification: claim %s: %w", key, err)
	}
	if !claimed {
		log.Info("Duplicate welcome notification ignored")
		return nil
	}

	if err := d.sender.SendWelcome(ctx, event.User); err != nil {
		// Release with a fresh context: ctx may be the expired dispatch deadline.
		if rerr := d.store.Release(context.WithoutCancel(ctx), key); rerr != nil {
			log.Error("Failed to release notification claim", "error", rerr)
		}
		return fmt.Errorf("notification: send welcome to %s: %w", event.User.Email, err)
	}

	log.Info("Welcome notification sent", "email", event.User.Email)
	return nil
}

// LogSender simulates delivery by writing the notification to the log.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) SendWelcome(ctx context.Context, user models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.Logger.InfoContext(ctx, fmt.Sprintf("Sending welcome notification to %s (%s)", user.Name, user.Email))
	return nil
}

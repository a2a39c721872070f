package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"userservice/pkg/rabbitmq"

	"github.com/cenkalti/backoff/v4"
)

var (
	retryInitialInterval = time.Second
	retryMaxInterval     = 10 * time.Second
)

// withRetry runs op up to attempts times with exponential backoff.
// Queue configuration errors are permanent and returned immediately.
func withRetry[T any](ctx context.Context, what string, attempts int, logger *slog.Logger, op func(context.Context) (T, error)) (T, error) {
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	attempt := 0
	return backoff.RetryNotifyWithData(func() (T, error) {
		attempt++
		v, err := op(ctx)
		if errors.Is(err, rabbitmq.ErrQueueConfig) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, policy, func(err error, next time.Duration) {
		logger.Warn("connection attempt failed, retrying",
			"target", what, "attempt", attempt, "max_attempts", attempts, "retry_in", next, "error", err)
	})
}

// Package app wires configuration, broker, database and HTTP server into a
// running process.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"userservice/internal/api"
	"userservice/internal/auth"
	"userservice/internal/notification"
	"userservice/internal/users"
	"userservice/pkg/config"
	"userservice/pkg/events"
	"userservice/pkg/postgres"
	"userservice/pkg/rabbitmq"

	"github.com/redis/go-redis/v9"
)

const (
	shutdownTimeout = 10 * time.Second
	welcomeClaimTTL = 30 * 24 * time.Hour
)

// Options selects the components a process runs.
type Options struct {
	API      bool
	Consumer bool
}

// Run starts the selected components and blocks until ctx is cancelled or a
// component fails. A broker that stays unreachable after the configured
// attempts is fatal and Run returns before accepting HTTP traffic.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) error {
	if !opts.API && !opts.Consumer {
		return errors.New("app: nothing to run")
	}

	broker, err := connectBroker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer broker.Close()

	var db *sql.DB
	if needsDatabase(cfg, opts) {
		db, err = connectDatabase(ctx, cfg, logger, opts)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	var wg sync.WaitGroup

	if opts.Consumer {
		store, closeStore, err := newNotificationStore(ctx, cfg, db)
		if err != nil {
			return err
		}
		defer closeStore()

		consumer := newConsumer(cfg, broker, store, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			errc <- consumer.Run(ctx)
		}()
	}

	var srv *http.Server
	if opts.API {
		srv = &http.Server{
			Addr:              ":" + cfg.APIPort,
			Handler:           newRouter(cfg, db, broker, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("Listening", "port", cfg.APIPort)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("app: http server: %w", err)
				return
			}
			errc <- nil
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down...")
	case runErr = <-errc:
		if runErr != nil {
			logger.Error("component stopped", "error", runErr)
		}
	}
	cancel()

	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", "error", err)
		}
	}
	wg.Wait()
	logger.Info("Exited gracefully")
	return runErr
}

func connectBroker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*rabbitmq.Client, error) {
	client, err := withRetry(ctx, "rabbitmq", cfg.BrokerConnectAttempts, logger, func(ctx context.Context) (*rabbitmq.Client, error) {
		return rabbitmq.Connect(ctx, rabbitmq.Config{
			URL:         cfg.RabbitMQURL,
			ConnTimeout: cfg.BrokerConnectTimeout,
			Prefetch:    cfg.Prefetch,
			Logger:      logger,
		})
	})
	if err != nil {
		return nil, err
	}

	if err := client.DeclareQueue(cfg.QueueName, rabbitmq.QueueOptions{DeadLetterQueue: cfg.DeadLetterQueue}); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func needsDatabase(cfg *config.Config, opts Options) bool {
	return opts.API || (opts.Consumer && cfg.NotificationStore == config.StorePostgres)
}

func connectDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*sql.DB, error) {
	db, err := withRetry(ctx, "postgres", cfg.BrokerConnectAttempts, logger, func(ctx context.Context) (*sql.DB, error) {
		return postgres.Connect(ctx, cfg.DatabaseURL)
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Connected to PostgreSQL")

	if err := postgres.RunMigrations(ctx, db, migrationRoles(cfg, opts)...); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrationRoles(cfg *config.Config, opts Options) []string {
	var roles []string
	if opts.API {
		roles = append(roles, postgres.RoleAPI)
	}
	if opts.Consumer && cfg.NotificationStore == config.StorePostgres {
		roles = append(roles, postgres.RoleConsumer)
	}
	return roles
}

// newNotificationStore returns the dedup store named by cfg and a func that
// releases its resources.
func newNotificationStore(ctx context.Context, cfg *config.Config, db *sql.DB) (notification.Store, func(), error) {
	noop := func() {}
	switch cfg.NotificationStore {
	case config.StoreMemory:
		return notification.NewMemoryStore(), noop, nil
	case config.StorePostgres:
		if db == nil {
			return nil, noop, errors.New("app: postgres notification store needs a database")
		}
		return notification.NewPostgresStore(db), noop, nil
	case config.StoreRedis:
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, noop, fmt.Errorf("app: parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opt)
		pingCtx, cancel := context.WithTimeout(ctx, cfg.BrokerConnectTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, noop, fmt.Errorf("app: redis ping: %w", err)
		}
		return notification.NewRedisStore(client, welcomeClaimTTL), func() { client.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("app: unknown notification store %q", cfg.NotificationStore)
	}
}

func newConsumer(cfg *config.Config, sub *rabbitmq.Client, store notification.Store, logger *slog.Logger) *events.Consumer {
	sender := notification.LogSender{Logger: logger.With("component", "notification")}
	dispatcher := notification.NewDispatcher(store, sender, logger)
	return events.NewConsumer(events.ClientSubscriber(sub), dispatcher, events.ConsumerConfig{
		QueueName:       cfg.QueueName,
		ConsumerName:    "notification-consumer",
		DispatchTimeout: cfg.DispatchTimeout,
		FailurePolicy:   events.FailurePolicy(cfg.DispatchFailurePolicy),
	}, logger)
}

func newRouter(cfg *config.Config, db *sql.DB, pub events.QueuePublisher, logger *slog.Logger) http.Handler {
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL)
	svc := users.NewService(users.NewPostgresRepository(db))
	publisher := events.NewPublisher(pub, cfg.QueueName, cfg.PublishTimeout, logger)
	handler := api.NewUserHandler(svc, publisher, tokens, logger)
	return api.NewRouter(handler, api.RouterConfig{Tokens: tokens, CORSOrigins: cfg.CORSOrigins, Logger: logger})
}

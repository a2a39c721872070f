package notification

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// PostgresStore keeps claims in the welcome_notifications table.
type PostgresStore struct {
	DB *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{DB: db}
}

func (s *PostgresStore) Claim(ctx context.Context, key string) (bool, error) {
	res, err := s.DB.ExecContext(ctx,
		"INSERT INTO welcome_notifications (dedup_key) VALUES ($1) ON CONFLICT DO NOTHING", key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PostgresStore) Release(ctx context.Context, key string) error {
	_, err := s.DB.ExecContext(ctx, "DELETE FROM welcome_notifications WHERE dedup_key = $1", key)
	return err
}

// RedisStore keeps claims as SETNX keys that expire after TTL.
type RedisStore struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{Client: client, Prefix: "userservice:notification:", TTL: ttl}
}

func (s *RedisStore) Claim(ctx context.Context, key string) (bool, error) {
	return s.Client.SetNX(ctx, s.Prefix+key, time.Now().UTC().Format(time.RFC3339), s.TTL).Result()
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.Client.Del(ctx, s.Prefix+key).Err()
}

// MemoryStore is a process-local store for tests and single-instance runs.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]struct{})}
}

func (s *MemoryStore) Claim(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false, nil
	}
	s.keys[key] = struct{}{}
	return true, nil
}

func (s *MemoryStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.keys, key)
	s.mu.Unlock()
	return nil
}

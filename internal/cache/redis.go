package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/decency/contentfilter/internal/session"
)

// RedisStore is a Store backed by Redis, for deployments where the
// ingress and egress stages run on separate hosts and need a shared
// process-safe cache: parse a redis:// URL, select a DB, ping once at
// startup to fail fast.
type RedisStore struct {
	client *redis.Client
}

// RedisConfig configures the Redis-backed QueueCache.
type RedisConfig struct {
	URL         string
	KeyPrefix   string
	DatabaseNum int
}

func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("cache: invalid redis url: %w", err)
	}
	opt.DB = cfg.DatabaseNum
	client := redis.NewClient(opt)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("cache: redis connection failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Set(ctx context.Context, queueID string, snap session.Snapshot) error {
	raw, err := encode(snap)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key(queueID), raw, EntryTTL).Err()
}

func (r *RedisStore) Get(ctx context.Context, queueID string) (session.Snapshot, error) {
	raw, err := r.client.Get(ctx, key(queueID)).Result()
	if err == redis.Nil {
		return session.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("cache: redis get: %w", err)
	}
	return decode(raw)
}

func (r *RedisStore) Touch(ctx context.Context, queueID string) error {
	ok, err := r.client.Expire(ctx, key(queueID), EntryTTL).Result()
	if err != nil {
		return fmt.Errorf("cache: redis touch: %w", err)
	}
	if !ok {
		// Key didn't exist; nothing to keep alive, not an error (a
		// predecessor entry may have already expired on its own TTL).
		return nil
	}
	return nil
}

func (r *RedisStore) SetUser(ctx context.Context, recipient, user string) error {
	return r.client.Set(ctx, userKey(recipient), user, EntryTTL).Err()
}

func (r *RedisStore) GetUser(ctx context.Context, recipient string) (string, error) {
	user, err := r.client.Get(ctx, userKey(recipient)).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("cache: redis get user: %w", err)
	}
	return user, nil
}

func (r *RedisStore) Close() error { return r.client.Close() }

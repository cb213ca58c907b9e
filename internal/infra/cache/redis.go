package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"usage-telemetry/internal/domain"
	"usage-telemetry/internal/infra/metrics"
)

// RedisSessionStore реализует domain.SessionStore через Redis.
// TTL ключа задаёт время жизни сессии.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ domain.SessionStore = (*RedisSessionStore)(nil)

// NewRedis создаёт хранилище сессий.
func NewRedis(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: ttl}
}

// GetOrCreate записывает gen(), только если ключ ещё не задан.
func (c *RedisSessionStore) GetOrCreate(ctx context.Context, key string, gen func() string) (string, error) {
	candidate := gen()
	start := time.Now()
	ok, err := c.client.SetNX(ctx, key, candidate, c.ttl).Result()
	metrics.ObserveNetworkRequest("redis", "setnx", "session", start, err)
	if err != nil {
		return "", err
	}
	if ok {
		return candidate, nil
	}
	start = time.Now()
	value, err := c.client.Get(ctx, key).Result()
	metrics.ObserveNetworkRequest("redis", "get", "session", start, err)
	if errors.Is(err, redis.Nil) {
		// Ключ истёк между SETNX и GET.
		if err := c.client.Set(ctx, key, candidate, c.ttl).Err(); err != nil {
			return "", err
		}
		return candidate, nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

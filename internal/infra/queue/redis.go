package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"usage-telemetry/internal/domain"
	"usage-telemetry/internal/infra/metrics"
)

// RedisEvents складывает записи в Redis list для последующей выгрузки.
type RedisEvents struct {
	client *redis.Client
	key    string
}

var _ domain.EventStore = (*RedisEvents)(nil)

// NewRedisEvents создаёт хранилище по указанному ключу.
func NewRedisEvents(client *redis.Client, key string) *RedisEvents {
	return &RedisEvents{client: client, key: key}
}

// InsertBatch добавляет все записи пачки одной командой LPUSH.
func (q *RedisEvents) InsertBatch(ctx context.Context, records []domain.EventRecord) error {
	if len(records) == 0 {
		return nil
	}
	values := make([]any, 0, len(records))
	for _, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		values = append(values, payload)
	}
	start := time.Now()
	err := q.client.LPush(ctx, q.key, values...).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push records: %w", err)
	}
	return nil
}

package eventstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"usage-telemetry/internal/adapters/ingestclient"
	"usage-telemetry/internal/adapters/repo"
	"usage-telemetry/internal/domain"
	"usage-telemetry/internal/infra/config"
	"usage-telemetry/internal/infra/db"
	"usage-telemetry/internal/infra/queue"
)

// Драйверы хранилища событий.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRabbitMQ = "rabbitmq"
	DriverRedis    = "redis"
	DriverHTTP     = "http"
)

// ErrUnknownDriver возвращается для неизвестного EVENT_STORE.
var ErrUnknownDriver = errors.New("неизвестное хранилище событий")

// Open создаёт хранилище по cfg.Store.Driver. Возвращаемая функция
// освобождает ресурсы хранилища.
func Open(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (domain.EventStore, func(), error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	switch driver {
	case DriverPostgres:
		if cfg.PGDSN == "" {
			return nil, nil, errors.New("не указан PG_DSN")
		}
		pool, err := db.Connect(ctx, cfg.PGDSN, cfg.Store.PGMaxConns)
		if err != nil {
			return nil, nil, fmt.Errorf("подключение к postgres: %w", err)
		}
		store := repo.NewPostgresEvents(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	case DriverSQLite:
		store, err := repo.NewSQLiteEvents(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, closer(logger, "sqlite", store.Close), nil
	case DriverRabbitMQ:
		store, err := queue.NewRabbitEvents(cfg.RabbitURL, cfg.Queues.Events)
		if err != nil {
			return nil, nil, err
		}
		return store, closer(logger, "rabbitmq", store.Close), nil
	case DriverRedis:
		if cfg.RedisAddr == "" {
			return nil, nil, errors.New("не указан REDIS_ADDR")
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("подключение к redis: %w", err)
		}
		return queue.NewRedisEvents(client, cfg.Queues.Events), closer(logger, "redis", client.Close), nil
	case DriverHTTP:
		store, err := ingestclient.NewStore(cfg.Ingest.URL)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
	return nil, nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Store.Driver)
}

func closer(logger zerolog.Logger, name string, fn func() error) func() {
	return func() {
		if err := fn(); err != nil {
			logger.Warn().Err(err).Str("store", name).Msg("eventstore: ошибка закрытия")
		}
	}
}

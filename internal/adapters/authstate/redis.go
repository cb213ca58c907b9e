package authstate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"usage-telemetry/internal/domain"
	"usage-telemetry/internal/infra/metrics"
)

// Redis читает текущего пользователя из ключа и слушает канал pub/sub,
// в который сервис аутентификации публикует вход (id) и выход (пустая строка).
type Redis struct {
	client  *redis.Client
	userKey string
	channel string
	log     zerolog.Logger
}

var _ domain.IdentityProvider = (*Redis)(nil)

// NewRedis создаёт провайдер.
func NewRedis(client *redis.Client, userKey, channel string, logger zerolog.Logger) *Redis {
	return &Redis{client: client, userKey: userKey, channel: channel, log: logger}
}

// CurrentUser реализует domain.IdentityProvider.
func (r *Redis) CurrentUser(ctx context.Context) (*domain.User, error) {
	start := time.Now()
	value, err := r.client.Get(ctx, r.userKey).Result()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveNetworkRequest("redis", "get", "auth", start, nil)
		return nil, nil
	}
	metrics.ObserveNetworkRequest("redis", "get", "auth", start, err)
	if err != nil {
		return nil, fmt.Errorf("чтение пользователя: %w", err)
	}
	return parseUser(value), nil
}

// OnAuthStateChange реализует domain.IdentityProvider.
func (r *Redis) OnAuthStateChange(cb func(*domain.User)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, r.channel)
	// Subscribe не возвращает ошибку; ждём подтверждения подписки.
	confirmCtx, confirmCancel := context.WithTimeout(ctx, subscribeTimeout)
	if _, err := pubsub.Receive(confirmCtx); err != nil {
		r.log.Error().Err(err).Str("channel", r.channel).Msg("authstate: подписка не удалась")
	}
	confirmCancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			cb(parseUser(msg.Payload))
		}
	}()
	return func() {
		cancel()
		if err := pubsub.Close(); err != nil {
			r.log.Warn().Err(err).Msg("authstate: закрытие подписки")
		}
		<-done
	}
}

// Publish записывает пользователя и рассылает уведомление; nil — выход.
func (r *Redis) Publish(ctx context.Context, user *domain.User) error {
	payload := ""
	if user != nil {
		payload = user.ID
	}
	pipe := r.client.TxPipeline()
	if payload == "" {
		pipe.Del(ctx, r.userKey)
	} else {
		pipe.Set(ctx, r.userKey, payload, 0)
	}
	pipe.Publish(ctx, r.channel, payload)
	start := time.Now()
	_, err := pipe.Exec(ctx)
	metrics.ObserveNetworkRequest("redis", "publish", "auth", start, err)
	return err
}

const (
	publishTimeout   = 3 * time.Second
	subscribeTimeout = 3 * time.Second
)

// SignIn публикует вход пользователя. Ошибка только логируется.
func (r *Redis) SignIn(userID string) {
	r.publishLogged(&domain.User{ID: userID})
}

// SignOut публикует выход.
func (r *Redis) SignOut() {
	r.publishLogged(nil)
}

func (r *Redis) publishLogged(user *domain.User) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.Publish(ctx, user); err != nil {
		r.log.Error().Err(err).Msg("authstate: не удалось опубликовать смену пользователя")
	}
}

func parseUser(payload string) *domain.User {
	id := strings.TrimSpace(payload)
	if id == "" {
		return nil
	}
	return &domain.User{ID: id}
}

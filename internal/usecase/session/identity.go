package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"usage-telemetry/internal/domain"
)

// DefaultKey — ключ токена сессии в хранилище.
const DefaultKey = "analytics_session_id"

const lookupTimeout = 2 * time.Second

// Identity лениво создаёт и хранит случайный токен сессии.
type Identity struct {
	store domain.SessionStore
	key   string
	log   zerolog.Logger

	mu    sync.Mutex
	known string
}

// NewIdentity создаёт идентификатор сессии поверх хранилища.
func NewIdentity(store domain.SessionStore, key string, logger zerolog.Logger) *Identity {
	if key == "" {
		key = DefaultKey
	}
	return &Identity{store: store, key: key, log: logger}
}

// ID возвращает токен сессии, создавая его, если в хранилище ничего нет.
// Если хранилище недоступно, возвращается последний известный токен, а без
// него новый, который будет предложен хранилищу при следующем обращении.
func (i *Identity) ID(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	id, err := i.store.GetOrCreate(ctx, i.key, i.candidate)
	if err == nil && id != "" {
		i.remember(id)
		return id
	}
	if err != nil {
		i.log.Warn().Err(err).Msg("session: хранилище недоступно, используем последний известный токен")
	}
	return i.lastKnown()
}

// candidate отдаёт хранилищу уже выданный токен, чтобы сессия не сменилась
// после восстановления хранилища.
func (i *Identity) candidate() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.known != "" {
		return i.known
	}
	return newToken()
}

func (i *Identity) remember(id string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.known = id
}

func (i *Identity) lastKnown() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.known == "" {
		i.known = newToken()
	}
	return i.known
}

func newToken() string {
	return uuid.NewString()
}

package identity

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"usage-telemetry/internal/domain"
)

// Resolver хранит последнего известного пользователя.
// Последняя запись побеждает; порядок относительно одновременных
// вызовов Record не гарантируется.
type Resolver struct {
	log zerolog.Logger

	mu      sync.RWMutex
	userID  string
	lastID  string
	version uint64
}

// NewResolver создаёт резолвер без пользователя.
func NewResolver(logger zerolog.Logger) *Resolver {
	return &Resolver{log: logger}
}

// CurrentUserID возвращает последнего известного пользователя.
func (r *Resolver) CurrentUserID() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.userID, r.userID != ""
}

// LastUserID возвращает последнего вошедшего пользователя, даже если он
// уже вышел. Пусто, пока никто не входил.
func (r *Resolver) LastUserID() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastID, r.lastID != ""
}

// Set перезаписывает текущего пользователя сразу, без debounce.
func (r *Resolver) Set(user *domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set(user)
}

func (r *Resolver) set(user *domain.User) {
	r.version++
	if user == nil {
		r.userID = ""
		return
	}
	r.userID = user.ID
	if user.ID != "" {
		r.lastID = user.ID
	}
}

// Start подписывается на изменения и запрашивает текущего пользователя.
// Ошибка запроса только логируется: до следующего уведомления пользователя нет.
// Возвращает функцию отписки.
func (r *Resolver) Start(ctx context.Context, provider domain.IdentityProvider) func() {
	r.mu.RLock()
	before := r.version
	r.mu.RUnlock()

	unsubscribe := provider.OnAuthStateChange(func(user *domain.User) {
		r.Set(user)
		if user == nil {
			r.log.Debug().Msg("identity: пользователь вышел")
			return
		}
		r.log.Debug().Str("user_id", user.ID).Msg("identity: пользователь вошёл")
	})

	user, err := provider.CurrentUser(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("identity: не удалось получить текущего пользователя")
		return unsubscribe
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Уведомление, пришедшее во время запроса, свежее ответа на него.
	if r.version == before {
		r.set(user)
	}
	return unsubscribe
}

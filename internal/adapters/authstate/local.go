package authstate

import (
	"context"
	"sync"

	"usage-telemetry/internal/domain"
)

// Local — провайдер идентификации в памяти процесса. Вход и выход
// выполняет API агента, подписчики уведомляются синхронно.
type Local struct {
	mu          sync.Mutex
	current     *domain.User
	subscribers map[int]func(*domain.User)
	nextID      int
}

var _ domain.IdentityProvider = (*Local)(nil)

// NewLocal создаёт провайдер без пользователя.
func NewLocal() *Local {
	return &Local{subscribers: make(map[int]func(*domain.User))}
}

// CurrentUser реализует domain.IdentityProvider.
func (l *Local) CurrentUser(context.Context) (*domain.User, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return nil, nil
	}
	u := *l.current
	return &u, nil
}

// OnAuthStateChange реализует domain.IdentityProvider.
func (l *Local) OnAuthStateChange(cb func(*domain.User)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	l.subscribers[id] = cb
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.subscribers, id)
	}
}

// SignIn делает пользователя текущим.
func (l *Local) SignIn(userID string) {
	l.publish(&domain.User{ID: userID})
}

// SignOut сбрасывает текущего пользователя.
func (l *Local) SignOut() {
	l.publish(nil)
}

func (l *Local) publish(user *domain.User) {
	l.mu.Lock()
	l.current = user
	subs := make([]func(*domain.User), 0, len(l.subscribers))
	for _, cb := range l.subscribers {
		subs = append(subs, cb)
	}
	l.mu.Unlock()
	for _, cb := range subs {
		if user == nil {
			cb(nil)
			continue
		}
		u := *user
		cb(&u)
	}
}

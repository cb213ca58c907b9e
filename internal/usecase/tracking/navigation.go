package tracking

import (
	"sync"

	"usage-telemetry/internal/domain"
)

// Navigation хранит текущее положение пользователя в интерфейсе.
type Navigation struct {
	mu  sync.RWMutex
	loc domain.Location
}

// NewNavigation создаёт состояние навигации.
func NewNavigation(initial domain.Location) *Navigation {
	return &Navigation{loc: initial}
}

// Current возвращает текущее положение.
func (n *Navigation) Current() domain.Location {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.loc
}

// Set обновляет путь и заголовок. Пустой referrer не затирает известный.
func (n *Navigation) Set(loc domain.Location) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.loc.Path = loc.Path
	n.loc.Title = loc.Title
	if loc.Referrer != "" {
		n.loc.Referrer = loc.Referrer
	}
}

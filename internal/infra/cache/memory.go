package cache

import (
	"context"
	"sync"

	"usage-telemetry/internal/domain"
)

// MemoryStore хранит значения в памяти процесса; сессия живёт, пока жив процесс.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

var _ domain.SessionStore = (*MemoryStore)(nil)

// NewMemory создаёт пустое хранилище.
func NewMemory() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// GetOrCreate реализует domain.SessionStore.
func (m *MemoryStore) GetOrCreate(_ context.Context, key string, gen func() string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.values[key]; ok {
		return v, nil
	}
	v := gen()
	m.values[key] = v
	return v, nil
}

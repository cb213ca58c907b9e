package domain

import "context"

// IdentityProvider отдаёт текущего пользователя и уведомляет о входе/выходе.
type IdentityProvider interface {
	// CurrentUser возвращает nil, если пользователь не вошёл.
	CurrentUser(ctx context.Context) (*User, error)
	// OnAuthStateChange вызывает cb при каждом входе и выходе (nil при выходе).
	OnAuthStateChange(cb func(*User)) (unsubscribe func())
}

// EventStore принимает пачки записей. Ответ не читается, важен только успех.
type EventStore interface {
	InsertBatch(ctx context.Context, records []EventRecord) error
}

// BestEffortSink отправляет записи без ожидания ответа.
// Результат отправки ненаблюдаем, поэтому ошибка не возвращается.
type BestEffortSink interface {
	SendBeacon(records []EventRecord)
}

// SessionStore — хранилище со временем жизни сессии.
type SessionStore interface {
	// GetOrCreate возвращает значение ключа, а если его нет — сохраняет gen().
	GetOrCreate(ctx context.Context, key string, gen func() string) (string, error)
}

// EnvironmentSource отдаёт актуальное состояние среды исполнения.
type EnvironmentSource interface {
	Environment() Environment
}

package domain

import (
	"errors"
	"fmt"
	"maps"
)

// EventType задаёт закрытый набор типов событий.
type EventType string

const (
	EventPageView   EventType = "page_view"
	EventFeatureUse EventType = "feature_use"
	EventClick      EventType = "click"
	EventFormSubmit EventType = "form_submit"
	EventError      EventType = "error"
	EventSearch     EventType = "search"
)

// ErrInvalidEventType возвращается для типа вне перечисления.
var ErrInvalidEventType = errors.New("недопустимый тип события")

// Valid сообщает, входит ли тип в перечисление.
func (t EventType) Valid() bool {
	switch t {
	case EventPageView, EventFeatureUse, EventClick, EventFormSubmit, EventError, EventSearch:
		return true
	}
	return false
}

// ParseEventType приводит строку к EventType.
func ParseEventType(raw string) (EventType, error) {
	t := EventType(raw)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidEventType, raw)
	}
	return t, nil
}

// Категории, которые используют обёртки публичного API.
const (
	CategoryNavigation  = "navigation"
	CategoryFeature     = "feature"
	CategoryInteraction = "interaction"
	CategoryForm        = "form"
	CategorySearch      = "search"
	CategoryError       = "error"
)

// EventOptions содержит необязательные поля события.
type EventOptions struct {
	PagePath   string
	PageTitle  string
	Component  string
	Action     string
	Metadata   map[string]any
	DurationMs *int64
}

// Event — одно зафиксированное действие пользователя, ожидающее доставки.
// После создания не изменяется.
type Event struct {
	Type       EventType
	Category   string
	PagePath   string
	PageTitle  string
	Component  string
	Action     string
	Metadata   map[string]any
	DurationMs *int64
}

// NewEvent собирает событие, копируя metadata, чтобы вызывающий код
// не мог изменить уже поставленное в очередь событие.
func NewEvent(eventType EventType, category string, opts EventOptions) Event {
	ev := Event{
		Type:      eventType,
		Category:  category,
		PagePath:  opts.PagePath,
		PageTitle: opts.PageTitle,
		Component: opts.Component,
		Action:    opts.Action,
		Metadata:  maps.Clone(opts.Metadata),
	}
	if opts.DurationMs != nil {
		d := *opts.DurationMs
		ev.DurationMs = &d
	}
	return ev
}

// EventRecord — формат записи в хранилище событий.
type EventRecord struct {
	UserID        string         `json:"user_id"`
	SessionID     string         `json:"session_id"`
	EventType     EventType      `json:"event_type"`
	EventCategory string         `json:"event_category"`
	PagePath      string         `json:"page_path"`
	PageTitle     string         `json:"page_title"`
	Component     string         `json:"component"`
	Action        string         `json:"action"`
	Metadata      map[string]any `json:"metadata"`
	DeviceType    string         `json:"device_type"`
	Browser       string         `json:"browser"`
	ScreenSize    string         `json:"screen_size"`
	Referrer      string         `json:"referrer"`
	DurationMs    *int64         `json:"duration_ms"`
}

// Validate проверяет запись, пришедшую извне (например, через beacon).
func (r EventRecord) Validate() error {
	if !r.EventType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidEventType, r.EventType)
	}
	if r.UserID == "" {
		return errors.New("user_id обязателен")
	}
	if r.DurationMs != nil && *r.DurationMs < 0 {
		return errors.New("duration_ms не может быть отрицательным")
	}
	return nil
}

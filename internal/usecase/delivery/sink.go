package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"usage-telemetry/internal/domain"
	"usage-telemetry/internal/infra/metrics"
)

// ShutdownTimeout — сколько процесс ждёт незавершённые записи при остановке.
const ShutdownTimeout = 5 * time.Second

// Actor отдаёт текущего пользователя и последнего вошедшего.
type Actor interface {
	CurrentUserID() (string, bool)
	LastUserID() (string, bool)
}

// SessionSource отдаёт токен сессии.
type SessionSource interface {
	ID(ctx context.Context) string
}

// DeviceSource пересчитывает отпечаток устройства.
type DeviceSource interface {
	DeviceInfo() domain.DeviceInfo
}

// LocationSource отдаёт текущее состояние навигации.
type LocationSource interface {
	Current() domain.Location
}

// Sink превращает снимок очереди в записи и отдаёт их хранилищу.
//
// Записи собираются в фоне: хранилище сессии может отвечать медленно, а
// вызывающий код (Record, Teardown) ждать не должен.
// Обычный путь не повторяет неудачные записи: пачка теряется.
// Путь при завершении не ждёт ответа и не наблюдает результат.
type Sink struct {
	actor   Actor
	session SessionSource
	device  DeviceSource
	nav     LocationSource
	store   domain.EventStore
	exit    domain.BestEffortSink
	log     zerolog.Logger

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// NewSink создаёт доставку.
func NewSink(actor Actor, session SessionSource, device DeviceSource, nav LocationSource, store domain.EventStore, exit domain.BestEffortSink, logger zerolog.Logger) *Sink {
	return &Sink{
		actor:   actor,
		session: session,
		device:  device,
		nav:     nav,
		store:   store,
		exit:    exit,
		log:     logger,
	}
}

// BuildRecords собирает записи. Пользователь, сессия, устройство и навигация
// читаются в момент отправки, а не записи события. Если пользователь уже
// вышел, события приписываются последнему вошедшему: в очередь они попали,
// пока он был в системе. Без единого входа возвращается nil.
func (s *Sink) BuildRecords(events []domain.Event) []domain.EventRecord {
	if len(events) == 0 {
		return nil
	}
	userID, ok := s.actor.CurrentUserID()
	if !ok {
		if userID, ok = s.actor.LastUserID(); !ok {
			return nil
		}
	}
	sessionID := s.session.ID(context.Background())
	device := s.device.DeviceInfo()
	loc := s.nav.Current()

	records := make([]domain.EventRecord, 0, len(events))
	for _, ev := range events {
		rec := domain.EventRecord{
			UserID:        userID,
			SessionID:     sessionID,
			EventType:     ev.Type,
			EventCategory: ev.Category,
			PagePath:      ev.PagePath,
			PageTitle:     ev.PageTitle,
			Component:     ev.Component,
			Action:        ev.Action,
			Metadata:      ev.Metadata,
			DeviceType:    device.DeviceType,
			Browser:       device.Browser,
			ScreenSize:    device.ScreenSize,
			Referrer:      loc.Referrer,
			DurationMs:    ev.DurationMs,
		}
		if rec.PagePath == "" {
			rec.PagePath = loc.Path
		}
		if rec.PageTitle == "" {
			rec.PageTitle = loc.Title
		}
		records = append(records, rec)
	}
	return records
}

// SendBatch запускает сборку и запись пачки и сразу возвращает управление.
// Ошибка логируется, пачка не возвращается в очередь.
func (s *Sink) SendBatch(events []domain.Event) {
	if len(events) == 0 {
		return
	}
	s.spawn(len(events), func() {
		records := s.BuildRecords(events)
		if len(records) == 0 {
			s.dropSignedOut(len(events))
			return
		}
		if err := s.store.InsertBatch(context.Background(), records); err != nil {
			metrics.ObserveDeliveryFailure(len(records))
			s.log.Error().Err(err).Int("events", len(records)).Msg("delivery: пачка потеряна")
			return
		}
		s.log.Debug().Int("events", len(records)).Msg("delivery: пачка записана")
	})
}

// SendOnExit отдаёт пачку транспорту, который не требует ожидания.
func (s *Sink) SendOnExit(events []domain.Event) {
	if len(events) == 0 {
		return
	}
	s.spawn(len(events), func() {
		records := s.BuildRecords(events)
		if len(records) == 0 {
			s.dropSignedOut(len(events))
			return
		}
		metrics.BeaconsSent.Inc()
		s.exit.SendBeacon(records)
	})
}

// spawn запускает fn в фоне. После Close пачки отбрасываются.
func (s *Sink) spawn(n int, fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		metrics.EventsDropped.WithLabelValues("closed").Add(float64(n))
		s.log.Warn().Int("events", n).Msg("delivery: доставка закрыта, пачка отброшена")
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.inflight.Done()
		fn()
	}()
}

// Wait ждёт завершения начатых отправок или отмены контекста.
func (s *Sink) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close перестаёт принимать пачки и ждёт уже начатые.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Wait(ctx)
}

func (s *Sink) dropSignedOut(n int) {
	metrics.EventsDropped.WithLabelValues("signed_out").Add(float64(n))
	s.log.Debug().Int("events", n).Msg("delivery: пользователь не входил, пачка отброшена")
}

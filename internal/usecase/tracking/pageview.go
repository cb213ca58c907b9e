package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"usage-telemetry/internal/domain"
)

// DefaultMinDwell — нижняя граница длительности визита. Более короткие
// визиты (цепочки редиректов) не записываются.
const DefaultMinDwell = time.Second

// Tracker превращает смену страниц в события page_view.
type Tracker struct {
	collector *Collector
	actor     Actor
	nav       *Navigation
	clock     Clock
	minDwell  time.Duration
	log       zerolog.Logger

	mu        sync.Mutex
	path      string
	title     string
	enteredAt time.Time
}

// NewTracker создаёт трекер просмотров страниц.
func NewTracker(collector *Collector, actor Actor, nav *Navigation, clock Clock, minDwell time.Duration, logger zerolog.Logger) *Tracker {
	if clock == nil {
		clock = SystemClock()
	}
	if minDwell <= 0 {
		minDwell = DefaultMinDwell
	}
	return &Tracker{
		collector: collector,
		actor:     actor,
		nav:       nav,
		clock:     clock,
		minDwell:  minDwell,
		log:       logger,
		enteredAt: clock.Now(),
	}
}

// Navigate обрабатывает переход на loc. Повтор того же пути игнорируется.
func (t *Tracker) Navigate(loc domain.Location) {
	if loc.Path == "" {
		return
	}
	t.mu.Lock()
	if loc.Path == t.path {
		t.mu.Unlock()
		return
	}
	now := t.clock.Now()
	dwell := now.Sub(t.enteredAt)
	prevPath, prevTitle := t.path, t.title
	t.path, t.title, t.enteredAt = loc.Path, loc.Title, now
	t.mu.Unlock()

	t.nav.Set(loc)

	if _, ok := t.actor.CurrentUserID(); !ok {
		return
	}
	if prevPath != "" && dwell > t.minDwell {
		duration := dwell.Milliseconds()
		t.collector.Record(domain.EventPageView, domain.CategoryNavigation, domain.EventOptions{
			PagePath:   prevPath,
			PageTitle:  prevTitle,
			DurationMs: &duration,
		})
	}
	t.collector.Record(domain.EventPageView, domain.CategoryNavigation, domain.EventOptions{
		PagePath:  loc.Path,
		PageTitle: loc.Title,
	})
}

// Watch читает поток навигации до закрытия канала или отмены контекста.
func (t *Tracker) Watch(ctx context.Context, locations <-chan domain.Location) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case loc, ok := <-locations:
			if !ok {
				return nil
			}
			t.Navigate(loc)
		}
	}
}

// Teardown выполняет финальный сброс очереди при закрытии страницы.
func (t *Tracker) Teardown() {
	t.log.Debug().Msg("tracking: завершение страницы")
	t.collector.FlushOnExit()
}

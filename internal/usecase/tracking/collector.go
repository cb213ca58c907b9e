package tracking

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"usage-telemetry/internal/domain"
	"usage-telemetry/internal/infra/metrics"
)

const (
	DefaultBatchSize     = 10
	DefaultFlushInterval = 5 * time.Second
)

// Actor отдаёт последнего известного пользователя.
type Actor interface {
	CurrentUserID() (string, bool)
}

// Dispatcher доставляет снимок очереди. Вызовы не должны блокироваться
// и не должны сбрасывать очередь того же Collector.
type Dispatcher interface {
	SendBatch(events []domain.Event)
	SendOnExit(events []domain.Event)
}

// Config задаёт политику сброса очереди.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	return c
}

// Collector — очередь событий с политикой допуска и сброса.
//
// Сброс по размеру срабатывает сразу и отменяет таймер. Иначе первое событие
// после пустой очереди взводит таймер на FlushInterval; последующие события
// срок не сдвигают. Добавление, проверка порога и подмена очереди выполняются
// под одним мьютексом, поэтому событие не попадает в две пачки. Пачки
// передаются Dispatcher в том же порядке, в котором были сняты с очереди.
type Collector struct {
	actor Actor
	nav   *Navigation
	sink  Dispatcher
	clock Clock
	cfg   Config
	log   zerolog.Logger

	mu       sync.Mutex
	queue    []domain.Event
	timer    Timer
	timerSeq uint64
	stopped  bool

	// sending удерживается от снятия пачки до её передачи Dispatcher.
	sending sync.Mutex
}

// NewCollector создаёт очередь. Один экземпляр на процесс.
func NewCollector(actor Actor, nav *Navigation, sink Dispatcher, clock Clock, cfg Config, logger zerolog.Logger) *Collector {
	if clock == nil {
		clock = SystemClock()
	}
	if nav == nil {
		nav = NewNavigation(domain.Location{})
	}
	return &Collector{
		actor: actor,
		nav:   nav,
		sink:  sink,
		clock: clock,
		cfg:   cfg.withDefaults(),
		log:   logger,
	}
}

// Record ставит событие в очередь. Без пользователя событие отбрасывается.
func (c *Collector) Record(eventType domain.EventType, category string, opts domain.EventOptions) {
	if _, ok := c.actor.CurrentUserID(); !ok {
		metrics.EventsDropped.WithLabelValues("no_actor").Inc()
		return
	}
	if !eventType.Valid() {
		metrics.EventsDropped.WithLabelValues("invalid_type").Inc()
		c.log.Debug().Str("event_type", string(eventType)).Msg("tracking: неизвестный тип события")
		return
	}
	if opts.PagePath == "" || opts.PageTitle == "" {
		loc := c.nav.Current()
		if opts.PagePath == "" {
			opts.PagePath = loc.Path
		}
		if opts.PageTitle == "" {
			opts.PageTitle = loc.Title
		}
	}
	ev := domain.NewEvent(eventType, category, opts)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		metrics.EventsDropped.WithLabelValues("stopped").Inc()
		return
	}
	metrics.EventsRecorded.WithLabelValues(string(eventType)).Inc()
	c.queue = append(c.queue, ev)
	if len(c.queue) >= c.cfg.BatchSize {
		batch := c.takeLocked()
		c.handOff(metrics.TriggerSize, batch)
		return
	}
	if c.timer == nil {
		c.timerSeq++
		seq := c.timerSeq
		c.timer = c.clock.AfterFunc(c.cfg.FlushInterval, func() { c.onTimer(seq) })
	}
	c.mu.Unlock()
}

// Flush немедленно отправляет очередь обычным путём.
func (c *Collector) Flush() {
	c.mu.Lock()
	batch := c.takeLocked()
	c.handOff(metrics.TriggerManual, batch)
}

// FlushOnExit синхронно очищает очередь и отдаёт её пути доставки,
// который не зависит от того, доживёт ли процесс.
func (c *Collector) FlushOnExit() {
	c.mu.Lock()
	batch := c.takeLocked()
	c.sending.Lock()
	c.mu.Unlock()
	defer c.sending.Unlock()
	if len(batch) == 0 {
		return
	}
	metrics.ObserveFlush(metrics.TriggerExit, len(batch))
	c.log.Debug().Int("events", len(batch)).Msg("tracking: отправка при завершении")
	c.sink.SendOnExit(batch)
}

// Stop отменяет таймер и перестаёт принимать события. Возвращается, когда
// начатая передача пачки завершилась; после этого Dispatcher не вызывается.
// Оставшуюся очередь нужно забрать FlushOnExit заранее.
func (c *Collector) Stop() {
	c.mu.Lock()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerSeq++
	c.sending.Lock()
	c.mu.Unlock()
	c.sending.Unlock()
}

// Len возвращает число событий в очереди.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// TimerPending сообщает, взведён ли таймер сброса.
func (c *Collector) TimerPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}

func (c *Collector) onTimer(seq uint64) {
	c.mu.Lock()
	if c.stopped || c.timer == nil || seq != c.timerSeq {
		// Таймер уже отменён сбросом или остановкой.
		c.mu.Unlock()
		return
	}
	c.timer = nil
	batch := c.takeLocked()
	c.handOff(metrics.TriggerTimer, batch)
}

// takeLocked подменяет очередь пустой и переводит таймер в Idle.
func (c *Collector) takeLocked() []domain.Event {
	batch := c.queue
	c.queue = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerSeq++
	return batch
}

// handOff вызывается под c.mu и освобождает его. Очередь sending
// занимается до снятия c.mu, поэтому пачки уходят в порядке снятия.
func (c *Collector) handOff(trigger string, batch []domain.Event) {
	c.sending.Lock()
	c.mu.Unlock()
	defer c.sending.Unlock()
	c.dispatch(trigger, batch)
}

func (c *Collector) dispatch(trigger string, batch []domain.Event) {
	if len(batch) == 0 {
		return
	}
	metrics.ObserveFlush(trigger, len(batch))
	c.log.Debug().Str("trigger", trigger).Int("events", len(batch)).Msg("tracking: сброс очереди")
	c.sink.SendBatch(batch)
}

package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"usage-telemetry/internal/domain"
)

type stubActor struct {
	mu   sync.Mutex
	id   string
	last string
}

func (a *stubActor) CurrentUserID() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.id, a.id != ""
}

func (a *stubActor) LastUserID() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last, a.last != ""
}

func (a *stubActor) set(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.id = id
	if id != "" {
		a.last = id
	}
}

type stubSession struct{ id string }

func (s stubSession) ID(context.Context) string { return s.id }

// blockingSession имитирует зависшее хранилище сессии.
type blockingSession struct{ release chan struct{} }

func (b blockingSession) ID(context.Context) string {
	<-b.release
	return "s-late"
}

type stubDevice struct {
	mu   sync.Mutex
	info domain.DeviceInfo
}

func (d *stubDevice) DeviceInfo() domain.DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

type stubLocation struct{ loc domain.Location }

func (l stubLocation) Current() domain.Location { return l.loc }

type stubStore struct {
	mu      sync.Mutex
	batches [][]domain.EventRecord
	err     error
}

func (s *stubStore) InsertBatch(_ context.Context, records []domain.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, records)
	return s.err
}

func (s *stubStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

type stubBeacon struct {
	mu   sync.Mutex
	sent [][]domain.EventRecord
}

func (b *stubBeacon) SendBeacon(records []domain.EventRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, records)
}

func (b *stubBeacon) batches() [][]domain.EventRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent
}

type sinkFixture struct {
	actor  *stubActor
	device *stubDevice
	store  *stubStore
	beacon *stubBeacon
	sink   *Sink
}

func newSinkFixture() *sinkFixture {
	f := &sinkFixture{
		actor: &stubActor{id: "u-1", last: "u-1"},
		device: &stubDevice{info: domain.DeviceInfo{
			DeviceType: domain.DeviceDesktop, Browser: domain.BrowserFirefox, ScreenSize: "1920x1080",
		}},
		store:  &stubStore{},
		beacon: &stubBeacon{},
	}
	nav := stubLocation{loc: domain.Location{Path: "/now", Title: "Сейчас", Referrer: "https://example.org/"}}
	f.sink = NewSink(f.actor, stubSession{id: "s-1"}, f.device, nav, f.store, f.beacon, zerolog.Nop())
	return f
}

func waitSink(t *testing.T, s *Sink) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("запись не завершилась: %v", err)
	}
}

func TestBuildRecordsEnrichesAtSendTime(t *testing.T) {
	f := newSinkFixture()
	duration := int64(1500)
	events := []domain.Event{
		{Type: domain.EventPageView, Category: domain.CategoryNavigation, PagePath: "/a", PageTitle: "A", DurationMs: &duration},
		{Type: domain.EventClick, Category: domain.CategoryInteraction, Component: "btn", Action: "press"},
	}

	f.device.info.DeviceType = domain.DeviceMobile
	records := f.sink.BuildRecords(events)

	if len(records) != 2 {
		t.Fatalf("ожидали 2 записи, получили %d", len(records))
	}
	first := records[0]
	if first.UserID != "u-1" || first.SessionID != "s-1" {
		t.Fatalf("неожиданная идентификация: %+v", first)
	}
	if first.DeviceType != domain.DeviceMobile {
		t.Fatalf("устройство должно читаться при отправке, получили %s", first.DeviceType)
	}
	if first.PagePath != "/a" || first.PageTitle != "A" || first.DurationMs == nil || *first.DurationMs != 1500 {
		t.Fatalf("поля события потеряны: %+v", first)
	}
	if first.Referrer != "https://example.org/" || first.ScreenSize != "1920x1080" || first.Browser != domain.BrowserFirefox {
		t.Fatalf("контекст не заполнен: %+v", first)
	}
	second := records[1]
	if second.PagePath != "/now" || second.PageTitle != "Сейчас" {
		t.Fatalf("ожидали подстановку текущей страницы, получили %+v", second)
	}
	if second.DurationMs != nil {
		t.Fatal("длительность должна отсутствовать")
	}
}

func TestSendBatchWritesAsynchronously(t *testing.T) {
	f := newSinkFixture()
	f.sink.SendBatch([]domain.Event{{Type: domain.EventSearch, Category: domain.CategorySearch, Action: "q"}})
	waitSink(t, f.sink)

	if f.store.calls() != 1 || len(f.store.batches[0]) != 1 {
		t.Fatalf("ожидали одну запись пачки, получили %v", f.store.batches)
	}
}

func TestSendBatchFailureIsNotRetried(t *testing.T) {
	f := newSinkFixture()
	f.store.err = errors.New("connection refused")

	f.sink.SendBatch([]domain.Event{{Type: domain.EventClick, Category: domain.CategoryInteraction}})
	waitSink(t, f.sink)
	f.store.err = nil
	f.sink.SendBatch([]domain.Event{{Type: domain.EventClick, Category: domain.CategoryInteraction, Action: "next"}})
	waitSink(t, f.sink)

	if f.store.calls() != 2 {
		t.Fatalf("ожидали ровно две попытки, получили %d", f.store.calls())
	}
	if len(f.store.batches[1]) != 1 || f.store.batches[1][0].Action != "next" {
		t.Fatalf("неудачная пачка не должна присоединяться к следующей: %+v", f.store.batches[1])
	}
}

func TestSendBatchWithoutAnySignInDropsBatch(t *testing.T) {
	f := newSinkFixture()
	f.actor = &stubActor{}
	f.sink.actor = f.actor

	f.sink.SendBatch([]domain.Event{{Type: domain.EventClick, Category: domain.CategoryInteraction}})
	f.sink.SendOnExit([]domain.Event{{Type: domain.EventClick, Category: domain.CategoryInteraction}})
	waitSink(t, f.sink)

	if f.store.calls() != 0 || len(f.beacon.batches()) != 0 {
		t.Fatal("без пользователя записи не отправляются")
	}
}

func TestSendBatchAfterSignOutKeepsLastUser(t *testing.T) {
	f := newSinkFixture()
	f.actor.set("")

	f.sink.SendBatch([]domain.Event{{Type: domain.EventClick, Category: domain.CategoryInteraction, Component: "sign_out"}})
	waitSink(t, f.sink)

	if f.store.calls() != 1 {
		t.Fatalf("последние события сессии не должны теряться, записей %d", f.store.calls())
	}
	if got := f.store.batches[0][0].UserID; got != "u-1" {
		t.Fatalf("ожидали пользователя u-1, получили %q", got)
	}
}

func TestSendDoesNotBlockOnSlowSession(t *testing.T) {
	f := newSinkFixture()
	release := make(chan struct{})
	f.sink.session = blockingSession{release: release}

	start := time.Now()
	f.sink.SendBatch([]domain.Event{{Type: domain.EventClick, Category: domain.CategoryInteraction}})
	f.sink.SendOnExit([]domain.Event{{Type: domain.EventClick, Category: domain.CategoryInteraction}})
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("отправка не должна ждать хранилище сессии, заняла %s", elapsed)
	}

	close(release)
	waitSink(t, f.sink)
	if f.store.calls() != 1 || f.store.batches[0][0].SessionID != "s-late" {
		t.Fatalf("ожидали запись с токеном сессии, получили %v", f.store.batches)
	}
	if len(f.beacon.batches()) != 1 {
		t.Fatal("ожидали один beacon")
	}
}

func TestCloseRejectsLateBatches(t *testing.T) {
	f := newSinkFixture()
	f.sink.SendBatch([]domain.Event{{Type: domain.EventClick, Category: domain.CategoryInteraction}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.sink.Close(ctx); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	f.sink.SendBatch([]domain.Event{{Type: domain.EventClick, Category: domain.CategoryInteraction}})
	f.sink.SendOnExit([]domain.Event{{Type: domain.EventClick, Category: domain.CategoryInteraction}})
	waitSink(t, f.sink)

	if f.store.calls() != 1 || len(f.beacon.batches()) != 0 {
		t.Fatalf("после закрытия пачки не принимаются: записей %d, beacon %d", f.store.calls(), len(f.beacon.batches()))
	}
}

func TestSendOnExitUsesBeacon(t *testing.T) {
	f := newSinkFixture()
	f.sink.SendOnExit([]domain.Event{
		{Type: domain.EventClick, Category: domain.CategoryInteraction},
		{Type: domain.EventFormSubmit, Category: domain.CategoryForm, Action: "submit"},
	})
	waitSink(t, f.sink)

	sent := f.beacon.batches()
	if len(sent) != 1 || len(sent[0]) != 2 {
		t.Fatalf("ожидали один beacon с 2 записями, получили %v", sent)
	}
	if f.store.calls() != 0 {
		t.Fatal("путь завершения не должен использовать обычное хранилище")
	}
}

func TestSendBatchEmptyIsNoop(t *testing.T) {
	f := newSinkFixture()
	f.sink.SendBatch(nil)
	waitSink(t, f.sink)
	if f.store.calls() != 0 {
		t.Fatal("пустая пачка не должна отправляться")
	}
}

func TestWaitRespectsContext(t *testing.T) {
	f := newSinkFixture()
	block := make(chan struct{})
	f.sink.store = blockingStore{release: block}
	f.sink.SendBatch([]domain.Event{{Type: domain.EventClick, Category: domain.CategoryInteraction}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.sink.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ожидали DeadlineExceeded, получили %v", err)
	}
	close(block)
	waitSink(t, f.sink)
}

type blockingStore struct {
	release chan struct{}
}

func (b blockingStore) InsertBatch(context.Context, []domain.EventRecord) error {
	<-b.release
	return nil
}

package repo

import (
	"context"
	"path/filepath"
	"testing"

	"usage-telemetry/internal/domain"
)

func setupSQLite(t *testing.T) *SQLiteEvents {
	t.Helper()
	store, err := NewSQLiteEvents(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("не удалось открыть базу: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteInsertBatchRoundTrip(t *testing.T) {
	store := setupSQLite(t)
	duration := int64(2040)
	records := []domain.EventRecord{
		{
			UserID: "u-1", SessionID: "s-1", EventType: domain.EventPageView, EventCategory: domain.CategoryNavigation,
			PagePath: "/a", PageTitle: "A", DeviceType: domain.DeviceDesktop, Browser: domain.BrowserChrome,
			ScreenSize: "1920x1080", Referrer: "https://example.org", DurationMs: &duration,
		},
		{
			UserID: "u-1", SessionID: "s-1", EventType: domain.EventSearch, EventCategory: domain.CategorySearch,
			PagePath: "/b", Action: "tajweed", Metadata: map[string]any{"results_count": 3},
		},
	}

	if err := store.InsertBatch(context.Background(), records); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	got, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("не ожидали ошибку чтения: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ожидали 2 записи, получили %d", len(got))
	}
	if got[0].PagePath != "/a" || got[0].DurationMs == nil || *got[0].DurationMs != 2040 {
		t.Fatalf("неожиданная первая запись: %+v", got[0])
	}
	if got[0].Metadata != nil {
		t.Fatalf("пустые metadata должны храниться как NULL, получили %v", got[0].Metadata)
	}
	if got[1].Action != "tajweed" || got[1].Metadata["results_count"] != float64(3) {
		t.Fatalf("неожиданная вторая запись: %+v", got[1])
	}
	if got[1].DurationMs != nil {
		t.Fatalf("длительность должна отсутствовать, получили %d", *got[1].DurationMs)
	}
}

func TestSQLiteRejectsInvalidEventTypeAtomically(t *testing.T) {
	store := setupSQLite(t)
	records := []domain.EventRecord{
		{UserID: "u-1", SessionID: "s-1", EventType: domain.EventClick, EventCategory: "interaction"},
		{UserID: "u-1", SessionID: "s-1", EventType: domain.EventType("purchase"), EventCategory: "billing"},
	}

	if err := store.InsertBatch(context.Background(), records); err == nil {
		t.Fatal("ожидали ошибку для недопустимого типа")
	}
	n, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if n != 0 {
		t.Fatalf("пачка должна откатываться целиком, сохранено %d", n)
	}
}

func TestSQLiteEmptyBatch(t *testing.T) {
	store := setupSQLite(t)
	if err := store.InsertBatch(context.Background(), nil); err != nil {
		t.Fatalf("пустая пачка не должна давать ошибку: %v", err)
	}
}

func TestRecordRowNullsEmptyFields(t *testing.T) {
	row := recordRow(domain.EventRecord{UserID: "u", SessionID: "s", EventType: domain.EventClick, EventCategory: "interaction"})
	if len(row) != len(eventColumns) {
		t.Fatalf("число значений %d не совпадает с числом колонок %d", len(row), len(eventColumns))
	}
	for i, idx := range []int{4, 5, 6, 7, 8, 9, 10, 11, 12} {
		if row[idx] != nil {
			t.Fatalf("%d: колонка %s должна быть NULL, получили %v", i, eventColumns[idx], row[idx])
		}
	}
	if row[13].(*int64) != nil {
		t.Fatal("duration_ms должна быть NULL")
	}
}

package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // CGO-free SQLite

	"usage-telemetry/internal/domain"
	"usage-telemetry/internal/infra/metrics"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS analytics_events(
  id             INTEGER PRIMARY KEY,
  user_id        TEXT    NOT NULL,
  session_id     TEXT    NOT NULL,
  event_type     TEXT    NOT NULL CHECK (event_type IN ('page_view','feature_use','click','form_submit','error','search')),
  event_category TEXT    NOT NULL,
  page_path      TEXT,
  page_title     TEXT,
  component      TEXT,
  action         TEXT,
  metadata_json  TEXT    CHECK (metadata_json IS NULL OR json_valid(metadata_json)),
  device_type    TEXT,
  browser        TEXT,
  screen_size    TEXT,
  referrer       TEXT,
  duration_ms    INTEGER CHECK (duration_ms IS NULL OR duration_ms >= 0),
  created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_created ON analytics_events(created_at);
CREATE INDEX IF NOT EXISTS idx_events_type    ON analytics_events(event_type);
CREATE INDEX IF NOT EXISTS idx_events_session ON analytics_events(session_id);
`

// SQLiteEvents — локальное хранилище событий для разработки и
// автономной работы агента.
type SQLiteEvents struct {
	db *sql.DB
}

var _ domain.EventStore = (*SQLiteEvents)(nil)

// NewSQLiteEvents открывает базу и создаёт таблицу.
func NewSQLiteEvents(path string) (*SQLiteEvents, error) {
	// WAL + busy timeout, чтобы параллельные пачки не ловили "database is locked".
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create database tables: %w", err)
	}
	return &SQLiteEvents{db: db}, nil
}

// Close закрывает базу.
func (s *SQLiteEvents) Close() error {
	return s.db.Close()
}

// InsertBatch записывает пачку в одной транзакции.
func (s *SQLiteEvents) InsertBatch(ctx context.Context, records []domain.EventRecord) (err error) {
	if len(records) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { metrics.ObserveNetworkRequest("sqlite", "insert_events", eventsTable, start, err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO analytics_events(
  user_id, session_id, event_type, event_category, page_path, page_title, component, action,
  metadata_json, device_type, browser, screen_size, referrer, duration_ms, created_at
) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, r := range records {
		var metadata any
		if len(r.Metadata) > 0 {
			raw, err := json.Marshal(r.Metadata)
			if err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("failed to marshal metadata: %w", err)
			}
			metadata = string(raw)
		}
		if _, err := stmt.ExecContext(ctx,
			r.UserID, r.SessionID, string(r.EventType), r.EventCategory,
			nullIfEmpty(r.PagePath), nullIfEmpty(r.PageTitle), nullIfEmpty(r.Component), nullIfEmpty(r.Action),
			metadata, nullIfEmpty(r.DeviceType), nullIfEmpty(r.Browser), nullIfEmpty(r.ScreenSize), nullIfEmpty(r.Referrer),
			r.DurationMs, now,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to execute statement: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Count возвращает число сохранённых записей.
func (s *SQLiteEvents) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analytics_events`).Scan(&n)
	return n, err
}

// Recent возвращает последние записи в порядке вставки.
func (s *SQLiteEvents) Recent(ctx context.Context, limit int) ([]domain.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT user_id, session_id, event_type, event_category,
       COALESCE(page_path,''), COALESCE(page_title,''), COALESCE(component,''), COALESCE(action,''),
       metadata_json, COALESCE(device_type,''), COALESCE(browser,''), COALESCE(screen_size,''), COALESCE(referrer,''),
       duration_ms
FROM analytics_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EventRecord
	for rows.Next() {
		var (
			r        domain.EventRecord
			eventTyp string
			metadata sql.NullString
			duration sql.NullInt64
		)
		if err := rows.Scan(&r.UserID, &r.SessionID, &eventTyp, &r.EventCategory,
			&r.PagePath, &r.PageTitle, &r.Component, &r.Action,
			&metadata, &r.DeviceType, &r.Browser, &r.ScreenSize, &r.Referrer, &duration); err != nil {
			return nil, err
		}
		r.EventType = domain.EventType(eventTyp)
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &r.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		if duration.Valid {
			d := duration.Int64
			r.DurationMs = &d
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"usage-telemetry/internal/domain"
	"usage-telemetry/internal/infra/metrics"
)

const eventsTable = "analytics_events"

// eventColumns — порядок колонок при COPY; created_at проставляет сервер,
// поэтому порядок прихода пачек не важен.
var eventColumns = []string{
	"user_id", "session_id", "event_type", "event_category",
	"page_path", "page_title", "component", "action", "metadata",
	"device_type", "browser", "screen_size", "referrer", "duration_ms",
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS analytics_events (
  id             BIGSERIAL PRIMARY KEY,
  user_id        TEXT        NOT NULL,
  session_id     TEXT        NOT NULL,
  event_type     TEXT        NOT NULL CHECK (event_type IN ('page_view','feature_use','click','form_submit','error','search')),
  event_category TEXT        NOT NULL,
  page_path      TEXT,
  page_title     TEXT,
  component      TEXT,
  action         TEXT,
  metadata       JSONB,
  device_type    TEXT,
  browser        TEXT,
  screen_size    TEXT,
  referrer       TEXT,
  duration_ms    BIGINT CHECK (duration_ms >= 0),
  created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_analytics_events_user_created ON analytics_events (user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_analytics_events_session ON analytics_events (session_id);
CREATE INDEX IF NOT EXISTS idx_analytics_events_type ON analytics_events (event_type);
`

// PostgresEvents реализует domain.EventStore на основе pgxpool.
type PostgresEvents struct {
	pool *pgxpool.Pool
}

var _ domain.EventStore = (*PostgresEvents)(nil)

// NewPostgresEvents создаёт адаптер БД.
func NewPostgresEvents(pool *pgxpool.Pool) *PostgresEvents {
	return &PostgresEvents{pool: pool}
}

// EnsureSchema создаёт таблицу событий, если её нет.
func (p *PostgresEvents) EnsureSchema(ctx context.Context) error {
	start := time.Now()
	_, err := p.pool.Exec(ctx, postgresSchema)
	metrics.ObserveNetworkRequest("postgres", "ensure_schema", eventsTable, start, err)
	if err != nil {
		return fmt.Errorf("создание схемы: %w", err)
	}
	return nil
}

// InsertBatch записывает пачку одной командой COPY.
func (p *PostgresEvents) InsertBatch(ctx context.Context, records []domain.EventRecord) error {
	if len(records) == 0 {
		return nil
	}
	start := time.Now()
	_, err := p.pool.CopyFrom(ctx, pgx.Identifier{eventsTable}, eventColumns, pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
		return recordRow(records[i]), nil
	}))
	metrics.ObserveNetworkRequest("postgres", "copy_events", eventsTable, start, err)
	if err != nil {
		return fmt.Errorf("запись событий: %w", err)
	}
	return nil
}

func recordRow(r domain.EventRecord) []any {
	var metadata any
	if len(r.Metadata) > 0 {
		metadata = r.Metadata
	}
	return []any{
		r.UserID,
		r.SessionID,
		string(r.EventType),
		r.EventCategory,
		nullIfEmpty(r.PagePath),
		nullIfEmpty(r.PageTitle),
		nullIfEmpty(r.Component),
		nullIfEmpty(r.Action),
		metadata,
		nullIfEmpty(r.DeviceType),
		nullIfEmpty(r.Browser),
		nullIfEmpty(r.ScreenSize),
		nullIfEmpty(r.Referrer),
		r.DurationMs,
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

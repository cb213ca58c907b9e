package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"usage-telemetry/internal/domain"
	"usage-telemetry/internal/infra/metrics"
)

// ErrEmptyBatch возвращается для пустого массива записей.
var ErrEmptyBatch = errors.New("пустая пачка")

const (
	defaultMaxBodyBytes = 1 << 20
	ingestWriteTimeout  = 10 * time.Second
)

// IngestHandler принимает JSON-массивы записей и пишет их в хранилище.
type IngestHandler struct {
	store   domain.EventStore
	maxBody int64
	log     zerolog.Logger
}

// NewIngestHandler создаёт обработчик приёма.
func NewIngestHandler(store domain.EventStore, maxBody int64, logger zerolog.Logger) *IngestHandler {
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &IngestHandler{store: store, maxBody: maxBody, log: logger}
}

// Mount регистрирует маршруты.
func (h *IngestHandler) Mount(r chi.Router) {
	r.Post("/v1/events", h.handleEvents)
}

func (h *IngestHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	records, err := decodeRecords(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		metrics.IngestRecords.WithLabelValues("rejected").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Отправитель beacon может исчезнуть сразу после запроса,
	// поэтому запись не привязана к жизни соединения.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), ingestWriteTimeout)
	defer cancel()
	if err := h.store.InsertBatch(ctx, records); err != nil {
		metrics.IngestRecords.WithLabelValues("failed").Add(float64(len(records)))
		h.log.Error().Err(err).Int("records", len(records)).Msg("ingest: не удалось записать пачку")
		writeError(w, http.StatusInternalServerError, "failed to store events")
		return
	}
	metrics.IngestRecords.WithLabelValues("stored").Add(float64(len(records)))
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": len(records)})
}

func decodeRecords(body io.Reader) ([]domain.EventRecord, error) {
	var records []domain.EventRecord
	if err := json.NewDecoder(body).Decode(&records); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrEmptyBatch
	}
	for i, rec := range records {
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return records, nil
}

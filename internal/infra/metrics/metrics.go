package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	EventsRecorded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_events_recorded_total",
		Help: "События, принятые в очередь",
	}, []string{"event_type"})
	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_events_dropped_total",
		Help: "События, отброшенные до постановки в очередь",
	}, []string{"reason"})
	Flushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_flushes_total",
		Help: "Сбросы очереди по причине",
	}, []string{"trigger"})
	BatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "telemetry_batch_size",
		Help:    "Размер отправляемой пачки",
		Buckets: []float64{1, 2, 3, 5, 8, 10, 15, 25, 50, 100},
	})
	DeliveryErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_delivery_errors_total",
		Help: "Пачки, потерянные из-за ошибки записи",
	})
	EventsLost = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_events_lost_total",
		Help: "События в пачках, которые не удалось записать",
	})
	BeaconsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_beacons_sent_total",
		Help: "Отправки при завершении страницы",
	})
	IngestRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_records_total",
		Help: "Записи, принятые сервером приёма",
	}, []string{"status"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// Причины сброса очереди.
const (
	TriggerSize   = "size"
	TriggerTimer  = "timer"
	TriggerExit   = "exit"
	TriggerManual = "manual"
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		EventsRecorded,
		EventsDropped,
		Flushes,
		BatchSize,
		DeliveryErrors,
		EventsLost,
		BeaconsSent,
		IngestRecords,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveFlush учитывает сброс очереди и размер пачки.
func ObserveFlush(trigger string, size int) {
	Flushes.WithLabelValues(trigger).Inc()
	if size > 0 {
		BatchSize.Observe(float64(size))
	}
}

// ObserveDeliveryFailure учитывает потерянную пачку.
func ObserveDeliveryFailure(size int) {
	DeliveryErrors.Inc()
	EventsLost.Add(float64(size))
}

package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"usage-telemetry/internal/infra/config"
	"usage-telemetry/internal/infra/eventstore"
	httpinfra "usage-telemetry/internal/infra/http"
	applog "usage-telemetry/internal/infra/log"
	"usage-telemetry/internal/infra/metrics"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Store.Driver == eventstore.DriverHTTP {
		logger.Fatal().Msg("ingest: EVENT_STORE=http указывает сервер сам на себя")
	}
	store, closeStore, err := eventstore.Open(ctx, cfg, applog.Component(logger, "eventstore"))
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("ingest: не удалось открыть хранилище событий")
	}
	defer closeStore()

	server := httpinfra.NewServer(applog.Component(logger, "http"))
	httpinfra.NewIngestHandler(store, cfg.Ingest.MaxBodyBytes, applog.Component(logger, "ingest")).Mount(server.Router)

	go func() {
		if err := server.Start(cfg.IngestAddr); err != nil {
			logger.Error().Err(err).Msg("ingest: http сервер остановлен")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("ingest: завершение работы")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("ingest: http сервер остановлен с ошибкой")
	}
}

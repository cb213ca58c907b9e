package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"usage-telemetry/internal/adapters/authstate"
	"usage-telemetry/internal/adapters/device"
	"usage-telemetry/internal/adapters/ingestclient"
	"usage-telemetry/internal/domain"
	"usage-telemetry/internal/infra/cache"
	"usage-telemetry/internal/infra/config"
	"usage-telemetry/internal/infra/eventstore"
	httpinfra "usage-telemetry/internal/infra/http"
	applog "usage-telemetry/internal/infra/log"
	"usage-telemetry/internal/infra/metrics"
	"usage-telemetry/internal/usecase/delivery"
	"usage-telemetry/internal/usecase/identity"
	"usage-telemetry/internal/usecase/session"
	"usage-telemetry/internal/usecase/tracking"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	var redisClient *redis.Client
	if cfg.Auth.Provider == "redis" || cfg.Session.Store == "redis" {
		if cfg.RedisAddr == "" {
			logger.Fatal().Msg("agent: не указан адрес Redis (REDIS_ADDR)")
		}
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("agent: нет подключения к Redis")
		}
		defer redisClient.Close()
	}

	var (
		provider domain.IdentityProvider
		auth     httpinfra.SignInOut
	)
	switch cfg.Auth.Provider {
	case "redis":
		remote := authstate.NewRedis(redisClient, cfg.Auth.UserKey, cfg.Auth.Channel, applog.Component(logger, "authstate"))
		provider, auth = remote, remote
	case "local":
		local := authstate.NewLocal()
		provider, auth = local, local
	default:
		logger.Fatal().Str("provider", cfg.Auth.Provider).Msg("agent: неизвестный провайдер идентификации")
	}

	resolver := identity.NewResolver(applog.Component(logger, "identity"))
	unsubscribe := resolver.Start(ctx, provider)
	defer unsubscribe()

	var sessionStore domain.SessionStore = cache.NewMemory()
	if cfg.Session.Store == "redis" {
		sessionStore = cache.NewRedis(redisClient, cfg.Session.TTL)
	}
	sessions := session.NewIdentity(sessionStore, cfg.Session.Key, applog.Component(logger, "session"))

	store, closeStore, err := eventstore.Open(ctx, cfg, applog.Component(logger, "eventstore"))
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("agent: не удалось открыть хранилище событий")
	}
	defer closeStore()

	beacon, err := ingestclient.NewBeacon(cfg.Ingest.URL, ingestclient.WithBeaconTimeout(cfg.Ingest.BeaconTimeout))
	if err != nil {
		logger.Fatal().Err(err).Msg("agent: некорректный INGEST_URL")
	}

	env := device.NewLive(domain.Environment{})
	nav := tracking.NewNavigation(domain.Location{})
	sink := delivery.NewSink(resolver, sessions, device.NewClassifier(env), nav, store, beacon, applog.Component(logger, "delivery"))

	clock := tracking.SystemClock()
	collector := tracking.NewCollector(resolver, nav, sink, clock, tracking.Config{
		BatchSize:     cfg.Tracking.BatchSize,
		FlushInterval: cfg.Tracking.FlushInterval,
	}, applog.Component(logger, "tracking"))
	tracker := tracking.NewTracker(collector, resolver, nav, clock, cfg.Tracking.MinDwell, applog.Component(logger, "pageview"))
	api := tracking.NewAPI(collector)

	server := httpinfra.NewServer(applog.Component(logger, "http"))
	httpinfra.NewCaptureHandler(api, tracker, env, auth, applog.Component(logger, "capture")).Mount(server.Router)

	go func() {
		if err := server.Start(cfg.AgentAddr); err != nil {
			logger.Error().Err(err).Msg("agent: http сервер остановлен")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("agent: завершение работы")
	shutdown(logger, cfg, server, tracker, collector, sink, beacon)
}

func shutdown(logger zerolog.Logger, cfg config.AppConfig, server *httpinfra.Server, tracker *tracking.Tracker, collector *tracking.Collector, sink *delivery.Sink, beacon *ingestclient.Beacon) {
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = delivery.ShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("agent: http сервер остановлен с ошибкой")
	}
	// Порядок важен: каждый следующий этап не получает новых пачек от предыдущего.
	tracker.Teardown()
	collector.Stop()
	if err := sink.Close(ctx); err != nil {
		logger.Warn().Err(err).Msg("agent: не все пачки записаны")
	}
	if err := beacon.Drain(ctx); err != nil {
		logger.Warn().Err(err).Msg("agent: не все beacon-запросы завершились")
	}
}

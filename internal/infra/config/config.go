package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию агента и сервера приёма.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	AgentAddr   string `envconfig:"AGENT_ADDR" default:"127.0.0.1:8090"`
	IngestAddr  string `envconfig:"INGEST_ADDR" default:":8081"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Tracking struct {
		BatchSize     int           `envconfig:"TRACK_BATCH_SIZE" default:"10"`
		FlushInterval time.Duration `envconfig:"TRACK_FLUSH_INTERVAL" default:"5s"`
		MinDwell      time.Duration `envconfig:"TRACK_MIN_DWELL" default:"1s"`
	} `envconfig:""`

	Store struct {
		Driver     string `envconfig:"EVENT_STORE" default:"sqlite"`
		SQLitePath string `envconfig:"SQLITE_PATH" default:"telemetry.db"`
		PGMaxConns int32  `envconfig:"PG_MAX_CONNS" default:"5"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Events string `envconfig:"EVENTS_QUEUE" default:"analytics_events"`
	} `envconfig:""`

	Ingest struct {
		URL           string        `envconfig:"INGEST_URL" default:"http://127.0.0.1:8081"`
		BeaconTimeout time.Duration `envconfig:"BEACON_TIMEOUT" default:"10s"`
		MaxBodyBytes  int64         `envconfig:"INGEST_MAX_BODY_BYTES" default:"1048576"`
	} `envconfig:""`

	Session struct {
		Store string        `envconfig:"SESSION_STORE" default:"memory"`
		Key   string        `envconfig:"SESSION_KEY" default:"analytics_session_id"`
		TTL   time.Duration `envconfig:"SESSION_TTL" default:"12h"`
	} `envconfig:""`

	Auth struct {
		Provider string `envconfig:"AUTH_PROVIDER" default:"local"`
		UserKey  string `envconfig:"AUTH_USER_KEY" default:"auth:current_user"`
		Channel  string `envconfig:"AUTH_CHANNEL" default:"auth:changes"`
	} `envconfig:""`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Parse разбирает окружение, возвращая ошибку вместо завершения процесса.
func Parse() (AppConfig, error) {
	var cfg AppConfig
	err := envconfig.Process("", &cfg)
	return cfg, err
}

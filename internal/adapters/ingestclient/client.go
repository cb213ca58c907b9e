package ingestclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"usage-telemetry/internal/domain"
	"usage-telemetry/internal/infra/metrics"
)

// EventsPath — путь приёма записей на сервере ingest.
const EventsPath = "/v1/events"

const defaultBeaconTimeout = 10 * time.Second

// Option настраивает клиентов.
type Option func(*options)

type options struct {
	httpClient    *http.Client
	beaconTimeout time.Duration
}

// WithHTTPClient задаёт HTTP клиент.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithBeaconTimeout ограничивает время одной фоновой отправки.
func WithBeaconTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.beaconTimeout = timeout
		}
	}
}

func endpoint(baseURL string) (string, error) {
	if strings.TrimSpace(baseURL) == "" {
		return "", errors.New("ingest url is empty")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse ingest url: %w", err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "http"
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + EventsPath
	return parsed.String(), nil
}

func newOptions(opts []Option) options {
	o := options{
		httpClient:    &http.Client{},
		beaconTimeout: defaultBeaconTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newRequest(ctx context.Context, endpoint string, records []domain.EventRecord) (*http.Request, error) {
	body, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("marshal records: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// Store — обычный путь доставки через сервер ingest: ждёт ответа.
type Store struct {
	endpoint string
	client   *http.Client
}

var _ domain.EventStore = (*Store)(nil)

// NewStore создаёт хранилище поверх HTTP.
func NewStore(baseURL string, opts ...Option) (*Store, error) {
	ep, err := endpoint(baseURL)
	if err != nil {
		return nil, err
	}
	o := newOptions(opts)
	return &Store{endpoint: ep, client: o.httpClient}, nil
}

// InsertBatch реализует domain.EventStore.
func (s *Store) InsertBatch(ctx context.Context, records []domain.EventRecord) error {
	req, err := newRequest(ctx, s.endpoint, records)
	if err != nil {
		return err
	}
	start := time.Now()
	resp, err := s.client.Do(req)
	metrics.ObserveNetworkRequest("ingest", "insert_batch", "events", start, err)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("insert batch failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return nil
}

// Beacon — односторонняя отправка при завершении. SendBeacon не ждёт
// ответа и не сообщает результат; запрос выполняется в фоне.
type Beacon struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

var _ domain.BestEffortSink = (*Beacon)(nil)

// NewBeacon создаёт транспорт.
func NewBeacon(baseURL string, opts ...Option) (*Beacon, error) {
	ep, err := endpoint(baseURL)
	if err != nil {
		return nil, err
	}
	o := newOptions(opts)
	return &Beacon{endpoint: ep, client: o.httpClient, timeout: o.beaconTimeout}, nil
}

// SendBeacon реализует domain.BestEffortSink.
func (b *Beacon) SendBeacon(records []domain.EventRecord) {
	if len(records) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	req, err := newRequest(ctx, b.endpoint, records)
	if err != nil {
		cancel()
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		return
	}
	b.inflight.Add(1)
	b.mu.Unlock()
	go func() {
		defer b.inflight.Done()
		defer cancel()
		resp, err := b.client.Do(req)
		if err != nil {
			return
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
}

// Drain даёт фоновым отправкам завершиться до выхода процесса.
// После вызова новые отправки отбрасываются.
func (b *Beacon) Drain(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

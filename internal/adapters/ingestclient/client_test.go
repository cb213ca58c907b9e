package ingestclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usage-telemetry/internal/domain"
)

func sampleRecords() []domain.EventRecord {
	duration := int64(1500)
	return []domain.EventRecord{
		{UserID: "u-1", SessionID: "s-1", EventType: domain.EventPageView, EventCategory: "navigation", PagePath: "/a", DurationMs: &duration},
		{UserID: "u-1", SessionID: "s-1", EventType: domain.EventClick, EventCategory: "interaction", Metadata: map[string]any{"x": 1.0}},
	}
}

func TestEndpoint(t *testing.T) {
	ep, err := endpoint("http://ingest.local/api/")
	require.NoError(t, err)
	assert.Equal(t, "http://ingest.local/api/v1/events", ep)

	ep, err = endpoint("http://127.0.0.1:8081")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8081/v1/events", ep)

	_, err = endpoint("  ")
	assert.Error(t, err)
}

func TestStoreInsertBatch(t *testing.T) {
	var got []domain.EventRecord
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, EventsPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	store, err := NewStore(srv.URL)
	require.NoError(t, err)
	require.NoError(t, store.InsertBatch(context.Background(), sampleRecords()))

	require.Len(t, got, 2)
	assert.Equal(t, "/a", got[0].PagePath)
	require.NotNil(t, got[0].DurationMs)
	assert.EqualValues(t, 1500, *got[0].DurationMs)
	assert.Nil(t, got[1].DurationMs)
	assert.Equal(t, 1.0, got[1].Metadata["x"])
}

func TestStoreInsertBatchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "db unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	store, err := NewStore(srv.URL)
	require.NoError(t, err)
	err = store.InsertBatch(context.Background(), sampleRecords())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestBeaconDoesNotWaitForResponse(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var received []domain.EventRecord
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch []domain.EventRecord
		_ = json.NewDecoder(r.Body).Decode(&batch)
		mu.Lock()
		received = append(received, batch...)
		mu.Unlock()
		<-release
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	beacon, err := NewBeacon(srv.URL)
	require.NoError(t, err)

	start := time.Now()
	beacon.SendBeacon(sampleRecords())
	assert.Less(t, time.Since(start), 500*time.Millisecond, "SendBeacon не должен ждать ответа")

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, beacon.Drain(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, received, 2)
}

func TestBeaconSwallowsTransportErrors(t *testing.T) {
	beacon, err := NewBeacon("http://127.0.0.1:1", WithBeaconTimeout(200*time.Millisecond))
	require.NoError(t, err)

	beacon.SendBeacon(sampleRecords())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, beacon.Drain(ctx))
}

func TestBeaconAfterDrainSendsNothing(t *testing.T) {
	var mu sync.Mutex
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	beacon, err := NewBeacon(srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, beacon.Drain(ctx))

	beacon.SendBeacon(sampleRecords())
	require.NoError(t, beacon.Drain(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, requests)
}

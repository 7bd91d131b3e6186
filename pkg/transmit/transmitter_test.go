package transmit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intentlabs/intent-telemetry/pkg/domain"
)

func testEvents(n int) []domain.TelemetryEvent {
	events := make([]domain.TelemetryEvent, n)
	for i := range events {
		events[i] = domain.TelemetryEvent{
			SchemaVersion:  domain.SchemaVersion,
			Type:           domain.EventActionClick,
			EventID:        "event-" + string(rune('a'+i)),
			SessionID:      "session-1",
			Timestamp:      time.Now().UTC(),
			SequenceNumber: int64(i + 1),
			Data:           map[string]any{},
		}
	}
	return events
}

func fastConfig(endpoint string) Config {
	return Config{
		Endpoint:       endpoint,
		MaxRetries:     3,
		RetryDelay:     time.Millisecond,
		RequestTimeout: time.Second,
	}
}

func TestSend_WrapsEventsInBatchEnvelope(t *testing.T) {
	var mu sync.Mutex
	var received domain.EventBatch

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		mu.Lock()
		require.NoError(t, json.Unmarshal(body, &received))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := New(fastConfig(srv.URL))
	ok := tr.Send(context.Background(), testEvents(3))
	require.True(t, ok)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, domain.SchemaVersion, received.SchemaVersion)
	assert.NotEmpty(t, received.BatchID)
	assert.False(t, received.Timestamp.IsZero())
	require.Len(t, received.Events, 3)
	assert.Equal(t, int64(1), received.Events[0].SequenceNumber)
}

func TestSend_EmptyIsTrivialSuccess(t *testing.T) {
	tr := New(fastConfig("http://127.0.0.1:1")) // never dialed
	assert.True(t, tr.Send(context.Background(), nil))
}

func TestSend_RetriesUntilSuccess(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := New(fastConfig(srv.URL))
	ok := tr.Send(context.Background(), testEvents(1))

	assert.True(t, ok)
	mu.Lock()
	assert.Equal(t, 3, calls)
	mu.Unlock()
}

func TestSend_FalseAfterExhaustion(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := New(fastConfig(srv.URL))
	ok := tr.Send(context.Background(), testEvents(1))

	assert.False(t, ok)
	mu.Lock()
	assert.Equal(t, 4, calls, "first attempt plus three retries")
	mu.Unlock()
}

func TestSend_TimeoutIsRetryable(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			time.Sleep(200 * time.Millisecond) // exceed the attempt timeout
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := fastConfig(srv.URL)
	cfg.RequestTimeout = 50 * time.Millisecond
	tr := New(cfg)

	ok := tr.Send(context.Background(), testEvents(1))
	assert.True(t, ok)
	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()
}

func TestSend_CancelledContextStopsRetrying(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := fastConfig(srv.URL)
	cfg.RetryDelay = time.Hour // force the cancellation branch
	tr := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan bool, 1)
	go func() { done <- tr.Send(ctx, testEvents(1)) }()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not honour context cancellation")
	}
}

func TestBackoffDelayProgression(t *testing.T) {
	base := time.Second
	assert.Equal(t, 1*time.Second, backoffDelay(base, 2, 1))
	assert.Equal(t, 2*time.Second, backoffDelay(base, 2, 2))
	assert.Equal(t, 4*time.Second, backoffDelay(base, 2, 3))
}

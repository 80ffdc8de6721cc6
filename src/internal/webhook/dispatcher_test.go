package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *Registry) {
	db := setupRegistryTestDB(t)
	registry := NewRegistry(db, nil)
	history := NewHistoryStore(db)
	queue := NewQueue(nil)
	queue.SetTickInterval(10 * time.Millisecond)
	deliverer := NewDeliverer()

	dispatcher := NewDispatcher(registry, queue, deliverer, history, nil)

	ctx, cancel := context.WithCancel(context.Background())
	queue.Start(ctx)
	t.Cleanup(func() {
		cancel()
		queue.Stop()
	})

	return dispatcher, registry
}

// S1 — Happy path
func TestDispatcherHappyPath(t *testing.T) {
	var mu sync.Mutex
	var gotSig, gotEvent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotEvent = r.Header.Get("X-Webhook-Event")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d, registry := newTestDispatcher(t)
	wh, err := registry.Create(CreateWebhookInput{Name: "w1", URL: server.URL, Events: []string{"content.created"}, Secret: "s"})
	require.NoError(t, err)

	queued, err := d.Dispatch(context.Background(), "content.created", map[string]string{"id": "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, queued)

	require.Eventually(t, func() bool {
		rows, _, _ := d.GetDeliveries(wh.ID, 1, 10)
		return len(rows) == 1
	}, 2*time.Second, 10*time.Millisecond)

	rows, _, _ := d.GetDeliveries(wh.ID, 1, 10)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Success)
	assert.Equal(t, 1, rows[0].Attempt)
	require.NotNil(t, rows[0].StatusCode)
	assert.Equal(t, 200, *rows[0].StatusCode)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "content.created", gotEvent)
	assert.Regexp(t, `^sha256=[0-9a-f]{64}$`, gotSig)
}

// S2 — Retry then success
func TestDispatcherRetryThenSuccess(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d, registry := newTestDispatcher(t)
	wh, err := registry.Create(CreateWebhookInput{Name: "w1", URL: server.URL, Events: []string{"content.created"}})
	require.NoError(t, err)

	opts := &DispatchOptions{MaxAttempts: 5, InitialDelayMs: 20, BackoffMultiplier: 2}
	_, err = d.Dispatch(context.Background(), "content.created", nil, opts)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rows, _, _ := d.GetDeliveries(wh.ID, 1, 10)
		return len(rows) == 2
	}, 2*time.Second, 10*time.Millisecond)

	rows, _, _ := d.GetDeliveries(wh.ID, 1, 10)
	require.Len(t, rows, 2)
	ids := map[string]bool{rows[0].ID: true, rows[1].ID: true}
	assert.Len(t, ids, 2, "retries must use distinct deliveryIds")
}

// S3 — Permanent failure
func TestDispatcherPermanentFailureNoRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	d, registry := newTestDispatcher(t)
	wh, err := registry.Create(CreateWebhookInput{Name: "w1", URL: server.URL, Events: []string{"content.created"}})
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), "content.created", nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rows, _, _ := d.GetDeliveries(wh.ID, 1, 10)
		return len(rows) == 1
	}, time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	rows, _, _ := d.GetDeliveries(wh.ID, 1, 10)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Success)
	require.NotNil(t, rows[0].StatusCode)
	assert.Equal(t, 404, *rows[0].StatusCode)
}

// S4 — Exhausted retries
func TestDispatcherExhaustedRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	d, registry := newTestDispatcher(t)
	wh, err := registry.Create(CreateWebhookInput{Name: "w1", URL: server.URL, Events: []string{"content.created"}})
	require.NoError(t, err)

	opts := &DispatchOptions{MaxAttempts: 3, InitialDelayMs: 10, BackoffMultiplier: 2}
	_, err = d.Dispatch(context.Background(), "content.created", nil, opts)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rows, _, _ := d.GetDeliveries(wh.ID, 1, 10)
		return len(rows) == 3
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	rows, _, _ := d.GetDeliveries(wh.ID, 1, 10)
	require.Len(t, rows, 3, "no further retries past maxAttempts")
	for _, r := range rows {
		assert.False(t, r.Success)
	}
}

// S5 — Event filter
func TestDispatcherEventFilter(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d, registry := newTestDispatcher(t)
	_, err := registry.Create(CreateWebhookInput{Name: "w1", URL: server.URL, Events: []string{"content.created"}})
	require.NoError(t, err)
	_, err = registry.Create(CreateWebhookInput{Name: "w2", URL: server.URL, Events: []string{"content.updated"}})
	require.NoError(t, err)

	queued, err := d.Dispatch(context.Background(), "content.created", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, queued)

	require.Eventually(t, func() bool { return calls == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, calls)
}

// S6 — Test endpoint
func TestDispatcherTestEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	d, registry := newTestDispatcher(t)
	wh, err := registry.Create(CreateWebhookInput{Name: "w1", URL: server.URL, Events: []string{"content.created"}})
	require.NoError(t, err)

	result, err := d.Test(context.Background(), wh.ID, "content.created", map[string]int{"t": 1})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 503, result.StatusCode)
	assert.NotEmpty(t, result.DeliveryID)

	time.Sleep(50 * time.Millisecond)
	rows, _, _ := d.GetDeliveries(wh.ID, 1, 10)
	require.Len(t, rows, 1, "test endpoint never retries")
}

func TestDispatcherWebhookDeletedMidFlight(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d, registry := newTestDispatcher(t)
	wh, err := registry.Create(CreateWebhookInput{Name: "w1", URL: server.URL, Events: []string{"content.created"}})
	require.NoError(t, err)
	require.NoError(t, registry.Delete(wh.ID))

	queued, err := d.Dispatch(context.Background(), "content.created", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, queued, "Registry.FindActiveForEvent excludes deleted rows")

	// A job queued before the delete reaches ProcessJob after it: the
	// job is dropped without error and no delivery record is written.
	ghost := DeliveryJob{DeliveryID: "ghost", WebhookID: wh.ID, Event: "content.created", Attempt: 1, MaxAttempts: 5}
	require.NoError(t, d.ProcessJob(context.Background(), ghost))
	rows, _, _ := d.GetDeliveries(wh.ID, 1, 10)
	assert.Empty(t, rows)
}

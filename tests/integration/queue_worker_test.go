//go:build integration

package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bloomfeed/publish-queue/internal/domain"
	"github.com/bloomfeed/publish-queue/internal/publisher"
	"github.com/bloomfeed/publish-queue/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastWorkerConfig returns a worker config tuned for test turnaround. Backoff
// is near-zero so retried items become eligible on the next tick.
func fastWorkerConfig() queue.WorkerConfig {
	return queue.WorkerConfig{
		BatchSize:         10,
		PollInterval:      50 * time.Millisecond,
		ExecTimeout:       5 * time.Second,
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		RateLimitBackoff:  time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2.0,
		NumWorkers:        2,
		SweepInterval:     time.Hour,
		ClaimGrace:        time.Hour,
	}
}

// startWorker runs a worker backed by the webhook publisher pointed at
// endpoint, stopping it on test cleanup.
func startWorker(t *testing.T, endpoint string) {
	t.Helper()

	executors, err := publisher.New(publisher.Config{Endpoint: endpoint}, nil)
	require.NoError(t, err)

	worker := queue.NewWorker(fastWorkerConfig(), testRepo(), queue.NewDispatcher(executors...))
	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx)
	t.Cleanup(func() {
		worker.Stop()
		cancel()
	})
}

// waitForStatus polls until the item reaches the wanted status or the
// deadline passes.
func waitForStatus(t *testing.T, id string, want queue.Status) *queue.Item {
	t.Helper()
	repo := testRepo()
	deadline := time.Now().Add(10 * time.Second)

	for time.Now().Before(deadline) {
		item, err := repo.GetItem(context.Background(), id)
		require.NoError(t, err)
		if item.Status == want {
			return item
		}
		time.Sleep(25 * time.Millisecond)
	}
	item, err := repo.GetItem(context.Background(), id)
	require.NoError(t, err)
	t.Fatalf("item %s never reached %s, stuck at %s (retries=%d, error=%q)",
		id, want, item.Status, item.RetryCount, item.LastError)
	return nil
}

func TestWorkerE2E_PublishesItem(t *testing.T) {
	t.Cleanup(func() { cleanupQueue(t) })

	var hits atomic.Int32
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/publish_post", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer endpoint.Close()

	item := enqueueDirect(t, domain.ActionPublishPost, postPayload())
	startWorker(t, endpoint.URL)

	done := waitForStatus(t, item.ID, queue.StatusSucceeded)
	assert.Zero(t, done.RetryCount)
	assert.Empty(t, done.LastError)
	assert.EqualValues(t, 1, hits.Load())
}

func TestWorkerE2E_RetriesTransientThenSucceeds(t *testing.T) {
	t.Cleanup(func() { cleanupQueue(t) })

	// First two attempts fail with a retryable status, third succeeds.
	var attempts atomic.Int32
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer endpoint.Close()

	item := enqueueDirect(t, domain.ActionPublishPost, postPayload())
	startWorker(t, endpoint.URL)

	done := waitForStatus(t, item.ID, queue.StatusSucceeded)
	assert.Equal(t, 2, done.RetryCount)
	assert.EqualValues(t, 3, attempts.Load())
}

func TestWorkerE2E_AuthFailureDeadLettersImmediately(t *testing.T) {
	t.Cleanup(func() { cleanupQueue(t) })

	var attempts atomic.Int32
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "token expired", http.StatusUnauthorized)
	}))
	defer endpoint.Close()

	item := enqueueDirect(t, domain.ActionPublishPost, postPayload())
	startWorker(t, endpoint.URL)

	done := waitForStatus(t, item.ID, queue.StatusDLQ)
	assert.Zero(t, done.RetryCount, "non-retryable failures skip the retry ladder")
	assert.Equal(t, queue.CategoryAuth, done.ErrorCategory)
	assert.Contains(t, done.LastError, "token expired")
	assert.EqualValues(t, 1, attempts.Load())
}

func TestWorkerE2E_ExhaustedRetriesDeadLetter(t *testing.T) {
	t.Cleanup(func() { cleanupQueue(t) })

	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "still broken", http.StatusInternalServerError)
	}))
	defer endpoint.Close()

	item := enqueueDirect(t, domain.ActionPublishPost, postPayload())
	startWorker(t, endpoint.URL)

	done := waitForStatus(t, item.ID, queue.StatusDLQ)
	assert.Equal(t, queue.CategoryTransient, done.ErrorCategory)
	assert.Equal(t, fastWorkerConfig().MaxAttempts-1, done.RetryCount)
}

func TestWorkerE2E_DLQRetryRoundtrip(t *testing.T) {
	t.Cleanup(func() { cleanupQueue(t) })
	client := newTestClient(t)

	// Dead-letter on a broken endpoint, then flip the endpoint healthy and
	// requeue through the admin API.
	var healthy atomic.Bool
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			http.Error(w, "bad media", http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer endpoint.Close()

	item := enqueueDirect(t, domain.ActionPublishPost, postPayload())
	startWorker(t, endpoint.URL)

	waitForStatus(t, item.ID, queue.StatusDLQ)

	healthy.Store(true)
	resp, err := client.POST("/post-queue/retry", map[string]any{"queue_id": item.ID})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	waitForStatus(t, item.ID, queue.StatusSucceeded)
}

package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// WorkerConfig contains worker configuration.
type WorkerConfig struct {
	BatchSize         int
	PollInterval      time.Duration
	ExecTimeout       time.Duration
	MaxAttempts       int
	InitialBackoff    time.Duration
	RateLimitBackoff  time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	NumWorkers        int
	SweepInterval     time.Duration
	ClaimGrace        time.Duration
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize:         50,
		PollInterval:      5 * time.Second,
		ExecTimeout:       30 * time.Second,
		MaxAttempts:       5,
		InitialBackoff:    10 * time.Second,
		RateLimitBackoff:  time.Minute,
		MaxBackoff:        30 * time.Minute,
		BackoffMultiplier: 2.0,
		NumWorkers:        3,
		SweepInterval:     time.Minute,
		ClaimGrace:        5 * time.Minute,
	}
}

// Worker drains the publish queue: each tick claims a bounded batch of
// eligible items, executes them via the dispatcher, and transitions their
// status. The store's ClaimBatch is the only concurrency boundary, so any
// number of workers (in this or other instances) may tick concurrently.
type Worker struct {
	config     WorkerConfig
	repo       Repository
	dispatcher *Dispatcher

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWorker creates a new queue worker.
func NewWorker(config WorkerConfig, repo Repository, dispatcher *Dispatcher) *Worker {
	return &Worker{
		config:     config,
		repo:       repo,
		dispatcher: dispatcher,
		stopCh:     make(chan struct{}),
	}
}

// Start launches worker goroutines and the stale-claim sweeper.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("starting queue worker",
		"workers", w.config.NumWorkers,
		"batch_size", w.config.BatchSize,
		"poll_interval", w.config.PollInterval,
		"max_attempts", w.config.MaxAttempts,
	)

	for i := 0; i < w.config.NumWorkers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}

	w.wg.Add(1)
	go w.sweep(ctx)
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	slog.Info("queue worker stopped")
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.processBatch(ctx, workerID)
		}
	}
}

// sweep periodically reverts items stuck in processing beyond the claim
// grace period. Covers workers that crashed mid-execution.
func (w *Worker) sweep(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			released, err := w.repo.ReleaseStale(ctx, w.config.ClaimGrace)
			if err != nil {
				slog.Error("failed to release stale claims", "error", err)
				continue
			}
			if released > 0 {
				slog.Warn("released stale claims", "count", released, "grace", w.config.ClaimGrace)
				recordStaleReleased(released)
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context, workerID int) {
	items, err := w.repo.ClaimBatch(ctx, w.config.BatchSize)
	if err != nil {
		slog.Error("failed to claim batch", "worker", workerID, "error", err)
		return
	}

	if len(items) == 0 {
		return
	}

	slog.Debug("processing queue items", "worker", workerID, "count", len(items))
	recordQueueClaimed(len(items))

	for _, item := range items {
		w.processItem(ctx, item)
	}
}

// processItem executes one claimed item and records the outcome. Failures
// here never propagate: one item must not abort the rest of the batch.
func (w *Worker) processItem(ctx context.Context, item *Item) {
	start := time.Now()

	execCtx, cancel := context.WithTimeout(ctx, w.config.ExecTimeout)
	err := w.dispatcher.Execute(execCtx, item)
	cancel()

	duration := time.Since(start)

	if err != nil {
		w.handleExecError(ctx, item, err)
		recordExecDuration(string(item.ActionType), duration)
		return
	}

	if err := w.repo.MarkSucceeded(ctx, item.ID); err != nil {
		slog.Error("failed to mark succeeded", "item_id", item.ID, "error", err)
	}

	recordItemProcessed(string(item.ActionType), "success")
	recordExecDuration(string(item.ActionType), duration)

	slog.Debug("item published",
		"item_id", item.ID,
		"action_type", item.ActionType,
		"duration", duration,
	)
}

func (w *Worker) handleExecError(ctx context.Context, item *Item, err error) {
	category := Classify(err)

	slog.Warn("execution failed",
		"item_id", item.ID,
		"action_type", item.ActionType,
		"attempt", item.RetryCount+1,
		"max_attempts", w.config.MaxAttempts,
		"category", category,
		"error", err,
	)

	if !category.Retryable() {
		if markErr := w.repo.MarkDLQ(ctx, item.ID, err, category); markErr != nil {
			slog.Error("failed to mark dlq", "item_id", item.ID, "error", markErr)
		}
		recordItemProcessed(string(item.ActionType), "dlq")
		return
	}

	if item.RetryCount+1 >= w.config.MaxAttempts {
		if markErr := w.repo.MarkDLQ(ctx, item.ID, err, category); markErr != nil {
			slog.Error("failed to mark dlq", "item_id", item.ID, "error", markErr)
		}
		recordItemProcessed(string(item.ActionType), "dlq")
		return
	}

	nextRetryAt := time.Now().Add(w.backoff(item.RetryCount, category))
	if markErr := w.repo.MarkRetry(ctx, item.ID, err, category, nextRetryAt); markErr != nil {
		slog.Error("failed to mark retry", "item_id", item.ID, "error", markErr)
	}
	recordItemProcessed(string(item.ActionType), "retry")

	slog.Info("item scheduled for retry",
		"item_id", item.ID,
		"next_retry_at", nextRetryAt,
	)
}

// backoff computes the delay before the next attempt: exponential in the
// number of attempts already made, capped at MaxBackoff. Rate-limited
// failures start from a higher floor so the downstream window can reset.
func (w *Worker) backoff(retryCount int, category Category) time.Duration {
	initial := w.config.InitialBackoff
	if category == CategoryRateLimit && w.config.RateLimitBackoff > initial {
		initial = w.config.RateLimitBackoff
	}

	backoff := float64(initial)
	for i := 0; i < retryCount; i++ {
		backoff *= w.config.BackoffMultiplier
	}

	if backoff > float64(w.config.MaxBackoff) {
		backoff = float64(w.config.MaxBackoff)
	}
	return time.Duration(backoff)
}

package queue

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/bloomfeed/publish-queue/internal/domain"
	"github.com/google/uuid"
)

// fakeRepo is an in-memory Repository for unit tests. Claim semantics match
// the real store: only pending/failed rows with a due next_retry_at are
// eligible, and a claimed row is never handed out twice.
type fakeRepo struct {
	mu    sync.Mutex
	items map[string]*Item

	// forcedErr, when set, is returned by every operation.
	forcedErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{items: make(map[string]*Item)}
}

func (r *fakeRepo) add(item *Item) *Item {
	r.mu.Lock()
	defer r.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Status == "" {
		item.Status = StatusPending
	}
	now := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	r.items[item.ID] = item
	return item
}

func (r *fakeRepo) get(id string) *Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[id]
}

func (r *fakeRepo) Enqueue(_ context.Context, item *Item) error {
	if r.forcedErr != nil {
		return r.forcedErr
	}
	item.Status = StatusPending
	item.RetryCount = 0
	r.add(item)
	return nil
}

func (r *fakeRepo) ClaimBatch(_ context.Context, limit int) ([]*Item, error) {
	if r.forcedErr != nil {
		return nil, r.forcedErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	eligible := make([]*Item, 0)
	for _, item := range r.items {
		if item.Status != StatusPending && item.Status != StatusFailed {
			continue
		}
		if item.NextRetryAt != nil && item.NextRetryAt.After(now) {
			continue
		}
		eligible = append(eligible, item)
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	claimed := make([]*Item, 0, len(eligible))
	for _, item := range eligible {
		item.Status = StatusProcessing
		claimedAt := now
		item.ClaimedAt = &claimedAt
		item.UpdatedAt = now
		copied := *item
		claimed = append(claimed, &copied)
	}
	return claimed, nil
}

func (r *fakeRepo) MarkSucceeded(_ context.Context, id string) error {
	if r.forcedErr != nil {
		return r.forcedErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return ErrItemNotFound
	}
	item.Status = StatusSucceeded
	item.LastError = ""
	item.ErrorCategory = ""
	item.ClaimedAt = nil
	item.UpdatedAt = time.Now()
	return nil
}

func (r *fakeRepo) MarkRetry(_ context.Context, id string, execErr error, category Category, nextRetryAt time.Time) error {
	if r.forcedErr != nil {
		return r.forcedErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return ErrItemNotFound
	}
	item.Status = StatusPending
	item.RetryCount++
	item.NextRetryAt = &nextRetryAt
	item.LastError = execErr.Error()
	item.ErrorCategory = category
	item.ClaimedAt = nil
	item.UpdatedAt = time.Now()
	return nil
}

func (r *fakeRepo) MarkDLQ(_ context.Context, id string, execErr error, category Category) error {
	if r.forcedErr != nil {
		return r.forcedErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return ErrItemNotFound
	}
	item.Status = StatusDLQ
	item.LastError = execErr.Error()
	item.ErrorCategory = category
	item.ClaimedAt = nil
	item.UpdatedAt = time.Now()
	return nil
}

func (r *fakeRepo) AggregateCounts(_ context.Context) (StatusCounts, error) {
	if r.forcedErr != nil {
		return nil, r.forcedErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(StatusCounts)
	for _, item := range r.items {
		counts[CountKey(item.ActionType, item.Status)]++
	}
	return counts, nil
}

func (r *fakeRepo) ListDLQ(_ context.Context, limit int) ([]*Item, error) {
	if r.forcedErr != nil {
		return nil, r.forcedErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	items := make([]*Item, 0)
	for _, item := range r.items {
		if item.Status == StatusDLQ {
			copied := *item
			items = append(items, &copied)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (r *fakeRepo) GetItem(_ context.Context, id string) (*Item, error) {
	if r.forcedErr != nil {
		return nil, r.forcedErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	copied := *item
	return &copied, nil
}

func (r *fakeRepo) ResetToPending(_ context.Context, id string) (*Item, error) {
	if r.forcedErr != nil {
		return nil, r.forcedErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok || (item.Status != StatusDLQ && item.Status != StatusFailed) {
		return nil, ErrItemNotFound
	}
	prior := *item

	item.Status = StatusPending
	item.LastError = ""
	item.ErrorCategory = ""
	item.NextRetryAt = nil
	item.ClaimedAt = nil
	item.UpdatedAt = time.Now()
	return &prior, nil
}

func (r *fakeRepo) ReleaseStale(_ context.Context, grace time.Duration) (int64, error) {
	if r.forcedErr != nil {
		return 0, r.forcedErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-grace)
	var released int64
	for _, item := range r.items {
		if item.Status == StatusProcessing && item.ClaimedAt != nil && item.ClaimedAt.Before(cutoff) {
			item.Status = StatusPending
			item.ClaimedAt = nil
			item.UpdatedAt = time.Now()
			released++
		}
	}
	return released, nil
}

// fakeExecutor records executions and returns a scripted error.
type fakeExecutor struct {
	action domain.ActionType

	mu       sync.Mutex
	calls    int
	payloads []json.RawMessage
	err      error
}

func (e *fakeExecutor) ActionType() domain.ActionType {
	return e.action
}

func (e *fakeExecutor) Execute(_ context.Context, payload json.RawMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.payloads = append(e.payloads, payload)
	return e.err
}

func (e *fakeExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// blockingExecutor blocks in Execute until released, recording the state of
// the execution context at release time.
type blockingExecutor struct {
	action  domain.ActionType
	started chan struct{}
	release chan struct{}
	ctxErr  error
}

func newBlockingExecutor(action domain.ActionType) *blockingExecutor {
	return &blockingExecutor{
		action:  action,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (e *blockingExecutor) ActionType() domain.ActionType {
	return e.action
}

func (e *blockingExecutor) Execute(ctx context.Context, _ json.RawMessage) error {
	close(e.started)
	select {
	case <-e.release:
		e.ctxErr = ctx.Err()
		return e.ctxErr
	case <-ctx.Done():
		e.ctxErr = ctx.Err()
		return e.ctxErr
	}
}

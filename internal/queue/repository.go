package queue

import (
	"context"
	"time"
)

// Repository defines the interface for queue data access. All mutation goes
// through the store's atomic operations; ClaimBatch is the single
// concurrency boundary that guarantees at-most-one in-flight execution per
// item.
type Repository interface {
	// Enqueue inserts a new pending item. The item's ID, CreatedAt and
	// UpdatedAt are populated from the inserted row.
	Enqueue(ctx context.Context, item *Item) error

	// ClaimBatch atomically selects up to limit eligible items (pending or
	// failed, next_retry_at null or due) and transitions them to
	// processing. Concurrent callers never receive the same item.
	ClaimBatch(ctx context.Context, limit int) ([]*Item, error)

	// MarkSucceeded transitions a claimed item to its terminal success state.
	MarkSucceeded(ctx context.Context, id string) error

	// MarkRetry increments retry_count, records the failure and schedules
	// the next attempt at nextRetryAt, returning the item to pending.
	MarkRetry(ctx context.Context, id string, execErr error, category Category, nextRetryAt time.Time) error

	// MarkDLQ transitions an item to the dead-letter state, recording the
	// final failure.
	MarkDLQ(ctx context.Context, id string, execErr error, category Category) error

	// AggregateCounts returns row counts grouped by (action_type, status).
	// An empty queue yields an empty map, not an error.
	AggregateCounts(ctx context.Context) (StatusCounts, error)

	// ListDLQ returns up to limit dead-lettered items, newest-updated first.
	ListDLQ(ctx context.Context, limit int) ([]*Item, error)

	// GetItem returns a single item by id, or ErrItemNotFound.
	GetItem(ctx context.Context, id string) (*Item, error)

	// ResetToPending conditionally returns a dlq or failed item to pending,
	// clearing error state but preserving retry_count. Returns the item as
	// it was before the reset, or ErrItemNotFound if the id does not exist
	// or is not in a retryable state.
	ResetToPending(ctx context.Context, id string) (*Item, error)

	// ReleaseStale reverts items stuck in processing longer than grace back
	// to pending and returns how many were released. Crash recovery for
	// workers that died mid-execution.
	ReleaseStale(ctx context.Context, grace time.Duration) (int64, error)
}

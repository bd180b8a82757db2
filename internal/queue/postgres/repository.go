// Package postgres provides the PostgreSQL implementation of the queue
// repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/bloomfeed/publish-queue/internal/domain"
	"github.com/bloomfeed/publish-queue/internal/queue"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const itemColumns = `id, business_account_id, action_type, payload, status,
		retry_count, next_retry_at, error, error_category, claimed_at,
		created_at, updated_at`

// Repository implements queue.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Enqueue inserts a new pending item.
func (r *Repository) Enqueue(ctx context.Context, item *queue.Item) error {
	query := `
		INSERT INTO publish_queue (business_account_id, action_type, payload)
		VALUES ($1, $2, $3)
		RETURNING id, status, retry_count, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		item.BusinessAccountID,
		item.ActionType,
		item.Payload,
	).Scan(&item.ID, &item.Status, &item.RetryCount, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return wrapErr("enqueue item", err)
	}
	return nil
}

// ClaimBatch atomically claims up to limit eligible items. FOR UPDATE SKIP
// LOCKED guarantees that overlapping ticks or multiple instances never
// claim the same row.
func (r *Repository) ClaimBatch(ctx context.Context, limit int) ([]*queue.Item, error) {
	query := `
		UPDATE publish_queue
		SET status = 'processing', claimed_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM publish_queue
			WHERE status IN ('pending', 'failed')
			  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
			ORDER BY COALESCE(next_retry_at, created_at)
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + itemColumns
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, wrapErr("claim batch", err)
	}
	defer rows.Close()

	items := make([]*queue.Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("claim batch", err)
	}
	return items, nil
}

// MarkSucceeded transitions an item to succeeded.
func (r *Repository) MarkSucceeded(ctx context.Context, id string) error {
	query := `
		UPDATE publish_queue
		SET status = 'succeeded', error = NULL, error_category = NULL,
		    claimed_at = NULL, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return wrapErr("mark succeeded", err)
	}
	if result.RowsAffected() == 0 {
		return queue.ErrItemNotFound
	}
	return nil
}

// MarkRetry records a failed attempt and schedules the next one.
func (r *Repository) MarkRetry(ctx context.Context, id string, execErr error, category queue.Category, nextRetryAt time.Time) error {
	query := `
		UPDATE publish_queue
		SET status = 'pending', retry_count = retry_count + 1,
		    next_retry_at = $2, error = $3, error_category = $4,
		    claimed_at = NULL, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, id, nextRetryAt, execErr.Error(), category)
	if err != nil {
		return wrapErr("mark retry", err)
	}
	if result.RowsAffected() == 0 {
		return queue.ErrItemNotFound
	}
	return nil
}

// MarkDLQ dead-letters an item.
func (r *Repository) MarkDLQ(ctx context.Context, id string, execErr error, category queue.Category) error {
	query := `
		UPDATE publish_queue
		SET status = 'dlq', error = $2, error_category = $3,
		    claimed_at = NULL, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, id, execErr.Error(), category)
	if err != nil {
		return wrapErr("mark dlq", err)
	}
	if result.RowsAffected() == 0 {
		return queue.ErrItemNotFound
	}
	return nil
}

// AggregateCounts returns counts grouped by (action_type, status).
func (r *Repository) AggregateCounts(ctx context.Context) (queue.StatusCounts, error) {
	query := `
		SELECT action_type, status, COUNT(*)
		FROM publish_queue
		GROUP BY action_type, status
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, wrapErr("aggregate counts", err)
	}
	defer rows.Close()

	counts := make(queue.StatusCounts)
	for rows.Next() {
		var action domain.ActionType
		var status queue.Status
		var count int
		if err := rows.Scan(&action, &status, &count); err != nil {
			return nil, fmt.Errorf("scan count row: %w", err)
		}
		counts[queue.CountKey(action, status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("aggregate counts", err)
	}
	return counts, nil
}

// ListDLQ returns dead-lettered items, newest-updated first.
func (r *Repository) ListDLQ(ctx context.Context, limit int) ([]*queue.Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM publish_queue
		WHERE status = 'dlq'
		ORDER BY updated_at DESC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, wrapErr("list dlq", err)
	}
	defer rows.Close()

	items := make([]*queue.Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dlq item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list dlq", err)
	}
	return items, nil
}

// GetItem returns a single item by id.
func (r *Repository) GetItem(ctx context.Context, id string) (*queue.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM publish_queue WHERE id = $1`
	row := r.db.QueryRow(ctx, query, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrItemNotFound
		}
		return nil, wrapErr("get item", err)
	}
	return item, nil
}

// ResetToPending conditionally returns a dlq or failed item to pending.
// The returned item reflects the row before the reset so the caller can
// report the previous retry_count.
func (r *Repository) ResetToPending(ctx context.Context, id string) (*queue.Item, error) {
	// Lock the row first so the read of the prior state and the conditional
	// update are one atomic step.
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, wrapErr("begin reset", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	selectQuery := `
		SELECT ` + itemColumns + `
		FROM publish_queue
		WHERE id = $1 AND status IN ('dlq', 'failed')
		FOR UPDATE
	`
	prior, err := scanItem(tx.QueryRow(ctx, selectQuery, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrItemNotFound
		}
		return nil, wrapErr("select for reset", err)
	}

	updateQuery := `
		UPDATE publish_queue
		SET status = 'pending', error = NULL, error_category = NULL,
		    next_retry_at = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, updateQuery, id); err != nil {
		return nil, wrapErr("reset to pending", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapErr("commit reset", err)
	}
	return prior, nil
}

// ReleaseStale reverts items stuck in processing beyond the grace period.
func (r *Repository) ReleaseStale(ctx context.Context, grace time.Duration) (int64, error) {
	query := `
		UPDATE publish_queue
		SET status = 'pending', claimed_at = NULL, updated_at = NOW()
		WHERE status = 'processing' AND claimed_at < NOW() - make_interval(secs => $1)
	`
	result, err := r.db.Exec(ctx, query, grace.Seconds())
	if err != nil {
		return 0, wrapErr("release stale claims", err)
	}
	return result.RowsAffected(), nil
}

// scanItem scans one publish_queue row in itemColumns order.
func scanItem(row pgx.Row) (*queue.Item, error) {
	var item queue.Item
	var lastError, errorCategory *string
	err := row.Scan(
		&item.ID,
		&item.BusinessAccountID,
		&item.ActionType,
		&item.Payload,
		&item.Status,
		&item.RetryCount,
		&item.NextRetryAt,
		&lastError,
		&errorCategory,
		&item.ClaimedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastError != nil {
		item.LastError = *lastError
	}
	if errorCategory != nil {
		item.ErrorCategory = queue.Category(*errorCategory)
	}
	return &item, nil
}

// wrapErr wraps a storage error, tagging connectivity-class failures with
// queue.ErrStorageUnavailable so the HTTP layer can answer 503 instead of
// 500.
func wrapErr(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, queue.ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	// Class 08 - connection exceptions, 57P* - server shutdown.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) == 5 && pgErr.Code[:2] == "08" {
			return true
		}
		switch pgErr.Code {
		case "57P01", "57P02", "57P03":
			return true
		}
	}
	return false
}

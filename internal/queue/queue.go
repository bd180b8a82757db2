// Package queue implements the durable post-publishing queue: item model,
// producer and admin services, the worker that drains the queue, and the
// retry/dead-letter policy.
package queue

import (
	"encoding/json"
	"time"

	"github.com/bloomfeed/publish-queue/internal/domain"
)

// Status represents the lifecycle state of a queue item.
type Status string

// Queue item statuses. Pending and failed items are eligible for pickup
// once next_retry_at has passed; succeeded and dlq are terminal (dlq items
// can be resurrected via admin retry).
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusDLQ        Status = "dlq"
)

// Item represents one unit of publishing work.
type Item struct {
	ID                string            `json:"id"`
	BusinessAccountID string            `json:"business_account_id"`
	ActionType        domain.ActionType `json:"action_type"`
	Payload           json.RawMessage   `json:"payload"`
	Status            Status            `json:"status"`
	RetryCount        int               `json:"retry_count"`
	NextRetryAt       *time.Time        `json:"next_retry_at,omitempty"`
	LastError         string            `json:"error,omitempty"`
	ErrorCategory     Category          `json:"error_category,omitempty"`
	ClaimedAt         *time.Time        `json:"claimed_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// StatusCounts maps "<action_type>::<status>" to a row count.
// This is the wire shape of the status endpoint summary.
type StatusCounts map[string]int

// CountKey builds the aggregate key used in status summaries.
func CountKey(action domain.ActionType, status Status) string {
	return string(action) + "::" + string(status)
}

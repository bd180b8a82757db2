package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/bloomfeed/publish-queue/internal/domain"
	"github.com/go-playground/validator/v10"
)

// DLQ listing bounds: default when the caller passes nothing usable, hard
// cap to protect against unbounded result sets.
const (
	DefaultDLQLimit = 50
	MaxDLQLimit     = 200
)

// Service implements the producer and admin operations on the queue.
type Service struct {
	repo     Repository
	validate *validator.Validate
}

// NewService creates a new queue service.
func NewService(repo Repository) *Service {
	return &Service{
		repo:     repo,
		validate: validator.New(),
	}
}

// Enqueue validates the payload against the action type's schema and
// inserts a new pending item. Success guarantees durability of intent
// only; execution happens on a later worker tick.
func (s *Service) Enqueue(ctx context.Context, accountID string, action domain.ActionType, payload json.RawMessage) (*Item, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	if err := s.validatePayload(action, payload); err != nil {
		return nil, err
	}

	item := &Item{
		BusinessAccountID: accountID,
		ActionType:        action,
		Payload:           payload,
	}
	if err := s.repo.Enqueue(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// validatePayload decodes the raw payload into the per-action schema and
// runs struct validation. Malformed payloads fail at enqueue time, not at
// dispatch time.
func (s *Service) validatePayload(action domain.ActionType, payload json.RawMessage) error {
	prototype := domain.PayloadPrototype(action)
	if prototype == nil {
		return fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(prototype); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPayload, err)
	}

	if err := s.validate.Struct(prototype); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPayload, err)
	}
	return nil
}

// Status returns row counts grouped by (action_type, status) plus the
// total. An empty queue yields an empty summary and total 0.
func (s *Service) Status(ctx context.Context) (StatusCounts, int, error) {
	counts, err := s.repo.AggregateCounts(ctx)
	if err != nil {
		return nil, 0, err
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	return counts, total, nil
}

// ListDLQ returns up to limit dead-lettered items, newest-updated first.
// Out-of-range limits fall back to the default or the hard cap.
func (s *Service) ListDLQ(ctx context.Context, limit int) ([]*Item, error) {
	if limit <= 0 {
		limit = DefaultDLQLimit
	}
	if limit > MaxDLQLimit {
		limit = MaxDLQLimit
	}
	return s.repo.ListDLQ(ctx, limit)
}

// GetItem returns a single queue item by id.
func (s *Service) GetItem(ctx context.Context, id string) (*Item, error) {
	return s.repo.GetItem(ctx, id)
}

// Retry returns a dlq or failed item to pending, clearing its error state
// but preserving retry_count for audit. The returned item is the row as it
// was before the reset. The item becomes eligible on the worker's next
// tick; no immediate execution is triggered.
func (s *Service) Retry(ctx context.Context, id string) (*Item, error) {
	return s.repo.ResetToPending(ctx, id)
}

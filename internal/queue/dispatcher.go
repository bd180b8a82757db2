package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bloomfeed/publish-queue/internal/domain"
)

// Executor performs the side-effecting publishing operation for one action
// type. A non-nil error triggers the worker's classification and retry
// logic; wrap errors with NewClassifiedError to control the category.
type Executor interface {
	// ActionType returns the action type this executor handles.
	ActionType() domain.ActionType

	// Execute performs the operation. The context carries the per-item
	// execution deadline.
	Execute(ctx context.Context, payload json.RawMessage) error
}

// Dispatcher routes claimed items to the executor registered for their
// action type.
type Dispatcher struct {
	executors map[domain.ActionType]Executor
}

// NewDispatcher creates a dispatcher from the given executors.
func NewDispatcher(executors ...Executor) *Dispatcher {
	m := make(map[domain.ActionType]Executor, len(executors))
	for _, e := range executors {
		m[e.ActionType()] = e
	}
	return &Dispatcher{executors: m}
}

// Execute runs the executor for the item's action type. An unregistered
// action type is a permanent failure: retrying cannot make an executor
// appear.
func (d *Dispatcher) Execute(ctx context.Context, item *Item) error {
	executor, ok := d.executors[item.ActionType]
	if !ok {
		return NewClassifiedError(
			fmt.Errorf("%w: %s", ErrUnknownAction, item.ActionType),
			CategoryPermanent,
		)
	}
	return executor.Execute(ctx, item.Payload)
}

package queue

import "errors"

// Repository errors.
var (
	// ErrItemNotFound is returned when an item does not exist or is not in
	// a state the operation accepts (e.g. retry on a succeeded item).
	ErrItemNotFound = errors.New("queue item not found or not retryable")

	// ErrStorageUnavailable is returned when the queue store cannot be
	// reached. The HTTP layer maps it to 503 so callers can tell an infra
	// outage apart from an empty queue.
	ErrStorageUnavailable = errors.New("queue store unavailable")
)

// Producer errors.
var (
	ErrUnknownAction  = errors.New("unknown action type")
	ErrInvalidPayload = errors.New("invalid payload for action type")
)

package queue

import "errors"

// Category is a coarse classification of an execution failure. It decides
// retry eligibility and backoff shape, and is persisted alongside the last
// error for DLQ triage.
type Category string

// Failure categories.
const (
	CategoryTransient  Category = "transient"
	CategoryRateLimit  Category = "rate_limit"
	CategoryAuth       Category = "auth"
	CategoryValidation Category = "validation"
	CategoryPermanent  Category = "permanent"
)

// Retryable reports whether a failure in this category should be retried.
// Auth failures are treated as permanently revoked credentials; validation
// and permanent failures are poison messages.
func (c Category) Retryable() bool {
	switch c {
	case CategoryTransient, CategoryRateLimit:
		return true
	}
	return false
}

// ClassifiedError carries a failure category with the underlying error.
// Executors return it to steer the worker's retry decision.
type ClassifiedError struct {
	Err      error
	Category Category
}

func (e *ClassifiedError) Error() string {
	return e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// NewClassifiedError wraps err with an explicit failure category.
func NewClassifiedError(err error, category Category) *ClassifiedError {
	return &ClassifiedError{Err: err, Category: category}
}

// Classify extracts the category from an execution error. Unclassified
// errors, including deadline expiry of a stuck execution, default to
// transient so unknown failures get the benefit of retries.
func Classify(err error) Category {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return CategoryTransient
}

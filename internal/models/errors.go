package models

import (
	"context"
	"errors"
	"fmt"
)

// ErrGenerationInProgress is returned when another instance holds the in-flight marker
var ErrGenerationInProgress = errors.New("recommendation generation already in progress")

// ValidationError means the caller sent an incomplete key. Not retryable.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// UpstreamError means the scoring computation failed, timed out, or returned unusable data.
// Retryable once the error TTL elapses.
type UpstreamError struct {
	Key CacheKey
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("scoring failed for %s: %v", e.Key, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// StoreError means the persistence layer was unavailable. Retryable.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("cache store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsCancellation reports whether err was caused by the caller abandoning the operation.
// Cancellation is not a failure and must not be reported to the user as one.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

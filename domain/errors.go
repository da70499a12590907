package domain

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrConflict       = errors.New("unique constraint conflict")
	ErrNotFound       = errors.New("not found")
	ErrTransientStore = errors.New("transient store error")
	ErrFatalStore     = errors.New("fatal store error")

	// Feed errors.
	ErrFeedNotFound      = errors.New("feed not found")
	ErrFeedAlreadyExists = errors.New("feed already exists")
	ErrFeedNotFetchable  = errors.New("feed is not fetchable")

	// Analysis errors.
	ErrRunNotFound         = errors.New("analysis run not found")
	ErrInvalidTransition   = errors.New("invalid run state transition")
	ErrCapacityExceeded    = errors.New("analysis capacity exceeded")
	ErrEmergencyStopped    = errors.New("analysis is emergency stopped")
	ErrProviderRateLimit   = errors.New("provider rate limited")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrInvalidResponse     = errors.New("invalid provider response")
	ErrInputTooLarge       = errors.New("input exceeds model context")
	ErrAnalysisUnavailable = errors.New("analysis path disabled")
)

// StoreError wraps a driver error with a retryability classification so
// callers can distinguish transient failures from fatal ones.
type StoreError struct {
	Op        string
	Err       error
	Transient bool
}

func (e *StoreError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("store %s failed (%s): %v", e.Op, kind, e.Err)
}

func (e *StoreError) Unwrap() error {
	if e.Transient {
		return ErrTransientStore
	}
	return ErrFatalStore
}

// NewTransientStoreError wraps a retryable store failure.
func NewTransientStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err, Transient: true}
}

// NewFatalStoreError wraps a non-retryable store failure.
func NewFatalStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err, Transient: false}
}

// IsConflict reports whether err is a unique violation. Dedup-aware callers
// treat conflicts as success.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsRetryableStore reports whether a store operation may be retried.
func IsRetryableStore(err error) bool {
	return errors.Is(err, ErrTransientStore)
}

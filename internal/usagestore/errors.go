package usagestore

import (
	"errors"
	"fmt"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrNotFound is returned when no record exists for a user and period.
	ErrNotFound = errors.New("usage record not found")

	// ErrInvalidKey is returned when the user ID or period is empty.
	ErrInvalidKey = errors.New("invalid usage key")

	// ErrInvalidAmount is returned for increments smaller than one.
	ErrInvalidAmount = errors.New("increment must be at least 1")

	// ErrInvalidCounter is returned for a counter outside domain.Counters.
	ErrInvalidCounter = errors.New("unknown usage counter")

	// ErrInvalidBackend is returned for an unknown backend name.
	ErrInvalidBackend = errors.New("unknown usage store backend")
)

// =============================================================================
// Structured Error Type
// =============================================================================

// StoreError wraps a failed store operation with the key involved.
type StoreError struct {
	// Op is the operation that failed (e.g., "Get", "Increment").
	Op string

	// Key identifies the record, formatted user/period.
	Key string

	// Err is the underlying error that occurred.
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("usagestore %s %q: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("usagestore %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is() and errors.As().
func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op, userID string, period fmt.Stringer, err error) error {
	return &StoreError{Op: op, Key: userID + "/" + period.String(), Err: err}
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalid returns true if the error was caused by bad arguments rather
// than by the backend.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidKey) || errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidCounter)
}

// Package usagestore persists per-period usage counters.
//
// This package defines a Store interface with implementations for:
// - PostgresStore: single-statement INSERT ... ON CONFLICT upserts (production)
// - RedisStore: hash per user and period, MULTI/EXEC and Lua for atomicity
// - MemoryStore: mutex-guarded map for development and tests
//
// Every implementation applies an increment atomically: concurrent callers
// incrementing the same (user, period) never lose an update, and a failed
// or timed-out call leaves the record untouched.
package usagestore

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/DukeRupert/ghostwriter/internal/domain"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Store defines the persistence operations of the usage ledger.
type Store interface {
	// Get returns the record for (userID, period).
	// Returns ErrNotFound if nothing has been recorded in that period.
	Get(ctx context.Context, userID string, period domain.Period) (*domain.UsageRecord, error)

	// Increment adds n to counter for (userID, period) in one atomic upsert,
	// creating the record seeded with n if it does not exist yet.
	// Returns the record as it stands after the increment.
	Increment(ctx context.Context, userID string, period domain.Period, counter domain.Counter, n int64, at time.Time) (*domain.UsageRecord, error)

	// IncrementWithin is Increment guarded by a limit: the write is applied
	// only if the sum of pooled counters plus n stays at or below limit.
	// Returns applied=false and the unchanged record when refused.
	IncrementWithin(ctx context.Context, userID string, period domain.Period, counter domain.Counter, n int64, pooled []domain.Counter, limit int64, at time.Time) (*domain.UsageRecord, bool, error)

	// List returns up to limit records for a user, newest period first.
	List(ctx context.Context, userID string, limit int) ([]domain.UsageRecord, error)

	// Ping checks connectivity to the backend.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Backend names a Store implementation.
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
	BackendMemory   Backend = "memory"
)

// ParseBackend validates a backend name.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(s); b {
	case BackendPostgres, BackendRedis, BackendMemory:
		return b, nil
	}
	return "", &StoreError{Op: "ParseBackend", Err: ErrInvalidBackend}
}

// =============================================================================
// Helpers
// =============================================================================

// pooledSum returns the sum of counters in r.
func pooledSum(r *domain.UsageRecord, pooled []domain.Counter) int64 {
	var total int64
	for _, c := range pooled {
		total += r.Count(c)
	}
	return total
}

// validateIncrement checks arguments shared by every backend. counters
// holds the incremented counter followed by any pooled counters.
func validateIncrement(userID string, period domain.Period, n int64, counters ...domain.Counter) error {
	if userID == "" || period == "" {
		return ErrInvalidKey
	}
	if n < 1 {
		return ErrInvalidAmount
	}
	for _, c := range counters {
		if !slices.Contains(domain.Counters, c) {
			return fmt.Errorf("%w %q", ErrInvalidCounter, c)
		}
	}
	return nil
}

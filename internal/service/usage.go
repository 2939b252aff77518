// Package service contains the business logic layer.
//
// This file implements the usage ledger: period-scoped counters of metered
// actions, incremented atomically by the underlying store.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/DukeRupert/ghostwriter/internal/domain"
	"github.com/DukeRupert/ghostwriter/internal/metrics"
	"github.com/DukeRupert/ghostwriter/internal/usagestore"
)

// =============================================================================
// Interface Definition
// =============================================================================

// UsageLedger records and reads metered usage. It performs no quota
// enforcement; that is QuotaService's job.
type UsageLedger interface {
	// CurrentUsage returns the user's record for period, or for the current
	// period when period is empty. A period with nothing recorded yields an
	// all-zero record, not an error.
	CurrentUsage(ctx context.Context, userID string, period domain.Period) (*domain.UsageRecord, error)

	// Increment records count units of action in the current period.
	// The period is taken from the clock at call time.
	Increment(ctx context.Context, userID string, action domain.Action, count int64) (*domain.UsageRecord, error)

	// IncrementWithin records count units of action only if the action's
	// resource stays within limit afterwards. Returns applied=false when refused.
	IncrementWithin(ctx context.Context, userID string, action domain.Action, count, limit int64) (*domain.UsageRecord, bool, error)

	// History returns up to limit past records, newest first.
	History(ctx context.Context, userID string, limit int) ([]domain.UsageRecord, error)

	// CurrentPeriod returns the period the clock is in.
	CurrentPeriod() domain.Period
}

// =============================================================================
// Implementation
// =============================================================================

// LedgerOption customizes a UsageLedger.
type LedgerOption func(*usageLedger)

// WithClock overrides the wall clock used to compute the current period.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *usageLedger) {
		l.now = now
	}
}

// WithStoreTimeout bounds each store call. Zero leaves the caller's deadline alone.
func WithStoreTimeout(d time.Duration) LedgerOption {
	return func(l *usageLedger) {
		l.timeout = d
	}
}

// WithBackendName sets the backend label on usage metrics.
func WithBackendName(name string) LedgerOption {
	return func(l *usageLedger) {
		l.backend = name
	}
}

type usageLedger struct {
	store   usagestore.Store
	logger  *slog.Logger
	now     func() time.Time
	timeout time.Duration
	backend string
}

// NewUsageLedger creates a new UsageLedger.
func NewUsageLedger(store usagestore.Store, logger *slog.Logger, opts ...LedgerOption) UsageLedger {
	l := &usageLedger{
		store:   store,
		logger:  logger,
		now:     time.Now,
		backend: "unknown",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *usageLedger) CurrentPeriod() domain.Period {
	return domain.PeriodOf(l.now())
}

// CurrentUsage returns the record for the period, zeroed if absent.
func (l *usageLedger) CurrentUsage(ctx context.Context, userID string, period domain.Period) (*domain.UsageRecord, error) {
	const op = "usage.current"

	if userID == "" {
		return nil, domain.Invalid(op, "user ID is required")
	}
	if period == "" {
		period = l.CurrentPeriod()
	} else if _, err := domain.ParsePeriod(string(period)); err != nil {
		return nil, err
	}

	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	rec, err := l.store.Get(ctx, userID, period)
	if err != nil {
		if usagestore.IsNotFound(err) {
			return domain.EmptyUsage(userID, period), nil
		}
		metrics.StoreFailed("get")
		l.logger.Error("Failed to read usage",
			"user_id", userID,
			"period", period,
			"error", err,
		)
		return nil, domain.Unavailable(err, op, "failed to read usage")
	}
	return rec, nil
}

// Increment records usage in the current period.
func (l *usageLedger) Increment(ctx context.Context, userID string, action domain.Action, count int64) (*domain.UsageRecord, error) {
	const op = "usage.increment"

	action, err := validateUsageArgs(op, userID, action, count)
	if err != nil {
		return nil, err
	}

	now := l.now()
	period := domain.PeriodOf(now)

	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	rec, err := l.store.Increment(ctx, userID, period, action.Counter(), count, now)
	if err != nil {
		metrics.StoreFailed("increment")
		l.logger.Error("Failed to record usage",
			"user_id", userID,
			"action", action,
			"count", count,
			"period", period,
			"error", err,
		)
		return nil, domain.Unavailable(err, op, "failed to record usage")
	}

	metrics.UsageRecorded(string(action), l.backend, count)
	l.logger.Debug("Usage recorded",
		"user_id", userID,
		"action", action,
		"count", count,
		"period", period,
	)
	return rec, nil
}

// IncrementWithin records usage only if the resource stays within limit.
func (l *usageLedger) IncrementWithin(ctx context.Context, userID string, action domain.Action, count, limit int64) (*domain.UsageRecord, bool, error) {
	const op = "usage.increment_within"

	action, err := validateUsageArgs(op, userID, action, count)
	if err != nil {
		return nil, false, err
	}

	now := l.now()
	period := domain.PeriodOf(now)

	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	rec, applied, err := l.store.IncrementWithin(ctx, userID, period, action.Counter(), count,
		action.Resource().Counters(), limit, now)
	if err != nil {
		metrics.StoreFailed("increment_within")
		l.logger.Error("Failed to record usage within limit",
			"user_id", userID,
			"action", action,
			"count", count,
			"limit", limit,
			"period", period,
			"error", err,
		)
		return nil, false, domain.Unavailable(err, op, "failed to record usage")
	}

	if !applied {
		metrics.QuotaRefused(string(action))
		return rec, false, nil
	}
	metrics.UsageRecorded(string(action), l.backend, count)
	return rec, true, nil
}

// History returns past records, newest first.
func (l *usageLedger) History(ctx context.Context, userID string, limit int) ([]domain.UsageRecord, error) {
	const op = "usage.history"

	if userID == "" {
		return nil, domain.Invalid(op, "user ID is required")
	}
	if limit < 0 {
		return nil, domain.Invalid(op, "limit must not be negative")
	}

	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	records, err := l.store.List(ctx, userID, limit)
	if err != nil {
		metrics.StoreFailed("list")
		return nil, domain.Unavailable(err, op, "failed to list usage history")
	}
	if records == nil {
		records = []domain.UsageRecord{}
	}
	return records, nil
}

func (l *usageLedger) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, l.timeout)
}

// validateUsageArgs returns the normalized action.
func validateUsageArgs(op, userID string, action domain.Action, count int64) (domain.Action, error) {
	if userID == "" {
		return "", domain.Invalid(op, "user ID is required")
	}
	parsed, err := domain.ParseAction(string(action))
	if err != nil {
		return "", domain.Invalid(op, "unknown action "+string(action))
	}
	if count < 1 {
		return "", domain.Invalid(op, "count must be at least 1")
	}
	return parsed, nil
}

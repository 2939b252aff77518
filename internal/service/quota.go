// Package service contains the business logic layer.
//
// This file implements the quota service, which decides whether a user may
// perform a metered action under their subscription plan.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/DukeRupert/ghostwriter/internal/domain"
	"github.com/DukeRupert/ghostwriter/internal/metrics"
	"github.com/DukeRupert/ghostwriter/internal/subscription"
)

// =============================================================================
// Interface Definition
// =============================================================================

// QuotaService defines operations for checking quota limits.
type QuotaService interface {
	// CheckLimit reports whether the user may perform action now. It has no
	// side effects. A failed subscription or usage lookup is returned as an
	// EUNAVAILABLE error, never as a decision.
	CheckLimit(ctx context.Context, userID string, action domain.Action) (*domain.QuotaDecision, error)

	// Consume records count units of action only if that keeps the user
	// within their limit, in a single conditional write. The returned
	// decision reflects usage after the write.
	Consume(ctx context.Context, userID string, action domain.Action, count int64) (*domain.QuotaDecision, error)

	// Summary returns usage against every resource for the current period.
	Summary(ctx context.Context, userID string) (*domain.UsageSummary, error)

	// ResolvePlan returns the plan quota is evaluated against.
	ResolvePlan(ctx context.Context, userID string) (domain.PlanID, error)
}

// =============================================================================
// Implementation
// =============================================================================

// QuotaOption customizes a QuotaService.
type QuotaOption func(*quotaService)

// WithLookupTimeout bounds each subscription lookup. Zero leaves the
// caller's deadline alone.
func WithLookupTimeout(d time.Duration) QuotaOption {
	return func(s *quotaService) {
		s.lookupTimeout = d
	}
}

type quotaService struct {
	plans         *domain.PlanRegistry
	subscriptions subscription.Lookup
	ledger        UsageLedger
	logger        *slog.Logger
	lookupTimeout time.Duration
}

// NewQuotaService creates a new QuotaService.
func NewQuotaService(plans *domain.PlanRegistry, subscriptions subscription.Lookup, ledger UsageLedger, logger *slog.Logger, opts ...QuotaOption) QuotaService {
	s := &quotaService{
		plans:         plans,
		subscriptions: subscriptions,
		ledger:        ledger,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolvePlan looks up the user's subscription. No subscription, an
// unentitled status and an unknown plan all resolve to the default tier.
func (s *quotaService) ResolvePlan(ctx context.Context, userID string) (domain.PlanID, error) {
	const op = "quota.resolve_plan"

	sub, err := s.lookup(ctx, userID)
	if err != nil {
		if subscription.IsNotFound(err) {
			return s.plans.Default(), nil
		}
		s.logger.Error("Subscription lookup failed",
			"user_id", userID,
			"error", err,
		)
		return "", domain.Unavailable(err, op, "could not evaluate quota")
	}

	plan := sub.EffectivePlan(s.plans.Default())
	if !s.plans.Known(plan) {
		s.logger.Warn("Subscription references unknown plan, using default",
			"user_id", userID,
			"plan", plan,
			"default", s.plans.Default(),
		)
	}
	return s.plans.Resolve(plan), nil
}

func (s *quotaService) lookup(ctx context.Context, userID string) (*domain.Subscription, error) {
	if s.lookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.lookupTimeout)
		defer cancel()
	}
	return s.subscriptions.GetSubscription(ctx, userID)
}

// CheckLimit evaluates current usage against the plan limit.
func (s *quotaService) CheckLimit(ctx context.Context, userID string, action domain.Action) (*domain.QuotaDecision, error) {
	const op = "quota.check_limit"

	if userID == "" {
		return nil, domain.Invalid(op, "user ID is required")
	}
	action, err := domain.ParseAction(string(action))
	if err != nil {
		return nil, err
	}

	plan, err := s.ResolvePlan(ctx, userID)
	if err != nil {
		metrics.QuotaCheckFailed(string(action))
		return nil, err
	}

	resource := action.Resource()
	limit := s.plans.LimitFor(plan, resource)

	usage, err := s.ledger.CurrentUsage(ctx, userID, "")
	if err != nil {
		metrics.QuotaCheckFailed(string(action))
		return nil, domain.Unavailable(err, op, "could not evaluate quota")
	}

	decision := domain.NewQuotaDecision(action, plan, usage.Period, usage.Used(resource), limit)
	metrics.QuotaChecked(string(action), decision.Allowed)

	if !decision.Allowed {
		s.logger.Info("Quota exceeded",
			"user_id", userID,
			"plan", plan,
			"action", action,
			"used", decision.Current,
			"limit", limit,
		)
	}
	return decision, nil
}

// Consume performs an increment-if-below-limit write.
func (s *quotaService) Consume(ctx context.Context, userID string, action domain.Action, count int64) (*domain.QuotaDecision, error) {
	const op = "quota.consume"

	if userID == "" {
		return nil, domain.Invalid(op, "user ID is required")
	}
	action, err := domain.ParseAction(string(action))
	if err != nil {
		return nil, err
	}

	plan, err := s.ResolvePlan(ctx, userID)
	if err != nil {
		return nil, err
	}

	resource := action.Resource()
	limit := s.plans.LimitFor(plan, resource)

	rec, applied, err := s.ledger.IncrementWithin(ctx, userID, action, count, limit)
	if err != nil {
		return nil, err
	}

	decision := domain.NewQuotaDecision(action, plan, rec.Period, rec.Used(resource), limit)
	decision.Allowed = applied
	if !applied {
		s.logger.Info("Quota refused consumption",
			"user_id", userID,
			"plan", plan,
			"action", action,
			"count", count,
			"used", decision.Current,
			"limit", limit,
		)
	}
	return decision, nil
}

// Summary combines the current record with the user's plan limits.
func (s *quotaService) Summary(ctx context.Context, userID string) (*domain.UsageSummary, error) {
	const op = "quota.summary"

	if userID == "" {
		return nil, domain.Invalid(op, "user ID is required")
	}

	plan, err := s.ResolvePlan(ctx, userID)
	if err != nil {
		return nil, err
	}

	usage, err := s.ledger.CurrentUsage(ctx, userID, "")
	if err != nil {
		return nil, err
	}

	return domain.NewUsageSummary(usage, s.plans.Limits(plan)), nil
}

// Package domain contains core business types and interfaces.
//
// This file defines the subscription view read by quota evaluation. The
// subscription lifecycle itself is owned by billing.
package domain

import "time"

// SubscriptionStatus represents the possible states of a user's subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusInactive SubscriptionStatus = "inactive"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid   SubscriptionStatus = "unpaid"
)

// ParseSubscriptionStatus validates a status string.
func ParseSubscriptionStatus(s string) (SubscriptionStatus, error) {
	switch st := SubscriptionStatus(s); st {
	case SubscriptionStatusInactive, SubscriptionStatusTrialing, SubscriptionStatusActive,
		SubscriptionStatusPastDue, SubscriptionStatusCanceled, SubscriptionStatusUnpaid:
		return st, nil
	}
	return "", Invalid("subscription.status", "unknown subscription status "+s)
}

// Subscription associates a user with a plan.
type Subscription struct {
	UserID           string             `json:"user_id"`
	Plan             PlanID             `json:"plan"`
	Status           SubscriptionStatus `json:"status"`
	CurrentPeriodEnd *time.Time         `json:"current_period_end,omitempty"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// Entitled reports whether the subscription still grants its plan.
// Past-due subscriptions keep their plan while billing retries.
func (s *Subscription) Entitled() bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue:
		return true
	}
	return false
}

// EffectivePlan returns the plan quota is evaluated against: the subscribed
// plan while entitled, otherwise the given default tier.
func (s *Subscription) EffectivePlan(defaultPlan PlanID) PlanID {
	if s == nil || !s.Entitled() {
		return defaultPlan
	}
	return s.Plan
}

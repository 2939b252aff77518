// Package domain contains core business types and interfaces.
//
// This file defines the result types of quota evaluation.
package domain

import "time"

// QuotaDecision is the answer to "may this user perform this action now?".
type QuotaDecision struct {
	Allowed   bool      `json:"allowed"`
	Action    Action    `json:"action"`
	Resource  Resource  `json:"resource"`
	Plan      PlanID    `json:"plan"`
	Limit     int64     `json:"limit"`
	Current   int64     `json:"current"`
	Remaining int64     `json:"remaining"`
	Unlimited bool      `json:"unlimited"`
	Period    Period    `json:"period"`
	ResetsAt  time.Time `json:"resets_at"`
}

// NewQuotaDecision evaluates current against limit. A user sitting exactly
// at the limit is denied.
func NewQuotaDecision(action Action, plan PlanID, period Period, current, limit int64) *QuotaDecision {
	return &QuotaDecision{
		Allowed:   current < limit,
		Action:    action,
		Resource:  action.Resource(),
		Plan:      plan,
		Limit:     limit,
		Current:   current,
		Remaining: remaining(current, limit),
		Unlimited: limit >= Unlimited,
		Period:    period,
		ResetsAt:  period.End(),
	}
}

// Err returns nil when allowed, otherwise a QuotaExceeded error.
func (d *QuotaDecision) Err(op string) error {
	if d.Allowed {
		return nil
	}
	return QuotaExceeded(op, d.Plan, d.Resource, d.Current, d.Limit)
}

// ResourceUsage is consumption of one resource against its limit.
type ResourceUsage struct {
	Limit     int64 `json:"limit"`
	Used      int64 `json:"used"`
	Remaining int64 `json:"remaining"`
	Unlimited bool  `json:"unlimited"`
}

// UsageSummary is a user's full quota state for the current period.
type UsageSummary struct {
	UserID    string                     `json:"user_id"`
	Plan      PlanID                     `json:"plan"`
	Period    Period                     `json:"period"`
	ResetsAt  time.Time                  `json:"resets_at"`
	Resources map[Resource]ResourceUsage `json:"resources"`
	Record    UsageRecord                `json:"record"`
}

// NewUsageSummary combines a record with plan limits.
func NewUsageSummary(record *UsageRecord, limits PlanLimits) *UsageSummary {
	s := &UsageSummary{
		UserID:    record.UserID,
		Plan:      limits.Plan,
		Period:    record.Period,
		ResetsAt:  record.Period.End(),
		Resources: make(map[Resource]ResourceUsage, len(Resources)),
		Record:    *record,
	}
	for _, r := range Resources {
		limit := limits.Limit(r)
		used := record.Used(r)
		s.Resources[r] = ResourceUsage{
			Limit:     limit,
			Used:      used,
			Remaining: remaining(used, limit),
			Unlimited: limit >= Unlimited,
		}
	}
	return s
}

func remaining(used, limit int64) int64 {
	if used >= limit {
		return 0
	}
	return limit - used
}

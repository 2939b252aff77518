// Package domain contains core business types and interfaces.
//
// This file defines the plan registry: the single source of truth for the
// monthly limits of each subscription tier.
package domain

import (
	"fmt"
	"math"
	"sort"
)

// PlanID identifies a subscription tier.
type PlanID string

const (
	PlanTrial   PlanID = "trial"
	PlanStarter PlanID = "starter"
	PlanGrowth  PlanID = "growth"
	PlanAgency  PlanID = "agency"
)

// PlanIDs lists every tier, most restrictive first.
var PlanIDs = []PlanID{PlanTrial, PlanStarter, PlanGrowth, PlanAgency}

// Unlimited is the sentinel limit for resources a plan does not cap.
// It still obeys current < limit, and fits a 32-bit column.
const Unlimited int64 = math.MaxInt32

// PlanLimits holds the per-period maximum of each resource for a tier.
type PlanLimits struct {
	Plan          PlanID `json:"plan"`
	Posts         int64  `json:"posts"`
	Topics        int64  `json:"topics"`
	VoiceAnalyses int64  `json:"voice_analyses"`
}

// Limit returns the maximum for a resource.
func (l PlanLimits) Limit(r Resource) int64 {
	switch r {
	case ResourcePosts:
		return l.Posts
	case ResourceTopics:
		return l.Topics
	case ResourceVoiceAnalyses:
		return l.VoiceAnalyses
	}
	panic(fmt.Sprintf("domain: no limit for resource %q", r))
}

// DefaultPlanLimits is the authoritative limits table.
var DefaultPlanLimits = []PlanLimits{
	{Plan: PlanTrial, Posts: 5, Topics: 10, VoiceAnalyses: 1},
	{Plan: PlanStarter, Posts: 30, Topics: 50, VoiceAnalyses: 3},
	{Plan: PlanGrowth, Posts: 100, Topics: 200, VoiceAnalyses: 10},
	{Plan: PlanAgency, Posts: Unlimited, Topics: Unlimited, VoiceAnalyses: 50},
}

// PlanRegistry maps plan identifiers to limits. It is immutable once built.
type PlanRegistry struct {
	defaultPlan PlanID
	limits      map[PlanID]PlanLimits
}

// NewPlanRegistry builds a registry and validates it: every known plan,
// including the default, must have exactly one entry with non-negative limits.
func NewPlanRegistry(defaultPlan PlanID, limits ...PlanLimits) (*PlanRegistry, error) {
	const op = "plan.registry"

	r := &PlanRegistry{
		defaultPlan: defaultPlan,
		limits:      make(map[PlanID]PlanLimits, len(limits)),
	}

	for _, l := range limits {
		if _, dup := r.limits[l.Plan]; dup {
			return nil, Invalid(op, fmt.Sprintf("plan %q defined more than once", l.Plan))
		}
		for _, res := range Resources {
			if l.Limit(res) < 0 {
				return nil, Invalid(op, fmt.Sprintf("plan %q has a negative %s limit", l.Plan, res))
			}
		}
		r.limits[l.Plan] = l
	}

	for _, id := range PlanIDs {
		if _, ok := r.limits[id]; !ok {
			return nil, Invalid(op, fmt.Sprintf("plan %q has no limits defined", id))
		}
	}
	if _, ok := r.limits[defaultPlan]; !ok {
		return nil, Invalid(op, fmt.Sprintf("default plan %q has no limits defined", defaultPlan))
	}

	return r, nil
}

// DefaultPlanRegistry returns the registry built from DefaultPlanLimits with
// the trial tier as default.
func DefaultPlanRegistry() *PlanRegistry {
	r, err := NewPlanRegistry(PlanTrial, DefaultPlanLimits...)
	if err != nil {
		panic(err)
	}
	return r
}

// Default returns the tier used for unknown plans and users without a subscription.
func (r *PlanRegistry) Default() PlanID {
	return r.defaultPlan
}

// Known reports whether a plan has its own entry.
func (r *PlanRegistry) Known(plan PlanID) bool {
	_, ok := r.limits[plan]
	return ok
}

// Resolve returns plan if known, otherwise the default tier.
func (r *PlanRegistry) Resolve(plan PlanID) PlanID {
	if r.Known(plan) {
		return plan
	}
	return r.defaultPlan
}

// Limits returns the limits for a plan, falling back to the default tier.
func (r *PlanRegistry) Limits(plan PlanID) PlanLimits {
	return r.limits[r.Resolve(plan)]
}

// LimitFor returns the per-period maximum of resource under plan.
// Unknown plans get the default tier's limit, never an unlimited one.
func (r *PlanRegistry) LimitFor(plan PlanID, resource Resource) int64 {
	return r.Limits(plan).Limit(resource)
}

// Plans returns every entry ordered from most to least restrictive posts budget.
func (r *PlanRegistry) Plans() []PlanLimits {
	out := make([]PlanLimits, 0, len(r.limits))
	for _, l := range r.limits {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Posts != out[j].Posts {
			return out[i].Posts < out[j].Posts
		}
		return out[i].Plan < out[j].Plan
	})
	return out
}

// Package domain contains core business types and interfaces.
//
// This file defines the metered actions, the counters they feed and the
// per-period usage record kept by the usage ledger.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Period identifies a calendar month in UTC, formatted YYYY-MM.
type Period string

const periodLayout = "2006-01"

// PeriodOf returns the period containing t. All periods are computed in UTC
// so the check and the increment for one action always agree on the month.
func PeriodOf(t time.Time) Period {
	return Period(t.UTC().Format(periodLayout))
}

// ParsePeriod validates a YYYY-MM token.
func ParsePeriod(s string) (Period, error) {
	const op = "period.parse"

	s = strings.TrimSpace(s)
	t, err := time.Parse(periodLayout, s)
	if err != nil || t.Format(periodLayout) != s {
		return "", Invalid(op, fmt.Sprintf("period %q must be formatted YYYY-MM", s))
	}
	return Period(s), nil
}

// Start returns the first instant of the period.
func (p Period) Start() time.Time {
	t, err := time.Parse(periodLayout, string(p))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// End returns the first instant of the following period.
func (p Period) End() time.Time {
	start := p.Start()
	if start.IsZero() {
		return start
	}
	return start.AddDate(0, 1, 0)
}

// Next returns the following period.
func (p Period) Next() Period {
	return PeriodOf(p.End())
}

func (p Period) String() string {
	return string(p)
}

// Action is a metered action a user can perform.
type Action string

const (
	ActionGeneratePost   Action = "generate_post"
	ActionRegeneratePost Action = "regenerate_post"
	ActionClassifyTopic  Action = "classify_topic"
	ActionResearchTopic  Action = "research_topic"
	ActionAnalyzeVoice   Action = "analyze_voice"
)

// Actions lists every metered action.
var Actions = []Action{
	ActionGeneratePost,
	ActionRegeneratePost,
	ActionClassifyTopic,
	ActionResearchTopic,
	ActionAnalyzeVoice,
}

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Actions {
		if a == known {
			return a, nil
		}
	}
	return "", Invalid("action.parse", fmt.Sprintf("unknown action %q", s))
}

// Counter returns the usage counter an action increments.
func (a Action) Counter() Counter {
	switch a {
	case ActionGeneratePost:
		return CounterPostsGenerated
	case ActionRegeneratePost:
		return CounterRegenerationsUsed
	case ActionClassifyTopic, ActionResearchTopic:
		return CounterTopicsClassified
	case ActionAnalyzeVoice:
		return CounterVoiceAnalyses
	}
	panic(fmt.Sprintf("domain: no counter for action %q", a))
}

// Resource returns the budget an action is checked against.
func (a Action) Resource() Resource {
	return a.Counter().Resource()
}

// Counter names a stored usage column.
type Counter string

const (
	CounterPostsGenerated    Counter = "posts_generated"
	CounterRegenerationsUsed Counter = "regenerations_used"
	CounterTopicsClassified  Counter = "topics_classified"
	CounterVoiceAnalyses     Counter = "voice_analyses"
)

// Counters lists every stored usage column.
var Counters = []Counter{
	CounterPostsGenerated,
	CounterRegenerationsUsed,
	CounterTopicsClassified,
	CounterVoiceAnalyses,
}

// Resource returns the budget the counter draws from.
func (c Counter) Resource() Resource {
	switch c {
	case CounterPostsGenerated, CounterRegenerationsUsed:
		return ResourcePosts
	case CounterTopicsClassified:
		return ResourceTopics
	case CounterVoiceAnalyses:
		return ResourceVoiceAnalyses
	}
	panic(fmt.Sprintf("domain: no resource for counter %q", c))
}

// Resource is a plan budget.
type Resource string

const (
	// ResourcePosts pools generations and regenerations: regenerating a
	// draft spends the same budget as generating one.
	ResourcePosts         Resource = "posts"
	ResourceTopics        Resource = "topics"
	ResourceVoiceAnalyses Resource = "voice_analyses"
)

// Resources lists every plan budget.
var Resources = []Resource{ResourcePosts, ResourceTopics, ResourceVoiceAnalyses}

// Counters returns the counters summed against the resource's limit.
func (r Resource) Counters() []Counter {
	switch r {
	case ResourcePosts:
		return []Counter{CounterPostsGenerated, CounterRegenerationsUsed}
	case ResourceTopics:
		return []Counter{CounterTopicsClassified}
	case ResourceVoiceAnalyses:
		return []Counter{CounterVoiceAnalyses}
	}
	panic(fmt.Sprintf("domain: no counters for resource %q", r))
}

// Label returns a human-readable plural name.
func (r Resource) Label() string {
	switch r {
	case ResourcePosts:
		return "posts"
	case ResourceTopics:
		return "topic classifications"
	case ResourceVoiceAnalyses:
		return "voice analyses"
	}
	return string(r)
}

// UsageRecord is one user's consumption for one period.
type UsageRecord struct {
	UserID            string    `json:"user_id"`
	Period            Period    `json:"period"`
	PostsGenerated    int64     `json:"posts_generated"`
	RegenerationsUsed int64     `json:"regenerations_used"`
	TopicsClassified  int64     `json:"topics_classified"`
	VoiceAnalyses     int64     `json:"voice_analyses"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// EmptyUsage returns the all-zero record used when no row exists yet.
func EmptyUsage(userID string, period Period) *UsageRecord {
	return &UsageRecord{UserID: userID, Period: period}
}

// Count returns the value of a single counter.
func (u *UsageRecord) Count(c Counter) int64 {
	switch c {
	case CounterPostsGenerated:
		return u.PostsGenerated
	case CounterRegenerationsUsed:
		return u.RegenerationsUsed
	case CounterTopicsClassified:
		return u.TopicsClassified
	case CounterVoiceAnalyses:
		return u.VoiceAnalyses
	}
	return 0
}

// Add adds n to a single counter in memory. Stores use it to build the
// returned record; it is not a persistence path.
func (u *UsageRecord) Add(c Counter, n int64) {
	switch c {
	case CounterPostsGenerated:
		u.PostsGenerated += n
	case CounterRegenerationsUsed:
		u.RegenerationsUsed += n
	case CounterTopicsClassified:
		u.TopicsClassified += n
	case CounterVoiceAnalyses:
		u.VoiceAnalyses += n
	}
}

// Used returns consumption against a resource, summing pooled counters.
func (u *UsageRecord) Used(r Resource) int64 {
	var total int64
	for _, c := range r.Counters() {
		total += u.Count(c)
	}
	return total
}

// IsZero reports whether nothing has been recorded.
func (u *UsageRecord) IsZero() bool {
	for _, c := range Counters {
		if u.Count(c) != 0 {
			return false
		}
	}
	return true
}

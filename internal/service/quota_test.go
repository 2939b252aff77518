package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DukeRupert/ghostwriter/internal/domain"
	"github.com/DukeRupert/ghostwriter/internal/subscription"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingLookup simulates an unreachable subscription store.
type failingLookup struct{}

func (failingLookup) GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	return nil, errors.New("subscriptions: connection refused")
}

// hangingLookup blocks until the caller's context ends.
type hangingLookup struct{}

func (hangingLookup) GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type quotaFixture struct {
	quotas QuotaService
	ledger UsageLedger
	subs   *subscription.Static
}

func newQuotaFixture(t *testing.T, plans *domain.PlanRegistry) *quotaFixture {
	t.Helper()

	if plans == nil {
		plans = domain.DefaultPlanRegistry()
	}
	ledger, _ := newTestLedger(&clock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)})
	subs := subscription.NewStatic()
	return &quotaFixture{
		quotas: NewQuotaService(plans, subs, ledger, discardLogger()),
		ledger: ledger,
		subs:   subs,
	}
}

func (f *quotaFixture) subscribe(t *testing.T, userID string, plan domain.PlanID, status domain.SubscriptionStatus) {
	t.Helper()
	require.NoError(t, f.subs.Upsert(context.Background(), &domain.Subscription{
		UserID: userID, Plan: plan, Status: status,
	}))
}

func (f *quotaFixture) use(t *testing.T, userID string, action domain.Action, n int64) {
	t.Helper()
	_, err := f.ledger.Increment(context.Background(), userID, action, n)
	require.NoError(t, err)
}

func TestQuotaService_PooledPosts(t *testing.T) {
	limits := append([]domain.PlanLimits(nil), domain.DefaultPlanLimits...)
	limits[1] = domain.PlanLimits{Plan: domain.PlanStarter, Posts: 20, Topics: 50, VoiceAnalyses: 3}
	plans, err := domain.NewPlanRegistry(domain.PlanTrial, limits...)
	require.NoError(t, err)

	for _, next := range []domain.Action{domain.ActionGeneratePost, domain.ActionRegeneratePost} {
		t.Run(string(next), func(t *testing.T) {
			f := newQuotaFixture(t, plans)
			ctx := context.Background()
			f.subscribe(t, "user_1", domain.PlanStarter, domain.SubscriptionStatusActive)
			f.use(t, "user_1", domain.ActionGeneratePost, 15)
			f.use(t, "user_1", domain.ActionRegeneratePost, 4)

			d, err := f.quotas.CheckLimit(ctx, "user_1", domain.ActionGeneratePost)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			assert.Equal(t, int64(19), d.Current)
			assert.Equal(t, int64(20), d.Limit)
			assert.Equal(t, domain.PlanStarter, d.Plan)

			f.use(t, "user_1", next, 1)

			for _, action := range []domain.Action{domain.ActionGeneratePost, domain.ActionRegeneratePost} {
				d, err = f.quotas.CheckLimit(ctx, "user_1", action)
				require.NoError(t, err)
				assert.False(t, d.Allowed, action)
				assert.Equal(t, int64(20), d.Current, action)
			}
		})
	}
}

func TestQuotaService_NoSubscriptionGetsDefaultTier(t *testing.T) {
	f := newQuotaFixture(t, nil)
	f.use(t, "user_1", domain.ActionGeneratePost, 5)

	d, err := f.quotas.CheckLimit(context.Background(), "user_1", domain.ActionGeneratePost)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, domain.PlanTrial, d.Plan)
	assert.Equal(t, int64(5), d.Limit)
}

func TestQuotaService_UnknownPlanGetsDefaultTier(t *testing.T) {
	f := newQuotaFixture(t, nil)
	f.subscribe(t, "user_1", "legacy-unlimited", domain.SubscriptionStatusActive)
	f.use(t, "user_1", domain.ActionAnalyzeVoice, 1)

	d, err := f.quotas.CheckLimit(context.Background(), "user_1", domain.ActionAnalyzeVoice)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, domain.PlanTrial, d.Plan)
	assert.Equal(t, int64(1), d.Limit)
}

func TestQuotaService_ResolvePlanByStatus(t *testing.T) {
	f := newQuotaFixture(t, nil)
	ctx := context.Background()

	f.subscribe(t, "past_due", domain.PlanGrowth, domain.SubscriptionStatusPastDue)
	f.subscribe(t, "canceled", domain.PlanGrowth, domain.SubscriptionStatusCanceled)

	plan, err := f.quotas.ResolvePlan(ctx, "past_due")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanGrowth, plan)

	plan, err = f.quotas.ResolvePlan(ctx, "canceled")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanTrial, plan)
}

func TestQuotaService_LookupFailureIsDistinguishable(t *testing.T) {
	ledger, _ := newTestLedger(&clock{now: time.Now()})
	quotas := NewQuotaService(domain.DefaultPlanRegistry(), failingLookup{}, ledger, discardLogger())
	ctx := context.Background()

	d, err := quotas.CheckLimit(ctx, "user_1", domain.ActionGeneratePost)
	require.Error(t, err)
	assert.Nil(t, d)
	assert.True(t, domain.IsUnavailable(err))

	_, err = quotas.Consume(ctx, "user_1", domain.ActionGeneratePost, 1)
	assert.True(t, domain.IsUnavailable(err))

	_, err = quotas.Summary(ctx, "user_1")
	assert.True(t, domain.IsUnavailable(err))
}

func TestQuotaService_LookupTimeout(t *testing.T) {
	ledger, _ := newTestLedger(&clock{now: time.Now()})
	quotas := NewQuotaService(domain.DefaultPlanRegistry(), hangingLookup{}, ledger, discardLogger(),
		WithLookupTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := quotas.CheckLimit(context.Background(), "user_1", domain.ActionGeneratePost)

	assert.True(t, domain.IsUnavailable(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestQuotaService_LedgerFailureIsUnavailable(t *testing.T) {
	ledger := NewUsageLedger(brokenStore{err: errors.New("timeout")}, discardLogger())
	quotas := NewQuotaService(domain.DefaultPlanRegistry(), subscription.NewStatic(), ledger, discardLogger())

	_, err := quotas.CheckLimit(context.Background(), "user_1", domain.ActionClassifyTopic)
	assert.True(t, domain.IsUnavailable(err))
}

func TestQuotaService_StrictBoundaryEveryResource(t *testing.T) {
	plans := domain.DefaultPlanRegistry()

	for _, action := range domain.Actions {
		limit := plans.LimitFor(domain.PlanStarter, action.Resource())

		t.Run(string(action), func(t *testing.T) {
			f := newQuotaFixture(t, plans)
			ctx := context.Background()
			f.subscribe(t, "user_1", domain.PlanStarter, domain.SubscriptionStatusActive)

			f.use(t, "user_1", action, limit-1)
			d, err := f.quotas.CheckLimit(ctx, "user_1", action)
			require.NoError(t, err)
			assert.True(t, d.Allowed, "limit-1")
			assert.Equal(t, limit-1, d.Current)

			f.use(t, "user_1", action, 1)
			d, err = f.quotas.CheckLimit(ctx, "user_1", action)
			require.NoError(t, err)
			assert.False(t, d.Allowed, "limit")
			assert.Equal(t, limit, d.Current)
		})
	}
}

func TestQuotaService_CheckLimitValidates(t *testing.T) {
	f := newQuotaFixture(t, nil)
	ctx := context.Background()

	_, err := f.quotas.CheckLimit(ctx, "", domain.ActionGeneratePost)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

	_, err = f.quotas.CheckLimit(ctx, "user_1", "publish_post")
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestQuotaService_NormalizesActionNames(t *testing.T) {
	f := newQuotaFixture(t, nil)
	ctx := context.Background()
	f.use(t, "user_1", domain.ActionGeneratePost, 2)

	d, err := f.quotas.CheckLimit(ctx, "user_1", "Generate_Post")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionGeneratePost, d.Action)
	assert.Equal(t, int64(2), d.Current)

	d, err = f.quotas.Consume(ctx, "user_1", " REGENERATE_POST ", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, domain.ActionRegeneratePost, d.Action)
	assert.Equal(t, int64(3), d.Current)
}

func TestQuotaService_SoftEnforcementOvershootIsBounded(t *testing.T) {
	f := newQuotaFixture(t, nil)
	ctx := context.Background()
	const racers = 20
	limit := domain.DefaultPlanRegistry().LimitFor(domain.PlanTrial, domain.ResourcePosts)

	// Every racer checks before any of them records, so all pass the check.
	var checked sync.WaitGroup
	checked.Add(racers)
	release := make(chan struct{})

	var done sync.WaitGroup
	var admitted atomic.Int64
	for i := 0; i < racers; i++ {
		done.Add(1)
		go func() {
			defer done.Done()
			d, err := f.quotas.CheckLimit(ctx, "user_1", domain.ActionGeneratePost)
			checked.Done()
			<-release
			if err != nil || !d.Allowed {
				return
			}
			admitted.Add(1)
			_, err = f.ledger.Increment(ctx, "user_1", domain.ActionGeneratePost, 1)
			assert.NoError(t, err)
		}()
	}
	checked.Wait()
	close(release)
	done.Wait()

	rec, err := f.ledger.CurrentUsage(ctx, "user_1", "")
	require.NoError(t, err)
	assert.Equal(t, admitted.Load(), rec.PostsGenerated)
	assert.LessOrEqual(t, rec.PostsGenerated, limit-1+racers)

	// Once the overshoot lands, every further check is denied.
	d, err := f.quotas.CheckLimit(ctx, "user_1", domain.ActionGeneratePost)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestQuotaService_ConsumeNeverExceeds(t *testing.T) {
	f := newQuotaFixture(t, nil)
	ctx := context.Background()
	const racers = 30
	limit := domain.DefaultPlanRegistry().LimitFor(domain.PlanTrial, domain.ResourcePosts)

	var wg sync.WaitGroup
	var applied atomic.Int64
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			action := domain.ActionGeneratePost
			if i%3 == 0 {
				action = domain.ActionRegeneratePost
			}
			d, err := f.quotas.Consume(ctx, "user_1", action, 1)
			assert.NoError(t, err)
			if err == nil && d.Allowed {
				applied.Add(1)
			}
		}(i)
	}
	wg.Wait()

	rec, err := f.ledger.CurrentUsage(ctx, "user_1", "")
	require.NoError(t, err)
	assert.Equal(t, limit, rec.Used(domain.ResourcePosts))
	assert.Equal(t, limit, applied.Load())
}

func TestQuotaService_ConsumeReportsRefusal(t *testing.T) {
	f := newQuotaFixture(t, nil)
	ctx := context.Background()
	f.use(t, "user_1", domain.ActionClassifyTopic, 8)

	d, err := f.quotas.Consume(ctx, "user_1", domain.ActionResearchTopic, 3)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(8), d.Current)
	assert.Equal(t, int64(10), d.Limit)
	assert.Error(t, d.Err("quota.consume"))

	d, err = f.quotas.Consume(ctx, "user_1", domain.ActionResearchTopic, 2)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(10), d.Current)
	assert.Equal(t, int64(0), d.Remaining)
}

func TestQuotaService_Summary(t *testing.T) {
	f := newQuotaFixture(t, nil)
	f.subscribe(t, "user_1", domain.PlanAgency, domain.SubscriptionStatusActive)
	f.use(t, "user_1", domain.ActionGeneratePost, 250)
	f.use(t, "user_1", domain.ActionAnalyzeVoice, 7)

	s, err := f.quotas.Summary(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanAgency, s.Plan)
	assert.Equal(t, domain.Period("2026-03"), s.Period)
	assert.True(t, s.Resources[domain.ResourcePosts].Unlimited)
	assert.Equal(t, int64(250), s.Resources[domain.ResourcePosts].Used)
	assert.Equal(t, domain.ResourceUsage{Limit: 50, Used: 7, Remaining: 43}, s.Resources[domain.ResourceVoiceAnalyses])
}

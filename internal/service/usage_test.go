package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DukeRupert/ghostwriter/internal/domain"
	"github.com/DukeRupert/ghostwriter/internal/usagestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// brokenStore fails every call, as an unreachable backend would.
type brokenStore struct {
	usagestore.Store
	err error
}

func (s brokenStore) Get(ctx context.Context, userID string, period domain.Period) (*domain.UsageRecord, error) {
	return nil, s.err
}

func (s brokenStore) Increment(ctx context.Context, userID string, period domain.Period, counter domain.Counter, n int64, at time.Time) (*domain.UsageRecord, error) {
	return nil, s.err
}

func (s brokenStore) List(ctx context.Context, userID string, limit int) ([]domain.UsageRecord, error) {
	return nil, s.err
}

// slowStore blocks until the context is done.
type slowStore struct {
	usagestore.Store
}

func (slowStore) Get(ctx context.Context, userID string, period domain.Period) (*domain.UsageRecord, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestLedger(c *clock) (UsageLedger, *usagestore.MemoryStore) {
	store := usagestore.NewMemoryStore()
	return NewUsageLedger(store, discardLogger(), WithClock(c.Now), WithBackendName("memory")), store
}

func TestUsageLedger_CurrentUsageZeroWhenAbsent(t *testing.T) {
	ledger, _ := newTestLedger(&clock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)})

	rec, err := ledger.CurrentUsage(context.Background(), "user_1", "")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "user_1", rec.UserID)
	assert.Equal(t, domain.Period("2026-03"), rec.Period)
	assert.True(t, rec.IsZero())
}

func TestUsageLedger_CurrentUsageValidates(t *testing.T) {
	ledger, _ := newTestLedger(&clock{now: time.Now()})

	_, err := ledger.CurrentUsage(context.Background(), "", "")
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

	_, err = ledger.CurrentUsage(context.Background(), "user_1", "2026-3")
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestUsageLedger_IncrementUsesClockPeriod(t *testing.T) {
	c := &clock{now: time.Date(2026, 1, 31, 23, 59, 59, 0, time.UTC)}
	ledger, store := newTestLedger(c)
	ctx := context.Background()

	rec, err := ledger.Increment(ctx, "user_1", domain.ActionGeneratePost, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.Period("2026-01"), rec.Period)
	assert.Equal(t, int64(2), rec.PostsGenerated)

	c.Set(time.Date(2026, 2, 1, 0, 0, 1, 0, time.UTC))
	rec, err = ledger.Increment(ctx, "user_1", domain.ActionGeneratePost, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.Period("2026-02"), rec.Period)
	assert.Equal(t, int64(1), rec.PostsGenerated)

	jan, err := store.Get(ctx, "user_1", "2026-01")
	require.NoError(t, err)
	assert.Equal(t, int64(2), jan.PostsGenerated)
}

func TestUsageLedger_PeriodRolloverIsolation(t *testing.T) {
	c := &clock{now: time.Date(2025, 1, 20, 12, 0, 0, 0, time.UTC)}
	ledger, _ := newTestLedger(c)
	ctx := context.Background()

	_, err := ledger.Increment(ctx, "user_1", domain.ActionGeneratePost, 20)
	require.NoError(t, err)

	feb, err := ledger.CurrentUsage(ctx, "user_1", "2025-02")
	require.NoError(t, err)
	assert.True(t, feb.IsZero())

	jan, err := ledger.CurrentUsage(ctx, "user_1", "2025-01")
	require.NoError(t, err)
	assert.Equal(t, int64(20), jan.PostsGenerated)
}

func TestUsageLedger_ConcurrentIncrementsOnColdPeriod(t *testing.T) {
	ledger, _ := newTestLedger(&clock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)})
	ctx := context.Background()
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Increment(ctx, "user_1", domain.ActionGeneratePost, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := ledger.CurrentUsage(ctx, "user_1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(n), rec.PostsGenerated)
}

func TestUsageLedger_IncrementValidates(t *testing.T) {
	ledger, _ := newTestLedger(&clock{now: time.Now()})
	ctx := context.Background()

	tests := []struct {
		name   string
		user   string
		action domain.Action
		count  int64
	}{
		{"missing user", "", domain.ActionGeneratePost, 1},
		{"unknown action", "user_1", "publish_post", 1},
		{"zero count", "user_1", domain.ActionGeneratePost, 0},
		{"negative count", "user_1", domain.ActionGeneratePost, -3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.Increment(ctx, tt.user, tt.action, tt.count)
			assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

			_, _, err = ledger.IncrementWithin(ctx, tt.user, tt.action, tt.count, 5)
			assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
		})
	}
}

func TestUsageLedger_IncrementNormalizesAction(t *testing.T) {
	ledger, _ := newTestLedger(&clock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)})
	ctx := context.Background()

	rec, err := ledger.Increment(ctx, "user_1", "Generate_Post", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.PostsGenerated)

	rec, applied, err := ledger.IncrementWithin(ctx, "user_1", "  ANALYZE_VOICE", 1, 1)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(1), rec.VoiceAnalyses)
}

func TestUsageLedger_StoreFailureIsUnavailable(t *testing.T) {
	cause := errors.New("connection reset by peer")
	ledger := NewUsageLedger(brokenStore{err: cause}, discardLogger())
	ctx := context.Background()

	_, err := ledger.CurrentUsage(ctx, "user_1", "")
	assert.True(t, domain.IsUnavailable(err))
	assert.ErrorIs(t, err, cause)

	_, err = ledger.Increment(ctx, "user_1", domain.ActionAnalyzeVoice, 1)
	assert.True(t, domain.IsUnavailable(err))

	_, err = ledger.History(ctx, "user_1", 3)
	assert.True(t, domain.IsUnavailable(err))
}

func TestUsageLedger_StoreTimeout(t *testing.T) {
	ledger := NewUsageLedger(slowStore{}, discardLogger(), WithStoreTimeout(10*time.Millisecond))

	_, err := ledger.CurrentUsage(context.Background(), "user_1", "")
	require.Error(t, err)
	assert.True(t, domain.IsUnavailable(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUsageLedger_History(t *testing.T) {
	c := &clock{now: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)}
	ledger, _ := newTestLedger(c)
	ctx := context.Background()

	for _, month := range []time.Month{1, 2, 3} {
		c.Set(time.Date(2026, month, 10, 0, 0, 0, 0, time.UTC))
		_, err := ledger.Increment(ctx, "user_1", domain.ActionClassifyTopic, int64(month))
		require.NoError(t, err)
	}

	records, err := ledger.History(ctx, "user_1", 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, domain.Period("2026-03"), records[0].Period)
	assert.Equal(t, domain.Period("2026-02"), records[1].Period)

	empty, err := ledger.History(ctx, "user_2", 5)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	_, err = ledger.History(ctx, "user_1", -1)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DukeRupert/ghostwriter/internal/auth"
	"github.com/DukeRupert/ghostwriter/internal/domain"
	"github.com/DukeRupert/ghostwriter/internal/service"
	"github.com/DukeRupert/ghostwriter/internal/subscription"
	"github.com/DukeRupert/ghostwriter/internal/usagestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type testEnv struct {
	mux    *http.ServeMux
	ledger service.UsageLedger
	quotas service.QuotaService
	subs   *subscription.Static
}

// failingLookup simulates an unreachable subscription store.
type failingLookup struct{}

func (failingLookup) GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	return nil, errors.New("connection refused")
}

// headerUser stands in for the auth middleware stack.
func headerUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-User-ID")
		if id == "" {
			ErrorResponse(w, r, discardLogger(), domain.Unauthorized("test", "Authentication required"))
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.SetUserID(r.Context(), id)))
	})
}

func newTestEnv(t *testing.T, strict bool, lookup subscription.Lookup) *testEnv {
	t.Helper()

	subs := subscription.NewStatic()
	if lookup == nil {
		lookup = subs
	}

	ledger := service.NewUsageLedger(usagestore.NewMemoryStore(), discardLogger(),
		service.WithClock(func() time.Time { return fixedNow }),
		service.WithBackendName("memory"),
	)
	quotas := service.NewQuotaService(domain.DefaultPlanRegistry(), lookup, ledger, discardLogger())

	mux := http.NewServeMux()
	NewUsageHandler(quotas, ledger, strict, discardLogger()).RegisterRoutes(mux, headerUser)

	return &testEnv{mux: mux, ledger: ledger, quotas: quotas, subs: subs}
}

func (e *testEnv) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seed(t *testing.T, userID string, action domain.Action, n int64) {
	t.Helper()
	_, err := e.ledger.Increment(context.Background(), userID, action, n)
	require.NoError(t, err)
}

func TestUsageHandler_RequiresUser(t *testing.T) {
	env := newTestEnv(t, false, nil)

	rec := env.do(t, "GET", "/api/usage", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUsageHandler_Summary(t *testing.T) {
	env := newTestEnv(t, false, nil)
	require.NoError(t, env.subs.Upsert(context.Background(), &domain.Subscription{
		UserID: "user_1", Plan: domain.PlanStarter, Status: domain.SubscriptionStatusActive,
	}))
	env.seed(t, "user_1", domain.ActionGeneratePost, 15)
	env.seed(t, "user_1", domain.ActionRegeneratePost, 4)

	rec := env.do(t, "GET", "/api/usage", "user_1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var summary domain.UsageSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, domain.PlanStarter, summary.Plan)
	assert.Equal(t, domain.Period("2026-03"), summary.Period)
	assert.Equal(t, domain.ResourceUsage{Limit: 30, Used: 19, Remaining: 11}, summary.Resources[domain.ResourcePosts])
}

func TestUsageHandler_Period(t *testing.T) {
	env := newTestEnv(t, false, nil)
	env.seed(t, "user_1", domain.ActionAnalyzeVoice, 1)

	t.Run("current period", func(t *testing.T) {
		rec := env.do(t, "GET", "/api/usage/2026-03", "user_1", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var got domain.UsageRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, int64(1), got.VoiceAnalyses)
	})

	t.Run("empty period is zeroed", func(t *testing.T) {
		rec := env.do(t, "GET", "/api/usage/2025-11", "user_1", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var got domain.UsageRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, domain.Period("2025-11"), got.Period)
		assert.True(t, got.IsZero())
	})

	t.Run("malformed period", func(t *testing.T) {
		rec := env.do(t, "GET", "/api/usage/March", "user_1", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUsageHandler_History(t *testing.T) {
	env := newTestEnv(t, false, nil)
	env.seed(t, "user_1", domain.ActionClassifyTopic, 2)

	rec := env.do(t, "GET", "/api/usage/history?limit=3", "user_1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Records, 1)
	assert.Equal(t, int64(2), body.Records[0].TopicsClassified)

	for _, bad := range []string{"0", "25", "x"} {
		rec := env.do(t, "GET", "/api/usage/history?limit="+bad, "user_1", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestUsageHandler_Check(t *testing.T) {
	env := newTestEnv(t, false, nil)
	env.seed(t, "user_1", domain.ActionGeneratePost, 5)

	t.Run("denied is still 200", func(t *testing.T) {
		rec := env.do(t, "GET", "/api/quota/regenerate_post", "user_1", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var d domain.QuotaDecision
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
		assert.False(t, d.Allowed)
		assert.Equal(t, int64(5), d.Limit)
		assert.Equal(t, int64(5), d.Current)
		assert.Equal(t, domain.PlanTrial, d.Plan)
	})

	t.Run("other resource unaffected", func(t *testing.T) {
		rec := env.do(t, "GET", "/api/quota/classify_topic", "user_1", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var d domain.QuotaDecision
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
		assert.True(t, d.Allowed)
	})

	t.Run("unknown action", func(t *testing.T) {
		rec := env.do(t, "GET", "/api/quota/publish", "user_1", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUsageHandler_CheckFailsClosed(t *testing.T) {
	env := newTestEnv(t, false, failingLookup{})

	rec := env.do(t, "GET", "/api/quota/generate_post", "user_1", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestUsageHandler_RecordSoft(t *testing.T) {
	env := newTestEnv(t, false, nil)

	rec := env.do(t, "POST", "/api/usage/research_topic", "user_1", `{"count":3}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body RecordUsageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Record)
	assert.Equal(t, int64(3), body.Record.TopicsClassified)
	assert.Nil(t, body.Quota)

	// An empty body records one unit.
	rec = env.do(t, "POST", "/api/usage/research_topic", "user_1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(4), body.Record.TopicsClassified)

	// Soft mode records past the limit; enforcement happened before the work.
	rec = env.do(t, "POST", "/api/usage/research_topic", "user_1", `{"count":10}`)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUsageHandler_RecordRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, false, nil)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"zero count", "/api/usage/generate_post", `{"count":0}`},
		{"negative count", "/api/usage/generate_post", `{"count":-2}`},
		{"not json", "/api/usage/generate_post", `count=1`},
		{"unknown action", "/api/usage/publish_post", `{"count":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, "POST", tt.path, "user_1", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestUsageHandler_RecordStrict(t *testing.T) {
	env := newTestEnv(t, true, nil)
	env.seed(t, "user_1", domain.ActionGeneratePost, 4)

	rec := env.do(t, "POST", "/api/usage/regenerate_post", "user_1", `{"count":1}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body RecordUsageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Quota)
	assert.True(t, body.Quota.Allowed)
	assert.Equal(t, int64(5), body.Quota.Current)

	rec = env.do(t, "POST", "/api/usage/generate_post", "user_1", `{"count":1}`)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	errBody := decodeError(t, rec)
	require.NotNil(t, errBody.Error.Quota)
	assert.Equal(t, int64(5), errBody.Error.Quota.Current)

	usage, err := env.ledger.CurrentUsage(context.Background(), "user_1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(5), usage.Used(domain.ResourcePosts))
}

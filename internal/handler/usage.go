// Package handler contains HTTP handlers for the Ghostwriter usage API.
//
// This file implements the usage and quota endpoints read by the dashboard
// and written by the services that perform metered work.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/DukeRupert/ghostwriter/internal/auth"
	"github.com/DukeRupert/ghostwriter/internal/domain"
	"github.com/DukeRupert/ghostwriter/internal/service"
)

// maxHistory caps GET /api/usage/history.
const maxHistory = 24

// =============================================================================
// Request/Response Types
// =============================================================================

// RecordUsageRequest is the body of POST /api/usage/{action}.
type RecordUsageRequest struct {
	Count int64 `json:"count"`
}

// RecordUsageResponse reports what was recorded. Quota is set in strict
// enforcement mode, where recording is conditional on the plan limit.
type RecordUsageResponse struct {
	Record *domain.UsageRecord   `json:"record,omitempty"`
	Quota  *domain.QuotaDecision `json:"quota,omitempty"`
}

// HistoryResponse is the body of GET /api/usage/history.
type HistoryResponse struct {
	Records []domain.UsageRecord `json:"records"`
}

// =============================================================================
// Handler Configuration
// =============================================================================

// UsageHandler handles usage and quota HTTP requests.
type UsageHandler struct {
	quotas service.QuotaService
	ledger service.UsageLedger
	strict bool
	logger *slog.Logger
}

// NewUsageHandler creates a new UsageHandler. With strict set, recording
// goes through QuotaService.Consume and never exceeds the plan limit.
func NewUsageHandler(quotas service.QuotaService, ledger service.UsageLedger, strict bool, logger *slog.Logger) *UsageHandler {
	return &UsageHandler{
		quotas: quotas,
		ledger: ledger,
		strict: strict,
		logger: logger,
	}
}

// =============================================================================
// Route Registration
// =============================================================================

// RegisterRoutes registers all usage routes with the provided mux.
//
// All routes require authentication via the requireUser middleware.
//
// Routes:
// - GET  /api/usage              -> Summary
// - GET  /api/usage/history      -> History
// - GET  /api/usage/{period}     -> Period
// - GET  /api/quota/{action}     -> Check
// - POST /api/usage/{action}     -> Record
func (h *UsageHandler) RegisterRoutes(mux *http.ServeMux, requireUser func(http.Handler) http.Handler) {
	mux.Handle("GET /api/usage", requireUser(http.HandlerFunc(h.Summary)))
	mux.Handle("GET /api/usage/history", requireUser(http.HandlerFunc(h.History)))
	mux.Handle("GET /api/usage/{period}", requireUser(http.HandlerFunc(h.Period)))
	mux.Handle("GET /api/quota/{action}", requireUser(http.HandlerFunc(h.Check)))
	mux.Handle("POST /api/usage/{action}", requireUser(http.HandlerFunc(h.Record)))
}

// =============================================================================
// GET /api/usage - Current Period Summary
// =============================================================================

// Summary returns usage against every plan limit for the current period.
func (h *UsageHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.quotas.Summary(r.Context(), auth.GetUserIDFromRequest(r))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// =============================================================================
// GET /api/usage/history - Past Periods
// =============================================================================

// History returns past usage records, newest first.
func (h *UsageHandler) History(w http.ResponseWriter, r *http.Request) {
	const op = "usage.history"

	limit := 12
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistory {
			ErrorResponse(w, r, h.logger, domain.Invalid(op, "limit must be between 1 and "+strconv.Itoa(maxHistory)))
			return
		}
		limit = n
	}

	records, err := h.ledger.History(r.Context(), auth.GetUserIDFromRequest(r), limit)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Records: records})
}

// =============================================================================
// GET /api/usage/{period} - One Period
// =============================================================================

// Period returns the record for a YYYY-MM period, zeroed if nothing was recorded.
func (h *UsageHandler) Period(w http.ResponseWriter, r *http.Request) {
	period, err := domain.ParsePeriod(r.PathValue("period"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	rec, err := h.ledger.CurrentUsage(r.Context(), auth.GetUserIDFromRequest(r), period)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// =============================================================================
// GET /api/quota/{action} - Quota Check
// =============================================================================

// Check returns the quota decision for an action. A denial is still a 200:
// the decision is the payload.
func (h *UsageHandler) Check(w http.ResponseWriter, r *http.Request) {
	action, err := domain.ParseAction(r.PathValue("action"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	decision, err := h.quotas.CheckLimit(r.Context(), auth.GetUserIDFromRequest(r), action)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// =============================================================================
// POST /api/usage/{action} - Record Usage
// =============================================================================

// Record records consumption after the caller completed metered work.
func (h *UsageHandler) Record(w http.ResponseWriter, r *http.Request) {
	const op = "usage.record"

	action, err := domain.ParseAction(r.PathValue("action"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	req := RecordUsageRequest{Count: 1}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<10)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "request body must be JSON like {\"count\": 1}"))
		return
	}
	if req.Count < 1 {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "count must be at least 1"))
		return
	}

	userID := auth.GetUserIDFromRequest(r)

	if h.strict {
		decision, err := h.quotas.Consume(r.Context(), userID, action, req.Count)
		if err != nil {
			ErrorResponse(w, r, h.logger, err)
			return
		}
		if !decision.Allowed {
			QuotaExceededResponse(w, r, h.logger, op, decision)
			return
		}
		writeJSON(w, http.StatusOK, RecordUsageResponse{Quota: decision})
		return
	}

	rec, err := h.ledger.Increment(r.Context(), userID, action, req.Count)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, RecordUsageResponse{Record: rec})
}

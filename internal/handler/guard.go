package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/ghostwriter/internal/auth"
	"github.com/DukeRupert/ghostwriter/internal/domain"
	"github.com/DukeRupert/ghostwriter/internal/service"
)

// QuotaGuard wraps routes that perform metered work (post generation, topic
// research, voice analysis). cmd/server exposes only the usage API and mounts
// no such route; the guard is the boundary those handlers register behind.
//
// Before the route runs it checks the caller's quota and answers 402 when
// the plan limit is reached, or 503 when the quota cannot be evaluated
// (paid work fails closed). After a 2xx response it records one unit of
// the action. The check and the record are separate calls, so concurrent
// requests can overshoot a limit by at most the number of racers.
type QuotaGuard struct {
	quotas service.QuotaService
	ledger service.UsageLedger
	logger *slog.Logger
}

// NewQuotaGuard creates a new QuotaGuard.
func NewQuotaGuard(quotas service.QuotaService, ledger service.UsageLedger, logger *slog.Logger) *QuotaGuard {
	return &QuotaGuard{
		quotas: quotas,
		ledger: ledger,
		logger: logger,
	}
}

// Require returns middleware metering action. It must run after the
// middleware that resolves the caller's user ID.
func (g *QuotaGuard) Require(action domain.Action) func(http.Handler) http.Handler {
	const op = "quota.guard"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := auth.GetUserIDFromRequest(r)

			decision, err := g.quotas.CheckLimit(r.Context(), userID, action)
			if err != nil {
				ErrorResponse(w, r, g.logger, err)
				return
			}
			if !decision.Allowed {
				QuotaExceededResponse(w, r, g.logger, op, decision)
				return
			}

			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			if rw.status < 200 || rw.status >= 300 {
				return
			}

			// Record even if the client has disconnected. The ledger's store
			// timeout still bounds the write.
			ctx := context.WithoutCancel(r.Context())
			if _, err := g.ledger.Increment(ctx, userID, action, 1); err != nil {
				g.logger.Error("Failed to record metered action after success",
					"user_id", userID,
					"action", action,
					"error", err,
				)
			}
		})
	}
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Unwrap returns the underlying ResponseWriter for middleware compatibility
func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/ghostwriter/internal/auth"
	"github.com/DukeRupert/ghostwriter/internal/domain"
)

// JSONError is a typed response structure for API errors.
type JSONError struct {
	Error struct {
		Code    string                `json:"code"`
		Message string                `json:"message"`
		Quota   *domain.QuotaDecision `json:"quota,omitempty"`
	} `json:"error"`
}

// ErrorResponse writes a JSON error response, mapping domain error codes to
// HTTP status codes. Internal and unavailable errors get a generic message.
func ErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code := domain.ErrorCode(err)
	message := domain.ErrorMessage(err)
	op := domain.ErrorOp(err)

	status := ErrorCodeToHTTPStatus(code)

	logError(logger, r, err, code, op, status)

	var body JSONError
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

// QuotaExceededResponse writes a 402 carrying the denied decision, so the
// client can show "plan X allows Y per month" with the current counts.
func QuotaExceededResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, decision *domain.QuotaDecision) {
	err := decision.Err(op)
	logError(logger, r, err, domain.EPAYMENT, op, http.StatusPaymentRequired)

	var body JSONError
	body.Error.Code = domain.EPAYMENT
	body.Error.Message = domain.ErrorMessage(err)
	body.Error.Quota = decision
	writeJSON(w, http.StatusPaymentRequired, body)
}

// ErrorCodeToHTTPStatus maps domain error codes to HTTP status codes.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest // 400
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized // 401
	case domain.EPAYMENT:
		return http.StatusPaymentRequired // 402
	case domain.ENOTFOUND:
		return http.StatusNotFound // 404
	case domain.ERATELIMIT:
		return http.StatusTooManyRequests // 429
	case domain.EUNAVAILABLE:
		return http.StatusServiceUnavailable // 503
	case domain.EINTERNAL:
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// NotFoundResponse is a convenience wrapper for 404 errors.
func NotFoundResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	err := domain.Errorf(domain.ENOTFOUND, "", "The requested resource was not found")
	ErrorResponse(w, r, logger, err)
}

// logError logs the error with appropriate level based on status code.
func logError(logger *slog.Logger, r *http.Request, err error, code, op string, status int) {
	attrs := []any{
		"error", err.Error(),
		"code", code,
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
	}

	if op != "" {
		attrs = append(attrs, "op", op)
	}
	if requestID := auth.GetRequestID(r.Context()); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	if userID := auth.GetUserID(r.Context()); userID != "" {
		attrs = append(attrs, "user_id", userID)
	}

	// Log level based on status code:
	// - 5xx errors are errors (server-side issues)
	// - 4xx errors are info (client errors, expected)
	if status >= 500 {
		logger.Error("server error", attrs...)
	} else if status >= 400 {
		logger.Info("client error", attrs...)
	}
}

// writeJSON writes v as a JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

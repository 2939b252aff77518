// Package middleware contains HTTP middleware for the Ghostwriter usage API.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler.
// They are designed to be composed using a middleware stack approach.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/ghostwriter/internal/auth"
	"github.com/DukeRupert/ghostwriter/internal/domain"
	"github.com/DukeRupert/ghostwriter/internal/handler"
)

// UserIDHeader carries the caller's user ID. The upstream gateway verifies
// the session with the identity provider and sets it; clients cannot reach
// this service directly.
const UserIDHeader = "X-User-ID"

// maxUserIDLength bounds header values stored as keys.
const maxUserIDLength = 128

// AuthMiddleware resolves the caller identity from the gateway header.
type AuthMiddleware struct {
	logger *slog.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware instance.
func NewAuthMiddleware(logger *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{logger: logger}
}

// WithUser stores the header's user ID in the context when present and
// well-formed, and always calls next.
func (m *AuthMiddleware) WithUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(id) > maxUserIDLength || strings.ContainsAny(id, "{}\r\n") {
			m.logger.Warn("Rejected malformed user ID header", "length", len(id))
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.SetUserID(r.Context(), id)))
	})
}

// RequireUser responds 401 unless WithUser resolved a user ID.
// It must run after WithUser.
func (m *AuthMiddleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.GetUserID(r.Context()) == "" {
			handler.ErrorResponse(w, r, m.logger, domain.Unauthorized("auth.require_user", "Authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Stack composes middleware so the first argument runs first.
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

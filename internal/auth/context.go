// Package auth provides caller identity context helpers.
//
// This package is designed to be imported by both middleware and handler
// packages without causing import cycles.
package auth

import (
	"context"
	"net/http"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// userIDContextKey is the key used to store the caller's user ID in context.
	userIDContextKey contextKey = "user_id"

	// requestIDContextKey is the key used to store the request ID in context.
	requestIDContextKey contextKey = "request_id"
)

// GetUserID retrieves the authenticated user ID from the context.
//
// Returns "" if no user is authenticated.
//
// Usage:
//
//	userID := auth.GetUserID(r.Context())
//	if userID == "" {
//	    // Handle unauthenticated request
//	}
func GetUserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDContextKey).(string)
	return id
}

// GetUserIDFromRequest retrieves the authenticated user ID from the request context.
func GetUserIDFromRequest(r *http.Request) string {
	return GetUserID(r.Context())
}

// SetUserID stores a user ID in the context.
func SetUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

// SetRequestID stores a request ID in the context.
func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, requestID)
}

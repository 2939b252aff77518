// Package subscription reads the plan a user is subscribed to.
//
// Subscriptions are written by billing webhooks elsewhere in the application.
// This package only reads them, apart from Upsert which exists for the admin
// CLI and for seeding tests.
package subscription

import (
	"context"
	"errors"

	"github.com/DukeRupert/ghostwriter/internal/domain"
)

// ErrNotFound is returned when a user has no subscription record.
var ErrNotFound = errors.New("subscription not found")

// Lookup resolves a user's subscription.
type Lookup interface {
	// GetSubscription returns the user's subscription, ErrNotFound when the
	// user has none, or another error when the lookup itself failed.
	GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error)
}

// Writer stores subscriptions.
type Writer interface {
	Upsert(ctx context.Context, sub *domain.Subscription) error
}

// IsNotFound returns true if the error indicates a missing subscription.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

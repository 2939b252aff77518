package subscription

import (
	"context"
	"sync"

	"github.com/DukeRupert/ghostwriter/internal/domain"
)

// Static keeps subscriptions in memory. Used with the memory usage backend
// and in tests.
type Static struct {
	mu   sync.RWMutex
	subs map[string]domain.Subscription
}

// NewStatic creates a Static lookup seeded with subs.
func NewStatic(subs ...domain.Subscription) *Static {
	s := &Static{subs: make(map[string]domain.Subscription, len(subs))}
	for _, sub := range subs {
		s.subs[sub.UserID] = sub
	}
	return s
}

// GetSubscription returns a copy of the stored subscription.
func (s *Static) GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &sub, nil
}

// Upsert stores sub.
func (s *Static) Upsert(ctx context.Context, sub *domain.Subscription) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.UserID] = *sub
	return nil
}

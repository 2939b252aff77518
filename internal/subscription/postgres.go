package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DukeRupert/ghostwriter/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const getSubscriptionSQL = `
SELECT user_id, plan_id, status, current_period_end, updated_at
FROM subscriptions
WHERE user_id = $1`

const upsertSubscriptionSQL = `
INSERT INTO subscriptions (user_id, plan_id, status, current_period_end, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id) DO UPDATE SET
	plan_id            = EXCLUDED.plan_id,
	status             = EXCLUDED.status,
	current_period_end = EXCLUDED.current_period_end,
	updated_at         = EXCLUDED.updated_at`

// Postgres reads subscriptions from the subscriptions table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres lookup.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// GetSubscription returns the user's subscription row.
func (p *Postgres) GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	var (
		sub       domain.Subscription
		plan      string
		status    string
		periodEnd *time.Time
	)
	err := p.pool.QueryRow(ctx, getSubscriptionSQL, userID).Scan(
		&sub.UserID,
		&plan,
		&status,
		&periodEnd,
		&sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get subscription for %q: %w", userID, err)
	}

	sub.Plan = domain.PlanID(plan)
	sub.Status = domain.SubscriptionStatus(status)
	sub.CurrentPeriodEnd = periodEnd
	return &sub, nil
}

// Upsert inserts or replaces the user's subscription.
func (p *Postgres) Upsert(ctx context.Context, sub *domain.Subscription) error {
	updatedAt := sub.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := p.pool.Exec(ctx, upsertSubscriptionSQL,
		sub.UserID,
		string(sub.Plan),
		string(sub.Status),
		sub.CurrentPeriodEnd,
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert subscription for %q: %w", sub.UserID, err)
	}
	return nil
}

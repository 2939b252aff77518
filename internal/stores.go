package internal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DukeRupert/ghostwriter/internal/subscription"
	"github.com/DukeRupert/ghostwriter/internal/usagestore"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SubscriptionStore reads and writes subscriptions.
type SubscriptionStore interface {
	subscription.Lookup
	subscription.Writer
}

// Stores holds the storage backends selected by configuration.
type Stores struct {
	Usage         usagestore.Store
	Subscriptions SubscriptionStore

	pool *pgxpool.Pool
}

// OpenStores connects the configured backends and, when Postgres is in
// use, applies pending migrations. Subscriptions live in Postgres for every
// backend except memory, which keeps everything in process.
func OpenStores(ctx context.Context, cfg *Config, logger *slog.Logger) (*Stores, error) {
	if cfg.LedgerBackend == usagestore.BackendMemory {
		logger.Warn("Using in-memory usage ledger; counts are lost on restart")
		return &Stores{
			Usage:         usagestore.NewMemoryStore(),
			Subscriptions: subscription.NewStatic(),
		}, nil
	}

	pool, err := NewPool(ctx, cfg.DatabaseUrl)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	s := &Stores{
		Subscriptions: subscription.NewPostgres(pool),
		pool:          pool,
	}

	switch cfg.LedgerBackend {
	case usagestore.BackendRedis:
		client, err := usagestore.NewRedisClient(cfg.RedisURL)
		if err != nil {
			pool.Close()
			return nil, err
		}
		store := usagestore.NewRedisStore(client, logger)
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			pool.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		s.Usage = store
		logger.Info("Redis usage ledger ready")
	default:
		s.Usage = usagestore.NewPostgresStore(pool, logger)
	}

	return s, nil
}

// Ping checks every backend.
func (s *Stores) Ping(ctx context.Context) error {
	if err := s.Usage.Ping(ctx); err != nil {
		return fmt.Errorf("usage store: %w", err)
	}
	if s.pool != nil {
		if err := s.pool.Ping(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	return nil
}

// Close releases every backend.
func (s *Stores) Close() error {
	err := s.Usage.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

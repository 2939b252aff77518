package usagestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/DukeRupert/ghostwriter/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// =============================================================================
// PostgresStore Implementation
// =============================================================================

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

const usageColumns = `user_id, period, posts_generated, regenerations_used, topics_classified, voice_analyses, updated_at`

// upsertUsageSQL seeds a new row with the delta in one column and zero in
// the rest, so the conflict branch can add EXCLUDED to every column and
// leave the untouched ones unchanged.
const upsertUsageSQL = `
INSERT INTO usage_records (` + usageColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id, period) DO UPDATE SET
	posts_generated    = usage_records.posts_generated + EXCLUDED.posts_generated,
	regenerations_used = usage_records.regenerations_used + EXCLUDED.regenerations_used,
	topics_classified  = usage_records.topics_classified + EXCLUDED.topics_classified,
	voice_analyses     = usage_records.voice_analyses + EXCLUDED.voice_analyses,
	updated_at         = EXCLUDED.updated_at
RETURNING ` + usageColumns

// upsertWithinSQL is upsertUsageSQL with a guard on both branches. %s is the
// pooled counter expression; $8 is the delta and $9 the limit. No returned
// row means the write was refused.
const upsertWithinSQL = `
INSERT INTO usage_records (` + usageColumns + `)
SELECT $1::text, $2::text, $3::bigint, $4::bigint, $5::bigint, $6::bigint, $7::timestamptz
WHERE $8::bigint <= $9::bigint
ON CONFLICT (user_id, period) DO UPDATE SET
	posts_generated    = usage_records.posts_generated + EXCLUDED.posts_generated,
	regenerations_used = usage_records.regenerations_used + EXCLUDED.regenerations_used,
	topics_classified  = usage_records.topics_classified + EXCLUDED.topics_classified,
	voice_analyses     = usage_records.voice_analyses + EXCLUDED.voice_analyses,
	updated_at         = EXCLUDED.updated_at
WHERE %s + $8::bigint <= $9::bigint
RETURNING ` + usageColumns

const getUsageSQL = `SELECT ` + usageColumns + ` FROM usage_records WHERE user_id = $1 AND period = $2`

const listUsageSQL = `SELECT ` + usageColumns + ` FROM usage_records
WHERE user_id = $1
ORDER BY period DESC
LIMIT NULLIF($2::int, 0)`

// counterColumns whitelists the column names interpolated into SQL.
var counterColumns = map[domain.Counter]string{
	domain.CounterPostsGenerated:    "posts_generated",
	domain.CounterRegenerationsUsed: "regenerations_used",
	domain.CounterTopicsClassified:  "topics_classified",
	domain.CounterVoiceAnalyses:     "voice_analyses",
}

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore. The usage_records table must
// already exist (see internal/migrations).
func NewPostgresStore(pool *pgxpool.Pool, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		logger: logger,
	}
}

// Get returns the record for (userID, period).
func (s *PostgresStore) Get(ctx context.Context, userID string, period domain.Period) (*domain.UsageRecord, error) {
	rec, err := scanUsage(s.pool.QueryRow(ctx, getUsageSQL, userID, string(period)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storeErr("Get", userID, period, ErrNotFound)
		}
		return nil, storeErr("Get", userID, period, err)
	}
	return rec, nil
}

// Increment performs a single INSERT ... ON CONFLICT DO UPDATE. Should a
// duplicate-key error still surface, it retries through the update path.
func (s *PostgresStore) Increment(ctx context.Context, userID string, period domain.Period, counter domain.Counter, n int64, at time.Time) (*domain.UsageRecord, error) {
	if err := validateIncrement(userID, period, n, counter); err != nil {
		return nil, storeErr("Increment", userID, period, err)
	}

	args := seedArgs(userID, period, counter, n, at)
	rec, err := scanUsage(s.pool.QueryRow(ctx, upsertUsageSQL, args...))
	if err != nil {
		if isUniqueViolation(err) {
			s.logger.Warn("Usage upsert hit duplicate key, retrying as update",
				"user_id", userID,
				"period", period,
			)
			return s.incrementExisting(ctx, userID, period, counter, n, at)
		}
		return nil, storeErr("Increment", userID, period, err)
	}
	return rec, nil
}

// IncrementWithin performs the guarded upsert.
func (s *PostgresStore) IncrementWithin(ctx context.Context, userID string, period domain.Period, counter domain.Counter, n int64, pooled []domain.Counter, limit int64, at time.Time) (*domain.UsageRecord, bool, error) {
	if err := validateIncrement(userID, period, n, append([]domain.Counter{counter}, pooled...)...); err != nil {
		return nil, false, storeErr("IncrementWithin", userID, period, err)
	}
	expr, err := pooledExpr(pooled)
	if err != nil {
		return nil, false, storeErr("IncrementWithin", userID, period, err)
	}

	args := append(seedArgs(userID, period, counter, n, at), n, limit)
	rec, err := scanUsage(s.pool.QueryRow(ctx, fmt.Sprintf(upsertWithinSQL, expr), args...))
	switch {
	case err == nil:
		return rec, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		current, getErr := s.Get(ctx, userID, period)
		if IsNotFound(getErr) {
			return domain.EmptyUsage(userID, period), false, nil
		}
		if getErr != nil {
			return nil, false, getErr
		}
		return current, false, nil
	default:
		return nil, false, storeErr("IncrementWithin", userID, period, err)
	}
}

// List returns up to limit records, newest period first. A limit of zero
// returns every record.
func (s *PostgresStore) List(ctx context.Context, userID string, limit int) ([]domain.UsageRecord, error) {
	rows, err := s.pool.Query(ctx, listUsageSQL, userID, limit)
	if err != nil {
		return nil, &StoreError{Op: "List", Key: userID, Err: err}
	}
	defer rows.Close()

	var out []domain.UsageRecord
	for rows.Next() {
		rec, err := scanUsage(rows)
		if err != nil {
			return nil, &StoreError{Op: "List", Key: userID, Err: err}
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "List", Key: userID, Err: err}
	}
	return out, nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// incrementExisting adds n to one column of an existing row.
func (s *PostgresStore) incrementExisting(ctx context.Context, userID string, period domain.Period, counter domain.Counter, n int64, at time.Time) (*domain.UsageRecord, error) {
	col := counterColumns[counter]
	query := fmt.Sprintf(`UPDATE usage_records SET %[1]s = %[1]s + $3, updated_at = $4
WHERE user_id = $1 AND period = $2
RETURNING `+usageColumns, col)

	rec, err := scanUsage(s.pool.QueryRow(ctx, query, userID, string(period), n, at.UTC()))
	if err != nil {
		return nil, storeErr("Increment", userID, period, err)
	}
	return rec, nil
}

// seedArgs builds $1..$7 of the upsert statements.
func seedArgs(userID string, period domain.Period, counter domain.Counter, n int64, at time.Time) []any {
	seed := domain.EmptyUsage(userID, period)
	seed.Add(counter, n)
	return []any{
		userID,
		string(period),
		seed.PostsGenerated,
		seed.RegenerationsUsed,
		seed.TopicsClassified,
		seed.VoiceAnalyses,
		at.UTC(),
	}
}

// pooledExpr renders "usage_records.a + usage_records.b" for the guard.
func pooledExpr(pooled []domain.Counter) (string, error) {
	if len(pooled) == 0 {
		return "", errors.New("no pooled counters")
	}
	parts := make([]string, 0, len(pooled))
	for _, c := range pooled {
		col, ok := counterColumns[c]
		if !ok {
			return "", fmt.Errorf("unknown counter %q", c)
		}
		parts = append(parts, "usage_records."+col)
	}
	return "(" + strings.Join(parts, " + ") + ")", nil
}

func scanUsage(row pgx.Row) (*domain.UsageRecord, error) {
	var (
		rec    domain.UsageRecord
		period string
	)
	err := row.Scan(
		&rec.UserID,
		&period,
		&rec.PostsGenerated,
		&rec.RegenerationsUsed,
		&rec.TopicsClassified,
		&rec.VoiceAnalyses,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Period = domain.Period(period)
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

package usagestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/DukeRupert/ghostwriter/internal/domain"
	"github.com/redis/go-redis/v9"
)

// =============================================================================
// RedisStore Implementation
// =============================================================================

const fieldUpdatedAt = "updated_at"

// incrementWithinScript checks the pooled counters and increments in one
// server-side step. KEYS: record hash, period index. ARGV: n, limit, counter,
// updated_at, period, period score, pooled counters...
var incrementWithinScript = redis.NewScript(`
local n = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local sum = 0
for i = 7, #ARGV do
	sum = sum + tonumber(redis.call('HGET', KEYS[1], ARGV[i]) or '0')
end
if sum + n > limit then
	return {0, redis.call('HGETALL', KEYS[1])}
end
redis.call('HINCRBY', KEYS[1], ARGV[3], n)
redis.call('HSET', KEYS[1], 'updated_at', ARGV[4])
redis.call('ZADD', KEYS[2], ARGV[6], ARGV[5])
return {1, redis.call('HGETALL', KEYS[1])}
`)

// RedisStore keeps one hash per (user, period) plus a sorted set of the
// periods each user has recorded.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore creates a RedisStore on an existing client.
func NewRedisStore(client *redis.Client, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger,
	}
}

// NewRedisClient parses a redis:// or rediss:// URL.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return redis.NewClient(opt), nil
}

// Get returns the record for (userID, period).
func (s *RedisStore) Get(ctx context.Context, userID string, period domain.Period) (*domain.UsageRecord, error) {
	fields, err := s.client.HGetAll(ctx, recordKey(userID, period)).Result()
	if err != nil {
		return nil, storeErr("Get", userID, period, err)
	}
	if len(fields) == 0 {
		return nil, storeErr("Get", userID, period, ErrNotFound)
	}
	rec, err := parseRecord(userID, period, fields)
	if err != nil {
		return nil, storeErr("Get", userID, period, err)
	}
	return rec, nil
}

// Increment runs HINCRBY, the timestamp update and the index update in a
// single MULTI/EXEC transaction and reads the record back inside it.
func (s *RedisStore) Increment(ctx context.Context, userID string, period domain.Period, counter domain.Counter, n int64, at time.Time) (*domain.UsageRecord, error) {
	if err := validateIncrement(userID, period, n, counter); err != nil {
		return nil, storeErr("Increment", userID, period, err)
	}

	key := recordKey(userID, period)
	var all *redis.MapStringStringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, string(counter), n)
		pipe.HSet(ctx, key, fieldUpdatedAt, at.UTC().Format(time.RFC3339Nano))
		pipe.ZAdd(ctx, indexKey(userID), redis.Z{Score: periodScore(period), Member: string(period)})
		all = pipe.HGetAll(ctx, key)
		return nil
	})
	if err != nil {
		return nil, storeErr("Increment", userID, period, err)
	}

	rec, err := parseRecord(userID, period, all.Val())
	if err != nil {
		return nil, storeErr("Increment", userID, period, err)
	}
	return rec, nil
}

// IncrementWithin runs the guarded increment as a Lua script.
func (s *RedisStore) IncrementWithin(ctx context.Context, userID string, period domain.Period, counter domain.Counter, n int64, pooled []domain.Counter, limit int64, at time.Time) (*domain.UsageRecord, bool, error) {
	if err := validateIncrement(userID, period, n, append([]domain.Counter{counter}, pooled...)...); err != nil {
		return nil, false, storeErr("IncrementWithin", userID, period, err)
	}

	args := []any{n, limit, string(counter), at.UTC().Format(time.RFC3339Nano), string(period), periodScore(period)}
	for _, c := range pooled {
		args = append(args, string(c))
	}

	res, err := incrementWithinScript.Run(ctx, s.client, []string{recordKey(userID, period), indexKey(userID)}, args...).Slice()
	if err != nil {
		return nil, false, storeErr("IncrementWithin", userID, period, err)
	}
	if len(res) != 2 {
		return nil, false, storeErr("IncrementWithin", userID, period, fmt.Errorf("unexpected script reply of length %d", len(res)))
	}

	applied, _ := res[0].(int64)
	fields, err := pairsToMap(res[1])
	if err != nil {
		return nil, false, storeErr("IncrementWithin", userID, period, err)
	}
	rec, err := parseRecord(userID, period, fields)
	if err != nil {
		return nil, false, storeErr("IncrementWithin", userID, period, err)
	}
	return rec, applied == 1, nil
}

// List returns up to limit records, newest period first. A limit of zero
// returns every record.
func (s *RedisStore) List(ctx context.Context, userID string, limit int) ([]domain.UsageRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	periods, err := s.client.ZRevRange(ctx, indexKey(userID), 0, stop).Result()
	if err != nil {
		return nil, &StoreError{Op: "List", Key: userID, Err: err}
	}
	if len(periods) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(periods))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, p := range periods {
			cmds[i] = pipe.HGetAll(ctx, recordKey(userID, domain.Period(p)))
		}
		return nil
	})
	if err != nil {
		return nil, &StoreError{Op: "List", Key: userID, Err: err}
	}

	out := make([]domain.UsageRecord, 0, len(periods))
	for i, p := range periods {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := parseRecord(userID, domain.Period(p), fields)
		if err != nil {
			return nil, &StoreError{Op: "List", Key: userID, Err: err}
		}
		out = append(out, *rec)
	}
	return out, nil
}

// Ping checks Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// recordKey uses a hash tag on the user ID so a user's record and index
// share a cluster slot.
func recordKey(userID string, period domain.Period) string {
	return "usage:{" + userID + "}:" + string(period)
}

func indexKey(userID string) string {
	return "usage:{" + userID + "}:periods"
}

func periodScore(period domain.Period) float64 {
	return float64(period.Start().Unix())
}

func parseRecord(userID string, period domain.Period, fields map[string]string) (*domain.UsageRecord, error) {
	rec := domain.EmptyUsage(userID, period)
	for _, c := range domain.Counters {
		raw, ok := fields[string(c)]
		if !ok {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", c, err)
		}
		rec.Add(c, v)
	}
	if raw, ok := fields[fieldUpdatedAt]; ok {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", fieldUpdatedAt, err)
		}
		rec.UpdatedAt = t.UTC()
	}
	return rec, nil
}

// pairsToMap converts an HGETALL reply returned from Lua (a flat array)
// into a map.
func pairsToMap(v any) (map[string]string, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, errors.New("unexpected HGETALL reply type")
	}
	if len(items)%2 != 0 {
		return nil, errors.New("odd HGETALL reply length")
	}
	out := make(map[string]string, len(items)/2)
	for i := 0; i < len(items); i += 2 {
		k, _ := items[i].(string)
		val, _ := items[i+1].(string)
		out[k] = val
	}
	return out, nil
}

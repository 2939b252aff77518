package usagestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/DukeRupert/ghostwriter/internal/domain"
)

// =============================================================================
// MemoryStore Implementation
// =============================================================================

type memoryKey struct {
	userID string
	period domain.Period
}

// MemoryStore keeps records in process memory. It is only coherent within a
// single process, so production deployments use Postgres or Redis.
type MemoryStore struct {
	mu      sync.Mutex
	records map[memoryKey]*domain.UsageRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[memoryKey]*domain.UsageRecord),
	}
}

// Get returns a copy of the stored record.
func (s *MemoryStore) Get(ctx context.Context, userID string, period domain.Period) (*domain.UsageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeErr("Get", userID, period, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[memoryKey{userID, period}]
	if !ok {
		return nil, storeErr("Get", userID, period, ErrNotFound)
	}
	out := *rec
	return &out, nil
}

// Increment adds n to counter under the store lock.
func (s *MemoryStore) Increment(ctx context.Context, userID string, period domain.Period, counter domain.Counter, n int64, at time.Time) (*domain.UsageRecord, error) {
	if err := validateIncrement(userID, period, n, counter); err != nil {
		return nil, storeErr("Increment", userID, period, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, storeErr("Increment", userID, period, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.upsertLocked(userID, period)
	rec.Add(counter, n)
	rec.UpdatedAt = at.UTC()
	out := *rec
	return &out, nil
}

// IncrementWithin adds n to counter only if the pooled sum stays within limit.
func (s *MemoryStore) IncrementWithin(ctx context.Context, userID string, period domain.Period, counter domain.Counter, n int64, pooled []domain.Counter, limit int64, at time.Time) (*domain.UsageRecord, bool, error) {
	if err := validateIncrement(userID, period, n, append([]domain.Counter{counter}, pooled...)...); err != nil {
		return nil, false, storeErr("IncrementWithin", userID, period, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, false, storeErr("IncrementWithin", userID, period, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey{userID, period}
	current := domain.EmptyUsage(userID, period)
	if rec, ok := s.records[key]; ok {
		current = rec
	}
	if pooledSum(current, pooled)+n > limit {
		out := *current
		return &out, false, nil
	}

	rec := s.upsertLocked(userID, period)
	rec.Add(counter, n)
	rec.UpdatedAt = at.UTC()
	out := *rec
	return &out, true, nil
}

// List returns up to limit records for userID, newest period first.
func (s *MemoryStore) List(ctx context.Context, userID string, limit int) ([]domain.UsageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, &StoreError{Op: "List", Key: userID, Err: err}
	}

	s.mu.Lock()
	out := make([]domain.UsageRecord, 0)
	for k, rec := range s.records {
		if k.userID == userID {
			out = append(out, *rec)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Period > out[j].Period })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) upsertLocked(userID string, period domain.Period) *domain.UsageRecord {
	key := memoryKey{userID, period}
	rec, ok := s.records[key]
	if !ok {
		rec = domain.EmptyUsage(userID, period)
		s.records[key] = rec
	}
	return rec
}

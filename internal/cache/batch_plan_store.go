package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/andresuchdata/fulfillops/backend-go/internal/config"
	"github.com/andresuchdata/fulfillops/backend-go/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	batchPlanKeyPrefix = "fulfillops:batch_plan:"
	batchPlanScanBatch = 100
)

// BatchPlanStore keeps planned batches under their opaque handle so chunk
// membership stays fixed between planning and download.
type BatchPlanStore interface {
	Save(ctx context.Context, plan *domain.BatchPlan) error
	// Get returns a BATCH_NOT_FOUND error when the handle is unknown or expired.
	Get(ctx context.Context, handle string) (*domain.BatchPlan, error)
	// Delete discards one plan; an unknown handle is BATCH_NOT_FOUND.
	Delete(ctx context.Context, handle string) error
	// Purge discards every stored plan and reports how many went away.
	Purge(ctx context.Context) (int, error)
}

type redisBatchPlanStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewBatchPlanStore returns a Redis store when caching is enabled and an
// in-process store otherwise.
func NewBatchPlanStore(cfg config.CacheConfig) (BatchPlanStore, error) {
	if !cfg.Enabled {
		return NewMemoryBatchPlanStore(batchPlanTTL(cfg)), nil
	}

	client, err := NewRedisClient(cfg)
	if err != nil {
		return nil, err
	}

	return NewRedisBatchPlanStore(client, batchPlanTTL(cfg)), nil
}

func NewRedisBatchPlanStore(client *redis.Client, ttl time.Duration) BatchPlanStore {
	if ttl <= 0 {
		ttl = defaultBatchPlanTTL
	}
	return &redisBatchPlanStore{client: client, ttl: ttl}
}

func (s *redisBatchPlanStore) Save(ctx context.Context, plan *domain.BatchPlan) error {
	payload, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode batch plan: %w", err)
	}

	if err := s.client.Set(ctx, batchPlanKey(plan.Handle), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *redisBatchPlanStore) Get(ctx context.Context, handle string) (*domain.BatchPlan, error) {
	payload, err := s.client.Get(ctx, batchPlanKey(handle)).Bytes()
	if err == redis.Nil {
		return nil, batchNotFound(handle)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var plan domain.BatchPlan
	if err := json.Unmarshal(payload, &plan); err != nil {
		return nil, fmt.Errorf("decode batch plan: %w", err)
	}
	return &plan, nil
}

func (s *redisBatchPlanStore) Delete(ctx context.Context, handle string) error {
	n, err := s.client.Del(ctx, batchPlanKey(handle)).Result()
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	if n == 0 {
		return batchNotFound(handle)
	}
	return nil
}

func (s *redisBatchPlanStore) Purge(ctx context.Context) (int, error) {
	return unlinkMatching(ctx, s.client, batchPlanKeyPrefix, batchPlanScanBatch)
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

type memoryBatchPlanStore struct {
	mu    sync.RWMutex
	ttl   time.Duration
	plans map[string]memoryEntry
	now   func() time.Time
}

// NewMemoryBatchPlanStore keeps plans in process. Plans are stored encoded so
// callers can never mutate a saved plan through a shared slice.
func NewMemoryBatchPlanStore(ttl time.Duration) BatchPlanStore {
	if ttl <= 0 {
		ttl = defaultBatchPlanTTL
	}
	return &memoryBatchPlanStore{
		ttl:   ttl,
		plans: make(map[string]memoryEntry),
		now:   time.Now,
	}
}

func (s *memoryBatchPlanStore) Save(ctx context.Context, plan *domain.BatchPlan) error {
	payload, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode batch plan: %w", err)
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)
	s.plans[plan.Handle] = memoryEntry{payload: payload, expiresAt: now.Add(s.ttl)}
	return nil
}

// sweepLocked drops expired plans. Callers hold s.mu.
func (s *memoryBatchPlanStore) sweepLocked(now time.Time) {
	for handle, entry := range s.plans {
		if now.After(entry.expiresAt) {
			delete(s.plans, handle)
		}
	}
}

func (s *memoryBatchPlanStore) Get(ctx context.Context, handle string) (*domain.BatchPlan, error) {
	s.mu.RLock()
	entry, ok := s.plans[handle]
	s.mu.RUnlock()

	if !ok || s.now().After(entry.expiresAt) {
		return nil, batchNotFound(handle)
	}

	var plan domain.BatchPlan
	if err := json.Unmarshal(entry.payload, &plan); err != nil {
		return nil, fmt.Errorf("decode batch plan: %w", err)
	}
	return &plan, nil
}

func (s *memoryBatchPlanStore) Delete(ctx context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.plans[handle]
	if !ok {
		return batchNotFound(handle)
	}
	delete(s.plans, handle)
	if s.now().After(entry.expiresAt) {
		return batchNotFound(handle)
	}
	return nil
}

func (s *memoryBatchPlanStore) Purge(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.plans)
	s.plans = make(map[string]memoryEntry)
	return n, nil
}

func batchPlanKey(handle string) string {
	return batchPlanKeyPrefix + strings.TrimSpace(handle)
}

func batchNotFound(handle string) error {
	return domain.NotFound(domain.ReasonBatchNotFound, "batch %q not found or expired", handle)
}

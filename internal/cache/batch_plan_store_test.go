package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/andresuchdata/fulfillops/backend-go/internal/config"
	"github.com/andresuchdata/fulfillops/backend-go/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePlan(handle string) *domain.BatchPlan {
	return &domain.BatchPlan{
		Handle:      handle,
		MaxPerChunk: 2,
		TotalOrders: 3,
		Chunks: []domain.Chunk{
			{Index: 0, OrderCount: 2, OrderIDs: []string{"o-1", "o-2"}, SKUPreview: []domain.SKUTotal{{SKU: "A", Quantity: 3}}},
			{Index: 1, OrderCount: 1, OrderIDs: []string{"o-3"}, SKUPreview: []domain.SKUTotal{{SKU: "B", Quantity: 1}}},
		},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestMemoryBatchPlanStore_SaveGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryBatchPlanStore(time.Hour)

	plan := samplePlan("h-1")
	require.NoError(t, store.Save(ctx, plan))

	// mutating the caller's copy must not leak into the stored plan
	plan.Chunks[0].OrderIDs[0] = "changed"

	got, err := store.Get(ctx, "h-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"o-1", "o-2"}, got.Chunks[0].OrderIDs)
	assert.Equal(t, 3, got.TotalOrders)
}

func TestMemoryBatchPlanStore_Missing(t *testing.T) {
	_, err := NewMemoryBatchPlanStore(time.Hour).Get(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	assert.Equal(t, domain.ReasonBatchNotFound, domain.ReasonOf(err))
}

func TestMemoryBatchPlanStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryBatchPlanStore(time.Minute).(*memoryBatchPlanStore)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Save(ctx, samplePlan("h-2")))
	_, err := store.Get(ctx, "h-2")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = store.Get(ctx, "h-2")
	assert.True(t, domain.ReasonOf(err) == domain.ReasonBatchNotFound)
}

func TestMemoryBatchPlanStore_DeletePurge(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryBatchPlanStore(0)
	require.NoError(t, store.Save(ctx, samplePlan("a")))
	require.NoError(t, store.Save(ctx, samplePlan("b")))
	require.NoError(t, store.Save(ctx, samplePlan("c")))

	require.NoError(t, store.Delete(ctx, "a"))
	_, err := store.Get(ctx, "a")
	assert.Equal(t, domain.ReasonBatchNotFound, domain.ReasonOf(err))

	err = store.Delete(ctx, "a")
	assert.Equal(t, domain.ReasonBatchNotFound, domain.ReasonOf(err), "deleting twice reports the missing handle")

	n, err := store.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = store.Get(ctx, "b")
	assert.Error(t, err)

	n, err = store.Purge(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryBatchPlanStore_SaveSweepsExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryBatchPlanStore(time.Minute).(*memoryBatchPlanStore)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Save(ctx, samplePlan("old-1")))
	require.NoError(t, store.Save(ctx, samplePlan("old-2")))
	now = now.Add(30 * time.Second)
	require.NoError(t, store.Save(ctx, samplePlan("young")))

	now = now.Add(45 * time.Second)
	require.NoError(t, store.Save(ctx, samplePlan("fresh")))

	assert.Len(t, store.plans, 2)
	assert.Contains(t, store.plans, "young")
	assert.Contains(t, store.plans, "fresh")

	err := store.Delete(ctx, "old-1")
	assert.Equal(t, domain.ReasonBatchNotFound, domain.ReasonOf(err))
}

func TestBuildRedisOptions(t *testing.T) {
	opts, err := buildRedisOptions(config.CacheConfig{})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6379", opts.Addr)

	assert.Equal(t, redisDialTimeout, opts.DialTimeout)
	assert.Equal(t, redisIOTimeout, opts.ReadTimeout)

	opts, err = buildRedisOptions(config.CacheConfig{RedisHost: "cache", RedisPort: "7000", RedisDB: 3})
	require.NoError(t, err)
	assert.Equal(t, "cache:7000", opts.Addr)
	assert.Equal(t, 3, opts.DB)

	opts, err = buildRedisOptions(config.CacheConfig{RedisURL: "redis://:secret@cache.internal:6380/2"})
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)

	_, err = buildRedisOptions(config.CacheConfig{RedisURL: "://bad"})
	assert.Error(t, err)
}

func TestBatchPlanTTL(t *testing.T) {
	assert.Equal(t, defaultBatchPlanTTL, batchPlanTTL(config.CacheConfig{}))
	assert.Equal(t, 90*time.Second, batchPlanTTL(config.CacheConfig{BatchPlanTTLSeconds: 90}))
}

func TestNewBatchPlanStore_DisabledUsesMemory(t *testing.T) {
	store, err := NewBatchPlanStore(config.CacheConfig{Enabled: false})
	require.NoError(t, err)
	_, ok := store.(*memoryBatchPlanStore)
	assert.True(t, ok)
}

func TestRedisBatchPlanStore(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := NewRedisClient(config.CacheConfig{RedisURL: url})
	require.NoError(t, err)
	defer client.Close()

	store := NewRedisBatchPlanStore(client, time.Minute)
	require.NoError(t, store.Save(ctx, samplePlan("redis-h")))

	got, err := store.Get(ctx, "redis-h")
	require.NoError(t, err)
	assert.Len(t, got.Chunks, 2)

	require.NoError(t, store.Delete(ctx, "redis-h"))
	assert.Equal(t, domain.ReasonBatchNotFound, domain.ReasonOf(store.Delete(ctx, "redis-h")))

	require.NoError(t, store.Save(ctx, samplePlan("redis-a")))
	require.NoError(t, store.Save(ctx, samplePlan("redis-b")))
	n, err := store.Purge(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 2)
	_, err = store.Get(ctx, "redis-a")
	assert.Equal(t, domain.ReasonBatchNotFound, domain.ReasonOf(err))
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/andresuchdata/fulfillops/backend-go/internal/cache"
	"github.com/andresuchdata/fulfillops/backend-go/internal/config"
	"github.com/andresuchdata/fulfillops/backend-go/internal/domain"
	"github.com/andresuchdata/fulfillops/backend-go/internal/events"
	"github.com/andresuchdata/fulfillops/backend-go/internal/metrics"
	"github.com/andresuchdata/fulfillops/backend-go/internal/repository"
	"github.com/andresuchdata/fulfillops/backend-go/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// PlanChunks partitions orderIDs, keeping their order, into consecutive chunks
// of at most maxPerChunk. Each chunk previews its topN SKUs by total quantity,
// ties broken by SKU. The result depends only on the arguments.
func PlanChunks(orderIDs []string, items map[string][]domain.LineItem, maxPerChunk, topN int) ([]domain.Chunk, error) {
	if maxPerChunk <= 0 {
		return nil, domain.Validation(domain.ReasonInvalidChunkSize, "max per chunk must be positive, got %d", maxPerChunk)
	}

	chunks := make([]domain.Chunk, 0, (len(orderIDs)+maxPerChunk-1)/maxPerChunk)
	for start := 0; start < len(orderIDs); start += maxPerChunk {
		end := start + maxPerChunk
		if end > len(orderIDs) {
			end = len(orderIDs)
		}
		members := append([]string(nil), orderIDs[start:end]...)
		chunks = append(chunks, domain.Chunk{
			Index:      len(chunks),
			OrderCount: len(members),
			OrderIDs:   members,
			SKUPreview: skuPreview(members, items, topN),
		})
	}
	return chunks, nil
}

func skuPreview(orderIDs []string, items map[string][]domain.LineItem, topN int) []domain.SKUTotal {
	totals := make(map[string]int)
	for _, id := range orderIDs {
		for _, item := range items[id] {
			totals[item.SKU] += item.Quantity
		}
	}

	preview := make([]domain.SKUTotal, 0, len(totals))
	for sku, qty := range totals {
		preview = append(preview, domain.SKUTotal{SKU: sku, Quantity: qty})
	}
	sort.Slice(preview, func(i, j int) bool {
		if preview[i].Quantity != preview[j].Quantity {
			return preview[i].Quantity > preview[j].Quantity
		}
		return preview[i].SKU < preview[j].SKU
	})
	if topN > 0 && len(preview) > topN {
		preview = preview[:topN]
	}
	return preview
}

// PlanRequest asks for a selection to be cut into print/export chunks.
type PlanRequest struct {
	Selection domain.SelectionDescriptor `json:"selection"`
	// MaxPerChunk of zero means the configured default.
	MaxPerChunk int `json:"max_per_chunk,omitempty"`
}

// ExportResult points at an exported chunk manifest.
type ExportResult struct {
	Handle     string `json:"handle"`
	ChunkIndex int    `json:"chunk_index"`
	Key        string `json:"key"`
	Size       int64  `json:"size"`
}

// BatchPlanner resolves a selection once and fixes chunk membership under an
// opaque handle, so "download chunk N" always maps to the same orders.
type BatchPlanner struct {
	store        repository.Store
	resolver     *SelectionResolver
	plans        cache.BatchPlanStore
	objects      storage.ObjectStorage
	publisher    events.Publisher
	metrics      *metrics.Metrics
	defaultChunk int
	topN         int
	prefix       string
	fetchPage    int
	now          func() time.Time
}

func NewBatchPlanner(
	store repository.Store,
	resolver *SelectionResolver,
	plans cache.BatchPlanStore,
	objects storage.ObjectStorage,
	publisher events.Publisher,
	m *metrics.Metrics,
	engine config.EngineConfig,
	storageCfg config.StorageConfig,
) *BatchPlanner {
	defaultChunk := engine.DefaultChunkSize
	if defaultChunk <= 0 {
		defaultChunk = 50
	}
	topN := engine.PreviewTopN
	if topN <= 0 {
		topN = 3
	}
	fetchPage := engine.SelectionPageSize
	if fetchPage <= 0 {
		fetchPage = 500
	}
	return &BatchPlanner{
		store:        store,
		resolver:     resolver,
		plans:        plans,
		objects:      objects,
		publisher:    publisher,
		metrics:      m,
		defaultChunk: defaultChunk,
		topN:         topN,
		prefix:       storageCfg.Prefix,
		fetchPage:    fetchPage,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (p *BatchPlanner) Plan(ctx context.Context, req PlanRequest) (*domain.BatchPlan, error) {
	maxPerChunk := req.MaxPerChunk
	if maxPerChunk == 0 {
		maxPerChunk = p.defaultChunk
	}
	if maxPerChunk < 0 {
		return nil, domain.Validation(domain.ReasonInvalidChunkSize, "max per chunk must be positive, got %d", maxPerChunk)
	}

	resolved, err := p.resolver.Resolve(ctx, req.Selection)
	if err != nil {
		return nil, err
	}

	items, err := p.loadItems(ctx, resolved.OrderIDs)
	if err != nil {
		return nil, err
	}

	chunks, err := PlanChunks(resolved.OrderIDs, items, maxPerChunk, p.topN)
	if err != nil {
		return nil, err
	}

	plan := &domain.BatchPlan{
		Handle:       uuid.NewString(),
		MaxPerChunk:  maxPerChunk,
		TotalOrders:  len(resolved.OrderIDs),
		TotalMatched: resolved.TotalMatched,
		Truncated:    resolved.Truncated,
		NotFound:     resolved.NotFound,
		Chunks:       chunks,
		CreatedAt:    p.now(),
	}
	if err := p.plans.Save(ctx, plan); err != nil {
		return nil, domain.Internal(err, "store batch plan")
	}

	p.metrics.BatchPlanned()
	events.Emit(ctx, p.publisher, domain.DomainEvent{
		Type:       domain.EventBatchPlanned,
		OccurredAt: plan.CreatedAt,
		Data: map[string]interface{}{
			"handle": plan.Handle,
			"orders": plan.TotalOrders,
			"chunks": len(plan.Chunks),
		},
	})
	log.Info().
		Str("handle", plan.Handle).
		Int("orders", plan.TotalOrders).
		Int("chunks", len(plan.Chunks)).
		Bool("truncated", plan.Truncated).
		Msg("batch planned")

	return plan, nil
}

func (p *BatchPlanner) GetPlan(ctx context.Context, handle string) (*domain.BatchPlan, error) {
	return p.plans.Get(ctx, handle)
}

func (p *BatchPlanner) GetChunk(ctx context.Context, handle string, index int) (domain.Chunk, error) {
	plan, err := p.plans.Get(ctx, handle)
	if err != nil {
		return domain.Chunk{}, err
	}
	return plan.Chunk(index)
}

// DiscardPlan drops a stored plan. Exported manifests stay in object storage.
func (p *BatchPlanner) DiscardPlan(ctx context.Context, handle string) error {
	if err := p.plans.Delete(ctx, handle); err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return err
		}
		return domain.Internal(err, "delete batch plan")
	}

	events.Emit(ctx, p.publisher, domain.DomainEvent{
		Type:       domain.EventBatchDiscarded,
		OccurredAt: p.now(),
		Data:       map[string]interface{}{"handle": handle},
	})
	log.Info().Str("handle", handle).Msg("batch plan discarded")
	return nil
}

// PurgePlans drops every stored plan and returns how many there were.
func (p *BatchPlanner) PurgePlans(ctx context.Context) (int, error) {
	n, err := p.plans.Purge(ctx)
	if err != nil {
		return n, domain.Internal(err, "purge batch plans")
	}
	log.Info().Int("plans", n).Msg("batch plans purged")
	return n, nil
}

type chunkManifest struct {
	Handle     string            `json:"handle"`
	ChunkIndex int               `json:"chunk_index"`
	OrderCount int               `json:"order_count"`
	SKUPreview []domain.SKUTotal `json:"sku_preview"`
	Orders     []manifestOrder   `json:"orders"`
	Missing    []string          `json:"missing,omitempty"`
	ExportedAt time.Time         `json:"exported_at"`
}

type manifestOrder struct {
	ID              string            `json:"id"`
	ExternalOrderID *string           `json:"external_order_id,omitempty"`
	Channel         domain.Channel    `json:"channel"`
	Status          domain.Status     `json:"status"`
	Items           []domain.LineItem `json:"items"`
}

// ExportChunk writes the chunk's manifest to object storage. Membership comes
// from the stored plan; order details are read at export time.
func (p *BatchPlanner) ExportChunk(ctx context.Context, handle string, index int) (*ExportResult, error) {
	chunk, err := p.GetChunk(ctx, handle, index)
	if err != nil {
		return nil, err
	}

	orders, err := p.store.Orders().GetOrders(ctx, chunk.OrderIDs)
	if err != nil {
		return nil, fmt.Errorf("load chunk orders: %w", err)
	}
	byID := make(map[string]*domain.Order, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
	}

	manifest := chunkManifest{
		Handle:     handle,
		ChunkIndex: chunk.Index,
		OrderCount: chunk.OrderCount,
		SKUPreview: chunk.SKUPreview,
		Orders:     make([]manifestOrder, 0, len(chunk.OrderIDs)),
		ExportedAt: p.now(),
	}
	for _, id := range chunk.OrderIDs {
		o, ok := byID[id]
		if !ok {
			manifest.Missing = append(manifest.Missing, id)
			continue
		}
		manifest.Orders = append(manifest.Orders, manifestOrder{
			ID:              o.ID,
			ExternalOrderID: o.ExternalOrderID,
			Channel:         o.Channel,
			Status:          o.Status,
			Items:           o.Items,
		})
	}

	payload, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode chunk manifest: %w", err)
	}

	key := ManifestKey(p.prefix, handle, chunk.Index)
	if err := p.objects.UploadObject(ctx, key, payload, "application/json"); err != nil {
		return nil, domain.Internal(err, "upload chunk manifest")
	}

	log.Info().Str("handle", handle).Int("chunk", chunk.Index).Str("key", key).Msg("chunk exported")
	return &ExportResult{Handle: handle, ChunkIndex: chunk.Index, Key: key, Size: int64(len(payload))}, nil
}

// ManifestKey is the object key of an exported chunk.
func ManifestKey(prefix, handle string, index int) string {
	return path.Join(strings.Trim(prefix, "/"), handle, fmt.Sprintf("chunk-%04d.json", index))
}

func (p *BatchPlanner) loadItems(ctx context.Context, ids []string) (map[string][]domain.LineItem, error) {
	items := make(map[string][]domain.LineItem, len(ids))
	for start := 0; start < len(ids); start += p.fetchPage {
		end := start + p.fetchPage
		if end > len(ids) {
			end = len(ids)
		}
		orders, err := p.store.Orders().GetOrders(ctx, ids[start:end])
		if err != nil {
			return nil, fmt.Errorf("load orders for batch: %w", err)
		}
		for _, o := range orders {
			items[o.ID] = o.Items
		}
	}
	return items, nil
}

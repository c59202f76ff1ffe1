package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/andresuchdata/fulfillops/backend-go/internal/config"
	"github.com/andresuchdata/fulfillops/backend-go/internal/domain"
	"github.com/andresuchdata/fulfillops/backend-go/internal/metrics"
	"github.com/andresuchdata/fulfillops/backend-go/internal/repository"
	"github.com/rs/zerolog/log"
)

// SelectionResolver turns a selection descriptor into the concrete order IDs
// of one execution. Results are never cached: every mutating call resolves
// again right before it runs.
type SelectionResolver struct {
	store    repository.Store
	ceiling  int
	pageSize int
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewSelectionResolver(store repository.Store, cfg config.EngineConfig, m *metrics.Metrics) *SelectionResolver {
	ceiling := cfg.SelectionCeiling
	if ceiling <= 0 {
		ceiling = 5000
	}
	pageSize := cfg.SelectionPageSize
	if pageSize <= 0 {
		pageSize = 500
	}
	return &SelectionResolver{
		store:    store,
		ceiling:  ceiling,
		pageSize: pageSize,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ceiling is the maximum number of orders a single resolution returns.
func (r *SelectionResolver) Ceiling() int {
	return r.ceiling
}

// Resolve validates desc and expands it. Explicit IDs that do not exist are
// listed in NotFound; filters are paged up to the ceiling and flag truncation.
func (r *SelectionResolver) Resolve(ctx context.Context, desc domain.SelectionDescriptor) (*domain.ResolvedSelection, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	var (
		resolved *domain.ResolvedSelection
		err      error
	)
	if desc.IsExplicit() {
		resolved, err = r.resolveExplicit(ctx, desc.OrderIDs)
	} else {
		resolved, err = r.resolveFilter(ctx, *desc.Filter)
	}
	if err != nil {
		return nil, err
	}

	if resolved.Truncated {
		r.metrics.SelectionWasTruncated()
		log.Warn().
			Int("total_matched", resolved.TotalMatched).
			Int("ceiling", r.ceiling).
			Msg("selection truncated at safety ceiling")
		if desc.RejectTruncated {
			return nil, domain.Capacity(domain.ReasonSelectionTruncated,
				"selection matches %d orders, above the ceiling of %d", resolved.TotalMatched, r.ceiling)
		}
	}

	return resolved, nil
}

func (r *SelectionResolver) resolveExplicit(ctx context.Context, rawIDs []string) (*domain.ResolvedSelection, error) {
	ids := dedupeIDs(rawIDs)
	if len(ids) == 0 {
		return nil, domain.Validation(domain.ReasonEmptySelection, "selection is empty")
	}

	existing := make(map[string]bool, len(ids))
	for start := 0; start < len(ids); start += r.pageSize {
		end := start + r.pageSize
		if end > len(ids) {
			end = len(ids)
		}
		page, err := r.store.Orders().ExistingOrderIDs(ctx, ids[start:end])
		if err != nil {
			return nil, fmt.Errorf("check order ids: %w", err)
		}
		for id := range page {
			existing[id] = true
		}
	}

	out := &domain.ResolvedSelection{
		OrderIDs:   make([]string, 0, len(existing)),
		NotFound:   make([]string, 0),
		ResolvedAt: r.now(),
	}
	for _, id := range ids {
		if existing[id] {
			out.OrderIDs = append(out.OrderIDs, id)
		} else {
			out.NotFound = append(out.NotFound, id)
		}
	}
	out.TotalMatched = len(out.OrderIDs)
	if len(out.OrderIDs) > r.ceiling {
		out.OrderIDs = out.OrderIDs[:r.ceiling]
		out.Truncated = true
	}
	return out, nil
}

func (r *SelectionResolver) resolveFilter(ctx context.Context, filter domain.OrderFilter) (*domain.ResolvedSelection, error) {
	var (
		ids   = make([]string, 0)
		after *repository.OrderRef
		total int
	)

	for len(ids) < r.ceiling {
		limit := r.pageSize
		if remaining := r.ceiling - len(ids); remaining < limit {
			limit = remaining
		}

		refs, matched, err := r.store.Orders().ListOrderRefs(ctx, filter, after, limit)
		if err != nil {
			return nil, fmt.Errorf("list matching orders: %w", err)
		}
		if after == nil {
			total = matched
		}
		for _, ref := range refs {
			ids = append(ids, ref.ID)
		}
		if len(refs) < limit {
			break
		}
		last := refs[len(refs)-1]
		after = &last
	}

	if total < len(ids) {
		total = len(ids)
	}

	return &domain.ResolvedSelection{
		OrderIDs:     ids,
		TotalMatched: total,
		Truncated:    len(ids) >= r.ceiling && total > len(ids),
		ResolvedAt:   r.now(),
	}, nil
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

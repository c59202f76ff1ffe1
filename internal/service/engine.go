package service

import (
	"context"
	"strings"

	"github.com/andresuchdata/fulfillops/backend-go/internal/cache"
	"github.com/andresuchdata/fulfillops/backend-go/internal/config"
	"github.com/andresuchdata/fulfillops/backend-go/internal/domain"
	"github.com/andresuchdata/fulfillops/backend-go/internal/events"
	"github.com/andresuchdata/fulfillops/backend-go/internal/gateway"
	"github.com/andresuchdata/fulfillops/backend-go/internal/metrics"
	"github.com/andresuchdata/fulfillops/backend-go/internal/repository"
	"github.com/andresuchdata/fulfillops/backend-go/internal/storage"
)

// Dependencies are the collaborators the engine is assembled from.
type Dependencies struct {
	Store     repository.Store
	Plans     cache.BatchPlanStore
	Objects   storage.ObjectStorage
	Gateway   gateway.Gateway
	Publisher events.Publisher
	Metrics   *metrics.Metrics
}

// Engine groups the operations exposed to the API edge.
type Engine struct {
	store repository.Store

	Resolver *SelectionResolver
	Bulk     *BulkStatusExecutor
	Returns  *ReturnService
	Batches  *BatchPlanner
}

func NewEngine(deps Dependencies, cfg *config.Config) *Engine {
	if deps.Plans == nil {
		deps.Plans = cache.NewMemoryBatchPlanStore(0)
	}
	if deps.Objects == nil {
		deps.Objects = storage.NewMemoryStorage()
	}

	resolver := NewSelectionResolver(deps.Store, cfg.Engine, deps.Metrics)
	return &Engine{
		store:    deps.Store,
		Resolver: resolver,
		Bulk:     NewBulkStatusExecutor(deps.Store, resolver, deps.Gateway, deps.Publisher, deps.Metrics, cfg.Engine),
		Returns:  NewReturnService(deps.Store, deps.Publisher, deps.Metrics, cfg.Engine),
		Batches:  NewBatchPlanner(deps.Store, resolver, deps.Plans, deps.Objects, deps.Publisher, deps.Metrics, cfg.Engine, cfg.Storage),
	}
}

// TransitionVerdict is the answer of ValidateTransition.
type TransitionVerdict struct {
	Current domain.Status `json:"current"`
	Target  domain.Status `json:"target"`
	Allowed bool          `json:"allowed"`
	Reason  domain.Reason `json:"reason,omitempty"`
	Message string        `json:"message,omitempty"`
}

// ValidateTransition checks a pair of status labels without touching any order.
func (e *Engine) ValidateTransition(current, target string) TransitionVerdict {
	cur, _ := domain.ParseStatus(current)
	tgt, _ := domain.ParseStatus(target)

	verdict := TransitionVerdict{Current: cur, Target: tgt, Allowed: true}
	if err := domain.ValidateTransition(cur, tgt); err != nil {
		rejection := domain.AsError(err)
		verdict.Allowed = false
		verdict.Reason = rejection.Reason
		verdict.Message = rejection.Message
	}
	return verdict
}

// AllowedTransitions lists the legal next statuses of an order.
type AllowedTransitions struct {
	OrderID string          `json:"order_id"`
	Status  domain.Status   `json:"status"`
	Targets []domain.Status `json:"targets"`
	Return  bool            `json:"can_initiate_return"`
}

func (e *Engine) AllowedTransitions(ctx context.Context, orderID string) (*AllowedTransitions, error) {
	order, err := e.store.Orders().GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &AllowedTransitions{
		OrderID: order.ID,
		Status:  order.Status,
		Targets: domain.AllowedTargets(order.Status),
		Return:  order.Status.CanInitiateReturn(),
	}, nil
}

func (e *Engine) StockBalance(ctx context.Context, sku, warehouse string) (domain.StockBalance, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return domain.StockBalance{}, domain.Validation(domain.ReasonInvalidSKU, "sku is required")
	}
	return e.store.Ledger().GetStockBalance(ctx, sku, strings.TrimSpace(warehouse))
}

// OrderLedger returns the ledger entries referencing an existing order.
func (e *Engine) OrderLedger(ctx context.Context, orderID string) ([]domain.StockLedgerEntry, error) {
	if _, err := e.store.Orders().GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return e.store.Ledger().ListEntriesByOrder(ctx, orderID)
}

func (e *Engine) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return e.store.Orders().GetOrder(ctx, orderID)
}

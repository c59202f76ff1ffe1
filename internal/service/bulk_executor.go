package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/andresuchdata/fulfillops/backend-go/internal/config"
	"github.com/andresuchdata/fulfillops/backend-go/internal/domain"
	"github.com/andresuchdata/fulfillops/backend-go/internal/events"
	"github.com/andresuchdata/fulfillops/backend-go/internal/gateway"
	"github.com/andresuchdata/fulfillops/backend-go/internal/metrics"
	"github.com/andresuchdata/fulfillops/backend-go/internal/repository"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// BulkStatusRequest asks for every order of a selection to move to TargetStatus.
type BulkStatusRequest struct {
	Selection    domain.SelectionDescriptor `json:"selection"`
	TargetStatus domain.Status              `json:"target_status"`
	// ArrangeShipment calls the platform gateway before moving to READY_TO_SHIP.
	ArrangeShipment bool `json:"arrange_shipment,omitempty"`
	// RequireGateway turns a gateway failure into a per-order GATEWAY_REJECTED failure.
	RequireGateway bool `json:"require_gateway,omitempty"`
}

// BulkStatusExecutor applies one validated transition per order. Orders are
// independent units: a rejection is recorded and the rest of the batch goes on.
type BulkStatusExecutor struct {
	store     repository.Store
	resolver  *SelectionResolver
	gateway   gateway.Gateway
	publisher events.Publisher
	metrics   *metrics.Metrics
	workers   int
	now       func() time.Time
}

func NewBulkStatusExecutor(
	store repository.Store,
	resolver *SelectionResolver,
	gw gateway.Gateway,
	publisher events.Publisher,
	m *metrics.Metrics,
	cfg config.EngineConfig,
) *BulkStatusExecutor {
	workers := cfg.BulkWorkers
	if workers <= 0 {
		workers = 8
	}
	if gw == nil {
		gw = gateway.NoopGateway{}
	}
	return &BulkStatusExecutor{
		store:     store,
		resolver:  resolver,
		gateway:   gw,
		publisher: publisher,
		metrics:   m,
		workers:   workers,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Execute resolves the selection and transitions each order. Only request-level
// problems (bad target, bad selection, refused truncation) return an error.
func (e *BulkStatusExecutor) Execute(ctx context.Context, req BulkStatusRequest) (*domain.BulkResult, error) {
	if !req.TargetStatus.IsKnown() {
		return nil, domain.Validation(domain.ReasonUnknownState, "unknown target status %q", req.TargetStatus)
	}

	resolved, err := e.resolver.Resolve(ctx, req.Selection)
	if err != nil {
		return nil, err
	}

	result := &domain.BulkResult{
		TargetStatus: req.TargetStatus,
		Succeeded:    make([]string, 0, len(resolved.OrderIDs)),
		Failed:       make([]domain.BulkFailure, 0),
		TotalMatched: resolved.TotalMatched,
		Truncated:    resolved.Truncated,
	}
	if resolved.Truncated {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("selection truncated: %d of %d matching orders processed", len(resolved.OrderIDs), resolved.TotalMatched))
	}
	for _, id := range resolved.NotFound {
		result.Failed = append(result.Failed, domain.NewBulkFailure(id, domain.OrderNotFound(id)))
		e.metrics.TransitionFailed(string(domain.ReasonOrderNotFound))
	}

	ids := resolved.OrderIDs
	if req.ArrangeShipment && req.TargetStatus == domain.StatusReadyToShip && len(ids) > 0 {
		var rejected []domain.BulkFailure
		ids, rejected, err = e.arrangeShipments(ctx, ids, req.RequireGateway, result)
		if err != nil {
			return nil, err
		}
		result.Failed = append(result.Failed, rejected...)
	}

	outcomes := make([]error, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				outcomes[i] = domain.Internal(err, "bulk run cancelled").ForOrder(id)
				return nil
			}
			_, outcomes[i] = e.transition(gctx, id, req.TargetStatus)
			return nil
		})
	}
	_ = g.Wait()

	for i, id := range ids {
		if outcomes[i] == nil {
			result.Succeeded = append(result.Succeeded, id)
			e.metrics.TransitionSucceeded()
			continue
		}
		failure := domain.NewBulkFailure(id, outcomes[i])
		result.Failed = append(result.Failed, failure)
		e.metrics.TransitionFailed(string(failure.Reason))
		log.Warn().
			Str("order_id", id).
			Str("reason", string(failure.Reason)).
			Str("target", string(req.TargetStatus)).
			Msg("bulk transition rejected")
	}

	log.Info().
		Str("target", string(req.TargetStatus)).
		Int("succeeded", len(result.Succeeded)).
		Int("failed", len(result.Failed)).
		Bool("truncated", result.Truncated).
		Msg("bulk status run finished")

	return result, nil
}

// TransitionOrder is the single-order variant: NOT_FOUND and CONFLICT are
// returned to the caller rather than collected.
func (e *BulkStatusExecutor) TransitionOrder(ctx context.Context, orderID string, target domain.Status) (*domain.Order, error) {
	if !target.IsKnown() {
		return nil, domain.Validation(domain.ReasonUnknownState, "unknown target status %q", target)
	}
	order, err := e.transition(ctx, orderID, target)
	if err != nil {
		e.metrics.TransitionFailed(string(domain.ReasonOf(err)))
		return nil, err
	}
	e.metrics.TransitionSucceeded()
	return order, nil
}

// transition reads the current status, validates, and writes with the read
// status as precondition. A concurrent writer makes the update fail with CONFLICT.
func (e *BulkStatusExecutor) transition(ctx context.Context, orderID string, target domain.Status) (*domain.Order, error) {
	order, err := e.store.Orders().GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	from := order.Status
	if err := domain.ValidateTransition(from, target); err != nil {
		return nil, domain.AsError(err).ForOrder(orderID)
	}

	if err := e.store.Orders().UpdateOrderStatus(ctx, orderID, target, from); err != nil {
		return nil, err
	}

	at := e.now()
	order.Status = target
	order.UpdatedAt = at
	events.Emit(ctx, e.publisher, domain.NewStatusChangedEvent(orderID, from, target, at))
	return order, nil
}

// arrangeShipments groups ids by channel and calls the gateway once per channel.
// Only orders that may legally move to READY_TO_SHIP are sent; the others go
// on to the local transition, which rejects them with their own reason.
// It returns the ids that may proceed plus failures for refused channels.
func (e *BulkStatusExecutor) arrangeShipments(ctx context.Context, ids []string, require bool, result *domain.BulkResult) ([]string, []domain.BulkFailure, error) {
	orders, err := e.store.Orders().GetOrders(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("load orders for shipment: %w", err)
	}

	channelOf := make(map[string]domain.Channel, len(orders))
	byChannel := make(map[domain.Channel][]string)
	skipped := 0
	for _, o := range orders {
		if err := domain.ValidateTransition(o.Status, domain.StatusReadyToShip); err != nil {
			skipped++
			continue
		}
		channelOf[o.ID] = o.Channel
		byChannel[o.Channel] = append(byChannel[o.Channel], o.ID)
	}
	if skipped > 0 {
		log.Debug().Int("skipped", skipped).Msg("orders not eligible for shipment left out of gateway call")
	}

	channels := make([]domain.Channel, 0, len(byChannel))
	for ch := range byChannel {
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })

	refused := make(map[domain.Channel]string)
	for _, ch := range channels {
		res, err := e.gateway.ArrangeShipment(ctx, ch, byChannel[ch])
		switch {
		case err != nil:
			refused[ch] = err.Error()
		case !res.Success:
			refused[ch] = res.Message
		}
		e.metrics.GatewayCall(string(ch), err == nil && res.Success)
		if msg, bad := refused[ch]; bad {
			log.Warn().Str("channel", string(ch)).Str("message", msg).Bool("required", require).Msg("arrange shipment failed")
			result.Warnings = append(result.Warnings, fmt.Sprintf("arrange shipment failed for %s: %s", ch, msg))
		}
	}

	if !require || len(refused) == 0 {
		return ids, nil, nil
	}

	proceed := make([]string, 0, len(ids))
	failures := make([]domain.BulkFailure, 0)
	for _, id := range ids {
		ch, known := channelOf[id]
		if msg, bad := refused[ch]; known && bad {
			failures = append(failures, domain.BulkFailure{
				OrderID: id,
				Kind:    domain.KindValidation,
				Reason:  domain.ReasonGatewayRejected,
				Message: msg,
			})
			e.metrics.TransitionFailed(string(domain.ReasonGatewayRejected))
			continue
		}
		proceed = append(proceed, id)
	}
	return proceed, failures, nil
}

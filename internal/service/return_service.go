package service

import (
	"context"
	"strings"
	"time"

	"github.com/andresuchdata/fulfillops/backend-go/internal/config"
	"github.com/andresuchdata/fulfillops/backend-go/internal/domain"
	"github.com/andresuchdata/fulfillops/backend-go/internal/events"
	"github.com/andresuchdata/fulfillops/backend-go/internal/metrics"
	"github.com/andresuchdata/fulfillops/backend-go/internal/repository"
	"github.com/rs/zerolog/log"
)

// returnTargets are the statuses a return request may move an order to.
var returnTargets = map[domain.Status]bool{
	domain.StatusToReturn:        true,
	domain.StatusReturnInitiated: true,
	domain.StatusReturned:        true,
}

// ReturnService reconciles partial returns against order state and the stock
// ledger. One request is one transaction: ledger writes, return metadata and
// the status change commit together or not at all.
type ReturnService struct {
	store            repository.Store
	publisher        events.Publisher
	metrics          *metrics.Metrics
	defaultWarehouse string
	now              func() time.Time
}

func NewReturnService(store repository.Store, publisher events.Publisher, m *metrics.Metrics, cfg config.EngineConfig) *ReturnService {
	warehouse := strings.TrimSpace(cfg.DefaultWarehouse)
	if warehouse == "" {
		warehouse = "MAIN"
	}
	return &ReturnService{
		store:            store,
		publisher:        publisher,
		metrics:          m,
		defaultWarehouse: warehouse,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// returnGroup is the normalised quantity of one SKU in one condition.
type returnGroup struct {
	sku       string
	condition domain.ReturnCondition
	quantity  int
	reason    string
}

// ProcessReturn validates req against the order, appends one ledger entry per
// SKU and condition, records the return and moves the order to the target.
// When the target is not one hop away the order walks the shortest return
// path, e.g. SHIPPED -> TO_RETURN -> RETURNED, each hop validated.
func (s *ReturnService) ProcessReturn(ctx context.Context, req domain.ReturnRequest) (*domain.ReturnResult, error) {
	target := req.TargetStatus
	if target == "" {
		target = domain.StatusReturned
	}
	if !returnTargets[target] {
		return nil, s.reject(domain.Validation(domain.ReasonInvalidState, "%s is not a return status", target).ForOrder(req.OrderID))
	}

	var result *domain.ReturnResult
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		order, err := tx.Orders().GetOrder(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if !order.Status.CanInitiateReturn() {
			return domain.Validation(domain.ReasonInvalidState, "order in status %s cannot be returned", order.Status).ForOrder(order.ID)
		}

		groups, bySKU, err := normalizeReturnLines(order, req.Items)
		if err != nil {
			return err
		}

		path, err := domain.ReturnPath(order.Status, target)
		if err != nil {
			return domain.AsError(err).ForOrder(order.ID)
		}

		at := s.now()
		warehouse := strings.TrimSpace(order.FulfillmentLocation)
		if warehouse == "" {
			warehouse = s.defaultWarehouse
		}

		entries := make([]domain.StockLedgerEntry, 0, len(groups))
		for _, g := range groups {
			entry := ledgerEntryFor(g, order.ID, warehouse, at)
			if err := tx.Ledger().AppendEntry(ctx, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
		}

		info := domain.ReturnInfo{
			Reason: joinReasons(groups),
			Note:   strings.TrimSpace(req.Note),
		}
		if err := tx.Orders().RecordReturn(ctx, order.ID, info, at, bySKU); err != nil {
			return err
		}
		from := order.Status
		for _, hop := range path {
			if err := domain.ValidateTransition(from, hop); err != nil {
				return domain.AsError(err).ForOrder(order.ID)
			}
			if err := tx.Orders().UpdateOrderStatus(ctx, order.ID, hop, from); err != nil {
				return err
			}
			from = hop
		}

		result = &domain.ReturnResult{
			OrderID:       order.ID,
			FromStatus:    order.Status,
			Status:        target,
			Path:          path,
			LedgerEntries: entries,
			ReturnedAt:    at,
		}
		return nil
	})
	if err != nil {
		return nil, s.reject(err)
	}

	s.metrics.ReturnProcessed("success")
	for _, entry := range result.LedgerEntries {
		s.metrics.LedgerEntryWritten(string(entry.MovementType))
	}

	from := result.FromStatus
	for _, hop := range result.Path {
		events.Emit(ctx, s.publisher, domain.NewStatusChangedEvent(result.OrderID, from, hop, result.ReturnedAt))
		from = hop
	}
	events.Emit(ctx, s.publisher, domain.DomainEvent{
		Type:       domain.EventReturnProcessed,
		OrderID:    result.OrderID,
		From:       result.FromStatus,
		To:         result.Status,
		OccurredAt: result.ReturnedAt,
		Data:       map[string]interface{}{"ledger_entries": len(result.LedgerEntries)},
	})

	log.Info().
		Str("order_id", result.OrderID).
		Str("from", string(result.FromStatus)).
		Str("to", string(result.Status)).
		Int("ledger_entries", len(result.LedgerEntries)).
		Msg("return processed")

	return result, nil
}

// VerifyReturn records the operator's inspection verdict. Repeating the
// current verdict is a no-op and leaves notes untouched.
func (s *ReturnService) VerifyReturn(ctx context.Context, orderID string, verified bool, notes string) (*domain.VerifyResult, error) {
	var result *domain.VerifyResult
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		order, err := tx.Orders().GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Return == nil {
			return domain.Validation(domain.ReasonInvalidState, "order has no recorded return").ForOrder(orderID)
		}

		current := order.Return
		if current.VerifiedAt != nil && current.Verified == verified {
			result = &domain.VerifyResult{
				OrderID:  orderID,
				Verified: current.Verified,
				Notes:    current.VerificationNotes,
				Changed:  false,
				At:       current.VerifiedAt,
			}
			return nil
		}

		at := s.now()
		notes = strings.TrimSpace(notes)
		if err := tx.Orders().SetReturnVerification(ctx, orderID, verified, notes, at); err != nil {
			return err
		}
		result = &domain.VerifyResult{
			OrderID:  orderID,
			Verified: verified,
			Notes:    notes,
			Changed:  true,
			At:       &at,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Changed {
		events.Emit(ctx, s.publisher, domain.DomainEvent{
			Type:       domain.EventReturnVerified,
			OrderID:    orderID,
			OccurredAt: *result.At,
			Data:       map[string]interface{}{"verified": result.Verified},
		})
	}
	return result, nil
}

func (s *ReturnService) reject(err error) error {
	s.metrics.ReturnProcessed(strings.ToLower(string(domain.KindOf(err))))
	log.Warn().Err(err).Str("reason", string(domain.ReasonOf(err))).Msg("return rejected")
	return err
}

// normalizeReturnLines sums duplicate lines, drops zero quantities and checks
// every SKU against what the order can still return. Any bad line rejects the
// whole request.
func normalizeReturnLines(order *domain.Order, lines []domain.ReturnLine) ([]returnGroup, map[string]int, error) {
	type groupKey struct {
		sku       string
		condition domain.ReturnCondition
	}

	var (
		groups  = make([]returnGroup, 0, len(lines))
		index   = make(map[groupKey]int)
		bySKU   = make(map[string]int)
		skuSeen = make([]string, 0)
	)

	for _, line := range lines {
		sku := strings.TrimSpace(line.SKU)
		if sku == "" {
			return nil, nil, domain.Validation(domain.ReasonInvalidSKU, "return line without sku").ForOrder(order.ID)
		}
		if line.Quantity < 0 {
			return nil, nil, domain.Validation(domain.ReasonInvalidQuantity, "negative return quantity %d", line.Quantity).ForOrder(order.ID).ForSKU(sku)
		}
		condition, ok := domain.ParseReturnCondition(string(line.Condition))
		if !ok {
			return nil, nil, domain.Validation(domain.ReasonInvalidCondition, "unknown condition %q", line.Condition).ForOrder(order.ID).ForSKU(sku)
		}
		if line.Quantity == 0 {
			continue
		}

		key := groupKey{sku: sku, condition: condition}
		if i, exists := index[key]; exists {
			groups[i].quantity += line.Quantity
			if groups[i].reason == "" {
				groups[i].reason = strings.TrimSpace(line.Reason)
			}
		} else {
			index[key] = len(groups)
			groups = append(groups, returnGroup{
				sku:       sku,
				condition: condition,
				quantity:  line.Quantity,
				reason:    strings.TrimSpace(line.Reason),
			})
		}
		if _, seen := bySKU[sku]; !seen {
			skuSeen = append(skuSeen, sku)
		}
		bySKU[sku] += line.Quantity
	}

	if len(groups) == 0 {
		return nil, nil, domain.Validation(domain.ReasonEmptyReturn, "no line has a positive return quantity").ForOrder(order.ID)
	}

	for _, sku := range skuSeen {
		item, ok := order.Line(sku)
		if !ok {
			return nil, nil, domain.NotFound(domain.ReasonSKUNotInOrder, "sku %s is not part of the order", sku).ForOrder(order.ID).ForSKU(sku)
		}
		if bySKU[sku] > item.RemainingReturnable() {
			return nil, nil, domain.Validation(domain.ReasonQuantityExceeds,
				"return of %d exceeds returnable %d (ordered %d, already returned %d)",
				bySKU[sku], item.RemainingReturnable(), item.Quantity, item.ReturnedQuantity).ForOrder(order.ID).ForSKU(sku)
		}
	}

	return groups, bySKU, nil
}

// ledgerEntryFor restocks GOOD units and records DAMAGED units as a zero-effect
// scrap adjustment.
func ledgerEntryFor(g returnGroup, orderID, warehouse string, at time.Time) domain.StockLedgerEntry {
	entry := domain.StockLedgerEntry{
		SKU:       g.sku,
		Warehouse: warehouse,
		Quantity:  g.quantity,
		OrderID:   orderID,
		CreatedAt: at,
	}
	switch g.condition {
	case domain.ConditionDamaged:
		entry.MovementType = domain.MovementAdjust
		entry.Delta = 0
		entry.Reason = domain.ScrapReason(g.reason)
	default:
		entry.MovementType = domain.MovementIn
		entry.Delta = g.quantity
		entry.Reason = "return restock"
		if g.reason != "" {
			entry.Reason += ": " + g.reason
		}
	}
	return entry
}

func joinReasons(groups []returnGroup) string {
	seen := make(map[string]bool, len(groups))
	reasons := make([]string, 0, len(groups))
	for _, g := range groups {
		if g.reason == "" || seen[g.reason] {
			continue
		}
		seen[g.reason] = true
		reasons = append(reasons, g.reason)
	}
	return strings.Join(reasons, "; ")
}

// Package memory is an in-process Data Service used in dev mode and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/andresuchdata/fulfillops/backend-go/internal/domain"
	"github.com/andresuchdata/fulfillops/backend-go/internal/repository"
	"github.com/google/uuid"
)

type state struct {
	orders map[string]*domain.Order
	ledger []domain.StockLedgerEntry
}

func (st *state) clone() *state {
	c := &state{
		orders: make(map[string]*domain.Order, len(st.orders)),
		ledger: append([]domain.StockLedgerEntry(nil), st.ledger...),
	}
	for id, o := range st.orders {
		c.orders[id] = o.Clone()
	}
	return c
}

// Store keeps orders and the stock ledger in memory. Every call is serialised;
// WithinTx holds the lock for the whole unit and restores a snapshot on error.
type Store struct {
	mu sync.Mutex
	st *state
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{st: &state{orders: make(map[string]*domain.Order)}}
}

var (
	_ repository.Store                 = (*Store)(nil)
	_ repository.OrderRepository       = (*Store)(nil)
	_ repository.StockLedgerRepository = (*Store)(nil)
)

func (s *Store) Orders() repository.OrderRepository { return s }
func (s *Store) Ledger() repository.StockLedgerRepository { return s }

func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&txStore{st: s.st}); err != nil {
		*s.st = *snapshot
		return err
	}
	return nil
}

func (s *Store) CreateOrder(ctx context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.createOrder(order)
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.getOrder(id)
}

func (s *Store) GetOrders(ctx context.Context, ids []string) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.getOrders(ids), nil
}

func (s *Store) ExistingOrderIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.existing(ids), nil
}

func (s *Store) ListOrderRefs(ctx context.Context, filter domain.OrderFilter, after *repository.OrderRef, limit int) ([]repository.OrderRef, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listRefs(filter, after, limit)
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id string, next, expected domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.updateStatus(id, next, expected)
}

func (s *Store) RecordReturn(ctx context.Context, id string, info domain.ReturnInfo, returnedAt time.Time, returnedBySKU map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.recordReturn(id, info, returnedAt, returnedBySKU)
}

func (s *Store) SetReturnVerification(ctx context.Context, id string, verified bool, notes string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.setVerification(id, verified, notes, at)
}

func (s *Store) AppendEntry(ctx context.Context, entry *domain.StockLedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.appendEntry(entry)
	return nil
}

func (s *Store) GetStockBalance(ctx context.Context, sku, warehouse string) (domain.StockBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.balance(sku, warehouse), nil
}

func (s *Store) ListEntriesByOrder(ctx context.Context, orderID string) ([]domain.StockLedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.entriesByOrder(orderID), nil
}

// txStore is the lock-free view handed to WithinTx callbacks.
type txStore struct {
	st *state
}

func (t *txStore) Orders() repository.OrderRepository { return t }
func (t *txStore) Ledger() repository.StockLedgerRepository { return t }

func (t *txStore) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return fn(t)
}

func (t *txStore) CreateOrder(ctx context.Context, order *domain.Order) error {
	return t.st.createOrder(order)
}

func (t *txStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return t.st.getOrder(id)
}

func (t *txStore) GetOrders(ctx context.Context, ids []string) ([]*domain.Order, error) {
	return t.st.getOrders(ids), nil
}

func (t *txStore) ExistingOrderIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	return t.st.existing(ids), nil
}

func (t *txStore) ListOrderRefs(ctx context.Context, filter domain.OrderFilter, after *repository.OrderRef, limit int) ([]repository.OrderRef, int, error) {
	return t.st.listRefs(filter, after, limit)
}

func (t *txStore) UpdateOrderStatus(ctx context.Context, id string, next, expected domain.Status) error {
	return t.st.updateStatus(id, next, expected)
}

func (t *txStore) RecordReturn(ctx context.Context, id string, info domain.ReturnInfo, returnedAt time.Time, returnedBySKU map[string]int) error {
	return t.st.recordReturn(id, info, returnedAt, returnedBySKU)
}

func (t *txStore) SetReturnVerification(ctx context.Context, id string, verified bool, notes string, at time.Time) error {
	return t.st.setVerification(id, verified, notes, at)
}

func (t *txStore) AppendEntry(ctx context.Context, entry *domain.StockLedgerEntry) error {
	t.st.appendEntry(entry)
	return nil
}

func (t *txStore) GetStockBalance(ctx context.Context, sku, warehouse string) (domain.StockBalance, error) {
	return t.st.balance(sku, warehouse), nil
}

func (t *txStore) ListEntriesByOrder(ctx context.Context, orderID string) ([]domain.StockLedgerEntry, error) {
	return t.st.entriesByOrder(orderID), nil
}

func (st *state) createOrder(order *domain.Order) error {
	if order == nil || order.ID == "" {
		return domain.Validation(domain.ReasonInvalidSelection, "order id is required")
	}
	if _, exists := st.orders[order.ID]; exists {
		return domain.Conflict("order %s already exists", order.ID)
	}
	if err := order.ValidateLines(); err != nil {
		return err
	}
	c := order.Clone()
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	st.orders[c.ID] = c
	return nil
}

func (st *state) getOrder(id string) (*domain.Order, error) {
	o, ok := st.orders[id]
	if !ok {
		return nil, domain.OrderNotFound(id)
	}
	return o.Clone(), nil
}

func (st *state) getOrders(ids []string) []*domain.Order {
	out := make([]*domain.Order, 0, len(ids))
	for _, id := range ids {
		if o, ok := st.orders[id]; ok {
			out = append(out, o.Clone())
		}
	}
	return out
}

func (st *state) existing(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := st.orders[id]; ok {
			out[id] = true
		}
	}
	return out
}

func (st *state) listRefs(filter domain.OrderFilter, after *repository.OrderRef, limit int) ([]repository.OrderRef, int, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}
	matched := make([]repository.OrderRef, 0)
	for _, o := range st.orders {
		if filter.Matches(o) {
			matched = append(matched, repository.OrderRef{ID: o.ID, OrderedAt: o.OrderedAt})
		}
	}
	sort.Slice(matched, func(i, j int) bool { return refLess(matched[i], matched[j]) })

	start := 0
	if after != nil {
		start = sort.Search(len(matched), func(i int) bool { return refLess(*after, matched[i]) })
	}
	end := len(matched)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return append([]repository.OrderRef(nil), matched[start:end]...), len(matched), nil
}

func refLess(a, b repository.OrderRef) bool {
	if !a.OrderedAt.Equal(b.OrderedAt) {
		return a.OrderedAt.Before(b.OrderedAt)
	}
	return a.ID < b.ID
}

func (st *state) updateStatus(id string, next, expected domain.Status) error {
	o, ok := st.orders[id]
	if !ok {
		return domain.OrderNotFound(id)
	}
	if o.Status != expected {
		return domain.Conflict("order status is %s, expected %s", o.Status, expected).ForOrder(id)
	}
	o.Status = next
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (st *state) recordReturn(id string, info domain.ReturnInfo, returnedAt time.Time, returnedBySKU map[string]int) error {
	o, ok := st.orders[id]
	if !ok {
		return domain.OrderNotFound(id)
	}
	for sku, qty := range returnedBySKU {
		line, ok := o.Line(sku)
		if !ok || qty > line.RemainingReturnable() {
			return fmt.Errorf("record return: %d units of %s exceed returnable quantity", qty, sku)
		}
	}
	for sku, qty := range returnedBySKU {
		remaining := qty
		for i := range o.Items {
			if remaining == 0 {
				break
			}
			if o.Items[i].SKU != sku {
				continue
			}
			take := o.Items[i].RemainingReturnable()
			if take > remaining {
				take = remaining
			}
			o.Items[i].ReturnedQuantity += take
			remaining -= take
		}
	}
	r := info
	o.Return = &r
	at := returnedAt
	o.ReturnedAt = &at
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (st *state) setVerification(id string, verified bool, notes string, at time.Time) error {
	o, ok := st.orders[id]
	if !ok {
		return domain.OrderNotFound(id)
	}
	if o.Return == nil {
		o.Return = &domain.ReturnInfo{}
	}
	o.Return.Verified = verified
	o.Return.VerificationNotes = notes
	verifiedAt := at
	o.Return.VerifiedAt = &verifiedAt
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (st *state) appendEntry(entry *domain.StockLedgerEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	st.ledger = append(st.ledger, *entry)
}

func (st *state) balance(sku, warehouse string) domain.StockBalance {
	b := domain.StockBalance{SKU: sku, Warehouse: warehouse}
	for _, e := range st.ledger {
		if e.SKU != sku || (warehouse != "" && e.Warehouse != warehouse) {
			continue
		}
		b.Apply(e)
	}
	return b
}

func (st *state) entriesByOrder(orderID string) []domain.StockLedgerEntry {
	out := make([]domain.StockLedgerEntry, 0)
	for _, e := range st.ledger {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out
}

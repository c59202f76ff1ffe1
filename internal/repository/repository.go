package repository

import (
	"context"
	"time"

	"github.com/andresuchdata/fulfillops/backend-go/internal/domain"
)

// OrderRef is the pagination key of an order listing.
type OrderRef struct {
	ID        string    `db:"id"`
	OrderedAt time.Time `db:"ordered_at"`
}

// OrderRepository is the order half of the Data Service.
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	// GetOrders returns the orders that exist, in the order of ids.
	GetOrders(ctx context.Context, ids []string) ([]*domain.Order, error)
	ExistingOrderIDs(ctx context.Context, ids []string) (map[string]bool, error)
	// ListOrderRefs pages through matching orders ordered by (ordered_at, id),
	// starting strictly after the given ref. total is the full match count.
	ListOrderRefs(ctx context.Context, filter domain.OrderFilter, after *OrderRef, limit int) (refs []OrderRef, total int, err error)
	// UpdateOrderStatus succeeds only when the stored status equals expected;
	// otherwise it returns a CONFLICT error (or NOT_FOUND if the order is gone).
	UpdateOrderStatus(ctx context.Context, id string, next, expected domain.Status) error
	// RecordReturn stores return metadata and adds returned units per SKU.
	RecordReturn(ctx context.Context, id string, info domain.ReturnInfo, returnedAt time.Time, returnedBySKU map[string]int) error
	SetReturnVerification(ctx context.Context, id string, verified bool, notes string, at time.Time) error
}

// StockLedgerRepository is the append-only stock ledger of the Data Service.
type StockLedgerRepository interface {
	AppendEntry(ctx context.Context, entry *domain.StockLedgerEntry) error
	// GetStockBalance sums the ledger for sku; an empty warehouse spans all warehouses.
	GetStockBalance(ctx context.Context, sku, warehouse string) (domain.StockBalance, error)
	ListEntriesByOrder(ctx context.Context, orderID string) ([]domain.StockLedgerEntry, error)
}

// Store bundles the repositories with a transaction boundary.
type Store interface {
	Orders() OrderRepository
	Ledger() StockLedgerRepository
	// WithinTx runs fn against a transactional view; any error rolls every write back.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/andresuchdata/fulfillops/backend-go/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ledgerRepository only ever INSERTs into stock_ledger.
type ledgerRepository struct {
	q sqlx.ExtContext
}

func (r *ledgerRepository) AppendEntry(ctx context.Context, entry *domain.StockLedgerEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO stock_ledger (
			id, sku, warehouse, delta, quantity, movement_type, order_id, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.SKU, entry.Warehouse, entry.Delta, entry.Quantity,
		string(entry.MovementType), entry.OrderID, entry.Reason, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append stock ledger entry: %w", err)
	}
	return nil
}

func (r *ledgerRepository) GetStockBalance(ctx context.Context, sku, warehouse string) (domain.StockBalance, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN movement_type IN ('RESERVE', 'RELEASE') THEN 0 ELSE delta END), 0) AS on_hand,
			COALESCE(SUM(CASE WHEN movement_type IN ('RESERVE', 'RELEASE') THEN delta ELSE 0 END), 0) AS reserved
		FROM stock_ledger
		WHERE sku = $1 AND ($2 = '' OR warehouse = $2)`

	var row struct {
		OnHand   int `db:"on_hand"`
		Reserved int `db:"reserved"`
	}
	if err := sqlx.GetContext(ctx, r.q, &row, query, sku, warehouse); err != nil {
		return domain.StockBalance{}, fmt.Errorf("failed to get stock balance: %w", err)
	}

	return domain.StockBalance{
		SKU:       sku,
		Warehouse: warehouse,
		OnHand:    row.OnHand,
		Reserved:  row.Reserved,
		Available: row.OnHand - row.Reserved,
	}, nil
}

func (r *ledgerRepository) ListEntriesByOrder(ctx context.Context, orderID string) ([]domain.StockLedgerEntry, error) {
	query := `
		SELECT id, sku, warehouse, delta, quantity, movement_type, order_id, reason, created_at
		FROM stock_ledger
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC`

	entries := make([]domain.StockLedgerEntry, 0)
	if err := sqlx.SelectContext(ctx, r.q, &entries, query, orderID); err != nil {
		return nil, fmt.Errorf("failed to list stock ledger entries: %w", err)
	}
	return entries, nil
}

package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/andresuchdata/fulfillops/backend-go/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerRepository_AppendEntryAssignsID(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO stock_ledger")).
		WithArgs(sqlmock.AnyArg(), "SKU-A", "WH-1", 0, 2, "ADJUST", "ord-1", "scrap: torn", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	entry := &domain.StockLedgerEntry{
		SKU:          "SKU-A",
		Warehouse:    "WH-1",
		Delta:        0,
		Quantity:     2,
		MovementType: domain.MovementAdjust,
		OrderID:      "ord-1",
		Reason:       "scrap: torn",
	}
	require.NoError(t, store.Ledger().AppendEntry(context.Background(), entry))

	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepository_GetStockBalance(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM stock_ledger WHERE sku = $1 AND ($2 = '' OR warehouse = $2)")).
		WithArgs("SKU-A", "").
		WillReturnRows(sqlmock.NewRows([]string{"on_hand", "reserved"}).AddRow(12, 5))

	balance, err := store.Ledger().GetStockBalance(context.Background(), "SKU-A", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StockBalance{SKU: "SKU-A", OnHand: 12, Reserved: 5, Available: 7}, balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepository_ListEntriesByOrder(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM stock_ledger WHERE order_id = $1 ORDER BY created_at ASC, id ASC")).
		WithArgs("ord-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "sku", "warehouse", "delta", "quantity", "movement_type", "order_id", "reason", "created_at",
		}).
			AddRow("e1", "SKU-A", "WH-1", 3, 3, "IN", "ord-1", "return restock", at).
			AddRow("e2", "SKU-B", "WH-1", 0, 1, "ADJUST", "ord-1", "scrap: damaged on return", at))

	entries, err := store.Ledger().ListEntriesByOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.MovementIn, entries[0].MovementType)
	assert.Equal(t, 0, entries[1].Delta)
	assert.Equal(t, 1, entries[1].Quantity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

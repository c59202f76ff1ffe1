package domain

import (
	"strings"
	"time"
)

// MovementType is the kind of inventory event a ledger entry records.
type MovementType string

const (
	MovementIn      MovementType = "IN"
	MovementOut     MovementType = "OUT"
	MovementReserve MovementType = "RESERVE"
	MovementRelease MovementType = "RELEASE"
	MovementAdjust  MovementType = "ADJUST"
)

// StockLedgerEntry is one immutable inventory event. The ledger is append-only.
type StockLedgerEntry struct {
	ID           string       `json:"id" db:"id"`
	SKU          string       `json:"sku" db:"sku"`
	Warehouse    string       `json:"warehouse" db:"warehouse"`
	Delta        int          `json:"delta" db:"delta"`
	Quantity     int          `json:"quantity" db:"quantity"`
	MovementType MovementType `json:"movement_type" db:"movement_type"`
	OrderID      string       `json:"order_id" db:"order_id"`
	Reason       string       `json:"reason" db:"reason"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
}

// StockBalance is the running position of a SKU, optionally scoped to a warehouse.
type StockBalance struct {
	SKU       string `json:"sku" db:"sku"`
	Warehouse string `json:"warehouse,omitempty" db:"warehouse"`
	OnHand    int    `json:"on_hand" db:"on_hand"`
	Reserved  int    `json:"reserved" db:"reserved"`
	Available int    `json:"available" db:"available"`
}

// Apply folds one entry into the balance. RESERVE and RELEASE move the reserved
// figure; IN, OUT and ADJUST move on-hand.
func (b *StockBalance) Apply(e StockLedgerEntry) {
	switch e.MovementType {
	case MovementReserve, MovementRelease:
		b.Reserved += e.Delta
	default:
		b.OnHand += e.Delta
	}
	b.Available = b.OnHand - b.Reserved
}

// ScrapReason formats the audit reason of a damaged-goods adjustment.
func ScrapReason(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "scrap: damaged on return"
	}
	return "scrap: " + reason
}

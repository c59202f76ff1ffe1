package domain

import (
	"strings"
	"time"
)

// BulkFailure records why one order of a bulk run was not transitioned.
type BulkFailure struct {
	OrderID string `json:"id"`
	Kind    Kind   `json:"kind"`
	Reason  Reason `json:"reason"`
	Message string `json:"message,omitempty"`
}

// BulkResult is the partial-success summary of a bulk status run.
type BulkResult struct {
	TargetStatus Status        `json:"target_status"`
	Succeeded    []string      `json:"succeeded"`
	Failed       []BulkFailure `json:"failed"`
	TotalMatched int           `json:"total_matched"`
	Truncated    bool          `json:"truncated"`
	Warnings     []string      `json:"warnings,omitempty"`
}

// NewBulkFailure converts err into a per-order failure row.
func NewBulkFailure(orderID string, err error) BulkFailure {
	e := AsError(err)
	return BulkFailure{
		OrderID: orderID,
		Kind:    e.Kind,
		Reason:  e.Reason,
		Message: e.Message,
	}
}

// ReturnCondition is the inspected state of returned goods.
type ReturnCondition string

const (
	ConditionGood    ReturnCondition = "GOOD"
	ConditionDamaged ReturnCondition = "DAMAGED"
)

// ParseReturnCondition normalises a condition label.
func ParseReturnCondition(label string) (ReturnCondition, bool) {
	c := ReturnCondition(strings.ToUpper(strings.TrimSpace(label)))
	switch c {
	case ConditionGood, ConditionDamaged:
		return c, true
	default:
		return c, false
	}
}

// ReturnLine is one requested line of a partial return.
type ReturnLine struct {
	SKU       string          `json:"sku"`
	Quantity  int             `json:"return_quantity"`
	Condition ReturnCondition `json:"condition"`
	Reason    string          `json:"reason"`
}

// ReturnRequest is the input of return reconciliation.
type ReturnRequest struct {
	OrderID string       `json:"order_id"`
	Items   []ReturnLine `json:"items"`
	Note    string       `json:"note,omitempty"`
	// TargetStatus defaults to RETURNED; intermediate statuses record partial progress.
	TargetStatus Status `json:"target_status,omitempty"`
}

// ReturnResult is what a successful reconciliation produced.
type ReturnResult struct {
	OrderID       string             `json:"order_id"`
	FromStatus    Status             `json:"from_status"`
	Status        Status             `json:"status"`
	Path          []Status           `json:"path"`
	LedgerEntries []StockLedgerEntry `json:"ledger_entries"`
	ReturnedAt    time.Time          `json:"returned_at"`
}

// VerifyResult reports the outcome of a return verification call.
type VerifyResult struct {
	OrderID  string     `json:"order_id"`
	Verified bool       `json:"verified"`
	Notes    string     `json:"notes,omitempty"`
	Changed  bool       `json:"changed"`
	At       *time.Time `json:"verified_at,omitempty"`
}

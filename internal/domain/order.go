package domain

import (
	"math"
	"strings"
	"time"
)

// Channel is the marketplace an order originated from.
type Channel string

const (
	ChannelShopee   Channel = "SHOPEE"
	ChannelLazada   Channel = "LAZADA"
	ChannelTiktok   Channel = "TIKTOK"
	ChannelFacebook Channel = "FACEBOOK"
	ChannelManual   Channel = "MANUAL"
)

// ParseChannel returns the channel for a case-insensitive label.
func ParseChannel(label string) (Channel, bool) {
	c := Channel(strings.ToUpper(strings.TrimSpace(label)))
	switch c {
	case ChannelShopee, ChannelLazada, ChannelTiktok, ChannelFacebook, ChannelManual:
		return c, true
	default:
		return c, false
	}
}

// TotalsTolerance absorbs currency rounding when checking order totals.
const TotalsTolerance = 0.01

// Order is a marketplace order as seen by the fulfillment engine.
type Order struct {
	ID                  string      `json:"id" db:"id"`
	ExternalOrderID     *string     `json:"external_order_id,omitempty" db:"external_order_id"`
	Channel             Channel     `json:"channel" db:"channel"`
	Status              Status      `json:"status" db:"status"`
	Items               []LineItem  `json:"items" db:"-"`
	Subtotal            float64     `json:"subtotal" db:"subtotal"`
	Discount            float64     `json:"discount" db:"discount"`
	ShippingFee         float64     `json:"shipping_fee" db:"shipping_fee"`
	GrandTotal          float64     `json:"grand_total" db:"grand_total"`
	FulfillmentLocation string      `json:"fulfillment_location" db:"fulfillment_location"`
	OrderedAt           time.Time   `json:"ordered_at" db:"ordered_at"`
	ReturnedAt          *time.Time  `json:"returned_at,omitempty" db:"returned_at"`
	Return              *ReturnInfo `json:"return,omitempty" db:"-"`
	UpdatedAt           time.Time   `json:"updated_at" db:"updated_at"`
}

// LineItem is one SKU line of an order.
type LineItem struct {
	SKU              string  `json:"sku" db:"sku"`
	Quantity         int     `json:"quantity" db:"quantity"`
	UnitPrice        float64 `json:"unit_price" db:"unit_price"`
	LineTotal        float64 `json:"line_total" db:"line_total"`
	ReturnedQuantity int     `json:"returned_quantity" db:"returned_quantity"`
}

// RemainingReturnable is how many units of the line can still be returned.
func (l LineItem) RemainingReturnable() int {
	return l.Quantity - l.ReturnedQuantity
}

// ReturnInfo is present only while the order is in the return family.
type ReturnInfo struct {
	Reason            string     `json:"reason"`
	Note              string     `json:"note,omitempty"`
	Verified          bool       `json:"verified"`
	VerificationNotes string     `json:"verification_notes,omitempty"`
	VerifiedAt        *time.Time `json:"verified_at,omitempty"`
}

// Line returns the aggregated line for sku, summing duplicate lines.
func (o *Order) Line(sku string) (LineItem, bool) {
	var (
		out   LineItem
		found bool
	)
	for _, item := range o.Items {
		if item.SKU != sku {
			continue
		}
		if !found {
			out = item
			found = true
			continue
		}
		out.Quantity += item.Quantity
		out.LineTotal += item.LineTotal
		out.ReturnedQuantity += item.ReturnedQuantity
	}
	return out, found
}

// TotalsBalanced checks sum(line totals) + shipping - discount == grand total.
func (o *Order) TotalsBalanced() bool {
	var sum float64
	for _, item := range o.Items {
		sum += item.LineTotal
	}
	return math.Abs(sum+o.ShippingFee-o.Discount-o.GrandTotal) <= TotalsTolerance
}

// ValidateLines checks the per-line quantity invariants.
func (o *Order) ValidateLines() error {
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			return Validation(ReasonInvalidQuantity, "line %s has non-positive quantity %d", item.SKU, item.Quantity).ForOrder(o.ID)
		}
		if item.ReturnedQuantity < 0 || item.ReturnedQuantity > item.Quantity {
			return Validation(ReasonQuantityExceeds, "line %s returned %d of %d", item.SKU, item.ReturnedQuantity, item.Quantity).ForOrder(o.ID)
		}
	}
	return nil
}

// Clone returns a deep copy of o.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]LineItem(nil), o.Items...)
	if o.ExternalOrderID != nil {
		v := *o.ExternalOrderID
		c.ExternalOrderID = &v
	}
	if o.ReturnedAt != nil {
		v := *o.ReturnedAt
		c.ReturnedAt = &v
	}
	if o.Return != nil {
		r := *o.Return
		if o.Return.VerifiedAt != nil {
			v := *o.Return.VerifiedAt
			r.VerifiedAt = &v
		}
		c.Return = &r
	}
	return &c
}

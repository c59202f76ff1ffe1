package domain

import (
	"strings"
	"time"
)

// SKUQuantity matches orders containing SKU with exactly Quantity units.
type SKUQuantity struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// OrderFilter describes "every order matching" a set of criteria.
type OrderFilter struct {
	StatusGroup   string        `json:"status_group,omitempty"`
	Statuses      []Status      `json:"statuses,omitempty"`
	Channel       Channel       `json:"channel,omitempty"`
	From          *time.Time    `json:"from,omitempty"`
	To            *time.Time    `json:"to,omitempty"`
	Search        string        `json:"search,omitempty"`
	SKUQuantities []SKUQuantity `json:"sku_quantities,omitempty"`
}

// EffectiveStatuses merges Statuses with the expansion of StatusGroup.
func (f OrderFilter) EffectiveStatuses() ([]Status, error) {
	group, ok := StatusGroup(f.StatusGroup)
	if !ok {
		return nil, Validation(ReasonInvalidSelection, "unknown status group %q", f.StatusGroup)
	}
	for _, s := range f.Statuses {
		if !s.IsKnown() {
			return nil, Validation(ReasonUnknownState, "unknown status %q", s)
		}
	}
	if len(f.Statuses) == 0 {
		return group, nil
	}
	if len(group) == 0 {
		return append([]Status(nil), f.Statuses...), nil
	}
	inGroup := make(map[Status]bool, len(group))
	for _, s := range group {
		inGroup[s] = true
	}
	out := make([]Status, 0, len(f.Statuses))
	for _, s := range f.Statuses {
		if inGroup[s] {
			out = append(out, s)
		}
	}
	return out, nil
}

// Validate checks the filter for malformed criteria.
func (f OrderFilter) Validate() error {
	if _, err := f.EffectiveStatuses(); err != nil {
		return err
	}
	if f.Channel != "" {
		if _, ok := ParseChannel(string(f.Channel)); !ok {
			return Validation(ReasonInvalidSelection, "unknown channel %q", f.Channel)
		}
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return Validation(ReasonInvalidSelection, "date range end precedes start")
	}
	for _, p := range f.SKUQuantities {
		if strings.TrimSpace(p.SKU) == "" || p.Quantity <= 0 {
			return Validation(ReasonInvalidSelection, "sku quantity predicate needs a sku and a positive quantity")
		}
	}
	return nil
}

// Matches evaluates the filter against an order in memory.
func (f OrderFilter) Matches(o *Order) bool {
	statuses, err := f.EffectiveStatuses()
	if err != nil {
		return false
	}
	if f.StatusGroup != "" && !strings.EqualFold(f.StatusGroup, "all") && len(statuses) == 0 {
		return false
	}
	if len(statuses) > 0 && !containsStatus(statuses, o.Status) {
		return false
	}
	if f.Channel != "" && o.Channel != f.Channel {
		return false
	}
	if f.From != nil && o.OrderedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && o.OrderedAt.After(*f.To) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" && !orderMatchesSearch(o, q) {
		return false
	}
	for _, p := range f.SKUQuantities {
		line, ok := o.Line(p.SKU)
		if !ok || line.Quantity != p.Quantity {
			return false
		}
	}
	return true
}

func orderMatchesSearch(o *Order, q string) bool {
	if strings.Contains(strings.ToLower(o.ID), q) {
		return true
	}
	if o.ExternalOrderID != nil && strings.Contains(strings.ToLower(*o.ExternalOrderID), q) {
		return true
	}
	for _, item := range o.Items {
		if strings.Contains(strings.ToLower(item.SKU), q) {
			return true
		}
	}
	return false
}

func containsStatus(statuses []Status, s Status) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// SelectionDescriptor is a bulk selection intent: an explicit ID set or a filter.
// It is resolved just before execution and never cached across mutations.
type SelectionDescriptor struct {
	OrderIDs []string     `json:"order_ids,omitempty"`
	Filter   *OrderFilter `json:"filter,omitempty"`
	// RejectTruncated makes resolution fail with CAPACITY instead of truncating.
	RejectTruncated bool `json:"reject_truncated,omitempty"`
}

// IsExplicit reports whether the descriptor carries an explicit ID set.
func (d SelectionDescriptor) IsExplicit() bool {
	return d.Filter == nil
}

// Validate checks that exactly one variant is populated.
func (d SelectionDescriptor) Validate() error {
	switch {
	case d.Filter != nil && len(d.OrderIDs) > 0:
		return Validation(ReasonInvalidSelection, "selection must be either explicit ids or a filter, not both")
	case d.Filter != nil:
		return d.Filter.Validate()
	case len(d.OrderIDs) == 0:
		return Validation(ReasonEmptySelection, "selection is empty")
	}
	return nil
}

// ResolvedSelection is the concrete unit of work produced for one execution.
type ResolvedSelection struct {
	OrderIDs     []string  `json:"order_ids"`
	TotalMatched int       `json:"total_matched"`
	Truncated    bool      `json:"truncated"`
	NotFound     []string  `json:"not_found,omitempty"`
	ResolvedAt   time.Time `json:"resolved_at"`
}

package domain

import "time"

// EventType names a domain event.
type EventType string

const (
	EventOrderStatusChanged EventType = "order.status_changed"
	EventReturnProcessed    EventType = "order.return_processed"
	EventReturnVerified     EventType = "order.return_verified"
	EventBatchPlanned       EventType = "batch.planned"
	EventBatchDiscarded     EventType = "batch.discarded"
)

// DomainEvent is emitted after a state change has been persisted.
type DomainEvent struct {
	Type       EventType              `json:"type"`
	OrderID    string                 `json:"order_id,omitempty"`
	From       Status                 `json:"from,omitempty"`
	To         Status                 `json:"to,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// NewStatusChangedEvent builds the event emitted for every persisted transition.
func NewStatusChangedEvent(orderID string, from, to Status, at time.Time) DomainEvent {
	return DomainEvent{
		Type:       EventOrderStatusChanged,
		OrderID:    orderID,
		From:       from,
		To:         to,
		OccurredAt: at,
	}
}

package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error for callers.
type Kind string

const (
	KindValidation Kind = "VALIDATION"
	KindNotFound   Kind = "NOT_FOUND"
	KindConflict   Kind = "CONFLICT"
	KindCapacity   Kind = "CAPACITY"
	KindInternal   Kind = "INTERNAL"
)

// Reason is a machine-readable rejection code.
type Reason string

const (
	ReasonUnknownState       Reason = "UNKNOWN_STATE"
	ReasonTerminalState      Reason = "TERMINAL_STATE"
	ReasonIllegalTransition  Reason = "ILLEGAL_TRANSITION"
	ReasonOrderNotFound      Reason = "ORDER_NOT_FOUND"
	ReasonNotFound           Reason = "NOT_FOUND"
	ReasonInvalidState       Reason = "INVALID_STATE"
	ReasonEmptyReturn        Reason = "EMPTY_RETURN"
	ReasonQuantityExceeds    Reason = "QUANTITY_EXCEEDS_ORDERED"
	ReasonSKUNotInOrder      Reason = "SKU_NOT_IN_ORDER"
	ReasonInvalidCondition   Reason = "INVALID_CONDITION"
	ReasonInvalidQuantity    Reason = "INVALID_QUANTITY"
	ReasonInvalidSKU         Reason = "INVALID_SKU"
	ReasonEmptySelection     Reason = "EMPTY_SELECTION"
	ReasonInvalidSelection   Reason = "INVALID_SELECTION"
	ReasonInvalidChunkSize   Reason = "INVALID_CHUNK_SIZE"
	ReasonConflict           Reason = "CONFLICT"
	ReasonSelectionTruncated Reason = "SELECTION_TRUNCATED"
	ReasonBatchNotFound      Reason = "BATCH_NOT_FOUND"
	ReasonChunkOutOfRange    Reason = "CHUNK_OUT_OF_RANGE"
	ReasonGatewayRejected    Reason = "GATEWAY_REJECTED"
	ReasonInvalidRequest     Reason = "INVALID_REQUEST"
	ReasonInternal           Reason = "INTERNAL"
)

var (
	// ErrNotFound matches any NOT_FOUND *Error via errors.Is.
	ErrNotFound = &Error{Kind: KindNotFound, Reason: ReasonNotFound, Message: "not found"}
	// ErrConflict matches any CONFLICT *Error via errors.Is.
	ErrConflict = &Error{Kind: KindConflict, Reason: ReasonConflict, Message: "concurrent modification"}
)

// Error is the engine's error type. Every rejection surfaced to a caller is one of these.
type Error struct {
	Kind    Kind   `json:"kind"`
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
	OrderID string `json:"order_id,omitempty"`
	SKU     string `json:"sku,omitempty"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s/%s: %s", e.Kind, e.Reason, e.Message)
	if e.OrderID != "" {
		msg += " (order " + e.OrderID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind so errors.Is(err, ErrConflict) works for any conflict.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t == ErrNotFound || t == ErrConflict {
		return e.Kind == t.Kind
	}
	return e.Kind == t.Kind && e.Reason == t.Reason
}

// ForOrder returns a copy of e bound to orderID.
func (e *Error) ForOrder(orderID string) *Error {
	c := *e
	c.OrderID = orderID
	return &c
}

// ForSKU returns a copy of e bound to sku.
func (e *Error) ForSKU(sku string) *Error {
	c := *e
	c.SKU = sku
	return &c
}

func newError(kind Kind, reason Reason, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Validation builds a VALIDATION error.
func Validation(reason Reason, format string, args ...interface{}) *Error {
	return newError(KindValidation, reason, format, args...)
}

// NotFound builds a NOT_FOUND error.
func NotFound(reason Reason, format string, args ...interface{}) *Error {
	return newError(KindNotFound, reason, format, args...)
}

// Conflict builds a CONFLICT error.
func Conflict(format string, args ...interface{}) *Error {
	return newError(KindConflict, ReasonConflict, format, args...)
}

// Capacity builds a CAPACITY error.
func Capacity(reason Reason, format string, args ...interface{}) *Error {
	return newError(KindCapacity, reason, format, args...)
}

// Internal wraps an unexpected failure.
func Internal(err error, format string, args ...interface{}) *Error {
	e := newError(KindInternal, ReasonInternal, format, args...)
	e.Err = err
	return e
}

// OrderNotFound is the single-order NOT_FOUND error.
func OrderNotFound(orderID string) *Error {
	e := NotFound(ReasonOrderNotFound, "order not found")
	e.OrderID = orderID
	return e
}

// KindOf extracts the Kind of err, defaulting to INTERNAL.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ReasonOf extracts the Reason of err, defaulting to INTERNAL.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonInternal
}

// AsError converts any error into an *Error, wrapping unknown errors as INTERNAL.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err, "unexpected failure")
}

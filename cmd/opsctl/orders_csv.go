package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/andresuchdata/fulfillops/backend-go/internal/domain"
)

// orderColumns is the expected CSV header. Each row is one line item; rows
// sharing an order_id form one order and must repeat the order-level fields.
var orderColumns = []string{
	"order_id", "external_order_id", "channel", "status", "ordered_at", "fulfillment_location",
	"sku", "quantity", "unit_price", "line_total", "discount", "shipping_fee", "grand_total",
}

// readOrdersCSV parses r into orders, preserving first-seen order. Orders whose
// totals do not balance are rejected.
func readOrdersCSV(r io.Reader) ([]*domain.Order, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range orderColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	var (
		orders []*domain.Order
		byID   = make(map[string]*domain.Order)
		line   = 1
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		field := func(name string) string {
			return strings.TrimSpace(record[index[name]])
		}

		id := field("order_id")
		if id == "" {
			return nil, fmt.Errorf("line %d: order_id is required", line)
		}

		item, err := parseLineItem(field)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		if order, ok := byID[id]; ok {
			order.Items = append(order.Items, item)
			order.Subtotal += item.LineTotal
			continue
		}

		order, err := parseOrderHeader(id, field)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		order.Items = []domain.LineItem{item}
		order.Subtotal = item.LineTotal
		byID[id] = order
		orders = append(orders, order)
	}

	for _, order := range orders {
		if !order.TotalsBalanced() {
			return nil, fmt.Errorf("order %s: line totals + shipping - discount != grand total %.2f", order.ID, order.GrandTotal)
		}
		if err := order.ValidateLines(); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func parseOrderHeader(id string, field func(string) string) (*domain.Order, error) {
	channel, ok := domain.ParseChannel(field("channel"))
	if !ok {
		return nil, fmt.Errorf("unknown channel %q", field("channel"))
	}
	status, ok := domain.ParseStatus(field("status"))
	if !ok {
		return nil, fmt.Errorf("unknown status %q", field("status"))
	}
	orderedAt, err := time.Parse(time.RFC3339, field("ordered_at"))
	if err != nil {
		return nil, fmt.Errorf("invalid ordered_at: %w", err)
	}

	var money [3]float64
	for i, name := range []string{"discount", "shipping_fee", "grand_total"} {
		if money[i], err = parseAmount(field(name)); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	order := &domain.Order{
		ID:                  id,
		Channel:             channel,
		Status:              status,
		Discount:            money[0],
		ShippingFee:         money[1],
		GrandTotal:          money[2],
		FulfillmentLocation: field("fulfillment_location"),
		OrderedAt:           orderedAt.UTC(),
	}
	if ext := field("external_order_id"); ext != "" {
		order.ExternalOrderID = &ext
	}
	return order, nil
}

func parseLineItem(field func(string) string) (domain.LineItem, error) {
	sku := field("sku")
	if sku == "" {
		return domain.LineItem{}, errors.New("sku is required")
	}
	qty, err := strconv.Atoi(field("quantity"))
	if err != nil {
		return domain.LineItem{}, fmt.Errorf("invalid quantity: %w", err)
	}
	unitPrice, err := parseAmount(field("unit_price"))
	if err != nil {
		return domain.LineItem{}, fmt.Errorf("invalid unit_price: %w", err)
	}
	lineTotal, err := parseAmount(field("line_total"))
	if err != nil {
		return domain.LineItem{}, fmt.Errorf("invalid line_total: %w", err)
	}
	return domain.LineItem{SKU: sku, Quantity: qty, UnitPrice: unitPrice, LineTotal: lineTotal}, nil
}

func parseAmount(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

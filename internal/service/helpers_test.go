package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/andresuchdata/fulfillops/backend-go/internal/config"
	"github.com/andresuchdata/fulfillops/backend-go/internal/domain"
	"github.com/andresuchdata/fulfillops/backend-go/internal/events"
	"github.com/andresuchdata/fulfillops/backend-go/internal/repository/memory"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		Engine: config.EngineConfig{
			Store:             "memory",
			SelectionCeiling:  5000,
			SelectionPageSize: 500,
			DefaultChunkSize:  50,
			PreviewTopN:       3,
			BulkWorkers:       4,
			DefaultWarehouse:  "MAIN",
		},
		Storage: config.StorageConfig{Prefix: "batches/"},
	}
}

type orderOpt func(*domain.Order)

func withItems(items ...domain.LineItem) orderOpt {
	return func(o *domain.Order) { o.Items = items }
}

func withChannel(ch domain.Channel) orderOpt {
	return func(o *domain.Order) { o.Channel = ch }
}

func withLocation(loc string) orderOpt {
	return func(o *domain.Order) { o.FulfillmentLocation = loc }
}

func item(sku string, qty int) domain.LineItem {
	return domain.LineItem{SKU: sku, Quantity: qty, UnitPrice: 10, LineTotal: float64(qty) * 10}
}

func seedOrder(t *testing.T, store *memory.Store, id string, status domain.Status, offset int, opts ...orderOpt) *domain.Order {
	t.Helper()
	o := &domain.Order{
		ID:                  id,
		Channel:             domain.ChannelShopee,
		Status:              status,
		Items:               []domain.LineItem{item("SKU-A", 1)},
		FulfillmentLocation: "WH-1",
		OrderedAt:           baseTime.Add(time.Duration(offset) * time.Minute),
	}
	for _, opt := range opts {
		opt(o)
	}
	var total float64
	for _, it := range o.Items {
		total += it.LineTotal
	}
	o.Subtotal = total
	o.GrandTotal = total
	require.NoError(t, store.CreateOrder(context.Background(), o))
	return o
}

func seedMany(t *testing.T, store *memory.Store, n int, status domain.Status) []string {
	t.Helper()
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = fmt.Sprintf("ord-%05d", i)
		seedOrder(t, store, ids[i], status, i)
	}
	return ids
}

func newTestEngine(store *memory.Store) (*Engine, *events.Recorder) {
	rec := &events.Recorder{}
	return NewEngine(Dependencies{Store: store, Publisher: rec}, testConfig()), rec
}

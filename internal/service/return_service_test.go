package service

import (
	"context"
	"errors"
	"testing"

	"github.com/andresuchdata/fulfillops/backend-go/internal/domain"
	"github.com/andresuchdata/fulfillops/backend-go/internal/events"
	"github.com/andresuchdata/fulfillops/backend-go/internal/repository"
	"github.com/andresuchdata/fulfillops/backend-go/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyLedgerStore fails the nth ledger append inside a transaction.
type flakyLedgerStore struct {
	repository.Store
	failOn int
	seen   *int
}

func (s *flakyLedgerStore) Ledger() repository.StockLedgerRepository {
	return &flakyLedger{StockLedgerRepository: s.Store.Ledger(), failOn: s.failOn, seen: s.seen}
}

func (s *flakyLedgerStore) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return s.Store.WithinTx(ctx, func(tx repository.Store) error {
		return fn(&flakyLedgerStore{Store: tx, failOn: s.failOn, seen: s.seen})
	})
}

type flakyLedger struct {
	repository.StockLedgerRepository
	failOn int
	seen   *int
}

func (l *flakyLedger) AppendEntry(ctx context.Context, entry *domain.StockLedgerEntry) error {
	*l.seen++
	if *l.seen == l.failOn {
		return errors.New("ledger unavailable")
	}
	return l.StockLedgerRepository.AppendEntry(ctx, entry)
}

func returnFixture(t *testing.T, status domain.Status) *memory.Store {
	store := memory.NewStore()
	seedOrder(t, store, "r-1", status, 0,
		withItems(item("SKU-GOOD", 3), item("SKU-BAD", 2)),
		withLocation("WH-JKT"))
	return store
}

func TestProcessReturn_GoodAndDamaged(t *testing.T) {
	store := returnFixture(t, domain.StatusDelivered)
	engine, rec := newTestEngine(store)

	result, err := engine.Returns.ProcessReturn(context.Background(), domain.ReturnRequest{
		OrderID: "r-1",
		Items: []domain.ReturnLine{
			{SKU: "SKU-GOOD", Quantity: 2, Condition: domain.ConditionGood, Reason: "wrong size"},
			{SKU: "SKU-BAD", Quantity: 1, Condition: domain.ConditionDamaged, Reason: "crushed box"},
		},
		Note: "customer dropped off",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDelivered, result.FromStatus)
	assert.Equal(t, domain.StatusReturned, result.Status)

	entries, err := store.ListEntriesByOrder(context.Background(), "r-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	in, adjust := entries[0], entries[1]
	assert.Equal(t, domain.MovementIn, in.MovementType)
	assert.Equal(t, "SKU-GOOD", in.SKU)
	assert.Equal(t, 2, in.Delta)
	assert.Equal(t, "WH-JKT", in.Warehouse)

	assert.Equal(t, domain.MovementAdjust, adjust.MovementType)
	assert.Equal(t, "SKU-BAD", adjust.SKU)
	assert.Equal(t, 0, adjust.Delta)
	assert.Equal(t, 1, adjust.Quantity)
	assert.Equal(t, "scrap: crushed box", adjust.Reason)

	order, err := store.GetOrder(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReturned, order.Status)
	require.NotNil(t, order.ReturnedAt)
	require.NotNil(t, order.Return)
	assert.Equal(t, "wrong size; crushed box", order.Return.Reason)
	assert.Equal(t, "customer dropped off", order.Return.Note)
	good, _ := order.Line("SKU-GOOD")
	assert.Equal(t, 2, good.ReturnedQuantity)

	balance, err := store.GetStockBalance(context.Background(), "SKU-GOOD", "WH-JKT")
	require.NoError(t, err)
	assert.Equal(t, 2, balance.OnHand)
	bad, err := store.GetStockBalance(context.Background(), "SKU-BAD", "")
	require.NoError(t, err)
	assert.Equal(t, 0, bad.OnHand, "damaged goods never become sellable")

	types := map[domain.EventType]int{}
	for _, ev := range rec.Events() {
		types[ev.Type]++
	}
	assert.Equal(t, 1, types[domain.EventOrderStatusChanged])
	assert.Equal(t, 1, types[domain.EventReturnProcessed])
}

func TestProcessReturn_RejectionsWriteNothing(t *testing.T) {
	tests := []struct {
		name   string
		status domain.Status
		req    domain.ReturnRequest
		kind   domain.Kind
		reason domain.Reason
	}{
		{
			name:   "quantity exceeds ordered",
			status: domain.StatusDelivered,
			req: domain.ReturnRequest{OrderID: "r-1", Items: []domain.ReturnLine{
				{SKU: "SKU-BAD", Quantity: 1, Condition: domain.ConditionDamaged},
				{SKU: "SKU-GOOD", Quantity: 4, Condition: domain.ConditionGood},
			}},
			kind:   domain.KindValidation,
			reason: domain.ReasonQuantityExceeds,
		},
		{
			name:   "duplicate lines summed past ordered",
			status: domain.StatusDelivered,
			req: domain.ReturnRequest{OrderID: "r-1", Items: []domain.ReturnLine{
				{SKU: "SKU-GOOD", Quantity: 2, Condition: domain.ConditionGood},
				{SKU: "SKU-GOOD", Quantity: 2, Condition: domain.ConditionDamaged},
			}},
			kind:   domain.KindValidation,
			reason: domain.ReasonQuantityExceeds,
		},
		{
			name:   "empty return",
			status: domain.StatusDelivered,
			req: domain.ReturnRequest{OrderID: "r-1", Items: []domain.ReturnLine{
				{SKU: "SKU-GOOD", Quantity: 0, Condition: domain.ConditionGood},
			}},
			kind:   domain.KindValidation,
			reason: domain.ReasonEmptyReturn,
		},
		{
			name:   "unknown sku",
			status: domain.StatusDelivered,
			req: domain.ReturnRequest{OrderID: "r-1", Items: []domain.ReturnLine{
				{SKU: "SKU-OTHER", Quantity: 1, Condition: domain.ConditionGood},
			}},
			kind:   domain.KindNotFound,
			reason: domain.ReasonSKUNotInOrder,
		},
		{
			name:   "bad condition",
			status: domain.StatusDelivered,
			req: domain.ReturnRequest{OrderID: "r-1", Items: []domain.ReturnLine{
				{SKU: "SKU-GOOD", Quantity: 1, Condition: "USED"},
			}},
			kind:   domain.KindValidation,
			reason: domain.ReasonInvalidCondition,
		},
		{
			name:   "not eligible",
			status: domain.StatusPacking,
			req: domain.ReturnRequest{OrderID: "r-1", Items: []domain.ReturnLine{
				{SKU: "SKU-GOOD", Quantity: 1, Condition: domain.ConditionGood},
			}},
			kind:   domain.KindValidation,
			reason: domain.ReasonInvalidState,
		},
		{
			name:   "missing order",
			status: domain.StatusDelivered,
			req: domain.ReturnRequest{OrderID: "ghost", Items: []domain.ReturnLine{
				{SKU: "SKU-GOOD", Quantity: 1, Condition: domain.ConditionGood},
			}},
			kind:   domain.KindNotFound,
			reason: domain.ReasonOrderNotFound,
		},
		{
			name:   "illegal intermediate target",
			status: domain.StatusDelivered,
			req: domain.ReturnRequest{OrderID: "r-1", TargetStatus: domain.StatusReturnInitiated, Items: []domain.ReturnLine{
				{SKU: "SKU-GOOD", Quantity: 1, Condition: domain.ConditionGood},
			}},
			kind:   domain.KindValidation,
			reason: domain.ReasonIllegalTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := returnFixture(t, tt.status)
			engine, rec := newTestEngine(store)

			_, err := engine.Returns.ProcessReturn(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, domain.KindOf(err))
			assert.Equal(t, tt.reason, domain.ReasonOf(err))

			entries, _ := store.ListEntriesByOrder(context.Background(), "r-1")
			assert.Empty(t, entries)
			order, _ := store.GetOrder(context.Background(), "r-1")
			assert.Equal(t, tt.status, order.Status)
			assert.Nil(t, order.Return)
			assert.Empty(t, rec.Events())
		})
	}
}

func TestProcessReturn_LedgerFailureLeavesOrderUntouched(t *testing.T) {
	for _, status := range []domain.Status{domain.StatusDelivered, domain.StatusShipped} {
		t.Run(string(status), func(t *testing.T) {
			base := returnFixture(t, status)
			seen := 0
			store := &flakyLedgerStore{Store: base, failOn: 2, seen: &seen}
			rec := &events.Recorder{}
			svc := NewReturnService(store, rec, nil, testConfig().Engine)

			_, err := svc.ProcessReturn(context.Background(), domain.ReturnRequest{
				OrderID: "r-1",
				Items: []domain.ReturnLine{
					{SKU: "SKU-GOOD", Quantity: 1, Condition: domain.ConditionGood},
					{SKU: "SKU-BAD", Quantity: 1, Condition: domain.ConditionDamaged},
				},
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "ledger unavailable")
			assert.Equal(t, 2, seen, "the second append is the one that fails")

			order, err := base.GetOrder(context.Background(), "r-1")
			require.NoError(t, err)
			assert.Equal(t, status, order.Status)
			assert.Nil(t, order.Return)
			assert.Nil(t, order.ReturnedAt)
			good, _ := order.Line("SKU-GOOD")
			assert.Zero(t, good.ReturnedQuantity)

			entries, _ := base.ListEntriesByOrder(context.Background(), "r-1")
			assert.Empty(t, entries, "the first append is rolled back with the rest")
			assert.Empty(t, rec.Events())
		})
	}
}

func TestProcessReturn_ShippedWalksReturnPath(t *testing.T) {
	store := returnFixture(t, domain.StatusShipped)
	engine, rec := newTestEngine(store)

	result, err := engine.Returns.ProcessReturn(context.Background(), domain.ReturnRequest{
		OrderID: "r-1",
		Items:   []domain.ReturnLine{{SKU: "SKU-GOOD", Quantity: 1, Condition: domain.ConditionGood}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusShipped, result.FromStatus)
	assert.Equal(t, domain.StatusReturned, result.Status)
	assert.Equal(t, []domain.Status{domain.StatusToReturn, domain.StatusReturned}, result.Path)

	order, err := store.GetOrder(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReturned, order.Status)

	var hops [][2]domain.Status
	for _, ev := range rec.Events() {
		if ev.Type == domain.EventOrderStatusChanged {
			hops = append(hops, [2]domain.Status{ev.From, ev.To})
		}
	}
	assert.Equal(t, [][2]domain.Status{
		{domain.StatusShipped, domain.StatusToReturn},
		{domain.StatusToReturn, domain.StatusReturned},
	}, hops)
}

func TestProcessReturn_ShippedToIntermediate(t *testing.T) {
	store := returnFixture(t, domain.StatusShipped)
	engine, _ := newTestEngine(store)

	result, err := engine.Returns.ProcessReturn(context.Background(), domain.ReturnRequest{
		OrderID:      "r-1",
		TargetStatus: domain.StatusToReturn,
		Items:        []domain.ReturnLine{{SKU: "SKU-BAD", Quantity: 2, Condition: domain.ConditionDamaged}},
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.Status{domain.StatusToReturn}, result.Path)

	order, _ := store.GetOrder(context.Background(), "r-1")
	assert.Equal(t, domain.StatusToReturn, order.Status)
}

func TestProcessReturn_PartialProgressThenFinal(t *testing.T) {
	store := returnFixture(t, domain.StatusToReturn)
	engine, _ := newTestEngine(store)
	ctx := context.Background()

	first, err := engine.Returns.ProcessReturn(ctx, domain.ReturnRequest{
		OrderID:      "r-1",
		TargetStatus: domain.StatusReturnInitiated,
		Items:        []domain.ReturnLine{{SKU: "SKU-GOOD", Quantity: 2, Condition: domain.ConditionGood}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReturnInitiated, first.Status)

	_, err = engine.Returns.ProcessReturn(ctx, domain.ReturnRequest{
		OrderID: "r-1",
		Items:   []domain.ReturnLine{{SKU: "SKU-GOOD", Quantity: 2, Condition: domain.ConditionGood}},
	})
	assert.Equal(t, domain.ReasonQuantityExceeds, domain.ReasonOf(err), "only one unit is left to return")

	final, err := engine.Returns.ProcessReturn(ctx, domain.ReturnRequest{
		OrderID: "r-1",
		Items:   []domain.ReturnLine{{SKU: "SKU-GOOD", Quantity: 1, Condition: domain.ConditionGood}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReturned, final.Status)

	balance, _ := store.GetStockBalance(ctx, "SKU-GOOD", "")
	assert.Equal(t, 3, balance.OnHand)
}

func TestProcessReturn_FullyReturnedClosesViaTransition(t *testing.T) {
	store := returnFixture(t, domain.StatusToReturn)
	engine, _ := newTestEngine(store)
	ctx := context.Background()

	_, err := engine.Returns.ProcessReturn(ctx, domain.ReturnRequest{
		OrderID:      "r-1",
		TargetStatus: domain.StatusReturnInitiated,
		Items: []domain.ReturnLine{
			{SKU: "SKU-GOOD", Quantity: 3, Condition: domain.ConditionGood},
			{SKU: "SKU-BAD", Quantity: 2, Condition: domain.ConditionDamaged},
		},
	})
	require.NoError(t, err)

	_, err = engine.Returns.ProcessReturn(ctx, domain.ReturnRequest{
		OrderID: "r-1",
		Items:   []domain.ReturnLine{{SKU: "SKU-GOOD", Quantity: 1, Condition: domain.ConditionGood}},
	})
	assert.Equal(t, domain.ReasonQuantityExceeds, domain.ReasonOf(err))

	order, err := engine.Bulk.TransitionOrder(ctx, "r-1", domain.StatusReturned)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReturned, order.Status)

	entries, _ := store.ListEntriesByOrder(ctx, "r-1")
	assert.Len(t, entries, 2, "closing the return writes no further stock movements")
}

func TestProcessReturn_NonReturnTarget(t *testing.T) {
	engine, _ := newTestEngine(returnFixture(t, domain.StatusShipped))
	_, err := engine.Returns.ProcessReturn(context.Background(), domain.ReturnRequest{
		OrderID:      "r-1",
		TargetStatus: domain.StatusDelivered,
		Items:        []domain.ReturnLine{{SKU: "SKU-GOOD", Quantity: 1, Condition: domain.ConditionGood}},
	})
	assert.Equal(t, domain.ReasonInvalidState, domain.ReasonOf(err))
}

func TestProcessReturn_DefaultWarehouse(t *testing.T) {
	store := memory.NewStore()
	seedOrder(t, store, "r-2", domain.StatusDelivered, 0, withLocation(""))
	engine, _ := newTestEngine(store)

	result, err := engine.Returns.ProcessReturn(context.Background(), domain.ReturnRequest{
		OrderID: "r-2",
		Items:   []domain.ReturnLine{{SKU: "SKU-A", Quantity: 1, Condition: "good"}},
	})
	require.NoError(t, err)
	require.Len(t, result.LedgerEntries, 1)
	assert.Equal(t, "MAIN", result.LedgerEntries[0].Warehouse)
}

func TestVerifyReturn_Idempotent(t *testing.T) {
	store := returnFixture(t, domain.StatusDelivered)
	engine, rec := newTestEngine(store)
	ctx := context.Background()

	_, err := engine.Returns.ProcessReturn(ctx, domain.ReturnRequest{
		OrderID: "r-1",
		Items:   []domain.ReturnLine{{SKU: "SKU-GOOD", Quantity: 1, Condition: domain.ConditionGood}},
	})
	require.NoError(t, err)
	entriesBefore, _ := store.ListEntriesByOrder(ctx, "r-1")

	first, err := engine.Returns.VerifyReturn(ctx, "r-1", true, "box intact")
	require.NoError(t, err)
	assert.True(t, first.Changed)
	assert.Equal(t, "box intact", first.Notes)

	second, err := engine.Returns.VerifyReturn(ctx, "r-1", true, "different notes")
	require.NoError(t, err)
	assert.False(t, second.Changed)
	assert.Equal(t, "box intact", second.Notes)
	assert.Equal(t, first.At, second.At)

	order, _ := store.GetOrder(ctx, "r-1")
	assert.True(t, order.Return.Verified)
	assert.Equal(t, "box intact", order.Return.VerificationNotes)

	entriesAfter, _ := store.ListEntriesByOrder(ctx, "r-1")
	assert.Equal(t, entriesBefore, entriesAfter, "verification never touches stock")

	verified := 0
	for _, ev := range rec.Events() {
		if ev.Type == domain.EventReturnVerified {
			verified++
		}
	}
	assert.Equal(t, 1, verified)
}

func TestVerifyReturn_Errors(t *testing.T) {
	store := returnFixture(t, domain.StatusDelivered)
	engine, _ := newTestEngine(store)

	_, err := engine.Returns.VerifyReturn(context.Background(), "ghost", true, "")
	assert.Equal(t, domain.ReasonOrderNotFound, domain.ReasonOf(err))

	_, err = engine.Returns.VerifyReturn(context.Background(), "r-1", true, "")
	assert.Equal(t, domain.ReasonInvalidState, domain.ReasonOf(err))
}

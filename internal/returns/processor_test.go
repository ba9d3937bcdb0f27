package returns

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/retailcore/internal/domain"
	"github.com/joao-fontenele/retailcore/internal/events"
	"github.com/joao-fontenele/retailcore/internal/inventory"
	"github.com/joao-fontenele/retailcore/internal/ledger"
	"github.com/joao-fontenele/retailcore/internal/ledger/memory"
	"github.com/joao-fontenele/retailcore/internal/orders"
	"github.com/joao-fontenele/retailcore/internal/payments"
	"github.com/joao-fontenele/retailcore/internal/pricing"
)

var fixedNow = time.Date(2026, 4, 5, 11, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	returns  *Processor
	orders   *orders.Service
	payments *payments.Recorder
	store    *memory.Store
	events   *events.Recorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	store := memory.New()
	store.AddProduct(domain.Product{ID: "p1", SKU: "KB", Name: "Keyboard", Price: dec("20.00"), StockQuantity: 10})
	store.AddProduct(domain.Product{ID: "p2", SKU: "CB", Name: "Cable", Price: dec("3.50"), StockQuantity: 10})
	store.AddTaxConfig(domain.TaxConfig{ID: "std", Name: "Standard", Rate: dec("0.16"), IsActive: true})

	rec := &events.Recorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return fixedNow }
	guard := inventory.NewGuard(nil)

	return fixture{
		returns:  NewProcessor(store, guard, rec, nil, logger, WithClock(clock)),
		orders:   orders.NewService(store, pricing.NewResolver(), guard, rec, nil, logger, orders.WithClock(clock)),
		payments: payments.NewRecorder(store, payments.DefaultProcessors(), rec, nil, logger, payments.WithClock(clock)),
		store:    store,
		events:   rec,
	}
}

func (f fixture) order(t *testing.T) domain.Order {
	t.Helper()
	order, err := f.orders.CreateOrder(context.Background(), orders.CreateOrderRequest{
		Items: []orders.ItemRequest{{ProductID: "p1", Quantity: 2}, {ProductID: "p2", Quantity: 3}},
	})
	require.NoError(t, err)
	return order
}

func (f fixture) paidOrder(t *testing.T) domain.Order {
	t.Helper()
	order := f.order(t)
	_, err := f.payments.RecordPayment(context.Background(), payments.RecordPaymentRequest{
		OrderID: order.ID, Amount: order.TotalAmount, Method: "card",
	})
	require.NoError(t, err)
	order, err = f.orders.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	return order
}

func itemFor(t *testing.T, order domain.Order, productID string) domain.OrderItem {
	t.Helper()
	for _, item := range order.Items {
		if item.ProductID == productID {
			return item
		}
	}
	t.Fatalf("order has no item for %s", productID)
	return domain.OrderItem{}
}

func stock(t *testing.T, store *memory.Store, id string) int {
	t.Helper()
	p, ok := store.Product(id)
	require.True(t, ok)
	return p.StockQuantity
}

func TestCreateReturn_PendingThenComplete(t *testing.T) {
	f := newFixture(t)
	order := f.paidOrder(t)
	keyboard := itemFor(t, order, "p1")
	ctx := context.Background()
	require.Equal(t, 8, stock(t, f.store, "p1"))

	ret, err := f.returns.CreateReturn(ctx, CreateReturnRequest{
		OrderID: order.ID,
		Items:   []ItemRequest{{OrderItemID: keyboard.ID, Quantity: 2, Condition: "box <b>damaged</b>"}},
		Reason:  "defective",
		UserID:  "clerk-1",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.ReturnPending, ret.Status)
	assert.Equal(t, "40", ret.TotalRefund.String())
	require.Len(t, ret.Items, 1)
	assert.Equal(t, "box damaged", ret.Items[0].Condition)
	assert.Equal(t, 8, stock(t, f.store, "p1"), "pending returns do not touch stock")

	requested, err := f.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnStatusRequested, requested.ReturnStatus)
	assert.Equal(t, domain.OrderStatusPaid, requested.Status)

	completed, err := f.returns.CompleteReturn(ctx, ret.ID, "manager-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnCompleted, completed.Status)
	assert.Equal(t, 10, stock(t, f.store, "p1"))

	movements := f.store.Movements("p1")
	last := movements[len(movements)-1]
	assert.Equal(t, domain.MovementReturn, last.Type)
	assert.Equal(t, 2, last.Quantity)
	assert.Equal(t, ret.ID, last.ReferenceID)

	returned, err := f.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnStatusReturned, returned.ReturnStatus)

	_, err = f.returns.CompleteReturn(ctx, ret.ID, "manager-1")
	require.ErrorIs(t, err, domain.ErrReturnNotPending)
	assert.Equal(t, 10, stock(t, f.store, "p1"), "stock is restored only once")
}

func TestCreateReturn_ApprovedImmediately(t *testing.T) {
	f := newFixture(t)
	order := f.paidOrder(t)
	cable := itemFor(t, order, "p2")

	ret, err := f.returns.CreateReturn(context.Background(), CreateReturnRequest{
		OrderID: order.ID,
		Items:   []ItemRequest{{OrderItemID: cable.ID, Quantity: 1}},
		Reason:  "changed mind",
		Approve: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnCompleted, ret.Status)
	assert.Equal(t, "3.50", ret.TotalRefund.StringFixed(2))
	assert.Equal(t, 8, stock(t, f.store, "p2"))

	var actions []string
	for _, m := range f.events.Messages(events.TopicAudit) {
		actions = append(actions, m.Payload.(domain.AuditFact).Action)
	}
	assert.Contains(t, actions, "return.created")
	assert.Contains(t, actions, "return.completed")
}

func TestApproveReturn_ThenComplete(t *testing.T) {
	f := newFixture(t)
	order := f.paidOrder(t)
	keyboard := itemFor(t, order, "p1")
	ctx := context.Background()

	ret, err := f.returns.CreateReturn(ctx, CreateReturnRequest{
		OrderID: order.ID, Items: []ItemRequest{{OrderItemID: keyboard.ID, Quantity: 1}}, Reason: "loose key",
	})
	require.NoError(t, err)

	approved, err := f.returns.ApproveReturn(ctx, ret.ID, "manager-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnApproved, approved.Status)
	assert.Equal(t, 8, stock(t, f.store, "p1"), "approval does not touch stock")

	got, err := f.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnStatusRequested, got.ReturnStatus)

	_, err = f.returns.ApproveReturn(ctx, ret.ID, "manager-1")
	require.ErrorIs(t, err, domain.ErrReturnNotPending)
	_, err = f.returns.RejectReturn(ctx, ret.ID, "manager-1", "too late")
	require.ErrorIs(t, err, domain.ErrReturnNotPending)

	_, err = f.returns.CreateReturn(ctx, CreateReturnRequest{
		OrderID: order.ID, Items: []ItemRequest{{OrderItemID: keyboard.ID, Quantity: 2}},
	})
	require.ErrorIs(t, err, domain.ErrInvalidReturnQuantity, "approved lines still count as returned")

	completed, err := f.returns.CompleteReturn(ctx, ret.ID, "manager-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnCompleted, completed.Status)
	assert.Equal(t, 9, stock(t, f.store, "p1"))

	var actions []string
	for _, m := range f.events.Messages(events.TopicAudit) {
		actions = append(actions, m.Payload.(domain.AuditFact).Action)
	}
	assert.Contains(t, actions, "return.approved")

	_, err = f.returns.ApproveReturn(ctx, "missing", "manager-1")
	require.ErrorIs(t, err, domain.ErrReturnNotFound)
}

func TestCreateReturn_QuantityLimits(t *testing.T) {
	f := newFixture(t)
	order := f.paidOrder(t)
	cable := itemFor(t, order, "p2")
	ctx := context.Background()

	first, err := f.returns.CreateReturn(ctx, CreateReturnRequest{
		OrderID: order.ID, Items: []ItemRequest{{OrderItemID: cable.ID, Quantity: 2}}, Reason: "extra",
	})
	require.NoError(t, err)

	// the pending return still counts against what is left
	_, err = f.returns.CreateReturn(ctx, CreateReturnRequest{
		OrderID: order.ID, Items: []ItemRequest{{OrderItemID: cable.ID, Quantity: 2}}, Reason: "extra",
	})
	require.ErrorIs(t, err, domain.ErrInvalidReturnQuantity)

	_, err = f.returns.RejectReturn(ctx, first.ID, "manager-1", "used")
	require.NoError(t, err)

	_, err = f.returns.CreateReturn(ctx, CreateReturnRequest{
		OrderID: order.ID, Items: []ItemRequest{{OrderItemID: cable.ID, Quantity: 3}}, Reason: "all of them",
	})
	require.NoError(t, err)

	tests := []struct {
		name  string
		items []ItemRequest
	}{
		{"no items", nil},
		{"zero quantity", []ItemRequest{{OrderItemID: cable.ID, Quantity: 0}}},
		{"negative quantity", []ItemRequest{{OrderItemID: cable.ID, Quantity: -1}}},
		{"unknown item", []ItemRequest{{OrderItemID: "nope", Quantity: 1}}},
		{"already fully returned", []ItemRequest{{OrderItemID: cable.ID, Quantity: 1}}},
		{"split across lines", []ItemRequest{{OrderItemID: itemFor(t, order, "p1").ID, Quantity: 2}, {OrderItemID: itemFor(t, order, "p1").ID, Quantity: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.returns.CreateReturn(ctx, CreateReturnRequest{OrderID: order.ID, Items: tt.items})
			require.ErrorIs(t, err, domain.ErrInvalidReturnQuantity)
		})
	}
}

func TestCreateReturn_RequiresPaidOrder(t *testing.T) {
	f := newFixture(t)
	order := f.order(t)

	_, err := f.returns.CreateReturn(context.Background(), CreateReturnRequest{
		OrderID: order.ID, Items: []ItemRequest{{OrderItemID: order.Items[0].ID, Quantity: 1}},
	})
	require.ErrorIs(t, err, domain.ErrOrderNotReturnable)

	_, err = f.returns.CreateReturn(context.Background(), CreateReturnRequest{
		OrderID: "missing", Items: []ItemRequest{{OrderItemID: "x", Quantity: 1}},
	})
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestRejectReturn(t *testing.T) {
	f := newFixture(t)
	order := f.paidOrder(t)
	keyboard := itemFor(t, order, "p1")
	ctx := context.Background()

	ret, err := f.returns.CreateReturn(ctx, CreateReturnRequest{
		OrderID: order.ID, Items: []ItemRequest{{OrderItemID: keyboard.ID, Quantity: 1}}, Reason: "scratched",
	})
	require.NoError(t, err)

	rejected, err := f.returns.RejectReturn(ctx, ret.ID, "manager-1", "outside <i>policy</i>")
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnRejected, rejected.Status)
	assert.Equal(t, "outside policy", rejected.DecisionReason)
	assert.Equal(t, 8, stock(t, f.store, "p1"))

	got, err := f.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnStatusRejected, got.ReturnStatus)

	_, err = f.returns.CompleteReturn(ctx, ret.ID, "manager-1")
	require.ErrorIs(t, err, domain.ErrReturnNotPending)
	_, err = f.returns.RejectReturn(ctx, ret.ID, "manager-1", "")
	require.ErrorIs(t, err, domain.ErrReturnNotPending)
}

func TestCompleteReturn_RollsBackOnStoreFailure(t *testing.T) {
	f := newFixture(t)
	order := f.paidOrder(t)
	ctx := context.Background()

	ret, err := f.returns.CreateReturn(ctx, CreateReturnRequest{
		OrderID: order.ID,
		Items: []ItemRequest{
			{OrderItemID: itemFor(t, order, "p1").ID, Quantity: 1},
			{OrderItemID: itemFor(t, order, "p2").ID, Quantity: 1},
		},
	})
	require.NoError(t, err)

	f.store.InjectFault(func(op string) error {
		if op == "UpdateOrderReturnStatus" {
			return ledger.ErrTransient
		}
		return nil
	})
	_, err = f.returns.CompleteReturn(ctx, ret.ID, "")
	require.ErrorIs(t, err, domain.ErrTemporarilyUnavailable)
	assert.Equal(t, 8, stock(t, f.store, "p1"))
	assert.Equal(t, 7, stock(t, f.store, "p2"))

	f.store.InjectFault(nil)
	_, err = f.returns.CompleteReturn(ctx, ret.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 9, stock(t, f.store, "p1"))
	assert.Equal(t, 8, stock(t, f.store, "p2"))
}

func TestGetReturn(t *testing.T) {
	f := newFixture(t)
	order := f.paidOrder(t)

	_, err := f.returns.GetReturn(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrReturnNotFound)

	ret, err := f.returns.CreateReturn(context.Background(), CreateReturnRequest{
		OrderID: order.ID, Items: []ItemRequest{{OrderItemID: itemFor(t, order, "p2").ID, Quantity: 2}},
	})
	require.NoError(t, err)

	got, err := f.returns.GetReturn(context.Background(), ret.ID)
	require.NoError(t, err)
	assert.Equal(t, ret.ID, got.ID)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "7", got.TotalRefund.String())
	assert.Len(t, f.store.Returns(order.ID), 1)
}

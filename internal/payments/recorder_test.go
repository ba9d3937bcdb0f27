package payments

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
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
	"github.com/joao-fontenele/retailcore/internal/pricing"
)

var fixedNow = time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type flakyProcessor struct {
	mu    sync.Mutex
	fails int
	calls int
}

func (p *flakyProcessor) Capture(ctx context.Context, charge Charge) (Capture, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.fails {
		return Capture{}, errors.New("card declined: insufficient funds")
	}
	return Capture{ProviderRef: "auth-" + charge.OrderNumber}, nil
}

type fixture struct {
	recorder *Recorder
	orders   *orders.Service
	store    *memory.Store
	events   *events.Recorder
}

// newFixture prices a 100.00 cart with a 10% discount capped at 5.00 and no
// tax, so every order totals 95.00.
func newFixture(t *testing.T, processors Processors) fixture {
	t.Helper()

	store := memory.New()
	store.AddProduct(domain.Product{ID: "p1", SKU: "HD", Name: "Headset", Price: dec("50.00"), StockQuantity: 20, LowStockThreshold: 1})
	store.AddTaxConfig(domain.TaxConfig{ID: "zero", Name: "Exempt", Rate: decimal.Zero, IsActive: true})
	store.AddDiscount(domain.Discount{ID: "d1", Code: "WELCOME10", Type: domain.DiscountPercentage, Value: dec("10"), MaxDiscount: decimal.NewNullDecimal(dec("5")), IsActive: true})

	rec := &events.Recorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if processors == nil {
		processors = DefaultProcessors()
	}

	return fixture{
		recorder: NewRecorder(store, processors, rec, nil, logger, WithClock(func() time.Time { return fixedNow })),
		orders: orders.NewService(store, pricing.NewResolver(), inventory.NewGuard(nil), rec, nil, logger,
			orders.WithClock(func() time.Time { return fixedNow })),
		store:  store,
		events: rec,
	}
}

func (f fixture) order(t *testing.T) domain.Order {
	t.Helper()
	order, err := f.orders.CreateOrder(context.Background(), orders.CreateOrderRequest{
		Items:        []orders.ItemRequest{{ProductID: "p1", Quantity: 2}},
		DiscountCode: "WELCOME10",
	})
	require.NoError(t, err)
	require.Equal(t, "95", order.TotalAmount.String())
	return order
}

func TestRecordPayment_CashWithChange(t *testing.T) {
	f := newFixture(t, nil)
	order := f.order(t)

	payment, err := f.recorder.RecordPayment(context.Background(), RecordPaymentRequest{
		OrderID:        order.ID,
		Amount:         dec("95"),
		Method:         "cash",
		AmountTendered: decimal.NewNullDecimal(dec("100")),
		UserID:         "cashier-1",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusCompleted, payment.Status)
	assert.Equal(t, domain.PaymentMethodCash, payment.Method)
	assert.True(t, payment.Amount.Equal(order.TotalAmount))
	require.True(t, payment.ChangeAmount.Valid)
	assert.Equal(t, "5.00", payment.ChangeAmount.Decimal.StringFixed(2))

	paid, err := f.orders.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, paid.Status)

	var actions []string
	for _, m := range f.events.Messages(events.TopicAudit) {
		actions = append(actions, m.Payload.(domain.AuditFact).Action)
	}
	assert.Contains(t, actions, "payment.completed")
	assert.Contains(t, actions, "order.paid")
}

func TestRecordPayment_SecondCallIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	order := f.order(t)

	req := RecordPaymentRequest{OrderID: order.ID, Amount: dec("95"), Method: "card", Reference: "slip-1"}
	_, err := f.recorder.RecordPayment(context.Background(), req)
	require.NoError(t, err)

	_, err = f.recorder.RecordPayment(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrOrderNotPayable)

	payment, ok := f.store.Payment(order.ID)
	require.True(t, ok)
	assert.Equal(t, domain.PaymentStatusCompleted, payment.Status)
	assert.Equal(t, "slip-1", payment.ProviderRef)
}

func TestRecordPayment_ConcurrentCallsCompleteOnce(t *testing.T) {
	f := newFixture(t, nil)
	order := f.order(t)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.recorder.RecordPayment(context.Background(), RecordPaymentRequest{
				OrderID: order.ID, Amount: dec("95"), Method: "mobile",
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrOrderNotPayable)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
}

func TestRecordPayment_Validation(t *testing.T) {
	f := newFixture(t, nil)
	order := f.order(t)

	tests := []struct {
		name string
		req  RecordPaymentRequest
		want *domain.Error
	}{
		{
			name: "unknown method",
			req:  RecordPaymentRequest{OrderID: order.ID, Amount: dec("95"), Method: "cheque"},
			want: domain.ErrUnsupportedMethod,
		},
		{
			name: "amount below total",
			req:  RecordPaymentRequest{OrderID: order.ID, Amount: dec("94.99"), Method: "card"},
			want: domain.ErrAmountMismatch,
		},
		{
			name: "amount above total",
			req:  RecordPaymentRequest{OrderID: order.ID, Amount: dec("100"), Method: "card"},
			want: domain.ErrAmountMismatch,
		},
		{
			name: "cash without tender",
			req:  RecordPaymentRequest{OrderID: order.ID, Amount: dec("95"), Method: "cash"},
			want: domain.ErrInsufficientTender,
		},
		{
			name: "cash tender short",
			req:  RecordPaymentRequest{OrderID: order.ID, Amount: dec("95"), Method: "cash", AmountTendered: decimal.NewNullDecimal(dec("90"))},
			want: domain.ErrInsufficientTender,
		},
		{
			name: "unknown order",
			req:  RecordPaymentRequest{OrderID: "missing", Amount: dec("95"), Method: "card"},
			want: domain.ErrOrderNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.recorder.RecordPayment(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.want)
		})
	}

	_, ok := f.store.Payment(order.ID)
	assert.False(t, ok, "rejected payments must not be persisted")

	unpaid, err := f.orders.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPendingPayment, unpaid.Status)
}

func TestRecordPayment_CancelledOrderIsNotPayable(t *testing.T) {
	f := newFixture(t, nil)
	order := f.order(t)
	_, err := f.orders.CancelOrder(context.Background(), order.ID, "m1", "customer left")
	require.NoError(t, err)

	_, err = f.recorder.RecordPayment(context.Background(), RecordPaymentRequest{OrderID: order.ID, Amount: dec("95"), Method: "card"})
	require.ErrorIs(t, err, domain.ErrOrderNotPayable)
}

func TestRecordPayment_DeclineThenRetry(t *testing.T) {
	card := &flakyProcessor{fails: 1}
	processors := DefaultProcessors()
	processors[domain.PaymentMethodCard] = card
	f := newFixture(t, processors)
	order := f.order(t)

	req := RecordPaymentRequest{OrderID: order.ID, Amount: dec("95"), Method: "card", UserID: "cashier-1"}
	failed, err := f.recorder.RecordPayment(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrPaymentDeclined)
	assert.Equal(t, domain.PaymentStatusFailed, failed.Status)

	stored, ok := f.store.Payment(order.ID)
	require.True(t, ok)
	assert.Equal(t, domain.PaymentStatusFailed, stored.Status)
	assert.Contains(t, stored.FailureReason, "insufficient funds")

	unpaid, err := f.orders.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPendingPayment, unpaid.Status)

	completed, err := f.recorder.RecordPayment(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, failed.ID, completed.ID)
	assert.Equal(t, domain.PaymentStatusCompleted, completed.Status)
	assert.Empty(t, completed.FailureReason)
	assert.Equal(t, "auth-"+order.OrderNumber, completed.ProviderRef)
	assert.Equal(t, 2, card.calls)
}

func TestRecordPayment_StoreFailureIsTransient(t *testing.T) {
	f := newFixture(t, nil)
	order := f.order(t)

	f.store.InjectFault(func(op string) error {
		if op == "UpdateOrderStatus" {
			return ledger.ErrTransient
		}
		return nil
	})

	_, err := f.recorder.RecordPayment(context.Background(), RecordPaymentRequest{OrderID: order.ID, Amount: dec("95"), Method: "card"})
	require.ErrorIs(t, err, domain.ErrTemporarilyUnavailable)
	assert.Equal(t, domain.KindTransient, domain.KindOf(err))

	_, ok := f.store.Payment(order.ID)
	assert.False(t, ok)
}

func TestGetPayment(t *testing.T) {
	f := newFixture(t, nil)
	order := f.order(t)

	_, err := f.recorder.GetPayment(context.Background(), order.ID)
	require.ErrorIs(t, err, domain.ErrPaymentNotFound)

	_, err = f.recorder.RecordPayment(context.Background(), RecordPaymentRequest{OrderID: order.ID, Amount: dec("95"), Method: "transfer", Reference: "TRF-1"})
	require.NoError(t, err)

	payment, err := f.recorder.GetPayment(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentMethodTransfer, payment.Method)
	assert.False(t, payment.AmountTendered.Valid)
	assert.False(t, payment.ChangeAmount.Valid)
}

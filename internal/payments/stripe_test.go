package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"

	"github.com/joao-fontenele/retailcore/internal/domain"
)

type fakeIntents struct {
	intent     *stripe.PaymentIntent
	getErr     error
	captureErr error

	captured       bool
	captureAmount  int64
	idempotencyKey string
	keys           []string
}

func (f *fakeIntents) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if id != f.intent.ID {
		return nil, errors.New("no such payment_intent")
	}
	return f.intent, nil
}

func (f *fakeIntents) Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error) {
	if params.IdempotencyKey != nil {
		f.idempotencyKey = *params.IdempotencyKey
		f.keys = append(f.keys, *params.IdempotencyKey)
	}
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	f.captured = true
	f.captureAmount = *params.AmountToCapture
	out := *f.intent
	out.Status = stripe.PaymentIntentStatusSucceeded
	return &out, nil
}

func charge(amount string) Charge {
	return Charge{
		OrderID:     "o1",
		OrderNumber: "ORD-20260402-ABCDEF",
		Amount:      dec(amount),
		Currency:    "usd",
		Method:      domain.PaymentMethodCard,
		Reference:   "pi_123",
	}
}

func TestStripeProcessor_CapturesAuthorisedIntent(t *testing.T) {
	intents := &fakeIntents{intent: &stripe.PaymentIntent{
		ID: "pi_123", Amount: 9500, Currency: stripe.CurrencyUSD, Status: stripe.PaymentIntentStatusRequiresCapture,
	}}
	p := newStripeProcessor(intents, "USD")

	got, err := p.Capture(context.Background(), charge("95.00"))
	require.NoError(t, err)
	assert.Equal(t, "pi_123", got.ProviderRef)
	assert.True(t, intents.captured)
	assert.Equal(t, int64(9500), intents.captureAmount)
	assert.Equal(t, "capture-o1-pi_123", intents.idempotencyKey)
}

func TestStripeProcessor_AlreadyCaptured(t *testing.T) {
	intents := &fakeIntents{intent: &stripe.PaymentIntent{
		ID: "pi_123", Amount: 9500, Currency: stripe.CurrencyUSD, Status: stripe.PaymentIntentStatusSucceeded,
	}}
	p := newStripeProcessor(intents, "usd")

	got, err := p.Capture(context.Background(), charge("95"))
	require.NoError(t, err)
	assert.Equal(t, "pi_123", got.ProviderRef)
	assert.False(t, intents.captured)
}

func TestStripeProcessor_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		intents *fakeIntents
		charge  Charge
		wantMsg string
	}{
		{
			name:    "amount differs",
			intents: &fakeIntents{intent: &stripe.PaymentIntent{ID: "pi_123", Amount: 9000, Currency: stripe.CurrencyUSD, Status: stripe.PaymentIntentStatusRequiresCapture}},
			charge:  charge("95"),
			wantMsg: "is for 9000",
		},
		{
			name:    "currency differs",
			intents: &fakeIntents{intent: &stripe.PaymentIntent{ID: "pi_123", Amount: 9500, Currency: stripe.CurrencyEUR, Status: stripe.PaymentIntentStatusRequiresCapture}},
			charge:  charge("95"),
			wantMsg: "is in eur",
		},
		{
			name:    "not authorised",
			intents: &fakeIntents{intent: &stripe.PaymentIntent{ID: "pi_123", Amount: 9500, Currency: stripe.CurrencyUSD, Status: stripe.PaymentIntentStatusRequiresPaymentMethod}},
			charge:  charge("95"),
			wantMsg: "requires_payment_method",
		},
		{
			name:    "lookup fails",
			intents: &fakeIntents{intent: &stripe.PaymentIntent{ID: "pi_123"}, getErr: errors.New("network down")},
			charge:  charge("95"),
			wantMsg: "lookup payment intent",
		},
		{
			name:    "capture fails",
			intents: &fakeIntents{intent: &stripe.PaymentIntent{ID: "pi_123", Amount: 9500, Currency: stripe.CurrencyUSD, Status: stripe.PaymentIntentStatusRequiresCapture}, captureErr: errors.New("card_declined")},
			charge:  charge("95"),
			wantMsg: "capture payment intent",
		},
		{
			name:    "missing reference",
			intents: &fakeIntents{intent: &stripe.PaymentIntent{ID: "pi_123"}},
			charge:  Charge{OrderID: "o1", Amount: dec("95")},
			wantMsg: "reference is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newStripeProcessor(tt.intents, "usd").Capture(context.Background(), tt.charge)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestNewStripeProcessor_RequiresKey(t *testing.T) {
	_, err := NewStripeProcessor("  ", "usd")
	require.Error(t, err)

	p, err := NewStripeProcessor("sk_test_123", "usd")
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(9500), minorUnits(dec("95")))
	assert.Equal(t, int64(1999), minorUnits(dec("19.99")))
	assert.Equal(t, int64(1), minorUnits(dec("0.005")))
}

func TestRecordPayment_StripeCardFlow(t *testing.T) {
	intents := &fakeIntents{intent: &stripe.PaymentIntent{
		ID: "pi_777", Amount: 9500, Currency: stripe.CurrencyUSD, Status: stripe.PaymentIntentStatusRequiresCapture,
	}}
	processors := DefaultProcessors()
	processors[domain.PaymentMethodCard] = newStripeProcessor(intents, "usd")
	f := newFixture(t, processors)
	order := f.order(t)

	payment, err := f.recorder.RecordPayment(context.Background(), RecordPaymentRequest{
		OrderID: order.ID, Amount: dec("95"), Method: "card", Reference: "pi_777",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_777", payment.ProviderRef)
	assert.Equal(t, "capture-"+order.ID+"-pi_777", intents.idempotencyKey)
}

func TestRecordPayment_StripeRetryWithNewIntent(t *testing.T) {
	intents := &fakeIntents{
		intent: &stripe.PaymentIntent{
			ID: "pi_old", Amount: 9500, Currency: stripe.CurrencyUSD, Status: stripe.PaymentIntentStatusRequiresCapture,
		},
		captureErr: errors.New("card_declined"),
	}
	processors := DefaultProcessors()
	processors[domain.PaymentMethodCard] = newStripeProcessor(intents, "usd")
	f := newFixture(t, processors)
	order := f.order(t)
	ctx := context.Background()

	_, err := f.recorder.RecordPayment(ctx, RecordPaymentRequest{
		OrderID: order.ID, Amount: dec("95"), Method: "card", Reference: "pi_old",
	})
	require.ErrorIs(t, err, domain.ErrPaymentDeclined)

	intents.intent = &stripe.PaymentIntent{
		ID: "pi_new", Amount: 9500, Currency: stripe.CurrencyUSD, Status: stripe.PaymentIntentStatusRequiresCapture,
	}
	intents.captureErr = nil

	payment, err := f.recorder.RecordPayment(ctx, RecordPaymentRequest{
		OrderID: order.ID, Amount: dec("95"), Method: "card", Reference: "pi_new",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, payment.Status)
	assert.Equal(t, "pi_new", payment.ProviderRef)

	require.Len(t, intents.keys, 2)
	assert.NotEqual(t, intents.keys[0], intents.keys[1], "each payment intent is captured under its own idempotency key")
	assert.Equal(t, "capture-"+order.ID+"-pi_new", intents.keys[1])
}

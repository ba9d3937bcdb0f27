package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/joao-fontenele/retailcore/internal/domain"
)

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
}

// StripeProcessor captures card payments authorised on a Stripe terminal.
// The terminal creates the PaymentIntent with manual capture; the charge
// reference carries its id.
type StripeProcessor struct {
	intents  stripePaymentIntentAPI
	currency string
}

func NewStripeProcessor(apiKey, currency string) (*StripeProcessor, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("stripe: api key is required")
	}
	sc := client.New(apiKey, nil)
	return newStripeProcessor(sc.PaymentIntents, currency), nil
}

func newStripeProcessor(intents stripePaymentIntentAPI, currency string) *StripeProcessor {
	return &StripeProcessor{intents: intents, currency: strings.ToLower(currency)}
}

func (p *StripeProcessor) Capture(ctx context.Context, charge Charge) (Capture, error) {
	intentID := strings.TrimSpace(charge.Reference)
	if intentID == "" {
		return Capture{}, errors.New("stripe: payment intent reference is required")
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := p.intents.Get(intentID, params)
	if err != nil {
		return Capture{}, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}

	amount := minorUnits(charge.Amount)
	if intent.Amount != amount {
		return Capture{}, fmt.Errorf("stripe: payment intent %s is for %d, order %s needs %d", intent.ID, intent.Amount, charge.OrderNumber, amount)
	}
	if !strings.EqualFold(string(intent.Currency), p.currency) {
		return Capture{}, fmt.Errorf("stripe: payment intent %s is in %s, expected %s", intent.ID, intent.Currency, p.currency)
	}

	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return Capture{ProviderRef: intent.ID}, nil
	case stripe.PaymentIntentStatusRequiresCapture:
	default:
		return Capture{}, fmt.Errorf("stripe: payment intent %s is %s", intent.ID, intent.Status)
	}

	captureParams := &stripe.PaymentIntentCaptureParams{
		AmountToCapture: stripe.Int64(amount),
	}
	captureParams.Context = ctx
	captureParams.SetIdempotencyKey("capture-" + charge.OrderID + "-" + intentID)
	captured, err := p.intents.Capture(intentID, captureParams)
	if err != nil {
		return Capture{}, fmt.Errorf("stripe: capture payment intent: %w", err)
	}
	if captured.Status != stripe.PaymentIntentStatusSucceeded {
		return Capture{}, fmt.Errorf("stripe: payment intent %s is %s after capture", captured.ID, captured.Status)
	}
	return Capture{ProviderRef: captured.ID}, nil
}

func minorUnits(amount decimal.Decimal) int64 {
	return domain.RoundMoney(amount).Shift(domain.MoneyPlaces).IntPart()
}

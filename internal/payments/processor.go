package payments

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/retailcore/internal/domain"
)

// Charge is what a processor is asked to capture for an order.
type Charge struct {
	OrderID     string
	OrderNumber string
	Amount      decimal.Decimal
	Currency    string
	Method      domain.PaymentMethod
	// Reference identifies the payment on the provider side, such as a
	// terminal-created PaymentIntent id or a bank transfer reference.
	Reference string
}

type Capture struct {
	ProviderRef string
}

// Processor captures funds downstream. Any error it returns is recorded as a
// FAILED payment and the order stays payable.
type Processor interface {
	Capture(ctx context.Context, charge Charge) (Capture, error)
}

type Processors map[domain.PaymentMethod]Processor

// OfflineProcessor approves payments settled outside the system: cash in the
// drawer or a card slip already approved on a standalone terminal.
type OfflineProcessor struct{}

func (OfflineProcessor) Capture(ctx context.Context, charge Charge) (Capture, error) {
	return Capture{ProviderRef: charge.Reference}, nil
}

// DefaultProcessors handles every method offline.
func DefaultProcessors() Processors {
	return Processors{
		domain.PaymentMethodCash:     OfflineProcessor{},
		domain.PaymentMethodCard:     OfflineProcessor{},
		domain.PaymentMethodMobile:   OfflineProcessor{},
		domain.PaymentMethodTransfer: OfflineProcessor{},
	}
}

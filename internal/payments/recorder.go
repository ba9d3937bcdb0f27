package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/joao-fontenele/retailcore/internal/domain"
	"github.com/joao-fontenele/retailcore/internal/events"
	"github.com/joao-fontenele/retailcore/internal/ledger"
	"github.com/joao-fontenele/retailcore/internal/orders"
	"github.com/joao-fontenele/retailcore/internal/telemetry"
)

var tracer = otel.Tracer("payments")

type RecordPaymentRequest struct {
	OrderID        string              `json:"order_id"`
	Amount         decimal.Decimal     `json:"amount"`
	Method         string              `json:"method"`
	AmountTendered decimal.NullDecimal `json:"amount_tendered"`
	Reference      string              `json:"reference,omitempty"`
	UserID         string              `json:"user_id,omitempty"`
}

type Recorder struct {
	store      ledger.Store
	processors Processors
	publisher  events.Publisher
	metrics    *telemetry.Instruments
	logger     *slog.Logger
	currency   string
	now        func() time.Time
}

type Option func(*Recorder)

func WithCurrency(currency string) Option {
	return func(r *Recorder) { r.currency = strings.ToLower(currency) }
}

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

func NewRecorder(store ledger.Store, processors Processors, publisher events.Publisher,
	metrics *telemetry.Instruments, logger *slog.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		store:      store,
		processors: processors,
		publisher:  publisher,
		metrics:    metrics,
		logger:     logger,
		currency:   "usd",
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordPayment captures the full order total and moves the order to PAID in
// the same transaction. A processor failure is persisted as a FAILED payment
// and reported as ErrPaymentDeclined; the order stays payable and a later call
// reuses the same payment row.
func (r *Recorder) RecordPayment(ctx context.Context, req RecordPaymentRequest) (domain.Payment, error) {
	ctx, span := tracer.Start(ctx, "payments.RecordPayment")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", req.OrderID), attribute.String("payment.method", req.Method))

	method, ok := domain.ParsePaymentMethod(req.Method)
	if !ok {
		return domain.Payment{}, domain.NewError(domain.ErrUnsupportedMethod, fmt.Sprintf("payment method %q is not supported", req.Method))
	}
	processor, ok := r.processors[method]
	if !ok {
		return domain.Payment{}, domain.NewError(domain.ErrUnsupportedMethod, fmt.Sprintf("payment method %s is not enabled", method))
	}

	ctx, buf := events.WithBuffer(ctx)

	var (
		payment  domain.Payment
		declined error
	)
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		order, err := orders.Load(ctx, tx, req.OrderID, true)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusPendingPayment {
			return domain.NewError(domain.ErrOrderNotPayable,
				fmt.Sprintf("order %s is %s, payment requires %s", order.OrderNumber, order.Status, domain.OrderStatusPendingPayment))
		}
		if !req.Amount.Equal(order.TotalAmount) {
			return domain.NewError(domain.ErrAmountMismatch,
				fmt.Sprintf("payment amount %s does not match order total %s", req.Amount.StringFixed(domain.MoneyPlaces), order.TotalAmount.StringFixed(domain.MoneyPlaces)))
		}

		now := r.now()
		var stored bool
		payment, stored, err = r.pendingPayment(ctx, tx, order, method, now)
		if err != nil {
			return err
		}

		if method == domain.PaymentMethodCash {
			if !req.AmountTendered.Valid || req.AmountTendered.Decimal.LessThan(order.TotalAmount) {
				return domain.NewError(domain.ErrInsufficientTender,
					fmt.Sprintf("cash tendered must cover the order total %s", order.TotalAmount.StringFixed(domain.MoneyPlaces)))
			}
			payment.AmountTendered = domain.NullMoney(req.AmountTendered.Decimal)
			payment.ChangeAmount = domain.NullMoney(req.AmountTendered.Decimal.Sub(order.TotalAmount))
		}

		captured, captureErr := processor.Capture(ctx, Charge{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			Amount:      order.TotalAmount,
			Currency:    r.currency,
			Method:      method,
			Reference:   strings.TrimSpace(req.Reference),
		})
		if captureErr != nil {
			declined = captureErr
			return r.fail(ctx, tx, &payment, stored, req.UserID, captureErr, now)
		}

		payment.Status = domain.PaymentStatusCompleted
		payment.ProviderRef = captured.ProviderRef
		payment.FailureReason = ""
		payment.UpdatedAt = now
		if err := save(ctx, tx, payment, stored); err != nil {
			return err
		}

		from, err := order.Transition(domain.OrderStatusPaid, now)
		if err != nil {
			return err
		}
		updated, err := tx.UpdateOrderStatus(ctx, order.ID, from, order.Status)
		if err != nil {
			return fmt.Errorf("mark order %s paid: %w", order.OrderNumber, err)
		}
		if !updated {
			return domain.NewError(domain.ErrOrderNotPayable,
				fmt.Sprintf("order %s changed status concurrently", order.OrderNumber))
		}

		audit := events.FromContext(ctx)
		audit.Audit(domain.AuditFact{
			Action:     "payment.completed",
			EntityType: "payment",
			EntityID:   payment.ID,
			UserID:     req.UserID,
			NewValue:   string(payment.Status),
			OccurredAt: now,
		})
		audit.Audit(domain.AuditFact{
			Action:     "order.paid",
			EntityType: "order",
			EntityID:   order.ID,
			UserID:     req.UserID,
			OldValue:   string(from),
			NewValue:   string(order.Status),
			OccurredAt: now,
		})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Payment{}, ledger.Surface(err)
	}

	events.Flush(ctx, r.publisher, buf, r.logger)
	r.metrics.Payment(ctx, string(method), string(payment.Status))

	if declined != nil {
		span.SetStatus(codes.Error, declined.Error())
		r.logger.Warn("payment declined", "order_id", req.OrderID, "payment_id", payment.ID, "method", method, "error", declined)
		return payment, domain.WrapError(domain.ErrPaymentDeclined, "payment was declined by the processor", declined)
	}

	r.logger.Info("payment recorded", "order_id", req.OrderID, "payment_id", payment.ID, "method", method,
		"amount", payment.Amount.StringFixed(domain.MoneyPlaces))
	return payment, nil
}

// pendingPayment returns the payment row to work on: the FAILED row left by
// an earlier attempt, or a fresh PENDING one. stored reports whether the row
// already exists.
func (r *Recorder) pendingPayment(ctx context.Context, tx ledger.PaymentTx, order domain.Order, method domain.PaymentMethod, now time.Time) (p domain.Payment, stored bool, err error) {
	existing, err := tx.GetPaymentByOrder(ctx, order.ID)
	switch {
	case err == nil:
		if existing.Status != domain.PaymentStatusFailed {
			return domain.Payment{}, false, domain.NewError(domain.ErrInvariantViolation,
				fmt.Sprintf("order %s is unpaid but has a %s payment", order.OrderNumber, existing.Status))
		}
		existing.Method = method
		existing.AmountTendered = decimal.NullDecimal{}
		existing.ChangeAmount = decimal.NullDecimal{}
		return existing, true, nil
	case errors.Is(err, ledger.ErrNotFound):
		return domain.Payment{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			Amount:    order.TotalAmount,
			Method:    method,
			Status:    domain.PaymentStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}, false, nil
	default:
		return domain.Payment{}, false, fmt.Errorf("get payment of order %s: %w", order.OrderNumber, err)
	}
}

func (r *Recorder) fail(ctx context.Context, tx ledger.PaymentTx, payment *domain.Payment, stored bool, userID string, cause error, now time.Time) error {
	payment.Status = domain.PaymentStatusFailed
	payment.FailureReason = domain.CleanText(cause.Error())
	payment.ProviderRef = ""
	payment.UpdatedAt = now
	if err := save(ctx, tx, *payment, stored); err != nil {
		return err
	}
	events.FromContext(ctx).Audit(domain.AuditFact{
		Action:     "payment.failed",
		EntityType: "payment",
		EntityID:   payment.ID,
		UserID:     userID,
		NewValue:   string(payment.Status),
		Reason:     payment.FailureReason,
		OccurredAt: now,
	})
	return nil
}

func save(ctx context.Context, tx ledger.PaymentTx, p domain.Payment, stored bool) error {
	if !stored {
		if err := tx.InsertPayment(ctx, p); err != nil {
			return fmt.Errorf("insert payment %s: %w", p.ID, err)
		}
		return nil
	}
	if err := tx.UpdatePayment(ctx, p); err != nil {
		return fmt.Errorf("update payment %s: %w", p.ID, err)
	}
	return nil
}

func (r *Recorder) GetPayment(ctx context.Context, orderID string) (domain.Payment, error) {
	var payment domain.Payment
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		payment, err = tx.GetPaymentByOrder(ctx, orderID)
		if errors.Is(err, ledger.ErrNotFound) {
			return domain.WrapError(domain.ErrPaymentNotFound, "no payment for order "+orderID, err)
		}
		return err
	})
	return payment, ledger.Surface(err)
}

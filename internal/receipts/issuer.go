package receipts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/joao-fontenele/retailcore/internal/domain"
	"github.com/joao-fontenele/retailcore/internal/events"
	"github.com/joao-fontenele/retailcore/internal/ledger"
	"github.com/joao-fontenele/retailcore/internal/orders"
)

var tracer = otel.Tracer("receipts")

type Issuer struct {
	store     ledger.Store
	publisher events.Publisher
	logger    *slog.Logger
	storeName string
	now       func() time.Time
}

type Option func(*Issuer)

func WithStoreName(name string) Option {
	return func(i *Issuer) { i.storeName = name }
}

func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

func NewIssuer(store ledger.Store, publisher events.Publisher, logger *slog.Logger, opts ...Option) *Issuer {
	i := &Issuer{
		store:     store,
		publisher: publisher,
		logger:    logger,
		storeName: "RETAILCORE",
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func newReceiptNumber() string {
	return "RCP-" + ulid.Make().String()
}

// IssueReceipt renders and stores the one receipt of a paid order. The
// content is frozen at this point; reprints return it unchanged.
func (i *Issuer) IssueReceipt(ctx context.Context, orderID, userID string) (domain.Receipt, error) {
	ctx, span := tracer.Start(ctx, "receipts.IssueReceipt")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	ctx, buf := events.WithBuffer(ctx)

	var receipt domain.Receipt
	err := i.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		order, err := orders.Load(ctx, tx, orderID, true)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusPaid {
			return domain.NewError(domain.ErrOrderNotPaid,
				fmt.Sprintf("order %s is %s, a receipt requires %s", order.OrderNumber, order.Status, domain.OrderStatusPaid))
		}

		_, err = tx.GetReceiptByOrder(ctx, order.ID)
		switch {
		case err == nil:
			return domain.NewError(domain.ErrReceiptAlreadyExists, "receipt for order "+order.OrderNumber+" was already issued, use reprint")
		case !errors.Is(err, ledger.ErrNotFound):
			return fmt.Errorf("get receipt of order %s: %w", order.OrderNumber, err)
		}

		payment, err := tx.GetPaymentByOrder(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("get payment of order %s: %w", order.OrderNumber, err)
		}

		ids := make([]string, 0, len(order.Items))
		for _, item := range order.Items {
			ids = append(ids, item.ProductID)
		}
		products, err := tx.GetProducts(ctx, ids)
		if err != nil {
			return fmt.Errorf("load products: %w", err)
		}

		now := i.now()
		number := newReceiptNumber()
		receipt = domain.Receipt{
			ID:            uuid.NewString(),
			OrderID:       order.ID,
			ReceiptNumber: number,
			Content: render(snapshot{
				storeName:     i.storeName,
				receiptNumber: number,
				order:         order,
				products:      products,
				payment:       payment,
				issuedAt:      now,
			}),
			IssuedAt: now,
		}
		if err := tx.InsertReceipt(ctx, receipt); err != nil {
			if errors.Is(err, ledger.ErrConflict) {
				return domain.WrapError(domain.ErrReceiptAlreadyExists, "receipt for order "+order.OrderNumber+" was already issued", err)
			}
			return fmt.Errorf("insert receipt for order %s: %w", order.OrderNumber, err)
		}

		events.FromContext(ctx).Audit(domain.AuditFact{
			Action:     "receipt.issued",
			EntityType: "receipt",
			EntityID:   receipt.ID,
			UserID:     userID,
			NewValue:   receipt.ReceiptNumber,
			OccurredAt: now,
		})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return domain.Receipt{}, ledger.Surface(err)
	}

	events.Flush(ctx, i.publisher, buf, i.logger)
	i.logger.Info("receipt issued", "order_id", orderID, "receipt_number", receipt.ReceiptNumber, "user_id", userID)
	return receipt, nil
}

// Reprint bumps the reprint counter and returns the stored content as issued.
func (i *Issuer) Reprint(ctx context.Context, orderID, userID string) (domain.Receipt, error) {
	ctx, span := tracer.Start(ctx, "receipts.Reprint")
	defer span.End()

	ctx, buf := events.WithBuffer(ctx)

	var receipt domain.Receipt
	err := i.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		receipt, err = tx.IncrementReprintCount(ctx, orderID)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				return domain.WrapError(domain.ErrReceiptNotFound, "no receipt for order "+orderID, err)
			}
			return fmt.Errorf("reprint receipt of order %s: %w", orderID, err)
		}

		events.FromContext(ctx).Audit(domain.AuditFact{
			Action:     "receipt.reprinted",
			EntityType: "receipt",
			EntityID:   receipt.ID,
			UserID:     userID,
			OldValue:   fmt.Sprint(receipt.ReprintCount - 1),
			NewValue:   fmt.Sprint(receipt.ReprintCount),
			OccurredAt: i.now(),
		})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return domain.Receipt{}, ledger.Surface(err)
	}

	events.Flush(ctx, i.publisher, buf, i.logger)
	i.logger.Info("receipt reprinted", "order_id", orderID, "receipt_number", receipt.ReceiptNumber, "reprint_count", receipt.ReprintCount)
	return receipt, nil
}

func (i *Issuer) GetReceipt(ctx context.Context, orderID string) (domain.Receipt, error) {
	var receipt domain.Receipt
	err := i.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		receipt, err = tx.GetReceiptByOrder(ctx, orderID)
		if errors.Is(err, ledger.ErrNotFound) {
			return domain.WrapError(domain.ErrReceiptNotFound, "no receipt for order "+orderID, err)
		}
		return err
	})
	return receipt, ledger.Surface(err)
}

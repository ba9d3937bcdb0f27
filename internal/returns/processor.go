package returns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/joao-fontenele/retailcore/internal/domain"
	"github.com/joao-fontenele/retailcore/internal/events"
	"github.com/joao-fontenele/retailcore/internal/inventory"
	"github.com/joao-fontenele/retailcore/internal/ledger"
	"github.com/joao-fontenele/retailcore/internal/orders"
	"github.com/joao-fontenele/retailcore/internal/telemetry"
)

var tracer = otel.Tracer("returns")

type ItemRequest struct {
	OrderItemID string `json:"order_item_id"`
	Quantity    int    `json:"quantity"`
	Condition   string `json:"condition,omitempty"`
}

type CreateReturnRequest struct {
	OrderID string        `json:"order_id"`
	Items   []ItemRequest `json:"items"`
	Reason  string        `json:"reason"`
	UserID  string        `json:"user_id,omitempty"`
	// Approve completes the return immediately and restores stock.
	Approve bool `json:"approve"`
}

type Processor struct {
	store     ledger.Store
	guard     *inventory.Guard
	publisher events.Publisher
	metrics   *telemetry.Instruments
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Processor)

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func NewProcessor(store ledger.Store, guard *inventory.Guard, publisher events.Publisher,
	metrics *telemetry.Instruments, logger *slog.Logger, opts ...Option) *Processor {
	p := &Processor{
		store:     store,
		guard:     guard,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CreateReturn records a return against a paid order. The refund is the flat
// snapshot price of each returned unit; discount and tax are not prorated.
func (p *Processor) CreateReturn(ctx context.Context, req CreateReturnRequest) (domain.Return, error) {
	ctx, span := tracer.Start(ctx, "returns.CreateReturn")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", req.OrderID), attribute.Bool("return.approve", req.Approve))

	if len(req.Items) == 0 {
		return domain.Return{}, domain.NewError(domain.ErrInvalidReturnQuantity, "return must contain at least one item")
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return domain.Return{}, domain.NewError(domain.ErrInvalidReturnQuantity,
				fmt.Sprintf("return quantity for item %s must be positive, got %d", item.OrderItemID, item.Quantity))
		}
	}

	ctx, buf := events.WithBuffer(ctx)

	var ret domain.Return
	err := p.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		order, err := orders.Load(ctx, tx, req.OrderID, true)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusPaid {
			return domain.NewError(domain.ErrOrderNotReturnable,
				fmt.Sprintf("order %s is %s, only %s orders can be returned", order.OrderNumber, order.Status, domain.OrderStatusPaid))
		}

		returned, err := tx.ReturnedQuantities(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("sum returned quantities of order %s: %w", order.OrderNumber, err)
		}

		byID := make(map[string]domain.OrderItem, len(order.Items))
		for _, item := range order.Items {
			byID[item.ID] = item
		}

		now := p.now()
		ret = domain.Return{
			ID:          uuid.NewString(),
			OrderID:     order.ID,
			Status:      domain.ReturnPending,
			Reason:      domain.CleanText(req.Reason),
			TotalRefund: decimal.Zero,
			UserID:      req.UserID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		for _, line := range req.Items {
			item, ok := byID[line.OrderItemID]
			if !ok {
				return domain.NewError(domain.ErrInvalidReturnQuantity,
					fmt.Sprintf("item %s does not belong to order %s", line.OrderItemID, order.OrderNumber))
			}
			already := returned[item.ID]
			if line.Quantity+already > item.Quantity {
				return domain.NewError(domain.ErrInvalidReturnQuantity,
					fmt.Sprintf("cannot return %d of item %s: %d sold, %d already returned", line.Quantity, item.ID, item.Quantity, already))
			}
			returned[item.ID] = already + line.Quantity

			refund := domain.RoundMoney(item.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
			ret.Items = append(ret.Items, domain.ReturnItem{
				ID:           uuid.NewString(),
				ReturnID:     ret.ID,
				OrderItemID:  item.ID,
				ProductID:    item.ProductID,
				Quantity:     line.Quantity,
				Condition:    domain.CleanText(line.Condition),
				RefundAmount: refund,
			})
			ret.TotalRefund = ret.TotalRefund.Add(refund)
		}

		if err := tx.InsertReturn(ctx, ret); err != nil {
			return fmt.Errorf("insert return for order %s: %w", order.OrderNumber, err)
		}
		if err := tx.InsertReturnItems(ctx, ret.Items); err != nil {
			return fmt.Errorf("insert return items for order %s: %w", order.OrderNumber, err)
		}

		events.FromContext(ctx).Audit(domain.AuditFact{
			Action:     "return.created",
			EntityType: "return",
			EntityID:   ret.ID,
			UserID:     req.UserID,
			NewValue:   string(ret.Status),
			Reason:     ret.Reason,
			OccurredAt: now,
		})

		if req.Approve {
			return p.complete(ctx, tx, &ret, order, req.UserID, now)
		}

		if err := tx.UpdateOrderReturnStatus(ctx, order.ID, domain.ReturnStatusRequested); err != nil {
			return fmt.Errorf("mark order %s return requested: %w", order.OrderNumber, err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return domain.Return{}, ledger.Surface(err)
	}

	events.Flush(ctx, p.publisher, buf, p.logger)
	p.metrics.Return(ctx, string(ret.Status))
	p.logger.Info("return created", "return_id", ret.ID, "order_id", ret.OrderID, "status", ret.Status,
		"total_refund", ret.TotalRefund.StringFixed(domain.MoneyPlaces))
	return ret, nil
}

// CompleteReturn restores stock for every line of a pending or approved
// return. Completing twice fails with ErrReturnNotPending.
func (p *Processor) CompleteReturn(ctx context.Context, returnID, userID string) (domain.Return, error) {
	ctx, span := tracer.Start(ctx, "returns.CompleteReturn")
	defer span.End()

	ctx, buf := events.WithBuffer(ctx)

	var ret domain.Return
	err := p.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var (
			order domain.Order
			err   error
		)
		ret, order, err = p.lock(ctx, tx, returnID)
		if err != nil {
			return err
		}
		if !ret.Status.Completable() {
			return domain.NewError(domain.ErrReturnNotPending, fmt.Sprintf("return %s is already %s", ret.ID, ret.Status))
		}
		return p.complete(ctx, tx, &ret, order, userID, p.now())
	})
	if err != nil {
		span.RecordError(err)
		return domain.Return{}, ledger.Surface(err)
	}

	events.Flush(ctx, p.publisher, buf, p.logger)
	p.metrics.Return(ctx, string(ret.Status))
	p.logger.Info("return completed", "return_id", ret.ID, "order_id", ret.OrderID, "user_id", userID)
	return ret, nil
}

// ApproveReturn accepts a pending return without restoring stock yet. The
// goods are put back on the shelf by CompleteReturn.
func (p *Processor) ApproveReturn(ctx context.Context, returnID, userID string) (domain.Return, error) {
	ctx, span := tracer.Start(ctx, "returns.ApproveReturn")
	defer span.End()

	ctx, buf := events.WithBuffer(ctx)

	var ret domain.Return
	err := p.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		ret, _, err = p.lock(ctx, tx, returnID)
		if err != nil {
			return err
		}
		if ret.Status != domain.ReturnPending {
			return domain.NewError(domain.ErrReturnNotPending, fmt.Sprintf("return %s is already %s", ret.ID, ret.Status))
		}

		now := p.now()
		if err := p.setStatus(ctx, tx, &ret, domain.ReturnApproved, "", now); err != nil {
			return err
		}

		events.FromContext(ctx).Audit(domain.AuditFact{
			Action:     "return.approved",
			EntityType: "return",
			EntityID:   ret.ID,
			UserID:     userID,
			OldValue:   string(domain.ReturnPending),
			NewValue:   string(ret.Status),
			OccurredAt: now,
		})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return domain.Return{}, ledger.Surface(err)
	}

	events.Flush(ctx, p.publisher, buf, p.logger)
	p.metrics.Return(ctx, string(ret.Status))
	p.logger.Info("return approved", "return_id", ret.ID, "order_id", ret.OrderID, "user_id", userID)
	return ret, nil
}

// RejectReturn closes a pending return without touching stock.
func (p *Processor) RejectReturn(ctx context.Context, returnID, userID, reason string) (domain.Return, error) {
	ctx, span := tracer.Start(ctx, "returns.RejectReturn")
	defer span.End()

	ctx, buf := events.WithBuffer(ctx)
	reason = domain.CleanText(reason)

	var ret domain.Return
	err := p.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var (
			order domain.Order
			err   error
		)
		ret, order, err = p.lock(ctx, tx, returnID)
		if err != nil {
			return err
		}
		if ret.Status != domain.ReturnPending {
			return domain.NewError(domain.ErrReturnNotPending, fmt.Sprintf("return %s is already %s", ret.ID, ret.Status))
		}

		now := p.now()
		from := ret.Status
		if err := p.setStatus(ctx, tx, &ret, domain.ReturnRejected, reason, now); err != nil {
			return err
		}
		if err := tx.UpdateOrderReturnStatus(ctx, order.ID, domain.ReturnStatusRejected); err != nil {
			return fmt.Errorf("mark order %s return rejected: %w", order.OrderNumber, err)
		}

		events.FromContext(ctx).Audit(domain.AuditFact{
			Action:     "return.rejected",
			EntityType: "return",
			EntityID:   ret.ID,
			UserID:     userID,
			OldValue:   string(from),
			NewValue:   string(ret.Status),
			Reason:     reason,
			OccurredAt: now,
		})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return domain.Return{}, ledger.Surface(err)
	}

	events.Flush(ctx, p.publisher, buf, p.logger)
	p.metrics.Return(ctx, string(ret.Status))
	p.logger.Info("return rejected", "return_id", ret.ID, "order_id", ret.OrderID, "user_id", userID)
	return ret, nil
}

func (p *Processor) GetReturn(ctx context.Context, id string) (domain.Return, error) {
	var ret domain.Return
	err := p.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		ret, err = tx.GetReturn(ctx, id)
		return returnLookupError(id, err)
	})
	return ret, ledger.Surface(err)
}

// lock takes the order row lock before the return row lock, the same order
// CreateReturn uses, so completions and new returns on one order serialise.
func (p *Processor) lock(ctx context.Context, tx ledger.Tx, returnID string) (domain.Return, domain.Order, error) {
	peek, err := tx.GetReturn(ctx, returnID)
	if err != nil {
		return domain.Return{}, domain.Order{}, returnLookupError(returnID, err)
	}
	order, err := orders.Load(ctx, tx, peek.OrderID, true)
	if err != nil {
		return domain.Return{}, domain.Order{}, err
	}
	ret, err := tx.LockReturn(ctx, returnID)
	if err != nil {
		return domain.Return{}, domain.Order{}, returnLookupError(returnID, err)
	}
	return ret, order, nil
}

func (p *Processor) complete(ctx context.Context, tx ledger.Tx, ret *domain.Return, order domain.Order, userID string, now time.Time) error {
	for _, item := range ret.Items {
		_, err := p.guard.Restore(ctx, tx, inventory.Change{
			ProductID:   item.ProductID,
			Quantity:    item.Quantity,
			Type:        domain.MovementReturn,
			Reason:      "return " + order.OrderNumber,
			UserID:      userID,
			ReferenceID: ret.ID,
		})
		if err != nil {
			return err
		}
	}

	from := ret.Status
	if err := p.setStatus(ctx, tx, ret, domain.ReturnCompleted, "", now); err != nil {
		return err
	}
	if err := tx.UpdateOrderReturnStatus(ctx, order.ID, domain.ReturnStatusReturned); err != nil {
		return fmt.Errorf("mark order %s returned: %w", order.OrderNumber, err)
	}

	events.FromContext(ctx).Audit(domain.AuditFact{
		Action:     "return.completed",
		EntityType: "return",
		EntityID:   ret.ID,
		UserID:     userID,
		OldValue:   string(from),
		NewValue:   string(ret.Status),
		OccurredAt: now,
	})
	return nil
}

// setStatus persists a new return status. A freshly inserted return is
// updated through the same check-then-set as a stored one.
func (p *Processor) setStatus(ctx context.Context, tx ledger.ReturnTx, ret *domain.Return, to domain.ReturnState, reason string, now time.Time) error {
	ok, err := tx.UpdateReturnStatus(ctx, ret.ID, ret.Status, to, reason)
	if err != nil {
		return fmt.Errorf("update return %s: %w", ret.ID, err)
	}
	if !ok {
		return domain.NewError(domain.ErrReturnNotPending, fmt.Sprintf("return %s changed status concurrently", ret.ID))
	}
	ret.Status = to
	ret.UpdatedAt = now
	if reason != "" {
		ret.DecisionReason = reason
	}
	return nil
}

func returnLookupError(id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ledger.ErrNotFound) {
		return domain.WrapError(domain.ErrReturnNotFound, "return "+id+" not found", err)
	}
	return fmt.Errorf("get return %s: %w", id, err)
}

package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/joao-fontenele/retailcore/internal/domain"
	"github.com/joao-fontenele/retailcore/internal/events"
	"github.com/joao-fontenele/retailcore/internal/inventory"
	"github.com/joao-fontenele/retailcore/internal/ledger"
	"github.com/joao-fontenele/retailcore/internal/pricing"
	"github.com/joao-fontenele/retailcore/internal/telemetry"
)

var tracer = otel.Tracer("orders")

type ItemRequest struct {
	ProductID      string     `json:"product_id"`
	Quantity       int        `json:"quantity"`
	SerialNumber   string     `json:"serial_number,omitempty"`
	WarrantyExpiry *time.Time `json:"warranty_expiry,omitempty"`
}

type CreateOrderRequest struct {
	CustomerID      string        `json:"customer_id,omitempty"`
	AgentID         string        `json:"agent_id,omitempty"`
	Items           []ItemRequest `json:"items"`
	DiscountCode    string        `json:"discount_code,omitempty"`
	CouponCode      string        `json:"coupon_code,omitempty"`
	ShippingAddress string        `json:"shipping_address,omitempty"`
}

type Service struct {
	store     ledger.Store
	resolver  *pricing.Resolver
	guard     *inventory.Guard
	publisher events.Publisher
	metrics   *telemetry.Instruments
	logger    *slog.Logger
	retry     ledger.RetryPolicy
	numbers   func(time.Time) string
	now       func() time.Time
}

type Option func(*Service)

func WithRetryPolicy(p ledger.RetryPolicy) Option {
	return func(s *Service) { s.retry = p }
}

// WithOrderNumbers replaces the order number generator.
func WithOrderNumbers(fn func(time.Time) string) Option {
	return func(s *Service) { s.numbers = fn }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store ledger.Store, resolver *pricing.Resolver, guard *inventory.Guard, publisher events.Publisher,
	metrics *telemetry.Instruments, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		resolver:  resolver,
		guard:     guard,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		retry:     ledger.DefaultRetryPolicy(),
		numbers:   NewOrderNumber,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewOrderNumber formats ORD-YYYYMMDD-XXXXXX using the random tail of a ULID.
func NewOrderNumber(at time.Time) string {
	id := ulid.Make().String()
	return fmt.Sprintf("ORD-%s-%s", at.Format("20060102"), id[len(id)-6:])
}

// CreateOrder prices the cart, reserves stock for every line and persists the
// order in PENDING_PAYMENT, all in one transaction. Transient store failures
// and order number collisions start a fresh attempt; rule violations do not.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (domain.Order, error) {
	ctx, span := tracer.Start(ctx, "orders.CreateOrder")
	defer span.End()

	if err := validateCreate(req); err != nil {
		return domain.Order{}, err
	}

	policy := s.retry
	policy.Retryable = func(err error) bool {
		return ledger.IsTransient(err) || errors.Is(err, ledger.ErrConflict)
	}
	policy.OnRetry = func(err error, wait time.Duration) {
		s.metrics.TxRetry(ctx, "create_order")
		s.logger.Warn("retrying order creation", "error", err, "wait", wait)
	}

	var (
		order domain.Order
		buf   *events.Buffer
	)
	err := ledger.Retry(ctx, policy, func(ctx context.Context) error {
		attemptCtx, attemptBuf := events.WithBuffer(ctx)
		o, err := s.createOnce(attemptCtx, req)
		if err != nil {
			return err
		}
		order, buf = o, attemptBuf
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		var derr *domain.Error
		if errors.As(err, &derr) && derr.Kind != domain.KindTransient {
			return domain.Order{}, err
		}
		s.logger.Error("order creation failed", "error", err, "customer_id", req.CustomerID)
		return domain.Order{}, domain.WrapError(domain.ErrOrderCreationFailed, "could not create order, try again", err)
	}

	events.Flush(ctx, s.publisher, buf, s.logger)
	s.metrics.OrderCreated(ctx)
	span.SetAttributes(attribute.String("order.id", order.ID), attribute.String("order.number", order.OrderNumber))
	s.logger.Info("order created", "order_id", order.ID, "order_number", order.OrderNumber,
		"customer_id", order.CustomerID, "total", order.TotalAmount.StringFixed(domain.MoneyPlaces))
	return order, nil
}

func validateCreate(req CreateOrderRequest) error {
	if len(req.Items) == 0 {
		return domain.NewError(domain.ErrInvalidRequest, "order must contain at least one item")
	}
	if len(strings.TrimSpace(req.ShippingAddress)) > domain.MaxTextLength {
		return domain.NewError(domain.ErrInvalidRequest,
			fmt.Sprintf("shipping address exceeds %d bytes", domain.MaxTextLength))
	}
	for i, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return domain.NewError(domain.ErrInvalidRequest, fmt.Sprintf("item %d has no product id", i))
		}
		if item.Quantity <= 0 {
			return domain.NewError(domain.ErrInvalidQuantity,
				fmt.Sprintf("quantity for product %s must be positive, got %d", item.ProductID, item.Quantity))
		}
	}
	return nil
}

type reservation struct {
	productID string
	quantity  int
}

// reservations folds the items into one reservation per product, ordered by
// product id so concurrent orders lock rows in the same sequence.
func reservations(items []domain.OrderItem) []reservation {
	totals := make(map[string]int)
	for _, item := range items {
		totals[item.ProductID] += item.Quantity
	}
	out := make([]reservation, 0, len(totals))
	for id, qty := range totals {
		out = append(out, reservation{productID: id, quantity: qty})
	}
	slices.SortFunc(out, func(a, b reservation) int { return strings.Compare(a.productID, b.productID) })
	return out
}

func (s *Service) createOnce(ctx context.Context, req CreateOrderRequest) (domain.Order, error) {
	var order domain.Order
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		ids := make([]string, 0, len(req.Items))
		for _, item := range req.Items {
			ids = append(ids, item.ProductID)
		}
		products, err := tx.GetProducts(ctx, ids)
		if err != nil {
			return fmt.Errorf("load products: %w", err)
		}

		lines := make([]pricing.Line, 0, len(req.Items))
		for _, item := range req.Items {
			p, ok := products[item.ProductID]
			if !ok {
				return domain.NewError(domain.ErrProductNotFound, fmt.Sprintf("product %s not found", item.ProductID))
			}
			lines = append(lines, pricing.Line{ProductID: p.ID, Quantity: item.Quantity, UnitPrice: p.Price})
		}

		totals, err := s.resolver.Resolve(ctx, tx, lines, req.DiscountCode)
		if err != nil {
			return err
		}

		now := s.now()
		order = domain.Order{
			ID:              uuid.NewString(),
			OrderNumber:     s.numbers(now),
			Status:          domain.OrderStatusDraft,
			ReturnStatus:    domain.ReturnStatusNone,
			Subtotal:        totals.Subtotal,
			TaxAmount:       totals.TaxAmount,
			DiscountAmount:  totals.DiscountAmount,
			TotalAmount:     totals.Total,
			TaxRate:         totals.TaxRate,
			DiscountID:      totals.DiscountID,
			CustomerID:      req.CustomerID,
			AgentID:         req.AgentID,
			CouponCode:      domain.CleanText(req.CouponCode),
			ShippingAddress: domain.CleanText(req.ShippingAddress),
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		for _, item := range req.Items {
			p := products[item.ProductID]
			warranty := item.WarrantyExpiry
			if warranty == nil && p.WarrantyMonths != nil {
				expiry := now.AddDate(0, *p.WarrantyMonths, 0)
				warranty = &expiry
			}
			order.Items = append(order.Items, domain.OrderItem{
				ID:             uuid.NewString(),
				OrderID:        order.ID,
				ProductID:      p.ID,
				Quantity:       item.Quantity,
				Price:          p.Price,
				CostPrice:      p.CostPrice,
				SerialNumber:   domain.CleanText(item.SerialNumber),
				WarrantyExpiry: warranty,
			})
		}

		if err := order.CheckTotals(); err != nil {
			return err
		}

		for _, r := range reservations(order.Items) {
			_, err := s.guard.Reserve(ctx, tx, inventory.Change{
				ProductID:   r.productID,
				Quantity:    r.quantity,
				Reason:      "sale " + order.OrderNumber,
				UserID:      req.AgentID,
				ReferenceID: order.ID,
			})
			if err != nil {
				return err
			}
		}

		from, err := order.Transition(domain.OrderStatusPendingPayment, now)
		if err != nil {
			return err
		}

		if err := tx.InsertOrder(ctx, order); err != nil {
			return fmt.Errorf("insert order %s: %w", order.OrderNumber, err)
		}
		if err := tx.InsertOrderItems(ctx, order.Items); err != nil {
			return fmt.Errorf("insert items of order %s: %w", order.OrderNumber, err)
		}

		buf := events.FromContext(ctx)
		buf.Audit(domain.AuditFact{
			Action:     "order.created",
			EntityType: "order",
			EntityID:   order.ID,
			UserID:     req.AgentID,
			OldValue:   string(from),
			NewValue:   string(order.Status),
			OccurredAt: now,
		})
		buf.Add(events.TopicOrderCreated, order.ID, domain.OrderCreatedEvent{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			CustomerID:  order.CustomerID,
			Items:       order.Items,
			Total:       order.TotalAmount,
			Timestamp:   now,
		})
		return nil
	})
	return order, err
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	var order domain.Order
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		order, err = Load(ctx, tx, id, false)
		return err
	})
	return order, ledger.Surface(err)
}

// Load reads an order with its items. With lock set the order row stays
// locked until the surrounding transaction ends.
func Load(ctx context.Context, tx ledger.OrderTx, id string, lock bool) (domain.Order, error) {
	get := tx.GetOrder
	if lock {
		get = tx.LockOrder
	}
	order, err := get(ctx, id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return domain.Order{}, domain.WrapError(domain.ErrOrderNotFound, "order "+id+" not found", err)
		}
		return domain.Order{}, fmt.Errorf("get order %s: %w", id, err)
	}

	order.Items, err = tx.ListOrderItems(ctx, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("list items of order %s: %w", id, err)
	}
	return order, nil
}

// CancelOrder voids an order that has not been paid. Stock reserved for a
// PENDING_PAYMENT order is put back with adjustment movements.
func (s *Service) CancelOrder(ctx context.Context, id, userID, reason string) (domain.Order, error) {
	ctx, span := tracer.Start(ctx, "orders.CancelOrder")
	defer span.End()

	ctx, buf := events.WithBuffer(ctx)
	reason = domain.CleanText(reason)

	var order domain.Order
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		order, err = Load(ctx, tx, id, true)
		if err != nil {
			return err
		}

		now := s.now()
		from, err := order.Transition(domain.OrderStatusCancelled, now)
		if err != nil {
			return err
		}

		if from == domain.OrderStatusPendingPayment {
			for _, r := range reservations(order.Items) {
				_, err := s.guard.Restore(ctx, tx, inventory.Change{
					ProductID:   r.productID,
					Quantity:    r.quantity,
					Type:        domain.MovementAdjustment,
					Reason:      strings.TrimSpace("cancel " + order.OrderNumber + " " + reason),
					UserID:      userID,
					ReferenceID: order.ID,
				})
				if err != nil {
					return err
				}
			}
		}

		ok, err := tx.UpdateOrderStatus(ctx, order.ID, from, order.Status)
		if err != nil {
			return fmt.Errorf("cancel order %s: %w", order.OrderNumber, err)
		}
		if !ok {
			return domain.NewError(domain.ErrInvalidTransition,
				fmt.Sprintf("order %s changed status concurrently", order.OrderNumber))
		}

		events.FromContext(ctx).Audit(domain.AuditFact{
			Action:     "order.cancelled",
			EntityType: "order",
			EntityID:   order.ID,
			UserID:     userID,
			OldValue:   string(from),
			NewValue:   string(order.Status),
			Reason:     reason,
			OccurredAt: now,
		})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return domain.Order{}, ledger.Surface(err)
	}

	events.Flush(ctx, s.publisher, buf, s.logger)
	s.logger.Info("order cancelled", "order_id", order.ID, "order_number", order.OrderNumber, "user_id", userID)
	return order, nil
}

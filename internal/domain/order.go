package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusDraft          OrderStatus = "DRAFT"
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	OrderStatusPaid           OrderStatus = "PAID"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
)

// ReturnStatus tracks the return axis of a paid order. It moves independently
// of OrderStatus, which stays PAID once payment is captured.
type ReturnStatus string

const (
	ReturnStatusNone      ReturnStatus = "NONE"
	ReturnStatusRequested ReturnStatus = "RETURN_REQUESTED"
	ReturnStatusReturned  ReturnStatus = "RETURNED"
	ReturnStatusRejected  ReturnStatus = "RETURN_REJECTED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusDraft:          {OrderStatusPendingPayment, OrderStatusCancelled},
	OrderStatusPendingPayment: {OrderStatusPaid, OrderStatusCancelled},
}

// CanTransition reports whether an order may move from one status to another.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the order to the given status, returning the previous one.
func (o *Order) Transition(to OrderStatus, at time.Time) (OrderStatus, error) {
	from := o.Status
	if !from.CanTransition(to) {
		return from, NewError(ErrInvalidTransition, fmt.Sprintf("order %s cannot move from %s to %s", o.OrderNumber, from, to))
	}
	o.Status = to
	o.UpdatedAt = at
	return from, nil
}

type OrderItem struct {
	ID             string              `json:"id"`
	OrderID        string              `json:"order_id"`
	ProductID      string              `json:"product_id"`
	Quantity       int                 `json:"quantity"`
	Price          decimal.Decimal     `json:"price"`
	CostPrice      decimal.NullDecimal `json:"cost_price"`
	SerialNumber   string              `json:"serial_number,omitempty"`
	WarrantyExpiry *time.Time          `json:"warranty_expiry,omitempty"`
}

// LineTotal is the snapshot unit price multiplied by the quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"order_number"`
	Status          OrderStatus     `json:"status"`
	ReturnStatus    ReturnStatus    `json:"return_status"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	TaxRate         decimal.Decimal `json:"tax_rate"`
	DiscountID      string          `json:"discount_id,omitempty"`
	CustomerID      string          `json:"customer_id,omitempty"`
	AgentID         string          `json:"agent_id,omitempty"`
	CouponCode      string          `json:"coupon_code,omitempty"`
	ShippingAddress string          `json:"shipping_address,omitempty"`
	Items           []OrderItem     `json:"items"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// CheckTotals verifies the money invariants of an order against its items.
func (o Order) CheckTotals() error {
	subtotal := decimal.Zero
	for _, item := range o.Items {
		subtotal = subtotal.Add(item.LineTotal())
	}
	if !subtotal.Equal(o.Subtotal) {
		return NewError(ErrInvariantViolation, fmt.Sprintf("order %s subtotal %s does not match items sum %s", o.OrderNumber, o.Subtotal, subtotal))
	}
	want := o.Subtotal.Sub(o.DiscountAmount).Add(o.TaxAmount)
	if !want.Equal(o.TotalAmount) {
		return NewError(ErrInvariantViolation, fmt.Sprintf("order %s total %s does not match %s", o.OrderNumber, o.TotalAmount, want))
	}
	return nil
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReturnState string

const (
	ReturnPending   ReturnState = "pending"
	ReturnApproved  ReturnState = "approved"
	ReturnRejected  ReturnState = "rejected"
	ReturnCompleted ReturnState = "completed"
)

// Completable reports whether stock may still be restored for a return in this state.
func (s ReturnState) Completable() bool {
	return s == ReturnPending || s == ReturnApproved
}

type Return struct {
	ID             string          `json:"id"`
	OrderID        string          `json:"order_id"`
	Status         ReturnState     `json:"status"`
	Reason         string          `json:"reason"`
	DecisionReason string          `json:"decision_reason,omitempty"`
	TotalRefund    decimal.Decimal `json:"total_refund"`
	UserID         string          `json:"user_id,omitempty"`
	Items          []ReturnItem    `json:"items"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type ReturnItem struct {
	ID           string          `json:"id"`
	ReturnID     string          `json:"return_id"`
	OrderItemID  string          `json:"order_item_id"`
	ProductID    string          `json:"product_id"`
	Quantity     int             `json:"quantity"`
	Condition    string          `json:"condition,omitempty"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
}

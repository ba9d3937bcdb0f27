package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodCash     PaymentMethod = "cash"
	PaymentMethodCard     PaymentMethod = "card"
	PaymentMethodMobile   PaymentMethod = "mobile"
	PaymentMethodTransfer PaymentMethod = "transfer"
)

// ParsePaymentMethod normalises a method name and rejects unknown ones.
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	m := PaymentMethod(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodMobile, PaymentMethodTransfer:
		return m, true
	}
	return "", false
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

type Payment struct {
	ID             string              `json:"id"`
	OrderID        string              `json:"order_id"`
	Amount         decimal.Decimal     `json:"amount"`
	Method         PaymentMethod       `json:"method"`
	Status         PaymentStatus       `json:"status"`
	AmountTendered decimal.NullDecimal `json:"amount_tendered"`
	ChangeAmount   decimal.NullDecimal `json:"change_amount"`
	ProviderRef    string              `json:"provider_ref,omitempty"`
	FailureReason  string              `json:"failure_reason,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

type Receipt struct {
	ID            string     `json:"id"`
	OrderID       string     `json:"order_id"`
	ReceiptNumber string     `json:"receipt_number"`
	Content       string     `json:"content"`
	ReprintCount  int        `json:"reprint_count"`
	IssuedAt      time.Time  `json:"issued_at"`
	LastPrintedAt *time.Time `json:"last_printed_at,omitempty"`
}

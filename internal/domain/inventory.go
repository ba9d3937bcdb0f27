package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is catalog reference data. The core only ever mutates StockQuantity.
type Product struct {
	ID                string              `json:"id"`
	SKU               string              `json:"sku"`
	Name              string              `json:"name"`
	Price             decimal.Decimal     `json:"price"`
	CostPrice         decimal.NullDecimal `json:"cost_price"`
	StockQuantity     int                 `json:"stock_quantity"`
	LowStockThreshold int                 `json:"low_stock_threshold"`
	OpeningStock      int                 `json:"opening_stock"`
	WarrantyMonths    *int                `json:"warranty_months,omitempty"`
}

type StockLevel struct {
	ProductID         string `json:"product_id"`
	StockQuantity     int    `json:"stock_quantity"`
	LowStockThreshold int    `json:"low_stock_threshold"`
}

func (l StockLevel) Low() bool {
	return l.StockQuantity < l.LowStockThreshold
}

type MovementType string

const (
	MovementIn         MovementType = "in"
	MovementOut        MovementType = "out"
	MovementAdjustment MovementType = "adjustment"
	MovementReturn     MovementType = "return"
)

// StockMovement is an append-only ledger row. Quantity is always positive;
// the direction is carried by Type.
type StockMovement struct {
	ID          string       `json:"id"`
	ProductID   string       `json:"product_id"`
	Type        MovementType `json:"type"`
	Quantity    int          `json:"quantity"`
	Reason      string       `json:"reason,omitempty"`
	UserID      string       `json:"user_id,omitempty"`
	ReferenceID string       `json:"reference_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Signed returns the quantity with the direction applied.
func (m StockMovement) Signed() int {
	if m.Type == MovementOut {
		return -m.Quantity
	}
	return m.Quantity
}

type LowStockEvent struct {
	ProductID         string    `json:"product_id"`
	StockQuantity     int       `json:"stock_quantity"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	MovementID        string    `json:"movement_id"`
	OccurredAt        time.Time `json:"occurred_at"`
}

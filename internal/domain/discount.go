package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

type Discount struct {
	ID          string              `json:"id"`
	Code        string              `json:"code"`
	Type        DiscountType        `json:"type"`
	Value       decimal.Decimal     `json:"value"`
	MinPurchase decimal.NullDecimal `json:"min_purchase"`
	MaxDiscount decimal.NullDecimal `json:"max_discount"`
	IsActive    bool                `json:"is_active"`
	StartDate   *time.Time          `json:"start_date,omitempty"`
	EndDate     *time.Time          `json:"end_date,omitempty"`
}

// InWindow reports whether t falls inside the discount's validity window.
// Unset bounds leave that side open.
func (d Discount) InWindow(t time.Time) bool {
	if d.StartDate != nil && t.Before(*d.StartDate) {
		return false
	}
	if d.EndDate != nil && t.After(*d.EndDate) {
		return false
	}
	return true
}

type TaxConfig struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Rate     decimal.Decimal `json:"rate"`
	IsActive bool            `json:"is_active"`
}

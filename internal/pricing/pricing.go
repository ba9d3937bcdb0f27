// Package pricing computes order totals. Compute is pure; Resolve loads the
// discount and the active tax rate from the ledger and then calls Compute.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/retailcore/internal/domain"
	"github.com/joao-fontenele/retailcore/internal/ledger"
)

var hundred = decimal.NewFromInt(100)

type Line struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

type Totals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	Total          decimal.Decimal `json:"total"`
	TaxRate        decimal.Decimal `json:"tax_rate"`
	DiscountID     string          `json:"discount_id,omitempty"`
}

// Compute prices lines with an optional discount and the given tax config.
// Discount checks run in a fixed order: active, within window, minimum purchase.
func Compute(lines []Line, discount *domain.Discount, tax domain.TaxConfig, now time.Time) (Totals, error) {
	if len(lines) == 0 {
		return Totals{}, domain.NewError(domain.ErrInvalidRequest, "at least one line is required")
	}

	subtotal := decimal.Zero
	for _, l := range lines {
		if l.Quantity <= 0 {
			return Totals{}, domain.NewError(domain.ErrInvalidQuantity,
				fmt.Sprintf("quantity for product %s must be positive, got %d", l.ProductID, l.Quantity))
		}
		if l.UnitPrice.IsNegative() {
			return Totals{}, domain.NewError(domain.ErrInvariantViolation,
				fmt.Sprintf("product %s has a negative price %s", l.ProductID, l.UnitPrice))
		}
		subtotal = subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	subtotal = domain.RoundMoney(subtotal)

	totals := Totals{Subtotal: subtotal, DiscountAmount: decimal.Zero, TaxRate: tax.Rate}

	if discount != nil {
		amount, err := discountAmount(*discount, subtotal, now)
		if err != nil {
			return Totals{}, err
		}
		totals.DiscountAmount = amount
		totals.DiscountID = discount.ID
	}

	if tax.Rate.IsNegative() {
		return Totals{}, domain.NewError(domain.ErrInvariantViolation,
			fmt.Sprintf("tax config %s has a negative rate %s", tax.ID, tax.Rate))
	}
	totals.TaxAmount = domain.RoundMoney(subtotal.Sub(totals.DiscountAmount).Mul(tax.Rate))
	totals.Total = subtotal.Sub(totals.DiscountAmount).Add(totals.TaxAmount)

	if totals.Total.IsNegative() {
		return Totals{}, domain.NewError(domain.ErrInvariantViolation,
			fmt.Sprintf("computed total %s is negative", totals.Total))
	}
	return totals, nil
}

func discountAmount(d domain.Discount, subtotal decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if !d.IsActive {
		return decimal.Zero, domain.NewError(domain.ErrDiscountNotApplicable,
			fmt.Sprintf("discount %s is not active", d.Code))
	}
	if !d.InWindow(now) {
		return decimal.Zero, domain.NewError(domain.ErrDiscountNotApplicable,
			fmt.Sprintf("discount %s is outside its validity window", d.Code))
	}
	if d.MinPurchase.Valid && subtotal.LessThan(d.MinPurchase.Decimal) {
		return decimal.Zero, domain.NewError(domain.ErrDiscountNotApplicable,
			fmt.Sprintf("discount %s requires a minimum purchase of %s, subtotal is %s",
				d.Code, d.MinPurchase.Decimal.StringFixed(domain.MoneyPlaces), subtotal.StringFixed(domain.MoneyPlaces)))
	}

	switch d.Type {
	case domain.DiscountPercentage:
		amount := domain.RoundMoney(subtotal.Mul(d.Value).Div(hundred))
		if d.MaxDiscount.Valid && amount.GreaterThan(d.MaxDiscount.Decimal) {
			amount = domain.RoundMoney(d.MaxDiscount.Decimal)
		}
		return amount, nil
	case domain.DiscountFixed:
		return domain.RoundMoney(decimal.Min(d.Value, subtotal)), nil
	default:
		return decimal.Zero, domain.NewError(domain.ErrInvariantViolation,
			fmt.Sprintf("discount %s has unknown type %q", d.Code, d.Type))
	}
}

type Resolver struct {
	now func() time.Time
}

func NewResolver() *Resolver {
	return &Resolver{now: func() time.Time { return time.Now().UTC() }}
}

// Resolve looks up the discount (by id or code) and the single active tax
// config, then computes the totals. An empty discountCodeOrID means no discount.
func (r *Resolver) Resolve(ctx context.Context, tx ledger.PricingTx, lines []Line, discountCodeOrID string) (Totals, error) {
	var discount *domain.Discount
	if discountCodeOrID != "" {
		d, err := tx.GetDiscount(ctx, discountCodeOrID)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				return Totals{}, domain.WrapError(domain.ErrDiscountNotApplicable,
					fmt.Sprintf("discount %s does not exist", discountCodeOrID), err)
			}
			return Totals{}, fmt.Errorf("get discount %s: %w", discountCodeOrID, err)
		}
		discount = &d
	}

	tax, err := tx.GetActiveTaxConfig(ctx)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return Totals{}, domain.WrapError(domain.ErrNoActiveTaxConfig, "no active tax config", err)
		}
		return Totals{}, fmt.Errorf("get active tax config: %w", err)
	}

	return Compute(lines, discount, tax, r.now())
}

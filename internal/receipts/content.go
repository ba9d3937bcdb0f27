package receipts

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/retailcore/internal/domain"
)

const lineWidth = 40

type snapshot struct {
	storeName     string
	receiptNumber string
	order         domain.Order
	products      map[string]domain.Product
	payment       domain.Payment
	issuedAt      time.Time
}

// render formats the receipt once at issue time. Amounts are printed with
// exactly two decimals.
func render(s snapshot) string {
	var b strings.Builder
	rule := strings.Repeat("-", lineWidth)

	center(&b, s.storeName)
	row(&b, "Receipt", s.receiptNumber)
	row(&b, "Order", s.order.OrderNumber)
	row(&b, "Date", s.issuedAt.UTC().Format("2006-01-02 15:04 MST"))
	b.WriteString(rule + "\n")

	for _, item := range s.order.Items {
		name := item.ProductID
		if p, ok := s.products[item.ProductID]; ok {
			name = fmt.Sprintf("%s (%s)", p.Name, p.SKU)
		}
		b.WriteString(truncate(name, lineWidth) + "\n")
		row(&b, fmt.Sprintf("  %d x %s", item.Quantity, money(item.Price)), money(item.LineTotal()))
		if item.SerialNumber != "" {
			b.WriteString(truncate("  S/N "+item.SerialNumber, lineWidth) + "\n")
		}
		if item.WarrantyExpiry != nil {
			b.WriteString("  Warranty until " + item.WarrantyExpiry.UTC().Format("2006-01-02") + "\n")
		}
	}

	b.WriteString(rule + "\n")
	row(&b, "Subtotal", money(s.order.Subtotal))
	if s.order.DiscountAmount.IsPositive() {
		row(&b, "Discount", "-"+money(s.order.DiscountAmount))
	}
	row(&b, fmt.Sprintf("Tax (%s%%)", s.order.TaxRate.Shift(2).StringFixed(2)), money(s.order.TaxAmount))
	row(&b, "TOTAL", money(s.order.TotalAmount))
	b.WriteString(rule + "\n")

	row(&b, "Paid "+string(s.payment.Method), money(s.payment.Amount))
	if s.payment.AmountTendered.Valid {
		row(&b, "Tendered", money(s.payment.AmountTendered.Decimal))
	}
	if s.payment.ChangeAmount.Valid {
		row(&b, "Change", money(s.payment.ChangeAmount.Decimal))
	}
	if s.payment.ProviderRef != "" {
		row(&b, "Ref", s.payment.ProviderRef)
	}
	return b.String()
}

func money(d decimal.Decimal) string {
	return d.StringFixed(domain.MoneyPlaces)
}

func row(b *strings.Builder, label, value string) {
	pad := lineWidth - len(label) - len(value)
	if pad < 1 {
		pad = 1
	}
	b.WriteString(label + strings.Repeat(" ", pad) + value + "\n")
}

func center(b *strings.Builder, s string) {
	s = truncate(s, lineWidth)
	b.WriteString(strings.Repeat(" ", (lineWidth-len(s))/2) + s + "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

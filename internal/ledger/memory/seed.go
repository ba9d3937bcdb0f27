package memory

import (
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/retailcore/internal/domain"
)

// Seed loads the demo catalog shipped in migrations/000002_seed.up.sql.
func Seed(s *Store) {
	months := 12
	money := decimal.RequireFromString

	s.AddProduct(domain.Product{ID: "PROD-001", SKU: "KB-MECH-01", Name: "Mechanical Keyboard", Price: money("20.00"),
		CostPrice: decimal.NewNullDecimal(money("12.50")), StockQuantity: 10, LowStockThreshold: 3, WarrantyMonths: &months})
	s.AddProduct(domain.Product{ID: "PROD-002", SKU: "MS-WL-02", Name: "Wireless Mouse", Price: money("60.00"),
		CostPrice: decimal.NewNullDecimal(money("35.00")), StockQuantity: 50, LowStockThreshold: 5})
	s.AddProduct(domain.Product{ID: "PROD-003", SKU: "CB-USBC-03", Name: "USB-C Cable", Price: money("5.00"),
		CostPrice: decimal.NewNullDecimal(money("1.20")), StockQuantity: 100, LowStockThreshold: 10})

	s.AddTaxConfig(domain.TaxConfig{ID: "TAX-STD", Name: "Standard rate", Rate: money("0.16"), IsActive: true})

	s.AddDiscount(domain.Discount{ID: "DISC-001", Code: "WELCOME10", Type: domain.DiscountPercentage, Value: money("10"),
		MinPurchase: decimal.NewNullDecimal(money("50.00")), MaxDiscount: decimal.NewNullDecimal(money("5.00")), IsActive: true})
	s.AddDiscount(domain.Discount{ID: "DISC-002", Code: "FLAT3", Type: domain.DiscountFixed, Value: money("3"), IsActive: true})
}

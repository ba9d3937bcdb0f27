package domain

import "github.com/shopspring/decimal"

const MoneyPlaces = 2

// RoundMoney rounds half away from zero to two decimal places.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// NullMoney wraps a rounded amount as a valid NullDecimal.
func NullMoney(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: RoundMoney(d), Valid: true}
}

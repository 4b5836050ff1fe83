// Package decimal wraps shopspring/decimal with the precision rules of the
// factura schema: monetary amounts carry exactly 2 decimals, quantities and
// unit prices up to 6. Rounding is half-up, applied uniformly at every
// reconciliation step.
package decimal

import (
	"github.com/shopspring/decimal"
)

// MoneyPlaces is the decimal precision of monetary fields.
const MoneyPlaces = 2

// QuantityPlaces is the maximum decimal precision of quantities and unit prices.
const QuantityPlaces = 6

// Zero is decimal zero
var Zero = decimal.Zero

// FromString parses a decimal from string
func FromString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// MustFromString parses a decimal from string, panics on error
func MustFromString(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// RoundMoney rounds to 2 places, half-up
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// FormatMoney renders a monetary amount with exactly 2 decimals
func FormatMoney(d decimal.Decimal) string {
	return d.Round(MoneyPlaces).StringFixed(MoneyPlaces)
}

// FormatQuantity renders a quantity or unit price with at most 6 decimals,
// without padding trailing zeros
func FormatQuantity(d decimal.Decimal) string {
	return d.Round(QuantityPlaces).String()
}

// FormatRate renders a fractional tax rate as the percentage the schema
// expects in tarifa: 0.15 renders as "15.00"
func FormatRate(d decimal.Decimal) string {
	return d.Mul(decimal.NewFromInt(100)).Round(MoneyPlaces).StringFixed(MoneyPlaces)
}

// LineSubtotal computes quantity*unitPrice - discount at money precision
func LineSubtotal(quantity, unitPrice, discount decimal.Decimal) decimal.Decimal {
	return RoundMoney(quantity.Mul(unitPrice)).Sub(RoundMoney(discount))
}

// TaxAmount computes base * rate at money precision
func TaxAmount(base, rate decimal.Decimal) decimal.Decimal {
	return RoundMoney(base.Mul(rate))
}

// Sum adds a slice of decimals
func Sum(values []decimal.Decimal) decimal.Decimal {
	result := Zero
	for _, v := range values {
		result = result.Add(v)
	}
	return result
}

// EqualMoney compares two amounts after rounding both to money precision.
// The final reconciliation step tolerates no difference.
func EqualMoney(a, b decimal.Decimal) bool {
	return RoundMoney(a).Equal(RoundMoney(b))
}

// IsNegative reports whether d is below zero
func IsNegative(d decimal.Decimal) bool {
	return d.LessThan(Zero)
}

// WithinQuantityPrecision reports whether d carries at most 6 decimal places
func WithinQuantityPrecision(d decimal.Decimal) bool {
	return d.Equal(d.Round(QuantityPlaces))
}

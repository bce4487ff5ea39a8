package payments

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// ToPaisa converts rupees to minor units, rounding half away from zero.
func ToPaisa(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

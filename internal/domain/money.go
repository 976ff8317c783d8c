package domain

import "github.com/shopspring/decimal"

const MoneyScale = 2

// RoundMoney rounds half away from zero to the ledger scale.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// MulQty prices a fractional quantity and rounds the result to the ledger scale.
func MulQty(price decimal.Decimal, qty float64) decimal.Decimal {
	return RoundMoney(price.Mul(decimal.NewFromFloat(qty)))
}

// AddQty and SubQty do stock arithmetic through decimal so repeated
// fractional movements do not leave binary residue on the stock field.
func AddQty(a, b float64) float64 {
	sum, _ := decimal.NewFromFloat(a).Add(decimal.NewFromFloat(b)).Float64()
	return sum
}

func SubQty(a, b float64) float64 {
	diff, _ := decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Float64()
	return diff
}

// CmpQty compares two quantities as the decimals they were entered as.
func CmpQty(a, b float64) int {
	return decimal.NewFromFloat(a).Cmp(decimal.NewFromFloat(b))
}

// Package money contains the decimal helpers used for commission and discount math.
package money

import "github.com/shopspring/decimal"

// MaxPercent is the upper bound of any percentage rate.
var MaxPercent = decimal.NewFromInt(100)

// Round rounds to the currency minor unit with round-half-even.
func Round(d decimal.Decimal, minorUnits int32) decimal.Decimal {
	return d.RoundBank(minorUnits)
}

// PercentOf returns amount * percent / 100 at full precision.
func PercentOf(amount, percent decimal.Decimal) decimal.Decimal {
	return amount.Mul(percent).Shift(-2)
}

// LineTotal returns price * quantity.
func LineTotal(price decimal.Decimal, quantity int64) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(quantity))
}

// ValidRate reports whether rate lies within [0, 100].
func ValidRate(rate decimal.Decimal) bool {
	return !rate.IsNegative() && rate.LessThanOrEqual(MaxPercent)
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultPrecision is used when an asset does not declare its own.
const DefaultPrecision = 6

// Quantize truncates an amount to the asset's decimal precision.
// Truncation (not rounding) keeps the remainder recoverable: the cut-off
// part is what the rounding legs absorb.
func Quantize(amount decimal.Decimal, precision int32) decimal.Decimal {
	return amount.Truncate(precision)
}

// SplitFee quantizes a raw fee to the asset precision and returns the
// quantized fee together with the sub-unit remainder. The remainder is
// what a rounding leg pair must carry for the operation to stay zero-sum.
func SplitFee(rawFee decimal.Decimal, precision int32) (fee, remainder decimal.Decimal) {
	fee = Quantize(rawFee, precision)
	remainder = rawFee.Sub(fee)
	return fee, remainder
}

// PercentageFee computes amount * rate / 100 without quantization. Callers
// pass the result through SplitFee before posting it.
func PercentageFee(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Div(decimal.NewFromInt(100))
}

// FormatAmount renders an amount at a fixed precision for display. Display
// amounts are never null: zero coalesces to "0.000000" style strings.
func FormatAmount(amount decimal.Decimal, precision int32) string {
	return amount.StringFixed(precision)
}

// ParseAmount parses a decimal string, rejecting malformed input early so
// ledger code never sees an unparseable amount.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d, nil
}

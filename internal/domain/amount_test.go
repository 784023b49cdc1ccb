package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestQuantize(t *testing.T) {
	d := decimal.RequireFromString("10.1234567")
	assert.Equal(t, "10.123456", Quantize(d, 6).String())
	assert.Equal(t, "10.12", Quantize(d, 2).String())
}

func TestSplitFee(t *testing.T) {
	raw := decimal.RequireFromString("0.3456789")

	fee, remainder := SplitFee(raw, 6)
	assert.Equal(t, "0.345678", fee.String())
	assert.Equal(t, "0.0000009", remainder.String())

	// fee + remainder must reconstruct the raw fee exactly
	assert.True(t, fee.Add(remainder).Equal(raw))
}

func TestSplitFee_NoRemainder(t *testing.T) {
	raw := decimal.RequireFromString("0.35")
	fee, remainder := SplitFee(raw, 2)
	assert.Equal(t, "0.35", fee.String())
	assert.True(t, remainder.IsZero())
}

func TestPercentageFee(t *testing.T) {
	amount := decimal.NewFromInt(200)
	rate := decimal.RequireFromString("1.5")
	assert.Equal(t, "3", PercentageFee(amount, rate).String())
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "0.000000", FormatAmount(decimal.Zero, 6))
	assert.Equal(t, "10.50", FormatAmount(decimal.RequireFromString("10.5"), 2))
}

func TestParseAmount(t *testing.T) {
	d, err := ParseAmount("42.000001")
	assert.NoError(t, err)
	assert.Equal(t, "42.000001", d.String())

	_, err = ParseAmount("not-a-number")
	assert.Error(t, err)
}

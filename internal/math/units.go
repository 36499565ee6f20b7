package math

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// ParseUnits converts a human decimal string ("10000.5") into base units
// with the given number of decimals. Fractional digits beyond the token's
// decimals are rejected rather than truncated.
func ParseUnits(s string, decimals int32) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return DecimalToUnits(d, decimals)
}

// maxUint256Digits is the decimal length of 2^256-1.
const maxUint256Digits = 78

// DecimalToUnits scales d by 10^decimals.
func DecimalToUnits(d decimal.Decimal, decimals int32) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, fmt.Errorf("amount %s is negative", d.String())
	}

	if d.IsZero() {
		return new(uint256.Int), nil
	}

	// Bound the result from coefficient digits and exponent before rescaling.
	// Shift and String materialize every digit, so "1e100000000" must not reach them.
	exp := int64(d.Exponent()) + int64(decimals)
	digits := int64(d.NumDigits())
	if exp > maxUint256Digits-1 || digits+exp > maxUint256Digits {
		return nil, ErrOverflow
	}
	if exp < 0 && -exp > digits {
		return nil, fmt.Errorf("amount with exponent %d has more than %d decimals", d.Exponent(), decimals)
	}

	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %s has more than %d decimals", d.String(), decimals)
	}

	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, ErrOverflow
	}
	return v, nil
}

// FormatUnits renders base units as a decimal string, trimming trailing zeros.
func FormatUnits(v *uint256.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return UnitsToDecimal(v, decimals).String()
}

// UnitsToDecimal converts base units into a decimal.Decimal.
func UnitsToDecimal(v *uint256.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(v.ToBig(), -decimals)
}

// ParseRatio parses a ratio like "1.3" into 1e18 fixed point.
func ParseRatio(s string) (*uint256.Int, error) {
	return ParseUnits(s, PrecisionDecimals)
}

// FormatRatio renders a 1e18 fixed point ratio.
func FormatRatio(v *uint256.Int) string {
	return FormatUnits(v, PrecisionDecimals)
}

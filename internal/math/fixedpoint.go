package math

import (
	"errors"

	"github.com/holiman/uint256"
)

// PrecisionDecimals is the number of decimals carried by products, sums and ratios.
const PrecisionDecimals = 18

// DefaultScaleFactor is the product rollover multiplier (1e9).
const DefaultScaleFactor uint64 = 1_000_000_000

var (
	ErrOverflow       = errors.New("fixed point: overflow")
	ErrUnderflow      = errors.New("fixed point: underflow")
	ErrDivisionByZero = errors.New("fixed point: division by zero")
)

type RoundingMode int

const (
	RoundDown RoundingMode = iota
	RoundUp
)

// Precision returns a fresh 1e18.
func Precision() *uint256.Int {
	return uint256.NewInt(1_000_000_000_000_000_000)
}

// MaxUint256 returns 2^256-1, used by callers as "entire balance".
func MaxUint256() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}

// IsMax reports whether v is the MaxUint256 sentinel.
func IsMax(v *uint256.Int) bool {
	return v != nil && v.Eq(MaxUint256())
}

// Zero returns a fresh zero.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// Clone returns a copy, treating nil as zero.
func Clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}

// MulDiv computes x * y / d with a 512-bit intermediate, rounding down.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	return MulDivRounding(x, y, d, RoundDown)
}

// MulDivUp computes ceil(x * y / d).
func MulDivUp(x, y, d *uint256.Int) (*uint256.Int, error) {
	return MulDivRounding(x, y, d, RoundUp)
}

// MulDivRounding computes x * y / d with the requested rounding.
func MulDivRounding(x, y, d *uint256.Int, mode RoundingMode) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}

	result, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}

	if mode == RoundUp {
		// remainder != 0 iff (x*y) mod d != 0
		if !new(uint256.Int).MulMod(x, y, d).IsZero() {
			if result.Eq(MaxUint256()) {
				return nil, ErrOverflow
			}
			result.AddUint64(result, 1)
		}
	}

	return result, nil
}

// Add returns x + y or ErrOverflow.
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return sum, nil
}

// Sub returns x - y or ErrUnderflow.
func Sub(x, y *uint256.Int) (*uint256.Int, error) {
	diff, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, ErrUnderflow
	}
	return diff, nil
}

// SaturatingSub returns max(x - y, 0).
func SaturatingSub(x, y *uint256.Int) *uint256.Int {
	if x.Lt(y) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(x, y)
}

// Min returns a copy of the smaller value.
func Min(x, y *uint256.Int) *uint256.Int {
	if x.Lt(y) {
		return x.Clone()
	}
	return y.Clone()
}

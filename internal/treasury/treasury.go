package treasury

import (
	fpmath "RebalancePool/internal/math"
	"RebalancePool/internal/state"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrBelowMinOut         = errors.New("treasury: redemption below minimum out")
	ErrInsufficientReserve = errors.New("treasury: insufficient reserve")
)

// BurnableToken is a token the treasury may burn from a holder.
type BurnableToken interface {
	state.Token
	Burn(from common.Address, amount *uint256.Int) error
}

// FixedRateTreasury redeems principal for base collateral at a fixed rate
// (base per principal, 1e18 fixed point) out of its own reserve. The collateral
// ratio is pushed in by an oracle.
// Not thread-safe; driven by the single-threaded core.
type FixedRateTreasury struct {
	address   common.Address
	principal BurnableToken
	base      state.Token
	rate      *uint256.Int
	ratio     *uint256.Int
}

func NewFixedRateTreasury(address common.Address, principal BurnableToken, base state.Token, rate, ratio *uint256.Int) *FixedRateTreasury {
	return &FixedRateTreasury{
		address:   address,
		principal: principal,
		base:      base,
		rate:      fpmath.Clone(rate),
		ratio:     fpmath.Clone(ratio),
	}
}

func (t *FixedRateTreasury) Address() common.Address   { return t.address }
func (t *FixedRateTreasury) BaseToken() common.Address { return t.base.Address() }

func (t *FixedRateTreasury) CollateralRatio() *uint256.Int {
	return t.ratio.Clone()
}

// SetCollateralRatio replaces the ratio and returns the previous value.
func (t *FixedRateTreasury) SetCollateralRatio(ratio *uint256.Int) *uint256.Int {
	old := t.ratio
	t.ratio = ratio.Clone()
	return old
}

// Quote returns the base collateral paid for amount of principal.
func (t *FixedRateTreasury) Quote(amount *uint256.Int) (*uint256.Int, error) {
	return fpmath.MulDiv(amount, t.rate, fpmath.Precision())
}

// RedeemForLiquidation burns amount of principal held by pool and pays the
// quoted base collateral to pool.
func (t *FixedRateTreasury) RedeemForLiquidation(pool common.Address, amount, minOut *uint256.Int) (*uint256.Int, error) {
	out, err := t.Quote(amount)
	if err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}
	if minOut != nil && out.Lt(minOut) {
		return nil, fmt.Errorf("%w: %s < %s", ErrBelowMinOut, out.Dec(), minOut.Dec())
	}
	if t.base.BalanceOf(t.address).Lt(out) {
		return nil, fmt.Errorf("%w: need %s", ErrInsufficientReserve, out.Dec())
	}

	if err := t.principal.Burn(pool, amount); err != nil {
		return nil, fmt.Errorf("burn principal: %w", err)
	}
	if err := t.base.Transfer(t.address, pool, out); err != nil {
		return nil, fmt.Errorf("pay collateral: %w", err)
	}
	return out, nil
}

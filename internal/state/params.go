package state

import (
	fpmath "RebalancePool/internal/math"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// DefaultUnlockDuration is the delay between unlock and withdrawUnlocked.
const DefaultUnlockDuration = 14 * 24 * time.Hour

// Params configures a pool instance
type Params struct {
	Address                     common.Address // pool custody address
	PrincipalToken              common.Address
	CollateralToken             common.Address // collateral reward token paid on liquidation
	LiquidatableCollateralRatio *uint256.Int   // 1e18 fixed point
	UnlockDuration              time.Duration
	ScaleFactor                 uint64 // product rollover multiplier
	InstantWithdraw             bool
}

// DefaultParams returns params with the default unlock duration and scale factor.
// Addresses and the liquidation threshold still have to be filled in.
func DefaultParams() Params {
	return Params{
		LiquidatableCollateralRatio: uint256.NewInt(1_300_000_000_000_000_000), // 130%
		UnlockDuration:              DefaultUnlockDuration,
		ScaleFactor:                 fpmath.DefaultScaleFactor,
	}
}

func (p Params) Validate() error {
	if p.Address == (common.Address{}) {
		return fmt.Errorf("pool address: %w", ErrZeroAddress)
	}
	if p.PrincipalToken == (common.Address{}) {
		return fmt.Errorf("principal token: %w", ErrZeroAddress)
	}
	if p.CollateralToken == (common.Address{}) {
		return fmt.Errorf("collateral token: %w", ErrZeroAddress)
	}
	if p.PrincipalToken == p.CollateralToken {
		return fmt.Errorf("principal and collateral token must differ")
	}
	if p.LiquidatableCollateralRatio == nil {
		return fmt.Errorf("liquidatable collateral ratio not set")
	}
	if p.UnlockDuration <= 0 {
		return ErrInvalidDuration
	}

	precision := fpmath.Precision().Uint64()
	if p.ScaleFactor <= 1 || p.ScaleFactor >= precision {
		return fmt.Errorf("scale factor %d out of range (1, 1e18)", p.ScaleFactor)
	}
	if precision%p.ScaleFactor != 0 {
		return fmt.Errorf("scale factor %d must divide 1e18", p.ScaleFactor)
	}
	return nil
}

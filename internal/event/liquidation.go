package event

import (
	"github.com/holiman/uint256"
)

// Liquidate records principal removed from the pool and collateral credited
// to depositors in exchange.
type Liquidate struct {
	Liquidated *uint256.Int `json:"liquidated"`
	Collateral *uint256.Int `json:"collateral"`

	// Compounding state after the loss was applied
	Epoch   uint64       `json:"epoch"`
	Scale   uint64       `json:"scale"`
	Product *uint256.Int `json:"product"`
}

func (*Liquidate) EventType() EventType { return EventTypeLiquidate }

// CollateralRatioUpdated is emitted by the treasury feed.
type CollateralRatioUpdated struct {
	OldRatio *uint256.Int `json:"old_ratio"`
	NewRatio *uint256.Int `json:"new_ratio"`
}

func (*CollateralRatioUpdated) EventType() EventType { return EventTypeCollateralRatioUpdated }

package state

import (
	fpmath "RebalancePool/internal/math"
	"fmt"

	"github.com/holiman/uint256"
)

// Snapshot is the (epoch, scale, product) triple an account was last settled at.
type Snapshot struct {
	Epoch   uint64       `json:"epoch"`
	Scale   uint64       `json:"scale"`
	Product *uint256.Int `json:"product"`
}

func (s Snapshot) clone() Snapshot {
	return Snapshot{Epoch: s.Epoch, Scale: s.Scale, Product: fpmath.Clone(s.Product)}
}

// LossResult describes what a loss did to the global state.
type LossResult struct {
	Wipeout    bool
	ScaleSteps uint64
}

// ShareLedger holds the global compounding state shared by every stake in the
// pool. Product starts at 1e18 and only decreases within an epoch; when it drops
// under the floor it is multiplied by the scale factor and the scale advances.
// Not thread-safe; owned by a single Pool.
type ShareLedger struct {
	epoch       uint64
	scale       uint64
	product     *uint256.Int
	scaleFactor *uint256.Int
	minProduct  *uint256.Int
}

func NewShareLedger(scaleFactor uint64) *ShareLedger {
	sf := uint256.NewInt(scaleFactor)
	return &ShareLedger{
		product:     fpmath.Precision(),
		scaleFactor: sf,
		minProduct:  new(uint256.Int).Div(fpmath.Precision(), sf),
	}
}

// Current returns a copy of the global state.
func (sl *ShareLedger) Current() Snapshot {
	return Snapshot{Epoch: sl.epoch, Scale: sl.scale, Product: sl.product.Clone()}
}

// Compound returns what initial, staked at snap, is worth now.
func (sl *ShareLedger) Compound(initial *uint256.Int, snap Snapshot) *uint256.Int {
	if initial == nil || initial.IsZero() || snap.Product == nil || snap.Product.IsZero() {
		return new(uint256.Int)
	}
	if snap.Epoch < sl.epoch {
		return new(uint256.Int)
	}

	var divisor *uint256.Int
	switch sl.scale - snap.Scale {
	case 0:
		divisor = snap.Product
	case 1:
		// current product was multiplied by the scale factor at rollover
		divisor = new(uint256.Int).Mul(snap.Product, sl.scaleFactor)
	default:
		return new(uint256.Int)
	}

	v, err := fpmath.MulDiv(initial, sl.product, divisor)
	if err != nil {
		// product never grows, so the result is bounded by initial
		panic(fmt.Sprintf("share ledger: compound overflow: %v", err))
	}
	return v
}

// ApplyLoss removes amount out of stake from every position. The loss fraction
// is rounded up so positions never end up larger than the aggregate backing them.
func (sl *ShareLedger) ApplyLoss(amount, stake *uint256.Int) (LossResult, error) {
	if stake.IsZero() {
		return LossResult{}, ErrNothingToLiquidate
	}
	if amount.Gt(stake) {
		return LossResult{}, ErrLiquidationExceedsStake
	}

	precision := fpmath.Precision()
	lossPerUnit, err := fpmath.MulDivUp(amount, precision, stake)
	if err != nil {
		return LossResult{}, fmt.Errorf("loss per unit: %w", err)
	}
	// A loss leaving less than stake/1e18 rounds up to a full wipeout; that
	// dust stays in custody untracked, so custody only ever exceeds the totals.
	if !lossPerUnit.Lt(precision) {
		sl.wipeout()
		return LossResult{Wipeout: true}, nil
	}

	// keep the full numerator so a rollover does not lose the low digits
	num := new(uint256.Int).Mul(sl.product, new(uint256.Int).Sub(precision, lossPerUnit))
	if num.IsZero() {
		sl.wipeout()
		return LossResult{Wipeout: true}, nil
	}

	next := new(uint256.Int).Div(num, precision)
	var steps uint64
	for next.Lt(sl.minProduct) {
		num.Mul(num, sl.scaleFactor)
		next.Div(num, precision)
		steps++
	}

	sl.product = next
	sl.scale += steps
	return LossResult{ScaleSteps: steps}, nil
}

func (sl *ShareLedger) wipeout() {
	sl.epoch++
	sl.scale = 0
	sl.product = fpmath.Precision()
}

func (sl *ShareLedger) restore(s Snapshot) {
	sl.epoch = s.Epoch
	sl.scale = s.Scale
	sl.product = fpmath.Clone(s.Product)
}

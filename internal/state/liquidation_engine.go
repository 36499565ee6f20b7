package state

import (
	"RebalancePool/internal/access"
	"RebalancePool/internal/event"
	fpmath "RebalancePool/internal/math"
	"fmt"

	"github.com/holiman/uint256"
)

// Liquidate converts amount of pooled principal into collateral through the
// collateral source and credits it to every stake pro rata. Locked and
// unlocking principal absorb the same fraction of the loss. Returns the
// collateral credited; amount zero is a no-op.
func (p *Pool) Liquidate(msg Msg, amount, minCollateralOut *uint256.Int) (_ *uint256.Int, err error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.exit(&err)

	if err := p.requireRole(access.RoleLiquidator, msg.Sender); err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() {
		return new(uint256.Int), nil
	}
	minOut := fpmath.Clone(minCollateralOut)

	if !p.source.CollateralRatio().Lt(p.params.LiquidatableCollateralRatio) {
		return nil, ErrCannotLiquidate
	}

	lockedStake := p.totalSupply
	unlockingStake := p.totalUnlocking
	stake := new(uint256.Int).Add(lockedStake, unlockingStake)
	if stake.IsZero() {
		return nil, ErrNothingToLiquidate
	}
	if amount.Gt(stake) {
		return nil, ErrLiquidationExceedsStake
	}

	received, err := p.redeem(amount, minOut)
	if err != nil {
		return nil, err
	}

	// collateral is credited at the pre-loss product, so it lands in the
	// bucket the stakes were actually snapshotted in
	collateral := p.params.CollateralToken
	lockedShare, err := fpmath.MulDiv(received, lockedStake, stake)
	if err != nil {
		return nil, fmt.Errorf("collateral split: %w", err)
	}
	unlockingShare := new(uint256.Int).Sub(received, lockedShare)

	if !lockedShare.IsZero() {
		if err := p.distribute(p.locked, collateral, lockedShare, lockedStake); err != nil {
			return nil, err
		}
	}
	if !unlockingShare.IsZero() {
		if err := p.distribute(p.unlocking, collateral, unlockingShare, unlockingStake); err != nil {
			return nil, err
		}
	}

	p.saveLedger()
	res, err := p.ledger.ApplyLoss(amount, stake)
	if err != nil {
		return nil, err
	}

	if res.Wipeout {
		p.setTotalSupply(new(uint256.Int))
		p.setTotalUnlocking(new(uint256.Int))
	} else {
		lockedLoss, err := fpmath.MulDiv(amount, lockedStake, stake)
		if err != nil {
			return nil, fmt.Errorf("loss split: %w", err)
		}
		unlockingLoss := new(uint256.Int).Sub(amount, lockedLoss)
		p.setTotalSupply(new(uint256.Int).Sub(lockedStake, lockedLoss))
		p.setTotalUnlocking(new(uint256.Int).Sub(unlockingStake, unlockingLoss))
	}

	now := p.ledger.Current()
	p.emit(&event.Liquidate{
		Liquidated: amount.Clone(),
		Collateral: received.Clone(),
		Epoch:      now.Epoch,
		Scale:      now.Scale,
		Product:    now.Product,
	})
	return received, nil
}

// redeem runs the collateral source (and wrapper) and measures what actually
// arrived in pool custody.
func (p *Pool) redeem(amount, minOut *uint256.Int) (*uint256.Int, error) {
	pool := p.params.Address
	base := p.tokens(p.source.BaseToken())

	before := base.BalanceOf(pool)
	if _, err := p.source.RedeemForLiquidation(pool, amount, minOut); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedemptionFailed, err)
	}
	received := balanceDelta(base.BalanceOf(pool), before)

	if p.wrapper != nil && !received.IsZero() {
		dst := p.tokens(p.params.CollateralToken)
		before := dst.BalanceOf(pool)
		if _, err := p.wrapper.Wrap(pool, received); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrWrapFailed, err)
		}
		received = balanceDelta(dst.BalanceOf(pool), before)
	}

	if received.Lt(minOut) {
		return nil, fmt.Errorf("%w: got %s, want >= %s", ErrInsufficientCollateralOut, received.Dec(), minOut.Dec())
	}
	return received, nil
}

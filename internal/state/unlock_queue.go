package state

import (
	"RebalancePool/internal/event"
	fpmath "RebalancePool/internal/math"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// UnlockingEntry is principal waiting out the unlock delay. It keeps absorbing
// losses, and earning the matching collateral, until it is withdrawn.
type UnlockingEntry struct {
	Amount        *uint256.Int `json:"amount"`
	Snapshot      Snapshot     `json:"snapshot"`
	CollateralSum *uint256.Int `json:"collateral_sum"`
	UnlockAt      time.Time    `json:"unlock_at"`
}

func (e *UnlockingEntry) clone() *UnlockingEntry {
	if e == nil {
		return nil
	}
	return &UnlockingEntry{
		Amount:        fpmath.Clone(e.Amount),
		Snapshot:      e.Snapshot.clone(),
		CollateralSum: fpmath.Clone(e.CollateralSum),
		UnlockAt:      e.UnlockAt,
	}
}

func (e *UnlockingEntry) matured(now time.Time) bool {
	return !now.Before(e.UnlockAt)
}

// settleUnlocking moves collateral earned by the entry into pending and
// rebases the entry on the current state.
func (p *Pool) settleUnlocking(acc *Account) {
	e := acc.Unlocking
	if e == nil {
		return
	}
	collateral := p.params.CollateralToken

	earned := p.unlocking.Earned(collateral, e.Amount, e.Snapshot, e.CollateralSum)
	acc.addPending(collateral, earned)

	e.Amount = p.ledger.Compound(e.Amount, e.Snapshot)
	e.Snapshot = p.ledger.Current()
	e.CollateralSum = p.unlocking.CurrentSum(collateral)
}

// Unlock moves amount of the caller's locked balance into the unlock queue.
// A still-unlocking entry is topped up and its timer restarted.
func (p *Pool) Unlock(msg Msg, amount *uint256.Int) (err error) {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit(&err)

	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}

	acc := p.touch(msg.Sender)
	p.settle(acc)

	if fpmath.IsMax(amount) {
		amount = acc.InitialStake.Clone()
		if amount.IsZero() {
			return ErrZeroAmount
		}
	}
	if amount.Gt(acc.InitialStake) {
		return ErrInsufficientBalance
	}

	unlockAt := msg.Timestamp.Add(p.params.UnlockDuration)
	if e := acc.Unlocking; e != nil {
		if e.matured(msg.Timestamp) {
			return ErrUnlockedNotWithdrawn
		}
		e.Amount = new(uint256.Int).Add(e.Amount, amount)
		e.UnlockAt = unlockAt
	} else {
		acc.Unlocking = &UnlockingEntry{
			Amount:        amount.Clone(),
			Snapshot:      p.ledger.Current(),
			CollateralSum: p.unlocking.CurrentSum(p.params.CollateralToken),
			UnlockAt:      unlockAt,
		}
	}
	acc.InitialStake = new(uint256.Int).Sub(acc.InitialStake, amount)

	supply, err := fpmath.Sub(p.totalSupply, amount)
	if err != nil {
		return ErrAccountingInvariantBroken
	}
	p.setTotalSupply(supply)
	p.setTotalUnlocking(new(uint256.Int).Add(p.totalUnlocking, amount))

	p.emit(&event.Unlock{Owner: msg.Sender, Amount: amount.Clone(), UnlockAt: unlockAt})
	p.emitDepositChange(msg.Sender, acc)
	return nil
}

// WithdrawUnlocked pays out a matured unlock entry, optionally claiming rewards
// to the same receiver.
func (p *Pool) WithdrawUnlocked(msg Msg, doClaim bool, receiver common.Address) (err error) {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit(&err)

	acc := p.touch(msg.Sender)
	p.settle(acc)

	e := acc.Unlocking
	if e == nil {
		return ErrNoUnlockingEntry
	}
	if !e.matured(msg.Timestamp) {
		return ErrUnlockNotMatured
	}
	claimTo := receiver
	if receiver == (common.Address{}) {
		receiver = msg.Sender
	}

	// entries round down individually but the aggregate absorbs the rounded-up
	// share of each loss, so clamp to it
	paid := fpmath.Min(e.Amount, p.totalUnlocking)
	acc.Unlocking = nil
	p.setTotalUnlocking(new(uint256.Int).Sub(p.totalUnlocking, paid))

	if err := p.transfer(p.principal(), p.params.Address, receiver, paid); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	p.emit(&event.WithdrawUnlocked{Owner: msg.Sender, Receiver: receiver, Amount: paid})
	p.emitDepositChange(msg.Sender, acc)

	if doClaim {
		return p.claim(acc, msg.Sender, claimTo)
	}
	return nil
}

// UnlockingBalanceOf returns the current value of account's unlock entry.
func (p *Pool) UnlockingBalanceOf(account common.Address) *uint256.Int {
	acc, ok := p.accounts[account]
	if !ok || acc.Unlocking == nil {
		return new(uint256.Int)
	}
	return p.ledger.Compound(acc.Unlocking.Amount, acc.Unlocking.Snapshot)
}

// UnlockedBalanceOf returns the withdrawable amount at now, zero while the
// entry is still unlocking.
func (p *Pool) UnlockedBalanceOf(account common.Address, now time.Time) *uint256.Int {
	acc, ok := p.accounts[account]
	if !ok || acc.Unlocking == nil || !acc.Unlocking.matured(now) {
		return new(uint256.Int)
	}
	return p.ledger.Compound(acc.Unlocking.Amount, acc.Unlocking.Snapshot)
}

// UnlockAt returns when account's entry matures.
func (p *Pool) UnlockAt(account common.Address) (time.Time, bool) {
	acc, ok := p.accounts[account]
	if !ok || acc.Unlocking == nil {
		return time.Time{}, false
	}
	return acc.Unlocking.UnlockAt, true
}

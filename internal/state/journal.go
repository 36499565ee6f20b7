package state

import (
	"RebalancePool/internal/event"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// callJournal collects undo steps and pending events for one top-level call.
// Stored *uint256.Int values are never mutated in place, so an undo step only
// has to put the previous pointer back.
type callJournal struct {
	undo    []func()
	events  []event.Event
	touched map[common.Address]bool
}

func (p *Pool) enter() error {
	if p.busy {
		return ErrReentrantCall
	}
	p.busy = true
	p.call = &callJournal{touched: make(map[common.Address]bool)}
	return nil
}

// exit must be deferred right after a successful enter. On error (or panic)
// all recorded undo steps run newest first and buffered events are dropped.
func (p *Pool) exit(err *error) {
	call := p.call
	defer func() {
		p.busy = false
		p.call = nil
	}()

	if r := recover(); r != nil {
		call.rollback()
		panic(r)
	}
	if *err != nil {
		call.rollback()
		return
	}

	for addr := range call.touched {
		if acc, ok := p.accounts[addr]; ok && acc.empty() {
			delete(p.accounts, addr)
		}
	}
	if p.sink != nil {
		for _, evt := range call.events {
			p.sink.Emit(evt)
		}
	}
}

func (c *callJournal) rollback() {
	for i := len(c.undo) - 1; i >= 0; i-- {
		c.undo[i]()
	}
	c.undo = nil
	c.events = nil
}

func (p *Pool) onUndo(fn func()) {
	p.call.undo = append(p.call.undo, fn)
}

func (p *Pool) emit(evt event.Event) {
	p.call.events = append(p.call.events, evt)
}

// touch returns a private copy of addr's account for this call, creating one
// on first use.
func (p *Pool) touch(addr common.Address) *Account {
	if p.call.touched[addr] {
		return p.accounts[addr]
	}
	p.call.touched[addr] = true

	old, existed := p.accounts[addr]
	var acc *Account
	if existed {
		acc = old.clone()
	} else {
		acc = newAccount(p.ledger.Current())
	}
	p.accounts[addr] = acc

	p.onUndo(func() {
		if existed {
			p.accounts[addr] = old
		} else {
			delete(p.accounts, addr)
		}
	})
	return acc
}

func (p *Pool) setTotalSupply(v *uint256.Int) {
	prev := p.totalSupply
	p.totalSupply = v
	p.onUndo(func() { p.totalSupply = prev })
}

func (p *Pool) setTotalUnlocking(v *uint256.Int) {
	prev := p.totalUnlocking
	p.totalUnlocking = v
	p.onUndo(func() { p.totalUnlocking = prev })
}

// saveLedger records the current compounding state for undo.
func (p *Pool) saveLedger() {
	prev := p.ledger.Current()
	p.onUndo(func() { p.ledger.restore(prev) })
}

func (p *Pool) distribute(ra *RewardAccountant, token common.Address, amount, stake *uint256.Int) error {
	epoch, scale := p.ledger.epoch, p.ledger.scale
	prev, err := ra.Distribute(token, amount, stake)
	if err != nil {
		return err
	}
	p.onUndo(func() { ra.setSum(token, epoch, scale, prev) })
	return nil
}

// transfer moves amount of token and records the compensating transfer.
func (p *Pool) transfer(token Token, from, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if err := token.Transfer(from, to, amount); err != nil {
		return err
	}
	p.onUndo(func() { _ = token.Transfer(to, from, amount) })
	return nil
}

// pull transfers amount of token from sender into pool custody and returns
// the amount actually received.
func (p *Pool) pull(token Token, from common.Address, amount *uint256.Int) (*uint256.Int, error) {
	before := token.BalanceOf(p.params.Address)
	if err := p.transfer(token, from, p.params.Address, amount); err != nil {
		return nil, err
	}
	return balanceDelta(token.BalanceOf(p.params.Address), before), nil
}

func balanceDelta(after, before *uint256.Int) *uint256.Int {
	if after.Lt(before) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(after, before)
}

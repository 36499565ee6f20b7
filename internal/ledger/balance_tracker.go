package ledger

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrInsufficientBalance is returned when a credit would take a holder below zero.
var ErrInsufficientBalance = errors.New("ledger: insufficient balance")

// BalanceTracker maintains in-memory holder balances and per-token issuance.
// Holder balances never go negative; the external issuance account is tracked
// as a positive "issued" counter so that sum(holders) == issued per token.
type BalanceTracker struct {
	balances map[AccountKey]*uint256.Int
	issued   map[common.Address]*uint256.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]*uint256.Int),
		issued:   make(map[common.Address]*uint256.Int),
	}
}

// ApplyJournal applies a single journal entry. The credit side is checked
// before anything is mutated so a failed entry leaves balances untouched.
func (bt *BalanceTracker) ApplyJournal(j Journal) error {
	if err := bt.checkCredit(j.CreditAccount, j.Amount); err != nil {
		return err
	}
	if j.DebitAccount.Scope == AccountScopeExternal {
		// burn: issuance shrinks
		if bt.Issued(j.Token).Lt(j.Amount) {
			return fmt.Errorf("burn of %s exceeds issuance for %s", j.Amount.Dec(), j.Token.Hex())
		}
	}

	bt.debit(j.DebitAccount, j.Amount)
	bt.credit(j.CreditAccount, j.Amount)
	return nil
}

// RevertJournal undoes a previously applied journal entry.
func (bt *BalanceTracker) RevertJournal(j Journal) error {
	return bt.ApplyJournal(Journal{
		DebitAccount:  j.CreditAccount,
		CreditAccount: j.DebitAccount,
		Token:         j.Token,
		Amount:        j.Amount,
	})
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for i, j := range batch.Journals {
		if err := bt.ApplyJournal(j); err != nil {
			for k := i - 1; k >= 0; k-- {
				_ = bt.RevertJournal(batch.Journals[k])
			}
			return fmt.Errorf("apply journal %s: %w", j.JournalID, err)
		}
	}

	return nil
}

func (bt *BalanceTracker) checkCredit(key AccountKey, amount *uint256.Int) error {
	if key.Scope != AccountScopeHolder {
		return nil
	}
	if bt.GetBalance(key).Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s",
			ErrInsufficientBalance, key.AccountPath(), bt.GetBalance(key).Dec(), amount.Dec())
	}
	return nil
}

func (bt *BalanceTracker) debit(key AccountKey, amount *uint256.Int) {
	switch key.Scope {
	case AccountScopeHolder:
		bal := bt.balance(key)
		bal.Add(bal, amount)
	case AccountScopeExternal:
		issued := bt.issuedRef(key.Token)
		issued.Sub(issued, amount)
	}
}

func (bt *BalanceTracker) credit(key AccountKey, amount *uint256.Int) {
	switch key.Scope {
	case AccountScopeHolder:
		bal := bt.balance(key)
		bal.Sub(bal, amount)
		if bal.IsZero() {
			delete(bt.balances, key)
		}
	case AccountScopeExternal:
		issued := bt.issuedRef(key.Token)
		issued.Add(issued, amount)
	}
}

func (bt *BalanceTracker) balance(key AccountKey) *uint256.Int {
	bal, ok := bt.balances[key]
	if !ok {
		bal = new(uint256.Int)
		bt.balances[key] = bal
	}
	return bal
}

func (bt *BalanceTracker) issuedRef(token common.Address) *uint256.Int {
	v, ok := bt.issued[token]
	if !ok {
		v = new(uint256.Int)
		bt.issued[token] = v
	}
	return v
}

// GetBalance returns a copy of the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) *uint256.Int {
	if key.Scope == AccountScopeExternal {
		return bt.Issued(key.Token)
	}
	if bal, ok := bt.balances[key]; ok {
		return bal.Clone()
	}
	return new(uint256.Int)
}

// BalanceOf returns holder's balance of token
func (bt *BalanceTracker) BalanceOf(token, holder common.Address) *uint256.Int {
	return bt.GetBalance(NewHolderAccountKey(holder, token))
}

// Issued returns the outstanding supply of token
func (bt *BalanceTracker) Issued(token common.Address) *uint256.Int {
	if v, ok := bt.issued[token]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

// ComputeHolderTotals sums holder balances per token
func (bt *BalanceTracker) ComputeHolderTotals() map[common.Address]*uint256.Int {
	totals := make(map[common.Address]*uint256.Int)

	for key, balance := range bt.balances {
		total, ok := totals[key.Token]
		if !ok {
			total = new(uint256.Int)
			totals[key.Token] = total
		}
		total.Add(total, balance)
	}

	return totals
}

// SetBalance overwrites a holder balance (used during snapshot restore)
func (bt *BalanceTracker) SetBalance(key AccountKey, amount *uint256.Int) {
	if key.Scope == AccountScopeExternal {
		bt.issued[key.Token] = amount.Clone()
		return
	}
	if amount.IsZero() {
		delete(bt.balances, key)
		return
	}
	bt.balances[key] = amount.Clone()
}

// Snapshot returns a copy of all holder balances and issuance (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]*uint256.Int {
	snapshot := make(map[AccountKey]*uint256.Int, len(bt.balances)+len(bt.issued))
	for k, v := range bt.balances {
		snapshot[k] = v.Clone()
	}
	for token, v := range bt.issued {
		snapshot[NewIssuanceAccountKey(token)] = v.Clone()
	}
	return snapshot
}

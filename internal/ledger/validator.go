package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateSupply verifies sum(holder balances) == issued for every token
func (v *InvariantValidator) ValidateSupply() error {
	totals := v.tracker.ComputeHolderTotals()

	for token, total := range totals {
		if issued := v.tracker.Issued(token); !issued.Eq(total) {
			return fmt.Errorf("supply mismatch for %s: holders=%s issued=%s",
				token.Hex(), total.Dec(), issued.Dec())
		}
	}
	for token, issued := range v.tracker.issued {
		if _, seen := totals[token]; !seen && !issued.IsZero() {
			return fmt.Errorf("supply mismatch for %s: holders=0 issued=%s", token.Hex(), issued.Dec())
		}
	}

	return nil
}

// ValidateCustodyAtLeast checks holder owns at least expected of token.
func (v *InvariantValidator) ValidateCustodyAtLeast(token, holder common.Address, expected *uint256.Int) error {
	held := v.tracker.BalanceOf(token, holder)
	if held.Lt(expected) {
		return fmt.Errorf("custody shortfall for %s in %s: held=%s expected>=%s",
			holder.Hex(), token.Hex(), held.Dec(), expected.Dec())
	}
	return nil
}

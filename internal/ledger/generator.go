package ledger

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalGenerator records token movements as journal entries. Movements are
// applied to the tracker immediately (callers observe balance deltas within a
// command) and collected into the open batch until Commit or Abort.
// Not thread-safe; only accessed from the single-threaded core.
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker
	open           *Batch
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

// Begin opens a batch for the command identified by eventRef.
func (jg *JournalGenerator) Begin(eventRef string, sequence int64, ts time.Time) {
	jg.sequence = sequence
	jg.open = &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: ts.UnixMicro(),
		Journals:  make([]Journal, 0, 4),
	}
}

// Commit closes the open batch and returns it.
func (jg *JournalGenerator) Commit() *Batch {
	batch := jg.ensureBatch()
	jg.open = nil
	return batch
}

// Abort reverts every journal of the open batch, newest first, and discards it.
func (jg *JournalGenerator) Abort() error {
	if jg.open == nil {
		return nil
	}
	batch := jg.open
	jg.open = nil

	for i := len(batch.Journals) - 1; i >= 0; i-- {
		if err := jg.balanceTracker.RevertJournal(batch.Journals[i]); err != nil {
			return fmt.Errorf("revert journal %s: %w", batch.Journals[i].JournalID, err)
		}
	}
	return nil
}

// SetSequence aligns the generator after snapshot restore
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}

// Mint issues amount of token to holder.
// Moves funds: external:issuance → holder
func (jg *JournalGenerator) Mint(token, to common.Address, amount *uint256.Int) error {
	return jg.record(
		NewHolderAccountKey(to, token),
		NewIssuanceAccountKey(token),
		token, amount, JournalTypeMint,
	)
}

// Burn destroys amount of token held by holder.
// Moves funds: holder → external:issuance
func (jg *JournalGenerator) Burn(token, from common.Address, amount *uint256.Int) error {
	return jg.record(
		NewIssuanceAccountKey(token),
		NewHolderAccountKey(from, token),
		token, amount, JournalTypeBurn,
	)
}

// Transfer moves amount of token between holders.
func (jg *JournalGenerator) Transfer(token, from, to common.Address, amount *uint256.Int) error {
	if from == to {
		if jg.balanceTracker.BalanceOf(token, from).Lt(amount) {
			return fmt.Errorf("%w: self transfer of %s", ErrInsufficientBalance, amount.Dec())
		}
		return nil
	}
	return jg.record(
		NewHolderAccountKey(to, token),
		NewHolderAccountKey(from, token),
		token, amount, JournalTypeTransfer,
	)
}

func (jg *JournalGenerator) record(debit, credit AccountKey, token common.Address, amount *uint256.Int, jt JournalType) error {
	if amount == nil || amount.IsZero() {
		return nil
	}

	batch := jg.ensureBatch()
	journal := Journal{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		EventRef:      batch.EventRef,
		Sequence:      batch.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Token:         token,
		Amount:        amount.Clone(),
		JournalType:   jt,
		Timestamp:     batch.Timestamp,
	}

	if err := jg.balanceTracker.ApplyJournal(journal); err != nil {
		return err
	}

	batch.Journals = append(batch.Journals, journal)
	return nil
}

// ensureBatch lets the generator be used outside the core (tests, tooling)
// without an explicit Begin.
func (jg *JournalGenerator) ensureBatch() *Batch {
	if jg.open == nil {
		jg.open = &Batch{
			BatchID:  uuid.New(),
			Sequence: jg.sequence,
			Journals: make([]Journal, 0, 4),
		}
	}
	return jg.open
}

// BalanceOf reads through to the tracker
func (jg *JournalGenerator) BalanceOf(token, holder common.Address) *uint256.Int {
	return jg.balanceTracker.BalanceOf(token, holder)
}

// Token returns a handle for a single token backed by this generator.
func (jg *JournalGenerator) Token(addr common.Address) *Token {
	return &Token{addr: addr, gen: jg}
}

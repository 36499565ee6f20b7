package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Token is a single-token view over the journal generator. Transfers are
// journaled into the generator's open batch.
type Token struct {
	addr common.Address
	gen  *JournalGenerator
}

func (t *Token) Address() common.Address {
	return t.addr
}

func (t *Token) BalanceOf(holder common.Address) *uint256.Int {
	return t.gen.BalanceOf(t.addr, holder)
}

func (t *Token) Transfer(from, to common.Address, amount *uint256.Int) error {
	return t.gen.Transfer(t.addr, from, to, amount)
}

func (t *Token) Mint(to common.Address, amount *uint256.Int) error {
	return t.gen.Mint(t.addr, to, amount)
}

func (t *Token) Burn(from common.Address, amount *uint256.Int) error {
	return t.gen.Burn(t.addr, from, amount)
}

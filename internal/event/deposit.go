package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type Deposit struct {
	Owner    common.Address `json:"owner"`
	Receiver common.Address `json:"receiver"`
	Amount   *uint256.Int   `json:"amount"`
}

func (*Deposit) EventType() EventType { return EventTypeDeposit }

type Withdraw struct {
	Owner    common.Address `json:"owner"`
	Receiver common.Address `json:"receiver"`
	Amount   *uint256.Int   `json:"amount"`
}

func (*Withdraw) EventType() EventType { return EventTypeWithdraw }

// UserDepositChange reports an account's locked and unlocking balances after
// any mutation of either.
type UserDepositChange struct {
	Account   common.Address `json:"account"`
	Locked    *uint256.Int   `json:"locked"`
	Unlocking *uint256.Int   `json:"unlocking"`
}

func (*UserDepositChange) EventType() EventType { return EventTypeUserDepositChange }

// TokenMinted is emitted when a MintCmd credits an account.
type TokenMinted struct {
	Token  common.Address `json:"token"`
	To     common.Address `json:"to"`
	Amount *uint256.Int   `json:"amount"`
}

func (*TokenMinted) EventType() EventType { return EventTypeTokenMinted }

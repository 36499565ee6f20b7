package event

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type Unlock struct {
	Owner    common.Address `json:"owner"`
	Amount   *uint256.Int   `json:"amount"`
	UnlockAt time.Time      `json:"unlock_at"`
}

func (*Unlock) EventType() EventType { return EventTypeUnlock }

type WithdrawUnlocked struct {
	Owner    common.Address `json:"owner"`
	Receiver common.Address `json:"receiver"`
	Amount   *uint256.Int   `json:"amount"`
}

func (*WithdrawUnlocked) EventType() EventType { return EventTypeWithdrawUnlocked }

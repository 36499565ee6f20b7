package event

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Claim is emitted once per reward token with a non-zero payout.
type Claim struct {
	Account  common.Address `json:"account"`
	Token    common.Address `json:"token"`
	Receiver common.Address `json:"receiver"`
	Amount   *uint256.Int   `json:"amount"`
}

func (*Claim) EventType() EventType { return EventTypeClaim }

type DepositReward struct {
	Token  common.Address `json:"token"`
	Amount *uint256.Int   `json:"amount"`
}

func (*DepositReward) EventType() EventType { return EventTypeDepositReward }

type AddRewardToken struct {
	Token        common.Address `json:"token"`
	Manager      common.Address `json:"manager"`
	PeriodLength time.Duration  `json:"period_length"`
}

func (*AddRewardToken) EventType() EventType { return EventTypeAddRewardToken }

type UpdateRewardToken struct {
	Token        common.Address `json:"token"`
	Manager      common.Address `json:"manager"`
	PeriodLength time.Duration  `json:"period_length"`
}

func (*UpdateRewardToken) EventType() EventType { return EventTypeUpdateRewardToken }

type RemoveRewardToken struct {
	Token common.Address `json:"token"`
}

func (*RemoveRewardToken) EventType() EventType { return EventTypeRemoveRewardToken }

type UpdateRewardReceiver struct {
	Account     common.Address `json:"account"`
	OldReceiver common.Address `json:"old_receiver"`
	NewReceiver common.Address `json:"new_receiver"`
}

func (*UpdateRewardReceiver) EventType() EventType { return EventTypeUpdateRewardReceiver }

package event

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType discriminator for pool output events
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeDeposit
	EventTypeWithdraw
	EventTypeUserDepositChange
	EventTypeUnlock
	EventTypeWithdrawUnlocked
	EventTypeLiquidate
	EventTypeClaim
	EventTypeDepositReward
	EventTypeUpdateLiquidatableCollateralRatio
	EventTypeUpdateUnlockDuration
	EventTypeUpdateWrapper
	EventTypeAddRewardToken
	EventTypeUpdateRewardToken
	EventTypeRemoveRewardToken
	EventTypeUpdateRewardReceiver
	EventTypeCollateralRatioUpdated
	EventTypeTokenMinted
	EventTypeRoleGranted
	EventTypeRoleRevoked
)

// Event is the interface all pool output events implement
type Event interface {
	EventType() EventType
}

// CommandEnvelope wraps every accepted command in the log
type CommandEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	CommandType CommandType

	// Caller the command executes as
	Sender common.Address

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Sender nonce for ordering validation
	SourceSequence int64

	// JSON-encoded command data
	Payload []byte

	// Events the pool emitted while executing this command
	Events []Event

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

func (et EventType) String() string {
	switch et {
	case EventTypeDeposit:
		return "Deposit"
	case EventTypeWithdraw:
		return "Withdraw"
	case EventTypeUserDepositChange:
		return "UserDepositChange"
	case EventTypeUnlock:
		return "Unlock"
	case EventTypeWithdrawUnlocked:
		return "WithdrawUnlocked"
	case EventTypeLiquidate:
		return "Liquidate"
	case EventTypeClaim:
		return "Claim"
	case EventTypeDepositReward:
		return "DepositReward"
	case EventTypeUpdateLiquidatableCollateralRatio:
		return "UpdateLiquidatableCollateralRatio"
	case EventTypeUpdateUnlockDuration:
		return "UpdateUnlockDuration"
	case EventTypeUpdateWrapper:
		return "UpdateWrapper"
	case EventTypeAddRewardToken:
		return "AddRewardToken"
	case EventTypeUpdateRewardToken:
		return "UpdateRewardToken"
	case EventTypeRemoveRewardToken:
		return "RemoveRewardToken"
	case EventTypeUpdateRewardReceiver:
		return "UpdateRewardReceiver"
	case EventTypeCollateralRatioUpdated:
		return "CollateralRatioUpdated"
	case EventTypeTokenMinted:
		return "TokenMinted"
	case EventTypeRoleGranted:
		return "RoleGranted"
	case EventTypeRoleRevoked:
		return "RoleRevoked"
	default:
		return "Unknown"
	}
}

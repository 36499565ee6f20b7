package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// CommandType discriminator for inbound commands
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota
	CommandTypeMint
	CommandTypeDeposit
	CommandTypeWithdraw
	CommandTypeUnlock
	CommandTypeWithdrawUnlocked
	CommandTypeClaim
	CommandTypeBatchClaim
	CommandTypeCheckpoint
	CommandTypeSetRewardReceiver
	CommandTypeLiquidate
	CommandTypeDepositReward
	CommandTypeCollateralRatioUpdate
	CommandTypeUpdateLiquidatableCollateralRatio
	CommandTypeUpdateUnlockDuration
	CommandTypeUpdateWrapper
	CommandTypeAddReward
	CommandTypeUpdateReward
	CommandTypeRemoveReward
	CommandTypeGrantRole
	CommandTypeRevokeRole
)

// Command is the interface all inbound commands implement
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// CommandType returns the discriminator
	CommandType() CommandType

	// Sender is the caller the command executes as
	Sender() common.Address

	// SourceSequence returns the sender nonce
	SourceSequence() int64

	// Timestamp is the versioned execution time
	Timestamp() time.Time
}

// CommandMeta carries the fields common to every command.
type CommandMeta struct {
	Key   string
	From  common.Address
	Nonce int64
	At    time.Time
}

func (m CommandMeta) IdempotencyKey() string { return m.Key }
func (m CommandMeta) Sender() common.Address { return m.From }
func (m CommandMeta) SourceSequence() int64  { return m.Nonce }
func (m CommandMeta) Timestamp() time.Time   { return m.At }

// MintCmd credits freshly issued tokens to an account (bridge / faucet).
type MintCmd struct {
	CommandMeta
	Token  common.Address
	To     common.Address
	Amount *uint256.Int
}

func (*MintCmd) CommandType() CommandType { return CommandTypeMint }

type DepositCmd struct {
	CommandMeta
	Amount   *uint256.Int
	Receiver common.Address
}

func (*DepositCmd) CommandType() CommandType { return CommandTypeDeposit }

type WithdrawCmd struct {
	CommandMeta
	Amount   *uint256.Int
	Receiver common.Address
}

func (*WithdrawCmd) CommandType() CommandType { return CommandTypeWithdraw }

type UnlockCmd struct {
	CommandMeta
	Amount *uint256.Int
}

func (*UnlockCmd) CommandType() CommandType { return CommandTypeUnlock }

type WithdrawUnlockedCmd struct {
	CommandMeta
	DoClaim  bool
	Receiver common.Address
}

func (*WithdrawUnlockedCmd) CommandType() CommandType { return CommandTypeWithdrawUnlocked }

type ClaimCmd struct {
	CommandMeta
	Account  common.Address
	Receiver common.Address
}

func (*ClaimCmd) CommandType() CommandType { return CommandTypeClaim }

// BatchClaimCmd claims for several accounts; Receivers[i] pairs with Accounts[i].
type BatchClaimCmd struct {
	CommandMeta
	Accounts  []common.Address
	Receivers []common.Address
}

func (*BatchClaimCmd) CommandType() CommandType { return CommandTypeBatchClaim }

type CheckpointCmd struct {
	CommandMeta
	Account common.Address
}

func (*CheckpointCmd) CommandType() CommandType { return CommandTypeCheckpoint }

type SetRewardReceiverCmd struct {
	CommandMeta
	Receiver common.Address
}

func (*SetRewardReceiverCmd) CommandType() CommandType { return CommandTypeSetRewardReceiver }

type LiquidateCmd struct {
	CommandMeta
	Amount           *uint256.Int
	MinCollateralOut *uint256.Int
}

func (*LiquidateCmd) CommandType() CommandType { return CommandTypeLiquidate }

type DepositRewardCmd struct {
	CommandMeta
	Token  common.Address
	Amount *uint256.Int
}

func (*DepositRewardCmd) CommandType() CommandType { return CommandTypeDepositReward }

// CollateralRatioUpdate is the protocol health feed. Gaps in RatioSequence
// are tolerated; stale updates are ignored.
type CollateralRatioUpdate struct {
	CommandMeta
	Ratio         *uint256.Int
	RatioSequence int64
}

func (*CollateralRatioUpdate) CommandType() CommandType { return CommandTypeCollateralRatioUpdate }

type UpdateLiquidatableCollateralRatioCmd struct {
	CommandMeta
	Ratio *uint256.Int
}

func (*UpdateLiquidatableCollateralRatioCmd) CommandType() CommandType {
	return CommandTypeUpdateLiquidatableCollateralRatio
}

type UpdateUnlockDurationCmd struct {
	CommandMeta
	Duration time.Duration
}

func (*UpdateUnlockDurationCmd) CommandType() CommandType { return CommandTypeUpdateUnlockDuration }

// UpdateWrapperCmd selects a registered wrapper by address; the zero address clears it.
type UpdateWrapperCmd struct {
	CommandMeta
	Wrapper common.Address
}

func (*UpdateWrapperCmd) CommandType() CommandType { return CommandTypeUpdateWrapper }

type AddRewardCmd struct {
	CommandMeta
	Token        common.Address
	Manager      common.Address
	PeriodLength time.Duration
}

func (*AddRewardCmd) CommandType() CommandType { return CommandTypeAddReward }

type UpdateRewardCmd struct {
	CommandMeta
	Token        common.Address
	Manager      common.Address
	PeriodLength time.Duration
}

func (*UpdateRewardCmd) CommandType() CommandType { return CommandTypeUpdateReward }

type RemoveRewardCmd struct {
	CommandMeta
	Token common.Address
}

func (*RemoveRewardCmd) CommandType() CommandType { return CommandTypeRemoveReward }

type GrantRoleCmd struct {
	CommandMeta
	Role    string
	Account common.Address
}

func (*GrantRoleCmd) CommandType() CommandType { return CommandTypeGrantRole }

type RevokeRoleCmd struct {
	CommandMeta
	Role    string
	Account common.Address
}

func (*RevokeRoleCmd) CommandType() CommandType { return CommandTypeRevokeRole }

func (ct CommandType) String() string {
	switch ct {
	case CommandTypeMint:
		return "Mint"
	case CommandTypeDeposit:
		return "Deposit"
	case CommandTypeWithdraw:
		return "Withdraw"
	case CommandTypeUnlock:
		return "Unlock"
	case CommandTypeWithdrawUnlocked:
		return "WithdrawUnlocked"
	case CommandTypeClaim:
		return "Claim"
	case CommandTypeBatchClaim:
		return "BatchClaim"
	case CommandTypeCheckpoint:
		return "Checkpoint"
	case CommandTypeSetRewardReceiver:
		return "SetRewardReceiver"
	case CommandTypeLiquidate:
		return "Liquidate"
	case CommandTypeDepositReward:
		return "DepositReward"
	case CommandTypeCollateralRatioUpdate:
		return "CollateralRatioUpdate"
	case CommandTypeUpdateLiquidatableCollateralRatio:
		return "UpdateLiquidatableCollateralRatio"
	case CommandTypeUpdateUnlockDuration:
		return "UpdateUnlockDuration"
	case CommandTypeUpdateWrapper:
		return "UpdateWrapper"
	case CommandTypeAddReward:
		return "AddReward"
	case CommandTypeUpdateReward:
		return "UpdateReward"
	case CommandTypeRemoveReward:
		return "RemoveReward"
	case CommandTypeGrantRole:
		return "GrantRole"
	case CommandTypeRevokeRole:
		return "RevokeRole"
	default:
		return "Unknown"
	}
}

// ParseCommandType is the inverse of CommandType.String.
func ParseCommandType(s string) (CommandType, bool) {
	for ct := CommandTypeMint; ct <= CommandTypeRevokeRole; ct++ {
		if ct.String() == s {
			return ct, true
		}
	}
	return CommandTypeUnknown, false
}

// NewCommand returns an empty command of type ct.
func NewCommand(ct CommandType) (Command, error) {
	switch ct {
	case CommandTypeMint:
		return &MintCmd{}, nil
	case CommandTypeDeposit:
		return &DepositCmd{}, nil
	case CommandTypeWithdraw:
		return &WithdrawCmd{}, nil
	case CommandTypeUnlock:
		return &UnlockCmd{}, nil
	case CommandTypeWithdrawUnlocked:
		return &WithdrawUnlockedCmd{}, nil
	case CommandTypeClaim:
		return &ClaimCmd{}, nil
	case CommandTypeBatchClaim:
		return &BatchClaimCmd{}, nil
	case CommandTypeCheckpoint:
		return &CheckpointCmd{}, nil
	case CommandTypeSetRewardReceiver:
		return &SetRewardReceiverCmd{}, nil
	case CommandTypeLiquidate:
		return &LiquidateCmd{}, nil
	case CommandTypeDepositReward:
		return &DepositRewardCmd{}, nil
	case CommandTypeCollateralRatioUpdate:
		return &CollateralRatioUpdate{}, nil
	case CommandTypeUpdateLiquidatableCollateralRatio:
		return &UpdateLiquidatableCollateralRatioCmd{}, nil
	case CommandTypeUpdateUnlockDuration:
		return &UpdateUnlockDurationCmd{}, nil
	case CommandTypeUpdateWrapper:
		return &UpdateWrapperCmd{}, nil
	case CommandTypeAddReward:
		return &AddRewardCmd{}, nil
	case CommandTypeUpdateReward:
		return &UpdateRewardCmd{}, nil
	case CommandTypeRemoveReward:
		return &RemoveRewardCmd{}, nil
	case CommandTypeGrantRole:
		return &GrantRoleCmd{}, nil
	case CommandTypeRevokeRole:
		return &RevokeRoleCmd{}, nil
	default:
		return nil, fmt.Errorf("unknown command type %d", ct)
	}
}

// DecodeCommand rebuilds a command from the payload stored in its envelope.
func DecodeCommand(commandType string, payload []byte) (Command, error) {
	ct, ok := ParseCommandType(commandType)
	if !ok {
		return nil, fmt.Errorf("unknown command type %q", commandType)
	}
	cmd, err := NewCommand(ct)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, cmd); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", commandType, err)
	}
	return cmd, nil
}

package state

import "errors"

// Invalid input
var (
	ErrZeroAmount      = errors.New("rebalance pool: zero amount")
	ErrZeroAddress     = errors.New("rebalance pool: zero address")
	ErrLengthMismatch  = errors.New("rebalance pool: length mismatch")
	ErrInvalidDuration = errors.New("rebalance pool: unlock duration must be positive")
)

// Invariant violation
var (
	ErrLiquidationExceedsStake   = errors.New("rebalance pool: liquidation exceeds stake")
	ErrNothingToLiquidate        = errors.New("rebalance pool: nothing to liquidate")
	ErrCannotLiquidate           = errors.New("rebalance pool: collateral ratio not below liquidatable threshold")
	ErrInsufficientBalance       = errors.New("rebalance pool: insufficient balance")
	ErrInstantWithdrawDisabled   = errors.New("rebalance pool: instant withdraw disabled")
	ErrNoUnlockingEntry          = errors.New("rebalance pool: no unlocking entry")
	ErrUnlockNotMatured          = errors.New("rebalance pool: unlock not matured")
	ErrUnlockedNotWithdrawn      = errors.New("rebalance pool: matured unlock must be withdrawn first")
	ErrEmptyPool                 = errors.New("rebalance pool: no stake to distribute to")
	ErrWrapperSrcMismatch        = errors.New("rebalance pool: wrapper src does not match base token")
	ErrWrapperDstMismatch        = errors.New("rebalance pool: wrapper dst does not match collateral token")
	ErrWrapperRequired           = errors.New("rebalance pool: base token differs from collateral token, wrapper required")
	ErrDuplicateRewardToken      = errors.New("rebalance pool: reward token already added")
	ErrUnknownRewardToken        = errors.New("rebalance pool: unknown reward token")
	ErrCannotRemoveCollateral    = errors.New("rebalance pool: collateral token cannot be removed")
	ErrAccountingInvariantBroken = errors.New("rebalance pool: accounting invariant broken")
)

// Authorization
var (
	ErrUnauthorized               = errors.New("rebalance pool: caller lacks role")
	ErrNotRewardManager           = errors.New("rebalance pool: caller is not the reward token manager")
	ErrClaimOthersRewardToAnother = errors.New("rebalance pool: claim others reward to another")
)

// Reentrancy
var ErrReentrantCall = errors.New("rebalance pool: reentrant call")

// Collaborator failure
var (
	ErrInsufficientCollateralOut = errors.New("rebalance pool: insufficient collateral out")
	ErrRedemptionFailed          = errors.New("rebalance pool: redemption failed")
	ErrWrapFailed                = errors.New("rebalance pool: wrap failed")
	ErrTransferFailed            = errors.New("rebalance pool: token transfer failed")
)

// ErrPrincipalAsReward rejects registering the principal token as a reward.
var ErrPrincipalAsReward = errors.New("rebalance pool: principal token cannot be a reward token")

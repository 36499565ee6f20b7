package event

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type UpdateLiquidatableCollateralRatio struct {
	OldRatio *uint256.Int `json:"old_ratio"`
	NewRatio *uint256.Int `json:"new_ratio"`
}

func (*UpdateLiquidatableCollateralRatio) EventType() EventType {
	return EventTypeUpdateLiquidatableCollateralRatio
}

type UpdateUnlockDuration struct {
	OldDuration time.Duration `json:"old_duration"`
	NewDuration time.Duration `json:"new_duration"`
}

func (*UpdateUnlockDuration) EventType() EventType { return EventTypeUpdateUnlockDuration }

type UpdateWrapper struct {
	OldWrapper common.Address `json:"old_wrapper"`
	NewWrapper common.Address `json:"new_wrapper"`
}

func (*UpdateWrapper) EventType() EventType { return EventTypeUpdateWrapper }

type RoleGranted struct {
	Role    string         `json:"role"`
	Account common.Address `json:"account"`
}

func (*RoleGranted) EventType() EventType { return EventTypeRoleGranted }

type RoleRevoked struct {
	Role    string         `json:"role"`
	Account common.Address `json:"account"`
}

func (*RoleRevoked) EventType() EventType { return EventTypeRoleRevoked }

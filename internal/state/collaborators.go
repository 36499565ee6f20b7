package state

import (
	"RebalancePool/internal/access"
	"RebalancePool/internal/event"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Msg is the call context of a pool entry point.
// The pool never reads the wall clock; Timestamp is the only notion of "now".
type Msg struct {
	Sender    common.Address
	Timestamp time.Time
}

// Token is the subset of ERC20 behaviour the pool relies on. The pool moves
// its own custody and pulls from callers directly.
type Token interface {
	Address() common.Address
	BalanceOf(holder common.Address) *uint256.Int
	Transfer(from, to common.Address, amount *uint256.Int) error
}

// TokenResolver returns a handle for a token address.
type TokenResolver func(addr common.Address) Token

// CollateralSource redeems principal for the protocol's base collateral and
// reports protocol health.
type CollateralSource interface {
	BaseToken() common.Address
	CollateralRatio() *uint256.Int
	// RedeemForLiquidation burns amount of principal held by pool and pays
	// base collateral to pool. Returns the amount paid.
	RedeemForLiquidation(pool common.Address, amount, minOut *uint256.Int) (*uint256.Int, error)
}

// TokenWrapper converts the base collateral into the collateral reward token.
type TokenWrapper interface {
	Address() common.Address
	Src() common.Address
	Dst() common.Address
	// Wrap converts amount of Src held by pool into Dst paid to pool.
	Wrap(pool common.Address, amount *uint256.Int) (*uint256.Int, error)
}

// AccessControl answers role checks.
type AccessControl interface {
	HasRole(role access.Role, account common.Address) bool
}

// EventSink receives events of successful calls, in emission order.
type EventSink interface {
	Emit(evt event.Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(evt event.Event)

func (f EventSinkFunc) Emit(evt event.Event) { f(evt) }

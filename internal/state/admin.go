package state

import (
	"RebalancePool/internal/access"
	"RebalancePool/internal/event"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// RewardInfo is a registered reward token and who may stream it in.
type RewardInfo struct {
	Token        common.Address `json:"token"`
	Manager      common.Address `json:"manager"`
	PeriodLength time.Duration  `json:"period_length"`
}

// rewardRegistry is a swap-remove array with a side index so removal is O(1).
// Order is not stable across removals.
type rewardRegistry struct {
	tokens []RewardInfo
	index  map[common.Address]int
}

func newRewardRegistry() rewardRegistry {
	return rewardRegistry{index: make(map[common.Address]int)}
}

func (r *rewardRegistry) get(token common.Address) (RewardInfo, bool) {
	i, ok := r.index[token]
	if !ok {
		return RewardInfo{}, false
	}
	return r.tokens[i], true
}

func (r *rewardRegistry) add(info RewardInfo) {
	r.index[info.Token] = len(r.tokens)
	r.tokens = append(r.tokens, info)
}

func (r *rewardRegistry) set(info RewardInfo) {
	r.tokens[r.index[info.Token]] = info
}

// remove swaps the last entry into the removed slot. Returns the position the
// token held so the removal can be undone.
func (r *rewardRegistry) remove(token common.Address) int {
	i := r.index[token]
	last := len(r.tokens) - 1
	if i != last {
		r.tokens[i] = r.tokens[last]
		r.index[r.tokens[i].Token] = i
	}
	r.tokens = r.tokens[:last]
	delete(r.index, token)
	return i
}

// restore reverses remove(info.Token) that returned position i.
func (r *rewardRegistry) restore(info RewardInfo, i int) {
	if i == len(r.tokens) {
		r.add(info)
		return
	}
	moved := r.tokens[i]
	r.tokens[i] = info
	r.index[info.Token] = i
	r.add(moved)
}

// RewardTokens lists registered reward tokens.
func (p *Pool) RewardTokens() []RewardInfo {
	out := make([]RewardInfo, len(p.rewards.tokens))
	copy(out, p.rewards.tokens)
	return out
}

// RewardInfo returns the registration of token.
func (p *Pool) RewardInfo(token common.Address) (RewardInfo, bool) {
	return p.rewards.get(token)
}

// Wrapper returns the configured wrapper, nil if none.
func (p *Pool) Wrapper() TokenWrapper {
	return p.wrapper
}

// UpdateLiquidatableCollateralRatio sets the threshold under which liquidation
// is allowed.
func (p *Pool) UpdateLiquidatableCollateralRatio(msg Msg, ratio *uint256.Int) (err error) {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit(&err)

	if err := p.requireRole(access.RoleAdmin, msg.Sender); err != nil {
		return err
	}
	if ratio == nil {
		return ErrZeroAmount
	}

	old := p.params.LiquidatableCollateralRatio
	p.params.LiquidatableCollateralRatio = ratio.Clone()
	p.onUndo(func() { p.params.LiquidatableCollateralRatio = old })

	p.emit(&event.UpdateLiquidatableCollateralRatio{OldRatio: old.Clone(), NewRatio: ratio.Clone()})
	return nil
}

func (p *Pool) UpdateUnlockDuration(msg Msg, d time.Duration) (err error) {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit(&err)

	if err := p.requireRole(access.RoleAdmin, msg.Sender); err != nil {
		return err
	}
	if d <= 0 {
		return ErrInvalidDuration
	}

	old := p.params.UnlockDuration
	p.params.UnlockDuration = d
	p.onUndo(func() { p.params.UnlockDuration = old })

	p.emit(&event.UpdateUnlockDuration{OldDuration: old, NewDuration: d})
	return nil
}

// UpdateWrapper replaces the collateral wrapper. A nil wrapper is only valid
// when the collateral source already pays the collateral token.
func (p *Pool) UpdateWrapper(msg Msg, wrapper TokenWrapper) (err error) {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit(&err)

	if err := p.requireRole(access.RoleAdmin, msg.Sender); err != nil {
		return err
	}
	if err := checkWrapper(wrapper, p.source.BaseToken(), p.params.CollateralToken); err != nil {
		return err
	}

	old := p.wrapper
	p.wrapper = wrapper
	p.onUndo(func() { p.wrapper = old })

	p.emit(&event.UpdateWrapper{OldWrapper: wrapperAddress(old), NewWrapper: wrapperAddress(wrapper)})
	return nil
}

func checkWrapper(w TokenWrapper, base, collateral common.Address) error {
	if w == nil {
		if base != collateral {
			return ErrWrapperRequired
		}
		return nil
	}
	if w.Src() != base {
		return fmt.Errorf("%w: src %s, base %s", ErrWrapperSrcMismatch, w.Src().Hex(), base.Hex())
	}
	if w.Dst() != collateral {
		return fmt.Errorf("%w: dst %s, collateral %s", ErrWrapperDstMismatch, w.Dst().Hex(), collateral.Hex())
	}
	return nil
}

func wrapperAddress(w TokenWrapper) common.Address {
	if w == nil {
		return common.Address{}
	}
	return w.Address()
}

// AddReward registers a new reward token streamed in by manager.
func (p *Pool) AddReward(msg Msg, token, manager common.Address, periodLength time.Duration) (err error) {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit(&err)

	if err := p.requireRole(access.RoleRewardManager, msg.Sender); err != nil {
		return err
	}
	if token == (common.Address{}) || manager == (common.Address{}) {
		return ErrZeroAddress
	}
	if token == p.params.PrincipalToken {
		return ErrPrincipalAsReward
	}
	if _, ok := p.rewards.get(token); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRewardToken, token.Hex())
	}

	info := RewardInfo{Token: token, Manager: manager, PeriodLength: periodLength}
	p.rewards.add(info)
	p.onUndo(func() { p.rewards.remove(token) })

	// a removed token that comes back keeps its old sums
	if p.locked.Track(token) {
		p.onUndo(func() { p.locked.untrack(token) })
	}

	p.emit(&event.AddRewardToken{Token: token, Manager: manager, PeriodLength: periodLength})
	return nil
}

// UpdateReward changes the manager and streaming period of a registered token.
func (p *Pool) UpdateReward(msg Msg, token, manager common.Address, periodLength time.Duration) (err error) {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit(&err)

	if err := p.requireRole(access.RoleRewardManager, msg.Sender); err != nil {
		return err
	}
	if manager == (common.Address{}) {
		return ErrZeroAddress
	}
	old, ok := p.rewards.get(token)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRewardToken, token.Hex())
	}

	info := RewardInfo{Token: token, Manager: manager, PeriodLength: periodLength}
	p.rewards.set(info)
	p.onUndo(func() { p.rewards.set(old) })

	p.emit(&event.UpdateRewardToken{Token: token, Manager: manager, PeriodLength: periodLength})
	return nil
}

// RemoveReward stops new deposits of token. Already accrued amounts stay
// claimable.
func (p *Pool) RemoveReward(msg Msg, token common.Address) (err error) {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit(&err)

	if err := p.requireRole(access.RoleRewardManager, msg.Sender); err != nil {
		return err
	}
	if token == p.params.CollateralToken {
		return ErrCannotRemoveCollateral
	}
	info, ok := p.rewards.get(token)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRewardToken, token.Hex())
	}

	i := p.rewards.remove(token)
	p.onUndo(func() { p.rewards.restore(info, i) })

	p.emit(&event.RemoveRewardToken{Token: token})
	return nil
}

// DepositReward pulls amount of token from its manager and distributes it to
// the locked stake.
func (p *Pool) DepositReward(msg Msg, token common.Address, amount *uint256.Int) (err error) {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit(&err)

	info, ok := p.rewards.get(token)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRewardToken, token.Hex())
	}
	if info.Manager != msg.Sender {
		return ErrNotRewardManager
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	if p.totalSupply.IsZero() {
		return ErrEmptyPool
	}

	received, err := p.pull(p.tokens(token), msg.Sender, amount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := p.distribute(p.locked, token, received, p.totalSupply); err != nil {
		return err
	}

	p.emit(&event.DepositReward{Token: token, Amount: received})
	return nil
}

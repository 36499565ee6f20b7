package state

import (
	"RebalancePool/internal/access"
	"RebalancePool/internal/event"
	fpmath "RebalancePool/internal/math"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// RewardSnapshot is an account's position in one reward token's sum.
type RewardSnapshot struct {
	Sum     *uint256.Int `json:"sum"`
	Pending *uint256.Int `json:"pending"`
	Claimed *uint256.Int `json:"claimed"`
}

// Account is a depositor's stake. InitialStake is the principal as of Snapshot;
// the current value is derived from the global state on read.
type Account struct {
	InitialStake *uint256.Int                       `json:"initial_stake"`
	Snapshot     Snapshot                           `json:"snapshot"`
	Rewards      map[common.Address]*RewardSnapshot `json:"rewards"`
	Receiver     common.Address                     `json:"receiver"`
	Unlocking    *UnlockingEntry                    `json:"unlocking,omitempty"`
}

func newAccount(snap Snapshot) *Account {
	return &Account{
		InitialStake: new(uint256.Int),
		Snapshot:     snap,
		Rewards:      make(map[common.Address]*RewardSnapshot),
	}
}

func (a *Account) clone() *Account {
	c := &Account{
		InitialStake: fpmath.Clone(a.InitialStake),
		Snapshot:     a.Snapshot.clone(),
		Rewards:      make(map[common.Address]*RewardSnapshot, len(a.Rewards)),
		Receiver:     a.Receiver,
		Unlocking:    a.Unlocking.clone(),
	}
	for token, rs := range a.Rewards {
		c.Rewards[token] = &RewardSnapshot{
			Sum:     fpmath.Clone(rs.Sum),
			Pending: fpmath.Clone(rs.Pending),
			Claimed: fpmath.Clone(rs.Claimed),
		}
	}
	return c
}

func (a *Account) reward(token common.Address) *RewardSnapshot {
	rs, ok := a.Rewards[token]
	if !ok {
		rs = &RewardSnapshot{Sum: new(uint256.Int), Pending: new(uint256.Int), Claimed: new(uint256.Int)}
		a.Rewards[token] = rs
	}
	return rs
}

func (a *Account) addPending(token common.Address, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	rs := a.reward(token)
	rs.Pending = new(uint256.Int).Add(rs.Pending, amount)
}

// empty reports whether the account holds nothing worth keeping.
func (a *Account) empty() bool {
	if !a.InitialStake.IsZero() || a.Unlocking != nil || a.Receiver != (common.Address{}) {
		return false
	}
	for _, rs := range a.Rewards {
		if !rs.Pending.IsZero() {
			return false
		}
	}
	return true
}

// Dependencies are the pool's external collaborators.
type Dependencies struct {
	Tokens  TokenResolver
	Source  CollateralSource
	Wrapper TokenWrapper // nil when the source pays the collateral token directly
	Access  AccessControl
	Sink    EventSink
}

// Pool is the rebalance pool. Every entry point runs atomically: it either
// completes or leaves no trace in pool state.
// Not thread-safe; callers serialize access (the core engine is single-threaded).
type Pool struct {
	params Params

	ledger    *ShareLedger
	locked    *RewardAccountant // all reward tokens, locked aggregate
	unlocking *RewardAccountant // collateral token only, unlocking aggregate
	rewards   rewardRegistry

	accounts       map[common.Address]*Account
	totalSupply    *uint256.Int
	totalUnlocking *uint256.Int

	tokens  TokenResolver
	source  CollateralSource
	wrapper TokenWrapper
	acl     AccessControl
	sink    EventSink

	busy bool
	call *callJournal
}

func NewPool(params Params, deps Dependencies) (*Pool, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if deps.Tokens == nil || deps.Source == nil || deps.Access == nil {
		return nil, fmt.Errorf("tokens, collateral source and access control are required")
	}
	if err := checkWrapper(deps.Wrapper, deps.Source.BaseToken(), params.CollateralToken); err != nil {
		return nil, err
	}

	params.LiquidatableCollateralRatio = params.LiquidatableCollateralRatio.Clone()
	ledger := NewShareLedger(params.ScaleFactor)
	p := &Pool{
		params:         params,
		ledger:         ledger,
		locked:         NewRewardAccountant(ledger),
		unlocking:      NewRewardAccountant(ledger),
		rewards:        newRewardRegistry(),
		accounts:       make(map[common.Address]*Account),
		totalSupply:    new(uint256.Int),
		totalUnlocking: new(uint256.Int),
		tokens:         deps.Tokens,
		source:         deps.Source,
		wrapper:        deps.Wrapper,
		acl:            deps.Access,
		sink:           deps.Sink,
	}

	// the collateral token is always a reward, with no streaming manager
	p.locked.Track(params.CollateralToken)
	p.unlocking.Track(params.CollateralToken)
	p.rewards.add(RewardInfo{Token: params.CollateralToken})
	return p, nil
}

func (p *Pool) principal() Token {
	return p.tokens(p.params.PrincipalToken)
}

func (p *Pool) requireRole(role access.Role, who common.Address) error {
	if !p.acl.HasRole(role, who) {
		return fmt.Errorf("%w: %s missing %s", ErrUnauthorized, who.Hex(), role)
	}
	return nil
}

// settle moves everything acc earned since its snapshot into pending and
// rebases the stake and the unlock entry on the current state.
func (p *Pool) settle(acc *Account) {
	for _, token := range p.locked.Tokens() {
		rs := acc.reward(token)
		acc.addPending(token, p.locked.Earned(token, acc.InitialStake, acc.Snapshot, rs.Sum))
		rs.Sum = p.locked.CurrentSum(token)
	}
	acc.InitialStake = p.ledger.Compound(acc.InitialStake, acc.Snapshot)
	acc.Snapshot = p.ledger.Current()

	p.settleUnlocking(acc)
}

func (p *Pool) emitDepositChange(addr common.Address, acc *Account) {
	unlocking := new(uint256.Int)
	if acc.Unlocking != nil {
		unlocking = acc.Unlocking.Amount.Clone()
	}
	p.emit(&event.UserDepositChange{
		Account:   addr,
		Locked:    acc.InitialStake.Clone(),
		Unlocking: unlocking,
	})
}

// Deposit pulls amount of principal from the caller and locks it for receiver
// (the caller when zero). The amount actually received is credited.
func (p *Pool) Deposit(msg Msg, amount *uint256.Int, receiver common.Address) (err error) {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit(&err)

	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	if receiver == (common.Address{}) {
		receiver = msg.Sender
	}

	p.settle(p.touch(msg.Sender))
	acc := p.touch(receiver)
	p.settle(acc)

	received, err := p.pull(p.principal(), msg.Sender, amount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if received.IsZero() {
		return ErrZeroAmount
	}

	acc.InitialStake = new(uint256.Int).Add(acc.InitialStake, received)
	p.setTotalSupply(new(uint256.Int).Add(p.totalSupply, received))

	p.emit(&event.Deposit{Owner: msg.Sender, Receiver: receiver, Amount: received})
	p.emitDepositChange(receiver, acc)
	return nil
}

// Withdraw exits locked principal without the unlock delay. Only available
// when the pool is configured for instant withdraw.
func (p *Pool) Withdraw(msg Msg, amount *uint256.Int, receiver common.Address) (err error) {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit(&err)

	if !p.params.InstantWithdraw {
		return ErrInstantWithdrawDisabled
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	if receiver == (common.Address{}) {
		receiver = msg.Sender
	}

	acc := p.touch(msg.Sender)
	p.settle(acc)

	if fpmath.IsMax(amount) {
		amount = acc.InitialStake.Clone()
		if amount.IsZero() {
			return ErrZeroAmount
		}
	}
	if amount.Gt(acc.InitialStake) {
		return ErrInsufficientBalance
	}

	acc.InitialStake = new(uint256.Int).Sub(acc.InitialStake, amount)
	supply, err := fpmath.Sub(p.totalSupply, amount)
	if err != nil {
		return ErrAccountingInvariantBroken
	}
	p.setTotalSupply(supply)

	if err := p.transfer(p.principal(), p.params.Address, receiver, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	p.emit(&event.Withdraw{Owner: msg.Sender, Receiver: receiver, Amount: amount.Clone()})
	p.emitDepositChange(msg.Sender, acc)
	return nil
}

// Claim pays account's pending rewards. The caller must be the account or hold
// the claim proxy role; a proxy may only pay to the account's own receiver.
func (p *Pool) Claim(msg Msg, account, receiver common.Address) (err error) {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit(&err)

	return p.claimFor(msg, account, receiver)
}

// BatchClaim claims for several accounts in one atomic call.
func (p *Pool) BatchClaim(msg Msg, accounts, receivers []common.Address) (err error) {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit(&err)

	if len(accounts) != len(receivers) {
		return ErrLengthMismatch
	}
	for i := range accounts {
		if err := p.claimFor(msg, accounts[i], receivers[i]); err != nil {
			return fmt.Errorf("claim %s: %w", accounts[i].Hex(), err)
		}
	}
	return nil
}

func (p *Pool) claimFor(msg Msg, account, receiver common.Address) error {
	if account == (common.Address{}) {
		account = msg.Sender
	}
	if account != msg.Sender {
		if err := p.requireRole(access.RoleClaimProxy, msg.Sender); err != nil {
			return err
		}
		if receiver != (common.Address{}) && receiver != account {
			configured := common.Address{}
			if acc, ok := p.accounts[account]; ok {
				configured = acc.Receiver
			}
			if receiver != configured {
				return ErrClaimOthersRewardToAnother
			}
		}
	}

	acc := p.touch(account)
	p.settle(acc)
	return p.claim(acc, account, receiver)
}

// claim pays every non-zero pending reward of a settled account.
func (p *Pool) claim(acc *Account, account, receiver common.Address) error {
	if receiver == (common.Address{}) {
		receiver = acc.Receiver
	}
	if receiver == (common.Address{}) {
		receiver = account
	}

	for _, token := range p.locked.Tokens() {
		rs, ok := acc.Rewards[token]
		if !ok || rs.Pending.IsZero() {
			continue
		}
		amount := rs.Pending
		if err := p.transfer(p.tokens(token), p.params.Address, receiver, amount); err != nil {
			return fmt.Errorf("%w: claim %s: %v", ErrTransferFailed, token.Hex(), err)
		}
		rs.Pending = new(uint256.Int)
		rs.Claimed = new(uint256.Int).Add(rs.Claimed, amount)

		p.emit(&event.Claim{Account: account, Token: token, Receiver: receiver, Amount: amount.Clone()})
	}
	return nil
}

// Checkpoint settles account without moving funds.
func (p *Pool) Checkpoint(msg Msg, account common.Address) (err error) {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit(&err)

	if account == (common.Address{}) {
		account = msg.Sender
	}
	p.settle(p.touch(account))
	return nil
}

// SetRewardReceiver redirects the caller's future claims. Zero resets it.
func (p *Pool) SetRewardReceiver(msg Msg, receiver common.Address) (err error) {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit(&err)

	acc := p.touch(msg.Sender)
	p.settle(acc)

	old := acc.Receiver
	acc.Receiver = receiver
	p.emit(&event.UpdateRewardReceiver{Account: msg.Sender, OldReceiver: old, NewReceiver: receiver})
	return nil
}

// ============================================================================
// Queries
// ============================================================================

// BalanceOf returns account's current locked principal.
func (p *Pool) BalanceOf(account common.Address) *uint256.Int {
	acc, ok := p.accounts[account]
	if !ok {
		return new(uint256.Int)
	}
	return p.ledger.Compound(acc.InitialStake, acc.Snapshot)
}

// Claimable returns what a claim of token would pay account right now.
func (p *Pool) Claimable(account, token common.Address) *uint256.Int {
	acc, ok := p.accounts[account]
	if !ok {
		return new(uint256.Int)
	}

	total := new(uint256.Int)
	if rs, ok := acc.Rewards[token]; ok {
		total.Add(total, rs.Pending)
		total.Add(total, p.locked.Earned(token, acc.InitialStake, acc.Snapshot, rs.Sum))
	} else {
		total.Add(total, p.locked.Earned(token, acc.InitialStake, acc.Snapshot, nil))
	}

	if e := acc.Unlocking; e != nil && token == p.params.CollateralToken {
		total.Add(total, p.unlocking.Earned(token, e.Amount, e.Snapshot, e.CollateralSum))
	}
	return total
}

// Claimed returns the lifetime amount of token paid out for account.
func (p *Pool) Claimed(account, token common.Address) *uint256.Int {
	if acc, ok := p.accounts[account]; ok {
		if rs, ok := acc.Rewards[token]; ok {
			return rs.Claimed.Clone()
		}
	}
	return new(uint256.Int)
}

// RewardReceiver returns account's configured claim redirect, zero if unset.
func (p *Pool) RewardReceiver(account common.Address) common.Address {
	if acc, ok := p.accounts[account]; ok {
		return acc.Receiver
	}
	return common.Address{}
}

func (p *Pool) TotalSupply() *uint256.Int    { return p.totalSupply.Clone() }
func (p *Pool) TotalUnlocking() *uint256.Int { return p.totalUnlocking.Clone() }
func (p *Pool) EpochState() Snapshot         { return p.ledger.Current() }
func (p *Pool) Address() common.Address      { return p.params.Address }

// Params returns a copy of the current configuration.
func (p *Pool) Params() Params {
	c := p.params
	c.LiquidatableCollateralRatio = p.params.LiquidatableCollateralRatio.Clone()
	return c
}

// Accounts returns every live account address in ascending order.
func (p *Pool) Accounts() []common.Address {
	out := make([]common.Address, 0, len(p.accounts))
	for addr := range p.accounts {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// ============================================================================
// Export / Import
// ============================================================================

// AccountState pairs an account with its address for export.
type AccountState struct {
	Address common.Address `json:"address"`
	Account *Account       `json:"account"`
}

// State is a full, self-contained copy of pool state.
type State struct {
	Epoch                       Snapshot         `json:"epoch"`
	ScaleFactor                 uint64           `json:"scale_factor"`
	TotalSupply                 *uint256.Int     `json:"total_supply"`
	TotalUnlocking              *uint256.Int     `json:"total_unlocking"`
	LiquidatableCollateralRatio *uint256.Int     `json:"liquidatable_collateral_ratio"`
	UnlockDuration              time.Duration    `json:"unlock_duration"`
	Wrapper                     common.Address   `json:"wrapper"`
	Rewards                     []RewardInfo     `json:"rewards"`
	TrackedTokens               []common.Address `json:"tracked_tokens"`
	LockedSums                  []SumEntry       `json:"locked_sums"`
	UnlockingSums               []SumEntry       `json:"unlocking_sums"`
	Accounts                    []AccountState   `json:"accounts"`
}

// Export returns a deep copy of pool state.
func (p *Pool) Export() *State {
	s := &State{
		Epoch:                       p.ledger.Current(),
		ScaleFactor:                 p.params.ScaleFactor,
		TotalSupply:                 p.totalSupply.Clone(),
		TotalUnlocking:              p.totalUnlocking.Clone(),
		LiquidatableCollateralRatio: p.params.LiquidatableCollateralRatio.Clone(),
		UnlockDuration:              p.params.UnlockDuration,
		Rewards:                     p.RewardTokens(),
		TrackedTokens:               p.locked.Tokens(),
		LockedSums:                  p.locked.entries(),
		UnlockingSums:               p.unlocking.entries(),
	}
	if p.wrapper != nil {
		s.Wrapper = p.wrapper.Address()
	}
	for _, addr := range p.Accounts() {
		s.Accounts = append(s.Accounts, AccountState{Address: addr, Account: p.accounts[addr].clone()})
	}
	return s
}

// Import replaces pool state with s. The configured wrapper and scale factor
// must match; products recorded under another scale factor cannot be reconciled.
func (p *Pool) Import(s *State) error {
	if p.busy {
		return ErrReentrantCall
	}
	var wrapper common.Address
	if p.wrapper != nil {
		wrapper = p.wrapper.Address()
	}
	if s.Wrapper != wrapper {
		return fmt.Errorf("snapshot wrapper %s does not match configured %s", s.Wrapper.Hex(), wrapper.Hex())
	}
	if s.ScaleFactor != p.params.ScaleFactor {
		return fmt.Errorf("snapshot scale factor %d does not match configured %d", s.ScaleFactor, p.params.ScaleFactor)
	}
	if s.Epoch.Product == nil || s.Epoch.Product.IsZero() || s.Epoch.Product.Gt(fpmath.Precision()) {
		return fmt.Errorf("snapshot product out of range")
	}

	ledger := NewShareLedger(p.params.ScaleFactor)
	ledger.restore(s.Epoch)
	locked := NewRewardAccountant(ledger)
	unlocking := NewRewardAccountant(ledger)
	unlocking.Track(p.params.CollateralToken)
	for _, token := range s.TrackedTokens {
		locked.Track(token)
	}
	for _, e := range s.LockedSums {
		locked.setSum(e.Token, e.Epoch, e.Scale, e.Sum)
	}
	for _, e := range s.UnlockingSums {
		unlocking.setSum(e.Token, e.Epoch, e.Scale, e.Sum)
	}

	rewards := newRewardRegistry()
	for _, info := range s.Rewards {
		rewards.add(info)
	}

	accounts := make(map[common.Address]*Account, len(s.Accounts))
	for _, as := range s.Accounts {
		if as.Account == nil {
			continue
		}
		accounts[as.Address] = as.Account.clone()
	}

	p.ledger = ledger
	p.locked = locked
	p.unlocking = unlocking
	p.rewards = rewards
	p.accounts = accounts
	p.totalSupply = fpmath.Clone(s.TotalSupply)
	p.totalUnlocking = fpmath.Clone(s.TotalUnlocking)
	p.params.LiquidatableCollateralRatio = fpmath.Clone(s.LiquidatableCollateralRatio)
	p.params.UnlockDuration = s.UnlockDuration
	return nil
}

package state_test

import (
	"RebalancePool/internal/access"
	"RebalancePool/internal/event"
	fpmath "RebalancePool/internal/math"
	"RebalancePool/internal/state"
	"RebalancePool/internal/treasury"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	baseToken   = common.HexToAddress("0xba5e")
	wrapperAddr = common.HexToAddress("0x3a90")
	rewardA     = common.HexToAddress("0xaa01")
	rewardB     = common.HexToAddress("0xaa02")
	rewardC     = common.HexToAddress("0xaa03")
	manager     = common.HexToAddress("0x3a3a")
)

// ============================================================================
// Parameter setters
// ============================================================================

func TestAdmin_UpdateLiquidatableCollateralRatio(t *testing.T) {
	f := newFixture(t)
	f.deposit(alice, "100")

	err := f.pool.UpdateLiquidatableCollateralRatio(f.msg(alice), mustUnits(t, "1.1"))
	assert.ErrorIs(t, err, state.ErrUnauthorized)

	f.resetEvents()
	require.NoError(t, f.pool.UpdateLiquidatableCollateralRatio(f.msg(admin), mustUnits(t, "1.1")))
	updates := eventsOf[*event.UpdateLiquidatableCollateralRatio](f.events)
	require.Len(t, updates, 1)
	assert.Equal(t, mustUnits(t, "1.3"), updates[0].OldRatio)
	assert.Equal(t, mustUnits(t, "1.1"), updates[0].NewRatio)

	// collateral ratio 1.2 is now healthy
	_, err = f.pool.Liquidate(f.msg(keeper), mustUnits(t, "1"), nil)
	assert.ErrorIs(t, err, state.ErrCannotLiquidate)
}

func TestAdmin_UpdateUnlockDuration(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.pool.UpdateUnlockDuration(f.msg(keeper), time.Hour), state.ErrUnauthorized)
	assert.ErrorIs(t, f.pool.UpdateUnlockDuration(f.msg(admin), 0), state.ErrInvalidDuration)

	require.NoError(t, f.pool.UpdateUnlockDuration(f.msg(admin), time.Hour))
	assert.Equal(t, time.Hour, f.pool.Params().UnlockDuration)

	updates := eventsOf[*event.UpdateUnlockDuration](f.events)
	require.Len(t, updates, 1)
	assert.Equal(t, state.DefaultUnlockDuration, updates[0].OldDuration)

	f.deposit(alice, "10")
	require.NoError(t, f.pool.Unlock(f.msg(alice), mustUnits(t, "10")))
	at, _ := f.pool.UnlockAt(alice)
	assert.Equal(t, f.now.Add(time.Hour), at)
}

// ============================================================================
// Wrapper
// ============================================================================

// newWrappedFixture builds a pool whose collateral source pays baseToken, which
// a wrapper converts into the collateral token at 2:1.
func newWrappedFixture(t *testing.T) (*fixture, *treasury.RateWrapper) {
	t.Helper()
	f := newFixture(t)

	f.treasury = treasury.NewFixedRateTreasury(treasuryAddr, f.gen.Token(fToken), f.gen.Token(baseToken),
		mustUnits(t, "0.001"), mustUnits(t, "1.2"))
	f.mint(baseToken, treasuryAddr, "1000000")

	wrapper := treasury.NewRateWrapper(wrapperAddr, f.gen.Token(baseToken), f.gen.Token(collToken), mustUnits(t, "0.5"))
	f.mint(collToken, wrapperAddr, "1000000")

	deps := state.Dependencies{
		Tokens: func(addr common.Address) state.Token { return f.gen.Token(addr) },
		Source: f.treasury,
		Access: f.acl,
		Sink:   state.EventSinkFunc(func(evt event.Event) { f.events = append(f.events, evt) }),
	}
	_, err := state.NewPool(f.pool.Params(), deps)
	require.ErrorIs(t, err, state.ErrWrapperRequired)

	deps.Wrapper = wrapper
	pool, err := state.NewPool(f.pool.Params(), deps)
	require.NoError(t, err)
	f.pool = pool
	return f, wrapper
}

func TestWrapper_LiquidationIsWrapped(t *testing.T) {
	f, _ := newWrappedFixture(t)
	f.deposit(alice, "10000")

	out := f.liquidate("200")
	assert.Equal(t, mustUnits(t, "0.1"), out)
	assertApprox(t, mustUnits(t, "0.1"), f.pool.Claimable(alice, collToken), 10)
	assert.True(t, f.balance(baseToken, poolAddr).IsZero(), "base collateral is fully wrapped")
}

func TestWrapper_MinOutAppliesAfterWrap(t *testing.T) {
	f, _ := newWrappedFixture(t)
	f.deposit(alice, "10000")
	f.gen.Commit()

	f.gen.Begin("liquidate", 1, f.now)
	_, err := f.pool.Liquidate(f.msg(keeper), mustUnits(t, "200"), mustUnits(t, "0.15"))
	require.ErrorIs(t, err, state.ErrInsufficientCollateralOut)

	// the pool has rolled back, the token movements go with the ledger batch
	assert.Equal(t, mustUnits(t, "10000"), f.pool.TotalSupply())
	assert.Equal(t, fpmath.Precision(), f.pool.EpochState().Product)
	require.NoError(t, f.gen.Abort())
	assert.Equal(t, mustUnits(t, "10000"), f.balance(fToken, poolAddr))
	assert.True(t, f.balance(collToken, poolAddr).IsZero())
	assert.Equal(t, mustUnits(t, "1000000"), f.balance(baseToken, treasuryAddr))
	f.assertConservation(alice)
}

func TestWrapper_UpdateValidation(t *testing.T) {
	f, current := newWrappedFixture(t)
	other := common.HexToAddress("0x0e0e")

	badSrc := treasury.NewRateWrapper(wrapperAddr, f.gen.Token(other), f.gen.Token(collToken), fpmath.Precision())
	badDst := treasury.NewRateWrapper(wrapperAddr, f.gen.Token(baseToken), f.gen.Token(other), fpmath.Precision())

	assert.ErrorIs(t, f.pool.UpdateWrapper(f.msg(alice), current), state.ErrUnauthorized)
	assert.ErrorIs(t, f.pool.UpdateWrapper(f.msg(admin), badSrc), state.ErrWrapperSrcMismatch)
	assert.ErrorIs(t, f.pool.UpdateWrapper(f.msg(admin), badDst), state.ErrWrapperDstMismatch)
	assert.ErrorIs(t, f.pool.UpdateWrapper(f.msg(admin), nil), state.ErrWrapperRequired)
	assert.Same(t, current, f.pool.Wrapper())

	next := treasury.NewRateWrapper(common.HexToAddress("0x3a91"), f.gen.Token(baseToken), f.gen.Token(collToken), fpmath.Precision())
	f.resetEvents()
	require.NoError(t, f.pool.UpdateWrapper(f.msg(admin), next))

	updates := eventsOf[*event.UpdateWrapper](f.events)
	require.Len(t, updates, 1)
	assert.Equal(t, wrapperAddr, updates[0].OldWrapper)
	assert.Equal(t, next.Address(), updates[0].NewWrapper)
}

func TestWrapper_NilAllowedWhenSourcePaysCollateral(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pool.UpdateWrapper(f.msg(admin), nil))
	assert.Nil(t, f.pool.Wrapper())
}

// ============================================================================
// Reward registry
// ============================================================================

func rewardTokenSet(infos []state.RewardInfo) []common.Address {
	out := make([]common.Address, 0, len(infos))
	for _, info := range infos {
		out = append(out, info.Token)
	}
	return out
}

func TestRewards_AddUpdateRemove(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.pool.AddReward(f.msg(alice), rewardA, manager, time.Hour), state.ErrUnauthorized)
	assert.ErrorIs(t, f.pool.AddReward(f.msg(admin), fToken, manager, time.Hour), state.ErrPrincipalAsReward)
	assert.ErrorIs(t, f.pool.AddReward(f.msg(admin), collToken, manager, time.Hour), state.ErrDuplicateRewardToken)
	assert.ErrorIs(t, f.pool.AddReward(f.msg(admin), rewardA, common.Address{}, time.Hour), state.ErrZeroAddress)

	for _, token := range []common.Address{rewardA, rewardB, rewardC} {
		require.NoError(t, f.pool.AddReward(f.msg(admin), token, manager, 7*24*time.Hour))
	}
	assert.Equal(t, []common.Address{collToken, rewardA, rewardB, rewardC}, rewardTokenSet(f.pool.RewardTokens()))

	require.NoError(t, f.pool.UpdateReward(f.msg(admin), rewardB, alice, time.Hour))
	info, ok := f.pool.RewardInfo(rewardB)
	require.True(t, ok)
	assert.Equal(t, alice, info.Manager)
	assert.Equal(t, time.Hour, info.PeriodLength)
	assert.ErrorIs(t, f.pool.UpdateReward(f.msg(admin), bob, alice, time.Hour), state.ErrUnknownRewardToken)

	// swap-remove: the last entry takes the removed slot
	require.NoError(t, f.pool.RemoveReward(f.msg(admin), rewardA))
	assert.Equal(t, []common.Address{collToken, rewardC, rewardB}, rewardTokenSet(f.pool.RewardTokens()))

	require.NoError(t, f.pool.RemoveReward(f.msg(admin), rewardB))
	assert.Equal(t, []common.Address{collToken, rewardC}, rewardTokenSet(f.pool.RewardTokens()))

	assert.ErrorIs(t, f.pool.RemoveReward(f.msg(admin), collToken), state.ErrCannotRemoveCollateral)
	assert.ErrorIs(t, f.pool.RemoveReward(f.msg(admin), rewardA), state.ErrUnknownRewardToken)
}

func TestRewards_RemoveOrderIndependent(t *testing.T) {
	first := newFixture(t)
	last := newFixture(t)
	for _, f := range []*fixture{first, last} {
		for _, token := range []common.Address{rewardA, rewardB} {
			require.NoError(t, f.pool.AddReward(f.msg(admin), token, manager, time.Hour))
		}
	}

	require.NoError(t, first.pool.RemoveReward(first.msg(admin), rewardA))
	require.NoError(t, first.pool.RemoveReward(first.msg(admin), rewardB))
	require.NoError(t, last.pool.RemoveReward(last.msg(admin), rewardB))
	require.NoError(t, last.pool.RemoveReward(last.msg(admin), rewardA))

	assert.Equal(t, first.pool.RewardTokens(), last.pool.RewardTokens())
}

func TestRewards_DepositRewardToLockedStake(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pool.AddReward(f.msg(admin), rewardA, manager, time.Hour))
	f.mint(rewardA, manager, "1000")

	err := f.pool.DepositReward(f.msg(manager), rewardA, mustUnits(t, "100"))
	assert.ErrorIs(t, err, state.ErrEmptyPool)

	f.deposit(alice, "3000")
	f.deposit(bob, "1000")
	f.deposit(carol, "2000")
	require.NoError(t, f.pool.Unlock(f.msg(carol), mustUnits(t, "2000")))

	assert.ErrorIs(t, f.pool.DepositReward(f.msg(alice), rewardA, mustUnits(t, "100")), state.ErrNotRewardManager)
	assert.ErrorIs(t, f.pool.DepositReward(f.msg(manager), rewardB, mustUnits(t, "100")), state.ErrUnknownRewardToken)

	require.NoError(t, f.pool.DepositReward(f.msg(manager), rewardA, mustUnits(t, "100")))
	assertApprox(t, mustUnits(t, "75"), f.pool.Claimable(alice, rewardA), 10)
	assertApprox(t, mustUnits(t, "25"), f.pool.Claimable(bob, rewardA), 10)
	assert.True(t, f.pool.Claimable(carol, rewardA).IsZero(), "unlocking stake earns collateral only")

	// rewards accrued before removal stay claimable
	require.NoError(t, f.pool.RemoveReward(f.msg(admin), rewardA))
	require.NoError(t, f.pool.Claim(f.msg(alice), alice, common.Address{}))
	assertApprox(t, mustUnits(t, "75"), f.balance(rewardA, alice), 10)
	assert.ErrorIs(t, f.pool.DepositReward(f.msg(manager), rewardA, mustUnits(t, "1")), state.ErrUnknownRewardToken)
}

func TestRewards_FailedAddLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	tokens := f.pool.RewardTokens()

	f.acl.Revoke(access.RoleRewardManager, admin)
	assert.ErrorIs(t, f.pool.AddReward(f.msg(admin), rewardA, manager, time.Hour), state.ErrUnauthorized)
	assert.Equal(t, tokens, f.pool.RewardTokens())
	_, ok := f.pool.RewardInfo(rewardA)
	assert.False(t, ok)
	assert.True(t, f.pool.Claimable(alice, rewardA).IsZero())
}

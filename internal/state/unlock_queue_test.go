package state_test

import (
	"RebalancePool/internal/event"
	"RebalancePool/internal/state"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnlock_ThenLiquidate(t *testing.T) {
	f := newFixture(t)
	f.deposit(alice, "10000")

	require.NoError(t, f.pool.Unlock(f.msg(alice), mustUnits(t, "2000")))
	assert.Equal(t, mustUnits(t, "8000"), f.pool.BalanceOf(alice))
	assert.Equal(t, mustUnits(t, "2000"), f.pool.TotalUnlocking())
	assert.Equal(t, mustUnits(t, "2000"), f.pool.UnlockingBalanceOf(alice))
	assert.True(t, f.pool.UnlockedBalanceOf(alice, f.now).IsZero(), "still unlocking")

	unlocks := eventsOf[*event.Unlock](f.events)
	require.Len(t, unlocks, 1)
	assert.Equal(t, f.now.Add(state.DefaultUnlockDuration), unlocks[0].UnlockAt)

	f.now = f.now.Add(state.DefaultUnlockDuration + time.Second)
	assert.Equal(t, mustUnits(t, "2000"), f.pool.UnlockedBalanceOf(alice, f.now))

	// a 10% loss hits the locked and the matured-but-not-withdrawn stake alike
	f.liquidate("1000")
	assert.Equal(t, mustUnits(t, "7200"), f.pool.BalanceOf(alice))
	assert.Equal(t, mustUnits(t, "1800"), f.pool.UnlockedBalanceOf(alice, f.now))
	assert.Equal(t, mustUnits(t, "7200"), f.pool.TotalSupply())
	assert.Equal(t, mustUnits(t, "1800"), f.pool.TotalUnlocking())
	assertApprox(t, mustUnits(t, "1"), f.pool.Claimable(alice, collToken), 10)
	f.assertConservation(alice)

	require.NoError(t, f.pool.WithdrawUnlocked(f.msg(alice), true, common.Address{}))
	assert.Equal(t, mustUnits(t, "1800"), f.balance(fToken, alice))
	assertApprox(t, mustUnits(t, "1"), f.balance(collToken, alice), 10)
	assert.True(t, f.pool.TotalUnlocking().IsZero())
	assert.True(t, f.pool.UnlockingBalanceOf(alice).IsZero())
	f.assertConservation(alice)
}

func TestUnlock_SplitsLossAcrossDepositors(t *testing.T) {
	f := newFixture(t)
	f.deposit(alice, "6000")
	f.deposit(bob, "4000")
	require.NoError(t, f.pool.Unlock(f.msg(bob), mustUnits(t, "4000")))

	f.liquidate("5000")
	assert.Equal(t, mustUnits(t, "3000"), f.pool.BalanceOf(alice))
	assert.Equal(t, mustUnits(t, "2000"), f.pool.UnlockingBalanceOf(bob))

	// unlocking stake is compensated the same way locked stake is
	assertApprox(t, mustUnits(t, "3"), f.pool.Claimable(alice, collToken), 10)
	assertApprox(t, mustUnits(t, "2"), f.pool.Claimable(bob, collToken), 10)
	f.assertConservation(alice, bob)
}

func TestUnlock_Netting(t *testing.T) {
	f := newFixture(t)
	f.deposit(alice, "1000")

	require.NoError(t, f.pool.Unlock(f.msg(alice), mustUnits(t, "100")))
	f.now = f.now.Add(24 * time.Hour)
	require.NoError(t, f.pool.Unlock(f.msg(alice), mustUnits(t, "50")))

	assert.Equal(t, mustUnits(t, "150"), f.pool.UnlockingBalanceOf(alice))
	at, ok := f.pool.UnlockAt(alice)
	require.True(t, ok)
	assert.Equal(t, f.now.Add(state.DefaultUnlockDuration), at, "timer restarts")

	err := f.pool.WithdrawUnlocked(f.msg(alice), false, common.Address{})
	assert.ErrorIs(t, err, state.ErrUnlockNotMatured)

	f.now = at
	err = f.pool.Unlock(f.msg(alice), mustUnits(t, "1"))
	assert.ErrorIs(t, err, state.ErrUnlockedNotWithdrawn)

	require.NoError(t, f.pool.WithdrawUnlocked(f.msg(alice), false, bob))
	assert.Equal(t, mustUnits(t, "150"), f.balance(fToken, bob))

	err = f.pool.WithdrawUnlocked(f.msg(alice), false, common.Address{})
	assert.ErrorIs(t, err, state.ErrNoUnlockingEntry)
}

func TestUnlock_Rejects(t *testing.T) {
	f := newFixture(t)
	f.deposit(alice, "10")

	assert.ErrorIs(t, f.pool.Unlock(f.msg(alice), new(uint256.Int)), state.ErrZeroAmount)
	assert.ErrorIs(t, f.pool.Unlock(f.msg(alice), mustUnits(t, "11")), state.ErrInsufficientBalance)
	assert.ErrorIs(t, f.pool.Unlock(f.msg(bob), mustUnits(t, "1")), state.ErrInsufficientBalance)
}

func TestUnlock_EntireBalanceAfterWipeout(t *testing.T) {
	f := newFixture(t)
	f.deposit(alice, "10")
	require.NoError(t, f.pool.Unlock(f.msg(alice), mustUnits(t, "4")))

	f.liquidate("10")
	assert.True(t, f.pool.UnlockingBalanceOf(alice).IsZero())

	f.now = f.now.Add(state.DefaultUnlockDuration)
	require.NoError(t, f.pool.WithdrawUnlocked(f.msg(alice), true, common.Address{}))
	assert.True(t, f.balance(fToken, alice).IsZero())
	assertApprox(t, mustUnits(t, "0.01"), f.balance(collToken, alice), 10)
	assert.NotContains(t, f.pool.Accounts(), alice)
}

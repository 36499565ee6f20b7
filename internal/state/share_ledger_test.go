package state_test

import (
	fpmath "RebalancePool/internal/math"
	"RebalancePool/internal/state"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShareLedger_CompoundSameScale(t *testing.T) {
	sl := state.NewShareLedger(fpmath.DefaultScaleFactor)
	snap := sl.Current()

	res, err := sl.ApplyLoss(uint256.NewInt(25), uint256.NewInt(100))
	require.NoError(t, err)
	assert.False(t, res.Wipeout)
	assert.Zero(t, res.ScaleSteps)

	assert.Equal(t, uint256.NewInt(750), sl.Compound(uint256.NewInt(1000), snap))
	assert.Equal(t, uint256.NewInt(750_000_000_000_000_000), sl.Current().Product)
}

func TestShareLedger_LossRoundsAgainstStakers(t *testing.T) {
	sl := state.NewShareLedger(fpmath.DefaultScaleFactor)
	snap := sl.Current()

	// 1/3 loss: the product drops by ceil(1e18/3)
	_, err := sl.ApplyLoss(uint256.NewInt(1), uint256.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(666_666_666_666_666_666), sl.Current().Product)
	assert.Equal(t, uint256.NewInt(1999), sl.Compound(uint256.NewInt(3000), snap))
}

func TestShareLedger_DustRemainderIsWipeout(t *testing.T) {
	sl := state.NewShareLedger(fpmath.DefaultScaleFactor)
	snap := sl.Current()

	// 1 wei of 1e19 left: the loss per unit rounds up to 1e18
	stake := uint256.MustFromDecimal("10000000000000000000")
	res, err := sl.ApplyLoss(new(uint256.Int).SubUint64(stake, 1), stake)
	require.NoError(t, err)
	assert.True(t, res.Wipeout)
	assert.Equal(t, snap.Epoch+1, sl.Current().Epoch)
	assert.True(t, sl.Compound(stake, snap).IsZero())
}

func TestShareLedger_Wipeout(t *testing.T) {
	sl := state.NewShareLedger(fpmath.DefaultScaleFactor)
	snap := sl.Current()

	res, err := sl.ApplyLoss(uint256.NewInt(100), uint256.NewInt(100))
	require.NoError(t, err)
	assert.True(t, res.Wipeout)

	cur := sl.Current()
	assert.Equal(t, uint64(1), cur.Epoch)
	assert.Equal(t, uint64(0), cur.Scale)
	assert.Equal(t, fpmath.Precision(), cur.Product)
	assert.True(t, sl.Compound(uint256.NewInt(1000), snap).IsZero(), "stale epoch compounds to zero")
}

func TestShareLedger_ScaleGap(t *testing.T) {
	sl := state.NewShareLedger(fpmath.DefaultScaleFactor)
	start := sl.Current()
	stake := uint256.NewInt(1_000_000_000_000_000_000)

	// keep 1e-10 twice: each loss rolls the scale once
	_, err := sl.ApplyLoss(new(uint256.Int).Sub(stake, uint256.NewInt(100_000_000)), stake)
	require.NoError(t, err)
	mid := sl.Current()
	assert.Equal(t, uint64(1), mid.Scale)
	assert.Equal(t, uint256.NewInt(100_000_000), sl.Compound(stake, start))

	_, err = sl.ApplyLoss(new(uint256.Int).Sub(stake, uint256.NewInt(100_000_000)), stake)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), sl.Current().Scale)
	assert.Equal(t, uint256.NewInt(100_000_000), sl.Compound(stake, mid))
	assert.True(t, sl.Compound(stake, start).IsZero(), "gap of two scales is below precision")
}

func TestShareLedger_ApplyLossRejects(t *testing.T) {
	sl := state.NewShareLedger(fpmath.DefaultScaleFactor)

	_, err := sl.ApplyLoss(uint256.NewInt(1), new(uint256.Int))
	assert.ErrorIs(t, err, state.ErrNothingToLiquidate)

	_, err = sl.ApplyLoss(uint256.NewInt(2), uint256.NewInt(1))
	assert.ErrorIs(t, err, state.ErrLiquidationExceedsStake)
}

func TestRewardAccountant_DistributeAndEarn(t *testing.T) {
	sl := state.NewShareLedger(fpmath.DefaultScaleFactor)
	ra := state.NewRewardAccountant(sl)
	token := collToken
	require.True(t, ra.Track(token))
	require.False(t, ra.Track(token))

	_, err := ra.Distribute(token, uint256.NewInt(10), new(uint256.Int))
	assert.ErrorIs(t, err, state.ErrEmptyPool)
	_, err = ra.Distribute(fToken, uint256.NewInt(10), uint256.NewInt(1))
	assert.ErrorIs(t, err, state.ErrUnknownRewardToken)

	snap := sl.Current()
	_, err = ra.Distribute(token, mustUnits(t, "3"), mustUnits(t, "4"))
	require.NoError(t, err)

	earned := ra.Earned(token, mustUnits(t, "1"), snap, nil)
	assert.Equal(t, mustUnits(t, "0.75"), earned)

	// a snapshot taken after the distribution earns nothing from it
	assert.True(t, ra.Earned(token, mustUnits(t, "1"), sl.Current(), ra.CurrentSum(token)).IsZero())
}

func TestParams_Validate(t *testing.T) {
	base := state.DefaultParams()
	base.Address = poolAddr
	base.PrincipalToken = fToken
	base.CollateralToken = collToken
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*state.Params)
	}{
		{"zero pool", func(p *state.Params) { p.Address = common.Address{} }},
		{"same tokens", func(p *state.Params) { p.CollateralToken = fToken }},
		{"no ratio", func(p *state.Params) { p.LiquidatableCollateralRatio = nil }},
		{"zero duration", func(p *state.Params) { p.UnlockDuration = 0 }},
		{"scale factor one", func(p *state.Params) { p.ScaleFactor = 1 }},
		{"scale factor not divisor", func(p *state.Params) { p.ScaleFactor = 3 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

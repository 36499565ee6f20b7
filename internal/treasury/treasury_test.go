package treasury_test

import (
	"errors"
	"testing"

	"RebalancePool/internal/treasury"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNoFunds = errors.New("insufficient balance")

type memToken struct {
	addr     common.Address
	balances map[common.Address]*uint256.Int
}

func newMemToken(addr common.Address) *memToken {
	return &memToken{addr: addr, balances: make(map[common.Address]*uint256.Int)}
}

func (m *memToken) Address() common.Address { return m.addr }

func (m *memToken) BalanceOf(h common.Address) *uint256.Int {
	if b, ok := m.balances[h]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

func (m *memToken) set(h common.Address, v *uint256.Int) { m.balances[h] = v.Clone() }

func (m *memToken) Transfer(from, to common.Address, amount *uint256.Int) error {
	if m.BalanceOf(from).Lt(amount) {
		return errNoFunds
	}
	m.balances[from] = new(uint256.Int).Sub(m.BalanceOf(from), amount)
	m.balances[to] = new(uint256.Int).Add(m.BalanceOf(to), amount)
	return nil
}

func (m *memToken) Burn(from common.Address, amount *uint256.Int) error {
	if m.BalanceOf(from).Lt(amount) {
		return errNoFunds
	}
	m.balances[from] = new(uint256.Int).Sub(m.BalanceOf(from), amount)
	return nil
}

var (
	treasuryAddr = common.HexToAddress("0x7000")
	poolAddr     = common.HexToAddress("0x9000")
	wrapperAddr  = common.HexToAddress("0x5000")
)

func e18(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000_000))
}

func half() *uint256.Int { return uint256.NewInt(500_000_000_000_000_000) }

func TestRedeemForLiquidation(t *testing.T) {
	principal := newMemToken(common.HexToAddress("0xf000"))
	base := newMemToken(common.HexToAddress("0xba5e"))
	principal.set(poolAddr, e18(100))
	base.set(treasuryAddr, e18(1000))

	tr := treasury.NewFixedRateTreasury(treasuryAddr, principal, base, half(), e18(1))

	out, err := tr.RedeemForLiquidation(poolAddr, e18(40), e18(20))
	require.NoError(t, err)
	assert.True(t, out.Eq(e18(20)))
	assert.True(t, principal.BalanceOf(poolAddr).Eq(e18(60)), "principal burned from pool")
	assert.True(t, base.BalanceOf(poolAddr).Eq(e18(20)))
	assert.True(t, base.BalanceOf(treasuryAddr).Eq(e18(980)))
}

func TestRedeemForLiquidation_MinOut(t *testing.T) {
	principal := newMemToken(common.HexToAddress("0xf000"))
	base := newMemToken(common.HexToAddress("0xba5e"))
	principal.set(poolAddr, e18(100))
	base.set(treasuryAddr, e18(1000))

	tr := treasury.NewFixedRateTreasury(treasuryAddr, principal, base, half(), e18(1))

	_, err := tr.RedeemForLiquidation(poolAddr, e18(40), e18(21))
	assert.ErrorIs(t, err, treasury.ErrBelowMinOut)
	assert.True(t, principal.BalanceOf(poolAddr).Eq(e18(100)), "nothing burned on failure")
}

func TestRedeemForLiquidation_InsufficientReserve(t *testing.T) {
	principal := newMemToken(common.HexToAddress("0xf000"))
	base := newMemToken(common.HexToAddress("0xba5e"))
	principal.set(poolAddr, e18(100))
	base.set(treasuryAddr, e18(10))

	tr := treasury.NewFixedRateTreasury(treasuryAddr, principal, base, half(), e18(1))

	_, err := tr.RedeemForLiquidation(poolAddr, e18(40), nil)
	assert.ErrorIs(t, err, treasury.ErrInsufficientReserve)
	assert.True(t, principal.BalanceOf(poolAddr).Eq(e18(100)))
}

func TestSetCollateralRatio(t *testing.T) {
	tr := treasury.NewFixedRateTreasury(treasuryAddr, newMemToken(common.Address{1}), newMemToken(common.Address{2}), e18(1), e18(2))

	old := tr.SetCollateralRatio(e18(1))
	assert.True(t, old.Eq(e18(2)))
	assert.True(t, tr.CollateralRatio().Eq(e18(1)))

	// Returned values are copies.
	tr.CollateralRatio().SetUint64(0)
	assert.True(t, tr.CollateralRatio().Eq(e18(1)))
}

func TestRateWrapper_Wrap(t *testing.T) {
	src := newMemToken(common.HexToAddress("0xba5e"))
	dst := newMemToken(common.HexToAddress("0xc000"))
	src.set(poolAddr, e18(10))
	dst.set(wrapperAddr, e18(100))

	w := treasury.NewRateWrapper(wrapperAddr, src, dst, half())

	out, err := w.Wrap(poolAddr, e18(10))
	require.NoError(t, err)
	assert.True(t, out.Eq(e18(5)))
	assert.True(t, src.BalanceOf(poolAddr).IsZero())
	assert.True(t, src.BalanceOf(wrapperAddr).Eq(e18(10)))
	assert.True(t, dst.BalanceOf(poolAddr).Eq(e18(5)))

	dst.set(wrapperAddr, e18(1))
	src.set(poolAddr, e18(10))
	_, err = w.Wrap(poolAddr, e18(10))
	assert.ErrorIs(t, err, treasury.ErrInsufficientReserve)
}

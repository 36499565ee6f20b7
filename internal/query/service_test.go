package query

import (
	"testing"

	"RebalancePool/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLessThan(t *testing.T) {
	assert.True(t, lessThan("1200000000000000000", "1300000000000000000"))
	assert.False(t, lessThan("1300000000000000000", "1300000000000000000"))
	assert.False(t, lessThan("", "1"))
	assert.False(t, lessThan("1", "not-a-number"))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, maxPageSize, clampLimit(0))
	assert.Equal(t, maxPageSize, clampLimit(-3))
	assert.Equal(t, maxPageSize, clampLimit(maxPageSize+1))
	assert.Equal(t, 20, clampLimit(20))
}

func TestNewQueryService_FormatsPrincipal(t *testing.T) {
	reg := ledger.NewTokenRegistry()
	principal := common.HexToAddress("0xf000")
	require.NoError(t, reg.Register(ledger.TokenInfo{Symbol: "fUSD", Address: principal, Decimals: 18}))

	_, err := NewQueryService(nil, reg, common.HexToAddress("0xdead"))
	assert.Error(t, err)

	qs, err := NewQueryService(nil, reg, principal)
	require.NoError(t, err)
	assert.Equal(t, "1.5", qs.formatPrincipal("1500000000000000000"))
	assert.Equal(t, "garbage", qs.formatPrincipal("garbage"))
}

func TestLowerHex(t *testing.T) {
	assert.Equal(t, "0x00000000000000000000000000000000000000ab", lowerHex(common.HexToAddress("0xAB")))
}

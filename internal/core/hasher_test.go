package core_test

import (
	"testing"

	"RebalancePool/internal/core"

	"github.com/stretchr/testify/assert"
)

func TestHashChain_DeterministicAndOrderSensitive(t *testing.T) {
	a, b := core.NewHashChain(), core.NewHashChain()
	assert.Equal(t, core.GenesisHash(), a.Tip())

	h0 := a.Append(0, []byte("mint"))
	h1 := a.Append(1, []byte("deposit"))
	assert.Equal(t, h1, a.Tip())

	assert.Equal(t, h0, b.Append(0, []byte("mint")))
	assert.Equal(t, h1, b.Append(1, []byte("deposit")))

	swapped := core.NewHashChain()
	swapped.Append(0, []byte("deposit"))
	assert.NotEqual(t, h1, swapped.Append(1, []byte("mint")))

	resumed := core.NewHashChain()
	resumed.Reset(h0)
	assert.Equal(t, h1, resumed.Append(1, []byte("deposit")))
}

package event_test

import (
	"encoding/json"
	"testing"
	"time"

	"RebalancePool/internal/event"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCommand_RestoresStoredPayload(t *testing.T) {
	orig := &event.LiquidateCmd{
		CommandMeta: event.CommandMeta{
			Key:   "liq-7",
			From:  common.HexToAddress("0xb000"),
			Nonce: 7,
			At:    time.Unix(1_700_000_000, 0).UTC(),
		},
		Amount:           uint256.MustFromDecimal("500000000000000000000"),
		MinCollateralOut: uint256.NewInt(1),
	}
	payload, err := json.Marshal(orig)
	require.NoError(t, err)

	cmd, err := event.DecodeCommand(orig.CommandType().String(), payload)
	require.NoError(t, err)

	got, ok := cmd.(*event.LiquidateCmd)
	require.True(t, ok, "got %T", cmd)
	assert.Equal(t, orig.IdempotencyKey(), got.IdempotencyKey())
	assert.Equal(t, orig.Sender(), got.Sender())
	assert.Equal(t, orig.SourceSequence(), got.SourceSequence())
	assert.True(t, orig.Timestamp().Equal(got.Timestamp()))
	assert.True(t, orig.Amount.Eq(got.Amount))
	assert.True(t, orig.MinCollateralOut.Eq(got.MinCollateralOut))
}

func TestDecodeCommand_UnknownType(t *testing.T) {
	_, err := event.DecodeCommand("Teleport", []byte(`{}`))
	assert.Error(t, err)
}

func TestCommandType_StringRoundTrip(t *testing.T) {
	for ct := event.CommandTypeMint; ct <= event.CommandTypeRevokeRole; ct++ {
		parsed, ok := event.ParseCommandType(ct.String())
		require.True(t, ok, ct.String())
		assert.Equal(t, ct, parsed)

		cmd, err := event.NewCommand(ct)
		require.NoError(t, err)
		assert.Equal(t, ct, cmd.CommandType())
	}
}

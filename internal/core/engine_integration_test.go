package core_test

import (
	"errors"
	"testing"
	"time"

	"RebalancePool/internal/access"
	"RebalancePool/internal/core"
	"RebalancePool/internal/event"
	"RebalancePool/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// --- Test helpers ---

var (
	poolAddr     = common.HexToAddress("0x9000")
	principalTok = common.HexToAddress("0xf000")
	collTok      = common.HexToAddress("0xc000")
	treasuryAddr = common.HexToAddress("0x7000")
	admin        = common.HexToAddress("0xa000")
	keeper       = common.HexToAddress("0xb000")
	oracle       = common.HexToAddress("0x0e00")
	minter       = common.HexToAddress("0x0d00")
	alice        = common.HexToAddress("0x0001")
	bob          = common.HexToAddress("0x0002")
)

func e18(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000_000))
}

func testConfig() core.Config {
	params := state.DefaultParams()
	params.Address = poolAddr
	params.PrincipalToken = principalTok
	params.CollateralToken = collTok

	return core.Config{
		Pool:               params,
		PrincipalDecimals:  18,
		CollateralDecimals: 18,
		Treasury:           treasuryAddr,
		BaseToken:          collTok,
		RedeemRate:         e18(1),
		CollateralRatio:    uint256.NewInt(1_500_000_000_000_000_000),
		Roles: map[access.Role][]common.Address{
			access.RoleAdmin:      {admin},
			access.RoleLiquidator: {keeper},
			access.RoleOracle:     {oracle},
			access.RoleMinter:     {minter},
		},
		DedupCapacity: 1024,
	}
}

// newTestEngine creates an Engine with buffered channels and no DB checker.
func newTestEngine(t *testing.T) (*core.Engine, chan core.CoreOutput, chan core.CoreOutput) {
	t.Helper()
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	c, err := core.NewEngine(testConfig(), 0, persistChan, projChan, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return c, persistChan, projChan
}

func meta(key string, from common.Address, nonce int64) event.CommandMeta {
	return event.CommandMeta{
		Key:   key,
		From:  from,
		Nonce: nonce,
		At:    time.Unix(1_700_000_000+nonce, 0).UTC(),
	}
}

func mustProcess(t *testing.T, c *core.Engine, cmd event.Command) {
	t.Helper()
	if err := c.ProcessCommand(cmd); err != nil {
		t.Fatalf("%s (%s): %v", cmd.CommandType(), cmd.IdempotencyKey(), err)
	}
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

// seed mints principal to alice and bob and funds the treasury reserve.
func seed(t *testing.T, c *core.Engine) {
	t.Helper()
	mustProcess(t, c, &event.MintCmd{CommandMeta: meta("mint-alice", minter, 0), Token: principalTok, To: alice, Amount: e18(1000)})
	mustProcess(t, c, &event.MintCmd{CommandMeta: meta("mint-bob", minter, 1), Token: principalTok, To: bob, Amount: e18(1000)})
	mustProcess(t, c, &event.MintCmd{CommandMeta: meta("mint-reserve", minter, 2), Token: collTok, To: treasuryAddr, Amount: e18(10_000)})
}

func eventsOfType(outputs []core.CoreOutput, et event.EventType) []event.Event {
	var out []event.Event
	for _, o := range outputs {
		for _, e := range o.Envelope.Events {
			if e.EventType() == et {
				out = append(out, e)
			}
		}
	}
	return out
}

// ============================================================================
// Deposits
// ============================================================================

func TestDeposit_MovesPrincipalIntoCustody(t *testing.T) {
	c, persistChan, _ := newTestEngine(t)
	seed(t, c)

	mustProcess(t, c, &event.DepositCmd{CommandMeta: meta("dep-1", alice, 0), Amount: e18(400)})

	if got := c.Pool().BalanceOf(alice); !got.Eq(e18(400)) {
		t.Errorf("pool balance: want 400e18, got %s", got.Dec())
	}
	if got := c.Balance(principalTok, poolAddr); !got.Eq(e18(400)) {
		t.Errorf("custody: want 400e18, got %s", got.Dec())
	}
	if got := c.Balance(principalTok, alice); !got.Eq(e18(600)) {
		t.Errorf("alice wallet: want 600e18, got %s", got.Dec())
	}

	outputs := drainOutputs(persistChan)
	if len(outputs) != 4 {
		t.Fatalf("expected 4 outputs, got %d", len(outputs))
	}
	last := outputs[3]
	if len(last.Batch.Journals) != 1 {
		t.Errorf("deposit batch: want 1 journal, got %d", len(last.Batch.Journals))
	}
	if n := len(eventsOfType(outputs, event.EventTypeDeposit)); n != 1 {
		t.Errorf("want 1 Deposit event, got %d", n)
	}
	if n := len(eventsOfType(outputs, event.EventTypeUserDepositChange)); n != 1 {
		t.Errorf("want 1 UserDepositChange event, got %d", n)
	}
}

func TestRejectedCommand_LeavesNoTrace(t *testing.T) {
	c, persistChan, _ := newTestEngine(t)
	seed(t, c)
	drainOutputs(persistChan)

	seqBefore := c.GetSequence()
	hashBefore := c.GetStateHash()

	err := c.ProcessCommand(&event.DepositCmd{CommandMeta: meta("too-much", alice, 0), Amount: e18(5000)})
	if err == nil {
		t.Fatal("expected deposit above wallet balance to fail")
	}

	if c.GetSequence() != seqBefore || c.GetStateHash() != hashBefore {
		t.Error("rejected command advanced the sequence or hash chain")
	}
	if got := c.Balance(principalTok, alice); !got.Eq(e18(1000)) {
		t.Errorf("alice wallet changed: %s", got.Dec())
	}
	if outs := drainOutputs(persistChan); len(outs) != 0 {
		t.Errorf("rejected command produced %d outputs", len(outs))
	}

	// the nonce was not consumed
	mustProcess(t, c, &event.DepositCmd{CommandMeta: meta("ok", alice, 0), Amount: e18(10)})
}

// ============================================================================
// Idempotency & ordering
// ============================================================================

func TestIdempotency_DuplicateDeposit_Ignored(t *testing.T) {
	c, persistChan, _ := newTestEngine(t)
	seed(t, c)

	cmd := &event.DepositCmd{CommandMeta: meta("dep-dup", alice, 0), Amount: e18(100)}
	mustProcess(t, c, cmd)
	mustProcess(t, c, cmd)

	if got := c.Pool().BalanceOf(alice); !got.Eq(e18(100)) {
		t.Errorf("duplicate applied twice: balance %s", got.Dec())
	}
	if outs := drainOutputs(persistChan); len(outs) != 4 {
		t.Errorf("expected 4 outputs (3 mints + 1 deposit), got %d", len(outs))
	}
}

func TestSequenceValidation_GapDetected(t *testing.T) {
	c, _, _ := newTestEngine(t)
	seed(t, c)

	err := c.ProcessCommand(&event.DepositCmd{CommandMeta: meta("gap", alice, 2), Amount: e18(1)})
	if !errors.Is(err, core.ErrSequenceGap) {
		t.Fatalf("expected ErrSequenceGap, got %v", err)
	}
}

func TestCollateralRatioUpdate_StaleIgnored(t *testing.T) {
	c, persistChan, _ := newTestEngine(t)

	mustProcess(t, c, &event.CollateralRatioUpdate{CommandMeta: meta("r-5", oracle, 0), Ratio: e18(2), RatioSequence: 5})
	mustProcess(t, c, &event.CollateralRatioUpdate{CommandMeta: meta("r-3", oracle, 0), Ratio: e18(1), RatioSequence: 3})

	outs := drainOutputs(persistChan)
	if len(outs) != 1 {
		t.Fatalf("expected only the fresh update to apply, got %d outputs", len(outs))
	}
	upd := outs[0].Envelope.Events[0].(*event.CollateralRatioUpdated)
	if !upd.NewRatio.Eq(e18(2)) {
		t.Errorf("new ratio: want 2e18, got %s", upd.NewRatio.Dec())
	}
}

func TestCollateralRatioUpdate_RequiresOracle(t *testing.T) {
	c, _, _ := newTestEngine(t)
	err := c.ProcessCommand(&event.CollateralRatioUpdate{CommandMeta: meta("r-1", alice, 0), Ratio: e18(1), RatioSequence: 1})
	if !errors.Is(err, state.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

// ============================================================================
// Liquidation end to end
// ============================================================================

func TestLiquidation_CollateralClaimable(t *testing.T) {
	c, persistChan, _ := newTestEngine(t)
	seed(t, c)

	mustProcess(t, c, &event.DepositCmd{CommandMeta: meta("dep-a", alice, 0), Amount: e18(1000)})

	// healthy protocol: not liquidatable
	err := c.ProcessCommand(&event.LiquidateCmd{CommandMeta: meta("liq-early", keeper, 0), Amount: e18(500)})
	if !errors.Is(err, state.ErrCannotLiquidate) {
		t.Fatalf("expected ErrCannotLiquidate, got %v", err)
	}

	ratio := uint256.NewInt(1_100_000_000_000_000_000)
	mustProcess(t, c, &event.CollateralRatioUpdate{CommandMeta: meta("ratio-1", oracle, 0), Ratio: ratio, RatioSequence: 1})
	mustProcess(t, c, &event.LiquidateCmd{CommandMeta: meta("liq-1", keeper, 0), Amount: e18(500), MinCollateralOut: e18(500)})

	if got := c.Pool().TotalSupply(); !got.Eq(e18(500)) {
		t.Errorf("total supply: want 500e18, got %s", got.Dec())
	}
	if got := c.Pool().BalanceOf(alice); !got.Eq(e18(500)) {
		t.Errorf("alice stake: want 500e18, got %s", got.Dec())
	}
	if got := c.Balance(principalTok, poolAddr); !got.Eq(e18(500)) {
		t.Errorf("custody after burn: want 500e18, got %s", got.Dec())
	}

	mustProcess(t, c, &event.ClaimCmd{CommandMeta: meta("claim-a", alice, 1), Account: alice})
	if got := c.Balance(collTok, alice); !got.Eq(e18(500)) {
		t.Errorf("alice collateral: want 500e18, got %s", got.Dec())
	}

	outs := drainOutputs(persistChan)
	if n := len(eventsOfType(outs, event.EventTypeLiquidate)); n != 1 {
		t.Errorf("want 1 Liquidate event, got %d", n)
	}
	claims := eventsOfType(outs, event.EventTypeClaim)
	if len(claims) != 1 || !claims[0].(*event.Claim).Amount.Eq(e18(500)) {
		t.Errorf("unexpected claim events: %+v", claims)
	}
}

// ============================================================================
// Roles
// ============================================================================

func TestGrantRole_EmitsOnlyOnChange(t *testing.T) {
	c, persistChan, _ := newTestEngine(t)

	mustProcess(t, c, &event.GrantRoleCmd{CommandMeta: meta("g-1", admin, 0), Role: "liquidator", Account: bob})
	mustProcess(t, c, &event.GrantRoleCmd{CommandMeta: meta("g-2", admin, 1), Role: "liquidator", Account: bob})

	outs := drainOutputs(persistChan)
	if n := len(eventsOfType(outs, event.EventTypeRoleGranted)); n != 1 {
		t.Errorf("want 1 RoleGranted, got %d", n)
	}

	if err := c.ProcessCommand(&event.GrantRoleCmd{CommandMeta: meta("g-3", admin, 2), Role: "emperor", Account: bob}); err == nil {
		t.Error("expected unknown role to be rejected")
	}
	if err := c.ProcessCommand(&event.GrantRoleCmd{CommandMeta: meta("g-4", alice, 0), Role: "admin", Account: alice}); !errors.Is(err, state.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestUpdateWrapper_UnknownRejected(t *testing.T) {
	c, _, _ := newTestEngine(t)
	err := c.ProcessCommand(&event.UpdateWrapperCmd{CommandMeta: meta("w-1", admin, 0), Wrapper: common.HexToAddress("0x3a90")})
	if !errors.Is(err, core.ErrUnknownWrapper) {
		t.Fatalf("expected ErrUnknownWrapper, got %v", err)
	}
}

// ============================================================================
// Hash chain & snapshots
// ============================================================================

func TestStateHashChain_Deterministic(t *testing.T) {
	run := func() []core.CoreOutput {
		c, persistChan, _ := newTestEngine(t)
		seed(t, c)
		mustProcess(t, c, &event.DepositCmd{CommandMeta: meta("dep-a", alice, 0), Amount: e18(300)})
		mustProcess(t, c, &event.DepositCmd{CommandMeta: meta("dep-b", bob, 0), Amount: e18(700)})
		return drainOutputs(persistChan)
	}

	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("output count differs: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Envelope.StateHash != b[i].Envelope.StateHash {
			t.Errorf("state hash differs at %d", i)
		}
	}

	if a[0].Envelope.PrevHash != core.GenesisHash() {
		t.Error("first envelope should chain from genesis")
	}
	for i := 1; i < len(a); i++ {
		if a[i].Envelope.PrevHash != a[i-1].Envelope.StateHash {
			t.Errorf("chain broken at %d", i)
		}
		if a[i].Envelope.Sequence != a[i-1].Envelope.Sequence+1 {
			t.Errorf("sequence not contiguous at %d", i)
		}
	}
}

func TestSnapshotRestore_ContinuesChain(t *testing.T) {
	c, persistChan, _ := newTestEngine(t)
	seed(t, c)
	mustProcess(t, c, &event.DepositCmd{CommandMeta: meta("dep-a", alice, 0), Amount: e18(300)})
	drainOutputs(persistChan)

	snap := c.CreateSnapshotState()

	restored, restoredPersist, _ := newTestEngine(t)
	if err := restored.RestoreFromSnapshot(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.GetSequence() != c.GetSequence() || restored.GetStateHash() != c.GetStateHash() {
		t.Fatal("restored engine not at the same chain position")
	}

	next := &event.DepositCmd{CommandMeta: meta("dep-a2", alice, 1), Amount: e18(50)}
	mustProcess(t, c, next)
	mustProcess(t, restored, next)

	if c.GetStateHash() != restored.GetStateHash() {
		t.Error("state hash diverged after restore")
	}
	if got := restored.Pool().BalanceOf(alice); !got.Eq(e18(350)) {
		t.Errorf("restored stake: want 350e18, got %s", got.Dec())
	}

	// dedup keys travel with the snapshot
	mustProcess(t, restored, &event.DepositCmd{CommandMeta: meta("dep-a", alice, 0), Amount: e18(300)})
	if outs := drainOutputs(restoredPersist); len(outs) != 1 {
		t.Errorf("expected only dep-a2 to be applied after restore, got %d outputs", len(outs))
	}
}

func TestProjectionChannel_DropsOnFull(t *testing.T) {
	persistChan := make(chan core.CoreOutput, 16)
	projChan := make(chan core.CoreOutput, 1)
	c, err := core.NewEngine(testConfig(), 0, persistChan, projChan, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	seed(t, c)

	if n := len(drainOutputs(persistChan)); n != 3 {
		t.Errorf("persist must receive every output: got %d", n)
	}
	if n := len(drainOutputs(projChan)); n != 1 {
		t.Errorf("projection should hold 1 (rest dropped), got %d", n)
	}
}

// ============================================================================
// Replay
// ============================================================================

func TestReplay_RebuildsIdenticalState(t *testing.T) {
	c, persistChan, _ := newTestEngine(t)
	seed(t, c)
	mustProcess(t, c, &event.DepositCmd{CommandMeta: meta("dep-a", alice, 0), Amount: e18(1000)})
	mustProcess(t, c, &event.CollateralRatioUpdate{CommandMeta: meta("ratio-1", oracle, 0), Ratio: uint256.NewInt(1_100_000_000_000_000_000), RatioSequence: 1})
	mustProcess(t, c, &event.LiquidateCmd{CommandMeta: meta("liq-1", keeper, 0), Amount: e18(250)})
	logged := drainOutputs(persistChan)

	replica, replicaPersist, _ := newTestEngine(t)
	for _, out := range logged {
		cmd, err := event.DecodeCommand(out.Envelope.CommandType.String(), out.Envelope.Payload)
		if err != nil {
			t.Fatalf("decode seq %d: %v", out.Envelope.Sequence, err)
		}
		if err := replica.ReplayCommand(cmd, out.Envelope.Sequence, out.Envelope.StateHash); err != nil {
			t.Fatalf("replay: %v", err)
		}
	}

	if replica.GetStateHash() != c.GetStateHash() {
		t.Error("replica hash differs from source")
	}
	if !replica.Pool().BalanceOf(alice).Eq(c.Pool().BalanceOf(alice)) {
		t.Error("replica stake differs from source")
	}
	if n := len(drainOutputs(replicaPersist)); n != 0 {
		t.Errorf("replay must not re-persist, got %d outputs", n)
	}
}

func TestReplay_DetectsDivergence(t *testing.T) {
	c, persistChan, _ := newTestEngine(t)
	seed(t, c)
	logged := drainOutputs(persistChan)

	replica, _, _ := newTestEngine(t)
	first := logged[0]
	cmd, err := event.DecodeCommand(first.Envelope.CommandType.String(), first.Envelope.Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	var forged [32]byte
	forged[0] = 0xff
	err = replica.ReplayCommand(cmd, first.Envelope.Sequence, forged)
	if !errors.Is(err, core.ErrReplayDiverged) {
		t.Fatalf("expected ErrReplayDiverged, got %v", err)
	}

	if err := replica.ReplayCommand(cmd, first.Envelope.Sequence+5, first.Envelope.StateHash); !errors.Is(err, core.ErrReplayDiverged) {
		t.Fatalf("out-of-place replay: expected ErrReplayDiverged, got %v", err)
	}
}

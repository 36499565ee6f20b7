package ingestion_test

import (
	"RebalancePool/internal/event"
	"RebalancePool/internal/ingestion"
	"RebalancePool/internal/ledger"
	fpmath "RebalancePool/internal/math"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	principalAddr  = common.HexToAddress("0xf000")
	collateralAddr = common.HexToAddress("0xc000")
	rewardAddr     = common.HexToAddress("0xe000")
	alice          = common.HexToAddress("0x0000000000000000000000000000000000000001")
)

func newTestParser(t *testing.T) *ingestion.Parser {
	t.Helper()
	reg := ledger.NewTokenRegistry()
	for _, info := range []ledger.TokenInfo{
		{Symbol: "fUSD", Address: principalAddr, Decimals: 18},
		{Symbol: "wstETH", Address: collateralAddr, Decimals: 18},
		{Symbol: "USDC", Address: rewardAddr, Decimals: 6},
	} {
		if err := reg.Register(info); err != nil {
			t.Fatalf("register %s: %v", info.Symbol, err)
		}
	}
	p, err := ingestion.NewParser(reg, principalAddr, collateralAddr)
	if err != nil {
		t.Fatalf("new parser: %v", err)
	}
	return p
}

func payload(t *testing.T, fields map[string]interface{}) []byte {
	t.Helper()
	v := map[string]interface{}{
		"idempotency_key": "cmd-1",
		"sender":          alice.Hex(),
		"nonce":           int64(7),
		"timestamp_us":    int64(1700000000000000),
	}
	for k, f := range fields {
		v[k] = f
	}
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestParseDeposit(t *testing.T) {
	p := newTestParser(t)

	cmd, err := p.Parse("Deposit", payload(t, map[string]interface{}{
		"amount":   "1500.5",
		"receiver": "0x0000000000000000000000000000000000000002",
	}))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	dep, ok := cmd.(*event.DepositCmd)
	if !ok {
		t.Fatalf("expected *event.DepositCmd, got %T", cmd)
	}
	want := uint256.MustFromDecimal("1500500000000000000000")
	if !dep.Amount.Eq(want) {
		t.Errorf("amount: got %s, want %s", dep.Amount.Dec(), want.Dec())
	}
	if dep.Receiver != common.HexToAddress("0x2") {
		t.Errorf("receiver: got %s", dep.Receiver.Hex())
	}
	if dep.Sender() != alice {
		t.Errorf("sender: got %s, want %s", dep.Sender().Hex(), alice.Hex())
	}
	if dep.SourceSequence() != 7 {
		t.Errorf("nonce: got %d, want 7", dep.SourceSequence())
	}
	if !dep.Timestamp().Equal(time.UnixMicro(1700000000000000)) {
		t.Errorf("timestamp: got %v", dep.Timestamp())
	}
	if dep.IdempotencyKey() != "cmd-1" {
		t.Errorf("key: got %s", dep.IdempotencyKey())
	}
}

func TestParseDepositRewardUsesTokenDecimals(t *testing.T) {
	p := newTestParser(t)

	cmd, err := p.Parse("DepositReward", payload(t, map[string]interface{}{
		"token":  "USDC",
		"amount": "25",
	}))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	dr := cmd.(*event.DepositRewardCmd)
	if dr.Token != rewardAddr {
		t.Errorf("token: got %s", dr.Token.Hex())
	}
	if dr.Amount.Uint64() != 25_000_000 {
		t.Errorf("amount: got %s, want 25000000", dr.Amount.Dec())
	}
}

func TestParseUnlockMax(t *testing.T) {
	p := newTestParser(t)

	cmd, err := p.Parse("Unlock", payload(t, map[string]interface{}{"amount": "max"}))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !fpmath.IsMax(cmd.(*event.UnlockCmd).Amount) {
		t.Errorf("max should map to the full uint256 range")
	}
}

func TestParseLiquidate(t *testing.T) {
	p := newTestParser(t)

	cmd, err := p.Parse("Liquidate", payload(t, map[string]interface{}{
		"amount":             "1000",
		"min_collateral_out": "0.3",
	}))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	liq := cmd.(*event.LiquidateCmd)
	if liq.Amount.Cmp(uint256.MustFromDecimal("1000000000000000000000")) != 0 {
		t.Errorf("amount: got %s", liq.Amount.Dec())
	}
	if liq.MinCollateralOut.Uint64() != 300_000_000_000_000_000 {
		t.Errorf("min out: got %s", liq.MinCollateralOut.Dec())
	}

	// min_collateral_out is optional
	cmd, err = p.Parse("Liquidate", payload(t, map[string]interface{}{"amount": "1"}))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !cmd.(*event.LiquidateCmd).MinCollateralOut.IsZero() {
		t.Errorf("default min out should be zero")
	}
}

func TestParseCollateralRatioUpdate(t *testing.T) {
	p := newTestParser(t)

	cmd, err := p.Parse("CollateralRatioUpdate", payload(t, map[string]interface{}{
		"ratio":          "1.25",
		"ratio_sequence": int64(42),
	}))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	upd := cmd.(*event.CollateralRatioUpdate)
	if upd.Ratio.Uint64() != 1_250_000_000_000_000_000 {
		t.Errorf("ratio: got %s", upd.Ratio.Dec())
	}
	if upd.RatioSequence != 42 {
		t.Errorf("ratio_sequence: got %d, want 42", upd.RatioSequence)
	}
}

func TestParseClaimDefaultsAccountToSender(t *testing.T) {
	p := newTestParser(t)

	cmd, err := p.Parse("Claim", payload(t, nil))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	c := cmd.(*event.ClaimCmd)
	if c.Account != alice {
		t.Errorf("account: got %s, want sender", c.Account.Hex())
	}
	if c.Receiver != (common.Address{}) {
		t.Errorf("receiver should stay zero, got %s", c.Receiver.Hex())
	}
}

func TestParseBatchClaim(t *testing.T) {
	p := newTestParser(t)

	cmd, err := p.Parse("BatchClaim", payload(t, map[string]interface{}{
		"accounts":  []string{"0x0000000000000000000000000000000000000001", "0x0000000000000000000000000000000000000002"},
		"receivers": []string{"", "0x0000000000000000000000000000000000000003"},
	}))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	bc := cmd.(*event.BatchClaimCmd)
	if len(bc.Accounts) != 2 || len(bc.Receivers) != 2 {
		t.Fatalf("lengths: %d accounts, %d receivers", len(bc.Accounts), len(bc.Receivers))
	}
	if bc.Receivers[0] != (common.Address{}) {
		t.Errorf("empty receiver should decode to zero address")
	}
}

func TestParseAdminCommands(t *testing.T) {
	p := newTestParser(t)

	cmd, err := p.Parse("UpdateUnlockDuration", payload(t, map[string]interface{}{"duration": "72h"}))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if d := cmd.(*event.UpdateUnlockDurationCmd).Duration; d != 72*time.Hour {
		t.Errorf("duration: got %v", d)
	}

	cmd, err = p.Parse("AddReward", payload(t, map[string]interface{}{
		"token":         rewardAddr.Hex(),
		"manager":       alice.Hex(),
		"period_length": "168h",
	}))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	ar := cmd.(*event.AddRewardCmd)
	if ar.Token != rewardAddr || ar.Manager != alice || ar.PeriodLength != 168*time.Hour {
		t.Errorf("unexpected add reward: %+v", ar)
	}

	cmd, err = p.Parse("GrantRole", payload(t, map[string]interface{}{
		"role":    "liquidator",
		"account": alice.Hex(),
	}))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if g := cmd.(*event.GrantRoleCmd); g.Role != "liquidator" || g.Account != alice {
		t.Errorf("unexpected grant: %+v", g)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	p := newTestParser(t)

	cases := []struct {
		name        string
		commandType string
		data        []byte
	}{
		{"unknown type", "Explode", payload(t, nil)},
		{"bad json", "Deposit", []byte("{not json")},
		{"missing key", "Deposit", payload(t, map[string]interface{}{"idempotency_key": "", "amount": "1"})},
		{"missing sender", "Deposit", payload(t, map[string]interface{}{"sender": "", "amount": "1"})},
		{"bad sender", "Deposit", payload(t, map[string]interface{}{"sender": "alice", "amount": "1"})},
		{"missing timestamp", "Deposit", payload(t, map[string]interface{}{"timestamp_us": 0, "amount": "1"})},
		{"missing amount", "Deposit", payload(t, nil)},
		{"negative amount", "Deposit", payload(t, map[string]interface{}{"amount": "-1"})},
		{"huge exponent", "Deposit", payload(t, map[string]interface{}{"amount": "1e100000000"})},
		{"huge negative exponent", "Unlock", payload(t, map[string]interface{}{"amount": "1e-100000000"})},
		{"too many decimals", "DepositReward", payload(t, map[string]interface{}{"token": "USDC", "amount": "0.0000001"})},
		{"unknown token", "DepositReward", payload(t, map[string]interface{}{"token": "DOGE", "amount": "1"})},
		{"bad duration", "UpdateUnlockDuration", payload(t, map[string]interface{}{"duration": "soon"})},
		{"bad ratio", "CollateralRatioUpdate", payload(t, map[string]interface{}{"ratio": "x"})},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Parse(tc.commandType, tc.data)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ingestion.ErrInvalidCommand) {
				t.Errorf("expected ErrInvalidCommand, got %v", err)
			}
		})
	}
}

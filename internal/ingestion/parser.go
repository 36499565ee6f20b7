package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"RebalancePool/internal/event"
	"RebalancePool/internal/ledger"
	fpmath "RebalancePool/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrInvalidCommand marks payloads that can never succeed; they are acked and dropped.
var ErrInvalidCommand = errors.New("ingestion: invalid command")

// Parser converts wire payloads into typed commands. Amounts are human decimal
// strings scaled by the token's decimals; ratios are decimals scaled to 1e18.
type Parser struct {
	tokens     *ledger.TokenRegistry
	principal  ledger.TokenInfo
	collateral ledger.TokenInfo
}

func NewParser(tokens *ledger.TokenRegistry, principal, collateral common.Address) (*Parser, error) {
	p, ok := tokens.ByAddress(principal)
	if !ok {
		return nil, fmt.Errorf("principal token %s not registered", principal.Hex())
	}
	c, ok := tokens.ByAddress(collateral)
	if !ok {
		return nil, fmt.Errorf("collateral token %s not registered", collateral.Hex())
	}
	return &Parser{tokens: tokens, principal: p, collateral: c}, nil
}

// ParseRaw parses a message using the command type of its subject.
func (p *Parser) ParseRaw(raw RawCommand) (event.Command, error) {
	return p.Parse(raw.CommandType, raw.Data)
}

// Parse converts one JSON payload of the given command type.
func (p *Parser) Parse(commandType string, data []byte) (event.Command, error) {
	ct, ok := event.ParseCommandType(commandType)
	if !ok {
		return nil, fmt.Errorf("%w: unknown command type %q", ErrInvalidCommand, commandType)
	}

	cmd, err := p.parse(ct, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCommand, commandType, err)
	}
	return cmd, nil
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

type headerJSON struct {
	IdempotencyKey string `json:"idempotency_key"`
	Sender         string `json:"sender"`
	Nonce          int64  `json:"nonce"`
	TimestampUs    int64  `json:"timestamp_us"`
}

func (h headerJSON) meta() (event.CommandMeta, error) {
	if strings.TrimSpace(h.IdempotencyKey) == "" {
		return event.CommandMeta{}, fmt.Errorf("idempotency_key is required")
	}
	sender, err := parseAddress("sender", h.Sender, true)
	if err != nil {
		return event.CommandMeta{}, err
	}
	if h.Nonce < 0 {
		return event.CommandMeta{}, fmt.Errorf("nonce must not be negative")
	}
	if h.TimestampUs <= 0 {
		return event.CommandMeta{}, fmt.Errorf("timestamp_us is required")
	}
	return event.CommandMeta{
		Key:   h.IdempotencyKey,
		From:  sender,
		Nonce: h.Nonce,
		At:    time.UnixMicro(h.TimestampUs).UTC(),
	}, nil
}

type mintJSON struct {
	headerJSON
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type amountReceiverJSON struct {
	headerJSON
	Amount   string `json:"amount"`
	Receiver string `json:"receiver"`
}

type withdrawUnlockedJSON struct {
	headerJSON
	DoClaim  bool   `json:"do_claim"`
	Receiver string `json:"receiver"`
}

type claimJSON struct {
	headerJSON
	Account  string `json:"account"`
	Receiver string `json:"receiver"`
}

type batchClaimJSON struct {
	headerJSON
	Accounts  []string `json:"accounts"`
	Receivers []string `json:"receivers"`
}

type liquidateJSON struct {
	headerJSON
	Amount           string `json:"amount"`
	MinCollateralOut string `json:"min_collateral_out"`
}

type tokenAmountJSON struct {
	headerJSON
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type ratioJSON struct {
	headerJSON
	Ratio         string `json:"ratio"`
	RatioSequence int64  `json:"ratio_sequence"`
}

type durationJSON struct {
	headerJSON
	Duration string `json:"duration"`
}

type wrapperJSON struct {
	headerJSON
	Wrapper string `json:"wrapper"`
}

type rewardJSON struct {
	headerJSON
	Token        string `json:"token"`
	Manager      string `json:"manager"`
	PeriodLength string `json:"period_length"`
}

type roleJSON struct {
	headerJSON
	Role    string `json:"role"`
	Account string `json:"account"`
}

func decode[T any](data []byte) (T, event.CommandMeta, error) {
	var j T
	if err := json.Unmarshal(data, &j); err != nil {
		return j, event.CommandMeta{}, err
	}
	var h headerJSON
	if err := json.Unmarshal(data, &h); err != nil {
		return j, event.CommandMeta{}, err
	}
	meta, err := h.meta()
	return j, meta, err
}

func (p *Parser) parse(ct event.CommandType, data []byte) (event.Command, error) {
	switch ct {
	case event.CommandTypeMint:
		j, meta, err := decode[mintJSON](data)
		if err != nil {
			return nil, err
		}
		token, err := p.token(j.Token)
		if err != nil {
			return nil, err
		}
		to, err := parseAddress("to", j.To, true)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount("amount", j.Amount, token.Decimals)
		if err != nil {
			return nil, err
		}
		return &event.MintCmd{CommandMeta: meta, Token: token.Address, To: to, Amount: amount}, nil

	case event.CommandTypeDeposit, event.CommandTypeWithdraw:
		j, meta, err := decode[amountReceiverJSON](data)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount("amount", j.Amount, p.principal.Decimals)
		if err != nil {
			return nil, err
		}
		receiver, err := parseAddress("receiver", j.Receiver, false)
		if err != nil {
			return nil, err
		}
		if ct == event.CommandTypeDeposit {
			return &event.DepositCmd{CommandMeta: meta, Amount: amount, Receiver: receiver}, nil
		}
		return &event.WithdrawCmd{CommandMeta: meta, Amount: amount, Receiver: receiver}, nil

	case event.CommandTypeUnlock:
		j, meta, err := decode[amountReceiverJSON](data)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount("amount", j.Amount, p.principal.Decimals)
		if err != nil {
			return nil, err
		}
		return &event.UnlockCmd{CommandMeta: meta, Amount: amount}, nil

	case event.CommandTypeWithdrawUnlocked:
		j, meta, err := decode[withdrawUnlockedJSON](data)
		if err != nil {
			return nil, err
		}
		receiver, err := parseAddress("receiver", j.Receiver, false)
		if err != nil {
			return nil, err
		}
		return &event.WithdrawUnlockedCmd{CommandMeta: meta, DoClaim: j.DoClaim, Receiver: receiver}, nil

	case event.CommandTypeClaim:
		j, meta, err := decode[claimJSON](data)
		if err != nil {
			return nil, err
		}
		account, err := parseAddress("account", j.Account, false)
		if err != nil {
			return nil, err
		}
		if account == (common.Address{}) {
			account = meta.From
		}
		receiver, err := parseAddress("receiver", j.Receiver, false)
		if err != nil {
			return nil, err
		}
		return &event.ClaimCmd{CommandMeta: meta, Account: account, Receiver: receiver}, nil

	case event.CommandTypeBatchClaim:
		j, meta, err := decode[batchClaimJSON](data)
		if err != nil {
			return nil, err
		}
		accounts, err := parseAddresses("accounts", j.Accounts, true)
		if err != nil {
			return nil, err
		}
		receivers, err := parseAddresses("receivers", j.Receivers, false)
		if err != nil {
			return nil, err
		}
		return &event.BatchClaimCmd{CommandMeta: meta, Accounts: accounts, Receivers: receivers}, nil

	case event.CommandTypeCheckpoint:
		j, meta, err := decode[claimJSON](data)
		if err != nil {
			return nil, err
		}
		account, err := parseAddress("account", j.Account, true)
		if err != nil {
			return nil, err
		}
		return &event.CheckpointCmd{CommandMeta: meta, Account: account}, nil

	case event.CommandTypeSetRewardReceiver:
		j, meta, err := decode[claimJSON](data)
		if err != nil {
			return nil, err
		}
		receiver, err := parseAddress("receiver", j.Receiver, false)
		if err != nil {
			return nil, err
		}
		return &event.SetRewardReceiverCmd{CommandMeta: meta, Receiver: receiver}, nil

	case event.CommandTypeLiquidate:
		j, meta, err := decode[liquidateJSON](data)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount("amount", j.Amount, p.principal.Decimals)
		if err != nil {
			return nil, err
		}
		minOut := new(uint256.Int)
		if j.MinCollateralOut != "" {
			if minOut, err = parseAmount("min_collateral_out", j.MinCollateralOut, p.collateral.Decimals); err != nil {
				return nil, err
			}
		}
		return &event.LiquidateCmd{CommandMeta: meta, Amount: amount, MinCollateralOut: minOut}, nil

	case event.CommandTypeDepositReward:
		j, meta, err := decode[tokenAmountJSON](data)
		if err != nil {
			return nil, err
		}
		token, err := p.token(j.Token)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount("amount", j.Amount, token.Decimals)
		if err != nil {
			return nil, err
		}
		return &event.DepositRewardCmd{CommandMeta: meta, Token: token.Address, Amount: amount}, nil

	case event.CommandTypeCollateralRatioUpdate, event.CommandTypeUpdateLiquidatableCollateralRatio:
		j, meta, err := decode[ratioJSON](data)
		if err != nil {
			return nil, err
		}
		ratio, err := fpmath.ParseRatio(j.Ratio)
		if err != nil {
			return nil, fmt.Errorf("ratio: %w", err)
		}
		if ct == event.CommandTypeCollateralRatioUpdate {
			return &event.CollateralRatioUpdate{CommandMeta: meta, Ratio: ratio, RatioSequence: j.RatioSequence}, nil
		}
		return &event.UpdateLiquidatableCollateralRatioCmd{CommandMeta: meta, Ratio: ratio}, nil

	case event.CommandTypeUpdateUnlockDuration:
		j, meta, err := decode[durationJSON](data)
		if err != nil {
			return nil, err
		}
		d, err := time.ParseDuration(j.Duration)
		if err != nil {
			return nil, fmt.Errorf("duration: %w", err)
		}
		return &event.UpdateUnlockDurationCmd{CommandMeta: meta, Duration: d}, nil

	case event.CommandTypeUpdateWrapper:
		j, meta, err := decode[wrapperJSON](data)
		if err != nil {
			return nil, err
		}
		wrapper, err := parseAddress("wrapper", j.Wrapper, false)
		if err != nil {
			return nil, err
		}
		return &event.UpdateWrapperCmd{CommandMeta: meta, Wrapper: wrapper}, nil

	case event.CommandTypeAddReward, event.CommandTypeUpdateReward:
		j, meta, err := decode[rewardJSON](data)
		if err != nil {
			return nil, err
		}
		token, err := p.token(j.Token)
		if err != nil {
			return nil, err
		}
		manager, err := parseAddress("manager", j.Manager, false)
		if err != nil {
			return nil, err
		}
		var period time.Duration
		if j.PeriodLength != "" {
			if period, err = time.ParseDuration(j.PeriodLength); err != nil {
				return nil, fmt.Errorf("period_length: %w", err)
			}
		}
		if ct == event.CommandTypeAddReward {
			return &event.AddRewardCmd{CommandMeta: meta, Token: token.Address, Manager: manager, PeriodLength: period}, nil
		}
		return &event.UpdateRewardCmd{CommandMeta: meta, Token: token.Address, Manager: manager, PeriodLength: period}, nil

	case event.CommandTypeRemoveReward:
		j, meta, err := decode[tokenAmountJSON](data)
		if err != nil {
			return nil, err
		}
		token, err := p.token(j.Token)
		if err != nil {
			return nil, err
		}
		return &event.RemoveRewardCmd{CommandMeta: meta, Token: token.Address}, nil

	case event.CommandTypeGrantRole, event.CommandTypeRevokeRole:
		j, meta, err := decode[roleJSON](data)
		if err != nil {
			return nil, err
		}
		account, err := parseAddress("account", j.Account, true)
		if err != nil {
			return nil, err
		}
		if ct == event.CommandTypeGrantRole {
			return &event.GrantRoleCmd{CommandMeta: meta, Role: j.Role, Account: account}, nil
		}
		return &event.RevokeRoleCmd{CommandMeta: meta, Role: j.Role, Account: account}, nil
	}
	return nil, fmt.Errorf("no parser for %s", ct)
}

// token resolves a symbol or hex address against the registry.
func (p *Parser) token(s string) (ledger.TokenInfo, error) {
	info, ok := p.tokens.Resolve(s)
	if !ok {
		return ledger.TokenInfo{}, fmt.Errorf("unknown token %q", s)
	}
	return info, nil
}

func parseAddress(field, s string, required bool) (common.Address, error) {
	if s == "" {
		if required {
			return common.Address{}, fmt.Errorf("%s is required", field)
		}
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, s)
	}
	return common.HexToAddress(s), nil
}

func parseAddresses(field string, ss []string, required bool) ([]common.Address, error) {
	out := make([]common.Address, len(ss))
	for i, s := range ss {
		addr, err := parseAddress(fmt.Sprintf("%s[%d]", field, i), s, required)
		if err != nil {
			return nil, err
		}
		out[i] = addr
	}
	return out, nil
}

// parseAmount accepts a decimal string, or "max" for the whole balance.
func parseAmount(field, s string, decimals int32) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	if strings.EqualFold(s, "max") {
		return fpmath.MaxUint256(), nil
	}
	v, err := fpmath.ParseUnits(s, decimals)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}

package query

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	fpmath "RebalancePool/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BalanceResponse is a holder's ledger balance of one token.
type BalanceResponse struct {
	Token        string `json:"token"`
	Symbol       string `json:"symbol,omitempty"`
	Holder       string `json:"holder"`
	Balance      string `json:"balance"`
	Formatted    string `json:"formatted"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// GetTokenBalance returns holder's projected balance. token may be a symbol
// or an address; unknown holders have a zero balance.
func (qs *QueryService) GetTokenBalance(ctx context.Context, token string, holder common.Address) (*BalanceResponse, error) {
	info, ok := qs.tokens.Resolve(token)
	if !ok {
		return nil, ErrUnknownToken
	}

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var raw string
	err = qs.db.QueryRowContext(ctx, `
		SELECT balance::text FROM projection.token_balances
		WHERE token = $1 AND holder = $2
	`, lowerHex(info.Address), lowerHex(holder)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		raw = "0"
	} else if err != nil {
		return nil, err
	}

	bal, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, err
	}

	return &BalanceResponse{
		Token:        lowerHex(info.Address),
		Symbol:       info.Symbol,
		Holder:       lowerHex(holder),
		Balance:      bal.Dec(),
		Formatted:    fpmath.FormatUnits(bal, info.Decimals),
		AsOfSequence: asOfSeq,
	}, nil
}

func lowerHex(a common.Address) string {
	return strings.ToLower(a.Hex())
}

package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"RebalancePool/internal/ledger"
	fpmath "RebalancePool/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrNotFound     = errors.New("query: not found")
	ErrUnknownToken = errors.New("query: unknown token")
)

const maxPageSize = 500

// QueryService provides read-only access to projection tables. All responses
// include as_of_sequence for freshness semantics.
type QueryService struct {
	db        *sql.DB
	tokens    *ledger.TokenRegistry
	principal ledger.TokenInfo
}

func NewQueryService(db *sql.DB, tokens *ledger.TokenRegistry, principal common.Address) (*QueryService, error) {
	info, ok := tokens.ByAddress(principal)
	if !ok {
		return nil, fmt.Errorf("principal token %s not registered", principal.Hex())
	}
	return &QueryService{db: db, tokens: tokens, principal: info}, nil
}

// GetPool returns the pool's global state as of the last projected command.
func (qs *QueryService) GetPool(ctx context.Context) (*PoolResponse, error) {
	var (
		p       PoolResponse
		ratio   sql.NullString
		liqRat  sql.NullString
		unlockS sql.NullInt64
		wrapper sql.NullString
	)
	err := qs.db.QueryRowContext(ctx, `
		SELECT epoch, scale, product::text, total_supply::text, total_unlocking::text,
		       collateral_ratio::text, liquidatable_collateral_ratio::text,
		       unlock_duration_seconds, wrapper, last_sequence
		FROM projection.pool_state WHERE id = 1
	`).Scan(&p.Epoch, &p.Scale, &p.Product, &p.TotalSupply, &p.TotalUnlocking,
		&ratio, &liqRat, &unlockS, &wrapper, &p.AsOfSequence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.CollateralRatio = ratio.String
	p.LiquidatableCollateralRatio = liqRat.String
	p.UnlockDurationSeconds = unlockS.Int64
	p.Wrapper = wrapper.String
	p.TotalSupplyFormatted = qs.formatPrincipal(p.TotalSupply)
	p.Liquidatable = lessThan(p.CollateralRatio, p.LiquidatableCollateralRatio)
	return &p, nil
}

// GetAccount returns a depositor's projected position.
func (qs *QueryService) GetAccount(ctx context.Context, addr common.Address) (*AccountResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var (
		a        AccountResponse
		unlockAt sql.NullTime
		receiver sql.NullString
	)
	err = qs.db.QueryRowContext(ctx, `
		SELECT address, locked_balance::text, unlocking::text, unlock_at, reward_receiver, last_sequence
		FROM projection.accounts WHERE address = $1
	`, lowerHex(addr)).Scan(&a.Address, &a.Locked, &a.Unlocking, &unlockAt, &receiver, &a.LastSequence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if unlockAt.Valid {
		t := unlockAt.Time.UTC()
		a.UnlockAt = &t
	}
	a.RewardReceiver = receiver.String
	a.LockedFormatted = qs.formatPrincipal(a.Locked)
	a.AsOfSequence = asOfSeq
	return &a, nil
}

// ListLiquidations returns liquidations newest first. beforeSeq is an
// exclusive cursor.
func (qs *QueryService) ListLiquidations(ctx context.Context, limit int, beforeSeq *int64) ([]LiquidationResponse, error) {
	query := `
		SELECT sequence, liquidated::text, collateral::text, epoch, scale, product::text, timestamp
		FROM projection.liquidations
	`
	args := []interface{}{}
	if beforeSeq != nil {
		query += " WHERE sequence < $1"
		args = append(args, *beforeSeq)
	}
	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", len(args)+1)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LiquidationResponse
	for rows.Next() {
		var l LiquidationResponse
		if err := rows.Scan(&l.Sequence, &l.Liquidated, &l.Collateral, &l.Epoch, &l.Scale, &l.Product, &l.Timestamp); err != nil {
			return nil, err
		}
		l.Timestamp = l.Timestamp.UTC()
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListClaims returns an account's reward payouts newest first.
func (qs *QueryService) ListClaims(ctx context.Context, account common.Address, limit int, beforeSeq *int64) ([]ClaimResponse, error) {
	query := `
		SELECT sequence, account, receiver, token, amount::text, timestamp
		FROM projection.claims
		WHERE account = $1
	`
	args := []interface{}{lowerHex(account)}
	if beforeSeq != nil {
		query += " AND sequence < $2"
		args = append(args, *beforeSeq)
	}
	query += fmt.Sprintf(" ORDER BY sequence DESC, idx DESC LIMIT $%d", len(args)+1)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ClaimResponse
	for rows.Next() {
		var c ClaimResponse
		if err := rows.Scan(&c.Sequence, &c.Account, &c.Receiver, &c.Token, &c.Amount, &c.Timestamp); err != nil {
			return nil, err
		}
		c.Timestamp = c.Timestamp.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetJournalHistory returns the journal entries touching holder.
func (qs *QueryService) GetJournalHistory(ctx context.Context, holder common.Address, limit int, beforeSeq *int64) ([]JournalHistoryEntry, error) {
	prefix := "holder:" + lowerHex(holder) + ":%"

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, token, amount::text, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{prefix}
	if beforeSeq != nil {
		query += " AND sequence < $2"
		args = append(args, *beforeSeq)
	}
	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", len(args)+1)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Token, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity of the command log and that
// projected holder balances add up to each token's net issuance.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT c1.sequence
		FROM event_log.commands c1
		JOIN event_log.commands c2 ON c2.sequence = c1.sequence - 1
		WHERE c1.prev_hash <> c2.state_hash
		ORDER BY c1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		WITH issued AS (
			SELECT token,
			       SUM(CASE journal_type WHEN 'mint' THEN amount WHEN 'burn' THEN -amount ELSE 0 END) AS net
			FROM event_log.journal
			GROUP BY token
		), held AS (
			SELECT token, SUM(balance) AS total FROM projection.token_balances GROUP BY token
		)
		SELECT i.token, (COALESCE(h.total, 0) - i.net)::text
		FROM issued i LEFT JOIN held h USING (token)
		WHERE COALESCE(h.total, 0) <> i.net
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var u UnbalancedToken
		if err := balanceRows.Scan(&u.Token, &u.Imbalance); err != nil {
			return nil, err
		}
		report.UnbalancedTokens = append(report.UnbalancedTokens, u)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedTokens) == 0
	return report, nil
}

// Watermark returns the last sequence the projection applied, -1 if none.
func (qs *QueryService) Watermark(ctx context.Context) (int64, time.Time, error) {
	var (
		seq int64
		at  time.Time
	)
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence, updated_at FROM projection.watermarks WHERE projection = 'pool'
	`).Scan(&seq, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, time.Time{}, nil
	}
	return seq, at, err
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	seq, _, err := qs.Watermark(ctx)
	return seq, err
}

func (qs *QueryService) formatPrincipal(raw string) string {
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return raw
	}
	return fpmath.FormatUnits(v, qs.principal.Decimals)
}

// lessThan compares two base-10 strings; unparsable input is never less.
func lessThan(a, b string) bool {
	x, err := uint256.FromDecimal(a)
	if err != nil {
		return false
	}
	y, err := uint256.FromDecimal(b)
	if err != nil {
		return false
	}
	return x.Lt(y)
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

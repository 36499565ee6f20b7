package projection

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"RebalancePool/internal/core"
	"RebalancePool/internal/event"
	"RebalancePool/internal/ledger"
	"RebalancePool/internal/observability"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// Name is the watermark key of the pool projection.
const Name = "pool"

// ProjectionWorker updates read-model tables from applied commands. It is fed
// through a non-blocking channel, so it can fall behind or miss outputs;
// RebuildProjections restores it from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	lastSeq   int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		lastSeq:   -1,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run applies outputs until ctx is cancelled or the input closes.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			seq := output.Envelope.Sequence
			if pw.lastSeq >= 0 && seq != pw.lastSeq+1 {
				pw.logger.Warn().Int64("expected", pw.lastSeq+1).Int64("got", seq).Msg("projection missed outputs")
			}

			start := time.Now()
			if err := pw.Apply(ctx, output); err != nil {
				pw.logger.Warn().Err(err).Int64("sequence", seq).Msg("projection update failed")
				if pw.metrics != nil {
					pw.metrics.ProjectionDrops.WithLabelValues(Name).Inc()
				}
				continue
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues(Name).Observe(time.Since(start).Seconds())
			}
			pw.lastSeq = seq
		}
	}
}

// Apply writes one output in a single transaction.
func (pw *ProjectionWorker) Apply(ctx context.Context, output core.CoreOutput) error {
	env := output.Envelope

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			if err := applyJournal(ctx, tx, j); err != nil {
				return fmt.Errorf("token balance: %w", err)
			}
		}
	}

	for i, evt := range env.Events {
		if err := applyEvent(ctx, tx, env, i, evt); err != nil {
			return fmt.Errorf("%s: %w", evt.EventType(), err)
		}
	}

	if err := applyPoolState(ctx, tx, env.Sequence, output.Pool); err != nil {
		return fmt.Errorf("pool state: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projection.watermarks (projection, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, Name, env.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// applyJournal moves amount from the credit holder to the debit holder.
// Issuance accounts have no projected balance.
func applyJournal(ctx context.Context, tx *sql.Tx, j ledger.Journal) error {
	amount := j.Amount.Dec()
	if j.DebitAccount.Scope == ledger.AccountScopeHolder {
		if err := addBalance(ctx, tx, j.DebitAccount, amount, j.Sequence); err != nil {
			return err
		}
	}
	if j.CreditAccount.Scope == ledger.AccountScopeHolder {
		if err := addBalance(ctx, tx, j.CreditAccount, "-"+amount, j.Sequence); err != nil {
			return err
		}
	}
	return nil
}

// addBalance skips rows already at or past seq, so re-applying an output is a no-op.
func addBalance(ctx context.Context, tx *sql.Tx, key ledger.AccountKey, delta string, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projection.token_balances (token, holder, balance, last_sequence)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (token, holder) DO UPDATE
			SET balance = projection.token_balances.balance + $3::numeric, last_sequence = $4
			WHERE projection.token_balances.last_sequence < $4
	`, hexAddr(key.Token), hexAddr(key.Holder), delta, seq)
	return err
}

func applyEvent(ctx context.Context, tx *sql.Tx, env *event.CommandEnvelope, idx int, evt event.Event) error {
	switch e := evt.(type) {
	case *event.UserDepositChange:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projection.accounts (address, locked_balance, unlocking, last_sequence, updated_at)
			VALUES ($1, $2::numeric, $3::numeric, $4, NOW())
			ON CONFLICT (address) DO UPDATE
				SET locked_balance = $2::numeric, unlocking = $3::numeric,
				    unlock_at = CASE WHEN $3::numeric = 0 THEN NULL ELSE projection.accounts.unlock_at END,
				    last_sequence = $4, updated_at = NOW()
		`, hexAddr(e.Account), dec(e.Locked), dec(e.Unlocking), env.Sequence)
		return err

	case *event.Unlock:
		_, err := tx.ExecContext(ctx, `
			UPDATE projection.accounts SET unlock_at = $2, last_sequence = $3, updated_at = NOW()
			WHERE address = $1
		`, hexAddr(e.Owner), e.UnlockAt, env.Sequence)
		return err

	case *event.UpdateRewardReceiver:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projection.accounts (address, locked_balance, reward_receiver, last_sequence, updated_at)
			VALUES ($1, 0, $2, $3, NOW())
			ON CONFLICT (address) DO UPDATE
				SET reward_receiver = $2, last_sequence = $3, updated_at = NOW()
		`, hexAddr(e.Account), nullableAddr(e.NewReceiver), env.Sequence)
		return err

	case *event.Liquidate:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projection.liquidations (sequence, liquidated, collateral, epoch, scale, product, timestamp)
			VALUES ($1, $2::numeric, $3::numeric, $4, $5, $6::numeric, $7)
			ON CONFLICT (sequence) DO NOTHING
		`, env.Sequence, dec(e.Liquidated), dec(e.Collateral), int64(e.Epoch), int64(e.Scale), dec(e.Product), env.Timestamp)
		return err

	case *event.Claim:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projection.claims (sequence, idx, account, receiver, token, amount, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7)
			ON CONFLICT (sequence, idx) DO NOTHING
		`, env.Sequence, idx, hexAddr(e.Account), hexAddr(e.Receiver), hexAddr(e.Token), dec(e.Amount), env.Timestamp)
		return err
	}
	return nil
}

func applyPoolState(ctx context.Context, tx *sql.Tx, seq int64, s core.PoolSummary) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projection.pool_state
			(id, epoch, scale, product, total_supply, total_unlocking, collateral_ratio,
			 liquidatable_collateral_ratio, unlock_duration_seconds, wrapper, last_sequence, updated_at)
		VALUES (1, $1, $2, $3::numeric, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10, NOW())
		ON CONFLICT (id) DO UPDATE SET
			epoch = $1, scale = $2, product = $3::numeric, total_supply = $4::numeric,
			total_unlocking = $5::numeric, collateral_ratio = $6::numeric,
			liquidatable_collateral_ratio = $7::numeric, unlock_duration_seconds = $8,
			wrapper = $9, last_sequence = $10, updated_at = NOW()
		WHERE projection.pool_state.last_sequence < $10
	`, int64(s.Epoch), int64(s.Scale), dec(s.Product), dec(s.TotalSupply), dec(s.TotalUnlocking),
		dec(s.CollateralRatio), dec(s.LiquidatableCollateralRatio), int64(s.UnlockDuration/time.Second),
		nullableAddr(s.Wrapper), seq)
	return err
}

// RebuildProjections rebuilds projection tables from the event log. The pool
// state row is left for the next applied command to refresh.
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	steps := []struct {
		name string
		sql  string
	}{
		{"truncate", `TRUNCATE projection.token_balances, projection.accounts, projection.liquidations, projection.claims`},
		{"token balances", `
			INSERT INTO projection.token_balances (token, holder, balance, last_sequence)
			SELECT token, split_part(account, ':', 2), SUM(delta), MAX(sequence)
			FROM (
				SELECT token, debit_account AS account, amount AS delta, sequence FROM event_log.journal
				UNION ALL
				SELECT token, credit_account, -amount, sequence FROM event_log.journal
			) moves
			WHERE account LIKE 'holder:%'
			GROUP BY token, split_part(account, ':', 2)`},
		{"accounts", `
			INSERT INTO projection.accounts (address, locked_balance, unlocking, last_sequence)
			SELECT DISTINCT ON (payload->>'account')
				lower(payload->>'account'), (payload->>'locked')::numeric, (payload->>'unlocking')::numeric, sequence
			FROM event_log.events
			WHERE event_type = 'UserDepositChange'
			ORDER BY payload->>'account', sequence DESC, idx DESC`},
		{"unlock times", `
			UPDATE projection.accounts a SET unlock_at = u.unlock_at
			FROM (
				SELECT DISTINCT ON (lower(payload->>'owner')) lower(payload->>'owner') AS owner,
				       (payload->>'unlock_at')::timestamptz AS unlock_at
				FROM event_log.events WHERE event_type = 'Unlock'
				ORDER BY lower(payload->>'owner'), sequence DESC
			) u
			WHERE a.address = u.owner AND a.unlocking > 0`},
		{"liquidations", `
			INSERT INTO projection.liquidations (sequence, liquidated, collateral, epoch, scale, product, timestamp)
			SELECT e.sequence, (e.payload->>'liquidated')::numeric, (e.payload->>'collateral')::numeric,
			       (e.payload->>'epoch')::bigint, (e.payload->>'scale')::bigint, (e.payload->>'product')::numeric, c.timestamp
			FROM event_log.events e JOIN event_log.commands c USING (sequence)
			WHERE e.event_type = 'Liquidate'`},
		{"claims", `
			INSERT INTO projection.claims (sequence, idx, account, receiver, token, amount, timestamp)
			SELECT e.sequence, e.idx, lower(e.payload->>'account'), lower(e.payload->>'receiver'),
			       lower(e.payload->>'token'), (e.payload->>'amount')::numeric, c.timestamp
			FROM event_log.events e JOIN event_log.commands c USING (sequence)
			WHERE e.event_type = 'Claim'`},
		{"watermark", `
			INSERT INTO projection.watermarks (projection, last_sequence, updated_at)
			SELECT 'pool', COALESCE(MAX(sequence), -1), NOW() FROM event_log.commands
			ON CONFLICT (projection) DO UPDATE SET last_sequence = EXCLUDED.last_sequence, updated_at = NOW()`},
	}

	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step.sql); err != nil {
			return fmt.Errorf("rebuild %s: %w", step.name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	logger.Info().Msg("projection rebuild complete")
	return nil
}

func hexAddr(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func nullableAddr(a common.Address) interface{} {
	if a == (common.Address{}) {
		return nil
	}
	return hexAddr(a)
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

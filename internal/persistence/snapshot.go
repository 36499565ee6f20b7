package persistence

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"RebalancePool/internal/core"
	"RebalancePool/internal/event"
	"RebalancePool/internal/ledger"
	"RebalancePool/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// SnapshotFormatVersion is bumped whenever SnapshotData changes shape.
const SnapshotFormatVersion = 1

// SnapshotManager handles creating and loading state snapshots for recovery.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the stored form of core.SnapshotState. Amounts are decimal
// strings and hashes are hex so the row stays human-inspectable.
type SnapshotData struct {
	FormatVersion   int                 `json:"format_version"`
	Sequence        int64               `json:"sequence"`
	StateHash       string              `json:"state_hash"`
	Balances        map[string]string   `json:"balances"` // AccountPath -> balance
	Pool            *state.State        `json:"pool"`
	CollateralRatio string              `json:"collateral_ratio"`
	Roles           map[string][]string `json:"roles"`
	SequenceState   map[string]int64    `json:"sequence_state"`   // partition -> next expected seq
	IdempotencyKeys []string            `json:"idempotency_keys"` // recent keys for LRU warming
	CreatedAt       time.Time           `json:"created_at"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// EncodeSnapshot converts engine state into its stored form.
func EncodeSnapshot(s *core.SnapshotState, createdAt time.Time) *SnapshotData {
	data := &SnapshotData{
		FormatVersion:   SnapshotFormatVersion,
		Sequence:        s.Sequence,
		StateHash:       hex.EncodeToString(s.StateHash[:]),
		Balances:        make(map[string]string, len(s.Balances)),
		Pool:            s.Pool,
		Roles:           s.Roles,
		SequenceState:   s.SequenceState,
		IdempotencyKeys: s.IdempotencyKeys,
		CreatedAt:       createdAt,
	}
	for key, bal := range s.Balances {
		data.Balances[key.AccountPath()] = bal.Dec()
	}
	if s.CollateralRatio != nil {
		data.CollateralRatio = s.CollateralRatio.Dec()
	}
	return data
}

// Decode converts a stored snapshot back into engine state.
func (d *SnapshotData) Decode() (*core.SnapshotState, error) {
	if d.FormatVersion != SnapshotFormatVersion {
		return nil, fmt.Errorf("unsupported snapshot format %d", d.FormatVersion)
	}

	s := &core.SnapshotState{
		Sequence:        d.Sequence,
		Balances:        make(map[ledger.AccountKey]*uint256.Int, len(d.Balances)),
		Pool:            d.Pool,
		Roles:           d.Roles,
		SequenceState:   d.SequenceState,
		IdempotencyKeys: d.IdempotencyKeys,
	}

	hash, err := hex.DecodeString(d.StateHash)
	if err != nil || len(hash) != len(s.StateHash) {
		return nil, fmt.Errorf("invalid state hash %q", d.StateHash)
	}
	copy(s.StateHash[:], hash)

	for path, dec := range d.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, err
		}
		bal, err := uint256.FromDecimal(dec)
		if err != nil {
			return nil, fmt.Errorf("balance of %s: %w", path, err)
		}
		s.Balances[key] = bal
	}

	if d.CollateralRatio != "" {
		ratio, err := uint256.FromDecimal(d.CollateralRatio)
		if err != nil {
			return nil, fmt.Errorf("collateral ratio: %w", err)
		}
		s.CollateralRatio = ratio
	}
	return s, nil
}

// SaveSnapshot persists a snapshot and returns its encoded size.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Sequence, data, snap.StateHash, snap.FormatVersion, len(data), snap.CreatedAt)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	var data []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// VerifyPending marks every unverified snapshot whose state hash matches the
// logged command at the same sequence. Returns how many were verified.
func (sm *SnapshotManager) VerifyPending(ctx context.Context) (int64, error) {
	res, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots s SET verified = TRUE
		FROM event_log.commands c
		WHERE c.sequence = s.sequence
		  AND NOT s.verified
		  AND encode(c.state_hash, 'hex') = s.state_hash
	`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LoadCommandsFrom loads logged commands from a given sequence for replay.
func (sm *SnapshotManager) LoadCommandsFrom(ctx context.Context, fromSequence int64, limit int) ([]CommandRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, command_type, idempotency_key, sender, source_sequence,
		       payload, state_hash, prev_hash, timestamp
		FROM event_log.commands
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommandRow
	for rows.Next() {
		var r CommandRow
		if err := rows.Scan(
			&r.Sequence, &r.CommandType, &r.IdempotencyKey, &r.Sender, &r.SourceSequence,
			&r.Payload, &r.StateHash, &r.PrevHash, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Command rebuilds the typed command stored in a row.
func (r CommandRow) Command() (event.Command, error) {
	cmd, err := event.DecodeCommand(r.CommandType, r.Payload)
	if err != nil {
		return nil, fmt.Errorf("seq %d: %w", r.Sequence, err)
	}
	return cmd, nil
}

// GetLatestSequence returns the highest sequence in the command log, or -1
// when the log is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.commands
	`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"RebalancePool/internal/event"
	"RebalancePool/internal/ledger"
)

// EventLogWriter writes accepted commands, their emitted events and their
// journals to Postgres using multi-row INSERTs inside the caller's tx.
type EventLogWriter struct {
	db *sql.DB
}

// CommandRow represents a row in event_log.commands
type CommandRow struct {
	Sequence       int64
	CommandType    string
	IdempotencyKey string
	Sender         string
	SourceSequence int64
	Payload        []byte // JSON-encoded command
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence  int64
	Index     int
	EventType string
	Payload   []byte
}

// JournalRow represents a row in event_log.journal. Amount is a base-10
// string so full uint256 values survive the NUMERIC(78,0) column.
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Token         string
	Amount        string
	JournalType   string
	Timestamp     int64
}

// Record is one accepted command flattened into rows.
type Record struct {
	Command  CommandRow
	Events   []EventRow
	Journals []JournalRow
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// NewRecord flattens an envelope and its journal batch.
func NewRecord(env *event.CommandEnvelope, batch *ledger.Batch) (Record, error) {
	rec := Record{
		Command: CommandRow{
			Sequence:       env.Sequence,
			CommandType:    env.CommandType.String(),
			IdempotencyKey: env.IdempotencyKey,
			Sender:         strings.ToLower(env.Sender.Hex()),
			SourceSequence: env.SourceSequence,
			Payload:        env.Payload,
			StateHash:      env.StateHash[:],
			PrevHash:       env.PrevHash[:],
			Timestamp:      env.Timestamp,
		},
	}

	for i, e := range env.Events {
		payload, err := json.Marshal(e)
		if err != nil {
			return Record{}, fmt.Errorf("marshal event %d of seq %d: %w", i, env.Sequence, err)
		}
		rec.Events = append(rec.Events, EventRow{
			Sequence:  env.Sequence,
			Index:     i,
			EventType: e.EventType().String(),
			Payload:   payload,
		})
	}

	if batch != nil {
		for _, j := range batch.Journals {
			rec.Journals = append(rec.Journals, JournalRow{
				JournalID:     j.JournalID.String(),
				BatchID:       j.BatchID.String(),
				EventRef:      j.EventRef,
				Sequence:      j.Sequence,
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				Token:         strings.ToLower(j.Token.Hex()),
				Amount:        j.Amount.Dec(),
				JournalType:   j.JournalType.String(),
				Timestamp:     j.Timestamp,
			})
		}
	}
	return rec, nil
}

// WriteCommandBatch writes to event_log.commands. Re-writing a sequence is a no-op.
func (w *EventLogWriter) WriteCommandBatch(ctx context.Context, tx *sql.Tx, rows []CommandRow) error {
	if len(rows) == 0 {
		return nil
	}

	const cols = 9
	query := `INSERT INTO event_log.commands
		(sequence, command_type, idempotency_key, sender, source_sequence, payload, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*cols)
	for i, r := range rows {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			r.Sequence, r.CommandType, r.IdempotencyKey, r.Sender, r.SourceSequence,
			r.Payload, r.StateHash, r.PrevHash, r.Timestamp,
		)
	}

	query += strings.Join(values, ", ") + " ON CONFLICT (sequence) DO NOTHING"
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteEventBatch writes to event_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, rows []EventRow) error {
	if len(rows) == 0 {
		return nil
	}

	const cols = 4
	query := `INSERT INTO event_log.events (sequence, idx, event_type, payload) VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*cols)
	for i, r := range rows {
		values = append(values, placeholders(i*cols, cols))
		args = append(args, r.Sequence, r.Index, r.EventType, r.Payload)
	}

	query += strings.Join(values, ", ") + " ON CONFLICT (sequence, idx) DO NOTHING"
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, tx *sql.Tx, rows []JournalRow) error {
	if len(rows) == 0 {
		return nil
	}

	const cols = 10
	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, token, amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*cols)
	for i, j := range rows {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.Token, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ") + " ON CONFLICT (journal_id) DO NOTHING"
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// placeholders renders "($base+1, ..., $base+n)".
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for k := 1; k <= n; k++ {
		if k > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+k)
	}
	b.WriteByte(')')
	return b.String()
}

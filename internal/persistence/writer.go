package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"SynthEngine/internal/event"
)

// AuditWriter writes audit records to Postgres using multi-row INSERT with
// ON CONFLICT DO NOTHING, so replayed batches after a retry are idempotent
// on the sequence key.
type AuditWriter struct {
	db *sql.DB
}

// AuditRow is one row of audit.events.
type AuditRow struct {
	Sequence  int64
	EventID   string
	Kind      string
	Payload   []byte // JSON-encoded operation payload
	Timestamp time.Time
}

func NewAuditWriter(db *sql.DB) *AuditWriter {
	return &AuditWriter{db: db}
}

// RowFromEnvelope flattens an audit envelope into its storage row.
func RowFromEnvelope(env event.Envelope) (AuditRow, error) {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return AuditRow{}, fmt.Errorf("marshal audit payload seq=%d: %w", env.Sequence, err)
	}
	return AuditRow{
		Sequence:  env.Sequence,
		EventID:   env.ID.String(),
		Kind:      env.Kind.String(),
		Payload:   payload,
		Timestamp: env.Timestamp,
	}, nil
}

// WriteBatch inserts a batch of rows inside the given transaction.
func (w *AuditWriter) WriteBatch(ctx context.Context, tx *sql.Tx, rows []AuditRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO audit.events
		(sequence, event_id, kind, payload, timestamp)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*5)

	for i, r := range rows {
		base := i * 5
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5,
		))
		args = append(args, r.Sequence, r.EventID, r.Kind, r.Payload, r.Timestamp)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// LatestSequence returns the highest persisted sequence, or 0 when the
// audit log is empty.
func (w *AuditWriter) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM audit.events`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

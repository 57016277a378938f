package audit

import (
	"context"
	"database/sql"
	"time"
)

// PostgresLog persists audit events in PostgreSQL.
type PostgresLog struct {
	db *sql.DB
}

var _ Log = (*PostgresLog)(nil)

// NewPostgresLog creates a new PostgreSQL-backed audit log.
func NewPostgresLog(db *sql.DB) *PostgresLog {
	return &PostgresLog{db: db}
}

// Migrate creates the audit_events table if it doesn't exist.
func (p *PostgresLog) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_events (
			case_id    VARCHAR(64) NOT NULL,
			sequence   BIGINT NOT NULL CHECK (sequence > 0),
			kind       VARCHAR(20) NOT NULL,
			payload    JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (case_id, sequence)
		);
	`)
	return err
}

// Append assigns MAX(sequence)+1 within the insert. The per-case
// single-writer discipline upstream makes this race-free; the primary key
// still rejects duplicates if that discipline is ever violated.
func (p *PostgresLog) Append(ctx context.Context, caseID string, kind Kind, payload any) (*Event, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}

	ev := &Event{CaseID: caseID, Kind: kind, Payload: raw, Timestamp: time.Now().UTC()}
	err = p.db.QueryRowContext(ctx, `
		INSERT INTO audit_events (case_id, sequence, kind, payload, created_at)
		SELECT $1, COALESCE(MAX(sequence), 0) + 1, $2, $3, $4
		FROM audit_events WHERE case_id = $1
		RETURNING sequence`,
		caseID, string(kind), []byte(raw), ev.Timestamp,
	).Scan(&ev.Sequence)
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (p *PostgresLog) List(ctx context.Context, caseID string, fromSeq int64) ([]*Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT case_id, sequence, kind, payload, created_at
		FROM audit_events
		WHERE case_id = $1 AND sequence >= $2
		ORDER BY sequence ASC`,
		caseID, fromSeq,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Event
	for rows.Next() {
		var (
			ev   Event
			kind string
		)
		if err := rows.Scan(&ev.CaseID, &ev.Sequence, &kind, (*[]byte)(&ev.Payload), &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.Kind = Kind(kind)
		out = append(out, &ev)
	}
	return out, rows.Err()
}

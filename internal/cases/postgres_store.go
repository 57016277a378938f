package cases

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/intent"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/risk"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/signal"
)

// PostgresStore persists cases in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed case store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the cases table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS cases (
			id            VARCHAR(64) PRIMARY KEY,
			subject_phone VARCHAR(20) NOT NULL,
			raw_text      TEXT NOT NULL DEFAULT '',
			intent        JSONB,
			state         VARCHAR(16) NOT NULL,
			signals       JSONB NOT NULL DEFAULT '{}',
			risk_score    DOUBLE PRECISION CHECK (risk_score >= 0 AND risk_score <= 1),
			risk_level    VARCHAR(10),
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			version       BIGINT NOT NULL DEFAULT 1
		);

		CREATE INDEX IF NOT EXISTS idx_cases_state
			ON cases (state, created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_cases_subject_phone
			ON cases (subject_phone, created_at DESC);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, c *Case) error {
	intentJSON, signalsJSON, err := marshalCase(c)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO cases (
			id, subject_phone, raw_text, intent, state, signals,
			risk_score, risk_level, created_at, updated_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.SubjectPhone, c.RawText, intentJSON, string(c.State), signalsJSON,
		nullFloat(c.RiskScore), nullLevel(c.RiskLevel), c.CreatedAt, c.UpdatedAt, c.Version,
	)
	return err
}

const caseColumns = `id, subject_phone, raw_text, intent, state, signals,
		risk_score, risk_level, created_at, updated_at, version`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Case, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1`, id)
	c, err := scanCase(row)
	if err == sql.ErrNoRows {
		return nil, ErrCaseNotFound
	}
	return c, err
}

// Update writes the case back if and only if the stored version matches
// c.Version, then increments both. Zero rows affected means either a
// stale writer or a missing case; a follow-up read disambiguates.
func (p *PostgresStore) Update(ctx context.Context, c *Case) error {
	intentJSON, signalsJSON, err := marshalCase(c)
	if err != nil {
		return err
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE cases SET
			intent = $1, state = $2, signals = $3,
			risk_score = $4, risk_level = $5, updated_at = $6,
			version = version + 1
		WHERE id = $7 AND version = $8`,
		intentJSON, string(c.State), signalsJSON,
		nullFloat(c.RiskScore), nullLevel(c.RiskLevel), c.UpdatedAt,
		c.ID, c.Version,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, getErr := p.Get(ctx, c.ID); getErr != nil {
			return getErr
		}
		return ErrConcurrentModification
	}
	c.Version++
	return nil
}

func (p *PostgresStore) List(ctx context.Context, state State, limit int, opts ...ListOption) ([]*Case, error) {
	o := applyListOpts(opts)
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + caseColumns + ` FROM cases`
	var conds []string
	var args []any
	if state != "" {
		args = append(args, string(state))
		conds = append(conds, fmt.Sprintf("state = $%d", len(args)))
	}
	if o.cursor != nil {
		args = append(args, o.cursor.CreatedAt, o.cursor.ID)
		conds = append(conds, fmt.Sprintf(
			"(created_at < $%d OR (created_at = $%d AND id > $%d))",
			len(args)-1, len(args)-1, len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id ASC LIMIT $%d", len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// ---- scanning helpers ----

type scannable interface {
	Scan(dest ...any) error
}

func scanCase(row scannable) (*Case, error) {
	var (
		c           Case
		state       string
		intentJSON  []byte
		signalsJSON []byte
		riskScore   sql.NullFloat64
		riskLevel   sql.NullString
	)
	err := row.Scan(
		&c.ID, &c.SubjectPhone, &c.RawText, &intentJSON, &state, &signalsJSON,
		&riskScore, &riskLevel, &c.CreatedAt, &c.UpdatedAt, &c.Version,
	)
	if err != nil {
		return nil, err
	}
	c.State = State(state)
	if len(intentJSON) > 0 {
		var in intent.Intent
		if err := json.Unmarshal(intentJSON, &in); err != nil {
			return nil, fmt.Errorf("cases: unmarshal intent: %w", err)
		}
		c.Intent = &in
	}
	if len(signalsJSON) > 0 {
		if err := json.Unmarshal(signalsJSON, &c.Signals); err != nil {
			return nil, fmt.Errorf("cases: unmarshal signals: %w", err)
		}
	}
	if c.Signals == nil {
		c.Signals = make(map[string]signal.Result)
	}
	if riskScore.Valid {
		score := riskScore.Float64
		c.RiskScore = &score
	}
	if riskLevel.Valid {
		level := risk.Level(riskLevel.String)
		c.RiskLevel = &level
	}
	return &c, nil
}

func marshalCase(c *Case) (intentJSON, signalsJSON []byte, err error) {
	if c.Intent != nil {
		intentJSON, err = json.Marshal(c.Intent)
		if err != nil {
			return nil, nil, fmt.Errorf("cases: marshal intent: %w", err)
		}
	}
	signals := c.Signals
	if signals == nil {
		signals = map[string]signal.Result{}
	}
	signalsJSON, err = json.Marshal(signals)
	if err != nil {
		return nil, nil, fmt.Errorf("cases: marshal signals: %w", err)
	}
	return intentJSON, signalsJSON, nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullLevel(v *risk.Level) any {
	if v == nil {
		return nil
	}
	return string(*v)
}

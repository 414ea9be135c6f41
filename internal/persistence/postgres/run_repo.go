package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/factorrun/internal/persistence"
)

// Schema creates the attribution_runs table
const Schema = `
CREATE TABLE IF NOT EXISTS attribution_runs (
	id              TEXT PRIMARY KEY,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	fingerprint     TEXT NOT NULL,
	n_obs           INTEGER NOT NULL,
	r_squared       DOUBLE PRECISION NOT NULL,
	total_explained DOUBLE PRECISION NOT NULL,
	coefficients    JSONB NOT NULL,
	summary_lines   JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS attribution_runs_created_at_idx ON attribution_runs (created_at DESC);
CREATE INDEX IF NOT EXISTS attribution_runs_fingerprint_idx ON attribution_runs (fingerprint);`

// Migrate applies Schema
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate attribution_runs: %w", err)
	}
	return nil
}

// runRepo implements persistence.RunRepo for PostgreSQL
type runRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRunRepo creates a new PostgreSQL run repository
func NewRunRepo(db *sqlx.DB, timeout time.Duration) persistence.RunRepo {
	return &runRepo{
		db:      db,
		timeout: timeout,
	}
}

// runRow mirrors attribution_runs with the JSONB columns left raw
type runRow struct {
	ID             string    `db:"id"`
	CreatedAt      time.Time `db:"created_at"`
	Fingerprint    string    `db:"fingerprint"`
	Observations   int       `db:"n_obs"`
	RSquared       float64   `db:"r_squared"`
	TotalExplained float64   `db:"total_explained"`
	Coefficients   []byte    `db:"coefficients"`
	SummaryLines   []byte    `db:"summary_lines"`
}

const selectRuns = `
	SELECT id, created_at, fingerprint, n_obs, r_squared, total_explained,
	       coefficients, summary_lines
	FROM attribution_runs`

// Save inserts the run; an existing ID is left untouched
func (r *runRepo) Save(ctx context.Context, rec persistence.RunRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if rec.ID == "" {
		return fmt.Errorf("run record has no id")
	}

	coefJSON, err := json.Marshal(rec.Coefficients)
	if err != nil {
		return fmt.Errorf("failed to marshal coefficients: %w", err)
	}
	linesJSON, err := json.Marshal(rec.SummaryLines)
	if err != nil {
		return fmt.Errorf("failed to marshal summary lines: %w", err)
	}

	query := `
		INSERT INTO attribution_runs
		(id, created_at, fingerprint, n_obs, r_squared, total_explained, coefficients, summary_lines)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	_, err = r.db.ExecContext(ctx, query,
		rec.ID, rec.CreatedAt, rec.Fingerprint, rec.Observations,
		rec.RSquared, rec.TotalExplained, coefJSON, linesJSON)
	if err != nil {
		return fmt.Errorf("failed to insert attribution run: %w", err)
	}

	return nil
}

// Get retrieves one run by ID
func (r *runRepo) Get(ctx context.Context, id string) (*persistence.RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row runRow
	err := r.db.QueryRowxContext(ctx, selectRuns+` WHERE id = $1`, id).StructScan(&row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get attribution run: %w", err)
	}

	rec, err := row.record()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Recent lists the newest runs first
func (r *runRepo) Recent(ctx context.Context, limit int) ([]persistence.RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.QueryxContext(ctx, selectRuns+` ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list attribution runs: %w", err)
	}
	defer rows.Close()

	var records []persistence.RunRecord
	for rows.Next() {
		var row runRow
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("failed to scan attribution run: %w", err)
		}
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

func (row runRow) record() (persistence.RunRecord, error) {
	rec := persistence.RunRecord{
		ID:             row.ID,
		CreatedAt:      row.CreatedAt,
		Fingerprint:    row.Fingerprint,
		Observations:   row.Observations,
		RSquared:       row.RSquared,
		TotalExplained: row.TotalExplained,
	}
	if err := json.Unmarshal(row.Coefficients, &rec.Coefficients); err != nil {
		return rec, fmt.Errorf("failed to unmarshal coefficients for run %s: %w", row.ID, err)
	}
	if err := json.Unmarshal(row.SummaryLines, &rec.SummaryLines); err != nil {
		return rec, fmt.Errorf("failed to unmarshal summary lines for run %s: %w", row.ID, err)
	}
	return rec, nil
}

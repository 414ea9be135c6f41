package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/sawpanic/factorrun/internal/attribution"
)

// ErrUnavailable is returned when persistence is disabled or the breaker is open
var ErrUnavailable = errors.New("run persistence unavailable")

// RunRecord is one persisted attribution run
type RunRecord struct {
	ID             string             `json:"id" db:"id"`
	CreatedAt      time.Time          `json:"created_at" db:"created_at"`
	Fingerprint    string             `json:"fingerprint" db:"fingerprint"`
	Observations   int                `json:"n_obs" db:"n_obs"`
	RSquared       float64            `json:"r_squared" db:"r_squared"`
	TotalExplained float64            `json:"total_explained" db:"total_explained"`
	Coefficients   map[string]float64 `json:"coefficients" db:"coefficients"`
	SummaryLines   []string           `json:"summary_lines" db:"summary_lines"`
}

// NewRecord captures the persisted subset of an engine result
func NewRecord(res *attribution.Result) RunRecord {
	return RunRecord{
		ID:             res.RunID,
		CreatedAt:      res.StartedAt.UTC(),
		Fingerprint:    res.Fingerprint,
		Observations:   res.Model.Diagnostics().Observations,
		RSquared:       res.Model.Diagnostics().RSquared,
		TotalExplained: res.Summary.TotalExplained,
		Coefficients:   res.Model.Coefficients(),
		SummaryLines:   append([]string(nil), res.Summary.Lines...),
	}
}

// RunRepo stores attribution runs
type RunRepo interface {
	// Save inserts a run; saving the same ID twice is a no-op
	Save(ctx context.Context, rec RunRecord) error

	// Get returns the run with the given ID, or nil if it does not exist
	Get(ctx context.Context, id string) (*RunRecord, error)

	// Recent returns up to limit runs, newest first
	Recent(ctx context.Context, limit int) ([]RunRecord, error)
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/factorrun/internal/config"
	"github.com/sawpanic/factorrun/internal/persistence"
	"github.com/sawpanic/factorrun/internal/persistence/postgres"
)

// Manager owns the database connection and the run repository built on it
type Manager struct {
	db      *sqlx.DB
	config  config.DatabaseConfig
	runs    persistence.RunRepo
	timeout time.Duration
}

// NewManager connects, migrates and wires the guarded run repository.
// A disabled config yields a manager whose Runs() is nil.
func NewManager(ctx context.Context, cfg config.DatabaseConfig) (*Manager, error) {
	if !cfg.Enabled {
		return &Manager{config: cfg}, nil
	}

	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required when enabled")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return newManager(ctx, db, cfg)
}

func newManager(ctx context.Context, db *sqlx.DB, cfg config.DatabaseConfig) (*Manager, error) {
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := postgres.Migrate(pingCtx, db); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Int("max_open_conns", cfg.MaxOpenConns).Msg("Run persistence enabled")

	return &Manager{
		db:      db,
		config:  cfg,
		runs:    persistence.NewGuardedRepo("attribution_runs", postgres.NewRunRepo(db, timeout), 30*time.Second),
		timeout: timeout,
	}, nil
}

// Runs returns the run repository, or nil if persistence is disabled
func (m *Manager) Runs() persistence.RunRepo {
	return m.runs
}

// IsEnabled returns whether database persistence is enabled
func (m *Manager) IsEnabled() bool {
	return m.config.Enabled && m.db != nil
}

// Health pings the database and reports pool statistics
func (m *Manager) Health(ctx context.Context) persistence.HealthCheck {
	if !m.IsEnabled() {
		return persistence.HealthCheck{
			Healthy:        true,
			Errors:         []string{"Database persistence disabled"},
			ConnectionPool: map[string]int{"status": 0},
			LastCheck:      time.Now(),
		}
	}

	start := time.Now()
	pingCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var errs []string
	if err := m.db.PingContext(pingCtx); err != nil {
		errs = append(errs, fmt.Sprintf("ping failed: %v", err))
	}

	stats := m.db.Stats()
	return persistence.HealthCheck{
		Healthy: len(errs) == 0,
		Errors:  errs,
		ConnectionPool: map[string]int{
			"max_open": stats.MaxOpenConnections,
			"open":     stats.OpenConnections,
			"in_use":   stats.InUse,
			"idle":     stats.Idle,
		},
		LastCheck:      time.Now(),
		ResponseTimeMS: time.Since(start).Milliseconds(),
	}
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

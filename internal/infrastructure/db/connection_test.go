package db

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/factorrun/internal/config"
)

func TestNewManager_Disabled(t *testing.T) {
	manager, err := NewManager(context.Background(), config.DatabaseConfig{Enabled: false})
	require.NoError(t, err)

	assert.False(t, manager.IsEnabled())
	assert.Nil(t, manager.Runs())
	assert.NoError(t, manager.Close())

	health := manager.Health(context.Background())
	assert.True(t, health.Healthy)
	assert.Contains(t, health.Errors[0], "disabled")
}

func TestNewManager_MissingDSN(t *testing.T) {
	_, err := NewManager(context.Background(), config.DatabaseConfig{Enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DSN is required")
}

func TestNewManager_MigratesAndWiresRepo(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	mock.ExpectPing()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS attribution_runs")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectPing()
	mock.ExpectClose()

	cfg := config.Default().Database
	cfg.Enabled = true
	cfg.DSN = "postgres://mock"

	manager, err := newManager(context.Background(), sqlx.NewDb(mockDB, "postgres"), cfg)
	require.NoError(t, err)

	assert.True(t, manager.IsEnabled())
	assert.NotNil(t, manager.Runs())
	assert.True(t, manager.Health(context.Background()).Healthy)

	require.NoError(t, manager.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

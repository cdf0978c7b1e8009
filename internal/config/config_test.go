package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STEPFLOW_HTTP_ADDR", ":9090")
	t.Setenv("STEPFLOW_LOG_LEVEL", "debug")
	t.Setenv("STEPFLOW_STORAGE", StorageSQLite)
	t.Setenv("STEPFLOW_SQLITE_PATH", "/tmp/flows.db")
	t.Setenv("STEPFLOW_SHUTDOWN_TIMEOUT", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, StorageSQLite, cfg.Storage)
	assert.Equal(t, "/tmp/flows.db", cfg.SQLitePath)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_PostgresRequiresDSN(t *testing.T) {
	t.Setenv("STEPFLOW_STORAGE", StoragePostgres)
	_, err := Load()
	require.Error(t, err)

	t.Setenv("STEPFLOW_POSTGRES_DSN", "postgres://localhost/stepflow")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoragePostgres, cfg.Storage)
}

func TestValidate_Rejects(t *testing.T) {
	cfg := &Config{Storage: "cassandra", LogLevel: "info"}
	assert.Error(t, cfg.Validate())

	cfg = &Config{Storage: StorageMemory, LogLevel: "loud"}
	assert.Error(t, cfg.Validate())
}

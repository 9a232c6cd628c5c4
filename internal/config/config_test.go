package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/koustreak/orma/internal/errs"
	"github.com/koustreak/orma/internal/filestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orma.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  engine: postgres
  dsn: postgres://orma@localhost/app
pool:
  max_connections: 4
  acquire_timeout_ms: 250
migrations:
  dir: db/migrations
log:
  format: console
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Engine)
	assert.Equal(t, 10*time.Second, cfg.DriverConfig().ConnectTimeout)

	p := cfg.PoolConfig()
	assert.Equal(t, 2, p.MinConns)
	assert.Equal(t, 4, p.MaxConns)
	assert.Equal(t, 250*time.Millisecond, p.AcquireTimeout)
	assert.Equal(t, 5*time.Minute, p.IdleTimeout)
	assert.Zero(t, p.StatementTimeout)

	store := cfg.StoreConfig()
	assert.Equal(t, filestore.ProviderLocal, store.Provider)
	assert.Equal(t, "db/migrations", store.Dir)

	m := cfg.MigrateConfig()
	assert.Equal(t, "orma_migrations", m.LockKey)
	assert.Equal(t, 10*time.Minute, m.LockTTL)

	assert.Equal(t, "console", cfg.LoggerConfig().Format)
	assert.Equal(t, "info", cfg.LoggerConfig().Level)
	assert.Equal(t, "models.yaml", cfg.Models)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  engine: sqlite
  dsn: app.db
`)
	t.Setenv("ORMA_DATABASE_DSN", "other.db")
	t.Setenv("ORMA_POOL_MIN_CONNECTIONS", "0")
	t.Setenv("ORMA_MIGRATIONS_LOCK_POLL_MS", "20")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "other.db", cfg.Database.DSN)
	assert.Equal(t, 0, cfg.PoolConfig().MinConns)
	assert.Equal(t, 20*time.Millisecond, cfg.MigrateConfig().LockPoll)
}

func TestLoad_EnvironmentOnly(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ORMA_DATABASE_ENGINE", "mysql")
	t.Setenv("ORMA_DATABASE_DSN", "orma:orma@tcp(localhost:3306)/app")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Database.Engine)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing engine", "database: {dsn: x}"},
		{"unknown engine", "database: {engine: oracle, dsn: x}"},
		{"missing dsn", "database: {engine: sqlite}"},
		{"min above max", "database: {engine: sqlite, dsn: x}\npool: {min_connections: 5, max_connections: 2}"},
		{"minio without bucket", "database: {engine: sqlite, dsn: x}\nmigrations: {provider: minio, endpoint: localhost:9000}"},
		{"unknown provider", "database: {engine: sqlite, dsn: x}\nmigrations: {provider: ftp}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.True(t, errs.IsInvalidInput(err), "got %v", err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.True(t, errs.IsInvalidInput(err))
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite3", cfg.DB.Driver)
	assert.Equal(t, "sheetdb.db", cfg.DB.DSN)
	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Engine.LockTimeout)
	assert.Equal(t, 60*time.Second, cfg.Engine.CacheTTL)
	assert.Equal(t, "schema", cfg.Engine.SchemaDir)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("SHEETDB_DB_DSN", "/tmp/shop.db")
	t.Setenv("SHEETDB_LOCK_TIMEOUT", "250ms")
	t.Setenv("SHEETDB_CACHE_TTL", "5m")
	t.Setenv("SHEETDB_SERVER_ADDR", "127.0.0.1:8080")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/shop.db", cfg.DB.DSN)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.LockTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Engine.CacheTTL)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)

	ec := cfg.EngineOptions()
	assert.Equal(t, "sqlite3", ec.Driver)
	assert.Equal(t, "/tmp/shop.db", ec.DSN)
	assert.Equal(t, 250*time.Millisecond, ec.LockTimeout)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SHEETDB_SCHEMA_DIR=/srv/schema\n"), 0o644))
	// the .env loader writes into the process environment
	t.Cleanup(func() { os.Unsetenv("SHEETDB_SCHEMA_DIR") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/schema", cfg.Engine.SchemaDir)
}

func TestLoad_UnsupportedDriver(t *testing.T) {
	t.Setenv("SHEETDB_DB_DRIVER", "oracle")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported driver")
}

func TestCheck(t *testing.T) {
	cfg := AppConfig{
		DB:     DatabaseConfig{Driver: "mysql", DSN: "user:pw@tcp(localhost:3306)/sheets"},
		Engine: EngineConfig{LockTimeout: -time.Second},
	}
	assert.Error(t, cfg.Check())

	cfg.Engine.LockTimeout = 0
	assert.NoError(t, cfg.Check())

	cfg.DB.DSN = ""
	assert.Error(t, cfg.Check())
}

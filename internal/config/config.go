// Package config loads process settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	configLoader "github.com/andiksetyawan/config"

	"github.com/roach88/sheetdb/internal/engine"
)

// DefaultEnvPath is the .env file read when present.
const DefaultEnvPath = ".env"

// AppConfig holds every setting. Variable names are SHEETDB_ followed by the
// section prefix and the field name, e.g. SHEETDB_DB_DSN.
type AppConfig struct {
	DB     DatabaseConfig `envPrefix:"SHEETDB_DB_"`
	Server ServerConfig   `envPrefix:"SHEETDB_SERVER_"`
	Engine EngineConfig   `envPrefix:"SHEETDB_"`
}

type DatabaseConfig struct {
	// Driver is sqlite3 or mysql.
	Driver string `env:"DRIVER" envDefault:"sqlite3"`
	// DSN is a file path for sqlite3 and a go-sql-driver DSN for mysql.
	DSN string `env:"DSN" envDefault:"sheetdb.db"`
}

type ServerConfig struct {
	Addr string `env:"ADDR" envDefault:":3000"`
}

type EngineConfig struct {
	LockTimeout time.Duration `env:"LOCK_TIMEOUT" envDefault:"10s"`
	CacheTTL    time.Duration `env:"CACHE_TTL" envDefault:"60s"`
	SchemaDir   string        `env:"SCHEMA_DIR" envDefault:"schema"`
}

// Load reads envPath (if it exists) and then the process environment.
// An empty envPath means DefaultEnvPath.
func Load(envPath string) (*AppConfig, error) {
	if envPath == "" {
		envPath = DefaultEnvPath
	}

	loader := configLoader.New()
	if _, err := os.Stat(envPath); err == nil {
		loader = configLoader.New(configLoader.WithEnvPath(envPath))
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w", envPath, err)
	}

	cfg := &AppConfig{}
	if err := loader.Load(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Check rejects settings the engine cannot start with.
func (c *AppConfig) Check() error {
	switch c.DB.Driver {
	case "sqlite3", "mysql":
	default:
		return fmt.Errorf("SHEETDB_DB_DRIVER: unsupported driver %q", c.DB.Driver)
	}
	if c.DB.DSN == "" {
		return errors.New("SHEETDB_DB_DSN: must not be empty")
	}
	if c.Engine.LockTimeout < 0 {
		return errors.New("SHEETDB_LOCK_TIMEOUT: must not be negative")
	}
	if c.Engine.CacheTTL < 0 {
		return errors.New("SHEETDB_CACHE_TTL: must not be negative")
	}
	return nil
}

// EngineOptions returns the engine settings this config describes.
func (c *AppConfig) EngineOptions() engine.Config {
	return engine.Config{
		Driver:      c.DB.Driver,
		DSN:         c.DB.DSN,
		LockTimeout: c.Engine.LockTimeout,
		CacheTTL:    c.Engine.CacheTTL,
	}
}

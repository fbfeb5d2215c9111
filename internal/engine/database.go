package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/sheetdb/internal/cache"
	"github.com/roach88/sheetdb/internal/lock"
	"github.com/roach88/sheetdb/internal/metrics"
	"github.com/roach88/sheetdb/internal/schema"
	"github.com/roach88/sheetdb/internal/store"
)

// Config configures a Database.
type Config struct {
	// Driver and DSN select the backend when Store is nil.
	// Driver defaults to SQLite, where DSN is a file path.
	Driver string
	DSN    string

	// Store is an already opened store. Close leaves it open.
	Store *store.Store

	// LockTimeout bounds the wait for a table lock (default lock.DefaultTimeout).
	LockTimeout time.Duration

	// CacheTTL is the query cache validity window (default cache.DefaultTTL).
	CacheTTL time.Duration

	// CacheClock replaces the wall clock used for cache expiry.
	CacheClock cache.Clock

	// Metrics receives operation metrics. Nil disables metrics.
	Metrics metrics.Backend
}

// Database is the handle every operation runs against.
//
// Thread-safety: Database is safe for concurrent use. Writes to one table
// serialize on that table's lock; everything else runs concurrently.
type Database struct {
	store     *store.Store
	ownsStore bool
	registry  *schema.Registry
	guard     *lock.Guard
	cache     *cache.Cache
	metrics   metrics.Backend
}

// Init opens the backend and registers tables in order.
//
// Junction tables must come after the tables they link.
func Init(ctx context.Context, cfg Config, tables ...schema.TableConfig) (*Database, error) {
	db := &Database{
		registry: schema.NewRegistry(),
		metrics:  metrics.OrNop(cfg.Metrics),
	}

	db.store = cfg.Store
	if db.store == nil {
		driver := cfg.Driver
		if driver == "" {
			driver = store.DriverSQLite
		}
		s, err := store.OpenDriver(driver, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("init: %w", err)
		}
		db.store = s
		db.ownsStore = true
	}

	if err := db.store.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init: %w", err)
	}

	for _, t := range tables {
		if err := db.registry.Register(t); err != nil {
			db.Close()
			return nil, fmt.Errorf("init: register %s: %w", t.Name, err)
		}
	}

	db.guard = lock.New(
		lock.WithTimeout(cfg.LockTimeout),
		lock.WithObserver(func(table string, waited time.Duration, err error) {
			metrics.RecordLockWait(db.metrics, table, waited, lock.IsLockTimeout(err))
		}),
	)
	db.cache = cache.New(cache.WithTTL(cfg.CacheTTL), cache.WithClock(cfg.CacheClock))

	slog.Info("database initialized",
		"driver", db.store.Driver(),
		"tables", len(tables),
		"lock_timeout", db.guard.Timeout(),
		"cache_ttl", db.cache.TTL(),
	)
	return db, nil
}

// Close releases the backend if Init opened it.
func (db *Database) Close() error {
	if db.ownsStore && db.store != nil {
		return db.store.Close()
	}
	return nil
}

// Register adds a table after Init. It fails with schema.DuplicateTableError
// if the name is taken.
func (db *Database) Register(cfg schema.TableConfig) error {
	return db.registry.Register(cfg)
}

// Registry exposes the schema registry.
func (db *Database) Registry() *schema.Registry {
	return db.registry
}

// Store exposes the record store.
func (db *Database) Store() *store.Store {
	return db.store
}

// Table returns the configuration of a registered table.
func (db *Database) Table(name string) (schema.TableConfig, error) {
	return db.registry.Lookup(name)
}

// withLock runs fn under the table's write lock and invalidates the table's
// cache entries whenever fn ran. fn may commit several transactions, so a
// failure part way can still have changed the table.
func (db *Database) withLock(ctx context.Context, table string, fn func(ctx context.Context) error) error {
	err := db.guard.Do(ctx, table, func(ctx context.Context) error {
		defer db.cache.Invalidate(table)
		return fn(ctx)
	})
	if lock.IsLockTimeout(err) {
		slog.Warn("table lock timeout", "table", table, "wait", db.guard.Timeout())
		return newLockTimeoutError(table, err)
	}
	return err
}

// observe records metrics for one finished operation.
func (db *Database) observe(table, op string, start time.Time, err error) {
	metrics.RecordOperation(db.metrics, table, op, statusOf(err), time.Since(start))
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsNotFound(err):
		return "not_found"
	case IsValidation(err), IsInvalidQuery(err):
		return "invalid"
	case IsLockTimeout(err):
		return "lock_timeout"
	case errors.Is(err, schema.ErrUnknownTable):
		return "unknown_table"
	default:
		return "failure"
	}
}

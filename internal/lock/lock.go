// Package lock serializes writes per table.
//
// Each table owns a weight-1 semaphore. A writer holds it for the whole
// read-modify-write of one operation; writers on different tables never
// contend. Acquisition waits at most the guard's timeout and then fails with
// LockTimeoutError. The guard never retries on its own.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultTimeout bounds lock acquisition when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// State is the lock state of a single table.
type State int

const (
	Idle State = iota
	Locked
)

func (s State) String() string {
	if s == Locked {
		return "locked"
	}
	return "idle"
}

// LockTimeoutError is returned when a table lock could not be acquired within
// the bounded wait. The write did not run; callers may retry.
type LockTimeoutError struct {
	Table string
	Wait  time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("table %s is locked: gave up after %s", e.Table, e.Wait)
}

// IsLockTimeout reports whether err is a LockTimeoutError.
// Uses errors.As to handle wrapped errors.
func IsLockTimeout(err error) bool {
	var le *LockTimeoutError
	return errors.As(err, &le)
}

// WaitObserver is notified after every acquisition attempt.
type WaitObserver func(table string, waited time.Duration, err error)

// Guard hands out per-table exclusive locks.
//
// Thread-safety: Guard is safe for concurrent use.
type Guard struct {
	timeout  time.Duration
	observer WaitObserver

	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
	held map[string]bool
}

// Option configures a Guard.
type Option func(*Guard)

// WithTimeout sets the bounded wait. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithObserver installs a callback for lock wait metrics.
func WithObserver(fn WaitObserver) Option {
	return func(g *Guard) {
		g.observer = fn
	}
}

// New creates a guard.
func New(opts ...Option) *Guard {
	g := &Guard{
		timeout: DefaultTimeout,
		sems:    make(map[string]*semaphore.Weighted),
		held:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Timeout returns the configured bounded wait.
func (g *Guard) Timeout() time.Duration {
	return g.timeout
}

// Do runs fn while holding the table's lock.
//
// The lock is released when fn returns, whether it committed or failed.
// If ctx is cancelled while waiting, ctx's error is returned instead of a
// LockTimeoutError.
func (g *Guard) Do(ctx context.Context, table string, fn func(ctx context.Context) error) error {
	if err := g.acquire(ctx, table); err != nil {
		return err
	}
	defer g.release(table)
	return fn(ctx)
}

// State reports whether a table is currently locked.
func (g *Guard) State(table string) State {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held[table] {
		return Locked
	}
	return Idle
}

func (g *Guard) acquire(ctx context.Context, table string) error {
	sem := g.semaphore(table)

	waitCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	err := sem.Acquire(waitCtx, 1)
	waited := time.Since(start)

	if err != nil {
		if ctx.Err() == nil {
			err = &LockTimeoutError{Table: table, Wait: g.timeout}
		}
		g.observe(table, waited, err)
		return err
	}

	g.mu.Lock()
	g.held[table] = true
	g.mu.Unlock()

	g.observe(table, waited, nil)
	return nil
}

func (g *Guard) release(table string) {
	g.mu.Lock()
	sem := g.sems[table]
	delete(g.held, table)
	g.mu.Unlock()

	sem.Release(1)
}

func (g *Guard) semaphore(table string) *semaphore.Weighted {
	g.mu.Lock()
	defer g.mu.Unlock()

	sem, ok := g.sems[table]
	if !ok {
		sem = semaphore.NewWeighted(1)
		g.sems[table] = sem
	}
	return sem
}

func (g *Guard) observe(table string, waited time.Duration, err error) {
	if g.observer != nil {
		g.observer(table, waited, err)
	}
}

// Package cache stores query results per table for a short validity window.
//
// Entries are keyed by (table, serialized options). Any write to a table
// invalidates every entry of that table. Concurrent fills of the same key run
// once.
package cache

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is the validity window when none is configured.
const DefaultTTL = 60 * time.Second

// Clock supplies the current time. Tests inject a manual clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Key identifies a cached result within a table.
type Key uint64

func (k Key) String() string {
	return strconv.FormatUint(uint64(k), 16)
}

// KeyFor hashes the table name and the JSON form of opts. Struct options
// serialize with a fixed field order, so equal options give equal keys.
func KeyFor(table string, opts any) (Key, error) {
	b, err := json.Marshal(opts)
	if err != nil {
		return 0, fmt.Errorf("cache key: %w", err)
	}
	buf := make([]byte, 0, len(table)+1+len(b))
	buf = append(buf, table...)
	buf = append(buf, 0)
	buf = append(buf, b...)
	return Key(xxh3.Hash(buf)), nil
}

type entry struct {
	value   any
	expires time.Time
}

type tableEntries struct {
	gen     uint64
	entries map[Key]entry
}

// Cache is a TTL cache partitioned by table.
//
// Thread-safety: Cache is safe for concurrent use. Cached values are shared
// between callers and must be treated as read-only.
type Cache struct {
	ttl   time.Duration
	clock Clock

	mu     sync.Mutex
	tables map[string]*tableEntries

	group singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the validity window. Non-positive values keep the default.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(clock Clock) Option {
	return func(c *Cache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		ttl:    DefaultTTL,
		clock:  systemClock{},
		tables: make(map[string]*tableEntries),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the validity window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns a live entry.
func (c *Cache) Get(table string, key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tables[table]
	if !ok {
		return nil, false
	}
	e, ok := t.entries[key]
	if !ok {
		return nil, false
	}
	if !c.clock.Now().Before(e.expires) {
		delete(t.entries, key)
		return nil, false
	}
	return e.value, true
}

// GetOrFill returns the cached value for key, calling fill on a miss.
//
// Only successful fills are stored. A fill that overlaps an Invalidate of the
// same table is returned to its callers but not stored, since it may reflect
// the state before the write. The bool result reports a cache hit.
func (c *Cache) GetOrFill(table string, key Key, fill func() (any, error)) (any, bool, error) {
	if v, ok := c.Get(table, key); ok {
		return v, true, nil
	}

	gen := c.generation(table)
	flight := table + "/" + key.String() + "/" + strconv.FormatUint(gen, 10)

	v, err, _ := c.group.Do(flight, func() (any, error) {
		v, err := fill()
		if err != nil {
			return nil, err
		}
		c.store(table, key, gen, v)
		return v, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v, false, nil
}

// Invalidate drops every entry of a table.
func (c *Cache) Invalidate(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.tableLocked(table)
	t.gen++
	clear(t.entries)
}

// Len returns the number of stored entries for a table, expired or not.
func (c *Cache) Len(table string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.tables[table]; ok {
		return len(t.entries)
	}
	return 0
}

func (c *Cache) generation(table string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tableLocked(table).gen
}

func (c *Cache) store(table string, key Key, gen uint64, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.tableLocked(table)
	if t.gen != gen {
		return
	}
	t.entries[key] = entry{value: v, expires: c.clock.Now().Add(c.ttl)}
}

func (c *Cache) tableLocked(table string) *tableEntries {
	t, ok := c.tables[table]
	if !ok {
		t = &tableEntries{entries: make(map[Key]entry)}
		c.tables[table] = t
	}
	return t
}

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/sheetdb/internal/cache"
	"github.com/roach88/sheetdb/internal/metrics"
	"github.com/roach88/sheetdb/internal/query"
	"github.com/roach88/sheetdb/internal/schema"
)

// Page is one page of a record listing.
type Page struct {
	Data     []Record       `json:"data"`
	Metadata query.Metadata `json:"metadata"`

	// Cached reports whether the page was served from the query cache.
	Cached bool `json:"cached"`
}

// GetAll lists the live records of a table.
//
// The zero Options value returns every record in insertion order. With
// useCache, an identical listing within the cache window is served without
// scanning; any write to the table invalidates it. Cached pages are shared
// between callers and must not be modified.
func (db *Database) GetAll(ctx context.Context, table string, opts query.Options, useCache bool) (_ *Page, err error) {
	start := time.Now()
	defer func() { db.observe(table, "get_all", start, err) }()

	cfg, err := db.registry.Lookup(table)
	if err != nil {
		return nil, err
	}
	opts, err = opts.Normalize()
	if err != nil {
		return nil, queryError(table, err)
	}

	if !useCache {
		return db.listPage(ctx, cfg, opts)
	}

	key, err := cache.KeyFor(table, opts)
	if err != nil {
		return nil, err
	}
	v, hit, err := db.cache.GetOrFill(table, key, func() (any, error) {
		return db.listPage(ctx, cfg, opts)
	})
	metrics.RecordCacheLookup(db.metrics, table, hit)
	if err != nil {
		return nil, err
	}

	page := *v.(*Page)
	page.Cached = hit
	return &page, nil
}

func (db *Database) listPage(ctx context.Context, cfg schema.TableConfig, opts query.Options) (*Page, error) {
	rows, err := db.store.Scan(ctx, cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("get all %s: %w", cfg.Name, err)
	}
	return pageOf(cfg, decodeRecords(cfg, rows), opts)
}

func pageOf(cfg schema.TableConfig, records []Record, opts query.Options) (*Page, error) {
	data, meta, err := query.Apply(cfg, records, opts)
	if err != nil {
		return nil, queryError(cfg.Name, err)
	}
	return &Page{Data: data, Metadata: meta}, nil
}

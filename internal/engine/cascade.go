package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/sheetdb/internal/schema"
)

// JunctionCleanup lists the rows one junction table lost during a cascade.
type JunctionCleanup struct {
	Table   string  `json:"table"`
	History string  `json:"history"`
	Removed []int64 `json:"removed"`
}

// CascadeResult is the outcome of RemoveWithCascade.
type CascadeResult struct {
	Record    Record            `json:"record"`
	Junctions []JunctionCleanup `json:"junctions"`
}

// RemoveWithCascade removes a record together with every junction row that
// references it.
//
// Junction rows go first, one junction table at a time under that table's
// lock, each junction's rows in a single transaction. The parent is removed
// last. If any junction step fails the parent stays live; junctions already
// cleaned stay cleaned. There is no transaction spanning tables.
func (db *Database) RemoveWithCascade(ctx context.Context, table string, id int64) (_ *CascadeResult, err error) {
	start := time.Now()
	defer func() { db.observe(table, "remove_cascade", start, err) }()

	cfg, err := db.registry.Lookup(table)
	if err != nil {
		return nil, err
	}

	ok, err := db.store.Exists(ctx, cfg.Name, id)
	if err != nil {
		return nil, fmt.Errorf("cascade %s: %w", table, err)
	}
	if !ok {
		return nil, newNotFoundError(table, id, nil)
	}

	result := &CascadeResult{Junctions: []JunctionCleanup{}}
	for _, jcfg := range db.registry.JunctionsReferencing(cfg.Name) {
		removed, err := db.clearJunction(ctx, jcfg, cfg.Name, id)
		if err != nil {
			slog.Warn("cascade aborted before parent removal",
				"table", table,
				"id", id,
				"junction", jcfg.Name,
				"error", err,
			)
			return nil, fmt.Errorf("cascade %s: junction %s: %w", table, jcfg.Name, err)
		}
		result.Junctions = append(result.Junctions, JunctionCleanup{
			Table:   jcfg.Name,
			History: jcfg.History(),
			Removed: removed,
		})
	}

	rec, err := db.moveRecord(ctx, cfg, cfg.Name, cfg.History(), id, "cascade")
	if err != nil {
		return nil, err
	}
	result.Record = rec
	return result, nil
}

// clearJunction moves every row of jcfg whose fk to table equals id into the
// junction's history.
func (db *Database) clearJunction(ctx context.Context, jcfg schema.TableConfig, table string, id int64) ([]int64, error) {
	var fields []string
	for _, l := range jcfg.Junction.Links() {
		if l.Table == table {
			fields = append(fields, l.Field)
		}
	}

	removed := []int64{}
	err := db.withLock(ctx, jcfg.Name, func(ctx context.Context) error {
		rows, err := db.store.Scan(ctx, jcfg.Name)
		if err != nil {
			return err
		}

		var ids []int64
		for _, rec := range decodeRecords(jcfg, rows) {
			for _, f := range fields {
				if ref, ok := asID(rec[f]); ok && ref == id {
					ids = append(ids, rec.ID())
					break
				}
			}
		}
		if len(ids) == 0 {
			return nil
		}

		if _, err := db.store.MoveMany(ctx, jcfg.Name, jcfg.History(), ids); err != nil {
			return err
		}
		removed = ids
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(removed) > 0 {
		slog.Debug("junction rows removed", "junction", jcfg.Name, "table", table, "id", id, "rows", len(removed))
	}
	return removed, nil
}

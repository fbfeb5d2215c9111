package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/sheetdb/internal/metrics"
	"github.com/roach88/sheetdb/internal/schema"
)

// IntegrityReport is the outcome of CheckTableIntegrity.
type IntegrityReport struct {
	Junction string `json:"junction"`
	History  string `json:"history"`
	Checked  int    `json:"checked"`

	// Moved lists the junction row ids moved to history, in table order.
	Moved []int64 `json:"moved"`

	// Errors has one entry per unresolved foreign key.
	Errors []*IntegrityError `json:"errors"`
}

// CheckTableIntegrity verifies that every row of a junction table points at
// live records on both sides. Rows that do not are moved to the junction's
// history, each in its own transaction, and reported as IntegrityErrors.
//
// Problems found are not an error: the call succeeds once the repairs are
// committed. The junction's lock is held for the whole check; the linked
// tables are read without locking.
func (db *Database) CheckTableIntegrity(ctx context.Context, junction string) (_ *IntegrityReport, err error) {
	start := time.Now()
	defer func() { db.observe(junction, "check_integrity", start, err) }()

	jcfg, err := db.registry.Lookup(junction)
	if err != nil {
		return nil, err
	}
	if !jcfg.IsJunction() {
		return nil, newInvalidQueryError(junction, "not a junction table", nil)
	}

	report := &IntegrityReport{
		Junction: jcfg.Name,
		History:  jcfg.History(),
		Moved:    []int64{},
		Errors:   []*IntegrityError{},
	}

	err = db.withLock(ctx, junction, func(ctx context.Context) error {
		rows, err := db.store.Scan(ctx, jcfg.Name)
		if err != nil {
			return err
		}
		records := decodeRecords(jcfg, rows)
		report.Checked = len(records)

		links := jcfg.Junction.Links()
		live, err := db.liveIDs(ctx, links, records)
		if err != nil {
			return err
		}

		for _, rec := range records {
			bad := false
			for i, l := range links {
				msg := ""
				id, ok := asID(rec[l.Field])
				switch {
				case !ok:
					msg = "is not a valid id"
				case !live[i][id]:
					msg = fmt.Sprintf("references missing %s #%d", l.Table, id)
				default:
					continue
				}
				bad = true
				report.Errors = append(report.Errors, &IntegrityError{
					Junction: jcfg.Name,
					RowID:    rec.ID(),
					Field:    l.Field,
					Table:    l.Table,
					Ref:      rec[l.Field],
					Message:  msg,
				})
			}
			if !bad {
				continue
			}

			if _, err := db.store.Move(ctx, jcfg.Name, jcfg.History(), rec.ID()); err != nil {
				return fmt.Errorf("move row %d: %w", rec.ID(), err)
			}
			report.Moved = append(report.Moved, rec.ID())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("check integrity %s: %w", junction, err)
	}

	if len(report.Moved) > 0 {
		slog.Warn("junction rows moved to history",
			"junction", jcfg.Name,
			"rows", len(report.Moved),
			"problems", len(report.Errors),
		)
		metrics.RecordIntegrityRepairs(db.metrics, jcfg.Name, len(report.Moved))
	}
	return report, nil
}

// liveIDs looks up, for each link, which referenced ids exist in the linked
// table. The lookups run concurrently.
func (db *Database) liveIDs(ctx context.Context, links []schema.Link, records []Record) ([]map[int64]bool, error) {
	live := make([]map[int64]bool, len(links))

	g, gctx := errgroup.WithContext(ctx)
	for i, l := range links {
		var ids []int64
		seen := make(map[int64]bool)
		for _, rec := range records {
			if id, ok := asID(rec[l.Field]); ok && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}

		g.Go(func() error {
			found, err := db.store.GetMany(gctx, l.Table, ids)
			if err != nil {
				return fmt.Errorf("lookup %s: %w", l.Table, err)
			}
			set := make(map[int64]bool, len(found))
			for id := range found {
				set[id] = true
			}
			live[i] = set
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return live, nil
}

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/sheetdb/internal/query"
	"github.com/roach88/sheetdb/internal/schema"
)

// RelationshipKey is the key under which GetJunctionRecords nests the
// junction row inside each target record.
const RelationshipKey = "relationship"

// GetRelatedRecords returns the records of childTable whose fkField equals
// fkValue: the one-to-many side of a relationship.
func (db *Database) GetRelatedRecords(ctx context.Context, fkValue int64, childTable, fkField string, opts query.Options) (_ *Page, err error) {
	start := time.Now()
	defer func() { db.observe(childTable, "get_related", start, err) }()

	cfg, err := db.registry.Lookup(childTable)
	if err != nil {
		return nil, err
	}
	f, ok := cfg.Field(fkField)
	if !ok {
		return nil, newInvalidQueryError(childTable, fmt.Sprintf("no field %q", fkField), nil)
	}
	if f.Type != schema.TypeNumber {
		return nil, newInvalidQueryError(childTable, fmt.Sprintf("field %q is a %s, not a foreign key", fkField, f.Type), nil)
	}

	rows, err := db.store.Scan(ctx, cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("get related %s: %w", childTable, err)
	}

	var matched []Record
	for _, rec := range decodeRecords(cfg, rows) {
		if id, ok := asID(rec[fkField]); ok && id == fkValue {
			matched = append(matched, rec)
		}
	}
	return pageOf(cfg, matched, opts)
}

// GetJunctionRecords returns the target records linked to sourceID through a
// junction table. Each target record carries the junction row under
// RelationshipKey, which replaces any target field of that name.
//
// The junction is undirected: swapping source and target walks the same rows
// the other way. source and target name a linked table or its fk column; on
// a self-junction the column picks the direction. Junction rows whose target
// no longer exists are skipped. Sorting applies to the target's fields.
func (db *Database) GetJunctionRecords(ctx context.Context, junction, source, target string, sourceID int64, opts query.Options) (_ *Page, err error) {
	start := time.Now()
	defer func() { db.observe(junction, "get_junction", start, err) }()

	jcfg, err := db.registry.Lookup(junction)
	if err != nil {
		return nil, err
	}
	srcLink, tgtLink, err := junctionLinks(jcfg, source, target)
	if err != nil {
		return nil, err
	}
	tcfg, err := db.registry.Lookup(tgtLink.Table)
	if err != nil {
		return nil, err
	}

	rows, err := db.store.Scan(ctx, jcfg.Name)
	if err != nil {
		return nil, fmt.Errorf("get junction %s: %w", junction, err)
	}

	var links []Record
	var targetIDs []int64
	for _, rec := range decodeRecords(jcfg, rows) {
		if id, ok := asID(rec[srcLink.Field]); !ok || id != sourceID {
			continue
		}
		tid, ok := asID(rec[tgtLink.Field])
		if !ok {
			continue
		}
		links = append(links, rec)
		targetIDs = append(targetIDs, tid)
	}

	targets, err := db.store.GetMany(ctx, tcfg.Name, targetIDs)
	if err != nil {
		return nil, fmt.Errorf("get junction %s: %w", junction, err)
	}

	merged := make([]Record, 0, len(links))
	for i, link := range links {
		row, ok := targets[targetIDs[i]]
		if !ok {
			slog.Debug("junction row points at missing record",
				"junction", junction,
				"row", link.ID(),
				"target", target,
				"target_id", targetIDs[i],
			)
			continue
		}
		rec := decodeRecord(tcfg, row)
		rec[RelationshipKey] = link
		merged = append(merged, rec)
	}
	return pageOf(tcfg, merged, opts)
}

// junctionLinks resolves which junction columns hold the source and target
// ids. Each side is named by its table or by its fk column. A self-junction
// named by table twice walks left to right; naming the right fk column as
// the source walks it the other way.
func junctionLinks(jcfg schema.TableConfig, source, target string) (schema.Link, schema.Link, error) {
	if !jcfg.IsJunction() {
		return schema.Link{}, schema.Link{}, newInvalidQueryError(jcfg.Name, "not a junction table", nil)
	}
	j := jcfg.Junction

	src, ok := j.LinkByField(source)
	if !ok {
		src, ok = j.LinkFor(source)
	}
	if !ok {
		return schema.Link{}, schema.Link{}, newInvalidQueryError(jcfg.Name, fmt.Sprintf("does not link %s", source), nil)
	}

	tgt, ok := j.LinkByField(target)
	if !ok {
		if other := j.Other(src); other.Table == target {
			tgt, ok = other, true
		}
	}
	if !ok || tgt == src {
		return schema.Link{}, schema.Link{}, newInvalidQueryError(jcfg.Name, fmt.Sprintf("does not link %s to %s", source, target), nil)
	}
	return src, tgt, nil
}

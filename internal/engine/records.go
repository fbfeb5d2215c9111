package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/roach88/sheetdb/internal/schema"
	"github.com/roach88/sheetdb/internal/store"
	"github.com/roach88/sheetdb/internal/validate"
)

// Create validates raw and appends it to the table under the next unused id.
//
// Coercion problems on optional fields are reported in Write.Report and do
// not abort. A required field without a value aborts with a validation Error.
func (db *Database) Create(ctx context.Context, table string, raw map[string]any, opts ...WriteOption) (*Write, error) {
	w, _, err := db.create(ctx, table, raw, false, opts)
	return w, err
}

// CreateWithLogs is Create plus the field-by-field validation trace.
// The trace is returned even when validation fails.
func (db *Database) CreateWithLogs(ctx context.Context, table string, raw map[string]any, opts ...WriteOption) (*Write, validate.Trace, error) {
	return db.create(ctx, table, raw, true, opts)
}

func (db *Database) create(ctx context.Context, table string, raw map[string]any, withTrace bool, opts []WriteOption) (_ *Write, _ validate.Trace, err error) {
	start := time.Now()
	defer func() { db.observe(table, "create", start, err) }()

	cfg, err := db.registry.Lookup(table)
	if err != nil {
		return nil, nil, err
	}
	wo := collectWriteOptions(opts)

	res, trace, err := runValidation(cfg, raw, validate.Options{Allowed: wo.allowed}, withTrace)
	if err != nil {
		return nil, trace, newValidationError(table, 0, err)
	}

	var row store.Row
	err = db.withLock(ctx, table, func(ctx context.Context) error {
		var err error
		row, err = db.store.Insert(ctx, cfg.Name, cfg.History(), res.Values)
		return err
	})
	if err != nil {
		return nil, trace, fmt.Errorf("create %s: %w", table, err)
	}

	slog.Debug("record created", "table", table, "id", row.ID)
	return &Write{Record: decodeRecord(cfg, row), Report: res.Report}, trace, nil
}

// Read returns a live record.
func (db *Database) Read(ctx context.Context, table string, id int64) (_ Record, err error) {
	start := time.Now()
	defer func() { db.observe(table, "read", start, err) }()

	cfg, err := db.registry.Lookup(table)
	if err != nil {
		return nil, err
	}
	row, err := db.store.Get(ctx, cfg.Name, id)
	if errors.Is(err, store.ErrRowNotFound) {
		return nil, newNotFoundError(table, id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	return decodeRecord(cfg, row), nil
}

// ReadHistory returns a removed record from the table's history.
func (db *Database) ReadHistory(ctx context.Context, table string, id int64) (_ Record, err error) {
	start := time.Now()
	defer func() { db.observe(table, "read_history", start, err) }()

	cfg, err := db.registry.Lookup(table)
	if err != nil {
		return nil, err
	}
	row, err := db.store.Get(ctx, cfg.History(), id)
	if errors.Is(err, store.ErrRowNotFound) {
		return nil, newNotFoundError(cfg.History(), id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("read history %s: %w", table, err)
	}
	return decodeRecord(cfg, row), nil
}

// Update applies patch to a live record.
//
// Only fields present in the patch change; each is re-validated. The read of
// the current record and the write happen under the table lock, so
// concurrent updates never lose each other's fields.
func (db *Database) Update(ctx context.Context, table string, id int64, patch map[string]any, opts ...WriteOption) (*Write, error) {
	w, _, err := db.update(ctx, table, id, patch, false, opts)
	return w, err
}

// UpdateWithLogs is Update plus the field-by-field validation trace.
func (db *Database) UpdateWithLogs(ctx context.Context, table string, id int64, patch map[string]any, opts ...WriteOption) (*Write, validate.Trace, error) {
	return db.update(ctx, table, id, patch, true, opts)
}

func (db *Database) update(ctx context.Context, table string, id int64, patch map[string]any, withTrace bool, opts []WriteOption) (_ *Write, _ validate.Trace, err error) {
	start := time.Now()
	defer func() { db.observe(table, "update", start, err) }()

	cfg, err := db.registry.Lookup(table)
	if err != nil {
		return nil, nil, err
	}
	wo := collectWriteOptions(opts)

	res, trace, err := runValidation(cfg, patch, validate.Options{Allowed: wo.allowed, Partial: true}, withTrace)
	if err != nil {
		return nil, trace, newValidationError(table, id, err)
	}

	var merged store.Row
	err = db.withLock(ctx, table, func(ctx context.Context) error {
		current, err := db.store.Get(ctx, cfg.Name, id)
		if errors.Is(err, store.ErrRowNotFound) {
			return newNotFoundError(table, id, err)
		}
		if err != nil {
			return err
		}

		values := maps.Clone(current.Values)
		maps.Copy(values, res.Values)
		if err := db.store.Replace(ctx, cfg.Name, id, values); err != nil {
			return err
		}
		merged = store.Row{ID: id, Seq: current.Seq, Values: values}
		return nil
	})
	if err != nil {
		return nil, trace, fmt.Errorf("update %s: %w", table, err)
	}

	slog.Debug("record updated", "table", table, "id", id, "fields", len(res.Values))
	return &Write{Record: decodeRecord(cfg, merged), Report: res.Report}, trace, nil
}

// Remove moves a live record to the table's history.
//
// The history insert and the live delete commit together: if the history
// write fails the record stays live. Junction rows referencing the record
// are left alone; see RemoveWithCascade.
func (db *Database) Remove(ctx context.Context, table string, id int64) (_ Record, err error) {
	start := time.Now()
	defer func() { db.observe(table, "remove", start, err) }()

	cfg, err := db.registry.Lookup(table)
	if err != nil {
		return nil, err
	}
	return db.moveRecord(ctx, cfg, cfg.Name, cfg.History(), id, "remove")
}

// Restore moves a removed record from history back to the live table under
// its original id. It is appended at the end of the table's insertion order.
func (db *Database) Restore(ctx context.Context, table string, id int64) (_ Record, err error) {
	start := time.Now()
	defer func() { db.observe(table, "restore", start, err) }()

	cfg, err := db.registry.Lookup(table)
	if err != nil {
		return nil, err
	}
	return db.moveRecord(ctx, cfg, cfg.History(), cfg.Name, id, "restore")
}

func (db *Database) moveRecord(ctx context.Context, cfg schema.TableConfig, from, to string, id int64, op string) (Record, error) {
	table := cfg.Name

	var row store.Row
	err := db.withLock(ctx, table, func(ctx context.Context) error {
		var err error
		row, err = db.store.Move(ctx, from, to, id)
		if errors.Is(err, store.ErrRowNotFound) {
			return newNotFoundError(from, id, err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, table, err)
	}

	slog.Debug("record moved", "op", op, "from", from, "to", to, "id", id)
	return decodeRecord(cfg, row), nil
}

// ReadIDList returns the live records with the given ids.
//
// Data keeps the input order of the ids that were found; NotFound lists the
// missing ids in input order. Neither is nil.
func (db *Database) ReadIDList(ctx context.Context, table string, ids []int64) (_ *IDList, err error) {
	start := time.Now()
	defer func() { db.observe(table, "read_id_list", start, err) }()

	cfg, err := db.registry.Lookup(table)
	if err != nil {
		return nil, err
	}

	rows, err := db.store.GetMany(ctx, cfg.Name, ids)
	if err != nil {
		return nil, fmt.Errorf("read id list %s: %w", table, err)
	}

	out := &IDList{Data: []Record{}, NotFound: []int64{}}
	for _, id := range ids {
		row, ok := rows[id]
		if !ok {
			out.NotFound = append(out.NotFound, id)
			continue
		}
		out.Data = append(out.Data, decodeRecord(cfg, row))
	}
	return out, nil
}

func runValidation(cfg schema.TableConfig, raw map[string]any, opts validate.Options, withTrace bool) (validate.Result, validate.Trace, error) {
	if withTrace {
		return validate.ValidateWithLogs(cfg, raw, opts)
	}
	res, err := validate.Validate(cfg, raw, opts)
	return res, nil, err
}

package engine

import (
	"log/slog"
	"math"

	"github.com/roach88/sheetdb/internal/schema"
	"github.com/roach88/sheetdb/internal/store"
	"github.com/roach88/sheetdb/internal/validate"
)

// Record is one row of a table: the id plus every declared field.
// Fields without a value are present with a nil value.
type Record map[string]any

// ID returns the record identifier, or 0 if it has none.
func (r Record) ID() int64 {
	id, _ := r[schema.IDField].(int64)
	return id
}

// Write is the result of a successful create or update.
type Write struct {
	Record Record          `json:"record"`
	Report validate.Report `json:"report"`
}

// IDList is the result of ReadIDList. Data follows the input order; NotFound
// lists missing ids in input order.
type IDList struct {
	Data     []Record `json:"data"`
	NotFound []int64  `json:"notFound"`
}

// WriteOption configures a create or update.
type WriteOption func(*writeOptions)

type writeOptions struct {
	allowed []string
}

// WithAllowedFields restricts which input keys are accepted. Other keys are
// dropped and reported as skipped.
func WithAllowedFields(fields ...string) WriteOption {
	return func(o *writeOptions) {
		o.allowed = fields
	}
}

func collectWriteOptions(opts []WriteOption) writeOptions {
	var wo writeOptions
	for _, opt := range opts {
		opt(&wo)
	}
	return wo
}

// decodeRecord applies the table schema to a stored row.
//
// A stored value that no longer coerces (the schema changed after it was
// written) is returned as stored.
func decodeRecord(cfg schema.TableConfig, row store.Row) Record {
	rec := make(Record, len(cfg.Fields)+1)
	rec[schema.IDField] = row.ID
	for _, f := range cfg.Fields {
		v, ok := row.Values[f.Name]
		if !ok || v == nil {
			rec[f.Name] = nil
			continue
		}
		c, err := f.Coerce(v)
		if err != nil {
			slog.Warn("stored value does not match schema",
				"table", cfg.Name,
				"id", row.ID,
				"field", f.Name,
				"error", err,
			)
			rec[f.Name] = v
			continue
		}
		rec[f.Name] = c
	}
	return rec
}

func decodeRecords(cfg schema.TableConfig, rows []store.Row) []Record {
	out := make([]Record, len(rows))
	for i, row := range rows {
		out[i] = decodeRecord(cfg, row)
	}
	return out
}

// asID converts a decoded fk value to a record id. Only positive whole
// numbers qualify.
func asID(v any) (int64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int64:
		return n, n > 0
	case int:
		return int64(n), n > 0
	default:
		return 0, false
	}
	if f <= 0 || f != math.Trunc(f) || f >= 1<<63 {
		return 0, false
	}
	return int64(f), true
}

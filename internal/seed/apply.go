package seed

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"slices"
	"time"

	"github.com/roach88/sheetdb/internal/engine"
	"github.com/roach88/sheetdb/internal/query"
	"github.com/roach88/sheetdb/internal/schema"
)

// Result summarizes an Apply run.
type Result struct {
	Fixture string `json:"fixture"`

	// Created maps each table to the ids created in it, in step order.
	Created map[string][]int64 `json:"created"`
	Updated int                `json:"updated"`
	Removed int                `json:"removed"`
}

// StepError reports the step that stopped a run.
type StepError struct {
	Index int
	Kind  string
	Table string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s %s): %v", e.Index, e.Kind, e.Table, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Apply runs the fixture steps against db in order. Steps already applied
// when one fails stay applied.
func Apply(ctx context.Context, db *engine.Database, f *Fixture) (*Result, error) {
	res := &Result{Fixture: f.Name, Created: map[string][]int64{}}

	for i, step := range f.Steps {
		kind, table := step.Kind()
		if err := applyStep(ctx, db, step, res); err != nil {
			return res, &StepError{Index: i, Kind: kind, Table: table, Err: err}
		}
	}

	slog.Info("fixture applied",
		"fixture", f.Name,
		"steps", len(f.Steps),
		"updated", res.Updated,
		"removed", res.Removed,
	)
	return res, nil
}

func applyStep(ctx context.Context, db *engine.Database, step Step, res *Result) error {
	kind, table := step.Kind()
	switch kind {
	case KindCreate:
		values := step.Values
		if values == nil {
			values = map[string]any{}
		}
		w, err := db.Create(ctx, table, values)
		if err != nil {
			return err
		}
		res.Created[table] = append(res.Created[table], w.Record.ID())
	case KindUpdate:
		if _, err := db.Update(ctx, table, step.ID, step.Values); err != nil {
			return err
		}
		res.Updated++
	case KindRemove:
		var err error
		if step.Cascade {
			_, err = db.RemoveWithCascade(ctx, table, step.ID)
		} else {
			_, err = db.Remove(ctx, table, step.ID)
		}
		if err != nil {
			return err
		}
		res.Removed++
	}
	return nil
}

// Mismatch is one failed expectation.
type Mismatch struct {
	Table string `json:"table"`
	ID    int64  `json:"id,omitempty"`
	Field string `json:"field,omitempty"`
	Want  any    `json:"want"`
	Got   any    `json:"got"`
}

func (m Mismatch) String() string {
	switch {
	case m.Field != "":
		return fmt.Sprintf("%s #%d %s: want %v, got %v", m.Table, m.ID, m.Field, m.Want, m.Got)
	case m.ID > 0:
		return fmt.Sprintf("%s #%d: want %v, got %v", m.Table, m.ID, m.Want, m.Got)
	default:
		return fmt.Sprintf("%s count: want %v, got %v", m.Table, m.Want, m.Got)
	}
}

// Verify checks the fixture expectations. Mismatches are data; the error
// is reserved for lookups that could not run.
func Verify(ctx context.Context, db *engine.Database, f *Fixture) ([]Mismatch, error) {
	var out []Mismatch
	for _, e := range f.Expect {
		cfg, err := db.Table(e.Table)
		if err != nil {
			return nil, err
		}

		if e.Count != nil {
			page, err := db.GetAll(ctx, e.Table, query.Options{}, false)
			if err != nil {
				return nil, fmt.Errorf("count %s: %w", e.Table, err)
			}
			if page.Metadata.Total != *e.Count {
				out = append(out, Mismatch{Table: e.Table, Want: *e.Count, Got: page.Metadata.Total})
			}
		}

		if e.ID > 0 {
			ms, err := verifyRecord(ctx, db, cfg, e)
			if err != nil {
				return nil, err
			}
			out = append(out, ms...)
		}
	}
	return out, nil
}

func verifyRecord(ctx context.Context, db *engine.Database, cfg schema.TableConfig, e Expectation) ([]Mismatch, error) {
	read := db.Read
	where := "live"
	if e.Removed {
		read = db.ReadHistory
		where = "removed"
	}

	rec, err := read(ctx, e.Table, e.ID)
	if engine.IsNotFound(err) {
		return []Mismatch{{Table: e.Table, ID: e.ID, Want: where, Got: "not found"}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s #%d: %w", e.Table, e.ID, err)
	}

	var out []Mismatch
	for _, name := range slices.Sorted(maps.Keys(e.Values)) {
		want := e.Values[name]
		got, ok := rec[name]
		if !ok {
			out = append(out, Mismatch{Table: e.Table, ID: e.ID, Field: name, Want: want, Got: "no such field"})
			continue
		}
		if f, declared := cfg.Field(name); declared && want != nil {
			if c, err := f.Coerce(want); err == nil {
				want = c
			}
		}
		if name == schema.IDField {
			want, got = fmt.Sprint(want), fmt.Sprint(got)
		}
		if !sameValue(want, got) {
			out = append(out, Mismatch{Table: e.Table, ID: e.ID, Field: name, Want: want, Got: got})
		}
	}
	return out, nil
}

func sameValue(a, b any) bool {
	ta, aok := a.(time.Time)
	tb, bok := b.(time.Time)
	if aok && bok {
		return ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}

// Tables compiles the fixture's schema directories in order.
func (f *Fixture) Tables() ([]schema.TableConfig, error) {
	var out []schema.TableConfig
	for _, dir := range f.Schema {
		tables, err := schema.LoadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("fixture %s: %w", f.Name, err)
		}
		out = append(out, tables...)
	}
	return out, nil
}

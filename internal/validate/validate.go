// Package validate applies a table schema to raw input records.
//
// Validation never aborts on the first problem. Every declared field is
// visited, coercion failures are collected into a Report, and the call only
// fails with a ValidationError when a required field ends up without a value.
package validate

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/sheetdb/internal/schema"
)

// Action records what happened to a single field.
type Action string

const (
	ActionCoerced   Action = "coerced"
	ActionDefaulted Action = "defaulted"
	ActionNull      Action = "null"
	ActionMissing   Action = "missing"
	ActionFailed    Action = "failed"
	ActionSkipped   Action = "skipped"
	ActionUnchanged Action = "unchanged"
)

// FieldTrace is one line of the diagnostic trace returned by ValidateWithLogs.
type FieldTrace struct {
	Field   string `json:"field"`
	Raw     any    `json:"raw"`
	Coerced any    `json:"coerced"`
	Action  Action `json:"action"`
	Error   string `json:"error,omitempty"`
}

// Trace is the field-by-field log of a validation run, in schema order
// followed by skipped input keys in sorted order.
type Trace []FieldTrace

// Options configures a validation run.
type Options struct {
	// Allowed restricts which input keys are accepted. Nil accepts every
	// declared field. Keys outside the list are dropped and traced as skipped.
	Allowed []string

	// Partial validates a patch: fields absent from the input are left
	// untouched instead of defaulted or reported missing.
	Partial bool
}

// Report collects the non-fatal findings of a run.
type Report struct {
	Coercion  []*TypeCoercionError `json:"coercion,omitempty"`
	Defaulted []string             `json:"defaulted,omitempty"`
	Missing   []string             `json:"missing,omitempty"`
	Skipped   []string             `json:"skipped,omitempty"`
}

// Clean reports whether the run produced no findings at all.
func (r Report) Clean() bool {
	return len(r.Coercion) == 0 && len(r.Missing) == 0 && len(r.Skipped) == 0
}

// Result is the outcome of a successful run.
type Result struct {
	// Values holds coerced values keyed by field name. In partial mode only
	// the fields present in the patch appear.
	Values map[string]any
	Report Report
}

// Validate coerces raw against cfg.
func Validate(cfg schema.TableConfig, raw map[string]any, opts Options) (Result, error) {
	res, _, err := run(cfg, raw, opts, false)
	return res, err
}

// ValidateWithLogs is Validate plus a per-field trace for diagnostics.
// The trace is returned even when validation fails.
func ValidateWithLogs(cfg schema.TableConfig, raw map[string]any, opts Options) (Result, Trace, error) {
	return run(cfg, raw, opts, true)
}

func run(cfg schema.TableConfig, raw map[string]any, opts Options, withTrace bool) (Result, Trace, error) {
	res := Result{Values: make(map[string]any, len(cfg.Fields))}
	var trace Trace
	var fatal []string

	record := func(ft FieldTrace) {
		if withTrace {
			trace = append(trace, ft)
		}
	}

	allowed := func(name string) bool {
		return opts.Allowed == nil || slices.Contains(opts.Allowed, name)
	}

	for _, f := range cfg.Fields {
		v, present := raw[f.Name]
		if present && !allowed(f.Name) {
			present = false
		}

		if !present && opts.Partial {
			record(FieldTrace{Field: f.Name, Action: ActionUnchanged})
			continue
		}

		if present && v == nil && f.NullPolicy == schema.NullAllowed {
			res.Values[f.Name] = nil
			record(FieldTrace{Field: f.Name, Action: ActionNull})
			continue
		}

		if !present || v == nil {
			switch {
			case f.HasDefault():
				res.Values[f.Name] = f.Default
				res.Report.Defaulted = append(res.Report.Defaulted, f.Name)
				record(FieldTrace{Field: f.Name, Raw: v, Coerced: f.Default, Action: ActionDefaulted})
			case f.Optional:
				res.Values[f.Name] = nil
				res.Report.Missing = append(res.Report.Missing, f.Name)
				record(FieldTrace{Field: f.Name, Raw: v, Action: ActionMissing})
			default:
				res.Report.Missing = append(res.Report.Missing, f.Name)
				fatal = append(fatal, f.Name)
				record(FieldTrace{Field: f.Name, Raw: v, Action: ActionMissing, Error: "required field is missing"})
			}
			continue
		}

		coerced, err := f.Coerce(v)
		if err != nil {
			ce := &TypeCoercionError{Table: cfg.Name, Field: f.Name, Type: f.Type, Value: v, Err: err}
			res.Report.Coercion = append(res.Report.Coercion, ce)
			ft := FieldTrace{Field: f.Name, Raw: v, Action: ActionFailed, Error: err.Error()}

			switch {
			case f.Required():
				fatal = append(fatal, f.Name)
			case opts.Partial:
				// leave the stored value untouched
			case f.HasDefault():
				res.Values[f.Name] = f.Default
				res.Report.Defaulted = append(res.Report.Defaulted, f.Name)
				ft.Coerced = f.Default
			default:
				res.Values[f.Name] = nil
			}
			record(ft)
			continue
		}

		res.Values[f.Name] = coerced
		record(FieldTrace{Field: f.Name, Raw: v, Coerced: coerced, Action: ActionCoerced})
	}

	for _, key := range skippedKeys(cfg, raw, allowed) {
		res.Report.Skipped = append(res.Report.Skipped, key)
		record(FieldTrace{Field: key, Raw: raw[key], Action: ActionSkipped})
	}

	if len(fatal) > 0 {
		return res, trace, &ValidationError{
			Table:    cfg.Name,
			Fields:   fatal,
			Coercion: res.Report.Coercion,
		}
	}
	return res, trace, nil
}

// skippedKeys returns input keys that are undeclared or not allowed, sorted.
func skippedKeys(cfg schema.TableConfig, raw map[string]any, allowed func(string) bool) []string {
	var keys []string
	for k := range raw {
		if _, declared := cfg.Field(k); declared && allowed(k) {
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// TypeCoercionError reports a value that could not be converted to its
// declared type. It is non-fatal unless the field is required.
type TypeCoercionError struct {
	Table string           `json:"table"`
	Field string           `json:"field"`
	Type  schema.FieldType `json:"type"`
	Value any              `json:"value"`
	Err   error            `json:"-"`
}

func (e *TypeCoercionError) Error() string {
	return fmt.Sprintf("%s.%s: cannot coerce %v to %s: %v", e.Table, e.Field, e.Value, e.Type, e.Err)
}

func (e *TypeCoercionError) Unwrap() error {
	return e.Err
}

// ValidationError aborts a create or update: at least one required field has
// no usable value.
type ValidationError struct {
	Table    string
	Fields   []string
	Coercion []*TypeCoercionError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: required field(s) without value: %s",
		e.Table, strings.Join(e.Fields, ", "))
}

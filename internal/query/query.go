// Package query sorts and paginates record sets.
//
// The zero Options value returns every record in insertion order. Sorting is
// stable and follows the declared field type: numbers numerically, dates
// chronologically, booleans false before true, strings lexicographically.
// Empty values sort last in both directions.
package query

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/sheetdb/internal/schema"
)

// SortOrder is the direction of a sort.
type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// Options controls pagination and sorting. Pages are 1-based.
type Options struct {
	Page      int       `json:"page,omitempty"`
	PageSize  int       `json:"pageSize,omitempty"`
	SortBy    string    `json:"sortBy,omitempty"`
	SortOrder SortOrder `json:"sortOrder,omitempty"`
}

// Paginated reports whether the options select a page.
func (o Options) Paginated() bool {
	return o.PageSize > 0
}

// Normalize fills defaults and rejects out-of-range values.
//
// A page without a page size is ignored. A page size without a page selects
// page 1. The sort order defaults to ascending and is case-insensitive.
func (o Options) Normalize() (Options, error) {
	if o.Page < 0 {
		return o, &OptionsError{Option: "page", Message: fmt.Sprintf("must be positive, got %d", o.Page)}
	}
	if o.PageSize < 0 {
		return o, &OptionsError{Option: "pageSize", Message: fmt.Sprintf("must be positive, got %d", o.PageSize)}
	}
	if o.PageSize == 0 {
		o.Page = 0
	} else if o.Page == 0 {
		o.Page = 1
	}

	switch SortOrder(strings.ToLower(string(o.SortOrder))) {
	case "", Asc:
		o.SortOrder = Asc
	case Desc:
		o.SortOrder = Desc
	default:
		return o, &OptionsError{Option: "sortOrder", Message: fmt.Sprintf("must be asc or desc, got %q", o.SortOrder)}
	}
	if o.SortBy == "" {
		o.SortOrder = ""
	}
	return o, nil
}

// OptionsError reports an unusable query option.
type OptionsError struct {
	Option  string
	Message string
}

func (e *OptionsError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Option, e.Message)
}

// Metadata describes the page that was returned.
type Metadata struct {
	Total     int `json:"total"`
	Page      int `json:"page"`
	PageSize  int `json:"pageSize"`
	PageCount int `json:"pageCount"`
}

// Apply sorts and paginates rows according to opts.
//
// cfg supplies the field types used for sorting; the implicit id column
// sorts as a number. rows is not modified. Sorting by an undeclared field is
// an OptionsError.
func Apply[R ~map[string]any](cfg schema.TableConfig, rows []R, opts Options) ([]R, Metadata, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, Metadata{}, err
	}

	out := slices.Clone(rows)
	if out == nil {
		out = []R{}
	}

	if opts.SortBy != "" {
		typ, ok := sortType(cfg, opts.SortBy)
		if !ok {
			return nil, Metadata{}, &OptionsError{
				Option:  "sortBy",
				Message: fmt.Sprintf("%s has no field %q", cfg.Name, opts.SortBy),
			}
		}
		field := opts.SortBy
		desc := opts.SortOrder == Desc
		slices.SortStableFunc(out, func(a, b R) int {
			return compareValues(typ, a[field], b[field], desc)
		})
	}

	meta := Metadata{Total: len(out)}
	if !opts.Paginated() {
		meta.Page = 1
		meta.PageSize = len(out)
		if len(out) > 0 {
			meta.PageCount = 1
		}
		return out, meta, nil
	}

	meta.Page = opts.Page
	meta.PageSize = opts.PageSize
	meta.PageCount = len(out) / opts.PageSize
	if len(out)%opts.PageSize != 0 {
		meta.PageCount++
	}

	// Compare page indexes before multiplying: page and pageSize come
	// straight from clients and their product can overflow.
	if len(out) == 0 || opts.Page-1 > (len(out)-1)/opts.PageSize {
		return []R{}, meta, nil
	}
	start := (opts.Page - 1) * opts.PageSize
	end := len(out)
	if opts.PageSize < end-start {
		end = start + opts.PageSize
	}
	return out[start:end], meta, nil
}

func sortType(cfg schema.TableConfig, field string) (schema.FieldType, bool) {
	if field == schema.IDField {
		return schema.TypeNumber, true
	}
	f, ok := cfg.Field(field)
	if !ok {
		return 0, false
	}
	return f.Type, true
}

// compareValues orders a and b by type. Values that do not have the expected
// Go type are treated as empty.
func compareValues(typ schema.FieldType, a, b any, desc bool) int {
	ka, okA := sortKey(typ, a)
	kb, okB := sortKey(typ, b)
	switch {
	case !okA && !okB:
		return 0
	case !okA:
		return 1
	case !okB:
		return -1
	}

	var c int
	switch typ {
	case schema.TypeNumber:
		c = cmp.Compare(ka.(float64), kb.(float64))
	case schema.TypeDate:
		c = ka.(time.Time).Compare(kb.(time.Time))
	case schema.TypeBoolean:
		c = cmp.Compare(boolRank(ka.(bool)), boolRank(kb.(bool)))
	default:
		c = strings.Compare(ka.(string), kb.(string))
	}
	if desc {
		return -c
	}
	return c
}

func sortKey(typ schema.FieldType, v any) (any, bool) {
	if v == nil {
		return nil, false
	}
	switch typ {
	case schema.TypeNumber:
		switch n := v.(type) {
		case float64:
			return n, true
		case int64:
			return float64(n), true
		case int:
			return float64(n), true
		}
	case schema.TypeDate:
		if t, ok := v.(time.Time); ok {
			return t, true
		}
	case schema.TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, true
		}
	default:
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	return nil, false
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

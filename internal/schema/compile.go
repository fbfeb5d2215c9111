package schema

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
)

// CompileString compiles CUE source text into table configurations.
//
// The expected shape is:
//
//	table: CATEGORY: {
//		history: "CATEGORY_HISTORY" // optional
//		fields: {
//			name:       {type: "string", default: "default_name"}
//			created_at: {type: "date", null: "missing", optional: true}
//			notes:      "string" // shorthand for {type: "string"}
//		}
//	}
//	junction: ORDER_DETAIL: {
//		left:  "ORDER"
//		right: "PRODUCT"
//		fields: quantity: {type: "number", default: 1}
//	}
func CompileString(src string) ([]TableConfig, error) {
	v := cuecontext.New().CompileString(src)
	return CompileTables(v)
}

// LoadDir loads every CUE file of the package in dir and compiles it.
func LoadDir(dir string) ([]TableConfig, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("schema dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("schema dir: not a directory: %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("schema dir: no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", inst.Err)
	}

	v := cuecontext.New().BuildInstance(inst)
	return CompileTables(v)
}

// CompileTables converts a CUE value into table configurations.
// Plain tables come first in declaration order, then junctions, so the
// result can be registered in sequence.
func CompileTables(v cue.Value) ([]TableConfig, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	var tables []TableConfig
	byName := make(map[string]TableConfig)

	tablesVal := v.LookupPath(cue.ParsePath("table"))
	if tablesVal.Exists() {
		iter, err := tablesVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			cfg, err := compileTable(iter.Label(), iter.Value())
			if err != nil {
				return nil, err
			}
			tables = append(tables, cfg)
			byName[cfg.Name] = cfg
		}
	}

	junctionsVal := v.LookupPath(cue.ParsePath("junction"))
	if junctionsVal.Exists() {
		iter, err := junctionsVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			cfg, err := compileJunction(iter.Label(), iter.Value(), byName)
			if err != nil {
				return nil, err
			}
			tables = append(tables, cfg)
		}
	}

	if len(tables) == 0 {
		return nil, &SchemaError{Field: "table", Message: "no tables found in schema"}
	}
	return tables, nil
}

func compileTable(name string, v cue.Value) (TableConfig, error) {
	cfg := TableConfig{Name: name}

	histVal := v.LookupPath(cue.ParsePath("history"))
	if histVal.Exists() {
		h, err := histVal.String()
		if err != nil {
			return cfg, formatCUEError(err)
		}
		cfg.HistoryName = h
	}

	fields, err := compileFields(name, v)
	if err != nil {
		return cfg, err
	}
	cfg.Fields = fields
	return cfg, nil
}

func compileJunction(name string, v cue.Value, tables map[string]TableConfig) (TableConfig, error) {
	side := func(key string) (TableConfig, error) {
		sv := v.LookupPath(cue.ParsePath(key))
		if !sv.Exists() {
			return TableConfig{}, &SchemaError{Table: name, Field: key, Message: "junction side is required", Pos: v.Pos()}
		}
		s, err := sv.String()
		if err != nil {
			return TableConfig{}, formatCUEError(err)
		}
		t, ok := tables[s]
		if !ok {
			return TableConfig{}, &SchemaError{Table: name, Field: key, Message: fmt.Sprintf("unknown table %q", s), Pos: sv.Pos()}
		}
		return t, nil
	}

	left, err := side("left")
	if err != nil {
		return TableConfig{}, err
	}
	right, err := side("right")
	if err != nil {
		return TableConfig{}, err
	}

	extra, err := compileFields(name, v)
	if err != nil {
		return TableConfig{}, err
	}
	return DeriveJunctionConfig(name, left, right, extra), nil
}

func compileFields(table string, v cue.Value) ([]FieldDef, error) {
	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return nil, nil
	}

	iter, err := fieldsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var fields []FieldDef
	for iter.Next() {
		fd, err := compileField(table, iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		fields = append(fields, fd)
	}
	return fields, nil
}

func compileField(table, name string, v cue.Value) (FieldDef, error) {
	fd := FieldDef{Name: name}

	// Shorthand: `name: "string"`
	if s, err := v.String(); err == nil {
		t, err := ParseFieldType(s)
		if err != nil {
			return fd, &SchemaError{Table: table, Field: name, Message: err.Error(), Pos: v.Pos()}
		}
		fd.Type = t
		return fd, nil
	}

	typeVal := v.LookupPath(cue.ParsePath("type"))
	if !typeVal.Exists() {
		return fd, &SchemaError{Table: table, Field: name, Message: "field type is required", Pos: v.Pos()}
	}
	ts, err := typeVal.String()
	if err != nil {
		return fd, formatCUEError(err)
	}
	if fd.Type, err = ParseFieldType(ts); err != nil {
		return fd, &SchemaError{Table: table, Field: name, Message: err.Error(), Pos: typeVal.Pos()}
	}

	if nv := v.LookupPath(cue.ParsePath("null")); nv.Exists() {
		ns, err := nv.String()
		if err != nil {
			return fd, formatCUEError(err)
		}
		if fd.NullPolicy, err = ParseNullPolicy(ns); err != nil {
			return fd, &SchemaError{Table: table, Field: name, Message: err.Error(), Pos: nv.Pos()}
		}
	}

	if ov := v.LookupPath(cue.ParsePath("optional")); ov.Exists() {
		if fd.Optional, err = ov.Bool(); err != nil {
			return fd, formatCUEError(err)
		}
	}

	if dv := v.LookupPath(cue.ParsePath("default")); dv.Exists() {
		if fd.Default, err = decodeScalar(dv); err != nil {
			return fd, &SchemaError{Table: table, Field: name, Message: fmt.Sprintf("default: %v", err), Pos: dv.Pos()}
		}
	}

	return fd, nil
}

// decodeScalar converts a concrete CUE scalar to a Go value.
func decodeScalar(v cue.Value) (any, error) {
	switch v.Kind() {
	case cue.NullKind:
		return nil, nil
	case cue.StringKind:
		return v.String()
	case cue.BoolKind:
		return v.Bool()
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, err
		}
		return float64(n), nil
	case cue.FloatKind:
		return v.Float64()
	default:
		return nil, fmt.Errorf("unsupported default kind %v", v.Kind())
	}
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := cueerrors.Positions(first)
	if len(positions) > 0 {
		return &SchemaError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}

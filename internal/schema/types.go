package schema

import (
	"fmt"
	"strings"
)

// IDField is the implicit identifier column present on every table.
const IDField = "id"

// HistorySuffix is appended to a table name when no history name is given.
const HistorySuffix = "_HISTORY"

// NullPolicy controls how an explicit null input value is treated.
type NullPolicy int

const (
	// NullAllowed stores null as a value.
	NullAllowed NullPolicy = iota
	// NullAsMissing treats null exactly like an absent value, so defaults apply.
	NullAsMissing
)

// String returns the schema-file spelling of the policy.
func (p NullPolicy) String() string {
	if p == NullAsMissing {
		return "missing"
	}
	return "allow"
}

// ParseNullPolicy parses "allow" or "missing".
func ParseNullPolicy(s string) (NullPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "allow":
		return NullAllowed, nil
	case "missing":
		return NullAsMissing, nil
	default:
		return 0, fmt.Errorf("unknown null policy %q", s)
	}
}

// FieldDef describes one declared column.
type FieldDef struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`

	// Default is substituted when the value is absent. Nil means no default.
	Default any `json:"default,omitempty"`

	NullPolicy NullPolicy `json:"null_policy"`

	// Optional fields may be missing without aborting a create.
	Optional bool `json:"optional,omitempty"`

	coerce Coercer
}

// HasDefault reports whether the field declares a default value.
func (f FieldDef) HasDefault() bool {
	return f.Default != nil
}

// Required reports whether a missing value aborts validation.
func (f FieldDef) Required() bool {
	return !f.Optional && !f.HasDefault()
}

// Coerce converts v to the field's type.
func (f FieldDef) Coerce(v any) (any, error) {
	c := f.coerce
	if c == nil {
		c = f.Type.Coercer()
	}
	if c == nil {
		return nil, fmt.Errorf("field %q has invalid type %v", f.Name, f.Type)
	}
	return c(v)
}

// Link is one side of a junction: the referenced table and the fk column
// in the junction that holds its id.
type Link struct {
	Table string `json:"table"`
	Field string `json:"field"`
}

// JunctionRef marks a table as a many-to-many junction between two tables.
// The junction itself is undirected.
type JunctionRef struct {
	Left  Link `json:"left"`
	Right Link `json:"right"`
}

// LinkFor returns the link whose table is the given name, preferring Left.
func (j *JunctionRef) LinkFor(table string) (Link, bool) {
	if j.Left.Table == table {
		return j.Left, true
	}
	if j.Right.Table == table {
		return j.Right, true
	}
	return Link{}, false
}

// LinkByField returns the side whose fk column is field.
func (j *JunctionRef) LinkByField(field string) (Link, bool) {
	for _, l := range j.Links() {
		if l.Field == field {
			return l, true
		}
	}
	return Link{}, false
}

// Other returns the side opposite l.
func (j *JunctionRef) Other(l Link) Link {
	if l == j.Left {
		return j.Right
	}
	return j.Left
}

// Links returns both sides in declaration order.
func (j *JunctionRef) Links() []Link {
	return []Link{j.Left, j.Right}
}

// TableConfig is the full definition of a table.
type TableConfig struct {
	Name        string       `json:"name"`
	HistoryName string       `json:"history_name"`
	Fields      []FieldDef   `json:"fields"`
	Junction    *JunctionRef `json:"junction,omitempty"`
}

// History returns the history table name, defaulting to Name+HistorySuffix.
func (c TableConfig) History() string {
	if c.HistoryName != "" {
		return c.HistoryName
	}
	return c.Name + HistorySuffix
}

// Field looks up a declared field by name.
func (c TableConfig) Field(name string) (FieldDef, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

// FieldNames returns the declared field names in order, without "id".
func (c TableConfig) FieldNames() []string {
	names := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		names[i] = f.Name
	}
	return names
}

// IsJunction reports whether the table is a many-to-many junction.
func (c TableConfig) IsJunction() bool {
	return c.Junction != nil
}

// Check verifies structural invariants and resolves each field's coercer.
// The returned copy is what the registry stores.
func (c TableConfig) Check() (TableConfig, error) {
	if strings.TrimSpace(c.Name) == "" {
		return c, &SchemaError{Table: c.Name, Field: "name", Message: "table name is required"}
	}
	if c.History() == c.Name {
		return c, &SchemaError{Table: c.Name, Field: "history", Message: "history table must differ from the table"}
	}

	out := c
	out.HistoryName = c.History()
	out.Fields = make([]FieldDef, len(c.Fields))

	seen := make(map[string]bool, len(c.Fields))
	for i, f := range c.Fields {
		if f.Name == "" {
			return c, &SchemaError{Table: c.Name, Field: fmt.Sprintf("fields[%d]", i), Message: "field name is required"}
		}
		if f.Name == IDField {
			return c, &SchemaError{Table: c.Name, Field: f.Name, Message: "\"id\" is reserved for the identifier column"}
		}
		if seen[f.Name] {
			return c, &SchemaError{Table: c.Name, Field: f.Name, Message: "duplicate field name"}
		}
		seen[f.Name] = true

		coerce := f.Type.Coercer()
		if coerce == nil {
			return c, &SchemaError{Table: c.Name, Field: f.Name, Message: fmt.Sprintf("invalid field type %v", f.Type)}
		}
		f.coerce = coerce

		if f.HasDefault() {
			def, err := coerce(f.Default)
			if err != nil {
				return c, &SchemaError{Table: c.Name, Field: f.Name, Message: fmt.Sprintf("default value: %v", err)}
			}
			f.Default = def
		}
		out.Fields[i] = f
	}

	if c.Junction != nil {
		for _, l := range c.Junction.Links() {
			fd, ok := out.Field(l.Field)
			if !ok {
				return c, &SchemaError{Table: c.Name, Field: l.Field, Message: "junction fk field is not declared"}
			}
			if fd.Type != TypeNumber {
				return c, &SchemaError{Table: c.Name, Field: l.Field, Message: "junction fk field must be a number"}
			}
		}
		j := *c.Junction
		out.Junction = &j
	}

	return out, nil
}

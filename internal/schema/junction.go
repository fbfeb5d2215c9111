package schema

import "strings"

// FKName returns the foreign-key column name used for an entity table.
func FKName(table string) string {
	return strings.ToLower(table) + "_fk"
}

// DeriveJunctionConfig builds the configuration of a many-to-many table
// linking a and b. It has no side effects; register the result explicitly.
//
// The fields are {<a>_fk, <b>_fk, extra...}. Naming collisions are resolved
// deterministically by prefixing with an entity name:
//   - a self-junction (a == b) names the second fk "<b>_<b>_fk"
//   - an extra field that collides with an fk or the id is prefixed with
//     the first entity's name until it is free, e.g. "order_product_fk"
//
// An empty name defaults to "<A>_<B>".
func DeriveJunctionConfig(name string, a, b TableConfig, extra []FieldDef) TableConfig {
	if name == "" {
		name = a.Name + "_" + b.Name
	}

	leftFK := FKName(a.Name)
	rightFK := FKName(b.Name)
	if rightFK == leftFK {
		rightFK = strings.ToLower(b.Name) + "_" + rightFK
	}

	fields := make([]FieldDef, 0, len(extra)+2)
	fields = append(fields,
		FieldDef{Name: leftFK, Type: TypeNumber},
		FieldDef{Name: rightFK, Type: TypeNumber},
	)

	taken := map[string]bool{leftFK: true, rightFK: true, IDField: true}
	prefix := strings.ToLower(a.Name) + "_"
	for _, f := range extra {
		for taken[f.Name] {
			f.Name = prefix + f.Name
		}
		taken[f.Name] = true
		fields = append(fields, f)
	}

	return TableConfig{
		Name:        name,
		HistoryName: name + HistorySuffix,
		Fields:      fields,
		Junction: &JunctionRef{
			Left:  Link{Table: a.Name, Field: leftFK},
			Right: Link{Table: b.Name, Field: rightFK},
		},
	}
}

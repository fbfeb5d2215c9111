// Package seed loads YAML fixtures into a database and verifies the result.
//
// A fixture lists write steps applied in order, followed by optional
// expectations about the final table contents:
//
//	name: shop
//	schema: [schema]
//	steps:
//	  - create: CATEGORY
//	  - create: PRODUCT
//	    values: {name: Lamp, category_fk: 1}
//	  - remove: PRODUCT
//	    id: 1
//	    cascade: true
//	expect:
//	  - table: PRODUCT
//	    count: 0
package seed

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Fixture is one seed file.
type Fixture struct {
	// Name identifies the fixture in logs and CLI output.
	Name string `yaml:"name"`

	Description string `yaml:"description,omitempty"`

	// Schema lists CUE schema directories, relative to the fixture file.
	// Empty means the caller supplies the tables.
	Schema []string `yaml:"schema,omitempty"`

	// Steps run in order. The first failing step stops the run.
	Steps []Step `yaml:"steps"`

	// Expect is checked by Verify after the steps ran.
	Expect []Expectation `yaml:"expect,omitempty"`
}

// Step is a single write. Exactly one of Create, Update and Remove names the
// table.
type Step struct {
	Create string `yaml:"create,omitempty"`
	Update string `yaml:"update,omitempty"`
	Remove string `yaml:"remove,omitempty"`

	// ID selects the record for update and remove.
	ID int64 `yaml:"id,omitempty"`

	// Cascade removes junction rows referencing the record first.
	Cascade bool `yaml:"cascade,omitempty"`

	// Values is the raw input for create and the patch for update.
	Values map[string]any `yaml:"values,omitempty"`
}

// Step kinds.
const (
	KindCreate = "create"
	KindUpdate = "update"
	KindRemove = "remove"
)

// Kind returns the step kind and its table.
func (s Step) Kind() (kind, table string) {
	switch {
	case s.Create != "":
		return KindCreate, s.Create
	case s.Update != "":
		return KindUpdate, s.Update
	default:
		return KindRemove, s.Remove
	}
}

// Expectation asserts on one table. Count checks the number of live
// records; ID with Values checks a subset of one record's fields.
type Expectation struct {
	Table  string         `yaml:"table"`
	Count  *int           `yaml:"count,omitempty"`
	ID     int64          `yaml:"id,omitempty"`
	Values map[string]any `yaml:"values,omitempty"`

	// Removed checks the record in history instead of the live table.
	Removed bool `yaml:"removed,omitempty"`
}

// Load reads a fixture file. Unknown keys are rejected so typos surface
// instead of being ignored. Schema paths are resolved against the file's
// directory.
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}

	f, err := Parse(data)
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	for i, dir := range f.Schema {
		if !filepath.IsAbs(dir) {
			f.Schema[i] = filepath.Join(base, dir)
		}
	}
	return f, nil
}

// Parse decodes and checks fixture YAML.
func Parse(data []byte) (*Fixture, error) {
	var f Fixture
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := f.check(); err != nil {
		return nil, fmt.Errorf("invalid fixture: %w", err)
	}
	return &f, nil
}

func (f *Fixture) check() error {
	if f.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(f.Steps) == 0 && len(f.Expect) == 0 {
		return fmt.Errorf("steps or expect is required")
	}

	for i, s := range f.Steps {
		set := 0
		for _, t := range []string{s.Create, s.Update, s.Remove} {
			if t != "" {
				set++
			}
		}
		if set != 1 {
			return fmt.Errorf("step %d: exactly one of create, update or remove is required", i)
		}
		kind, _ := s.Kind()
		if kind != KindCreate && s.ID <= 0 {
			return fmt.Errorf("step %d: %s requires a positive id", i, kind)
		}
		if kind == KindRemove && len(s.Values) > 0 {
			return fmt.Errorf("step %d: remove takes no values", i)
		}
		if kind != KindRemove && s.Cascade {
			return fmt.Errorf("step %d: cascade only applies to remove", i)
		}
	}

	for i, e := range f.Expect {
		if e.Table == "" {
			return fmt.Errorf("expect %d: table is required", i)
		}
		if e.Count == nil && e.ID <= 0 {
			return fmt.Errorf("expect %d: count or id is required", i)
		}
		if e.ID <= 0 && len(e.Values) > 0 {
			return fmt.Errorf("expect %d: values require an id", i)
		}
	}
	return nil
}

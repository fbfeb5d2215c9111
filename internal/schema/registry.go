package schema

import (
	"fmt"
	"sync"
)

// Registry stores table configurations by name.
//
// Thread-safety: Registry is safe for concurrent use. Registration normally
// happens once at startup; lookups happen on every operation.
type Registry struct {
	mu     sync.RWMutex
	tables map[string]TableConfig
	names  map[string]string // live and history names -> owning table
	order  []string          // registration order
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tables: make(map[string]TableConfig),
		names:  make(map[string]string),
	}
}

// Register validates and stores a table configuration.
//
// Fails with DuplicateTableError if the table name or its history name is
// already used by a registered table. Junction tables may only be registered
// after both tables they link.
func (r *Registry) Register(cfg TableConfig) error {
	checked, err := cfg.Check()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range []string{checked.Name, checked.HistoryName} {
		if _, taken := r.names[name]; taken {
			return &DuplicateTableError{Name: name}
		}
	}

	if checked.Junction != nil {
		for _, l := range checked.Junction.Links() {
			if _, ok := r.tables[l.Table]; !ok {
				return &SchemaError{
					Table:   checked.Name,
					Field:   l.Field,
					Message: fmt.Sprintf("junction references unregistered table %q", l.Table),
				}
			}
		}
	}

	r.tables[checked.Name] = checked
	r.names[checked.Name] = checked.Name
	r.names[checked.HistoryName] = checked.Name
	r.order = append(r.order, checked.Name)
	return nil
}

// MustRegister registers every config and panics on the first error.
// Intended for static schemas declared in code.
func (r *Registry) MustRegister(cfgs ...TableConfig) {
	for _, cfg := range cfgs {
		if err := r.Register(cfg); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the configuration for a live table name.
func (r *Registry) Lookup(name string) (TableConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.tables[name]
	if !ok {
		return TableConfig{}, fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	return cfg, nil
}

// Has reports whether a live table with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tables[name]
	return ok
}

// Tables returns all configurations in registration order.
func (r *Registry) Tables() []TableConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TableConfig, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tables[name])
	}
	return out
}

// JunctionsReferencing returns every junction table with an fk to the given
// table, in registration order.
func (r *Registry) JunctionsReferencing(table string) []TableConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []TableConfig
	for _, name := range r.order {
		cfg := r.tables[name]
		if cfg.Junction == nil {
			continue
		}
		if _, ok := cfg.Junction.LinkFor(table); ok {
			out = append(out, cfg)
		}
	}
	return out
}

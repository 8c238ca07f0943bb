// Package registry holds the static manager registration table and the
// loader that merges settings, orders managers by dependency, and runs
// their setups.
package registry

import (
	"fmt"

	"github.com/littlebox/littlebox/internal/manager"
)

// Definition registers one manager constructor. Registration order is
// the tie-breaker wherever ordering is otherwise unconstrained.
type Definition struct {
	Name    string
	Version string
	New     func(rt manager.Runtime) manager.Manager
}

// Table is the ordered set of registered manager definitions.
type Table struct {
	defs  []Definition
	byKey map[string]int
}

// NewTable creates an empty registration table.
func NewTable() *Table {
	return &Table{byKey: make(map[string]int)}
}

// Register appends a definition. Names must be unique.
func (t *Table) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("registry: %w: empty name", ErrBadDefinition)
	}
	if def.New == nil {
		return fmt.Errorf("registry: %w: %s has no constructor", ErrBadDefinition, def.Name)
	}
	if _, exists := t.byKey[def.Name]; exists {
		return fmt.Errorf("registry: %w: %s", ErrDuplicateManager, def.Name)
	}
	t.byKey[def.Name] = len(t.defs)
	t.defs = append(t.defs, def)
	return nil
}

// MustRegister is Register for static init tables.
func (t *Table) MustRegister(def Definition) {
	if err := t.Register(def); err != nil {
		panic(err)
	}
}

// Definitions returns the registered definitions in registration order.
func (t *Table) Definitions() []Definition {
	out := make([]Definition, len(t.defs))
	copy(out, t.defs)
	return out
}

// Contains reports whether a manager name is registered.
func (t *Table) Contains(name string) bool {
	_, ok := t.byKey[name]
	return ok
}

package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrBadDefinition marks an unusable registration.
	ErrBadDefinition = errors.New("bad manager definition")
	// ErrDuplicateManager marks a name registered twice.
	ErrDuplicateManager = errors.New("duplicate manager name")
	// ErrDependencyUnmet marks a dependency that is unregistered or
	// disabled for this boot.
	ErrDependencyUnmet = errors.New("dependency unmet")
	// ErrDependencyCycle marks a manager inside a dependency cycle.
	ErrDependencyCycle = errors.New("dependency cycle")
)

// DependencyError records why a manager's dependency graph is unusable.
type DependencyError struct {
	Manager string
	Dep     string
	Err     error
}

func (e *DependencyError) Error() string {
	if e.Dep != "" {
		return fmt.Sprintf("manager %s: %v: %s", e.Manager, e.Err, e.Dep)
	}
	return fmt.Sprintf("manager %s: %v", e.Manager, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

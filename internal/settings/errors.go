package settings

import (
	"errors"
	"fmt"
)

// Sentinel errors for the settings store. Callers match with errors.Is.
var (
	// ErrPersistence indicates the persisted tree is missing, corrupt, or
	// fails the obfuscation header check. This is the safe-mode trigger.
	ErrPersistence = errors.New("settings persistence failure")

	// ErrSettingsPath indicates an invalid or unresolvable setting path.
	ErrSettingsPath = errors.New("invalid setting path")

	// ErrTypeCoercion indicates a raw value could not be coerced to the
	// type of the existing value at the target path.
	ErrTypeCoercion = errors.New("setting value coercion failed")

	// ErrUnknownManager indicates the tree has no subtree for the named
	// manager.
	ErrUnknownManager = errors.New("unknown manager")
)

// PathError describes why a setting path failed to resolve.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("invalid setting path %q: %s", e.Path, e.Reason)
}

func (e *PathError) Unwrap() error { return ErrSettingsPath }

func pathErrorf(path, format string, args ...any) error {
	return &PathError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// CoercionError describes a failed value coercion. The prior value at the
// target path is always retained.
type CoercionError struct {
	Raw  string
	Want Kind
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("cannot coerce %q to %s", e.Raw, e.Want)
}

func (e *CoercionError) Unwrap() error { return ErrTypeCoercion }

// PersistError wraps the underlying cause of a load or save failure.
type PersistError struct {
	Path string
	Op   string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("settings %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistError) Unwrap() error { return ErrPersistence }

// Package dispatch routes text commands and inter-manager calls through a
// single flat table of <manager>.<command> names.
//
// The table is built once, after every manager has finished Setup, and is
// read-only afterwards: managers coming up or failing later never add or
// remove commands mid-flight.
package dispatch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/littlebox/littlebox/internal/manager"
	"github.com/littlebox/littlebox/internal/settings"
)

// Command is one dispatchable entry.
type Command struct {
	Manager     string
	Name        string // full <manager>.<command> name
	Description string
	Handler     func(args []settings.Value) (settings.Value, error)
}

// Table maps full command names to handlers.
type Table struct {
	commands map[string]*Command
}

// NewTable creates an empty command table.
func NewTable() *Table {
	return &Table{commands: make(map[string]*Command)}
}

// Add registers one command under <owner>.<name>.
func (t *Table) Add(owner, name, description string, handler func([]settings.Value) (settings.Value, error)) error {
	full := owner + "." + name
	if _, exists := t.commands[full]; exists {
		return fmt.Errorf("dispatch: %w: %s", ErrDuplicateCommand, full)
	}
	t.commands[full] = &Command{
		Manager:     owner,
		Name:        full,
		Description: description,
		Handler:     handler,
	}
	return nil
}

// AddServices registers every service a manager exposes.
func (t *Table) AddServices(owner string, services map[string]manager.Service) error {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		svc := services[name]
		if err := t.Add(owner, name, svc.Description, svc.Handler); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the command registered under the full name.
func (t *Table) Lookup(name string) (*Command, bool) {
	cmd, ok := t.commands[name]
	return cmd, ok
}

// Names returns every registered command name, sorted.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.commands))
	for name := range t.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NamesWithPrefix returns the sorted command names under a manager prefix.
func (t *Table) NamesWithPrefix(prefix string) []string {
	var names []string
	for _, name := range t.Names() {
		if strings.HasPrefix(name, prefix+".") {
			names = append(names, name)
		}
	}
	return names
}

// Call invokes a command by full name. Unknown names return
// ErrServiceNotFound; handler errors and panics come back as an
// *InvocationError and never propagate further.
func (t *Table) Call(name string, args ...settings.Value) (settings.Value, error) {
	cmd, ok := t.commands[name]
	if !ok {
		return settings.Value{}, fmt.Errorf("dispatch: %w: %s", ErrServiceNotFound, name)
	}
	return invoke(cmd, args)
}

func invoke(cmd *Command, args []settings.Value) (result settings.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = settings.Value{}
			err = &InvocationError{Command: cmd.Name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	result, herr := cmd.Handler(args)
	if herr != nil {
		return settings.Value{}, &InvocationError{Command: cmd.Name, Err: herr}
	}
	return result, nil
}

// Dispatch parses one console line — command name followed by
// space-separated arguments, quote and bracket aware — coerces each
// argument, and calls the handler.
func (t *Table) Dispatch(line string) (settings.Value, error) {
	fields := SplitArgs(strings.TrimSpace(line))
	if len(fields) == 0 {
		return settings.Value{}, fmt.Errorf("dispatch: %w: empty command", ErrServiceNotFound)
	}
	args := make([]settings.Value, len(fields)-1)
	for i, raw := range fields[1:] {
		args[i] = CoerceArg(raw)
	}
	return t.Call(fields[0], args...)
}

// Service resolves a manager's command set as a handle other managers
// can hold. Fails when the prefix has no commands.
func (t *Table) Service(prefix string) (manager.ServiceHandle, error) {
	names := t.NamesWithPrefix(prefix)
	if len(names) == 0 {
		return nil, fmt.Errorf("dispatch: %w: no commands under %s", ErrServiceNotFound, prefix)
	}
	return &handle{table: t, prefix: prefix, names: names}, nil
}

type handle struct {
	table  *Table
	prefix string
	names  []string
}

func (h *handle) Call(command string, args ...settings.Value) (settings.Value, error) {
	return h.table.Call(h.prefix+"."+command, args...)
}

func (h *handle) Commands() []string {
	out := make([]string, len(h.names))
	for i, name := range h.names {
		out[i] = strings.TrimPrefix(name, h.prefix+".")
	}
	return out
}

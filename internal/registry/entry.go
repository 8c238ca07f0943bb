package registry

import (
	"time"

	"github.com/littlebox/littlebox/internal/manager"
	"github.com/littlebox/littlebox/internal/settings"
)

// Entry is one manager slot in the loaded set: the instance (nil when
// never constructed), its merged settings, and scheduler bookkeeping.
type Entry struct {
	Name    string
	Version string
	Deps    []string

	Manager manager.Manager
	Merged  settings.Value

	// SetupErr holds the most recent Setup or dependency failure.
	SetupErr error

	// Update timing, maintained by the scheduler.
	LastUpdate  time.Duration
	TotalUpdate time.Duration
	Updates     uint64

	state manager.State
}

// State returns the entry's lifecycle state. When the manager instance
// tracks its own state, that is authoritative so self-transitions
// (Waiting to OK) are visible to the scheduler.
func (e *Entry) State() manager.State {
	if st, ok := e.Manager.(manager.Stateful); ok {
		return st.State()
	}
	return e.state
}

// SetState drives the entry (and its instance, when stateful) to a state.
func (e *Entry) SetState(s manager.State) {
	e.state = s
	if st, ok := e.Manager.(manager.Stateful); ok {
		st.SetState(s)
	}
}

// Set is the dependency-ordered result of loading a table.
type Set struct {
	entries []*Entry
	byName  map[string]*Entry
}

// Entries returns the entries in scheduling (dependency) order.
func (s *Set) Entries() []*Entry { return s.entries }

// Get looks an entry up by manager name.
func (s *Set) Get(name string) (*Entry, bool) {
	e, ok := s.byName[name]
	return e, ok
}

// Len returns the number of entries.
func (s *Set) Len() int { return len(s.entries) }

// EnabledDefaults returns the pristine defaults of every non-disabled
// entry, keyed by manager name. This is the document shape a factory
// reset writes: disabled managers are omitted so their stored settings
// are dropped.
func (s *Set) EnabledDefaults() map[string]settings.Value {
	out := make(map[string]settings.Value)
	for _, e := range s.entries {
		if e.State() == manager.StateDisabled || e.Manager == nil {
			continue
		}
		defaults := e.Manager.Defaults()
		out[e.Name] = withEnabledDefault(defaults)
	}
	return out
}

// DepsReady reports whether every declared dependency of the entry is in
// the OK state. Entries with unready dependencies are skipped wholesale
// by the scheduler for that tick.
func (s *Set) DepsReady(e *Entry) bool {
	for _, dep := range e.Deps {
		d, ok := s.byName[dep]
		if !ok || d.State() != manager.StateOK {
			return false
		}
	}
	return true
}

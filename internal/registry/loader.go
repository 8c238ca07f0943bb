package registry

import (
	"fmt"

	"github.com/littlebox/littlebox/internal/manager"
	"github.com/littlebox/littlebox/internal/settings"
)

// Logf is the logging hook the loader reports progress through.
type Logf func(format string, args ...any)

// Load builds the dependency-ordered manager set for one boot.
//
// For each registered definition, in registration order: construct the
// manager, merge its defaults with the persisted settings (injecting an
// enabled flag when the defaults lack one), and mark it Disabled when the
// merged flag is off. Enabled managers are topologically sorted by their
// declared dependencies; managers depending on something unregistered or
// disabled, or caught in a cycle, go to Error without Setup. Setup runs
// in dependency order with panics contained, and a failed Setup never
// stops later managers. Finally, managers observing their own settings
// are subscribed to the store.
func Load(table *Table, store *settings.Store, rt manager.Runtime, logf Logf) *Set {
	if logf == nil {
		logf = func(string, ...any) {}
	}

	set := &Set{byName: make(map[string]*Entry)}
	for _, def := range table.Definitions() {
		e := &Entry{Name: def.Name, Version: def.Version}
		e.Manager = def.New(rt)
		e.SetState(manager.StateUnloaded)

		defaults := withEnabledDefault(e.Manager.Defaults())
		e.Merged = store.MergeManager(def.Name, defaults)

		if enabled, ok := e.Merged.Key("enabled"); ok && !enabled.Bool() {
			e.SetState(manager.StateDisabled)
			logf("manager %s disabled", e.Name)
		}
		if dl, ok := e.Manager.(manager.DependencyLister); ok {
			e.Deps = dl.Dependencies()
		}

		set.entries = append(set.entries, e)
		set.byName[e.Name] = e
	}

	orderEntries(set, logf)
	setupEntries(set, logf)
	wireObservers(set, store)
	return set
}

// withEnabledDefault guarantees every manager subtree carries an enabled
// flag, on by default, so it can be switched off from settings alone.
func withEnabledDefault(defaults settings.Value) settings.Value {
	if defaults.Kind() != settings.KindMap {
		defaults = settings.MapValue(nil)
	}
	if _, ok := defaults.Key("enabled"); ok {
		return defaults
	}
	m := make(map[string]settings.Value, defaults.Len()+1)
	for k, v := range defaults.Map() {
		m[k] = v
	}
	m["enabled"] = settings.BoolValue(true)
	return settings.MapValue(m)
}

// orderEntries rewrites set.entries into dependency order using Kahn's
// algorithm, breaking ties by registration order. Disabled entries and
// entries with unusable dependency graphs are appended after the
// schedulable ones.
func orderEntries(set *Set, logf Logf) {
	pending := make([]*Entry, 0, len(set.entries))
	var parked []*Entry

	for _, e := range set.entries {
		if e.State() == manager.StateDisabled {
			parked = append(parked, e)
			continue
		}
		pending = append(pending, e)
	}

	// Unmet dependencies propagate: a manager depending on an errored
	// manager is itself unmet, so the whole chain above a disabled or
	// unregistered dependency parks without Setup.
	for changed := true; changed; {
		changed = false
		rest := pending[:0]
		for _, e := range pending {
			if dep := unmetDep(set, e); dep != "" {
				e.SetupErr = &DependencyError{Manager: e.Name, Dep: dep, Err: ErrDependencyUnmet}
				e.SetState(manager.StateError)
				logf("manager %s: %v", e.Name, e.SetupErr)
				parked = append(parked, e)
				changed = true
				continue
			}
			rest = append(rest, e)
		}
		pending = rest
	}

	ordered := make([]*Entry, 0, len(pending))
	placed := make(map[string]bool, len(pending))
	for len(pending) > 0 {
		progressed := false
		rest := pending[:0]
		for _, e := range pending {
			if depsPlaced(e, placed) {
				ordered = append(ordered, e)
				placed[e.Name] = true
				progressed = true
			} else {
				rest = append(rest, e)
			}
		}
		pending = rest
		if !progressed {
			// The remainder is cyclic (or depends on a cyclic member).
			for _, e := range pending {
				e.SetupErr = &DependencyError{Manager: e.Name, Err: ErrDependencyCycle}
				e.SetState(manager.StateError)
				logf("manager %s: %v", e.Name, e.SetupErr)
				parked = append(parked, e)
			}
			break
		}
	}

	set.entries = append(ordered, parked...)
}

// unmetDep returns the first dependency that is unregistered, disabled,
// or already parked in Error by dependency analysis.
func unmetDep(set *Set, e *Entry) string {
	for _, dep := range e.Deps {
		d, ok := set.byName[dep]
		if !ok || d.State() == manager.StateDisabled || d.State() == manager.StateError {
			return dep
		}
	}
	return ""
}

func depsPlaced(e *Entry, placed map[string]bool) bool {
	for _, dep := range e.Deps {
		if !placed[dep] {
			return false
		}
	}
	return true
}

func setupEntries(set *Set, logf Logf) {
	for _, e := range set.entries {
		if e.State() != manager.StateUnloaded {
			continue
		}
		e.SetState(manager.StateStarting)
		if err := runSetup(e); err != nil {
			e.SetupErr = err
			e.SetState(manager.StateError)
			logf("manager %s setup failed: %v", e.Name, err)
			continue
		}
		// Setup may have moved the manager to Waiting itself.
		if e.State() == manager.StateStarting {
			e.SetState(manager.StateOK)
		}
		logf("manager %s v%s %s", e.Name, e.Version, e.State())
	}
}

func runSetup(e *Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("setup panic: %v", r)
		}
	}()
	return e.Manager.Setup(e.Merged)
}

// wireObservers forwards setting changes to managers that asked for them.
// Disabled and never-set-up managers are left unwired.
func wireObservers(set *Set, store *settings.Store) {
	for _, e := range set.entries {
		obs, ok := e.Manager.(manager.SettingObserver)
		if !ok {
			continue
		}
		switch e.State() {
		case manager.StateDisabled, manager.StateUnloaded:
			continue
		}
		if e.SetupErr != nil && e.State() == manager.StateError {
			continue
		}
		store.Notifier().SubscribeManager(e.Name, func(c settings.Change) {
			obs.OnSettingChanged(c.Path, c.Old, c.New)
		})
	}
}

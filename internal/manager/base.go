package manager

// StatusReceiver observes a manager's status message changes.
type StatusReceiver func(id int, text string)

// Base carries the bookkeeping shared by every manager: identity, state,
// the current status message, and the active routine. Embed it and
// implement Defaults, Setup, and Update.
type Base struct {
	name    string
	version string
	state   State

	statusID   int
	statusText string
	receivers  []StatusReceiver

	routine *Routine
}

// NewBase creates the embeddable core for a manager.
func NewBase(name, version string) Base {
	return Base{name: name, version: version, state: StateUnloaded}
}

func (b *Base) Name() string    { return b.name }
func (b *Base) Version() string { return b.version }

// State returns the current lifecycle state.
func (b *Base) State() State { return b.state }

// SetState moves the manager to a new lifecycle state.
func (b *Base) SetState(s State) { b.state = s }

// Status returns the current status message id and text.
func (b *Base) Status() (int, string) { return b.statusID, b.statusText }

// SetStatus records a status message and notifies receivers. Repeating
// the current status is a no-op so receivers see each message once.
func (b *Base) SetStatus(id int, text string) {
	if id == b.statusID && text == b.statusText {
		return
	}
	b.statusID = id
	b.statusText = text
	for _, r := range b.receivers {
		r(id, text)
	}
}

// OnStatus registers a status message receiver.
func (b *Base) OnStatus(r StatusReceiver) {
	b.receivers = append(b.receivers, r)
}

// Begin starts a routine. Any routine already in progress is abandoned.
func (b *Base) Begin(name string, step StepFunc) {
	b.routine = NewRoutine(name, step)
}

// Advance runs one step of the active routine, if any. It reports whether
// a routine is still in progress after the step, plus the step's error.
// The routine is cleared when it completes or fails.
func (b *Base) Advance() (busy bool, err error) {
	if b.routine == nil {
		return false, nil
	}
	done, err := b.routine.Step()
	if done || err != nil {
		b.routine = nil
		return false, err
	}
	return true, nil
}

// Busy reports whether a routine is in progress.
func (b *Base) Busy() bool { return b.routine != nil }

// RoutineName returns the active routine's name, or "" when idle.
func (b *Base) RoutineName() string {
	if b.routine == nil {
		return ""
	}
	return b.routine.Name()
}

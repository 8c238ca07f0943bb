package manager

// StepFunc performs one bounded slice of a long-running job. It reports
// done when the job has finished. Returning an error also ends the job.
type StepFunc func() (done bool, err error)

// Routine is a resumable job advanced one step per scheduler tick. It
// replaces blocking loops: instead of waiting inside Update, a manager
// begins a routine and the scheduler drives it a step at a time, keeping
// every other manager responsive.
type Routine struct {
	name string
	step StepFunc
	done bool
}

// NewRoutine wraps a step function as a named routine.
func NewRoutine(name string, step StepFunc) *Routine {
	return &Routine{name: name, step: step}
}

// Name identifies the routine in status output.
func (r *Routine) Name() string { return r.name }

// Done reports whether the routine has completed.
func (r *Routine) Done() bool { return r.done }

// Step runs exactly one step. Once the routine is done, further calls
// are no-ops reporting done.
func (r *Routine) Step() (bool, error) {
	if r.done {
		return true, nil
	}
	done, err := r.step()
	if done || err != nil {
		r.done = true
	}
	return r.done, err
}

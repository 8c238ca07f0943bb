package manager

import (
	"errors"
	"testing"
)

func TestBaseIdentity(t *testing.T) {
	b := NewBase("stepper", "1.2")
	if b.Name() != "stepper" || b.Version() != "1.2" {
		t.Fatalf("identity = %q/%q", b.Name(), b.Version())
	}
	if b.State() != StateUnloaded {
		t.Fatalf("initial state = %v, want unloaded", b.State())
	}
}

func TestSetStatusNotifiesOncePerChange(t *testing.T) {
	b := NewBase("clock", "1.0")

	var got []string
	b.OnStatus(func(_ int, text string) { got = append(got, text) })

	b.SetStatus(1, "syncing")
	b.SetStatus(1, "syncing") // repeat, no notification
	b.SetStatus(2, "synced")

	if len(got) != 2 || got[0] != "syncing" || got[1] != "synced" {
		t.Fatalf("status notifications = %v", got)
	}
	if id, text := b.Status(); id != 2 || text != "synced" {
		t.Fatalf("final status = %d %q", id, text)
	}
}

func TestRoutineRunsOneStepPerAdvance(t *testing.T) {
	b := NewBase("stepper", "1.0")

	steps := 0
	b.Begin("move", func() (bool, error) {
		steps++
		return steps >= 3, nil
	})

	for i := 1; i <= 3; i++ {
		busy, err := b.Advance()
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if steps != i {
			t.Fatalf("after advance %d ran %d steps", i, steps)
		}
		wantBusy := i < 3
		if busy != wantBusy {
			t.Fatalf("after advance %d busy = %v, want %v", i, busy, wantBusy)
		}
	}
	if b.Busy() {
		t.Fatal("routine still active after completion")
	}
}

func TestRoutineErrorEndsRoutine(t *testing.T) {
	b := NewBase("stepper", "1.0")
	fail := errors.New("stall")
	b.Begin("move", func() (bool, error) { return false, fail })

	busy, err := b.Advance()
	if !errors.Is(err, fail) {
		t.Fatalf("Advance error = %v, want stall", err)
	}
	if busy || b.Busy() {
		t.Fatal("failed routine still active")
	}
}

func TestBeginReplacesActiveRoutine(t *testing.T) {
	b := NewBase("stepper", "1.0")

	first := 0
	b.Begin("move", func() (bool, error) { first++; return false, nil })
	b.Advance()

	second := 0
	b.Begin("rotate", func() (bool, error) { second++; return true, nil })
	if b.RoutineName() != "rotate" {
		t.Fatalf("routine name = %q, want rotate", b.RoutineName())
	}
	b.Advance()

	if first != 1 || second != 1 {
		t.Fatalf("steps = %d/%d, abandoned routine kept running", first, second)
	}
}

func TestAdvanceWithNoRoutine(t *testing.T) {
	b := NewBase("blink", "1.0")
	busy, err := b.Advance()
	if busy || err != nil {
		t.Fatalf("idle Advance = %v, %v", busy, err)
	}
}

func TestStateRunnable(t *testing.T) {
	tests := []struct {
		state State
		want  bool
	}{
		{StateUnloaded, false},
		{StateStarting, false},
		{StateDisabled, false},
		{StateError, true},
		{StateWaiting, true},
		{StateOK, true},
	}
	for _, tt := range tests {
		if got := tt.state.Runnable(); got != tt.want {
			t.Errorf("%v.Runnable() = %v, want %v", tt.state, got, tt.want)
		}
	}
}

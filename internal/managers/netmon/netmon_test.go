package netmon

import (
	"errors"
	"testing"
	"time"

	"github.com/littlebox/littlebox/internal/manager"
	"github.com/littlebox/littlebox/internal/manager/managertest"
	"github.com/littlebox/littlebox/internal/settings"
)

func newUnderTest(t *testing.T) (*Manager, *managertest.Runtime, *time.Time, *bool) {
	t.Helper()
	rt := managertest.New()
	m := Definition().New(rt).(*Manager)

	current := time.Unix(2000, 0)
	online := false
	m.rt = rt
	m.now = func() time.Time { return current }
	m.probe = func() (bool, error) { return online, nil }

	merged := settings.MapValue(map[string]settings.Value{
		"probe_seconds": settings.IntValue(5),
	})
	if err := m.Setup(merged); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	return m, rt, &current, &online
}

func TestStartsWaitingAndGoesOKWhenOnline(t *testing.T) {
	m, rt, current, online := newUnderTest(t)

	if m.State() != manager.StateWaiting {
		t.Fatalf("state after setup = %v, want waiting", m.State())
	}

	if err := m.Update(); err != nil {
		t.Fatal(err)
	}
	if m.State() != manager.StateWaiting {
		t.Fatalf("state while offline = %v, want waiting", m.State())
	}

	*online = true
	*current = current.Add(6 * time.Second)
	if err := m.Update(); err != nil {
		t.Fatal(err)
	}
	if m.State() != manager.StateOK {
		t.Fatalf("state while online = %v, want ok", m.State())
	}

	topics := rt.Topics()
	if len(topics) != 2 || topics[0] != "net.offline" || topics[1] != "net.online" {
		t.Fatalf("events = %v, want [net.offline net.online]", topics)
	}
}

func TestProbeThrottledByInterval(t *testing.T) {
	m, _, current, _ := newUnderTest(t)

	probes := 0
	m.probe = func() (bool, error) { probes++; return true, nil }

	m.Update() // due immediately
	m.Update() // within the interval, no probe
	if probes != 1 {
		t.Fatalf("probes = %d, want 1 inside the interval", probes)
	}

	*current = current.Add(5 * time.Second)
	m.Update()
	if probes != 2 {
		t.Fatalf("probes = %d, want 2 after the interval", probes)
	}
}

func TestTransitionEventsFireOnce(t *testing.T) {
	m, rt, current, online := newUnderTest(t)
	*online = true

	for i := 0; i < 3; i++ {
		*current = current.Add(6 * time.Second)
		if err := m.Update(); err != nil {
			t.Fatal(err)
		}
	}
	if topics := rt.Topics(); len(topics) != 1 || topics[0] != "net.online" {
		t.Fatalf("events = %v, want a single net.online", topics)
	}
}

func TestProbeErrorSurfaces(t *testing.T) {
	m, _, _, _ := newUnderTest(t)
	fail := errors.New("netlink down")
	m.probe = func() (bool, error) { return false, fail }

	if err := m.Update(); !errors.Is(err, fail) {
		t.Fatalf("Update = %v, want probe error", err)
	}
}

func TestOnlineService(t *testing.T) {
	m, _, current, online := newUnderTest(t)
	*online = true
	*current = current.Add(6 * time.Second)
	m.Update()

	got, err := m.Services()["online"].Handler(nil)
	if err != nil || !got.Bool() {
		t.Fatalf("online service = %v, %v", got, err)
	}
}

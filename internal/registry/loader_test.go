package registry

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/littlebox/littlebox/internal/event"
	"github.com/littlebox/littlebox/internal/manager"
	"github.com/littlebox/littlebox/internal/settings"
)

type nopRuntime struct{}

func (nopRuntime) Publish(string, any) {}
func (nopRuntime) Subscribe(string, event.Handler, ...event.SubscribeOption) *event.Subscription {
	return nil
}
func (nopRuntime) Call(string, ...settings.Value) (settings.Value, error) {
	return settings.Value{}, nil
}
func (nopRuntime) Service(string) (manager.ServiceHandle, error) { return nil, nil }
func (nopRuntime) SetSetting(string, string, string) error       { return nil }
func (nopRuntime) Logf(string, ...any)                           {}

type fake struct {
	manager.Base
	deps     []string
	defaults settings.Value
	setupErr error
	panics   bool

	setupLog *[]string
	observed []string
}

func (f *fake) Defaults() settings.Value { return f.defaults }
func (f *fake) Dependencies() []string   { return f.deps }
func (f *fake) Update() error            { return nil }

func (f *fake) Setup(settings.Value) error {
	if f.setupLog != nil {
		*f.setupLog = append(*f.setupLog, f.Name())
	}
	if f.panics {
		panic("setup blew up")
	}
	return f.setupErr
}

func (f *fake) OnSettingChanged(path string, _, _ settings.Value) {
	f.observed = append(f.observed, path)
}

type fixture struct {
	table *Table
	fakes map[string]*fake
	order []string
}

func newFixture() *fixture {
	return &fixture{table: NewTable(), fakes: make(map[string]*fake)}
}

func (fx *fixture) add(t *testing.T, name string, deps []string, mutate func(*fake)) {
	t.Helper()
	f := &fake{
		Base:     manager.NewBase(name, "1.0"),
		deps:     deps,
		defaults: settings.MapValue(map[string]settings.Value{"delay": settings.IntValue(5)}),
		setupLog: &fx.order,
	}
	if mutate != nil {
		mutate(f)
	}
	fx.fakes[name] = f
	err := fx.table.Register(Definition{
		Name:    name,
		Version: "1.0",
		New:     func(manager.Runtime) manager.Manager { return f },
	})
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
}

func newStore(t *testing.T) *settings.Store {
	t.Helper()
	return settings.NewStore(settings.Options{
		Path: filepath.Join(t.TempDir(), "settings.json"),
	})
}

func names(entries []*Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func TestLoadOrdersByDependency(t *testing.T) {
	fx := newFixture()
	fx.add(t, "c", []string{"b"}, nil)
	fx.add(t, "b", []string{"a"}, nil)
	fx.add(t, "a", nil, nil)

	set := Load(fx.table, newStore(t), nopRuntime{}, nil)

	want := []string{"a", "b", "c"}
	got := names(set.Entries())
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry order = %v, want %v", got, want)
		}
	}
	if len(fx.order) != 3 || fx.order[0] != "a" || fx.order[2] != "c" {
		t.Fatalf("setup order = %v, want [a b c]", fx.order)
	}
	for _, e := range set.Entries() {
		if e.State() != manager.StateOK {
			t.Errorf("manager %s state = %v, want ok", e.Name, e.State())
		}
	}
}

func TestLoadBreaksTiesByRegistrationOrder(t *testing.T) {
	fx := newFixture()
	fx.add(t, "zeta", nil, nil)
	fx.add(t, "alpha", nil, nil)
	fx.add(t, "mid", nil, nil)

	set := Load(fx.table, newStore(t), nopRuntime{}, nil)
	got := names(set.Entries())
	want := []string{"zeta", "alpha", "mid"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry order = %v, want registration order %v", got, want)
		}
	}
}

func TestDisabledManagerSkipsSetup(t *testing.T) {
	fx := newFixture()
	fx.add(t, "blink", nil, func(f *fake) {
		f.defaults = settings.MapValue(map[string]settings.Value{
			"enabled": settings.BoolValue(false),
		})
	})

	set := Load(fx.table, newStore(t), nopRuntime{}, nil)

	e, _ := set.Get("blink")
	if e.State() != manager.StateDisabled {
		t.Fatalf("state = %v, want disabled", e.State())
	}
	if len(fx.order) != 0 {
		t.Fatalf("disabled manager ran Setup: %v", fx.order)
	}
}

func TestDependencyOnDisabledManagerIsError(t *testing.T) {
	fx := newFixture()
	fx.add(t, "wifi", nil, func(f *fake) {
		f.defaults = settings.MapValue(map[string]settings.Value{
			"enabled": settings.BoolValue(false),
		})
	})
	fx.add(t, "mqtt", []string{"wifi"}, nil)

	set := Load(fx.table, newStore(t), nopRuntime{}, nil)

	e, _ := set.Get("mqtt")
	if e.State() != manager.StateError {
		t.Fatalf("state = %v, want error", e.State())
	}
	if !errors.Is(e.SetupErr, ErrDependencyUnmet) {
		t.Fatalf("SetupErr = %v, want ErrDependencyUnmet", e.SetupErr)
	}
	for _, name := range fx.order {
		if name == "mqtt" {
			t.Fatal("manager with unmet dependency ran Setup")
		}
	}
}

func TestUnmetDependencyPropagatesUpTheChain(t *testing.T) {
	fx := newFixture()
	fx.add(t, "a", nil, func(f *fake) {
		f.defaults = settings.MapValue(map[string]settings.Value{
			"enabled": settings.BoolValue(false),
		})
	})
	fx.add(t, "b", []string{"a"}, nil)
	fx.add(t, "c", []string{"b"}, nil)

	set := Load(fx.table, newStore(t), nopRuntime{}, nil)

	for _, name := range []string{"b", "c"} {
		e, _ := set.Get(name)
		if e.State() != manager.StateError || !errors.Is(e.SetupErr, ErrDependencyUnmet) {
			t.Fatalf("%s state = %v err = %v, want error/unmet", name, e.State(), e.SetupErr)
		}
	}
	if len(fx.order) != 0 {
		t.Fatalf("setup ran for %v above a disabled dependency", fx.order)
	}
}

func TestDependencyOnErroredManagerStillSetsUpButIsGated(t *testing.T) {
	fx := newFixture()
	fx.add(t, "wifi", nil, func(f *fake) { f.setupErr = errors.New("no radio") })
	fx.add(t, "clock", []string{"wifi"}, nil)

	set := Load(fx.table, newStore(t), nopRuntime{}, nil)

	clock, _ := set.Get("clock")
	if clock.State() != manager.StateOK {
		t.Fatalf("clock state = %v, want ok (errors are recoverable)", clock.State())
	}
	if set.DepsReady(clock) {
		t.Fatal("clock reported ready while its dependency is in error")
	}
}

func TestUnregisteredDependencyIsError(t *testing.T) {
	fx := newFixture()
	fx.add(t, "clock", []string{"ghost"}, nil)

	set := Load(fx.table, newStore(t), nopRuntime{}, nil)
	e, _ := set.Get("clock")
	if e.State() != manager.StateError || !errors.Is(e.SetupErr, ErrDependencyUnmet) {
		t.Fatalf("state = %v err = %v, want error/unmet", e.State(), e.SetupErr)
	}
}

func TestDependencyCycleIsErrorWithoutAbortingSiblings(t *testing.T) {
	fx := newFixture()
	fx.add(t, "a", []string{"b"}, nil)
	fx.add(t, "b", []string{"a"}, nil)
	fx.add(t, "solo", nil, nil)

	set := Load(fx.table, newStore(t), nopRuntime{}, nil)

	for _, name := range []string{"a", "b"} {
		e, _ := set.Get(name)
		if e.State() != manager.StateError || !errors.Is(e.SetupErr, ErrDependencyCycle) {
			t.Fatalf("%s state = %v err = %v, want cycle error", name, e.State(), e.SetupErr)
		}
	}
	solo, _ := set.Get("solo")
	if solo.State() != manager.StateOK {
		t.Fatalf("solo state = %v, want ok", solo.State())
	}
}

func TestSetupFailureDoesNotStopSiblings(t *testing.T) {
	fx := newFixture()
	fx.add(t, "bad", nil, func(f *fake) { f.setupErr = errors.New("hardware absent") })
	fx.add(t, "good", nil, nil)

	set := Load(fx.table, newStore(t), nopRuntime{}, nil)

	bad, _ := set.Get("bad")
	good, _ := set.Get("good")
	if bad.State() != manager.StateError {
		t.Fatalf("bad state = %v, want error", bad.State())
	}
	if good.State() != manager.StateOK {
		t.Fatalf("good state = %v, want ok", good.State())
	}
}

func TestSetupPanicIsContained(t *testing.T) {
	fx := newFixture()
	fx.add(t, "volatile", nil, func(f *fake) { f.panics = true })
	fx.add(t, "calm", nil, nil)

	set := Load(fx.table, newStore(t), nopRuntime{}, nil)

	v, _ := set.Get("volatile")
	if v.State() != manager.StateError || v.SetupErr == nil {
		t.Fatalf("state = %v err = %v, want contained panic", v.State(), v.SetupErr)
	}
	calm, _ := set.Get("calm")
	if calm.State() != manager.StateOK {
		t.Fatalf("calm state = %v, want ok", calm.State())
	}
}

func TestEnabledFlagInjectedIntoDefaults(t *testing.T) {
	fx := newFixture()
	fx.add(t, "blink", nil, nil) // defaults carry no enabled key

	set := Load(fx.table, newStore(t), nopRuntime{}, nil)
	e, _ := set.Get("blink")

	enabled, ok := e.Merged.Key("enabled")
	if !ok || !enabled.Bool() {
		t.Fatalf("merged enabled = %v/%v, want injected true", enabled, ok)
	}
}

func TestObserverWiredOnlyForLoadedManagers(t *testing.T) {
	fx := newFixture()
	fx.add(t, "stepper", nil, nil)
	fx.add(t, "off", nil, func(f *fake) {
		f.defaults = settings.MapValue(map[string]settings.Value{
			"enabled": settings.BoolValue(false),
			"delay":   settings.IntValue(5),
		})
	})

	store := newStore(t)
	Load(fx.table, store, nopRuntime{}, nil)

	if _, err := store.Set("stepper", "delay", "9", "test"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got := fx.fakes["stepper"].observed; len(got) != 1 || got[0] != "delay" {
		t.Fatalf("stepper observed = %v, want [delay]", got)
	}

	if _, err := store.Set("off", "delay", "9", "test"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if len(fx.fakes["off"].observed) != 0 {
		t.Fatal("disabled manager received a setting change")
	}
}

func TestEnabledDefaultsOmitsDisabled(t *testing.T) {
	fx := newFixture()
	fx.add(t, "on", nil, nil)
	fx.add(t, "off", nil, func(f *fake) {
		f.defaults = settings.MapValue(map[string]settings.Value{
			"enabled": settings.BoolValue(false),
		})
	})

	set := Load(fx.table, newStore(t), nopRuntime{}, nil)
	defaults := set.EnabledDefaults()
	if _, ok := defaults["on"]; !ok {
		t.Fatal("enabled manager missing from reset defaults")
	}
	if _, ok := defaults["off"]; ok {
		t.Fatal("disabled manager present in reset defaults")
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	table := NewTable()
	def := Definition{Name: "blink", Version: "1.0", New: func(manager.Runtime) manager.Manager { return nil }}
	if err := table.Register(def); err != nil {
		t.Fatal(err)
	}
	if err := table.Register(def); !errors.Is(err, ErrDuplicateManager) {
		t.Fatalf("second register = %v, want ErrDuplicateManager", err)
	}
}

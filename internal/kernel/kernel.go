// Package kernel is the cooperative core: it owns the settings store, the
// event bus, the loaded manager set, and the command table, and drives
// every manager from a single goroutine, one bounded update per tick.
package kernel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/littlebox/littlebox/internal/dispatch"
	"github.com/littlebox/littlebox/internal/event"
	"github.com/littlebox/littlebox/internal/manager"
	"github.com/littlebox/littlebox/internal/registry"
	"github.com/littlebox/littlebox/internal/settings"
)

// ErrNotBooted marks use of the kernel before a successful Boot.
var ErrNotBooted = errors.New("kernel not booted")

// Options configures a kernel.
type Options struct {
	// SettingsPath is the persisted settings file.
	SettingsPath string
	// DeviceID keys the settings obfuscation. Empty means unkeyed.
	DeviceID []byte
	// Obfuscate toggles the on-disk obfuscation envelope.
	Obfuscate bool
	// CreateMissing starts with pristine defaults when the settings
	// file does not exist, instead of entering safe mode.
	CreateMissing bool
	// WatchSettings publishes a settings.external event when another
	// process rewrites the settings file.
	WatchSettings bool
	// TickInterval is the scheduler period. Defaults to 10ms.
	TickInterval time.Duration
	// Input is the console command source. Nil disables the console.
	Input io.Reader
	// Output receives command results and console prompts.
	// Defaults to os.Stdout.
	Output io.Writer
	// Logger defaults to a stderr logger at info level.
	Logger *Logger
}

// Kernel wires the framework together and implements manager.Runtime.
type Kernel struct {
	opts Options
	log  *Logger
	out  io.Writer

	store    *settings.Store
	bus      *event.Bus
	table    *registry.Table
	set      *registry.Set
	commands *dispatch.Table
	watcher  *settings.Watcher

	lines   chan string
	reloads chan struct{}
	ticks   uint64
	started time.Time
	stopped bool
}

// New creates a kernel over a registration table. Nothing runs until Boot.
func New(table *registry.Table, opts Options) *Kernel {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 10 * time.Millisecond
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = NewLogger(DefaultLoggerConfig())
	}

	k := &Kernel{
		opts:  opts,
		log:   opts.Logger,
		out:   opts.Output,
		table: table,
		bus:   event.NewBus(),
		store: settings.NewStore(settings.Options{
			Path:      opts.SettingsPath,
			DeviceID:  opts.DeviceID,
			Obfuscate: opts.Obfuscate,
		}),
		reloads: make(chan struct{}, 1),
	}
	k.bus.SetErrorReporter(func(topic string, err error) {
		k.log.Error("event %s: %v", topic, err)
	})
	return k
}

// Store exposes the settings store.
func (k *Kernel) Store() *settings.Store { return k.store }

// Bus exposes the event bus.
func (k *Kernel) Bus() *event.Bus { return k.bus }

// Managers returns the loaded manager set, nil before Boot.
func (k *Kernel) Managers() *registry.Set { return k.set }

// Commands returns the command table, nil before Boot.
func (k *Kernel) Commands() *dispatch.Table { return k.commands }

// Boot loads persisted settings, sets managers up in dependency order,
// and builds the command table. A persistence failure is returned to the
// caller, which is expected to run SafeMode and boot again.
func (k *Kernel) Boot() error {
	if !k.store.Loaded() {
		if err := k.store.Load(); err != nil {
			if k.opts.CreateMissing && fileMissing(k.opts.SettingsPath) {
				k.log.Warn("no settings file, starting from defaults")
				if rerr := k.store.Replace(settings.MapValue(nil)); rerr != nil {
					return rerr
				}
			} else {
				return err
			}
		}
	}

	k.set = registry.Load(k.table, k.store, k, k.log.Info)
	k.commands = k.buildCommands()
	k.connectServices()

	if k.opts.WatchSettings && k.watcher == nil {
		w, err := settings.WatchFile(k.opts.SettingsPath, k.requestReload)
		if err != nil {
			k.log.Warn("settings watcher unavailable: %v", err)
		} else {
			k.watcher = w
		}
	}

	k.started = time.Now()
	return nil
}

func fileMissing(path string) bool {
	_, err := os.Stat(path)
	return errors.Is(err, os.ErrNotExist)
}

func (k *Kernel) requestReload() {
	select {
	case k.reloads <- struct{}{}:
	default:
	}
}

// buildCommands assembles the flat command table from every manager that
// completed Setup. The table never changes after this.
func (k *Kernel) buildCommands() *dispatch.Table {
	table := dispatch.NewTable()
	for _, e := range k.set.Entries() {
		if e.Manager == nil || e.SetupErr != nil {
			continue
		}
		switch e.State() {
		case manager.StateDisabled, manager.StateUnloaded:
			continue
		}
		sp, ok := e.Manager.(manager.ServiceProvider)
		if !ok {
			continue
		}
		if err := table.AddServices(e.Name, sp.Services()); err != nil {
			k.log.Error("manager %s: %v", e.Name, err)
		}
	}
	return table
}

// connectServices runs the post-setup hook so managers can resolve
// handles to each other now that the command table exists.
func (k *Kernel) connectServices() {
	for _, e := range k.set.Entries() {
		if e.Manager == nil || e.SetupErr != nil {
			continue
		}
		sc, ok := e.Manager.(manager.ServiceConnector)
		if !ok {
			continue
		}
		if err := sc.ConnectServices(k); err != nil {
			e.SetupErr = err
			e.SetState(manager.StateError)
			k.log.Error("manager %s connect: %v", e.Name, err)
		}
	}
}

// Tick runs one cooperative scheduling pass: every runnable manager gets
// exactly one Update call, in dependency order. A manager whose declared
// dependencies are not all OK is skipped wholesale for this tick. Update
// failures and panics move the manager to Error; a later clean Update
// brings it back.
func (k *Kernel) Tick() {
	if k.set == nil {
		return
	}
	for _, e := range k.set.Entries() {
		if e.Manager == nil || e.SetupErr != nil {
			continue
		}
		if !e.State().Runnable() {
			continue
		}
		if !k.set.DepsReady(e) {
			continue
		}

		start := time.Now()
		err := runUpdate(e)
		elapsed := time.Since(start)
		e.LastUpdate = elapsed
		e.TotalUpdate += elapsed
		e.Updates++

		if err != nil {
			if e.State() != manager.StateError {
				k.log.Error("manager %s update: %v", e.Name, err)
			}
			e.SetState(manager.StateError)
			continue
		}
		if e.State() == manager.StateError {
			k.log.Info("manager %s recovered", e.Name)
			e.SetState(manager.StateOK)
		}
	}
	k.ticks++
}

func runUpdate(e *registry.Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("update panic: %v", r)
		}
	}()
	return e.Manager.Update()
}

// Run drives the kernel until the context is cancelled or a stop command
// arrives. Ticking, console handling, and reload notices all happen on
// this one goroutine; only the console reader runs beside it.
func (k *Kernel) Run(ctx context.Context) error {
	if k.set == nil {
		return ErrNotBooted
	}
	if k.opts.Input != nil {
		k.lines = make(chan string, 8)
		go readLines(k.opts.Input, k.lines)
	}

	ticker := time.NewTicker(k.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			k.Teardown()
			return ctx.Err()
		case line, ok := <-k.lines:
			if !ok {
				k.lines = nil
				continue
			}
			k.HandleLine(line)
		case <-k.reloads:
			k.log.Warn("settings file changed on disk; restart to apply")
			k.bus.Publish("settings.external", k.opts.SettingsPath)
		case <-ticker.C:
			k.Tick()
		}
		if k.stopped {
			k.Teardown()
			return nil
		}
	}
}

func readLines(r io.Reader, out chan<- string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
	close(out)
}

// Teardown releases manager resources in reverse dependency order and
// returns every manager to Unloaded. Safe to call more than once.
func (k *Kernel) Teardown() {
	if k.watcher != nil {
		k.watcher.Close()
		k.watcher = nil
	}
	if k.set == nil {
		return
	}
	entries := k.set.Entries()
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Manager == nil || e.State() == manager.StateUnloaded {
			continue
		}
		if td, ok := e.Manager.(manager.Teardowner); ok && e.SetupErr == nil {
			if err := runTeardown(td); err != nil {
				k.log.Error("manager %s teardown: %v", e.Name, err)
			}
		}
		e.SetState(manager.StateUnloaded)
	}
}

func runTeardown(td manager.Teardowner) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("teardown panic: %v", r)
		}
	}()
	return td.Teardown()
}

// Publish implements manager.Runtime.
func (k *Kernel) Publish(topic string, payload any) {
	k.bus.Publish(topic, payload)
}

// Subscribe implements manager.Runtime.
func (k *Kernel) Subscribe(topic string, h event.Handler, opts ...event.SubscribeOption) *event.Subscription {
	return k.bus.Subscribe(topic, h, opts...)
}

// Call implements manager.Runtime.
func (k *Kernel) Call(name string, args ...settings.Value) (settings.Value, error) {
	if k.commands == nil {
		return settings.Value{}, ErrNotBooted
	}
	return k.commands.Call(name, args...)
}

// Service implements manager.Runtime.
func (k *Kernel) Service(prefix string) (manager.ServiceHandle, error) {
	if k.commands == nil {
		return nil, ErrNotBooted
	}
	return k.commands.Service(prefix)
}

// SetSetting implements manager.Runtime.
func (k *Kernel) SetSetting(name, path, raw string) error {
	_, err := k.store.Set(name, path, raw, "runtime")
	return err
}

// Logf implements manager.Runtime.
func (k *Kernel) Logf(format string, args ...any) {
	k.log.Info(format, args...)
}

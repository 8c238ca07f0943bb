// Package manager defines the contract every littlebox manager fulfils and
// the runtime surface the kernel exposes to them.
package manager

import (
	"github.com/littlebox/littlebox/internal/event"
	"github.com/littlebox/littlebox/internal/settings"
)

// State is a manager's lifecycle state.
type State uint8

const (
	// StateUnloaded means the manager has been registered but not set up.
	StateUnloaded State = iota
	// StateStarting means Setup is in progress.
	StateStarting
	// StateDisabled means the manager was switched off in settings.
	// Disabled is terminal for the current boot.
	StateDisabled
	// StateError means Setup or Update failed. Error is recoverable:
	// a later successful Update returns the manager to service.
	StateError
	// StateWaiting means the manager is up but waiting on a dependency
	// or external resource.
	StateWaiting
	// StateOK means the manager is fully operational.
	StateOK
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateStarting:
		return "starting"
	case StateDisabled:
		return "disabled"
	case StateError:
		return "error"
	case StateWaiting:
		return "waiting"
	case StateOK:
		return "ok"
	default:
		return "unknown"
	}
}

// Runnable reports whether a manager in this state should receive Update
// calls. Disabled and Unloaded managers never run again this boot; Error
// and Waiting managers keep running so they can recover.
func (s State) Runnable() bool {
	switch s {
	case StateOK, StateWaiting, StateError:
		return true
	default:
		return false
	}
}

// Manager is the contract every manager implements.
//
// Setup receives the merged settings subtree (defaults overlaid with
// persisted values) and runs once per boot. Update runs once per scheduler
// tick and must return quickly; long work is split across ticks with a
// Routine or handed to a goroutine whose result is polled.
type Manager interface {
	Name() string
	Version() string
	Defaults() settings.Value
	Setup(merged settings.Value) error
	Update() error
}

// Service is one command a manager exposes through the dispatcher.
type Service struct {
	Description string
	Handler     func(args []settings.Value) (settings.Value, error)
}

// ServiceHandle exposes one manager's commands to another, resolved by
// name prefix from the command table.
type ServiceHandle interface {
	Call(command string, args ...settings.Value) (settings.Value, error)
	Commands() []string
}

// Runtime is the kernel surface handed to each manager at construction.
// All methods are safe to call from Setup, Update, and service handlers;
// none of them block.
type Runtime interface {
	// Publish delivers an event to all current subscribers before returning.
	Publish(topic string, payload any)
	// Subscribe registers an event handler.
	Subscribe(topic string, h event.Handler, opts ...event.SubscribeOption) *event.Subscription
	// Call invokes a command by its full <manager>.<command> name.
	Call(name string, args ...settings.Value) (settings.Value, error)
	// Service resolves another manager's command set by name prefix.
	Service(prefix string) (ServiceHandle, error)
	// SetSetting changes one setting through the store: coerced to the
	// existing type, persisted, and announced to observers.
	SetSetting(name, path, raw string) error
	// Logf writes a line to the kernel log.
	Logf(format string, args ...any)
}

// DependencyLister names the managers this one depends on. Dependencies
// gate both boot order and per-tick updates.
type DependencyLister interface {
	Dependencies() []string
}

// ServiceProvider exposes commands through the dispatcher. The returned
// map is read once, after Setup; later changes are not observed.
type ServiceProvider interface {
	Services() map[string]Service
}

// SettingObserver is notified after one of the manager's own settings
// changes. Path is relative to the manager's subtree.
type SettingObserver interface {
	OnSettingChanged(path string, old, new settings.Value)
}

// ServiceConnector runs after every manager's Setup, once the command
// table exists, so managers can resolve handles to each other.
type ServiceConnector interface {
	ConnectServices(rt Runtime) error
}

// Teardowner releases external resources at shutdown.
type Teardowner interface {
	Teardown() error
}

// Stateful exposes lifecycle state. Every manager embedding Base has it;
// the loader and scheduler read and drive state through this interface.
type Stateful interface {
	State() State
	SetState(State)
}

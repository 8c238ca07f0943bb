// Package managertest provides a recording Runtime for manager tests.
package managertest

import (
	"fmt"

	"github.com/littlebox/littlebox/internal/event"
	"github.com/littlebox/littlebox/internal/manager"
	"github.com/littlebox/littlebox/internal/settings"
)

// Published records one Publish call.
type Published struct {
	Topic   string
	Payload any
}

// SetCall records one SetSetting call.
type SetCall struct {
	Manager string
	Path    string
	Raw     string
}

// Runtime is a manager.Runtime that records interactions and routes
// events through a real bus. Calls are answered from the Handlers map.
type Runtime struct {
	Bus      *event.Bus
	Events   []Published
	Sets     []SetCall
	Handlers map[string]func(args []settings.Value) (settings.Value, error)
	Logs     []string
}

// New creates a recording runtime.
func New() *Runtime {
	return &Runtime{
		Bus:      event.NewBus(),
		Handlers: make(map[string]func([]settings.Value) (settings.Value, error)),
	}
}

func (r *Runtime) Publish(topic string, payload any) {
	r.Events = append(r.Events, Published{Topic: topic, Payload: payload})
	r.Bus.Publish(topic, payload)
}

func (r *Runtime) Subscribe(topic string, h event.Handler, opts ...event.SubscribeOption) *event.Subscription {
	return r.Bus.Subscribe(topic, h, opts...)
}

func (r *Runtime) Call(name string, args ...settings.Value) (settings.Value, error) {
	h, ok := r.Handlers[name]
	if !ok {
		return settings.Value{}, fmt.Errorf("no handler for %s", name)
	}
	return h(args)
}

func (r *Runtime) Service(prefix string) (manager.ServiceHandle, error) {
	return nil, fmt.Errorf("no services under %s", prefix)
}

func (r *Runtime) SetSetting(name, path, raw string) error {
	r.Sets = append(r.Sets, SetCall{Manager: name, Path: path, Raw: raw})
	return nil
}

func (r *Runtime) Logf(format string, args ...any) {
	r.Logs = append(r.Logs, fmt.Sprintf(format, args...))
}

// Topics returns the published topics in order.
func (r *Runtime) Topics() []string {
	out := make([]string, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.Topic
	}
	return out
}

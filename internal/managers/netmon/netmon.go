// Package netmon watches for network connectivity. It registers under the
// name "net" and other managers declare a dependency on it to be gated
// off the schedule whenever the box is offline.
package netmon

import (
	"net"
	"time"

	"github.com/littlebox/littlebox/internal/manager"
	"github.com/littlebox/littlebox/internal/registry"
	"github.com/littlebox/littlebox/internal/settings"
)

// Version is the manager version reported in status output.
const Version = "1.0.0"

// Manager probes connectivity on a settings-controlled interval and
// publishes net.online / net.offline on transitions. While offline it
// sits in Waiting, which holds every dependent manager off the schedule.
type Manager struct {
	manager.Base
	rt  manager.Runtime
	now func() time.Time

	// probe reports whether the box currently has a usable interface.
	probe func() (bool, error)

	interval  time.Duration
	nextProbe time.Time
	online    bool
	probed    bool
}

// Definition registers the connectivity monitor.
func Definition() registry.Definition {
	return registry.Definition{
		Name:    "net",
		Version: Version,
		New: func(rt manager.Runtime) manager.Manager {
			return &Manager{
				Base:  manager.NewBase("net", Version),
				rt:    rt,
				now:   time.Now,
				probe: interfacesUp,
			}
		},
	}
}

// interfacesUp reports whether any non-loopback interface is up with an
// address assigned.
func interfacesUp() (bool, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil || len(addrs) == 0 {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (m *Manager) Defaults() settings.Value {
	return settings.MapValue(map[string]settings.Value{
		"probe_seconds": settings.IntValue(5),
	})
}

func (m *Manager) Setup(merged settings.Value) error {
	secs, _ := merged.Key("probe_seconds")
	m.interval = time.Duration(secs.Int()) * time.Second
	if m.interval <= 0 {
		m.interval = 5 * time.Second
	}
	m.nextProbe = m.now()
	m.SetState(manager.StateWaiting)
	m.SetStatus(3001, "waiting for network")
	return nil
}

func (m *Manager) Update() error {
	if m.now().Before(m.nextProbe) {
		return nil
	}
	m.nextProbe = m.now().Add(m.interval)

	online, err := m.probe()
	if err != nil {
		return err
	}
	transition := !m.probed || online != m.online
	m.probed = true
	m.online = online

	if online {
		m.SetState(manager.StateOK)
		if transition {
			m.SetStatus(3002, "network up")
			m.rt.Publish("net.online", nil)
		}
	} else {
		m.SetState(manager.StateWaiting)
		if transition {
			m.SetStatus(3003, "network down")
			m.rt.Publish("net.offline", nil)
		}
	}
	return nil
}

// Online reports the last probe result.
func (m *Manager) Online() bool { return m.online }

func (m *Manager) Services() map[string]manager.Service {
	return map[string]manager.Service{
		"online": {
			Description: "report whether the network is up",
			Handler: func([]settings.Value) (settings.Value, error) {
				return settings.BoolValue(m.online), nil
			},
		},
	}
}

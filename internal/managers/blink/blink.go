// Package blink drives a heartbeat LED. It is the smallest complete
// manager and doubles as the reference for writing new ones.
package blink

import (
	"fmt"
	"time"

	"github.com/littlebox/littlebox/internal/hw"
	"github.com/littlebox/littlebox/internal/manager"
	"github.com/littlebox/littlebox/internal/registry"
	"github.com/littlebox/littlebox/internal/settings"
)

// Version is the manager version reported in status output.
const Version = "1.1.0"

// Manager blinks one LED pin at a configured period.
type Manager struct {
	manager.Base
	rt    manager.Runtime
	board hw.Board
	now   func() time.Time

	pin      hw.Pin
	delay    time.Duration
	blinking bool
	level    bool
	nextFlip time.Time
}

// Definition registers the blink manager against a board.
func Definition(board hw.Board) registry.Definition {
	return registry.Definition{
		Name:    "blink",
		Version: Version,
		New: func(rt manager.Runtime) manager.Manager {
			return &Manager{
				Base:  manager.NewBase("blink", Version),
				rt:    rt,
				board: board,
				now:   time.Now,
			}
		},
	}
}

func (m *Manager) Defaults() settings.Value {
	return settings.MapValue(map[string]settings.Value{
		"pin":           settings.IntValue(25),
		"delay_seconds": settings.FloatValue(1.0),
	})
}

func (m *Manager) Setup(merged settings.Value) error {
	pinID, _ := merged.Key("pin")
	pin, err := m.board.Pin(int(pinID.Int()))
	if err != nil {
		return fmt.Errorf("blink pin: %w", err)
	}
	m.pin = pin
	m.pin.Set(false)

	delay, _ := merged.Key("delay_seconds")
	m.delay = time.Duration(delay.Float() * float64(time.Second))
	if m.delay <= 0 {
		m.delay = time.Second
	}

	m.blinking = true
	m.nextFlip = m.now()
	m.SetStatus(6001, fmt.Sprintf("blinking pin %d every %s", pinID.Int(), m.delay))
	return nil
}

func (m *Manager) Update() error {
	if !m.blinking {
		return nil
	}
	if m.now().Before(m.nextFlip) {
		return nil
	}
	m.level = !m.level
	if err := m.pin.Set(m.level); err != nil {
		return err
	}
	m.nextFlip = m.now().Add(m.delay)
	return nil
}

// OnSettingChanged applies a new period without a restart.
func (m *Manager) OnSettingChanged(path string, _, new settings.Value) {
	if path != "delay_seconds" {
		return
	}
	if d := time.Duration(new.Float() * float64(time.Second)); d > 0 {
		m.delay = d
	}
}

func (m *Manager) Services() map[string]manager.Service {
	return map[string]manager.Service{
		"start": {
			Description: "start blinking",
			Handler: func([]settings.Value) (settings.Value, error) {
				m.blinking = true
				m.nextFlip = m.now()
				return settings.BoolValue(true), nil
			},
		},
		"stop": {
			Description: "stop blinking and drive the pin low",
			Handler: func([]settings.Value) (settings.Value, error) {
				m.blinking = false
				m.level = false
				return settings.BoolValue(true), m.pin.Set(false)
			},
		},
	}
}

func (m *Manager) Teardown() error {
	if m.pin != nil {
		return m.pin.Set(false)
	}
	return nil
}

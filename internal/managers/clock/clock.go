// Package clock keeps wall time, syncing over NTP when the network is up
// and publishing tick events the rest of the framework can hang timers on.
package clock

import (
	"fmt"
	"time"

	"github.com/beevik/ntp"

	"github.com/littlebox/littlebox/internal/manager"
	"github.com/littlebox/littlebox/internal/registry"
	"github.com/littlebox/littlebox/internal/settings"
)

// Version is the manager version reported in status output.
const Version = "1.2.0"

type syncResult struct {
	t   time.Time
	err error
}

// Manager publishes clock.second/minute/hour/day as local time rolls
// over, and keeps an NTP-derived offset over the monotonic clock. The
// sync itself runs in a goroutine whose result is polled from Update, so
// a slow NTP server never stalls a tick.
type Manager struct {
	manager.Base
	rt   manager.Runtime
	now  func() time.Time
	sync func(host string) (time.Time, error)

	host     string
	tzOffset time.Duration
	resync   time.Duration

	offset   time.Duration
	synced   bool
	nextSync time.Time
	inflight chan syncResult

	lastSecond int
	lastMinute int
	lastHour   int
	lastDay    int
}

// Definition registers the clock manager.
func Definition() registry.Definition {
	return registry.Definition{
		Name:    "clock",
		Version: Version,
		New: func(rt manager.Runtime) manager.Manager {
			return &Manager{
				Base: manager.NewBase("clock", Version),
				rt:   rt,
				now:  time.Now,
				sync: ntp.Time,
			}
		},
	}
}

func (m *Manager) Dependencies() []string { return []string{"net"} }

func (m *Manager) Defaults() settings.Value {
	return settings.MapValue(map[string]settings.Value{
		"enabled":           settings.BoolValue(false),
		"ntpserver":         settings.StringValue("pool.ntp.org"),
		"tz_offset_minutes": settings.IntValue(0),
		"resync_minutes":    settings.IntValue(180),
		"sync_on_start":     settings.BoolValue(true),
	})
}

func (m *Manager) Setup(merged settings.Value) error {
	host, _ := merged.Key("ntpserver")
	m.host = host.Str()
	if m.host == "" {
		m.host = "pool.ntp.org"
	}
	tz, _ := merged.Key("tz_offset_minutes")
	m.tzOffset = time.Duration(tz.Int()) * time.Minute
	resync, _ := merged.Key("resync_minutes")
	m.resync = time.Duration(resync.Int()) * time.Minute
	if m.resync <= 0 {
		m.resync = 3 * time.Hour
	}

	if onStart, _ := merged.Key("sync_on_start"); onStart.Bool() {
		m.nextSync = m.now()
	} else {
		m.nextSync = m.now().Add(m.resync)
	}

	m.lastSecond, m.lastMinute, m.lastHour, m.lastDay = -1, -1, -1, -1
	m.SetStatus(5001, "running from local clock")
	return nil
}

func (m *Manager) Update() error {
	m.pollSync()

	if m.inflight == nil && !m.now().Before(m.nextSync) {
		m.beginSync()
	}

	lt := m.LocalNow()
	sec, min, hour, day := lt.Second(), lt.Minute(), lt.Hour(), lt.Day()
	if sec != m.lastSecond {
		m.lastSecond = sec
		m.rt.Publish("clock.second", lt)
	}
	if min != m.lastMinute {
		m.lastMinute = min
		m.rt.Publish("clock.minute", lt)
	}
	if hour != m.lastHour {
		m.lastHour = hour
		m.rt.Publish("clock.hour", lt)
	}
	if day != m.lastDay {
		m.lastDay = day
		m.rt.Publish("clock.day", lt)
	}
	return nil
}

func (m *Manager) beginSync() {
	ch := make(chan syncResult, 1)
	m.inflight = ch
	host := m.host
	sync := m.sync
	go func() {
		t, err := sync(host)
		ch <- syncResult{t: t, err: err}
	}()
	m.SetStatus(5004, fmt.Sprintf("syncing via %s", host))
}

func (m *Manager) pollSync() {
	if m.inflight == nil {
		return
	}
	select {
	case res := <-m.inflight:
		m.inflight = nil
		m.nextSync = m.now().Add(m.resync)
		if res.err != nil {
			// Keep running from the local clock and retry later.
			m.SetStatus(5007, fmt.Sprintf("sync failed, retrying later: %v", res.err))
			return
		}
		m.offset = res.t.Sub(m.now())
		m.synced = true
		m.SetStatus(5005, fmt.Sprintf("synced, local %s", m.LocalNow().Format(time.RFC3339)))
		m.rt.Publish("clock.synced", m.LocalNow())
	default:
	}
}

// LocalNow returns the current local time: monotonic clock plus the NTP
// offset plus the configured timezone shift.
func (m *Manager) LocalNow() time.Time {
	return m.now().Add(m.offset).Add(m.tzOffset)
}

// UTCNow returns NTP-corrected UTC.
func (m *Manager) UTCNow() time.Time {
	return m.now().Add(m.offset).UTC()
}

// Synced reports whether at least one NTP sync has completed.
func (m *Manager) Synced() bool { return m.synced }

func (m *Manager) OnSettingChanged(path string, _, new settings.Value) {
	switch path {
	case "tz_offset_minutes":
		m.tzOffset = time.Duration(new.Int()) * time.Minute
	case "ntpserver":
		if new.Str() != "" {
			m.host = new.Str()
		}
	case "resync_minutes":
		if d := time.Duration(new.Int()) * time.Minute; d > 0 {
			m.resync = d
		}
	}
}

func (m *Manager) Services() map[string]manager.Service {
	return map[string]manager.Service{
		"now": {
			Description: "current local time",
			Handler: func([]settings.Value) (settings.Value, error) {
				return settings.StringValue(m.LocalNow().Format(time.RFC3339)), nil
			},
		},
		"utc": {
			Description: "current UTC time",
			Handler: func([]settings.Value) (settings.Value, error) {
				return settings.StringValue(m.UTCNow().Format(time.RFC3339)), nil
			},
		},
		"epoch": {
			Description: "seconds since the Unix epoch, NTP corrected",
			Handler: func([]settings.Value) (settings.Value, error) {
				return settings.IntValue(m.UTCNow().Unix()), nil
			},
		},
		"sync": {
			Description: "force an NTP sync on the next tick",
			Handler: func([]settings.Value) (settings.Value, error) {
				m.nextSync = m.now()
				return settings.BoolValue(true), nil
			},
		},
	}
}

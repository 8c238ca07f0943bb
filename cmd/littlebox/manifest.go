package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Manifest is the optional boot configuration file. Everything in it has
// a working default, so a box can boot with no manifest at all.
type Manifest struct {
	Device struct {
		// ID keys the settings obfuscation. Empty means unkeyed.
		ID string `toml:"id"`
	} `toml:"device"`

	Settings struct {
		Path          string `toml:"path"`
		Obfuscate     bool   `toml:"obfuscate"`
		CreateMissing bool   `toml:"create_missing"`
		Watch         bool   `toml:"watch"`
	} `toml:"settings"`

	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`

	Scheduler struct {
		TickMS int `toml:"tick_ms"`
	} `toml:"scheduler"`
}

// DefaultManifest returns the configuration used when no manifest file
// is given.
func DefaultManifest() Manifest {
	var m Manifest
	m.Settings.Path = "littlebox.settings"
	m.Settings.Obfuscate = true
	m.Settings.CreateMissing = true
	m.Settings.Watch = true
	m.Log.Level = "info"
	m.Scheduler.TickMS = 10
	return m
}

// LoadManifest reads a TOML manifest over the defaults.
func LoadManifest(path string) (Manifest, error) {
	m := DefaultManifest()
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if err := toml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return m, nil
}

// TickInterval returns the scheduler period, floored at 1ms.
func (m Manifest) TickInterval() time.Duration {
	if m.Scheduler.TickMS < 1 {
		return time.Millisecond
	}
	return time.Duration(m.Scheduler.TickMS) * time.Millisecond
}

// Package pixel renders animation frames for a small light panel. On the
// bench there is no panel; the frame buffer is the output and the frame
// service exposes it for inspection.
package pixel

import (
	"fmt"
	"math"
	"time"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/littlebox/littlebox/internal/manager"
	"github.com/littlebox/littlebox/internal/registry"
	"github.com/littlebox/littlebox/internal/settings"
)

// Version is the manager version reported in status output.
const Version = "1.0.1"

// Manager advances one animation frame per due tick.
type Manager struct {
	manager.Base
	rt  manager.Runtime
	now func() time.Time

	frame      []colorful.Color
	brightness float64
	animation  string
	fillColor  colorful.Color
	frameEvery time.Duration
	nextFrame  time.Time
	phase      float64
	frames     uint64
}

// Definition registers the pixel manager.
func Definition() registry.Definition {
	return registry.Definition{
		Name:    "pixel",
		Version: Version,
		New: func(rt manager.Runtime) manager.Manager {
			return &Manager{
				Base: manager.NewBase("pixel", Version),
				rt:   rt,
				now:  time.Now,
			}
		},
	}
}

func (m *Manager) Defaults() settings.Value {
	return settings.MapValue(map[string]settings.Value{
		"num_pixels": settings.IntValue(8),
		"brightness": settings.FloatValue(0.5),
		"animation":  settings.StringValue("rainbow"),
		"frame_ms":   settings.IntValue(50),
	})
}

func (m *Manager) Setup(merged settings.Value) error {
	count, _ := merged.Key("num_pixels")
	if count.Int() <= 0 {
		return fmt.Errorf("num_pixels must be positive, got %d", count.Int())
	}
	m.frame = make([]colorful.Color, count.Int())

	brightness, _ := merged.Key("brightness")
	m.brightness = clamp01(brightness.Float())
	anim, _ := merged.Key("animation")
	m.animation = anim.Str()
	frameMS, _ := merged.Key("frame_ms")
	m.frameEvery = time.Duration(frameMS.Int()) * time.Millisecond
	if m.frameEvery <= 0 {
		m.frameEvery = 50 * time.Millisecond
	}

	m.nextFrame = m.now()
	m.SetStatus(7001, fmt.Sprintf("%d pixels, %s", count.Int(), m.animation))
	return nil
}

func (m *Manager) Update() error {
	if m.now().Before(m.nextFrame) {
		return nil
	}
	m.nextFrame = m.now().Add(m.frameEvery)
	m.render()
	m.frames++
	return nil
}

func (m *Manager) render() {
	n := float64(len(m.frame))
	switch m.animation {
	case "rainbow":
		for i := range m.frame {
			hue := math.Mod(m.phase+float64(i)*360.0/n, 360.0)
			m.frame[i] = scale(colorful.Hsv(hue, 1, 1), m.brightness)
		}
		m.phase = math.Mod(m.phase+3, 360.0)
	case "breathe":
		level := (1 + math.Sin(m.phase*math.Pi/180.0)) / 2
		c := scale(m.fillColor, m.brightness*level)
		for i := range m.frame {
			m.frame[i] = c
		}
		m.phase = math.Mod(m.phase+4, 360.0)
	default: // solid
		c := scale(m.fillColor, m.brightness)
		for i := range m.frame {
			m.frame[i] = c
		}
	}
}

func scale(c colorful.Color, factor float64) colorful.Color {
	h, s, v := c.Hsv()
	return colorful.Hsv(h, s, v*factor)
}

func clamp01(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}

// Frame returns the current frame as hex strings, one per pixel.
func (m *Manager) Frame() []string {
	out := make([]string, len(m.frame))
	for i, c := range m.frame {
		out[i] = c.Clamped().Hex()
	}
	return out
}

func (m *Manager) OnSettingChanged(path string, _, new settings.Value) {
	switch path {
	case "brightness":
		m.brightness = clamp01(new.Float())
	case "animation":
		m.animation = new.Str()
	case "frame_ms":
		if d := time.Duration(new.Int()) * time.Millisecond; d > 0 {
			m.frameEvery = d
		}
	}
}

func (m *Manager) Services() map[string]manager.Service {
	return map[string]manager.Service{
		"fill": {
			Description: "fill <hex>: switch to a solid color",
			Handler: func(args []settings.Value) (settings.Value, error) {
				if len(args) != 1 {
					return settings.Value{}, fmt.Errorf("want one hex color")
				}
				c, err := colorful.Hex(args[0].Str())
				if err != nil {
					return settings.Value{}, fmt.Errorf("bad color %q: %w", args[0].Str(), err)
				}
				m.fillColor = c
				m.animation = "solid"
				m.render()
				return settings.BoolValue(true), nil
			},
		},
		"clear": {
			Description: "turn every pixel off",
			Handler: func([]settings.Value) (settings.Value, error) {
				m.fillColor = colorful.Color{}
				m.animation = "solid"
				m.render()
				return settings.BoolValue(true), nil
			},
		},
		"brightness": {
			Description: "brightness <0..1>",
			Handler: func(args []settings.Value) (settings.Value, error) {
				if len(args) != 1 {
					return settings.Value{}, fmt.Errorf("want one number")
				}
				m.brightness = clamp01(args[0].Float())
				return settings.FloatValue(m.brightness), nil
			},
		},
		"animation": {
			Description: "animation <rainbow|breathe|solid>",
			Handler: func(args []settings.Value) (settings.Value, error) {
				if len(args) != 1 {
					return settings.Value{}, fmt.Errorf("want an animation name")
				}
				m.animation = args[0].Str()
				return settings.BoolValue(true), nil
			},
		},
		"frame": {
			Description: "dump the current frame as hex colors",
			Handler: func([]settings.Value) (settings.Value, error) {
				items := make([]settings.Value, 0, len(m.frame))
				for _, hex := range m.Frame() {
					items = append(items, settings.StringValue(hex))
				}
				return settings.ListValue(items...), nil
			},
		},
	}
}

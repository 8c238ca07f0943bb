// Package stepper drives up to four geared steppers through a ULN2003
// style driver, or simulates them when the pins are unwired. Motion is
// planned in millimetres and executed a bounded number of steps per
// scheduler tick.
package stepper

import (
	"fmt"
	"math"
	"time"

	"github.com/littlebox/littlebox/internal/hw"
	"github.com/littlebox/littlebox/internal/manager"
	"github.com/littlebox/littlebox/internal/registry"
	"github.com/littlebox/littlebox/internal/settings"
)

// Version is the manager version reported in status output.
const Version = "1.1.0"

const maxMotors = 4

// halfstep is the 8-phase half-step sequence for IN1..IN4.
var halfstep = [8][4]bool{
	{true, false, false, false},
	{true, true, false, false},
	{false, true, false, false},
	{false, true, true, false},
	{false, false, true, false},
	{false, false, true, true},
	{false, false, false, true},
	{true, false, false, true},
}

type motor struct {
	pins     [4]hw.Pin // nil entries mean simulation only
	diameter float64   // wheel diameter in mm

	position int64 // absolute steps
	remain   int64
	dir      int64
	phase    int
}

// Manager plans and executes differential-drive motion.
type Manager struct {
	manager.Base
	rt    manager.Runtime
	board hw.Board
	now   func() time.Time

	motors      []*motor
	spacing     float64
	stepsPerRev int64
	minDelay    time.Duration // fastest step interval

	interval   time.Duration // current step interval
	lastTick   time.Time
	wasMoving  bool
	carryBudge time.Duration
}

// Definition registers the stepper manager against a board.
func Definition(board hw.Board) registry.Definition {
	return registry.Definition{
		Name:    "stepper",
		Version: Version,
		New: func(rt manager.Runtime) manager.Manager {
			return &Manager{
				Base:  manager.NewBase("stepper", Version),
				rt:    rt,
				board: board,
				now:   time.Now,
			}
		},
	}
}

func defaultMotor() settings.Value {
	return settings.MapValue(map[string]settings.Value{
		"pins": settings.ListValue(
			settings.IntValue(-1), settings.IntValue(-1),
			settings.IntValue(-1), settings.IntValue(-1),
		),
		"wheel_diameter_mm": settings.FloatValue(69.0),
	})
}

func (m *Manager) Defaults() settings.Value {
	return settings.MapValue(map[string]settings.Value{
		"motors": settings.ListValue(
			defaultMotor(), defaultMotor(), defaultMotor(), defaultMotor(),
		),
		"wheel_spacing_mm":  settings.FloatValue(110.0),
		"steps_per_rev":     settings.IntValue(4096),
		"min_step_delay_us": settings.IntValue(1200),
		"enabled":           settings.BoolValue(false),
	})
}

func (m *Manager) Setup(merged settings.Value) error {
	spacing, _ := merged.Key("wheel_spacing_mm")
	m.spacing = spacing.Float()
	stepsPerRev, _ := merged.Key("steps_per_rev")
	m.stepsPerRev = stepsPerRev.Int()
	if m.stepsPerRev <= 0 {
		return fmt.Errorf("steps_per_rev must be positive, got %d", m.stepsPerRev)
	}
	minDelay, _ := merged.Key("min_step_delay_us")
	m.minDelay = time.Duration(minDelay.Int()) * time.Microsecond
	if m.minDelay <= 0 {
		m.minDelay = 1200 * time.Microsecond
	}
	m.interval = m.minDelay

	motors, _ := merged.Key("motors")
	m.motors = nil
	for i := 0; i < motors.Len() && i < maxMotors; i++ {
		cfg, _ := motors.Index(i)
		mot, err := m.buildMotor(cfg)
		if err != nil {
			return fmt.Errorf("motor %d: %w", i, err)
		}
		m.motors = append(m.motors, mot)
	}

	m.lastTick = m.now()
	m.SetStatus(7100, fmt.Sprintf("%d motor(s) ready", len(m.motors)))
	return nil
}

func (m *Manager) buildMotor(cfg settings.Value) (*motor, error) {
	diameter, _ := cfg.Key("wheel_diameter_mm")
	mot := &motor{diameter: diameter.Float()}
	if mot.diameter <= 0 {
		return nil, fmt.Errorf("wheel diameter %v", diameter)
	}
	pins, _ := cfg.Key("pins")
	for i := 0; i < 4 && i < pins.Len(); i++ {
		id, _ := pins.Index(i)
		if id.Int() < 0 {
			continue // unwired, simulate
		}
		pin, err := m.board.Pin(int(id.Int()))
		if err != nil {
			return nil, err
		}
		mot.pins[i] = pin
	}
	return mot, nil
}

// mmToSteps converts a distance for one motor's wheel.
func (m *Manager) mmToSteps(mot *motor, mm float64) int64 {
	return int64(math.Round(mm * float64(m.stepsPerRev) / (math.Pi * mot.diameter)))
}

// Update advances every moving motor by the steps its interval allows
// since the last tick, bounded so a long pause cannot burst the motors.
func (m *Manager) Update() error {
	now := m.now()
	elapsed := now.Sub(m.lastTick) + m.carryBudge
	m.lastTick = now

	budget := int64(elapsed / m.interval)
	m.carryBudge = elapsed % m.interval
	const maxBurst = 512
	if budget > maxBurst {
		budget = maxBurst
	}

	moving := false
	for _, mot := range m.motors {
		steps := mot.remain
		if steps > budget {
			steps = budget
		}
		for s := int64(0); s < steps; s++ {
			m.stepOnce(mot)
		}
		mot.remain -= steps
		if mot.remain > 0 {
			moving = true
		}
	}

	if m.wasMoving && !moving {
		m.coilsOff()
		m.SetStatus(7203, "motion complete")
		m.rt.Publish("stepper.done", nil)
	}
	m.wasMoving = moving
	return nil
}

func (m *Manager) stepOnce(mot *motor) {
	mot.position += mot.dir
	mot.phase = int((int64(mot.phase) + mot.dir + 8) % 8)
	for i, pin := range mot.pins {
		if pin != nil {
			pin.Set(halfstep[mot.phase][i])
		}
	}
}

func (m *Manager) coilsOff() {
	for _, mot := range m.motors {
		for _, pin := range mot.pins {
			if pin != nil {
				pin.Set(false)
			}
		}
	}
}

// queueMM plans motion for one motor.
func (m *Manager) queueMM(idx int, mm float64) {
	if idx >= len(m.motors) {
		return
	}
	mot := m.motors[idx]
	steps := m.mmToSteps(mot, mm)
	if steps >= 0 {
		mot.dir = 1
		mot.remain = steps
	} else {
		mot.dir = -1
		mot.remain = -steps
	}
}

// applyTiming picks the step interval: the fastest allowed, or slower
// when the caller asked the motion to take a number of seconds.
func (m *Manager) applyTiming(leftMM, rightMM, seconds float64) {
	m.interval = m.minDelay
	if seconds <= 0 {
		return
	}
	var steps int64
	if len(m.motors) > 0 {
		if s := abs64(m.mmToSteps(m.motors[0], leftMM)); s > steps {
			steps = s
		}
	}
	if len(m.motors) > 1 {
		if s := abs64(m.mmToSteps(m.motors[1], rightMM)); s > steps {
			steps = s
		}
	}
	if steps <= 1 {
		return
	}
	requested := time.Duration(seconds*1e6/float64(steps)) * time.Microsecond
	if requested > m.minDelay {
		m.interval = requested
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Move drives both wheels the same distance.
func (m *Manager) Move(distanceMM, seconds float64) {
	m.queueMM(0, distanceMM)
	m.queueMM(1, distanceMM)
	m.applyTiming(distanceMM, distanceMM, seconds)
	m.wasMoving = true
	m.SetStatus(7200, fmt.Sprintf("move %.1fmm", distanceMM))
}

// Rotate spins in place by an angle in degrees.
func (m *Manager) Rotate(angleDeg, seconds float64) {
	arc := math.Pi * m.spacing * angleDeg / 360.0
	m.queueMM(0, arc)
	m.queueMM(1, -arc)
	m.applyTiming(arc, -arc, seconds)
	m.wasMoving = true
	m.SetStatus(7201, fmt.Sprintf("rotate %.1f deg", angleDeg))
}

// Arc follows a circular arc of the given radius and angle.
func (m *Manager) Arc(radiusMM, angleDeg, seconds float64) {
	left := 2 * math.Pi * (radiusMM - m.spacing/2) * angleDeg / 360.0
	right := 2 * math.Pi * (radiusMM + m.spacing/2) * angleDeg / 360.0
	m.queueMM(0, left)
	m.queueMM(1, right)
	m.applyTiming(left, right, seconds)
	m.wasMoving = true
	m.SetStatus(7202, fmt.Sprintf("arc r=%.1fmm %.1f deg", radiusMM, angleDeg))
}

// Stop abandons all planned motion and de-energizes the coils.
func (m *Manager) Stop() {
	for _, mot := range m.motors {
		mot.remain = 0
	}
	m.coilsOff()
	m.wasMoving = false
	m.SetStatus(7204, "stopped")
}

// Moving reports whether any motor still has planned steps.
func (m *Manager) Moving() bool {
	for _, mot := range m.motors {
		if mot.remain > 0 {
			return true
		}
	}
	return false
}

// OnSettingChanged applies geometry changes to already-built motors.
func (m *Manager) OnSettingChanged(path string, _, new settings.Value) {
	switch {
	case path == "wheel_spacing_mm":
		if new.Float() > 0 {
			m.spacing = new.Float()
		}
	case path == "min_step_delay_us":
		if d := time.Duration(new.Int()) * time.Microsecond; d > 0 {
			m.minDelay = d
		}
	default:
		var idx int
		if n, err := fmt.Sscanf(path, "motors[%d].wheel_diameter_mm", &idx); err == nil && n == 1 {
			if idx < len(m.motors) && new.Float() > 0 {
				m.motors[idx].diameter = new.Float()
			}
		}
	}
}

func (m *Manager) Services() map[string]manager.Service {
	return map[string]manager.Service{
		"move": {
			Description: "move <mm> [seconds]",
			Handler: func(args []settings.Value) (settings.Value, error) {
				mm, secs, err := distanceArgs(args, 1)
				if err != nil {
					return settings.Value{}, err
				}
				m.Move(mm[0], secs)
				return settings.BoolValue(true), nil
			},
		},
		"rotate": {
			Description: "rotate <deg> [seconds]",
			Handler: func(args []settings.Value) (settings.Value, error) {
				deg, secs, err := distanceArgs(args, 1)
				if err != nil {
					return settings.Value{}, err
				}
				m.Rotate(deg[0], secs)
				return settings.BoolValue(true), nil
			},
		},
		"arc": {
			Description: "arc <radius_mm> <angle_deg> [seconds]",
			Handler: func(args []settings.Value) (settings.Value, error) {
				vals, secs, err := distanceArgs(args, 2)
				if err != nil {
					return settings.Value{}, err
				}
				m.Arc(vals[0], vals[1], secs)
				return settings.BoolValue(true), nil
			},
		},
		"stop": {
			Description: "immediate stop, motors off",
			Handler: func([]settings.Value) (settings.Value, error) {
				m.Stop()
				return settings.BoolValue(true), nil
			},
		},
		"moving": {
			Description: "report whether motors are moving",
			Handler: func([]settings.Value) (settings.Value, error) {
				return settings.BoolValue(m.Moving()), nil
			},
		},
	}
}

// distanceArgs pulls want numeric arguments plus an optional trailing
// duration in seconds.
func distanceArgs(args []settings.Value, want int) ([]float64, float64, error) {
	if len(args) < want || len(args) > want+1 {
		return nil, 0, fmt.Errorf("want %d number(s) and an optional duration", want)
	}
	out := make([]float64, want)
	for i := 0; i < want; i++ {
		if args[i].Kind() != settings.KindInt && args[i].Kind() != settings.KindFloat {
			return nil, 0, fmt.Errorf("argument %d is %s, want a number", i+1, args[i].Kind())
		}
		out[i] = args[i].Float()
	}
	secs := 0.0
	if len(args) == want+1 {
		secs = args[want].Float()
	}
	return out, secs, nil
}

func (m *Manager) Teardown() error {
	m.Stop()
	return nil
}

// Package script embeds a sandboxed Lua interpreter so a box can be
// extended without reflashing. Scripts live in settings, run on the
// kernel goroutine, and reach the rest of the system through the box
// module only.
package script

import (
	"context"
	"fmt"
	"sort"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/littlebox/littlebox/internal/manager"
	"github.com/littlebox/littlebox/internal/registry"
	"github.com/littlebox/littlebox/internal/settings"
)

// Version is the manager version reported in status output.
const Version = "1.0.0"

// Manager owns one long-lived Lua state. The state is not goroutine
// safe; everything here runs on the kernel goroutine, including event
// hooks, because event delivery is synchronous.
type Manager struct {
	manager.Base
	rt manager.Runtime
	L  *lua.LState

	timeout time.Duration
	scripts map[string]string
	hooks   map[string]string // event topic -> script name
	runs    uint64
}

// Definition registers the script manager.
func Definition() registry.Definition {
	return registry.Definition{
		Name:    "script",
		Version: Version,
		New: func(rt manager.Runtime) manager.Manager {
			return &Manager{
				Base: manager.NewBase("script", Version),
				rt:   rt,
			}
		},
	}
}

func (m *Manager) Defaults() settings.Value {
	return settings.MapValue(map[string]settings.Value{
		"enabled":    settings.BoolValue(false),
		"timeout_ms": settings.IntValue(2000),
		"scripts":    settings.MapValue(nil),
		"hooks":      settings.MapValue(nil),
	})
}

func (m *Manager) Setup(merged settings.Value) error {
	timeout, _ := merged.Key("timeout_ms")
	m.timeout = time.Duration(timeout.Int()) * time.Millisecond
	if m.timeout <= 0 {
		m.timeout = 2 * time.Second
	}

	m.scripts = make(map[string]string)
	scripts, _ := merged.Key("scripts")
	for _, name := range scripts.Keys() {
		code, _ := scripts.Key(name)
		m.scripts[name] = code.Str()
	}
	m.hooks = make(map[string]string)
	hooks, _ := merged.Key("hooks")
	for _, topic := range hooks.Keys() {
		name, _ := hooks.Key(topic)
		m.hooks[topic] = name.Str()
	}

	m.L = lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(m.L)
	lua.OpenTable(m.L)
	lua.OpenString(m.L)
	lua.OpenMath(m.L)
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		m.L.SetGlobal(name, lua.LNil)
	}
	m.installBoxModule()

	for topic, name := range m.hooks {
		topic, name := topic, name
		m.rt.Subscribe(topic, func(t string, payload any) {
			m.runHook(name, t, payload)
		})
	}

	m.SetStatus(6001, fmt.Sprintf("%d script(s), %d hook(s)", len(m.scripts), len(m.hooks)))
	return nil
}

// installBoxModule wires the box table: the only door out of the sandbox.
func (m *Manager) installBoxModule() {
	mod := m.L.SetFuncs(m.L.NewTable(), map[string]lua.LGFunction{
		"call": func(L *lua.LState) int {
			name := L.CheckString(1)
			args := make([]settings.Value, 0, L.GetTop()-1)
			for i := 2; i <= L.GetTop(); i++ {
				args = append(args, fromLua(L.Get(i)))
			}
			result, err := m.rt.Call(name, args...)
			if err != nil {
				L.Push(lua.LNil)
				L.Push(lua.LString(err.Error()))
				return 2
			}
			L.Push(toLua(L, result))
			return 1
		},
		"set": func(L *lua.LState) int {
			name := L.CheckString(1)
			path := L.CheckString(2)
			raw := L.CheckString(3)
			if err := m.rt.SetSetting(name, path, raw); err != nil {
				L.Push(lua.LString(err.Error()))
				return 1
			}
			return 0
		},
		"publish": func(L *lua.LState) int {
			topic := L.CheckString(1)
			var payload any
			if L.GetTop() >= 2 {
				payload = fromLua(L.Get(2))
			}
			m.rt.Publish(topic, payload)
			return 0
		},
		"log": func(L *lua.LState) int {
			m.rt.Logf("script: %s", L.CheckString(1))
			return 0
		},
	})
	m.L.SetGlobal("box", mod)
}

func (m *Manager) Update() error { return nil }

// runCode executes one chunk under the configured deadline and returns
// the chunk's first return value.
func (m *Manager) runCode(chunk, code string) (result settings.Value, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	m.L.SetContext(ctx)
	defer m.L.RemoveContext()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("script %s: panic: %v", chunk, r)
		}
	}()

	fn, err := m.L.LoadString(code)
	if err != nil {
		return settings.Value{}, fmt.Errorf("script %s: %w", chunk, err)
	}

	top := m.L.GetTop()
	m.L.Push(fn)
	if err := m.L.PCall(0, lua.MultRet, nil); err != nil {
		return settings.Value{}, fmt.Errorf("script %s: %w", chunk, err)
	}
	m.runs++

	nret := m.L.GetTop() - top
	if nret <= 0 {
		return settings.Value{}, nil
	}
	result = fromLua(m.L.Get(top + 1))
	m.L.Pop(nret)
	return result, nil
}

// runHook runs a named script in response to an event. The event is
// visible to the script as the global event table. Hook failures go to
// status and the log; they must not unwind into the publisher.
func (m *Manager) runHook(name, topic string, payload any) {
	code, ok := m.scripts[name]
	if !ok {
		m.SetStatus(6010, fmt.Sprintf("hook for %s names unknown script %q", topic, name))
		return
	}
	ev := m.L.NewTable()
	m.L.SetField(ev, "topic", lua.LString(topic))
	if v, ok := payload.(settings.Value); ok {
		m.L.SetField(ev, "payload", toLua(m.L, v))
	} else if v, err := settings.FromAny(payload); err == nil {
		m.L.SetField(ev, "payload", toLua(m.L, v))
	}
	m.L.SetGlobal("event", ev)
	defer m.L.SetGlobal("event", lua.LNil)

	if _, err := m.runCode(name, code); err != nil {
		m.SetStatus(6011, fmt.Sprintf("hook %s: %v", name, err))
		m.rt.Logf("script hook %s failed: %v", name, err)
	}
}

func (m *Manager) OnSettingChanged(path string, _, new settings.Value) {
	switch {
	case path == "timeout_ms":
		if d := time.Duration(new.Int()) * time.Millisecond; d > 0 {
			m.timeout = d
		}
	case len(path) > 8 && path[:8] == "scripts.":
		m.scripts[path[8:]] = new.Str()
	}
}

func (m *Manager) Services() map[string]manager.Service {
	return map[string]manager.Service{
		"eval": {
			Description: "eval <code>: run a Lua chunk and return its result",
			Handler: func(args []settings.Value) (settings.Value, error) {
				if len(args) != 1 {
					return settings.Value{}, fmt.Errorf("want one code string")
				}
				return m.runCode("eval", args[0].Str())
			},
		},
		"run": {
			Description: "run <name>: run a stored script",
			Handler: func(args []settings.Value) (settings.Value, error) {
				if len(args) != 1 {
					return settings.Value{}, fmt.Errorf("want a script name")
				}
				code, ok := m.scripts[args[0].Str()]
				if !ok {
					return settings.Value{}, fmt.Errorf("no script named %q", args[0].Str())
				}
				return m.runCode(args[0].Str(), code)
			},
		},
		"list": {
			Description: "list stored script names",
			Handler: func([]settings.Value) (settings.Value, error) {
				names := make([]string, 0, len(m.scripts))
				for name := range m.scripts {
					names = append(names, name)
				}
				sort.Strings(names)
				items := make([]settings.Value, len(names))
				for i, name := range names {
					items[i] = settings.StringValue(name)
				}
				return settings.ListValue(items...), nil
			},
		},
	}
}

func (m *Manager) Teardown() error {
	if m.L != nil {
		m.L.Close()
		m.L = nil
	}
	return nil
}

// toLua converts a settings value into its Lua equivalent.
func toLua(L *lua.LState, v settings.Value) lua.LValue {
	switch v.Kind() {
	case settings.KindBool:
		return lua.LBool(v.Bool())
	case settings.KindInt:
		return lua.LNumber(v.Int())
	case settings.KindFloat:
		return lua.LNumber(v.Float())
	case settings.KindString:
		return lua.LString(v.Str())
	case settings.KindList:
		tbl := L.NewTable()
		for _, item := range v.List() {
			tbl.Append(toLua(L, item))
		}
		return tbl
	case settings.KindMap:
		tbl := L.NewTable()
		for _, key := range v.Keys() {
			item, _ := v.Key(key)
			L.SetField(tbl, key, toLua(L, item))
		}
		return tbl
	default:
		return lua.LNil
	}
}

// fromLua converts a Lua value into a settings value. Tables with only
// consecutive integer keys become lists, all other tables become maps.
// Whole numbers come back as ints, matching how console input coerces.
func fromLua(v lua.LValue) settings.Value {
	switch lv := v.(type) {
	case lua.LBool:
		return settings.BoolValue(bool(lv))
	case lua.LNumber:
		f := float64(lv)
		if f == float64(int64(f)) {
			return settings.IntValue(int64(f))
		}
		return settings.FloatValue(f)
	case lua.LString:
		return settings.StringValue(string(lv))
	case *lua.LTable:
		if n := lv.Len(); n > 0 {
			items := make([]settings.Value, 0, n)
			for i := 1; i <= n; i++ {
				items = append(items, fromLua(lv.RawGetInt(i)))
			}
			return settings.ListValue(items...)
		}
		out := make(map[string]settings.Value)
		lv.ForEach(func(k, item lua.LValue) {
			if ks, ok := k.(lua.LString); ok {
				out[string(ks)] = fromLua(item)
			}
		})
		return settings.MapValue(out)
	default:
		return settings.Value{}
	}
}

package kernel

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/littlebox/littlebox/internal/dispatch"
	"github.com/littlebox/littlebox/internal/manager"
)

// statusReporter is implemented by managers that carry a status message.
type statusReporter interface {
	Status() (int, string)
}

type builtin struct {
	usage string
	desc  string
	run   func(k *Kernel, args []string) error
}

// Builtins are dispatched by bare name, before the command table, so they
// work even when no manager loaded. Populated in init to break the
// initialization cycle with builtinHelp, which reads the map.
var builtins map[string]builtin

func init() {
	builtins = map[string]builtin{
		"help": {
			usage: "help [prefix]",
			desc:  "list commands, optionally filtered by prefix",
			run:   (*Kernel).builtinHelp,
		},
		"set": {
			usage: "set <manager>.<path>=<value>",
			desc:  "change one setting; coerced, persisted, and announced",
			run:   (*Kernel).builtinSet,
		},
		"reset": {
			usage: "reset",
			desc:  "restore factory defaults for enabled managers",
			run:   (*Kernel).builtinReset,
		},
		"status": {
			usage: "status",
			desc:  "show manager states and update timing",
			run:   (*Kernel).builtinStatus,
		},
		"settings": {
			usage: "settings",
			desc:  "dump the settings tree as JSON",
			run:   (*Kernel).builtinSettings,
		},
		"events": {
			usage: "events",
			desc:  "list event topics and subscriber counts",
			run:   (*Kernel).builtinEvents,
		},
		"teardown": {
			usage: "teardown",
			desc:  "release manager resources",
			run:   (*Kernel).builtinTeardown,
		},
		"stop": {
			usage: "stop",
			desc:  "tear down and exit the run loop",
			run:   (*Kernel).builtinStop,
		},
	}
}

// HandleLine routes one console line: builtins first, then the command
// table. Errors are printed, never returned; a bad command must not
// disturb the scheduler.
func (k *Kernel) HandleLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	fields := dispatch.SplitArgs(line)
	if b, ok := builtins[fields[0]]; ok {
		if err := b.run(k, fields[1:]); err != nil {
			fmt.Fprintf(k.out, "%s: %v\n", fields[0], err)
		}
		return
	}
	if k.commands == nil {
		fmt.Fprintf(k.out, "unknown command: %s\n", fields[0])
		return
	}
	result, err := k.commands.Dispatch(line)
	if err != nil {
		fmt.Fprintf(k.out, "%v\n", err)
		return
	}
	if result.IsValid() {
		fmt.Fprintln(k.out, result.String())
	}
}

func (k *Kernel) builtinHelp(args []string) error {
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}

	if prefix == "" {
		for _, name := range []string{"help", "set", "reset", "status", "settings", "events", "teardown", "stop"} {
			b := builtins[name]
			fmt.Fprintf(k.out, "%-40s %s\n", b.usage, b.desc)
		}
	}
	if k.commands == nil {
		return nil
	}
	for _, name := range k.commands.Names() {
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			continue
		}
		cmd, _ := k.commands.Lookup(name)
		fmt.Fprintf(k.out, "%-40s %s\n", name, cmd.Description)
	}
	return nil
}

func (k *Kernel) builtinSet(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: set <manager>.<path>=<value>")
	}
	// Quoted values may have been split off; rejoin.
	spec := strings.Join(args, " ")

	target, raw, found := strings.Cut(spec, "=")
	if !found {
		return fmt.Errorf("usage: set <manager>.<path>=<value>")
	}
	target = strings.TrimSpace(target)
	raw = strings.TrimSpace(raw)
	name, path, found := strings.Cut(target, ".")
	if !found || name == "" || path == "" {
		return fmt.Errorf("target must be <manager>.<path>, got %q", target)
	}
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		raw = raw[1 : len(raw)-1]
	}

	change, err := k.store.Set(name, path, raw, "console")
	if err != nil {
		return err
	}
	fmt.Fprintf(k.out, "%s.%s: %s -> %s\n", name, path, change.Old, change.New)
	return nil
}

func (k *Kernel) builtinReset(args []string) error {
	if k.set == nil {
		return ErrNotBooted
	}
	for _, e := range k.set.Entries() {
		if e.State() == manager.StateError {
			return fmt.Errorf("manager %s is in error state; fix or disable it first", e.Name)
		}
	}
	if err := k.store.ResetDefaults(k.set.EnabledDefaults()); err != nil {
		return err
	}
	fmt.Fprintln(k.out, "settings restored to defaults; restart to apply")
	return nil
}

func (k *Kernel) builtinStatus(args []string) error {
	if k.set == nil {
		return ErrNotBooted
	}
	fmt.Fprintf(k.out, "ticks=%d uptime=%s\n", k.ticks, time.Since(k.started).Round(time.Second))
	for _, e := range k.set.Entries() {
		line := fmt.Sprintf("%-10s v%-6s %-8s", e.Name, e.Version, e.State())
		if sr, ok := e.Manager.(statusReporter); ok {
			if _, text := sr.Status(); text != "" {
				line += " " + text
			}
		}
		if e.SetupErr != nil {
			line += fmt.Sprintf(" (%v)", e.SetupErr)
		}
		if e.Updates > 0 {
			line += fmt.Sprintf(" [last=%s avg=%s n=%d]",
				e.LastUpdate, e.TotalUpdate/time.Duration(e.Updates), e.Updates)
		}
		fmt.Fprintln(k.out, line)
	}
	return nil
}

func (k *Kernel) builtinSettings(args []string) error {
	data, err := json.MarshalIndent(k.store.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(k.out, string(data))
	return nil
}

func (k *Kernel) builtinEvents(args []string) error {
	topics := k.bus.Topics()
	if len(topics) == 0 {
		fmt.Fprintln(k.out, "no subscriptions")
		return nil
	}
	sort.Strings(topics)
	for _, topic := range topics {
		fmt.Fprintf(k.out, "%-30s %d\n", topic, k.bus.SubscriberCount(topic))
	}
	return nil
}

func (k *Kernel) builtinTeardown(args []string) error {
	k.Teardown()
	fmt.Fprintln(k.out, "managers torn down")
	return nil
}

func (k *Kernel) builtinStop(args []string) error {
	k.stopped = true
	return nil
}

// Package main is the entry point for the littlebox runtime.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/littlebox/littlebox/internal/hw"
	"github.com/littlebox/littlebox/internal/kernel"
	"github.com/littlebox/littlebox/internal/managers/blink"
	"github.com/littlebox/littlebox/internal/managers/clock"
	"github.com/littlebox/littlebox/internal/managers/mqttlink"
	"github.com/littlebox/littlebox/internal/managers/netmon"
	"github.com/littlebox/littlebox/internal/managers/pixel"
	"github.com/littlebox/littlebox/internal/managers/script"
	"github.com/littlebox/littlebox/internal/managers/stepper"
	"github.com/littlebox/littlebox/internal/registry"
	"github.com/littlebox/littlebox/internal/settings"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	manifest := parseFlags()

	logger := kernel.NewLogger(kernel.LoggerConfig{
		Level:  kernel.ParseLogLevel(manifest.Log.Level),
		Output: os.Stderr,
		Prefix: "littlebox",
	})

	board := hw.NewMemoryBoard()
	table := registry.NewTable()
	table.MustRegister(netmon.Definition())
	table.MustRegister(clock.Definition())
	table.MustRegister(mqttlink.Definition())
	table.MustRegister(blink.Definition(board))
	table.MustRegister(stepper.Definition(board))
	table.MustRegister(pixel.Definition())
	table.MustRegister(script.Definition())

	k := kernel.New(table, kernel.Options{
		SettingsPath:  manifest.Settings.Path,
		DeviceID:      []byte(manifest.Device.ID),
		Obfuscate:     manifest.Settings.Obfuscate,
		CreateMissing: manifest.Settings.CreateMissing,
		WatchSettings: manifest.Settings.Watch,
		TickInterval:  manifest.TickInterval(),
		Input:         os.Stdin,
		Output:        os.Stdout,
		Logger:        logger,
	})

	if err := k.Boot(); err != nil {
		if !errors.Is(err, settings.ErrPersistence) {
			fmt.Fprintf(os.Stderr, "Error: boot failed: %v\n", err)
			return 1
		}
		// Unreadable settings: hold the box in safe mode until a valid
		// tree is uploaded, then boot with it.
		logger.Warn("settings unreadable, entering safe mode: %v", err)
		if err := k.SafeMode(os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: safe mode: %v\n", err)
			return 1
		}
		if err := k.Boot(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: boot failed after safe mode: %v\n", err)
			return 1
		}
	}
	defer k.Teardown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := k.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func parseFlags() Manifest {
	var (
		manifestPath string
		settingsPath string
		logLevel     string
		plain        bool
		showVersion  bool
		showHelp     bool
	)

	flag.StringVar(&manifestPath, "manifest", "", "Path to boot manifest (TOML)")
	flag.StringVar(&manifestPath, "m", "", "Path to boot manifest (shorthand)")
	flag.StringVar(&settingsPath, "settings", "", "Path to the settings file")
	flag.StringVar(&settingsPath, "s", "", "Path to the settings file (shorthand)")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&plain, "plain", false, "Store settings without the obfuscation envelope")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")
	flag.BoolVar(&showHelp, "help", false, "Show help message")
	flag.BoolVar(&showHelp, "h", false, "Show help message (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "littlebox - cooperative manager runtime\n\n")
		fmt.Fprintf(os.Stderr, "Usage: littlebox [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  littlebox                       Boot with defaults\n")
		fmt.Fprintf(os.Stderr, "  littlebox -m box.toml           Boot from a manifest\n")
		fmt.Fprintf(os.Stderr, "  littlebox -s box.settings       Use a specific settings file\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}
	if showVersion {
		fmt.Printf("littlebox %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	manifest := DefaultManifest()
	if manifestPath != "" {
		var err error
		manifest, err = LoadManifest(manifestPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	// Flags override the manifest.
	if settingsPath != "" {
		manifest.Settings.Path = settingsPath
	}
	if plain {
		manifest.Settings.Obfuscate = false
	}
	if logLevel != "" {
		switch logLevel {
		case "debug", "info", "warn", "error":
			manifest.Log.Level = logLevel
		default:
			fmt.Fprintf(os.Stderr, "Error: invalid log level %q (must be debug, info, warn, or error)\n", logLevel)
			os.Exit(1)
		}
	}

	return manifest
}

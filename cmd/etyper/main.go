// Command etyper runs the e-paper typewriter: a distraction-free text
// editor driving an SSD1683 panel, with keyboard input taken from the
// attached console.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"etyper/internal/bus"
	"etyper/internal/config"
	"etyper/internal/document"
	"etyper/internal/epd"
	"etyper/internal/glyph"
	"etyper/internal/input"
	"etyper/internal/log"
	"etyper/internal/render"
	"etyper/internal/scheduler"
	"etyper/internal/transfer"
)

func main() {
	var (
		configPath = flag.String("config", defaultConfigPath(), "path to the YAML config file")
		sim        = flag.Bool("sim", false, "run without display hardware")
		logLevel   = flag.String("log-level", "info", "log level: debug, info or error")
	)
	flag.Parse()

	switch *logLevel {
	case "debug":
		log.SetLevel(log.LevelDebug)
	case "info":
		log.SetLevel(log.LevelInfo)
	case "error":
		log.SetLevel(log.LevelError)
	default:
		fmt.Fprintf(os.Stderr, "unknown log level %q\n", *logLevel)
		os.Exit(2)
	}

	if err := run(*configPath, *sim); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("exiting", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "/etc/etyper/config.yaml"
	}
	return filepath.Join(home, ".config", "etyper", "config.yaml")
}

func run(configPath string, sim bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.Info("config loaded", "path", configPath, "docs_dir", cfg.DocsDir)

	store, err := document.NewStore(cfg.DocsDir)
	if err != nil {
		return err
	}

	b, err := openBus(cfg, sim)
	if err != nil {
		return err
	}
	ctrl, err := epd.New(b, epd.Opts{
		Width:          cfg.Display.Width,
		Height:         cfg.Display.Height,
		FullTimeout:    time.Duration(cfg.Display.FullTimeoutMs) * time.Millisecond,
		PartialTimeout: time.Duration(cfg.Display.PartialTimeoutMs) * time.Millisecond,
	})
	if err != nil {
		b.Close()
		return err
	}
	defer ctrl.Close()

	renderer := render.New(glyphProvider(cfg), cfg.Display.Width, cfg.Display.Height,
		cfg.Editor.MarginX, cfg.Editor.MarginY)

	term, err := input.NewTerminal(input.LayoutByName(store.KeyboardLayout()))
	if err != nil {
		return err
	}
	defer term.Close()

	sched, err := scheduler.New(scheduler.Opts{
		Controller:        ctrl,
		Renderer:          renderer,
		Store:             store,
		Input:             term,
		Transfer:          transfer.NewServer(store, cfg.Transfer.Listen, cfg.Transfer.TLS),
		Layouts:           term,
		Width:             cfg.Display.Width,
		Height:            cfg.Display.Height,
		FullInterval:      time.Duration(cfg.Refresh.FullIntervalSec) * time.Second,
		AutosaveEvery:     time.Duration(cfg.Refresh.AutosaveSec) * time.Second,
		CoverageThreshold: cfg.Refresh.CoverageThreshold,
		Maintenance:       cfg.Refresh.Maintenance,
	})
	if err != nil {
		return err
	}
	return sched.Run(ctx)
}

func openBus(cfg *config.Config, sim bool) (bus.Bus, error) {
	if sim {
		log.Info("simulation mode, display writes go to a mock bus")
		return bus.NewMock(), nil
	}
	return bus.Open(bus.Opts{
		SPIPort: cfg.Display.SPIPort,
		Hz:      cfg.Display.SPIHz,
		DC:      cfg.Display.Pins.DC,
		CS:      cfg.Display.Pins.CS,
		RST:     cfg.Display.Pins.RST,
		Busy:    cfg.Display.Pins.Busy,
	})
}

// glyphProvider loads the configured TTF, falling back to the builtin
// bitmap face when no font is configured or loading fails.
func glyphProvider(cfg *config.Config) glyph.Provider {
	if cfg.Editor.FontPath == "" {
		return glyph.Builtin()
	}
	p, err := glyph.LoadTTF(cfg.Editor.FontPath, cfg.Editor.FontSize)
	if err != nil {
		log.Error("font load failed, using builtin face", err, "path", cfg.Editor.FontPath)
		return glyph.Builtin()
	}
	log.Info("font loaded", "path", cfg.Editor.FontPath, "size", cfg.Editor.FontSize)
	return p
}

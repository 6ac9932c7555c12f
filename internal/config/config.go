// Package config holds the YAML configuration model for etyper.
//
// Load creates a default config file on first run (0600) and fills in
// missing values on upgrade via Normalize, so partially-filled configs
// keep working.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// PinConfig names the GPIO lines used by the display controller.
// Names are resolved through periph.io's gpioreg (e.g. "GPIO25").
type PinConfig struct {
	DC   string `yaml:"dc" json:"dc"`
	CS   string `yaml:"cs" json:"cs"`
	RST  string `yaml:"rst" json:"rst"`
	Busy string `yaml:"busy" json:"busy"`
}

// DisplayConfig describes the panel wiring and refresh bounds.
type DisplayConfig struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`

	// SPIPort is a periph spireg name; empty selects the first port.
	SPIPort string    `yaml:"spi_port" json:"spi_port"`
	SPIHz   int       `yaml:"spi_hz" json:"spi_hz"`
	Pins    PinConfig `yaml:"pins" json:"pins"`

	// Busy-poll bounds in milliseconds. The exact values are
	// hardware-specific; these defaults suit the SSD1683.
	FullTimeoutMs    int `yaml:"full_timeout_ms" json:"full_timeout_ms"`
	PartialTimeoutMs int `yaml:"partial_timeout_ms" json:"partial_timeout_ms"`
}

// EditorConfig describes text rendering.
type EditorConfig struct {
	// FontPath points at a monospace TTF. Empty selects the builtin
	// fallback face.
	FontPath string `yaml:"font_path" json:"font_path"`
	FontSize int    `yaml:"font_size" json:"font_size"`
	MarginX  int    `yaml:"margin_x" json:"margin_x"`
	MarginY  int    `yaml:"margin_y" json:"margin_y"`
}

// RefreshConfig tunes the scheduler.
type RefreshConfig struct {
	// FullIntervalSec is the ghost-cleaning full refresh period.
	FullIntervalSec int `yaml:"full_interval_sec" json:"full_interval_sec"`
	// AutosaveSec is the autosave period for dirty documents.
	AutosaveSec int `yaml:"autosave_sec" json:"autosave_sec"`
	// CoverageThreshold is the changed-area ratio above which a full
	// refresh is preferred over a partial one.
	CoverageThreshold float64 `yaml:"coverage_threshold" json:"coverage_threshold"`
	// Maintenance is an optional cron expression (e.g. "0 4 * * *")
	// that forces a full refresh on schedule. Empty disables it.
	Maintenance string `yaml:"maintenance" json:"maintenance"`
}

// TransferConfig configures the document download server.
type TransferConfig struct {
	Listen string `yaml:"listen" json:"listen"`
	// TLS serves HTTPS with a self-signed certificate persisted under
	// the docs directory.
	TLS bool `yaml:"tls" json:"tls"`
}

// Config is the top-level application configuration.
type Config struct {
	// DocsDir is where documents, the last-document pointer and the
	// layout preference live.
	DocsDir string `yaml:"docs_dir" json:"docs_dir"`

	Display  DisplayConfig  `yaml:"display" json:"display"`
	Editor   EditorConfig   `yaml:"editor" json:"editor"`
	Refresh  RefreshConfig  `yaml:"refresh" json:"refresh"`
	Transfer TransferConfig `yaml:"transfer" json:"transfer"`
}

// DefaultConfig returns an in-memory default configuration for the
// WeAct 4.2" panel on an Orange Pi Zero 2W.
func DefaultConfig() *Config {
	return &Config{
		DocsDir: defaultDocsDir(),
		Display: DisplayConfig{
			Width:   400,
			Height:  300,
			SPIPort: "",
			SPIHz:   4_000_000,
			Pins: PinConfig{
				DC:   "GPIO25",
				CS:   "GPIO27",
				RST:  "GPIO23",
				Busy: "GPIO24",
			},
			FullTimeoutMs:    15_000,
			PartialTimeoutMs: 2_000,
		},
		Editor: EditorConfig{
			FontPath: "",
			FontSize: 16,
			MarginX:  8,
			MarginY:  10,
		},
		Refresh: RefreshConfig{
			FullIntervalSec:   300,
			AutosaveSec:       10,
			CoverageThreshold: 0.6,
			Maintenance:       "",
		},
		Transfer: TransferConfig{
			Listen: ":8443",
			TLS:    true,
		},
	}
}

func defaultDocsDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "/var/lib/etyper/docs"
	}
	return filepath.Join(home, "etyper_docs")
}

// Normalize fills in missing/zero values with defaults.
func (c *Config) Normalize() {
	d := DefaultConfig()

	if c.DocsDir == "" {
		c.DocsDir = d.DocsDir
	}
	if c.Display.Width <= 0 || c.Display.Width%8 != 0 {
		c.Display.Width = d.Display.Width
	}
	if c.Display.Height <= 0 {
		c.Display.Height = d.Display.Height
	}
	if c.Display.SPIHz <= 0 {
		c.Display.SPIHz = d.Display.SPIHz
	}
	if c.Display.Pins.DC == "" {
		c.Display.Pins.DC = d.Display.Pins.DC
	}
	if c.Display.Pins.CS == "" {
		c.Display.Pins.CS = d.Display.Pins.CS
	}
	if c.Display.Pins.RST == "" {
		c.Display.Pins.RST = d.Display.Pins.RST
	}
	if c.Display.Pins.Busy == "" {
		c.Display.Pins.Busy = d.Display.Pins.Busy
	}
	if c.Display.FullTimeoutMs <= 0 {
		c.Display.FullTimeoutMs = d.Display.FullTimeoutMs
	}
	if c.Display.PartialTimeoutMs <= 0 {
		c.Display.PartialTimeoutMs = d.Display.PartialTimeoutMs
	}
	if c.Editor.FontSize <= 0 {
		c.Editor.FontSize = d.Editor.FontSize
	}
	if c.Editor.MarginX < 0 {
		c.Editor.MarginX = d.Editor.MarginX
	}
	if c.Editor.MarginY < 0 {
		c.Editor.MarginY = d.Editor.MarginY
	}
	if c.Refresh.FullIntervalSec <= 0 {
		c.Refresh.FullIntervalSec = d.Refresh.FullIntervalSec
	}
	if c.Refresh.AutosaveSec <= 0 {
		c.Refresh.AutosaveSec = d.Refresh.AutosaveSec
	}
	if c.Refresh.CoverageThreshold <= 0 || c.Refresh.CoverageThreshold > 1 {
		c.Refresh.CoverageThreshold = d.Refresh.CoverageThreshold
	}
	if c.Transfer.Listen == "" {
		c.Transfer.Listen = d.Transfer.Listen
	}
}

// Load loads configuration from the given YAML path. A missing file is
// created with defaults and 0600 permissions.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".etyper-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

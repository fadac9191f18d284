// Package config loads chatimport settings from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chatimport/internal/browser"

	"gopkg.in/yaml.v3"
)

// Config holds all chatimport configuration.
type Config struct {
	// Browser launch and page fingerprint
	Browser BrowserConfig `yaml:"browser"`

	// Stage timeouts
	Timeouts TimeoutsConfig `yaml:"timeouts"`

	// Where attachments are written
	Storage StorageConfig `yaml:"storage"`

	// Optional SQLite archive of imports
	Archive ArchiveConfig `yaml:"archive"`

	// HTTP server
	Server ServerConfig `yaml:"server"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// BrowserConfig configures the shared Chrome instance.
type BrowserConfig struct {
	Bin            string   `yaml:"bin"`
	DebuggerURL    string   `yaml:"debugger_url"`
	Launch         []string `yaml:"launch"`
	Headless       bool     `yaml:"headless"`
	NoSandbox      bool     `yaml:"no_sandbox"`
	ViewportWidth  int      `yaml:"viewport_width"`
	ViewportHeight int      `yaml:"viewport_height"`
	UserAgent      string   `yaml:"user_agent"`
	AcceptLanguage string   `yaml:"accept_language"`
}

// TimeoutsConfig holds durations in time.ParseDuration syntax.
type TimeoutsConfig struct {
	Navigation string `yaml:"navigation"`
	Ready      string `yaml:"ready"`
	Extract    string `yaml:"extract"` // per script evaluation while reading turns
	Image      string `yaml:"image"`
	Settle     string `yaml:"settle"` // extra wait for pages that keep hydrating
	Job        string `yaml:"job"`    // empty means unbounded
}

// StorageConfig configures attachment storage.
type StorageConfig struct {
	ImagesDir string `yaml:"images_dir"`
}

// ArchiveConfig configures the import archive.
type ArchiveConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	b := browser.DefaultConfig()
	return &Config{
		Browser: BrowserConfig{
			Headless:       b.Headless,
			NoSandbox:      b.NoSandbox,
			ViewportWidth:  b.ViewportWidth,
			ViewportHeight: b.ViewportHeight,
			UserAgent:      b.UserAgent,
			AcceptLanguage: b.AcceptLanguage,
		},

		Timeouts: TimeoutsConfig{
			Navigation: "60s",
			Ready:      "10s",
			Extract:    "30s",
			Image:      "10s",
			Settle:     "5s",
		},

		Storage: StorageConfig{
			ImagesDir: "data/imported-images",
		},

		Archive: ArchiveConfig{
			Enabled:      true,
			DatabasePath: "data/chatimport.db",
		},

		Server: ServerConfig{
			Listen: "127.0.0.1:8080",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if bin := os.Getenv("CHATIMPORT_CHROME_BIN"); bin != "" {
		c.Browser.Bin = bin
	}
	if url := os.Getenv("CHATIMPORT_DEBUGGER_URL"); url != "" {
		c.Browser.DebuggerURL = url
	}
	if dir := os.Getenv("CHATIMPORT_IMAGES_DIR"); dir != "" {
		c.Storage.ImagesDir = dir
	}
	if path := os.Getenv("CHATIMPORT_DB"); path != "" {
		c.Archive.DatabasePath = path
	}
	if addr := os.Getenv("CHATIMPORT_LISTEN"); addr != "" {
		c.Server.Listen = addr
	}
	if level := os.Getenv("CHATIMPORT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// GetNavigationTimeout returns the page load timeout.
func (c *Config) GetNavigationTimeout() time.Duration {
	return parseDuration(c.Timeouts.Navigation, 60*time.Second)
}

// GetReadyTimeout returns how long to wait for the first turn to render.
func (c *Config) GetReadyTimeout() time.Duration {
	return parseDuration(c.Timeouts.Ready, 10*time.Second)
}

// GetExtractTimeout returns the bound on each extraction script.
func (c *Config) GetExtractTimeout() time.Duration {
	return parseDuration(c.Timeouts.Extract, 30*time.Second)
}

// GetImageTimeout returns the per-image re-render timeout.
func (c *Config) GetImageTimeout() time.Duration {
	return parseDuration(c.Timeouts.Image, 10*time.Second)
}

// GetSettleDelay returns the post-readiness settle delay.
func (c *Config) GetSettleDelay() time.Duration {
	return parseDuration(c.Timeouts.Settle, 5*time.Second)
}

// GetJobTimeout returns the whole-import bound, zero when unset.
func (c *Config) GetJobTimeout() time.Duration {
	return parseDuration(c.Timeouts.Job, 0)
}

// BrowserSettings converts the browser block for the session manager.
func (c *Config) BrowserSettings() browser.Config {
	return browser.Config{
		Bin:            c.Browser.Bin,
		DebuggerURL:    c.Browser.DebuggerURL,
		Launch:         append([]string(nil), c.Browser.Launch...),
		Headless:       c.Browser.Headless,
		NoSandbox:      c.Browser.NoSandbox,
		ViewportWidth:  c.Browser.ViewportWidth,
		ViewportHeight: c.Browser.ViewportHeight,
		UserAgent:      c.Browser.UserAgent,
		AcceptLanguage: c.Browser.AcceptLanguage,
	}
}

// ValidLogLevels lists the accepted logging levels.
var ValidLogLevels = []string{"debug", "info", "warn", "error"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for name, v := range map[string]string{
		"timeouts.navigation": c.Timeouts.Navigation,
		"timeouts.ready":      c.Timeouts.Ready,
		"timeouts.extract":    c.Timeouts.Extract,
		"timeouts.image":      c.Timeouts.Image,
		"timeouts.settle":     c.Timeouts.Settle,
		"timeouts.job":        c.Timeouts.Job,
	} {
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, v, err)
		}
		if d < 0 {
			return fmt.Errorf("invalid %s %q: must not be negative", name, v)
		}
	}

	if strings.TrimSpace(c.Storage.ImagesDir) == "" {
		return fmt.Errorf("storage.images_dir is required")
	}
	if c.Archive.Enabled && strings.TrimSpace(c.Archive.DatabasePath) == "" {
		return fmt.Errorf("archive.database_path is required when the archive is enabled")
	}
	if c.Browser.ViewportWidth < 0 || c.Browser.ViewportHeight < 0 {
		return fmt.Errorf("browser viewport must not be negative")
	}

	validLevel := false
	for _, l := range ValidLogLevels {
		if strings.EqualFold(c.Logging.Level, l) {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("invalid logging level: %s (valid: %v)", c.Logging.Level, ValidLogLevels)
	}

	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %s (valid: json, console)", c.Logging.Format)
	}
	return nil
}

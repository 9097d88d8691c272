package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all loyalL configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Browser session configuration
	Browser BrowserConfig `yaml:"browser"`

	// Polling loop configuration
	Poll PollConfig `yaml:"poll"`

	// Trigger table configuration
	Triggers TriggersConfig `yaml:"triggers"`

	// Dedupe store configuration
	Dedupe DedupeConfig `yaml:"dedupe"`
}

// BrowserConfig configures the Chrome session.
type BrowserConfig struct {
	// Persistent profile directory; reused across runs so the login
	// session (QR scan) survives restarts.
	ProfileDir string `yaml:"profile_dir"`

	TargetURL string `yaml:"target_url"`
	Headless  bool   `yaml:"headless"`

	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`

	// How long to wait for the chat list marker after navigation.
	// The first run needs a QR scan, so this is generous.
	LoadTimeout string `yaml:"load_timeout"`

	// How many times to tear down and relaunch the browser when the
	// page never reaches ready before giving up.
	RestartBudget int `yaml:"restart_budget"`

	// Where session metadata is persisted.
	SessionStore string `yaml:"session_store"`
}

// PollConfig configures the scan loop and watchdog.
type PollConfig struct {
	Interval string `yaml:"interval"`

	// Wall-clock time without any detected activity before the page
	// is reloaded as a self-healing measure.
	WatchdogThreshold string `yaml:"watchdog_threshold"`

	// Consecutive scan faults tolerated before a full restart.
	FaultCap int `yaml:"fault_cap"`
}

// TriggersConfig configures the trigger phrase table.
type TriggersConfig struct {
	// Optional YAML file with {phrase, reply} entries. When set, the
	// file is watched and reloaded on change.
	Path string `yaml:"path"`
}

// DedupeConfig configures the handled-conversation store.
type DedupeConfig struct {
	Path       string `yaml:"path"`
	MaxEntries int    `yaml:"max_entries"`
	FlushEvery int    `yaml:"flush_every"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "loyalL",
		Version: "0.2.0",

		Browser: BrowserConfig{
			ProfileDir:     "chrome_data",
			TargetURL:      "https://web.whatsapp.com/",
			Headless:       false,
			ViewportWidth:  1280,
			ViewportHeight: 900,
			LoadTimeout:    "60s",
			RestartBudget:  3,
			SessionStore:   filepath.Join("data", "session.json"),
		},

		Poll: PollConfig{
			Interval:          "5s",
			WatchdogThreshold: "5m",
			FaultCap:          3,
		},

		Triggers: TriggersConfig{
			Path: "",
		},

		Dedupe: DedupeConfig{
			Path:       filepath.Join("data", "replied.json"),
			MaxEntries: 500,
			FlushEvery: 5,
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
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
	if dir := os.Getenv("LOYALL_PROFILE_DIR"); dir != "" {
		c.Browser.ProfileDir = dir
	}
	if url := os.Getenv("LOYALL_TARGET_URL"); url != "" {
		c.Browser.TargetURL = url
	}
	if v := os.Getenv("LOYALL_HEADLESS"); v != "" {
		c.Browser.Headless = v == "1" || v == "true"
	}
	if path := os.Getenv("LOYALL_DEDUPE_PATH"); path != "" {
		c.Dedupe.Path = path
	}
	if path := os.Getenv("LOYALL_TRIGGERS_PATH"); path != "" {
		c.Triggers.Path = path
	}
}

// Validate checks the configuration for obvious misconfiguration.
func (c *Config) Validate() error {
	if c.Browser.TargetURL == "" {
		return fmt.Errorf("browser.target_url is required")
	}
	if c.Browser.ProfileDir == "" {
		return fmt.Errorf("browser.profile_dir is required")
	}
	if c.Dedupe.MaxEntries <= 0 {
		return fmt.Errorf("dedupe.max_entries must be positive")
	}
	if c.Dedupe.FlushEvery <= 0 {
		return fmt.Errorf("dedupe.flush_every must be positive")
	}
	return nil
}

// GetLoadTimeout returns the page load timeout as a duration.
func (c *Config) GetLoadTimeout() time.Duration {
	d, err := time.ParseDuration(c.Browser.LoadTimeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetPollInterval returns the scan interval as a duration.
func (c *Config) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.Poll.Interval)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetWatchdogThreshold returns the inactivity threshold as a duration.
func (c *Config) GetWatchdogThreshold() time.Duration {
	d, err := time.ParseDuration(c.Poll.WatchdogThreshold)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

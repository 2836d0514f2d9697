package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// CurrentVersion is the configuration schema version.
const CurrentVersion = 1

// MinThreshold is the smallest accepted promotion threshold.
const MinThreshold = 2

// Config represents the complete skref configuration
type Config struct {
	Version int `json:"version" mapstructure:"version"`

	Roots   RootsConfig   `json:"roots" mapstructure:"roots"`
	Layout  LayoutConfig  `json:"layout" mapstructure:"layout"`
	Patch   PatchConfig   `json:"patch" mapstructure:"patch"`
	Locks   LocksConfig   `json:"locks" mapstructure:"locks"`
	Ledger  LedgerConfig  `json:"ledger" mapstructure:"ledger"`
	Tracker TrackerConfig `json:"tracker" mapstructure:"tracker"`
	Watch   WatchConfig   `json:"watch" mapstructure:"watch"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// RootsConfig overrides the base and user tier directories. Empty values
// fall back to <home>/base and <home>/user.
type RootsConfig struct {
	Base string `json:"base" mapstructure:"base"`
	User string `json:"user" mapstructure:"user"`
}

// LayoutConfig names the project tier directories, relative to a project root
type LayoutConfig struct {
	ProjectShared string `json:"projectShared" mapstructure:"projectShared"`
	ProjectLocal  string `json:"projectLocal" mapstructure:"projectLocal"`
}

// PatchConfig controls marker matching
type PatchConfig struct {
	StrictMarkers bool `json:"strictMarkers" mapstructure:"strictMarkers"`
}

// LocksConfig bounds how long writers wait for the base tier lock
type LocksConfig struct {
	TimeoutMs int `json:"timeoutMs" mapstructure:"timeoutMs"`
	PollMs    int `json:"pollMs" mapstructure:"pollMs"`
}

// LedgerConfig contains ledger database settings
type LedgerConfig struct {
	BusyTimeoutMs int `json:"busyTimeoutMs" mapstructure:"busyTimeoutMs"`
}

// TrackerConfig contains pattern tracking settings
type TrackerConfig struct {
	Threshold int `json:"threshold" mapstructure:"threshold"`
}

// WatchConfig contains settings for resolve --watch
type WatchConfig struct {
	DebounceMs int `json:"debounceMs" mapstructure:"debounceMs"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string `json:"level" mapstructure:"level"`

	// Per-subsystem levels; empty means use Level.
	Engine string `json:"engine,omitempty" mapstructure:"engine"`
	Ledger string `json:"ledger,omitempty" mapstructure:"ledger"`
	Watch  string `json:"watch,omitempty" mapstructure:"watch"`

	// MaxSize enables rotation when set, e.g. "10MB".
	MaxSize    string `json:"maxSize,omitempty" mapstructure:"maxSize"`
	MaxBackups int    `json:"maxBackups,omitempty" mapstructure:"maxBackups"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Layout: LayoutConfig{
			ProjectShared: ".skref/skills",
			ProjectLocal:  ".skref/local/skills",
		},
		Locks: LocksConfig{
			TimeoutMs: 5000,
			PollMs:    50,
		},
		Ledger: LedgerConfig{
			BusyTimeoutMs: 5000,
		},
		Tracker: TrackerConfig{
			Threshold: MinThreshold,
		},
		Watch: WatchConfig{
			DebounceMs: 300,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxBackups: 3,
		},
	}
}

// setDefaults registers every key so that environment variables can
// override values missing from the file.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("version", d.Version)
	v.SetDefault("roots.base", d.Roots.Base)
	v.SetDefault("roots.user", d.Roots.User)
	v.SetDefault("layout.projectShared", d.Layout.ProjectShared)
	v.SetDefault("layout.projectLocal", d.Layout.ProjectLocal)
	v.SetDefault("patch.strictMarkers", d.Patch.StrictMarkers)
	v.SetDefault("locks.timeoutMs", d.Locks.TimeoutMs)
	v.SetDefault("locks.pollMs", d.Locks.PollMs)
	v.SetDefault("ledger.busyTimeoutMs", d.Ledger.BusyTimeoutMs)
	v.SetDefault("tracker.threshold", d.Tracker.Threshold)
	v.SetDefault("watch.debounceMs", d.Watch.DebounceMs)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.engine", d.Logging.Engine)
	v.SetDefault("logging.ledger", d.Logging.Ledger)
	v.SetDefault("logging.watch", d.Logging.Watch)
	v.SetDefault("logging.maxSize", d.Logging.MaxSize)
	v.SetDefault("logging.maxBackups", d.Logging.MaxBackups)
}

// LoadConfig loads configuration from <home>/config.json. Values may be
// overridden with SKREF_* environment variables, e.g. SKREF_TRACKER_THRESHOLD.
func LoadConfig(home string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(home)

	v.SetEnvPrefix("SKREF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read %s: %w", filepath.Join(home, "config.json"), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration to <home>/config.json
func (c *Config) Save(home string) error {
	if err := os.MkdirAll(home, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	return os.WriteFile(filepath.Join(home, "config.json"), data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return &ConfigError{Field: "version", Message: fmt.Sprintf("unsupported config version %d", c.Version)}
	}
	if c.Tracker.Threshold < MinThreshold {
		return &ConfigError{Field: "tracker.threshold", Message: fmt.Sprintf("must be at least %d", MinThreshold)}
	}
	if c.Layout.ProjectShared == "" || c.Layout.ProjectLocal == "" {
		return &ConfigError{Field: "layout", Message: "project tier directories must be set"}
	}
	if filepath.Clean(c.Layout.ProjectShared) == filepath.Clean(c.Layout.ProjectLocal) {
		return &ConfigError{Field: "layout", Message: "projectShared and projectLocal must differ"}
	}
	for _, f := range []struct {
		name  string
		value int
	}{
		{"locks.timeoutMs", c.Locks.TimeoutMs},
		{"locks.pollMs", c.Locks.PollMs},
		{"ledger.busyTimeoutMs", c.Ledger.BusyTimeoutMs},
		{"watch.debounceMs", c.Watch.DebounceMs},
	} {
		if f.value <= 0 {
			return &ConfigError{Field: f.name, Message: "must be positive"}
		}
	}
	if c.Logging.MaxBackups < 0 {
		return &ConfigError{Field: "logging.maxBackups", Message: "must not be negative"}
	}
	return nil
}

// LockTimeout returns the base tier lock timeout.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Locks.TimeoutMs) * time.Millisecond
}

// LockPoll returns the interval between lock attempts.
func (c *Config) LockPoll() time.Duration {
	return time.Duration(c.Locks.PollMs) * time.Millisecond
}

// BusyTimeout returns the ledger busy timeout.
func (c *Config) BusyTimeout() time.Duration {
	return time.Duration(c.Ledger.BusyTimeoutMs) * time.Millisecond
}

// Debounce returns the watch debounce window.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Watch.DebounceMs) * time.Millisecond
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}

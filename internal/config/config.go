// Package config manages codexm settings stored in YAML at
// $CODEXM_HOME/config.yaml (default ~/.config/codexm/config.yaml).
//
// Settings cover where codexm keeps its files and how the watcher behaves.
// User preferences shown in the account UI (theme, refresh interval, proxy)
// live in the accounts store instead.
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// EnvHome overrides every codexm location when set.
const EnvHome = "CODEXM_HOME"

// Config holds codexm settings.
type Config struct {
	Version int           `yaml:"version"`
	Paths   PathsConfig   `yaml:"paths"`
	Watch   WatchConfig   `yaml:"watch"`
	History HistoryConfig `yaml:"history"`
	Log     LogConfig     `yaml:"log"`
}

// PathsConfig overrides file locations. Empty values use the defaults.
type PathsConfig struct {
	StoreFile   string `yaml:"store_file,omitempty"`
	AuthDir     string `yaml:"auth_dir,omitempty"`
	CodexHome   string `yaml:"codex_home,omitempty"`
	SessionsDir string `yaml:"sessions_dir,omitempty"`
	HistoryDB   string `yaml:"history_db,omitempty"`
}

// WatchConfig controls `codexm watch`.
type WatchConfig struct {
	Debounce     Duration `yaml:"debounce"`      // Coalesce bursts of auth.json events
	PollInterval Duration `yaml:"poll_interval"` // Periodic resync; 0 disables
	BindSessions bool     `yaml:"bind_sessions"` // Bind new session logs to the live account
}

// HistoryConfig controls the activity history database.
type HistoryConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"` // 0 keeps everything
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Duration is a time.Duration that reads and writes as "500ms", "30s".
type Duration time.Duration

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if dur < 0 {
		return fmt.Errorf("duration cannot be negative: %s", s)
	}
	*d = Duration(dur)
	return nil
}

// Duration returns the value as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Default returns the default settings.
func Default() *Config {
	return &Config{
		Version: 1,
		Watch: WatchConfig{
			Debounce:     Duration(500 * time.Millisecond),
			PollInterval: Duration(30 * time.Second),
			BindSessions: true,
		},
		History: HistoryConfig{
			Enabled:       true,
			RetentionDays: 90,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ConfigDir returns the directory holding config.yaml.
func ConfigDir() string {
	if home := os.Getenv(EnvHome); home != "" {
		return home
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "codexm")
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "codexm")
	}
	return filepath.Join(homeDir, ".config", "codexm")
}

// DataDir returns the directory holding the accounts store, stored
// credentials and the history database.
func DataDir() string {
	if home := os.Getenv(EnvHome); home != "" {
		return filepath.Join(home, "data")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "codexm")
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".local", "share", "codexm")
	}
	return filepath.Join(homeDir, ".local", "share", "codexm")
}

// Path returns the location of config.yaml.
func Path() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// Load reads config.yaml, returning defaults when it does not exist.
func Load() (*Config, error) {
	return LoadFrom(Path())
}

// LoadFrom reads settings from path, returning defaults when it does not
// exist. Environment overrides are applied before validation.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the settings to Path().
func (c *Config) Save() error {
	return c.SaveTo(Path())
}

// SaveTo validates and atomically writes the settings to path.
func (c *Config) SaveTo(path string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	header := []byte("# codexm configuration\n\n")
	data = append(header, data...)

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks the settings for out-of-range values.
func (c *Config) Validate() error {
	if c.Version < 1 {
		return fmt.Errorf("version must be >= 1")
	}
	if c.Watch.Debounce.Duration() < 0 {
		return fmt.Errorf("watch.debounce cannot be negative")
	}
	if c.Watch.PollInterval.Duration() != 0 && c.Watch.PollInterval.Duration() < time.Second {
		return fmt.Errorf("watch.poll_interval must be 0 or at least 1s")
	}
	if c.History.RetentionDays < 0 {
		return fmt.Errorf("history.retention_days cannot be negative")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// ApplyEnvOverrides updates the settings from CODEXM_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CODEXM_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CODEXM_WATCH_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Watch.Debounce = Duration(d)
		}
	}
	if v := os.Getenv("CODEXM_WATCH_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Watch.PollInterval = Duration(d)
		}
	}
	if v := os.Getenv("CODEXM_WATCH_BIND_SESSIONS"); v != "" {
		if b, err := parseBool(v); err == nil {
			c.Watch.BindSessions = b
		}
	}
	if v := os.Getenv("CODEXM_HISTORY_ENABLED"); v != "" {
		if b, err := parseBool(v); err == nil {
			c.History.Enabled = b
		}
	}
	if v := os.Getenv("CODEXM_HISTORY_RETENTION_DAYS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			c.History.RetentionDays = i
		}
	}
}

// StoreFile returns the accounts store path.
func (c *Config) StoreFile() string {
	return orDefault(c.Paths.StoreFile, filepath.Join(DataDir(), "accounts.json"))
}

// AuthDir returns the directory of per-account credentials.
func (c *Config) AuthDir() string {
	return orDefault(c.Paths.AuthDir, filepath.Join(DataDir(), "auths"))
}

// CodexHome returns the Codex home directory, honoring $CODEX_HOME.
func (c *Config) CodexHome() string {
	if c.Paths.CodexHome != "" {
		return expandHome(c.Paths.CodexHome)
	}
	if home := os.Getenv("CODEX_HOME"); home != "" {
		return home
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".codex"
	}
	return filepath.Join(homeDir, ".codex")
}

// SessionsDir returns the directory Codex writes session logs to.
func (c *Config) SessionsDir() string {
	return orDefault(c.Paths.SessionsDir, filepath.Join(c.CodexHome(), "sessions"))
}

// HistoryDB returns the activity history database path.
func (c *Config) HistoryDB() string {
	return orDefault(c.Paths.HistoryDB, filepath.Join(DataDir(), "codexm.db"))
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	lvl, _ := ParseLevel(c.Log.Level)
	return lvl
}

// ParseLevel maps a level name onto slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level %q (use debug, info, warn, error)", s)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return expandHome(v)
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(homeDir, strings.TrimPrefix(p, "~"))
}

// parseBool parses various boolean representations.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "yes", "1", "on":
		return true, nil
	case "false", "no", "0", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean: %s (use true/false, yes/no, 1/0)", s)
	}
}

// Package config loads the daemon configuration from YAML.
package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/shq/internal/foundation/errors"
	"git.home.luguber.info/inful/shq/internal/task"
)

const (
	DefaultSchedulerInterval = 500 * time.Millisecond
	DefaultMetricsAddress    = "127.0.0.1:9464"
	DefaultNATSURL           = "nats://127.0.0.1:4222"
	DefaultNATSSubject       = "shq.tasks"
	DefaultNATSKVBucket      = "shq_tasks"
)

// Config represents the daemon configuration.
type Config struct {
	Daemon  DaemonConfig           `yaml:"daemon"`
	Groups  map[string]GroupConfig `yaml:"groups,omitempty"`
	Logging LoggingConfig          `yaml:"logging"`
	Metrics MetricsConfig          `yaml:"metrics"`
	Events  EventsConfig           `yaml:"events"`
}

// DaemonConfig holds the socket, storage and scheduling settings.
type DaemonConfig struct {
	SocketPath        string        `yaml:"socket_path"`
	StateDir          string        `yaml:"state_dir"`
	LogDir            string        `yaml:"log_dir,omitempty"` // defaults to <state_dir>/task_logs
	Shell             string        `yaml:"shell,omitempty"`
	Secret            string        `yaml:"secret,omitempty"`
	SchedulerInterval time.Duration `yaml:"scheduler_interval,omitempty"`
	// PauseGroupOnFailure pauses a task's group when the task fails.
	PauseGroupOnFailure bool `yaml:"pause_group_on_failure"`
	PauseAllOnFailure   bool `yaml:"pause_all_on_failure"`
}

type GroupConfig struct {
	Parallel int `yaml:"parallel"`
}

type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address,omitempty"`
}

type EventsConfig struct {
	Store EventStoreConfig `yaml:"store"`
	NATS  NATSConfig       `yaml:"nats"`
}

// EventStoreConfig controls the SQLite task event log.
type EventStoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"` // defaults to <state_dir>/events.db
}

// NATSConfig controls publishing of task events.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
	// KVBucket holds the latest status of every task, keyed by task id.
	KVBucket string `yaml:"kv_bucket,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.Events.Store.Enabled = true
	cfg.ApplyDefaults()
	return cfg
}

// DefaultPath returns the per-user config file location.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "shq", "shq.yml")
	}
	return "shq.yml"
}

// Load reads the configuration file at path. Variables from .env and
// .env.local in the working directory are loaded first without overriding
// the existing environment, then ${VAR} references in the file are expanded.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if stderrors.Is(err, fs.ErrNotExist) {
		slog.Debug("Config file not found, using defaults", "config_path", path)
		cfg := Default()
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to read config file").
			WithContext("path", path).
			Fatal().
			Build()
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	cfg.Events.Store.Enabled = true
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to parse config").Fatal().Build()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFiles() {
	for _, name := range []string{".env", ".env.local"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			slog.Warn("Failed to load env file", "file", name, "error", err)
			continue
		}
		slog.Debug("Loaded environment variables", "file", name)
	}
}

// ApplyDefaults fills unset fields. Relative paths are kept as given.
func (c *Config) ApplyDefaults() {
	d := &c.Daemon
	if d.StateDir == "" {
		d.StateDir = defaultStateDir()
	}
	d.StateDir = expandHome(d.StateDir)
	if d.SocketPath == "" {
		d.SocketPath = defaultSocketPath(d.StateDir)
	}
	d.SocketPath = expandHome(d.SocketPath)
	if d.LogDir == "" {
		d.LogDir = filepath.Join(d.StateDir, "task_logs")
	}
	d.LogDir = expandHome(d.LogDir)
	if d.SchedulerInterval <= 0 {
		d.SchedulerInterval = DefaultSchedulerInterval
	}

	if c.Groups == nil {
		c.Groups = map[string]GroupConfig{}
	}
	if _, ok := c.Groups[task.DefaultGroup]; !ok {
		c.Groups[task.DefaultGroup] = GroupConfig{Parallel: 1}
	}
	for name, g := range c.Groups {
		if g.Parallel == 0 {
			g.Parallel = 1
			c.Groups[name] = g
		}
	}

	if lvl, err := logLevelNormalizer.NormalizeWithError(string(c.Logging.Level)); err == nil {
		c.Logging.Level = lvl
	}
	if f, err := logFormatNormalizer.NormalizeWithError(string(c.Logging.Format)); err == nil {
		c.Logging.Format = f
	}

	if c.Metrics.Address == "" {
		c.Metrics.Address = DefaultMetricsAddress
	}
	if c.Events.Store.Path == "" {
		c.Events.Store.Path = filepath.Join(d.StateDir, "events.db")
	}
	if c.Events.NATS.URL == "" {
		c.Events.NATS.URL = DefaultNATSURL
	}
	if c.Events.NATS.Subject == "" {
		c.Events.NATS.Subject = DefaultNATSSubject
	}
	if c.Events.NATS.KVBucket == "" {
		c.Events.NATS.KVBucket = DefaultNATSKVBucket
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Daemon.SocketPath == "" {
		return invalid("daemon.socket_path must not be empty")
	}
	if c.Daemon.StateDir == "" {
		return invalid("daemon.state_dir must not be empty")
	}
	for name, g := range c.Groups {
		if strings.TrimSpace(name) == "" {
			return invalid("group names must not be empty")
		}
		if g.Parallel < 1 {
			return invalid(fmt.Sprintf("groups.%s.parallel must be at least 1, got %d", name, g.Parallel))
		}
	}
	if _, err := logLevelNormalizer.NormalizeWithError(string(c.Logging.Level)); err != nil {
		return errors.WrapError(err, errors.CategoryConfig, "invalid logging.level").Fatal().Build()
	}
	if _, err := logFormatNormalizer.NormalizeWithError(string(c.Logging.Format)); err != nil {
		return errors.WrapError(err, errors.CategoryConfig, "invalid logging.format").Fatal().Build()
	}
	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Address); err != nil {
			return errors.WrapError(err, errors.CategoryConfig, "invalid metrics.address").Fatal().Build()
		}
	}
	if c.Events.NATS.Enabled && strings.TrimSpace(c.Events.NATS.Subject) == "" {
		return invalid("events.nats.subject must not be empty")
	}
	return nil
}

func invalid(msg string) error {
	return errors.ConfigError(msg).Build()
}

func defaultStateDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "shq")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "shq")
	}
	return ".shq"
}

func defaultSocketPath(stateDir string) string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "shq", "shq.sock")
	}
	return filepath.Join(stateDir, "shq.sock")
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

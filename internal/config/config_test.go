package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/shq/internal/foundation/errors"
)

func TestParse_Defaults(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")

	cfg, err := Parse([]byte("daemon:\n  state_dir: /var/lib/shq\n"))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/shq", cfg.Daemon.StateDir)
	assert.Equal(t, "/run/user/1000/shq/shq.sock", cfg.Daemon.SocketPath)
	assert.Equal(t, "/var/lib/shq/task_logs", cfg.Daemon.LogDir)
	assert.Equal(t, DefaultSchedulerInterval, cfg.Daemon.SchedulerInterval)
	assert.Equal(t, map[string]GroupConfig{"default": {Parallel: 1}}, cfg.Groups)
	assert.Equal(t, LogLevelInfo, cfg.Logging.Level)
	assert.Equal(t, LogFormatText, cfg.Logging.Format)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, DefaultMetricsAddress, cfg.Metrics.Address)
	assert.True(t, cfg.Events.Store.Enabled)
	assert.Equal(t, "/var/lib/shq/events.db", cfg.Events.Store.Path)
	assert.False(t, cfg.Events.NATS.Enabled)
	assert.Equal(t, DefaultNATSSubject, cfg.Events.NATS.Subject)
}

func TestParse_FullDocument(t *testing.T) {
	t.Setenv("SHQ_TEST_SECRET", "hunter2")

	doc := `
daemon:
  socket_path: /tmp/shq/shq.sock
  state_dir: /tmp/shq
  log_dir: /tmp/shq-logs
  shell: /bin/bash
  secret: ${SHQ_TEST_SECRET}
  scheduler_interval: 2s
  pause_group_on_failure: true
groups:
  default: {parallel: 2}
  io: {parallel: 4}
  net: {}
logging: {level: DEBUG, format: json}
metrics: {enabled: true, address: "0.0.0.0:9100"}
events:
  store: {enabled: false}
  nats: {enabled: true, url: "nats://broker:4222", subject: ci.tasks}
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/shq/shq.sock", cfg.Daemon.SocketPath)
	assert.Equal(t, "/tmp/shq-logs", cfg.Daemon.LogDir)
	assert.Equal(t, "/bin/bash", cfg.Daemon.Shell)
	assert.Equal(t, "hunter2", cfg.Daemon.Secret)
	assert.Equal(t, 2*time.Second, cfg.Daemon.SchedulerInterval)
	assert.True(t, cfg.Daemon.PauseGroupOnFailure)
	assert.False(t, cfg.Daemon.PauseAllOnFailure)
	assert.Equal(t, map[string]GroupConfig{
		"default": {Parallel: 2},
		"io":      {Parallel: 4},
		"net":     {Parallel: 1},
	}, cfg.Groups)
	assert.Equal(t, "debug", string(cfg.Logging.Level))
	assert.Equal(t, LogFormatJSON, cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.Events.Store.Enabled)
	assert.Equal(t, "nats://broker:4222", cfg.Events.NATS.URL)
	assert.Equal(t, "ci.tasks", cfg.Events.NATS.Subject)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"malformed yaml":    "daemon: [",
		"negative parallel": "groups:\n  io: {parallel: -1}\n",
		"bad log level":     "logging: {level: loud}\n",
		"bad log format":    "logging: {format: xml}\n",
		"bad metrics":       "metrics: {enabled: true, address: nope}\n",
		"bad interval":      "daemon: {scheduler_interval: soon}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.True(t, errors.HasCategory(err, errors.CategoryConfig), "got %v", err)
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", filepath.Join(t.TempDir(), "data"))

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(os.Getenv("XDG_DATA_HOME"), "shq"), cfg.Daemon.StateDir)
	assert.Equal(t, 1, cfg.Groups["default"].Parallel)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shq.yml")
	require.NoError(t, os.WriteFile(path, []byte("daemon:\n  state_dir: "+dir+"\ngroups:\n  build: {parallel: 3}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Daemon.StateDir)
	assert.Equal(t, 3, cfg.Groups["build"].Parallel)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "shq"), expandHome("~/shq"))
	assert.Equal(t, "/abs/shq", expandHome("/abs/shq"))
	assert.Equal(t, "rel/~/shq", expandHome("rel/~/shq"))
}

func TestLogLevelMapping(t *testing.T) {
	assert.Equal(t, LogLevelWarn, NormalizeLogLevel(" Warning "))
	assert.Equal(t, LogLevelInfo, NormalizeLogLevel("bogus"))
	assert.Equal(t, "DEBUG", LogLevel("debug").SlogLevel().String())
	assert.Equal(t, "ERROR", LogLevel("ERROR").SlogLevel().String())
	assert.Equal(t, LogFormatJSON, NormalizeLogFormat("JSON"))
}

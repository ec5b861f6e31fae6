package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_DefaultsAppliedWhenEmpty(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.Global.LogLevel)
	assert.Equal(t, DefaultTimezone, cfg.Global.Timezone)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "qaforge.db", cfg.Database.SQLite.Path)
	assert.Equal(t, DefaultListen, cfg.Server.Listen)
	assert.Equal(t, DefaultScanInterval, cfg.Scheduler.ScanInterval)
	assert.Equal(t, DefaultGroupConcurrency, cfg.Runners.GroupConcurrency)
	assert.Equal(t, DefaultUnitBinary, cfg.Runners.Unit.Binary)
	assert.Equal(t, DefaultLoadBinary, cfg.Runners.Load.Binary)
	assert.Equal(t, DefaultBrowserBinary, cfg.Runners.Browser.Binary)

	require.NoError(t, cfg.Validate())
}

func TestLoad_ParsesValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
global:
  log_level: debug
  timezone: America/New_York
database:
  driver: sqlite
  sqlite:
    path: /var/lib/qaforge/db.sqlite
scheduler:
  enabled: true
  scan_interval: 30s
runners:
  group_concurrency: 2
  unit:
    binary: /usr/local/bin/jest
    timeout: 90s
  load:
    timeout: 20m
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Global.LogLevel)
	assert.Equal(t, "America/New_York", cfg.Global.Timezone)
	assert.Equal(t, "/var/lib/qaforge/db.sqlite", cfg.Database.SQLite.Path)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.ScanInterval)
	assert.Equal(t, 2, cfg.Runners.GroupConcurrency)
	assert.Equal(t, "/usr/local/bin/jest", cfg.Runners.Unit.Binary)
	assert.Equal(t, 90*time.Second, cfg.Runners.Unit.Timeout)
	assert.Equal(t, 20*time.Minute, cfg.Runners.Load.Timeout)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())
}

func TestLoad_MergesLaterFilesOverEarlier(t *testing.T) {
	base := writeConfig(t, `
global:
  log_level: info
scheduler:
  scan_interval: 1m
`)
	override := writeConfig(t, `
global:
  log_level: warn
`)

	cfg, err := Load(base, override)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Global.LogLevel)
	assert.Equal(t, time.Minute, cfg.Scheduler.ScanInterval)
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	t.Setenv("QAFORGE_GLOBAL_LOG_LEVEL", "trace")

	cfg, err := Load(writeConfig(t, "global:\n  log_level: info\n"))
	require.NoError(t, err)

	assert.Equal(t, "trace", cfg.Global.LogLevel)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(cfg *Config)
		errSubstr string
	}{
		{
			name:      "unknown driver",
			mutate:    func(cfg *Config) { cfg.Database.Driver = "oracle" },
			errSubstr: "unsupported database driver",
		},
		{
			name: "postgres without host",
			mutate: func(cfg *Config) {
				cfg.Database.Driver = "postgres"
			},
			errSubstr: "requires host and database",
		},
		{
			name:      "bad timezone",
			mutate:    func(cfg *Config) { cfg.Global.Timezone = "Mars/Olympus" },
			errSubstr: "invalid timezone",
		},
		{
			name: "scan interval too small",
			mutate: func(cfg *Config) {
				cfg.Scheduler.ScanInterval = 100 * time.Millisecond
			},
			errSubstr: "below the 1s minimum",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, "{}\n"))
			require.NoError(t, err)

			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

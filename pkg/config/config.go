package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultTimezone is the reference timezone in which scheduled
	// wall-clock times are interpreted.
	DefaultTimezone = "UTC"

	// DefaultListen is the default HTTP listen address.
	DefaultListen = ":8080"

	// DefaultScanInterval is the default period of the due-schedule
	// scanner.
	DefaultScanInterval = time.Minute

	// DefaultGroupConcurrency is the default number of file groups a
	// single run executes in parallel.
	DefaultGroupConcurrency = 4
)

// Default tool binaries per runner category.
const (
	DefaultUnitBinary    = "jest"
	DefaultLoadBinary    = "k6"
	DefaultBrowserBinary = "playwright"
)

// Config is the root configuration for qaforge.
type Config struct {
	Global    GlobalConfig    `yaml:"global" mapstructure:"global"`
	Database  DatabaseConfig  `yaml:"database" mapstructure:"database"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Scheduler SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler"`
	Runners   RunnersConfig   `yaml:"runners" mapstructure:"runners"`
	Catalog   CatalogConfig   `yaml:"catalog" mapstructure:"catalog"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
	Timezone string `yaml:"timezone" mapstructure:"timezone"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteConfig contains SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode" mapstructure:"ssl_mode"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// SchedulerConfig configures the due-schedule scanner.
type SchedulerConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	ScanInterval time.Duration `yaml:"scan_interval" mapstructure:"scan_interval"`
}

// RunnersConfig configures the external test tool integrations.
type RunnersConfig struct {
	GroupConcurrency int              `yaml:"group_concurrency" mapstructure:"group_concurrency"`
	Unit             RunnerToolConfig `yaml:"unit" mapstructure:"unit"`
	Load             RunnerToolConfig `yaml:"load" mapstructure:"load"`
	Browser          RunnerToolConfig `yaml:"browser" mapstructure:"browser"`
}

// RunnerToolConfig configures one external tool.
type RunnerToolConfig struct {
	Binary  string        `yaml:"binary" mapstructure:"binary"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// CatalogConfig points at the test catalog manifest seeded on startup.
type CatalogConfig struct {
	ManifestPath string `yaml:"manifest_path,omitempty" mapstructure:"manifest_path"`
}

// Load reads and merges one or more YAML configuration files, later
// files overriding earlier ones.
func Load(paths ...string) (*Config, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("at least one config file is required")
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("QAFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for i, path := range paths {
		v.SetConfigFile(path)

		var err error
		if i == 0 {
			err = v.ReadInConfig()
		} else {
			err = v.MergeInConfig()
		}

		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Global.Timezone == "" {
		c.Global.Timezone = DefaultTimezone
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}

	if c.Database.Driver == "sqlite" && c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = "qaforge.db"
	}

	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerMinute == 0 {
		c.Server.RateLimit.RequestsPerMinute = 120
	}

	if c.Scheduler.ScanInterval == 0 {
		c.Scheduler.ScanInterval = DefaultScanInterval
	}

	if c.Runners.GroupConcurrency <= 0 {
		c.Runners.GroupConcurrency = DefaultGroupConcurrency
	}

	if c.Runners.Unit.Binary == "" {
		c.Runners.Unit.Binary = DefaultUnitBinary
	}

	if c.Runners.Load.Binary == "" {
		c.Runners.Load.Binary = DefaultLoadBinary
	}

	if c.Runners.Browser.Binary == "" {
		c.Runners.Browser.Binary = DefaultBrowserBinary
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("sqlite driver requires a database path")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" || c.Database.Postgres.Database == "" {
			return fmt.Errorf("postgres driver requires host and database")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if _, err := time.LoadLocation(c.Global.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Global.Timezone, err)
	}

	if c.Scheduler.ScanInterval < time.Second {
		return fmt.Errorf(
			"scheduler scan_interval %s is below the 1s minimum",
			c.Scheduler.ScanInterval,
		)
	}

	return nil
}

// Location returns the configured reference timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Global.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Global.Timezone, err)
	}

	return loc, nil
}

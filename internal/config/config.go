// Package config loads the scheduler configuration from an optional YAML
// file, then applies TASKSCHED_* environment overrides and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Engine   EngineConfig   `yaml:"engine"`
	Poller   PollerConfig   `yaml:"poller"`
	Log      LogConfig      `yaml:"log"`
	Events   EventsConfig   `yaml:"events"`
	Handlers HandlersConfig `yaml:"handlers"`
}

type ServerConfig struct {
	Addr         string `yaml:"addr"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
	Debug        bool   `yaml:"debug"`

	ReadTimeoutDur  time.Duration `yaml:"-"`
	WriteTimeoutDur time.Duration `yaml:"-"`
}

// DatabaseConfig selects the Task/History store. Driver is one of
// sqlite, postgres or memory.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type EngineConfig struct {
	PoolSize        int    `yaml:"pool_size"`
	QueueSize       int    `yaml:"queue_size"`
	OverloadPolicy  string `yaml:"overload_policy"`
	OverlapPolicy   string `yaml:"overlap_policy"`
	TrackRetries    bool   `yaml:"track_retries"`
	FallbackDelay   string `yaml:"fallback_delay"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`

	FallbackDelayDur   time.Duration `yaml:"-"`
	ShutdownTimeoutDur time.Duration `yaml:"-"`
}

type PollerConfig struct {
	Interval     string `yaml:"interval"`
	InitialDelay string `yaml:"initial_delay"`

	IntervalDur     time.Duration `yaml:"-"`
	InitialDelayDur time.Duration `yaml:"-"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// EventsConfig enables the NATS execution event publisher when NATSURL
// is set.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type HandlersConfig struct {
	Pace         *float64 `yaml:"pace"` // nil means DefaultPace, 0 disables simulated work
	ShellEnabled bool     `yaml:"shell_enabled"`
	ShellAllowed []string `yaml:"shell_allowed"`
	HTTPEnabled  bool     `yaml:"http_enabled"`
}

const (
	DefaultAddr            = ":8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultDriver          = "sqlite"
	DefaultSQLitePath      = "taskscheduler.db"
	DefaultMaxConns        = 10
	DefaultPoolSize        = 10
	DefaultQueueSize       = 1024
	DefaultOverloadPolicy  = "caller-runs"
	DefaultOverlapPolicy   = "allow"
	DefaultFallbackDelay   = time.Hour
	DefaultShutdownTimeout = 30 * time.Second
	DefaultPollInterval    = 30 * time.Second
	DefaultInitialDelay    = 10 * time.Second
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "console"
	DefaultSubjectPrefix   = "taskscheduler.executions"
	DefaultPace            = 1.0
)

const envPrefix = "TASKSCHED_"

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(envPrefix + key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(envPrefix + key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(envPrefix + key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(envPrefix + key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// Load reads path (skipped when empty), applies environment overrides and
// defaults, then validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	c.Server.Addr = getEnv("SERVER_ADDR", firstNonEmpty(c.Server.Addr, DefaultAddr))
	c.Server.ReadTimeout = getEnv("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnv("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.Debug = getEnvBool("SERVER_DEBUG", c.Server.Debug)

	c.Database.Driver = strings.ToLower(getEnv("DATABASE_DRIVER", firstNonEmpty(c.Database.Driver, DefaultDriver)))
	c.Database.Path = getEnv("DATABASE_PATH", firstNonEmpty(c.Database.Path, DefaultSQLitePath))
	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	c.Database.MaxConns = int32(getEnvInt("DATABASE_MAX_CONNS", int(c.Database.MaxConns)))

	if c.Engine.PoolSize <= 0 {
		c.Engine.PoolSize = DefaultPoolSize
	}
	c.Engine.PoolSize = getEnvInt("ENGINE_POOL_SIZE", c.Engine.PoolSize)
	if c.Engine.QueueSize <= 0 {
		c.Engine.QueueSize = DefaultQueueSize
	}
	c.Engine.QueueSize = getEnvInt("ENGINE_QUEUE_SIZE", c.Engine.QueueSize)
	c.Engine.OverloadPolicy = getEnv("ENGINE_OVERLOAD_POLICY", firstNonEmpty(c.Engine.OverloadPolicy, DefaultOverloadPolicy))
	c.Engine.OverlapPolicy = getEnv("ENGINE_OVERLAP_POLICY", firstNonEmpty(c.Engine.OverlapPolicy, DefaultOverlapPolicy))
	c.Engine.TrackRetries = getEnvBool("ENGINE_TRACK_RETRIES", c.Engine.TrackRetries)
	c.Engine.FallbackDelay = getEnv("ENGINE_FALLBACK_DELAY", c.Engine.FallbackDelay)
	c.Engine.ShutdownTimeout = getEnv("ENGINE_SHUTDOWN_TIMEOUT", c.Engine.ShutdownTimeout)

	c.Poller.Interval = getEnv("POLLER_INTERVAL", c.Poller.Interval)
	c.Poller.InitialDelay = getEnv("POLLER_INITIAL_DELAY", c.Poller.InitialDelay)

	c.Log.Level = strings.ToLower(getEnv("LOG_LEVEL", firstNonEmpty(c.Log.Level, DefaultLogLevel)))
	c.Log.Format = strings.ToLower(getEnv("LOG_FORMAT", firstNonEmpty(c.Log.Format, DefaultLogFormat)))

	c.Events.NATSURL = getEnv("NATS_URL", c.Events.NATSURL)
	c.Events.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", firstNonEmpty(c.Events.SubjectPrefix, DefaultSubjectPrefix))

	if c.Handlers.Pace == nil {
		pace := DefaultPace
		c.Handlers.Pace = &pace
	}
	*c.Handlers.Pace = getEnvFloat("HANDLERS_PACE", *c.Handlers.Pace)
	c.Handlers.ShellEnabled = getEnvBool("HANDLERS_SHELL_ENABLED", c.Handlers.ShellEnabled)
	c.Handlers.HTTPEnabled = getEnvBool("HANDLERS_HTTP_ENABLED", c.Handlers.HTTPEnabled)
	if v := getEnv("HANDLERS_SHELL_ALLOWED", ""); v != "" {
		c.Handlers.ShellAllowed = strings.Split(v, ",")
	}

	var err error
	durations := []struct {
		path string
		raw  string
		def  time.Duration
		dst  *time.Duration
	}{
		{"server.read_timeout", c.Server.ReadTimeout, DefaultReadTimeout, &c.Server.ReadTimeoutDur},
		{"server.write_timeout", c.Server.WriteTimeout, DefaultWriteTimeout, &c.Server.WriteTimeoutDur},
		{"engine.fallback_delay", c.Engine.FallbackDelay, DefaultFallbackDelay, &c.Engine.FallbackDelayDur},
		{"engine.shutdown_timeout", c.Engine.ShutdownTimeout, DefaultShutdownTimeout, &c.Engine.ShutdownTimeoutDur},
		{"poller.interval", c.Poller.Interval, DefaultPollInterval, &c.Poller.IntervalDur},
		{"poller.initial_delay", c.Poller.InitialDelay, DefaultInitialDelay, &c.Poller.InitialDelayDur},
	}
	for _, d := range durations {
		if *d.dst, err = parseDuration(d.path, d.raw, d.def); err != nil {
			return err
		}
	}
	return nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url (or TASKSCHED_DATABASE_URL) is required for postgres"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver))
	}
	if c.Engine.PoolSize <= 0 {
		errs = append(errs, errors.New("engine.pool_size must be > 0"))
	}
	if c.Engine.QueueSize <= 0 {
		errs = append(errs, errors.New("engine.queue_size must be > 0"))
	}
	switch c.Engine.OverloadPolicy {
	case "caller-runs", "reject":
	default:
		errs = append(errs, fmt.Errorf("engine.overload_policy: unknown policy %q", c.Engine.OverloadPolicy))
	}
	switch c.Engine.OverlapPolicy {
	case "allow", "skip-if-running":
	default:
		errs = append(errs, fmt.Errorf("engine.overlap_policy: unknown policy %q", c.Engine.OverlapPolicy))
	}
	if c.Poller.IntervalDur <= 0 {
		errs = append(errs, errors.New("poller.interval must be > 0"))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	if c.Handlers.Pace != nil && *c.Handlers.Pace < 0 {
		errs = append(errs, errors.New("handlers.pace must be >= 0"))
	}
	return errors.Join(errs...)
}

// Package config loads the HCL configuration of the registratura service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/spf13/afero"

	"github.com/parishworks/registratura/pkg/database"
)

// Environment variables that override file settings.
const (
	EnvLogLevel    = "REGISTRATURA_LOG_LEVEL"
	EnvDBPassword  = "REGISTRATURA_DB_PASSWORD"
	EnvHTTPAddress = "REGISTRATURA_HTTP_ADDRESS"
)

// Config is the root configuration.
type Config struct {
	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `hcl:"log_level,optional"`

	Server   *Server   `hcl:"server,block"`
	Database *Database `hcl:"database,block"`
	Registry *Registry `hcl:"registry,block"`
	Events   *Events   `hcl:"events,block"`
	Datadog  *Datadog  `hcl:"datadog,block"`
}

// Server configures the HTTP listener.
type Server struct {
	Address string `hcl:"address,optional"`
}

// Database configures the database connection.
type Database struct {
	Driver   string `hcl:"driver,optional"`
	Host     string `hcl:"host,optional"`
	Port     int    `hcl:"port,optional"`
	User     string `hcl:"user,optional"`
	Password string `hcl:"password,optional"`
	DBName   string `hcl:"dbname,optional"`
	SSLMode  string `hcl:"ssl_mode,optional"`

	// Path is the sqlite database file.
	Path string `hcl:"path,optional"`

	// AutoMigrate runs gorm auto-migration on startup instead of requiring
	// registratura-migrate.
	AutoMigrate bool `hcl:"auto_migrate,optional"`

	MaxIdleConns    int    `hcl:"max_idle_conns,optional"`
	MaxOpenConns    int    `hcl:"max_open_conns,optional"`
	ConnMaxLifetime string `hcl:"conn_max_lifetime,optional"`
	ConnMaxIdleTime string `hcl:"conn_max_idle_time,optional"`
}

// Registry configures the numbering and workflow engine.
type Registry struct {
	// TimeZone is the IANA zone the registration year is derived in.
	TimeZone string `hcl:"time_zone,optional"`

	AllocationRetries    int    `hcl:"allocation_retries,optional"`
	RetryInitialInterval string `hcl:"retry_initial_interval,optional"`
	RetryMaxInterval     string `hcl:"retry_max_interval,optional"`

	// RoutingExpiry is how long a sent routing may stay unanswered.
	RoutingExpiry  string `hcl:"routing_expiry,optional"`
	SweepInterval  string `hcl:"sweep_interval,optional"`
	SweepBatchSize int    `hcl:"sweep_batch_size,optional"`
}

// Events configures the document event outbox relay.
type Events struct {
	Enabled      bool     `hcl:"enabled,optional"`
	Brokers      []string `hcl:"brokers,optional"`
	Topic        string   `hcl:"topic,optional"`
	PollInterval string   `hcl:"poll_interval,optional"`
	BatchSize    int      `hcl:"batch_size,optional"`
	MaxAttempts  int      `hcl:"max_attempts,optional"`
}

// Datadog configures tracing.
type Datadog struct {
	Enabled bool   `hcl:"enabled,optional"`
	Env     string `hcl:"env,optional"`
	Service string `hcl:"service,optional"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// NewConfig reads the HCL file at path from fs, applies defaults and
// environment overrides and validates the result. An empty path yields the
// defaults.
func NewConfig(fs afero.Fs, path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		src, err := afero.ReadFile(fs, path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}

		// hclsimple picks the syntax from the file extension.
		name := path
		if ext := filepath.Ext(path); ext != ".hcl" && ext != ".json" {
			name = path + ".hcl"
		}
		if err := hclsimple.Decode(name, src, nil, cfg); err != nil {
			return nil, fmt.Errorf("error decoding config file: %w", err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Server == nil {
		c.Server = &Server{}
	}
	if c.Server.Address == "" {
		c.Server.Address = "127.0.0.1:8000"
	}

	if c.Database == nil {
		c.Database = &Database{}
	}
	d := c.Database
	if d.Driver == "" {
		d.Driver = database.DriverPostgres
	}
	if d.Driver == database.DriverPostgres {
		if d.Host == "" {
			d.Host = "localhost"
		}
		if d.Port == 0 {
			d.Port = 5432
		}
		if d.DBName == "" {
			d.DBName = "registratura"
		}
		if d.SSLMode == "" {
			d.SSLMode = "disable"
		}
	}

	if c.Registry == nil {
		c.Registry = &Registry{}
	}
	r := c.Registry
	if r.TimeZone == "" {
		r.TimeZone = "UTC"
	}
	if r.AllocationRetries == 0 {
		r.AllocationRetries = 5
	}
	if r.RetryInitialInterval == "" {
		r.RetryInitialInterval = "10ms"
	}
	if r.RetryMaxInterval == "" {
		r.RetryMaxInterval = "250ms"
	}
	if r.RoutingExpiry == "" {
		r.RoutingExpiry = "72h"
	}
	if r.SweepInterval == "" {
		r.SweepInterval = "10m"
	}
	if r.SweepBatchSize == 0 {
		r.SweepBatchSize = 500
	}

	if c.Events == nil {
		c.Events = &Events{}
	}
	e := c.Events
	if e.Topic == "" {
		e.Topic = "registratura.document-events"
	}
	if e.PollInterval == "" {
		e.PollInterval = "1s"
	}
	if e.BatchSize == 0 {
		e.BatchSize = 100
	}
	if e.MaxAttempts == 0 {
		e.MaxAttempts = 5
	}

	if c.Datadog == nil {
		c.Datadog = &Datadog{}
	}
	if c.Datadog.Service == "" {
		c.Datadog.Service = "registratura"
	}
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := getenv(EnvDBPassword); v != "" {
		c.Database.Password = v
	}
	if v := getenv(EnvHTTPAddress); v != "" {
		c.Server.Address = v
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.LogLevel, validation.By(func(any) error {
			if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
				return fmt.Errorf("unknown log level %q", c.LogLevel)
			}
			return nil
		})),
		validation.Field(&c.Server, validation.Required),
		validation.Field(&c.Database, validation.Required),
		validation.Field(&c.Registry, validation.Required),
		validation.Field(&c.Events, validation.Required),
	); err != nil {
		return err
	}

	return validation.Errors{
		"database": c.Database.Validate(),
		"registry": c.Registry.Validate(),
		"events":   c.Events.Validate(),
	}.Filter()
}

// Validate checks the database block.
func (d *Database) Validate() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.Driver, validation.Required,
			validation.In(database.DriverPostgres, database.DriverSQLite)),
		validation.Field(&d.Path,
			validation.When(d.Driver == database.DriverSQLite, validation.Required)),
		validation.Field(&d.Host,
			validation.When(d.Driver == database.DriverPostgres, validation.Required)),
		validation.Field(&d.MaxIdleConns, validation.Min(0)),
		validation.Field(&d.MaxOpenConns, validation.Min(0)),
		validation.Field(&d.ConnMaxLifetime, validation.By(optionalDuration)),
		validation.Field(&d.ConnMaxIdleTime, validation.By(optionalDuration)),
	)
}

// Validate checks the registry block.
func (r *Registry) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.TimeZone, validation.By(func(any) error {
			_, err := time.LoadLocation(r.TimeZone)
			return err
		})),
		validation.Field(&r.AllocationRetries, validation.Min(1)),
		validation.Field(&r.RetryInitialInterval, validation.By(positiveDuration)),
		validation.Field(&r.RetryMaxInterval, validation.By(positiveDuration)),
		validation.Field(&r.RoutingExpiry, validation.By(positiveDuration)),
		validation.Field(&r.SweepInterval, validation.By(positiveDuration)),
		validation.Field(&r.SweepBatchSize, validation.Min(1)),
	)
}

// Validate checks the events block.
func (e *Events) Validate() error {
	return validation.ValidateStruct(e,
		validation.Field(&e.Topic, validation.Required),
		validation.Field(&e.PollInterval, validation.By(positiveDuration)),
		validation.Field(&e.BatchSize, validation.Min(1)),
		validation.Field(&e.MaxAttempts, validation.Min(1)),
	)
}

// DatabaseConfig converts the block to a connection config.
func (d *Database) DatabaseConfig() database.Config {
	return database.Config{
		Driver:          d.Driver,
		Host:            d.Host,
		Port:            d.Port,
		User:            d.User,
		Password:        d.Password,
		DBName:          d.DBName,
		SSLMode:         d.SSLMode,
		Path:            d.Path,
		MaxIdleConns:    d.MaxIdleConns,
		MaxOpenConns:    d.MaxOpenConns,
		ConnMaxLifetime: mustDuration(d.ConnMaxLifetime),
		ConnMaxIdleTime: mustDuration(d.ConnMaxIdleTime),
	}
}

// Location returns the registry time zone.
func (r *Registry) Location() *time.Location {
	loc, err := time.LoadLocation(r.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (r *Registry) RetryInitial() time.Duration { return mustDuration(r.RetryInitialInterval) }
func (r *Registry) RetryMax() time.Duration     { return mustDuration(r.RetryMaxInterval) }
func (r *Registry) Expiry() time.Duration       { return mustDuration(r.RoutingExpiry) }
func (r *Registry) Sweep() time.Duration        { return mustDuration(r.SweepInterval) }

func (e *Events) Poll() time.Duration { return mustDuration(e.PollInterval) }

// mustDuration parses a duration that Validate has already accepted. Empty
// strings are zero.
func mustDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func optionalDuration(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	return positiveDuration(s)
}

func positiveDuration(value any) error {
	s, _ := value.(string)
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive")
	}
	return nil
}

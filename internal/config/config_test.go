package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig(afero.NewMemMapFs(), "")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:8000", cfg.Server.Address)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "UTC", cfg.Registry.TimeZone)
	assert.Equal(t, 72*time.Hour, cfg.Registry.Expiry())
	assert.Equal(t, 10*time.Minute, cfg.Registry.Sweep())
	assert.Equal(t, time.Second, cfg.Events.Poll())
	assert.False(t, cfg.Events.Enabled)
}

func TestNewConfig_File(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/registratura/config.hcl", []byte(`
log_level = "debug"

server {
  address = ":9090"
}

database {
  driver       = "sqlite"
  path         = "/var/lib/registratura/registratura.db"
  auto_migrate = true
}

registry {
  time_zone          = "Europe/Bucharest"
  allocation_retries = 3
  routing_expiry     = "48h"
}

events {
  enabled = true
  brokers = ["redpanda-0:9092", "redpanda-1:9092"]
  topic   = "parish.documents"
}
`), 0o644))

	cfg, err := NewConfig(fs, "/etc/registratura/config.hcl")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Equal(t, "Europe/Bucharest", cfg.Registry.Location().String())
	assert.Equal(t, 3, cfg.Registry.AllocationRetries)
	assert.Equal(t, 48*time.Hour, cfg.Registry.Expiry())
	assert.Equal(t, []string{"redpanda-0:9092", "redpanda-1:9092"}, cfg.Events.Brokers)
	assert.Equal(t, "parish.documents", cfg.Events.Topic)

	dbCfg := cfg.Database.DatabaseConfig()
	assert.Equal(t, "/var/lib/registratura/registratura.db", dbCfg.DSN())
	// Postgres defaults are not applied to sqlite.
	assert.Zero(t, dbCfg.Port)
}

func TestNewConfig_ExtensionlessFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "registratura.conf", []byte(`log_level = "warn"`), 0o644))

	cfg, err := NewConfig(fs, "registratura.conf")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestNewConfig_Env(t *testing.T) {
	t.Setenv(EnvLogLevel, "trace")
	t.Setenv(EnvDBPassword, "s3cret")
	t.Setenv(EnvHTTPAddress, "0.0.0.0:8080")

	cfg, err := NewConfig(afero.NewMemMapFs(), "")
	require.NoError(t, err)
	assert.Equal(t, "trace", cfg.LogLevel)
	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address)
}

func TestNewConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "syntax error",
			content: `server {`,
			errMsg:  "error decoding config file",
		},
		{
			name:    "unknown log level",
			content: `log_level = "loud"`,
			errMsg:  "unknown log level",
		},
		{
			name: "unknown driver",
			content: `database {
  driver = "mysql"
}`,
			errMsg: "driver",
		},
		{
			name: "sqlite without path",
			content: `database {
  driver = "sqlite"
}`,
			errMsg: "path",
		},
		{
			name: "bad time zone",
			content: `registry {
  time_zone = "Mars/Olympus"
}`,
			errMsg: "time_zone",
		},
		{
			name: "bad duration",
			content: `registry {
  routing_expiry = "soon"
}`,
			errMsg: "invalid duration",
		},
		{
			name: "negative duration",
			content: `events {
  poll_interval = "-1s"
}`,
			errMsg: "must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, "config.hcl", []byte(tt.content), 0o644))

			_, err := NewConfig(fs, "config.hcl")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := NewConfig(afero.NewMemMapFs(), "nope.hcl")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error reading config file")
	})
}

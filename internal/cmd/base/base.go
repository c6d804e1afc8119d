// Package base holds what every registratura subcommand shares.
package base

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/spf13/afero"
	"gorm.io/gorm"

	"github.com/parishworks/registratura/internal/config"
	"github.com/parishworks/registratura/internal/db"
)

type Command struct {
	Log hclog.Logger
	UI  cli.Ui

	// FS is where config and input files are read from.
	FS afero.Fs
}

func NewCommand(log hclog.Logger, ui cli.Ui) *Command {
	return &Command{
		Log: log,
		UI:  ui,
		FS:  afero.NewOsFs(),
	}
}

// LoadConfig parses the config file at path and applies its log level to the
// command logger.
func (c *Command) LoadConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config flag is required")
	}

	fs := c.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	cfg, err := config.NewConfig(fs, path)
	if err != nil {
		return nil, err
	}

	if c.Log != nil {
		c.Log.SetLevel(hclog.LevelFromString(cfg.LogLevel))
	}
	return cfg, nil
}

// OpenDB connects to the database named in cfg.
func (c *Command) OpenDB(cfg *config.Config) (*gorm.DB, error) {
	database, err := db.NewDB(cfg.Database, c.Log)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}
	return database, nil
}

// CloseDB closes the connection pool behind database.
func CloseDB(database *gorm.DB) error {
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

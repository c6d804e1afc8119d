package operator

import (
	"fmt"

	"github.com/mitchellh/cli"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/parishworks/registratura/internal/cmd/base"
	"github.com/parishworks/registratura/internal/config"
	"github.com/parishworks/registratura/internal/server"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "Perform operator-specific tasks"
}

func (c *Command) Help() string {
	return `Usage: registratura operator <subcommand> [options] [args]

  This command groups subcommands for operators maintaining a registratura
  database.`
}

func (c *Command) Run(args []string) int {
	return cli.RunResultHelp
}

// setup loads the config file and connects to the database. The returned
// cleanup closes the connection.
func setup(c *base.Command, configPath string) (*config.Config, server.Server, func(), error) {
	cfg, err := c.LoadConfig(configPath)
	if err != nil {
		return nil, server.Server{}, nil, fmt.Errorf("error parsing config file: %w", err)
	}

	database, err := c.OpenDB(cfg)
	if err != nil {
		return nil, server.Server{}, nil, err
	}

	// Operator runs are short-lived; nothing scrapes their metrics.
	srv := server.New(cfg, database, c.Log, prometheus.NewRegistry())
	return cfg, srv, func() { closeQuietly(database) }, nil
}

func closeQuietly(database *gorm.DB) {
	_ = base.CloseDB(database)
}

package cmd

import (
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/parishworks/registratura/internal/cmd/base"
	"github.com/parishworks/registratura/internal/cmd/commands/operator"
	"github.com/parishworks/registratura/internal/cmd/commands/server"
	"github.com/parishworks/registratura/internal/cmd/commands/version"
)

// Commands is the mapping of all available registratura commands.
var Commands map[string]cli.CommandFactory

func initCommands(log hclog.Logger, ui cli.Ui) {
	b := base.NewCommand(log, ui)

	Commands = map[string]cli.CommandFactory{
		"operator": func() (cli.Command, error) {
			return &operator.Command{Command: b}, nil
		},
		"operator expire-routings": func() (cli.Command, error) {
			return &operator.ExpireRoutingsCommand{Command: b}, nil
		},
		"operator history": func() (cli.Command, error) {
			return &operator.HistoryCommand{Command: b}, nil
		},
		"operator import-configurations": func() (cli.Command, error) {
			return &operator.ImportConfigurationsCommand{Command: b}, nil
		},
		"operator outbox": func() (cli.Command, error) {
			return &operator.OutboxCommand{Command: b}, nil
		},
		"server": func() (cli.Command, error) {
			return &server.Command{Command: b}, nil
		},
		"version": func() (cli.Command, error) {
			return &version.Command{Command: b}, nil
		},
	}
}

package cmd

import (
	"bufio"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/parishworks/registratura/internal/config"
	"github.com/parishworks/registratura/internal/version"
)

// Main runs the registratura CLI and returns its exit code. With no
// subcommand it runs the server.
func Main(args []string) int {
	name := args[0]
	args = args[1:]

	switch {
	case len(args) == 0:
		args = []string{"server"}
	case len(args) == 1 && (args[0] == "-v" || args[0] == "-version"):
		args = []string{"version"}
	}

	log := hclog.New(&hclog.LoggerOptions{
		Name:  "registratura",
		Level: hclog.LevelFromString(os.Getenv(config.EnvLogLevel)),
	})

	ui := &cli.ColoredUi{
		ErrorColor: cli.UiColorRed,
		WarnColor:  cli.UiColorYellow,
		Ui: &cli.BasicUi{
			Reader:      bufio.NewReader(os.Stdin),
			Writer:      os.Stdout,
			ErrorWriter: os.Stderr,
		},
	}

	initCommands(log, ui)

	runner := &cli.CLI{
		Name:     name,
		Args:     args,
		Version:  version.Full(),
		Commands: Commands,
	}

	code, err := runner.Run()
	if err != nil {
		log.Error("error running command", "error", err)
		return 1
	}
	return code
}

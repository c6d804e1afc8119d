package version

import (
	"github.com/parishworks/registratura/internal/cmd/base"
	"github.com/parishworks/registratura/internal/version"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "Print the version"
}

func (c *Command) Help() string {
	return `Usage: registratura version

  Prints the registratura version.`
}

func (c *Command) Run(args []string) int {
	c.UI.Output(version.Full())
	return 0
}

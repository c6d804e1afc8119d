package operator

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/parishworks/registratura/internal/cmd/base"
)

type ExpireRoutingsCommand struct {
	*base.Command

	flagConfig  string
	flagTimeout time.Duration
	flagDryRun  bool
}

func (c *ExpireRoutingsCommand) Synopsis() string {
	return "Flag sent routings that were never answered"
}

func (c *ExpireRoutingsCommand) Help() string {
	return `Usage: registratura operator expire-routings -config=config.hcl

  Marks every "sent" workflow record that has no later record on the same
  document and is older than the timeout as expired. Document statuses are
  left unchanged. Running it twice is harmless.` + c.Flags().Help()
}

func (c *ExpireRoutingsCommand) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("expire-routings", flag.ContinueOnError))

	f.StringVar(
		&c.flagConfig, "config", "", "(Required) Path to registratura config `file`",
	)
	f.DurationVar(
		&c.flagTimeout, "timeout", 0,
		"Age after which a sent routing is stale. Defaults to registry.routing_expiry.",
	)
	f.BoolVar(
		&c.flagDryRun, "dry-run", false,
		"Only list the routings that would be expired.",
	)

	return f
}

func (c *ExpireRoutingsCommand) Run(args []string) int {
	ui := c.UI

	if err := c.Flags().Parse(args); err != nil {
		ui.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	cfg, srv, cleanup, err := setup(c.Command, c.flagConfig)
	if err != nil {
		ui.Error(err.Error())
		return 1
	}
	defer cleanup()

	timeout := c.flagTimeout
	if timeout == 0 {
		timeout = cfg.Registry.Expiry()
	}
	if timeout < 0 {
		ui.Error("timeout must be positive")
		return 1
	}

	ctx := context.Background()

	if c.flagDryRun {
		stale, err := srv.Engine.Workflow.StaleRoutings(ctx, timeout)
		if err != nil {
			ui.Error(fmt.Sprintf("error listing stale routings: %v", err))
			return 1
		}

		ui.Warn("DRY RUN mode enabled - no changes will be made")
		for _, rec := range stale {
			ui.Info(fmt.Sprintf("document %d: routing %d sent at %s",
				rec.DocumentID, rec.ID, rec.CreatedAt.Format(time.RFC3339)))
		}
		ui.Info(fmt.Sprintf("Would expire %d routing(s) older than %s", len(stale), timeout))
		return 0
	}

	expired, err := srv.Engine.Workflow.ExpireStaleRoutings(ctx, timeout)
	if err != nil {
		ui.Error(fmt.Sprintf("error expiring routings: %v", err))
		return 1
	}

	ui.Info(fmt.Sprintf("Expired %d routing(s) older than %s", expired, timeout))
	return 0
}

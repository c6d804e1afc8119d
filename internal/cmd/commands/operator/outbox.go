package operator

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/parishworks/registratura/internal/cmd/base"
	"github.com/parishworks/registratura/pkg/events/relay"
	"github.com/parishworks/registratura/pkg/kafka"
)

type OutboxCommand struct {
	*base.Command

	flagConfig      string
	flagRetryFailed bool
	flagRetryLimit  int
	flagCleanup     time.Duration
}

func (c *OutboxCommand) Synopsis() string {
	return "Inspect and maintain the document event outbox"
}

func (c *OutboxCommand) Help() string {
	return `Usage: registratura operator outbox -config=config.hcl

  Prints pending, published and failed event counts. With -retry-failed,
  events that exhausted their publish attempts are published again. With
  -cleanup-older-than, published events older than the given age are
  removed.` + c.Flags().Help()
}

func (c *OutboxCommand) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("outbox", flag.ContinueOnError))

	f.StringVar(
		&c.flagConfig, "config", "", "(Required) Path to registratura config `file`",
	)
	f.BoolVar(
		&c.flagRetryFailed, "retry-failed", false,
		"Publish failed events again.",
	)
	f.IntVar(
		&c.flagRetryLimit, "retry-limit", 100,
		"Maximum number of failed events to retry.",
	)
	f.DurationVar(
		&c.flagCleanup, "cleanup-older-than", 0,
		"Delete published events older than this `age`.",
	)

	return f
}

func (c *OutboxCommand) Run(args []string) int {
	ui := c.UI

	if err := c.Flags().Parse(args); err != nil {
		ui.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}
	if c.flagCleanup < 0 {
		ui.Error("cleanup-older-than must be positive")
		return 1
	}

	cfg, srv, cleanup, err := setup(c.Command, c.flagConfig)
	if err != nil {
		ui.Error(err.Error())
		return 1
	}
	defer cleanup()

	ctx := context.Background()

	if c.flagRetryFailed || c.flagCleanup > 0 {
		r, err := relay.New(relay.Config{
			DB:          srv.DB,
			Brokers:     kafka.GetBrokers(cfg),
			Topic:       kafka.GetEventsTopic(cfg),
			MaxAttempts: cfg.Events.MaxAttempts,
			Logger:      c.Log,
		})
		if err != nil {
			ui.Error(fmt.Sprintf("error creating outbox relay: %v", err))
			return 1
		}
		defer r.Stop()

		if c.flagRetryFailed {
			n, err := r.RetryFailed(ctx, c.flagRetryLimit)
			if err != nil {
				ui.Error(fmt.Sprintf("error retrying failed events: %v", err))
				return 1
			}
			ui.Info(fmt.Sprintf("Republished %d failed event(s)", n))
		}

		if c.flagCleanup > 0 {
			n, err := r.CleanupOldEntries(ctx, c.flagCleanup)
			if err != nil {
				ui.Error(fmt.Sprintf("error cleaning up events: %v", err))
				return 1
			}
			ui.Info(fmt.Sprintf("Deleted %d published event(s) older than %s", n, c.flagCleanup))
		}
	}

	stats, err := relay.GetStats(srv.DB.WithContext(ctx))
	if err != nil {
		ui.Error(fmt.Sprintf("error reading outbox stats: %v", err))
		return 1
	}
	ui.Info(fmt.Sprintf("pending=%d published=%d failed=%d", stats.Pending, stats.Published, stats.Failed))
	return 0
}

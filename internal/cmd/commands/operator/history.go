package operator

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/parishworks/registratura/internal/cmd/base"
	"github.com/parishworks/registratura/pkg/models"
)

type HistoryCommand struct {
	*base.Command

	flagConfig   string
	flagDocument uint
	flagFormat   string
}

func (c *HistoryCommand) Synopsis() string {
	return "Print the routing history of a document"
}

func (c *HistoryCommand) Help() string {
	return `Usage: registratura operator history -config=config.hcl -document=ID

  Prints every workflow record of a document, oldest first, including
  records flagged as expired.` + c.Flags().Help()
}

func (c *HistoryCommand) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("history", flag.ContinueOnError))

	f.StringVar(
		&c.flagConfig, "config", "", "(Required) Path to registratura config `file`",
	)
	f.UintVar(
		&c.flagDocument, "document", 0, "(Required) Document `id`",
	)
	f.StringVar(
		&c.flagFormat, "format", "json", "Output format, json or yaml.",
	)

	return f
}

func (c *HistoryCommand) Run(args []string) int {
	ui := c.UI

	if err := c.Flags().Parse(args); err != nil {
		ui.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}
	if c.flagDocument == 0 {
		ui.Error("document flag is required")
		return 1
	}
	if c.flagFormat != "json" && c.flagFormat != "yaml" {
		ui.Error(fmt.Sprintf("unsupported format %q (supported: json, yaml)", c.flagFormat))
		return 1
	}

	_, srv, cleanup, err := setup(c.Command, c.flagConfig)
	if err != nil {
		ui.Error(err.Error())
		return 1
	}
	defer cleanup()

	history, err := srv.Engine.Query.GetHistory(context.Background(), c.flagDocument)
	if err != nil {
		ui.Error(fmt.Sprintf("error reading history: %v", err))
		return 1
	}

	out, err := renderHistory(history, c.flagFormat)
	if err != nil {
		ui.Error(err.Error())
		return 1
	}
	ui.Output(out)
	return 0
}

// renderHistory encodes records with their JSON field names in either format.
func renderHistory(records []models.WorkflowRecord, format string) (string, error) {
	if records == nil {
		records = []models.WorkflowRecord{}
	}

	js, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("error encoding history: %w", err)
	}
	if format == "json" {
		return string(js), nil
	}

	// Round-trip through JSON so YAML keys match the API.
	var generic []map[string]any
	if err := json.Unmarshal(js, &generic); err != nil {
		return "", fmt.Errorf("error encoding history: %w", err)
	}
	ys, err := yaml.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("error encoding history: %w", err)
	}
	return string(ys), nil
}

package operator

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/mitchellh/cli"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/parishworks/registratura/internal/cmd/base"
	"github.com/parishworks/registratura/pkg/registry"
)

// configurationsFile is the YAML accepted by import-configurations.
//
//	configurations:
//	  - name: Incoming mail
//	    parish_id: 3
//	    resets_annually: true
//	    starting_number: 1
//	    is_default: true
type configurationsFile struct {
	Configurations []registry.CreateConfigurationParams `yaml:"configurations"`
}

type ImportConfigurationsCommand struct {
	*base.Command

	flagConfig string
	flagFile   string
	flagDryRun bool
}

func (c *ImportConfigurationsCommand) Synopsis() string {
	return "Create register configurations from a YAML file"
}

func (c *ImportConfigurationsCommand) Help() string {
	return `Usage: registratura operator import-configurations -config=config.hcl -file=configurations.yaml

  Creates every configuration listed in the file. Configurations whose name
  already exists in the same scope are skipped, so the file can be imported
  again after it is extended.` + c.Flags().Help()
}

func (c *ImportConfigurationsCommand) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("import-configurations", flag.ContinueOnError))

	f.StringVar(
		&c.flagConfig, "config", "", "(Required) Path to registratura config `file`",
	)
	f.StringVar(
		&c.flagFile, "file", "", "(Required) Path to the YAML `file` to import",
	)
	f.BoolVar(
		&c.flagDryRun, "dry-run", false,
		"Only print what would be created.",
	)

	return f
}

func (c *ImportConfigurationsCommand) Run(args []string) int {
	ui := c.UI

	if err := c.Flags().Parse(args); err != nil {
		ui.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}
	if c.flagFile == "" {
		ui.Error("file flag is required")
		return 1
	}

	params, err := readConfigurationsFile(c.FS, c.flagFile)
	if err != nil {
		ui.Error(err.Error())
		return 1
	}

	_, srv, cleanup, err := setup(c.Command, c.flagConfig)
	if err != nil {
		ui.Error(err.Error())
		return 1
	}
	defer cleanup()

	if c.flagDryRun {
		ui.Warn("DRY RUN mode enabled - no changes will be made")
	}

	created, skipped, err := importConfigurations(
		context.Background(), srv.Engine.Configurations, params, c.flagDryRun, ui)
	if err != nil {
		ui.Error(err.Error())
		return 1
	}

	ui.Info("")
	ui.Info("=== Summary ===")
	if c.flagDryRun {
		ui.Info(fmt.Sprintf("Would create: %d", created))
	} else {
		ui.Info(fmt.Sprintf("Created: %d", created))
	}
	ui.Info(fmt.Sprintf("Skipped (already exist): %d", skipped))
	return 0
}

func readConfigurationsFile(fs afero.Fs, path string) ([]registry.CreateConfigurationParams, error) {
	src, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}

	var file configurationsFile
	if err := yaml.Unmarshal(src, &file); err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", path, err)
	}
	if len(file.Configurations) == 0 {
		return nil, fmt.Errorf("%s lists no configurations", path)
	}
	return file.Configurations, nil
}

func importConfigurations(
	ctx context.Context,
	store *registry.ConfigurationStore,
	params []registry.CreateConfigurationParams,
	dryRun bool,
	ui cli.Ui,
) (created, skipped int, err error) {
	for i, p := range params {
		if p.StartingNumber == 0 {
			p.StartingNumber = 1
		}

		existing, err := store.FindByName(ctx, p.ParishID, p.Name)
		if err != nil && !errors.Is(err, registry.ErrNotFound) {
			return created, skipped, fmt.Errorf("error looking up %q: %w", p.Name, err)
		}
		if existing != nil {
			ui.Info(fmt.Sprintf("skip %q: exists as configuration %d", p.Name, existing.ID))
			skipped++
			continue
		}

		if dryRun {
			ui.Info(fmt.Sprintf("would create %q (%s)", p.Name, scopeLabel(p.ParishID)))
			created++
			continue
		}

		cfg, err := store.Create(ctx, p)
		if err != nil {
			return created, skipped, fmt.Errorf("error creating configuration #%d %q: %w", i+1, p.Name, err)
		}
		ui.Info(fmt.Sprintf("created %q as configuration %d (%s)", cfg.Name, cfg.ID, scopeLabel(cfg.ParishID)))
		created++
	}
	return created, skipped, nil
}

func scopeLabel(parishID *uint) string {
	if parishID == nil {
		return "shared"
	}
	return fmt.Sprintf("parish %d", *parishID)
}

package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/parishworks/registratura/internal/cmd/base"
	"github.com/parishworks/registratura/internal/config"
	"github.com/parishworks/registratura/internal/db"
	"github.com/parishworks/registratura/pkg/models"
	"github.com/parishworks/registratura/pkg/registry"
)

type operatorEnv struct {
	fs     afero.Fs
	dbPath string
}

// setupOperatorEnv writes config.hcl to an in-memory filesystem. The sqlite
// file itself lives on disk because the driver cannot open afero files.
func setupOperatorEnv(t *testing.T) *operatorEnv {
	t.Helper()

	env := &operatorEnv{
		fs:     afero.NewMemMapFs(),
		dbPath: filepath.Join(t.TempDir(), "registratura.db"),
	}
	src := fmt.Sprintf(`
log_level = "warn"

database {
  driver       = "sqlite"
  path         = %q
  auto_migrate = true
}
`, env.dbPath)
	require.NoError(t, afero.WriteFile(env.fs, "config.hcl", []byte(src), 0o644))
	return env
}

func (e *operatorEnv) command() (*base.Command, *cli.MockUi) {
	ui := cli.NewMockUi()
	return &base.Command{Log: hclog.NewNullLogger(), UI: ui, FS: e.fs}, ui
}

// engine opens its own connection for seeding data.
func (e *operatorEnv) engine(t *testing.T) *registry.Engine {
	t.Helper()

	database, err := db.NewDB(&config.Database{
		Driver:      "sqlite",
		Path:        e.dbPath,
		AutoMigrate: true,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = base.CloseDB(database) })
	return registry.New(database)
}

func TestImportConfigurationsCommand(t *testing.T) {
	env := setupOperatorEnv(t)
	require.NoError(t, afero.WriteFile(env.fs, "configurations.yaml", []byte(`
configurations:
  - name: Incoming mail
    resets_annually: true
    is_default: true
  - name: Marriage register
    parish_id: 3
    starting_number: 100
`), 0o644))

	t.Run("dry run creates nothing", func(t *testing.T) {
		c, ui := env.command()
		cmd := &ImportConfigurationsCommand{Command: c}
		code := cmd.Run([]string{"-config=config.hcl", "-file=configurations.yaml", "-dry-run"})
		require.Equal(t, 0, code, ui.ErrorWriter.String())
		assert.Contains(t, ui.OutputWriter.String(), "Would create: 2")

		list, err := env.engine(t).Configurations.List(context.Background(),
			registry.ListConfigurationsParams{IncludeShared: true})
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("import", func(t *testing.T) {
		c, ui := env.command()
		cmd := &ImportConfigurationsCommand{Command: c}
		code := cmd.Run([]string{"-config=config.hcl", "-file=configurations.yaml"})
		require.Equal(t, 0, code, ui.ErrorWriter.String())
		assert.Contains(t, ui.OutputWriter.String(), "Created: 2")

		parish := uint(3)
		cfg, err := env.engine(t).Configurations.FindByName(context.Background(), &parish, "Marriage register")
		require.NoError(t, err)
		assert.Equal(t, 100, cfg.StartingNumber)
		assert.False(t, cfg.IsDefault)
	})

	t.Run("reimport skips existing", func(t *testing.T) {
		c, ui := env.command()
		cmd := &ImportConfigurationsCommand{Command: c}
		code := cmd.Run([]string{"-config=config.hcl", "-file=configurations.yaml"})
		require.Equal(t, 0, code, ui.ErrorWriter.String())
		assert.Contains(t, ui.OutputWriter.String(), "Created: 0")
		assert.Contains(t, ui.OutputWriter.String(), "Skipped (already exist): 2")
	})

	t.Run("missing file flag", func(t *testing.T) {
		c, ui := env.command()
		cmd := &ImportConfigurationsCommand{Command: c}
		assert.Equal(t, 1, cmd.Run([]string{"-config=config.hcl"}))
		assert.Contains(t, ui.ErrorWriter.String(), "file flag is required")
	})

	t.Run("empty file", func(t *testing.T) {
		require.NoError(t, afero.WriteFile(env.fs, "empty.yaml", []byte("configurations: []\n"), 0o644))
		c, ui := env.command()
		cmd := &ImportConfigurationsCommand{Command: c}
		assert.Equal(t, 1, cmd.Run([]string{"-config=config.hcl", "-file=empty.yaml"}))
		assert.Contains(t, ui.ErrorWriter.String(), "lists no configurations")
	})
}

func TestHistoryCommand(t *testing.T) {
	env := setupOperatorEnv(t)
	ctx := context.Background()

	engine := env.engine(t)
	cfg, err := engine.Configurations.Create(ctx, registry.CreateConfigurationParams{
		Name:           "Incoming mail",
		StartingNumber: 1,
	})
	require.NoError(t, err)
	doc, err := engine.Documents.CreateDocument(ctx, registry.CreateDocumentParams{
		ParishID:                1,
		DocumentType:            models.DocumentTypeIncoming,
		RegisterConfigurationID: cfg.ID,
		Fields:                  models.DocumentFields{Subject: "Baptism certificate request"},
		RegisterImmediately:     true,
	})
	require.NoError(t, err)
	to := uint(9)
	_, _, err = engine.Workflow.RouteDocument(ctx, registry.RouteRequest{
		DocumentID: doc.ID,
		Action:     models.WorkflowActionSent,
		ToUserID:   &to,
	})
	require.NoError(t, err)

	docFlag := fmt.Sprintf("-document=%d", doc.ID)

	t.Run("json", func(t *testing.T) {
		c, ui := env.command()
		cmd := &HistoryCommand{Command: c}
		code := cmd.Run([]string{"-config=config.hcl", docFlag})
		require.Equal(t, 0, code, ui.ErrorWriter.String())

		var records []models.WorkflowRecord
		require.NoError(t, json.Unmarshal([]byte(ui.OutputWriter.String()), &records))
		require.Len(t, records, 1)
		assert.Equal(t, models.WorkflowActionSent, records[0].Action)
		assert.Equal(t, &to, records[0].ToUserID)
	})

	t.Run("yaml", func(t *testing.T) {
		c, ui := env.command()
		cmd := &HistoryCommand{Command: c}
		code := cmd.Run([]string{"-config=config.hcl", docFlag, "-format=yaml"})
		require.Equal(t, 0, code, ui.ErrorWriter.String())

		var records []map[string]any
		require.NoError(t, yaml.Unmarshal([]byte(ui.OutputWriter.String()), &records))
		require.Len(t, records, 1)
		assert.Equal(t, "sent", records[0]["action"])
		assert.Equal(t, 9, records[0]["toUserId"])
	})

	t.Run("unknown document", func(t *testing.T) {
		c, ui := env.command()
		cmd := &HistoryCommand{Command: c}
		assert.Equal(t, 1, cmd.Run([]string{"-config=config.hcl", "-document=999"}))
		assert.Contains(t, ui.ErrorWriter.String(), "error reading history")
	})

	t.Run("bad format", func(t *testing.T) {
		c, ui := env.command()
		cmd := &HistoryCommand{Command: c}
		assert.Equal(t, 1, cmd.Run([]string{"-config=config.hcl", docFlag, "-format=xml"}))
		assert.Contains(t, ui.ErrorWriter.String(), "unsupported format")
	})
}

func TestRenderHistory_Empty(t *testing.T) {
	out, err := renderHistory(nil, "json")
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestExpireRoutingsCommand(t *testing.T) {
	env := setupOperatorEnv(t)

	t.Run("nothing to expire", func(t *testing.T) {
		c, ui := env.command()
		cmd := &ExpireRoutingsCommand{Command: c}
		code := cmd.Run([]string{"-config=config.hcl"})
		require.Equal(t, 0, code, ui.ErrorWriter.String())
		assert.Contains(t, ui.OutputWriter.String(), "Expired 0 routing(s) older than 72h0m0s")
	})

	t.Run("dry run", func(t *testing.T) {
		c, ui := env.command()
		cmd := &ExpireRoutingsCommand{Command: c}
		code := cmd.Run([]string{"-config=config.hcl", "-dry-run", "-timeout=1h"})
		require.Equal(t, 0, code, ui.ErrorWriter.String())
		assert.Contains(t, ui.OutputWriter.String(), "Would expire 0 routing(s) older than 1h0m0s")
	})

	t.Run("negative timeout", func(t *testing.T) {
		c, ui := env.command()
		cmd := &ExpireRoutingsCommand{Command: c}
		assert.Equal(t, 1, cmd.Run([]string{"-config=config.hcl", "-timeout=-1h"}))
		assert.Contains(t, ui.ErrorWriter.String(), "timeout must be positive")
	})

	t.Run("missing config", func(t *testing.T) {
		c, ui := env.command()
		cmd := &ExpireRoutingsCommand{Command: c}
		assert.Equal(t, 1, cmd.Run(nil))
		assert.Contains(t, ui.ErrorWriter.String(), "config flag is required")
	})
}

func TestOutboxCommand_Stats(t *testing.T) {
	env := setupOperatorEnv(t)

	c, ui := env.command()
	cmd := &OutboxCommand{Command: c}
	code := cmd.Run([]string{"-config=config.hcl"})
	require.Equal(t, 0, code, ui.ErrorWriter.String())
	assert.Contains(t, ui.OutputWriter.String(), "pending=0 published=0 failed=0")

	c, ui = env.command()
	cmd = &OutboxCommand{Command: c}
	assert.Equal(t, 1, cmd.Run([]string{"-config=config.hcl", "-cleanup-older-than=-1h"}))
	assert.Contains(t, ui.ErrorWriter.String(), "cleanup-older-than must be positive")
}

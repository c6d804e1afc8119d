// Package db opens the registratura database from configuration.
package db

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/parishworks/registratura/internal/config"
	"github.com/parishworks/registratura/pkg/database"
	"github.com/parishworks/registratura/pkg/models"
)

// NewDB connects to the configured database. The schema is expected to be
// applied by registratura-migrate unless auto_migrate is set.
func NewDB(cfg *config.Database, log hclog.Logger) (*gorm.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration is required")
	}

	db, err := database.Connect(cfg.DatabaseConfig(), log)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(models.ModelsToAutoMigrate()...); err != nil {
			return nil, fmt.Errorf("error migrating database: %w", err)
		}
		if log != nil {
			log.Info("auto-migrated database schema")
		}
	}

	return db, nil
}

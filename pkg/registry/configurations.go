package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/parishworks/registratura/pkg/models"
)

// ConfigurationStore manages numbering policies.
type ConfigurationStore struct {
	*deps
	logger hclog.Logger
}

// CreateConfigurationParams are the inputs of ConfigurationStore.Create.
type CreateConfigurationParams struct {
	Name           string  `json:"name" yaml:"name"`
	ParishID       *uint   `json:"parishId,omitempty" yaml:"parish_id,omitempty"`
	ResetsAnnually bool    `json:"resetsAnnually" yaml:"resets_annually"`
	StartingNumber int     `json:"startingNumber" yaml:"starting_number"`
	Notes          *string `json:"notes,omitempty" yaml:"notes,omitempty"`
	IsDefault      bool    `json:"isDefault" yaml:"is_default"`
}

// ConfigurationPatch lists the fields to change; nil fields are left alone.
type ConfigurationPatch struct {
	Name           *string `json:"name,omitempty"`
	Notes          *string `json:"notes,omitempty"`
	ResetsAnnually *bool   `json:"resetsAnnually,omitempty"`
	StartingNumber *int    `json:"startingNumber,omitempty"`
	IsDefault      *bool   `json:"isDefault,omitempty"`
}

// ListConfigurationsParams filters ConfigurationStore.List.
type ListConfigurationsParams struct {
	// ParishID limits results to one parish. Nil lists every scope.
	ParishID *uint
	// IncludeShared adds shared configurations when ParishID is set.
	IncludeShared bool
	// IncludeRetired adds retired configurations.
	IncludeRetired bool
}

// Create validates and stores a new configuration. When IsDefault is set, any
// other default in the same scope is cleared in the same transaction.
func (s *ConfigurationStore) Create(ctx context.Context, p CreateConfigurationParams) (*models.RegisterConfiguration, error) {
	const op = "CreateConfiguration"

	cfg := &models.RegisterConfiguration{
		Name:           strings.TrimSpace(p.Name),
		ParishID:       p.ParishID,
		ResetsAnnually: p.ResetsAnnually,
		StartingNumber: p.StartingNumber,
		Notes:          p.Notes,
		IsDefault:      p.IsDefault,
	}
	if err := cfg.Validate(); err != nil {
		return nil, validationError(op, err)
	}

	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if cfg.IsDefault {
			if err := cfg.ClearScopeDefault(tx); err != nil {
				return err
			}
		}
		if err := cfg.Create(tx); err != nil {
			return fmt.Errorf("error creating configuration: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("created register configuration",
		"configuration_id", cfg.ID,
		"name", cfg.Name,
		"parish_id", cfg.ParishID,
		"resets_annually", cfg.ResetsAnnually,
		"starting_number", cfg.StartingNumber,
	)
	return cfg, nil
}

// Get returns a non-retired configuration.
func (s *ConfigurationStore) Get(ctx context.Context, id uint) (*models.RegisterConfiguration, error) {
	var cfg models.RegisterConfiguration
	if err := cfg.GetActive(s.conn(ctx), id); err != nil {
		return nil, lookupError("GetConfiguration", ResourceConfiguration, id, err)
	}
	return &cfg, nil
}

// List returns configurations ordered by name.
func (s *ConfigurationStore) List(ctx context.Context, p ListConfigurationsParams) ([]models.RegisterConfiguration, error) {
	q := s.conn(ctx).Model(&models.RegisterConfiguration{})
	if !p.IncludeRetired {
		q = q.Where("retired_at IS NULL")
	}
	if p.ParishID != nil {
		if p.IncludeShared {
			q = q.Where("parish_id = ? OR parish_id IS NULL", *p.ParishID)
		} else {
			q = q.Where("parish_id = ?", *p.ParishID)
		}
	}

	var cfgs []models.RegisterConfiguration
	if err := q.Order("name ASC").Order("id ASC").Find(&cfgs).Error; err != nil {
		return nil, fmt.Errorf("error listing configurations: %w", err)
	}
	return cfgs, nil
}

// FindByName returns the active configuration with the given name in a scope.
func (s *ConfigurationStore) FindByName(ctx context.Context, parishID *uint, name string) (*models.RegisterConfiguration, error) {
	scope := &models.RegisterConfiguration{ParishID: parishID}

	var cfg models.RegisterConfiguration
	err := scope.ScopeQuery(s.conn(ctx)).
		Where("name = ? AND retired_at IS NULL", strings.TrimSpace(name)).
		Take(&cfg).
		Error
	if err != nil {
		return nil, lookupError("FindConfiguration", ResourceConfiguration, 0, err)
	}
	return &cfg, nil
}

// Update applies patch to a configuration. Existing documents keep their
// numbers; changes only affect future allocations. Switching to annual reset
// seeds the counter for the current year at StartingNumber.
func (s *ConfigurationStore) Update(ctx context.Context, id uint, patch ConfigurationPatch) (*models.RegisterConfiguration, error) {
	const op = "UpdateConfiguration"

	var cfg models.RegisterConfiguration
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := cfg.LockActive(tx, id, "UPDATE"); err != nil {
			return lookupError(op, ResourceConfiguration, id, err)
		}

		wasAnnual := cfg.ResetsAnnually
		if patch.Name != nil {
			cfg.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Notes != nil {
			cfg.Notes = patch.Notes
		}
		if patch.ResetsAnnually != nil {
			cfg.ResetsAnnually = *patch.ResetsAnnually
		}
		if patch.StartingNumber != nil {
			cfg.StartingNumber = *patch.StartingNumber
		}
		if patch.IsDefault != nil {
			cfg.IsDefault = *patch.IsDefault
		}
		if err := cfg.Validate(); err != nil {
			return validationError(op, err)
		}

		if cfg.IsDefault {
			if err := cfg.ClearScopeDefault(tx); err != nil {
				return err
			}
		}
		if err := tx.Save(&cfg).Error; err != nil {
			return fmt.Errorf("error saving configuration: %w", err)
		}

		if !wasAnnual && cfg.ResetsAnnually {
			year := s.clock().Year()
			if err := models.SeedSequenceCounter(tx, cfg.ID, year, cfg.StartingNumber, s.clock()); err != nil {
				return fmt.Errorf("error seeding counter for %d: %w", year, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("updated register configuration", "configuration_id", cfg.ID)
	return &cfg, nil
}

// SetDefault makes the configuration the default of its scope.
func (s *ConfigurationStore) SetDefault(ctx context.Context, id uint) (*models.RegisterConfiguration, error) {
	isDefault := true
	return s.Update(ctx, id, ConfigurationPatch{IsDefault: &isDefault})
}

// Delete retires a configuration. It fails with ConfigurationInUse while any
// non-deleted document references it.
func (s *ConfigurationStore) Delete(ctx context.Context, id uint) error {
	const op = "DeleteConfiguration"

	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var cfg models.RegisterConfiguration
		if err := cfg.LockActive(tx, id, "UPDATE"); err != nil {
			return lookupError(op, ResourceConfiguration, id, err)
		}

		count, err := models.CountActiveDocumentsForConfiguration(tx, id)
		if err != nil {
			return fmt.Errorf("error counting documents: %w", err)
		}
		if count > 0 {
			return &Error{
				Code:     CodeConfigurationInUse,
				Op:       op,
				Resource: ResourceConfiguration,
				ID:       id,
				Message:  fmt.Sprintf("%d document(s) reference this configuration", count),
			}
		}

		now := s.clock()
		return tx.Model(&cfg).Updates(map[string]any{
			"retired_at": now,
			"is_default": false,
			"updated_at": now,
		}).Error
	})
	if err != nil {
		return err
	}

	s.logger.Info("retired register configuration", "configuration_id", id)
	return nil
}

// resolve returns the configuration a new document of parishID should use.
// A zero id selects the parish default, then the shared default.
func (s *ConfigurationStore) resolve(tx *gorm.DB, op string, parishID, id uint) (*models.RegisterConfiguration, error) {
	if id == 0 {
		cfg, err := models.FindDefaultRegisterConfiguration(tx, parishID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, validationMessage(op, "no configuration given and parish %d has no default", parishID)
		}
		if err != nil {
			return nil, fmt.Errorf("error finding default configuration: %w", err)
		}
		id = cfg.ID
	}

	var cfg models.RegisterConfiguration
	if err := cfg.LockActive(tx, id, "SHARE"); err != nil {
		return nil, lookupError(op, ResourceConfiguration, id, err)
	}
	if !cfg.Serves(parishID) {
		return nil, validationMessage(op, "configuration %d belongs to another parish", id)
	}
	return &cfg, nil
}

package models

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RegisterConfiguration is a named numbering policy used to number documents.
// A nil ParishID makes the configuration shared: every parish that references it
// draws from the same sequence.
type RegisterConfiguration struct {
	ID uint `gorm:"primaryKey" json:"id"`

	Name string `gorm:"type:varchar(200);not null" json:"name"`

	// ParishID scopes the configuration to a single parish.
	ParishID *uint `gorm:"index:idx_register_configurations_scope" json:"parishId"`

	// IsDefault marks the configuration used when a document names none.
	// At most one non-retired default exists per scope.
	IsDefault bool `gorm:"not null" json:"isDefault"`

	// ResetsAnnually restarts numbering at StartingNumber every calendar year.
	ResetsAnnually bool `gorm:"not null" json:"resetsAnnually"`

	StartingNumber int `gorm:"not null" json:"startingNumber"`

	Notes *string `gorm:"type:text" json:"notes,omitempty"`

	// RetiredAt is set instead of hard-deleting the configuration.
	RetiredAt *time.Time `gorm:"index" json:"retiredAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name.
func (RegisterConfiguration) TableName() string {
	return "register_configurations"
}

// Validate checks the configuration fields.
func (c *RegisterConfiguration) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&c.StartingNumber, validation.By(positiveNumber)),
	)
}

// positiveNumber also rejects zero, which validation.Min treats as empty and
// skips.
func positiveNumber(value any) error {
	if n, _ := value.(int); n < 1 {
		return validation.NewError("validation_min_greater_equal_than_required", "must be no less than 1")
	}
	return nil
}

// IsRetired reports whether the configuration has been retired.
func (c *RegisterConfiguration) IsRetired() bool {
	return c.RetiredAt != nil
}

// IsShared reports whether the configuration serves every parish.
func (c *RegisterConfiguration) IsShared() bool {
	return c.ParishID == nil
}

// Serves reports whether documents of the given parish may be numbered by c.
func (c *RegisterConfiguration) Serves(parishID uint) bool {
	return c.ParishID == nil || *c.ParishID == parishID
}

// CounterYear normalizes year to the key used for the sequence counter.
// Configurations that never reset share the sentinel year 0.
func (c *RegisterConfiguration) CounterYear(year int) int {
	if !c.ResetsAnnually {
		return 0
	}
	return year
}

// Create validates and inserts the configuration.
func (c *RegisterConfiguration) Create(db *gorm.DB) error {
	if err := c.Validate(); err != nil {
		return err
	}
	return db.Create(c).Error
}

// GetActive retrieves a non-retired configuration by ID.
func (c *RegisterConfiguration) GetActive(db *gorm.DB, id uint) error {
	if err := validation.Validate(id, validation.Required); err != nil {
		return err
	}

	return db.
		Where("retired_at IS NULL").
		First(c, id).
		Error
}

// LockActive retrieves a non-retired configuration by ID and locks its row with
// the given strength ("SHARE" or "UPDATE") on dialects that support row locks.
func (c *RegisterConfiguration) LockActive(db *gorm.DB, id uint, strength string) error {
	return c.GetActive(db.Clauses(clause.Locking{Strength: strength}), id)
}

// ScopeQuery restricts db to configurations in the same scope as c.
func (c *RegisterConfiguration) ScopeQuery(db *gorm.DB) *gorm.DB {
	if c.ParishID == nil {
		return db.Where("parish_id IS NULL")
	}
	return db.Where("parish_id = ?", *c.ParishID)
}

// ClearScopeDefault unsets the default flag on every other active configuration
// in c's scope.
func (c *RegisterConfiguration) ClearScopeDefault(db *gorm.DB) error {
	q := c.ScopeQuery(db.Model(&RegisterConfiguration{})).
		Where("is_default = ? AND retired_at IS NULL", true)
	if c.ID != 0 {
		q = q.Where("id <> ?", c.ID)
	}
	if err := q.Update("is_default", false).Error; err != nil {
		return fmt.Errorf("error clearing default configuration: %w", err)
	}
	return nil
}

// FindDefaultRegisterConfiguration returns the default configuration for a
// parish, falling back to the shared default. It returns gorm.ErrRecordNotFound
// when neither exists.
func FindDefaultRegisterConfiguration(db *gorm.DB, parishID uint) (*RegisterConfiguration, error) {
	var cfg RegisterConfiguration
	err := db.
		Where("is_default = ? AND retired_at IS NULL", true).
		Where("parish_id = ? OR parish_id IS NULL", parishID).
		// Parish-scoped defaults sort first.
		Order("CASE WHEN parish_id IS NULL THEN 1 ELSE 0 END").
		Take(&cfg).
		Error
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CountActiveDocumentsForConfiguration counts non-deleted documents referencing
// the configuration.
func CountActiveDocumentsForConfiguration(db *gorm.DB, configurationID uint) (int64, error) {
	var count int64
	err := db.Model(&Document{}).
		Where("register_configuration_id = ?", configurationID).
		Count(&count).
		Error
	return count, err
}

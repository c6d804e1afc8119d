package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SequenceCounter is the durable per-key counter behind registration numbers.
// The key is (RegisterConfigurationID, Year); Year is 0 for configurations that
// never reset.
type SequenceCounter struct {
	RegisterConfigurationID uint `gorm:"primaryKey;autoIncrement:false"`
	Year                    int  `gorm:"primaryKey;autoIncrement:false"`

	// LastIssued is the last number handed out for the key. It never decreases.
	LastIssued int `gorm:"not null"`

	UpdatedAt time.Time
}

// TableName specifies the table name.
func (SequenceCounter) TableName() string {
	return "sequence_counters"
}

// SeedSequenceCounter inserts the counter for a key at startingNumber-1 unless
// it already exists.
func SeedSequenceCounter(db *gorm.DB, configurationID uint, year, startingNumber int, now time.Time) error {
	counter := SequenceCounter{
		RegisterConfigurationID: configurationID,
		Year:                    year,
		LastIssued:              startingNumber - 1,
		UpdatedAt:               now,
	}
	return db.
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&counter).
		Error
}

// LockSequenceCounter reads the counter for a key, taking a row lock on
// dialects that support it.
func LockSequenceCounter(db *gorm.DB, configurationID uint, year int) (*SequenceCounter, error) {
	var counter SequenceCounter
	err := db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("register_configuration_id = ? AND year = ?", configurationID, year).
		Take(&counter).
		Error
	if err != nil {
		return nil, err
	}
	return &counter, nil
}

// Advance moves the counter from its current LastIssued to next. It only
// succeeds when the stored value still equals the value c was read with and
// reports false otherwise.
func (c *SequenceCounter) Advance(db *gorm.DB, next int, now time.Time) (bool, error) {
	result := db.Model(&SequenceCounter{}).
		Where("register_configuration_id = ? AND year = ? AND last_issued = ?",
			c.RegisterConfigurationID, c.Year, c.LastIssued).
		Updates(map[string]any{
			"last_issued": next,
			"updated_at":  now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected != 1 {
		return false, nil
	}
	c.LastIssued = next
	c.UpdatedAt = now
	return true, nil
}

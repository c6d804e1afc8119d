package models

import (
	"fmt"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Document is an entry in a parish document register.
type Document struct {
	ID   uint      `gorm:"primaryKey" json:"id"`
	UUID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"uuid"`

	ParishID     uint           `gorm:"not null;index" json:"parishId"`
	DocumentType DocumentType   `gorm:"type:varchar(20);not null" json:"documentType"`
	Status       DocumentStatus `gorm:"type:varchar(20);not null;index" json:"status"`

	RegisterConfigurationID uint `gorm:"not null;uniqueIndex:idx_documents_registration_number,priority:1" json:"registerConfigurationId"`

	// SequenceYear is the counter key year the number was drawn from (0 when the
	// configuration does not reset).
	SequenceYear int `gorm:"not null;uniqueIndex:idx_documents_registration_number,priority:2" json:"-"`

	// Registration fields are set once, when the document is registered.
	RegistrationNumber *int       `gorm:"uniqueIndex:idx_documents_registration_number,priority:3" json:"registrationNumber,omitempty"`
	RegistrationYear   *int       `json:"registrationYear,omitempty"`
	FormattedNumber    *string    `gorm:"type:varchar(32);index" json:"formattedNumber,omitempty"`
	RegisteredAt       *time.Time `json:"registeredAt,omitempty"`

	DocumentFields

	ResolvedAt        *time.Time `json:"resolvedAt,omitempty"`
	CancellationNotes *string    `gorm:"type:text" json:"cancellationNotes,omitempty"`

	// Version is incremented on every write and guards against lost updates.
	Version int `gorm:"not null" json:"version"`

	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deletedAt,omitempty"`
}

// DocumentFields are the business fields of a document. They are opaque to the
// numbering and routing logic.
type DocumentFields struct {
	Subject        string     `gorm:"type:varchar(500);not null" json:"subject" mapstructure:"subject"`
	Sender         *string    `gorm:"type:varchar(300)" json:"sender,omitempty" mapstructure:"sender"`
	Recipient      *string    `gorm:"type:varchar(300)" json:"recipient,omitempty" mapstructure:"recipient"`
	ExternalNumber *string    `gorm:"type:varchar(100)" json:"externalNumber,omitempty" mapstructure:"externalNumber"`
	Description    *string    `gorm:"type:text" json:"description,omitempty" mapstructure:"description"`
	DocumentDate   *time.Time `json:"documentDate,omitempty" mapstructure:"documentDate"`
	Priority       Priority   `gorm:"type:varchar(20);not null" json:"priority" mapstructure:"priority"`
	DepartmentID   *uint      `gorm:"index" json:"departmentId,omitempty" mapstructure:"departmentId"`
	AssignedTo     *uint      `gorm:"index" json:"assignedTo,omitempty" mapstructure:"assignedTo"`
	DueDate        *time.Time `json:"dueDate,omitempty" mapstructure:"dueDate"`
	IsSecret       bool       `gorm:"not null" json:"isSecret" mapstructure:"isSecret"`
	Notes          *string    `gorm:"type:text" json:"notes,omitempty" mapstructure:"notes"`
}

// TableName specifies the table name.
func (Document) TableName() string {
	return "documents"
}

// BeforeCreate assigns the public UUID and defaults.
func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.UUID == uuid.Nil {
		d.UUID = uuid.New()
	}
	if d.Priority == "" {
		d.Priority = PriorityNormal
	}
	if d.Version == 0 {
		d.Version = 1
	}
	return nil
}

// Validate checks the business fields.
func (f *DocumentFields) Validate() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.Subject, validation.Required, validation.Length(1, 500)),
		validation.Field(&f.Priority, validation.By(func(value any) error {
			p, _ := value.(Priority)
			if p == "" || p.Valid() {
				return nil
			}
			return fmt.Errorf("unknown priority %q", p)
		})),
	)
}

// IsRegistered reports whether a registration number has been assigned.
func (d *Document) IsRegistered() bool {
	return d.RegistrationNumber != nil
}

// IsDeleted reports whether the document has been soft-deleted.
func (d *Document) IsDeleted() bool {
	return d.DeletedAt.Valid
}

// Get retrieves a non-deleted document by ID.
func (d *Document) Get(db *gorm.DB, id uint) error {
	if err := validation.Validate(id, validation.Required); err != nil {
		return err
	}
	return db.First(d, id).Error
}

// FormatRegistrationNumber renders a registration number for display.
// Annual sequences are rendered as "{number}/{year}".
func FormatRegistrationNumber(number, year int, annual bool) string {
	if annual {
		return fmt.Sprintf("%d/%d", number, year)
	}
	return strconv.Itoa(number)
}

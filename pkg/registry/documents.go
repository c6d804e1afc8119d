package registry

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/parishworks/registratura/pkg/models"
)

// DocumentRegistry creates and edits documents and owns the one-time
// assignment of registration numbers.
type DocumentRegistry struct {
	*deps
	allocator      *Allocator
	configurations *ConfigurationStore
	logger         hclog.Logger
}

// CreateDocumentParams are the inputs of CreateDocument.
type CreateDocumentParams struct {
	ParishID     uint
	DocumentType models.DocumentType
	// RegisterConfigurationID selects the numbering policy. Zero uses the
	// parish default, then the shared default.
	RegisterConfigurationID uint
	Fields                  models.DocumentFields
	RegisterImmediately     bool
}

// engineOwnedFields cannot be changed through UpdateDocument.
var engineOwnedFields = map[string]struct{}{
	"id":                      {},
	"uuid":                    {},
	"parishId":                {},
	"documentType":            {},
	"registerConfigurationId": {},
	"registrationNumber":      {},
	"registrationYear":        {},
	"formattedNumber":         {},
	"registeredAt":            {},
	"status":                  {},
	"resolvedAt":              {},
	"cancellationNotes":       {},
	"createdAt":               {},
	"updatedAt":               {},
	"deletedAt":               {},
}

// CreateDocument stores a new document. With RegisterImmediately the number is
// allocated and the document inserted in one transaction; otherwise the
// document is stored as an unnumbered draft.
func (r *DocumentRegistry) CreateDocument(ctx context.Context, p CreateDocumentParams) (*models.Document, error) {
	const op = "CreateDocument"

	if p.ParishID == 0 {
		return nil, validationMessage(op, "parishId is required")
	}
	if !p.DocumentType.Valid() {
		return nil, validationMessage(op, "unknown document type %q", p.DocumentType)
	}
	if err := p.Fields.Validate(); err != nil {
		return nil, validationError(op, err)
	}

	doc := &models.Document{
		ParishID:       p.ParishID,
		DocumentType:   p.DocumentType,
		Status:         models.DocumentStatusDraft,
		DocumentFields: p.Fields,
	}

	create := func(tx *gorm.DB) error {
		// Reset state a previous attempt may have left on doc.
		doc.ID = 0
		doc.RegistrationNumber, doc.RegistrationYear, doc.FormattedNumber = nil, nil, nil
		doc.SequenceYear, doc.RegisteredAt = 0, nil
		doc.Status = models.DocumentStatusDraft

		cfg, err := r.configurations.resolve(tx, op, p.ParishID, p.RegisterConfigurationID)
		if err != nil {
			return err
		}
		doc.RegisterConfigurationID = cfg.ID

		now := r.clock()
		if p.RegisterImmediately {
			alloc, err := r.allocator.allocate(tx, cfg, now.Year())
			if err != nil {
				return err
			}
			applyAllocation(doc, alloc, now)
		}

		if err := tx.Create(doc).Error; err != nil {
			return fmt.Errorf("error creating document: %w", err)
		}

		if err := r.recordEvent(tx, doc, models.DocumentEventCreated, map[string]any{
			"documentType":            string(doc.DocumentType),
			"registerConfigurationId": doc.RegisterConfigurationID,
		}); err != nil {
			return err
		}
		if doc.IsRegistered() {
			return r.recordEvent(tx, doc, models.DocumentEventRegistered, nil)
		}
		return nil
	}

	var err error
	if p.RegisterImmediately {
		err = r.allocator.inTransaction(ctx, op, create)
	} else {
		err = r.conn(ctx).Transaction(create)
	}
	if err != nil {
		return nil, err
	}

	r.metrics.IncrementDocumentsCreated(string(doc.DocumentType))
	r.logger.Info("created document",
		"document_id", doc.ID,
		"parish_id", doc.ParishID,
		"status", doc.Status,
		"formatted_number", stringValue(doc.FormattedNumber),
	)
	return doc, nil
}

// RegisterDocument allocates a number for a draft and moves it to registered.
func (r *DocumentRegistry) RegisterDocument(ctx context.Context, id uint) (*models.Document, error) {
	const op = "RegisterDocument"

	var doc models.Document
	err := r.allocator.inTransaction(ctx, op, func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&doc, id).Error; err != nil {
			return lookupError(op, ResourceDocument, id, err)
		}
		if doc.IsRegistered() {
			return &Error{
				Code:     CodeAlreadyRegistered,
				Op:       op,
				Resource: ResourceDocument,
				ID:       id,
				Message:  fmt.Sprintf("document already registered as %s", stringValue(doc.FormattedNumber)),
			}
		}
		if doc.Status != models.DocumentStatusDraft {
			return invalidTransition(op, id, "cannot register a document in status %s", doc.Status)
		}

		alloc, err := r.allocator.AllocateTx(tx, doc.RegisterConfigurationID, r.clock().Year())
		if err != nil {
			return err
		}

		now := r.clock()
		values := map[string]any{
			"status":              models.DocumentStatusRegistered,
			"registration_number": alloc.Number,
			"registration_year":   registrationYear(alloc),
			"formatted_number":    alloc.FormattedNumber,
			"sequence_year":       alloc.CounterYear,
			"registered_at":       now,
		}
		if err := r.writeDocument(tx, op, &doc, values); err != nil {
			return err
		}
		return r.recordEvent(tx, &doc, models.DocumentEventRegistered, nil)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("registered document",
		"document_id", doc.ID,
		"formatted_number", stringValue(doc.FormattedNumber),
	)
	return &doc, nil
}

// UpdateDocument applies a partial update of business fields. Keys use the
// JSON field names of models.DocumentFields. Engine-owned keys and unknown
// keys are rejected. An optional "version" key must match the stored version.
func (r *DocumentRegistry) UpdateDocument(ctx context.Context, id uint, patch map[string]any) (*models.Document, error) {
	const op = "UpdateDocument"

	var owned []string
	fields := make(map[string]any, len(patch))
	for k, v := range patch {
		if _, ok := engineOwnedFields[k]; ok {
			owned = append(owned, k)
			continue
		}
		fields[k] = v
	}
	if len(owned) > 0 {
		sort.Strings(owned)
		return nil, validationMessage(op, "fields are read-only: %s", strings.Join(owned, ", "))
	}

	expectedVersion, err := popVersion(fields)
	if err != nil {
		return nil, validationError(op, err)
	}

	var doc models.Document
	err = r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&doc, id).Error; err != nil {
			return lookupError(op, ResourceDocument, id, err)
		}
		if doc.Status == models.DocumentStatusArchived {
			return invalidTransition(op, id, "archived documents cannot be edited")
		}
		if expectedVersion != 0 && expectedVersion != doc.Version {
			return concurrentModification(op, id)
		}

		updated := doc.DocumentFields
		if err := r.decodeFields(fields, &updated); err != nil {
			return validationError(op, err)
		}
		if err := updated.Validate(); err != nil {
			return validationError(op, err)
		}

		if err := r.writeDocument(tx, op, &doc, fieldValues(updated)); err != nil {
			return err
		}

		changed := make([]string, 0, len(fields))
		for k := range fields {
			changed = append(changed, k)
		}
		sort.Strings(changed)
		return r.recordEvent(tx, &doc, models.DocumentEventUpdated, map[string]any{
			"fields": changed,
		})
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// DeleteDocument soft-deletes a document. Its registration number stays taken.
func (r *DocumentRegistry) DeleteDocument(ctx context.Context, id uint) error {
	const op = "DeleteDocument"

	err := r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var doc models.Document
		if err := tx.First(&doc, id).Error; err != nil {
			return lookupError(op, ResourceDocument, id, err)
		}
		if err := r.writeDocument(tx, op, &doc, map[string]any{
			"deleted_at": r.clock(),
		}); err != nil {
			return err
		}
		return r.recordEvent(tx, &doc, models.DocumentEventDeleted, nil)
	})
	if err != nil {
		return err
	}

	r.logger.Info("deleted document", "document_id", id)
	return nil
}

// CancelDocument archives a document with an optional cancellation note.
func (r *DocumentRegistry) CancelDocument(ctx context.Context, id uint, notes *string) (*models.Document, error) {
	const op = "CancelDocument"

	var doc models.Document
	err := r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&doc, id).Error; err != nil {
			return lookupError(op, ResourceDocument, id, err)
		}
		if doc.Status == models.DocumentStatusArchived {
			return invalidTransition(op, id, "document is already archived")
		}
		previous := doc.Status
		if err := r.writeDocument(tx, op, &doc, map[string]any{
			"status":             models.DocumentStatusArchived,
			"cancellation_notes": notes,
		}); err != nil {
			return err
		}
		return r.recordEvent(tx, &doc, models.DocumentEventCancelled, map[string]any{
			"previousStatus": string(previous),
		})
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("cancelled document", "document_id", id)
	return &doc, nil
}

// writeDocument updates doc only if its version is unchanged, bumps the
// version and reloads doc from tx.
func (d *deps) writeDocument(tx *gorm.DB, op string, doc *models.Document, values map[string]any) error {
	values["version"] = doc.Version + 1
	values["updated_at"] = d.clock()

	result := tx.Model(&models.Document{}).
		Where("id = ? AND version = ?", doc.ID, doc.Version).
		Updates(values)
	if result.Error != nil {
		return fmt.Errorf("error updating document %d: %w", doc.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return concurrentModification(op, doc.ID)
	}

	id := doc.ID
	*doc = models.Document{}
	if err := tx.Unscoped().First(doc, id).Error; err != nil {
		return fmt.Errorf("error reloading document %d: %w", id, err)
	}
	return nil
}

// DecodeFields builds document fields from a loosely typed map, such as a
// decoded JSON body. Dates are parsed the same way UpdateDocument parses them.
func (r *DocumentRegistry) DecodeFields(input map[string]any) (models.DocumentFields, error) {
	var fields models.DocumentFields
	if err := r.decodeFields(input, &fields); err != nil {
		return models.DocumentFields{}, validationError("DecodeFields", err)
	}
	return fields, nil
}

func (r *DocumentRegistry) decodeFields(input map[string]any, out *models.DocumentFields) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		TagName:     "mapstructure",
		ErrorUnused: true,
		ZeroFields:  true,
		DecodeHook:  r.stringToTimeHook,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// stringToTimeHook parses date strings in any common layout, in the
// registry's time zone when the string carries none.
func (r *DocumentRegistry) stringToTimeHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(time.Time{}) {
		return data, nil
	}
	return dateparse.ParseIn(data.(string), r.location)
}

func popVersion(fields map[string]any) (int, error) {
	v, ok := fields["version"]
	if !ok {
		return 0, nil
	}
	delete(fields, "version")

	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("version must be an integer")
		}
		return int(n), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("version must be an integer")
	}
}

func fieldValues(f models.DocumentFields) map[string]any {
	return map[string]any{
		"subject":         f.Subject,
		"sender":          f.Sender,
		"recipient":       f.Recipient,
		"external_number": f.ExternalNumber,
		"description":     f.Description,
		"document_date":   f.DocumentDate,
		"priority":        f.Priority,
		"department_id":   f.DepartmentID,
		"assigned_to":     f.AssignedTo,
		"due_date":        f.DueDate,
		"is_secret":       f.IsSecret,
		"notes":           f.Notes,
	}
}

func applyAllocation(doc *models.Document, alloc *Allocation, now time.Time) {
	number := alloc.Number
	formatted := alloc.FormattedNumber
	doc.RegistrationNumber = &number
	doc.RegistrationYear = registrationYear(alloc)
	doc.FormattedNumber = &formatted
	doc.SequenceYear = alloc.CounterYear
	doc.RegisteredAt = &now
	doc.Status = models.DocumentStatusRegistered
}

// registrationYear is only recorded for annually resetting sequences.
func registrationYear(alloc *Allocation) *int {
	if !alloc.Configuration.ResetsAnnually {
		return nil
	}
	year := alloc.Year
	return &year
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

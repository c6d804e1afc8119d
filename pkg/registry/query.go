package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/iancoleman/strcase"
	"gorm.io/gorm"

	"github.com/parishworks/registratura/pkg/models"
)

const (
	DefaultPerPage = 25
	MaxPerPage     = 100
)

// sortableColumns maps accepted sort keys to columns.
var sortableColumns = map[string]string{
	"registrationNumber": "registration_number",
	"createdAt":          "created_at",
	"dueDate":            "due_date",
	"updatedAt":          "updated_at",
}

// Query is the read side of the registry.
type Query struct {
	*deps
	workflow *WorkflowEngine
}

// DocumentFilter narrows ListDocuments. Nil fields are ignored.
type DocumentFilter struct {
	ParishID                *uint
	DocumentType            *models.DocumentType
	Status                  *models.DocumentStatus
	RegisterConfigurationID *uint
	RegistrationYear        *int
	AssignedTo              *uint
	DepartmentID            *uint
	CreatedAfter            *time.Time
	CreatedBefore           *time.Time
	DueBefore               *time.Time
	IncludeDeleted          bool

	// Page is 1-based.
	Page    int
	PerPage int
	// Sort is a sort key, optionally prefixed with "-" for descending order.
	Sort string
}

// DocumentPage is one page of ListDocuments results.
type DocumentPage struct {
	Documents  []models.Document `json:"documents"`
	Total      int64             `json:"total"`
	Page       int               `json:"page"`
	PerPage    int               `json:"perPage"`
	TotalPages int               `json:"totalPages"`
}

// DocumentWithHistory is a document and its workflow records.
type DocumentWithHistory struct {
	models.Document
	History []models.WorkflowRecord `json:"history"`
}

// ListDocuments returns a page of documents matching f.
func (q *Query) ListDocuments(ctx context.Context, f DocumentFilter) (*DocumentPage, error) {
	const op = "ListDocuments"

	order, err := sortOrder(f.Sort)
	if err != nil {
		return nil, validationError(op, err)
	}

	page := f.Page
	if page < 1 {
		page = 1
	}
	perPage := f.PerPage
	switch {
	case perPage <= 0:
		perPage = DefaultPerPage
	case perPage > MaxPerPage:
		perPage = MaxPerPage
	}

	db := q.conn(ctx).Model(&models.Document{})
	if f.IncludeDeleted {
		db = db.Unscoped()
	}
	db = applyDocumentFilter(db, f).Session(&gorm.Session{})

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("error counting documents: %w", err)
	}

	docs := []models.Document{}
	err = db.Order(order).
		Order("id ASC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&docs).
		Error
	if err != nil {
		return nil, fmt.Errorf("error listing documents: %w", err)
	}

	return &DocumentPage{
		Documents:  docs,
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: int((total + int64(perPage) - 1) / int64(perPage)),
	}, nil
}

func applyDocumentFilter(db *gorm.DB, f DocumentFilter) *gorm.DB {
	if f.ParishID != nil {
		db = db.Where("parish_id = ?", *f.ParishID)
	}
	if f.DocumentType != nil {
		db = db.Where("document_type = ?", *f.DocumentType)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.RegisterConfigurationID != nil {
		db = db.Where("register_configuration_id = ?", *f.RegisterConfigurationID)
	}
	if f.RegistrationYear != nil {
		db = db.Where("registration_year = ?", *f.RegistrationYear)
	}
	if f.AssignedTo != nil {
		db = db.Where("assigned_to = ?", *f.AssignedTo)
	}
	if f.DepartmentID != nil {
		db = db.Where("department_id = ?", *f.DepartmentID)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	if f.DueBefore != nil {
		db = db.Where("due_date < ?", *f.DueBefore)
	}
	return db
}

// sortOrder turns a sort key such as "-createdAt" into an ORDER BY term.
// Snake case keys are accepted too.
func sortOrder(sort string) (string, error) {
	if sort == "" {
		return "created_at DESC", nil
	}

	dir := "ASC"
	key := sort
	if strings.HasPrefix(key, "-") {
		dir = "DESC"
		key = key[1:]
	}

	column, ok := sortableColumns[strcase.ToLowerCamel(key)]
	if !ok {
		return "", fmt.Errorf("unsupported sort key %q", sort)
	}
	return column + " " + dir, nil
}

// GetDocument returns a non-deleted document with its workflow history.
func (q *Query) GetDocument(ctx context.Context, id uint) (*DocumentWithHistory, error) {
	const op = "GetDocument"

	db := q.conn(ctx)
	var doc models.Document
	if err := doc.Get(db, id); err != nil {
		return nil, lookupError(op, ResourceDocument, id, err)
	}

	history, err := q.workflow.history(db, id)
	if err != nil {
		return nil, err
	}
	return &DocumentWithHistory{Document: doc, History: history}, nil
}

// GetHistory returns the workflow records of a document in creation order.
func (q *Query) GetHistory(ctx context.Context, id uint) ([]models.WorkflowRecord, error) {
	return q.workflow.GetHistory(ctx, id)
}

// FindByFormattedNumber looks up a document by its display number within one
// configuration.
func (q *Query) FindByFormattedNumber(ctx context.Context, configurationID uint, formatted string) (*models.Document, error) {
	const op = "FindByFormattedNumber"

	formatted = strings.TrimSpace(formatted)
	if formatted == "" {
		return nil, validationMessage(op, "formatted number is required")
	}

	var doc models.Document
	err := q.conn(ctx).
		Where("register_configuration_id = ? AND formatted_number = ?", configurationID, formatted).
		Take(&doc).
		Error
	if err != nil {
		return nil, lookupError(op, ResourceDocument, 0, err)
	}
	return &doc, nil
}

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentEvent is a transactional outbox row describing a change to a document.
// Rows are written in the same transaction as the change and published later by
// the outbox relay.
type DocumentEvent struct {
	ID uint `gorm:"primaryKey" json:"id"`

	EventID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"eventId"`

	DocumentID   uint      `gorm:"not null;index:idx_document_events_document" json:"documentId"`
	DocumentUUID uuid.UUID `gorm:"type:uuid;not null" json:"documentUuid"`
	ParishID     uint      `gorm:"not null" json:"parishId"`

	EventType string         `gorm:"type:varchar(50);not null" json:"eventType"`
	Payload   map[string]any `gorm:"serializer:json;type:jsonb;not null" json:"payload"`

	Status          string     `gorm:"type:varchar(20);not null;index:idx_document_events_status" json:"status"`
	PublishedAt     *time.Time `json:"publishedAt,omitempty"`
	PublishAttempts int        `gorm:"not null" json:"publishAttempts"`
	LastError       string     `gorm:"type:text" json:"lastError,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name.
func (DocumentEvent) TableName() string {
	return "document_events"
}

// Document event types.
const (
	DocumentEventCreated    = "document.created"
	DocumentEventRegistered = "document.registered"
	DocumentEventUpdated    = "document.updated"
	DocumentEventDeleted    = "document.deleted"
	DocumentEventCancelled  = "document.cancelled"
	DocumentEventRouted     = "document.routed"
	DocumentEventExpired    = "routing.expired"
)

// Outbox statuses.
const (
	OutboxStatusPending   = "pending"
	OutboxStatusPublished = "published"
	OutboxStatusFailed    = "failed"
)

// NewDocumentEvent builds an outbox row for doc.
func NewDocumentEvent(doc *Document, eventType string, payload map[string]any) *DocumentEvent {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["status"] = string(doc.Status)
	payload["version"] = doc.Version
	if doc.FormattedNumber != nil {
		payload["formattedNumber"] = *doc.FormattedNumber
	}

	return &DocumentEvent{
		EventID:      uuid.New(),
		DocumentID:   doc.ID,
		DocumentUUID: doc.UUID,
		ParishID:     doc.ParishID,
		EventType:    eventType,
		Payload:      payload,
		Status:       OutboxStatusPending,
	}
}

// BeforeCreate hook to ensure required fields.
func (e *DocumentEvent) BeforeCreate(tx *gorm.DB) error {
	if e.DocumentID == 0 {
		return fmt.Errorf("document_id is required")
	}
	if e.DocumentUUID == uuid.Nil {
		return fmt.Errorf("document_uuid is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	if e.EventID == uuid.Nil {
		e.EventID = uuid.New()
	}
	if e.Status == "" {
		e.Status = OutboxStatusPending
	}
	return nil
}

// FindPendingDocumentEvents returns up to limit pending events, oldest first.
// Rows locked by another relay are skipped on dialects that support it.
func FindPendingDocumentEvents(db *gorm.DB, limit int) ([]DocumentEvent, error) {
	var events []DocumentEvent
	err := db.
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ?", OutboxStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&events).
		Error
	return events, err
}

// MarkAsPublished records a successful publish.
func (e *DocumentEvent) MarkAsPublished(db *gorm.DB) error {
	now := time.Now()
	e.Status = OutboxStatusPublished
	e.PublishedAt = &now
	return db.Model(e).Updates(map[string]any{
		"status":       OutboxStatusPublished,
		"published_at": now,
		"updated_at":   now,
	}).Error
}

// MarkAsFailed records a failed publish. The event stays pending until
// maxAttempts is reached, then it is parked as failed.
func (e *DocumentEvent) MarkAsFailed(db *gorm.DB, err error, maxAttempts int) error {
	e.PublishAttempts++
	e.LastError = err.Error()
	if maxAttempts <= 0 || e.PublishAttempts >= maxAttempts {
		e.Status = OutboxStatusFailed
	}

	return db.Model(e).Updates(map[string]any{
		"status":           e.Status,
		"publish_attempts": e.PublishAttempts,
		"last_error":       e.LastError,
		"updated_at":       time.Now(),
	}).Error
}

// ResetToPending puts a failed event back in the queue.
func (e *DocumentEvent) ResetToPending(db *gorm.DB) error {
	e.Status = OutboxStatusPending
	e.PublishAttempts = 0
	e.LastError = ""
	return db.Model(e).Updates(map[string]any{
		"status":           OutboxStatusPending,
		"publish_attempts": 0,
		"last_error":       "",
		"updated_at":       time.Now(),
	}).Error
}

// DeletePublishedDocumentEvents removes events published before now-olderThan.
func DeletePublishedDocumentEvents(db *gorm.DB, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := db.
		Where("status = ? AND published_at < ?", OutboxStatusPublished, cutoff).
		Delete(&DocumentEvent{})
	return result.RowsAffected, result.Error
}

// GetFailedDocumentEvents returns failed events, most recently failed first.
func GetFailedDocumentEvents(db *gorm.DB, limit int) ([]DocumentEvent, error) {
	var events []DocumentEvent
	err := db.
		Where("status = ?", OutboxStatusFailed).
		Order("updated_at DESC").
		Limit(limit).
		Find(&events).
		Error
	return events, err
}

// CountDocumentEventsByStatus counts events in the given outbox status.
func CountDocumentEventsByStatus(db *gorm.DB, status string) (int64, error) {
	var count int64
	err := db.Model(&DocumentEvent{}).
		Where("status = ?", status).
		Count(&count).
		Error
	return count, err
}

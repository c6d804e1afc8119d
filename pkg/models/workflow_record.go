package models

import (
	"time"

	"gorm.io/gorm"
)

// WorkflowRecord is one immutable routing action in a document's audit trail.
// Only IsExpired (and ExpiredAt) may change after insert, false to true, once.
type WorkflowRecord struct {
	ID         uint `gorm:"primaryKey" json:"id"`
	DocumentID uint `gorm:"not null;index:idx_workflow_records_document_created,priority:1" json:"documentId"`

	FromUserID       *uint `json:"fromUserId,omitempty"`
	ToUserID         *uint `json:"toUserId,omitempty"`
	FromDepartmentID *uint `json:"fromDepartmentId,omitempty"`
	ToDepartmentID   *uint `json:"toDepartmentId,omitempty"`

	Action     WorkflowAction `gorm:"type:varchar(20);not null;index" json:"action"`
	Resolution *string        `gorm:"type:text" json:"resolution,omitempty"`
	Notes      *string        `gorm:"type:text" json:"notes,omitempty"`

	IsExpired bool       `gorm:"not null" json:"isExpired"`
	ExpiredAt *time.Time `json:"expiredAt,omitempty"`

	CreatedAt time.Time `gorm:"not null;index:idx_workflow_records_document_created,priority:2" json:"createdAt"`
}

// TableName specifies the table name.
func (WorkflowRecord) TableName() string {
	return "workflow_records"
}

// GetWorkflowHistory returns the records of a document in the order they were
// created.
func GetWorkflowHistory(db *gorm.DB, documentID uint) ([]WorkflowRecord, error) {
	var records []WorkflowRecord
	err := db.
		Where("document_id = ?", documentID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&records).
		Error
	return records, err
}

// LatestWorkflowRecord returns the most recent record of a document.
func LatestWorkflowRecord(db *gorm.DB, documentID uint) (*WorkflowRecord, error) {
	var record WorkflowRecord
	err := db.
		Where("document_id = ?", documentID).
		Order("id DESC").
		Take(&record).
		Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

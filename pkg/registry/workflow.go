package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/parishworks/registratura/pkg/models"
)

// WorkflowEngine routes registered documents between people and departments
// and expires routings that were never answered.
type WorkflowEngine struct {
	*deps
	logger hclog.Logger
}

// RouteRequest is one routing action against a document.
type RouteRequest struct {
	DocumentID         uint                  `json:"documentId"`
	Action             models.WorkflowAction `json:"action"`
	ActingUserID       *uint                 `json:"actingUserId,omitempty"`
	ActingDepartmentID *uint                 `json:"actingDepartmentId,omitempty"`
	ToUserID           *uint                 `json:"toUserId,omitempty"`
	ToDepartmentID     *uint                 `json:"toDepartmentId,omitempty"`
	Resolution         *string               `json:"resolution,omitempty"`
	Notes              *string               `json:"notes,omitempty"`
}

func (r RouteRequest) validate(op string) error {
	if r.DocumentID == 0 {
		return validationMessage(op, "documentId is required")
	}
	if !r.Action.Valid() {
		return validationMessage(op, "unknown workflow action %q", r.Action)
	}
	return nil
}

// RouteDocument appends a workflow record and moves the document to the status
// the action leads to. Both writes commit together. A concurrent write to the
// same document is retried once before ConcurrentModification is returned.
func (w *WorkflowEngine) RouteDocument(ctx context.Context, req RouteRequest) (*models.Document, *models.WorkflowRecord, error) {
	const op = "RouteDocument"

	if err := req.validate(op); err != nil {
		w.metrics.IncrementRoutings(string(req.Action), err)
		return nil, nil, err
	}

	var (
		doc    *models.Document
		record *models.WorkflowRecord
		err    error
	)
	for attempt := 0; attempt < 2; attempt++ {
		doc, record, err = w.route(ctx, op, req)
		if !errors.Is(err, ErrConcurrentModification) {
			break
		}
		w.logger.Debug("document changed during routing, retrying",
			"document_id", req.DocumentID,
			"action", req.Action,
		)
	}
	w.metrics.IncrementRoutings(string(req.Action), err)
	if err != nil {
		return nil, nil, err
	}

	w.logger.Info("routed document",
		"document_id", doc.ID,
		"action", record.Action,
		"status", doc.Status,
		"record_id", record.ID,
	)
	return doc, record, nil
}

func (w *WorkflowEngine) route(ctx context.Context, op string, req RouteRequest) (*models.Document, *models.WorkflowRecord, error) {
	var (
		doc    models.Document
		record *models.WorkflowRecord
	)
	err := w.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := doc.Get(tx, req.DocumentID); err != nil {
			return lookupError(op, ResourceDocument, req.DocumentID, err)
		}

		next, ok := req.Action.NextStatus(doc.Status)
		if !ok {
			return invalidTransition(op, doc.ID, "cannot apply %s to a document in status %s",
				req.Action, doc.Status)
		}

		now := w.clock()
		record = &models.WorkflowRecord{
			DocumentID:       doc.ID,
			FromUserID:       firstSet(doc.AssignedTo, req.ActingUserID),
			FromDepartmentID: firstSet(doc.DepartmentID, req.ActingDepartmentID),
			ToUserID:         req.ToUserID,
			ToDepartmentID:   req.ToDepartmentID,
			Action:           req.Action,
			Resolution:       req.Resolution,
			Notes:            req.Notes,
			CreatedAt:        now,
		}

		values := map[string]any{"status": next}
		if req.Action.IsResolution() {
			values["resolved_at"] = now
		}
		// Sending hands the document to its new holder. Without a target the
		// current holder keeps it.
		if req.Action == models.WorkflowActionSent {
			if req.ToUserID != nil {
				values["assigned_to"] = *req.ToUserID
			}
			if req.ToDepartmentID != nil {
				values["department_id"] = *req.ToDepartmentID
			}
		}
		if err := w.writeDocument(tx, op, &doc, values); err != nil {
			return err
		}
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("error creating workflow record: %w", err)
		}

		return w.recordEvent(tx, &doc, models.DocumentEventRouted, map[string]any{
			"action":   string(req.Action),
			"recordId": record.ID,
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return &doc, record, nil
}

// GetHistory returns the workflow records of a document in creation order.
func (w *WorkflowEngine) GetHistory(ctx context.Context, documentID uint) ([]models.WorkflowRecord, error) {
	const op = "GetHistory"

	db := w.conn(ctx)
	var doc models.Document
	if err := doc.Get(db, documentID); err != nil {
		return nil, lookupError(op, ResourceDocument, documentID, err)
	}
	return w.history(db, documentID)
}

func (w *WorkflowEngine) history(db *gorm.DB, documentID uint) ([]models.WorkflowRecord, error) {
	records, err := models.GetWorkflowHistory(db, documentID)
	if err != nil {
		return nil, fmt.Errorf("error loading workflow history for document %d: %w", documentID, err)
	}
	return records, nil
}

// StaleRoutings lists unanswered "sent" records older than timeout without
// changing them.
func (w *WorkflowEngine) StaleRoutings(ctx context.Context, timeout time.Duration) ([]models.WorkflowRecord, error) {
	if timeout <= 0 {
		return nil, validationMessage("StaleRoutings", "timeout must be positive")
	}

	var records []models.WorkflowRecord
	err := staleRoutingQuery(w.conn(ctx), w.clock().Add(-timeout)).
		Order("id ASC").
		Find(&records).
		Error
	if err != nil {
		return nil, fmt.Errorf("error listing stale routings: %w", err)
	}
	return records, nil
}

// ExpireStaleRoutings marks every unanswered "sent" record older than timeout
// as expired and returns how many records it changed. A record counts as
// answered once any later record exists for the same document. Records are
// processed in batches; rows locked by a concurrent sweep are skipped, and a
// record is never expired twice.
func (w *WorkflowEngine) ExpireStaleRoutings(ctx context.Context, timeout time.Duration) (int64, error) {
	const op = "ExpireStaleRoutings"

	if timeout <= 0 {
		return 0, validationMessage(op, "timeout must be positive")
	}

	now := w.clock()
	cutoff := now.Add(-timeout)

	var total int64
	afterID := uint(0)
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		var (
			found   int
			expired int64
		)
		err := w.conn(ctx).Transaction(func(tx *gorm.DB) error {
			var records []models.WorkflowRecord
			err := staleRoutingQuery(tx, cutoff).
				Where("id > ?", afterID).
				Order("id ASC").
				Limit(w.sweepBatchSize).
				Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
				Find(&records).
				Error
			if err != nil {
				return fmt.Errorf("error selecting stale routings: %w", err)
			}
			found = len(records)
			if found == 0 {
				return nil
			}
			afterID = records[found-1].ID

			flipped := make([]models.WorkflowRecord, 0, found)
			for _, r := range records {
				result := tx.Model(&models.WorkflowRecord{}).
					Where("id = ? AND is_expired = ?", r.ID, false).
					Updates(map[string]any{
						"is_expired": true,
						"expired_at": now,
					})
				if result.Error != nil {
					return fmt.Errorf("error expiring routing %d: %w", r.ID, result.Error)
				}
				if result.RowsAffected == 1 {
					flipped = append(flipped, r)
				}
			}
			expired = int64(len(flipped))

			return w.recordExpiryEvents(tx, flipped)
		})
		if err != nil {
			return total, err
		}

		total += expired
		if found < w.sweepBatchSize {
			break
		}
	}

	w.metrics.AddRoutingsExpired(total)
	if total > 0 {
		w.logger.Info("expired stale routings",
			"count", total,
			"timeout", timeout,
		)
	}
	return total, nil
}

// recordExpiryEvents writes one routing.expired event per record flipped by
// the current sweep batch.
func (w *WorkflowEngine) recordExpiryEvents(tx *gorm.DB, records []models.WorkflowRecord) error {
	if !w.events || len(records) == 0 {
		return nil
	}

	docIDs := make([]uint, 0, len(records))
	for _, r := range records {
		docIDs = append(docIDs, r.DocumentID)
	}
	var docs []models.Document
	if err := tx.Unscoped().Where("id IN ?", docIDs).Find(&docs).Error; err != nil {
		return fmt.Errorf("error loading documents of expired routings: %w", err)
	}
	byID := make(map[uint]*models.Document, len(docs))
	for i := range docs {
		byID[docs[i].ID] = &docs[i]
	}

	for _, r := range records {
		doc, ok := byID[r.DocumentID]
		if !ok {
			continue
		}
		if err := w.recordEvent(tx, doc, models.DocumentEventExpired, map[string]any{
			"recordId": r.ID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// staleRoutingQuery selects unexpired "sent" records created before cutoff
// that have no later record on the same document.
func staleRoutingQuery(db *gorm.DB, cutoff time.Time) *gorm.DB {
	return db.Model(&models.WorkflowRecord{}).
		Where("action = ? AND is_expired = ? AND created_at < ?",
			models.WorkflowActionSent, false, cutoff).
		Where("NOT EXISTS (SELECT 1 FROM workflow_records later" +
			" WHERE later.document_id = workflow_records.document_id" +
			" AND later.id > workflow_records.id)")
}

func firstSet(ids ...*uint) *uint {
	for _, id := range ids {
		if id != nil {
			return id
		}
	}
	return nil
}

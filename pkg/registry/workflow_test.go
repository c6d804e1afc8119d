package registry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/parishworks/registratura/pkg/models"
)

func (e *testEnv) route(t *testing.T, docID uint, action models.WorkflowAction, to *uint) *models.WorkflowRecord {
	t.Helper()

	_, record, err := e.engine.Workflow.RouteDocument(context.Background(), RouteRequest{
		DocumentID:   docID,
		Action:       action,
		ActingUserID: uintPtr(10),
		ToUserID:     to,
	})
	require.NoError(t, err)
	return record
}

func TestWorkflowEngine_RouteDocument(t *testing.T) {
	ctx := context.Background()

	t.Run("draft cannot be routed", func(t *testing.T) {
		env := setupTestEngine(t)
		cfg := env.createConfiguration(t, CreateConfigurationParams{})
		draft := env.createDocument(t, 1, cfg.ID, false)

		_, _, err := env.engine.Workflow.RouteDocument(ctx, RouteRequest{
			DocumentID: draft.ID,
			Action:     models.WorkflowActionSent,
			ToUserID:   uintPtr(20),
		})
		assert.ErrorIs(t, err, ErrInvalidTransition)

		history, err := env.engine.Workflow.GetHistory(ctx, draft.ID)
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("full cycle", func(t *testing.T) {
		env := setupTestEngine(t)
		cfg := env.createConfiguration(t, CreateConfigurationParams{})
		doc := env.createDocument(t, 1, cfg.ID, true)

		sent, _, err := env.engine.Workflow.RouteDocument(ctx, RouteRequest{
			DocumentID:   doc.ID,
			Action:       models.WorkflowActionSent,
			ActingUserID: uintPtr(10),
			ToUserID:     uintPtr(20),
			Notes:        stringPtr("please review"),
		})
		require.NoError(t, err)
		assert.Equal(t, models.DocumentStatusInWork, sent.Status)
		assert.Equal(t, uint(20), *sent.AssignedTo)

		env.clock.Advance(time.Hour)
		received := env.route(t, doc.ID, models.WorkflowActionReceived, nil)
		assert.Equal(t, uint(20), *received.FromUserID, "from is the current holder")

		env.clock.Advance(time.Hour)
		resolved, record, err := env.engine.Workflow.RouteDocument(ctx, RouteRequest{
			DocumentID:   doc.ID,
			Action:       models.WorkflowActionApproved,
			ActingUserID: uintPtr(20),
			Resolution:   stringPtr("approved by the dean"),
		})
		require.NoError(t, err)
		assert.Equal(t, models.DocumentStatusResolved, resolved.Status)
		require.NotNil(t, resolved.ResolvedAt)
		assert.True(t, resolved.ResolvedAt.Equal(testStart.Add(2*time.Hour)))
		assert.Equal(t, "approved by the dean", *record.Resolution)
		assert.Equal(t, "1", *resolved.FormattedNumber)

		history, err := env.engine.Workflow.GetHistory(ctx, doc.ID)
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, models.WorkflowActionSent, history[0].Action)
		assert.Equal(t, models.WorkflowActionReceived, history[1].Action)
		assert.Equal(t, models.WorkflowActionApproved, history[2].Action)

		_, _, err = env.engine.Workflow.RouteDocument(ctx, RouteRequest{
			DocumentID: doc.ID,
			Action:     models.WorkflowActionSent,
			ToUserID:   uintPtr(30),
		})
		assert.ErrorIs(t, err, ErrInvalidTransition, "resolved documents are closed")
	})

	t.Run("sent without a target", func(t *testing.T) {
		env := setupTestEngine(t)
		cfg := env.createConfiguration(t, CreateConfigurationParams{})
		doc := env.createDocument(t, 1, cfg.ID, true)
		draft := env.createDocument(t, 1, cfg.ID, false)

		_, _, err := env.engine.Workflow.RouteDocument(ctx, RouteRequest{
			DocumentID: draft.ID,
			Action:     models.WorkflowActionSent,
		})
		assert.ErrorIs(t, err, ErrInvalidTransition)

		routed, record, err := env.engine.Workflow.RouteDocument(ctx, RouteRequest{
			DocumentID: doc.ID,
			Action:     models.WorkflowActionSent,
		})
		require.NoError(t, err)
		assert.Equal(t, models.DocumentStatusInWork, routed.Status)
		assert.Equal(t, doc.AssignedTo, routed.AssignedTo)
		assert.Nil(t, record.ToUserID)
		assert.Nil(t, record.ToDepartmentID)
	})

	t.Run("unknown action", func(t *testing.T) {
		env := setupTestEngine(t)
		_, _, err := env.engine.Workflow.RouteDocument(ctx, RouteRequest{DocumentID: 1, Action: "forwarded"})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("unknown document", func(t *testing.T) {
		env := setupTestEngine(t)
		_, _, err := env.engine.Workflow.RouteDocument(ctx, RouteRequest{
			DocumentID: 99,
			Action:     models.WorkflowActionSent,
			ToUserID:   uintPtr(1),
		})
		assert.ErrorIs(t, err, ErrDocumentNotFound)
	})

	t.Run("archived document", func(t *testing.T) {
		env := setupTestEngine(t)
		cfg := env.createConfiguration(t, CreateConfigurationParams{})
		doc := env.createDocument(t, 1, cfg.ID, true)
		_, err := env.engine.Documents.CancelDocument(ctx, doc.ID, nil)
		require.NoError(t, err)

		_, _, err = env.engine.Workflow.RouteDocument(ctx, RouteRequest{
			DocumentID: doc.ID,
			Action:     models.WorkflowActionSent,
			ToUserID:   uintPtr(1),
		})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("metrics", func(t *testing.T) {
		metrics := NewMetrics(prometheus.NewRegistry())
		env := setupTestEngine(t, WithMetrics(metrics))
		cfg := env.createConfiguration(t, CreateConfigurationParams{})
		doc := env.createDocument(t, 1, cfg.ID, true)

		env.route(t, doc.ID, models.WorkflowActionSent, uintPtr(2))
		_, _, err := env.engine.Workflow.RouteDocument(ctx, RouteRequest{
			Action:   models.WorkflowActionSent,
			ToUserID: uintPtr(2),
		})
		require.ErrorIs(t, err, ErrValidation)

		assert.Equal(t, float64(1), testutil.ToFloat64(
			metrics.Routings.WithLabelValues("sent", "success")))
		assert.Equal(t, float64(1), testutil.ToFloat64(
			metrics.Routings.WithLabelValues("sent", string(CodeValidation))))
		assert.Equal(t, float64(1), testutil.ToFloat64(
			metrics.DocumentsCreated.WithLabelValues("incoming")))
	})
}

func TestWorkflowEngine_OptimisticLocking(t *testing.T) {
	ctx := context.Background()
	env := setupTestEngine(t)
	cfg := env.createConfiguration(t, CreateConfigurationParams{})
	doc := env.createDocument(t, 1, cfg.ID, true)

	var stale models.Document
	require.NoError(t, env.db.First(&stale, doc.ID).Error)

	_, err := env.engine.Documents.UpdateDocument(ctx, doc.ID, map[string]any{"subject": "Edited"})
	require.NoError(t, err)

	err = env.engine.Workflow.writeDocument(env.db, "test", &stale, map[string]any{
		"status": models.DocumentStatusInWork,
	})
	assert.ErrorIs(t, err, ErrConcurrentModification)

	routed, _, err := env.engine.Workflow.RouteDocument(ctx, RouteRequest{
		DocumentID: doc.ID,
		Action:     models.WorkflowActionSent,
		ToUserID:   uintPtr(2),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, routed.Version)
	assert.Equal(t, "Edited", routed.Subject)
}

// bumpVersionOnUpdate makes the next n document updates lose their
// optimistic lock by bumping the stored version right before they run.
func bumpVersionOnUpdate(t *testing.T, db *gorm.DB, docID uint, n int) *int {
	t.Helper()

	bumped := new(int)
	err := db.Callback().Update().Before("gorm:update").Register("test:bump_version", func(tx *gorm.DB) {
		if tx.Statement.Table != "documents" || *bumped >= n {
			return
		}
		*bumped++
		tx.Session(&gorm.Session{NewDB: true}).
			Exec("UPDATE documents SET version = version + 1 WHERE id = ?", docID)
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Callback().Update().Remove("test:bump_version") })
	return bumped
}

func TestWorkflowEngine_RouteDocumentConflict(t *testing.T) {
	ctx := context.Background()

	t.Run("retried once", func(t *testing.T) {
		env := setupTestEngine(t)
		cfg := env.createConfiguration(t, CreateConfigurationParams{})
		doc := env.createDocument(t, 1, cfg.ID, true)
		bumped := bumpVersionOnUpdate(t, env.db, doc.ID, 1)

		routed, record, err := env.engine.Workflow.RouteDocument(ctx, RouteRequest{
			DocumentID: doc.ID,
			Action:     models.WorkflowActionSent,
			ToUserID:   uintPtr(2),
		})
		require.NoError(t, err)
		assert.Equal(t, 1, *bumped)
		assert.Equal(t, models.DocumentStatusInWork, routed.Status)
		require.NotNil(t, record)

		history, err := env.engine.Workflow.GetHistory(ctx, doc.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, record.ID, history[0].ID)
	})

	t.Run("surfaced after the retry", func(t *testing.T) {
		env := setupTestEngine(t)
		cfg := env.createConfiguration(t, CreateConfigurationParams{})
		doc := env.createDocument(t, 1, cfg.ID, true)
		bumped := bumpVersionOnUpdate(t, env.db, doc.ID, 2)

		_, _, err := env.engine.Workflow.RouteDocument(ctx, RouteRequest{
			DocumentID: doc.ID,
			Action:     models.WorkflowActionSent,
			ToUserID:   uintPtr(2),
		})
		assert.ErrorIs(t, err, ErrConcurrentModification)
		assert.Equal(t, 2, *bumped)

		history, err := env.engine.Workflow.GetHistory(ctx, doc.ID)
		require.NoError(t, err)
		assert.Empty(t, history)

		var got models.Document
		require.NoError(t, env.db.First(&got, doc.ID).Error)
		assert.Equal(t, models.DocumentStatusRegistered, got.Status)
	})
}

func TestWorkflowEngine_ExpireStaleRoutings(t *testing.T) {
	ctx := context.Background()
	timeout := 72 * time.Hour

	t.Run("unanswered and answered", func(t *testing.T) {
		env := setupTestEngine(t, WithEvents(true))
		cfg := env.createConfiguration(t, CreateConfigurationParams{})
		unanswered := env.createDocument(t, 1, cfg.ID, true)
		answered := env.createDocument(t, 1, cfg.ID, true)

		stale := env.route(t, unanswered.ID, models.WorkflowActionSent, uintPtr(2))
		env.route(t, answered.ID, models.WorkflowActionSent, uintPtr(2))
		env.clock.Advance(time.Hour)
		env.route(t, answered.ID, models.WorkflowActionReceived, nil)

		env.clock.Advance(timeout)

		pending, err := env.engine.Workflow.StaleRoutings(ctx, timeout)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, stale.ID, pending[0].ID)

		n, err := env.engine.Workflow.ExpireStaleRoutings(ctx, timeout)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		history, err := env.engine.Workflow.GetHistory(ctx, unanswered.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.True(t, history[0].IsExpired)
		require.NotNil(t, history[0].ExpiredAt)

		history, err = env.engine.Workflow.GetHistory(ctx, answered.ID)
		require.NoError(t, err)
		for _, r := range history {
			assert.False(t, r.IsExpired)
		}

		var events int64
		require.NoError(t, env.db.Model(&models.DocumentEvent{}).
			Where("event_type = ?", models.DocumentEventExpired).
			Count(&events).Error)
		assert.Equal(t, int64(1), events)
	})

	t.Run("events only for flipped records", func(t *testing.T) {
		env := setupTestEngine(t, WithEvents(true))
		cfg := env.createConfiguration(t, CreateConfigurationParams{})
		first := env.createDocument(t, 1, cfg.ID, true)
		second := env.createDocument(t, 1, cfg.ID, true)
		taken := env.route(t, first.ID, models.WorkflowActionSent, uintPtr(2))
		env.route(t, second.ID, models.WorkflowActionSent, uintPtr(2))
		env.clock.Advance(timeout + time.Minute)

		// Another sweeper expires one record after this sweep selected it.
		fired := false
		err := env.db.Callback().Query().After("gorm:query").Register("test:expire_selected", func(tx *gorm.DB) {
			if fired || tx.Statement.Table != "workflow_records" {
				return
			}
			fired = true
			tx.Session(&gorm.Session{NewDB: true}).
				Exec("UPDATE workflow_records SET is_expired = ? WHERE id = ?", true, taken.ID)
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = env.db.Callback().Query().Remove("test:expire_selected") })

		n, err := env.engine.Workflow.ExpireStaleRoutings(ctx, timeout)
		require.NoError(t, err)
		require.True(t, fired)
		assert.Equal(t, int64(1), n)

		var events []models.DocumentEvent
		require.NoError(t, env.db.
			Where("event_type = ?", models.DocumentEventExpired).
			Find(&events).Error)
		require.Len(t, events, 1)
		assert.Equal(t, second.ID, events[0].DocumentID)
	})

	t.Run("idempotent", func(t *testing.T) {
		env := setupTestEngine(t)
		cfg := env.createConfiguration(t, CreateConfigurationParams{})
		doc := env.createDocument(t, 1, cfg.ID, true)
		env.route(t, doc.ID, models.WorkflowActionSent, uintPtr(2))
		env.clock.Advance(timeout + time.Minute)

		n, err := env.engine.Workflow.ExpireStaleRoutings(ctx, timeout)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = env.engine.Workflow.ExpireStaleRoutings(ctx, timeout)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("not yet stale", func(t *testing.T) {
		env := setupTestEngine(t)
		cfg := env.createConfiguration(t, CreateConfigurationParams{})
		doc := env.createDocument(t, 1, cfg.ID, true)
		env.route(t, doc.ID, models.WorkflowActionSent, uintPtr(2))
		env.clock.Advance(timeout - time.Minute)

		n, err := env.engine.Workflow.ExpireStaleRoutings(ctx, timeout)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("batches", func(t *testing.T) {
		metrics := NewMetrics(prometheus.NewRegistry())
		env := setupTestEngine(t, WithSweepBatchSize(2), WithMetrics(metrics))
		cfg := env.createConfiguration(t, CreateConfigurationParams{})
		for i := 0; i < 5; i++ {
			doc := env.createDocument(t, 1, cfg.ID, true)
			env.route(t, doc.ID, models.WorkflowActionSent, uintPtr(2))
		}
		env.clock.Advance(timeout + time.Minute)

		n, err := env.engine.Workflow.ExpireStaleRoutings(ctx, timeout)
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
		assert.Equal(t, float64(5), testutil.ToFloat64(metrics.RoutingsExpired))
	})

	t.Run("an expired routing stays in the history", func(t *testing.T) {
		env := setupTestEngine(t)
		cfg := env.createConfiguration(t, CreateConfigurationParams{})
		doc := env.createDocument(t, 1, cfg.ID, true)
		env.route(t, doc.ID, models.WorkflowActionSent, uintPtr(2))
		env.clock.Advance(timeout + time.Minute)

		_, err := env.engine.Workflow.ExpireStaleRoutings(ctx, timeout)
		require.NoError(t, err)

		env.route(t, doc.ID, models.WorkflowActionReceived, nil)
		history, err := env.engine.Workflow.GetHistory(ctx, doc.ID)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.True(t, history[0].IsExpired)
		assert.False(t, history[1].IsExpired)
	})

	t.Run("invalid timeout", func(t *testing.T) {
		env := setupTestEngine(t)
		_, err := env.engine.Workflow.ExpireStaleRoutings(ctx, 0)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestSweeper(t *testing.T) {
	env := setupTestEngine(t)
	cfg := env.createConfiguration(t, CreateConfigurationParams{})
	doc := env.createDocument(t, 1, cfg.ID, true)
	env.route(t, doc.ID, models.WorkflowActionSent, uintPtr(2))
	env.clock.Advance(4 * 24 * time.Hour)

	sweeper, err := NewSweeper(env.engine, SweeperConfig{
		Timeout:  72 * time.Hour,
		Interval: time.Hour,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- sweeper.Start(context.Background()) }()

	require.Eventually(t, func() bool {
		history, err := env.engine.Workflow.GetHistory(context.Background(), doc.ID)
		return err == nil && len(history) == 1 && history[0].IsExpired
	}, 5*time.Second, 10*time.Millisecond)

	sweeper.Stop()
	sweeper.Stop()
	assert.NoError(t, <-done)
}

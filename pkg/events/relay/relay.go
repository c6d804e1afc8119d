// Package relay publishes document events from the transactional outbox to
// Kafka/Redpanda.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/twmb/franz-go/pkg/kgo"
	"gorm.io/gorm"

	"github.com/parishworks/registratura/pkg/models"
)

// Producer publishes records synchronously. *kgo.Client implements it.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Relay polls the document_events table and publishes pending events.
type Relay struct {
	db           *gorm.DB
	producer     Producer
	client       *kgo.Client
	topic        string
	logger       hclog.Logger
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Config holds configuration for the relay service.
type Config struct {
	DB *gorm.DB

	Brokers []string
	Topic   string

	// PollInterval is how often the outbox is polled (default: 1s).
	PollInterval time.Duration
	// BatchSize is how many events one poll publishes (default: 100).
	BatchSize int
	// MaxAttempts is how many failed publishes park an event as failed (default: 5).
	MaxAttempts int

	// Producer overrides the Kafka client built from Brokers.
	Producer Producer

	Logger hclog.Logger
}

// New creates a new outbox relay service.
func New(cfg Config) (*Relay, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if cfg.Producer == nil && len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	if cfg.PollInterval == 0 {
		cfg.PollInterval = 1 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	r := &Relay{
		db:           cfg.DB,
		producer:     cfg.Producer,
		topic:        cfg.Topic,
		logger:       cfg.Logger.Named("outbox-relay"),
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		maxAttempts:  cfg.MaxAttempts,
		stopCh:       make(chan struct{}),
	}

	if r.producer == nil {
		client, err := kgo.NewClient(
			kgo.SeedBrokers(cfg.Brokers...),
			kgo.DefaultProduceTopic(cfg.Topic),

			// Wait for all in-sync replicas.
			kgo.RequiredAcks(kgo.AllISRAcks()),
			kgo.ProducerBatchCompression(kgo.GzipCompression()),

			kgo.RetryBackoffFn(func(tries int) time.Duration {
				backoff := time.Duration(tries) * 100 * time.Millisecond
				if backoff > 60*time.Second {
					backoff = 60 * time.Second
				}
				return backoff
			}),
			kgo.RequestRetries(10),

			kgo.ProducerLinger(10*time.Millisecond),
			kgo.ProducerBatchMaxBytes(1<<20),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka client: %w", err)
		}
		r.client = client
		r.producer = client
	}

	return r, nil
}

// Start starts the relay polling loop.
// Blocks until Stop() is called or context is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("starting outbox relay service",
		"poll_interval", r.pollInterval,
		"batch_size", r.batchSize,
		"topic", r.topic,
	)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay service stopped by context")
			return ctx.Err()

		case <-r.stopCh:
			r.logger.Info("outbox relay service stopped")
			return nil

		case <-ticker.C:
			if _, err := r.ProcessBatch(ctx); err != nil {
				// Keep polling.
				r.logger.Error("failed to process outbox batch", "error", err)
			}
		}
	}
}

// Stop stops the polling loop and closes the Kafka client.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		if r.client != nil {
			r.client.Close()
		}
	})
}

// ProcessBatch publishes one batch of pending events and returns how many were
// published. The batch rows stay locked until their status is written.
func (r *Relay) ProcessBatch(ctx context.Context) (int, error) {
	published := 0
	failed := 0

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		events, err := models.FindPendingDocumentEvents(tx, r.batchSize)
		if err != nil {
			return fmt.Errorf("failed to find pending document events: %w", err)
		}
		if len(events) == 0 {
			return nil
		}

		r.logger.Debug("processing outbox batch", "count", len(events))

		for i := range events {
			event := &events[i]
			if err := r.publish(ctx, event); err != nil {
				r.logger.Error("failed to publish document event",
					"event_id", event.EventID,
					"document_uuid", event.DocumentUUID,
					"error", err,
				)
				if markErr := event.MarkAsFailed(tx, err, r.maxAttempts); markErr != nil {
					return fmt.Errorf("failed to mark event %d as failed: %w", event.ID, markErr)
				}
				failed++
				continue
			}

			if err := event.MarkAsPublished(tx); err != nil {
				return fmt.Errorf("failed to mark event %d as published: %w", event.ID, err)
			}
			published++
		}
		return nil
	})
	if err != nil {
		return published, err
	}

	if published+failed > 0 {
		r.logger.Info("processed outbox batch",
			"total", published+failed,
			"success", published,
			"failed", failed,
		)
	}
	return published, nil
}

// publish sends one event, keyed by document UUID so that events of one
// document keep their order.
func (r *Relay) publish(ctx context.Context, event *models.DocumentEvent) error {
	msg := Message{
		EventID:      event.EventID.String(),
		EventType:    event.EventType,
		DocumentID:   event.DocumentID,
		DocumentUUID: event.DocumentUUID.String(),
		ParishID:     event.ParishID,
		Payload:      event.Payload,
		Timestamp:    event.CreatedAt,
	}

	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	record := &kgo.Record{
		Topic: r.topic,
		Key:   []byte(msg.DocumentUUID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "event_id", Value: []byte(msg.EventID)},
		},
	}

	if err := r.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to publish to kafka: %w", err)
	}

	r.logger.Debug("published document event",
		"event_id", msg.EventID,
		"event_type", event.EventType,
		"document_uuid", msg.DocumentUUID,
	)
	return nil
}

// CleanupOldEntries removes published events older than olderThan and returns
// how many were removed.
func (r *Relay) CleanupOldEntries(ctx context.Context, olderThan time.Duration) (int64, error) {
	deleted, err := models.DeletePublishedDocumentEvents(r.db.WithContext(ctx), olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old document events: %w", err)
	}

	r.logger.Info("cleaned up old document events",
		"deleted", deleted,
		"older_than", olderThan,
	)
	return deleted, nil
}

// RetryFailed puts up to limit failed events back in the queue and publishes
// them. It returns how many were published.
func (r *Relay) RetryFailed(ctx context.Context, limit int) (int, error) {
	db := r.db.WithContext(ctx)

	failed, err := models.GetFailedDocumentEvents(db, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to get failed document events: %w", err)
	}
	if len(failed) == 0 {
		r.logger.Info("no failed document events to retry")
		return 0, nil
	}

	r.logger.Info("retrying failed document events", "count", len(failed))

	success := 0
	for i := range failed {
		event := &failed[i]
		if err := event.ResetToPending(db); err != nil {
			r.logger.Error("failed to reset document event to pending",
				"event_id", event.EventID,
				"error", err,
			)
			continue
		}

		if err := r.publish(ctx, event); err != nil {
			r.logger.Error("failed to republish document event",
				"event_id", event.EventID,
				"error", err,
			)
			if markErr := event.MarkAsFailed(db, err, r.maxAttempts); markErr != nil {
				r.logger.Warn("failed to mark event as failed", "event_id", event.EventID, "error", markErr)
			}
			continue
		}

		if err := event.MarkAsPublished(db); err != nil {
			r.logger.Error("failed to mark event as published",
				"event_id", event.EventID,
				"error", err,
			)
			continue
		}
		success++
	}

	r.logger.Info("retry completed",
		"attempted", len(failed),
		"success", success,
		"failed", len(failed)-success,
	)
	return success, nil
}

// GetStats returns counts of events per outbox status.
func (r *Relay) GetStats(ctx context.Context) (Stats, error) {
	return GetStats(r.db.WithContext(ctx))
}

// GetStats returns counts of events per outbox status without a relay.
func GetStats(db *gorm.DB) (Stats, error) {
	var stats Stats

	counts := []struct {
		status string
		dst    *int64
	}{
		{models.OutboxStatusPending, &stats.Pending},
		{models.OutboxStatusPublished, &stats.Published},
		{models.OutboxStatusFailed, &stats.Failed},
	}
	for _, c := range counts {
		n, err := models.CountDocumentEventsByStatus(db, c.status)
		if err != nil {
			return stats, fmt.Errorf("failed to count %s events: %w", c.status, err)
		}
		*c.dst = n
	}
	return stats, nil
}

// Message is the JSON value published for each document event.
type Message struct {
	EventID      string         `json:"eventId"`
	EventType    string         `json:"eventType"`
	DocumentID   uint           `json:"documentId"`
	DocumentUUID string         `json:"documentUuid"`
	ParishID     uint           `json:"parishId"`
	Payload      map[string]any `json:"payload"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Stats contains counts of the outbox state.
type Stats struct {
	Pending   int64 `json:"pending"`
	Published int64 `json:"published"`
	Failed    int64 `json:"failed"`
}

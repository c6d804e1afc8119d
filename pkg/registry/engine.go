// Package registry implements the parish document register: numbering policy,
// gap-free registration numbers, document lifecycle and routing workflow.
package registry

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/parishworks/registratura/pkg/models"
)

const (
	defaultAllocationRetries    = 5
	defaultRetryInitialInterval = 10 * time.Millisecond
	defaultRetryMaxInterval     = 250 * time.Millisecond
	defaultSweepBatchSize       = 500
)

// Engine groups the registry components over one database.
type Engine struct {
	Configurations *ConfigurationStore
	Allocator      *Allocator
	Documents      *DocumentRegistry
	Workflow       *WorkflowEngine
	Query          *Query
}

// Option configures an Engine.
type Option func(*deps)

// deps is shared by every component of an Engine.
type deps struct {
	db       *gorm.DB
	logger   hclog.Logger
	metrics  *Metrics
	now      func() time.Time
	location *time.Location
	events   bool

	allocationRetries    int
	retryInitialInterval time.Duration
	retryMaxInterval     time.Duration
	sweepBatchSize       int
}

// WithLogger sets the logger. Defaults to a null logger.
func WithLogger(logger hclog.Logger) Option {
	return func(d *deps) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(d *deps) {
		d.metrics = m
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(d *deps) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLocation sets the time zone used to derive the registration year.
func WithLocation(loc *time.Location) Option {
	return func(d *deps) {
		if loc != nil {
			d.location = loc
		}
	}
}

// WithEvents enables writing document events to the outbox.
func WithEvents(enabled bool) Option {
	return func(d *deps) {
		d.events = enabled
	}
}

// WithAllocationRetries bounds how many times a contended allocation is retried.
func WithAllocationRetries(n int) Option {
	return func(d *deps) {
		if n >= 0 {
			d.allocationRetries = n
		}
	}
}

// WithRetryBackOff sets the exponential backoff bounds between allocation retries.
func WithRetryBackOff(initial, max time.Duration) Option {
	return func(d *deps) {
		if initial > 0 {
			d.retryInitialInterval = initial
		}
		if max > 0 {
			d.retryMaxInterval = max
		}
	}
}

// WithSweepBatchSize sets how many routings one expiry batch locks.
func WithSweepBatchSize(n int) Option {
	return func(d *deps) {
		if n > 0 {
			d.sweepBatchSize = n
		}
	}
}

// New wires an Engine over db.
func New(db *gorm.DB, opts ...Option) *Engine {
	d := &deps{
		db:                   db,
		logger:               hclog.NewNullLogger(),
		now:                  time.Now,
		location:             time.UTC,
		allocationRetries:    defaultAllocationRetries,
		retryInitialInterval: defaultRetryInitialInterval,
		retryMaxInterval:     defaultRetryMaxInterval,
		sweepBatchSize:       defaultSweepBatchSize,
	}
	for _, opt := range opts {
		opt(d)
	}

	allocator := &Allocator{deps: d, logger: d.logger.Named("allocator")}
	configurations := &ConfigurationStore{deps: d, logger: d.logger.Named("configurations")}
	workflow := &WorkflowEngine{deps: d, logger: d.logger.Named("workflow")}

	return &Engine{
		Configurations: configurations,
		Allocator:      allocator,
		Documents: &DocumentRegistry{
			deps:           d,
			allocator:      allocator,
			configurations: configurations,
			logger:         d.logger.Named("documents"),
		},
		Workflow: workflow,
		Query:    &Query{deps: d, workflow: workflow},
	}
}

func (d *deps) clock() time.Time {
	return d.now().In(d.location)
}

func (d *deps) conn(ctx context.Context) *gorm.DB {
	return d.db.WithContext(ctx)
}

// recordEvent appends an outbox row inside tx when events are enabled.
func (d *deps) recordEvent(tx *gorm.DB, doc *models.Document, eventType string, payload map[string]any) error {
	if !d.events {
		return nil
	}
	return tx.Create(models.NewDocumentEvent(doc, eventType, payload)).Error
}

package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Sweeper periodically expires unanswered routings.
type Sweeper struct {
	workflow *WorkflowEngine
	timeout  time.Duration
	interval time.Duration
	logger   hclog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// SweeperConfig holds configuration for a Sweeper.
type SweeperConfig struct {
	// Timeout is the age after which a sent routing counts as stale (default: 72h).
	Timeout time.Duration
	// Interval is how often the sweep runs (default: 10m).
	Interval time.Duration
	Logger   hclog.Logger
}

// NewSweeper creates a sweeper over the engine's workflow.
func NewSweeper(e *Engine, cfg SweeperConfig) (*Sweeper, error) {
	if e == nil || e.Workflow == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 72 * time.Hour
	}
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.Timeout < 0 || cfg.Interval < 0 {
		return nil, fmt.Errorf("timeout and interval must be positive")
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	return &Sweeper{
		workflow: e.Workflow,
		timeout:  cfg.Timeout,
		interval: cfg.Interval,
		logger:   cfg.Logger.Named("sweeper"),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start runs a sweep immediately and then every interval. It blocks until Stop
// is called or ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.Info("starting routing sweeper",
		"interval", s.interval,
		"timeout", s.timeout,
	)

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("routing sweeper stopped by context")
			return ctx.Err()

		case <-s.stopCh:
			s.logger.Info("routing sweeper stopped")
			return nil

		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Stop ends the sweep loop. It is safe to call more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.workflow.ExpireStaleRoutings(ctx, s.timeout)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("failed to expire stale routings", "error", err)
		}
		return
	}
	s.logger.Debug("sweep completed", "expired", n)
}

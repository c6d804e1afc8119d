package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/parishworks/registratura/pkg/database"
	"github.com/parishworks/registratura/pkg/models"
)

// errCounterContention means the counter row moved between read and write.
var errCounterContention = errors.New("sequence counter changed concurrently")

// Allocator issues registration numbers from durable per-key counters. The
// counter increment always runs inside the transaction that persists the
// document, so a rolled back document never spends a number.
type Allocator struct {
	*deps
	logger hclog.Logger
}

// Allocation is one issued registration number.
type Allocation struct {
	Configuration   *models.RegisterConfiguration
	Number          int
	Year            int
	CounterYear     int
	FormattedNumber string
}

// Allocate issues the next number for the configuration and year in its own
// transaction. Year is ignored for configurations that never reset.
func (a *Allocator) Allocate(ctx context.Context, configurationID uint, year int) (int, error) {
	var number int
	err := a.inTransaction(ctx, "Allocate", func(tx *gorm.DB) error {
		alloc, err := a.AllocateTx(tx, configurationID, year)
		if err != nil {
			return err
		}
		number = alloc.Number
		return nil
	})
	if err != nil {
		return 0, err
	}
	return number, nil
}

// AllocateTx issues the next number inside tx. Callers must run the
// surrounding transaction through the allocator retry loop.
func (a *Allocator) AllocateTx(tx *gorm.DB, configurationID uint, year int) (*Allocation, error) {
	var cfg models.RegisterConfiguration
	if err := cfg.LockActive(tx, configurationID, "SHARE"); err != nil {
		return nil, lookupError("Allocate", ResourceConfiguration, configurationID, err)
	}
	return a.allocate(tx, &cfg, year)
}

func (a *Allocator) allocate(tx *gorm.DB, cfg *models.RegisterConfiguration, year int) (*Allocation, error) {
	key := cfg.CounterYear(year)
	now := a.clock()

	if err := models.SeedSequenceCounter(tx, cfg.ID, key, cfg.StartingNumber, now); err != nil {
		return nil, fmt.Errorf("error seeding sequence counter: %w", err)
	}

	counter, err := models.LockSequenceCounter(tx, cfg.ID, key)
	if err != nil {
		return nil, fmt.Errorf("error locking sequence counter: %w", err)
	}

	next := counter.LastIssued + 1
	if next < cfg.StartingNumber {
		next = cfg.StartingNumber
	}

	advanced, err := counter.Advance(tx, next, now)
	if err != nil {
		return nil, fmt.Errorf("error advancing sequence counter: %w", err)
	}
	if !advanced {
		return nil, errCounterContention
	}

	a.logger.Trace("allocated registration number",
		"configuration_id", cfg.ID,
		"counter_year", key,
		"number", next,
	)

	return &Allocation{
		Configuration:   cfg,
		Number:          next,
		Year:            year,
		CounterYear:     key,
		FormattedNumber: models.FormatRegistrationNumber(next, year, cfg.ResetsAnnually),
	}, nil
}

// inTransaction runs fn in a transaction, retrying with exponential backoff
// when the counter is contended or the database reports a transient
// concurrency failure. Exhausted retries surface as AllocationFailed.
func (a *Allocator) inTransaction(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	start := time.Now()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.retryInitialInterval
	b.MaxInterval = a.retryMaxInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(
		backoff.WithMaxRetries(b, uint64(a.allocationRetries)), ctx)

	err := backoff.RetryNotify(func() error {
		err := a.conn(ctx).Transaction(fn)
		if err == nil || isContention(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy, func(err error, wait time.Duration) {
		a.metrics.IncrementAllocationRetries()
		a.logger.Debug("retrying contended allocation",
			"op", op,
			"wait", wait,
			"error", err,
		)
	})

	if err != nil && isContention(err) {
		a.logger.Warn("allocation retries exhausted",
			"op", op,
			"retries", a.allocationRetries,
			"error", err,
		)
		err = &Error{
			Code:    CodeAllocationFailed,
			Op:      op,
			Message: fmt.Sprintf("gave up after %d retries", a.allocationRetries),
			Err:     err,
		}
	}

	a.metrics.ObserveAllocation(start, err)
	return err
}

func isContention(err error) bool {
	return errors.Is(err, errCounterContention) || database.IsRetryable(err)
}

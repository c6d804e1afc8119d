package database

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SlowQueryThreshold is the elapsed time above which queries are logged as warnings.
const SlowQueryThreshold = 200 * time.Millisecond

// queryLogger writes gorm output through hclog.
type queryLogger struct {
	log  hclog.Logger
	mode gormlogger.LogLevel
	slow time.Duration
}

// NewGormLogger returns a gorm logger backed by log. Statements go to trace,
// slow statements to warn and failed statements to error.
func NewGormLogger(log hclog.Logger) gormlogger.Interface {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &queryLogger{log: log, mode: gormlogger.Info, slow: SlowQueryThreshold}
}

func (q *queryLogger) LogMode(mode gormlogger.LogLevel) gormlogger.Interface {
	cp := *q
	cp.mode = mode
	return &cp
}

func (q *queryLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if q.mode >= gormlogger.Info {
		q.log.Info(msg, args...)
	}
}

func (q *queryLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if q.mode >= gormlogger.Warn {
		q.log.Warn(msg, args...)
	}
}

func (q *queryLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if q.mode >= gormlogger.Error {
		q.log.Error(msg, args...)
	}
}

// Trace reports one executed statement. gorm.ErrRecordNotFound is ordinary
// lookup control flow and is not logged as a failure.
func (q *queryLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if q.mode <= gormlogger.Silent {
		return
	}

	took := time.Since(begin)
	stmt, affected := fc()
	fields := []interface{}{"elapsed", took, "rows", affected, "sql", stmt}

	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	switch {
	case failed && q.mode >= gormlogger.Error:
		q.log.Error("database query failed", append([]interface{}{"error", err}, fields...)...)
	case took > q.slow && q.mode >= gormlogger.Warn:
		q.log.Warn("slow database query", fields...)
	case q.mode >= gormlogger.Info:
		q.log.Trace("database query", fields...)
	}
}

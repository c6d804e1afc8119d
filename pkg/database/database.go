package database

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds configuration for database connection.
type Config struct {
	Driver string // "postgres" (default) or "sqlite"

	// PostgreSQL
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string

	// SQLite file path or DSN, e.g. "registratura.db" or "file::memory:?cache=shared".
	Path string

	// Pool limits. Zero picks 10 idle, 25 open, 5m lifetime and 10m idle
	// time. sqlite always gets a single connection.
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN returns the driver-specific connection string.
func (cfg Config) DSN() string {
	if cfg.Driver == DriverSQLite {
		return cfg.Path
	}

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.DBName,
		sslMode,
	)
}

func (cfg Config) dialector() (gorm.Dialector, error) {
	switch cfg.Driver {
	case "", DriverPostgres:
		return postgres.Open(cfg.DSN()), nil
	case DriverSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite path is required")
		}
		return sqlite.Open(cfg.DSN()), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, sqlite)", cfg.Driver)
	}
}

// pool is the effective connection pool configuration.
type pool struct {
	maxIdle     int
	maxOpen     int
	maxLifetime time.Duration
	maxIdleTime time.Duration
}

func (cfg Config) pool() pool {
	p := pool{
		maxIdle:     orDefault(cfg.MaxIdleConns, 10),
		maxOpen:     orDefault(cfg.MaxOpenConns, 25),
		maxLifetime: orDefault(cfg.ConnMaxLifetime, 5*time.Minute),
		maxIdleTime: orDefault(cfg.ConnMaxIdleTime, 10*time.Minute),
	}
	// One connection serializes sqlite writers instead of failing them with
	// SQLITE_BUSY.
	if cfg.Driver == DriverSQLite {
		p.maxIdle, p.maxOpen = 1, 1
	}
	return p
}

func orDefault[T int | time.Duration](v, def T) T {
	if v == 0 {
		return def
	}
	return v
}

// Connect opens a gorm connection for cfg and applies the pool settings. A nil
// log silences gorm.
func Connect(cfg Config, log hclog.Logger) (*gorm.DB, error) {
	dialector, err := cfg.dialector()
	if err != nil {
		return nil, err
	}

	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if log != nil {
		gcfg.Logger = NewGormLogger(log.Named("gorm"))
	}

	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, fmt.Errorf("error opening %s database: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("error getting connection pool: %w", err)
	}

	p := cfg.pool()
	sqlDB.SetMaxIdleConns(p.maxIdle)
	sqlDB.SetMaxOpenConns(p.maxOpen)
	sqlDB.SetConnMaxLifetime(p.maxLifetime)
	sqlDB.SetConnMaxIdleTime(p.maxIdleTime)

	if log != nil {
		args := []any{"driver", cfg.Driver, "max_open_conns", p.maxOpen}
		if cfg.Driver == DriverSQLite {
			args = append(args, "path", cfg.Path)
		} else {
			args = append(args, "host", cfg.Host, "database", cfg.DBName)
		}
		log.Info("connected to database", args...)
	}
	return db, nil
}

// PoolStats is the JSON view of sql.DBStats reported by /health.
type PoolStats struct {
	MaxOpenConnections int           `json:"maxOpenConnections"`
	OpenConnections    int           `json:"openConnections"`
	InUse              int           `json:"inUse"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"waitCount"`
	WaitDuration       time.Duration `json:"waitDuration"`
}

// GetPoolStats reads the pool counters behind db.
func GetPoolStats(db *gorm.DB) (*PoolStats, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("error getting connection pool: %w", err)
	}

	stats := sqlDB.Stats()
	return &PoolStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,
	}, nil
}

package server

import (
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/parishworks/registratura/internal/config"
	"github.com/parishworks/registratura/pkg/registry"
)

// Server contains the server configuration.
type Server struct {
	// Config is the config for the server.
	Config *config.Config

	// DB is the database for the server.
	DB *gorm.DB

	// Engine is the document registry the handlers operate on.
	Engine *registry.Engine

	// Logger is the logger for the server.
	Logger hclog.Logger
}

// New builds a Server and its registry engine from cfg. Engine metrics are
// registered on reg when it is non-nil.
func New(cfg *config.Config, db *gorm.DB, logger hclog.Logger, reg prometheus.Registerer) Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	opts := []registry.Option{
		registry.WithLogger(logger.Named("registry")),
	}
	if reg != nil {
		opts = append(opts, registry.WithMetrics(registry.NewMetrics(reg)))
	}
	if cfg != nil && cfg.Registry != nil {
		r := cfg.Registry
		opts = append(opts,
			registry.WithLocation(r.Location()),
			registry.WithAllocationRetries(r.AllocationRetries),
			registry.WithRetryBackOff(r.RetryInitial(), r.RetryMax()),
			registry.WithSweepBatchSize(r.SweepBatchSize),
		)
	}
	if cfg != nil && cfg.Events != nil {
		opts = append(opts, registry.WithEvents(cfg.Events.Enabled))
	}

	return Server{
		Config: cfg,
		DB:     db,
		Engine: registry.New(db, opts...),
		Logger: logger,
	}
}

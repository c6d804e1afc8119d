package server

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	chitrace "gopkg.in/DataDog/dd-trace-go.v1/contrib/go-chi/chi.v5"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	apiv2 "github.com/parishworks/registratura/internal/api/v2"
	"github.com/parishworks/registratura/internal/cmd/base"
	"github.com/parishworks/registratura/internal/config"
	"github.com/parishworks/registratura/internal/server"
	"github.com/parishworks/registratura/internal/version"
	"github.com/parishworks/registratura/pkg/events/relay"
	"github.com/parishworks/registratura/pkg/kafka"
	"github.com/parishworks/registratura/pkg/registry"
)

const shutdownTimeout = 10 * time.Second

type Command struct {
	*base.Command

	flagConfig string
	flagAddr   string
}

func (c *Command) Synopsis() string {
	return "Run the server"
}

func (c *Command) Help() string {
	return `Usage: registratura server -config=config.hcl

  Runs the HTTP API together with the routing expiry sweeper and, when
  events are enabled, the document event relay. SIGINT or SIGTERM shuts
  everything down gracefully.` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("server", flag.ContinueOnError))

	f.StringVar(
		&c.flagConfig, "config", "", "(Required) Path to registratura config `file`",
	)
	f.StringVar(
		&c.flagAddr, "addr", "", "Address to listen on, overriding the config file.",
	)

	return f
}

func (c *Command) Run(args []string) int {
	if err := c.Flags().Parse(args); err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	cfg, err := c.LoadConfig(c.flagConfig)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error parsing config file: %v", err))
		return 1
	}
	if c.flagAddr != "" {
		cfg.Server.Address = c.flagAddr
	}

	if cfg.Datadog.Enabled {
		tracer.Start(
			tracer.WithEnv(cfg.Datadog.Env),
			tracer.WithService(cfg.Datadog.Service),
			tracer.WithServiceVersion(version.Version),
		)
		defer tracer.Stop()
	}

	database, err := c.OpenDB(cfg)
	if err != nil {
		c.UI.Error(err.Error())
		return 1
	}
	defer base.CloseDB(database)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := server.New(cfg, database, c.Log, reg)

	sweeper, err := registry.NewSweeper(srv.Engine, registry.SweeperConfig{
		Timeout:  cfg.Registry.Expiry(),
		Interval: cfg.Registry.Sweep(),
		Logger:   c.Log,
	})
	if err != nil {
		c.UI.Error(fmt.Sprintf("error creating sweeper: %v", err))
		return 1
	}

	var outbox *relay.Relay
	if cfg.Events.Enabled {
		outbox, err = relay.New(relay.Config{
			DB:           database,
			Brokers:      kafka.GetBrokers(cfg),
			Topic:        kafka.GetEventsTopic(cfg),
			PollInterval: cfg.Events.Poll(),
			BatchSize:    cfg.Events.BatchSize,
			MaxAttempts:  cfg.Events.MaxAttempts,
			Logger:       c.Log,
		})
		if err != nil {
			c.UI.Error(fmt.Sprintf("error creating outbox relay: %v", err))
			return 1
		}
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           NewRouter(srv, reg, cfg.Datadog),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, c.Log, httpServer, sweeper, outbox); err != nil {
		c.UI.Error(fmt.Sprintf("server error: %v", err))
		return 1
	}

	c.UI.Info("server stopped")
	return 0
}

// run serves HTTP and runs the background workers until ctx is done or one of
// them fails, then shuts all of them down.
func run(ctx context.Context, log hclog.Logger, httpServer *http.Server, sweeper *registry.Sweeper, outbox *relay.Relay) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("listening", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return ignoreCanceled(sweeper.Start(gctx))
	})

	if outbox != nil {
		g.Go(func() error {
			return ignoreCanceled(outbox.Start(gctx))
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var result *multierror.Error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			result = multierror.Append(result, fmt.Errorf("http shutdown: %w", err))
		}
		sweeper.Stop()
		if outbox != nil {
			outbox.Stop()
		}
		return result.ErrorOrNil()
	})

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// NewRouter builds the HTTP route tree: /health, /metrics and /api/v2.
func NewRouter(srv server.Server, gatherer prometheus.Gatherer, dd *config.Datadog) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if dd != nil && dd.Enabled {
		r.Use(chitrace.Middleware(chitrace.WithServiceName(dd.Service)))
	}
	r.Use(requestLogger(srv.Logger.Named("api")))

	r.Method(http.MethodGet, "/health", apiv2.HealthHandler(srv))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Mount("/api/v2", apiv2.Routes(srv))

	return r
}

func requestLogger(log hclog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

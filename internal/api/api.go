// Package api provides the HTTP admin API: health, running tasks, the rule
// table and engine statistics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/blazealarm/internal/alerting"
	"github.com/good-yellow-bee/blazealarm/internal/api/health"
	"github.com/good-yellow-bee/blazealarm/internal/dispatch"
	"github.com/good-yellow-bee/blazealarm/internal/notifier"
	"github.com/good-yellow-bee/blazealarm/internal/storage"
)

// Config contains admin API server configuration.
type Config struct {
	Address         string
	Verbose         bool
	ShutdownTimeout time.Duration
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8081"
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// TaskSource exposes the dispatcher's running tasks.
type TaskSource interface {
	Tasks() []dispatch.TaskInfo
	Stats() dispatch.SupervisorStats
	CancelEntity(entityID string) int
}

// DeliveryStats exposes delivery counters.
type DeliveryStats interface {
	Stats() notifier.FanoutStats
}

// ArchiveStats exposes receipt archive counters.
type ArchiveStats interface {
	Stats() storage.ReceiptBufferStats
}

// Deps are the engine components the API reports on. Streams, Alerting,
// Delivery and Archive are optional.
type Deps struct {
	Tasks    TaskSource
	Rules    *dispatch.RuleSet
	Streams  health.StreamReporter
	Alerting *alerting.Stats
	Delivery DeliveryStats
	Archive  ArchiveStats
}

// Server is the HTTP admin API server.
type Server struct {
	config        *Config
	deps          Deps
	logger        *zap.Logger
	server        *http.Server
	healthHandler *health.Handler
}

// New creates a new API server.
func New(cfg *Config, deps Deps, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Tasks == nil {
		return nil, fmt.Errorf("task source is required")
	}
	if deps.Rules == nil {
		return nil, fmt.Errorf("rule set is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg.SetDefaults()

	s := &Server{
		config:        cfg,
		deps:          deps,
		logger:        logger.With(zap.String("component", "admin_api")),
		healthHandler: health.NewHandler(),
	}

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.setupRouter(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("admin API listening", zap.String("address", s.config.Address))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down admin API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// RegisterHealthChecker adds a health checker to the server.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	s.healthHandler.RegisterChecker(c)
}

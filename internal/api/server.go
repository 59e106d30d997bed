package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/database"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/logger"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/watermark"
)

// ClusterReader aggregates camera violations per camera.
type ClusterReader interface {
	CameraClusters(ctx context.Context, kind domain.Kind, filter database.ClusterFilter) ([]database.CameraCluster, error)
}

// Deps are the server's collaborators. Watermarks, Gatherer and Checks are
// optional.
type Deps struct {
	Clusters   ClusterReader
	Watermarks watermark.Store
	Gatherer   prometheus.Gatherer
	Checks     map[string]HealthChecker
	Logger     logger.Logger
	Service    string
	Version    string
}

// Server is the HTTP API with lifecycle management.
type Server struct {
	cfg        Config
	router     *gin.Engine
	httpServer *http.Server
	clusters   ClusterReader
	watermarks watermark.Store
	checks     map[string]HealthChecker
	log        logger.Logger
	service    string
	version    string
	started    time.Time
}

// NewServer builds the router and the underlying http.Server.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Clusters == nil {
		return nil, errors.New("cluster reader is required")
	}
	cfg.SetDefaults()
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:        cfg,
		clusters:   deps.Clusters,
		watermarks: deps.Watermarks,
		checks:     deps.Checks,
		log:        log,
		service:    deps.Service,
		version:    deps.Version,
		started:    time.Now(),
	}

	router := gin.New()
	router.Use(RecoveryMiddleware(log))
	router.Use(RequestIDMiddleware())
	router.Use(LoggerMiddleware(log))
	router.Use(CORSMiddleware(cfg.AllowedOrigins))

	router.GET("/health", s.health)
	router.HEAD("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	v1.GET("/redlights/cluster", s.cameraClusters(domain.KindRedlight))
	v1.GET("/speeds/cluster", s.cameraClusters(domain.KindSpeed))
	if s.watermarks != nil {
		v1.GET("/watermarks", s.listWatermarks)
	}

	s.router = router
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

// Handler returns the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting HTTP server", logger.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.log.Info("Shutting down HTTP server", logger.Duration("timeout", s.cfg.ShutdownTimeout))
	}

	//nolint:contextcheck // the request context is already cancelled
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.log.Info("HTTP server stopped gracefully")
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

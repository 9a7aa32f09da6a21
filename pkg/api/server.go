// Package api exposes the orchestrator over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"opnxt/pkg/logx"
	"opnxt/pkg/orchestrator"
)

// Config holds HTTP server configuration.
type Config struct {
	Addr         string
	BodyLimit    string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server provides the orchestrator's HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	orch     *orchestrator.Orchestrator
	gatherer prometheus.Gatherer
	ready    func(ctx context.Context) error
	logger   *logx.Logger
	config   Config
}

// Option customizes a Server.
type Option func(*Server)

// WithGatherer serves gatherer's metrics at /metrics instead of the default registry's.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithReadiness makes /healthz report check's failure with 503.
func WithReadiness(check func(ctx context.Context) error) Option {
	return func(s *Server) { s.ready = check }
}

// NewServer creates a server for orch.
func NewServer(orch *orchestrator.Orchestrator, cfg Config, opts ...Option) (*Server, error) {
	if orch == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = "2M"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout
	e.Validator = &requestValidator{validate: validator.New()}

	s := &Server{
		echo:     e,
		orch:     orch,
		gatherer: prometheus.DefaultGatherer,
		logger:   logx.NewLogger("api"),
		config:   cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(s.requestLogger)

	s.registerRoutes()
	return s, nil
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		requestID := c.Response().Header().Get(echo.HeaderXRequestID)
		ctx := logx.WithRequestID(c.Request().Context(), requestID)
		if id := c.Param("id"); id != "" {
			ctx = logx.WithProjectID(ctx, id)
		}
		c.SetRequest(c.Request().WithContext(ctx))

		err := next(c)
		if err != nil {
			c.Error(err)
		}
		logx.Debug(ctx, "api", "%s %s -> %d (%v)",
			c.Request().Method, c.Request().RequestURI, c.Response().Status, time.Since(start))
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	s.echo.GET("/agents", s.handleListAgents)
	s.echo.PUT("/agents/:phase", s.handleRegisterAgent)

	s.echo.POST("/projects", s.handleCreateProject)
	s.echo.GET("/projects", s.handleListProjects)

	p := s.echo.Group("/projects/:id")
	p.GET("", s.handleGetProject)
	p.POST("/process", s.handleProcess)
	p.POST("/advance", s.handleAdvance)
	p.GET("/transitions", s.handleTransitions)
	p.GET("/context", s.handleGetContext)
	p.PUT("/context", s.handlePutContext)
	p.GET("/documents/:filename/versions", s.handleListVersions)
	p.GET("/documents/:filename/versions/:version", s.handleGetVersion)
	p.POST("/documents/:filename/approve", s.handleApprove)
	p.GET("/requirements", s.handleRequirements)
	p.POST("/impacts", s.handleImpacts)
	p.GET("/patches", s.handleListPatches)
	p.POST("/patches/:plan/approve", s.handleApprovePatch)
	p.POST("/patches/:plan/reject", s.handleRejectPatch)
}

// ServeHTTP lets tests and embedders drive the router directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("🚀 HTTP API listening on %s", s.config.Addr)
	if err := s.echo.Start(s.config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve http: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP API")
	return s.echo.Shutdown(ctx) //nolint:wrapcheck // passthrough
}

// HealthResponse is the response body for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	if s.ready != nil {
		if err := s.ready(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
		}
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

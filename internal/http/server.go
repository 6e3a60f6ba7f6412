// Package http provides the ragbench HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragbench/internal/ingest"
	"github.com/fyrsmithlabs/ragbench/internal/logging"
	"github.com/fyrsmithlabs/ragbench/internal/pipeline"
	"github.com/fyrsmithlabs/ragbench/internal/regression"
	"github.com/fyrsmithlabs/ragbench/internal/report"
	"github.com/fyrsmithlabs/ragbench/internal/runstore"
)

// Runner executes and analyzes benchmark invocations.
type Runner interface {
	Run(ctx context.Context) (*pipeline.Outcome, error)
	Analyze(ctx context.Context, retriever string, index, k int) (*pipeline.AnalysisReport, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host       string
	Port       int
	Regression regression.Options
	// Meter receives request metrics; nil uses the global provider.
	Meter metric.Meter
}

// Server provides HTTP endpoints for ragbench.
type Server struct {
	echo   *echo.Echo
	store  runstore.Store
	runner Runner
	logger *logging.Logger
	config *Config

	// runMu admits one benchmark invocation at a time.
	runMu sync.Mutex
}

// NewServer creates a new HTTP server.
func NewServer(store runstore.Store, runner Runner, logger *logging.Logger, cfg *Config) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host:       "127.0.0.1",
			Port:       8080,
			Regression: regression.DefaultOptions(),
		}
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(cfg.Meter, logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	})

	s := &Server{
		echo:   e,
		store:  store,
		runner: runner,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/runs", s.handleCreateRun)
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/regression", s.handleRegression)
	v1.GET("/compare", s.handleCompare)
	v1.GET("/signatures", s.handleSignatures)
	v1.GET("/analysis", s.handleAnalysis)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// CompareResponse is the response body for GET /api/v1/compare.
type CompareResponse struct {
	Metric string          `json:"metric"`
	Series []report.Series `json:"series"`
}

// SignaturesResponse is the response body for GET /api/v1/signatures.
type SignaturesResponse struct {
	Retriever  string                `json:"retriever"`
	Signatures []report.SignatureRow `json:"signatures"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleCreateRun executes one benchmark invocation and returns its runs.
func (s *Server) handleCreateRun(c echo.Context) error {
	if !s.runMu.TryLock() {
		return echo.NewHTTPError(http.StatusConflict, "a benchmark run is already in progress")
	}
	defer s.runMu.Unlock()

	ctx := c.Request().Context()
	out, err := s.runner.Run(ctx)
	if err != nil {
		s.logger.Error(ctx, "benchmark run failed", zap.Error(err))
		if errors.Is(err, ingest.ErrNoDocuments) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "benchmark run failed")
	}
	return c.JSON(http.StatusCreated, out)
}

func (s *Server) handleListRuns(c echo.Context) error {
	limit, err := intParam(c, "limit", report.DefaultLeaderboardLimit)
	if err != nil {
		return err
	}
	rows, err := report.Leaderboard(c.Request().Context(), s.store, limit)
	if err != nil {
		return s.internal(c, "failed to list runs", err)
	}
	return c.JSON(http.StatusOK, rows)
}

// handleRegression runs the detector; query parameters override the
// configured metric, retriever and tolerance.
func (s *Server) handleRegression(c echo.Context) error {
	opts := s.config.Regression
	if v := c.QueryParam("metric"); v != "" {
		opts.Metric = v
	}
	if v := c.QueryParam("retriever"); v != "" {
		opts.Retriever = v
	}
	if v := c.QueryParam("tolerance"); v != "" {
		tol, err := strconv.ParseFloat(v, 64)
		if err != nil || tol < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "tolerance must be a non-negative number")
		}
		opts.Tolerance = tol
	}

	res, err := regression.NewDetector(s.store, opts).Detect(c.Request().Context())
	if err != nil {
		return s.internal(c, "regression check failed", err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleCompare(c echo.Context) error {
	metricName := c.QueryParam("metric")
	if metricName == "" {
		metricName = regression.DefaultMetric
	}
	limit, err := intParam(c, "limit", report.DefaultCompareLimit)
	if err != nil {
		return err
	}
	series, err := report.CompareSeries(c.Request().Context(), s.store, metricName, limit)
	if err != nil {
		return s.internal(c, "failed to compare runs", err)
	}
	return c.JSON(http.StatusOK, CompareResponse{Metric: metricName, Series: series})
}

func (s *Server) handleSignatures(c echo.Context) error {
	retriever := c.QueryParam("retriever")
	if retriever == "" {
		retriever = regression.DefaultRetriever
	}
	limit, err := intParam(c, "limit", report.DefaultSignatureLimit)
	if err != nil {
		return err
	}
	rows, err := report.Signatures(c.Request().Context(), s.store, retriever, limit)
	if err != nil {
		return s.internal(c, "failed to list signatures", err)
	}
	return c.JSON(http.StatusOK, SignaturesResponse{Retriever: retriever, Signatures: rows})
}

func (s *Server) handleAnalysis(c echo.Context) error {
	index, err := intParam(c, "q", 0)
	if err != nil {
		return err
	}
	k, err := intParam(c, "k", 0)
	if err != nil {
		return err
	}

	rep, err := s.runner.Analyze(c.Request().Context(), c.QueryParam("retriever"), index, k)
	switch {
	case errors.Is(err, pipeline.ErrNoQueries):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ingest.ErrNoDocuments):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, rep)
}

func (s *Server) internal(c echo.Context, msg string, err error) error {
	s.logger.Error(c.Request().Context(), msg, zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, msg)
}

func intParam(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be an integer")
	}
	return v, nil
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

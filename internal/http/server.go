// Package http serves retrieval over a JSON HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repoctx/internal/redact"
	"github.com/fyrsmithlabs/repoctx/internal/repository"
	"github.com/fyrsmithlabs/repoctx/internal/retrieval"
)

// Retriever answers retrieval requests.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Result, error)
}

// Scrubber removes secrets from text.
type Scrubber interface {
	Redact(text string) (string, []redact.Finding)
}

// RepoOpener opens the repository at root.
type RepoOpener func(root string) (repository.Repo, error)

// Server provides HTTP endpoints for repoctx.
type Server struct {
	echo      *echo.Echo
	retriever Retriever
	scrubber  Scrubber
	open      RepoOpener
	logger    *zap.Logger
	config    *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// Roots restricts the repositories a request may name. Empty allows
	// any path.
	Roots []string
}

// Option configures a Server.
type Option func(*Server)

// WithRepoOpener replaces repository.Open.
func WithRepoOpener(open RepoOpener) Option {
	return func(s *Server) { s.open = open }
}

// NewServer creates a new HTTP server. scrubber may be nil; when set,
// returned snippet content is scrubbed and POST /api/v1/scrub is served.
func NewServer(retriever Retriever, scrubber Scrubber, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if retriever == nil {
		return nil, fmt.Errorf("retriever cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}
			logger.Info("http request",
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
		echo:      e,
		retriever: retriever,
		scrubber:  scrubber,
		open:      openRepository,
		logger:    logger,
		config:    cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/retrieve", s.handleRetrieve)
	if s.scrubber != nil {
		v1.POST("/scrub", s.handleScrub)
	}
}

func openRepository(root string) (repository.Repo, error) {
	return repository.Open(root)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleRetrieve(c echo.Context) error {
	var req RetrieveRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid retrieve request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}
	if req.RepoPath == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "repo_path field is required")
	}
	root, err := s.allowedRoot(req.RepoPath)
	if err != nil {
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}

	repo, err := s.open(root)
	if err != nil {
		s.logger.Warn("opening repository", zap.String("root", root), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "repository cannot be opened")
	}

	ctx := c.Request().Context()
	res, err := s.retriever.Retrieve(ctx, retrieval.Request{
		Query:      req.Query,
		Repo:       repo,
		SkipRefine: req.SkipRefine,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "retrieval cancelled")
		}
		s.logger.Error("retrieval failed", zap.String("root", root), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "retrieval failed")
	}
	return c.JSON(http.StatusOK, NewRetrieveResponse(res, s.scrubber))
}

func (s *Server) handleScrub(c echo.Context) error {
	var req ScrubRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid scrub request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}
	scrubbed, findings := s.scrubber.Redact(req.Content)
	s.logger.Debug("scrubbed content", zap.Int("findings", len(findings)))
	return c.JSON(http.StatusOK, ScrubResponse{
		Content:       scrubbed,
		FindingsCount: len(findings),
	})
}

// allowedRoot resolves path and checks it against the configured roots.
func (s *Server) allowedRoot(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid repo_path: %w", err)
	}
	if len(s.config.Roots) == 0 {
		return abs, nil
	}
	for _, root := range s.config.Roots {
		r, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(r, abs)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return abs, nil
		}
	}
	return "", fmt.Errorf("repo_path %s is outside the allowed roots", path)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

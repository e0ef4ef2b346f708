// Package http provides the embedgate HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/embedgate/internal/algorithm"
	"github.com/fyrsmithlabs/embedgate/internal/auth"
	"github.com/fyrsmithlabs/embedgate/internal/service"
	"github.com/fyrsmithlabs/embedgate/internal/vectorstore"
)

// Server provides the HTTP endpoints for embedgate.
type Server struct {
	echo    *echo.Echo
	svc     *service.Service
	authSvc *auth.Service
	logger  *zap.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// Rate limit for /Authenticate. Credential guessing is the only
	// unauthenticated write path, so it gets its own throttle.
	AuthRatePerSec float64
	AuthRateBurst  int
}

// NewServer creates a new HTTP server.
func NewServer(svc *service.Service, authSvc *auth.Service, logger *zap.Logger, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if authSvc == nil {
		return nil, fmt.Errorf("auth service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8000}
	}
	if cfg.AuthRatePerSec <= 0 {
		cfg.AuthRatePerSec = 5
	}
	if cfg.AuthRateBurst < 1 {
		cfg.AuthRateBurst = 10
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:    e,
		svc:     svc,
		authSvc: authSvc,
		logger:  logger,
		config:  cfg,
	}

	s.registerRoutes(NewMetrics())

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes(metrics *Metrics) {
	s.echo.Use(metrics.Middleware())

	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	limiter := rate.NewLimiter(rate.Limit(s.config.AuthRatePerSec), s.config.AuthRateBurst)
	s.echo.POST("/Authenticate", s.handleAuthenticate, func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !limiter.Allow() {
				return c.JSON(http.StatusTooManyRequests, ErrorResponse{
					Status:  "error",
					Message: "too many authentication attempts",
				})
			}
			return next(c)
		}
	})

	authed := s.echo.Group("", auth.Middleware(s.authSvc, s.logger))
	authed.POST("/GetEmbeddingsByImageURL", s.handleGetEmbeddings)
	authed.POST("/PostEmbedding", s.handlePostEmbedding)
	authed.POST("/GenerateAndPostEmbeddingByImageURL", s.handleGenerateAndPost)
	authed.POST("/GetUUIDs", s.handleGetUUIDs)
	authed.POST("/SearchByEmbedding", s.handleSearch)
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

// jsonError maps a failure onto its HTTP status and the error envelope.
func (s *Server) jsonError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, algorithm.ErrInvalidFormat),
		errors.Is(err, algorithm.ErrUnknownAlgorithm),
		errors.Is(err, auth.ErrInvalidTTL),
		errors.Is(err, vectorstore.ErrDimensionMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	} else {
		s.logger.Warn("request rejected", zap.String("path", c.Path()), zap.Error(err))
	}

	return c.JSON(status, ErrorResponse{Status: "error", Message: err.Error()})
}

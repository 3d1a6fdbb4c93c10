// Package server exposes the engine's operations over HTTP. It is a thin
// adapter: each route translates one request into one engine call and maps
// the result onto status codes, so authorization and lifecycle rules stay
// in the engine.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/sentinelai/risk-engine/internal/analytics"
	"github.com/sentinelai/risk-engine/internal/config"
	"github.com/sentinelai/risk-engine/internal/engine"
	"github.com/sentinelai/risk-engine/internal/pkg/logger"
)

// Server wires the echo router, middleware chain, and route handlers.
type Server struct {
	echo      *echo.Echo
	engine    *engine.Engine
	overview  analytics.OverviewProvider
	log       *logger.Logger
	jwtSecret []byte
	addr      string
}

// New builds the HTTP server. The JWT secret is mandatory: every /v1 route
// requires an authenticated actor, and an empty secret would accept
// arbitrary forged tokens.
func New(eng *engine.Engine, overview analytics.OverviewProvider, cfg *config.Config, log *logger.Logger) (*Server, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret is required")
	}

	s := &Server{
		engine:    eng,
		overview:  overview,
		log:       log.Named("http"),
		jwtSecret: []byte(cfg.Auth.JWTSecret),
		addr:      fmt.Sprintf(":%d", cfg.Server.Port),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{validate: validator.New()}

	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout
	e.Server.IdleTimeout = cfg.Server.IdleTimeout

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Secure())
	if cfg.Server.MaxRequestSize > 0 {
		e.Use(middleware.BodyLimit(fmt.Sprintf("%d", cfg.Server.MaxRequestSize)))
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.Auth.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
	}))
	if cfg.Auth.RateLimitPerMinute > 0 {
		perSecond := rate.Limit(float64(cfg.Auth.RateLimitPerMinute) / 60.0)
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(perSecond)))
	}

	e.GET("/health", s.handleHealth)

	v1 := e.Group("/v1", s.authenticate)
	v1.POST("/evaluate", s.handleEvaluate)
	v1.POST("/cases", s.handleCreateCase)
	v1.GET("/cases", s.handleListCases)
	v1.GET("/cases/:id", s.handleGetCase)
	v1.PATCH("/cases/:id/status", s.handleTransitionCase)
	v1.POST("/cases/:id/notes", s.handleAddNote)
	v1.GET("/audit/logs", s.handleAuditLogs)
	v1.GET("/analytics/overview", s.handleAnalyticsOverview)
	v1.GET("/stats", s.handleStats)

	s.echo = e
	return s, nil
}

// Start blocks serving requests until Shutdown is called or the listener
// fails.
func (s *Server) Start() error {
	s.log.Info("http server listening", logger.StringField("addr", s.addr))
	return s.echo.Start(s.addr)
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP makes the server usable as a plain http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// requestValidator adapts go-playground/validator to echo's Validator
// interface. Handlers translate the raw validation error into the JSON
// error envelope themselves.
type requestValidator struct {
	validate *validator.Validate
}

func (rv *requestValidator) Validate(i interface{}) error {
	return rv.validate.Struct(i)
}

// Package server exposes the operator HTTP API, Prometheus metrics and the
// live event websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/xarb/internal/domain"
	"github.com/alanyoungcy/xarb/internal/server/handler"
	"github.com/alanyoungcy/xarb/internal/server/middleware"
	"github.com/alanyoungcy/xarb/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimitPerMin caps authenticated requests per client IP. It only
	// applies when a Limiter is supplied.
	RateLimitPerMin int
	TestOrderAmount decimal.Decimal
	Mode            string
}

// Bot is what the API reads from and acts on.
type Bot interface {
	handler.StatusSource
	handler.VenueSource
}

// Deps are the server's collaborators. Only Bot is required.
type Deps struct {
	Bot     Bot
	Hub     *ws.Hub
	Limiter domain.RateLimiter
	Redis   handler.Pinger
}

// Server is the operator API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route. Health, metrics and the websocket are
// public; the rest of /api sits behind auth and the rate limiter.
func NewServer(cfg Config, deps Deps, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	health := handler.NewHealthHandler(deps.Redis)
	status := handler.NewStatusHandler(cfg.Mode, deps.Bot)
	venues := handler.NewVenueHandler(deps.Bot, cfg.TestOrderAmount, logger)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/status", status.GetStatus)
	api.HandleFunc("GET /api/stat", status.GetStat)
	api.HandleFunc("GET /api/venues/{name}", venues.GetVenue)
	api.HandleFunc("GET /api/venues/{name}/candles", venues.ListCandles)
	api.HandleFunc("POST /api/venues/{name}/test-order", venues.PlaceTestOrder)

	var protected http.Handler = api
	protected = middleware.Auth(cfg.APIKey)(protected)
	protected = middleware.RateLimit(deps.Limiter, cfg.RateLimitPerMin, time.Minute, logger)(protected)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", health.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())
	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}
	mux.Handle("/api/", protected)

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests within ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

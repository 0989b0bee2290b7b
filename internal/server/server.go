// Package server exposes the trading dashboard and its JSON API over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/digitbot/internal/domain"
	"github.com/alanyoungcy/digitbot/internal/server/handler"
	"github.com/alanyoungcy/digitbot/internal/server/middleware"
	"github.com/alanyoungcy/digitbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimit is API requests per minute per client; 0 disables it.
	RateLimit int
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health  *handler.HealthHandler
	Trading *handler.TradingHandler
}

// Server is the HTTP + WebSocket front of the trading bridge.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in middleware. hub and
// limiter may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", handlers.Health.Healthz)
	mux.HandleFunc("GET /api/status", handlers.Health.Status)
	mux.HandleFunc("GET /{$}", handler.Dashboard)

	mux.HandleFunc("POST /api/connect", handlers.Trading.Connect)
	mux.HandleFunc("GET /api/analyze", handlers.Trading.Analyze)
	mux.HandleFunc("POST /api/trade", handlers.Trading.Trade)
	mux.HandleFunc("POST /api/balance", handlers.Trading.Balance)
	mux.HandleFunc("POST /api/disconnect", handlers.Trading.Disconnect)
	mux.HandleFunc("GET /api/sessions", handlers.Trading.Sessions)
	mux.HandleFunc("GET /api/trades", handlers.Trading.Trades)
	mux.HandleFunc("GET /api/audit", handlers.Trading.Audit)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	// Outermost first: CORS, logging, recover, auth, rate limit.
	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute, logger)(h)
	}
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Recover(logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

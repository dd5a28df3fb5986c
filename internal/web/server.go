// Package web exposes the conversation engine over HTTP: a streaming SSE
// endpoint, a buffered JSON endpoint, health, and metrics.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pocketsage/pocketsage/internal/auth"
	"github.com/pocketsage/pocketsage/internal/chat"
)

// Config holds the HTTP server's dependencies.
type Config struct {
	Addr         string
	Orchestrator *chat.Orchestrator
	Auth         *auth.JWTService
	Gatherer     prometheus.Gatherer
	Logger       *slog.Logger
}

// Server is the PocketSage HTTP front end.
type Server struct {
	orchestrator *chat.Orchestrator
	logger       *slog.Logger
	addr         string

	handler    http.Handler
	httpServer *http.Server
	listener   net.Listener
}

// NewServer builds the server and its route table.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		orchestrator: cfg.Orchestrator,
		logger:       logger,
		addr:         cfg.Addr,
	}

	mux := http.NewServeMux()
	authed := auth.Middleware(cfg.Auth, logger)
	mux.Handle("POST /chat/query/stream", authed(http.HandlerFunc(s.handleChatStream)))
	mux.Handle("POST /chat/query", authed(http.HandlerFunc(s.handleChatQuery)))
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	s.handler = requestLogger(logger)(mux)
	return s, nil
}

// Handler returns the server's root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("starting http server", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
		return err
	}
	return nil
}

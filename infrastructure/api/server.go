// Package api provides the HTTP server and route wiring.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	apimiddleware "github.com/cr0mbly/esbinder/infrastructure/api/middleware"
)

// ShutdownGrace is how long Run waits for in-flight requests once its
// context is cancelled.
const ShutdownGrace = 30 * time.Second

// Server is the HTTP listener with esbinder's shared middleware stack.
// Timeouts are applied per route group; the server has no write deadline
// because a rebuild request holds its connection until cutover.
type Server struct {
	router chi.Router
	srv    *http.Server
	logger *slog.Logger
}

// NewServer returns a Server that will listen on addr.
func NewServer(addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewRouter()
	router.Use(
		chimiddleware.RequestID,
		chimiddleware.RealIP,
		apimiddleware.CorrelationID,
		apimiddleware.Logging(logger),
		chimiddleware.Recoverer,
		cors.Handler(corsOptions()),
	)

	return &Server{
		router: router,
		logger: logger,
		srv: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

func corsOptions() cors.Options {
	return cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", apimiddleware.APIKeyHeader, chimiddleware.RequestIDHeader},
		ExposedHeaders: []string{chimiddleware.RequestIDHeader},
		MaxAge:         300,
	}
}

// Router returns the root router; mount handlers on it before Run.
func (s *Server) Router() chi.Router { return s.router }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.srv.Addr }

// Run listens and serves until ctx is cancelled, then shuts down within
// ShutdownGrace.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.srv.Addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	served := make(chan error, 1)
	go func() {
		s.logger.Info("listening", slog.String("addr", ln.Addr().String()))
		served <- s.srv.Serve(ln)
	}()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down", slog.Duration("grace", ShutdownGrace))
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownGrace)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	return nil
}

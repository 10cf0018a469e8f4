package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ambi/internal/shared"
)

const shutdownTimeout = 5 * time.Second

// Server runs a [Router] on a TCP listener.
type Server struct {
	http   *http.Server
	logger *log.Logger

	mu   sync.Mutex
	ln   net.Listener
	errc chan error
}

// New mounts the metrics and status handlers on a fresh router.
func New(reporter Reporter, logger *log.Logger) *Server {
	logger = shared.WithLogger(logger, "component", "server")

	router := NewBasicRouter()
	router.Use(Recover(logger), Logging(logger))
	router.Handler(NewMetricsHandler())
	router.Handler(NewStatusHandler(reporter))

	return &Server{
		http:   &http.Server{Handler: router, ReadHeaderTimeout: 5 * time.Second},
		logger: logger,
		errc:   make(chan error, 1),
	}
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start binds addr and serves in the background.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return fmt.Errorf("server %w", shared.ErrAlreadyRunning)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.ln = ln

	s.logger.Info("serving metrics and status", "addr", ln.Addr().String())
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errc <- err
		}
		close(s.errc)
	}()
	return nil
}

// Addr is the bound address, empty before [Server.Start].
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Errors yields a serve failure, if any, and is closed when serving stops.
func (s *Server) Errors() <-chan error { return s.errc }

// Shutdown drains in-flight requests, waiting at most five seconds past ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	started := s.ln != nil
	s.mu.Unlock()
	if !started {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	for range s.errc {
	}
	return nil
}

// Address joins the configured host and port.
func Address(cfg shared.ServerConfig) string {
	return net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))
}

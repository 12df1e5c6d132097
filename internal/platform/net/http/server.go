// Package http serves the operational endpoints (/healthz, /metrics) of the batch binaries
package http

import (
	"context"
	"errors"
	"net"
	stdhttp "net/http"
	"time"

	"ghafacts/internal/platform/logger"

	"github.com/go-chi/chi/v5"
)

// Server is a thin wrapper over chi + stdlib http.Server
type Server struct {
	addr string
	mux  *chi.Mux
	srv  *stdhttp.Server
	ln   net.Listener
}

// NewServer creates an ops server bound to addr (e.g. ":9102")
// opts receive the *chi.Mux so callers can mount routes/mw
func NewServer(addr string, opts ...func(*chi.Mux)) *Server {
	m := chi.NewRouter()
	for _, o := range opts {
		o(m)
	}
	return &Server{
		addr: addr,
		mux:  m,
		srv: &stdhttp.Server{
			Addr:              addr,
			Handler:           m,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Mux exposes the router for tests
func (s *Server) Mux() *chi.Mux { return s.mux }

// Addr returns the bound address once Start has run, else the configured one
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Start binds the listener and serves in the background.
// Serve errors other than a clean shutdown are logged
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	log := logger.Named("http")
	log.Info().Str("addr", ln.Addr().String()).Msg("ops http listening")
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			log.Error().Err(err).Msg("ops http stopped")
		}
	}()
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

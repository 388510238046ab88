package frontend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/zjrosen/crewchat/internal/log"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server serves a Handler over HTTP.
type Server struct {
	handler *Handler
	srv     *http.Server
	ln      net.Listener
	ready   chan struct{}
}

// NewServer creates a server for h. WriteTimeout must exceed the LLM
// timeout or slow turns are cut off.
func NewServer(cfg ServerConfig, h *Handler) *Server {
	return &Server{
		handler: h,
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           h.Routes(),
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		ready: make(chan struct{}),
	}
}

// Start listens and serves until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.srv.Addr, err)
	}
	s.ln = ln
	s.srv.BaseContext = func(net.Listener) context.Context { return ctx }
	close(s.ready)

	log.Info(log.CatHTTP, "HTTP server listening", "addr", ln.Addr().String())
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving HTTP: %w", err)
	}
	return nil
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address. Valid after Ready.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.srv.Addr
	}
	return s.ln.Addr().String()
}

// Shutdown stops accepting requests, ends open change feeds, and waits for
// in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.handler.Close()
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}
	log.Info(log.CatHTTP, "HTTP server stopped")
	return nil
}

// Package app hosts the wallet's browser-facing HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/louisbranch/ledgerwallet/internal/platform/timeouts"
	"github.com/louisbranch/ledgerwallet/internal/services/shared/httpx"
	"github.com/louisbranch/ledgerwallet/internal/services/wallet/view"
)

// Config defines startup inputs for the wallet HTTP service.
type Config struct {
	HTTPAddr string
	View     *view.View
	Logger   *log.Logger
}

// Server hosts the wallet HTTP surface and lifecycle.
type Server struct {
	httpAddr   string
	httpServer *http.Server
}

// NewHandler builds the root handler: page routes wrapped in request id,
// panic recovery and request logging.
func NewHandler(cfg Config) (http.Handler, error) {
	if cfg.View == nil {
		return nil, errors.New("wallet view is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	h := &handlers{view: cfg.View, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.index)
	mux.HandleFunc("POST /account", h.createAccount)
	mux.HandleFunc("POST /transfer", h.transfer)
	mux.HandleFunc("POST /balance", h.refreshBalance)
	mux.HandleFunc("GET /healthz", h.healthz)

	return httpx.Chain(mux,
		httpx.RecoverPanic(logger),
		httpx.RequestID(),
		httpx.RequestLogger(logger),
	), nil
}

// NewServer validates config and constructs a wallet server.
func NewServer(_ context.Context, cfg Config) (*Server, error) {
	httpAddr := strings.TrimSpace(cfg.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	handler, err := NewHandler(cfg)
	if err != nil {
		return nil, fmt.Errorf("compose wallet handler: %w", err)
	}
	return &Server{
		httpAddr: httpAddr,
		httpServer: &http.Server{
			Addr:              httpAddr,
			Handler:           handler,
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
	}, nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.httpAddr
}

// ListenAndServe serves HTTP traffic until context cancellation or server stop.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("wallet server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown wallet http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve wallet http: %w", err)
	}
}

// Close closes open server resources.
func (s *Server) Close() {
	if s == nil || s.httpServer == nil {
		return
	}
	_ = s.httpServer.Close()
}

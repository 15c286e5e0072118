// Package api exposes the table gateway over HTTP with JSON bodies.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/tordrt/tablegw/internal/gateway"
	"github.com/tordrt/tablegw/internal/metrics"
)

const readHeaderTimeout = 10 * time.Second

// Pinger reports whether the backing database is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Server
type Options struct {
	Gateway *gateway.Gateway
	// DB backs /healthz; the endpoint always succeeds when nil
	DB Pinger
	// Metrics records request metrics and serves /metrics when set
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	// CORSOrigins lists the origins allowed to call the API, "*" for any
	CORSOrigins []string
}

// Server routes HTTP requests to gateway operations
type Server struct {
	gw      *gateway.Gateway
	db      Pinger
	metrics *metrics.Metrics
	logger  *slog.Logger
	origins []string
	router  *mux.Router
}

// NewServer builds the router for the given options
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		gw:      opts.Gateway,
		db:      opts.DB,
		metrics: opts.Metrics,
		logger:  logger,
		origins: opts.CORSOrigins,
		router:  mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.HandleFunc("/", s.rootHandler).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/tables", s.listTablesHandler).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/table/{name}", s.getTableHandler).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/table/{name}/add_row", s.addRowHandler).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/table/{name}/update_row", s.updateRowHandler).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/table/{name}/delete_row", s.deleteRowHandler).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/table/{name}/add_column", s.addColumnHandler).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/table/{name}/delete_column", s.deleteColumnHandler).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/table/{name}/update_column", s.renameColumnHandler).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/search", s.searchHandler).Methods(http.MethodGet, http.MethodOptions)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Use(s.accessLog, mux.CORSMethodMiddleware(r), s.cors)
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on addr and serves until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, lis, shutdownTimeout)
}

// Serve is Run over an existing listener, which it closes on return
func (s *Server) Serve(ctx context.Context, lis net.Listener, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("serving", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		s.logger.Info("shutting down", "timeout", shutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}
		return nil
	})
	return g.Wait()
}

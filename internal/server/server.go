// Package server exposes pipelines over HTTP: DAG listing, run triggers,
// run history and a live event stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/leapstack-labs/leapflow/internal/engine"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 5 * time.Second

// Server is the HTTP API server.
type Server struct {
	engine  *engine.Engine
	addr    string
	logger  *slog.Logger
	limiter *rate.Limiter

	// runCtx outlives requests; runs triggered over HTTP stop when it is done.
	runCtx context.Context
}

// Config holds configuration for the API server.
type Config struct {
	Engine *engine.Engine
	// Addr overrides server.addr from the project configuration.
	Addr   string
	Logger *slog.Logger
}

// New creates a server. Run triggers are limited to server.rate_limit per
// second with server.burst; a zero rate disables limiting.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = cfg.Engine.Logger()
	}
	sc := cfg.Engine.Config().Server
	addr := cfg.Addr
	if addr == "" {
		addr = sc.Addr
	}

	s := &Server{
		engine: cfg.Engine,
		addr:   addr,
		logger: logger.With("component", "server"),
		runCtx: context.Background(),
	}
	if sc.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(sc.RateLimit), sc.Burst)
	}
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string { return s.addr }

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		s.requestLogger,
		middleware.Recoverer,
	)

	r.Get("/healthz", s.health)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/dags", s.listDAGs)
		r.Route("/dags/{dagID}", func(r chi.Router) {
			r.Get("/", s.getDAG)
			r.Get("/runs", s.listDAGRuns)
			r.Post("/runs", s.triggerRun)
		})
		r.Get("/runs", s.listRuns)
		r.Get("/runs/{runID}", s.getRun)
		r.Get("/events", s.events)
	})
	return r
}

// Serve starts the server and blocks until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on an existing listener until the context is
// cancelled.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	eg, egctx := errgroup.WithContext(ctx)
	s.runCtx = egctx

	srv := &http.Server{
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting API server", "addr", "http://"+ln.Addr().String())

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		s.logger.Debug("shutting down API server...")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

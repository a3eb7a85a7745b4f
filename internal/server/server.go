// Package server exposes the persisted codes and news over HTTP.
//
// Public routes under /starrail go through the ingress throttle; health checks,
// metrics, and the job table do not.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/codestore"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/logging"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/metrics"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/notify"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/scheduler"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/throttle"
)

// JobLister reports the scheduled jobs. *scheduler.Scheduler satisfies it.
type JobLister interface {
	ListJobs() []scheduler.JobInfo
}

// Config holds server dependencies. Store is required; everything else
// is optional.
type Config struct {
	Store      codestore.Store
	Jobs       JobLister
	Metrics    *metrics.Metrics
	Throttle   *throttle.Window
	TrustProxy bool
	Changed    *notify.Signal // invalidates the cached code list
	Logger     *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	cfg     Config
	codes   *codeCache
	handler http.Handler
	logger  *slog.Logger

	mu       sync.Mutex
	server   *http.Server
	inFlight sync.WaitGroup
	draining atomic.Bool
}

// New creates a Server and builds its router.
func New(cfg Config) *Server {
	s := &Server{
		cfg:    cfg,
		codes:  newCodeCache(cfg.Store, cfg.Changed),
		logger: logging.Default(cfg.Logger).With("component", "server"),
	}
	s.handler = s.trackingMiddleware(s.buildRouter())
	return s
}

// Handler returns the full HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.metricsMiddleware)

	s.registerProbes(r)
	r.Get("/jobs", s.handleJobs)
	r.Method(http.MethodGet, "/metrics", s.cfg.Metrics.Handler())

	r.Route("/starrail", func(api chi.Router) {
		api.Use(compressMiddleware)
		if s.cfg.Throttle != nil {
			api.Use(throttle.Middleware(s.cfg.Throttle, s.cfg.TrustProxy, s.cfg.Metrics.ThrottleRejected))
		}
		api.Get("/", s.handleEndpoints)
		api.Get("/code", s.handleCodes)
		api.Get("/news/{feed}", s.handleNews)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// registerProbes adds the liveness and readiness endpoints.
func (s *Server) registerProbes(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Ready when not draining and the store answers.
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if s.draining.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if _, err := s.codes.get(ctx); err != nil {
			s.logger.Warn("readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

// trackingMiddleware counts in-flight requests and rejects new ones while
// draining.
func (s *Server) trackingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.draining.Load() {
			writeError(w, http.StatusServiceUnavailable, "server is draining")
			return
		}
		s.inFlight.Add(1)
		defer s.inFlight.Done()
		next.ServeHTTP(w, r)
	})
}

// Serve serves on listener until Stop. It returns nil after a clean stop.
func (s *Server) Serve(listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("server starting", "addr", listener.Addr().String())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeTCP starts the server on a TCP address.
func (s *Server) ServeTCP(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Stop drains in-flight requests and shuts the listener down, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.draining.Store(true)

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.logger.Info("server stopping")
	err := srv.Shutdown(ctx)

	drained := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		s.logger.Warn("shutdown deadline reached with requests in flight")
	}
	return err
}

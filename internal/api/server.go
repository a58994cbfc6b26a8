package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/shortlink-edge/internal/apierr"
	"github.com/JakeFAU/shortlink-edge/internal/telemetry"
)

const (
	requestIDHeader     = "X-Request-ID"
	defaultReadyTimeout = 2 * time.Second
)

// RouteRegistrar mounts a group of routes on the inner router.
type RouteRegistrar interface {
	Routes(r chi.Router)
}

// Wrapper decorates the inner router, typically the edge middleware.
type Wrapper interface {
	Wrap(inner http.Handler) http.Handler
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Options configures a Server.
type Options struct {
	Routes []RouteRegistrar
	Edge   Wrapper
	// AppUpstream serves paths no route matches. Nil answers 404.
	AppUpstream http.Handler
	// APIUpstream serves unmatched /api/ paths. Nil answers 404.
	APIUpstream http.Handler
	Checks      map[string]ReadinessCheck
	// RateLimit runs after RealIP so it keys on the client address.
	RateLimit func(http.Handler) http.Handler
	// LogHub receives one entry per route call the edge did not record.
	// Nil disables route logging.
	LogHub LogHub
	Tasks  TaskRunner
}

// Server wires the edge middleware in front of the inner router.
type Server struct {
	handler http.Handler
	checks  map[string]ReadinessCheck
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{checks: opts.Checks, logger: logger}

	r := chi.NewRouter()
	r.Use(telemetry.Middleware)

	r.Get("/api/healthz", s.healthz)
	r.Get("/api/readyz", s.readyz)
	r.Method(http.MethodGet, "/api/metrics", telemetry.Handler())
	r.Group(func(r chi.Router) {
		r.Use(routeLogMiddleware(opts.LogHub, opts.Tasks, logger))
		for _, reg := range opts.Routes {
			reg.Routes(r)
		}
		r.Handle("/api/*", s.orNotFound(opts.APIUpstream))
	})
	r.NotFound(s.orNotFound(opts.AppUpstream).ServeHTTP)

	var inner http.Handler = r
	if opts.Edge != nil {
		inner = opts.Edge.Wrap(r)
	}
	chain := chi.Chain(middleware.RealIP, requestIDMiddleware, s.recoverMiddleware)
	if opts.RateLimit != nil {
		chain = append(chain, opts.RateLimit)
	}
	s.handler = chain.Handler(inner)
	return s
}

// Handler returns the root handler for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	apierr.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), defaultReadyTimeout)
	defer cancel()

	failures := map[string]string{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		s.logger.Warn("readiness check failed", zap.Any("failures", failures))
		apierr.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":   "unavailable",
			"failures": failures,
		})
		return
	}
	apierr.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) orNotFound(h http.Handler) http.Handler {
	if h != nil {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		apierr.Handle(w, apierr.New(apierr.NotFound, "Not found."), s.logger)
	})
}

// requestIDMiddleware reuses an inbound X-Request-ID or mints one, and stores
// it where chi's GetReqID finds it.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, reqID)
		w.Header().Set(requestIDHeader, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
				apierr.Handle(w, apierr.New(apierr.Internal, "An internal server error occurred."), nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

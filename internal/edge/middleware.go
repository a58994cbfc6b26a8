package edge

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/JakeFAU/shortlink-edge/internal/requestlog"
	"github.com/JakeFAU/shortlink-edge/internal/telemetry"
)

// Handlers are the downstream targets of each routing outcome. A nil handler
// falls back to the inner handler passed to Wrap; a nil API handler serves
// inner under the /api prefix.
type Handlers struct {
	App        http.Handler
	API        http.Handler
	CreateLink http.Handler
	Link       http.Handler
}

// LogHub buffers request log entries and delivers them on Flush.
type LogHub interface {
	Emit(entry requestlog.Entry)
	Flush(ctx context.Context) error
}

// TaskRunner detaches work from the request.
type TaskRunner interface {
	WaitUntil(name string, fn func(ctx context.Context) error) bool
}

// Middleware routes requests according to Rules and records one log entry
// per request.
type Middleware struct {
	rules    *Rules
	handlers Handlers
	hub      LogHub
	tasks    TaskRunner
	logger   *zap.Logger
}

// NewMiddleware assembles the edge middleware. hub and tasks may be nil, in
// which case no request log is recorded.
func NewMiddleware(rules *Rules, handlers Handlers, hub LogHub, tasks TaskRunner, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{
		rules:    rules,
		handlers: handlers,
		hub:      hub,
		tasks:    tasks,
		logger:   logger,
	}
}

// Wrap returns a handler that classifies each request before delegating.
// Rewrites and bypassed paths are served by inner.
func (m *Middleware) Wrap(inner http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if Bypass(r.URL.Path) {
			inner.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		req := Parse(r)
		decision := m.rules.Classify(req)
		telemetry.ObserveEdgeDecision(string(decision.Outcome))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		r = r.WithContext(WithRequest(r.Context(), req))
		m.dispatch(ww, r, inner, decision)

		m.record(r, req, ww.Status(), time.Since(start))
	})
}

func (m *Middleware) dispatch(w http.ResponseWriter, r *http.Request, inner http.Handler, d Decision) {
	switch d.Outcome {
	case OutcomeApp:
		orInner(m.handlers.App, inner).ServeHTTP(w, r)
	case OutcomeAPI:
		orInner(m.handlers.API, APIRewrite(inner)).ServeHTTP(w, r)
	case OutcomeStats, OutcomeWellKnown:
		inner.ServeHTTP(w, rewrite(r, d.RewritePath))
	case OutcomeRedirect:
		http.Redirect(w, r, d.RedirectURL, http.StatusTemporaryRedirect)
	case OutcomeCreateLink:
		orInner(m.handlers.CreateLink, inner).ServeHTTP(w, r)
	default:
		orInner(m.handlers.Link, inner).ServeHTTP(w, r)
	}
}

func (m *Middleware) record(r *http.Request, req Request, status int, dur time.Duration) {
	if m.hub == nil {
		return
	}
	if status == 0 {
		status = http.StatusOK
	}
	entry := requestlog.NewEntry(requestlog.TypeRequest, requestlog.LevelForStatus(status),
		fmt.Sprintf("%s %s%s", r.Method, req.Domain, req.Path))
	entry.RequestID = middleware.GetReqID(r.Context())
	entry.Method = r.Method
	entry.Host = req.Domain
	entry.Path = req.Path
	entry.UserAgent = r.UserAgent()
	entry.IP = clientIP(r)
	entry.Status = status
	entry.Duration = dur
	m.hub.Emit(entry)

	if m.tasks == nil {
		return
	}
	if !m.tasks.WaitUntil("request-log-flush", m.hub.Flush) {
		m.logger.Debug("request log flush not scheduled; shutting down")
	}
}

// rewrite clones r with a new path so the inner router serves it.
func rewrite(r *http.Request, path string) *http.Request {
	r2 := r.Clone(r.Context())
	r2.URL.Path = path
	r2.URL.RawPath = ""
	r2.RequestURI = r2.URL.RequestURI()
	return r2
}

// APIRewrite serves API-host requests from inner under the /api prefix.
func APIRewrite(inner http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner.ServeHTTP(w, rewrite(r, "/api"+r.URL.Path))
	})
}

func orInner(h, inner http.Handler) http.Handler {
	if h == nil {
		return inner
	}
	return h
}

// clientIP prefers the address set by chi's RealIP middleware.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

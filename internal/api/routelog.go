package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/JakeFAU/shortlink-edge/internal/edge"
	"github.com/JakeFAU/shortlink-edge/internal/requestlog"
)

// maxLoggedBody caps how much of a request body is copied into a log entry.
const maxLoggedBody = 64 << 10

// LogHub buffers route log entries and delivers them on Flush.
type LogHub interface {
	Emit(entry requestlog.Entry)
	Flush(ctx context.Context) error
}

// TaskRunner detaches work from the request.
type TaskRunner interface {
	WaitUntil(name string, fn func(ctx context.Context) error) bool
}

type routeLogger struct {
	hub    LogHub
	tasks  TaskRunner
	logger *zap.Logger
}

// routeLogMiddleware records one entry per route handler call. Requests the
// edge middleware already recorded are skipped. JSON bodies of POST, PATCH
// and PUT requests and the query parameters are attached as fields.
func routeLogMiddleware(hub LogHub, tasks TaskRunner, logger *zap.Logger) func(http.Handler) http.Handler {
	rl := &routeLogger{hub: hub, tasks: tasks, logger: logger}
	return func(next http.Handler) http.Handler {
		if hub == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, recorded := edge.FromContext(r.Context()); recorded {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			body := captureBody(r)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			rl.record(r, body, ww.Status(), time.Since(start))
		})
	}
}

func (rl *routeLogger) record(r *http.Request, body []byte, status int, dur time.Duration) {
	if status == 0 {
		status = http.StatusOK
	}
	entry := requestlog.NewEntry(requestlog.TypeRequest, requestlog.LevelForStatus(status),
		fmt.Sprintf("%s %s %d", r.Method, r.URL.Path, status))
	entry.RequestID = middleware.GetReqID(r.Context())
	entry.Method = r.Method
	entry.Host = r.Host
	entry.Path = r.URL.Path
	entry.UserAgent = r.UserAgent()
	entry.IP = remoteIP(r)
	entry.Status = status
	entry.Duration = dur
	entry.Fields = routeFields(r, body)
	rl.hub.Emit(entry)

	if rl.tasks == nil {
		return
	}
	if !rl.tasks.WaitUntil("request-log-flush", rl.hub.Flush) {
		rl.logger.Debug("request log flush not scheduled; shutting down")
	}
}

// captureBody copies a JSON body of a POST, PATCH or PUT request and leaves
// r.Body readable from the start. It returns nil for anything else.
func captureBody(r *http.Request) []byte {
	switch r.Method {
	case http.MethodPost, http.MethodPatch, http.MethodPut:
	default:
		return nil
	}
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	buf, err := io.ReadAll(io.LimitReader(r.Body, maxLoggedBody+1))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(buf), r.Body), r.Body}
	if err != nil || len(buf) > maxLoggedBody || !json.Valid(buf) {
		return nil
	}
	return buf
}

func routeFields(r *http.Request, body []byte) map[string]string {
	fields := make(map[string]string, 2)
	if len(body) > 0 {
		var compact bytes.Buffer
		if err := json.Compact(&compact, body); err == nil {
			fields["body"] = compact.String()
		}
	}
	query := r.URL.Query()
	params := make(map[string]string, len(query))
	for key := range query {
		params[key] = query.Get(key)
	}
	encoded, err := json.Marshal(params)
	if err == nil {
		fields["search_params"] = string(encoded)
	}
	return fields
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

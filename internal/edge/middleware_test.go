package edge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shortlink-edge/internal/requestlog"
)

type recordingHandler struct {
	name  string
	calls *[]string
	paths *[]string
}

func (h recordingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	*h.calls = append(*h.calls, h.name)
	*h.paths = append(*h.paths, r.URL.Path)
	w.WriteHeader(http.StatusOK)
}

type fakeHub struct {
	mu      sync.Mutex
	entries []requestlog.Entry
	flushes int
}

func (h *fakeHub) Emit(entry requestlog.Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
}

func (h *fakeHub) Flush(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.flushes++
	return nil
}

// syncTasks runs tasks inline so assertions can follow immediately.
type syncTasks struct {
	names []string
}

func (s *syncTasks) WaitUntil(name string, fn func(context.Context) error) bool {
	s.names = append(s.names, name)
	_ = fn(context.Background())
	return true
}

type harness struct {
	handler http.Handler
	calls   []string
	paths   []string
	hub     *fakeHub
	tasks   *syncTasks
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{hub: &fakeHub{}, tasks: &syncTasks{}}
	mk := func(name string) http.Handler {
		return recordingHandler{name: name, calls: &h.calls, paths: &h.paths}
	}
	mw := NewMiddleware(mustRules(t), Handlers{
		App:        mk("app"),
		API:        mk("api"),
		CreateLink: mk("create"),
		Link:       mk("link"),
	}, h.hub, h.tasks, nil)
	h.handler = mw.Wrap(mk("inner"))
	return h
}

func (h *harness) do(host, target string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	r.Host = host
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, r)
	return rec
}

func TestMiddlewareRedirectsStaticKeys(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.do("dub.sh", "/home")

	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "https://dub.co", rec.Header().Get("Location"))
	assert.Empty(t, h.calls)
}

func TestMiddlewareCreatesLinkForURLKey(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.do("dub.sh", "/https://github.com/dubinc")

	assert.Equal(t, []string{"create"}, h.calls)
}

func TestMiddlewareRewritesWellKnown(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.do("acme.link", "/.well-known/apple-app-site-association")

	assert.Equal(t, []string{"inner"}, h.calls)
	assert.Equal(t, []string{"/wellknown/acme.link/apple-app-site-association"}, h.paths)
}

func TestMiddlewareRewritesStats(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.do("www.acme.link", "/stats/promo")

	assert.Equal(t, []string{"/acme.link/stats/promo"}, h.paths)
}

func TestMiddlewareDelegatesByHost(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.do("app.dub.co", "/home")
	h.do("api.dub.co", "/links")
	h.do("dub.sh", "/abc")

	assert.Equal(t, []string{"app", "api", "link"}, h.calls)
}

func TestMiddlewareBypassesMatcherPaths(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.do("dub.sh", "/api/cron/import/tolt")

	assert.Equal(t, []string{"inner"}, h.calls)
	assert.Equal(t, []string{"/api/cron/import/tolt"}, h.paths)
	assert.Empty(t, h.hub.entries)
}

func TestMiddlewareRecordsOneEntryPerRequest(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.do("dub.sh", "/login")

	require.Len(t, h.hub.entries, 1)
	entry := h.hub.entries[0]
	assert.Equal(t, requestlog.TypeRequest, entry.Type)
	assert.Equal(t, http.StatusTemporaryRedirect, entry.Status)
	assert.Equal(t, "dub.sh", entry.Host)
	assert.Equal(t, "/login", entry.Path)
	assert.Equal(t, requestlog.LevelInfo, entry.Level)
	assert.NoError(t, entry.Validate())
	assert.Equal(t, 1, h.hub.flushes)
	assert.Equal(t, []string{"request-log-flush"}, h.tasks.names)
}

func TestAPIRewritePrefixesPath(t *testing.T) {
	t.Parallel()

	var got string
	inner := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = r.URL.Path
	})
	APIRewrite(inner).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/links/info", nil))
	assert.Equal(t, "/api/links/info", got)
}

func TestMiddlewareServesAPIHostsFromInnerByDefault(t *testing.T) {
	t.Parallel()

	var got string
	inner := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = r.URL.Path
	})
	handler := NewMiddleware(mustRules(t), Handlers{}, nil, nil, nil).Wrap(inner)

	r := httptest.NewRequest(http.MethodGet, "/links", nil)
	r.Host = "api.dub.co"
	handler.ServeHTTP(httptest.NewRecorder(), r)
	assert.Equal(t, "/api/links", got)
}

func TestNewProxyWithoutTargetReturnsNotFound(t *testing.T) {
	t.Parallel()

	h, err := NewProxy("", nil)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err = NewProxy("not a url", nil)
	require.Error(t, err)
}

func TestNewProxyForwardsHost(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Host", r.Header.Get("X-Forwarded-Host"))
		w.Header().Set("X-Seen-Path", r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer upstream.Close()

	h, err := NewProxy(upstream.URL, nil)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodGet, "/acme.link/stats/promo", nil)
	r.Host = "acme.link"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "acme.link", rec.Header().Get("X-Seen-Host"))
	assert.Equal(t, "/acme.link/stats/promo", rec.Header().Get("X-Seen-Path"))
}

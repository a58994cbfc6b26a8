package edge

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"go.uber.org/zap"

	"github.com/JakeFAU/shortlink-edge/internal/apierr"
)

// NewProxy returns a reverse proxy to target that preserves the original
// Host in X-Forwarded-Host. An empty target yields a handler answering 404.
func NewProxy(target string, logger *zap.Logger) (http.Handler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if target == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			apierr.Handle(w, apierr.New(apierr.NotFound, "Not found."), logger)
		}), nil
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream url %q", target)
	}
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(u)
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			apierr.Handle(w, apierr.Wrap(apierr.BadGateway, "Upstream request failed.", err),
				logger.With(zap.String("upstream", u.Host), zap.String("path", r.URL.Path)))
		},
	}, nil
}

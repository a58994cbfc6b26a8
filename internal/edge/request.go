// Package edge classifies every inbound request by hostname, path and key
// and hands it to exactly one downstream handler.
package edge

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// Request is the routing view of an inbound HTTP request.
type Request struct {
	// Domain is the lower-cased Host header without a leading "www.".
	Domain string
	// Path is the URL path as received.
	Path string
	// Key is the decoded first path segment.
	Key string
	// FullKey is the decoded path without its leading slash, plus "?query"
	// when the request carried one.
	FullKey string
}

// Parse derives a Request from r.
func Parse(r *http.Request) Request {
	domain := strings.ToLower(r.Host)
	domain = strings.TrimPrefix(domain, "www.")

	escaped := r.URL.EscapedPath()
	if escaped == "" {
		escaped = "/"
	}
	trimmed := strings.TrimPrefix(escaped, "/")

	firstSegment := trimmed
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		firstSegment = trimmed[:i]
	}

	fullKey := unescape(trimmed)
	if r.URL.RawQuery != "" {
		fullKey += "?" + r.URL.RawQuery
	}

	return Request{
		Domain:  domain,
		Path:    r.URL.Path,
		Key:     unescape(firstSegment),
		FullKey: fullKey,
	}
}

// unescape decodes percent-escapes, keeping the raw text when it is malformed.
func unescape(s string) string {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

type requestKey struct{}

// WithRequest stores the parsed request on ctx for downstream handlers.
func WithRequest(ctx context.Context, req Request) context.Context {
	return context.WithValue(ctx, requestKey{}, req)
}

// FromContext returns the request stored by WithRequest.
func FromContext(ctx context.Context) (Request, bool) {
	req, ok := ctx.Value(requestKey{}).(Request)
	return req, ok
}

// RequestFrom returns the parsed request from r's context, parsing r when
// the edge middleware did not run.
func RequestFrom(r *http.Request) Request {
	if req, ok := FromContext(r.Context()); ok {
		return req
	}
	return Parse(r)
}

// Package api hosts the HTTP server and its middleware. Notable routes:
//   - GET /api/healthz and /api/readyz for Kubernetes probes.
//   - GET /api/metrics for Prometheus scraping.
//   - /api/cron/... for queue- and scheduler-invoked jobs.
//   - GET /wellknown/{domain}/{file} for rewritten .well-known requests.
//
// Every other request is classified by the edge middleware before it reaches
// the inner router; unmatched paths fall through to the app upstream.
package api

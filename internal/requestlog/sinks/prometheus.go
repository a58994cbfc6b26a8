package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/shortlink-edge/internal/requestlog"
)

// PrometheusSink derives request metrics from the log stream.
type PrometheusSink struct {
	entries         *prometheus.CounterVec
	mentions        prometheus.Counter
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "request_log_entries_total",
			Help: "Log entries delivered, partitioned by type and level.",
		}, []string{"type", "level"}),
		mentions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "request_log_mentions_total",
			Help: "Entries that asked for a human to be paged.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edge_requests_total",
			Help: "Logged requests partitioned by status class.",
		}, []string{"status_class"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "edge_request_duration_seconds",
			Help:    "Edge request duration partitioned by status class.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"status_class"}),
	}
	for _, collector := range []prometheus.Collector{
		s.entries,
		s.mentions,
		s.requests,
		s.requestDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register request log collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []requestlog.Entry) error {
	for _, entry := range batch {
		s.entries.WithLabelValues(string(entry.Type), string(entry.Level)).Inc()
		if entry.Mention {
			s.mentions.Inc()
		}
		if entry.Type != requestlog.TypeRequest {
			continue
		}
		class := string(requestlog.ClassifyStatus(entry.Status))
		s.requests.WithLabelValues(class).Inc()
		if entry.Duration > 0 {
			s.requestDuration.WithLabelValues(class).Observe(entry.Duration.Seconds())
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/shortlink-edge/internal/publisher/memory"
	"github.com/JakeFAU/shortlink-edge/internal/requestlog"
)

func requestEntry(status int) requestlog.Entry {
	entry := requestlog.NewEntry(requestlog.TypeRequest, requestlog.LevelForStatus(status), "request")
	entry.Method = "GET"
	entry.Host = "dub.sh"
	entry.Path = "/abc"
	entry.Status = status
	entry.Duration = 20 * time.Millisecond
	return entry
}

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from entries.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	alert := requestlog.NewEntry(requestlog.TypeErrors, requestlog.LevelError, "payout failed")
	alert.Mention = true
	batch := []requestlog.Entry{requestEntry(200), requestEntry(404), alert}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.entries.WithLabelValues("request", "info")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.entries.WithLabelValues("request", "warn")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.entries.WithLabelValues("errors", "error")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.mentions), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.requests.WithLabelValues("4xx")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.requests.WithLabelValues("2xx")), 1e-9)
	require.Equal(t, 2, testutil.CollectAndCount(sink.requestDuration, "edge_request_duration_seconds"))
}

func TestPrometheusSinkIgnoresHostCardinality(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	var batch []requestlog.Entry
	for _, host := range []string{"a.example", "b.example", "c.example"} {
		entry := requestEntry(200)
		entry.Host = host
		batch = append(batch, entry)
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1, testutil.CollectAndCount(sink.requests, "edge_requests_total"))
	require.InDelta(t, 3.0, testutil.ToFloat64(sink.requests.WithLabelValues("2xx")), 1e-9)
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestLogSinkUsesEntryLevel(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Consume(context.Background(), []requestlog.Entry{requestEntry(200), requestEntry(503)}))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	require.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	require.Equal(t, "dub.sh", entries[1].ContextMap()["host"])
}

func TestPublisherSinkPublishesBatch(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink, err := NewPublisherSink(pub, "logs", "dub-vercel")
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), []requestlog.Entry{requestEntry(200)}))
	require.NoError(t, sink.Consume(context.Background(), nil))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "logs", msgs[0].Topic)
	body, ok := msgs[0].Payload.(Batch)
	require.True(t, ok)
	require.Equal(t, "dub-vercel", body.Dataset)
	require.Len(t, body.Entries, 1)
}

func TestPublisherSinkWrapsErrors(t *testing.T) {
	t.Parallel()

	sink, err := NewPublisherSink(failingPublisher{}, "logs", "dataset")
	require.NoError(t, err)
	err = sink.Consume(context.Background(), []requestlog.Entry{requestEntry(200)})
	require.ErrorContains(t, err, "publish log batch")
}

func TestNewPublisherSinkRequiresSettings(t *testing.T) {
	t.Parallel()

	_, err := NewPublisherSink(nil, "logs", "dataset")
	require.Error(t, err)
	_, err = NewPublisherSink(memory.New(), "", "dataset")
	require.Error(t, err)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", errors.New("boom")
}

package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const aggregatePath = "/api/cron/payouts/aggregate-due-commissions"

func TestTriggerSendsCronSecret(t *testing.T) {
	t.Parallel()

	seen := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Clone(context.Background())
		_, _ = w.Write([]byte("Finished aggregating due commissions into payouts for all batches."))
	}))
	t.Cleanup(srv.Close)

	s, err := New(srv.URL+"/", "s3cret", zap.NewNop(), WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	err = s.Trigger(context.Background(), Job{Name: "aggregate", Path: aggregatePath})
	require.NoError(t, err)
	got := <-seen
	require.Equal(t, "Bearer s3cret", got.Header.Get("Authorization"))
	require.Equal(t, aggregatePath, got.URL.Path)
	require.Equal(t, http.MethodGet, got.Method)
}

func TestTriggerReportsErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	s, err := New(srv.URL, "s3cret", zap.NewNop())
	require.NoError(t, err)

	err = s.Trigger(context.Background(), Job{Name: "aggregate", Path: aggregatePath})
	require.ErrorContains(t, err, "status 401")
}

func TestTriggerReportsTruncatedResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", "100")
		_, _ = w.Write([]byte("short"))
	}))
	t.Cleanup(srv.Close)

	s, err := New(srv.URL, "secret", zap.NewNop())
	require.NoError(t, err)
	err = s.Trigger(context.Background(), Job{Name: "aggregate", Path: aggregatePath})
	require.ErrorContains(t, err, "read response")
}

func TestAddRejectsInvalidSpec(t *testing.T) {
	t.Parallel()

	s, err := New("http://127.0.0.1:8080", "s3cret", nil)
	require.NoError(t, err)
	require.Error(t, s.Add(Job{Name: "bad", Spec: "every now and then", Path: aggregatePath}))
}

func TestScheduledJobRuns(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	s, err := New(srv.URL, "s3cret", zap.NewNop(), WithRequestTimeout(time.Second))
	require.NoError(t, err)
	require.NoError(t, s.Add(Job{Name: "aggregate", Spec: "@every 1s", Path: aggregatePath}))

	s.Start()
	require.Eventually(t, func() bool { return calls.Load() > 0 }, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestNewValidatesArguments(t *testing.T) {
	t.Parallel()

	_, err := New("", "s3cret", nil)
	require.Error(t, err)
	_, err = New("http://localhost", "", nil)
	require.Error(t, err)
}

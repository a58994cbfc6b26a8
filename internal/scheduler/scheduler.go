// Package scheduler triggers cron routes from inside the process on a fixed
// schedule, standing in for the platform scheduler in self-hosted deployments.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 5 * time.Minute

// Job is one scheduled GET against a cron route.
type Job struct {
	Name string
	Spec string
	Path string
}

// Scheduler calls cron routes with the platform cron secret.
type Scheduler struct {
	engine  *cron.Cron
	client  *http.Client
	baseURL string
	secret  string
	timeout time.Duration
	logger  *zap.Logger
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithHTTPClient overrides the client used for trigger requests.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Scheduler) {
		if client != nil {
			s.client = client
		}
	}
}

// WithRequestTimeout bounds each trigger request.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New builds a Scheduler targeting baseURL.
func New(baseURL, secret string, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	if baseURL == "" {
		return nil, errors.New("scheduler base url is required")
	}
	if secret == "" {
		return nil, errors.New("cron secret is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		engine:  cron.New(cron.WithLocation(time.UTC)),
		client:  http.DefaultClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		timeout: defaultRequestTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Add registers job on its cron spec.
func (s *Scheduler) Add(job Job) error {
	_, err := s.engine.AddFunc(job.Spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.Trigger(ctx, job); err != nil {
			s.logger.Error("scheduled job failed", zap.String("job", job.Name), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Spec, err)
	}
	return nil
}

// Trigger calls job's route once.
func (s *Scheduler) Trigger(ctx context.Context, job Job) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+job.Path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.secret)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", job.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("call %s: status %d: read response: %w", job.Path, resp.StatusCode, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("call %s: status %d: %s", job.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	s.logger.Info("scheduled job completed",
		zap.String("job", job.Name),
		zap.Int("status", resp.StatusCode),
		zap.String("response", strings.TrimSpace(string(body))),
	)
	return nil
}

// Start runs the cron engine in its own goroutine.
func (s *Scheduler) Start() {
	s.engine.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.engine.Entries())))
}

// Stop prevents new runs and waits for running jobs or ctx, whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.engine.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop scheduler: %w", ctx.Err())
	}
}

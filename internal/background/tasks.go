// Package background tracks work detached from a request so the process can
// wait for it on shutdown.
package background

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/shortlink-edge/internal/telemetry"
)

const defaultTaskTimeout = 15 * time.Second

// Tasks runs functions on their own goroutine after the response has been
// written. Every task gets a fresh context bounded by the configured timeout;
// the request context is never reused.
type Tasks struct {
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New constructs a task tracker. A non-positive timeout uses 15s.
func New(timeout time.Duration, logger *zap.Logger) *Tasks {
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tasks{timeout: timeout, logger: logger}
}

// WaitUntil starts fn in the background. It reports false when the tracker is
// shutting down and fn was not started.
func (t *Tasks) WaitUntil(name string, fn func(ctx context.Context) error) bool {
	if t == nil || fn == nil {
		return false
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.logger.Debug("background task rejected after shutdown", zap.String("task", name))
		return false
	}
	t.wg.Add(1)
	t.mu.Unlock()

	telemetry.IncBackgroundTasks()
	go func() {
		defer t.wg.Done()
		defer telemetry.DecBackgroundTasks()
		defer func() {
			if rec := recover(); rec != nil {
				t.logger.Error("background task panicked", zap.String("task", name), zap.Any("panic", rec))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			t.logger.Warn("background task failed", zap.String("task", name), zap.Error(err))
		}
	}()
	return true
}

// Shutdown stops accepting tasks and waits for running ones to finish or ctx
// to expire.
func (t *Tasks) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("background tasks wait: %w", ctx.Err())
	}
}

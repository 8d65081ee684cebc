package core

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

const defaultBackgroundConcurrency = 8

// BackgroundRunner runs fire-and-forget tasks with bounded concurrency.
// Submit never blocks: tasks beyond the bound are rejected.
type BackgroundRunner struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	logger Logger
}

func NewBackgroundRunner(maxConcurrency int, logger Logger) *BackgroundRunner {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultBackgroundConcurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &BackgroundRunner{
		sem:    semaphore.NewWeighted(int64(maxConcurrency)),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

func (r *BackgroundRunner) Submit(name string, task func(ctx context.Context)) error {
	if r == nil {
		return fmt.Errorf("core: background runner is not configured")
	}
	if task == nil {
		return fmt.Errorf("core: background task is required")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("core: background runner is closed")
	}
	if !r.sem.TryAcquire(1) {
		return fmt.Errorf("core: background capacity exhausted for task %q", strings.TrimSpace(name))
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.sem.Release(1)
		defer func() {
			if recovered := recover(); recovered != nil && r.logger != nil {
				r.logger.Error("background task panicked", "task", name, "panic", fmt.Sprint(recovered))
			}
		}()
		task(r.ctx)
	}()
	return nil
}

// Close rejects new tasks, cancels running ones, and waits for them to return.
func (r *BackgroundRunner) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every submitted task has returned.
func (r *BackgroundRunner) Wait() {
	if r == nil {
		return
	}
	r.wg.Wait()
}

package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const defaultTaskTimeout = 2 * time.Minute

// Scheduler runs callback work after the synchronous acknowledgement.
type Scheduler interface {
	Go(name string, fn func(ctx context.Context) error)
}

// Dispatcher runs detached tasks with bounded concurrency. Tasks never
// inherit the request context, so they outlive the HTTP exchange.
type Dispatcher struct {
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	base    context.Context
	cancel  context.CancelFunc
	timeout time.Duration
}

func NewDispatcher(limit int, timeout time.Duration) *Dispatcher {
	if limit <= 0 {
		limit = 1
	}
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}
	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		sem:     semaphore.NewWeighted(int64(limit)),
		base:    base,
		cancel:  cancel,
		timeout: timeout,
	}
}

func (d *Dispatcher) Go(name string, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		if err := d.sem.Acquire(d.base, 1); err != nil {
			slog.Warn("Task dropped",
				slog.String("type", "sys"),
				slog.String("task", name),
				slog.Any("error", err),
			)
			return
		}
		defer d.sem.Release(1)

		ctx, cancel := context.WithTimeout(d.base, d.timeout)
		defer cancel()

		if err := d.run(ctx, fn); err != nil {
			slog.Error("Task failed",
				slog.String("type", "error"),
				slog.String("task", name),
				slog.Any("error", err),
			)
		}
	}()
}

func (d *Dispatcher) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}

// Wait blocks until every scheduled task has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown waits for in-flight tasks until ctx is done, then cancels the rest.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

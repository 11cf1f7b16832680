package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	apperrors "go-degen-pov/internal/errors"
)

// ErrPoolClosed is returned when submitting to a closed pool
var ErrPoolClosed = errors.New("worker pool is closed")

// WorkerPool runs CPU-bound pipeline stages on a fixed set of goroutines
type WorkerPool struct {
	workers  int
	jobQueue chan func()
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   chan struct{}
	once     sync.Once
	stopOnce sync.Once
}

// NewWorkerPool creates a new worker pool with the specified number of workers
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &WorkerPool{
		workers:  workers,
		jobQueue: make(chan func(), workers*2),
		closed:   make(chan struct{}),
	}
}

// Start initializes and starts all workers in the pool
func (wp *WorkerPool) Start() {
	wp.once.Do(func() {
		wp.wg.Add(wp.workers)
		for i := 0; i < wp.workers; i++ {
			go wp.worker()
		}
	})
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for job := range wp.jobQueue {
		job()
	}
}

// Submit queues job, blocking until there is room, ctx is done or the pool closes
func (wp *WorkerPool) Submit(ctx context.Context, job func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	select {
	case <-wp.closed:
		return ErrPoolClosed
	default:
	}

	select {
	case wp.jobQueue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-wp.closed:
		return ErrPoolClosed
	}
}

// Close stops accepting jobs, lets queued jobs finish and waits for the workers
func (wp *WorkerPool) Close() {
	wp.stopOnce.Do(func() {
		close(wp.closed)
		wp.mu.Lock()
		close(wp.jobQueue)
		wp.mu.Unlock()
		// workers that were never started must not be waited on
		wp.once.Do(func() {})
		wp.wg.Wait()
	})
}

// runOnPool executes fn on the pool and waits for its result or ctx
func runOnPool[T any](ctx context.Context, wp *WorkerPool, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	var zero T
	done := make(chan result, 1)

	err := wp.Submit(ctx, func() {
		if err := ctx.Err(); err != nil {
			done <- result{err: err}
			return
		}
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: apperrors.NewInternalError(fmt.Sprintf("panic in pipeline stage: %v", r), nil)}
			}
		}()
		v, err := fn(ctx)
		done <- result{value: v, err: err}
	})
	if err != nil {
		return zero, err
	}

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

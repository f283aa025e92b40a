// Package queue runs units of work with bounded concurrency and a cap on start rate.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Task is a unit of work
type Task func(ctx context.Context) error

// Event is emitted once per finished task
type Event struct {
	Index    int
	Err      error
	Duration time.Duration
	Done     int
	Total    int
}

// Options configures a Queue
type Options struct {
	// Concurrency bounds simultaneously running tasks.
	Concurrency int
	// RateLimit bounds task starts per Interval, regardless of free concurrency.
	RateLimit int
	Interval  time.Duration
	// OnCompleted is called from the task goroutine after each task finishes.
	OnCompleted func(Event)
}

// Queue is a bounded-parallelism, rate-limited task runner
type Queue struct {
	sem         *semaphore.Weighted
	limiter     *rate.Limiter
	onCompleted func(Event)

	wg      sync.WaitGroup
	mu      sync.Mutex
	errs    []error
	total   int
	done    int
	pending atomic.Int64
	running atomic.Int64
}

// New creates a queue. Starts are spaced Interval/RateLimit apart so that no
// window of length Interval sees more than RateLimit starts.
func New(opts Options) *Queue {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	limit := rate.Inf
	if opts.RateLimit > 0 && opts.Interval > 0 {
		limit = rate.Every(opts.Interval / time.Duration(opts.RateLimit))
	}

	return &Queue{
		sem:         semaphore.NewWeighted(int64(opts.Concurrency)),
		limiter:     rate.NewLimiter(limit, 1),
		onCompleted: opts.OnCompleted,
	}
}

// Add schedules task without blocking. A task that cannot start before ctx is
// done finishes with the context error.
func (q *Queue) Add(ctx context.Context, task Task) {
	q.mu.Lock()
	index := q.total
	q.total++
	q.mu.Unlock()

	q.pending.Add(1)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		start := time.Now()
		err := q.run(ctx, task)
		q.finish(index, err, time.Since(start))
	}()
}

func (q *Queue) run(ctx context.Context, task Task) error {
	if err := q.sem.Acquire(ctx, 1); err != nil {
		q.pending.Add(-1)
		return err
	}
	defer q.sem.Release(1)

	if err := q.limiter.Wait(ctx); err != nil {
		q.pending.Add(-1)
		return err
	}

	q.pending.Add(-1)
	q.running.Add(1)
	defer q.running.Add(-1)

	return task(ctx)
}

func (q *Queue) finish(index int, err error, d time.Duration) {
	q.mu.Lock()
	q.done++
	if err != nil {
		q.errs = append(q.errs, err)
	}
	event := Event{Index: index, Err: err, Duration: d, Done: q.done, Total: q.total}
	q.mu.Unlock()

	if q.onCompleted != nil {
		q.onCompleted(event)
	}
}

// Wait blocks until every added task has finished and returns their errors.
func (q *Queue) Wait() []error {
	q.wg.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()
	errs := make([]error, len(q.errs))
	copy(errs, q.errs)
	return errs
}

// Pending returns the number of tasks waiting to start
func (q *Queue) Pending() int {
	return int(q.pending.Load())
}

// Running returns the number of tasks currently executing
func (q *Queue) Running() int {
	return int(q.running.Load())
}

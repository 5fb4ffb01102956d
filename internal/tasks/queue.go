package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Queue runs submitted jobs on at most `workers` goroutines at a time.
// Jobs waiting for a worker when the queue is terminated never run and
// their callbacks never fire. Running jobs are not interrupted.
type Queue struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	sem    *semaphore.Weighted

	mu         sync.Mutex
	terminated bool
}

// New creates a queue with the given number of concurrent workers
func New(workers int) *Queue {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		ctx:    ctx,
		cancel: cancel,
		group:  new(errgroup.Group),
		sem:    semaphore.NewWeighted(int64(workers)),
	}
}

// Submit schedules run and reports its result to done, which is called on
// the worker goroutine. It returns false if the queue has been terminated.
func (q *Queue) Submit(name string, run func() error, done func(error)) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.terminated {
		slog.Debug("Task rejected, queue terminated", "task", name)
		return false
	}

	q.group.Go(func() error {
		if err := q.sem.Acquire(q.ctx, 1); err != nil {
			slog.Debug("Task abandoned", "task", name)
			return nil
		}
		defer q.sem.Release(1)

		if q.ctx.Err() != nil {
			slog.Debug("Task abandoned", "task", name)
			return nil
		}

		slog.Debug("Task started", "task", name)
		err := safeRun(run)
		if err != nil {
			slog.Debug("Task failed", "task", name, "error", err)
		}
		if done != nil {
			done(err)
		}
		return nil
	})
	return true
}

// Terminate abandons pending jobs and rejects new ones
func (q *Queue) Terminate() {
	q.mu.Lock()
	q.terminated = true
	q.mu.Unlock()

	q.cancel()
}

// Wait blocks until every started job has returned
func (q *Queue) Wait() {
	q.group.Wait()
}

func safeRun(run func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return run()
}

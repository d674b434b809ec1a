package worker

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

// Task is a unit of background work. Tasks run to completion; there is no
// cancellation of an in-flight task.
type Task func(context.Context)

var (
	// ErrQueueClosed is returned by Enqueue after Shutdown has begun.
	ErrQueueClosed = errors.New("worker queue closed")
	// ErrQueueFull is returned when the bounded buffer has no room.
	ErrQueueFull = errors.New("worker queue full")
)

// Queue is a bounded task queue with a fixed worker pool. Submission is
// explicit rather than fire-and-forget so shutdown can drain queued work.
type Queue struct {
	tasks  chan Task
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewQueue starts workers consuming from a buffer of the given size.
func NewQueue(size, workers int, logger *zap.Logger) *Queue {
	if size <= 0 {
		size = 64
	}
	if workers <= 0 {
		workers = 1
	}
	q := &Queue{
		tasks:  make(chan Task, size),
		logger: logger,
	}
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.run()
	}
	return q
}

// Enqueue submits a task without blocking the caller.
func (q *Queue) Enqueue(task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting tasks and waits for queued and in-flight work
// to finish, or for ctx to expire.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer q.wg.Done()
	for task := range q.tasks {
		q.execute(task)
	}
}

// execute isolates a task so a panic cannot take the worker down.
func (q *Queue) execute(task Task) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("background task panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	task(context.Background())
}

package dispatch

import (
	"context"
	"log/slog"
	"sync"
)

// Queue runs dispatch jobs on a single background worker with a bounded
// buffer. Message sends enqueue and return immediately; delivery never blocks
// or fails the request that triggered it.
type Queue struct {
	dispatcher *Dispatcher
	jobs       chan Job

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewQueue creates a queue with the given buffer size.
func NewQueue(d *Dispatcher, size int) *Queue {
	if size <= 0 {
		size = 64
	}
	return &Queue{
		dispatcher: d,
		jobs:       make(chan Job, size),
		done:       make(chan struct{}),
	}
}

// Start launches the worker. Jobs are processed strictly in order, one at a
// time. Deliveries are detached from ctx cancellation so that jobs drained
// during Shutdown still go out after the trigger context (a signal handler in
// the server) has fired; the transports bound each attempt with their own
// timeouts.
func (q *Queue) Start(ctx context.Context) {
	work := context.WithoutCancel(ctx)
	go func() {
		defer close(q.done)
		for job := range q.jobs {
			q.dispatcher.Dispatch(work, job)
		}
	}()
}

// Enqueue submits a job without blocking. When the buffer is full the job is
// dropped and logged.
func (q *Queue) Enqueue(job Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.jobs <- job:
		return true
	default:
		slog.Warn("dispatch queue full, dropping job", "message_id", job.MessageID, "channel", job.ChannelName)
		return false
	}
}

// Shutdown stops accepting jobs and waits for the worker to drain, or for ctx
// to expire.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

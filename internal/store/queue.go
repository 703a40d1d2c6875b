// ABOUTME: Write-behind queue running persistence jobs on a single goroutine
// ABOUTME: Callers enqueue and move on; failures are logged, never returned to them

package store

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrQueueStopped is returned by Sync once the queue has stopped.
var ErrQueueStopped = errors.New("write queue stopped")

// Job is one persistence operation. Each job must fully describe the row it
// writes so that jobs are safe to apply in any order and more than once.
type Job func(ctx context.Context) error

type namedJob struct {
	name string
	run  Job
}

// WriteQueue executes jobs in FIFO order on the goroutine calling Run.
type WriteQueue struct {
	jobs    chan namedJob
	done    chan struct{}
	timeout time.Duration
	logger  *slog.Logger
}

// NewWriteQueue creates a queue with room for size pending jobs. Each job
// gets at most timeout to complete; zero means no limit. Pass nil logger
// for default.
func NewWriteQueue(size int, timeout time.Duration, logger *slog.Logger) *WriteQueue {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WriteQueue{
		jobs:    make(chan namedJob, size),
		done:    make(chan struct{}),
		timeout: timeout,
		logger:  logger.With("component", "write_queue"),
	}
}

// Enqueue schedules job. It blocks only while the buffer is full and
// returns false if the queue has already stopped.
func (q *WriteQueue) Enqueue(name string, job Job) bool {
	select {
	case <-q.done:
		q.logger.Warn("write queue stopped, dropping job", "job", name)
		return false
	default:
	}
	select {
	case q.jobs <- namedJob{name: name, run: job}:
		return true
	case <-q.done:
		q.logger.Warn("write queue stopped, dropping job", "job", name)
		return false
	}
}

// Sync waits until every job enqueued before the call has run.
func (q *WriteQueue) Sync(ctx context.Context) error {
	reached := make(chan struct{})
	if !q.Enqueue("sync", func(context.Context) error {
		close(reached)
		return nil
	}) {
		return ErrQueueStopped
	}
	select {
	case <-reached:
		return nil
	case <-q.done:
		// The barrier may have run during the final drain.
		select {
		case <-reached:
			return nil
		default:
			return ErrQueueStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes jobs until ctx is cancelled, then drains what is already
// queued before returning. Jobs never see the cancellation of ctx; they
// are bounded by the per-job timeout only. It always returns nil.
func (q *WriteQueue) Run(ctx context.Context) error {
	defer close(q.done)
	jobCtx := context.WithoutCancel(ctx)
	for {
		select {
		case j := <-q.jobs:
			q.exec(jobCtx, j)
		case <-ctx.Done():
			for {
				select {
				case j := <-q.jobs:
					q.exec(jobCtx, j)
				default:
					q.logger.Debug("write queue drained")
					return nil
				}
			}
		}
	}
}

func (q *WriteQueue) exec(ctx context.Context, j namedJob) {
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	if err := j.run(ctx); err != nil {
		q.logger.Warn("persistence job failed", "job", j.name, "error", err)
	}
}

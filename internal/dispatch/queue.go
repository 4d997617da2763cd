// Package dispatch runs tasks one at a time, in submission order, with a
// minimum spacing between task starts.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrQueueStopped is the outcome of tasks still queued when the queue stops.
var ErrQueueStopped = errors.New("dispatch queue stopped")

// TaskFunc is the unit of work run by the queue.
type TaskFunc func(ctx context.Context) error

// Task is a submitted TaskFunc whose outcome can be awaited.
type Task struct {
	Name string

	fn   TaskFunc
	done chan struct{}
	err  error

	submittedAt time.Time
	startedAt   time.Time
}

// Done is closed once the task has finished or was abandoned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task outcome. It is only meaningful after Done is closed.
func (t *Task) Err() error {
	<-t.done
	return t.err
}

// Wait blocks until the task finishes or ctx ends.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartedAt reports when the task began running (zero if it never ran).
func (t *Task) StartedAt() time.Time {
	<-t.done
	return t.startedAt
}

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}

// Queue is a single-lane FIFO task runner with an interval cap on task starts.
type Queue struct {
	limiter *rate.Limiter
	log     logrus.FieldLogger

	mu      sync.Mutex
	pending []*Task
	stopped bool
	wake    chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue creates a queue that starts at most one task per interval.
func NewQueue(interval time.Duration, logger logrus.FieldLogger) *Queue {
	return &Queue{
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		log:     logger.WithField("component", "dispatch"),
		wake:    make(chan struct{}, 1),
	}
}

// Start launches the worker. Tasks run with a context derived from ctx.
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	q.wg.Add(1)
	go q.worker(ctx)
}

// Stop ends the worker after the running task (if any) returns.
// Tasks that never started finish with ErrQueueStopped.
func (q *Queue) Stop() {
	// Cancel first, then wait: the running task sees ctx.Done but still completes.
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()

	// Worker is gone; anything still pending never ran.
	q.mu.Lock()
	q.stopped = true
	abandoned := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, t := range abandoned {
		t.finish(ErrQueueStopped)
	}
	if len(abandoned) > 0 {
		q.log.WithField("count", len(abandoned)).Warn("Dispatch queue stopped with tasks pending")
	}
}

// Submit appends fn to the queue and returns immediately.
func (q *Queue) Submit(name string, fn TaskFunc) *Task {
	t := &Task{
		Name:        name,
		fn:          fn,
		done:        make(chan struct{}),
		submittedAt: time.Now(),
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		t.finish(ErrQueueStopped)
		return t
	}
	q.pending = append(q.pending, t)
	q.mu.Unlock()

	// Non-blocking: one buffered wake-up is enough for the worker to drain the slice.
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return t
}

// Len returns the number of tasks waiting to start.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) next() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	t := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return t
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	q.log.Debug("Dispatch worker started")

	for {
		// Idle until Submit signals or the queue stops.
		t := q.next()
		if t == nil {
			select {
			case <-q.wake:
				continue
			case <-ctx.Done():
				q.log.Debug("Dispatch worker stopping")
				return
			}
		}

		// Space task starts by the configured interval.
		if err := q.limiter.Wait(ctx); err != nil {
			// Put it back so Stop reports it as abandoned.
			q.mu.Lock()
			q.pending = append([]*Task{t}, q.pending...)
			q.mu.Unlock()
			q.log.Debug("Dispatch worker stopping")
			return
		}

		// Run inline: the next task cannot start until this one returns.
		q.run(ctx, t)
	}
}

func (q *Queue) run(ctx context.Context, t *Task) {
	t.startedAt = time.Now()
	log := q.log.WithFields(logrus.Fields{
		"task":   t.Name,
		"waited": t.startedAt.Sub(t.submittedAt).Round(time.Millisecond).String(),
	})
	log.Debug("Task started")

	// A panicking task becomes an ordinary failure for that task alone.
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task %s panicked: %v", t.Name, r)
			}
		}()
		return t.fn(ctx)
	}()

	if err != nil {
		log.WithError(err).Debug("Task failed")
	} else {
		log.Debug("Task finished")
	}
	t.finish(err)
}

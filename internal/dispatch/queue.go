// Package dispatch provides the single logical callback queue the controller
// runs on. Every transport callback, timer firing and public API request is
// posted to a Queue and executed one at a time, in FIFO order, on the queue's
// own goroutine. Code running on the queue therefore needs no locks.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/nuimo/internal/groutine"
)

// Scheduler runs tasks serially and schedules delayed tasks on the same
// serial context.
type Scheduler interface {
	// Post enqueues fn. It never blocks.
	Post(fn func())
	// AfterFunc posts fn once d has elapsed. Stopping the returned Timer from
	// the scheduler's own context guarantees fn is not executed.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a handle to a task scheduled with AfterFunc.
type Timer interface {
	// Stop cancels the task. It returns false if the task already ran or was
	// already stopped.
	Stop() bool
}

// Queue is an unbounded FIFO executed by a single goroutine.
type Queue struct {
	name   string
	logger *logrus.Logger

	mu      sync.Mutex
	pending []func()
	wake    chan struct{}

	closed atomic.Bool
	cancel context.CancelFunc
	done   <-chan struct{}
}

// NewQueue starts a queue goroutine bound to ctx. The queue stops when ctx is
// cancelled or Close is called; tasks still pending at that point are dropped.
func NewQueue(ctx context.Context, name string, logger *logrus.Logger) *Queue {
	if logger == nil {
		logger = logrus.New()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	q := &Queue{
		name:   name,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}

	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = groutine.Go(runCtx, name, q.run)
	return q
}

// Post enqueues fn for execution on the queue goroutine.
func (q *Queue) Post(fn func()) {
	if fn == nil {
		return
	}
	if q.closed.Load() {
		q.logger.WithField("queue", q.name).Debug("Task posted to a closed queue, dropping")
		return
	}

	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// AfterFunc schedules fn to be posted to the queue after d.
func (q *Queue) AfterFunc(d time.Duration, fn func()) Timer {
	t := &queueTimer{}
	t.timer = time.AfterFunc(d, func() {
		q.Post(t.fire(fn))
	})
	return t
}

// Sync posts fn and waits until it has run, or until ctx is done.
func (q *Queue) Sync(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	q.Post(func() {
		defer close(ran)
		fn()
	})

	select {
	case <-ran:
		return nil
	case <-q.done:
		return fmt.Errorf("queue %q stopped before task ran", q.name)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the queue and waits for the goroutine to exit. Safe to call
// more than once. Must not be called from the queue itself.
func (q *Queue) Close() {
	q.closed.Store(true)
	q.cancel()
	<-q.done
}

func (q *Queue) run(ctx context.Context) {
	q.logger.WithField("queue", q.name).Debug("Dispatch queue started")
	defer q.logger.WithField("queue", q.name).Debug("Dispatch queue stopped")

	for {
		select {
		case <-ctx.Done():
			q.closed.Store(true)
			return
		case <-q.wake:
		}

		for {
			q.mu.Lock()
			batch := q.pending
			q.pending = nil
			q.mu.Unlock()

			if len(batch) == 0 {
				break
			}
			for _, fn := range batch {
				if ctx.Err() != nil {
					q.closed.Store(true)
					return
				}
				q.execute(fn)
			}
		}
	}
}

func (q *Queue) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.WithFields(logrus.Fields{
				"queue": q.name,
				"panic": r,
			}).Error("Task panicked on dispatch queue")
		}
	}()
	fn()
}

const (
	timerPending int32 = iota
	timerStopped
	timerFired
)

type queueTimer struct {
	timer *time.Timer
	state atomic.Int32
}

func (t *queueTimer) fire(fn func()) func() {
	return func() {
		if !t.state.CompareAndSwap(timerPending, timerFired) {
			return
		}
		fn()
	}
}

func (t *queueTimer) Stop() bool {
	t.timer.Stop()
	return t.state.CompareAndSwap(timerPending, timerStopped)
}

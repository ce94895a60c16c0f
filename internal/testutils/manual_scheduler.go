package testutils

import (
	"sort"
	"time"

	"github.com/srg/nuimo/internal/dispatch"
)

// ManualScheduler is a deterministic dispatch.Scheduler driven by a virtual
// clock. Posted tasks run synchronously, run-to-completion: a task posted
// from inside another task runs right after it. Timers fire only from
// Advance. Not safe for concurrent use.
type ManualScheduler struct {
	// IgnoreStop makes Stop report success without cancelling the timer,
	// simulating a firing that races with cancellation.
	IgnoreStop bool

	now     time.Duration
	queue   []func()
	running bool
	timers  []*manualTimer
	nextID  int
}

var _ dispatch.Scheduler = (*ManualScheduler)(nil)

// NewManualScheduler returns a scheduler at virtual time zero.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// Post runs fn, or queues it behind the task currently running.
func (s *ManualScheduler) Post(fn func()) {
	s.queue = append(s.queue, fn)
	if s.running {
		return
	}

	s.running = true
	defer func() { s.running = false }()
	for len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		next()
	}
}

// AfterFunc schedules fn at now+d on the virtual clock.
func (s *ManualScheduler) AfterFunc(d time.Duration, fn func()) dispatch.Timer {
	s.nextID++
	t := &manualTimer{
		sched:    s,
		id:       s.nextID,
		deadline: s.now + d,
		fn:       fn,
	}
	s.timers = append(s.timers, t)
	return t
}

// Now returns the virtual time elapsed since creation.
func (s *ManualScheduler) Now() time.Duration {
	return s.now
}

// Advance moves the clock forward by d, firing due timers in deadline order.
func (s *ManualScheduler) Advance(d time.Duration) {
	target := s.now + d
	for {
		t := s.nextDue(target)
		if t == nil {
			break
		}
		s.now = t.deadline
		t.fired = true
		s.Post(t.fn)
	}
	s.now = target
}

// PendingTimers returns the number of timers that have neither fired nor
// been stopped.
func (s *ManualScheduler) PendingTimers() int {
	n := 0
	for _, t := range s.timers {
		if t.pending() {
			n++
		}
	}
	return n
}

// NextDeadline returns the deadline of the earliest pending timer.
func (s *ManualScheduler) NextDeadline() (time.Duration, bool) {
	t := s.nextDue(time.Duration(1<<63 - 1))
	if t == nil {
		return 0, false
	}
	return t.deadline, true
}

func (s *ManualScheduler) nextDue(limit time.Duration) *manualTimer {
	var due []*manualTimer
	for _, t := range s.timers {
		if t.pending() && t.deadline <= limit {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline == due[j].deadline {
			return due[i].id < due[j].id
		}
		return due[i].deadline < due[j].deadline
	})
	return due[0]
}

type manualTimer struct {
	sched    *ManualScheduler
	id       int
	deadline time.Duration
	fn       func()
	fired    bool
	stopped  bool
}

func (t *manualTimer) pending() bool {
	return !t.fired && !t.stopped
}

func (t *manualTimer) Stop() bool {
	if !t.pending() {
		return false
	}
	if t.sched.IgnoreStop {
		return true
	}
	t.stopped = true
	return true
}

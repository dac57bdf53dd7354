package activity

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrShutdownTimeout is returned by Scheduler.Shutdown when a running
// callback did not finish within the grace period.
var ErrShutdownTimeout = errors.New("scheduler: shutdown grace period exceeded")

type timerState int

const (
	timerScheduled timerState = iota
	timerQueued
	timerRunning
	timerDone
	timerCancelled
)

// Timer is a handle to one delayed callback.
type Timer struct {
	s     *Scheduler
	t     *time.Timer
	fn    func()
	state timerState
}

// Cancel prevents the callback from running if it has not started yet.
// A callback that is already running is left to complete. Reports whether
// the call stopped the callback.
func (tm *Timer) Cancel() bool {
	if tm == nil {
		return false
	}
	s := tm.s
	s.mu.Lock()
	defer s.mu.Unlock()

	switch tm.state {
	case timerScheduled:
		tm.t.Stop()
		delete(s.pending, tm)
	case timerQueued:
		// Still in s.ready; run() skips cancelled entries.
	default:
		return false
	}
	tm.state = timerCancelled
	return true
}

// Scheduler runs delayed callbacks one at a time on a single goroutine.
type Scheduler struct {
	mu      sync.Mutex
	pending map[*Timer]struct{}
	ready   []*Timer
	closed  bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}

	logger *slog.Logger
}

// NewScheduler starts the scheduler goroutine.
func NewScheduler(logger *slog.Logger) *Scheduler {
	s := &Scheduler{
		pending: make(map[*Timer]struct{}),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger.With("component", "scheduler"),
	}
	go s.run()
	return s
}

// Schedule arranges for fn to run on the scheduler goroutine after delay.
// It returns nil once the scheduler has been shut down.
func (s *Scheduler) Schedule(delay time.Duration, fn func()) *Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	tm := &Timer{s: s, fn: fn}
	s.pending[tm] = struct{}{}
	tm.t = time.AfterFunc(delay, func() { s.enqueue(tm) })
	return tm
}

// Pending returns the number of callbacks that have not run yet.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.pending)
	for _, tm := range s.ready {
		if tm.state == timerQueued {
			n++
		}
	}
	return n
}

func (s *Scheduler) enqueue(tm *Timer) {
	s.mu.Lock()
	if s.closed || tm.state != timerScheduled {
		s.mu.Unlock()
		return
	}
	delete(s.pending, tm)
	tm.state = timerQueued
	s.ready = append(s.ready, tm)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) next() *Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.ready) > 0 && !s.closed {
		tm := s.ready[0]
		s.ready[0] = nil
		s.ready = s.ready[1:]
		if tm.state == timerQueued {
			tm.state = timerRunning
			return tm
		}
	}
	return nil
}

func (s *Scheduler) run() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case <-s.wake:
			for tm := s.next(); tm != nil; tm = s.next() {
				s.exec(tm)
			}
		}
	}
}

func (s *Scheduler) exec(tm *Timer) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled callback panicked", "panic", r)
		}
		s.mu.Lock()
		tm.state = timerDone
		s.mu.Unlock()
	}()
	tm.fn()
}

// Shutdown cancels every callback that has not started and stops the
// scheduler goroutine, waiting at most grace for a running callback to
// return. On timeout the goroutine is abandoned and ErrShutdownTimeout is
// returned. Calling Shutdown more than once is a no-op.
func (s *Scheduler) Shutdown(grace time.Duration) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for tm := range s.pending {
		tm.t.Stop()
		tm.state = timerCancelled
	}
	s.pending = nil
	for _, tm := range s.ready {
		tm.state = timerCancelled
	}
	s.ready = nil
	s.mu.Unlock()

	close(s.quit)

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-s.done:
		return nil
	case <-timer.C:
		s.logger.Warn("scheduler did not stop within grace period, abandoning", "grace", grace)
		return ErrShutdownTimeout
	}
}

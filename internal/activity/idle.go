package activity

import (
	"sync"
	"time"
)

// IdleState is the state of an IdleTimer.
type IdleState int

const (
	IdleDisarmed IdleState = iota
	IdleArmed
	IdleFired
)

func (s IdleState) String() string {
	switch s {
	case IdleArmed:
		return "armed"
	case IdleFired:
		return "fired"
	default:
		return "disarmed"
	}
}

// IdleTimer fires once after a period with no Rearm calls. It is not safe
// for concurrent use on its own: every method must be called with lock held,
// and the fire callback runs on the scheduler goroutine with lock held too,
// so state changes and firing share one critical section.
type IdleTimer struct {
	lock    sync.Locker
	sched   *Scheduler
	timeout time.Duration
	fire    func()

	timer *Timer
	gen   uint64
	state IdleState
}

// NewIdleTimer returns a disarmed timer. fire is invoked with lock held.
func NewIdleTimer(lock sync.Locker, sched *Scheduler, timeout time.Duration, fire func()) *IdleTimer {
	return &IdleTimer{
		lock:    lock,
		sched:   sched,
		timeout: timeout,
		fire:    fire,
	}
}

// Rearm cancels any pending firing and schedules a new one timeout from now.
func (it *IdleTimer) Rearm() {
	it.timer.Cancel()
	it.gen++
	gen := it.gen
	it.timer = it.sched.Schedule(it.timeout, func() { it.onFire(gen) })
	if it.timer == nil {
		// Scheduler is shut down.
		it.state = IdleDisarmed
		return
	}
	it.state = IdleArmed
}

// Cancel disarms the timer.
func (it *IdleTimer) Cancel() {
	it.timer.Cancel()
	it.timer = nil
	it.gen++
	it.state = IdleDisarmed
}

// State returns the current state.
func (it *IdleTimer) State() IdleState {
	return it.state
}

func (it *IdleTimer) onFire(gen uint64) {
	it.lock.Lock()
	defer it.lock.Unlock()

	// A Rearm or Cancel that won the lock first supersedes this firing.
	if gen != it.gen || it.state != IdleArmed {
		return
	}
	it.timer = nil
	it.state = IdleFired
	it.fire()
}

package vm

import (
	"fmt"
	"slices"
)

// ---------------------------------------------------------------------------
// Semaphore: counting semaphore over the scheduler's suspend/restore
// ---------------------------------------------------------------------------

// Semaphore is a counting semaphore for user-level threads. A thread that
// cannot acquire is suspended and queued; a release hands the permit
// straight to the head of the queue, so waiters are served in FIFO order and
// the counter never sees the hand-off.
type Semaphore struct {
	scheduler *Scheduler
	permits   int
	capacity  int
	waiting   []*Thread
	holders   map[*Thread]int
}

// NewSemaphore creates a semaphore with the given number of permits and
// registers it with s for teardown. A negative count is treated as zero.
func NewSemaphore(s *Scheduler, permits int) *Semaphore {
	if permits < 0 {
		permits = 0
	}
	sem := &Semaphore{
		scheduler: s,
		permits:   permits,
		capacity:  permits,
		holders:   make(map[*Thread]int),
	}
	s.registerSemaphore(sem)
	return sem
}

// Acquire takes a permit for t. It returns true when a permit was free.
// Otherwise t is blocked and queued; it holds the permit once a release
// restores it, so the acquiring step should simply move on.
func (sem *Semaphore) Acquire(t *Thread) bool {
	if sem.TryAcquire(t) {
		return true
	}
	sem.waiting = append(sem.waiting, t)
	sem.scheduler.SuspendThread(t)
	return false
}

// TryAcquire takes a permit for t if one is free and never blocks.
func (sem *Semaphore) TryAcquire(t *Thread) bool {
	if sem.permits == 0 {
		return false
	}
	sem.permits--
	sem.holders[t]++
	return true
}

// Release gives back a permit held by t. With checked release enabled (the
// scheduler default) a thread holding no permit gets an
// IllegalMonitorStateException thrown into it and Release returns false.
func (sem *Semaphore) Release(t *Thread) bool {
	if n, ok := sem.holders[t]; ok {
		if n <= 1 {
			delete(sem.holders, t)
		} else {
			sem.holders[t] = n - 1
		}
	} else if sem.scheduler.checkedRelease {
		msg := fmt.Sprintf("%s released a permit it does not hold", t.Name())
		t.ThrowNew(IllegalMonitorStateException, msg)
		return false
	}

	for len(sem.waiting) > 0 {
		next := sem.waiting[0]
		sem.waiting[0] = nil
		sem.waiting = sem.waiting[1:]
		if next.state.IsTerminal() {
			continue
		}
		sem.holders[next]++
		sem.scheduler.RestoreThread(next)
		return true
	}
	sem.permits++
	return true
}

// Permits returns the number of free permits.
func (sem *Semaphore) Permits() int { return sem.permits }

// Capacity returns the initial permit count.
func (sem *Semaphore) Capacity() int { return sem.capacity }

// Waiting returns the queued threads, head first.
func (sem *Semaphore) Waiting() []*Thread { return slices.Clone(sem.waiting) }

// Holds reports whether t holds at least one permit.
func (sem *Semaphore) Holds(t *Thread) bool { return sem.holders[t] > 0 }

func (sem *Semaphore) String() string {
	return fmt.Sprintf("Semaphore[%d/%d, %d waiting]", sem.permits, sem.capacity, len(sem.waiting))
}

// reset drops waiters and holders when the run is torn down.
func (sem *Semaphore) reset() {
	sem.waiting = nil
	clear(sem.holders)
	sem.permits = sem.capacity
}

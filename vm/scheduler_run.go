package vm

import "slices"

// ---------------------------------------------------------------------------
// Quota loop
// ---------------------------------------------------------------------------

// Run executes one quota slice of at most maxSteps steps spread round-robin
// over the runnable threads, each getting at most ceil(maxSteps/runnable).
// The next call starts with the thread after the last one serviced. Steps
// a thread leaves unused are not handed to the others: the slice ends when
// the next thread in line has had its full share.
//
// A watchdog compares the step counter each time the round-robin index wraps
// to 0: a full round without progress means every thread is stuck and Run
// returns NothingMoreToDo instead of spinning.
func (s *Scheduler) Run(maxSteps int) RunResult {
	if s.state != SchedulerRunning || len(s.runnable) == 0 || maxSteps <= 0 {
		return NothingMoreToDo
	}
	perThread := (maxSteps + len(s.runnable) - 1) / len(s.runnable)
	remaining := maxSteps
	roundStart := s.stepsThisRun
	throttled := false
	turns := 0 // thread turns since the last watchdog check
	granted := make(map[*Thread]int, len(s.runnable))

	for remaining > 0 {
		if s.state != SchedulerRunning {
			return NothingMoreToDo
		}
		if len(s.runnable) == 0 {
			return s.noRunnableThreads()
		}
		if s.currentIndex >= len(s.runnable) {
			s.currentIndex = 0
		}
		if s.currentIndex == 0 && !s.keepThread && turns >= len(s.runnable) {
			if s.stepsThisRun == roundStart {
				if throttled {
					return GiveMeAdditionalTime
				}
				return NothingMoreToDo
			}
			roundStart = s.stepsThisRun
			throttled = false
			turns = 0
		}
		turns++

		t := s.runnable[s.currentIndex]
		used := granted[t]
		if used >= perThread {
			return GiveMeAdditionalTime
		}
		budget := t.allowance(min(perThread-used, remaining), s.now())
		n := 0
		if budget > 0 {
			n = t.Run(budget)
		} else {
			throttled = true
		}
		granted[t] = used + n
		s.stepsThisRun += int64(n)
		s.totalSteps += int64(n)
		remaining -= n

		switch t.state {
		case ThreadTerminated:
			s.retire(t)
			s.keepThread = false
			s.log.Debugf("%s finished", t)
			if len(s.runnable) == 0 {
				return s.lastThreadFinished()
			}
			continue
		case ThreadTerminatedWithException:
			s.retire(t)
			s.uncaught = t
			s.log.Warningf("uncaught exception in %s: %s", t.Name(), t.Exception())
			s.setState(SchedulerError)
			return NothingMoreToDo
		case ThreadStoppedAtBreakpoint:
			t.ResumeFromBreakpoint()
			s.pauseAt(t)
			return NothingMoreToDo
		}

		if s.state != SchedulerRunning {
			// A completed single step paused us on this thread.
			return NothingMoreToDo
		}
		stillCurrent := s.currentIndex < len(s.runnable) && s.runnable[s.currentIndex] == t
		if s.keepThread {
			if !stillCurrent {
				// The kept thread blocked; the others must run to free it.
				s.keepThread = false
			} else if n == 0 {
				if budget == 0 {
					return GiveMeAdditionalTime
				}
				return NothingMoreToDo
			}
			continue
		}
		if stillCurrent {
			s.currentIndex = (s.currentIndex + 1) % len(s.runnable)
		}
	}
	return GiveMeAdditionalTime
}

// lastThreadFinished ends the run when the last runnable thread terminates
// and no external actor is registered. Threads still blocked are torn down
// with the rest.
func (s *Scheduler) lastThreadFinished() RunResult {
	if s.actors > 0 {
		return s.noRunnableThreads()
	}
	if n := len(s.suspended); n > 0 {
		s.log.Noticef("last runnable thread finished, %d blocked threads terminated", n)
	}
	s.setState(SchedulerStopped)
	return NothingMoreToDo
}

// noRunnableThreads decides what an empty runnable pool means when the last
// runnable thread blocked: the program is done, or every thread is waiting
// (deadlock or external actors).
func (s *Scheduler) noRunnableThreads() RunResult {
	if len(s.suspended) == 0 && s.actors == 0 {
		s.setState(SchedulerStopped)
		return NothingMoreToDo
	}
	if len(s.suspended) > 0 && !s.deadlocked {
		s.deadlocked = true
		s.log.Noticef("no runnable threads, %d blocked", len(s.suspended))
	}
	return NothingMoreToDo
}

func (s *Scheduler) pauseAt(t *Thread) {
	s.keepThread = false
	if i := slices.Index(s.runnable, t); i >= 0 {
		s.currentIndex = i
	}
	if s.state == SchedulerRunning {
		s.setState(SchedulerPaused)
	}
	pos, _ := s.Position()
	s.observer.Paused(pos)
}

// ---------------------------------------------------------------------------
// Position reporting
// ---------------------------------------------------------------------------

// Position describes where the current thread will continue. ok is false
// when there is no live thread.
func (s *Scheduler) Position() (PositionInfo, bool) {
	t := s.CurrentThread()
	if t == nil {
		return PositionInfo{}, false
	}
	return t.Position()
}

// Position describes where t will continue.
func (t *Thread) Position() (PositionInfo, bool) {
	f := t.CurrentFrame()
	if f == nil {
		return PositionInfo{}, false
	}
	return PositionInfo{
		Module:        f.program.Module,
		Range:         f.currentRange(),
		NextStepIndex: f.index,
		Program:       f.program,
		ThreadID:      t.id,
		ThreadName:    t.name,
	}, true
}

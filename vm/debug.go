package vm

// ---------------------------------------------------------------------------
// Debugger commands
// ---------------------------------------------------------------------------

// StepMode selects how far a debugger step runs.
type StepMode int

const (
	// StepInto stops after the next step, inside a callee if it calls one.
	StepInto StepMode = iota
	// StepOver stops at the next step of the current frame, running any
	// calls in between to completion.
	StepOver
	// StepOut stops in the caller once the current frame has returned.
	StepOut
)

func (m StepMode) String() string {
	switch m {
	case StepInto:
		return "step into"
	case StepOver:
		return "step over"
	case StepOut:
		return "step out"
	}
	return "step"
}

// RunSingleStepKeepingThread performs a debugger step on the current thread
// of a paused scheduler. The thread's single-step boundary is armed, the
// scheduler is forced to Running and one quota of size 1 runs. If the
// boundary is not reached yet (a step over a call, a step out), the
// scheduler stays Running on the same thread through later Run calls and
// returns to Paused when the boundary is reached; done is called then.
func (s *Scheduler) RunSingleStepKeepingThread(mode StepMode, done func()) error {
	if s.state == SchedulerNotInitialized {
		return ErrNotInitialized
	}
	if s.state != SchedulerPaused {
		return ErrNotPaused
	}
	t := s.CurrentThread()
	if t == nil {
		return ErrNoCurrentThread
	}
	depth := t.Depth()
	index := t.CurrentFrame().index
	if mode == StepOut {
		depth, index = depth-1, -1
	}
	t.ArmSingleStep(depth, index, mode == StepInto, func() {
		s.keepThread = false
		if s.state == SchedulerRunning {
			s.pauseAt(t)
		}
		if done != nil {
			done()
		}
	})
	s.keepThread = true
	s.setState(SchedulerRunning)
	s.Run(1)
	return nil
}

// StepOver is RunSingleStepKeepingThread(StepOver, done).
func (s *Scheduler) StepOver(done func()) error {
	return s.RunSingleStepKeepingThread(StepOver, done)
}

// StepInto is RunSingleStepKeepingThread(StepInto, done).
func (s *Scheduler) StepInto(done func()) error {
	return s.RunSingleStepKeepingThread(StepInto, done)
}

// StepOut is RunSingleStepKeepingThread(StepOut, done).
func (s *Scheduler) StepOut(done func()) error {
	return s.RunSingleStepKeepingThread(StepOut, done)
}

// SetSingleStepMode switches the step sequence used by frames pushed from
// now on, on every live and future thread.
func (s *Scheduler) SetSingleStepMode(on bool) {
	s.singleStepMode = on
	for _, t := range s.runnable {
		t.SetSingleStepMode(on)
	}
	for _, t := range s.suspended {
		t.SetSingleStepMode(on)
	}
}

// SetHaltAtBreakpoints enables or disables breakpoints on every live and
// future thread.
func (s *Scheduler) SetHaltAtBreakpoints(on bool) {
	s.haltAtBreakpoints = on
	for _, t := range s.runnable {
		t.SetHaltAtBreakpoints(on)
	}
	for _, t := range s.suspended {
		t.SetHaltAtBreakpoints(on)
	}
}

package vm

// ---------------------------------------------------------------------------
// Execution loop
// ---------------------------------------------------------------------------

// Run executes up to maxSteps steps and returns how many ran. It stops early
// when the thread blocks, terminates, halts at a breakpoint or completes an
// armed single step. A panic inside a step never escapes: it is thrown into
// the thread as a RuntimeException (or as itself if it is an *Exception).
func (t *Thread) Run(maxSteps int) int {
	if t.state == ThreadNew {
		t.state = ThreadRunnable
	}
	executed := 0
	for executed < maxSteps && t.state == ThreadRunnable {
		if t.runSlice(maxSteps, &executed) {
			break
		}
	}
	t.steps += int64(executed)
	return executed
}

// runSlice runs one of the inner loops under a recover. It reports true
// when an armed single step completed.
func (t *Thread) runSlice(maxSteps int, executed *int) (stepCompleted bool) {
	defer func() {
		if r := recover(); r != nil {
			*executed++
			ex := wrapHostPanic(r)
			if ex.Range.IsZero() {
				ex.Range = t.lastRange()
			}
			t.Throw(ex)
			stepCompleted = t.checkSingleStep()
		}
	}()
	if t.stopDepth >= 0 {
		return t.runChecked(maxSteps, executed)
	}
	t.runFast(maxSteps, executed)
	return false
}

func (t *Thread) runFast(maxSteps int, executed *int) {
	for *executed < maxSteps && t.state == ThreadRunnable {
		if !t.execStep() {
			return
		}
		*executed++
	}
}

func (t *Thread) runChecked(maxSteps int, executed *int) bool {
	if t.checkSingleStep() {
		return true
	}
	for *executed < maxSteps && t.state == ThreadRunnable {
		if !t.execStep() {
			return false
		}
		*executed++
		if t.checkSingleStep() {
			return true
		}
	}
	return false
}

// execStep runs the current frame's current step. It returns false without
// running anything when the thread halts at a breakpoint.
func (t *Thread) execStep() bool {
	f := t.frames[len(t.frames)-1]
	if f.index >= len(f.steps) {
		// Falling off the end of a body is an implicit void return.
		f.last = len(f.steps) - 1
		t.ReturnVoid()
		return true
	}
	st := f.steps[f.index]
	if t.haltAtBreakpoints && !t.skipBreakpoint && st.IsBreakpoint() {
		t.state = ThreadStoppedAtBreakpoint
		return false
	}
	t.skipBreakpoint = false
	f.last = f.index
	t.redirected = false
	next := st.Run(t, t.stack, f.base)
	if !t.redirected {
		f.index = next
	}
	return true
}

// ResumeFromBreakpoint makes a thread halted at a breakpoint runnable again.
// The breakpoint step itself runs next without halting a second time.
func (t *Thread) ResumeFromBreakpoint() {
	if t.state == ThreadStoppedAtBreakpoint {
		t.state = ThreadRunnable
		t.skipBreakpoint = true
	}
}

// ---------------------------------------------------------------------------
// Single stepping
// ---------------------------------------------------------------------------

// ArmSingleStep makes Run stop as soon as the activation depth drops below
// depth, or sits at depth with a step index other than index. With into set
// it also stops on entering a deeper frame. done is then called once.
func (t *Thread) ArmSingleStep(depth, index int, into bool, done func()) {
	t.stopDepth = depth
	t.stopIndex = index
	t.stopInto = into
	t.stepDone = done
}

// DisarmSingleStep cancels an armed single step without calling its callback.
func (t *Thread) DisarmSingleStep() {
	t.stopDepth = -1
	t.stopIndex = -1
	t.stopInto = false
	t.stepDone = nil
}

// SingleStepArmed reports whether a single-step boundary is set.
func (t *Thread) SingleStepArmed() bool {
	return t.stopDepth >= 0
}

// IsSingleStepCompleted reports whether the armed boundary has been reached.
func (t *Thread) IsSingleStepCompleted() bool {
	if t.stopDepth < 0 {
		return false
	}
	depth := len(t.frames)
	if depth == 0 || depth < t.stopDepth || (t.stopInto && depth > t.stopDepth) {
		return true
	}
	return depth == t.stopDepth && t.frames[depth-1].index != t.stopIndex
}

// checkSingleStep fires the callback of a completed single step. A thread
// that blocked mid step keeps its boundary until it runs again.
func (t *Thread) checkSingleStep() bool {
	if t.state == ThreadBlocked || !t.IsSingleStepCompleted() {
		return false
	}
	done := t.stepDone
	t.DisarmSingleStep()
	if done != nil {
		done()
	}
	return true
}

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

// Throw raises ex in the thread. Frames are searched innermost first and,
// inside a frame, try regions innermost first. The first catch clause whose
// types intersect ex's type chain wins: its frame resumes at the clause
// target with the operand stack trimmed back to the size recorded on try
// entry. A try region without a matching clause but with a finally block
// runs the finally block first; EndFinally continues the unwinding. Finally
// blocks already running in a frame keep their own pending exceptions unless
// ex leaves them. When nothing catches ex the thread terminates with it.
func (t *Thread) Throw(ex *Exception) {
	t.redirected = true
	if ex.trace == nil {
		ex.trace = t.captureTrace()
	}
	chain := ex.TypeChain()
	for len(t.frames) > 0 {
		f := t.frames[len(t.frames)-1]
		for len(f.tries) > 0 {
			n := len(f.tries)
			region := f.tries[n-1]
			f.tries[n-1] = nil
			f.tries = f.tries[:n-1]
			f.abandonFinallies()

			if target, ok := region.match(chain); ok {
				t.stack.Truncate(region.StackSize)
				f.index = target
				f.caught = ex
				if region.FinallyIndex >= 0 {
					f.enterFinally(nil)
				}
				return
			}
			if region.FinallyIndex >= 0 {
				t.stack.Truncate(region.StackSize)
				f.index = region.FinallyIndex
				f.enterFinally(ex)
				return
			}
		}
		t.popFrame()
	}
	t.exception = ex
	t.trace = ex.trace
	t.terminate(ThreadTerminatedWithException)
}

// ThrowNew is Throw for a fresh exception raised at the running step.
func (t *Thread) ThrowNew(class *ClassDescriptor, message string) {
	t.Throw(NewExceptionAt(class, message, t.lastRange()))
}

// lastRange is the source range of the step the thread started last.
func (t *Thread) lastRange() SourceRange {
	f := t.CurrentFrame()
	if f == nil || f.last < 0 || f.last >= len(f.steps) {
		return SourceRange{}
	}
	return f.steps[f.last].Range
}

func (t *Thread) captureTrace() []StackTraceEntry {
	trace := make([]StackTraceEntry, 0, len(t.frames))
	for i := len(t.frames) - 1; i >= 0; i-- {
		trace = append(trace, t.frames[i].traceEntry())
	}
	return trace
}

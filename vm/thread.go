package vm

import (
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Thread state
// ---------------------------------------------------------------------------

// ThreadState is the life-cycle state of a user-level thread.
type ThreadState int

const (
	ThreadNew ThreadState = iota
	ThreadRunnable
	ThreadBlocked
	ThreadStoppedAtBreakpoint
	ThreadTerminated
	ThreadTerminatedWithException
)

var threadStateNames = [...]string{
	ThreadNew:                     "new",
	ThreadRunnable:                "runnable",
	ThreadBlocked:                 "blocked",
	ThreadStoppedAtBreakpoint:     "stopped at breakpoint",
	ThreadTerminated:              "terminated",
	ThreadTerminatedWithException: "terminated with exception",
}

func (s ThreadState) String() string {
	if int(s) >= 0 && int(s) < len(threadStateNames) {
		return threadStateNames[s]
	}
	return fmt.Sprintf("ThreadState(%d)", int(s))
}

// IsTerminal reports whether the thread can never run again.
func (s ThreadState) IsTerminal() bool {
	return s == ThreadTerminated || s == ThreadTerminatedWithException
}

// ---------------------------------------------------------------------------
// Thread
// ---------------------------------------------------------------------------

// Thread is one cooperative user-level thread. It owns an operand stack and
// an activation stack and is only ever advanced by its Scheduler.
type Thread struct {
	id        int
	name      string
	scheduler *Scheduler
	stack     *OperandStack
	frames    []*Frame
	state     ThreadState

	haltAtBreakpoints bool
	skipBreakpoint    bool // resuming from a breakpoint: run that step once
	singleStepMode    bool // new frames use the instrumented sequence

	// Single-step sentinel. stopDepth < 0 means nothing is armed.
	stopDepth int
	stopIndex int
	stopInto  bool
	stepDone  func()

	maxStepsPerSecond float64
	lastStepTime      time.Time

	redirected bool // the running step moved control itself (throw)

	result    Value
	exception *Exception
	trace     []StackTraceEntry
	joiners   []*Thread
	steps     int64
}

func newThread(s *Scheduler, id int, name string) *Thread {
	return &Thread{
		id:                id,
		name:              name,
		scheduler:         s,
		stack:             newOperandStack(),
		state:             ThreadNew,
		haltAtBreakpoints: true,
		stopDepth:         -1,
		stopIndex:         -1,
	}
}

// ID returns the scheduler-assigned handle.
func (t *Thread) ID() int { return t.id }

// Name returns the thread name ("main", "Thread-1", ...).
func (t *Thread) Name() string { return t.name }

// State returns the current state.
func (t *Thread) State() ThreadState { return t.state }

// Scheduler returns the owning scheduler.
func (t *Thread) Scheduler() *Scheduler { return t.scheduler }

// Stack returns the operand stack.
func (t *Thread) Stack() *OperandStack { return t.stack }

// Depth is the number of active frames.
func (t *Thread) Depth() int { return len(t.frames) }

// CurrentFrame returns the innermost frame, or nil.
func (t *Thread) CurrentFrame() *Frame {
	if len(t.frames) == 0 {
		return nil
	}
	return t.frames[len(t.frames)-1]
}

// Frames returns the activation stack, outermost first.
func (t *Thread) Frames() []*Frame {
	out := make([]*Frame, len(t.frames))
	copy(out, t.frames)
	return out
}

// Result is the value the thread's outermost frame returned.
func (t *Thread) Result() Value { return t.result }

// Exception is the uncaught exception that terminated the thread, or nil.
func (t *Thread) Exception() *Exception { return t.exception }

// StackTrace is the trace captured for the uncaught exception.
func (t *Thread) StackTrace() []StackTraceEntry { return t.trace }

// StepsExecuted counts all steps the thread has run.
func (t *Thread) StepsExecuted() int64 { return t.steps }

// SetHaltAtBreakpoints controls whether breakpoint steps stop this thread.
func (t *Thread) SetHaltAtBreakpoints(on bool) { t.haltAtBreakpoints = on }

// SetSingleStepMode makes frames pushed from now on run the instrumented
// step sequence. Frames already on the stack keep their sequence.
func (t *Thread) SetSingleStepMode(on bool) { t.singleStepMode = on }

// SetMaxStepsPerSecond caps the thread's execution rate. Zero or a negative
// rate removes the cap.
func (t *Thread) SetMaxStepsPerSecond(rate float64) {
	if rate < 0 {
		rate = 0
	}
	t.maxStepsPerSecond = rate
}

// MaxStepsPerSecond returns the rate cap, 0 when uncapped.
func (t *Thread) MaxStepsPerSecond() float64 { return t.maxStepsPerSecond }

// allowance trims budget to what the rate cap permits at now.
func (t *Thread) allowance(budget int, now time.Time) int {
	if t.maxStepsPerSecond <= 0 {
		return budget
	}
	if t.lastStepTime.IsZero() {
		t.lastStepTime = now
		return min(budget, 1)
	}
	allowed := int(now.Sub(t.lastStepTime).Seconds() * t.maxStepsPerSecond)
	if allowed <= 0 {
		return 0
	}
	t.lastStepTime = now
	return min(budget, allowed)
}

func (t *Thread) String() string {
	return fmt.Sprintf("Thread[%d,%s,%s]", t.id, t.name, t.state)
}

// ---------------------------------------------------------------------------
// Calls and returns
// ---------------------------------------------------------------------------

// PushProgram enters p. The caller has already pushed p's receiver and
// parameters; they become the first locals of the new frame and the
// remaining locals are filled with Null. When the frame returns, cont (if
// not nil) receives the result instead of the caller's operand stack.
func (t *Thread) PushProgram(p *Program, cont Continuation) {
	if len(t.frames) >= MaxFrameDepth {
		t.Throw(NewException(StackOverflowError, ""))
		return
	}
	base := t.stack.Len() - p.ArgumentSlots()
	if base < 0 {
		panic(fmt.Errorf("push %s: %w: needs %d argument slots, stack holds %d",
			p.Identifier, ErrInvalidProgram, p.ArgumentSlots(), t.stack.Len()))
	}
	for i := 0; i < p.LocalVariableCount; i++ {
		t.stack.Push(Null)
	}
	seq := SequenceFast
	if t.singleStepMode {
		seq = SequenceSingleStep
	}
	t.frames = append(t.frames, &Frame{
		program:      p,
		sequence:     seq,
		steps:        p.Sequence(seq),
		last:         -1,
		base:         base,
		continuation: cont,
	})
}

// Return leaves the current frame with v.
func (t *Thread) Return(v Value) {
	t.finishFrame(v, true)
}

// ReturnVoid leaves the current frame without a value.
func (t *Thread) ReturnVoid() {
	t.finishFrame(Null, false)
}

func (t *Thread) finishFrame(v Value, hasValue bool) {
	f := t.popFrame()
	if f == nil {
		return
	}
	switch {
	case f.continuation != nil:
		f.continuation(v)
	case hasValue && len(t.frames) > 0:
		t.stack.Push(v)
	}
	if len(t.frames) == 0 && !t.state.IsTerminal() {
		t.result = v
		t.terminate(ThreadTerminated)
	}
}

func (t *Thread) popFrame() *Frame {
	n := len(t.frames)
	if n == 0 {
		return nil
	}
	f := t.frames[n-1]
	t.frames[n-1] = nil
	t.frames = t.frames[:n-1]
	t.stack.Truncate(f.base)
	return f
}

// ---------------------------------------------------------------------------
// Try regions
// ---------------------------------------------------------------------------

// EnterTry activates a try block in the current frame, recording the
// operand-stack size to restore when an exception lands in one of its
// handlers. finallyIndex is -1 when there is no finally block.
func (t *Thread) EnterTry(catches []CatchClause, finallyIndex int) {
	f := t.CurrentFrame()
	f.tries = append(f.tries, &TryRegion{
		Catches:      catches,
		FinallyIndex: finallyIndex,
		StackSize:    t.stack.Len(),
	})
}

// ExitTry deactivates the innermost try block of the current frame when its
// body completes normally. A block with a finally continues into it.
func (t *Thread) ExitTry() {
	f := t.CurrentFrame()
	if n := len(f.tries); n > 0 {
		region := f.tries[n-1]
		f.tries[n-1] = nil
		f.tries = f.tries[:n-1]
		if region.FinallyIndex >= 0 {
			f.enterFinally(nil)
		}
	}
}

// CaughtException hands the exception delivered to the running catch block
// to the caller and forgets it.
func (t *Thread) CaughtException() *Exception {
	f := t.CurrentFrame()
	if f == nil {
		return nil
	}
	ex := f.caught
	f.caught = nil
	return ex
}

// EndFinally marks the end of a finally block. If the block ran because an
// exception was unwinding, the exception continues outward.
func (t *Thread) EndFinally() {
	f := t.CurrentFrame()
	if f == nil || len(f.finallies) == 0 {
		return
	}
	n := len(f.finallies)
	rec := f.finallies[n-1]
	f.finallies[n-1] = finallyRecord{}
	f.finallies = f.finallies[:n-1]
	if rec.ex != nil {
		t.Throw(rec.ex)
	}
}

// ---------------------------------------------------------------------------
// Joining
// ---------------------------------------------------------------------------

// Join blocks t until target terminates. It returns true when target has
// already finished and t can carry on without blocking.
func (t *Thread) Join(target *Thread) bool {
	if target == t || target.state.IsTerminal() {
		return true
	}
	target.joiners = append(target.joiners, t)
	t.scheduler.SuspendThread(t)
	return false
}

func (t *Thread) terminate(state ThreadState) {
	t.state = state
	joiners := t.joiners
	t.joiners = nil
	for _, j := range joiners {
		if j.state == ThreadBlocked {
			t.scheduler.RestoreThread(j)
		}
	}
}

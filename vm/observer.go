package vm

import "time"

// PositionInfo tells an editor where a thread will continue: the module and
// source range of its next step, plus the program and index for debuggers.
type PositionInfo struct {
	Module        string
	Range         SourceRange
	NextStepIndex int
	Program       *Program
	ThreadID      int
	ThreadName    string
}

// RunStatistics summarises one stretch of Running.
type RunStatistics struct {
	State          SchedulerState // the state the run ended in
	Steps          int64
	Duration       time.Duration
	StepsPerSecond float64
}

// Observer receives scheduler events. Calls happen synchronously on the
// goroutine driving the scheduler, so implementations must be quick and must
// not call back into Run.
type Observer interface {
	// StateChanged is called after every life-cycle transition.
	StateChanged(prev, next SchedulerState)

	// ThreadTerminated is called when a thread leaves the live pools on its
	// own (not on forced teardown).
	ThreadTerminated(t *Thread)

	// Paused is called when a breakpoint or a completed single step pauses
	// the scheduler.
	Paused(pos PositionInfo)

	// RunFinished is called with throughput statistics when Running ends in
	// Stopped or Error.
	RunFinished(stats RunStatistics)
}

// NoOpObserver implements Observer with empty methods. Embed it to
// implement only the events you need.
type NoOpObserver struct{}

func (NoOpObserver) StateChanged(SchedulerState, SchedulerState) {}
func (NoOpObserver) ThreadTerminated(*Thread)                    {}
func (NoOpObserver) Paused(PositionInfo)                         {}
func (NoOpObserver) RunFinished(RunStatistics)                   {}

var _ Observer = NoOpObserver{}

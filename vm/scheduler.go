package vm

import (
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Scheduler state
// ---------------------------------------------------------------------------

// SchedulerState is the life-cycle state of one program run.
type SchedulerState int

const (
	SchedulerNotInitialized SchedulerState = iota
	SchedulerRunning
	SchedulerPaused
	SchedulerStopped
	SchedulerError
)

var schedulerStateNames = [...]string{
	SchedulerNotInitialized: "not initialized",
	SchedulerRunning:        "running",
	SchedulerPaused:         "paused",
	SchedulerStopped:        "stopped",
	SchedulerError:          "error",
}

func (s SchedulerState) String() string {
	if int(s) >= 0 && int(s) < len(schedulerStateNames) {
		return schedulerStateNames[s]
	}
	return fmt.Sprintf("SchedulerState(%d)", int(s))
}

// IsFinal reports whether the run is over (stopped or erred).
func (s SchedulerState) IsFinal() bool {
	return s == SchedulerStopped || s == SchedulerError
}

// RunResult tells the host whether to schedule another quota slice.
type RunResult int

const (
	// NothingMoreToDo: idle until a control command or an external event.
	NothingMoreToDo RunResult = iota
	// GiveMeAdditionalTime: call Run again on the next slice.
	GiveMeAdditionalTime
)

func (r RunResult) String() string {
	if r == GiveMeAdditionalTime {
		return "give me additional time"
	}
	return "nothing more to do"
}

// ---------------------------------------------------------------------------
// Scheduler
// ---------------------------------------------------------------------------

// Scheduler multiplexes the user-level threads of one program run onto the
// caller's goroutine. It is not safe for concurrent use; hosts serialise
// access (see server.Driver).
type Scheduler struct {
	runnable     []*Thread
	suspended    []*Thread
	finished     []*Thread
	currentIndex int
	keepThread   bool
	state        SchedulerState

	stepsThisRun int64
	totalSteps   int64
	startTime    time.Time
	lastStats    RunStatistics

	main         *Program
	mainThread   *Thread
	uncaught     *Thread
	classes      *ClassRegistry
	semaphores   []*Semaphore
	actors       int
	nextThreadID int
	deadlocked   bool

	out               io.Writer
	observer          Observer
	now               func() time.Time
	log               commonlog.Logger
	checkedRelease    bool
	haltAtBreakpoints bool
	singleStepMode    bool
	defaultRate       float64
}

// NewScheduler creates a scheduler in the NotInitialized state.
func NewScheduler(options ...Option) *Scheduler {
	s := &Scheduler{
		out:               os.Stdout,
		observer:          NoOpObserver{},
		now:               time.Now,
		checkedRelease:    true,
		haltAtBreakpoints: true,
	}
	for _, opt := range options {
		opt(s)
	}
	if s.classes == nil {
		s.classes = NewClassRegistry()
	}
	if s.log == nil {
		s.log = commonlog.GetLogger("stepvm.scheduler")
	}
	return s
}

// Init resets the scheduler for a fresh run of main and creates the main
// thread. staticInit programs run on the main thread, in order, before the
// first step of main. Init leaves the scheduler Paused; call Start.
func (s *Scheduler) Init(main *Program, staticInit ...*Program) error {
	if main == nil {
		return fmt.Errorf("init: %w: no entry program", ErrInvalidProgram)
	}
	s.teardown()
	s.finished = nil
	s.uncaught = nil
	s.stepsThisRun = 0
	s.totalSteps = 0
	s.lastStats = RunStatistics{}
	s.nextThreadID = 0
	s.actors = 0
	s.main = main

	args := make([]Value, main.ArgumentSlots())
	for i := range args {
		args[i] = Ref(NewArray(Null, 0))
	}
	mainThread, err := s.CreateThread(main, args...)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	s.mainThread = mainThread
	s.mainThread.name = "main"
	for i := len(staticInit) - 1; i >= 0; i-- {
		s.mainThread.PushProgram(staticInit[i], nil)
	}

	prev := s.state
	s.state = SchedulerPaused
	s.log.Debugf("initialized %s with %d static initializers", main, len(staticInit))
	s.observer.StateChanged(prev, SchedulerPaused)
	return nil
}

// State returns the life-cycle state.
func (s *Scheduler) State() SchedulerState { return s.state }

// Classes returns the class registry of this run.
func (s *Scheduler) Classes() *ClassRegistry { return s.classes }

// MainThread returns the thread created by Init.
func (s *Scheduler) MainThread() *Thread { return s.mainThread }

// Program returns the entry program passed to Init.
func (s *Scheduler) Program() *Program { return s.main }

// UncaughtThread returns the thread whose exception put the scheduler into
// the Error state, or nil.
func (s *Scheduler) UncaughtThread() *Thread { return s.uncaught }

// CurrentThreadIndex is the round-robin position in the runnable pool.
func (s *Scheduler) CurrentThreadIndex() int { return s.currentIndex }

// Runnable returns a copy of the runnable pool in round-robin order.
func (s *Scheduler) Runnable() []*Thread { return slices.Clone(s.runnable) }

// Suspended returns a copy of the suspended pool.
func (s *Scheduler) Suspended() []*Thread { return slices.Clone(s.suspended) }

// Finished returns threads that terminated during this run, kept for
// inspection (final state, stack trace).
func (s *Scheduler) Finished() []*Thread { return slices.Clone(s.finished) }

// StepsExecuted counts steps since Running was last entered.
func (s *Scheduler) StepsExecuted() int64 { return s.stepsThisRun }

// TotalSteps counts all steps since Init.
func (s *Scheduler) TotalSteps() int64 { return s.totalSteps }

// LastStatistics returns the statistics of the last finished run.
func (s *Scheduler) LastStatistics() RunStatistics { return s.lastStats }

// CurrentThread returns the thread at the round-robin position, or nil.
func (s *Scheduler) CurrentThread() *Thread {
	if len(s.runnable) == 0 {
		return nil
	}
	if s.currentIndex >= len(s.runnable) {
		return s.runnable[0]
	}
	return s.runnable[s.currentIndex]
}

// ---------------------------------------------------------------------------
// Life cycle
// ---------------------------------------------------------------------------

// Start moves a paused scheduler to Running.
func (s *Scheduler) Start() error {
	switch s.state {
	case SchedulerNotInitialized:
		return ErrNotInitialized
	case SchedulerPaused:
		s.setState(SchedulerRunning)
		return nil
	case SchedulerRunning:
		return nil
	}
	return fmt.Errorf("start from %s: %w", s.state, ErrInvalidTransition)
}

// Resume continues after a pause. Pending single steps are cancelled:
// resuming means running freely until the next breakpoint.
func (s *Scheduler) Resume() error {
	if s.state == SchedulerPaused {
		s.keepThread = false
		for _, t := range s.runnable {
			t.DisarmSingleStep()
		}
		for _, t := range s.suspended {
			t.DisarmSingleStep()
		}
	}
	return s.Start()
}

// Pause moves a running scheduler to Paused.
func (s *Scheduler) Pause() error {
	switch s.state {
	case SchedulerPaused:
		return nil
	case SchedulerRunning:
		s.keepThread = false
		s.setState(SchedulerPaused)
		return nil
	case SchedulerNotInitialized:
		return ErrNotInitialized
	}
	return fmt.Errorf("pause from %s: %w", s.state, ErrInvalidTransition)
}

// Stop ends the run. Every thread is terminated on the spot; finally
// blocks of in-flight frames do not run.
func (s *Scheduler) Stop() error {
	switch s.state {
	case SchedulerNotInitialized:
		return ErrNotInitialized
	case SchedulerStopped, SchedulerError:
		return nil
	}
	s.setState(SchedulerStopped)
	return nil
}

func (s *Scheduler) setState(next SchedulerState) {
	prev := s.state
	if prev == next {
		return
	}
	s.state = next
	switch {
	case next == SchedulerRunning:
		s.startTime = s.now()
		s.stepsThisRun = 0
	case next.IsFinal():
		if prev == SchedulerRunning {
			s.reportStatistics(next)
		}
		s.teardown()
	}
	s.log.Debugf("state %s -> %s", prev, next)
	s.observer.StateChanged(prev, next)
}

func (s *Scheduler) reportStatistics(final SchedulerState) {
	d := s.now().Sub(s.startTime)
	stats := RunStatistics{State: final, Steps: s.stepsThisRun, Duration: d}
	if secs := d.Seconds(); secs > 0 {
		stats.StepsPerSecond = float64(s.stepsThisRun) / secs
	}
	s.lastStats = stats
	s.log.Infof("run %s: %d steps in %s (%.0f steps/s)", final, stats.Steps, d.Round(time.Millisecond), stats.StepsPerSecond)
	s.observer.RunFinished(stats)
}

// teardown force-terminates every live thread and empties both pools.
func (s *Scheduler) teardown() {
	for _, pool := range [][]*Thread{s.runnable, s.suspended} {
		for _, t := range pool {
			if !t.state.IsTerminal() {
				t.state = ThreadTerminated
			}
			t.frames = nil
			t.joiners = nil
			t.stack.Truncate(0)
			t.DisarmSingleStep()
			s.finished = append(s.finished, t)
		}
	}
	s.runnable = nil
	s.suspended = nil
	s.currentIndex = 0
	s.keepThread = false
	s.deadlocked = false
	for _, sem := range s.semaphores {
		sem.reset()
	}
	s.semaphores = nil
}

// ---------------------------------------------------------------------------
// Threads
// ---------------------------------------------------------------------------

// CreateThread starts a new thread running p with the given receiver and
// arguments already on its operand stack. The thread joins the end of the
// runnable pool. args must fill p's argument slots exactly.
func (s *Scheduler) CreateThread(p *Program, args ...Value) (*Thread, error) {
	if p == nil {
		return nil, fmt.Errorf("create thread: %w: nil program", ErrInvalidProgram)
	}
	if len(args) != p.ArgumentSlots() {
		return nil, fmt.Errorf("create thread: %w: %s takes %d arguments, got %d",
			ErrInvalidProgram, p.Identifier, p.ArgumentSlots(), len(args))
	}
	s.nextThreadID++
	t := newThread(s, s.nextThreadID, fmt.Sprintf("Thread-%d", s.nextThreadID-1))
	t.haltAtBreakpoints = s.haltAtBreakpoints
	t.singleStepMode = s.singleStepMode
	t.SetMaxStepsPerSecond(s.defaultRate)
	for _, a := range args {
		t.stack.Push(a)
	}
	t.PushProgram(p, nil)
	t.state = ThreadRunnable
	s.runnable = append(s.runnable, t)
	return t, nil
}

// SuspendThread moves t from the runnable to the suspended pool and marks
// it blocked.
func (s *Scheduler) SuspendThread(t *Thread) {
	if i := slices.Index(s.runnable, t); i >= 0 {
		s.removeRunnableAt(i)
	}
	t.state = ThreadBlocked
	if !slices.Contains(s.suspended, t) {
		s.suspended = append(s.suspended, t)
	}
}

// RestoreThread moves a suspended thread back to the end of the runnable
// pool.
func (s *Scheduler) RestoreThread(t *Thread) {
	if t.state.IsTerminal() {
		return
	}
	if i := slices.Index(s.suspended, t); i >= 0 {
		s.suspended = slices.Delete(s.suspended, i, i+1)
	}
	t.state = ThreadRunnable
	if !slices.Contains(s.runnable, t) {
		s.runnable = append(s.runnable, t)
	}
	s.deadlocked = false
}

func (s *Scheduler) removeRunnableAt(i int) {
	s.runnable = slices.Delete(s.runnable, i, i+1)
	if i < s.currentIndex {
		s.currentIndex--
	}
}

func (s *Scheduler) retire(t *Thread) {
	if i := slices.Index(s.runnable, t); i >= 0 {
		s.removeRunnableAt(i)
	}
	s.finished = append(s.finished, t)
	s.observer.ThreadTerminated(t)
}

// RegisterActor records a long-lived external actor (a timer, a GUI event
// source) that may still create threads. While actors are registered the
// run does not stop when the last thread ends.
func (s *Scheduler) RegisterActor() { s.actors++ }

// UnregisterActor removes an actor registered with RegisterActor.
func (s *Scheduler) UnregisterActor() {
	if s.actors > 0 {
		s.actors--
	}
}

func (s *Scheduler) registerSemaphore(sem *Semaphore) {
	s.semaphores = append(s.semaphores, sem)
}

// ---------------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------------

// Print writes v to the output sink.
func (s *Scheduler) Print(v Value) {
	fmt.Fprint(s.out, v.String())
}

// Println writes v and a newline to the output sink.
func (s *Scheduler) Println(v Value) {
	fmt.Fprintln(s.out, v.String())
}

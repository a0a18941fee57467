package vm

import (
	"bytes"
	"testing"
	"time"
)

// op is a step body that always continues with the following step.
type op func(t *Thread, s *OperandStack, base int)

// linear turns ops into steps 0..n-1, step i on source line i+1.
func linear(ops ...op) []*Step {
	steps := make([]*Step, len(ops))
	for i, o := range ops {
		o := o
		next := i + 1
		steps[i] = NewStep(func(t *Thread, s *OperandStack, base int) int {
			o(t, s, base)
			return next
		}, SourceRange{StartLine: i + 1, StartColumn: 1, EndLine: i + 1, EndColumn: 20}, "")
	}
	return steps
}

func testProgram(id string, locals int, steps []*Step) *Program {
	return MustProgram(ProgramSpec{
		Identifier:         id,
		Module:             "Test.java",
		LocalVariableCount: locals,
		Steps:              steps,
	})
}

// loopProgram never terminates: its only step jumps to itself.
func loopProgram(id string) *Program {
	return testProgram(id, 0, []*Step{
		NewStep(func(*Thread, *OperandStack, int) int { return 0 }, SourceRange{}, "loop"),
	})
}

func nop(*Thread, *OperandStack, int) {}

func nops(n int) []op {
	ops := make([]op, n)
	for i := range ops {
		ops[i] = nop
	}
	return ops
}

func push(v Value) op {
	return func(_ *Thread, s *OperandStack, _ int) { s.Push(v) }
}

func call(p **Program) op {
	return func(t *Thread, _ *OperandStack, _ int) { t.PushProgram(*p, nil) }
}

func newTestScheduler(t *testing.T, opts ...Option) (*Scheduler, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	opts = append([]Option{WithOutput(&out)}, opts...)
	return NewScheduler(opts...), &out
}

// spawn creates a thread or fails the test.
func spawn(t *testing.T, s *Scheduler, p *Program, args ...Value) *Thread {
	t.Helper()
	th, err := s.CreateThread(p, args...)
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	return th
}

// startRun initialises s with main and moves it to Running.
func startRun(t *testing.T, s *Scheduler, main *Program, staticInit ...*Program) {
	t.Helper()
	if err := s.Init(main, staticInit...); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

// runToIdle calls Run until the scheduler asks for no more time.
func runToIdle(t *testing.T, s *Scheduler, quota int) {
	t.Helper()
	for i := 0; i < 10000; i++ {
		if s.Run(quota) == NothingMoreToDo {
			return
		}
	}
	t.Fatal("scheduler never went idle")
}

// fakeClock is a manually advanced clock for WithClock.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// recordingObserver keeps every event it receives.
type recordingObserver struct {
	NoOpObserver
	transitions []SchedulerState
	terminated  []*Thread
	paused      []PositionInfo
	finished    []RunStatistics
}

func (o *recordingObserver) StateChanged(_, next SchedulerState) {
	o.transitions = append(o.transitions, next)
}

func (o *recordingObserver) ThreadTerminated(t *Thread) {
	o.terminated = append(o.terminated, t)
}

func (o *recordingObserver) Paused(pos PositionInfo) {
	o.paused = append(o.paused, pos)
}

func (o *recordingObserver) RunFinished(stats RunStatistics) {
	o.finished = append(o.finished, stats)
}

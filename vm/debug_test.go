package vm

import (
	"errors"
	"testing"
)

// callFixture is main: nop, call callee, nop; callee: three nops.
func callFixture(t *testing.T) (s *Scheduler, main, callee *Program, obs *recordingObserver) {
	t.Helper()
	callee = testProgram("callee", 0, linear(nops(3)...))
	main = testProgram("main", 0, linear(nop, call(&callee), nop))
	obs = &recordingObserver{}
	s, _ = newTestScheduler(t, WithObserver(obs))
	return s, main, callee, obs
}

// runUntilPaused drives Run(1) slices until the scheduler leaves Running.
func runUntilPaused(t *testing.T, s *Scheduler) {
	t.Helper()
	for i := 0; i < 100 && s.State() == SchedulerRunning; i++ {
		s.Run(1)
	}
	if s.State() != SchedulerPaused {
		t.Fatalf("state = %v, want paused", s.State())
	}
}

func TestBreakpointPausesAndResumes(t *testing.T) {
	s, main, _, obs := callFixture(t)
	if err := main.SetBreakpoint(1, true); err != nil {
		t.Fatal(err)
	}
	defer main.SetBreakpoint(1, false)

	startRun(t, s, main)
	if r := s.Run(100); r != NothingMoreToDo {
		t.Errorf("Run = %v, want nothing more to do", r)
	}
	if s.State() != SchedulerPaused {
		t.Fatalf("state = %v, want paused", s.State())
	}
	pos, _ := s.Position()
	if pos.Program != main || pos.NextStepIndex != 1 {
		t.Errorf("paused at %s step %d, want main step 1", pos.Program, pos.NextStepIndex)
	}
	if len(obs.paused) != 1 {
		t.Errorf("Paused events = %d, want 1", len(obs.paused))
	}
	if s.MainThread().State() != ThreadRunnable {
		t.Errorf("thread state = %v, want runnable", s.MainThread().State())
	}

	if err := s.Resume(); err != nil {
		t.Fatal(err)
	}
	runToIdle(t, s, 100)
	if s.State() != SchedulerStopped {
		t.Errorf("state = %v, want stopped (breakpoint must not re-halt)", s.State())
	}
}

func TestHaltAtBreakpointsDisabled(t *testing.T) {
	s, main, _, _ := callFixture(t)
	main.SetBreakpoint(1, true)
	defer main.SetBreakpoint(1, false)

	s.SetHaltAtBreakpoints(false)
	startRun(t, s, main)
	runToIdle(t, s, 100)
	if s.State() != SchedulerStopped {
		t.Errorf("state = %v, want stopped", s.State())
	}
}

func TestStepOverCall(t *testing.T) {
	s, main, _, _ := callFixture(t)
	main.SetBreakpoint(1, true)
	defer main.SetBreakpoint(1, false)
	startRun(t, s, main)
	s.Run(100)

	done := false
	if err := s.StepOver(func() { done = true }); err != nil {
		t.Fatal(err)
	}
	if s.State() != SchedulerRunning {
		t.Fatalf("state after first slice = %v, want running (callee still active)", s.State())
	}
	runUntilPaused(t, s)

	if !done {
		t.Error("step callback not called")
	}
	pos, _ := s.Position()
	if pos.Program != main || pos.NextStepIndex != 2 {
		t.Errorf("stopped at %s step %d, want main step 2", pos.Program, pos.NextStepIndex)
	}
}

func TestStepIntoAndOut(t *testing.T) {
	s, main, callee, _ := callFixture(t)
	main.SetBreakpoint(1, true)
	defer main.SetBreakpoint(1, false)
	startRun(t, s, main)
	s.Run(100)

	if err := s.StepInto(nil); err != nil {
		t.Fatal(err)
	}
	if s.State() != SchedulerPaused {
		t.Fatalf("state = %v, want paused", s.State())
	}
	pos, _ := s.Position()
	if pos.Program != callee || pos.NextStepIndex != 0 {
		t.Fatalf("step into stopped at %s step %d, want callee step 0", pos.Program, pos.NextStepIndex)
	}

	if err := s.StepInto(nil); err != nil {
		t.Fatal(err)
	}
	pos, _ = s.Position()
	if pos.Program != callee || pos.NextStepIndex != 1 {
		t.Errorf("step into a plain step stopped at %s step %d, want callee step 1", pos.Program, pos.NextStepIndex)
	}

	if err := s.StepOut(nil); err != nil {
		t.Fatal(err)
	}
	runUntilPaused(t, s)
	pos, _ = s.Position()
	if pos.Program != main || pos.NextStepIndex != 2 {
		t.Errorf("step out stopped at %s step %d, want main step 2", pos.Program, pos.NextStepIndex)
	}
}

func TestStepKeepsThreadWithOthersRunnable(t *testing.T) {
	s, main, _, _ := callFixture(t)
	main.SetBreakpoint(1, true)
	defer main.SetBreakpoint(1, false)
	startRun(t, s, main)
	other := spawn(t, s, loopProgram("other"))
	s.Run(100)
	before := other.StepsExecuted()

	if err := s.StepOver(nil); err != nil {
		t.Fatal(err)
	}
	runUntilPaused(t, s)
	if other.StepsExecuted() != before {
		t.Errorf("other thread ran %d steps during a step over", other.StepsExecuted()-before)
	}
}

func TestStepRequiresPause(t *testing.T) {
	s, main, _, _ := callFixture(t)
	if err := s.StepOver(nil); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("StepOver before Init = %v", err)
	}
	startRun(t, s, main)
	if err := s.StepOver(nil); !errors.Is(err, ErrNotPaused) {
		t.Errorf("StepOver while running = %v, want ErrNotPaused", err)
	}
}

func TestResumeCancelsPendingStep(t *testing.T) {
	s, main, _, _ := callFixture(t)
	main.SetBreakpoint(1, true)
	defer main.SetBreakpoint(1, false)
	startRun(t, s, main)
	s.Run(100)

	called := false
	s.StepOver(func() { called = true })
	s.Pause()
	s.Resume()
	runToIdle(t, s, 100)
	if called {
		t.Error("cancelled step callback ran")
	}
	if s.State() != SchedulerStopped {
		t.Errorf("state = %v, want stopped", s.State())
	}
}

func TestSingleStepSequence(t *testing.T) {
	fast := linear(nop)
	var ranSingle bool
	single := linear(func(*Thread, *OperandStack, int) { ranSingle = true })
	p := MustProgram(ProgramSpec{Identifier: "p", Steps: fast, SingleSteps: single})

	s, _ := newTestScheduler(t)
	s.SetSingleStepMode(true)
	startRun(t, s, p)
	if s.MainThread().CurrentFrame().Sequence() != SequenceSingleStep {
		t.Error("frame should run the single-step sequence")
	}
	runToIdle(t, s, 10)
	if !ranSingle {
		t.Error("single-step sequence did not run")
	}
}

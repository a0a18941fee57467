package vm

import (
	"fmt"
	"sync/atomic"
)

// StepFunc performs one atomic unit of work for thread t. Locals and
// parameters of the running frame live in s starting at base. The return
// value is the index of the next step in the same sequence.
//
// A step never blocks. To wait it leaves t in a state other than runnable
// (for example via Semaphore.Acquire) and returns the index to continue at
// once the thread is restored.
type StepFunc func(t *Thread, s *OperandStack, base int) int

// Step is one compiled instruction-equivalent.
type Step struct {
	Run   StepFunc
	Range SourceRange
	Label string // source text of the step, for tracing

	breakpoint atomic.Bool
}

// NewStep creates a step.
func NewStep(run StepFunc, r SourceRange, label string) *Step {
	return &Step{Run: run, Range: r, Label: label}
}

// IsBreakpoint reports whether a debugger marked this step.
func (s *Step) IsBreakpoint() bool {
	return s.breakpoint.Load()
}

// SetBreakpoint marks or unmarks the step. This is the only part of a
// compiled Program that changes after compilation; the debugger toggles it
// while threads may be running the Program.
func (s *Step) SetBreakpoint(on bool) {
	s.breakpoint.Store(on)
}

func (s *Step) String() string {
	if s.Label != "" {
		return s.Label
	}
	return fmt.Sprintf("step@%s", s.Range)
}

// SourceRange locates a step in its module's source, 1-based.
type SourceRange struct {
	StartLine   int
	StartColumn int
	EndLine     int
	EndColumn   int
}

// Contains reports whether the given position falls in the range.
func (r SourceRange) Contains(line, column int) bool {
	if line < r.StartLine || line > r.EndLine {
		return false
	}
	if line == r.StartLine && column < r.StartColumn {
		return false
	}
	if line == r.EndLine && column > r.EndColumn {
		return false
	}
	return true
}

// IsZero reports whether no position is known.
func (r SourceRange) IsZero() bool {
	return r == SourceRange{}
}

func (r SourceRange) String() string {
	if r.IsZero() {
		return "unknown"
	}
	return fmt.Sprintf("%d:%d", r.StartLine, r.StartColumn)
}

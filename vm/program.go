package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Program: one compiled method body
// ---------------------------------------------------------------------------

// Sequence selects which of a Program's step lists a frame runs.
type Sequence uint8

const (
	// SequenceFast is the list used for normal execution.
	SequenceFast Sequence = iota
	// SequenceSingleStep is instrumented for single-step debugging.
	SequenceSingleStep
)

// Program is the compiled form of one method or function body. Programs are
// shared read-only by every thread that calls them.
type Program struct {
	Identifier string // e.g. "Main.main(String[])"
	Class      string // declaring class, empty for top-level code
	Module     string // source file / editor module

	ParameterCount     int // declared parameters
	LocalVariableCount int // locals beyond the parameters
	ReceiverCount      int // 1 for instance methods (this), else 0

	steps       []*Step
	singleSteps []*Step
}

// ProgramSpec carries what the compiler hands over for one method.
type ProgramSpec struct {
	Identifier         string
	Class              string
	Module             string
	ParameterCount     int
	LocalVariableCount int
	ReceiverCount      int
	Steps              []*Step
	SingleSteps        []*Step // optional; Steps are used when empty
}

// NewProgram validates spec and builds a Program.
func NewProgram(spec ProgramSpec) (*Program, error) {
	if spec.Identifier == "" {
		return nil, fmt.Errorf("%w: missing identifier", ErrInvalidProgram)
	}
	if len(spec.Steps) == 0 {
		return nil, fmt.Errorf("%w: %s has no steps", ErrInvalidProgram, spec.Identifier)
	}
	if spec.ParameterCount < 0 || spec.LocalVariableCount < 0 || spec.ReceiverCount < 0 {
		return nil, fmt.Errorf("%w: %s has negative arity", ErrInvalidProgram, spec.Identifier)
	}
	for i, st := range spec.Steps {
		if st == nil || st.Run == nil {
			return nil, fmt.Errorf("%w: %s step %d is empty", ErrInvalidProgram, spec.Identifier, i)
		}
	}
	p := &Program{
		Identifier:         spec.Identifier,
		Class:              spec.Class,
		Module:             spec.Module,
		ParameterCount:     spec.ParameterCount,
		LocalVariableCount: spec.LocalVariableCount,
		ReceiverCount:      spec.ReceiverCount,
		steps:              spec.Steps,
		singleSteps:        spec.SingleSteps,
	}
	if len(p.singleSteps) == 0 {
		p.singleSteps = p.steps
	}
	return p, nil
}

// MustProgram is NewProgram for programs known to be valid.
func MustProgram(spec ProgramSpec) *Program {
	p, err := NewProgram(spec)
	if err != nil {
		panic(err)
	}
	return p
}

// Steps returns the fast step sequence.
func (p *Program) Steps() []*Step { return p.steps }

// SingleSteps returns the single-step instrumented sequence.
func (p *Program) SingleSteps() []*Step { return p.singleSteps }

// Sequence returns the requested step list.
func (p *Program) Sequence(seq Sequence) []*Step {
	if seq == SequenceSingleStep {
		return p.singleSteps
	}
	return p.steps
}

// ArgumentSlots is the number of operand-stack slots the caller pushes
// before entering the program.
func (p *Program) ArgumentSlots() int {
	return p.ParameterCount + p.ReceiverCount
}

// MethodIdentifierWithClass is the name shown in stack traces.
func (p *Program) MethodIdentifierWithClass() string {
	if p.Class == "" {
		return p.Identifier
	}
	return p.Class + "." + p.Identifier
}

// SetBreakpoint toggles the breakpoint on the step at index in both
// sequences where present.
func (p *Program) SetBreakpoint(index int, on bool) error {
	if index < 0 || index >= len(p.steps) {
		return fmt.Errorf("breakpoint index %d out of range for %s", index, p.Identifier)
	}
	p.steps[index].SetBreakpoint(on)
	if index < len(p.singleSteps) {
		p.singleSteps[index].SetBreakpoint(on)
	}
	return nil
}

// StepAtLine returns the index of the first fast step starting on line, or -1.
func (p *Program) StepAtLine(line int) int {
	for i, st := range p.steps {
		if st.Range.StartLine == line {
			return i
		}
	}
	return -1
}

func (p *Program) String() string {
	return p.MethodIdentifierWithClass()
}

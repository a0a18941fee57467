// Package asm assembles vm.Programs from a list of step-emitting calls. It
// stands in for the Java front end in tests, the built-in demos and the CLI.
package asm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/stepvm/vm"
)

// ---------------------------------------------------------------------------
// Labels
// ---------------------------------------------------------------------------

// Label is a jump or handler target. It is created unresolved and bound to
// the next emitted step by Mark.
type Label struct {
	name     string
	resolved bool
	index    int
}

func (l *Label) String() string {
	if l.name != "" {
		return l.name
	}
	return fmt.Sprintf("L%d", l.index)
}

// Catch is one catch clause of a Try: exceptions of any of Types continue
// at Handler.
type Catch struct {
	Types   []string
	Handler *Label
}

// ---------------------------------------------------------------------------
// Builder
// ---------------------------------------------------------------------------

// linker resolves labels and the program under construction when Build
// turns instructions into step functions.
type linker struct {
	self   *vm.Program
	errors []string
}

func (k *linker) target(l *Label) int {
	if l == nil || !l.resolved {
		k.errors = append(k.errors, fmt.Sprintf("unresolved label %v", l))
		return 0
	}
	return l.index
}

// instr is one emitted step waiting for Build.
type instr struct {
	text       string
	rng        vm.SourceRange
	breakpoint bool
	link       func(k *linker, next int) vm.StepFunc
}

// Builder accumulates the steps of one Program.
type Builder struct {
	identifier string
	class      string
	module     string
	params     int
	locals     int
	receiver   int

	instrs     []instr
	rng        vm.SourceRange
	breakpoint bool
	errors     []string
	linker     *linker
}

// New starts a program with the given identifier, e.g. "main(String[])".
func New(identifier string) *Builder {
	return &Builder{identifier: identifier, linker: &linker{}}
}

// Class sets the declaring class used in stack traces.
func (b *Builder) Class(name string) *Builder { b.class = name; return b }

// Module sets the source module the steps belong to.
func (b *Builder) Module(name string) *Builder { b.module = name; return b }

// Params declares n parameters, stored in local slots 0..n-1 (after the
// receiver of an instance method).
func (b *Builder) Params(n int) *Builder { b.params = n; return b }

// Locals declares n additional local slots after the parameters.
func (b *Builder) Locals(n int) *Builder { b.locals = n; return b }

// Instance declares an instance method: slot 0 holds the receiver.
func (b *Builder) Instance() *Builder { b.receiver = 1; return b }

// At sets the source position of the steps emitted next.
func (b *Builder) At(line, column int) *Builder {
	b.rng = vm.SourceRange{StartLine: line, StartColumn: column, EndLine: line, EndColumn: column}
	return b
}

// Span sets a full source range for the steps emitted next.
func (b *Builder) Span(r vm.SourceRange) *Builder {
	b.rng = r
	return b
}

// Breakpoint flags the next emitted step as a breakpoint.
func (b *Builder) Breakpoint() *Builder {
	b.breakpoint = true
	return b
}

// NewLabel creates an unresolved label. The name only shows in errors.
func (b *Builder) NewLabel(name string) *Label {
	return &Label{name: name}
}

// Mark binds l to the next emitted step.
func (b *Builder) Mark(l *Label) *Builder {
	if l.resolved {
		b.errorf("label %v marked twice", l)
		return b
	}
	l.resolved = true
	l.index = len(b.instrs)
	return b
}

// Len is the number of steps emitted so far.
func (b *Builder) Len() int { return len(b.instrs) }

func (b *Builder) errorf(format string, args ...any) {
	b.errors = append(b.errors, fmt.Sprintf(format, args...))
}

// body is a step that always continues with the following step.
type body func(t *vm.Thread, s *vm.OperandStack, base int)

// emit appends a step whose behaviour does not depend on labels.
func (b *Builder) emit(text string, run body) *Builder {
	return b.emitLinked(text, func(_ *linker, next int) vm.StepFunc {
		return func(t *vm.Thread, s *vm.OperandStack, base int) int {
			run(t, s, base)
			return next
		}
	})
}

func (b *Builder) emitLinked(text string, link func(k *linker, next int) vm.StepFunc) *Builder {
	b.instrs = append(b.instrs, instr{
		text:       text,
		rng:        b.rng,
		breakpoint: b.breakpoint,
		link:       link,
	})
	b.breakpoint = false
	return b
}

// ErrAssembly is wrapped by every Build error.
var ErrAssembly = errors.New("assembly failed")

// Build links the emitted steps into a Program. The single-step sequence
// holds distinct Step values running the same code, so a debugger can tell
// the sequences apart while behaviour stays identical.
func (b *Builder) Build() (*vm.Program, error) {
	if len(b.errors) > 0 {
		return nil, fmt.Errorf("%s: %w: %s", b.identifier, ErrAssembly, strings.Join(b.errors, "; "))
	}
	k := b.linker
	fast := make([]*vm.Step, len(b.instrs))
	single := make([]*vm.Step, len(b.instrs))
	for i, in := range b.instrs {
		run := in.link(k, i+1)
		fast[i] = vm.NewStep(run, in.rng, in.text)
		single[i] = vm.NewStep(run, in.rng, in.text)
		if in.breakpoint {
			fast[i].SetBreakpoint(true)
			single[i].SetBreakpoint(true)
		}
	}
	if len(k.errors) > 0 {
		return nil, fmt.Errorf("%s: %w: %s", b.identifier, ErrAssembly, strings.Join(k.errors, "; "))
	}
	p, err := vm.NewProgram(vm.ProgramSpec{
		Identifier:         b.identifier,
		Class:              b.class,
		Module:             b.module,
		ParameterCount:     b.params,
		LocalVariableCount: b.locals,
		ReceiverCount:      b.receiver,
		Steps:              fast,
		SingleSteps:        single,
	})
	if err != nil {
		return nil, err
	}
	k.self = p
	return p, nil
}

// MustBuild is Build for programs known to assemble.
func (b *Builder) MustBuild() *vm.Program {
	p, err := b.Build()
	if err != nil {
		panic(err)
	}
	return p
}

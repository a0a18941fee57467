package vm

// Continuation receives a frame's return value in place of the caller's
// operand stack. Library code uses it to "call" a Program and carry on with
// the result without nesting a Go call.
type Continuation func(result Value)

// CatchClause sends exceptions of any of Types (or their subclasses) to the
// step at Target.
type CatchClause struct {
	Types  []string
	Target int
}

// TryRegion is the runtime record of one active try block.
type TryRegion struct {
	Catches      []CatchClause
	FinallyIndex int // -1 when the try has no finally block
	StackSize    int // operand-stack size when the try was entered
}

// match returns the target of the first clause accepting any identifier in
// chain.
func (r *TryRegion) match(chain []string) (int, bool) {
	for _, clause := range r.Catches {
		for _, want := range clause.Types {
			for _, have := range chain {
				if want == have {
					return clause.Target, true
				}
			}
		}
	}
	return 0, false
}

// Frame is one activation record ("program state") on a thread's stack.
type Frame struct {
	program  *Program
	sequence Sequence
	steps    []*Step
	index    int
	last     int // index of the step most recently started
	base     int

	tries        []*TryRegion
	continuation Continuation

	caught    *Exception // exception delivered to the running catch block
	finallies []finallyRecord
}

// finallyRecord is one finally block in progress. ex is the exception to
// rethrow when the block ends, nil when it was entered normally. depth is
// the frame's try depth while the block runs; unwinding below it abandons
// the block.
type finallyRecord struct {
	ex    *Exception
	depth int
}

func (f *Frame) enterFinally(ex *Exception) {
	f.finallies = append(f.finallies, finallyRecord{ex: ex, depth: len(f.tries)})
}

// abandonFinallies drops the finally blocks an exception is leaving.
func (f *Frame) abandonFinallies() {
	n := len(f.finallies)
	for n > 0 && f.finallies[n-1].depth > len(f.tries) {
		n--
	}
	clear(f.finallies[n:])
	f.finallies = f.finallies[:n]
}

// Program returns the program the frame executes.
func (f *Frame) Program() *Program { return f.program }

// Sequence reports which step list the frame runs.
func (f *Frame) Sequence() Sequence { return f.sequence }

// StepIndex is the index of the next step the frame will execute.
func (f *Frame) StepIndex() int { return f.index }

// StackBase is the operand-stack offset of the frame's first local.
func (f *Frame) StackBase() int { return f.base }

// TryDepth is the number of active try regions.
func (f *Frame) TryDepth() int { return len(f.tries) }

// CurrentStep returns the step at the frame's index, or nil past the end.
func (f *Frame) CurrentStep() *Step {
	if f.index < 0 || f.index >= len(f.steps) {
		return nil
	}
	return f.steps[f.index]
}

// currentRange is the source range for position reports and traces.
func (f *Frame) currentRange() SourceRange {
	if st := f.CurrentStep(); st != nil {
		return st.Range
	}
	if n := len(f.steps); n > 0 {
		return f.steps[n-1].Range
	}
	return SourceRange{}
}

func (f *Frame) traceEntry() StackTraceEntry {
	r := f.currentRange()
	if f.last >= 0 && f.last < len(f.steps) {
		r = f.steps[f.last].Range
	}
	return StackTraceEntry{
		Method: f.program.MethodIdentifierWithClass(),
		Module: f.program.Module,
		Range:  r,
	}
}

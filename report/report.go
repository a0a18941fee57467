// Package report captures the outcome of a run in a form the editor and the
// history database can keep: plain data, encoded as canonical CBOR.
package report

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/chazu/stepvm/vm"
)

var cborEncMode cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("report: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ErrBadRunID is returned when a report carries a malformed run id.
var ErrBadRunID = errors.New("report: bad run id")

// NewRunID returns a fresh random run id.
func NewRunID() string {
	return uuid.NewString()
}

// RunReport summarises one run of a program. Steps counts every step since
// the program was loaded. RunSteps, Duration and StepsPerSecond describe the
// last uninterrupted stretch in the running state, so they differ from Steps
// when the run was paused along the way.
type RunReport struct {
	RunID          string           `cbor:"1,keyasint"`
	Program        string           `cbor:"2,keyasint"`
	State          string           `cbor:"3,keyasint"`
	Steps          int64            `cbor:"4,keyasint"`
	RunSteps       int64            `cbor:"11,keyasint"`
	Duration       time.Duration    `cbor:"5,keyasint"`
	StepsPerSecond float64          `cbor:"6,keyasint"`
	Exception      *ExceptionReport `cbor:"7,keyasint,omitempty"`
	Threads        []ThreadReport   `cbor:"8,keyasint,omitempty"`
	Output         string           `cbor:"9,keyasint,omitempty"`
	FinishedAt     time.Time        `cbor:"10,keyasint"`
}

// ExceptionReport is an uncaught exception with its trace.
type ExceptionReport struct {
	Thread  string        `cbor:"1,keyasint"`
	Class   string        `cbor:"2,keyasint"`
	Message string        `cbor:"3,keyasint,omitempty"`
	Trace   []FrameReport `cbor:"4,keyasint,omitempty"`
}

// FrameReport is one stack trace entry.
type FrameReport struct {
	Method string `cbor:"1,keyasint"`
	Module string `cbor:"2,keyasint,omitempty"`
	Line   int    `cbor:"3,keyasint"`
	Column int    `cbor:"4,keyasint"`
}

// ThreadReport is the final state of one thread.
type ThreadReport struct {
	ID    int    `cbor:"1,keyasint"`
	Name  string `cbor:"2,keyasint"`
	State string `cbor:"3,keyasint"`
	Steps int64  `cbor:"4,keyasint"`
}

// FromScheduler builds a report from the scheduler's current state. It is
// meant for a run that has ended, but works on a paused or deadlocked one
// too.
func FromScheduler(s *vm.Scheduler, program string) *RunReport {
	stats := s.LastStatistics()
	r := &RunReport{
		RunID:          NewRunID(),
		Program:        program,
		State:          s.State().String(),
		Steps:          s.TotalSteps(),
		RunSteps:       stats.Steps,
		Duration:       stats.Duration,
		StepsPerSecond: stats.StepsPerSecond,
		FinishedAt:     time.Now(),
	}

	seen := map[*vm.Thread]bool{}
	for _, pool := range [][]*vm.Thread{s.Finished(), s.Runnable(), s.Suspended()} {
		for _, t := range pool {
			if seen[t] {
				continue
			}
			seen[t] = true
			r.Threads = append(r.Threads, ThreadReport{
				ID:    t.ID(),
				Name:  t.Name(),
				State: t.State().String(),
				Steps: t.StepsExecuted(),
			})
		}
	}

	if t := s.UncaughtThread(); t != nil && t.Exception() != nil {
		r.Exception = FromException(t.Name(), t.Exception(), t.StackTrace())
	}
	return r
}

// FromException converts an exception and its trace.
func FromException(thread string, ex *vm.Exception, trace []vm.StackTraceEntry) *ExceptionReport {
	er := &ExceptionReport{Thread: thread, Class: ex.Class.Identifier, Message: ex.Message}
	for _, e := range trace {
		er.Trace = append(er.Trace, FrameReport{
			Method: e.Method,
			Module: e.Module,
			Line:   e.Range.StartLine,
			Column: e.Range.StartColumn,
		})
	}
	return er
}

// Failed reports whether the run ended with an uncaught exception.
func (r *RunReport) Failed() bool {
	return r.Exception != nil
}

// String renders the exception like a JVM stack trace.
func (e *ExceptionReport) String() string {
	s := e.Class
	if e.Message != "" {
		s += ": " + e.Message
	}
	for _, f := range e.Trace {
		if f.Module == "" {
			s += fmt.Sprintf("\n\tat %s (%d:%d)", f.Method, f.Line, f.Column)
		} else {
			s += fmt.Sprintf("\n\tat %s (%s:%d:%d)", f.Method, f.Module, f.Line, f.Column)
		}
	}
	return s
}

// Marshal serializes a report to canonical CBOR.
func Marshal(r *RunReport) ([]byte, error) {
	return cborEncMode.Marshal(r)
}

// Unmarshal deserializes a report and checks its run id.
func Unmarshal(data []byte) (*RunReport, error) {
	var r RunReport
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("report: unmarshal: %w", err)
	}
	if _, err := uuid.Parse(r.RunID); err != nil {
		return nil, fmt.Errorf("%w %q", ErrBadRunID, r.RunID)
	}
	return &r, nil
}

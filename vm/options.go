package vm

import (
	"io"
	"time"

	"github.com/tliron/commonlog"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithOutput routes print/println to w. The default is os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(s *Scheduler) {
		s.out = w
	}
}

// WithObserver registers an observer for life-cycle events.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		s.observer = o
	}
}

// WithClock replaces time.Now. Tests use it to drive rate limits and run
// statistics deterministically.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithCheckedRelease selects whether Semaphore.Release verifies that the
// releasing thread holds a permit. It is on by default; turning it off gives
// the permissive behaviour where any thread may release.
func WithCheckedRelease(checked bool) Option {
	return func(s *Scheduler) {
		s.checkedRelease = checked
	}
}

// WithHaltAtBreakpoints controls whether threads stop on breakpoint steps.
func WithHaltAtBreakpoints(on bool) Option {
	return func(s *Scheduler) {
		s.haltAtBreakpoints = on
	}
}

// WithMaxStepsPerSecond gives every new thread a default rate cap.
func WithMaxStepsPerSecond(rate float64) Option {
	return func(s *Scheduler) {
		s.defaultRate = rate
	}
}

// WithClassRegistry supplies the compiler's class registry.
func WithClassRegistry(r *ClassRegistry) Option {
	return func(s *Scheduler) {
		s.classes = r
	}
}

// WithLogger replaces the scheduler's logger.
func WithLogger(l commonlog.Logger) Option {
	return func(s *Scheduler) {
		s.log = l
	}
}

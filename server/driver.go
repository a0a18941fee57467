package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sasha-s/go-deadlock"
	"github.com/tliron/commonlog"

	"github.com/chazu/stepvm/demos"
	"github.com/chazu/stepvm/history"
	"github.com/chazu/stepvm/report"
	"github.com/chazu/stepvm/vm"
)

var (
	ErrDriverClosed = errors.New("driver closed")
	ErrNoRun        = errors.New("no program started")
	ErrNoStep       = errors.New("no step on that line")
)

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// EventKind tells subscribers what happened.
type EventKind int

const (
	// EventState: the scheduler changed life-cycle state.
	EventState EventKind = iota
	// EventPosition: where the current thread continues, sent once per
	// frame while running.
	EventPosition
	// EventPaused: a breakpoint or a finished debugger step paused the run.
	EventPaused
	// EventIdle: the run is alive but no thread can make progress.
	EventIdle
	// EventFinished: the run stopped or erred; Report is set.
	EventFinished
)

var eventKindNames = [...]string{
	EventState:    "state",
	EventPosition: "position",
	EventPaused:   "paused",
	EventIdle:     "idle",
	EventFinished: "finished",
}

func (k EventKind) String() string {
	if int(k) >= 0 && int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is delivered to subscribers on the driver goroutine.
type Event struct {
	Kind     EventKind
	Program  string
	Prev     vm.SchedulerState
	State    vm.SchedulerState
	Position *vm.PositionInfo
	Blocked  int
	Report   *report.RunReport
}

// ---------------------------------------------------------------------------
// Driver
// ---------------------------------------------------------------------------

// driverRequest is a unit of work to be executed on the driver goroutine.
type driverRequest struct {
	fn   func(*vm.Scheduler) any
	done chan driverResult
}

type driverResult struct {
	value any
	err   error
}

// Driver owns one Scheduler and serializes all access to it through a
// single goroutine. While the run is Running it calls Run(quota) once per
// frame interval; when Run reports nothing more to do it idles until a
// control command arrives.
type Driver struct {
	requests chan driverRequest
	quit     chan struct{}
	done     chan struct{}

	quota    int
	interval time.Duration
	options  []vm.Option
	out      io.Writer
	history  *history.Store
	log      commonlog.Logger

	// Owned by the driver goroutine.
	sched    *vm.Scheduler
	bundle   *demos.Bundle
	program  string
	captured bytes.Buffer
	idle     bool
	reported bool // idle event sent for the current stall

	mu          deadlock.Mutex
	subscribers map[int]func(Event)
	nextSub     int
	finished    chan struct{}
	last        *report.RunReport
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithQuota sets the steps per frame.
func WithQuota(n int) DriverOption {
	return func(d *Driver) { d.quota = n }
}

// WithFrameInterval sets the pacing of Run calls.
func WithFrameInterval(interval time.Duration) DriverOption {
	return func(d *Driver) { d.interval = interval }
}

// WithSchedulerOptions passes options to every scheduler the driver creates.
func WithSchedulerOptions(opts ...vm.Option) DriverOption {
	return func(d *Driver) { d.options = append(d.options, opts...) }
}

// WithOutput routes program output. The default is os.Stdout.
func WithOutput(w io.Writer) DriverOption {
	return func(d *Driver) { d.out = w }
}

// WithHistory records a report of every finished run.
func WithHistory(h *history.Store) DriverOption {
	return func(d *Driver) { d.history = h }
}

// NewDriver creates a Driver and starts its goroutine.
func NewDriver(opts ...DriverOption) *Driver {
	d := &Driver{
		requests:    make(chan driverRequest, 64),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		quota:       1000,
		interval:    16 * time.Millisecond,
		out:         os.Stdout,
		log:         commonlog.GetLogger("stepvm.driver"),
		subscribers: make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.quota <= 0 {
		d.quota = 1
	}
	if d.interval <= 0 {
		d.interval = time.Millisecond
	}
	go d.loop()
	return d
}

// loop processes requests and paces the scheduler on a dedicated goroutine.
func (d *Driver) loop() {
	defer close(d.done)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		var tick <-chan time.Time
		if d.running() {
			tick = ticker.C
		}
		select {
		case req := <-d.requests:
			req.done <- d.execute(req.fn)
			d.idle = false
		case <-tick:
			d.frame()
		case <-d.quit:
			if d.sched != nil && !d.sched.State().IsFinal() && d.sched.State() != vm.SchedulerNotInitialized {
				d.sched.Stop()
			}
			return
		}
	}
}

func (d *Driver) running() bool {
	return d.sched != nil && d.sched.State() == vm.SchedulerRunning && !d.idle
}

// execute runs a function on the scheduler, recovering from panics.
func (d *Driver) execute(fn func(*vm.Scheduler) any) driverResult {
	var result driverResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.err = fmt.Errorf("%v", r)
				d.log.Errorf("request panicked: %v", r)
			}
		}()
		result.value = fn(d.sched)
	}()
	return result
}

// frame runs one quota slice.
func (d *Driver) frame() {
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorf("run of %s panicked: %v", d.program, r)
			d.sched.Stop()
		}
	}()

	result := d.sched.Run(d.quota)
	if d.sched.State() != vm.SchedulerRunning {
		return
	}
	if pos, ok := d.sched.Position(); ok {
		d.emit(Event{Kind: EventPosition, Program: d.program, State: vm.SchedulerRunning, Position: &pos})
	}
	if result == vm.GiveMeAdditionalTime {
		d.reported = false
		return
	}
	d.idle = true
	if !d.reported {
		d.reported = true
		blocked := len(d.sched.Suspended())
		d.log.Infof("%s idle with %d blocked threads", d.program, blocked)
		d.emit(Event{Kind: EventIdle, Program: d.program, State: vm.SchedulerRunning, Blocked: blocked})
	}
}

// Do submits a function for execution on the driver goroutine and blocks
// until it completes. The scheduler is nil before the first Start. fn must
// not call back into the driver.
func (d *Driver) Do(fn func(*vm.Scheduler) any) (any, error) {
	req := driverRequest{fn: fn, done: make(chan driverResult, 1)}
	select {
	case d.requests <- req:
	case <-d.done:
		return nil, ErrDriverClosed
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-d.done:
		return nil, ErrDriverClosed
	}
}

// do is Do for control commands returning an error and requiring a run.
func (d *Driver) do(fn func(*vm.Scheduler) error) error {
	v, err := d.Do(func(s *vm.Scheduler) any {
		if s == nil {
			return ErrNoRun
		}
		return fn(s)
	})
	if err != nil {
		return err
	}
	if e, _ := v.(error); e != nil {
		return e
	}
	return nil
}

// Close stops the current run and shuts the goroutine down.
func (d *Driver) Close() {
	select {
	case <-d.quit:
	default:
		close(d.quit)
	}
	<-d.done
}

// ---------------------------------------------------------------------------
// Control
// ---------------------------------------------------------------------------

// Start stops any current run and starts name on a fresh scheduler.
func (d *Driver) Start(name string, b *demos.Bundle) error {
	return d.exec(func() error {
		if d.sched != nil && d.sched.State() != vm.SchedulerNotInitialized && !d.sched.State().IsFinal() {
			d.sched.Stop()
		}
		d.mu.Lock()
		d.finished = make(chan struct{})
		d.last = nil
		d.mu.Unlock()

		d.captured.Reset()
		d.reported = false
		d.program = name
		d.bundle = b
		opts := append([]vm.Option{}, d.options...)
		opts = append(opts,
			vm.WithOutput(io.MultiWriter(d.out, &d.captured)),
			vm.WithObserver(driverObserver{d}),
		)
		d.sched = vm.NewScheduler(opts...)
		if err := d.sched.Init(b.Main, b.StaticInit...); err != nil {
			return fmt.Errorf("start %s: %w", name, err)
		}
		d.log.Infof("starting %s", name)
		return d.sched.Start()
	})
}

// exec runs fn on the driver goroutine without requiring a run.
func (d *Driver) exec(fn func() error) error {
	v, err := d.Do(func(*vm.Scheduler) any { return fn() })
	if err != nil {
		return err
	}
	if e, _ := v.(error); e != nil {
		return e
	}
	return nil
}

// Pause pauses the run.
func (d *Driver) Pause() error { return d.do((*vm.Scheduler).Pause) }

// Resume continues a paused run.
func (d *Driver) Resume() error { return d.do((*vm.Scheduler).Resume) }

// Stop ends the run.
func (d *Driver) Stop() error { return d.do((*vm.Scheduler).Stop) }

// StepInto performs a debugger step into calls.
func (d *Driver) StepInto() error { return d.step(vm.StepInto) }

// StepOver performs a debugger step over calls.
func (d *Driver) StepOver() error { return d.step(vm.StepOver) }

// StepOut runs until the current method returns.
func (d *Driver) StepOut() error { return d.step(vm.StepOut) }

func (d *Driver) step(mode vm.StepMode) error {
	return d.do(func(s *vm.Scheduler) error {
		return s.RunSingleStepKeepingThread(mode, nil)
	})
}

// ToggleBreakpoint flips the breakpoint on the first step of line in
// module and returns the new setting.
func (d *Driver) ToggleBreakpoint(module string, line int) (bool, error) {
	v, err := d.Do(func(*vm.Scheduler) any {
		if d.bundle == nil {
			return ErrNoRun
		}
		p, i, ok := d.bundle.ProgramAt(module, line)
		if !ok {
			return fmt.Errorf("%w: %s:%d", ErrNoStep, module, line)
		}
		on := !p.Steps()[i].IsBreakpoint()
		if err := p.SetBreakpoint(i, on); err != nil {
			return err
		}
		return on
	})
	if err != nil {
		return false, err
	}
	if e, ok := v.(error); ok {
		return false, e
	}
	return v.(bool), nil
}

// Position reports where the current thread continues.
func (d *Driver) Position() (vm.PositionInfo, bool) {
	v, err := d.Do(func(s *vm.Scheduler) any {
		if s == nil {
			return nil
		}
		if pos, ok := s.Position(); ok {
			return pos
		}
		return nil
	})
	if err != nil || v == nil {
		return vm.PositionInfo{}, false
	}
	return v.(vm.PositionInfo), true
}

// State returns the scheduler state, NotInitialized before the first run.
func (d *Driver) State() vm.SchedulerState {
	v, err := d.Do(func(s *vm.Scheduler) any {
		if s == nil {
			return vm.SchedulerNotInitialized
		}
		return s.State()
	})
	if err != nil {
		return vm.SchedulerNotInitialized
	}
	return v.(vm.SchedulerState)
}

// Wait blocks until the current run stops or errs and returns its report.
func (d *Driver) Wait(ctx context.Context) (*report.RunReport, error) {
	d.mu.Lock()
	finished := d.finished
	d.mu.Unlock()
	if finished == nil {
		return nil, ErrNoRun
	}
	select {
	case <-finished:
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.last, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.done:
		return nil, ErrDriverClosed
	}
}

// ---------------------------------------------------------------------------
// Subscribers
// ---------------------------------------------------------------------------

// Subscribe registers fn for every event and returns a function removing
// it. fn runs on the driver goroutine and must not call back into the
// driver.
func (d *Driver) Subscribe(fn func(Event)) (unsubscribe func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSub
	d.nextSub++
	d.subscribers[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subscribers, id)
	}
}

func (d *Driver) emit(ev Event) {
	d.mu.Lock()
	subs := make([]func(Event), 0, len(d.subscribers))
	for _, fn := range d.subscribers {
		subs = append(subs, fn)
	}
	d.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// finish records the report of a run that ended.
func (d *Driver) finish() {
	r := report.FromScheduler(d.sched, d.program)
	r.Output = d.captured.String()
	if r.Failed() {
		d.log.Warningf("%s failed: %s", d.program, r.Exception)
	}
	if d.history != nil {
		if err := d.history.Save(r); err != nil {
			d.log.Errorf("recording %s: %s", r.RunID, err)
		}
	}

	d.mu.Lock()
	d.last = r
	if d.finished != nil {
		close(d.finished)
	}
	d.mu.Unlock()

	d.emit(Event{Kind: EventFinished, Program: d.program, State: d.sched.State(), Report: r})
}

// driverObserver turns scheduler callbacks into driver events.
type driverObserver struct {
	d *Driver
}

func (o driverObserver) StateChanged(prev, next vm.SchedulerState) {
	o.d.emit(Event{Kind: EventState, Program: o.d.program, Prev: prev, State: next})
	if next.IsFinal() {
		o.d.finish()
	}
}

func (o driverObserver) ThreadTerminated(t *vm.Thread) {
	o.d.log.Debugf("%s terminated (%s)", t.Name(), t.State())
}

func (o driverObserver) Paused(pos vm.PositionInfo) {
	o.d.emit(Event{Kind: EventPaused, Program: o.d.program, State: vm.SchedulerPaused, Position: &pos})
}

func (o driverObserver) RunFinished(stats vm.RunStatistics) {
	o.d.log.Infof("%s: %d steps in %s", o.d.program, stats.Steps, stats.Duration.Round(time.Millisecond))
}

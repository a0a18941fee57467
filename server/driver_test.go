package server

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chazu/stepvm/demos"
	"github.com/chazu/stepvm/history"
	"github.com/chazu/stepvm/vm"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// syncBuffer is written on the driver goroutine and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (l *eventLog) last(kind EventKind) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Kind == kind {
			return l.events[i], true
		}
	}
	return Event{}, false
}

func newTestDriver(t *testing.T, opts ...DriverOption) (*Driver, *syncBuffer) {
	t.Helper()
	out := &syncBuffer{}
	opts = append([]DriverOption{WithOutput(out), WithQuota(20), WithFrameInterval(time.Millisecond)}, opts...)
	d := NewDriver(opts...)
	t.Cleanup(d.Close)
	return d, out
}

func startDemo(t *testing.T, d *Driver, name string) *demos.Bundle {
	t.Helper()
	demo, err := demos.Lookup(name)
	if err != nil {
		t.Fatal(err)
	}
	b := demo.Build()
	if err := d.Start(name, b); err != nil {
		t.Fatalf("Start(%s): %v", name, err)
	}
	return b
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitReport(t *testing.T, d *Driver) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := d.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestDriverRunsToCompletion(t *testing.T) {
	d, out := newTestDriver(t)
	var log eventLog
	d.Subscribe(log.add)

	startDemo(t, d, "counter")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := d.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}

	want := "Counter loaded\ncount = 1\ncount = 2\ncount = 3\ncount = 4\ncount = 5\ndone\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
	if r.State != "stopped" || r.Output != want || r.Program != "counter" {
		t.Errorf("report = %+v", r)
	}
	if d.State() != vm.SchedulerStopped {
		t.Errorf("state = %v, want stopped", d.State())
	}

	ev, ok := log.last(EventFinished)
	if !ok || ev.Report != r {
		t.Errorf("finished event = %+v", ev)
	}
	if _, ok := log.last(EventState); !ok {
		t.Error("expected state events")
	}
}

func TestDriverBreakpointAndStepping(t *testing.T) {
	d, out := newTestDriver(t)
	demo, _ := demos.Lookup("counter")
	b := demo.Build()
	p, i, ok := b.ProgramAt("Counter.java", 6)
	if !ok {
		t.Fatal("no step on line 6")
	}
	p.SetBreakpoint(i, true)
	if err := d.Start("counter", b); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "breakpoint", func() bool { return d.State() == vm.SchedulerPaused })
	pos, ok := d.Position()
	if !ok || pos.Range.StartLine != 6 {
		t.Fatalf("paused at %+v, want line 6", pos)
	}
	if out.String() != "Counter loaded\n" {
		t.Errorf("output at first pause = %q", out.String())
	}

	if err := d.StepOver(); err != nil {
		t.Fatalf("StepOver: %v", err)
	}
	waitFor(t, "step", func() bool { return d.State() == vm.SchedulerPaused })
	pos, _ = d.Position()
	if pos.NextStepIndex != i+1 || pos.Range.StartLine != 6 {
		t.Errorf("after step at %+v, want step %d on line 6", pos, i+1)
	}

	if err := d.Resume(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "second hit", func() bool {
		return d.State() == vm.SchedulerPaused && strings.Count(out.String(), "count") == 1
	})

	on, err := d.ToggleBreakpoint("Counter.java", 6)
	if err != nil || on {
		t.Fatalf("ToggleBreakpoint = %v, %v, want off", on, err)
	}
	d.Resume()
	waitReport(t, d)
	if !strings.HasSuffix(out.String(), "count = 5\ndone\n") {
		t.Errorf("output = %q", out.String())
	}
}

func TestDriverPauseResume(t *testing.T) {
	d, _ := newTestDriver(t, WithQuota(1), WithFrameInterval(5*time.Millisecond))
	startDemo(t, d, "semaphore")
	if err := d.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if d.State() != vm.SchedulerPaused {
		t.Errorf("state = %v, want paused", d.State())
	}
	if err := d.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitReport(t, d)
}

func TestDriverReportsIdleOnDeadlock(t *testing.T) {
	d, _ := newTestDriver(t)
	idle := make(chan Event, 8)
	d.Subscribe(func(ev Event) {
		if ev.Kind == EventIdle {
			select {
			case idle <- ev:
			default:
			}
		}
	})
	startDemo(t, d, "deadlock")

	select {
	case ev := <-idle:
		if ev.Blocked != 3 {
			t.Errorf("blocked = %d, want 3", ev.Blocked)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no idle event")
	}
	if d.State() != vm.SchedulerRunning {
		t.Errorf("state = %v, want running", d.State())
	}
	if err := d.Stop(); err != nil {
		t.Fatal(err)
	}
	waitReport(t, d)
}

func TestDriverRecordsHistory(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	d, _ := newTestDriver(t, WithHistory(store))
	startDemo(t, d, "uncaught")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := d.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Failed() || r.Exception.Class != "ArrayIndexOutOfBoundsException" {
		t.Errorf("report exception = %+v", r.Exception)
	}

	saved, err := store.Get(r.RunID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if saved.State != "error" || len(saved.Exception.Trace) != 2 {
		t.Errorf("saved = %+v", saved)
	}
}

func TestDriverRestart(t *testing.T) {
	d, out := newTestDriver(t, WithQuota(1), WithFrameInterval(10*time.Millisecond))
	startDemo(t, d, "deadlock")
	startDemo(t, d, "arrays")
	waitReport(t, d)
	if out.String() != "[0, 0, 0, 0]\n[0, 1, 2, 3]\n[0, 2, 4, 6]\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestDriverWithoutRun(t *testing.T) {
	d, _ := newTestDriver(t)
	if err := d.Pause(); !errors.Is(err, ErrNoRun) {
		t.Errorf("Pause error = %v, want ErrNoRun", err)
	}
	if _, err := d.ToggleBreakpoint("X.java", 1); !errors.Is(err, ErrNoRun) {
		t.Errorf("ToggleBreakpoint error = %v, want ErrNoRun", err)
	}
	if _, err := d.Wait(context.Background()); !errors.Is(err, ErrNoRun) {
		t.Errorf("Wait error = %v, want ErrNoRun", err)
	}
	if d.State() != vm.SchedulerNotInitialized {
		t.Errorf("state = %v", d.State())
	}
}

func TestDriverStepRequiresPause(t *testing.T) {
	d, _ := newTestDriver(t)
	startDemo(t, d, "deadlock")
	if err := d.StepInto(); !errors.Is(err, vm.ErrNotPaused) {
		t.Errorf("StepInto error = %v, want ErrNotPaused", err)
	}
}

func TestDriverToggleUnknownLine(t *testing.T) {
	d, _ := newTestDriver(t)
	startDemo(t, d, "counter")
	if _, err := d.ToggleBreakpoint("Counter.java", 400); !errors.Is(err, ErrNoStep) {
		t.Errorf("error = %v, want ErrNoStep", err)
	}
}

func TestDriverDoRecoversPanic(t *testing.T) {
	d, _ := newTestDriver(t)
	_, err := d.Do(func(*vm.Scheduler) any { panic("boom") })
	if err == nil || err.Error() != "boom" {
		t.Errorf("Do error = %v, want boom", err)
	}
	// The goroutine survives.
	if d.State() != vm.SchedulerNotInitialized {
		t.Error("driver should still answer")
	}
}

func TestDriverClosed(t *testing.T) {
	d := NewDriver(WithOutput(&syncBuffer{}))
	d.Close()
	d.Close()
	if _, err := d.Do(func(*vm.Scheduler) any { return nil }); !errors.Is(err, ErrDriverClosed) {
		t.Errorf("Do after Close = %v, want ErrDriverClosed", err)
	}
}

package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chazu/stepvm/asm"
	"github.com/chazu/stepvm/vm"
)

func runToEnd(t *testing.T, main *vm.Program) *vm.Scheduler {
	t.Helper()
	s := vm.NewScheduler(vm.WithOutput(&bytes.Buffer{}))
	if err := s.Init(main); err != nil {
		t.Fatal(err)
	}
	s.Start()
	for i := 0; i < 1000 && s.Run(100) == vm.GiveMeAdditionalTime; i++ {
	}
	return s
}

func TestFromSchedulerUncaught(t *testing.T) {
	fail := asm.New("fail()").Class("Demo").Module("Demo.java").
		At(4, 9).ThrowNew(vm.IllegalArgumentException, "nope").
		MustBuild()
	main := asm.New("main").Class("Demo").Module("Demo.java").
		At(8, 9).Call(fail).
		MustBuild()

	r := FromScheduler(runToEnd(t, main), "demo")
	if r.State != "error" {
		t.Errorf("state = %q, want error", r.State)
	}
	if !r.Failed() {
		t.Fatal("report should carry the exception")
	}
	if r.Exception.Class != "IllegalArgumentException" || r.Exception.Thread != "main" {
		t.Errorf("exception = %+v", r.Exception)
	}
	want := "IllegalArgumentException: nope\n\tat Demo.fail() (Demo.java:4:9)\n\tat Demo.main (Demo.java:8:9)"
	if got := r.Exception.String(); got != want {
		t.Errorf("trace = %q, want %q", got, want)
	}
	if len(r.Threads) != 1 || r.Threads[0].Name != "main" {
		t.Errorf("threads = %+v", r.Threads)
	}
}

func TestFromSchedulerCountsThreads(t *testing.T) {
	worker := asm.New("worker()").Nop().MustBuild()
	main := asm.New("main").Locals(1).
		Spawn(worker, 0).Store(0).
		Load(0).Join().
		MustBuild()

	r := FromScheduler(runToEnd(t, main), "spawn")
	if r.State != "stopped" || r.Failed() {
		t.Errorf("report = %+v", r)
	}
	if len(r.Threads) != 2 {
		t.Fatalf("threads = %+v, want 2", r.Threads)
	}
	var total int64
	for _, th := range r.Threads {
		total += th.Steps
	}
	if total != r.Steps {
		t.Errorf("thread steps sum to %d, run has %d", total, r.Steps)
	}
}

func TestStatisticsCoverLastRunningStretch(t *testing.T) {
	b := asm.New("main")
	for i := 0; i < 20; i++ {
		b.Nop()
	}
	s := vm.NewScheduler(vm.WithOutput(&bytes.Buffer{}))
	if err := s.Init(b.MustBuild()); err != nil {
		t.Fatal(err)
	}
	s.Start()
	s.Run(5)
	s.Pause()
	s.Resume()
	for i := 0; i < 100 && s.Run(100) == vm.GiveMeAdditionalTime; i++ {
	}

	r := FromScheduler(s, "paused")
	if r.Steps != 21 {
		t.Errorf("steps = %d, want 21", r.Steps)
	}
	if r.RunSteps != 16 {
		t.Errorf("run steps = %d, want 16 (after the resume)", r.RunSteps)
	}
	if r.RunSteps != s.LastStatistics().Steps {
		t.Errorf("run steps = %d, statistics say %d", r.RunSteps, s.LastStatistics().Steps)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	r := &RunReport{
		RunID:          NewRunID(),
		Program:        "counter",
		State:          "stopped",
		Steps:          42,
		Duration:       1500 * time.Millisecond,
		StepsPerSecond: 28,
		Exception: &ExceptionReport{
			Thread: "Thread-1", Class: "ArithmeticException", Message: "/ by zero",
			Trace: []FrameReport{{Method: "Demo.div(int,int)", Module: "Demo.java", Line: 3, Column: 9}},
		},
		Threads:    []ThreadReport{{ID: 1, Name: "main", State: "terminated", Steps: 42}},
		Output:     "count = 1\n",
		FinishedAt: time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC),
	}

	data, err := Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got.RunID != r.RunID || got.Program != r.Program || got.Steps != r.Steps {
		t.Errorf("header mismatch: %+v", got)
	}
	if got.Duration != r.Duration {
		t.Errorf("duration = %s, want %s", got.Duration, r.Duration)
	}
	if !got.FinishedAt.Equal(r.FinishedAt) {
		t.Errorf("finished at = %s, want %s", got.FinishedAt, r.FinishedAt)
	}
	if got.Exception == nil || got.Exception.Trace[0] != r.Exception.Trace[0] {
		t.Errorf("exception = %+v", got.Exception)
	}
	if len(got.Threads) != 1 || got.Threads[0] != r.Threads[0] {
		t.Errorf("threads = %+v", got.Threads)
	}
	if got.Output != r.Output {
		t.Errorf("output = %q", got.Output)
	}
}

func TestMarshalIsDeterministic(t *testing.T) {
	r := &RunReport{RunID: NewRunID(), Program: "arrays", Threads: []ThreadReport{{ID: 1, Name: "main"}}}
	a, _ := Marshal(r)
	b, _ := Marshal(r)
	if !bytes.Equal(a, b) {
		t.Error("canonical encoding should be byte-identical")
	}
}

func TestUnmarshalRejectsBadRunID(t *testing.T) {
	data, err := Marshal(&RunReport{RunID: "not-a-uuid"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Unmarshal(data); !errors.Is(err, ErrBadRunID) {
		t.Errorf("Unmarshal error = %v, want ErrBadRunID", err)
	}
	if _, err := Unmarshal([]byte{0xff, 0x00}); err == nil || !strings.Contains(err.Error(), "unmarshal") {
		t.Errorf("Unmarshal(garbage) error = %v", err)
	}
}

func TestNewRunIDUnique(t *testing.T) {
	if NewRunID() == NewRunID() {
		t.Error("run ids should differ")
	}
}

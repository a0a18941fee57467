package demos

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/chazu/stepvm/vm"
)

func runDemo(t *testing.T, name string, quota int, opts ...vm.Option) (*vm.Scheduler, string) {
	t.Helper()
	d, err := Lookup(name)
	if err != nil {
		t.Fatal(err)
	}
	bd := d.Build()
	var out bytes.Buffer
	s := vm.NewScheduler(append([]vm.Option{vm.WithOutput(&out)}, opts...)...)
	if err := s.Init(bd.Main, bd.StaticInit...); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 10000 && s.Run(quota) == vm.GiveMeAdditionalTime; i++ {
	}
	return s, out.String()
}

func TestRegistry(t *testing.T) {
	want := []string{"arrays", "counter", "deadlock", "exceptions", "semaphore", "slowthread", "uncaught"}
	got := Names()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Names() = %v, want %v", got, want)
	}
	if _, err := Lookup("nope"); err == nil {
		t.Error("Lookup of an unknown demo should fail")
	}
	for _, d := range All() {
		if d.Description == "" {
			t.Errorf("%s has no description", d.Name)
		}
	}
}

func TestCounterDemo(t *testing.T) {
	s, out := runDemo(t, "counter", 10)
	want := "Counter loaded\ncount = 1\ncount = 2\ncount = 3\ncount = 4\ncount = 5\ndone\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
	if s.State() != vm.SchedulerStopped {
		t.Errorf("state = %v, want stopped", s.State())
	}
}

func TestExceptionsDemo(t *testing.T) {
	_, out := runDemo(t, "exceptions", 100)
	want := "10 / 2 = 5\ninner finally\ncaught ArithmeticException: / by zero\nouter finally\nend\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestUncaughtDemo(t *testing.T) {
	s, out := runDemo(t, "uncaught", 100)
	if out != "calling last\n" {
		t.Errorf("output = %q", out)
	}
	if s.State() != vm.SchedulerError {
		t.Fatalf("state = %v, want error", s.State())
	}
	th := s.UncaughtThread()
	if th.Exception().Class != vm.ArrayIndexOutOfBoundsException {
		t.Errorf("exception = %v", th.Exception())
	}
	trace := th.StackTrace()
	if len(trace) != 2 {
		t.Fatalf("trace = %v, want 2 entries", trace)
	}
	if trace[0].Method != "Uncaught.last(int[])" || trace[0].Range.StartLine != 3 {
		t.Errorf("trace[0] = %v", trace[0])
	}
	if trace[1].Range.StartLine != 9 {
		t.Errorf("trace[1] = %v", trace[1])
	}
}

func TestSemaphoreDemo(t *testing.T) {
	for _, quota := range []int{1, 3, 7, 100} {
		s, out := runDemo(t, "semaphore", quota)
		lines := strings.Split(strings.TrimSpace(out), "\n")
		if lines[len(lines)-1] != "counter = 6" {
			t.Errorf("quota %d: last line = %q, want counter = 6", quota, lines[len(lines)-1])
		}
		inside := ""
		for _, line := range lines[:len(lines)-1] {
			name, action, _ := strings.Cut(line, " ")
			switch action {
			case "enters":
				if inside != "" {
					t.Errorf("quota %d: %s entered while %s inside", quota, name, inside)
				}
				inside = name
			case "leaves":
				inside = ""
			}
		}
		if s.State() != vm.SchedulerStopped {
			t.Errorf("quota %d: state = %v", quota, s.State())
		}
	}
}

func TestDeadlockDemo(t *testing.T) {
	s, out := runDemo(t, "deadlock", 5)
	if out != "" {
		t.Errorf("output = %q, want nothing", out)
	}
	if s.State() != vm.SchedulerRunning {
		t.Errorf("state = %v, want running (deadlocked)", s.State())
	}
	if len(s.Runnable()) != 0 || len(s.Suspended()) != 3 {
		t.Errorf("runnable %d, suspended %d, want 0 and 3", len(s.Runnable()), len(s.Suspended()))
	}
}

func TestArraysDemo(t *testing.T) {
	_, out := runDemo(t, "arrays", 50)
	want := "[0, 0, 0, 0]\n[0, 1, 2, 3]\n[0, 2, 4, 6]\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestSlowThreadDemo(t *testing.T) {
	now := time.Unix(1700000000, 0)
	d, _ := Lookup("slowthread")
	bd := d.Build()
	var out bytes.Buffer
	s := vm.NewScheduler(vm.WithOutput(&out), vm.WithClock(func() time.Time { return now }))
	s.Init(bd.Main)
	s.Start()
	for i := 0; i < 1000 && s.State() == vm.SchedulerRunning; i++ {
		s.Run(100)
		now = now.Add(100 * time.Millisecond)
	}

	text := out.String()
	if !strings.HasSuffix(text, "both done\n") {
		t.Fatalf("output = %q", text)
	}
	if strings.Index(text, "fast 3") > strings.Index(text, "slow 1") {
		t.Errorf("slow thread overtook the fast one: %q", text)
	}
	slow := s.Finished()
	var slowThread *vm.Thread
	for _, th := range slow {
		if th.Name() == "Thread-2" {
			slowThread = th
		}
	}
	if slowThread == nil || slowThread.MaxStepsPerSecond() != SlowRate {
		t.Errorf("slow thread rate not set: %v", slowThread)
	}
}

func TestProgramAtLine(t *testing.T) {
	d, _ := Lookup("counter")
	bd := d.Build()
	p, i, ok := bd.ProgramAt("Counter.java", 6)
	if !ok || p != bd.Main {
		t.Fatalf("ProgramAt(Counter.java, 6) = %v, %d, %v", p, i, ok)
	}
	if p.Steps()[i].Range.StartLine != 6 {
		t.Errorf("step %d is on line %d", i, p.Steps()[i].Range.StartLine)
	}
	if _, _, ok := bd.ProgramAt("Counter.java", 99); ok {
		t.Error("no step lives on line 99")
	}
}

func TestFreshProgramsPerBuild(t *testing.T) {
	d, _ := Lookup("counter")
	a, b := d.Build(), d.Build()
	if a.Main == b.Main {
		t.Error("Build should assemble new programs every time")
	}
}

// stepvm runs the built-in teaching programs on the step scheduler, either
// once from the command line or behind an LSP connection for an editor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/stepvm/demos"
	"github.com/chazu/stepvm/history"
	"github.com/chazu/stepvm/manifest"
	"github.com/chazu/stepvm/report"
	"github.com/chazu/stepvm/server"
)

func main() {
	configDir := flag.String("config", "", "Directory holding stepvm.toml (default: search upwards from the working directory)")
	demoName := flag.String("demo", "", "Demo to run (default: [project] entry)")
	list := flag.Bool("list", false, "List the built-in demos")
	quota := flag.Int("quota", 0, "Steps per frame (overrides [scheduler] quota)")
	serve := flag.Bool("serve", false, "Serve the LSP protocol on stdio")
	historyPath := flag.String("history", "", "Run history database, or \"off\" (overrides [history] path)")
	recent := flag.Int("recent", 0, "Print the last N recorded runs and exit")
	verbosity := flag.Int("v", -1, "Log verbosity (overrides [log] verbosity)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: stepvm [options] [demo]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a built-in demo program one step at a time.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  stepvm -list              # List demos\n")
		fmt.Fprintf(os.Stderr, "  stepvm semaphore          # Run the semaphore demo\n")
		fmt.Fprintf(os.Stderr, "  stepvm -quota 1 deadlock  # One step per frame\n")
		fmt.Fprintf(os.Stderr, "  stepvm -serve             # Editor bridge on stdio\n")
	}
	flag.Parse()

	if *list {
		for _, d := range demos.All() {
			fmt.Printf("%-12s %s\n", d.Name, d.Description)
		}
		return
	}

	m, err := loadManifest(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *quota > 0 {
		m.Scheduler.Quota = *quota
	}
	if *verbosity >= 0 {
		m.Log.Verbosity = *verbosity
	}
	switch *historyPath {
	case "":
	case "off":
		m.History.Disabled = true
	default:
		m.History.Path = *historyPath
	}
	commonlog.Configure(m.Log.Verbosity, m.LogPath())
	log := commonlog.GetLogger("stepvm")

	var store *history.Store
	if !m.History.Disabled {
		store, err = history.Open(m.HistoryPath())
		if err != nil {
			log.Warningf("history disabled: %s", err)
			store = nil
		} else {
			defer store.Close()
		}
	}

	if *recent > 0 {
		if err := printRecent(store, *recent); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	opts := []server.DriverOption{
		server.WithQuota(m.Scheduler.Quota),
		server.WithFrameInterval(m.Scheduler.FrameInterval),
		server.WithSchedulerOptions(m.SchedulerOptions()...),
	}
	if store != nil {
		opts = append(opts, server.WithHistory(store))
	}

	if *serve {
		// stdout carries the protocol.
		opts = append(opts, server.WithOutput(os.Stderr))
		driver := server.NewDriver(opts...)
		if err := server.NewLSP(driver, store).Run(); err != nil {
			fmt.Fprintf(os.Stderr, "LSP server error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	name := *demoName
	if name == "" && flag.NArg() > 0 {
		name = flag.Arg(0)
	}
	if name == "" {
		name = m.Project.Entry
	}
	if name == "" {
		flag.Usage()
		os.Exit(2)
	}

	driver := server.NewDriver(append(opts, server.WithOutput(os.Stdout))...)
	defer driver.Close()
	r, err := runDemo(driver, m, name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	printSummary(r)
	if r.Failed() {
		os.Exit(1)
	}
}

func loadManifest(dir string) (*manifest.Manifest, error) {
	if dir != "" {
		return manifest.Load(dir)
	}
	m, err := manifest.FindAndLoad(".")
	if err != nil || m != nil {
		return m, err
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return manifest.Default(wd), nil
}

// runDemo runs name to the end. Breakpoints from the manifest print the
// position and continue; a run that stalls with blocked threads is reported
// as a deadlock and stopped.
func runDemo(d *server.Driver, m *manifest.Manifest, name string) (*report.RunReport, error) {
	demo, err := demos.Lookup(name)
	if err != nil {
		return nil, err
	}
	b := demo.Build()
	bps, err := m.Breakpoints()
	if err != nil {
		return nil, err
	}
	for _, bp := range bps {
		p, i, ok := b.ProgramAt(bp.Module, bp.Line)
		if !ok {
			return nil, fmt.Errorf("%w: %s", server.ErrNoStep, bp)
		}
		p.SetBreakpoint(i, true)
	}

	events := make(chan server.Event, 64)
	unsubscribe := d.Subscribe(func(ev server.Event) {
		switch ev.Kind {
		case server.EventPaused, server.EventIdle:
			events <- ev
		}
	})
	defer unsubscribe()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := d.Start(name, b); err != nil {
		return nil, err
	}
	done := make(chan struct{})
	var r *report.RunReport
	var waitErr error
	go func() {
		defer close(done)
		r, waitErr = d.Wait(ctx)
	}()

	for {
		select {
		case <-done:
			if errors.Is(waitErr, context.Canceled) {
				d.Stop()
				return d.Wait(context.Background())
			}
			return r, waitErr
		case ev := <-events:
			switch ev.Kind {
			case server.EventPaused:
				pos := ev.Position
				fmt.Fprintf(os.Stderr, "-- breakpoint at %s:%s in %s\n", pos.Module, pos.Range, pos.ThreadName)
				if err := d.Resume(); err != nil {
					return nil, err
				}
			case server.EventIdle:
				fmt.Fprintf(os.Stderr, "-- deadlock: %d threads blocked, nothing can run\n", ev.Blocked)
				if err := d.Stop(); err != nil {
					return nil, err
				}
			}
		}
	}
}

func printSummary(r *report.RunReport) {
	if r.Exception != nil {
		fmt.Fprintf(os.Stderr, "Exception in thread %q %s\n", r.Exception.Thread, r.Exception)
	}
	fmt.Fprintf(os.Stderr, "-- %s %s: %d steps, last %d in %s (%.0f steps/s), run %s\n",
		r.Program, r.State, r.Steps, r.RunSteps, r.Duration.Round(time.Millisecond), r.StepsPerSecond, r.RunID)
}

func printRecent(store *history.Store, n int) error {
	if store == nil {
		return errors.New("no run history")
	}
	runs, err := store.Recent(n)
	if err != nil {
		return err
	}
	for _, run := range runs {
		mark := ""
		if run.Failed {
			mark = " (failed)"
		}
		fmt.Printf("%s  %s  %-12s %-8s %6d steps%s\n",
			run.FinishedAt.Format(time.DateTime), run.RunID, run.Program, run.State, run.Steps, mark)
	}
	return nil
}

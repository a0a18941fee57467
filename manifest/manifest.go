// Package manifest handles stepvm.toml run configuration.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/chazu/stepvm/vm"
)

// FileName is the manifest file looked up by Load and FindAndLoad.
const FileName = "stepvm.toml"

// Defaults applied after decoding.
const (
	DefaultQuota         = 1000
	DefaultFrameInterval = 16 * time.Millisecond
	DefaultHistoryPath   = ".stepvm/history.db"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid manifest")

// Manifest represents a stepvm.toml configuration.
type Manifest struct {
	Project   Project         `toml:"project"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Threads   ThreadsConfig   `toml:"threads"`
	Log       LogConfig       `toml:"log"`
	History   HistoryConfig   `toml:"history"`
	Debug     DebugConfig     `toml:"debug"`

	// Dir is the directory containing the stepvm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project names the run.
type Project struct {
	Name  string `toml:"name"`
	Entry string `toml:"entry"` // demo to run
}

// SchedulerConfig tunes the quota loop.
type SchedulerConfig struct {
	Quota             int           `toml:"quota"`
	FrameInterval     time.Duration `toml:"frame-interval"`
	CheckedRelease    *bool         `toml:"checked-release"`
	HaltAtBreakpoints *bool         `toml:"halt-at-breakpoints"`
}

// ThreadsConfig sets per-thread defaults.
type ThreadsConfig struct {
	MaxStepsPerSecond float64 `toml:"max-steps-per-second"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// HistoryConfig locates the run history database.
type HistoryConfig struct {
	Path     string `toml:"path"`
	Disabled bool   `toml:"disabled"`
}

// DebugConfig lists breakpoints to set before the run, as "Module.java:line".
type DebugConfig struct {
	Breakpoints []string `toml:"breakpoints"`
}

// Breakpoint is one parsed entry of [debug] breakpoints.
type Breakpoint struct {
	Module string
	Line   int
}

func (b Breakpoint) String() string {
	return fmt.Sprintf("%s:%d", b.Module, b.Line)
}

// Default returns a manifest holding only defaults, for runs without a
// stepvm.toml.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

// Load parses a stepvm.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: %w: unknown key %s", path, ErrInvalid, undecoded[0])
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a stepvm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) applyDefaults() {
	if m.Scheduler.Quota == 0 {
		m.Scheduler.Quota = DefaultQuota
	}
	if m.Scheduler.FrameInterval == 0 {
		m.Scheduler.FrameInterval = DefaultFrameInterval
	}
	if m.Scheduler.CheckedRelease == nil {
		on := true
		m.Scheduler.CheckedRelease = &on
	}
	if m.Scheduler.HaltAtBreakpoints == nil {
		on := true
		m.Scheduler.HaltAtBreakpoints = &on
	}
	if m.History.Path == "" {
		m.History.Path = DefaultHistoryPath
	}
}

// Validate checks value ranges and the breakpoint syntax.
func (m *Manifest) Validate() error {
	if m.Scheduler.Quota < 0 {
		return fmt.Errorf("%w: scheduler.quota must be positive, got %d", ErrInvalid, m.Scheduler.Quota)
	}
	if m.Scheduler.FrameInterval < 0 {
		return fmt.Errorf("%w: scheduler.frame-interval must be positive, got %s", ErrInvalid, m.Scheduler.FrameInterval)
	}
	if m.Threads.MaxStepsPerSecond < 0 {
		return fmt.Errorf("%w: threads.max-steps-per-second must not be negative", ErrInvalid)
	}
	_, err := m.Breakpoints()
	return err
}

// Breakpoints parses the [debug] breakpoints list.
func (m *Manifest) Breakpoints() ([]Breakpoint, error) {
	var out []Breakpoint
	for _, s := range m.Debug.Breakpoints {
		i := strings.LastIndexByte(s, ':')
		if i <= 0 {
			return nil, fmt.Errorf("%w: breakpoint %q is not Module:line", ErrInvalid, s)
		}
		line, err := strconv.Atoi(s[i+1:])
		if err != nil || line <= 0 {
			return nil, fmt.Errorf("%w: breakpoint %q has a bad line number", ErrInvalid, s)
		}
		out = append(out, Breakpoint{Module: s[:i], Line: line})
	}
	return out, nil
}

// HistoryPath returns the absolute path of the history database.
func (m *Manifest) HistoryPath() string {
	if filepath.IsAbs(m.History.Path) {
		return m.History.Path
	}
	return filepath.Join(m.Dir, m.History.Path)
}

// LogPath returns the absolute log file path, or nil for stderr.
func (m *Manifest) LogPath() *string {
	if m.Log.File == "" {
		return nil
	}
	p := m.Log.File
	if !filepath.IsAbs(p) {
		p = filepath.Join(m.Dir, p)
	}
	return &p
}

// SchedulerOptions turns the manifest into scheduler options.
func (m *Manifest) SchedulerOptions() []vm.Option {
	opts := []vm.Option{
		vm.WithMaxStepsPerSecond(m.Threads.MaxStepsPerSecond),
	}
	if m.Scheduler.CheckedRelease != nil {
		opts = append(opts, vm.WithCheckedRelease(*m.Scheduler.CheckedRelease))
	}
	if m.Scheduler.HaltAtBreakpoints != nil {
		opts = append(opts, vm.WithHaltAtBreakpoints(*m.Scheduler.HaltAtBreakpoints))
	}
	return opts
}

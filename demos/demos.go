// Package demos holds the built-in teaching programs, assembled with asm.
package demos

import (
	"fmt"
	"sort"

	"github.com/chazu/stepvm/vm"
)

// Bundle is one compiled demo: the entry point, its static initialisers and
// every program it uses (for breakpoint lookup by line).
type Bundle struct {
	Main       *vm.Program
	StaticInit []*vm.Program
	Programs   []*vm.Program
}

// ProgramAt returns the program of module containing a step on line and
// that step's index.
func (b *Bundle) ProgramAt(module string, line int) (*vm.Program, int, bool) {
	for _, p := range b.Programs {
		if module != "" && p.Module != module {
			continue
		}
		if i := p.StepAtLine(line); i >= 0 {
			return p, i, true
		}
	}
	return nil, -1, false
}

// Demo describes one registered program.
type Demo struct {
	Name        string
	Description string
	build       func() *Bundle
}

// Build assembles a fresh copy. Breakpoints live on steps, so every run
// gets its own programs.
func (d Demo) Build() *Bundle {
	return d.build()
}

var registry = map[string]Demo{}

func register(name, description string, build func() *Bundle) {
	if _, dup := registry[name]; dup {
		panic("demos: duplicate demo " + name)
	}
	registry[name] = Demo{Name: name, Description: description, build: build}
}

// Lookup returns the named demo.
func Lookup(name string) (Demo, error) {
	d, ok := registry[name]
	if !ok {
		return Demo{}, fmt.Errorf("unknown demo %q (have %v)", name, Names())
	}
	return d, nil
}

// Names lists the registered demos in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every demo sorted by name.
func All() []Demo {
	out := make([]Demo, 0, len(registry))
	for _, name := range Names() {
		out = append(out, registry[name])
	}
	return out
}

func bundle(main *vm.Program, others ...*vm.Program) *Bundle {
	return &Bundle{Main: main, Programs: append([]*vm.Program{main}, others...)}
}

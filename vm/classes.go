package vm

import (
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// Runtime class descriptors
// ---------------------------------------------------------------------------

// ClassDescriptor is the runtime view of a compiled class: just enough of
// the type hierarchy to match exceptions against catch clauses.
type ClassDescriptor struct {
	Identifier string
	Super      *ClassDescriptor
	Interfaces []*ClassDescriptor
}

// NewClass creates a descriptor with the given super class and interfaces.
func NewClass(identifier string, super *ClassDescriptor, interfaces ...*ClassDescriptor) *ClassDescriptor {
	return &ClassDescriptor{Identifier: identifier, Super: super, Interfaces: interfaces}
}

// TypeChain returns the class's own identifier followed by every declared
// interface and super type, nearest first, without duplicates.
func (c *ClassDescriptor) TypeChain() []string {
	var chain []string
	seen := make(map[string]bool)
	var walk func(d *ClassDescriptor)
	walk = func(d *ClassDescriptor) {
		for ; d != nil; d = d.Super {
			if !seen[d.Identifier] {
				seen[d.Identifier] = true
				chain = append(chain, d.Identifier)
			}
			for _, iface := range d.Interfaces {
				walk(iface)
			}
		}
	}
	walk(c)
	return chain
}

// IsSubclassOf reports whether c is identifier or inherits from it.
func (c *ClassDescriptor) IsSubclassOf(identifier string) bool {
	for _, id := range c.TypeChain() {
		if id == identifier {
			return true
		}
	}
	return false
}

func (c *ClassDescriptor) String() string {
	return c.Identifier
}

// ---------------------------------------------------------------------------
// Built-in classes
// ---------------------------------------------------------------------------

// Built-in descriptors are never mutated after package initialisation, so
// they can be shared by every Scheduler.
var (
	ObjectClass                    = NewClass("Object", nil)
	ThrowableClass                 = NewClass("Throwable", ObjectClass)
	ExceptionBase                  = NewClass("Exception", ThrowableClass)
	ErrorBase                      = NewClass("Error", ThrowableClass)
	RuntimeException               = NewClass("RuntimeException", ExceptionBase)
	ArithmeticException            = NewClass("ArithmeticException", RuntimeException)
	NullPointerException           = NewClass("NullPointerException", RuntimeException)
	IndexOutOfBoundsException      = NewClass("IndexOutOfBoundsException", RuntimeException)
	ArrayIndexOutOfBoundsException = NewClass("ArrayIndexOutOfBoundsException", IndexOutOfBoundsException)
	NegativeArraySizeException     = NewClass("NegativeArraySizeException", RuntimeException)
	ClassCastException             = NewClass("ClassCastException", RuntimeException)
	IllegalArgumentException       = NewClass("IllegalArgumentException", RuntimeException)
	IllegalMonitorStateException   = NewClass("IllegalMonitorStateException", RuntimeException)
	InterruptedException           = NewClass("InterruptedException", ExceptionBase)
	StackOverflowError             = NewClass("StackOverflowError", ErrorBase)
)

var builtinClasses = []*ClassDescriptor{
	ObjectClass, ThrowableClass, ExceptionBase, ErrorBase, RuntimeException,
	ArithmeticException, NullPointerException, IndexOutOfBoundsException,
	ArrayIndexOutOfBoundsException, NegativeArraySizeException,
	ClassCastException, IllegalArgumentException, IllegalMonitorStateException,
	InterruptedException, StackOverflowError,
}

// ---------------------------------------------------------------------------
// ClassRegistry
// ---------------------------------------------------------------------------

// ClassRegistry maps compiled class identifiers to runtime descriptors. The
// compiler fills it; the runtime only reads it. One registry belongs to one
// Scheduler so independent runs never see each other's classes.
type ClassRegistry struct {
	classes map[string]*ClassDescriptor
}

// NewClassRegistry returns a registry preloaded with the built-in classes.
func NewClassRegistry() *ClassRegistry {
	r := &ClassRegistry{classes: make(map[string]*ClassDescriptor, len(builtinClasses))}
	for _, c := range builtinClasses {
		r.classes[c.Identifier] = c
	}
	return r
}

// Register adds a class. Registering an identifier twice is an error.
func (r *ClassRegistry) Register(c *ClassDescriptor) error {
	if c == nil || c.Identifier == "" {
		return fmt.Errorf("register class: missing identifier")
	}
	if _, exists := r.classes[c.Identifier]; exists {
		return fmt.Errorf("register class %s: %w", c.Identifier, ErrDuplicateClass)
	}
	r.classes[c.Identifier] = c
	return nil
}

// Lookup returns the descriptor for identifier, or nil.
func (r *ClassRegistry) Lookup(identifier string) *ClassDescriptor {
	return r.classes[identifier]
}

// MustLookup is Lookup for identifiers the caller knows are registered.
func (r *ClassRegistry) MustLookup(identifier string) *ClassDescriptor {
	c := r.classes[identifier]
	if c == nil {
		panic("ClassRegistry.MustLookup: unknown class " + identifier)
	}
	return c
}

// TypeChain returns the type chain of a registered class, or nil.
func (r *ClassRegistry) TypeChain(identifier string) []string {
	if c := r.classes[identifier]; c != nil {
		return c.TypeChain()
	}
	return nil
}

// Identifiers lists all registered identifiers in sorted order.
func (r *ClassRegistry) Identifiers() []string {
	ids := make([]string, 0, len(r.classes))
	for id := range r.classes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

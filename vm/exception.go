package vm

import (
	"fmt"
	"strings"
)

// MaxFrameDepth bounds a thread's activation stack. Pushing past it throws
// StackOverflowError instead of growing without limit.
const MaxFrameDepth = 4096

// ---------------------------------------------------------------------------
// Exception objects
// ---------------------------------------------------------------------------

// Exception is a thrown Throwable. It is both a heap object (Ref(ex)) that
// user code can catch and store, and a Go error so hosts can report it.
type Exception struct {
	Class   *ClassDescriptor
	Message string
	Range   SourceRange // where a built-in exception was raised, if known
	Cause   *Exception

	trace []StackTraceEntry
}

// NewException creates an exception of the given class.
func NewException(class *ClassDescriptor, message string) *Exception {
	if class == nil {
		class = RuntimeException
	}
	return &Exception{Class: class, Message: message}
}

// NewExceptionAt creates an exception that carries the range of the step
// that raised it.
func NewExceptionAt(class *ClassDescriptor, message string, r SourceRange) *Exception {
	ex := NewException(class, message)
	ex.Range = r
	return ex
}

// TypeChain returns the exception class's identifier and all its super
// types and interfaces.
func (e *Exception) TypeChain() []string {
	return e.Class.TypeChain()
}

// StackTrace returns the frames captured when the exception was first thrown.
func (e *Exception) StackTrace() []StackTraceEntry {
	return e.trace
}

func (e *Exception) Error() string {
	if e.Message == "" {
		return e.Class.Identifier
	}
	return e.Class.Identifier + ": " + e.Message
}

func (e *Exception) String() string {
	return e.Error()
}

// wrapHostPanic turns a recovered panic into something throwable.
func wrapHostPanic(r any) *Exception {
	switch v := r.(type) {
	case *Exception:
		return v
	case error:
		return NewException(RuntimeException, v.Error())
	default:
		return NewException(RuntimeException, fmt.Sprint(v))
	}
}

// ---------------------------------------------------------------------------
// Stack traces
// ---------------------------------------------------------------------------

// StackTraceEntry is one frame of a captured stack trace, innermost first.
type StackTraceEntry struct {
	Method string
	Module string
	Range  SourceRange
}

func (e StackTraceEntry) String() string {
	if e.Module == "" {
		return fmt.Sprintf("at %s (%s)", e.Method, e.Range)
	}
	return fmt.Sprintf("at %s (%s:%s)", e.Method, e.Module, e.Range)
}

// FormatStackTrace renders an exception and its trace like a JVM does.
func FormatStackTrace(ex *Exception, trace []StackTraceEntry) string {
	var sb strings.Builder
	sb.WriteString(ex.Error())
	for _, entry := range trace {
		sb.WriteString("\n\t")
		sb.WriteString(entry.String())
	}
	for c := ex.Cause; c != nil; c = c.Cause {
		sb.WriteString("\nCaused by: ")
		sb.WriteString(c.Error())
	}
	return sb.String()
}

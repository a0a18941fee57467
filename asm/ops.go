package asm

import (
	"cmp"
	"fmt"

	"github.com/chazu/stepvm/vm"
)

// ---------------------------------------------------------------------------
// Constants, locals and the operand stack
// ---------------------------------------------------------------------------

// Nop does nothing; useful as a breakpoint anchor.
func (b *Builder) Nop() *Builder {
	return b.emit("nop", func(*vm.Thread, *vm.OperandStack, int) {})
}

// Const pushes v.
func (b *Builder) Const(v vm.Value) *Builder {
	return b.emit("push "+v.String(), func(_ *vm.Thread, s *vm.OperandStack, _ int) {
		s.Push(v)
	})
}

// Int pushes an int constant.
func (b *Builder) Int(n int64) *Builder { return b.Const(vm.Int(n)) }

// Str pushes a string constant.
func (b *Builder) Str(text string) *Builder { return b.Const(vm.String(text)) }

// Load pushes local slot.
func (b *Builder) Load(slot int) *Builder {
	return b.emit(fmt.Sprintf("load %d", slot), func(_ *vm.Thread, s *vm.OperandStack, base int) {
		s.Push(s.Get(base + slot))
	})
}

// Store pops into local slot.
func (b *Builder) Store(slot int) *Builder {
	return b.emit(fmt.Sprintf("store %d", slot), func(_ *vm.Thread, s *vm.OperandStack, base int) {
		s.Set(base+slot, s.Pop())
	})
}

// Inc adds delta to the int in local slot.
func (b *Builder) Inc(slot int, delta int64) *Builder {
	return b.emit(fmt.Sprintf("inc %d %d", slot, delta), func(_ *vm.Thread, s *vm.OperandStack, base int) {
		s.Set(base+slot, vm.Int(s.Get(base+slot).AsInt()+delta))
	})
}

// Pop discards the top value.
func (b *Builder) Pop() *Builder {
	return b.emit("pop", func(_ *vm.Thread, s *vm.OperandStack, _ int) { s.Pop() })
}

// Dup duplicates the top value.
func (b *Builder) Dup() *Builder {
	return b.emit("dup", func(_ *vm.Thread, s *vm.OperandStack, _ int) { s.Push(s.Peek()) })
}

// ---------------------------------------------------------------------------
// Arithmetic and comparison
// ---------------------------------------------------------------------------

func (b *Builder) binary(text string, fn func(t *vm.Thread, x, y vm.Value) (vm.Value, bool)) *Builder {
	return b.emit(text, func(t *vm.Thread, s *vm.OperandStack, _ int) {
		y := s.Pop()
		x := s.Pop()
		if r, ok := fn(t, x, y); ok {
			s.Push(r)
		}
	})
}

func isFloat(x, y vm.Value) bool {
	return x.Kind() == vm.KindFloat || y.Kind() == vm.KindFloat
}

// Add pops two values and pushes their sum. A string operand makes it a
// concatenation.
func (b *Builder) Add() *Builder {
	return b.binary("add", func(_ *vm.Thread, x, y vm.Value) (vm.Value, bool) {
		switch {
		case x.Kind() == vm.KindString || y.Kind() == vm.KindString:
			return vm.String(x.String() + y.String()), true
		case isFloat(x, y):
			return vm.Float(x.AsFloat() + y.AsFloat()), true
		}
		return vm.Int(x.AsInt() + y.AsInt()), true
	})
}

// Sub pops y then x and pushes x-y.
func (b *Builder) Sub() *Builder {
	return b.binary("sub", func(_ *vm.Thread, x, y vm.Value) (vm.Value, bool) {
		if isFloat(x, y) {
			return vm.Float(x.AsFloat() - y.AsFloat()), true
		}
		return vm.Int(x.AsInt() - y.AsInt()), true
	})
}

// Mul pops two values and pushes their product.
func (b *Builder) Mul() *Builder {
	return b.binary("mul", func(_ *vm.Thread, x, y vm.Value) (vm.Value, bool) {
		if isFloat(x, y) {
			return vm.Float(x.AsFloat() * y.AsFloat()), true
		}
		return vm.Int(x.AsInt() * y.AsInt()), true
	})
}

// Div pops y then x and pushes x/y. Integer division by zero throws
// ArithmeticException.
func (b *Builder) Div() *Builder {
	return b.binary("div", func(t *vm.Thread, x, y vm.Value) (vm.Value, bool) {
		if isFloat(x, y) {
			return vm.Float(x.AsFloat() / y.AsFloat()), true
		}
		if y.AsInt() == 0 {
			t.ThrowNew(vm.ArithmeticException, "/ by zero")
			return vm.Null, false
		}
		return vm.Int(x.AsInt() / y.AsInt()), true
	})
}

// Rem pops y then x and pushes x%y.
func (b *Builder) Rem() *Builder {
	return b.binary("rem", func(t *vm.Thread, x, y vm.Value) (vm.Value, bool) {
		if y.AsInt() == 0 {
			t.ThrowNew(vm.ArithmeticException, "/ by zero")
			return vm.Null, false
		}
		return vm.Int(x.AsInt() % y.AsInt()), true
	})
}

func compareNumbers(x, y vm.Value) int {
	if isFloat(x, y) {
		return cmp.Compare(x.AsFloat(), y.AsFloat())
	}
	return cmp.Compare(x.AsInt(), y.AsInt())
}

func (b *Builder) relation(text string, accept func(c int) bool) *Builder {
	return b.binary(text, func(_ *vm.Thread, x, y vm.Value) (vm.Value, bool) {
		return vm.Bool(accept(compareNumbers(x, y))), true
	})
}

// Lt pushes x < y.
func (b *Builder) Lt() *Builder { return b.relation("lt", func(c int) bool { return c < 0 }) }

// Le pushes x <= y.
func (b *Builder) Le() *Builder { return b.relation("le", func(c int) bool { return c <= 0 }) }

// Gt pushes x > y.
func (b *Builder) Gt() *Builder { return b.relation("gt", func(c int) bool { return c > 0 }) }

// Ge pushes x >= y.
func (b *Builder) Ge() *Builder { return b.relation("ge", func(c int) bool { return c >= 0 }) }

// Eq pushes x == y with Java semantics.
func (b *Builder) Eq() *Builder {
	return b.binary("eq", func(_ *vm.Thread, x, y vm.Value) (vm.Value, bool) {
		return vm.Bool(vm.Equal(x, y)), true
	})
}

// Ne pushes x != y.
func (b *Builder) Ne() *Builder {
	return b.binary("ne", func(_ *vm.Thread, x, y vm.Value) (vm.Value, bool) {
		return vm.Bool(!vm.Equal(x, y)), true
	})
}

// Not negates the boolean on top of the stack.
func (b *Builder) Not() *Builder {
	return b.emit("not", func(_ *vm.Thread, s *vm.OperandStack, _ int) {
		s.Push(vm.Bool(!s.Pop().AsBool()))
	})
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

// Jump continues at l.
func (b *Builder) Jump(l *Label) *Builder {
	return b.emitLinked("jump "+l.String(), func(k *linker, _ int) vm.StepFunc {
		target := k.target(l)
		return func(*vm.Thread, *vm.OperandStack, int) int { return target }
	})
}

// JumpIfFalse pops a boolean and continues at l when it is false.
func (b *Builder) JumpIfFalse(l *Label) *Builder {
	return b.conditional("jump-if-false "+l.String(), l, false)
}

// JumpIfTrue pops a boolean and continues at l when it is true.
func (b *Builder) JumpIfTrue(l *Label) *Builder {
	return b.conditional("jump-if-true "+l.String(), l, true)
}

func (b *Builder) conditional(text string, l *Label, when bool) *Builder {
	return b.emitLinked(text, func(k *linker, next int) vm.StepFunc {
		target := k.target(l)
		return func(_ *vm.Thread, s *vm.OperandStack, _ int) int {
			if s.Pop().AsBool() == when {
				return target
			}
			return next
		}
	})
}

// Call enters p. The caller must have pushed p's receiver and arguments.
func (b *Builder) Call(p *vm.Program) *Builder {
	if p == nil {
		b.errorf("call of nil program")
		return b
	}
	return b.emit("call "+p.String(), func(t *vm.Thread, _ *vm.OperandStack, _ int) {
		t.PushProgram(p, nil)
	})
}

// CallSelf enters the program being built (recursion).
func (b *Builder) CallSelf() *Builder {
	return b.emitLinked("call self", func(k *linker, next int) vm.StepFunc {
		return func(t *vm.Thread, _ *vm.OperandStack, _ int) int {
			t.PushProgram(k.self, nil)
			return next
		}
	})
}

// Return pops the result and leaves the frame.
func (b *Builder) Return() *Builder {
	return b.emit("return", func(t *vm.Thread, s *vm.OperandStack, _ int) {
		t.Return(s.Pop())
	})
}

// ReturnVoid leaves the frame without a result.
func (b *Builder) ReturnVoid() *Builder {
	return b.emit("return", func(t *vm.Thread, _ *vm.OperandStack, _ int) {
		t.ReturnVoid()
	})
}

// Native emits a custom step body.
func (b *Builder) Native(text string, run func(t *vm.Thread, s *vm.OperandStack, base int)) *Builder {
	return b.emit(text, run)
}

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

// NewException pushes a fresh exception object.
func (b *Builder) NewException(class *vm.ClassDescriptor, message string) *Builder {
	return b.emit("new "+class.Identifier, func(_ *vm.Thread, s *vm.OperandStack, _ int) {
		s.Push(vm.Ref(vm.NewException(class, message)))
	})
}

// Throw pops an exception object and throws it.
func (b *Builder) Throw() *Builder {
	return b.emit("throw", func(t *vm.Thread, s *vm.OperandStack, _ int) {
		if ex, ok := deref[*vm.Exception](t, s.Pop(), "Throwable"); ok {
			t.Throw(ex)
		}
	})
}

// ThrowNew throws a fresh exception raised at this step.
func (b *Builder) ThrowNew(class *vm.ClassDescriptor, message string) *Builder {
	return b.emit("throw new "+class.Identifier, func(t *vm.Thread, _ *vm.OperandStack, _ int) {
		t.ThrowNew(class, message)
	})
}

// Try opens a try block. finally may be nil.
func (b *Builder) Try(finally *Label, catches ...Catch) *Builder {
	return b.emitLinked("try", func(k *linker, next int) vm.StepFunc {
		clauses := make([]vm.CatchClause, len(catches))
		for i, c := range catches {
			clauses[i] = vm.CatchClause{Types: c.Types, Target: k.target(c.Handler)}
		}
		finallyIndex := -1
		if finally != nil {
			finallyIndex = k.target(finally)
		}
		return func(t *vm.Thread, _ *vm.OperandStack, _ int) int {
			t.EnterTry(clauses, finallyIndex)
			return next
		}
	})
}

// EndTry closes the innermost try block when its body completes normally.
func (b *Builder) EndTry() *Builder {
	return b.emit("end try", func(t *vm.Thread, _ *vm.OperandStack, _ int) {
		t.ExitTry()
	})
}

// LoadCaught pushes the exception delivered to the running catch block.
func (b *Builder) LoadCaught() *Builder {
	return b.emit("load caught", func(t *vm.Thread, s *vm.OperandStack, _ int) {
		if ex := t.CaughtException(); ex != nil {
			s.Push(vm.Ref(ex))
			return
		}
		s.Push(vm.Null)
	})
}

// EndFinally ends a finally block, rethrowing an exception it interrupted.
func (b *Builder) EndFinally() *Builder {
	return b.emit("end finally", func(t *vm.Thread, _ *vm.OperandStack, _ int) {
		t.EndFinally()
	})
}

// ---------------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------------

// Print pops a value and prints it.
func (b *Builder) Print() *Builder {
	return b.emit("print", func(t *vm.Thread, s *vm.OperandStack, _ int) {
		t.Scheduler().Print(s.Pop())
	})
}

// Println pops a value and prints it with a newline.
func (b *Builder) Println() *Builder {
	return b.emit("println", func(t *vm.Thread, s *vm.OperandStack, _ int) {
		t.Scheduler().Println(s.Pop())
	})
}

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

// NewArray pops dims lengths (outermost pushed first) and pushes a new
// array whose leaves hold def.
func (b *Builder) NewArray(def vm.Value, dims int) *Builder {
	return b.emit(fmt.Sprintf("new array/%d", dims), func(_ *vm.Thread, s *vm.OperandStack, _ int) {
		lengths := make([]int, dims)
		for i := dims - 1; i >= 0; i-- {
			lengths[i] = int(s.Pop().AsInt())
		}
		s.Push(vm.Ref(vm.NewArray(def, lengths...)))
	})
}

// ArrayLoad pops index and array and pushes the element.
func (b *Builder) ArrayLoad() *Builder {
	return b.emit("array load", func(t *vm.Thread, s *vm.OperandStack, _ int) {
		i := int(s.Pop().AsInt())
		if arr, ok := deref[*vm.Array](t, s.Pop(), "array"); ok {
			s.Push(arr.Get(i))
		}
	})
}

// ArrayStore pops value, index and array and stores the element.
func (b *Builder) ArrayStore() *Builder {
	return b.emit("array store", func(t *vm.Thread, s *vm.OperandStack, _ int) {
		v := s.Pop()
		i := int(s.Pop().AsInt())
		if arr, ok := deref[*vm.Array](t, s.Pop(), "array"); ok {
			arr.Set(i, v)
		}
	})
}

// ArrayLength pops an array and pushes its length.
func (b *Builder) ArrayLength() *Builder {
	return b.emit("array length", func(t *vm.Thread, s *vm.OperandStack, _ int) {
		if arr, ok := deref[*vm.Array](t, s.Pop(), "array"); ok {
			s.Push(vm.Int(int64(arr.Len())))
		}
	})
}

// ---------------------------------------------------------------------------
// Threads and semaphores
// ---------------------------------------------------------------------------

// NewSemaphore pushes a semaphore with the given permits.
func (b *Builder) NewSemaphore(permits int) *Builder {
	return b.emit(fmt.Sprintf("new Semaphore(%d)", permits), func(t *vm.Thread, s *vm.OperandStack, _ int) {
		s.Push(vm.Ref(vm.NewSemaphore(t.Scheduler(), permits)))
	})
}

// Acquire pops a semaphore and acquires a permit, blocking when none is
// free.
func (b *Builder) Acquire() *Builder {
	return b.emit("acquire", func(t *vm.Thread, s *vm.OperandStack, _ int) {
		if sem, ok := deref[*vm.Semaphore](t, s.Pop(), "Semaphore"); ok {
			sem.Acquire(t)
		}
	})
}

// Release pops a semaphore and releases a permit.
func (b *Builder) Release() *Builder {
	return b.emit("release", func(t *vm.Thread, s *vm.OperandStack, _ int) {
		if sem, ok := deref[*vm.Semaphore](t, s.Pop(), "Semaphore"); ok {
			sem.Release(t)
		}
	})
}

// Spawn pops args values (first argument pushed first), starts a thread
// running p with them and pushes the thread.
func (b *Builder) Spawn(p *vm.Program, args int) *Builder {
	if p == nil {
		b.errorf("spawn of nil program")
		return b
	}
	return b.emit("start "+p.String(), func(t *vm.Thread, s *vm.OperandStack, _ int) {
		values := make([]vm.Value, args)
		for i := args - 1; i >= 0; i-- {
			values[i] = s.Pop()
		}
		th, err := t.Scheduler().CreateThread(p, values...)
		if err != nil {
			t.ThrowNew(vm.IllegalArgumentException, err.Error())
			return
		}
		s.Push(vm.Ref(th))
	})
}

// Join pops a thread and waits for it to terminate.
func (b *Builder) Join() *Builder {
	return b.emit("join", func(t *vm.Thread, s *vm.OperandStack, _ int) {
		if target, ok := deref[*vm.Thread](t, s.Pop(), "Thread"); ok {
			t.Join(target)
		}
	})
}

// Throttle caps the running thread at rate steps per second.
func (b *Builder) Throttle(rate float64) *Builder {
	return b.emit(fmt.Sprintf("throttle %g", rate), func(t *vm.Thread, _ *vm.OperandStack, _ int) {
		t.SetMaxStepsPerSecond(rate)
	})
}

// deref unwraps a reference, throwing NullPointerException for null and
// ClassCastException for an object of the wrong type.
func deref[T any](t *vm.Thread, v vm.Value, what string) (T, bool) {
	var zero T
	if v.IsNull() {
		t.ThrowNew(vm.NullPointerException, "null "+what)
		return zero, false
	}
	obj, ok := v.AsRef().(T)
	if !ok {
		t.ThrowNew(vm.ClassCastException, fmt.Sprintf("%T cannot be cast to %s", v.AsRef(), what))
		return zero, false
	}
	return obj, true
}

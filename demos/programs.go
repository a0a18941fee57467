package demos

import (
	"github.com/chazu/stepvm/asm"
	"github.com/chazu/stepvm/vm"
)

func init() {
	register("counter", "a loop printing a counter, with a static initializer", counter)
	register("exceptions", "nested try/catch/finally around a division by zero", exceptions)
	register("uncaught", "an array index error nobody catches", uncaught)
	register("semaphore", "two threads taking turns in a critical section", semaphore)
	register("deadlock", "two threads each holding the semaphore the other needs", deadlock)
	register("arrays", "a two-dimensional multiplication table", arrays)
	register("slowthread", "a rate-limited thread next to a fast one", slowThread)
}

// javaMain starts a static main(String[]) whose slot 0 holds args.
func javaMain(class, module string, locals int) *asm.Builder {
	return asm.New("main(String[])").Class(class).Module(module).Params(1).Locals(locals)
}

// ---------------------------------------------------------------------------
// counter
// ---------------------------------------------------------------------------

func counter() *Bundle {
	const module = "Counter.java"
	clinit := asm.New("<clinit>").Class("Counter").Module(module).
		At(2, 5).Str("Counter loaded").Println().
		MustBuild()

	b := javaMain("Counter", module, 1)
	top, done := b.NewLabel("loop"), b.NewLabel("done")
	b.At(5, 14).Int(1).Store(1)
	b.Mark(top)
	b.At(5, 21).Load(1).Int(5).Gt().JumpIfTrue(done)
	b.At(6, 13).Str("count = ").Load(1).Add().Println()
	b.At(5, 29).Inc(1, 1).Jump(top)
	b.Mark(done)
	b.At(8, 9).Str("done").Println()

	bd := bundle(b.MustBuild(), clinit)
	bd.StaticInit = []*vm.Program{clinit}
	return bd
}

// ---------------------------------------------------------------------------
// exceptions
// ---------------------------------------------------------------------------

func exceptions() *Bundle {
	const module = "Exceptions.java"
	divide := asm.New("divide(int,int)").Class("Exceptions").Module(module).Params(2).
		At(3, 9).Load(0).Load(1).Div().Return().
		MustBuild()

	b := javaMain("Exceptions", module, 0)
	outerFinally := b.NewLabel("outer finally")
	innerFinally := b.NewLabel("inner finally")
	handler := b.NewLabel("catch")

	b.At(7, 9).Try(outerFinally, asm.Catch{Types: []string{"ArithmeticException"}, Handler: handler})
	b.At(8, 13).Try(innerFinally)
	b.At(9, 17).Str("10 / 2 = ").Int(10).Int(2).Call(divide).Add().Println()
	b.At(10, 17).Str("10 / 0 = ").Int(10).Int(0).Call(divide).Add().Println()
	b.At(11, 17).Str("not reached").Println()
	b.At(12, 13).EndTry()
	b.Mark(innerFinally)
	b.At(13, 17).Str("inner finally").Println()
	b.At(14, 13).EndFinally()
	b.At(15, 9).EndTry().Jump(outerFinally)
	b.Mark(handler)
	b.At(16, 13).Str("caught ").LoadCaught().Add().Println()
	b.Mark(outerFinally)
	b.At(18, 13).Str("outer finally").Println()
	b.At(19, 9).EndFinally()
	b.At(20, 9).Str("end").Println()

	return bundle(b.MustBuild(), divide)
}

// ---------------------------------------------------------------------------
// uncaught
// ---------------------------------------------------------------------------

func uncaught() *Bundle {
	const module = "Uncaught.java"
	last := asm.New("last(int[])").Class("Uncaught").Module(module).Params(1).
		At(3, 16).Load(0).Load(0).ArrayLength().ArrayLoad().Return().
		MustBuild()

	b := javaMain("Uncaught", module, 1)
	b.At(7, 9).Int(3).NewArray(vm.Int(0), 1).Store(1)
	b.At(8, 9).Str("calling last").Println()
	b.At(9, 9).Load(1).Call(last).Println()

	return bundle(b.MustBuild(), last)
}

// ---------------------------------------------------------------------------
// semaphore
// ---------------------------------------------------------------------------

func semaphore() *Bundle {
	const module = "Mutex.java"
	// worker(String name, Semaphore lock, int[] counter), slot 3 is i.
	w := asm.New("work(String,Semaphore,int[])").Class("Mutex").Module(module).Params(3).Locals(1)
	top, done := w.NewLabel("loop"), w.NewLabel("done")
	w.At(3, 14).Int(0).Store(3)
	w.Mark(top)
	w.At(3, 25).Load(3).Int(3).Ge().JumpIfTrue(done)
	w.At(4, 13).Load(1).Acquire()
	w.At(5, 13).Load(0).Str(" enters").Add().Println()
	w.At(6, 13).Load(2).Int(0).Load(2).Int(0).ArrayLoad().Int(1).Add().ArrayStore()
	w.At(7, 13).Load(0).Str(" leaves").Add().Println()
	w.At(8, 13).Load(1).Release()
	w.At(3, 32).Inc(3, 1).Jump(top)
	w.Mark(done)
	worker := w.MustBuild()

	// slots: 1 lock, 2 counter, 3 t1, 4 t2
	b := javaMain("Mutex", module, 4)
	b.At(13, 9).NewSemaphore(1).Store(1)
	b.At(14, 9).Int(1).NewArray(vm.Int(0), 1).Store(2)
	b.At(15, 9).Str("A").Load(1).Load(2).Spawn(worker, 3).Store(3)
	b.At(16, 9).Str("B").Load(1).Load(2).Spawn(worker, 3).Store(4)
	b.At(17, 9).Load(3).Join()
	b.At(18, 9).Load(4).Join()
	b.At(19, 9).Str("counter = ").Load(2).Int(0).ArrayLoad().Add().Println()

	return bundle(b.MustBuild(), worker)
}

// ---------------------------------------------------------------------------
// deadlock
// ---------------------------------------------------------------------------

func deadlock() *Bundle {
	const module = "Deadlock.java"
	// lockBoth(Semaphore first, Semaphore second, int[] ready, int me, int other)
	w := asm.New("lockBoth(Semaphore,Semaphore,int[],int,int)").Class("Deadlock").Module(module).Params(5)
	spin := w.NewLabel("spin")
	w.At(3, 9).Load(0).Acquire()
	w.At(4, 9).Load(2).Load(3).Int(1).ArrayStore()
	w.Mark(spin)
	w.At(5, 9).Load(2).Load(4).ArrayLoad().Int(0).Eq().JumpIfTrue(spin)
	w.At(6, 9).Load(1).Acquire()
	w.At(7, 9).Str("got both").Println()
	w.At(8, 9).Load(1).Release()
	w.At(9, 9).Load(0).Release()
	worker := w.MustBuild()

	// slots: 1 a, 2 b, 3 ready, 4 t1, 5 t2
	b := javaMain("Deadlock", module, 5)
	b.At(13, 9).NewSemaphore(1).Store(1)
	b.At(14, 9).NewSemaphore(1).Store(2)
	b.At(15, 9).Int(2).NewArray(vm.Int(0), 1).Store(3)
	b.At(16, 9).Load(1).Load(2).Load(3).Int(0).Int(1).Spawn(worker, 5).Store(4)
	b.At(17, 9).Load(2).Load(1).Load(3).Int(1).Int(0).Spawn(worker, 5).Store(5)
	b.At(18, 9).Load(4).Join()
	b.At(19, 9).Load(5).Join()
	b.At(20, 9).Str("finished").Println()

	return bundle(b.MustBuild(), worker)
}

// ---------------------------------------------------------------------------
// arrays
// ---------------------------------------------------------------------------

func arrays() *Bundle {
	const module = "Arrays.java"
	// slots: 1 table, 2 i, 3 j
	b := javaMain("Arrays", module, 3)
	outer, outerDone := b.NewLabel("rows"), b.NewLabel("rows done")
	inner, innerDone := b.NewLabel("cols"), b.NewLabel("cols done")

	b.At(3, 9).Int(3).Int(4).NewArray(vm.Int(0), 2).Store(1)
	b.At(4, 14).Int(0).Store(2)
	b.Mark(outer)
	b.At(4, 25).Load(2).Int(3).Ge().JumpIfTrue(outerDone)
	b.At(5, 18).Int(0).Store(3)
	b.Mark(inner)
	b.At(5, 29).Load(3).Int(4).Ge().JumpIfTrue(innerDone)
	b.At(6, 17).Load(1).Load(2).ArrayLoad().Load(3).Load(2).Load(3).Mul().ArrayStore()
	b.At(5, 36).Inc(3, 1).Jump(inner)
	b.Mark(innerDone)
	b.At(8, 13).Load(1).Load(2).ArrayLoad().Println()
	b.At(4, 32).Inc(2, 1).Jump(outer)
	b.Mark(outerDone)

	return bundle(b.MustBuild())
}

// ---------------------------------------------------------------------------
// slowthread
// ---------------------------------------------------------------------------

// SlowRate is the step rate of the slow thread in the slowthread demo.
const SlowRate = 20

func slowThread() *Bundle {
	const module = "Slow.java"
	// count(String name), slot 1 is i.
	c := asm.New("count(String)").Class("Slow").Module(module).Params(1).Locals(1)
	top, done := c.NewLabel("loop"), c.NewLabel("done")
	c.At(3, 14).Int(1).Store(1)
	c.Mark(top)
	c.At(3, 21).Load(1).Int(3).Gt().JumpIfTrue(done)
	c.At(4, 13).Load(0).Str(" ").Add().Load(1).Add().Println()
	c.At(3, 29).Inc(1, 1).Jump(top)
	c.Mark(done)
	count := c.MustBuild()

	slow := asm.New("slowCount(String)").Class("Slow").Module(module).Params(1).
		At(9, 9).Throttle(SlowRate).
		At(10, 9).Load(0).Call(count).
		MustBuild()

	// slots: 1 fast, 2 slow
	b := javaMain("Slow", module, 2)
	b.At(14, 9).Str("fast").Spawn(count, 1).Store(1)
	b.At(15, 9).Str("slow").Spawn(slow, 1).Store(2)
	b.At(16, 9).Load(1).Join()
	b.At(17, 9).Load(2).Join()
	b.At(18, 9).Str("both done").Println()

	return bundle(b.MustBuild(), count, slow)
}

package vm

import (
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// Value tests
// ---------------------------------------------------------------------------

func TestValueKinds(t *testing.T) {
	tests := []struct {
		v    Value
		kind Kind
		str  string
	}{
		{Null, KindNull, "null"},
		{Bool(true), KindBool, "true"},
		{Int(-12), KindInt, "-12"},
		{Float(2), KindFloat, "2.0"},
		{Float(0.25), KindFloat, "0.25"},
		{Char('x'), KindChar, "x"},
		{String("hi"), KindString, "hi"},
		{Ref(ArrayOf(Int(1), Int(2))), KindRef, "[1, 2]"},
	}
	for _, tt := range tests {
		if tt.v.Kind() != tt.kind {
			t.Errorf("%v.Kind() = %v, want %v", tt.v, tt.v.Kind(), tt.kind)
		}
		if got := tt.v.String(); got != tt.str {
			t.Errorf("String() = %q, want %q", got, tt.str)
		}
	}
}

func TestRefOfNilIsNull(t *testing.T) {
	if !Ref(nil).IsNull() {
		t.Error("Ref(nil) should be Null")
	}
}

func TestAsIntWidensChar(t *testing.T) {
	if got := Char('A').AsInt(); got != 65 {
		t.Errorf("Char('A').AsInt() = %d, want 65", got)
	}
	if got := Int(3).AsFloat(); got != 3.0 {
		t.Errorf("Int(3).AsFloat() = %v, want 3", got)
	}
}

func TestBadCastPanicsWithClassCastException(t *testing.T) {
	defer func() {
		r := recover()
		ex, ok := r.(*Exception)
		if !ok {
			t.Fatalf("recovered %T, want *Exception", r)
		}
		if ex.Class != ClassCastException {
			t.Errorf("class = %v, want ClassCastException", ex.Class)
		}
	}()
	String("x").AsInt()
}

func TestEqual(t *testing.T) {
	arr := NewArray(Null, 1)
	tests := []struct {
		a, b Value
		want bool
	}{
		{Int(1), Int(1), true},
		{Int(1), Float(1), true},
		{Char('a'), Int(97), true},
		{String("a"), String("a"), true},
		{String("a"), Null, false},
		{Null, Null, true},
		{Ref(arr), Ref(arr), true},
		{Ref(arr), Ref(NewArray(Null, 1)), false},
		{Bool(true), Int(1), false},
	}
	for _, tt := range tests {
		if got := Equal(tt.a, tt.b); got != tt.want {
			t.Errorf("Equal(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Array tests
// ---------------------------------------------------------------------------

func TestNewArrayNoAliasing(t *testing.T) {
	a := NewArray(Int(0), 2, 3, 2)
	leaf := a.Get(0).AsRef().(*Array).Get(1).AsRef().(*Array)
	leaf.Set(1, Int(7))

	for i := 0; i < 2; i++ {
		row := a.Get(i).AsRef().(*Array)
		for j := 0; j < 3; j++ {
			cell := row.Get(j).AsRef().(*Array)
			for k := 0; k < 2; k++ {
				want := int64(0)
				if i == 0 && j == 1 && k == 1 {
					want = 7
				}
				if got := cell.Get(k).AsInt(); got != want {
					t.Errorf("a[%d][%d][%d] = %d, want %d", i, j, k, got, want)
				}
			}
		}
	}
}

func TestNewArrayNegativeSize(t *testing.T) {
	defer func() {
		ex, _ := recover().(*Exception)
		if ex == nil || ex.Class != NegativeArraySizeException {
			t.Errorf("recovered %v, want NegativeArraySizeException", ex)
		}
	}()
	NewArray(Null, 2, -1)
}

func TestArrayIndexOutOfBounds(t *testing.T) {
	defer func() {
		ex, _ := recover().(*Exception)
		if ex == nil || ex.Class != ArrayIndexOutOfBoundsException {
			t.Fatalf("recovered %v, want ArrayIndexOutOfBoundsException", ex)
		}
		if !ex.Class.IsSubclassOf("IndexOutOfBoundsException") {
			t.Error("ArrayIndexOutOfBoundsException should extend IndexOutOfBoundsException")
		}
	}()
	NewArray(Null, 3).Get(3)
}

// ---------------------------------------------------------------------------
// Classes and programs
// ---------------------------------------------------------------------------

func TestTypeChainOrder(t *testing.T) {
	comparable := NewClass("Comparable", nil)
	custom := NewClass("MyException", IllegalArgumentException, comparable)
	got := custom.TypeChain()
	want := []string{"MyException", "Comparable", "IllegalArgumentException",
		"RuntimeException", "Exception", "Throwable", "Object"}
	if len(got) != len(want) {
		t.Fatalf("TypeChain() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("TypeChain()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestClassRegistryDuplicate(t *testing.T) {
	r := NewClassRegistry()
	if r.Lookup("ArithmeticException") == nil {
		t.Fatal("built-in ArithmeticException missing")
	}
	err := r.Register(NewClass("ArithmeticException", RuntimeException))
	if !errors.Is(err, ErrDuplicateClass) {
		t.Errorf("Register duplicate error = %v, want ErrDuplicateClass", err)
	}
	if err := r.Register(NewClass("Account", ObjectClass)); err != nil {
		t.Errorf("Register(Account) = %v", err)
	}
}

func TestNewProgramValidation(t *testing.T) {
	tests := []struct {
		name string
		spec ProgramSpec
	}{
		{"no identifier", ProgramSpec{Steps: linear(nop)}},
		{"no steps", ProgramSpec{Identifier: "m"}},
		{"negative arity", ProgramSpec{Identifier: "m", ParameterCount: -1, Steps: linear(nop)}},
		{"nil step", ProgramSpec{Identifier: "m", Steps: []*Step{nil}}},
	}
	for _, tt := range tests {
		if _, err := NewProgram(tt.spec); !errors.Is(err, ErrInvalidProgram) {
			t.Errorf("%s: err = %v, want ErrInvalidProgram", tt.name, err)
		}
	}

	p, err := NewProgram(ProgramSpec{Identifier: "run()", Class: "Worker", ReceiverCount: 1, ParameterCount: 2, Steps: linear(nop, nop)})
	if err != nil {
		t.Fatalf("NewProgram: %v", err)
	}
	if p.ArgumentSlots() != 3 {
		t.Errorf("ArgumentSlots() = %d, want 3", p.ArgumentSlots())
	}
	if p.MethodIdentifierWithClass() != "Worker.run()" {
		t.Errorf("MethodIdentifierWithClass() = %q", p.MethodIdentifierWithClass())
	}
	if len(p.SingleSteps()) != 2 {
		t.Errorf("single-step sequence defaults to fast steps, got %d", len(p.SingleSteps()))
	}
	if p.StepAtLine(2) != 1 {
		t.Errorf("StepAtLine(2) = %d, want 1", p.StepAtLine(2))
	}
	if err := p.SetBreakpoint(5, true); err == nil {
		t.Error("SetBreakpoint out of range should fail")
	}
}

package vm

import (
	"fmt"
	"math"
	"strconv"
)

// Value is one operand-stack slot: a tagged union of the primitive kinds the
// Java subset knows about plus a handle for heap objects.
//
// Encoding:
//   - Null:   kind only
//   - Bool:   bits == 0 or 1
//   - Int:    bits holds the int64 two's complement pattern
//   - Float:  bits holds the IEEE 754 pattern
//   - Char:   bits holds the rune
//   - String: str
//   - Ref:    ref (arrays, exceptions, threads, semaphores, user objects)
type Value struct {
	kind Kind
	bits uint64
	str  string
	ref  any
}

// Kind identifies the variant stored in a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindChar
	KindString
	KindRef
)

var kindNames = [...]string{
	KindNull:   "null",
	KindBool:   "boolean",
	KindInt:    "int",
	KindFloat:  "double",
	KindChar:   "char",
	KindString: "String",
	KindRef:    "reference",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Null is the zero Value. Fresh local slots are filled with it.
var Null = Value{}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// Bool creates a boolean value.
func Bool(b bool) Value {
	if b {
		return Value{kind: KindBool, bits: 1}
	}
	return Value{kind: KindBool}
}

// Int creates an integer value.
func Int(n int64) Value {
	return Value{kind: KindInt, bits: uint64(n)}
}

// Float creates a floating point value.
func Float(f float64) Value {
	return Value{kind: KindFloat, bits: math.Float64bits(f)}
}

// Char creates a character value.
func Char(r rune) Value {
	return Value{kind: KindChar, bits: uint64(r)}
}

// String creates a string value.
func String(s string) Value {
	return Value{kind: KindString, str: s}
}

// Ref wraps a heap object. A nil object yields Null.
func Ref(obj any) Value {
	if obj == nil {
		return Null
	}
	return Value{kind: KindRef, ref: obj}
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null reference.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsNumeric reports whether v is an int, double or char.
func (v Value) IsNumeric() bool {
	return v.kind == KindInt || v.kind == KindFloat || v.kind == KindChar
}

// AsBool returns the boolean payload.
// Panics with a ClassCastException if v is not a boolean.
func (v Value) AsBool() bool {
	if v.kind != KindBool {
		panic(v.castError(KindBool))
	}
	return v.bits != 0
}

// AsInt returns the integer payload. Chars widen to their code point.
// Panics with a ClassCastException for any other kind.
func (v Value) AsInt() int64 {
	switch v.kind {
	case KindInt, KindChar:
		return int64(v.bits)
	}
	panic(v.castError(KindInt))
}

// AsFloat returns the numeric payload widened to float64.
func (v Value) AsFloat() float64 {
	switch v.kind {
	case KindFloat:
		return math.Float64frombits(v.bits)
	case KindInt, KindChar:
		return float64(int64(v.bits))
	}
	panic(v.castError(KindFloat))
}

// AsChar returns the character payload.
func (v Value) AsChar() rune {
	if v.kind != KindChar {
		panic(v.castError(KindChar))
	}
	return rune(v.bits)
}

// AsString returns the string payload.
func (v Value) AsString() string {
	if v.kind != KindString {
		panic(v.castError(KindString))
	}
	return v.str
}

// AsRef returns the heap object, or nil for Null.
// Panics with a ClassCastException for primitive kinds.
func (v Value) AsRef() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindRef:
		return v.ref
	}
	panic(v.castError(KindRef))
}

func (v Value) castError(want Kind) *Exception {
	return NewException(ClassCastException, fmt.Sprintf("%s cannot be cast to %s", v.kind, want))
}

// ---------------------------------------------------------------------------
// Comparison and formatting
// ---------------------------------------------------------------------------

// Equal implements Java's == for the value's kind: numeric kinds compare by
// value, strings by content, references by identity.
func Equal(a, b Value) bool {
	if a.IsNumeric() && b.IsNumeric() {
		if a.kind == KindFloat || b.kind == KindFloat {
			return a.AsFloat() == b.AsFloat()
		}
		return a.AsInt() == b.AsInt()
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.bits == b.bits
	case KindString:
		return a.str == b.str
	}
	return a.ref == b.ref
}

// String renders v the way System.out.print would.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.bits != 0)
	case KindInt:
		return strconv.FormatInt(int64(v.bits), 10)
	case KindFloat:
		f := math.Float64frombits(v.bits)
		if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1e7 {
			return strconv.FormatFloat(f, 'f', 1, 64)
		}
		return strconv.FormatFloat(f, 'g', -1, 64)
	case KindChar:
		return string(rune(v.bits))
	case KindString:
		return v.str
	}
	if s, ok := v.ref.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T@%p", v.ref, v.ref)
}

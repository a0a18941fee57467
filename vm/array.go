package vm

import (
	"fmt"
	"strings"
)

// Array is a fixed-length Java array. Elements are Values, so a
// multi-dimensional array is an Array whose elements reference Arrays.
type Array struct {
	elems []Value
}

// NewArray builds an array with the given dimensions, filling the leaves
// with def. Every nested array is a separate allocation, so writing one
// leaf never shows up in a sibling.
//
// With no dimensions NewArray returns an empty array.
func NewArray(def Value, dims ...int) *Array {
	for _, d := range dims {
		if d < 0 {
			panic(NewException(NegativeArraySizeException, fmt.Sprintf("%d", d)))
		}
	}
	if len(dims) == 0 {
		return &Array{}
	}
	return newArrayLevel(def, dims)
}

func newArrayLevel(def Value, dims []int) *Array {
	a := &Array{elems: make([]Value, dims[0])}
	if len(dims) == 1 {
		for i := range a.elems {
			a.elems[i] = def
		}
		return a
	}
	for i := range a.elems {
		a.elems[i] = Ref(newArrayLevel(def, dims[1:]))
	}
	return a
}

// ArrayOf wraps the given values in a new array.
func ArrayOf(values ...Value) *Array {
	elems := make([]Value, len(values))
	copy(elems, values)
	return &Array{elems: elems}
}

// Len returns the array length.
func (a *Array) Len() int {
	return len(a.elems)
}

// Get returns the element at index i.
// Panics with ArrayIndexOutOfBoundsException if i is out of range.
func (a *Array) Get(i int) Value {
	a.check(i)
	return a.elems[i]
}

// Set stores v at index i.
func (a *Array) Set(i int, v Value) {
	a.check(i)
	a.elems[i] = v
}

func (a *Array) check(i int) {
	if i < 0 || i >= len(a.elems) {
		panic(NewException(ArrayIndexOutOfBoundsException,
			fmt.Sprintf("Index %d out of bounds for length %d", i, len(a.elems))))
	}
}

func (a *Array) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, e := range a.elems {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(e.String())
	}
	sb.WriteByte(']')
	return sb.String()
}

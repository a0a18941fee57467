package vm

// OperandStack is a thread's value stack. All frames of the thread share it;
// each frame addresses its locals relative to its stack base.
type OperandStack struct {
	values []Value
}

func newOperandStack() *OperandStack {
	return &OperandStack{values: make([]Value, 0, 64)}
}

// Push appends v.
func (s *OperandStack) Push(v Value) {
	s.values = append(s.values, v)
}

// Pop removes and returns the top value.
// Popping an empty stack is a compiler bug and panics.
func (s *OperandStack) Pop() Value {
	n := len(s.values)
	if n == 0 {
		panic("OperandStack.Pop: empty stack")
	}
	v := s.values[n-1]
	s.values[n-1] = Null
	s.values = s.values[:n-1]
	return v
}

// Peek returns the top value without removing it.
func (s *OperandStack) Peek() Value {
	n := len(s.values)
	if n == 0 {
		panic("OperandStack.Peek: empty stack")
	}
	return s.values[n-1]
}

// Len returns the number of slots in use.
func (s *OperandStack) Len() int {
	return len(s.values)
}

// Get returns slot i counted from the bottom.
func (s *OperandStack) Get(i int) Value {
	return s.values[i]
}

// Set overwrites slot i.
func (s *OperandStack) Set(i int, v Value) {
	s.values[i] = v
}

// Truncate drops everything above size n. Larger n is a no-op.
func (s *OperandStack) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n >= len(s.values) {
		return
	}
	clear(s.values[n:])
	s.values = s.values[:n]
}

// Values returns a copy of the stack contents, bottom first.
func (s *OperandStack) Values() []Value {
	out := make([]Value, len(s.values))
	copy(out, s.values)
	return out
}

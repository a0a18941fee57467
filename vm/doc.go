// Package vm implements the step runtime for a teaching subset of Java.
//
// This package contains:
//   - Values, arrays and the class registry used for catch matching
//   - Programs: per-method step sequences with source ranges
//   - Threads with an activation stack, try regions and exception unwinding
//   - The Scheduler: round-robin quota slices, rate limits, life cycle
//   - Semaphores and single-step debugging
package vm

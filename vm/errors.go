package vm

import "errors"

var (
	ErrNotInitialized    = errors.New("scheduler not initialized")
	ErrInvalidTransition = errors.New("invalid scheduler state transition")
	ErrNoCurrentThread   = errors.New("no current thread")
	ErrNotPaused         = errors.New("scheduler is not paused")
	ErrDuplicateClass    = errors.New("class already registered")
	ErrInvalidProgram    = errors.New("invalid program")
)

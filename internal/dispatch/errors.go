package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrServiceNotFound marks a command name with no registered handler.
	ErrServiceNotFound = errors.New("service not found")
	// ErrServiceInvocation marks a handler that failed or panicked. The
	// failure is reported to the caller and is never fatal to the kernel.
	ErrServiceInvocation = errors.New("service invocation failed")
	// ErrDuplicateCommand marks a command name registered twice.
	ErrDuplicateCommand = errors.New("duplicate command")
)

// InvocationError wraps a handler failure with the command it came from.
type InvocationError struct {
	Command string
	Err     error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Command, ErrServiceInvocation, e.Err)
}

func (e *InvocationError) Unwrap() error { return ErrServiceInvocation }

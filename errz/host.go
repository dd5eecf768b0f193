package errz

import (
	"errors"
	"fmt"
)

var (
	// ErrContinuationUsed is returned when a continuation is resumed twice.
	ErrContinuationUsed = errors.New("continuation already resumed")

	// ErrWrongResume is returned when a continuation receives a result of
	// the wrong shape.
	ErrWrongResume = errors.New("wrong resume value for this continuation")

	// ErrCorruptSnapshot is returned when a dump cannot be loaded.
	ErrCorruptSnapshot = errors.New("corrupt or foreign snapshot")

	// ErrNeedsHost is returned by the no-suspension entry point when the
	// program tried to talk to the host.
	ErrNeedsHost = errors.New("program requires host interaction")

	// ErrInternal marks a fault inside the engine. It should never happen
	// for well-formed bytecode.
	ErrInternal = errors.New("internal error")
)

// PermissionDenied is returned when the capability set refuses a
// host-mediated operation. The run cannot continue afterwards.
type PermissionDenied struct {
	// Operation is "call", "proxy" or "os".
	Operation string
	Name      string
}

func (e *PermissionDenied) Error() string {
	return fmt.Sprintf("permission denied: %s %s", e.Operation, e.Name)
}

// UnknownCallID is returned when a resume batch names a call id that the
// run never requested.
type UnknownCallID struct {
	ID uint64
}

func (e *UnknownCallID) Error() string {
	return fmt.Sprintf("unknown call id %d", e.ID)
}

// Internalf returns an ErrInternal wrapping a formatted message.
func Internalf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInternal, fmt.Sprintf(format, args...))
}

// Corruptf returns an ErrCorruptSnapshot wrapping a formatted message.
func Corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptSnapshot, fmt.Sprintf(format, args...))
}

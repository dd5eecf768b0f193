// Package errz defines the errors a run reports to its host: the structured
// form of an uncaught program exception, and the host-protocol errors raised
// when the host misuses the pause/resume protocol.
package errz

import (
	"bytes"
	"fmt"
	"strings"
)

// StructuredError carries an uncaught program exception out of a run, with
// the location it was raised at and a stack trace.
type StructuredError struct {
	// Kind is the exception type name, e.g. "ValueError".
	Kind     string
	Message  string
	Location SourceLocation
	Stack    []StackFrame
	Cause    error
}

// Error implements the error interface.
func (e *StructuredError) Error() string {
	msg := e.Kind
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Location.IsZero() {
		return msg
	}
	return fmt.Sprintf("%s (%s)", msg, e.Location.String())
}

// Unwrap returns the underlying cause of the error.
func (e *StructuredError) Unwrap() error {
	return e.Cause
}

// FriendlyErrorMessage returns a human-friendly error message with visual
// context including source snippets and stack traces.
func (e *StructuredError) FriendlyErrorMessage() string {
	var msg bytes.Buffer
	msg.WriteString(e.Error())
	msg.WriteString("\n")

	if e.Location.Source != "" {
		msg.WriteString(" | ")
		msg.WriteString(e.Location.Source)
		msg.WriteString("\n")
		if e.Location.Column > 0 {
			msg.WriteString(" | ")
			msg.WriteString(strings.Repeat(" ", e.Location.Column-1))
			msg.WriteString("^\n")
		}
	}

	if len(e.Stack) > 0 {
		msg.WriteString("\n")
		msg.WriteString(FormatStackTrace(e.Stack))
	}
	return msg.String()
}

// NewStructuredErrorf creates a new StructuredError with a formatted message.
func NewStructuredErrorf(kind string, loc SourceLocation, stack []StackFrame, format string, args ...any) *StructuredError {
	return &StructuredError{
		Message:  fmt.Sprintf(format, args...),
		Kind:     kind,
		Location: loc,
		Stack:    stack,
	}
}

// WithCause wraps the error with a cause.
func (e *StructuredError) WithCause(cause error) *StructuredError {
	e.Cause = cause
	return e
}

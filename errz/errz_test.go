package errz

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStructuredErrorMessage(t *testing.T) {
	err := NewStructuredErrorf("ValueError", SourceLocation{}, nil, "bad value %d", 3)
	require.Equal(t, "ValueError: bad value 3", err.Error())

	loc := SourceLocation{Filename: "main.py", Line: 2, Column: 5, Source: "x = f(1)"}
	stack := []StackFrame{{Function: "f", Location: loc}}
	err = NewStructuredErrorf("KeyError", loc, stack, "'k'")
	require.Equal(t, "KeyError: 'k' (main.py:2:5)", err.Error())

	friendly := err.FriendlyErrorMessage()
	require.Contains(t, friendly, " | x = f(1)\n")
	require.Contains(t, friendly, " |     ^\n")
	require.Contains(t, friendly, "at f (main.py:2:5)")
}

func TestStructuredErrorCause(t *testing.T) {
	cause := errors.New("boom")
	err := NewStructuredErrorf("RuntimeError", SourceLocation{}, nil, "x").WithCause(cause)
	require.ErrorIs(t, err, cause)
}

func TestHostErrors(t *testing.T) {
	var denied error = &PermissionDenied{Operation: "call", Name: "fetch"}
	require.Equal(t, "permission denied: call fetch", denied.Error())
	require.Equal(t, "unknown call id 7", (&UnknownCallID{ID: 7}).Error())
	require.ErrorIs(t, Internalf("bad frame"), ErrInternal)
	require.ErrorIs(t, Corruptf("short"), ErrCorruptSnapshot)
}

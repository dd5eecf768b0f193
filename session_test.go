package burrow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/burrow/boundary"
	"github.com/deepnoodle-ai/burrow/bytecode"
	"github.com/deepnoodle-ai/burrow/capability"
	"github.com/deepnoodle-ai/burrow/errz"
	"github.com/deepnoodle-ai/burrow/op"
	"github.com/deepnoodle-ai/burrow/resource"
	"github.com/deepnoodle-ai/burrow/vm"
)

func assign(name string, v int64) *bytecode.Code {
	return program(func(b *bytecode.Builder) {
		b.LoadConst(v).StoreGlobal(name).Emit(op.Nil).Emit(op.ReturnValue)
	})
}

func load(name string) *bytecode.Code {
	return program(func(b *bytecode.Builder) {
		b.LoadGlobal(name).Emit(op.ReturnValue)
	})
}

func newSession(t *testing.T, externals ...string) *Session {
	t.Helper()
	s, err := NewSession(externals)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestSessionKeepsGlobals(t *testing.T) {
	s := newSession(t)
	p, err := s.Feed(assign("x", 5))
	completed(t, p, err)
	p, err = s.Feed(program(func(b *bytecode.Builder) {
		b.LoadGlobal("x").LoadConst(int64(2)).Emit(op.BinaryOp, int(op.Multiply)).Emit(op.ReturnValue)
	}))
	require.Equal(t, boundary.Int(10), completed(t, p, err))

	v, ok, err := s.Global("x")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, boundary.Int(5), v)
}

func TestSessionSurvivesProgramError(t *testing.T) {
	s := newSession(t)
	_, err := s.Feed(load("missing"))
	var se *errz.StructuredError
	require.True(t, errors.As(err, &se))
	require.Equal(t, "NameError", se.Kind)

	require.NoError(t, s.SetGlobal("missing", boundary.Str("found")))
	p, err := s.Feed(load("missing"))
	require.Equal(t, boundary.Str("found"), completed(t, p, err))
}

func TestSessionSuspends(t *testing.T) {
	s := newSession(t, "ext")
	p, err := s.Feed(extSum())
	require.NoError(t, err)

	_, err = s.Feed(load("x"))
	require.Error(t, err)

	require.Equal(t, boundary.Int(30), finish(t, p))
	p, err = s.Feed(load("y"))
	require.Equal(t, boundary.Int(20), completed(t, p, err))
}

func TestForkIsIsolated(t *testing.T) {
	s := newSession(t)
	p, err := s.Feed(assign("x", 1))
	completed(t, p, err)

	fork, err := s.Fork()
	require.NoError(t, err)
	t.Cleanup(fork.Close)
	require.NotEqual(t, s.ID(), fork.ID())

	p, err = fork.Feed(assign("x", 100))
	completed(t, p, err)
	p, err = s.Feed(load("x"))
	require.Equal(t, boundary.Int(1), completed(t, p, err))
	p, err = fork.Feed(load("x"))
	require.Equal(t, boundary.Int(100), completed(t, p, err))
}

func TestForkRejectsSuspendedSession(t *testing.T) {
	s := newSession(t, "ext")
	p, err := s.Feed(extSum())
	require.NoError(t, err)

	_, err = s.Fork()
	require.ErrorIs(t, err, vm.ErrBusy)

	require.Equal(t, boundary.Int(30), finish(t, p))
	fork, err := s.Fork()
	require.NoError(t, err)
	t.Cleanup(fork.Close)
	p, err = fork.Feed(load("y"))
	require.Equal(t, boundary.Int(20), completed(t, p, err))
}

func TestForkNarrowsCapabilities(t *testing.T) {
	s, err := NewSession([]string{"ext", "other"},
		WithCapabilities(capability.New(capability.CallFunction("ext"))))
	require.NoError(t, err)
	t.Cleanup(s.Close)

	fork, err := s.Fork(capability.CallFunction("ext"), capability.CallFunction("other"), capability.CallAny())
	require.NoError(t, err)
	t.Cleanup(fork.Close)
	require.True(t, fork.Capabilities().IsSubsetOf(s.Capabilities()))
	require.True(t, fork.Capabilities().AllowsCall("ext"))
	require.False(t, fork.Capabilities().AllowsCall("other"))

	sealed, err := fork.Fork()
	require.NoError(t, err)
	t.Cleanup(sealed.Close)
	_, err = sealed.Feed(extSum())
	var denied *errz.PermissionDenied
	require.True(t, errors.As(err, &denied))

	p, err := s.Feed(extSum())
	require.NoError(t, err)
	require.Equal(t, boundary.Int(30), finish(t, p))
}

func TestSessionLimits(t *testing.T) {
	s, err := NewSession(nil, WithLimits(resource.Limits{MaxAllocations: 3}))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	_, err = s.Feed(program(func(b *bytecode.Builder) {
		for i := 0; i < 5; i++ {
			b.LoadConst(int64(i)).Emit(op.BuildList, 1)
		}
		b.Emit(op.BuildList, 5).Emit(op.ReturnValue)
	}))
	var se *errz.StructuredError
	require.True(t, errors.As(err, &se))
	require.Equal(t, "MemoryError", se.Kind)
	require.Equal(t, 3, s.Usage().Allocations)
}

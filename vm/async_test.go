package vm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/burrow/boundary"
	"github.com/deepnoodle-ai/burrow/bytecode"
	"github.com/deepnoodle-ai/burrow/capability"
	"github.com/deepnoodle-ai/burrow/errz"
	"github.com/deepnoodle-ai/burrow/op"
)

func hostVM(names ...string) *VM {
	return New(WithExternalFunctions(names...), WithCapabilities(capability.Unrestricted()))
}

func TestAwaitCoroutine(t *testing.T) {
	three := function("three", nil, func(b *bytecode.Builder) {
		b.LoadConst(int64(3)).Emit(op.ReturnValue)
	}, async)
	code := program(func(b *bytecode.Builder) {
		makeFunction(b, three).Emit(op.Call, 0).Emit(op.Await).Emit(op.ReturnValue)
	})
	s, err := New().Begin(code)
	require.Equal(t, boundary.Int(3), complete(t, s, err))
}

func TestAwaitCoroutineTwice(t *testing.T) {
	three := function("three", nil, func(b *bytecode.Builder) {
		b.LoadConst(int64(3)).Emit(op.ReturnValue)
	}, async)
	code := program(func(b *bytecode.Builder) {
		makeFunction(b, three).Emit(op.Call, 0).StoreGlobal("c")
		b.LoadGlobal("c").Emit(op.Await).Emit(op.PopTop)
		b.LoadGlobal("c").Emit(op.Await).Emit(op.ReturnValue)
	})
	_, err := New().Begin(code)
	se := structured(t, err)
	require.Equal(t, "RuntimeError", se.Kind)
	require.Contains(t, se.Message, "already awaited")
}

func TestExternalFuture(t *testing.T) {
	code := program(func(b *bytecode.Builder) {
		b.LoadGlobal("fetch").LoadConst(int64(1)).Emit(op.Call, 1).Emit(op.Await).Emit(op.ReturnValue)
	})
	vm := hostVM("fetch")
	s, err := vm.Begin(code)
	require.NoError(t, err)
	require.Equal(t, SuspendFunctionCall, s.Kind)

	s, err = vm.ResumeFuture()
	require.NoError(t, err)
	require.Equal(t, SuspendFutures, s.Kind)
	require.Len(t, s.Calls, 1)
	require.Equal(t, uint64(1), s.Calls[0].CallID)
	require.Equal(t, "fetch", s.Calls[0].Name)
	require.Equal(t, []boundary.Value{boundary.Int(1)}, s.Calls[0].Args)

	_, err = vm.ResumeReturn(boundary.Int(0))
	require.ErrorIs(t, err, errz.ErrWrongResume)

	s, err = vm.ResolveFutures([]FutureResult{{CallID: 1, Value: boundary.Int(7)}})
	require.Equal(t, boundary.Int(7), complete(t, s, err))
}

func gatherProgram() *bytecode.Code {
	return program(func(b *bytecode.Builder) {
		b.LoadGlobal("gather")
		b.LoadGlobal("fetch").LoadConst(int64(1)).Emit(op.Call, 1)
		b.LoadGlobal("fetch").LoadConst(int64(2)).Emit(op.Call, 1)
		b.Emit(op.Call, 2).Emit(op.Await).Emit(op.ReturnValue)
	})
}

func startGather(t *testing.T) *VM {
	t.Helper()
	vm := hostVM("fetch")
	s, err := vm.Begin(gatherProgram())
	require.NoError(t, err)
	require.Equal(t, uint64(1), s.CallID)
	s, err = vm.ResumeFuture()
	require.NoError(t, err)
	require.Equal(t, uint64(2), s.CallID)
	s, err = vm.ResumeFuture()
	require.NoError(t, err)
	require.Equal(t, SuspendFutures, s.Kind)
	require.Len(t, s.Calls, 2)
	return vm
}

func TestGatherFutures(t *testing.T) {
	vm := startGather(t)
	s, err := vm.ResolveFutures([]FutureResult{
		{CallID: 2, Value: boundary.Str("b")},
		{CallID: 1, Value: boundary.Str("a")},
	})
	require.Equal(t, boundary.List{boundary.Str("a"), boundary.Str("b")}, complete(t, s, err))
}

func TestGatherPartialResolution(t *testing.T) {
	vm := startGather(t)
	s, err := vm.ResolveFutures([]FutureResult{{CallID: 2, Value: boundary.Int(20)}})
	require.NoError(t, err)
	require.Equal(t, SuspendFutures, s.Kind)
	require.Len(t, s.Calls, 1)
	require.Equal(t, uint64(1), s.Calls[0].CallID)

	s, err = vm.ResolveFutures([]FutureResult{{CallID: 1, Value: boundary.Int(10)}})
	require.Equal(t, boundary.List{boundary.Int(10), boundary.Int(20)}, complete(t, s, err))
}

func TestGatherFailure(t *testing.T) {
	vm := startGather(t)
	_, err := vm.ResolveFutures([]FutureResult{
		{CallID: 1, Exc: &boundary.Exception{Type: "KeyError", Message: "missing"}},
	})
	require.Equal(t, "KeyError", structured(t, err).Kind)
	require.False(t, vm.Done())
}

func TestGatherCoroutines(t *testing.T) {
	double := function("double", []string{"n"}, func(b *bytecode.Builder) {
		b.Emit(op.LoadFast, 0).LoadConst(int64(2)).Emit(op.BinaryOp, int(op.Multiply)).Emit(op.ReturnValue)
	}, async)
	code := program(func(b *bytecode.Builder) {
		makeFunction(b, double).StoreGlobal("double")
		b.LoadGlobal("gather")
		b.LoadGlobal("double").LoadConst(int64(1)).Emit(op.Call, 1)
		b.LoadGlobal("double").LoadConst(int64(2)).Emit(op.Call, 1)
		b.LoadGlobal("double").LoadConst(int64(3)).Emit(op.Call, 1)
		b.Emit(op.Call, 3).Emit(op.Await).Emit(op.ReturnValue)
	})
	s, err := New().Begin(code)
	require.Equal(t, boundary.List{boundary.Int(2), boundary.Int(4), boundary.Int(6)}, complete(t, s, err))
}

func TestResolveUnknownCallID(t *testing.T) {
	vm := startGather(t)
	_, err := vm.ResolveFutures([]FutureResult{{CallID: 99, Value: boundary.Int(1)}})
	var unknown *errz.UnknownCallID
	require.True(t, errors.As(err, &unknown))
	require.Equal(t, uint64(99), unknown.ID)

	// A rejected batch changes nothing.
	s, err := vm.ResolveFutures([]FutureResult{
		{CallID: 1, Value: boundary.Int(1)},
		{CallID: 2, Value: boundary.Int(2)},
	})
	require.Equal(t, boundary.List{boundary.Int(1), boundary.Int(2)}, complete(t, s, err))
}

func TestResolveRejectsOutputOnly(t *testing.T) {
	vm := startGather(t)
	_, err := vm.ResolveFutures([]FutureResult{{CallID: 1, Value: boundary.Repr("<x>")}})
	require.Error(t, err)
}

func TestResumeFutureOnlyForFunctionCalls(t *testing.T) {
	_, err := New().ResumeFuture()
	require.ErrorIs(t, err, errz.ErrWrongResume)
}

package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/burrow/boundary"
	"github.com/deepnoodle-ai/burrow/bytecode"
	"github.com/deepnoodle-ai/burrow/capability"
	"github.com/deepnoodle-ai/burrow/errz"
	"github.com/deepnoodle-ai/burrow/op"
	"github.com/deepnoodle-ai/burrow/resource"
)

func TestStateRoundTripAtFunctionCall(t *testing.T) {
	code := program(func(b *bytecode.Builder) {
		b.LoadConst("x").LoadConst(int64(1)).Emit(op.BuildList, 2).StoreGlobal("acc")
		b.LoadGlobal("fetch").LoadConst(int64(1)).Emit(op.Call, 1)
		b.LoadGlobal("len").LoadGlobal("acc").Emit(op.Call, 1)
		b.Emit(op.BinaryOp, int(op.Add)).Emit(op.ReturnValue)
	})
	vm := hostVM("fetch")
	s, err := vm.Begin(code)
	require.NoError(t, err)
	require.Equal(t, SuspendFunctionCall, s.Kind)

	data, err := vm.MarshalState()
	require.NoError(t, err)
	again, err := vm.MarshalState()
	require.NoError(t, err)
	require.Equal(t, data, again)

	restored, err := LoadState(data, WithExternalFunctions("fetch"))
	require.NoError(t, err)
	require.True(t, restored.Capabilities().AllowsCall("fetch"))
	require.Equal(t, vm.NextCallID(), restored.NextCallID())

	s, err = restored.ResumeReturn(boundary.Int(40))
	require.Equal(t, boundary.Int(42), complete(t, s, err))

	// The original is untouched by the restored run.
	s, err = vm.ResumeReturn(boundary.Int(0))
	require.Equal(t, boundary.Int(2), complete(t, s, err))
}

func TestStateRoundTripWithFutures(t *testing.T) {
	vm := startGather(t)
	data, err := vm.MarshalState()
	require.NoError(t, err)

	restored, err := LoadState(data)
	require.NoError(t, err)
	s, err := restored.ResolveFutures([]FutureResult{
		{CallID: 1, Value: boundary.Int(1)},
		{CallID: 2, Value: boundary.Int(2)},
	})
	require.Equal(t, boundary.List{boundary.Int(1), boundary.Int(2)}, complete(t, s, err))
}

func TestStateKeepsTrackerUsage(t *testing.T) {
	tracker := resource.NewLimited(resource.Limits{MaxAllocations: 1000})
	code := program(func(b *bytecode.Builder) {
		b.LoadConst(int64(1)).Emit(op.BuildList, 1).StoreGlobal("xs")
		b.LoadGlobal("fetch").Emit(op.Call, 0).Emit(op.ReturnValue)
	})
	vm := New(WithTracker(tracker), WithExternalFunctions("fetch"), WithCapabilities(capability.Unrestricted()))
	_, err := vm.Begin(code)
	require.NoError(t, err)
	data, err := vm.MarshalState()
	require.NoError(t, err)

	fresh := resource.NewLimited(resource.Limits{})
	_, err = LoadState(data, WithTracker(fresh))
	require.NoError(t, err)
	require.Equal(t, tracker.Usage(), fresh.Usage())
	require.Equal(t, 1000, fresh.Limits().MaxAllocations)
}

func TestLoadStateRejectsGarbage(t *testing.T) {
	_, err := LoadState([]byte{0x01, 0x02, 0x03})
	require.ErrorIs(t, err, errz.ErrCorruptSnapshot)

	data, err := New().MarshalState()
	require.NoError(t, err)
	_, err = LoadState(data[:len(data)/2])
	require.ErrorIs(t, err, errz.ErrCorruptSnapshot)
}

func TestMarshalStateRejectsDeadRun(t *testing.T) {
	vm := New()
	vm.Close()
	_, err := vm.MarshalState()
	require.ErrorIs(t, err, errz.ErrWrongResume)
}

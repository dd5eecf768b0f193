package burrow

import (
	"bytes"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/burrow/boundary"
	"github.com/deepnoodle-ai/burrow/bytecode"
	"github.com/deepnoodle-ai/burrow/capability"
	"github.com/deepnoodle-ai/burrow/errz"
	"github.com/deepnoodle-ai/burrow/op"
	"github.com/deepnoodle-ai/burrow/resource"
)

var fixedID = uuid.Must(uuid.FromString("6ba7b810-9dad-11d1-80b4-00c04fd430c8"))

// finish answers every function call with its first argument times ten.
func finish(t *testing.T, p Progress) boundary.Value {
	t.Helper()
	for {
		call, ok := p.(*FunctionCall)
		if !ok {
			break
		}
		n := call.Args[0].(boundary.Int)
		var err error
		p, err = call.Resume(Return(n * 10))
		require.NoError(t, err)
	}
	c, ok := p.(*Complete)
	require.True(t, ok, "expected completion, got %T", p)
	return c.Value
}

func TestDumpUnstartedRunner(t *testing.T) {
	r := newRunner(t, extSum(), nil, []string{"ext"})
	data, err := r.Dump()
	require.NoError(t, err)
	again, err := r.Dump()
	require.NoError(t, err)
	require.Equal(t, data, again)

	loaded, err := LoadRunner(data)
	require.NoError(t, err)
	require.Equal(t, r.InputNames(), loaded.InputNames())
	require.Equal(t, r.ExternalFunctions(), loaded.ExternalFunctions())
	require.Equal(t, finish(t, start(t, r)), finish(t, start(t, loaded)))
	require.Equal(t, boundary.Int(30), finish(t, start(t, loaded)))
}

func TestDumpRunnerKeepsCapabilities(t *testing.T) {
	r := newRunner(t, extSum(), nil, []string{"ext"}, WithCapabilities(capability.None()))
	data, err := r.Dump()
	require.NoError(t, err)

	loaded, err := LoadRunner(data, WithCapabilities(capability.Unrestricted()))
	require.NoError(t, err)
	_, err = loaded.Start(nil, nil, nil)
	var denied *errz.PermissionDenied
	require.ErrorAs(t, err, &denied)
}

func TestDumpMidFunctionCall(t *testing.T) {
	r := newRunner(t, extSum(), nil, []string{"ext"}, WithRunID(fixedID))
	call := functionCall(t, start(t, r))
	p, err := call.Resume(Return(boundary.Int(10)))
	require.NoError(t, err)
	second := functionCall(t, p)

	data, err := second.Dump()
	require.NoError(t, err)
	again, err := second.Dump()
	require.NoError(t, err)
	require.Equal(t, data, again)

	loaded, err := LoadProgress(data)
	require.NoError(t, err)
	require.Equal(t, fixedID, loaded.RunID())
	restored := functionCall(t, loaded)
	require.Equal(t, second.Name, restored.Name)
	require.Equal(t, second.Args, restored.Args)
	require.Equal(t, second.CallID, restored.CallID)

	p, err = restored.Resume(Return(boundary.Int(20)))
	require.Equal(t, boundary.Int(30), completed(t, p, err))
	p, err = second.Resume(Return(boundary.Int(20)))
	require.Equal(t, boundary.Int(30), completed(t, p, err))
}

func TestDumpMidGather(t *testing.T) {
	code := program(func(b *bytecode.Builder) {
		b.LoadGlobal("gather")
		b.LoadGlobal("ext").LoadConst("a").Emit(op.Call, 1)
		b.LoadGlobal("ext").LoadConst("b").Emit(op.Call, 1)
		b.Emit(op.Call, 2).Emit(op.Await).Emit(op.ReturnValue)
	})
	resolve := startFutures(t, newRunner(t, code, nil, []string{"ext"}))
	data, err := resolve.Dump()
	require.NoError(t, err)

	loaded, err := LoadProgress(data)
	require.NoError(t, err)
	restored, ok := loaded.(*ResolveFutures)
	require.True(t, ok, "expected a futures request, got %T", loaded)
	require.Equal(t, resolve.CallIDs, restored.CallIDs)
	require.Len(t, restored.Calls, len(resolve.Calls))
	for i, call := range resolve.Calls {
		require.Equal(t, call.Name, restored.Calls[i].Name)
		require.Equal(t, call.Args, restored.Calls[i].Args)
	}

	batch := []FutureResult{
		{CallID: 2, Value: boundary.Str("B")},
		{CallID: 1, Value: boundary.Str("A")},
	}
	want := boundary.List{boundary.Str("A"), boundary.Str("B")}
	p, err := restored.Resume(batch)
	require.Equal(t, want, completed(t, p, err))
	p, err = resolve.Resume(batch)
	require.Equal(t, want, completed(t, p, err))
}

func TestDumpCompleted(t *testing.T) {
	r := newRunner(t, extSum(), nil, []string{"ext"}, WithRunID(fixedID))
	p := start(t, r)
	for {
		call, ok := p.(*FunctionCall)
		if !ok {
			break
		}
		var err error
		p, err = call.Resume(Return(boundary.Int(5)))
		require.NoError(t, err)
	}
	data, err := p.Dump()
	require.NoError(t, err)

	loaded, err := LoadProgress(data)
	require.NoError(t, err)
	require.Equal(t, fixedID, loaded.RunID())
	require.Equal(t, boundary.Int(10), completed(t, loaded, nil))
}

func TestDumpKeepsResourceUsage(t *testing.T) {
	r := newRunner(t, extSum(), nil, []string{"ext"})
	tracker := resource.NewLimited(resource.Limits{MaxMemory: 1 << 20})
	p, err := r.Start(nil, tracker, nil)
	require.NoError(t, err)
	data, err := p.Dump()
	require.NoError(t, err)

	loaded, err := LoadProgress(data)
	require.NoError(t, err)
	call := functionCall(t, loaded)
	require.Equal(t, tracker.Usage(), call.run.vm.Tracker().Usage())
}

func TestLoadedRunWritesToNewOutput(t *testing.T) {
	code := program(func(b *bytecode.Builder) {
		b.LoadGlobal("ext").Emit(op.Call, 0).StoreGlobal("v")
		b.LoadGlobal("print").LoadGlobal("v").Emit(op.Call, 1).Emit(op.ReturnValue)
	})
	p := start(t, newRunner(t, code, nil, []string{"ext"}))
	data, err := p.Dump()
	require.NoError(t, err)

	var out bytes.Buffer
	loaded, err := LoadProgress(data, WithOutput(&out))
	require.NoError(t, err)
	p, err = functionCall(t, loaded).Resume(Return(boundary.Str("restored")))
	completed(t, p, err)
	require.Equal(t, "restored\n", out.String())
}

func TestLoadRejectsCorruptDumps(t *testing.T) {
	r := newRunner(t, extSum(), nil, []string{"ext"})
	runnerDump, err := r.Dump()
	require.NoError(t, err)
	progressDump, err := start(t, r).Dump()
	require.NoError(t, err)

	versioned := append([]byte{}, runnerDump...)
	versioned[len(magic)] = formatVersion + 1

	cases := map[string]struct {
		data   []byte
		runner bool
	}{
		"empty":              {data: nil},
		"foreign":            {data: []byte("PK\x03\x04 not a dump")},
		"bad version":        {data: versioned},
		"truncated":          {data: progressDump[:len(progressDump)/2]},
		"runner as progress": {data: runnerDump},
		"progress as runner": {data: progressDump, runner: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var err error
			if tc.runner {
				_, err = LoadRunner(tc.data)
			} else {
				_, err = LoadProgress(tc.data)
			}
			require.ErrorIs(t, err, errz.ErrCorruptSnapshot)
		})
	}
}

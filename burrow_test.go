package burrow

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/burrow/boundary"
	"github.com/deepnoodle-ai/burrow/bytecode"
	"github.com/deepnoodle-ai/burrow/capability"
	"github.com/deepnoodle-ai/burrow/errz"
	"github.com/deepnoodle-ai/burrow/op"
	"github.com/deepnoodle-ai/burrow/resource"
)

func program(body func(b *bytecode.Builder)) *bytecode.Code {
	b := bytecode.NewBuilder("main")
	body(b)
	return b.MustBuild()
}

func function(name string, params []string, body func(b *bytecode.Builder)) *bytecode.Function {
	b := bytecode.NewBuilder(name)
	for _, p := range params {
		b.Local(p)
	}
	body(b)
	return bytecode.NewFunction(bytecode.FunctionParams{ID: name, Name: name, Parameters: params, Code: b.MustBuild()})
}

// extSum is x = ext(1); y = ext(2); x + y
func extSum() *bytecode.Code {
	return program(func(b *bytecode.Builder) {
		b.At(1, 1).LoadGlobal("ext").LoadConst(int64(1)).Emit(op.Call, 1).StoreGlobal("x")
		b.At(2, 1).LoadGlobal("ext").LoadConst(int64(2)).Emit(op.Call, 1).StoreGlobal("y")
		b.At(3, 1).LoadGlobal("x").LoadGlobal("y").Emit(op.BinaryOp, int(op.Add)).Emit(op.ReturnValue)
	})
}

func newRunner(t *testing.T, code *bytecode.Code, inputs, externals []string, opts ...Option) *Runner {
	t.Helper()
	r, err := New(code, "main.py", inputs, externals, opts...)
	require.NoError(t, err)
	return r
}

func start(t *testing.T, r *Runner, inputs ...boundary.Value) Progress {
	t.Helper()
	p, err := r.Start(inputs, resource.NoLimit(), nil)
	require.NoError(t, err)
	return p
}

func functionCall(t *testing.T, p Progress) *FunctionCall {
	t.Helper()
	call, ok := p.(*FunctionCall)
	require.True(t, ok, "expected a function call, got %T", p)
	return call
}

func completed(t *testing.T, p Progress, err error) boundary.Value {
	t.Helper()
	require.NoError(t, err)
	c, ok := p.(*Complete)
	require.True(t, ok, "expected completion, got %T", p)
	return c.Value
}

func TestExternalCallsEndToEnd(t *testing.T) {
	r := newRunner(t, extSum(), nil, []string{"ext"})

	first := functionCall(t, start(t, r))
	require.Equal(t, "ext", first.Name)
	require.Equal(t, []boundary.Value{boundary.Int(1)}, first.Args)
	require.Equal(t, uint64(1), first.CallID)

	p, err := first.Resume(Return(boundary.Int(10)))
	require.NoError(t, err)
	second := functionCall(t, p)
	require.Equal(t, []boundary.Value{boundary.Int(2)}, second.Args)
	require.Equal(t, uint64(2), second.CallID)
	require.Equal(t, first.RunID(), second.RunID())

	p, err = second.Resume(Return(boundary.Int(20)))
	require.Equal(t, boundary.Int(30), completed(t, p, err))
}

func TestContinuationIsSingleUse(t *testing.T) {
	r := newRunner(t, extSum(), nil, []string{"ext"})
	call := functionCall(t, start(t, r))
	_, err := call.Resume(Return(boundary.Int(1)))
	require.NoError(t, err)

	_, err = call.Resume(Return(boundary.Int(1)))
	require.ErrorIs(t, err, errz.ErrContinuationUsed)
	_, err = call.Dump()
	require.ErrorIs(t, err, errz.ErrContinuationUsed)
}

func TestRejectedResumeKeepsContinuation(t *testing.T) {
	r := newRunner(t, extSum(), nil, []string{"ext"})
	call := functionCall(t, start(t, r))
	_, err := call.Resume(Return(boundary.Repr("<opaque>")))
	require.ErrorIs(t, err, errz.ErrWrongResume)

	p, err := call.Resume(Return(boundary.Int(1)))
	require.NoError(t, err)
	functionCall(t, p)
}

func TestRunnerIsReusable(t *testing.T) {
	r := newRunner(t, extSum(), nil, []string{"ext"})
	a := functionCall(t, start(t, r))
	b := functionCall(t, start(t, r))
	require.NotEqual(t, a.RunID(), b.RunID())
	require.Equal(t, a.CallID, b.CallID)
}

func TestRaiseIntoProgram(t *testing.T) {
	r := newRunner(t, extSum(), nil, []string{"ext"})
	call := functionCall(t, start(t, r))
	_, err := call.Resume(Raise(boundary.Exception{Type: "ValueError", Message: "no"}))
	var se *errz.StructuredError
	require.True(t, errors.As(err, &se))
	require.Equal(t, "ValueError", se.Kind)
	require.Equal(t, "no", se.Message)
	require.Equal(t, "main.py", se.Location.Filename)
	require.Equal(t, 1, se.Location.Line)
}

func TestInputs(t *testing.T) {
	code := program(func(b *bytecode.Builder) {
		b.LoadGlobal("a").LoadGlobal("b").Emit(op.BinaryOp, int(op.Multiply)).Emit(op.ReturnValue)
	})
	r := newRunner(t, code, []string{"a", "b"}, nil)
	v, err := r.RunNoLimits([]boundary.Value{boundary.Int(6), boundary.Int(7)})
	require.NoError(t, err)
	require.Equal(t, boundary.Int(42), v)

	_, err = r.RunNoLimits([]boundary.Value{boundary.Int(6)})
	require.Error(t, err)
}

func TestNewRejectsDuplicateNames(t *testing.T) {
	_, err := New(extSum(), "main.py", []string{"ext"}, []string{"ext"})
	require.Error(t, err)
	_, err = New(nil, "main.py", nil, nil)
	require.Error(t, err)
}

func TestRunNoLimitsNeedsHost(t *testing.T) {
	r := newRunner(t, extSum(), nil, []string{"ext"})
	_, err := r.RunNoLimits(nil)
	require.ErrorIs(t, err, errz.ErrNeedsHost)
}

func TestOutput(t *testing.T) {
	code := program(func(b *bytecode.Builder) {
		b.LoadGlobal("print").LoadConst("hello").Emit(op.Call, 1).Emit(op.ReturnValue)
	})
	var out bytes.Buffer
	p, err := newRunner(t, code, nil, nil).Start(nil, nil, &out)
	require.Equal(t, boundary.None{}, completed(t, p, err))
	require.Equal(t, "hello\n", out.String())
}

func TestNoGrantsDeniesCalls(t *testing.T) {
	r := newRunner(t, extSum(), nil, []string{"ext"}, WithCapabilities(capability.None()))
	_, err := r.Start(nil, nil, nil)
	var denied *errz.PermissionDenied
	require.True(t, errors.As(err, &denied))
	require.Equal(t, "ext", denied.Name)
}

func TestOsCall(t *testing.T) {
	code := program(func(b *bytecode.Builder) {
		b.Emit(op.Import, b.Name("os")).LoadAttr("getenv").LoadConst("HOME").Emit(op.Call, 1).Emit(op.ReturnValue)
	})
	_, err := newRunner(t, code, nil, nil).Start(nil, nil, nil)
	var denied *errz.PermissionDenied
	require.True(t, errors.As(err, &denied))
	require.Equal(t, "os", denied.Operation)

	r := newRunner(t, code, nil, nil, WithCapabilities(capability.New(capability.Custom("os"))))
	p := start(t, r)
	call, ok := p.(*OsCall)
	require.True(t, ok, "expected an os call, got %T", p)
	require.Equal(t, "os.getenv", call.Function)
	require.Equal(t, []boundary.Value{boundary.Str("HOME")}, call.Args)

	_, err = call.Resume(Future())
	require.ErrorIs(t, err, errz.ErrWrongResume)
	p, err = call.Resume(Return(boundary.Str("/home/sandbox")))
	require.Equal(t, boundary.Str("/home/sandbox"), completed(t, p, err))
}

func TestRecursionRecovers(t *testing.T) {
	forever := function("forever", []string{"n"}, func(b *bytecode.Builder) {
		b.LoadGlobal("forever").Emit(op.LoadFast, 0).LoadConst(int64(1)).Emit(op.BinaryOp, int(op.Add))
		b.Emit(op.Call, 1).Emit(op.ReturnValue)
	})
	down := function("down", []string{"n"}, func(b *bytecode.Builder) {
		recurse := b.NewLabel()
		b.Emit(op.LoadFast, 0).LoadConst(int64(0)).Emit(op.CompareOp, int(op.Equal))
		b.Jump(op.PopJumpForwardIfFalse, recurse)
		b.LoadConst("done").Emit(op.ReturnValue)
		b.Mark(recurse)
		b.LoadGlobal("down").Emit(op.LoadFast, 0).LoadConst(int64(1)).Emit(op.BinaryOp, int(op.Subtract))
		b.Emit(op.Call, 1).Emit(op.ReturnValue)
	})
	code := program(func(b *bytecode.Builder) {
		handler := b.NewLabel()
		reraise := b.NewLabel()
		after := b.NewLabel()
		b.Emit(op.MakeFunction, b.Const(forever), 0).StoreGlobal("forever")
		b.Emit(op.MakeFunction, b.Const(down), 0).StoreGlobal("down")
		b.Jump(op.PushExcept, handler)
		b.LoadGlobal("forever").LoadConst(int64(0)).Emit(op.Call, 1).Emit(op.PopTop)
		b.Emit(op.PopExcept)
		b.Jump(op.JumpForward, after)
		b.Mark(handler)
		b.LoadGlobal("RecursionError").Emit(op.ExcMatch)
		b.Jump(op.PopJumpForwardIfFalse, reraise)
		b.Emit(op.PopTop)
		b.Mark(after)
		b.LoadGlobal("down").LoadConst(int64(5)).Emit(op.Call, 1).Emit(op.ReturnValue)
		b.Mark(reraise)
		b.Emit(op.Reraise)
	})
	tracker := resource.NewLimited(resource.Limits{MaxRecursionDepth: 30})
	p, err := newRunner(t, code, nil, nil).Start(nil, tracker, nil)
	require.Equal(t, boundary.Str("done"), completed(t, p, err))
	require.LessOrEqual(t, tracker.Usage().PeakDepth, 30)
}

func TestFutureThroughGather(t *testing.T) {
	code := program(func(b *bytecode.Builder) {
		b.LoadGlobal("gather")
		b.LoadGlobal("ext").LoadConst("a").Emit(op.Call, 1)
		b.LoadGlobal("ext").LoadConst("b").Emit(op.Call, 1)
		b.Emit(op.Call, 2).Emit(op.Await).Emit(op.ReturnValue)
	})
	for _, order := range [][]uint64{{1, 2}, {2, 1}} {
		r := newRunner(t, code, nil, []string{"ext"})
		resolve := startFutures(t, r)
		require.Equal(t, []uint64{1, 2}, resolve.CallIDs)

		var batch []FutureResult
		for _, id := range order {
			batch = append(batch, FutureResult{CallID: id, Value: boundary.Int(int64(id * 10))})
		}
		p, err := resolve.Resume(batch)
		require.Equal(t, boundary.List{boundary.Int(10), boundary.Int(20)}, completed(t, p, err))
	}
}

// startFutures runs a program whose two external calls are both deferred
// as futures.
func startFutures(t *testing.T, r *Runner) *ResolveFutures {
	t.Helper()
	p := start(t, r)
	for {
		call, ok := p.(*FunctionCall)
		if !ok {
			break
		}
		var err error
		p, err = call.Resume(Future())
		require.NoError(t, err)
	}
	resolve, ok := p.(*ResolveFutures)
	require.True(t, ok, "expected a futures request, got %T", p)
	return resolve
}

func TestResolveDuplicateAndUnknownIDs(t *testing.T) {
	code := program(func(b *bytecode.Builder) {
		b.LoadGlobal("gather")
		b.LoadGlobal("ext").LoadConst("a").Emit(op.Call, 1)
		b.LoadGlobal("ext").LoadConst("b").Emit(op.Call, 1)
		b.Emit(op.Call, 2).Emit(op.Await).Emit(op.ReturnValue)
	})
	resolve := startFutures(t, newRunner(t, code, nil, []string{"ext"}))

	_, err := resolve.Resume([]FutureResult{{CallID: 7, Value: boundary.Int(0)}})
	var unknown *errz.UnknownCallID
	require.True(t, errors.As(err, &unknown))
	require.Equal(t, uint64(7), unknown.ID)

	p, err := resolve.Resume([]FutureResult{
		{CallID: 1, Value: boundary.Str("first")},
		{CallID: 1, Value: boundary.Str("second")},
	})
	require.NoError(t, err)
	again, ok := p.(*ResolveFutures)
	require.True(t, ok, "expected a futures request, got %T", p)
	require.Equal(t, []uint64{2}, again.CallIDs)

	p, err = again.Resume([]FutureResult{
		{CallID: 1, Value: boundary.Str("late")},
		{CallID: 2, Value: boundary.Str("b")},
	})
	require.Equal(t, boundary.List{boundary.Str("first"), boundary.Str("b")}, completed(t, p, err))
}

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
	"github.com/deepnoodle-ai/burrow/resource"
)

// function assembles a function whose parameters occupy the first local
// slots.
func function(name string, params []string, body func(b *bytecode.Builder), configure ...func(*bytecode.FunctionParams)) *bytecode.Function {
	b := bytecode.NewBuilder(name)
	for _, p := range params {
		b.Local(p)
	}
	body(b)
	fp := bytecode.FunctionParams{ID: name, Name: name, Parameters: params, Code: b.MustBuild()}
	for _, c := range configure {
		c(&fp)
	}
	return bytecode.NewFunction(fp)
}

func async(fp *bytecode.FunctionParams)     { fp.Async = true }
func generator(fp *bytecode.FunctionParams) { fp.Generator = true }

func makeFunction(b *bytecode.Builder, fn *bytecode.Function) *bytecode.Builder {
	return b.Emit(op.MakeFunction, b.Const(fn), 0)
}

func program(body func(b *bytecode.Builder)) *bytecode.Code {
	b := bytecode.NewBuilder("main").SetFilename("main.py")
	body(b)
	return b.MustBuild()
}

func complete(t *testing.T, s *Suspension, err error) boundary.Value {
	t.Helper()
	require.NoError(t, err)
	require.Equal(t, SuspendComplete, s.Kind)
	return s.Value
}

func structured(t *testing.T, err error) *errz.StructuredError {
	t.Helper()
	var se *errz.StructuredError
	require.True(t, errors.As(err, &se), "expected a structured error, got %v", err)
	return se
}

func TestArithmetic(t *testing.T) {
	code := program(func(b *bytecode.Builder) {
		b.LoadConst(int64(11)).LoadConst(int64(12)).Emit(op.BinaryOp, int(op.Add))
		b.LoadConst(int64(2)).Emit(op.BinaryOp, int(op.Multiply)).Emit(op.ReturnValue)
	})
	s, err := New().Begin(code)
	require.Equal(t, boundary.Int(46), complete(t, s, err))
}

func TestIntOverflowPromotes(t *testing.T) {
	code := program(func(b *bytecode.Builder) {
		b.LoadConst(int64(1) << 62).LoadConst(int64(4)).Emit(op.BinaryOp, int(op.Multiply)).Emit(op.ReturnValue)
	})
	s, err := New().Begin(code)
	v := complete(t, s, err)
	big, ok := v.(boundary.BigInt)
	require.True(t, ok, "got %#v", v)
	require.Equal(t, "18446744073709551616", big.V.String())
}

func TestConditional(t *testing.T) {
	code := program(func(b *bytecode.Builder) {
		other := b.NewLabel()
		b.LoadConst(int64(20)).LoadConst(int64(10)).Emit(op.CompareOp, int(op.GreaterThan))
		b.Jump(op.PopJumpForwardIfFalse, other)
		b.LoadConst("big").Emit(op.ReturnValue)
		b.Mark(other)
		b.LoadConst("small").Emit(op.ReturnValue)
	})
	s, err := New().Begin(code)
	require.Equal(t, boundary.Str("big"), complete(t, s, err))
}

func TestFunctionCall(t *testing.T) {
	add := function("add", []string{"a", "b"}, func(b *bytecode.Builder) {
		b.Emit(op.LoadFast, 0).Emit(op.LoadFast, 1).Emit(op.BinaryOp, int(op.Add)).Emit(op.ReturnValue)
	})
	code := program(func(b *bytecode.Builder) {
		makeFunction(b, add).StoreGlobal("add")
		b.LoadGlobal("add").LoadConst(int64(1)).LoadConst(int64(2)).Emit(op.Call, 2).Emit(op.ReturnValue)
	})
	s, err := New().Begin(code)
	require.Equal(t, boundary.Int(3), complete(t, s, err))
}

func TestKeywordArguments(t *testing.T) {
	sub := function("sub", []string{"a", "b"}, func(b *bytecode.Builder) {
		b.Emit(op.LoadFast, 0).Emit(op.LoadFast, 1).Emit(op.BinaryOp, int(op.Subtract)).Emit(op.ReturnValue)
	})
	call := func(names ...string) *bytecode.Code {
		return program(func(b *bytecode.Builder) {
			makeFunction(b, sub).StoreGlobal("sub")
			b.LoadGlobal("sub").LoadConst(int64(1)).LoadConst(int64(10)).CallKw(2, names...).Emit(op.ReturnValue)
		})
	}
	s, err := New().Begin(call("b", "a"))
	require.Equal(t, boundary.Int(9), complete(t, s, err))

	// sub(1, a=10) binds a twice.
	_, err = New().Begin(call("a"))
	se := structured(t, err)
	require.Equal(t, "TypeError", se.Kind)
	require.Contains(t, se.Message, "multiple values for argument 'a'")
}

func TestUncaughtException(t *testing.T) {
	code := program(func(b *bytecode.Builder) {
		b.At(3, 5)
		b.LoadGlobal("ValueError").LoadConst("bad input").Emit(op.Call, 1).Emit(op.Raise)
	})
	_, err := New().Begin(code)
	se := structured(t, err)
	require.Equal(t, "ValueError", se.Kind)
	require.Equal(t, "bad input", se.Message)
	require.Equal(t, 3, se.Location.Line)
}

func TestTryExcept(t *testing.T) {
	code := program(func(b *bytecode.Builder) {
		handler := b.NewLabel()
		reraise := b.NewLabel()
		b.Jump(op.PushExcept, handler)
		b.LoadGlobal("KeyError").LoadConst("k").Emit(op.Call, 1).Emit(op.Raise)
		b.Mark(handler)
		b.LoadGlobal("LookupError").Emit(op.ExcMatch)
		b.Jump(op.PopJumpForwardIfFalse, reraise)
		b.Emit(op.PopTop).LoadConst("caught").Emit(op.ReturnValue)
		b.Mark(reraise)
		b.Emit(op.Reraise)
	})
	s, err := New().Begin(code)
	require.Equal(t, boundary.Str("caught"), complete(t, s, err))
}

func TestProgramErrorLeavesRunReusable(t *testing.T) {
	vm := New()
	_, err := vm.Begin(program(func(b *bytecode.Builder) {
		b.LoadGlobal("missing").Emit(op.ReturnValue)
	}))
	require.Equal(t, "NameError", structured(t, err).Kind)
	require.False(t, vm.Done())

	s, err := vm.Begin(program(func(b *bytecode.Builder) {
		b.LoadConst(int64(1)).Emit(op.ReturnValue)
	}))
	require.Equal(t, boundary.Int(1), complete(t, s, err))
}

func TestGlobalsPersistAcrossBlocks(t *testing.T) {
	vm := New()
	s, err := vm.Begin(program(func(b *bytecode.Builder) {
		b.LoadConst(int64(41)).StoreGlobal("x").Emit(op.Nil).Emit(op.ReturnValue)
	}))
	complete(t, s, err)
	s, err = vm.Begin(program(func(b *bytecode.Builder) {
		b.LoadGlobal("x").LoadConst(int64(1)).Emit(op.BinaryOp, int(op.Add)).Emit(op.ReturnValue)
	}))
	require.Equal(t, boundary.Int(42), complete(t, s, err))

	v, ok, err := vm.Global("x")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, boundary.Int(41), v)
	require.Contains(t, vm.GlobalNames(), "x")
}

func TestSetGlobal(t *testing.T) {
	vm := New()
	require.NoError(t, vm.SetGlobal("items", boundary.List{boundary.Int(1), boundary.Int(2)}))
	s, err := vm.Begin(program(func(b *bytecode.Builder) {
		b.LoadGlobal("len").LoadGlobal("items").Emit(op.Call, 1).Emit(op.ReturnValue)
	}))
	require.Equal(t, boundary.Int(2), complete(t, s, err))
}

func TestDunderDispatch(t *testing.T) {
	initFn := function("__init__", []string{"self", "n"}, func(b *bytecode.Builder) {
		b.Emit(op.LoadFast, 1).Emit(op.LoadFast, 0).Emit(op.StoreAttr, b.Name("n"))
		b.Emit(op.Nil).Emit(op.ReturnValue)
	})
	addFn := function("__add__", []string{"self", "other"}, func(b *bytecode.Builder) {
		b.Emit(op.LoadFast, 0).LoadAttr("n").Emit(op.LoadFast, 1).LoadAttr("n")
		b.Emit(op.BinaryOp, int(op.Add)).Emit(op.ReturnValue)
	})
	code := program(func(b *bytecode.Builder) {
		b.LoadConst("V")
		b.LoadConst("__init__")
		makeFunction(b, initFn)
		b.LoadConst("__add__")
		makeFunction(b, addFn)
		b.Emit(op.BuildDict, 2).Emit(op.MakeClass, 0).StoreGlobal("V")
		b.LoadGlobal("V").LoadConst(int64(2)).Emit(op.Call, 1)
		b.LoadGlobal("V").LoadConst(int64(3)).Emit(op.Call, 1)
		b.Emit(op.BinaryOp, int(op.Add)).Emit(op.ReturnValue)
	})
	s, err := New().Begin(code)
	require.Equal(t, boundary.Int(5), complete(t, s, err))
}

func TestUnsupportedOperand(t *testing.T) {
	code := program(func(b *bytecode.Builder) {
		b.LoadConst(int64(1)).LoadConst("a").Emit(op.BinaryOp, int(op.Add)).Emit(op.ReturnValue)
	})
	_, err := New().Begin(code)
	se := structured(t, err)
	require.Equal(t, "TypeError", se.Kind)
	require.Contains(t, se.Message, "unsupported operand type(s) for +")
}

func TestGenerator(t *testing.T) {
	gen := function("count", nil, func(b *bytecode.Builder) {
		b.LoadConst(int64(1)).Emit(op.YieldValue).Emit(op.PopTop)
		b.LoadConst(int64(2)).Emit(op.YieldValue).Emit(op.PopTop)
		b.Emit(op.Nil).Emit(op.ReturnValue)
	}, generator)
	code := program(func(b *bytecode.Builder) {
		b.LoadGlobal("list")
		makeFunction(b, gen).Emit(op.Call, 0)
		b.Emit(op.Call, 1).Emit(op.ReturnValue)
	})
	s, err := New().Begin(code)
	require.Equal(t, boundary.List{boundary.Int(1), boundary.Int(2)}, complete(t, s, err))
}

func TestGeneratorForLoop(t *testing.T) {
	gen := function("count", nil, func(b *bytecode.Builder) {
		b.LoadConst(int64(3)).Emit(op.YieldValue).Emit(op.PopTop)
		b.LoadConst(int64(4)).Emit(op.YieldValue).Emit(op.PopTop)
		b.Emit(op.Nil).Emit(op.ReturnValue)
	}, generator)
	code := program(func(b *bytecode.Builder) {
		top, done := b.NewLabel(), b.NewLabel()
		b.LoadConst(int64(0)).StoreGlobal("total")
		makeFunction(b, gen).Emit(op.Call, 0).Emit(op.GetIter)
		b.Mark(top)
		b.Jump(op.ForIter, done)
		b.LoadGlobal("total").Emit(op.BinaryOp, int(op.Add)).StoreGlobal("total")
		b.Jump(bytecode.JumpAny, top)
		b.Mark(done)
		b.LoadGlobal("total").Emit(op.ReturnValue)
	})
	s, err := New().Begin(code)
	require.Equal(t, boundary.Int(7), complete(t, s, err))
}

func TestRecursionLimit(t *testing.T) {
	loop := function("loop", nil, func(b *bytecode.Builder) {
		b.LoadGlobal("loop").Emit(op.Call, 0).Emit(op.ReturnValue)
	})
	code := program(func(b *bytecode.Builder) {
		makeFunction(b, loop).StoreGlobal("loop")
		b.LoadGlobal("loop").Emit(op.Call, 0).Emit(op.ReturnValue)
	})
	tracker := resource.NewLimited(resource.Limits{MaxRecursionDepth: 20})
	_, err := New(WithTracker(tracker)).Begin(code)
	require.Equal(t, "RecursionError", structured(t, err).Kind)
	require.LessOrEqual(t, tracker.Usage().PeakDepth, 20)
}

// noGrowth refuses every in-place growth of an existing object.
type noGrowth struct {
	*resource.LimitedTracker
}

func (noGrowth) OnGrow(size int) error {
	return &resource.Error{Kind: resource.Memory, Requested: size}
}

func TestYieldChargedAgainstMemory(t *testing.T) {
	gen := function("hold", []string{"x"}, func(b *bytecode.Builder) {
		b.Emit(op.LoadFast, 0).Emit(op.YieldValue).Emit(op.PopTop)
		b.Emit(op.Nil).Emit(op.ReturnValue)
	}, generator)
	code := program(func(b *bytecode.Builder) {
		b.LoadGlobal("list")
		makeFunction(b, gen).LoadConst(int64(1)).Emit(op.Call, 1)
		b.Emit(op.Call, 1).Emit(op.ReturnValue)
	})
	vm := New(WithTracker(noGrowth{resource.NoLimit()}))
	_, err := vm.Begin(code)
	require.Equal(t, "MemoryError", structured(t, err).Kind)
}

func TestNoLeaksAfterCompletion(t *testing.T) {
	code := program(func(b *bytecode.Builder) {
		b.LoadConst(int64(1)).LoadConst("two").LoadConst(3.0).Emit(op.BuildList, 3)
		b.Emit(op.BuildList, 1).Emit(op.ReturnValue)
	})
	vm := New()
	s, err := vm.Begin(code)
	v := complete(t, s, err)
	require.Equal(t, boundary.List{boundary.List{boundary.Int(1), boundary.Str("two"), boundary.Float(3)}}, v)
	require.Equal(t, 0, vm.Heap().LiveCount())
}

func TestExternalCall(t *testing.T) {
	code := program(func(b *bytecode.Builder) {
		b.LoadGlobal("fetch").LoadConst(int64(1)).Emit(op.Call, 1)
		b.LoadConst(int64(1)).Emit(op.BinaryOp, int(op.Add)).Emit(op.ReturnValue)
	})
	vm := New(WithExternalFunctions("fetch"), WithCapabilities(capability.Unrestricted()))
	s, err := vm.Begin(code)
	require.NoError(t, err)
	require.Equal(t, SuspendFunctionCall, s.Kind)
	require.Equal(t, "fetch", s.Name)
	require.Equal(t, []boundary.Value{boundary.Int(1)}, s.Args)
	require.Equal(t, uint64(1), s.CallID)

	s, err = vm.ResumeReturn(boundary.Int(5))
	require.Equal(t, boundary.Int(6), complete(t, s, err))

	_, err = vm.ResumeReturn(boundary.Int(5))
	require.ErrorIs(t, err, errz.ErrWrongResume)
}

func TestExternalCallRaise(t *testing.T) {
	code := program(func(b *bytecode.Builder) {
		b.LoadGlobal("fetch").Emit(op.Call, 0).Emit(op.ReturnValue)
	})
	vm := New(WithExternalFunctions("fetch"), WithCapabilities(capability.New(capability.CallFunction("fetch"))))
	s, err := vm.Begin(code)
	require.NoError(t, err)
	require.Equal(t, SuspendFunctionCall, s.Kind)
	_, err = vm.ResumeRaise(boundary.Exception{Type: "ValueError", Message: "nope"})
	se := structured(t, err)
	require.Equal(t, "ValueError", se.Kind)
	require.Equal(t, "nope", se.Message)
}

func TestCapabilityDenied(t *testing.T) {
	code := program(func(b *bytecode.Builder) {
		b.LoadGlobal("fetch").Emit(op.Call, 0).Emit(op.ReturnValue)
	})
	vm := New(WithExternalFunctions("fetch"))
	_, err := vm.Begin(code)
	var denied *errz.PermissionDenied
	require.True(t, errors.As(err, &denied))
	require.Equal(t, "fetch", denied.Name)
	require.True(t, vm.Done())
}

func TestSyncFunction(t *testing.T) {
	double := func(args []boundary.Value, _ boundary.Dict) (boundary.Value, error) {
		return boundary.Int(2 * int64(args[0].(boundary.Int))), nil
	}
	code := program(func(b *bytecode.Builder) {
		b.LoadGlobal("double").LoadConst(int64(21)).Emit(op.Call, 1).Emit(op.ReturnValue)
	})
	vm := New(WithSyncFunction("double", double), WithCapabilities(capability.Unrestricted()))
	s, err := vm.Begin(code)
	require.Equal(t, boundary.Int(42), complete(t, s, err))
	require.Equal(t, uint64(2), vm.NextCallID())
}

func TestBusy(t *testing.T) {
	code := program(func(b *bytecode.Builder) {
		b.LoadGlobal("fetch").Emit(op.Call, 0).Emit(op.ReturnValue)
	})
	vm := New(WithExternalFunctions("fetch"), WithCapabilities(capability.Unrestricted()))
	_, err := vm.Begin(code)
	require.NoError(t, err)
	_, err = vm.Begin(code)
	require.ErrorIs(t, err, ErrBusy)
}

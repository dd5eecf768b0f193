package bytecode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/burrow/op"
)

func TestBuilderForwardJump(t *testing.T) {
	b := NewBuilder("main")
	end := b.NewLabel()
	b.Emit(op.True)
	b.Jump(op.PopJumpForwardIfFalse, end)
	b.LoadConst(int64(1))
	b.Emit(op.PopTop)
	b.Mark(end)
	b.Emit(op.Nil).Emit(op.ReturnValue)

	code, err := b.Build()
	require.Nil(t, err)
	// True(0) PopJump(1,2) LoadConst(3,4) PopTop(5) Nil(6)
	require.Equal(t, op.PopJumpForwardIfFalse, code.InstructionAt(1))
	require.Equal(t, op.Code(5), code.InstructionAt(2))
}

func TestBuilderBackwardJump(t *testing.T) {
	b := NewBuilder("loop")
	top := b.NewLabel()
	b.Mark(top)
	b.Emit(op.Nop)
	b.Jump(JumpAny, top)

	code, err := b.Build()
	require.Nil(t, err)
	require.Equal(t, op.JumpBackward, code.InstructionAt(1))
	require.Equal(t, op.Code(1), code.InstructionAt(2))
}

func TestBuilderErrors(t *testing.T) {
	_, err := NewBuilder("x").Emit(op.LoadConst).Build()
	require.ErrorContains(t, err, "expects 1 operands")

	b := NewBuilder("x")
	b.Jump(op.JumpForward, b.NewLabel())
	_, err = b.Build()
	require.ErrorContains(t, err, "never marked")

	b = NewBuilder("x")
	l := b.NewLabel()
	b.Mark(l)
	b.Jump(op.ForIter, l)
	_, err = b.Build()
	require.ErrorContains(t, err, "cannot jump backward")
}

func TestBuilderPools(t *testing.T) {
	b := NewBuilder("main")
	require.Equal(t, 0, b.Const(int64(1)))
	require.Equal(t, 0, b.Const(1))
	require.Equal(t, 1, b.Const("a"))
	require.Equal(t, 2, b.Const([]string{"k"}))
	require.Equal(t, 3, b.Const([]string{"k"}))
	require.Equal(t, 0, b.Global("x"))
	require.Equal(t, 1, b.Global("y"))
	require.Equal(t, 0, b.Global("x"))
	require.Equal(t, 0, b.Name("append"))
	require.Equal(t, 0, b.Local("p"))
	require.Equal(t, 1, b.Local("q"))

	code := b.Emit(op.Nil).Emit(op.ReturnValue).MustBuild()
	require.Equal(t, 2, code.LocalCount())
	require.Equal(t, "q", code.LocalNameAt(1))
	require.Equal(t, []string{"x", "y"}, code.GlobalNames())
}

package dis

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/burrow/bytecode"
	"github.com/deepnoodle-ai/burrow/op"
)

func TestFunctionDisassembly(t *testing.T) {
	// Disable colors for consistent test output
	color.NoColor = true
	defer func() { color.NoColor = false }()

	fb := bytecode.NewBuilder("f")
	fb.At(2, 3).LoadConst(int64(42)).Emit(op.PopTop)
	fb.At(3, 3).LoadGlobal("error").LoadConst("kaboom").Emit(op.Call, 1).Emit(op.ReturnValue)
	f := bytecode.NewFunction(bytecode.FunctionParams{ID: "f", Name: "f", Code: fb.MustBuild()})

	b := bytecode.NewBuilder("main")
	b.At(1, 1).Emit(op.MakeFunction, b.Const(f), 0).StoreGlobal("f")
	code := b.MustBuild()
	fns := code.Functions()
	require.Len(t, fns, 1)

	instructions, err := Disassemble(fns[0].Code())
	require.NoError(t, err)
	require.Len(t, instructions, 6)

	var buf bytes.Buffer
	Print(instructions, &buf)

	expected := strings.TrimSpace(`
+--------+------+--------------+----------+----------+
| OFFSET | LINE |    OPCODE    | OPERANDS |   INFO   |
+--------+------+--------------+----------+----------+
|      0 |    2 | LOAD_CONST   |        0 | 42       |
|      2 |    2 | POP_TOP      |          |          |
|      3 |    3 | LOAD_GLOBAL  |        0 | error    |
|      5 |    3 | LOAD_CONST   |        1 | "kaboom" |
|      7 |    3 | CALL         |        1 |          |
|      9 |    3 | RETURN_VALUE |          |          |
+--------+------+--------------+----------+----------+
`)
	require.Equal(t, expected, strings.TrimSpace(buf.String()))
}

func TestJumpTargets(t *testing.T) {
	b := bytecode.NewBuilder("main")
	top := b.NewLabel()
	end := b.NewLabel()
	b.Mark(top)
	b.Emit(op.True).Jump(op.PopJumpForwardIfFalse, end)
	b.Jump(op.JumpForward, top)
	b.Mark(end)
	b.Emit(op.Nil).Emit(op.ReturnValue)

	instructions, err := Disassemble(b.MustBuild())
	require.NoError(t, err)
	require.Equal(t, "POP_JUMP_FORWARD_IF_FALSE", instructions[1].Name)
	require.Equal(t, "to 5", instructions[1].Annotation)
	require.Equal(t, "JUMP_BACKWARD", instructions[2].Name)
	require.Equal(t, "to 0", instructions[2].Annotation)
}

func TestDisassembleRejectsTruncatedCode(t *testing.T) {
	code := bytecode.NewCode(bytecode.CodeParams{Name: "bad", Instructions: []op.Code{op.LoadConst}})
	_, err := Disassemble(code)
	require.Error(t, err)
}

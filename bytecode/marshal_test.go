package bytecode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/burrow/op"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	childCode := NewCode(CodeParams{
		ID:           "child-id",
		Name:         "childFunc",
		Instructions: []op.Code{op.LoadFast, 0, op.ReturnValue},
		Constants:    []any{int64(100)},
		Names:        []string{"inner_attr"},
		Source:       "return x",
		Filename:     "test.py",
		LocalCount:   1,
	})
	childFn := NewFunction(FunctionParams{
		ID:           "fn-child",
		Name:         "childFunc",
		Parameters:   []string{"x"},
		DefaultCount: 1,
		Async:        true,
		CellSlots:    []int{0},
		Code:         childCode,
	})
	rootCode := NewCode(CodeParams{
		ID:           "root-id",
		Name:         "main",
		Instructions: []op.Code{op.LoadConst, 0, op.LoadConst, 1, op.Call, 1, op.ReturnValue},
		Constants:    []any{childFn, int64(42), 2.5, "s", []byte("b"), []string{"k"}, nil, true},
		Names:        []string{"outer_attr"},
		Source:       "childFunc(42)",
		Filename:     "test.py",
		Locations:    []SourceLocation{{Line: 1, Column: 1}},
		GlobalNames:  []string{"childFunc"},
	})

	data, err := Marshal(rootCode)
	require.Nil(t, err)

	restored, err := Unmarshal(data)
	require.Nil(t, err)
	require.Equal(t, "root-id", restored.ID())
	require.Equal(t, "main", restored.Name())
	require.Equal(t, rootCode.InstructionCount(), restored.InstructionCount())
	require.Equal(t, int64(42), restored.ConstantAt(1))
	require.Equal(t, 2.5, restored.ConstantAt(2))
	require.Equal(t, "s", restored.ConstantAt(3))
	require.Equal(t, []byte("b"), restored.ConstantAt(4))
	require.Equal(t, []string{"k"}, restored.ConstantAt(5))
	require.Nil(t, restored.ConstantAt(6))
	require.Equal(t, true, restored.ConstantAt(7))
	require.Equal(t, "childFunc", restored.GlobalNameAt(0))
	require.Equal(t, 1, restored.LocationAt(0).Line)

	fn, ok := restored.ConstantAt(0).(*Function)
	require.True(t, ok)
	require.Equal(t, "childFunc", fn.Name())
	require.True(t, fn.IsAsync())
	require.Equal(t, 1, fn.DefaultCount())
	require.Equal(t, 0, fn.CellSlotAt(0))
	require.Equal(t, "return x", fn.Code().Source())
	require.Equal(t, int64(100), fn.Code().ConstantAt(0))
}

func TestMarshalDeterministic(t *testing.T) {
	code := NewBuilder("main").LoadConst(int64(1)).LoadConst("x").Emit(op.ReturnValue).MustBuild()
	a, err := Marshal(code)
	require.Nil(t, err)
	b, err := Marshal(code)
	require.Nil(t, err)
	require.Equal(t, a, b)
}

func TestUnmarshalForeignData(t *testing.T) {
	_, err := Unmarshal([]byte("not code at all"))
	require.ErrorIs(t, err, ErrInvalidFormat)

	_, err = Unmarshal(nil)
	require.ErrorIs(t, err, ErrInvalidFormat)
}

func TestUnmarshalCorruptBody(t *testing.T) {
	code := NewBuilder("main").LoadConst(int64(7)).Emit(op.ReturnValue).MustBuild()
	data, err := Marshal(code)
	require.Nil(t, err)

	truncated := data[:len(data)-3]
	_, err = Unmarshal(truncated)
	require.NotNil(t, err)

	wrongVersion := append([]byte(nil), data...)
	wrongVersion[len(magic)] = 99
	_, err = Unmarshal(wrongVersion)
	require.ErrorContains(t, err, "unsupported format version")
}

func TestUnmarshalRejectsBadOperands(t *testing.T) {
	code := NewCode(CodeParams{
		Name:         "bad",
		Instructions: []op.Code{op.LoadConst, 3, op.ReturnValue},
	})
	data, err := Marshal(code)
	require.Nil(t, err)
	_, err = Unmarshal(data)
	require.ErrorContains(t, err, "constant index out of range")
}

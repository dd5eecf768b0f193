package op

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo(MakeFunction)
	require.Equal(t, "MAKE_FUNCTION", info.Name)
	require.Equal(t, 2, info.OperandCount)
	require.Equal(t, MakeFunction, info.Code)
}

func TestGetInfoAllOpcodes(t *testing.T) {
	tests := []struct {
		code     Code
		name     string
		operands int
	}{
		{Nop, "NOP", 0},
		{Call, "CALL", 1},
		{CallKw, "CALL_KW", 2},
		{CallMethod, "CALL_METHOD", 2},
		{ReturnValue, "RETURN_VALUE", 0},
		{JumpBackward, "JUMP_BACKWARD", 1},
		{PopJumpForwardIfFalse, "POP_JUMP_FORWARD_IF_FALSE", 1},
		{LoadCell, "LOAD_CELL", 1},
		{LoadClosure, "LOAD_CLOSURE", 1},
		{StoreGlobal, "STORE_GLOBAL", 1},
		{ForIter, "FOR_ITER", 1},
		{PushExcept, "PUSH_EXCEPT", 1},
		{Await, "AWAIT", 0},
		{YieldValue, "YIELD_VALUE", 0},
		{Import, "IMPORT", 1},
	}
	for _, tt := range tests {
		info := GetInfo(tt.code)
		require.Equal(t, tt.name, info.Name, "opcode %d", tt.code)
		require.Equal(t, tt.operands, info.OperandCount, "opcode %s", tt.name)
	}
}

func TestUnknownOpcode(t *testing.T) {
	require.Equal(t, "", GetInfo(Code(9999)).Name)
	require.Equal(t, "", GetInfo(Invalid).Name)
}

func TestBinaryOpDunders(t *testing.T) {
	require.Equal(t, "+", Add.String())
	require.Equal(t, "__add__", Add.Dunder())
	require.Equal(t, "__radd__", Add.ReflectedDunder())
	require.Equal(t, "__rfloordiv__", FloorDivide.ReflectedDunder())
	require.Equal(t, "", BinaryOpType(99).String())
}

func TestCompareSwapped(t *testing.T) {
	require.Equal(t, GreaterThan, LessThan.Swapped())
	require.Equal(t, LessThanOrEqual, GreaterThanOrEqual.Swapped())
	require.Equal(t, Equal, Equal.Swapped())
	require.Equal(t, "__ge__", GreaterThanOrEqual.Dunder())
	require.Equal(t, "!=", NotEqual.String())
}

// Package op defines opcodes used by the burrow virtual machine.
//
// An instruction stream is a flat []Code: an opcode word followed by
// GetInfo(opcode).OperandCount operand words. Jump deltas are relative to the
// address of the jump opcode itself.
package op

// Code is an integer opcode that indicates an operation to execute.
type Code uint16

const (
	Invalid Code = 0

	// Execution
	Nop         Code = 1
	Halt        Code = 2
	Call        Code = 3 // argc
	ReturnValue Code = 4
	CallKw      Code = 5 // argc, const index of keyword names ([]string)
	CallMethod  Code = 6 // name index, argc

	// Jump
	JumpBackward          Code = 10
	JumpForward           Code = 11
	PopJumpForwardIfFalse Code = 12
	PopJumpForwardIfTrue  Code = 13

	// Load
	LoadAttr    Code = 20
	LoadFast    Code = 21
	LoadCell    Code = 22 // dereference the cell held in a namespace slot
	LoadGlobal  Code = 23
	LoadConst   Code = 24
	LoadClosure Code = 25 // push the cell object itself (for MakeFunction)

	// Store
	StoreAttr   Code = 30
	StoreFast   Code = 31
	StoreCell   Code = 32
	StoreGlobal Code = 33
	DeleteFast  Code = 34

	// Operations
	BinaryOp      Code = 40
	CompareOp     Code = 41
	UnaryNegative Code = 42
	UnaryNot      Code = 43
	UnaryInvert   Code = 44
	IsOp          Code = 45 // operand 1 inverts the result

	// Build
	BuildList   Code = 50
	BuildDict   Code = 51
	BuildSet    Code = 52
	BuildString Code = 53
	BuildTuple  Code = 54
	ListAppend  Code = 55 // append TOS to the list at TOS-1

	// Containers
	BinarySubscr Code = 60
	StoreSubscr  Code = 61
	ContainsOp   Code = 62 // operand 1 inverts the result
	Unpack       Code = 65

	// Stack
	Swap   Code = 70
	Copy   Code = 71
	PopTop Code = 72

	// Push constants
	Nil   Code = 80
	False Code = 81
	True  Code = 82

	// Iteration
	ForIter Code = 90 // jump delta taken on exhaustion
	GetIter Code = 91

	// Definitions
	MakeFunction Code = 120 // function const index, default count
	MakeClass    Code = 121 // base count

	// Exception handling
	PushExcept Code = 140 // handler delta
	PopExcept  Code = 141
	Raise      Code = 142
	Reraise    Code = 143
	ExcMatch   Code = 144

	// Async and generators
	Await      Code = 150
	YieldValue Code = 151

	// Modules
	Import Code = 160 // name index
)

// BinaryOpType describes a type of binary operation, as in an operation that
// takes two operands. For example, addition, subtraction, multiplication, etc.
type BinaryOpType uint16

const (
	Add         BinaryOpType = 1
	Subtract    BinaryOpType = 2
	Multiply    BinaryOpType = 3
	Divide      BinaryOpType = 4
	FloorDivide BinaryOpType = 5
	Modulo      BinaryOpType = 6
	Power       BinaryOpType = 7
	LShift      BinaryOpType = 8
	RShift      BinaryOpType = 9
	BitwiseAnd  BinaryOpType = 10
	BitwiseOr   BinaryOpType = 11
	BitwiseXor  BinaryOpType = 12
)

var binaryNames = map[BinaryOpType][3]string{
	Add:         {"+", "__add__", "__radd__"},
	Subtract:    {"-", "__sub__", "__rsub__"},
	Multiply:    {"*", "__mul__", "__rmul__"},
	Divide:      {"/", "__truediv__", "__rtruediv__"},
	FloorDivide: {"//", "__floordiv__", "__rfloordiv__"},
	Modulo:      {"%", "__mod__", "__rmod__"},
	Power:       {"**", "__pow__", "__rpow__"},
	LShift:      {"<<", "__lshift__", "__rlshift__"},
	RShift:      {">>", "__rshift__", "__rrshift__"},
	BitwiseAnd:  {"&", "__and__", "__rand__"},
	BitwiseOr:   {"|", "__or__", "__ror__"},
	BitwiseXor:  {"^", "__xor__", "__rxor__"},
}

// String returns a string representation of the binary operation.
// For example "+" for addition.
func (bop BinaryOpType) String() string {
	return binaryNames[bop][0]
}

// Dunder returns the name of the method that implements the operator on the
// left operand, e.g. "__add__".
func (bop BinaryOpType) Dunder() string {
	return binaryNames[bop][1]
}

// ReflectedDunder returns the name of the method tried on the right operand
// when the left operand does not implement the operation, e.g. "__radd__".
func (bop BinaryOpType) ReflectedDunder() string {
	return binaryNames[bop][2]
}

// CompareOpType describes a type of comparison operation. For example, less
// than, greater than, equal, etc.
type CompareOpType uint16

const (
	LessThan           CompareOpType = 1
	LessThanOrEqual    CompareOpType = 2
	Equal              CompareOpType = 3
	NotEqual           CompareOpType = 4
	GreaterThan        CompareOpType = 5
	GreaterThanOrEqual CompareOpType = 6
)

// String returns a string representation of the comparison operation.
// For example "<" for less than.
func (cop CompareOpType) String() string {
	switch cop {
	case LessThan:
		return "<"
	case LessThanOrEqual:
		return "<="
	case Equal:
		return "=="
	case NotEqual:
		return "!="
	case GreaterThan:
		return ">"
	case GreaterThanOrEqual:
		return ">="
	default:
		return ""
	}
}

// Dunder returns the rich comparison method name, e.g. "__lt__".
func (cop CompareOpType) Dunder() string {
	switch cop {
	case LessThan:
		return "__lt__"
	case LessThanOrEqual:
		return "__le__"
	case Equal:
		return "__eq__"
	case NotEqual:
		return "__ne__"
	case GreaterThan:
		return "__gt__"
	case GreaterThanOrEqual:
		return "__ge__"
	default:
		return ""
	}
}

// Swapped returns the comparison to try on the right operand as the
// reflection of this one: a < b falls back to b > a.
func (cop CompareOpType) Swapped() CompareOpType {
	switch cop {
	case LessThan:
		return GreaterThan
	case LessThanOrEqual:
		return GreaterThanOrEqual
	case GreaterThan:
		return LessThan
	case GreaterThanOrEqual:
		return LessThanOrEqual
	default:
		return cop
	}
}

// Info contains information about an opcode.
type Info struct {
	Code         Code
	Name         string
	OperandCount int
}

var infos = make([]Info, 256)

func init() {
	type opInfo struct {
		op    Code
		name  string
		count int
	}
	ops := []opInfo{
		{Await, "AWAIT", 0},
		{BinaryOp, "BINARY_OP", 1},
		{BinarySubscr, "BINARY_SUBSCR", 0},
		{BuildDict, "BUILD_DICT", 1},
		{BuildList, "BUILD_LIST", 1},
		{BuildSet, "BUILD_SET", 1},
		{BuildString, "BUILD_STRING", 1},
		{BuildTuple, "BUILD_TUPLE", 1},
		{Call, "CALL", 1},
		{CallKw, "CALL_KW", 2},
		{CallMethod, "CALL_METHOD", 2},
		{CompareOp, "COMPARE_OP", 1},
		{ContainsOp, "CONTAINS_OP", 1},
		{Copy, "COPY", 1},
		{DeleteFast, "DELETE_FAST", 1},
		{ExcMatch, "EXC_MATCH", 0},
		{False, "FALSE", 0},
		{ForIter, "FOR_ITER", 1},
		{GetIter, "GET_ITER", 0},
		{Halt, "HALT", 0},
		{Import, "IMPORT", 1},
		{IsOp, "IS_OP", 1},
		{JumpBackward, "JUMP_BACKWARD", 1},
		{JumpForward, "JUMP_FORWARD", 1},
		{ListAppend, "LIST_APPEND", 0},
		{LoadAttr, "LOAD_ATTR", 1},
		{LoadCell, "LOAD_CELL", 1},
		{LoadClosure, "LOAD_CLOSURE", 1},
		{LoadConst, "LOAD_CONST", 1},
		{LoadFast, "LOAD_FAST", 1},
		{LoadGlobal, "LOAD_GLOBAL", 1},
		{MakeClass, "MAKE_CLASS", 1},
		{MakeFunction, "MAKE_FUNCTION", 2},
		{Nil, "NIL", 0},
		{Nop, "NOP", 0},
		{PopExcept, "POP_EXCEPT", 0},
		{PopJumpForwardIfFalse, "POP_JUMP_FORWARD_IF_FALSE", 1},
		{PopJumpForwardIfTrue, "POP_JUMP_FORWARD_IF_TRUE", 1},
		{PopTop, "POP_TOP", 0},
		{PushExcept, "PUSH_EXCEPT", 1},
		{Raise, "RAISE", 0},
		{Reraise, "RERAISE", 0},
		{ReturnValue, "RETURN_VALUE", 0},
		{StoreAttr, "STORE_ATTR", 1},
		{StoreCell, "STORE_CELL", 1},
		{StoreFast, "STORE_FAST", 1},
		{StoreGlobal, "STORE_GLOBAL", 1},
		{StoreSubscr, "STORE_SUBSCR", 0},
		{Swap, "SWAP", 1},
		{True, "TRUE", 0},
		{UnaryInvert, "UNARY_INVERT", 0},
		{UnaryNegative, "UNARY_NEGATIVE", 0},
		{UnaryNot, "UNARY_NOT", 0},
		{Unpack, "UNPACK", 1},
		{YieldValue, "YIELD_VALUE", 0},
	}
	for _, o := range ops {
		infos[o.op] = Info{
			Name:         o.name,
			Code:         o.op,
			OperandCount: o.count,
		}
	}
}

// GetInfo returns information about the given opcode.
func GetInfo(op Code) Info {
	if int(op) >= len(infos) {
		return Info{}
	}
	return infos[op]
}

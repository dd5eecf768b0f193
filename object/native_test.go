package object

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/burrow/op"
)

func pow2(n uint) *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), n)
}

func binary(t *testing.T, h *Heap, opType op.BinaryOpType, a, b Value) Value {
	t.Helper()
	v, ok, err := h.NativeBinary(opType, a, b)
	require.NoError(t, err)
	require.True(t, ok)
	return v
}

func TestIntOverflowPromotes(t *testing.T) {
	h := NewHeap(nil)
	v := binary(t, h, op.Add, Int(math.MaxInt64), Int(1))
	n, ok := h.BigOf(v)
	require.True(t, ok)
	require.Equal(t, pow2(63).String(), n.String())

	v = binary(t, h, op.Multiply, Int(math.MaxInt64), Int(2))
	require.True(t, v.IsRef())

	back := binary(t, h, op.Subtract, v, Int(math.MaxInt64))
	require.Equal(t, Int(math.MaxInt64), back)

	p := binary(t, h, op.Power, Int(2), Int(100))
	n, _ = h.BigOf(p)
	require.Equal(t, pow2(100).String(), n.String())

	require.Equal(t, Float(0.5), binary(t, h, op.Power, Int(2), Int(-1)))
	shifted := binary(t, h, op.LShift, Int(1), Int(64))
	n, _ = h.BigOf(shifted)
	require.Equal(t, pow2(64).String(), n.String())
}

func TestFloorSemantics(t *testing.T) {
	h := NewHeap(nil)
	require.Equal(t, Int(-4), binary(t, h, op.FloorDivide, Int(-7), Int(2)))
	require.Equal(t, Int(1), binary(t, h, op.Modulo, Int(-7), Int(2)))
	require.Equal(t, Int(-1), binary(t, h, op.Modulo, Int(7), Int(-2)))
	require.Equal(t, Float(3.5), binary(t, h, op.Divide, Int(7), Int(2)))
	require.Equal(t, Float(1.5), binary(t, h, op.Modulo, Float(-2.5), Float(4)))

	min := binary(t, h, op.FloorDivide, Int(math.MinInt64), Int(-1))
	n, ok := h.BigOf(min)
	require.True(t, ok)
	require.Equal(t, pow2(63).String(), n.String())
}

func TestZeroDivision(t *testing.T) {
	h := NewHeap(nil)
	for _, opType := range []op.BinaryOpType{op.Divide, op.FloorDivide, op.Modulo} {
		_, ok, err := h.NativeBinary(opType, Int(1), Int(0))
		require.True(t, ok)
		var exc *Exc
		require.ErrorAs(t, err, &exc)
		require.Equal(t, ZeroDivisionError, exc.Type)
	}
	_, _, err := h.NativeBinary(op.Divide, Float(1), Float(0))
	require.EqualError(t, err, "ZeroDivisionError: float division by zero")
}

func TestUnsupportedOperands(t *testing.T) {
	h := NewHeap(nil)
	_, ok, err := h.NativeBinary(op.Add, Int(1), h.Intern("a"))
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, _ = h.NativeBinary(op.LShift, Float(1), Int(1))
	require.False(t, ok)
}

func TestSequenceOps(t *testing.T) {
	h := NewHeap(nil)
	s := binary(t, h, op.Add, h.Intern("ab"), h.Intern("cd"))
	text, _ := h.Str(s)
	require.Equal(t, "abcd", text)
	h.Release(s)
	s = binary(t, h, op.Multiply, Int(3), h.Intern("x"))
	text, _ = h.Str(s)
	require.Equal(t, "xxx", text)

	inner, err := h.NewStr("shared")
	require.NoError(t, err)
	iid, _ := inner.HeapID()
	a, err := h.New(&List{Items: []Value{inner}})
	require.NoError(t, err)
	b, err := h.New(&List{Items: []Value{Int(2)}})
	require.NoError(t, err)
	c := binary(t, h, op.Add, a, b)
	require.Len(t, h.Lookup(c).(*List).Items, 2)
	require.Equal(t, uint32(2), h.RefCount(iid))

	r := binary(t, h, op.Multiply, a, Int(3))
	require.Len(t, h.Lookup(r).(*List).Items, 3)
	require.Equal(t, uint32(5), h.RefCount(iid))

	for _, v := range []Value{a, b, c, r} {
		h.Release(v)
	}
	require.Equal(t, 1, h.LiveCount())
	h.Release(s)
	require.Equal(t, 0, h.LiveCount())
}

func newSet(t *testing.T, h *Heap, frozen bool, vs ...Value) Value {
	t.Helper()
	s := &Set{Frozen: frozen}
	for _, v := range vs {
		s.Add(mustKey(t, h, v), v)
	}
	ref, err := h.New(s)
	require.NoError(t, err)
	return ref
}

func TestSetAlgebra(t *testing.T) {
	h := NewHeap(nil)
	a := newSet(t, h, false, Int(1), Int(2), Int(3))
	b := newSet(t, h, true, Int(2), Int(3), Int(4))
	members := func(v Value) []int64 {
		var out []int64
		for _, item := range h.Lookup(v).(*Set).Items {
			out = append(out, item.Value.AsInt())
		}
		return out
	}
	require.Equal(t, []int64{1, 2, 3, 4}, members(binary(t, h, op.BitwiseOr, a, b)))
	require.Equal(t, []int64{2, 3}, members(binary(t, h, op.BitwiseAnd, a, b)))
	require.Equal(t, []int64{1}, members(binary(t, h, op.Subtract, a, b)))
	require.Equal(t, []int64{1, 4}, members(binary(t, h, op.BitwiseXor, a, b)))
	require.True(t, h.Lookup(binary(t, h, op.BitwiseOr, b, a)).(*Set).Frozen)

	sub := newSet(t, h, false, Int(2))
	lt, ok, err := h.NativeCompare(op.LessThan, sub, a)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, True, lt)
}

func TestEquality(t *testing.T) {
	h := NewHeap(nil)
	require.True(t, h.Equal(Int(1), Float(1)))
	require.True(t, h.Equal(True, Int(1)))
	require.False(t, h.Equal(Float(math.NaN()), Float(math.NaN())))
	require.False(t, h.Equal(Int(1), h.Intern("1")))

	l, err := h.New(&List{Items: []Value{Int(1), Int(2)}})
	require.NoError(t, err)
	tup, err := h.New(&Tuple{Items: []Value{Int(1), Int(2)}})
	require.NoError(t, err)
	l2, err := h.New(&List{Items: []Value{Float(1), Int(2)}})
	require.NoError(t, err)
	require.False(t, h.Equal(l, tup))
	require.True(t, h.Equal(l, l2))

	d1 := &Dict{}
	d1.Set(mustKey(t, h, h.Intern("a")), h.Intern("a"), Int(1))
	d2 := &Dict{}
	d2.Set(mustKey(t, h, h.Intern("a")), h.Intern("a"), Float(1))
	dv1, err := h.New(d1)
	require.NoError(t, err)
	dv2, err := h.New(d2)
	require.NoError(t, err)
	require.True(t, h.Equal(dv1, dv2))
}

func TestInstanceEqualityIsDeferred(t *testing.T) {
	h := NewHeap(nil)
	cls, err := h.New(&Class{Name: "P"})
	require.NoError(t, err)
	inst, err := h.New(&Instance{Class: h.Retain(cls)})
	require.NoError(t, err)
	_, ok, err := h.NativeCompare(op.Equal, inst, inst)
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, h.Equal(inst, inst))
}

func TestOrdering(t *testing.T) {
	h := NewHeap(nil)
	cmp := func(opType op.CompareOpType, a, b Value) (Value, bool) {
		v, ok, err := h.NativeCompare(opType, a, b)
		require.NoError(t, err)
		return v, ok
	}
	v, ok := cmp(op.LessThan, Int(1), Float(1.5))
	require.True(t, ok)
	require.Equal(t, True, v)
	v, _ = cmp(op.GreaterThanOrEqual, h.Intern("b"), h.Intern("a"))
	require.Equal(t, True, v)
	v, _ = cmp(op.LessThan, Float(math.NaN()), Int(1))
	require.Equal(t, False, v)

	a, _ := h.New(&Tuple{Items: []Value{Int(1), Int(2)}})
	b, _ := h.New(&Tuple{Items: []Value{Int(1), Int(3)}})
	v, _ = cmp(op.LessThan, a, b)
	require.Equal(t, True, v)

	_, ok = cmp(op.LessThan, Int(1), h.Intern("a"))
	require.False(t, ok)

	x, _ := h.New(&List{Items: []Value{Int(1)}})
	y, _ := h.New(&List{Items: []Value{h.Intern("a")}})
	_, _, err := h.NativeCompare(op.LessThan, x, y)
	var exc *Exc
	require.ErrorAs(t, err, &exc)
	require.Equal(t, TypeError, exc.Type)
}

func TestBigOrdering(t *testing.T) {
	h := NewHeap(nil)
	big, err := h.NewBigInt(pow2(80))
	require.NoError(t, err)
	v, ok, err := h.NativeCompare(op.GreaterThan, big, Int(math.MaxInt64))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, True, v)
	v, _, _ = h.NativeCompare(op.LessThan, big, Float(math.Inf(1)))
	require.Equal(t, True, v)
}

func TestTruthy(t *testing.T) {
	h := NewHeap(nil)
	empty, _ := h.New(&List{})
	full, _ := h.New(&List{Items: []Value{None}})
	cls, _ := h.New(&Class{Name: "C"})
	inst, _ := h.New(&Instance{Class: h.Retain(cls)})
	require.False(t, h.Truthy(None))
	require.False(t, h.Truthy(Int(0)))
	require.False(t, h.Truthy(Float(0)))
	require.False(t, h.Truthy(h.Intern("")))
	require.False(t, h.Truthy(empty))
	require.True(t, h.Truthy(full))
	require.True(t, h.Truthy(inst))
	require.True(t, h.Truthy(h.Intern("x")))
}

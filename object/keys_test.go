package object

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T, h *Heap, v Value) string {
	t.Helper()
	k, err := h.HashKey(v)
	require.NoError(t, err)
	return k
}

func TestNumericKeysCollide(t *testing.T) {
	h := NewHeap(nil)
	one := mustKey(t, h, Int(1))
	require.Equal(t, one, mustKey(t, h, Float(1.0)))
	require.Equal(t, one, mustKey(t, h, True))
	require.NotEqual(t, one, mustKey(t, h, Float(1.5)))
	require.Equal(t, mustKey(t, h, Int(0)), mustKey(t, h, False))
	require.NotEqual(t, mustKey(t, h, Int(1)), mustKey(t, h, h.Intern("1")))
}

func TestBigFloatKey(t *testing.T) {
	h := NewHeap(nil)
	big, err := h.NewBigInt(pow2(70))
	require.NoError(t, err)
	require.Equal(t, mustKey(t, h, big), mustKey(t, h, Float(math.Ldexp(1, 70))))
}

func TestStringKeys(t *testing.T) {
	h := NewHeap(nil)
	s, err := h.NewStr("ab")
	require.NoError(t, err)
	require.Equal(t, mustKey(t, h, h.Intern("ab")), mustKey(t, h, s))
}

func TestTupleKeys(t *testing.T) {
	h := NewHeap(nil)
	a, err := h.New(&Tuple{Items: []Value{Int(1), h.Intern("a")}})
	require.NoError(t, err)
	b, err := h.New(&Tuple{Items: []Value{Float(1), h.Intern("a")}})
	require.NoError(t, err)
	c, err := h.New(&Tuple{Items: []Value{h.Intern("a"), Int(1)}})
	require.NoError(t, err)
	require.Equal(t, mustKey(t, h, a), mustKey(t, h, b))
	require.NotEqual(t, mustKey(t, h, a), mustKey(t, h, c))
}

func TestUnhashable(t *testing.T) {
	h := NewHeap(nil)
	l, err := h.New(&List{})
	require.NoError(t, err)
	_, err = h.HashKey(l)
	var exc *Exc
	require.ErrorAs(t, err, &exc)
	require.Equal(t, TypeError, exc.Type)
	require.Contains(t, exc.Message, "unhashable type: 'list'")

	inner, err := h.New(&List{})
	require.NoError(t, err)
	tup, err := h.New(&Tuple{Items: []Value{inner}})
	require.NoError(t, err)
	_, err = h.HashKey(tup)
	require.Error(t, err)
}

func TestFrozenSetKeyIgnoresOrder(t *testing.T) {
	h := NewHeap(nil)
	build := func(vs ...Value) Value {
		s := &Set{Frozen: true}
		for _, v := range vs {
			s.Add(mustKey(t, h, v), v)
		}
		ref, err := h.New(s)
		require.NoError(t, err)
		return ref
	}
	require.Equal(t, mustKey(t, h, build(Int(1), Int(2))), mustKey(t, h, build(Int(2), Int(1))))
}

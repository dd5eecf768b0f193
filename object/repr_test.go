package object

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustRepr(t *testing.T, h *Heap, v Value) string {
	t.Helper()
	s, err := h.Repr(v, nil)
	require.NoError(t, err)
	return s
}

func TestReprScalars(t *testing.T) {
	h := NewHeap(nil)
	require.Equal(t, "None", mustRepr(t, h, None))
	require.Equal(t, "True", mustRepr(t, h, True))
	require.Equal(t, "1.0", mustRepr(t, h, Float(1)))
	require.Equal(t, "'it'", mustRepr(t, h, h.Intern("it")))
	require.Equal(t, `"it's"`, mustRepr(t, h, h.Intern("it's")))
	require.Equal(t, "<class 'KeyError'>", mustRepr(t, h, ExcClass(KeyError)))
}

func TestReprContainers(t *testing.T) {
	h := NewHeap(nil)
	tup, _ := h.New(&Tuple{Items: []Value{Int(1)}})
	require.Equal(t, "(1,)", mustRepr(t, h, tup))

	d := &Dict{}
	d.Set(mustKey(t, h, h.Intern("a")), h.Intern("a"), tup)
	dv, _ := h.New(d)
	require.Equal(t, "{'a': (1,)}", mustRepr(t, h, dv))

	empty, _ := h.New(&Set{})
	require.Equal(t, "set()", mustRepr(t, h, empty))
	frozen := newSet(t, h, true, Int(1))
	require.Equal(t, "frozenset({1})", mustRepr(t, h, frozen))

	r, _ := h.New(&Range{Start: 0, Stop: 10, Step: 2})
	require.Equal(t, "range(0, 10, 2)", mustRepr(t, h, r))
}

func TestReprCycle(t *testing.T) {
	h := NewHeap(nil)
	v, _ := h.New(&List{})
	id, _ := v.HeapID()
	l := h.Get(id).(*List)
	l.Items = append(l.Items, h.Retain(v))
	require.Equal(t, "[[...]]", mustRepr(t, h, v))
	require.NoError(t, h.Clear(id))
}

func TestReprNamedTupleAndDataclass(t *testing.T) {
	h := NewHeap(nil)
	cls, _ := h.New(&Class{Name: "Point", Flavor: NamedTupleClass, Fields: []string{"x", "y"}})
	p, _ := h.New(&NamedTuple{Class: h.Retain(cls), Items: []Value{Int(1), Int(2)}})
	require.Equal(t, "Point(x=1, y=2)", mustRepr(t, h, p))

	dc, _ := h.New(&Class{Name: "User", Flavor: DataclassClass, Fields: []string{"name"}})
	u, _ := h.New(&Dataclass{Class: h.Retain(dc), Attrs: Attrs{{Name: "name", Value: h.Intern("ann")}}})
	require.Equal(t, "User(name='ann')", mustRepr(t, h, u))
}

func TestExceptionText(t *testing.T) {
	h := NewHeap(nil)
	e, _ := h.New(&ExceptionValue{Type: ValueError, Args: []Value{h.Intern("bad")}})
	require.Equal(t, "ValueError('bad')", mustRepr(t, h, e))
	s, err := h.Display(e, nil)
	require.NoError(t, err)
	require.Equal(t, "bad", s)
}

func TestReprHook(t *testing.T) {
	h := NewHeap(nil)
	cls, _ := h.New(&Class{Name: "C"})
	inst, _ := h.New(&Instance{Class: h.Retain(cls)})
	l, _ := h.New(&List{Items: []Value{inst}})
	hook := func(v Value) (string, bool, error) {
		if _, ok := h.Lookup(v).(*Instance); ok {
			return "C()", true, nil
		}
		return "", false, nil
	}
	s, err := h.Repr(l, hook)
	require.NoError(t, err)
	require.Equal(t, "[C()]", s)
	require.Equal(t, "C", h.TypeName(inst))
}

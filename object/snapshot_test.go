package object

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/burrow/resource"
)

func roundTrip(t *testing.T, h *Heap) *Heap {
	t.Helper()
	state, err := h.State()
	require.NoError(t, err)
	data, err := encMode.Marshal(state)
	require.NoError(t, err)
	var decoded HeapState
	require.NoError(t, cbor.Unmarshal(data, &decoded))
	loaded, err := LoadHeap(&decoded, resource.NoLimit())
	require.NoError(t, err)
	again, err := loaded.State()
	require.NoError(t, err)
	data2, err := encMode.Marshal(again)
	require.NoError(t, err)
	require.Equal(t, data, data2)
	return loaded
}

func TestHeapSnapshotRoundTrip(t *testing.T) {
	h := NewHeap(nil)
	name := h.Intern("k")
	s, _ := h.NewStr("value")
	big, _ := h.NewBigInt(pow2(90))
	d := &Dict{}
	d.Set(mustKey(t, h, name), name, s)
	dv, _ := h.New(d)
	l, _ := h.New(&List{Items: []Value{dv, big, Float(2.5)}})
	gone, _ := h.NewStr("gone")
	h.Release(gone)

	loaded := roundTrip(t, h)
	require.Equal(t, h.LiveCount(), loaded.LiveCount())

	lid, _ := l.HeapID()
	items := loaded.Get(lid).(*List).Items
	require.Len(t, items, 3)
	n, ok := loaded.BigOf(items[1])
	require.True(t, ok)
	require.Equal(t, pow2(90).String(), n.String())
	inner := loaded.Lookup(items[0]).(*Dict)
	got, ok := inner.Get(mustKey(t, loaded, name))
	require.True(t, ok)
	text, _ := loaded.Str(got)
	require.Equal(t, "value", text)

	next, _ := h.NewStr("x")
	loadedNext, _ := loaded.NewStr("x")
	require.Equal(t, next, loadedNext)
	h.Release(next)
	loaded.Release(loadedNext)

	loaded.Release(l)
	require.Equal(t, 0, loaded.LiveCount())
	h.Release(l)
	require.Equal(t, 0, h.LiveCount())
}

func TestLoadHeapRejectsDanglingRefs(t *testing.T) {
	h := NewHeap(nil)
	s, _ := h.NewStr("a")
	_, _ = h.New(&List{Items: []Value{s}})
	state, err := h.State()
	require.NoError(t, err)
	state.Entries[0] = EntryState{Gen: 1}
	state.Free = []HeapID{0}
	_, err = LoadHeap(state, nil)
	require.ErrorContains(t, err, "references dead handle 0")
}

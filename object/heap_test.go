package object

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/burrow/resource"
)

func TestAllocateReleaseBaseline(t *testing.T) {
	h := NewHeap(nil)
	base := h.LiveCount()

	s, err := h.NewStr("hello")
	require.NoError(t, err)
	list, err := h.New(&List{Items: []Value{s, Int(1)}})
	require.NoError(t, err)
	dict := &Dict{}
	k := h.Intern("items")
	key, err := h.HashKey(k)
	require.NoError(t, err)
	dict.Set(key, k, list)
	d, err := h.New(dict)
	require.NoError(t, err)
	require.Equal(t, base+3, h.LiveCount())

	h.Release(d)
	require.Equal(t, base, h.LiveCount())
	id, _ := list.HeapID()
	require.False(t, h.IsLive(id))
}

func TestFreedSlotReuse(t *testing.T) {
	h := NewHeap(nil)
	id, err := h.Allocate(&Str{S: "a"})
	require.NoError(t, err)
	gen := h.Generation(id)
	h.DecRef(id)
	again, err := h.Allocate(&Str{S: "b"})
	require.NoError(t, err)
	require.Equal(t, id, again)
	require.Equal(t, gen+1, h.Generation(again))
}

func TestUseAfterFreePanics(t *testing.T) {
	h := NewHeap(nil)
	id, err := h.Allocate(&Str{S: "a"})
	require.NoError(t, err)
	h.DecRef(id)
	require.Panics(t, func() { h.Get(id) })
	require.Panics(t, func() { h.DecRef(id) })
}

func TestCycleStaysLiveUntilCleared(t *testing.T) {
	h := NewHeap(nil)
	base := h.LiveCount()
	v, err := h.New(&List{})
	require.NoError(t, err)
	id, _ := v.HeapID()
	h.Get(id).(*List).Items = append(h.Get(id).(*List).Items, h.Retain(v))

	h.Release(v)
	require.Equal(t, base+1, h.LiveCount())
	require.True(t, h.IsLive(id))

	require.NoError(t, h.Clear(id))
	require.Equal(t, base, h.LiveCount())
	require.False(t, h.IsLive(id))
}

func TestTwoObjectCycleClear(t *testing.T) {
	h := NewHeap(nil)
	base := h.LiveCount()
	a, err := h.New(&List{})
	require.NoError(t, err)
	b, err := h.New(&List{Items: []Value{h.Retain(a)}})
	require.NoError(t, err)
	aid, _ := a.HeapID()
	h.Get(aid).(*List).Items = []Value{h.Retain(b)}
	h.Release(a)
	h.Release(b)
	require.Equal(t, base+2, h.LiveCount())

	require.NoError(t, h.Clear(aid))
	require.Equal(t, base, h.LiveCount())
}

func TestDeepReleaseIsIterative(t *testing.T) {
	h := NewHeap(nil)
	v, err := h.New(&List{})
	require.NoError(t, err)
	for i := 0; i < 200000; i++ {
		v, err = h.New(&List{Items: []Value{v}})
		require.NoError(t, err)
	}
	h.Release(v)
	require.Equal(t, 0, h.LiveCount())
}

func TestTakeRestore(t *testing.T) {
	h := NewHeap(nil)
	id, err := h.Allocate(&List{})
	require.NoError(t, err)
	data := h.Take(id)
	require.Panics(t, func() { h.Get(id) })
	h.Restore(id, data)
	require.NotNil(t, h.Get(id))

	err = h.With(id, func(d Data) error {
		d.(*List).Items = append(d.(*List).Items, Int(3))
		require.Panics(t, func() { h.Get(id) })
		return errors.New("done")
	})
	require.EqualError(t, err, "done")
	require.Len(t, h.Get(id).(*List).Items, 1)
}

func TestTrackerRefusal(t *testing.T) {
	h := NewHeap(resource.NewLimited(resource.Limits{MaxMemory: 64}))
	_, err := h.Allocate(&Str{S: strings.Repeat("x", 100)})
	var rerr *resource.Error
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, resource.Memory, rerr.Kind)
	require.Equal(t, 0, h.LiveCount())

	id := h.AllocateForced(&ExceptionValue{Type: MemoryError})
	require.True(t, h.IsLive(id))
}

func TestFreeReturnsCharge(t *testing.T) {
	tracker := resource.NewLimited(resource.Limits{MaxMemory: 1000})
	h := NewHeap(tracker)
	v, err := h.NewStr(strings.Repeat("x", 500))
	require.NoError(t, err)
	require.Greater(t, tracker.Usage().Memory, 500)
	h.Release(v)
	require.Equal(t, 0, tracker.Usage().Memory)
}

func TestRecharge(t *testing.T) {
	tracker := resource.NoLimit()
	h := NewHeap(tracker)
	id, err := h.Allocate(&List{})
	require.NoError(t, err)
	before := tracker.Usage().Memory
	l := h.Get(id).(*List)
	l.Items = append(l.Items, make([]Value, 8)...)
	require.NoError(t, h.Recharge(id))
	require.Greater(t, tracker.Usage().Memory, before)
}

func TestRechargeIsNotAnAllocation(t *testing.T) {
	tracker := resource.NoLimit()
	h := NewHeap(tracker)
	id, err := h.Allocate(&List{})
	require.NoError(t, err)
	l := h.Get(id).(*List)
	for i := 0; i < 20; i++ {
		l.Items = append(l.Items, Int(int64(i)))
		require.NoError(t, h.Recharge(id))
	}
	require.Equal(t, 1, tracker.Usage().Allocations)
	require.Equal(t, l.Size(), tracker.Usage().Memory)
}

func TestWeakRefSweep(t *testing.T) {
	h := NewHeap(nil)
	target, err := h.New(&List{})
	require.NoError(t, err)
	tid, _ := target.HeapID()
	wid, err := h.Allocate(h.NewWeakRef(tid, Int(7)))
	require.NoError(t, err)
	w := h.Get(wid).(*WeakRef)

	got := h.Deref(w)
	require.True(t, got.Is(target))
	h.Release(got)
	require.Empty(t, h.Sweep())

	h.Release(target)
	due := h.Sweep()
	require.Len(t, due, 1)
	require.Equal(t, wid, due[0].WeakRef)
	require.Equal(t, Int(7), due[0].Callback)
	require.Empty(t, h.Sweep())
	require.Equal(t, None, h.Deref(w))
}

func TestWeakRefDetectsReuse(t *testing.T) {
	h := NewHeap(nil)
	tid, err := h.Allocate(&Str{S: "old"})
	require.NoError(t, err)
	w := h.NewWeakRef(tid, None)
	h.DecRef(tid)
	reused, err := h.Allocate(&Str{S: "new"})
	require.NoError(t, err)
	require.Equal(t, tid, reused)
	require.Equal(t, None, h.Deref(w))
}

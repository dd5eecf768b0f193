package object

import (
	"fmt"

	"github.com/deepnoodle-ai/burrow/resource"
)

type entry struct {
	refs  uint32
	gen   uint32
	size  int
	data  Data
	taken bool
}

// Heap is the arena of reference-counted objects of one run. Handles are
// indexes into the arena; a freed slot is reused by a later allocation with
// a bumped generation.
//
// The heap is single-threaded. Reading a freed handle or decrementing a
// count below zero is an engine bug and panics.
type Heap struct {
	entries []entry
	free    []HeapID
	live    int
	weak    int
	tracker resource.Tracker
	interns *Interns
	work    []HeapID
}

// NewHeap returns an empty heap charging allocations to tracker.
func NewHeap(tracker resource.Tracker) *Heap {
	if tracker == nil {
		tracker = resource.NoLimit()
	}
	return &Heap{tracker: tracker, interns: NewInterns()}
}

// Tracker returns the resource tracker the heap charges.
func (h *Heap) Tracker() resource.Tracker {
	return h.tracker
}

// SetTracker replaces the tracker, as when a loaded snapshot is started
// under new limits.
func (h *Heap) SetTracker(t resource.Tracker) {
	h.tracker = t
}

// Interns returns the intern table.
func (h *Heap) Interns() *Interns {
	return h.interns
}

// Intern returns an interned string immediate.
func (h *Heap) Intern(s string) Value {
	return InternedStr(h.interns.Intern(s))
}

// Allocate places data on the heap with a refcount of one, owned by the
// caller. It fails with a *resource.Error when the tracker refuses.
func (h *Heap) Allocate(data Data) (HeapID, error) {
	size := data.Size()
	if err := h.tracker.OnAllocate(size); err != nil {
		return 0, err
	}
	return h.insert(data, size), nil
}

// AllocateForced places data on the heap even when the tracker refuses.
// It is used for exception objects, so that a MemoryError can always be
// raised.
func (h *Heap) AllocateForced(data Data) HeapID {
	size := data.Size()
	if err := h.tracker.OnAllocate(size); err != nil {
		size = 0
	}
	return h.insert(data, size)
}

// New allocates data and returns a reference value.
func (h *Heap) New(data Data) (Value, error) {
	id, err := h.Allocate(data)
	if err != nil {
		return None, err
	}
	return Ref(id), nil
}

func (h *Heap) insert(data Data, size int) HeapID {
	if data.Kind() == KindWeakRefData {
		h.weak++
	}
	h.live++
	if n := len(h.free); n > 0 {
		id := h.free[n-1]
		h.free = h.free[:n-1]
		e := &h.entries[id]
		e.refs = 1
		e.gen++
		e.size = size
		e.data = data
		return id
	}
	h.entries = append(h.entries, entry{refs: 1, gen: 1, size: size, data: data})
	return HeapID(len(h.entries) - 1)
}

func (h *Heap) entry(id HeapID) *entry {
	if int(id) >= len(h.entries) {
		panic(fmt.Sprintf("heap: handle %d out of range", id))
	}
	e := &h.entries[id]
	if e.data == nil {
		panic(fmt.Sprintf("heap: use of freed handle %d", id))
	}
	return e
}

// Get returns the data of a live entry.
func (h *Heap) Get(id HeapID) Data {
	e := h.entry(id)
	if e.taken {
		panic(fmt.Sprintf("heap: handle %d is taken", id))
	}
	return e.data
}

// Lookup returns the data behind a reference value, or nil for immediates.
func (h *Heap) Lookup(v Value) Data {
	id, ok := v.HeapID()
	if !ok {
		return nil
	}
	return h.Get(id)
}

// Take removes the data from its entry until Restore is called. The entry
// stays allocated; any Get of it in the meantime panics.
func (h *Heap) Take(id HeapID) Data {
	data := h.Get(id)
	h.entries[id].taken = true
	return data
}

// Restore puts back data removed with Take.
func (h *Heap) Restore(id HeapID, data Data) {
	e := h.entry(id)
	if !e.taken {
		panic(fmt.Sprintf("heap: handle %d restored but not taken", id))
	}
	e.data = data
	e.taken = false
}

// With takes the entry, calls fn with its data, and restores it. fn may use
// the heap freely except for the taken entry itself.
func (h *Heap) With(id HeapID, fn func(Data) error) error {
	data := h.Take(id)
	defer h.Restore(id, data)
	return fn(data)
}

// Generation returns the generation of a slot, live or not.
func (h *Heap) Generation(id HeapID) uint32 {
	if int(id) >= len(h.entries) {
		return 0
	}
	return h.entries[id].gen
}

// IsLive reports whether id refers to a live entry.
func (h *Heap) IsLive(id HeapID) bool {
	return int(id) < len(h.entries) && h.entries[id].data != nil
}

// RefCount returns the refcount of a live entry.
func (h *Heap) RefCount(id HeapID) uint32 {
	return h.entry(id).refs
}

// IncRef adds a reference to a live entry.
func (h *Heap) IncRef(id HeapID) {
	h.entry(id).refs++
}

// Retain adds a reference if v is a heap reference and returns v.
func (h *Heap) Retain(v Value) Value {
	if id, ok := v.HeapID(); ok {
		h.IncRef(id)
	}
	return v
}

// RetainAll retains every value in vs.
func (h *Heap) RetainAll(vs []Value) {
	for _, v := range vs {
		h.Retain(v)
	}
}

// DecRef drops a reference. When the count reaches zero the entry is freed
// and the references it owned are dropped in turn, using an explicit work
// stack so that deep structures cannot exhaust the Go stack.
func (h *Heap) DecRef(id HeapID) {
	work := append(h.work[:0], id)
	for len(work) > 0 {
		id := work[len(work)-1]
		work = work[:len(work)-1]
		e := h.entry(id)
		if e.refs == 0 {
			panic(fmt.Sprintf("heap: refcount underflow on handle %d", id))
		}
		e.refs--
		if e.refs > 0 {
			continue
		}
		if e.taken {
			panic(fmt.Sprintf("heap: taken handle %d released", id))
		}
		data := e.data
		e.data = nil
		h.tracker.OnFree(e.size)
		e.size = 0
		h.free = append(h.free, id)
		h.live--
		if data.Kind() == KindWeakRefData {
			h.weak--
		}
		data.EachRef(func(v Value) {
			if ref, ok := v.HeapID(); ok {
				work = append(work, ref)
			}
		})
	}
	h.work = work[:0]
}

// Release drops the reference held by v, if any.
func (h *Heap) Release(v Value) {
	if id, ok := v.HeapID(); ok {
		h.DecRef(id)
	}
}

// ReleaseAll drops every reference in vs.
func (h *Heap) ReleaseAll(vs []Value) {
	for _, v := range vs {
		h.Release(v)
	}
}

// LiveCount returns the number of live entries.
func (h *Heap) LiveCount() int {
	return h.live
}

// Recharge brings the tracker charge of an entry in line with its current
// size after the entry grew or shrank in place.
func (h *Heap) Recharge(id HeapID) error {
	e := h.entry(id)
	size := e.data.Size()
	delta := size - e.size
	switch {
	case delta > 0:
		if err := h.grow(delta); err != nil {
			return err
		}
	case delta < 0:
		h.tracker.OnFree(-delta)
	}
	e.size = size
	return nil
}

func (h *Heap) grow(delta int) error {
	if g, ok := h.tracker.(resource.Grower); ok {
		return g.OnGrow(delta)
	}
	return h.tracker.OnAllocate(delta)
}

// Clear drops every reference held by a container, leaving it empty. This
// is the way to break a reference cycle before releasing it.
func (h *Heap) Clear(id HeapID) error {
	data := h.Get(id)
	c, ok := data.(clearable)
	if !ok {
		return fmt.Errorf("heap: %d cannot be cleared", id)
	}
	removed := c.clear()
	for _, v := range removed {
		h.Release(v)
	}
	if h.IsLive(id) {
		return h.Recharge(id)
	}
	return nil
}

// Finalizer is a weak reference callback that became due in a sweep. The
// callback is owned by the WeakRef; the caller must retain it before use.
type Finalizer struct {
	WeakRef  HeapID
	Callback Value
}

// Sweep clears weak references whose referent is gone and returns the
// callbacks that became due, in handle order. It does not collect cycles.
func (h *Heap) Sweep() []Finalizer {
	if h.weak == 0 {
		return nil
	}
	var due []Finalizer
	for i := range h.entries {
		w, ok := h.entries[i].data.(*WeakRef)
		if !ok || w.Cleared || h.entries[i].taken {
			continue
		}
		if h.referentAlive(w) {
			continue
		}
		w.Cleared = true
		if !w.Callback.IsNone() {
			due = append(due, Finalizer{WeakRef: HeapID(i), Callback: w.Callback})
		}
	}
	return due
}

func (h *Heap) referentAlive(w *WeakRef) bool {
	return h.IsLive(w.Target) && h.entries[w.Target].gen == w.Gen
}

// Deref returns the referent of a weak reference, retained, or None when
// it has died.
func (h *Heap) Deref(w *WeakRef) Value {
	if w.Cleared || !h.referentAlive(w) {
		return None
	}
	return h.Retain(Ref(w.Target))
}

// NewWeakRef returns weak reference data observing target.
func (h *Heap) NewWeakRef(target HeapID, callback Value) *WeakRef {
	return &WeakRef{Target: target, Gen: h.Generation(target), Callback: callback}
}

// Str returns the text of an interned or heap string.
func (h *Heap) Str(v Value) (string, bool) {
	switch v.kind {
	case KindStr:
		return h.interns.Get(v.AsStrID()), true
	case KindRef:
		if s, ok := h.Get(HeapID(v.bits)).(*Str); ok {
			return s.S, true
		}
	}
	return "", false
}

// NewStr allocates a runtime string.
func (h *Heap) NewStr(s string) (Value, error) {
	return h.New(&Str{S: s})
}

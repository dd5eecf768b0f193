package vm

import (
	"github.com/deepnoodle-ai/burrow/object"
	"github.com/deepnoodle-ai/burrow/resource"
)

// GlobalNamespace is the id of the persistent global namespace.
const GlobalNamespace = 0

const slotBytes = 16

// Namespaces is the stack of variable slots backing every active frame.
// Freed namespaces stay in the stack and are reused, so depth is counted as
// the number of live namespaces rather than the stack length.
type Namespaces struct {
	slots [][]object.Value
	live  []bool
	free  []int
}

// NewNamespaces returns a store holding only an empty global namespace.
func NewNamespaces() *Namespaces {
	return &Namespaces{
		slots: [][]object.Value{nil},
		live:  []bool{true},
	}
}

// Depth returns the number of live call namespaces, globals excluded.
func (n *Namespaces) Depth() int {
	return len(n.slots) - 1 - len(n.free)
}

// New creates a namespace of size unbound slots. The recursion limit is
// checked before any memory is charged.
func (n *Namespaces) New(size int, tracker resource.Tracker) (int, error) {
	if err := tracker.CheckRecursion(n.Depth()); err != nil {
		return 0, err
	}
	if err := tracker.OnAllocate(size * slotBytes); err != nil {
		return 0, err
	}
	slots := make([]object.Value, size)
	for i := range slots {
		slots[i] = object.Unbound
	}
	if k := len(n.free); k > 0 {
		id := n.free[k-1]
		n.free = n.free[:k-1]
		n.slots[id] = slots
		n.live[id] = true
		return id, nil
	}
	n.slots = append(n.slots, slots)
	n.live = append(n.live, true)
	return len(n.slots) - 1, nil
}

// Adopt creates a namespace holding vals, taking ownership of the values
// on success. It is checked and charged like New.
func (n *Namespaces) Adopt(vals []object.Value, tracker resource.Tracker) (int, error) {
	if err := tracker.CheckRecursion(n.Depth()); err != nil {
		return 0, err
	}
	if err := tracker.OnAllocate(len(vals) * slotBytes); err != nil {
		return 0, err
	}
	if k := len(n.free); k > 0 {
		id := n.free[k-1]
		n.free = n.free[:k-1]
		n.slots[id] = vals
		n.live[id] = true
		return id, nil
	}
	n.slots = append(n.slots, vals)
	n.live = append(n.live, true)
	return len(n.slots) - 1, nil
}

// Slots returns the slots of a live namespace. The slice is owned by the
// store; values in it are owned by the namespace.
func (n *Namespaces) Slots(id int) []object.Value {
	return n.slots[id]
}

// Take removes and returns the values of a namespace without releasing
// them, then frees it. It is how a generator saves its locals.
func (n *Namespaces) Take(id int, tracker resource.Tracker) []object.Value {
	vals := n.slots[id]
	n.release(id, tracker)
	return vals
}

// Free releases every value in the namespace and marks it free.
// The global namespace is never freed.
func (n *Namespaces) Free(id int, heap *object.Heap, tracker resource.Tracker) {
	if id == GlobalNamespace || !n.live[id] {
		return
	}
	vals := n.slots[id]
	n.release(id, tracker)
	heap.ReleaseAll(vals)
}

func (n *Namespaces) release(id int, tracker resource.Tracker) {
	tracker.OnFree(len(n.slots[id]) * slotBytes)
	n.slots[id] = nil
	n.live[id] = false
	n.free = append(n.free, id)
}

// GrowGlobal appends k unbound slots to the global namespace and returns
// the index of the first one. Globals never shrink.
func (n *Namespaces) GrowGlobal(k int) int {
	start := len(n.slots[GlobalNamespace])
	for i := 0; i < k; i++ {
		n.slots[GlobalNamespace] = append(n.slots[GlobalNamespace], object.Unbound)
	}
	return start
}

// Len returns the length of the stack, free namespaces included.
func (n *Namespaces) Len() int {
	return len(n.slots)
}

type namespaceState struct {
	Slots [][]object.Value `cbor:"1,keyasint"`
	Free  []int            `cbor:"2,keyasint"`
}

func (n *Namespaces) state() namespaceState {
	slots := make([][]object.Value, len(n.slots))
	for i, s := range n.slots {
		if n.live[i] {
			slots[i] = append([]object.Value{}, s...)
		}
	}
	return namespaceState{Slots: slots, Free: append([]int{}, n.free...)}
}

func namespacesFrom(s namespaceState) *Namespaces {
	n := &Namespaces{
		slots: make([][]object.Value, len(s.Slots)),
		live:  make([]bool, len(s.Slots)),
		free:  append([]int{}, s.Free...),
	}
	for i, slots := range s.Slots {
		n.slots[i] = slots
		n.live[i] = true
	}
	for _, id := range n.free {
		if id > 0 && id < len(n.live) {
			n.live[id] = false
		}
	}
	if len(n.slots) == 0 {
		n.slots = [][]object.Value{nil}
		n.live = []bool{true}
	}
	return n
}

package object

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/deepnoodle-ai/burrow/resource"
)

// EntryState is the serialized form of one heap slot. Free slots keep their
// generation so weak references still detect reuse after a round trip.
type EntryState struct {
	Refs uint32          `cbor:"1,keyasint"`
	Gen  uint32          `cbor:"2,keyasint"`
	Size int             `cbor:"3,keyasint"`
	Kind DataKind        `cbor:"4,keyasint"`
	Data cbor.RawMessage `cbor:"5,keyasint,omitempty"`
}

// HeapState is the serialized form of a heap: every slot in handle order,
// the free list and the intern table.
type HeapState struct {
	Entries []EntryState `cbor:"1,keyasint"`
	Free    []HeapID     `cbor:"2,keyasint"`
	Interns []string     `cbor:"3,keyasint"`
}

// State captures the heap. No entry may be taken.
func (h *Heap) State() (*HeapState, error) {
	s := &HeapState{
		Entries: make([]EntryState, len(h.entries)),
		Free:    append([]HeapID{}, h.free...),
		Interns: h.interns.all(),
	}
	for i, e := range h.entries {
		if e.taken {
			return nil, fmt.Errorf("heap: snapshot while handle %d is taken", i)
		}
		es := EntryState{Refs: e.refs, Gen: e.gen, Size: e.size}
		if e.data != nil {
			data, err := encMode.Marshal(e.data)
			if err != nil {
				return nil, fmt.Errorf("heap: marshal entry %d: %w", i, err)
			}
			es.Kind = e.data.Kind()
			es.Data = data
		}
		s.Entries[i] = es
	}
	return s, nil
}

// LoadHeap rebuilds a heap from its state. The tracker is expected to have
// been restored separately; loading charges nothing.
func LoadHeap(s *HeapState, tracker resource.Tracker) (*Heap, error) {
	h := NewHeap(tracker)
	h.interns = internsFrom(s.Interns)
	h.entries = make([]entry, len(s.Entries))
	for i, es := range s.Entries {
		e := entry{refs: es.Refs, gen: es.Gen, size: es.Size}
		if es.Kind != FreeSlot {
			data := newData(es.Kind)
			if data == nil {
				return nil, fmt.Errorf("heap: entry %d has unknown kind %d", i, es.Kind)
			}
			if err := cbor.Unmarshal(es.Data, data); err != nil {
				return nil, fmt.Errorf("heap: unmarshal entry %d: %w", i, err)
			}
			if es.Refs == 0 {
				return nil, fmt.Errorf("heap: live entry %d has no references", i)
			}
			e.data = data
			h.live++
			if es.Kind == KindWeakRefData {
				h.weak++
			}
		}
		h.entries[i] = e
	}
	for _, id := range s.Free {
		if int(id) >= len(h.entries) || h.entries[id].data != nil {
			return nil, fmt.Errorf("heap: free list names live or missing handle %d", id)
		}
	}
	h.free = append([]HeapID{}, s.Free...)
	if err := h.checkRefs(); err != nil {
		return nil, err
	}
	return h, nil
}

// checkRefs verifies that every reference held by a live entry points at a
// live entry, so a tampered snapshot cannot make the engine read a freed
// handle.
func (h *Heap) checkRefs() error {
	var bad error
	for i, e := range h.entries {
		if e.data == nil {
			continue
		}
		e.data.EachRef(func(v Value) {
			if id, ok := v.HeapID(); ok && bad == nil && !h.IsLive(id) {
				bad = fmt.Errorf("heap: entry %d references dead handle %d", i, id)
			}
		})
		if bad != nil {
			return bad
		}
	}
	return nil
}

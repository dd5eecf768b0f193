package vm

import (
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/deepnoodle-ai/burrow/boundary"
	"github.com/deepnoodle-ai/burrow/bytecode"
	"github.com/deepnoodle-ai/burrow/capability"
	"github.com/deepnoodle-ai/burrow/errz"
	"github.com/deepnoodle-ai/burrow/object"
	"github.com/deepnoodle-ai/burrow/resource"
)

// stateVersion is bumped whenever the snapshot layout changes.
const stateVersion = 1

type postState struct {
	Kind   postKind     `cbor:"1,keyasint"`
	Op     uint16       `cbor:"2,keyasint,omitempty"`
	A      object.Value `cbor:"3,keyasint"`
	B      object.Value `cbor:"4,keyasint"`
	Target int          `cbor:"5,keyasint,omitempty"`
	Invert bool         `cbor:"6,keyasint,omitempty"`
	Result bool         `cbor:"7,keyasint,omitempty"`
}

type frameState struct {
	Fn       int              `cbor:"1,keyasint"`
	Root     int              `cbor:"2,keyasint"`
	NS       int              `cbor:"3,keyasint"`
	IP       int              `cbor:"4,keyasint"`
	OpIP     int              `cbor:"5,keyasint"`
	Stack    []object.Value   `cbor:"6,keyasint"`
	Handlers []object.Handler `cbor:"7,keyasint"`
	Post     postState        `cbor:"8,keyasint"`
	Owner    object.Value     `cbor:"9,keyasint"`
}

type taskState struct {
	ID          uint64       `cbor:"1,keyasint"`
	Frames      []frameState `cbor:"2,keyasint"`
	Gather      object.Value `cbor:"3,keyasint"`
	Slot        int          `cbor:"4,keyasint"`
	WaitCall    uint64       `cbor:"5,keyasint,omitempty"`
	WaitGather  object.Value `cbor:"6,keyasint"`
	HasDelivery bool         `cbor:"7,keyasint,omitempty"`
	Delivery    object.Value `cbor:"8,keyasint"`
	DeliverExc  bool         `cbor:"9,keyasint,omitempty"`
}

type gatherWaitState struct {
	Gather object.Value `cbor:"1,keyasint"`
	Slot   int          `cbor:"2,keyasint"`
}

type futureState struct {
	ID       uint64            `cbor:"1,keyasint"`
	Name     string            `cbor:"2,keyasint"`
	Args     []boundary.Wire   `cbor:"3,keyasint"`
	Kwargs   boundary.Wire     `cbor:"4,keyasint"`
	Resolved bool              `cbor:"5,keyasint,omitempty"`
	Value    object.Value      `cbor:"6,keyasint"`
	Exc      bool              `cbor:"7,keyasint,omitempty"`
	Waiters  []uint64          `cbor:"8,keyasint"`
	Gathers  []gatherWaitState `cbor:"9,keyasint"`
}

type pendingState struct {
	Kind   SuspendKind     `cbor:"1,keyasint"`
	CallID uint64          `cbor:"2,keyasint"`
	Name   string          `cbor:"3,keyasint"`
	Args   []boundary.Wire `cbor:"4,keyasint"`
	Kwargs boundary.Wire   `cbor:"5,keyasint"`
	Method bool            `cbor:"6,keyasint,omitempty"`
}

// vmState is the serialized form of a VM between runs or while it waits on
// the host. Object references inside it are counted by the heap state.
type vmState struct {
	Version     int                `cbor:"1,keyasint"`
	Heap        *object.HeapState  `cbor:"2,keyasint"`
	Tracker     *resource.State    `cbor:"3,keyasint,omitempty"`
	Namespaces  namespaceState     `cbor:"4,keyasint"`
	Roots       [][]byte           `cbor:"5,keyasint"`
	GlobalNames []string           `cbor:"6,keyasint"`
	GlobalSlots []int              `cbor:"7,keyasint"`
	Externals   []string           `cbor:"8,keyasint"`
	Caps        []capability.Grant `cbor:"9,keyasint"`
	Tasks       []taskState        `cbor:"10,keyasint"`
	Ready       []uint64           `cbor:"11,keyasint"`
	HasCurrent  bool               `cbor:"12,keyasint,omitempty"`
	Current     uint64             `cbor:"13,keyasint,omitempty"`
	NextCallID  uint64             `cbor:"14,keyasint"`
	NextTaskID  uint64             `cbor:"15,keyasint"`
	Futures     []futureState      `cbor:"16,keyasint"`
	Pending     *pendingState      `cbor:"17,keyasint,omitempty"`
	Phase       phase              `cbor:"18,keyasint"`
	Result      object.Value       `cbor:"19,keyasint"`
	Filename    string             `cbor:"20,keyasint,omitempty"`
}

var stateEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	stateEncMode = em
}

// MarshalState serializes the VM. It is valid while the VM is idle or
// waiting for the host; the encoding is canonical, so equal states produce
// equal bytes.
func (vm *VM) MarshalState() ([]byte, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	switch vm.phase {
	case phaseIdle, phaseCall, phaseFutures:
	default:
		return nil, fmt.Errorf("%w: cannot snapshot a run that is executing or finished", errz.ErrWrongResume)
	}
	hs, err := vm.heap.State()
	if err != nil {
		return nil, err
	}
	s := &vmState{
		Version:     stateVersion,
		Heap:        hs,
		Namespaces:  vm.ns.state(),
		GlobalNames: append([]string{}, vm.globalNames...),
		Externals:   append([]string{}, vm.externals...),
		Caps:        vm.caps.Grants(),
		Ready:       []uint64{},
		NextCallID:  vm.nextCallID,
		NextTaskID:  vm.nextTaskID,
		Phase:       vm.phase,
		Result:      vm.result,
		Filename:    vm.filename,
	}
	if st, ok := vm.tracker.(resource.Stateful); ok {
		ts := st.State()
		s.Tracker = &ts
	}
	for _, name := range vm.globalNames {
		s.GlobalSlots = append(s.GlobalSlots, vm.globalSlots[name])
	}
	for _, code := range vm.roots {
		data, err := bytecode.Marshal(code)
		if err != nil {
			return nil, err
		}
		s.Roots = append(s.Roots, data)
	}
	for _, id := range vm.taskIDs() {
		s.Tasks = append(s.Tasks, taskToState(vm.tasks[id]))
	}
	for _, t := range vm.ready {
		s.Ready = append(s.Ready, t.id)
	}
	if vm.current != nil {
		s.HasCurrent, s.Current = true, vm.current.id
	}
	ids := make([]uint64, 0, len(vm.futures))
	for id := range vm.futures {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		s.Futures = append(s.Futures, futureToState(vm.futures[id]))
	}
	if p := vm.pending; p != nil {
		s.Pending = &pendingState{
			Kind:   p.kind,
			CallID: p.callID,
			Name:   p.name,
			Args:   boundary.ToWires(p.args),
			Kwargs: boundary.ToWire(p.kwargs),
			Method: p.method,
		}
	}
	return stateEncMode.Marshal(s)
}

func taskToState(t *task) taskState {
	ts := taskState{
		ID:          t.id,
		Gather:      t.gather,
		Slot:        t.slot,
		WaitCall:    t.waitCall,
		WaitGather:  t.waitGather,
		HasDelivery: t.hasDelivery,
		Delivery:    t.delivery,
		DeliverExc:  t.deliverExc,
	}
	for _, f := range t.frames {
		ts.Frames = append(ts.Frames, frameState{
			Fn:       f.fn,
			Root:     f.root,
			NS:       f.ns,
			IP:       f.ip,
			OpIP:     f.opIP,
			Stack:    append([]object.Value{}, f.stack...),
			Handlers: append([]object.Handler{}, f.handlers...),
			Post: postState{
				Kind:   f.post.kind,
				Op:     f.post.op,
				A:      f.post.a,
				B:      f.post.b,
				Target: f.post.target,
				Invert: f.post.invert,
				Result: f.post.result,
			},
			Owner: f.owner,
		})
	}
	return ts
}

func futureToState(f *future) futureState {
	fs := futureState{
		ID:       f.id,
		Name:     f.name,
		Args:     boundary.ToWires(f.args),
		Kwargs:   boundary.ToWire(f.kwargs),
		Resolved: f.resolved,
		Value:    f.value,
		Exc:      f.exc,
		Waiters:  append([]uint64{}, f.waiters...),
	}
	for _, gw := range f.gathers {
		fs.Gathers = append(fs.Gathers, gatherWaitState{Gather: gw.gather, Slot: gw.slot})
	}
	return fs
}

// LoadState rebuilds a VM from MarshalState output. Options supply what a
// snapshot cannot carry: the output sink, logger, observer, sync functions
// and the tracker that receives the saved counters. The saved capability
// set is authoritative.
func LoadState(data []byte, options ...Option) (*VM, error) {
	var s vmState
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, errz.Corruptf("decode state: %v", err)
	}
	if s.Version != stateVersion {
		return nil, errz.Corruptf("unsupported state version %d", s.Version)
	}
	if s.Heap == nil {
		return nil, errz.Corruptf("state has no heap")
	}
	vm := newVM()
	for _, opt := range options {
		opt(vm)
	}
	declared := vm.externals
	vm.externals = nil
	if s.Tracker != nil {
		if st, ok := vm.tracker.(resource.Stateful); ok {
			st.Restore(*s.Tracker)
		}
	}
	heap, err := object.LoadHeap(s.Heap, vm.tracker)
	if err != nil {
		return nil, errz.Corruptf("%v", err)
	}
	vm.heap = heap
	vm.ns = namespacesFrom(s.Namespaces)
	vm.caps = capability.New(s.Caps...)
	if len(s.GlobalSlots) != len(s.GlobalNames) {
		return nil, errz.Corruptf("state has %d global names for %d slots", len(s.GlobalNames), len(s.GlobalSlots))
	}
	globals := len(vm.ns.Slots(GlobalNamespace))
	for i, name := range s.GlobalNames {
		if s.GlobalSlots[i] < 0 || s.GlobalSlots[i] >= globals {
			return nil, errz.Corruptf("global %q has slot %d out of range", name, s.GlobalSlots[i])
		}
		vm.globalSlots[name] = s.GlobalSlots[i]
		vm.globalNames = append(vm.globalNames, name)
	}
	for _, name := range s.Externals {
		vm.extIndex[name] = len(vm.externals)
		vm.externals = append(vm.externals, name)
	}
	for i, raw := range s.Roots {
		code, err := bytecode.Unmarshal(raw)
		if err != nil {
			return nil, errz.Corruptf("root %d: %v", i, err)
		}
		if _, err := vm.loadRoot(code); err != nil {
			return nil, errz.Corruptf("root %d: %v", i, err)
		}
	}
	if err := vm.restoreScheduler(&s); err != nil {
		return nil, err
	}
	if err := vm.checkValues(); err != nil {
		return nil, err
	}
	vm.nextCallID = s.NextCallID
	vm.nextTaskID = s.NextTaskID
	vm.phase = s.Phase
	vm.result = s.Result
	if vm.filename == "" {
		vm.filename = s.Filename
	}
	vm.finishOptions(declared)
	vm.logger.Debug().Int("tasks", len(vm.tasks)).Int("futures", len(vm.futures)).Msg("state loaded")
	return vm, nil
}

func (vm *VM) restoreScheduler(s *vmState) error {
	switch s.Phase {
	case phaseIdle, phaseCall, phaseFutures:
	default:
		return errz.Corruptf("state has invalid phase %d", s.Phase)
	}
	if (s.Phase == phaseCall) != (s.Pending != nil) {
		return errz.Corruptf("state pending call does not match its phase")
	}
	for _, ts := range s.Tasks {
		if _, dup := vm.tasks[ts.ID]; dup {
			return errz.Corruptf("state has duplicate task %d", ts.ID)
		}
		t, err := vm.taskFromState(ts)
		if err != nil {
			return err
		}
		vm.tasks[t.id] = t
	}
	for _, id := range s.Ready {
		t, ok := vm.tasks[id]
		if !ok {
			return errz.Corruptf("ready queue names unknown task %d", id)
		}
		vm.ready = append(vm.ready, t)
	}
	if s.HasCurrent {
		t, ok := vm.tasks[s.Current]
		if !ok {
			return errz.Corruptf("current task %d is unknown", s.Current)
		}
		vm.current = t
	}
	if s.Phase == phaseCall && vm.current == nil {
		return errz.Corruptf("state waits on the host without a current task")
	}
	for _, fs := range s.Futures {
		args, err := boundary.FromWires(fs.Args)
		if err != nil {
			return err
		}
		kwargs, err := wireDict(fs.Kwargs)
		if err != nil {
			return err
		}
		f := &future{
			id:       fs.ID,
			name:     fs.Name,
			args:     args,
			kwargs:   kwargs,
			resolved: fs.Resolved,
			value:    fs.Value,
			exc:      fs.Exc,
			waiters:  fs.Waiters,
		}
		for _, gw := range fs.Gathers {
			f.gathers = append(f.gathers, gatherWait{gather: gw.Gather, slot: gw.Slot})
		}
		vm.futures[f.id] = f
	}
	if p := s.Pending; p != nil {
		args, err := boundary.FromWires(p.Args)
		if err != nil {
			return err
		}
		kwargs, err := wireDict(p.Kwargs)
		if err != nil {
			return err
		}
		vm.pending = &pendingCall{
			kind:   p.Kind,
			callID: p.CallID,
			name:   p.Name,
			args:   args,
			kwargs: kwargs,
			method: p.Method,
		}
	}
	return nil
}

func wireDict(w boundary.Wire) (boundary.Dict, error) {
	v, err := w.Value()
	if err != nil {
		return nil, err
	}
	switch d := v.(type) {
	case boundary.Dict:
		return d, nil
	case boundary.None:
		return nil, nil
	}
	return nil, errz.Corruptf("keyword arguments decoded as %s", v.Kind())
}

func (vm *VM) taskFromState(ts taskState) (*task, error) {
	t := &task{
		id:          ts.ID,
		gather:      ts.Gather,
		slot:        ts.Slot,
		waitCall:    ts.WaitCall,
		waitGather:  ts.WaitGather,
		hasDelivery: ts.HasDelivery,
		delivery:    ts.Delivery,
		deliverExc:  ts.DeliverExc,
	}
	for i, fs := range ts.Frames {
		var code *loadedCode
		switch {
		case fs.Fn >= 0 && fs.Fn < len(vm.funcCode):
			code = vm.funcCode[fs.Fn]
		case fs.Fn == -1 && fs.Root >= 0 && fs.Root < len(vm.rootCode):
			code = vm.rootCode[fs.Root]
		default:
			return nil, errz.Corruptf("task %d frame %d names unknown code", ts.ID, i)
		}
		if fs.IP < 0 || fs.IP > len(code.instructions) {
			return nil, errz.Corruptf("task %d frame %d has ip %d out of range", ts.ID, i, fs.IP)
		}
		if fs.NS < 0 || fs.NS >= vm.ns.Len() {
			return nil, errz.Corruptf("task %d frame %d has namespace %d out of range", ts.ID, i, fs.NS)
		}
		t.frames = append(t.frames, &frame{
			fn:       fs.Fn,
			root:     fs.Root,
			code:     code,
			ns:       fs.NS,
			ip:       fs.IP,
			opIP:     fs.OpIP,
			stack:    fs.Stack,
			handlers: fs.Handlers,
			post: post{
				kind:   fs.Post.Kind,
				op:     fs.Post.Op,
				a:      fs.Post.A,
				b:      fs.Post.B,
				target: fs.Post.Target,
				invert: fs.Post.Invert,
				result: fs.Post.Result,
			},
			owner: fs.Owner,
		})
	}
	return t, nil
}

// checkValues verifies that every reference held outside the heap names a
// live entry, so a tampered snapshot cannot reach a freed handle.
func (vm *VM) checkValues() error {
	var bad error
	check := func(where string, v object.Value) {
		if id, ok := v.HeapID(); ok && bad == nil && !vm.heap.IsLive(id) {
			bad = errz.Corruptf("%s references dead handle %d", where, id)
		}
	}
	for i := 0; i < vm.ns.Len(); i++ {
		for _, v := range vm.ns.Slots(i) {
			check("namespace", v)
		}
	}
	for _, t := range vm.tasks {
		check("task", t.gather)
		check("task", t.waitGather)
		check("task", t.delivery)
		for _, f := range t.frames {
			for _, v := range f.stack {
				check("frame", v)
			}
			check("frame", f.post.a)
			check("frame", f.post.b)
			check("frame", f.owner)
		}
	}
	for _, f := range vm.futures {
		check("future", f.value)
		for _, gw := range f.gathers {
			check("future", gw.gather)
		}
	}
	check("result", vm.result)
	return bad
}

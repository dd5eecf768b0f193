// Package vm executes compiled burrow bytecode. A VM owns one heap and one
// namespace store and runs until the program completes or needs the host,
// at which point it returns a Suspension describing the request. The host
// answers with one of the Resume methods.
package vm

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/deepnoodle-ai/burrow/boundary"
	"github.com/deepnoodle-ai/burrow/bytecode"
	"github.com/deepnoodle-ai/burrow/capability"
	"github.com/deepnoodle-ai/burrow/errz"
	"github.com/deepnoodle-ai/burrow/object"
	"github.com/deepnoodle-ai/burrow/resource"
)

const (
	// MaxNestedCalls bounds native code calling back into the program, as
	// sorted() does with a key function.
	MaxNestedCalls = 200

	mainTask uint64 = 0
)

// ErrHalted is returned when an observer stops execution.
var ErrHalted = errors.New("vm: execution halted by observer")

// ErrBusy is returned when a run is started while another is in progress.
var ErrBusy = errors.New("vm: a run is already in progress")

type phase uint8

const (
	phaseIdle phase = iota
	phaseRunning
	phaseCall    // waiting for the host to answer a function or OS call
	phaseFutures // waiting for the host to resolve external futures
	phaseDead
)

// SuspendKind is the reason a run returned to the host.
type SuspendKind uint8

const (
	SuspendComplete SuspendKind = iota + 1
	SuspendFunctionCall
	SuspendOsCall
	SuspendFutures
)

func (k SuspendKind) String() string {
	switch k {
	case SuspendComplete:
		return "complete"
	case SuspendFunctionCall:
		return "function_call"
	case SuspendOsCall:
		return "os_call"
	case SuspendFutures:
		return "resolve_futures"
	default:
		return "unknown"
	}
}

// Suspension is what a run hands back to the host.
type Suspension struct {
	Kind SuspendKind

	// Value is the program result when Kind is SuspendComplete.
	Value boundary.Value

	// Name, Args, Kwargs and CallID describe a function or OS call.
	Name       string
	Args       []boundary.Value
	Kwargs     boundary.Dict
	CallID     uint64
	MethodCall bool

	// Calls lists the external futures awaiting resolution, in call id
	// order, when Kind is SuspendFutures.
	Calls []PendingCall
}

// PendingCall describes one unresolved external future.
type PendingCall struct {
	CallID uint64
	Name   string
	Args   []boundary.Value
	Kwargs boundary.Dict
}

// FutureResult resolves one external future. Exc, when set, is raised in
// the program instead of returning Value.
type FutureResult struct {
	CallID uint64
	Value  boundary.Value
	Exc    *boundary.Exception
}

type pendingCall struct {
	kind   SuspendKind
	callID uint64
	name   string
	args   []boundary.Value
	kwargs boundary.Dict
	method bool
}

// VM is a single run of a program. It is not safe for concurrent use; the
// mutex only catches misuse.
type VM struct {
	mu sync.Mutex

	heap    *object.Heap
	tracker resource.Tracker
	ns      *Namespaces

	roots    []*bytecode.Code
	rootCode []*loadedCode
	funcs    []*bytecode.Function
	funcCode []*loadedCode

	globalSlots map[string]int
	globalNames []string

	externals []string
	extIndex  map[string]int
	syncFuncs map[string]SyncFunction
	caps      capability.Set

	filename string
	out      io.Writer
	logger   zerolog.Logger
	observer Observer
	obs      observerState

	tasks      map[uint64]*task
	ready      []*task
	current    *task
	nextCallID uint64
	nextTaskID uint64
	futures    map[uint64]*future
	pending    *pendingCall

	phase  phase
	nested int
	result object.Value
}

// New creates a VM with an empty heap and global namespace.
func New(options ...Option) *VM {
	vm := newVM()
	for _, opt := range options {
		opt(vm)
	}
	declared := vm.externals
	vm.externals = nil
	vm.heap = object.NewHeap(vm.tracker)
	vm.finishOptions(declared)
	return vm
}

func newVM() *VM {
	return &VM{
		tracker:     resource.NoLimit(),
		ns:          NewNamespaces(),
		globalSlots: map[string]int{},
		extIndex:    map[string]int{},
		syncFuncs:   map[string]SyncFunction{},
		caps:        capability.None(),
		out:         io.Discard,
		logger:      zerolog.Nop(),
		tasks:       map[uint64]*task{},
		futures:     map[uint64]*future{},
		nextCallID:  1,
		nextTaskID:  1,
	}
}

// finishOptions binds the external functions named by options. Names
// already bound keep their index.
func (vm *VM) finishOptions(names []string) {
	for _, name := range names {
		vm.declareExternal(name)
	}
	syncNames := make([]string, 0, len(vm.syncFuncs))
	for name := range vm.syncFuncs {
		syncNames = append(syncNames, name)
	}
	sort.Strings(syncNames)
	for _, name := range syncNames {
		vm.declareExternal(name)
	}
	if vm.observer != nil {
		vm.obs = observerState{cfg: NormalizeConfig(vm.observer.Config())}
	}
}

// declareExternal binds name as a global external function.
func (vm *VM) declareExternal(name string) {
	if _, ok := vm.extIndex[name]; ok {
		return
	}
	id := len(vm.externals)
	vm.extIndex[name] = id
	vm.externals = append(vm.externals, name)
	slot := vm.globalSlot(name)
	globals := vm.ns.Slots(GlobalNamespace)
	vm.heap.Release(globals[slot])
	globals[slot] = object.ExtFunc(uint32(id))
}

// Heap returns the heap of the run.
func (vm *VM) Heap() *object.Heap {
	return vm.heap
}

// Tracker returns the resource tracker of the run.
func (vm *VM) Tracker() resource.Tracker {
	return vm.tracker
}

// Capabilities returns the capability set consulted by the run.
func (vm *VM) Capabilities() capability.Set {
	return vm.caps
}

// NextCallID returns the call id the next host-mediated call will get.
func (vm *VM) NextCallID() uint64 {
	return vm.nextCallID
}

// Namespaces returns the namespace store of the run.
func (vm *VM) Namespaces() *Namespaces {
	return vm.ns
}

// SetGlobal converts v into the run and binds it to a global name.
func (vm *VM) SetGlobal(name string, v boundary.Value) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.phase != phaseIdle {
		return ErrBusy
	}
	val, err := vm.fromBoundary(v)
	if err != nil {
		return err
	}
	slot := vm.globalSlot(name)
	globals := vm.ns.Slots(GlobalNamespace)
	vm.heap.Release(globals[slot])
	globals[slot] = val
	return nil
}

// Global returns the boundary form of a global variable.
func (vm *VM) Global(name string) (boundary.Value, bool, error) {
	slot, ok := vm.globalSlots[name]
	if !ok {
		return nil, false, nil
	}
	v := vm.ns.Slots(GlobalNamespace)[slot]
	if v == object.Unbound {
		return nil, false, nil
	}
	bv, err := vm.toBoundary(v)
	return bv, err == nil, err
}

// GlobalNames returns the names of every global slot in creation order.
func (vm *VM) GlobalNames() []string {
	return append([]string(nil), vm.globalNames...)
}

// Begin loads code as a new top-level block and runs it in the global
// namespace until it completes or suspends. A VM runs one block at a time;
// a REPL session calls Begin once per input.
func (vm *VM) Begin(code *bytecode.Code) (s *Suspension, err error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.phase != phaseIdle {
		return nil, ErrBusy
	}
	root, err := vm.loadRoot(code)
	if err != nil {
		return nil, err
	}
	lc := vm.rootCode[root]
	nsID, err := vm.ns.New(lc.localCount, vm.tracker)
	if err != nil {
		exc := vm.newException(nil, object.MemoryError, err.Error())
		se := vm.structuredError(exc)
		vm.heap.Release(exc)
		return nil, se
	}
	t := &task{id: mainTask}
	t.frames = append(t.frames, &frame{
		fn:   -1,
		root: root,
		code: lc,
		ns:   nsID,
		post: post{result: true},
	})
	vm.tasks[mainTask] = t
	vm.current = t
	vm.phase = phaseRunning
	vm.logger.Debug().Str("code", code.Name()).Int("root", root).Msg("run started")
	return vm.run()
}

// run drives the scheduler, converting engine panics into internal errors
// and poisoning the run when it fails for a reason other than a program
// exception.
func (vm *VM) run() (s *Suspension, err error) {
	defer func() {
		if r := recover(); r != nil {
			vm.phase = phaseDead
			s = nil
			err = errz.Internalf("panic: %v", r)
			vm.logger.Error().Err(err).Msg("run failed")
		}
	}()
	s, err = vm.schedule()
	if err != nil {
		var se *errz.StructuredError
		if errors.As(err, &se) {
			vm.phase = phaseIdle
		} else {
			vm.phase = phaseDead
		}
		return nil, err
	}
	switch s.Kind {
	case SuspendComplete:
		vm.phase = phaseIdle
	case SuspendFutures:
		vm.phase = phaseFutures
	default:
		vm.phase = phaseCall
	}
	vm.logger.Debug().Stringer("kind", s.Kind).Uint64("call_id", s.CallID).Msg("run suspended")
	return s, nil
}

// schedule runs ready tasks until the main task finishes or nothing can
// make progress without the host.
func (vm *VM) schedule() (*Suspension, error) {
	for {
		if vm.current == nil {
			if len(vm.ready) == 0 {
				calls := vm.pendingFutures()
				if len(calls) == 0 {
					return nil, errz.Internalf("no task can make progress")
				}
				return &Suspension{Kind: SuspendFutures, Calls: calls}, nil
			}
			vm.current = vm.ready[0]
			vm.ready = vm.ready[1:]
		}
		t := vm.current
		v, status, err := vm.eval(t, 0)
		if err != nil {
			r, ok := err.(*raised)
			if !ok {
				return nil, err
			}
			vm.current = nil
			if t.id == mainTask {
				return nil, vm.terminate(t, r.exc)
			}
			vm.taskFailed(t, r.exc)
			continue
		}
		switch status {
		case statusSuspended:
			p := vm.pending
			return &Suspension{
				Kind:       p.kind,
				Name:       p.name,
				Args:       p.args,
				Kwargs:     p.kwargs,
				CallID:     p.callID,
				MethodCall: p.method,
			}, nil
		case statusBlocked:
			vm.current = nil
		case statusReturned:
			vm.current = nil
			if t.id == mainTask {
				return vm.completeRun(t, v)
			}
			vm.taskDone(t, v)
		}
	}
}

// completeRun finishes the run with the main task's result.
func (vm *VM) completeRun(t *task, v object.Value) (*Suspension, error) {
	delete(vm.tasks, t.id)
	vm.collect(t)
	bv, err := vm.toBoundary(v)
	vm.heap.Release(v)
	if err != nil {
		return nil, err
	}
	vm.logger.Debug().Int("live", vm.heap.LiveCount()).Msg("run complete")
	return &Suspension{Kind: SuspendComplete, Value: bv}, nil
}

// terminate finishes the run with an uncaught exception.
func (vm *VM) terminate(t *task, exc object.Value) error {
	delete(vm.tasks, t.id)
	err := vm.structuredError(exc)
	vm.heap.Release(exc)
	vm.collect(t)
	vm.logger.Debug().Err(err).Msg("run raised")
	return err
}

// ResumeReturn answers a function or OS call with a value.
func (vm *VM) ResumeReturn(v boundary.Value) (*Suspension, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.phase != phaseCall {
		return nil, errz.ErrWrongResume
	}
	if v == nil {
		v = boundary.None{}
	}
	if boundary.OutputOnly(v) {
		return nil, fmt.Errorf("%w: %s values cannot be passed into a run", errz.ErrWrongResume, v.Kind())
	}
	val, exc, err := vm.importResult(v)
	if err != nil {
		return nil, err
	}
	vm.deliver(vm.current, val, exc)
	return vm.resumed()
}

// ResumeRaise answers a function or OS call by raising exc in the program.
func (vm *VM) ResumeRaise(exc boundary.Exception) (*Suspension, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.phase != phaseCall {
		return nil, errz.ErrWrongResume
	}
	vm.deliver(vm.current, vm.hostException(exc), true)
	return vm.resumed()
}

// ResumeFuture answers a function call with a promise to resolve it later.
// The call evaluates to an external future the program can await.
func (vm *VM) ResumeFuture() (*Suspension, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.phase != phaseCall || vm.pending.kind != SuspendFunctionCall {
		return nil, errz.ErrWrongResume
	}
	p := vm.pending
	id := vm.heap.AllocateForced(&object.ExternalFuture{CallID: p.callID})
	vm.futures[p.callID] = &future{id: p.callID, name: p.name, args: p.args, kwargs: p.kwargs}
	vm.deliver(vm.current, object.Ref(id), false)
	return vm.resumed()
}

func (vm *VM) resumed() (*Suspension, error) {
	vm.logger.Debug().Uint64("call_id", vm.pending.callID).Msg("run resumed")
	vm.pending = nil
	vm.phase = phaseRunning
	return vm.run()
}

func (vm *VM) deliver(t *task, v object.Value, exc bool) {
	t.hasDelivery = true
	t.delivery = v
	t.deliverExc = exc
}

// Close releases every value the run still holds, globals included.
func (vm *VM) Close() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	for _, id := range vm.taskIDs() {
		vm.cancelTask(vm.tasks[id])
	}
	vm.ready = nil
	vm.current = nil
	for _, f := range vm.futures {
		vm.releaseFuture(f)
	}
	vm.futures = map[uint64]*future{}
	globals := vm.ns.Slots(GlobalNamespace)
	for i, v := range globals {
		vm.heap.Release(v)
		globals[i] = object.Unbound
	}
	vm.phase = phaseDead
}

// Waiting reports what the run is waiting on the host for, or zero when it
// is not suspended.
func (vm *VM) Waiting() SuspendKind {
	switch vm.phase {
	case phaseCall:
		return vm.pending.kind
	case phaseFutures:
		return SuspendFutures
	default:
		return 0
	}
}

// Suspension rebuilds the request the run is suspended on. It is how a
// loaded snapshot recovers the request it was saved at.
func (vm *VM) Suspension() (*Suspension, bool) {
	switch vm.phase {
	case phaseCall:
		p := vm.pending
		return &Suspension{
			Kind:       p.kind,
			Name:       p.name,
			Args:       p.args,
			Kwargs:     p.kwargs,
			CallID:     p.callID,
			MethodCall: p.method,
		}, true
	case phaseFutures:
		return &Suspension{Kind: SuspendFutures, Calls: vm.pendingFutures()}, true
	default:
		return nil, false
	}
}

// Restrict narrows the capability set of the run. It can only remove
// grants.
func (vm *VM) Restrict(grants ...capability.Grant) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.caps = vm.caps.Restrict(grants...)
}

// Done reports whether the run can accept no further input.
func (vm *VM) Done() bool {
	return vm.phase == phaseDead
}

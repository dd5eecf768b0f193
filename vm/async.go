package vm

import (
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/deepnoodle-ai/burrow/boundary"
	"github.com/deepnoodle-ai/burrow/errz"
	"github.com/deepnoodle-ai/burrow/object"
)

// future is the run's record of an external call the host promised to
// resolve later. The resolved value is owned by the record and handed out
// retained to every awaiter.
type future struct {
	id       uint64
	name     string
	args     []boundary.Value
	kwargs   boundary.Dict
	resolved bool
	value    object.Value
	exc      bool
	waiters  []uint64
	gathers  []gatherWait
}

// gatherWait registers a gather slot filled by a future. The gather
// reference is owned.
type gatherWait struct {
	gather object.Value
	slot   int
}

func (vm *VM) releaseFuture(f *future) {
	vm.heap.Release(f.value)
	f.value = object.None
	for _, gw := range f.gathers {
		vm.heap.Release(gw.gather)
	}
	f.gathers = nil
}

// await implements the AWAIT instruction. It consumes v.
func (vm *VM) await(t *task, v object.Value) error {
	switch d := vm.heap.Lookup(v).(type) {
	case *object.Coroutine:
		if d.State != object.CoroNew {
			vm.heap.Release(v)
			return object.Errorf(object.RuntimeError, "cannot reuse already awaited coroutine")
		}
		return vm.startCoroutine(t, v, d, post{})
	case *object.ExternalFuture:
		f := vm.futures[d.CallID]
		vm.heap.Release(v)
		if f == nil {
			return errz.Internalf("future %d is not tracked", d.CallID)
		}
		if f.resolved {
			return vm.futureOutcome(t, f)
		}
		f.waiters = append(f.waiters, t.id)
		t.waitCall = f.id
		return errBlock
	case *object.Gather:
		return vm.awaitGather(t, v, d)
	}
	err := object.Errorf(object.TypeError, "object %s can't be used in 'await' expression", vm.heap.TypeName(v))
	vm.heap.Release(v)
	return err
}

// startCoroutine moves a new coroutine to running and pushes its frame on
// t. The coroutine reference v is consumed by the frame.
func (vm *VM) startCoroutine(t *task, v object.Value, d *object.Coroutine, p post) error {
	d.State = object.CoroRunning
	locals := d.Locals
	d.Locals = nil
	if id, ok := v.HeapID(); ok {
		if err := vm.heap.Recharge(id); err != nil {
			d.State = object.CoroCompleted
			vm.heap.ReleaseAll(locals)
			vm.heap.Release(v)
			return err
		}
	}
	err := vm.pushFrame(t, d.Func, locals, p, v)
	if err != nil && err != ErrHalted {
		d.State = object.CoroCompleted
	}
	return err
}

func (vm *VM) futureOutcome(t *task, f *future) error {
	v := vm.heap.Retain(f.value)
	if f.exc {
		vm.fillTrace(t, v)
		return &raised{exc: v}
	}
	t.top().push(v)
	return nil
}

// awaitGather spawns one task per coroutine item and registers every
// external item, then blocks t until all slots are filled or one fails.
func (vm *VM) awaitGather(t *task, v object.Value, g *object.Gather) error {
	if g.Awaited {
		vm.heap.Release(v)
		return object.Errorf(object.RuntimeError, "cannot reuse already awaited gather")
	}
	for _, item := range g.Items {
		switch d := vm.heap.Lookup(item).(type) {
		case *object.Coroutine:
			if d.State != object.CoroNew {
				vm.heap.Release(v)
				return object.Errorf(object.RuntimeError, "cannot reuse already awaited coroutine")
			}
		case *object.ExternalFuture:
			if vm.futures[d.CallID] == nil {
				vm.heap.Release(v)
				return errz.Internalf("future %d is not tracked", d.CallID)
			}
		default:
			vm.heap.Release(v)
			return object.Errorf(object.TypeError, "An asyncio.Future, a coroutine or an awaitable is required")
		}
	}
	g.Awaited = true
	g.Waiter = t.id
	g.Slots = make([]object.GatherSlot, len(g.Items))
	g.Pending = len(g.Items)
	t.waitGather = v
	for i, item := range g.Items {
		if g.Done {
			break
		}
		switch d := vm.heap.Lookup(item).(type) {
		case *object.Coroutine:
			child := vm.spawn(v, i)
			g.Slots[i].Task = child.id
			err := vm.startCoroutine(child, vm.heap.Retain(item), d, post{result: true})
			if err != nil {
				exc, fatal := vm.exception(child, err)
				if fatal != nil {
					return fatal
				}
				vm.taskFailed(child, exc)
			}
		case *object.ExternalFuture:
			f := vm.futures[d.CallID]
			g.Slots[i].Call = f.id
			switch {
			case !f.resolved:
				f.gathers = append(f.gathers, gatherWait{gather: vm.heap.Retain(v), slot: i})
			case f.exc:
				vm.failGather(v, vm.heap.Retain(f.value))
			default:
				vm.fillSlot(v, i, vm.heap.Retain(f.value))
			}
		}
	}
	if g.Pending == 0 && !g.Done {
		vm.completeGather(g)
	}
	return errBlock
}

// spawn creates a ready task that fills slot of the gather gv.
func (vm *VM) spawn(gv object.Value, slot int) *task {
	t := &task{id: vm.nextTaskID, gather: vm.heap.Retain(gv), slot: slot}
	vm.nextTaskID++
	vm.tasks[t.id] = t
	vm.ready = append(vm.ready, t)
	vm.logger.Debug().Uint64("task_id", t.id).Int("slot", slot).Msg("task spawned")
	return t
}

// taskDone records the result of a finished spawned task.
func (vm *VM) taskDone(t *task, v object.Value) {
	delete(vm.tasks, t.id)
	vm.logger.Debug().Uint64("task_id", t.id).Msg("task complete")
	gv := t.gather
	t.gather = object.None
	if gv.IsNone() {
		vm.heap.Release(v)
		return
	}
	vm.fillSlot(gv, t.slot, v)
	vm.heap.Release(gv)
}

// taskFailed propagates the uncaught exception of a spawned task.
func (vm *VM) taskFailed(t *task, exc object.Value) {
	delete(vm.tasks, t.id)
	vm.unwindTo(t, 0)
	vm.logger.Debug().Uint64("task_id", t.id).Msg("task failed")
	gv := t.gather
	t.gather = object.None
	if gv.IsNone() {
		vm.heap.Release(exc)
		return
	}
	vm.failGather(gv, exc)
	vm.heap.Release(gv)
}

// fillSlot stores v, which it consumes, as the result of one gather slot.
// A slot is written at most once; later results are dropped.
func (vm *VM) fillSlot(gv object.Value, slot int, v object.Value) {
	g, ok := vm.heap.Lookup(gv).(*object.Gather)
	if !ok || g.Done || slot >= len(g.Slots) || g.Slots[slot].Filled {
		vm.heap.Release(v)
		return
	}
	g.Slots[slot].Filled = true
	g.Slots[slot].Result = v
	g.Pending--
	if g.Pending == 0 {
		vm.completeGather(g)
	}
}

// completeGather hands the results, in item order, to the waiter.
func (vm *VM) completeGather(g *object.Gather) {
	g.Done = true
	results := make([]object.Value, len(g.Slots))
	for i := range g.Slots {
		results[i] = g.Slots[i].Result
		g.Slots[i].Result = object.None
	}
	list, err := vm.heap.New(&object.List{Items: results})
	if err != nil {
		vm.heap.ReleaseAll(results)
		vm.wake(g.Waiter, vm.newException(nil, object.MemoryError, err.Error()), true)
		return
	}
	vm.wake(g.Waiter, list, false)
}

// failGather cancels the remaining items of a gather and raises exc,
// which it consumes, in the waiter.
func (vm *VM) failGather(gv object.Value, exc object.Value) {
	g, ok := vm.heap.Lookup(gv).(*object.Gather)
	if !ok || g.Done {
		vm.heap.Release(exc)
		return
	}
	vm.abandonGather(gv, g)
	vm.wake(g.Waiter, exc, true)
}

// abandonGather marks a gather done, cancels its unfinished tasks and
// drops its filled results and future registrations.
func (vm *VM) abandonGather(gv object.Value, g *object.Gather) {
	g.Done = true
	for i := range g.Slots {
		s := &g.Slots[i]
		if s.Task != 0 && !s.Filled {
			if child := vm.tasks[s.Task]; child != nil {
				vm.cancelTask(child)
			}
		}
		if s.Call != 0 {
			if f := vm.futures[s.Call]; f != nil {
				vm.unregister(f, gv)
			}
		}
		vm.heap.Release(s.Result)
		s.Result = object.None
	}
}

func (vm *VM) unregister(f *future, gv object.Value) {
	kept := f.gathers[:0]
	for _, gw := range f.gathers {
		if gw.gather.Is(gv) {
			vm.heap.Release(gw.gather)
			continue
		}
		kept = append(kept, gw)
	}
	f.gathers = kept
}

// wake delivers v to a blocked task and makes it ready. v is consumed.
func (vm *VM) wake(id uint64, v object.Value, exc bool) {
	t := vm.tasks[id]
	if t == nil {
		vm.heap.Release(v)
		return
	}
	vm.heap.Release(t.waitGather)
	t.waitGather = object.None
	t.waitCall = 0
	vm.deliver(t, v, exc)
	vm.ready = append(vm.ready, t)
}

// cancelTask discards a task: its frames are dropped, its namespaces freed
// and anything it waited on forgotten. Nothing runs in the task's body.
func (vm *VM) cancelTask(t *task) {
	delete(vm.tasks, t.id)
	for i, r := range vm.ready {
		if r == t {
			vm.ready = append(vm.ready[:i], vm.ready[i+1:]...)
			break
		}
	}
	if vm.current == t {
		vm.current = nil
	}
	vm.unwindTo(t, 0)
	if g, ok := vm.heap.Lookup(t.waitGather).(*object.Gather); ok && !g.Done {
		vm.abandonGather(t.waitGather, g)
	}
	vm.heap.Release(t.waitGather)
	t.waitGather = object.None
	if f := vm.futures[t.waitCall]; f != nil {
		kept := f.waiters[:0]
		for _, id := range f.waiters {
			if id != t.id {
				kept = append(kept, id)
			}
		}
		f.waiters = kept
	}
	t.waitCall = 0
	vm.heap.Release(t.gather)
	t.gather = object.None
	if t.hasDelivery {
		vm.heap.Release(t.delivery)
		t.hasDelivery = false
		t.delivery = object.None
	}
	vm.logger.Debug().Uint64("task_id", t.id).Msg("task cancelled")
}

func (vm *VM) taskIDs() []uint64 {
	ids := make([]uint64, 0, len(vm.tasks))
	for id := range vm.tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// pendingFutures lists the unresolved futures something is waiting on, in
// call id order.
func (vm *VM) pendingFutures() []PendingCall {
	var calls []PendingCall
	for _, f := range vm.futures {
		if f.resolved || (len(f.waiters) == 0 && len(f.gathers) == 0) {
			continue
		}
		calls = append(calls, PendingCall{CallID: f.id, Name: f.name, Args: f.args, Kwargs: f.kwargs})
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].CallID < calls[j].CallID })
	return calls
}

// ResolveFutures applies a batch of future results and continues the run.
// Unknown call ids fail the whole batch, reported together, with nothing
// applied; an id already resolved is ignored so the first value wins.
func (vm *VM) ResolveFutures(results []FutureResult) (*Suspension, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.phase != phaseFutures {
		return nil, errz.ErrWrongResume
	}
	var merr *multierror.Error
	for _, r := range results {
		if _, ok := vm.futures[r.CallID]; !ok {
			merr = multierror.Append(merr, &errz.UnknownCallID{ID: r.CallID})
			continue
		}
		if r.Exc == nil && r.Value != nil && boundary.OutputOnly(r.Value) {
			merr = multierror.Append(merr, badInput("call %d: %s values cannot be passed into a run", r.CallID, r.Value.Kind()))
		}
	}
	if err := merr.ErrorOrNil(); err != nil {
		return nil, err
	}

	type resolution struct {
		f   *future
		v   object.Value
		exc bool
	}
	var batch []resolution
	seen := map[uint64]bool{}
	for _, r := range results {
		f := vm.futures[r.CallID]
		if f.resolved || seen[r.CallID] {
			continue
		}
		seen[r.CallID] = true
		if r.Exc != nil {
			batch = append(batch, resolution{f: f, v: vm.hostException(*r.Exc), exc: true})
			continue
		}
		v, exc, err := vm.importResult(r.Value)
		if err != nil {
			for _, res := range batch {
				vm.heap.Release(res.v)
			}
			return nil, err
		}
		batch = append(batch, resolution{f: f, v: v, exc: exc})
	}
	for _, res := range batch {
		vm.resolve(res.f, res.v, res.exc)
	}
	vm.logger.Debug().Int("results", len(results)).Int("applied", len(batch)).Msg("futures resolved")
	vm.phase = phaseRunning
	return vm.run()
}

// resolve settles a future with v, which it consumes, and wakes whatever
// waits on it.
func (vm *VM) resolve(f *future, v object.Value, exc bool) {
	f.resolved = true
	f.value = v
	f.exc = exc
	waiters := f.waiters
	gathers := f.gathers
	f.waiters = nil
	f.gathers = nil
	for _, id := range waiters {
		if t := vm.tasks[id]; t != nil && t.waitCall == f.id {
			vm.wake(id, vm.heap.Retain(v), exc)
		}
	}
	for _, gw := range gathers {
		if exc {
			vm.failGather(gw.gather, vm.heap.Retain(v))
		} else {
			vm.fillSlot(gw.gather, gw.slot, vm.heap.Retain(v))
		}
		vm.heap.Release(gw.gather)
	}
}

// collect clears up after a top-level block: leftover tasks are cancelled
// and due weak reference callbacks run.
func (vm *VM) collect(t *task) {
	vm.unwindTo(t, 0)
	if t.hasDelivery {
		vm.heap.Release(t.delivery)
		t.hasDelivery = false
		t.delivery = object.None
	}
	for _, id := range vm.taskIDs() {
		if other := vm.tasks[id]; other != nil && other != t {
			vm.cancelTask(other)
		}
	}
	vm.ready = nil
	vm.current = nil
	vm.sweep(t)
}

// sweep clears dead weak references and calls their callbacks with the
// weak reference. It returns the number of callbacks run.
func (vm *VM) sweep(t *task) int {
	due := vm.heap.Sweep()
	for _, fin := range due {
		cb := vm.heap.Retain(fin.Callback)
		ref := vm.heap.Retain(object.Ref(fin.WeakRef))
		r, err := vm.callSync(t, cb, []object.Value{ref}, nil)
		vm.heap.Release(cb)
		if err != nil {
			if rx, ok := err.(*raised); ok {
				vm.heap.Release(rx.exc)
			}
			vm.logger.Warn().Err(err).Msg("weakref callback failed")
			continue
		}
		vm.heap.Release(r)
	}
	return len(due)
}

package vm

import (
	"errors"
	"math"
	"strings"

	"github.com/deepnoodle-ai/burrow/errz"
	"github.com/deepnoodle-ai/burrow/object"
	"github.com/deepnoodle-ai/burrow/op"
)

type runStatus uint8

const (
	statusReturned  runStatus = iota // the floor frame returned; the value is the result
	statusBlocked                    // the task waits on a future or another task
	statusSuspended                  // the run needs the host
)

// Control signals. They travel as errors through the call machinery but
// never reach the host.
var (
	errReturn  = errors.New("vm: floor frame returned")
	errBlock   = errors.New("vm: task blocked")
	errSuspend = errors.New("vm: run suspended")
)

// raised carries a program exception, already on the heap, out of eval.
// The exception reference is owned by whoever holds the raised value.
type raised struct {
	exc object.Value
}

func (r *raised) Error() string {
	return "vm: program exception"
}

// eval runs the frames of t above floor until the frame at floor returns,
// the task blocks, or the run suspends. A program exception that unwinds
// past floor is returned as *raised.
func (vm *VM) eval(t *task, floor int) (object.Value, runStatus, error) {
	if t.hasDelivery {
		t.hasDelivery = false
		v, isExc := t.delivery, t.deliverExc
		t.delivery = object.None
		if isExc {
			vm.fillTrace(t, v)
			if err := vm.throw(t, floor, v); err != nil {
				return object.None, statusReturned, err
			}
		} else {
			t.top().push(v)
		}
	}
	for {
		err := vm.step(t)
		if err == nil {
			continue
		}
		switch err {
		case errReturn:
			v := vm.result
			vm.result = object.None
			return v, statusReturned, nil
		case errBlock:
			return object.None, statusBlocked, nil
		case errSuspend:
			return object.None, statusSuspended, nil
		}
		exc, fatal := vm.exception(t, err)
		if fatal != nil {
			return object.None, statusReturned, fatal
		}
		if err := vm.throw(t, floor, exc); err != nil {
			return object.None, statusReturned, err
		}
	}
}

// throw unwinds to the nearest handler above floor, or returns the
// exception as *raised when there is none.
func (vm *VM) throw(t *task, floor int, exc object.Value) error {
	if vm.unwind(t, floor, exc) {
		return nil
	}
	return &raised{exc: exc}
}

// unwind pops frames above floor until one has an active handler, then
// transfers control to it with exc on the stack. It never pops the frame
// at floor-1 or below.
func (vm *VM) unwind(t *task, floor int, exc object.Value) bool {
	for len(t.frames) > floor {
		f := t.top()
		if n := len(f.handlers); n > 0 {
			h := f.handlers[n-1]
			f.handlers = f.handlers[:n-1]
			for len(f.stack) > h.Depth {
				vm.heap.Release(f.pop())
			}
			f.push(exc)
			f.ip = h.Target
			return true
		}
		vm.dropFrame(t)
	}
	return false
}

// dropFrame discards the top frame of t without running its post action.
func (vm *VM) dropFrame(t *task) {
	n := len(t.frames) - 1
	f := t.frames[n]
	t.frames[n] = nil
	t.frames = t.frames[:n]
	vm.heap.ReleaseAll(f.stack)
	f.stack = nil
	vm.ns.Free(f.ns, vm.heap, vm.tracker)
	vm.dropPost(f.post)
	vm.settleOwner(f.owner, false)
	vm.heap.Release(f.owner)
}

func (vm *VM) dropPost(p post) {
	vm.heap.Release(p.a)
	vm.heap.Release(p.b)
}

// settleOwner records that the frame running a generator or coroutine has
// finished with it.
func (vm *VM) settleOwner(owner object.Value, yielded bool) {
	switch d := vm.heap.Lookup(owner).(type) {
	case *object.Generator:
		if !yielded {
			d.State = object.GenDone
		}
	case *object.Coroutine:
		d.State = object.CoroCompleted
	}
}

// pushFrame starts a call of function fn with a fully bound namespace. On
// failure nothing is pushed, locals and owner are released and p is left
// to the caller.
func (vm *VM) pushFrame(t *task, fn int, locals []object.Value, p post, owner object.Value) error {
	id, err := vm.ns.Adopt(locals, vm.tracker)
	if err != nil {
		vm.heap.ReleaseAll(locals)
		vm.heap.Release(owner)
		return err
	}
	f := &frame{fn: fn, code: vm.funcCode[fn], ns: id, post: p, owner: owner}
	t.frames = append(t.frames, f)
	if vm.observer != nil && vm.obs.cfg.ObserveCalls {
		ev := CallEvent{
			FunctionName: vm.funcs[fn].Name(),
			ArgCount:     vm.funcs[fn].ParameterCount(),
			Location:     f.code.location(0),
			FrameDepth:   len(t.frames),
			TaskID:       t.id,
		}
		if !vm.observer.OnCall(ev) {
			return ErrHalted
		}
	}
	return nil
}

// leave pops the returning top frame and applies its post action to v.
func (vm *VM) leave(t *task, v object.Value, yielded bool) error {
	n := len(t.frames) - 1
	f := t.frames[n]
	t.frames[n] = nil
	t.frames = t.frames[:n]
	if !yielded {
		vm.heap.ReleaseAll(f.stack)
		vm.ns.Free(f.ns, vm.heap, vm.tracker)
	}
	vm.settleOwner(f.owner, yielded)
	vm.heap.Release(f.owner)
	if vm.observer != nil && vm.obs.cfg.ObserveReturns && f.fn >= 0 {
		ev := ReturnEvent{
			FunctionName: vm.funcs[f.fn].Name(),
			Location:     f.code.location(f.opIP),
			FrameDepth:   len(t.frames),
			TaskID:       t.id,
		}
		if !vm.observer.OnReturn(ev) {
			vm.heap.Release(v)
			vm.dropPost(f.post)
			return ErrHalted
		}
	}
	p := f.post
	switch p.kind {
	case postGenNext:
		if !yielded {
			vm.heap.Release(v)
			return object.Errorf(object.StopIteration, "")
		}
		p.kind = postNone
	case postGenForIter:
		if !yielded {
			vm.heap.Release(v)
			caller := t.top()
			vm.heap.Release(caller.pop())
			caller.ip = p.target
			return nil
		}
		p.kind = postNone
	}
	return vm.finish(t, p, v)
}

// finish applies a post action to a call result and hands the outcome on.
// It consumes v and the operands of p.
func (vm *VM) finish(t *task, p post, v object.Value) error {
	switch p.kind {
	case postNone:
	case postDiscard:
		vm.heap.Release(v)
		if p.result {
			vm.result = object.None
			return errReturn
		}
		return nil
	case postInit:
		if !v.IsNone() {
			vm.heap.Release(v)
			vm.dropPost(p)
			return object.Errorf(object.TypeError, "__init__() should return None")
		}
		v = p.a
	case postBinaryLeft:
		if v == object.NotImplemented {
			p.kind = postNone
			return vm.binaryReflected(t, op.BinaryOpType(p.op), p.a, p.b, p)
		}
		vm.dropPost(p)
	case postBinaryRight:
		if v == object.NotImplemented {
			err := vm.unsupported(op.BinaryOpType(p.op), p.b, p.a)
			vm.dropPost(p)
			return err
		}
		vm.dropPost(p)
	case postCompareLeft:
		if v == object.NotImplemented {
			p.kind = postNone
			p.invert = false
			return vm.compareReflected(t, op.CompareOpType(p.op), p.a, p.b, p)
		}
		vm.dropPost(p)
		if p.invert {
			v = vm.negateTruth(v)
		}
	case postCompareRight:
		if v == object.NotImplemented {
			// operands were stored swapped: a is the right operand
			r, err := vm.compareFallback(op.CompareOpType(p.op), p.b, p.a)
			vm.dropPost(p)
			if err != nil {
				return err
			}
			v = r
		} else {
			vm.dropPost(p)
			if p.invert {
				v = vm.negateTruth(v)
			}
		}
	case postNegate:
		v = vm.negateTruth(v)
	case postTruth:
		b := vm.heap.Truthy(v)
		vm.heap.Release(v)
		v = object.Bool(b != p.invert)
	}
	return vm.handOff(t, p, v)
}

func (vm *VM) negateTruth(v object.Value) object.Value {
	b := vm.heap.Truthy(v)
	vm.heap.Release(v)
	return object.Bool(!b)
}

// handOff delivers a finished result: to the native caller waiting on it,
// or onto the stack of the frame now on top.
func (vm *VM) handOff(t *task, p post, v object.Value) error {
	if p.result {
		vm.result = v
		return errReturn
	}
	t.top().push(v)
	return nil
}

func (vm *VM) observeStep(t *task, f *frame, code op.Code) error {
	loc := f.code.location(f.opIP)
	if !vm.obs.shouldStep(loc) {
		return nil
	}
	ev := StepEvent{
		IP:         f.opIP,
		Opcode:     code,
		OpcodeName: op.GetInfo(code).Name,
		Location:   loc,
		StackDepth: len(f.stack),
		FrameDepth: len(t.frames),
		TaskID:     t.id,
	}
	if !vm.observer.OnStep(ev) {
		return ErrHalted
	}
	return nil
}

// step executes one instruction of the top frame of t.
func (vm *VM) step(t *task) error {
	f := t.top()
	f.opIP = f.ip
	code := op.Code(f.fetch())
	if vm.observer != nil {
		if err := vm.observeStep(t, f, code); err != nil {
			return err
		}
	}
	switch code {
	case op.Nop:

	case op.Halt:
		v := object.None
		if len(f.stack) > 0 {
			v = f.pop()
		}
		return vm.leave(t, v, false)

	case op.ReturnValue:
		return vm.leave(t, f.pop(), false)

	case op.Call:
		argc := f.fetch()
		args := f.popN(argc)
		callee := f.pop()
		err := vm.callWith(t, callee, args, nil, post{})
		vm.heap.Release(callee)
		return err

	case op.CallKw:
		argc := f.fetch()
		names, ok := f.code.raw[f.fetch()].([]string)
		if !ok || len(names) > argc {
			return errz.Internalf("CALL_KW without keyword names")
		}
		all := f.popN(argc)
		callee := f.pop()
		npos := argc - len(names)
		kw := make([]kwArg, len(names))
		for i, name := range names {
			kw[i] = kwArg{name: name, value: all[npos+i]}
		}
		err := vm.callWith(t, callee, all[:npos:npos], kw, post{})
		vm.heap.Release(callee)
		return err

	case op.CallMethod:
		name := f.code.names[f.fetch()]
		args := f.popN(f.fetch())
		obj := f.pop()
		return vm.callMethod(t, obj, name, args, nil, post{})

	case op.JumpForward:
		f.ip = f.opIP + f.fetch()

	case op.JumpBackward:
		f.ip = f.opIP - f.fetch()

	case op.PopJumpForwardIfFalse, op.PopJumpForwardIfTrue:
		delta := f.fetch()
		v := f.pop()
		truth := vm.heap.Truthy(v)
		vm.heap.Release(v)
		if truth == (code == op.PopJumpForwardIfTrue) {
			f.ip = f.opIP + delta
		}

	case op.LoadConst:
		return vm.loadConst(f, f.fetch())

	case op.LoadFast:
		slot := f.fetch()
		v := vm.ns.Slots(f.ns)[slot]
		if v == object.Unbound {
			return object.Errorf(object.UnboundLocalError,
				"cannot access local variable '%s' where it is not associated with a value", f.code.code.LocalNameAt(slot))
		}
		f.push(vm.heap.Retain(v))

	case op.LoadCell:
		slot := f.fetch()
		cell, err := vm.cellAt(f, slot)
		if err != nil {
			return err
		}
		if cell.Value == object.Unbound {
			return object.Errorf(object.NameError,
				"cannot access free variable '%s' where it is not associated with a value", f.code.code.LocalNameAt(slot))
		}
		f.push(vm.heap.Retain(cell.Value))

	case op.LoadClosure:
		slot := f.fetch()
		if _, err := vm.cellAt(f, slot); err != nil {
			return err
		}
		f.push(vm.heap.Retain(vm.ns.Slots(f.ns)[slot]))

	case op.LoadGlobal:
		idx := f.fetch()
		v := vm.ns.Slots(GlobalNamespace)[f.code.globals[idx]]
		if v == object.Unbound {
			name := f.code.code.GlobalNameAt(idx)
			b, ok := lookupBuiltin(name)
			if !ok {
				return object.Errorf(object.NameError, "name '%s' is not defined", name)
			}
			v = b
		}
		f.push(vm.heap.Retain(v))

	case op.LoadAttr:
		name := f.code.names[f.fetch()]
		obj := f.pop()
		v, err := vm.getAttr(t, obj, name)
		vm.heap.Release(obj)
		if err != nil {
			return err
		}
		f.push(v)

	case op.StoreFast:
		slot := f.fetch()
		slots := vm.ns.Slots(f.ns)
		old := slots[slot]
		slots[slot] = f.pop()
		vm.heap.Release(old)

	case op.StoreCell:
		cell, err := vm.cellAt(f, f.fetch())
		if err != nil {
			return err
		}
		old := cell.Value
		cell.Value = f.pop()
		vm.heap.Release(old)

	case op.StoreGlobal:
		globals := vm.ns.Slots(GlobalNamespace)
		slot := f.code.globals[f.fetch()]
		old := globals[slot]
		globals[slot] = f.pop()
		vm.heap.Release(old)

	case op.DeleteFast:
		slot := f.fetch()
		slots := vm.ns.Slots(f.ns)
		old := slots[slot]
		if old == object.Unbound {
			return object.Errorf(object.UnboundLocalError,
				"cannot access local variable '%s' where it is not associated with a value", f.code.code.LocalNameAt(slot))
		}
		slots[slot] = object.Unbound
		vm.heap.Release(old)

	case op.StoreAttr:
		name := f.code.names[f.fetch()]
		obj := f.pop()
		v := f.pop()
		err := vm.setAttr(obj, name, v)
		vm.heap.Release(obj)
		return err

	case op.BinaryOp:
		opType := op.BinaryOpType(f.fetch())
		b := f.pop()
		a := f.pop()
		if a.Kind() == object.KindInt && b.Kind() == object.KindInt {
			if v, ok := fastInt(opType, a.AsInt(), b.AsInt()); ok {
				f.push(v)
				return nil
			}
		}
		return vm.binaryOp(t, opType, a, b, post{})

	case op.CompareOp:
		opType := op.CompareOpType(f.fetch())
		b := f.pop()
		a := f.pop()
		if a.Kind() == object.KindInt && b.Kind() == object.KindInt {
			f.push(object.Bool(fastCompare(opType, a.AsInt(), b.AsInt())))
			return nil
		}
		return vm.compareOp(t, opType, a, b, post{})

	case op.UnaryNegative:
		return vm.negative(t, f.pop())

	case op.UnaryNot:
		f.push(vm.negateTruth(f.pop()))

	case op.UnaryInvert:
		return vm.invert(t, f.pop())

	case op.IsOp:
		invert := f.fetch() == 1
		b := f.pop()
		a := f.pop()
		same := a.Is(b)
		vm.heap.Release(a)
		vm.heap.Release(b)
		f.push(object.Bool(same != invert))

	case op.BuildList:
		items := f.popN(f.fetch())
		v, err := vm.heap.New(&object.List{Items: items})
		if err != nil {
			vm.heap.ReleaseAll(items)
			return err
		}
		f.push(v)

	case op.BuildTuple:
		items := f.popN(f.fetch())
		v, err := vm.heap.New(&object.Tuple{Items: items})
		if err != nil {
			vm.heap.ReleaseAll(items)
			return err
		}
		f.push(v)

	case op.BuildSet:
		v, err := vm.newSet(f.popN(f.fetch()), false)
		if err != nil {
			return err
		}
		f.push(v)

	case op.BuildDict:
		v, err := vm.newDict(f.popN(2 * f.fetch()))
		if err != nil {
			return err
		}
		f.push(v)

	case op.BuildString:
		parts := f.popN(f.fetch())
		var b strings.Builder
		for i, part := range parts {
			s, err := vm.str(t, part)
			if err != nil {
				vm.heap.ReleaseAll(parts[i:])
				return err
			}
			vm.heap.Release(part)
			b.WriteString(s)
		}
		v, err := vm.heap.NewStr(b.String())
		if err != nil {
			return err
		}
		f.push(v)

	case op.ListAppend:
		v := f.pop()
		target := f.top()
		id, _ := target.HeapID()
		lst, ok := vm.heap.Lookup(target).(*object.List)
		if !ok {
			vm.heap.Release(v)
			return errz.Internalf("LIST_APPEND target is %s", vm.heap.TypeName(target))
		}
		lst.Items = append(lst.Items, v)
		return vm.heap.Recharge(id)

	case op.BinarySubscr:
		key := f.pop()
		obj := f.pop()
		return vm.getItem(t, obj, key, post{})

	case op.StoreSubscr:
		key := f.pop()
		obj := f.pop()
		v := f.pop()
		return vm.setItem(t, obj, key, v)

	case op.ContainsOp:
		invert := f.fetch() == 1
		container := f.pop()
		item := f.pop()
		return vm.contains(t, item, container, invert)

	case op.Unpack:
		n := f.fetch()
		seq := f.pop()
		items, err := vm.unpack(t, seq, n)
		vm.heap.Release(seq)
		if err != nil {
			return err
		}
		for i := len(items) - 1; i >= 0; i-- {
			f.push(items[i])
		}

	case op.Swap:
		n := f.fetch()
		i, j := len(f.stack)-1, len(f.stack)-n
		f.stack[i], f.stack[j] = f.stack[j], f.stack[i]

	case op.Copy:
		n := f.fetch()
		f.push(vm.heap.Retain(f.stack[len(f.stack)-n]))

	case op.PopTop:
		vm.heap.Release(f.pop())

	case op.Nil:
		f.push(object.None)

	case op.True:
		f.push(object.True)

	case op.False:
		f.push(object.False)

	case op.GetIter:
		v := f.pop()
		it, err := vm.getIter(t, v)
		vm.heap.Release(v)
		if err != nil {
			return err
		}
		f.push(it)

	case op.ForIter:
		target := f.opIP + f.fetch()
		it := f.top()
		if _, ok := vm.heap.Lookup(it).(*object.Generator); ok {
			return vm.resumeGen(t, it, object.None, post{kind: postGenForIter, target: target})
		}
		v, ok, err := vm.next(t, it)
		if err != nil {
			return err
		}
		if !ok {
			vm.heap.Release(f.pop())
			f.ip = target
			return nil
		}
		f.push(v)

	case op.MakeFunction:
		constIdx := f.fetch()
		ndefaults := f.fetch()
		fnIdx, ok := f.code.funcs[constIdx]
		if !ok {
			return errz.Internalf("MAKE_FUNCTION constant %d is not a function", constIdx)
		}
		cells := f.popN(vm.funcs[fnIdx].FreeCount())
		defaults := f.popN(ndefaults)
		v, err := vm.heap.New(&object.Closure{Func: fnIdx, Cells: cells, Defaults: defaults})
		if err != nil {
			vm.heap.ReleaseAll(cells)
			vm.heap.ReleaseAll(defaults)
			return err
		}
		f.push(v)

	case op.MakeClass:
		nbases := f.fetch()
		attrs := f.pop()
		bases := f.popN(nbases)
		name := f.pop()
		v, err := vm.makeClass(name, bases, attrs)
		if err != nil {
			return err
		}
		f.push(v)

	case op.PushExcept:
		target := f.opIP + f.fetch()
		f.handlers = append(f.handlers, object.Handler{Target: target, Depth: len(f.stack)})

	case op.PopExcept:
		if n := len(f.handlers); n > 0 {
			f.handlers = f.handlers[:n-1]
		}

	case op.Raise:
		return vm.raise(t, f.pop())

	case op.Reraise:
		v := f.pop()
		if _, ok := vm.heap.Lookup(v).(*object.ExceptionValue); !ok {
			vm.heap.Release(v)
			return object.Errorf(object.RuntimeError, "no active exception to reraise")
		}
		return &raised{exc: v}

	case op.ExcMatch:
		typ := f.pop()
		match, err := vm.excMatches(f.top(), typ)
		vm.heap.Release(typ)
		if err != nil {
			return err
		}
		f.push(object.Bool(match))

	case op.Await:
		return vm.await(t, f.pop())

	case op.YieldValue:
		return vm.yield(t, f.pop())

	case op.Import:
		m, err := vm.importModule(f.code.names[f.fetch()])
		if err != nil {
			return err
		}
		f.push(m)

	default:
		return errz.Internalf("unknown opcode %d at %d", code, f.opIP)
	}
	return nil
}

func (vm *VM) loadConst(f *frame, idx int) error {
	switch raw := f.code.raw[idx].(type) {
	case nil:
		f.push(f.code.constants[idx])
	case []byte:
		v, err := vm.heap.New(&object.Bytes{B: append([]byte(nil), raw...)})
		if err != nil {
			return err
		}
		f.push(v)
	case []string:
		items := make([]object.Value, len(raw))
		for i, s := range raw {
			items[i] = vm.heap.Intern(s)
		}
		v, err := vm.heap.New(&object.Tuple{Items: items})
		if err != nil {
			return err
		}
		f.push(v)
	default:
		return errz.Internalf("constant %d cannot be loaded directly", idx)
	}
	return nil
}

func (vm *VM) cellAt(f *frame, slot int) (*object.Cell, error) {
	cell, ok := vm.heap.Lookup(vm.ns.Slots(f.ns)[slot]).(*object.Cell)
	if !ok {
		return nil, errz.Internalf("slot %d holds no cell", slot)
	}
	return cell, nil
}

// yield saves the generator frame on top of t and hands v to whoever
// resumed it.
func (vm *VM) yield(t *task, v object.Value) error {
	f := t.top()
	gen, ok := vm.heap.Lookup(f.owner).(*object.Generator)
	if !ok {
		vm.heap.Release(v)
		return object.Errorf(object.RuntimeError, "yield outside of a generator")
	}
	// Charge the saved state before the frame gives it up. A refusal
	// raises inside the generator.
	gen.Locals = vm.ns.Slots(f.ns)
	gen.Stack = f.stack
	if id, ok := f.owner.HeapID(); ok {
		if err := vm.heap.Recharge(id); err != nil {
			gen.Locals, gen.Stack = nil, nil
			vm.heap.Release(v)
			return err
		}
	}
	gen.Locals = vm.ns.Take(f.ns, vm.tracker)
	gen.IP = f.ip
	gen.Handlers = f.handlers
	gen.State = object.GenSuspended
	f.stack = nil
	f.handlers = nil
	return vm.leave(t, v, true)
}

// fastInt is the immediate tier for int64 operands. ok is false when the
// result needs the general path, including on overflow.
func fastInt(opType op.BinaryOpType, a, b int64) (object.Value, bool) {
	switch opType {
	case op.Add:
		s := a + b
		if (a^s)&(b^s) < 0 {
			return object.None, false
		}
		return object.Int(s), true
	case op.Subtract:
		s := a - b
		if (a^b)&(a^s) < 0 {
			return object.None, false
		}
		return object.Int(s), true
	case op.Multiply:
		if a == 0 || b == 0 {
			return object.Int(0), true
		}
		if a == math.MinInt64 || b == math.MinInt64 {
			return object.None, false
		}
		p := a * b
		if p/b != a {
			return object.None, false
		}
		return object.Int(p), true
	case op.BitwiseAnd:
		return object.Int(a & b), true
	case op.BitwiseOr:
		return object.Int(a | b), true
	case op.BitwiseXor:
		return object.Int(a ^ b), true
	}
	return object.None, false
}

func fastCompare(opType op.CompareOpType, a, b int64) bool {
	switch opType {
	case op.LessThan:
		return a < b
	case op.LessThanOrEqual:
		return a <= b
	case op.Equal:
		return a == b
	case op.NotEqual:
		return a != b
	case op.GreaterThan:
		return a > b
	case op.GreaterThanOrEqual:
		return a >= b
	}
	return false
}

package vm

import (
	"errors"
	"unicode/utf8"

	"github.com/deepnoodle-ai/burrow/object"
)

// getIter returns an owned iterator over v, which is borrowed. Generators
// and iterators are their own iterators.
func (vm *VM) getIter(t *task, v object.Value) (object.Value, error) {
	if v.Kind() == object.KindStr {
		return vm.heap.New(&object.Iterator{Mode: object.IterChars, Source: v})
	}
	var mode object.IterMode
	switch vm.heap.Lookup(v).(type) {
	case *object.Iterator, *object.Generator:
		return vm.heap.Retain(v), nil
	case *object.Str:
		mode = object.IterChars
	case *object.List, *object.Tuple, *object.NamedTuple, *object.Bytes:
		mode = object.IterSeq
	case *object.Dict:
		mode = object.IterDictKeys
	case *object.Set:
		mode = object.IterSet
	case *object.Range:
		mode = object.IterRange
	case *object.Instance:
		if _, ok := vm.dunder(v, "__iter__"); ok {
			r, _, err := vm.callSyncMethod(t, v, "__iter__")
			if err != nil {
				return object.None, err
			}
			defer vm.heap.Release(r)
			if _, ok := vm.heap.Lookup(r).(*object.Instance); ok {
				return object.None, object.Errorf(object.TypeError, "iter() returned non-iterator of type '%s'", vm.heap.TypeName(r))
			}
			return vm.getIter(t, r)
		}
		return object.None, object.Errorf(object.TypeError, "'%s' object is not iterable", vm.heap.TypeName(v))
	default:
		return object.None, object.Errorf(object.TypeError, "'%s' object is not iterable", vm.heap.TypeName(v))
	}
	return vm.newIterator(mode, v, nil)
}

// newIterator allocates an iterator over source, which it retains.
func (vm *VM) newIterator(mode object.IterMode, source object.Value, sources []object.Value) (object.Value, error) {
	it, err := vm.heap.New(&object.Iterator{Mode: mode, Source: source, Sources: sources})
	if err != nil {
		vm.heap.ReleaseAll(sources)
		return object.None, err
	}
	vm.heap.Retain(source)
	return it, nil
}

// next advances the iterator it, which is borrowed. ok is false once the
// iterator is exhausted. Generators are resumed synchronously.
func (vm *VM) next(t *task, it object.Value) (object.Value, bool, error) {
	switch d := vm.heap.Lookup(it).(type) {
	case *object.Generator:
		return vm.resumeGenSync(t, it, object.None)
	case *object.Iterator:
		if d.Done {
			return object.None, false, nil
		}
		v, ok, err := vm.advance(t, d)
		if !ok && err == nil {
			d.Done = true
		}
		return v, ok, err
	}
	return object.None, false, object.Errorf(object.TypeError, "'%s' object is not an iterator", vm.heap.TypeName(it))
}

func (vm *VM) advance(t *task, d *object.Iterator) (object.Value, bool, error) {
	switch d.Mode {
	case object.IterSeq:
		items, data := vm.seqItems(d.Source)
		if data != nil {
			if int(d.Pos) >= len(data) {
				return object.None, false, nil
			}
			b := data[d.Pos]
			d.Pos++
			return object.Int(int64(b)), true, nil
		}
		if int(d.Pos) >= len(items) {
			return object.None, false, nil
		}
		v := items[d.Pos]
		d.Pos++
		return vm.heap.Retain(v), true, nil

	case object.IterReversed:
		items, data := vm.seqItems(d.Source)
		d.Pos--
		if d.Pos < 0 {
			return object.None, false, nil
		}
		if data != nil {
			if int(d.Pos) >= len(data) {
				return object.None, false, nil
			}
			return object.Int(int64(data[d.Pos])), true, nil
		}
		if int(d.Pos) >= len(items) {
			return object.None, false, nil
		}
		return vm.heap.Retain(items[d.Pos]), true, nil

	case object.IterChars:
		s, _ := vm.heap.Str(d.Source)
		if int(d.Pos) >= len(s) {
			return object.None, false, nil
		}
		r, size := utf8.DecodeRuneInString(s[d.Pos:])
		d.Pos += int64(size)
		v, err := vm.heap.NewStr(string(r))
		return v, err == nil, err

	case object.IterDictKeys, object.IterDictValues, object.IterDictItems:
		dict, ok := vm.heap.Lookup(d.Source).(*object.Dict)
		if !ok || int(d.Pos) >= len(dict.Entries) {
			return object.None, false, nil
		}
		e := dict.Entries[d.Pos]
		d.Pos++
		switch d.Mode {
		case object.IterDictKeys:
			return vm.heap.Retain(e.K), true, nil
		case object.IterDictValues:
			return vm.heap.Retain(e.Value), true, nil
		}
		v, err := vm.tuple(vm.heap.Retain(e.K), vm.heap.Retain(e.Value))
		return v, err == nil, err

	case object.IterSet:
		set, ok := vm.heap.Lookup(d.Source).(*object.Set)
		if !ok || int(d.Pos) >= len(set.Items) {
			return object.None, false, nil
		}
		v := set.Items[d.Pos].Value
		d.Pos++
		return vm.heap.Retain(v), true, nil

	case object.IterRange:
		r, ok := vm.heap.Lookup(d.Source).(*object.Range)
		if !ok || d.Pos >= r.Len() {
			return object.None, false, nil
		}
		v := r.At(d.Pos)
		d.Pos++
		return object.Int(v), true, nil

	case object.IterEnumerate:
		v, ok, err := vm.next(t, d.Source)
		if !ok || err != nil {
			return object.None, false, err
		}
		n := d.Pos
		d.Pos++
		tv, err := vm.tuple(object.Int(n), v)
		return tv, err == nil, err

	case object.IterZip:
		if len(d.Sources) == 0 {
			return object.None, false, nil
		}
		items := make([]object.Value, 0, len(d.Sources))
		for _, src := range d.Sources {
			v, ok, err := vm.next(t, src)
			if !ok || err != nil {
				vm.heap.ReleaseAll(items)
				return object.None, false, err
			}
			items = append(items, v)
		}
		tv, err := vm.tuple(items...)
		return tv, err == nil, err
	}
	return object.None, false, nil
}

// seqItems returns the items of a sequence source, or its bytes.
func (vm *VM) seqItems(v object.Value) ([]object.Value, []byte) {
	switch d := vm.heap.Lookup(v).(type) {
	case *object.List:
		return d.Items, nil
	case *object.Tuple:
		return d.Items, nil
	case *object.NamedTuple:
		return d.Items, nil
	case *object.Bytes:
		return nil, d.B
	}
	return nil, nil
}

// tuple allocates a tuple taking ownership of items.
func (vm *VM) tuple(items ...object.Value) (object.Value, error) {
	return vm.owned(&object.Tuple{Items: items}, items)
}

// drain returns owned copies of every item v yields.
func (vm *VM) drain(t *task, v object.Value) ([]object.Value, error) {
	if items, data := vm.seqItems(v); items != nil || data != nil {
		if data != nil {
			out := make([]object.Value, len(data))
			for i, b := range data {
				out[i] = object.Int(int64(b))
			}
			return out, nil
		}
		out := append([]object.Value(nil), items...)
		vm.heap.RetainAll(out)
		return out, nil
	}
	it, err := vm.getIter(t, v)
	if err != nil {
		return nil, err
	}
	defer vm.heap.Release(it)
	var out []object.Value
	for {
		item, ok, err := vm.next(t, it)
		if err != nil {
			vm.heap.ReleaseAll(out)
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, item)
	}
}

// resumeGen runs the generator gen, which is borrowed, until it yields or
// returns. sent becomes the value of the paused yield expression. The
// outcome is delivered through p, whose kind is postGenNext or
// postGenForIter.
func (vm *VM) resumeGen(t *task, gen object.Value, sent object.Value, p post) error {
	id, _ := gen.HeapID()
	g := vm.heap.Get(id).(*object.Generator)
	switch g.State {
	case object.GenRunning:
		vm.heap.Release(sent)
		return object.Errorf(object.ValueError, "generator already executing")
	case object.GenDone:
		vm.heap.Release(sent)
		if p.kind == postGenForIter {
			f := t.top()
			vm.heap.Release(f.pop())
			f.ip = p.target
			return nil
		}
		return object.Errorf(object.StopIteration, "")
	case object.GenCreated:
		if !sent.IsNone() {
			vm.heap.Release(sent)
			return object.Errorf(object.TypeError, "can't send non-None value to a just-started generator")
		}
	}
	locals := g.Locals
	g.Locals = nil
	stack, handlers, ip := g.Stack, g.Handlers, g.IP
	started := g.State == object.GenSuspended
	g.Stack, g.Handlers, g.IP = nil, nil, 0
	g.State = object.GenRunning
	if err := vm.heap.Recharge(id); err != nil {
		vm.heap.ReleaseAll(locals)
		vm.heap.ReleaseAll(stack)
		vm.heap.Release(sent)
		g.State = object.GenDone
		return err
	}
	if err := vm.pushFrame(t, g.Func, locals, p, vm.heap.Retain(gen)); err != nil {
		if err == ErrHalted {
			vm.restoreGenFrame(t.top(), stack, handlers, ip, started, sent)
			return err
		}
		vm.heap.ReleaseAll(stack)
		vm.heap.Release(sent)
		g.State = object.GenDone
		return err
	}
	vm.restoreGenFrame(t.top(), stack, handlers, ip, started, sent)
	return nil
}

func (vm *VM) restoreGenFrame(f *frame, stack []object.Value, handlers []object.Handler, ip int, started bool, sent object.Value) {
	if !started {
		return
	}
	f.stack = stack
	f.handlers = handlers
	f.ip = ip
	f.push(sent)
}

// resumeGenSync advances a generator from native code. ok is false when
// the generator is exhausted.
func (vm *VM) resumeGenSync(t *task, gen object.Value, sent object.Value) (object.Value, bool, error) {
	if vm.nested >= MaxNestedCalls {
		vm.heap.Release(sent)
		return object.None, false, object.Errorf(object.RecursionError, "maximum recursion depth exceeded in native callback")
	}
	vm.nested++
	defer func() { vm.nested-- }()
	floor := len(t.frames)
	err := vm.resumeGen(t, gen, sent, post{kind: postGenNext, result: true})
	if err == nil {
		var status runStatus
		var v object.Value
		v, status, err = vm.eval(t, floor)
		if err == nil && status != statusReturned {
			vm.unwindTo(t, floor)
			return object.None, false, object.Errorf(object.RuntimeError, "generator suspended inside a native callback")
		}
		if err == nil {
			return v, true, nil
		}
	}
	vm.unwindTo(t, floor)
	if vm.isStopIteration(err) {
		return object.None, false, nil
	}
	return object.None, false, err
}

// isStopIteration reports whether err is a StopIteration, releasing the
// exception when it is one.
func (vm *VM) isStopIteration(err error) bool {
	var exc *object.Exc
	if errors.As(err, &exc) {
		return exc.Type.IsSubclass(object.StopIteration)
	}
	var r *raised
	if errors.As(err, &r) {
		if e, ok := vm.heap.Lookup(r.exc).(*object.ExceptionValue); ok && e.Type.IsSubclass(object.StopIteration) {
			vm.heap.Release(r.exc)
			return true
		}
	}
	return false
}

package vm

import (
	"math"
	"math/big"
	"path"
	"strings"

	"github.com/deepnoodle-ai/burrow/object"
	"github.com/deepnoodle-ai/burrow/op"
)

// dunder returns the user method name defined on the class of an instance
// or dataclass value. The method is borrowed from the class.
func (vm *VM) dunder(v object.Value, name string) (object.Value, bool) {
	var cls object.Value
	switch d := vm.heap.Lookup(v).(type) {
	case *object.Instance:
		cls = d.Class
	case *object.Dataclass:
		cls = d.Class
	default:
		return object.None, false
	}
	m, ok := vm.classAttr(cls, name)
	if !ok {
		return object.None, false
	}
	if _, isFn := vm.heap.Lookup(m).(*object.Closure); !isFn {
		return object.None, false
	}
	return m, true
}

// classAttr looks name up on cls and its bases, depth first in base order.
func (vm *VM) classAttr(cls object.Value, name string) (object.Value, bool) {
	stack := []object.Value{cls}
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		cd, ok := vm.heap.Lookup(c).(*object.Class)
		if !ok {
			continue
		}
		if v, ok := cd.Attrs.Get(name); ok {
			return v, true
		}
		for i := len(cd.Bases) - 1; i >= 0; i-- {
			stack = append(stack, cd.Bases[i])
		}
	}
	return object.None, false
}

// binaryOp runs the native and dunder tiers of a binary operator. It
// consumes a and b and delivers the result through p.
func (vm *VM) binaryOp(t *task, opType op.BinaryOpType, a, b object.Value, p post) error {
	v, ok, err := vm.heap.NativeBinary(opType, a, b)
	if !ok && err == nil {
		v, ok, err = vm.pathBinary(opType, a, b)
	}
	if ok || err != nil {
		vm.heap.Release(a)
		vm.heap.Release(b)
		if err != nil {
			return err
		}
		return vm.handOff(t, p, v)
	}
	if m, ok := vm.dunder(a, opType.Dunder()); ok {
		p.kind, p.op, p.a, p.b = postBinaryLeft, uint16(opType), a, b
		return vm.callWith(t, m, []object.Value{vm.heap.Retain(a), vm.heap.Retain(b)}, nil, p)
	}
	return vm.binaryReflected(t, opType, a, b, p)
}

// binaryReflected tries the reflected dunder of the right operand.
func (vm *VM) binaryReflected(t *task, opType op.BinaryOpType, a, b object.Value, p post) error {
	if m, ok := vm.dunder(b, opType.ReflectedDunder()); ok {
		p.kind, p.op, p.a, p.b = postBinaryRight, uint16(opType), b, a
		return vm.callWith(t, m, []object.Value{vm.heap.Retain(b), vm.heap.Retain(a)}, nil, p)
	}
	err := vm.unsupported(opType, a, b)
	vm.heap.Release(a)
	vm.heap.Release(b)
	return err
}

func (vm *VM) unsupported(opType op.BinaryOpType, a, b object.Value) error {
	return object.Errorf(object.TypeError, "unsupported operand type(s) for %s: '%s' and '%s'",
		opType, vm.heap.TypeName(a), vm.heap.TypeName(b))
}

// pathBinary implements the / operator of paths.
func (vm *VM) pathBinary(opType op.BinaryOpType, a, b object.Value) (object.Value, bool, error) {
	if opType != op.Divide {
		return object.None, false, nil
	}
	left, lok := vm.pathText(a)
	right, rok := vm.pathText(b)
	_, lpath := vm.heap.Lookup(a).(*object.Path)
	_, rpath := vm.heap.Lookup(b).(*object.Path)
	if !lok || !rok || (!lpath && !rpath) {
		return object.None, false, nil
	}
	joined := right
	if !strings.HasPrefix(right, "/") {
		joined = path.Join(left, right)
	}
	v, err := vm.heap.New(&object.Path{P: joined})
	return v, true, err
}

func (vm *VM) pathText(v object.Value) (string, bool) {
	if p, ok := vm.heap.Lookup(v).(*object.Path); ok {
		return p.P, true
	}
	return vm.heap.Str(v)
}

// compareOp runs the native and dunder tiers of a comparison.
func (vm *VM) compareOp(t *task, opType op.CompareOpType, a, b object.Value, p post) error {
	v, ok, err := vm.heap.NativeCompare(opType, a, b)
	if ok || err != nil {
		vm.heap.Release(a)
		vm.heap.Release(b)
		if err != nil {
			return err
		}
		return vm.handOff(t, p, v)
	}
	if m, ok := vm.dunder(a, opType.Dunder()); ok {
		p.kind, p.op, p.a, p.b, p.invert = postCompareLeft, uint16(opType), a, b, false
		return vm.callWith(t, m, []object.Value{vm.heap.Retain(a), vm.heap.Retain(b)}, nil, p)
	}
	if opType == op.NotEqual {
		if m, ok := vm.dunder(a, "__eq__"); ok {
			p.kind, p.op, p.a, p.b, p.invert = postCompareLeft, uint16(opType), a, b, true
			return vm.callWith(t, m, []object.Value{vm.heap.Retain(a), vm.heap.Retain(b)}, nil, p)
		}
	}
	return vm.compareReflected(t, opType, a, b, p)
}

// compareReflected tries the swapped comparison on the right operand, then
// falls back to identity for equality.
func (vm *VM) compareReflected(t *task, opType op.CompareOpType, a, b object.Value, p post) error {
	swapped := opType.Swapped()
	if m, ok := vm.dunder(b, swapped.Dunder()); ok {
		p.kind, p.op, p.a, p.b, p.invert = postCompareRight, uint16(opType), b, a, false
		return vm.callWith(t, m, []object.Value{vm.heap.Retain(b), vm.heap.Retain(a)}, nil, p)
	}
	if opType == op.NotEqual {
		if m, ok := vm.dunder(b, "__eq__"); ok {
			p.kind, p.op, p.a, p.b, p.invert = postCompareRight, uint16(opType), b, a, true
			return vm.callWith(t, m, []object.Value{vm.heap.Retain(b), vm.heap.Retain(a)}, nil, p)
		}
	}
	v, err := vm.compareFallback(opType, a, b)
	vm.heap.Release(a)
	vm.heap.Release(b)
	if err != nil {
		return err
	}
	return vm.handOff(t, p, v)
}

func (vm *VM) compareFallback(opType op.CompareOpType, a, b object.Value) (object.Value, error) {
	switch opType {
	case op.Equal:
		return object.Bool(a.Is(b)), nil
	case op.NotEqual:
		return object.Bool(!a.Is(b)), nil
	}
	return object.None, object.Errorf(object.TypeError, "'%s' not supported between instances of '%s' and '%s'",
		opType, vm.heap.TypeName(a), vm.heap.TypeName(b))
}

// compareSync evaluates a comparison from native code, as sorting does.
func (vm *VM) compareSync(t *task, opType op.CompareOpType, a, b object.Value) (bool, error) {
	if a.Kind() == object.KindInt && b.Kind() == object.KindInt {
		return fastCompare(opType, a.AsInt(), b.AsInt()), nil
	}
	v, ok, err := vm.heap.NativeCompare(opType, a, b)
	if err != nil {
		return false, err
	}
	if ok {
		return v.AsBool(), nil
	}
	if r, found, err := vm.callSyncMethod(t, a, opType.Dunder(), vm.heap.Retain(b)); found {
		if err != nil {
			return false, err
		}
		if r != object.NotImplemented {
			truth := vm.heap.Truthy(r)
			vm.heap.Release(r)
			return truth, nil
		}
	}
	if r, found, err := vm.callSyncMethod(t, b, opType.Swapped().Dunder(), vm.heap.Retain(a)); found {
		if err != nil {
			return false, err
		}
		if r != object.NotImplemented {
			truth := vm.heap.Truthy(r)
			vm.heap.Release(r)
			return truth, nil
		}
	}
	fb, err := vm.compareFallback(opType, a, b)
	if err != nil {
		return false, err
	}
	return fb.AsBool(), nil
}

// equalSync compares two values for equality honoring __eq__.
func (vm *VM) equalSync(t *task, a, b object.Value) (bool, error) {
	if !vm.heap.HasUserEquality(a) && !vm.heap.HasUserEquality(b) {
		return vm.heap.Equal(a, b), nil
	}
	return vm.compareSync(t, op.Equal, a, b)
}

// negative implements unary minus. It consumes v.
func (vm *VM) negative(t *task, v object.Value) error {
	f := t.top()
	switch v.Kind() {
	case object.KindBool, object.KindInt:
		i := v.AsInt()
		if v.Kind() == object.KindBool {
			i = 0
			if v.AsBool() {
				i = 1
			}
		}
		if i == math.MinInt64 {
			r, err := vm.heap.NewBigInt(new(big.Int).Neg(big.NewInt(i)))
			if err != nil {
				return err
			}
			f.push(r)
			return nil
		}
		f.push(object.Int(-i))
		return nil
	case object.KindFloat:
		f.push(object.Float(-v.AsFloat()))
		return nil
	}
	if n, ok := vm.heap.Lookup(v).(*object.BigInt); ok {
		r, err := vm.heap.NewBigInt(new(big.Int).Neg(n.N))
		vm.heap.Release(v)
		if err != nil {
			return err
		}
		f.push(r)
		return nil
	}
	if m, ok := vm.dunder(v, "__neg__"); ok {
		return vm.callWith(t, m, []object.Value{v}, nil, post{})
	}
	err := object.Errorf(object.TypeError, "bad operand type for unary -: '%s'", vm.heap.TypeName(v))
	vm.heap.Release(v)
	return err
}

// invert implements unary ~. It consumes v.
func (vm *VM) invert(t *task, v object.Value) error {
	f := t.top()
	switch v.Kind() {
	case object.KindInt:
		f.push(object.Int(^v.AsInt()))
		return nil
	case object.KindBool:
		if v.AsBool() {
			f.push(object.Int(-2))
		} else {
			f.push(object.Int(-1))
		}
		return nil
	}
	if n, ok := vm.heap.Lookup(v).(*object.BigInt); ok {
		r, err := vm.heap.NewBigInt(new(big.Int).Not(n.N))
		vm.heap.Release(v)
		if err != nil {
			return err
		}
		f.push(r)
		return nil
	}
	if m, ok := vm.dunder(v, "__invert__"); ok {
		return vm.callWith(t, m, []object.Value{v}, nil, post{})
	}
	err := object.Errorf(object.TypeError, "bad operand type for unary ~: '%s'", vm.heap.TypeName(v))
	vm.heap.Release(v)
	return err
}

// index converts an index operand to a position in a sequence of length n,
// counting negative indexes from the end.
func (vm *VM) index(key object.Value, n int, typeName string) (int, error) {
	var i int64
	switch key.Kind() {
	case object.KindInt:
		i = key.AsInt()
	case object.KindBool:
		if key.AsBool() {
			i = 1
		}
	default:
		if _, ok := vm.heap.Lookup(key).(*object.BigInt); ok {
			return 0, object.Errorf(object.IndexError, "cannot fit 'int' into an index-sized integer")
		}
		return 0, object.Errorf(object.TypeError, "%s indices must be integers, not %s", typeName, vm.heap.TypeName(key))
	}
	if i < 0 {
		i += int64(n)
	}
	if i < 0 || i >= int64(n) {
		return 0, object.Errorf(object.IndexError, "%s index out of range", typeName)
	}
	return int(i), nil
}

// getItem implements obj[key]. It consumes obj and key.
func (vm *VM) getItem(t *task, obj, key object.Value, p post) error {
	v, handled, err := vm.nativeGetItem(obj, key)
	if handled || err != nil {
		vm.heap.Release(obj)
		vm.heap.Release(key)
		if err != nil {
			return err
		}
		return vm.handOff(t, p, v)
	}
	if m, ok := vm.dunder(obj, "__getitem__"); ok {
		return vm.callWith(t, m, []object.Value{obj, key}, nil, p)
	}
	err = object.Errorf(object.TypeError, "'%s' object is not subscriptable", vm.heap.TypeName(obj))
	vm.heap.Release(obj)
	vm.heap.Release(key)
	return err
}

func (vm *VM) nativeGetItem(obj, key object.Value) (object.Value, bool, error) {
	if s, ok := vm.heap.Str(obj); ok {
		runes := []rune(s)
		i, err := vm.index(key, len(runes), "string")
		if err != nil {
			return object.None, true, err
		}
		v, err := vm.heap.NewStr(string(runes[i]))
		return v, true, err
	}
	switch d := vm.heap.Lookup(obj).(type) {
	case *object.List:
		i, err := vm.index(key, len(d.Items), "list")
		if err != nil {
			return object.None, true, err
		}
		return vm.heap.Retain(d.Items[i]), true, nil
	case *object.Tuple:
		i, err := vm.index(key, len(d.Items), "tuple")
		if err != nil {
			return object.None, true, err
		}
		return vm.heap.Retain(d.Items[i]), true, nil
	case *object.NamedTuple:
		i, err := vm.index(key, len(d.Items), "tuple")
		if err != nil {
			return object.None, true, err
		}
		return vm.heap.Retain(d.Items[i]), true, nil
	case *object.Bytes:
		i, err := vm.index(key, len(d.B), "index")
		if err != nil {
			return object.None, true, err
		}
		return object.Int(int64(d.B[i])), true, nil
	case *object.Range:
		i, err := vm.index(key, int(d.Len()), "range object")
		if err != nil {
			return object.None, true, err
		}
		return object.Int(d.At(int64(i))), true, nil
	case *object.Dict:
		hk, err := vm.heap.HashKey(key)
		if err != nil {
			return object.None, true, err
		}
		v, ok := d.Get(hk)
		if !ok {
			return object.None, true, vm.keyError(key)
		}
		return vm.heap.Retain(v), true, nil
	}
	return object.None, false, nil
}

func (vm *VM) keyError(key object.Value) error {
	s, err := vm.heap.Repr(key, vm.reprHook(nil))
	if err != nil {
		s = vm.heap.TypeName(key)
	}
	return object.Errorf(object.KeyError, "%s", s)
}

// setItem implements obj[key] = v. It consumes all three.
func (vm *VM) setItem(t *task, obj, key, v object.Value) error {
	id, _ := obj.HeapID()
	switch d := vm.heap.Lookup(obj).(type) {
	case *object.List:
		i, err := vm.index(key, len(d.Items), "list assignment")
		vm.heap.Release(key)
		if err != nil {
			vm.heap.Release(v)
			vm.heap.Release(obj)
			return err
		}
		old := d.Items[i]
		d.Items[i] = v
		vm.heap.Release(old)
		vm.heap.Release(obj)
		return nil
	case *object.Dict:
		err := vm.dictSet(id, d, key, v)
		vm.heap.Release(obj)
		return err
	}
	if m, ok := vm.dunder(obj, "__setitem__"); ok {
		return vm.callWith(t, m, []object.Value{obj, key, v}, nil, post{kind: postDiscard})
	}
	err := object.Errorf(object.TypeError, "'%s' object does not support item assignment", vm.heap.TypeName(obj))
	vm.heap.Release(obj)
	vm.heap.Release(key)
	vm.heap.Release(v)
	return err
}

// dictSet stores key: v in the dict at id, consuming both.
func (vm *VM) dictSet(id object.HeapID, d *object.Dict, key, v object.Value) error {
	hk, err := vm.heap.HashKey(key)
	if err != nil {
		vm.heap.Release(key)
		vm.heap.Release(v)
		return err
	}
	dupKey, old, _ := d.Set(hk, key, v)
	vm.heap.Release(dupKey)
	vm.heap.Release(old)
	return vm.heap.Recharge(id)
}

// contains implements item in container. It consumes both.
func (vm *VM) contains(t *task, item, container object.Value, invert bool) error {
	found, handled, err := vm.nativeContains(t, item, container)
	if handled || err != nil {
		vm.heap.Release(item)
		vm.heap.Release(container)
		if err != nil {
			return err
		}
		t.top().push(object.Bool(found != invert))
		return nil
	}
	if m, ok := vm.dunder(container, "__contains__"); ok {
		return vm.callWith(t, m, []object.Value{container, item}, nil, post{kind: postTruth, invert: invert})
	}
	if _, ok := vm.dunder(container, "__iter__"); ok {
		found, err := vm.iterContains(t, item, container)
		vm.heap.Release(item)
		vm.heap.Release(container)
		if err != nil {
			return err
		}
		t.top().push(object.Bool(found != invert))
		return nil
	}
	err = object.Errorf(object.TypeError, "argument of type '%s' is not iterable", vm.heap.TypeName(container))
	vm.heap.Release(item)
	vm.heap.Release(container)
	return err
}

func (vm *VM) nativeContains(t *task, item, container object.Value) (bool, bool, error) {
	if s, ok := vm.heap.Str(container); ok {
		sub, ok := vm.heap.Str(item)
		if !ok {
			return false, true, object.Errorf(object.TypeError,
				"'in <string>' requires string as left operand, not %s", vm.heap.TypeName(item))
		}
		return strings.Contains(s, sub), true, nil
	}
	var items []object.Value
	switch d := vm.heap.Lookup(container).(type) {
	case *object.List:
		items = d.Items
	case *object.Tuple:
		items = d.Items
	case *object.NamedTuple:
		items = d.Items
	case *object.Dict:
		hk, err := vm.heap.HashKey(item)
		if err != nil {
			return false, true, err
		}
		_, ok := d.Lookup(hk)
		return ok, true, nil
	case *object.Set:
		hk, err := vm.heap.HashKey(item)
		if err != nil {
			return false, true, err
		}
		return d.Contains(hk), true, nil
	case *object.Range:
		if item.Kind() != object.KindInt {
			return false, true, nil
		}
		i := item.AsInt()
		n := d.Len()
		if n == 0 || d.Step == 0 {
			return false, true, nil
		}
		k := (i - d.Start) / d.Step
		return (i-d.Start)%d.Step == 0 && k >= 0 && k < n, true, nil
	case *object.Bytes:
		if item.Kind() == object.KindInt {
			b := item.AsInt()
			for _, c := range d.B {
				if int64(c) == b {
					return true, true, nil
				}
			}
			return false, true, nil
		}
		if sub, ok := vm.heap.Lookup(item).(*object.Bytes); ok {
			return strings.Contains(string(d.B), string(sub.B)), true, nil
		}
		return false, true, object.Errorf(object.TypeError, "a bytes-like object is required, not '%s'", vm.heap.TypeName(item))
	default:
		return false, false, nil
	}
	for i := 0; i < len(items); i++ {
		eq, err := vm.equalSync(t, items[i], item)
		if err != nil {
			return false, true, err
		}
		if eq {
			return true, true, nil
		}
	}
	return false, true, nil
}

func (vm *VM) iterContains(t *task, item, container object.Value) (bool, error) {
	it, err := vm.getIter(t, container)
	if err != nil {
		return false, err
	}
	defer vm.heap.Release(it)
	for {
		v, ok, err := vm.next(t, it)
		if err != nil || !ok {
			return false, err
		}
		eq, err := vm.equalSync(t, v, item)
		vm.heap.Release(v)
		if err != nil || eq {
			return eq, err
		}
	}
}

// unpack returns exactly n owned items of seq.
func (vm *VM) unpack(t *task, seq object.Value, n int) ([]object.Value, error) {
	items, err := vm.drain(t, seq)
	if err != nil {
		return nil, err
	}
	if len(items) != n {
		vm.heap.ReleaseAll(items)
		if len(items) < n {
			return nil, object.Errorf(object.ValueError, "not enough values to unpack (expected %d, got %d)", n, len(items))
		}
		return nil, object.Errorf(object.ValueError, "too many values to unpack (expected %d)", n)
	}
	return items, nil
}

package vm

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/deepnoodle-ai/burrow/boundary"
	"github.com/deepnoodle-ai/burrow/errz"
	"github.com/deepnoodle-ai/burrow/object"
	"github.com/deepnoodle-ai/burrow/resource"
)

// toBoundary exports v for the host. Values with no boundary form are
// rendered as Repr; a container met again inside itself becomes Cycle.
func (vm *VM) toBoundary(v object.Value) (boundary.Value, error) {
	return vm.export(v, map[object.HeapID]bool{})
}

func (vm *VM) export(v object.Value, path map[object.HeapID]bool) (boundary.Value, error) {
	switch v.Kind() {
	case object.KindNone:
		return boundary.None{}, nil
	case object.KindBool:
		return boundary.Bool(v.AsBool()), nil
	case object.KindInt:
		return boundary.Int(v.AsInt()), nil
	case object.KindFloat:
		return boundary.Float(v.AsFloat()), nil
	case object.KindStr:
		s, _ := vm.heap.Str(v)
		return boundary.Str(s), nil
	case object.KindBuiltin:
		return boundary.BuiltinFunction{Name: builtinName(v.AsBuiltin())}, nil
	case object.KindExcType:
		return boundary.Type{Name: v.AsExcType().String()}, nil
	case object.KindRef:
	default:
		s, err := vm.heap.Repr(v, vm.reprHook(nil))
		return boundary.Repr(s), err
	}

	id, _ := v.HeapID()
	switch vm.heap.Get(id).(type) {
	case *object.List, *object.Tuple, *object.NamedTuple, *object.Dict, *object.Set, *object.Dataclass:
		if path[id] {
			s, err := vm.heap.Repr(v, nil)
			return boundary.Cycle{Text: s}, err
		}
		path[id] = true
		defer delete(path, id)
	}

	switch d := vm.heap.Get(id).(type) {
	case *object.Str:
		return boundary.Str(d.S), nil
	case *object.Bytes:
		return boundary.Bytes(append([]byte(nil), d.B...)), nil
	case *object.BigInt:
		return boundary.BigInt{V: new(big.Int).Set(d.N)}, nil
	case *object.List:
		items, err := vm.exportAll(d.Items, path)
		return boundary.List(items), err
	case *object.Tuple:
		items, err := vm.exportAll(d.Items, path)
		return boundary.Tuple(items), err
	case *object.NamedTuple:
		items, err := vm.exportAll(d.Items, path)
		if err != nil {
			return nil, err
		}
		var fields []string
		if cls, ok := vm.heap.Lookup(d.Class).(*object.Class); ok {
			fields = append(fields, cls.Fields...)
		}
		return boundary.NamedTuple{TypeName: vm.heap.TypeName(v), FieldNames: fields, Values: items}, nil
	case *object.Dict:
		out := make(boundary.Dict, 0, len(d.Entries))
		for _, e := range d.Entries {
			k, err := vm.export(e.K, path)
			if err != nil {
				return nil, err
			}
			val, err := vm.export(e.Value, path)
			if err != nil {
				return nil, err
			}
			out = append(out, boundary.Pair{Key: k, Value: val})
		}
		return out, nil
	case *object.Set:
		items := make([]boundary.Value, 0, len(d.Items))
		for _, item := range d.Items {
			bv, err := vm.export(item.Value, path)
			if err != nil {
				return nil, err
			}
			items = append(items, bv)
		}
		if d.Frozen {
			return boundary.FrozenSet(items), nil
		}
		return boundary.Set(items), nil
	case *object.ExceptionValue:
		msg, err := vm.heap.ExcMessage(d, vm.reprHook(nil))
		return boundary.Exception{Type: d.Type.String(), Message: msg}, err
	case *object.Class:
		return boundary.Type{Name: d.Name}, nil
	case *object.Dataclass:
		cls, _ := vm.heap.Lookup(d.Class).(*object.Class)
		out := boundary.Dataclass{Name: vm.heap.TypeName(v)}
		if cls != nil {
			out.FieldNames = append(out.FieldNames, cls.Fields...)
			out.Frozen = cls.Frozen
		}
		for _, attr := range d.Attrs {
			bv, err := vm.export(attr.Value, path)
			if err != nil {
				return nil, err
			}
			out.Attrs = append(out.Attrs, boundary.Pair{Key: boundary.Str(attr.Name), Value: bv})
		}
		return out, nil
	case *object.Path:
		return boundary.Path(d.P), nil
	case *object.Proxy:
		return boundary.Proxy{ID: d.ID, TypeName: d.TypeName}, nil
	}
	s, err := vm.heap.Repr(v, vm.reprHook(nil))
	return boundary.Repr(s), err
}

func (vm *VM) exportAll(vs []object.Value, path map[object.HeapID]bool) ([]boundary.Value, error) {
	out := make([]boundary.Value, len(vs))
	for i, v := range vs {
		bv, err := vm.export(v, path)
		if err != nil {
			return nil, err
		}
		out[i] = bv
	}
	return out, nil
}

func badInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errz.ErrWrongResume, fmt.Sprintf(format, args...))
}

// fromBoundary imports a host value into the heap. The result is owned by
// the caller.
func (vm *VM) fromBoundary(bv boundary.Value) (object.Value, error) {
	switch b := bv.(type) {
	case nil, boundary.None:
		return object.None, nil
	case boundary.Bool:
		return object.Bool(bool(b)), nil
	case boundary.Int:
		return object.Int(int64(b)), nil
	case boundary.BigInt:
		if b.V == nil {
			return object.None, badInput("big integer without a value")
		}
		return vm.heap.NewBigInt(new(big.Int).Set(b.V))
	case boundary.Float:
		return object.Float(float64(b)), nil
	case boundary.Str:
		return vm.heap.NewStr(string(b))
	case boundary.Bytes:
		return vm.heap.New(&object.Bytes{B: append([]byte(nil), b...)})
	case boundary.List:
		items, err := vm.importAll(b)
		if err != nil {
			return object.None, err
		}
		return vm.owned(&object.List{Items: items}, items)
	case boundary.Tuple:
		items, err := vm.importAll(b)
		if err != nil {
			return object.None, err
		}
		return vm.owned(&object.Tuple{Items: items}, items)
	case boundary.NamedTuple:
		cls, err := vm.heap.New(&object.Class{Name: b.TypeName, Flavor: object.NamedTupleClass, Fields: append([]string(nil), b.FieldNames...)})
		if err != nil {
			return object.None, err
		}
		items, err := vm.importAll(b.Values)
		if err != nil {
			vm.heap.Release(cls)
			return object.None, err
		}
		return vm.owned(&object.NamedTuple{Class: cls, Items: items}, append(items, cls))
	case boundary.Dict:
		pairs := make([]object.Value, 0, 2*len(b))
		for _, p := range b {
			k, err := vm.fromBoundary(p.Key)
			if err != nil {
				vm.heap.ReleaseAll(pairs)
				return object.None, err
			}
			val, err := vm.fromBoundary(p.Value)
			if err != nil {
				vm.heap.Release(k)
				vm.heap.ReleaseAll(pairs)
				return object.None, err
			}
			pairs = append(pairs, k, val)
		}
		return vm.newDict(pairs)
	case boundary.Set:
		items, err := vm.importAll(b)
		if err != nil {
			return object.None, err
		}
		return vm.newSet(items, false)
	case boundary.FrozenSet:
		items, err := vm.importAll(b)
		if err != nil {
			return object.None, err
		}
		return vm.newSet(items, true)
	case boundary.Exception:
		return vm.hostException(b), nil
	case boundary.Type:
		if typ, ok := object.ExcTypeByName(b.Name); ok {
			return object.ExcClass(typ), nil
		}
		if v, ok := lookupBuiltin(b.Name); ok && isTypeBuiltin(v) {
			return v, nil
		}
		return object.None, badInput("unknown type %q", b.Name)
	case boundary.BuiltinFunction:
		if v, ok := lookupBuiltin(b.Name); ok {
			return v, nil
		}
		return object.None, badInput("unknown builtin %q", b.Name)
	case boundary.Dataclass:
		return vm.importDataclass(b)
	case boundary.Path:
		return vm.heap.New(&object.Path{P: string(b)})
	case boundary.Proxy:
		return vm.heap.New(&object.Proxy{ID: b.ID, TypeName: b.TypeName})
	}
	return object.None, badInput("%s values cannot be passed into a run", bv.Kind())
}

// owned allocates data whose items were already retained, releasing them
// when the allocation is refused.
func (vm *VM) owned(data object.Data, items []object.Value) (object.Value, error) {
	v, err := vm.heap.New(data)
	if err != nil {
		vm.heap.ReleaseAll(items)
		return object.None, err
	}
	return v, nil
}

func (vm *VM) importAll(bvs []boundary.Value) ([]object.Value, error) {
	out := make([]object.Value, 0, len(bvs))
	for _, bv := range bvs {
		v, err := vm.fromBoundary(bv)
		if err != nil {
			vm.heap.ReleaseAll(out)
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (vm *VM) importDataclass(b boundary.Dataclass) (object.Value, error) {
	fields := append([]string(nil), b.FieldNames...)
	cls, err := vm.heap.New(&object.Class{Name: b.Name, Flavor: object.DataclassClass, Fields: fields, Frozen: b.Frozen})
	if err != nil {
		return object.None, err
	}
	attrs := make(object.Attrs, 0, len(b.Attrs))
	fail := func(err error) (object.Value, error) {
		for _, a := range attrs {
			vm.heap.Release(a.Value)
		}
		vm.heap.Release(cls)
		return object.None, err
	}
	for _, p := range b.Attrs {
		name, ok := p.Key.(boundary.Str)
		if !ok {
			return fail(badInput("dataclass attribute names must be strings"))
		}
		v, err := vm.fromBoundary(p.Value)
		if err != nil {
			return fail(err)
		}
		attrs = append(attrs, object.Attr{Name: string(name), Value: v})
	}
	v, err := vm.heap.New(&object.Dataclass{Class: cls, Attrs: attrs})
	if err != nil {
		return fail(err)
	}
	return v, nil
}

// importResult converts a value the host answered a call with. A refused
// allocation becomes a MemoryError delivered to the program.
func (vm *VM) importResult(bv boundary.Value) (object.Value, bool, error) {
	v, err := vm.fromBoundary(bv)
	if err == nil {
		return v, false, nil
	}
	var re *resource.Error
	if errors.As(err, &re) {
		return vm.newException(nil, object.MemoryError, re.Error()), true, nil
	}
	return object.None, false, err
}

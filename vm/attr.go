package vm

import (
	"path"
	"strings"

	"github.com/deepnoodle-ai/burrow/object"
)

// getAttr returns obj.name as an owned value. obj is borrowed. Functions
// found on a class come back bound to the receiver.
func (vm *VM) getAttr(t *task, obj object.Value, name string) (object.Value, error) {
	switch obj.Kind() {
	case object.KindExcType:
		if name == "__name__" {
			return vm.heap.Intern(obj.AsExcType().String()), nil
		}
	case object.KindBuiltin:
		if name == "__name__" {
			return vm.heap.Intern(builtinName(obj.AsBuiltin())), nil
		}
	}
	switch d := vm.heap.Lookup(obj).(type) {
	case *object.Instance:
		if v, ok := d.Attrs.Get(name); ok {
			return vm.heap.Retain(v), nil
		}
		if name == "__class__" {
			return vm.heap.Retain(d.Class), nil
		}
		if v, ok := vm.classAttr(d.Class, name); ok {
			return vm.bindAttr(obj, v)
		}
	case *object.Dataclass:
		if v, ok := d.Attrs.Get(name); ok {
			return vm.heap.Retain(v), nil
		}
		if name == "__class__" {
			return vm.heap.Retain(d.Class), nil
		}
		if v, ok := vm.classAttr(d.Class, name); ok {
			return vm.bindAttr(obj, v)
		}
	case *object.Class:
		if name == "__name__" {
			return vm.heap.Intern(d.Name), nil
		}
		if v, ok := vm.classAttr(obj, name); ok {
			return vm.heap.Retain(v), nil
		}
	case *object.Closure:
		if name == "__name__" {
			return vm.heap.Intern(funcName(vm.funcs[d.Func])), nil
		}
	case *object.Module:
		if v, ok := d.Attrs.Get(name); ok {
			return vm.heap.Retain(v), nil
		}
		return object.None, object.Errorf(object.AttributeError, "module '%s' has no attribute '%s'", d.Name, name)
	case *object.NamedTuple:
		if cls, ok := vm.heap.Lookup(d.Class).(*object.Class); ok {
			for i, field := range cls.Fields {
				if field == name && i < len(d.Items) {
					return vm.heap.Retain(d.Items[i]), nil
				}
			}
		}
	case *object.ExceptionValue:
		if name == "args" {
			items := append([]object.Value(nil), d.Args...)
			vm.heap.RetainAll(items)
			return vm.tuple(items...)
		}
	case *object.Path:
		if v, ok, err := vm.pathAttr(d, name); ok {
			return v, err
		}
	case *object.Proxy:
		if strings.HasPrefix(name, "_") {
			break
		}
		v, err := vm.heap.New(&object.ProxyMethod{Proxy: obj, Name: name})
		if err != nil {
			return object.None, err
		}
		vm.heap.Retain(obj)
		return v, nil
	}
	if vm.hasNative(obj, name) {
		v, err := vm.heap.New(&object.BoundNative{Self: obj, Name: name})
		if err != nil {
			return object.None, err
		}
		vm.heap.Retain(obj)
		return v, nil
	}
	return object.None, object.Errorf(object.AttributeError, "'%s' object has no attribute '%s'", vm.heap.TypeName(obj), name)
}

// bindAttr binds a function found on the class of self.
func (vm *VM) bindAttr(self, v object.Value) (object.Value, error) {
	if _, ok := vm.heap.Lookup(v).(*object.Closure); !ok {
		return vm.heap.Retain(v), nil
	}
	m, err := vm.heap.New(&object.BoundMethod{Self: self, Func: v})
	if err != nil {
		return object.None, err
	}
	vm.heap.Retain(self)
	vm.heap.Retain(v)
	return m, nil
}

func (vm *VM) pathAttr(p *object.Path, name string) (object.Value, bool, error) {
	base := path.Base(p.P)
	ext := path.Ext(base)
	switch name {
	case "name":
		v, err := vm.heap.NewStr(base)
		return v, true, err
	case "suffix":
		v, err := vm.heap.NewStr(ext)
		return v, true, err
	case "stem":
		v, err := vm.heap.NewStr(strings.TrimSuffix(base, ext))
		return v, true, err
	case "parent":
		v, err := vm.heap.New(&object.Path{P: path.Dir(p.P)})
		return v, true, err
	}
	return object.None, false, nil
}

// setAttr implements obj.name = v. It consumes v; obj is borrowed.
func (vm *VM) setAttr(obj object.Value, name string, v object.Value) error {
	id, _ := obj.HeapID()
	var attrs *object.Attrs
	switch d := vm.heap.Lookup(obj).(type) {
	case *object.Instance:
		attrs = &d.Attrs
	case *object.Class:
		attrs = &d.Attrs
	case *object.Dataclass:
		if cls, ok := vm.heap.Lookup(d.Class).(*object.Class); ok && cls.Frozen {
			vm.heap.Release(v)
			return object.Errorf(object.AttributeError, "cannot assign to field '%s'", name)
		}
		attrs = &d.Attrs
	default:
		err := object.Errorf(object.AttributeError, "'%s' object has no attribute '%s'", vm.heap.TypeName(obj), name)
		vm.heap.Release(v)
		return err
	}
	if old, existed := attrs.Set(name, v); existed {
		vm.heap.Release(old)
	}
	return vm.heap.Recharge(id)
}

// callMethod implements obj.name(args). It consumes obj, args and p.
func (vm *VM) callMethod(t *task, obj object.Value, name string, args []object.Value, kw []kwArg, p post) error {
	switch d := vm.heap.Lookup(obj).(type) {
	case *object.Instance:
		if _, own := d.Attrs.Get(name); !own {
			if m, ok := vm.classAttr(d.Class, name); ok {
				if _, isFn := vm.heap.Lookup(m).(*object.Closure); isFn {
					return vm.callWith(t, m, prepend(obj, args), kw, p)
				}
			}
		}
	case *object.Proxy:
		v, outcome, err := vm.callProxy(obj, name, args, kw, p)
		vm.heap.Release(obj)
		return vm.settle(t, v, outcome, err, p)
	}
	if vm.hasNative(obj, name) {
		v, outcome, err := vm.callNative(t, obj, name, args, kw, p)
		vm.heap.Release(obj)
		return vm.settle(t, v, outcome, err, p)
	}
	m, err := vm.getAttr(t, obj, name)
	vm.heap.Release(obj)
	if err != nil {
		vm.releaseArgs(args, kw)
		vm.dropPost(p)
		return err
	}
	err = vm.callWith(t, m, args, kw, p)
	vm.heap.Release(m)
	return err
}

// nativeKind names the method table serving v.
func (vm *VM) nativeKind(v object.Value) string {
	if v.Kind() == object.KindStr {
		return "str"
	}
	switch d := vm.heap.Lookup(v).(type) {
	case *object.Str:
		return "str"
	case *object.List:
		return "list"
	case *object.Dict:
		return "dict"
	case *object.Set:
		if d.Frozen {
			return "frozenset"
		}
		return "set"
	case *object.Bytes:
		return "bytes"
	case *object.Tuple, *object.NamedTuple:
		return "tuple"
	case *object.Path:
		return "path"
	case *object.Generator:
		return "generator"
	}
	return ""
}

// hasNative reports whether v, a value of a builtin kind, has the native
// method name.
func (vm *VM) hasNative(v object.Value, name string) bool {
	switch kind := vm.nativeKind(v); kind {
	case "":
		return false
	case "generator":
		return name == "send"
	case "path":
		_, ok := osFunc("Path." + name)
		return ok
	default:
		_, ok := nativeMethods[kind][name]
		return ok
	}
}

// callNative calls a native method of self, which is borrowed. args and kw
// are consumed.
func (vm *VM) callNative(t *task, self object.Value, name string, args []object.Value, kw []kwArg, p post) (object.Value, callOutcome, error) {
	switch kind := vm.nativeKind(self); kind {
	case "generator":
		if len(args) != 1 || len(kw) > 0 {
			vm.releaseArgs(args, kw)
			return object.None, callValue, object.Errorf(object.TypeError, "send() takes exactly one argument")
		}
		err := vm.resumeGen(t, self, args[0], post{kind: postGenNext, result: p.result})
		if err != nil && err != ErrHalted {
			return object.None, callValue, err
		}
		return object.None, callFrame, err
	case "path":
		return vm.callOS("Path."+name, prepend(vm.heap.Retain(self), args), kw, p)
	default:
		m, ok := nativeMethods[kind][name]
		if !ok {
			vm.releaseArgs(args, kw)
			return object.None, callValue, object.Errorf(object.AttributeError,
				"'%s' object has no attribute '%s'", vm.heap.TypeName(self), name)
		}
		v, err := m(vm, t, self, args, kw)
		vm.releaseArgs(args, kw)
		return v, callValue, err
	}
}

package vm

import (
	"errors"
	"hash/fnv"
	"io"
	"math"
	"math/big"
	"path"
	"strconv"
	"strings"

	"github.com/deepnoodle-ai/burrow/errz"
	"github.com/deepnoodle-ai/burrow/object"
	"github.com/deepnoodle-ai/burrow/op"
)

// builtinFunc implements a builtin. Arguments are borrowed; the result is
// owned.
type builtinFunc func(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error)

type builtin struct {
	name string
	fn   builtinFunc
	// typ marks builtins that are also types, such as int and list.
	typ bool
}

var (
	builtins     []builtin
	builtinIndex map[string]uint32
)

func init() {
	builtins = []builtin{
		{name: "print", fn: biPrint},
		{name: "len", fn: biLen},
		{name: "repr", fn: biRepr},
		{name: "str", fn: biStr, typ: true},
		{name: "int", fn: biInt, typ: true},
		{name: "float", fn: biFloat, typ: true},
		{name: "bool", fn: biBool, typ: true},
		{name: "list", fn: biList, typ: true},
		{name: "tuple", fn: biTuple, typ: true},
		{name: "dict", fn: biDict, typ: true},
		{name: "set", fn: biSet, typ: true},
		{name: "frozenset", fn: biFrozenSet, typ: true},
		{name: "range", fn: biRange, typ: true},
		{name: "type", fn: biType, typ: true},
		{name: "isinstance", fn: biIsInstance},
		{name: "issubclass", fn: biIsSubclass},
		{name: "abs", fn: biAbs},
		{name: "min", fn: biMin},
		{name: "max", fn: biMax},
		{name: "sum", fn: biSum},
		{name: "sorted", fn: biSorted},
		{name: "enumerate", fn: biEnumerate},
		{name: "next"},
		{name: "iter", fn: biIter},
		{name: "hash", fn: biHash},
		{name: "id", fn: biID},
		{name: "callable", fn: biCallable},
		{name: "gather", fn: biGather},
		{name: "gc_collect", fn: biGCCollect},
		{name: "weakref", fn: biWeakref},
		{name: "namedtuple", fn: biNamedTuple},
		{name: "dataclass_of", fn: biDataclassOf},
		{name: "Path", fn: biPath},
		{name: "getattr", fn: biGetattr},
		{name: "hasattr", fn: biHasattr},
		{name: "setattr", fn: biSetattr},
		{name: "zip", fn: biZip},
		{name: "reversed", fn: biReversed},
		{name: "any", fn: biAny},
		{name: "all", fn: biAll},
	}
	builtinIndex = make(map[string]uint32, len(builtins))
	for i, b := range builtins {
		builtinIndex[b.name] = uint32(i)
	}
}

// lookupBuiltin resolves a global name that no assignment has bound:
// builtin functions first, then builtin exception classes.
func lookupBuiltin(name string) (object.Value, bool) {
	if id, ok := builtinIndex[name]; ok {
		return object.BuiltinFunc(id), true
	}
	if typ, ok := object.ExcTypeByName(name); ok {
		return object.ExcClass(typ), true
	}
	return object.None, false
}

func builtinName(id uint32) string {
	if int(id) < len(builtins) {
		return builtins[id].name
	}
	return "<unknown>"
}

func isTypeBuiltin(v object.Value) bool {
	return v.Kind() == object.KindBuiltin && int(v.AsBuiltin()) < len(builtins) && builtins[v.AsBuiltin()].typ
}

func typeBuiltin(name string) object.Value {
	return object.BuiltinFunc(builtinIndex[name])
}

// callBuiltin calls builtin id. It consumes args and kw.
func (vm *VM) callBuiltin(t *task, id uint32, args []object.Value, kw []kwArg, p post) (object.Value, callOutcome, error) {
	if int(id) >= len(builtins) {
		vm.releaseArgs(args, kw)
		return object.None, callValue, errz.Internalf("unknown builtin %d", id)
	}
	b := builtins[id]
	if b.fn == nil {
		return vm.builtinNext(t, args, kw, p)
	}
	v, err := b.fn(vm, t, args, kw)
	vm.releaseArgs(args, kw)
	return v, callValue, err
}

// builtinNext advances an iterator. A generator without a default runs in
// the calling task so that it may await; with a default it is driven from
// native code.
func (vm *VM) builtinNext(t *task, args []object.Value, kw []kwArg, p post) (object.Value, callOutcome, error) {
	defer vm.releaseArgs(args, kw)
	if err := checkArgs("next", args, kw, 1, 2); err != nil {
		return object.None, callValue, err
	}
	it := args[0]
	if _, ok := vm.heap.Lookup(it).(*object.Generator); ok && len(args) == 1 {
		err := vm.resumeGen(t, it, object.None, post{kind: postGenNext, result: p.result})
		if err != nil && err != ErrHalted {
			return object.None, callValue, err
		}
		return object.None, callFrame, err
	}
	v, ok, err := vm.next(t, it)
	if err != nil {
		return object.None, callValue, err
	}
	if !ok {
		if len(args) == 2 {
			return vm.heap.Retain(args[1]), callValue, nil
		}
		return object.None, callValue, object.Errorf(object.StopIteration, "")
	}
	return v, callValue, nil
}

// str renders v as str() does, honoring a user __str__.
func (vm *VM) str(t *task, v object.Value) (string, error) {
	if s, ok := vm.heap.Str(v); ok {
		return s, nil
	}
	if t != nil {
		if r, found, err := vm.callSyncMethod(t, v, "__str__"); found {
			if err != nil {
				return "", err
			}
			defer vm.heap.Release(r)
			s, ok := vm.heap.Str(r)
			if !ok {
				return "", object.Errorf(object.TypeError, "__str__ returned non-string (type %s)", vm.heap.TypeName(r))
			}
			return s, nil
		}
	}
	return vm.heap.Display(v, vm.reprHook(t))
}

func (vm *VM) repr(t *task, v object.Value) (string, error) {
	return vm.heap.Repr(v, vm.reprHook(t))
}

// reprHook names functions and, when t is set, runs user __repr__
// methods.
func (vm *VM) reprHook(t *task) object.ReprHook {
	return func(v object.Value) (string, bool, error) {
		switch v.Kind() {
		case object.KindBuiltin:
			name := builtinName(v.AsBuiltin())
			if isTypeBuiltin(v) {
				return "<class '" + name + "'>", true, nil
			}
			return "<built-in function " + name + ">", true, nil
		case object.KindExtFunc:
			id := int(v.AsExtFunc())
			if id < len(vm.externals) {
				return "<function " + vm.externals[id] + ">", true, nil
			}
			return "", false, nil
		case object.KindOsFunc:
			id := int(v.AsOsFunc())
			if id < len(osFunctions) {
				return "<built-in function " + osFunctions[id] + ">", true, nil
			}
			return "", false, nil
		case object.KindRef:
		default:
			return "", false, nil
		}
		switch d := vm.heap.Lookup(v).(type) {
		case *object.Closure:
			return "<function " + funcName(vm.funcs[d.Func]) + ">", true, nil
		case *object.BoundMethod:
			name := "?"
			if cl, ok := vm.heap.Lookup(d.Func).(*object.Closure); ok {
				name = funcName(vm.funcs[cl.Func])
			}
			return "<bound method " + vm.heap.TypeName(d.Self) + "." + name + ">", true, nil
		case *object.Coroutine:
			return "<coroutine object " + funcName(vm.funcs[d.Func]) + ">", true, nil
		case *object.Generator:
			return "<generator object " + funcName(vm.funcs[d.Func]) + ">", true, nil
		case *object.Instance, *object.Dataclass:
			if t == nil {
				return "", false, nil
			}
			r, found, err := vm.callSyncMethod(t, v, "__repr__")
			if !found || err != nil {
				return "", false, err
			}
			defer vm.heap.Release(r)
			s, ok := vm.heap.Str(r)
			if !ok {
				return "", false, object.Errorf(object.TypeError, "__repr__ returned non-string (type %s)", vm.heap.TypeName(r))
			}
			return s, true, nil
		}
		return "", false, nil
	}
}

// newSet builds a set from items, which it consumes. Duplicates keep the
// first occurrence.
func (vm *VM) newSet(items []object.Value, frozen bool) (object.Value, error) {
	set := &object.Set{Frozen: frozen}
	drop := func() {
		for _, item := range set.Items {
			vm.heap.Release(item.Value)
		}
	}
	for i, v := range items {
		hk, err := vm.heap.HashKey(v)
		if err != nil {
			vm.heap.ReleaseAll(items[i:])
			drop()
			return object.None, err
		}
		if !set.Add(hk, v) {
			vm.heap.Release(v)
		}
	}
	v, err := vm.heap.New(set)
	if err != nil {
		drop()
		return object.None, err
	}
	return v, nil
}

// newDict builds a dict from alternating keys and values, which it
// consumes. A later duplicate key overwrites the value.
func (vm *VM) newDict(pairs []object.Value) (object.Value, error) {
	d := &object.Dict{}
	drop := func() {
		for _, e := range d.Entries {
			vm.heap.Release(e.K)
			vm.heap.Release(e.Value)
		}
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		hk, err := vm.heap.HashKey(pairs[i])
		if err != nil {
			vm.heap.ReleaseAll(pairs[i:])
			drop()
			return object.None, err
		}
		dup, old, _ := d.Set(hk, pairs[i], pairs[i+1])
		vm.heap.Release(dup)
		vm.heap.Release(old)
	}
	v, err := vm.heap.New(d)
	if err != nil {
		drop()
		return object.None, err
	}
	return v, nil
}

// makeClass implements MAKE_CLASS. It consumes name, bases and attrs.
func (vm *VM) makeClass(name object.Value, bases []object.Value, attrs object.Value) (object.Value, error) {
	fail := func(err error) (object.Value, error) {
		vm.heap.Release(name)
		vm.heap.ReleaseAll(bases)
		vm.heap.Release(attrs)
		return object.None, err
	}
	s, ok := vm.heap.Str(name)
	if !ok {
		return fail(object.Errorf(object.TypeError, "class name must be a string"))
	}
	for _, b := range bases {
		if _, ok := vm.heap.Lookup(b).(*object.Class); !ok {
			return fail(object.Errorf(object.TypeError, "bases must be classes, not %s", vm.heap.TypeName(b)))
		}
	}
	d, ok := vm.heap.Lookup(attrs).(*object.Dict)
	if !ok {
		return fail(errz.Internalf("MAKE_CLASS attributes are %s", vm.heap.TypeName(attrs)))
	}
	var as object.Attrs
	for _, e := range d.Entries {
		k, ok := vm.heap.Str(e.K)
		if !ok {
			for _, a := range as {
				vm.heap.Release(a.Value)
			}
			return fail(object.Errorf(object.TypeError, "class attribute names must be strings"))
		}
		as.Set(k, vm.heap.Retain(e.Value))
	}
	v, err := vm.heap.New(&object.Class{Name: s, Bases: bases, Attrs: as})
	if err != nil {
		for _, a := range as {
			vm.heap.Release(a.Value)
		}
		return fail(err)
	}
	vm.heap.Release(name)
	vm.heap.Release(attrs)
	return v, nil
}

// --- builtins ---

func biPrint(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	opts, err := keywords("print", kw, "sep", "end")
	if err != nil {
		return object.None, err
	}
	sep, end := " ", "\n"
	if v, ok := opts["sep"]; ok && !v.IsNone() {
		if sep, err = vm.strArg("print", v); err != nil {
			return object.None, err
		}
	}
	if v, ok := opts["end"]; ok && !v.IsNone() {
		if end, err = vm.strArg("print", v); err != nil {
			return object.None, err
		}
	}
	parts := make([]string, len(args))
	for i, a := range args {
		if parts[i], err = vm.str(t, a); err != nil {
			return object.None, err
		}
	}
	if _, err := io.WriteString(vm.out, strings.Join(parts, sep)+end); err != nil {
		return object.None, object.Errorf(object.OSError, "print: %v", err)
	}
	return object.None, nil
}

func biLen(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("len", args, kw, 1, 1); err != nil {
		return object.None, err
	}
	if n, ok := vm.heap.Len(args[0]); ok {
		return object.Int(int64(n)), nil
	}
	r, found, err := vm.callSyncMethod(t, args[0], "__len__")
	if !found {
		return object.None, object.Errorf(object.TypeError, "object of type '%s' has no len()", vm.heap.TypeName(args[0]))
	}
	if err != nil {
		return object.None, err
	}
	if r.Kind() != object.KindInt {
		defer vm.heap.Release(r)
		return object.None, object.Errorf(object.TypeError, "'%s' object cannot be interpreted as an integer", vm.heap.TypeName(r))
	}
	if r.AsInt() < 0 {
		return object.None, object.Errorf(object.ValueError, "__len__() should return >= 0")
	}
	return r, nil
}

func biRepr(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("repr", args, kw, 1, 1); err != nil {
		return object.None, err
	}
	s, err := vm.repr(t, args[0])
	if err != nil {
		return object.None, err
	}
	return vm.heap.NewStr(s)
}

func biStr(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("str", args, kw, 0, 1); err != nil {
		return object.None, err
	}
	if len(args) == 0 {
		return vm.heap.Intern(""), nil
	}
	if _, ok := vm.heap.Str(args[0]); ok {
		return vm.heap.Retain(args[0]), nil
	}
	s, err := vm.str(t, args[0])
	if err != nil {
		return object.None, err
	}
	return vm.heap.NewStr(s)
}

func biInt(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	opts, err := keywords("int", kw, "base")
	if err != nil {
		return object.None, err
	}
	if err := checkCount("int", len(args), 0, 2); err != nil {
		return object.None, err
	}
	if len(args) == 0 {
		return object.Int(0), nil
	}
	baseArg, hasBase := opts["base"]
	if len(args) == 2 {
		baseArg, hasBase = args[1], true
	}
	v := args[0]
	if s, ok := vm.heap.Str(v); ok {
		base := int64(10)
		if hasBase {
			if base, err = vm.intArg("int", baseArg); err != nil {
				return object.None, err
			}
			if base != 0 && (base < 2 || base > 36) {
				return object.None, object.Errorf(object.ValueError, "int() base must be >= 2 and <= 36, or 0")
			}
		}
		return vm.parseInt(s, int(base))
	}
	if hasBase {
		return object.None, object.Errorf(object.TypeError, "int() can't convert non-string with explicit base")
	}
	switch v.Kind() {
	case object.KindInt:
		return v, nil
	case object.KindBool:
		if v.AsBool() {
			return object.Int(1), nil
		}
		return object.Int(0), nil
	case object.KindFloat:
		return vm.floatToInt(v.AsFloat())
	}
	if _, ok := vm.heap.Lookup(v).(*object.BigInt); ok {
		return vm.heap.Retain(v), nil
	}
	return object.None, object.Errorf(object.TypeError,
		"int() argument must be a string or a real number, not '%s'", vm.heap.TypeName(v))
}

func (vm *VM) parseInt(s string, base int) (object.Value, error) {
	text := strings.TrimSpace(s)
	digits := strings.ReplaceAll(text, "_", "")
	if base == 16 || base == 8 || base == 2 {
		sign := ""
		if strings.HasPrefix(digits, "-") || strings.HasPrefix(digits, "+") {
			sign, digits = digits[:1], digits[1:]
		}
		prefix := map[int]string{16: "0x", 8: "0o", 2: "0b"}[base]
		if strings.HasPrefix(strings.ToLower(digits), prefix) {
			digits = digits[2:]
		}
		digits = sign + digits
	}
	n, ok := new(big.Int).SetString(digits, base)
	if !ok || text == "" || strings.Contains(text, "__") || strings.HasSuffix(text, "_") {
		q, _ := vm.heap.Repr(vm.heap.Intern(s), nil)
		return object.None, object.Errorf(object.ValueError, "invalid literal for int() with base %d: %s", base, q)
	}
	return vm.heap.NewBigInt(n)
}

func (vm *VM) floatToInt(f float64) (object.Value, error) {
	switch {
	case math.IsNaN(f):
		return object.None, object.Errorf(object.ValueError, "cannot convert float NaN to integer")
	case math.IsInf(f, 0):
		return object.None, object.Errorf(object.OverflowError, "cannot convert float infinity to integer")
	}
	f = math.Trunc(f)
	if f >= math.MinInt64 && f < math.MaxInt64 {
		return object.Int(int64(f)), nil
	}
	n, _ := new(big.Float).SetFloat64(f).Int(nil)
	return vm.heap.NewBigInt(n)
}

func biFloat(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("float", args, kw, 0, 1); err != nil {
		return object.None, err
	}
	if len(args) == 0 {
		return object.Float(0), nil
	}
	v := args[0]
	switch v.Kind() {
	case object.KindFloat:
		return v, nil
	case object.KindInt:
		return object.Float(float64(v.AsInt())), nil
	case object.KindBool:
		if v.AsBool() {
			return object.Float(1), nil
		}
		return object.Float(0), nil
	}
	if s, ok := vm.heap.Str(v); ok {
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), "_", ""), 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			q, _ := vm.heap.Repr(vm.heap.Intern(s), nil)
			return object.None, object.Errorf(object.ValueError, "could not convert string to float: %s", q)
		}
		return object.Float(f), nil
	}
	if n, ok := vm.heap.BigOf(v); ok {
		f, _ := new(big.Float).SetInt(n).Float64()
		if math.IsInf(f, 0) {
			return object.None, object.Errorf(object.OverflowError, "int too large to convert to float")
		}
		return object.Float(f), nil
	}
	return object.None, object.Errorf(object.TypeError,
		"float() argument must be a string or a real number, not '%s'", vm.heap.TypeName(v))
}

func biBool(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("bool", args, kw, 0, 1); err != nil {
		return object.None, err
	}
	if len(args) == 0 {
		return object.False, nil
	}
	return object.Bool(vm.heap.Truthy(args[0])), nil
}

func biList(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("list", args, kw, 0, 1); err != nil {
		return object.None, err
	}
	var items []object.Value
	if len(args) == 1 {
		var err error
		if items, err = vm.drain(t, args[0]); err != nil {
			return object.None, err
		}
	}
	return vm.owned(&object.List{Items: items}, items)
}

func biTuple(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("tuple", args, kw, 0, 1); err != nil {
		return object.None, err
	}
	if len(args) == 0 {
		return vm.tuple()
	}
	if _, ok := vm.heap.Lookup(args[0]).(*object.Tuple); ok {
		return vm.heap.Retain(args[0]), nil
	}
	items, err := vm.drain(t, args[0])
	if err != nil {
		return object.None, err
	}
	return vm.tuple(items...)
}

func biDict(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkCount("dict", len(args), 0, 1); err != nil {
		return object.None, err
	}
	var pairs []object.Value
	if len(args) == 1 {
		var err error
		if pairs, err = vm.pairsOf(t, args[0]); err != nil {
			return object.None, err
		}
	}
	for _, k := range kw {
		pairs = append(pairs, vm.heap.Intern(k.name), vm.heap.Retain(k.value))
	}
	return vm.newDict(pairs)
}

func (vm *VM) setFrom(name string, t *task, args []object.Value, kw []kwArg, frozen bool) (object.Value, error) {
	if err := checkArgs(name, args, kw, 0, 1); err != nil {
		return object.None, err
	}
	var items []object.Value
	if len(args) == 1 {
		var err error
		if items, err = vm.drain(t, args[0]); err != nil {
			return object.None, err
		}
	}
	return vm.newSet(items, frozen)
}

func biSet(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	return vm.setFrom("set", t, args, kw, false)
}

func biFrozenSet(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	return vm.setFrom("frozenset", t, args, kw, true)
}

func biRange(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("range", args, kw, 1, 3); err != nil {
		return object.None, err
	}
	bounds := make([]int64, len(args))
	for i, a := range args {
		n, err := vm.intArg("range", a)
		if err != nil {
			return object.None, object.Errorf(object.TypeError,
				"'%s' object cannot be interpreted as an integer", vm.heap.TypeName(a))
		}
		bounds[i] = n
	}
	r := &object.Range{Step: 1}
	switch len(bounds) {
	case 1:
		r.Stop = bounds[0]
	case 2:
		r.Start, r.Stop = bounds[0], bounds[1]
	case 3:
		r.Start, r.Stop, r.Step = bounds[0], bounds[1], bounds[2]
	}
	if r.Step == 0 {
		return object.None, object.Errorf(object.ValueError, "range() arg 3 must not be zero")
	}
	return vm.heap.New(r)
}

// kindName is the builtin type name matching v, or "" for values of user
// classes and kinds without a builtin type.
func (vm *VM) kindName(v object.Value) string {
	switch v.Kind() {
	case object.KindBool:
		return "bool"
	case object.KindInt:
		return "int"
	case object.KindFloat:
		return "float"
	case object.KindStr:
		return "str"
	case object.KindExcType:
		return "type"
	case object.KindBuiltin:
		if isTypeBuiltin(v) {
			return "type"
		}
		return ""
	}
	switch d := vm.heap.Lookup(v).(type) {
	case *object.BigInt:
		return "int"
	case *object.Str:
		return "str"
	case *object.List:
		return "list"
	case *object.Tuple:
		return "tuple"
	case *object.Dict:
		return "dict"
	case *object.Set:
		if d.Frozen {
			return "frozenset"
		}
		return "set"
	case *object.Range:
		return "range"
	case *object.Class:
		return "type"
	}
	return ""
}

// classOf returns the user class of an instance, dataclass or named tuple.
func (vm *VM) classOf(v object.Value) (object.Value, bool) {
	switch d := vm.heap.Lookup(v).(type) {
	case *object.Instance:
		return d.Class, true
	case *object.Dataclass:
		return d.Class, true
	case *object.NamedTuple:
		return d.Class, true
	}
	return object.None, false
}

// inherits reports whether cls is target or derives from it.
func (vm *VM) inherits(cls, target object.Value) bool {
	stack := []object.Value{cls}
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if c.Is(target) {
			return true
		}
		if cd, ok := vm.heap.Lookup(c).(*object.Class); ok {
			stack = append(stack, cd.Bases...)
		}
	}
	return false
}

// typeSpec calls fn for each type in a class argument: a single type or a
// tuple of them.
func (vm *VM) typeSpec(fn string, spec object.Value, match func(object.Value) (bool, error)) (bool, error) {
	if tup, ok := vm.heap.Lookup(spec).(*object.Tuple); ok {
		for _, item := range tup.Items {
			ok, err := vm.typeSpec(fn, item, match)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	}
	_, isClass := vm.heap.Lookup(spec).(*object.Class)
	if !isClass && spec.Kind() != object.KindExcType && !isTypeBuiltin(spec) {
		return false, object.Errorf(object.TypeError, "%s() arg 2 must be a type, a tuple of types, or a union", fn)
	}
	return match(spec)
}

// builtinSubtype reports whether builtin type a is b or a subtype of it.
func builtinSubtype(a, b string) bool {
	return a == b || (a == "bool" && b == "int")
}

func (vm *VM) isInstance(obj, typ object.Value) bool {
	switch {
	case typ.Kind() == object.KindExcType:
		e, ok := vm.heap.Lookup(obj).(*object.ExceptionValue)
		return ok && e.Type.IsSubclass(typ.AsExcType())
	case isTypeBuiltin(typ):
		want := builtinName(typ.AsBuiltin())
		if want == "tuple" {
			if _, ok := vm.heap.Lookup(obj).(*object.NamedTuple); ok {
				return true
			}
		}
		return builtinSubtype(vm.kindName(obj), want)
	}
	cls, ok := vm.classOf(obj)
	return ok && vm.inherits(cls, typ)
}

func biIsInstance(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("isinstance", args, kw, 2, 2); err != nil {
		return object.None, err
	}
	ok, err := vm.typeSpec("isinstance", args[1], func(typ object.Value) (bool, error) {
		return vm.isInstance(args[0], typ), nil
	})
	return object.Bool(ok), err
}

func biIsSubclass(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("issubclass", args, kw, 2, 2); err != nil {
		return object.None, err
	}
	sub := args[0]
	_, isClass := vm.heap.Lookup(sub).(*object.Class)
	if !isClass && sub.Kind() != object.KindExcType && !isTypeBuiltin(sub) {
		return object.None, object.Errorf(object.TypeError, "issubclass() arg 1 must be a class")
	}
	ok, err := vm.typeSpec("issubclass", args[1], func(typ object.Value) (bool, error) {
		switch {
		case typ.Kind() == object.KindExcType:
			return sub.Kind() == object.KindExcType && sub.AsExcType().IsSubclass(typ.AsExcType()), nil
		case isTypeBuiltin(typ):
			return isTypeBuiltin(sub) && builtinSubtype(builtinName(sub.AsBuiltin()), builtinName(typ.AsBuiltin())), nil
		}
		return isClass && vm.inherits(sub, typ), nil
	})
	return object.Bool(ok), err
}

func biType(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("type", args, kw, 1, 1); err != nil {
		return object.None, err
	}
	v := args[0]
	if cls, ok := vm.classOf(v); ok {
		return vm.heap.Retain(cls), nil
	}
	if e, ok := vm.heap.Lookup(v).(*object.ExceptionValue); ok {
		return object.ExcClass(e.Type), nil
	}
	if name := vm.kindName(v); name != "" {
		return typeBuiltin(name), nil
	}
	return object.None, object.Errorf(object.TypeError, "type() of '%s' objects is not supported", vm.heap.TypeName(v))
}

func biAbs(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("abs", args, kw, 1, 1); err != nil {
		return object.None, err
	}
	v := args[0]
	switch v.Kind() {
	case object.KindBool:
		if v.AsBool() {
			return object.Int(1), nil
		}
		return object.Int(0), nil
	case object.KindInt:
		n := v.AsInt()
		if n == math.MinInt64 {
			return vm.heap.NewBigInt(new(big.Int).Neg(big.NewInt(n)))
		}
		if n < 0 {
			n = -n
		}
		return object.Int(n), nil
	case object.KindFloat:
		return object.Float(math.Abs(v.AsFloat())), nil
	}
	if b, ok := vm.heap.Lookup(v).(*object.BigInt); ok {
		return vm.heap.NewBigInt(new(big.Int).Abs(b.N))
	}
	if r, found, err := vm.callSyncMethod(t, v, "__abs__"); found {
		return r, err
	}
	return object.None, object.Errorf(object.TypeError, "bad operand type for abs(): '%s'", vm.heap.TypeName(v))
}

// extreme implements min and max: the first item for which no later item
// compares better.
func (vm *VM) extreme(name string, t *task, args []object.Value, kw []kwArg, better op.CompareOpType) (object.Value, error) {
	opts, err := keywords(name, kw, "key", "default")
	if err != nil {
		return object.None, err
	}
	var items []object.Value
	switch len(args) {
	case 0:
		return object.None, object.Errorf(object.TypeError, "%s expected at least 1 argument, got 0", name)
	case 1:
		if items, err = vm.drain(t, args[0]); err != nil {
			return object.None, err
		}
	default:
		if _, ok := opts["default"]; ok {
			return object.None, object.Errorf(object.TypeError,
				"Cannot specify a default for %s() with multiple positional arguments", name)
		}
		items = append([]object.Value(nil), args...)
		vm.heap.RetainAll(items)
	}
	defer vm.heap.ReleaseAll(items)
	if len(items) == 0 {
		if def, ok := opts["default"]; ok {
			return vm.heap.Retain(def), nil
		}
		return object.None, object.Errorf(object.ValueError, "%s() arg is an empty sequence", name)
	}
	key := opts["key"]
	keyOf := func(v object.Value) (object.Value, error) {
		if key.IsNone() {
			return vm.heap.Retain(v), nil
		}
		return vm.callSync(t, key, []object.Value{vm.heap.Retain(v)}, nil)
	}
	best := 0
	bestKey, err := keyOf(items[0])
	if err != nil {
		return object.None, err
	}
	for i := 1; i < len(items); i++ {
		k, err := keyOf(items[i])
		if err != nil {
			vm.heap.Release(bestKey)
			return object.None, err
		}
		wins, err := vm.compareSync(t, better, k, bestKey)
		if err != nil {
			vm.heap.Release(k)
			vm.heap.Release(bestKey)
			return object.None, err
		}
		if wins {
			vm.heap.Release(bestKey)
			best, bestKey = i, k
		} else {
			vm.heap.Release(k)
		}
	}
	vm.heap.Release(bestKey)
	return vm.heap.Retain(items[best]), nil
}

func biMin(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	return vm.extreme("min", t, args, kw, op.LessThan)
}

func biMax(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	return vm.extreme("max", t, args, kw, op.GreaterThan)
}

// addSync adds b to a from native code. It consumes a and borrows b.
func (vm *VM) addSync(t *task, a, b object.Value) (object.Value, error) {
	defer vm.heap.Release(a)
	if v, ok, err := vm.heap.NativeBinary(op.Add, a, b); ok || err != nil {
		return v, err
	}
	if r, found, err := vm.callSyncMethod(t, a, "__add__", vm.heap.Retain(b)); found {
		if err != nil || r != object.NotImplemented {
			return r, err
		}
	}
	if r, found, err := vm.callSyncMethod(t, b, "__radd__", vm.heap.Retain(a)); found {
		if err != nil || r != object.NotImplemented {
			return r, err
		}
	}
	return object.None, vm.unsupported(op.Add, a, b)
}

func biSum(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	opts, err := keywords("sum", kw, "start")
	if err != nil {
		return object.None, err
	}
	if err := checkCount("sum", len(args), 1, 2); err != nil {
		return object.None, err
	}
	acc := object.Int(0)
	if v, ok := opts["start"]; ok {
		acc = v
	}
	if len(args) == 2 {
		acc = args[1]
	}
	if _, ok := vm.heap.Str(acc); ok {
		return object.None, object.Errorf(object.TypeError, "sum() can't sum strings [use ''.join(seq) instead]")
	}
	items, err := vm.drain(t, args[0])
	if err != nil {
		return object.None, err
	}
	defer vm.heap.ReleaseAll(items)
	acc = vm.heap.Retain(acc)
	for _, item := range items {
		if acc, err = vm.addSync(t, acc, item); err != nil {
			return object.None, err
		}
	}
	return acc, nil
}

func biSorted(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	opts, err := keywords("sorted", kw, "key", "reverse")
	if err != nil {
		return object.None, err
	}
	if err := checkCount("sorted", len(args), 1, 1); err != nil {
		return object.None, err
	}
	items, err := vm.drain(t, args[0])
	if err != nil {
		return object.None, err
	}
	sorted, err := vm.sortValues(t, items, opts["key"], vm.heap.Truthy(opts["reverse"]))
	if err != nil {
		vm.heap.ReleaseAll(items)
		return object.None, err
	}
	return vm.owned(&object.List{Items: sorted}, sorted)
}

func biEnumerate(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	opts, err := keywords("enumerate", kw, "start")
	if err != nil {
		return object.None, err
	}
	if err := checkCount("enumerate", len(args), 1, 2); err != nil {
		return object.None, err
	}
	var start int64
	startArg, ok := opts["start"]
	if len(args) == 2 {
		startArg, ok = args[1], true
	}
	if ok {
		if start, err = vm.intArg("enumerate", startArg); err != nil {
			return object.None, err
		}
	}
	it, err := vm.getIter(t, args[0])
	if err != nil {
		return object.None, err
	}
	v, err := vm.heap.New(&object.Iterator{Mode: object.IterEnumerate, Source: it, Pos: start})
	if err != nil {
		vm.heap.Release(it)
		return object.None, err
	}
	return v, nil
}

func biIter(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("iter", args, kw, 1, 1); err != nil {
		return object.None, err
	}
	return vm.getIter(t, args[0])
}

func biHash(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("hash", args, kw, 1, 1); err != nil {
		return object.None, err
	}
	v := args[0]
	switch v.Kind() {
	case object.KindInt:
		return v, nil
	case object.KindBool:
		if v.AsBool() {
			return object.Int(1), nil
		}
		return object.Int(0), nil
	}
	key, err := vm.heap.HashKey(v)
	if err != nil {
		return object.None, err
	}
	h := fnv.New64a()
	h.Write([]byte(key))
	return object.Int(int64(h.Sum64() >> 1)), nil
}

func biID(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("id", args, kw, 1, 1); err != nil {
		return object.None, err
	}
	if id, ok := args[0].HeapID(); ok {
		return object.Int(int64(id)), nil
	}
	key, err := vm.heap.HashKey(args[0])
	if err != nil {
		key = args[0].String()
	}
	h := fnv.New64a()
	h.Write([]byte(key))
	return object.Int(-int64(h.Sum64() >> 2)), nil
}

func biCallable(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("callable", args, kw, 1, 1); err != nil {
		return object.None, err
	}
	v := args[0]
	switch v.Kind() {
	case object.KindBuiltin, object.KindExcType, object.KindExtFunc, object.KindOsFunc:
		return object.True, nil
	}
	switch vm.heap.Lookup(v).(type) {
	case *object.Closure, *object.BoundMethod, *object.BoundNative, *object.Class, *object.ProxyMethod, *object.WeakRef:
		return object.True, nil
	case *object.Instance:
		_, ok := vm.dunder(v, "__call__")
		return object.Bool(ok), nil
	}
	return object.False, nil
}

// biGather only records its items; the work starts when it is awaited.
func biGather(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	if len(kw) > 0 {
		return object.None, object.Errorf(object.TypeError, "gather() takes no keyword arguments")
	}
	items := append([]object.Value(nil), args...)
	vm.heap.RetainAll(items)
	return vm.owned(&object.Gather{Items: items}, items)
}

func biGCCollect(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("gc_collect", args, kw, 0, 0); err != nil {
		return object.None, err
	}
	return object.Int(int64(vm.sweep(t))), nil
}

func biWeakref(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("weakref", args, kw, 1, 2); err != nil {
		return object.None, err
	}
	id, ok := args[0].HeapID()
	if !ok {
		return object.None, object.Errorf(object.TypeError, "cannot create weak reference to '%s' object", vm.heap.TypeName(args[0]))
	}
	cb := object.None
	if len(args) == 2 {
		cb = vm.heap.Retain(args[1])
	}
	v, err := vm.heap.New(vm.heap.NewWeakRef(id, cb))
	if err != nil {
		vm.heap.Release(cb)
		return object.None, err
	}
	return v, nil
}

// fieldNames reads the field list of namedtuple and dataclass_of: a
// sequence of strings or one string separated by commas or spaces.
func (vm *VM) fieldNames(fn string, t *task, v object.Value) ([]string, error) {
	var names []string
	if s, ok := vm.heap.Str(v); ok {
		names = strings.Fields(strings.ReplaceAll(s, ",", " "))
	} else {
		items, err := vm.drain(t, v)
		if err != nil {
			return nil, err
		}
		defer vm.heap.ReleaseAll(items)
		for _, item := range items {
			s, ok := vm.heap.Str(item)
			if !ok {
				return nil, object.Errorf(object.TypeError, "%s() field names must be strings", fn)
			}
			names = append(names, s)
		}
	}
	seen := map[string]bool{}
	for _, name := range names {
		if seen[name] {
			return nil, object.Errorf(object.ValueError, "Encountered duplicate field name: '%s'", name)
		}
		seen[name] = true
	}
	return names, nil
}

func biNamedTuple(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("namedtuple", args, kw, 2, 2); err != nil {
		return object.None, err
	}
	name, err := vm.strArg("namedtuple", args[0])
	if err != nil {
		return object.None, err
	}
	fields, err := vm.fieldNames("namedtuple", t, args[1])
	if err != nil {
		return object.None, err
	}
	return vm.heap.New(&object.Class{Name: name, Flavor: object.NamedTupleClass, Fields: fields})
}

func biDataclassOf(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	opts, err := keywords("dataclass_of", kw, "frozen")
	if err != nil {
		return object.None, err
	}
	if err := checkCount("dataclass_of", len(args), 2, 2); err != nil {
		return object.None, err
	}
	name, err := vm.strArg("dataclass_of", args[0])
	if err != nil {
		return object.None, err
	}
	fields, err := vm.fieldNames("dataclass_of", t, args[1])
	if err != nil {
		return object.None, err
	}
	cls := &object.Class{Name: name, Flavor: object.DataclassClass, Fields: fields, Frozen: vm.heap.Truthy(opts["frozen"])}
	return vm.heap.New(cls)
}

func biPath(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	if len(kw) > 0 {
		return object.None, object.Errorf(object.TypeError, "Path() takes no keyword arguments")
	}
	p := "."
	for i, a := range args {
		s, ok := vm.pathText(a)
		if !ok {
			return object.None, object.Errorf(object.TypeError,
				"argument should be a str or an os.PathLike object, not '%s'", vm.heap.TypeName(a))
		}
		switch {
		case i == 0 || strings.HasPrefix(s, "/"):
			p = s
		default:
			p = path.Join(p, s)
		}
	}
	if p != "." && p != "" {
		p = path.Clean(p)
	}
	return vm.heap.New(&object.Path{P: p})
}

func isAttributeError(err error) bool {
	var exc *object.Exc
	return errors.As(err, &exc) && exc.Type.IsSubclass(object.AttributeError)
}

func biGetattr(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("getattr", args, kw, 2, 3); err != nil {
		return object.None, err
	}
	name, err := vm.strArg("getattr", args[1])
	if err != nil {
		return object.None, err
	}
	v, err := vm.getAttr(t, args[0], name)
	if err != nil && len(args) == 3 && isAttributeError(err) {
		return vm.heap.Retain(args[2]), nil
	}
	return v, err
}

func biHasattr(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("hasattr", args, kw, 2, 2); err != nil {
		return object.None, err
	}
	name, err := vm.strArg("hasattr", args[1])
	if err != nil {
		return object.None, err
	}
	v, err := vm.getAttr(t, args[0], name)
	if err != nil {
		if isAttributeError(err) {
			return object.False, nil
		}
		return object.None, err
	}
	vm.heap.Release(v)
	return object.True, nil
}

func biSetattr(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("setattr", args, kw, 3, 3); err != nil {
		return object.None, err
	}
	name, err := vm.strArg("setattr", args[1])
	if err != nil {
		return object.None, err
	}
	return object.None, vm.setAttr(args[0], name, vm.heap.Retain(args[2]))
}

func biZip(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	if len(kw) > 0 {
		return object.None, object.Errorf(object.TypeError, "zip() takes no keyword arguments")
	}
	sources := make([]object.Value, 0, len(args))
	for _, a := range args {
		it, err := vm.getIter(t, a)
		if err != nil {
			vm.heap.ReleaseAll(sources)
			return object.None, err
		}
		sources = append(sources, it)
	}
	return vm.newIterator(object.IterZip, object.None, sources)
}

func biReversed(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("reversed", args, kw, 1, 1); err != nil {
		return object.None, err
	}
	seq := args[0]
	switch vm.heap.Lookup(seq).(type) {
	case *object.List, *object.Tuple, *object.NamedTuple, *object.Bytes:
		n, _ := vm.heap.Len(seq)
		v, err := vm.heap.New(&object.Iterator{Mode: object.IterReversed, Source: seq, Pos: int64(n)})
		if err != nil {
			return object.None, err
		}
		vm.heap.Retain(seq)
		return v, nil
	case *object.Dict, *object.Set, *object.Iterator, *object.Generator:
		return object.None, object.Errorf(object.TypeError, "'%s' object is not reversible", vm.heap.TypeName(seq))
	}
	items, err := vm.drain(t, seq)
	if err != nil {
		return object.None, err
	}
	list, err := vm.owned(&object.List{Items: items}, items)
	if err != nil {
		return object.None, err
	}
	defer vm.heap.Release(list)
	v, err := vm.heap.New(&object.Iterator{Mode: object.IterReversed, Source: list, Pos: int64(len(items))})
	if err != nil {
		return object.None, err
	}
	vm.heap.Retain(list)
	return v, nil
}

// truthScan stops at the first item whose truth equals stop.
func (vm *VM) truthScan(name string, t *task, args []object.Value, kw []kwArg, stop bool) (object.Value, error) {
	if err := checkArgs(name, args, kw, 1, 1); err != nil {
		return object.None, err
	}
	it, err := vm.getIter(t, args[0])
	if err != nil {
		return object.None, err
	}
	defer vm.heap.Release(it)
	for {
		v, ok, err := vm.next(t, it)
		if err != nil {
			return object.None, err
		}
		if !ok {
			return object.Bool(!stop), nil
		}
		truth := vm.heap.Truthy(v)
		vm.heap.Release(v)
		if truth == stop {
			return object.Bool(stop), nil
		}
	}
}

func biAny(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	return vm.truthScan("any", t, args, kw, true)
}

func biAll(vm *VM, t *task, args []object.Value, kw []kwArg) (object.Value, error) {
	return vm.truthScan("all", t, args, kw, false)
}

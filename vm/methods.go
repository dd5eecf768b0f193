package vm

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/deepnoodle-ai/burrow/object"
	"github.com/deepnoodle-ai/burrow/op"
)

// nativeMethod implements a method of a builtin kind. self and the
// arguments are borrowed; the result is owned.
type nativeMethod func(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error)

// nativeMethods is keyed by kind, then method name. It is filled in init
// because the methods refer back to the VM helpers that consult it.
var nativeMethods map[string]map[string]nativeMethod

func init() {
	nativeMethods = map[string]map[string]nativeMethod{
		"list": {
			"append":  listAppend,
			"pop":     listPop,
			"extend":  listExtend,
			"insert":  listInsert,
			"remove":  listRemove,
			"index":   seqIndex,
			"count":   seqCount,
			"clear":   listClear,
			"reverse": listReverse,
			"sort":    listSort,
			"copy":    listCopy,
		},
		"tuple": {
			"index": seqIndex,
			"count": seqCount,
		},
		"dict": {
			"get":        dictGet,
			"keys":       dictKeys,
			"values":     dictValues,
			"items":      dictItems,
			"pop":        dictPop,
			"setdefault": dictSetDefault,
			"update":     dictUpdate,
			"clear":      dictClear,
			"copy":       dictCopy,
		},
		"str": {
			"upper":      strUpper,
			"lower":      strLower,
			"strip":      strStrip,
			"lstrip":     strLStrip,
			"rstrip":     strRStrip,
			"split":      strSplit,
			"join":       strJoin,
			"startswith": strStartsWith,
			"endswith":   strEndsWith,
			"replace":    strReplace,
			"find":       strFind,
			"count":      strCount,
		},
		"set": {
			"add":     setAdd,
			"remove":  setRemove,
			"discard": setDiscard,
			"clear":   setClear,
			"copy":    setCopy,
		},
		"frozenset": {
			"copy": setCopy,
		},
		"bytes": {
			"decode": bytesDecode,
		},
	}
}

// checkArgs validates a positional-only native call.
func checkArgs(name string, args []object.Value, kw []kwArg, min, max int) error {
	if len(kw) > 0 {
		return object.Errorf(object.TypeError, "%s() takes no keyword arguments", name)
	}
	return checkCount(name, len(args), min, max)
}

// checkCount validates a positional argument count. A negative max means
// no upper bound.
func checkCount(name string, n, min, max int) error {
	switch {
	case min == max && n != min:
		return object.Errorf(object.TypeError, "%s() takes exactly %d argument%s (%d given)", name, min, plural(min), n)
	case n < min:
		return object.Errorf(object.TypeError, "%s() takes at least %d argument%s (%d given)", name, min, plural(min), n)
	case max >= 0 && n > max:
		return object.Errorf(object.TypeError, "%s() takes at most %d argument%s (%d given)", name, max, plural(max), n)
	}
	return nil
}

// keywords indexes keyword arguments by name, rejecting names not in
// allowed. The values are borrowed.
func keywords(name string, kw []kwArg, allowed ...string) (map[string]object.Value, error) {
	out := make(map[string]object.Value, len(kw))
	for _, k := range kw {
		ok := false
		for _, a := range allowed {
			if a == k.name {
				ok = true
				break
			}
		}
		if !ok {
			return nil, object.Errorf(object.TypeError, "%s() got an unexpected keyword argument '%s'", name, k.name)
		}
		out[k.name] = k.value
	}
	return out, nil
}

func (vm *VM) strArg(fn string, v object.Value) (string, error) {
	s, ok := vm.heap.Str(v)
	if !ok {
		return "", object.Errorf(object.TypeError, "%s() argument must be str, not %s", fn, vm.heap.TypeName(v))
	}
	return s, nil
}

func (vm *VM) intArg(fn string, v object.Value) (int64, error) {
	switch v.Kind() {
	case object.KindInt:
		return v.AsInt(), nil
	case object.KindBool:
		if v.AsBool() {
			return 1, nil
		}
		return 0, nil
	}
	return 0, object.Errorf(object.TypeError, "%s() argument must be int, not %s", fn, vm.heap.TypeName(v))
}

// --- list ---

func (vm *VM) listSelf(self object.Value) (*object.List, object.HeapID) {
	id, _ := self.HeapID()
	return vm.heap.Get(id).(*object.List), id
}

func listAppend(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("append", args, kw, 1, 1); err != nil {
		return object.None, err
	}
	d, id := vm.listSelf(self)
	d.Items = append(d.Items, vm.heap.Retain(args[0]))
	return object.None, vm.heap.Recharge(id)
}

func listPop(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("pop", args, kw, 0, 1); err != nil {
		return object.None, err
	}
	d, id := vm.listSelf(self)
	if len(d.Items) == 0 {
		return object.None, object.Errorf(object.IndexError, "pop from empty list")
	}
	i := len(d.Items) - 1
	if len(args) == 1 {
		var err error
		if i, err = vm.index(args[0], len(d.Items), "pop"); err != nil {
			return object.None, err
		}
	}
	v := d.Items[i]
	d.Items = append(d.Items[:i], d.Items[i+1:]...)
	return v, vm.heap.Recharge(id)
}

func listExtend(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("extend", args, kw, 1, 1); err != nil {
		return object.None, err
	}
	items, err := vm.drain(t, args[0])
	if err != nil {
		return object.None, err
	}
	d, id := vm.listSelf(self)
	d.Items = append(d.Items, items...)
	return object.None, vm.heap.Recharge(id)
}

func listInsert(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("insert", args, kw, 2, 2); err != nil {
		return object.None, err
	}
	i, err := vm.intArg("insert", args[0])
	if err != nil {
		return object.None, err
	}
	d, id := vm.listSelf(self)
	n := int64(len(d.Items))
	if i < 0 {
		i += n
	}
	i = max(0, min(i, n))
	d.Items = append(d.Items, object.None)
	copy(d.Items[i+1:], d.Items[i:])
	d.Items[i] = vm.heap.Retain(args[1])
	return object.None, vm.heap.Recharge(id)
}

// findItem returns the position of the first item equal to v.
func (vm *VM) findItem(t *task, items []object.Value, v object.Value) (int, error) {
	for i := 0; i < len(items); i++ {
		eq, err := vm.equalSync(t, items[i], v)
		if err != nil {
			return -1, err
		}
		if eq {
			return i, nil
		}
	}
	return -1, nil
}

func listRemove(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("remove", args, kw, 1, 1); err != nil {
		return object.None, err
	}
	d, id := vm.listSelf(self)
	i, err := vm.findItem(t, d.Items, args[0])
	if err != nil {
		return object.None, err
	}
	if i < 0 {
		return object.None, object.Errorf(object.ValueError, "list.remove(x): x not in list")
	}
	v := d.Items[i]
	d.Items = append(d.Items[:i], d.Items[i+1:]...)
	vm.heap.Release(v)
	return object.None, vm.heap.Recharge(id)
}

func seqIndex(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("index", args, kw, 1, 1); err != nil {
		return object.None, err
	}
	items, _ := vm.seqItems(self)
	i, err := vm.findItem(t, items, args[0])
	if err != nil {
		return object.None, err
	}
	if i < 0 {
		s, err := vm.repr(t, args[0])
		if err != nil {
			return object.None, err
		}
		return object.None, object.Errorf(object.ValueError, "%s is not in %s", s, vm.heap.TypeName(self))
	}
	return object.Int(int64(i)), nil
}

func seqCount(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("count", args, kw, 1, 1); err != nil {
		return object.None, err
	}
	items, _ := vm.seqItems(self)
	n := 0
	for i := 0; i < len(items); i++ {
		eq, err := vm.equalSync(t, items[i], args[0])
		if err != nil {
			return object.None, err
		}
		if eq {
			n++
		}
	}
	return object.Int(int64(n)), nil
}

func listClear(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("clear", args, kw, 0, 0); err != nil {
		return object.None, err
	}
	d, id := vm.listSelf(self)
	items := d.Items
	d.Items = nil
	vm.heap.ReleaseAll(items)
	return object.None, vm.heap.Recharge(id)
}

func listReverse(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("reverse", args, kw, 0, 0); err != nil {
		return object.None, err
	}
	d, _ := vm.listSelf(self)
	for i, j := 0, len(d.Items)-1; i < j; i, j = i+1, j-1 {
		d.Items[i], d.Items[j] = d.Items[j], d.Items[i]
	}
	return object.None, nil
}

func listSort(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if len(args) > 0 {
		return object.None, object.Errorf(object.TypeError, "sort() takes no positional arguments")
	}
	opts, err := keywords("sort", kw, "key", "reverse")
	if err != nil {
		return object.None, err
	}
	d, _ := vm.listSelf(self)
	sorted, err := vm.sortValues(t, d.Items, opts["key"], vm.heap.Truthy(opts["reverse"]))
	if err != nil {
		return object.None, err
	}
	copy(d.Items, sorted)
	return object.None, nil
}

func listCopy(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("copy", args, kw, 0, 0); err != nil {
		return object.None, err
	}
	d, _ := vm.listSelf(self)
	items := append([]object.Value(nil), d.Items...)
	vm.heap.RetainAll(items)
	return vm.owned(&object.List{Items: items}, items)
}

// sortValues returns items in ascending order, stable, comparing key(item)
// when key is not None. The returned slice holds the same borrowed values.
func (vm *VM) sortValues(t *task, items []object.Value, key object.Value, reverse bool) ([]object.Value, error) {
	keys := items
	if !key.IsNone() {
		keys = make([]object.Value, 0, len(items))
		defer func() { vm.heap.ReleaseAll(keys) }()
		for _, item := range items {
			k, err := vm.callSync(t, key, []object.Value{vm.heap.Retain(item)}, nil)
			if err != nil {
				return nil, err
			}
			keys = append(keys, k)
		}
	}
	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	var failed error
	sort.SliceStable(order, func(i, j int) bool {
		if failed != nil {
			return false
		}
		a, b := keys[order[i]], keys[order[j]]
		if reverse {
			a, b = b, a
		}
		less, err := vm.compareSync(t, op.LessThan, a, b)
		if err != nil {
			failed = err
			return false
		}
		return less
	})
	if failed != nil {
		return nil, failed
	}
	out := make([]object.Value, len(items))
	for i, idx := range order {
		out[i] = items[idx]
	}
	return out, nil
}

// --- dict ---

func (vm *VM) dictSelf(self object.Value) (*object.Dict, object.HeapID) {
	id, _ := self.HeapID()
	return vm.heap.Get(id).(*object.Dict), id
}

func dictGet(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("get", args, kw, 1, 2); err != nil {
		return object.None, err
	}
	hk, err := vm.heap.HashKey(args[0])
	if err != nil {
		return object.None, err
	}
	d, _ := vm.dictSelf(self)
	if v, ok := d.Get(hk); ok {
		return vm.heap.Retain(v), nil
	}
	if len(args) == 2 {
		return vm.heap.Retain(args[1]), nil
	}
	return object.None, nil
}

func (vm *VM) dictView(self object.Value, pick func(object.DictEntry) (object.Value, error)) (object.Value, error) {
	d, _ := vm.dictSelf(self)
	items := make([]object.Value, 0, len(d.Entries))
	for _, e := range d.Entries {
		v, err := pick(e)
		if err != nil {
			vm.heap.ReleaseAll(items)
			return object.None, err
		}
		items = append(items, v)
	}
	return vm.owned(&object.List{Items: items}, items)
}

func dictKeys(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("keys", args, kw, 0, 0); err != nil {
		return object.None, err
	}
	return vm.dictView(self, func(e object.DictEntry) (object.Value, error) { return vm.heap.Retain(e.K), nil })
}

func dictValues(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("values", args, kw, 0, 0); err != nil {
		return object.None, err
	}
	return vm.dictView(self, func(e object.DictEntry) (object.Value, error) { return vm.heap.Retain(e.Value), nil })
}

func dictItems(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("items", args, kw, 0, 0); err != nil {
		return object.None, err
	}
	return vm.dictView(self, func(e object.DictEntry) (object.Value, error) {
		return vm.tuple(vm.heap.Retain(e.K), vm.heap.Retain(e.Value))
	})
}

func dictPop(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("pop", args, kw, 1, 2); err != nil {
		return object.None, err
	}
	hk, err := vm.heap.HashKey(args[0])
	if err != nil {
		return object.None, err
	}
	d, id := vm.dictSelf(self)
	k, v, ok := d.Delete(hk)
	if !ok {
		if len(args) == 2 {
			return vm.heap.Retain(args[1]), nil
		}
		return object.None, vm.keyError(args[0])
	}
	vm.heap.Release(k)
	return v, vm.heap.Recharge(id)
}

func dictSetDefault(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("setdefault", args, kw, 1, 2); err != nil {
		return object.None, err
	}
	hk, err := vm.heap.HashKey(args[0])
	if err != nil {
		return object.None, err
	}
	d, id := vm.dictSelf(self)
	if v, ok := d.Get(hk); ok {
		return vm.heap.Retain(v), nil
	}
	def := object.None
	if len(args) == 2 {
		def = args[1]
	}
	d.Set(hk, vm.heap.Retain(args[0]), vm.heap.Retain(def))
	return vm.heap.Retain(def), vm.heap.Recharge(id)
}

func dictUpdate(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkCount("update", len(args), 0, 1); err != nil {
		return object.None, err
	}
	d, id := vm.dictSelf(self)
	if len(args) == 1 {
		pairs, err := vm.pairsOf(t, args[0])
		if err != nil {
			return object.None, err
		}
		for i := 0; i < len(pairs); i += 2 {
			if err := vm.dictSet(id, d, pairs[i], pairs[i+1]); err != nil {
				vm.heap.ReleaseAll(pairs[i+2:])
				return object.None, err
			}
		}
	}
	for _, k := range kw {
		if err := vm.dictSet(id, d, vm.heap.Intern(k.name), vm.heap.Retain(k.value)); err != nil {
			return object.None, err
		}
	}
	return object.None, nil
}

// pairsOf flattens a dict or an iterable of pairs into owned key, value
// sequences.
func (vm *VM) pairsOf(t *task, v object.Value) ([]object.Value, error) {
	if d, ok := vm.heap.Lookup(v).(*object.Dict); ok {
		out := make([]object.Value, 0, 2*len(d.Entries))
		for _, e := range d.Entries {
			out = append(out, vm.heap.Retain(e.K), vm.heap.Retain(e.Value))
		}
		return out, nil
	}
	items, err := vm.drain(t, v)
	if err != nil {
		return nil, err
	}
	defer vm.heap.ReleaseAll(items)
	out := make([]object.Value, 0, 2*len(items))
	for i, item := range items {
		kv, err := vm.drain(t, item)
		if err != nil {
			vm.heap.ReleaseAll(out)
			return nil, err
		}
		if len(kv) != 2 {
			vm.heap.ReleaseAll(kv)
			vm.heap.ReleaseAll(out)
			return nil, object.Errorf(object.ValueError,
				"dictionary update sequence element #%d has length %d; 2 is required", i, len(kv))
		}
		out = append(out, kv...)
	}
	return out, nil
}

func dictClear(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("clear", args, kw, 0, 0); err != nil {
		return object.None, err
	}
	id, _ := self.HeapID()
	return object.None, vm.heap.Clear(id)
}

func dictCopy(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("copy", args, kw, 0, 0); err != nil {
		return object.None, err
	}
	d, _ := vm.dictSelf(self)
	pairs := make([]object.Value, 0, 2*len(d.Entries))
	for _, e := range d.Entries {
		pairs = append(pairs, vm.heap.Retain(e.K), vm.heap.Retain(e.Value))
	}
	return vm.newDict(pairs)
}

// --- str ---

func strUpper(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("upper", args, kw, 0, 0); err != nil {
		return object.None, err
	}
	s, _ := vm.heap.Str(self)
	return vm.heap.NewStr(strings.ToUpper(s))
}

func strLower(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("lower", args, kw, 0, 0); err != nil {
		return object.None, err
	}
	s, _ := vm.heap.Str(self)
	return vm.heap.NewStr(strings.ToLower(s))
}

func (vm *VM) stripWith(name string, self object.Value, args []object.Value, kw []kwArg,
	space func(string) string, chars func(string, string) string) (object.Value, error) {
	if err := checkArgs(name, args, kw, 0, 1); err != nil {
		return object.None, err
	}
	s, _ := vm.heap.Str(self)
	if len(args) == 0 || args[0].IsNone() {
		return vm.heap.NewStr(space(s))
	}
	cut, err := vm.strArg(name, args[0])
	if err != nil {
		return object.None, err
	}
	return vm.heap.NewStr(chars(s, cut))
}

func strStrip(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	return vm.stripWith("strip", self, args, kw, strings.TrimSpace, strings.Trim)
}

func strLStrip(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	left := func(s string) string { return strings.TrimLeft(s, " \t\n\r\v\f") }
	return vm.stripWith("lstrip", self, args, kw, left, strings.TrimLeft)
}

func strRStrip(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	right := func(s string) string { return strings.TrimRight(s, " \t\n\r\v\f") }
	return vm.stripWith("rstrip", self, args, kw, right, strings.TrimRight)
}

func strSplit(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	opts, err := keywords("split", kw, "sep", "maxsplit")
	if err != nil {
		return object.None, err
	}
	if err := checkCount("split", len(args), 0, 2); err != nil {
		return object.None, err
	}
	sep, maxsplit := object.None, object.Int(-1)
	if len(args) > 0 {
		sep = args[0]
	} else if v, ok := opts["sep"]; ok {
		sep = v
	}
	if len(args) > 1 {
		maxsplit = args[1]
	} else if v, ok := opts["maxsplit"]; ok {
		maxsplit = v
	}
	n, err := vm.intArg("split", maxsplit)
	if err != nil {
		return object.None, err
	}
	s, _ := vm.heap.Str(self)
	var parts []string
	if sep.IsNone() {
		parts = strings.Fields(s)
		if n >= 0 && int(n) < len(parts) {
			parts = splitFieldsN(s, int(n))
		}
	} else {
		sp, err := vm.strArg("split", sep)
		if err != nil {
			return object.None, err
		}
		if sp == "" {
			return object.None, object.Errorf(object.ValueError, "empty separator")
		}
		limit := -1
		if n >= 0 {
			limit = int(n) + 1
		}
		parts = strings.SplitN(s, sp, limit)
	}
	return vm.strList(parts)
}

// splitFieldsN splits on runs of whitespace at most n times; the rest of
// the string, left-trimmed, is the final part.
func splitFieldsN(s string, n int) []string {
	var out []string
	rest := strings.TrimLeft(s, " \t\n\r\v\f")
	for len(out) < n && rest != "" {
		i := strings.IndexAny(rest, " \t\n\r\v\f")
		if i < 0 {
			break
		}
		out = append(out, rest[:i])
		rest = strings.TrimLeft(rest[i:], " \t\n\r\v\f")
	}
	if rest != "" {
		out = append(out, rest)
	}
	return out
}

func (vm *VM) strList(parts []string) (object.Value, error) {
	items := make([]object.Value, 0, len(parts))
	for _, p := range parts {
		v, err := vm.heap.NewStr(p)
		if err != nil {
			vm.heap.ReleaseAll(items)
			return object.None, err
		}
		items = append(items, v)
	}
	return vm.owned(&object.List{Items: items}, items)
}

func strJoin(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("join", args, kw, 1, 1); err != nil {
		return object.None, err
	}
	items, err := vm.drain(t, args[0])
	if err != nil {
		return object.None, err
	}
	defer vm.heap.ReleaseAll(items)
	parts := make([]string, len(items))
	for i, item := range items {
		s, ok := vm.heap.Str(item)
		if !ok {
			return object.None, object.Errorf(object.TypeError,
				"sequence item %d: expected str instance, %s found", i, vm.heap.TypeName(item))
		}
		parts[i] = s
	}
	sep, _ := vm.heap.Str(self)
	return vm.heap.NewStr(strings.Join(parts, sep))
}

// affixMatch implements startswith and endswith, which accept a string or
// a tuple of strings.
func (vm *VM) affixMatch(name string, self object.Value, args []object.Value, kw []kwArg, match func(string, string) bool) (object.Value, error) {
	if err := checkArgs(name, args, kw, 1, 1); err != nil {
		return object.None, err
	}
	s, _ := vm.heap.Str(self)
	if tup, ok := vm.heap.Lookup(args[0]).(*object.Tuple); ok {
		for _, item := range tup.Items {
			affix, err := vm.strArg(name, item)
			if err != nil {
				return object.None, err
			}
			if match(s, affix) {
				return object.True, nil
			}
		}
		return object.False, nil
	}
	affix, err := vm.strArg(name, args[0])
	if err != nil {
		return object.None, err
	}
	return object.Bool(match(s, affix)), nil
}

func strStartsWith(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	return vm.affixMatch("startswith", self, args, kw, strings.HasPrefix)
}

func strEndsWith(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	return vm.affixMatch("endswith", self, args, kw, strings.HasSuffix)
}

func strReplace(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("replace", args, kw, 2, 3); err != nil {
		return object.None, err
	}
	old, err := vm.strArg("replace", args[0])
	if err != nil {
		return object.None, err
	}
	repl, err := vm.strArg("replace", args[1])
	if err != nil {
		return object.None, err
	}
	n := int64(-1)
	if len(args) == 3 {
		if n, err = vm.intArg("replace", args[2]); err != nil {
			return object.None, err
		}
	}
	s, _ := vm.heap.Str(self)
	return vm.heap.NewStr(strings.Replace(s, old, repl, int(n)))
}

func strFind(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("find", args, kw, 1, 1); err != nil {
		return object.None, err
	}
	sub, err := vm.strArg("find", args[0])
	if err != nil {
		return object.None, err
	}
	s, _ := vm.heap.Str(self)
	i := strings.Index(s, sub)
	if i < 0 {
		return object.Int(-1), nil
	}
	return object.Int(int64(utf8.RuneCountInString(s[:i]))), nil
}

func strCount(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("count", args, kw, 1, 1); err != nil {
		return object.None, err
	}
	sub, err := vm.strArg("count", args[0])
	if err != nil {
		return object.None, err
	}
	s, _ := vm.heap.Str(self)
	if sub == "" {
		return object.Int(int64(utf8.RuneCountInString(s) + 1)), nil
	}
	return object.Int(int64(strings.Count(s, sub))), nil
}

// --- set ---

func (vm *VM) setSelf(self object.Value) (*object.Set, object.HeapID) {
	id, _ := self.HeapID()
	return vm.heap.Get(id).(*object.Set), id
}

func setAdd(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("add", args, kw, 1, 1); err != nil {
		return object.None, err
	}
	hk, err := vm.heap.HashKey(args[0])
	if err != nil {
		return object.None, err
	}
	d, id := vm.setSelf(self)
	if d.Add(hk, args[0]) {
		vm.heap.Retain(args[0])
	}
	return object.None, vm.heap.Recharge(id)
}

func (vm *VM) setDelete(name string, self object.Value, args []object.Value, kw []kwArg, missing bool) (object.Value, error) {
	if err := checkArgs(name, args, kw, 1, 1); err != nil {
		return object.None, err
	}
	hk, err := vm.heap.HashKey(args[0])
	if err != nil {
		return object.None, err
	}
	d, id := vm.setSelf(self)
	v, ok := d.Remove(hk)
	if !ok {
		if missing {
			return object.None, vm.keyError(args[0])
		}
		return object.None, nil
	}
	vm.heap.Release(v)
	return object.None, vm.heap.Recharge(id)
}

func setRemove(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	return vm.setDelete("remove", self, args, kw, true)
}

func setDiscard(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	return vm.setDelete("discard", self, args, kw, false)
}

func setClear(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("clear", args, kw, 0, 0); err != nil {
		return object.None, err
	}
	id, _ := self.HeapID()
	return object.None, vm.heap.Clear(id)
}

func setCopy(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("copy", args, kw, 0, 0); err != nil {
		return object.None, err
	}
	d, _ := vm.setSelf(self)
	items := make([]object.Value, len(d.Items))
	for i, item := range d.Items {
		items[i] = vm.heap.Retain(item.Value)
	}
	return vm.newSet(items, d.Frozen)
}

// --- bytes ---

func bytesDecode(vm *VM, t *task, self object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if err := checkArgs("decode", args, kw, 0, 1); err != nil {
		return object.None, err
	}
	if len(args) == 1 {
		enc, err := vm.strArg("decode", args[0])
		if err != nil {
			return object.None, err
		}
		if e := strings.ToLower(strings.ReplaceAll(enc, "-", "")); e != "utf8" {
			return object.None, object.Errorf(object.LookupError, "unknown encoding: %s", enc)
		}
	}
	id, _ := self.HeapID()
	b := vm.heap.Get(id).(*object.Bytes).B
	if !utf8.Valid(b) {
		return object.None, object.Errorf(object.ValueError, "'utf-8' codec can't decode bytes")
	}
	return vm.heap.NewStr(string(b))
}

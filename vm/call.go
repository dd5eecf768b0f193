package vm

import (
	"errors"
	"strings"

	"github.com/deepnoodle-ai/burrow/boundary"
	"github.com/deepnoodle-ai/burrow/bytecode"
	"github.com/deepnoodle-ai/burrow/errz"
	"github.com/deepnoodle-ai/burrow/object"
)

// kwArg is one keyword argument of a call. The value is owned.
type kwArg struct {
	name  string
	value object.Value
}

// callOutcome distinguishes a result that is available now from one that
// a pushed frame (or the host) will deliver later.
type callOutcome uint8

const (
	callValue callOutcome = iota
	callFrame
)

func (vm *VM) releaseArgs(args []object.Value, kw []kwArg) {
	vm.heap.ReleaseAll(args)
	for _, k := range kw {
		vm.heap.Release(k.value)
	}
}

func prepend(v object.Value, args []object.Value) []object.Value {
	out := make([]object.Value, 0, len(args)+1)
	out = append(out, v)
	return append(out, args...)
}

// callWith calls callee with owned args and keywords and delivers the
// result through p. The callee itself is borrowed. p is consumed on every
// path.
func (vm *VM) callWith(t *task, callee object.Value, args []object.Value, kw []kwArg, p post) error {
	v, outcome, err := vm.invoke(t, callee, args, kw, p)
	return vm.settle(t, v, outcome, err, p)
}

// settle completes a call made through invoke or one of its variants.
func (vm *VM) settle(t *task, v object.Value, outcome callOutcome, err error, p post) error {
	if outcome == callFrame {
		return err
	}
	if err != nil {
		vm.dropPost(p)
		return err
	}
	return vm.finish(t, p, v)
}

// invoke dispatches on the kind of callee. With callValue the result is
// returned and p is untouched; with callFrame p went to a pushed frame or
// a pending host request.
func (vm *VM) invoke(t *task, callee object.Value, args []object.Value, kw []kwArg, p post) (object.Value, callOutcome, error) {
	switch callee.Kind() {
	case object.KindBuiltin:
		return vm.callBuiltin(t, callee.AsBuiltin(), args, kw, p)
	case object.KindExcType:
		v, err := vm.constructException(callee.AsExcType(), args, kw)
		return v, callValue, err
	case object.KindExtFunc:
		id := int(callee.AsExtFunc())
		if id >= len(vm.externals) {
			vm.releaseArgs(args, kw)
			return object.None, callValue, errz.Internalf("unknown external function %d", id)
		}
		return vm.callExternal(vm.externals[id], args, kw, p)
	case object.KindOsFunc:
		id := int(callee.AsOsFunc())
		if id >= len(osFunctions) {
			vm.releaseArgs(args, kw)
			return object.None, callValue, errz.Internalf("unknown os function %d", id)
		}
		return vm.callOS(osFunctions[id], args, kw, p)
	case object.KindRef:
		return vm.invokeRef(t, callee, args, kw, p)
	}
	vm.releaseArgs(args, kw)
	return object.None, callValue, notCallable(vm.heap.TypeName(callee))
}

func notCallable(typeName string) error {
	return object.Errorf(object.TypeError, "'%s' object is not callable", typeName)
}

func (vm *VM) invokeRef(t *task, callee object.Value, args []object.Value, kw []kwArg, p post) (object.Value, callOutcome, error) {
	switch d := vm.heap.Lookup(callee).(type) {
	case *object.Closure:
		return vm.callClosure(t, d, args, kw, p)
	case *object.BoundMethod:
		return vm.invoke(t, d.Func, prepend(vm.heap.Retain(d.Self), args), kw, p)
	case *object.BoundNative:
		return vm.callNative(t, d.Self, d.Name, args, kw, p)
	case *object.Class:
		return vm.instantiate(t, callee, d, args, kw, p)
	case *object.ProxyMethod:
		return vm.callProxy(d.Proxy, d.Name, args, kw, p)
	case *object.WeakRef:
		vm.releaseArgs(args, kw)
		if len(args)+len(kw) > 0 {
			return object.None, callValue, object.Errorf(object.TypeError, "weakref() takes no arguments")
		}
		return vm.heap.Deref(d), callValue, nil
	case *object.Instance:
		if m, ok := vm.dunder(callee, "__call__"); ok {
			return vm.invoke(t, m, prepend(vm.heap.Retain(callee), args), kw, p)
		}
	}
	vm.releaseArgs(args, kw)
	return object.None, callValue, notCallable(vm.heap.TypeName(callee))
}

// callClosure binds arguments for a user function and starts it: a frame
// for a plain function, a Coroutine or Generator object otherwise.
func (vm *VM) callClosure(t *task, cl *object.Closure, args []object.Value, kw []kwArg, p post) (object.Value, callOutcome, error) {
	fn := vm.funcs[cl.Func]
	size := vm.funcCode[cl.Func].localCount
	var locals []object.Value
	if fn.Simple() && len(kw) == 0 && len(args) == fn.ParameterCount() {
		locals = make([]object.Value, size)
		n := copy(locals, args)
		for i := n; i < size; i++ {
			locals[i] = object.Unbound
		}
	} else {
		var err error
		locals, err = vm.bind(fn, cl, size, args, kw)
		if err != nil {
			return object.None, callValue, err
		}
	}
	switch {
	case fn.IsAsync():
		v, err := vm.heap.New(&object.Coroutine{Func: cl.Func, Locals: locals})
		if err != nil {
			vm.heap.ReleaseAll(locals)
		}
		return v, callValue, err
	case fn.IsGenerator():
		v, err := vm.heap.New(&object.Generator{Func: cl.Func, Locals: locals, State: object.GenCreated})
		if err != nil {
			vm.heap.ReleaseAll(locals)
		}
		return v, callValue, err
	}
	if err := vm.pushFrame(t, cl.Func, locals, p, object.None); err != nil {
		if err == ErrHalted {
			return object.None, callFrame, err
		}
		return object.None, callValue, err
	}
	return object.None, callFrame, nil
}

func funcName(fn *bytecode.Function) string {
	if fn.Name() == "" {
		return "<lambda>"
	}
	return fn.Name()
}

// bind lays out a call namespace: parameters, *args, **kwargs, captured
// cells, then unbound locals, with cell slots wrapped in fresh cells. It
// consumes args and kw on every path.
func (vm *VM) bind(fn *bytecode.Function, cl *object.Closure, size int, args []object.Value, kw []kwArg) ([]object.Value, error) {
	locals := make([]object.Value, size)
	for i := range locals {
		locals[i] = object.Unbound
	}
	name := funcName(fn)
	npos := fn.PositionalCount()
	nparams := fn.ParameterCount()
	fail := func(err error) ([]object.Value, error) {
		vm.heap.ReleaseAll(locals)
		for _, k := range kw {
			vm.heap.Release(k.value)
		}
		return nil, err
	}

	n := len(args)
	if n > npos {
		n = npos
	}
	copy(locals, args[:n])
	extra := args[n:]
	if fn.HasVarArgs() {
		items := append([]object.Value(nil), extra...)
		tv, err := vm.heap.New(&object.Tuple{Items: items})
		if err != nil {
			vm.heap.ReleaseAll(items)
			return fail(err)
		}
		locals[fn.VarArgsSlot()] = tv
	} else if len(extra) > 0 {
		vm.heap.ReleaseAll(extra)
		return fail(object.Errorf(object.TypeError, "%s() takes %d positional argument%s but %d %s given",
			name, npos, plural(npos), len(args), wasWere(len(args))))
	}

	var pairs []object.Value
	for i := range kw {
		k := &kw[i]
		idx := -1
		for j := 0; j < nparams; j++ {
			if fn.Parameter(j) == k.name {
				idx = j
				break
			}
		}
		switch {
		case idx >= 0 && locals[idx] != object.Unbound:
			vm.heap.ReleaseAll(pairs)
			return fail(object.Errorf(object.TypeError, "%s() got multiple values for argument '%s'", name, k.name))
		case idx >= 0:
			locals[idx] = k.value
			k.value = object.None
		case fn.HasVarKwargs():
			pairs = append(pairs, vm.heap.Intern(k.name), k.value)
			k.value = object.None
		default:
			vm.heap.ReleaseAll(pairs)
			return fail(object.Errorf(object.TypeError, "%s() got an unexpected keyword argument '%s'", name, k.name))
		}
	}
	if fn.HasVarKwargs() {
		d, err := vm.newDict(pairs)
		if err != nil {
			return fail(err)
		}
		locals[fn.VarKwargsSlot()] = d
	}

	first := npos - len(cl.Defaults)
	for i := first; i < npos; i++ {
		if i >= 0 && locals[i] == object.Unbound {
			locals[i] = vm.heap.Retain(cl.Defaults[i-first])
		}
	}
	var missing []string
	for i := 0; i < npos; i++ {
		if locals[i] == object.Unbound {
			missing = append(missing, "'"+fn.Parameter(i)+"'")
		}
	}
	if len(missing) > 0 {
		return fail(object.Errorf(object.TypeError, "%s() missing %d required positional argument%s: %s",
			name, len(missing), plural(len(missing)), joinNames(missing)))
	}
	for i := npos; i < nparams; i++ {
		if locals[i] == object.Unbound {
			missing = append(missing, "'"+fn.Parameter(i)+"'")
		}
	}
	if len(missing) > 0 {
		return fail(object.Errorf(object.TypeError, "%s() missing %d required keyword-only argument%s: %s",
			name, len(missing), plural(len(missing)), joinNames(missing)))
	}

	start := fn.FreeStart()
	for i, c := range cl.Cells {
		locals[start+i] = vm.heap.Retain(c)
	}
	for i := 0; i < fn.CellSlotCount(); i++ {
		slot := fn.CellSlotAt(i)
		cell, err := vm.heap.New(&object.Cell{Value: locals[slot]})
		if err != nil {
			return fail(err)
		}
		locals[slot] = cell
	}
	return locals, nil
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func wasWere(n int) string {
	if n == 1 {
		return "was"
	}
	return "were"
}

func joinNames(names []string) string {
	switch len(names) {
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	}
	return strings.Join(names[:len(names)-1], ", ") + ", and " + names[len(names)-1]
}

// instantiate calls a class. Named tuple and dataclass classes build their
// value directly; plain classes create an instance and run __init__.
func (vm *VM) instantiate(t *task, clsVal object.Value, cls *object.Class, args []object.Value, kw []kwArg, p post) (object.Value, callOutcome, error) {
	switch cls.Flavor {
	case object.NamedTupleClass:
		v, err := vm.newNamedTuple(clsVal, cls, args, kw)
		return v, callValue, err
	case object.DataclassClass:
		v, err := vm.newDataclass(clsVal, cls, args, kw)
		return v, callValue, err
	}
	init, hasInit := vm.classAttr(clsVal, "__init__")
	if !hasInit && len(args)+len(kw) > 0 {
		vm.releaseArgs(args, kw)
		return object.None, callValue, object.Errorf(object.TypeError, "%s() takes no arguments", cls.Name)
	}
	inst, err := vm.heap.New(&object.Instance{Class: clsVal})
	if err != nil {
		vm.releaseArgs(args, kw)
		return object.None, callValue, err
	}
	vm.heap.Retain(clsVal)
	if !hasInit {
		return inst, callValue, nil
	}
	ip := post{kind: postInit, a: inst, result: p.result}
	err = vm.callWith(t, init, prepend(vm.heap.Retain(inst), args), kw, ip)
	return object.None, callFrame, err
}

func (vm *VM) newNamedTuple(clsVal object.Value, cls *object.Class, args []object.Value, kw []kwArg) (object.Value, error) {
	items, err := vm.fieldValues(cls, args, kw)
	if err != nil {
		return object.None, err
	}
	v, err := vm.heap.New(&object.NamedTuple{Class: clsVal, Items: items})
	if err != nil {
		vm.heap.ReleaseAll(items)
		return object.None, err
	}
	vm.heap.Retain(clsVal)
	return v, nil
}

func (vm *VM) newDataclass(clsVal object.Value, cls *object.Class, args []object.Value, kw []kwArg) (object.Value, error) {
	items, err := vm.fieldValues(cls, args, kw)
	if err != nil {
		return object.None, err
	}
	attrs := make(object.Attrs, len(items))
	for i, v := range items {
		attrs[i] = object.Attr{Name: cls.Fields[i], Value: v}
	}
	v, err := vm.heap.New(&object.Dataclass{Class: clsVal, Attrs: attrs})
	if err != nil {
		vm.heap.ReleaseAll(items)
		return object.None, err
	}
	vm.heap.Retain(clsVal)
	return v, nil
}

// fieldValues matches arguments to the fields of a named tuple or
// dataclass. It consumes args and kw.
func (vm *VM) fieldValues(cls *object.Class, args []object.Value, kw []kwArg) ([]object.Value, error) {
	items := make([]object.Value, len(cls.Fields))
	for i := range items {
		items[i] = object.Unbound
	}
	fail := func(err error) ([]object.Value, error) {
		vm.heap.ReleaseAll(items)
		for _, k := range kw {
			vm.heap.Release(k.value)
		}
		return nil, err
	}
	if len(args) > len(items) {
		vm.heap.ReleaseAll(args)
		return fail(object.Errorf(object.TypeError, "%s() takes %d positional argument%s but %d %s given",
			cls.Name, len(items), plural(len(items)), len(args), wasWere(len(args))))
	}
	copy(items, args)
	for i := range kw {
		k := &kw[i]
		idx := -1
		for j, field := range cls.Fields {
			if field == k.name {
				idx = j
				break
			}
		}
		if idx < 0 {
			return fail(object.Errorf(object.TypeError, "%s() got an unexpected keyword argument '%s'", cls.Name, k.name))
		}
		if items[idx] != object.Unbound {
			return fail(object.Errorf(object.TypeError, "%s() got multiple values for argument '%s'", cls.Name, k.name))
		}
		items[idx] = k.value
		k.value = object.None
	}
	var missing []string
	for i, v := range items {
		if v == object.Unbound {
			missing = append(missing, "'"+cls.Fields[i]+"'")
		}
	}
	if len(missing) > 0 {
		return fail(object.Errorf(object.TypeError, "%s() missing %d required argument%s: %s",
			cls.Name, len(missing), plural(len(missing)), joinNames(missing)))
	}
	return items, nil
}

// callSync runs a call to completion from native code, as sorted() does
// with a key function. Host requests cannot be made from inside it.
func (vm *VM) callSync(t *task, callee object.Value, args []object.Value, kw []kwArg) (object.Value, error) {
	if vm.nested >= MaxNestedCalls {
		vm.releaseArgs(args, kw)
		return object.None, object.Errorf(object.RecursionError, "maximum recursion depth exceeded in native callback")
	}
	vm.nested++
	defer func() { vm.nested-- }()
	floor := len(t.frames)
	err := vm.callWith(t, callee, args, kw, post{result: true})
	if err == errReturn {
		v := vm.result
		vm.result = object.None
		return v, nil
	}
	if err != nil {
		vm.unwindTo(t, floor)
		return object.None, err
	}
	v, status, err := vm.eval(t, floor)
	if err != nil {
		return object.None, err
	}
	if status != statusReturned {
		vm.unwindTo(t, floor)
		return object.None, errz.Internalf("native callback suspended")
	}
	return v, nil
}

// unwindTo drops frames above floor left behind by a failed callback.
func (vm *VM) unwindTo(t *task, floor int) {
	for len(t.frames) > floor {
		vm.dropFrame(t)
	}
}

// callSyncMethod calls a dunder found on the class of recv.
func (vm *VM) callSyncMethod(t *task, recv object.Value, name string, args ...object.Value) (object.Value, bool, error) {
	m, ok := vm.dunder(recv, name)
	if !ok {
		vm.heap.ReleaseAll(args)
		return object.None, false, nil
	}
	v, err := vm.callSync(t, m, prepend(vm.heap.Retain(recv), args), nil)
	return v, true, err
}

// exportArgs converts call arguments for the host. It consumes them.
func (vm *VM) exportArgs(args []object.Value, kw []kwArg) ([]boundary.Value, boundary.Dict, error) {
	defer vm.releaseArgs(args, kw)
	out := make([]boundary.Value, len(args))
	for i, a := range args {
		bv, err := vm.toBoundary(a)
		if err != nil {
			return nil, nil, err
		}
		out[i] = bv
	}
	var kwargs boundary.Dict
	for _, k := range kw {
		bv, err := vm.toBoundary(k.value)
		if err != nil {
			return nil, nil, err
		}
		kwargs = append(kwargs, boundary.Pair{Key: boundary.Str(k.name), Value: bv})
	}
	return out, kwargs, nil
}

// hostRequest checks that a request to the host can be made from the
// current call context.
func (vm *VM) hostRequest(what, name string, p post) error {
	if vm.nested > 0 {
		return object.Errorf(object.RuntimeError, "%s '%s' cannot be called from a native callback", what, name)
	}
	if p.kind != postNone || p.result {
		return object.Errorf(object.RuntimeError, "%s '%s' cannot be used as a special method", what, name)
	}
	return nil
}

// callExternal calls a declared host function. Registered sync functions
// answer at once; any other call suspends the run.
func (vm *VM) callExternal(name string, args []object.Value, kw []kwArg, p post) (object.Value, callOutcome, error) {
	if !vm.caps.AllowsCall(name) {
		vm.releaseArgs(args, kw)
		vm.logger.Warn().Str("function", name).Msg("capability denied")
		return object.None, callValue, &errz.PermissionDenied{Operation: "call", Name: name}
	}
	fn, isSync := vm.syncFuncs[name]
	if !isSync {
		if err := vm.hostRequest("external function", name, p); err != nil {
			vm.releaseArgs(args, kw)
			return object.None, callValue, err
		}
	}
	bargs, bkw, err := vm.exportArgs(args, kw)
	if err != nil {
		return object.None, callValue, err
	}
	callID := vm.nextCallID
	vm.nextCallID++
	if isSync {
		res, err := fn(bargs, bkw)
		if err != nil {
			var be boundary.Exception
			if errors.As(err, &be) {
				return object.None, callValue, be
			}
			return object.None, callValue, object.Errorf(object.RuntimeError, "%s: %v", name, err)
		}
		if res == nil {
			res = boundary.None{}
		}
		v, err := vm.fromBoundary(res)
		return v, callValue, err
	}
	vm.pending = &pendingCall{kind: SuspendFunctionCall, callID: callID, name: name, args: bargs, kwargs: bkw}
	vm.logger.Debug().Str("function", name).Uint64("call_id", callID).Msg("external call")
	return object.None, callFrame, errSuspend
}

// callProxy calls a method of a host object.
func (vm *VM) callProxy(proxy object.Value, method string, args []object.Value, kw []kwArg, p post) (object.Value, callOutcome, error) {
	px, _ := vm.heap.Lookup(proxy).(*object.Proxy)
	name := method
	if px != nil && px.TypeName != "" {
		name = px.TypeName + "." + method
	}
	if !vm.caps.AllowsProxy() {
		vm.releaseArgs(args, kw)
		vm.logger.Warn().Str("method", name).Msg("capability denied")
		return object.None, callValue, &errz.PermissionDenied{Operation: "proxy", Name: name}
	}
	if err := vm.hostRequest("proxy method", name, p); err != nil {
		vm.releaseArgs(args, kw)
		return object.None, callValue, err
	}
	recv, err := vm.toBoundary(proxy)
	if err != nil {
		vm.releaseArgs(args, kw)
		return object.None, callValue, err
	}
	bargs, bkw, err := vm.exportArgs(args, kw)
	if err != nil {
		return object.None, callValue, err
	}
	callID := vm.nextCallID
	vm.nextCallID++
	vm.pending = &pendingCall{
		kind:   SuspendFunctionCall,
		callID: callID,
		name:   method,
		args:   append([]boundary.Value{recv}, bargs...),
		kwargs: bkw,
		method: true,
	}
	return object.None, callFrame, errSuspend
}

// callOS suspends the run with an OS call request.
func (vm *VM) callOS(name string, args []object.Value, kw []kwArg, p post) (object.Value, callOutcome, error) {
	if !vm.caps.AllowsOS() {
		vm.releaseArgs(args, kw)
		vm.logger.Warn().Str("function", name).Msg("capability denied")
		return object.None, callValue, &errz.PermissionDenied{Operation: "os", Name: name}
	}
	if err := vm.hostRequest("os function", name, p); err != nil {
		vm.releaseArgs(args, kw)
		return object.None, callValue, err
	}
	bargs, bkw, err := vm.exportArgs(args, kw)
	if err != nil {
		return object.None, callValue, err
	}
	callID := vm.nextCallID
	vm.nextCallID++
	vm.pending = &pendingCall{kind: SuspendOsCall, callID: callID, name: name, args: bargs, kwargs: bkw}
	vm.logger.Debug().Str("function", name).Uint64("call_id", callID).Msg("os call")
	return object.None, callFrame, errSuspend
}

// osFunctions are the host-mediated functions of the os module and of Path
// methods, indexed by OsFunc id.
var osFunctions = []string{
	"os.getenv",
	"os.getcwd",
	"os.listdir",
	"os.remove",
	"os.mkdir",
	"Path.exists",
	"Path.is_file",
	"Path.is_dir",
	"Path.read_text",
	"Path.write_text",
	"Path.read_bytes",
	"Path.iterdir",
}

func osFunc(name string) (object.Value, bool) {
	for i, n := range osFunctions {
		if n == name {
			return object.OsFunc(uint32(i)), true
		}
	}
	return object.None, false
}

// importModule resolves an IMPORT. Only the os module exists.
func (vm *VM) importModule(name string) (object.Value, error) {
	if name != "os" {
		return object.None, object.Errorf(object.ImportError, "No module named '%s'", name)
	}
	var attrs object.Attrs
	for i, n := range osFunctions {
		if short, ok := strings.CutPrefix(n, "os."); ok {
			attrs.Set(short, object.OsFunc(uint32(i)))
		}
	}
	attrs.Set("sep", vm.heap.Intern("/"))
	return vm.heap.New(&object.Module{Name: name, Attrs: attrs})
}

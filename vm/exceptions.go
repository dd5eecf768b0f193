package vm

import (
	"errors"

	"github.com/deepnoodle-ai/burrow/boundary"
	"github.com/deepnoodle-ai/burrow/errz"
	"github.com/deepnoodle-ai/burrow/object"
	"github.com/deepnoodle-ai/burrow/resource"
)

// exception turns an error returned by an instruction into a program
// exception on the heap. Errors that are not program exceptions are
// returned as fatal.
func (vm *VM) exception(t *task, err error) (object.Value, error) {
	var r *raised
	if errors.As(err, &r) {
		return r.exc, nil
	}
	var exc *object.Exc
	if errors.As(err, &exc) {
		return vm.newException(t, exc.Type, exc.Message), nil
	}
	var re *resource.Error
	if errors.As(err, &re) {
		if re.Kind == resource.Recursion {
			return vm.newException(t, object.RecursionError, "maximum recursion depth exceeded"), nil
		}
		return vm.newException(t, object.MemoryError, re.Error()), nil
	}
	var be boundary.Exception
	if errors.As(err, &be) {
		v := vm.hostException(be)
		vm.fillTrace(t, v)
		return v, nil
	}
	return object.None, err
}

// newException allocates an exception with a trace of t. Exceptions are
// allocated even past the memory ceiling so that MemoryError can be raised.
func (vm *VM) newException(t *task, typ object.ExcType, msg string) object.Value {
	var args []object.Value
	if msg != "" {
		args = []object.Value{object.Ref(vm.heap.AllocateForced(&object.Str{S: msg}))}
	}
	var trace []object.TraceEntry
	if t != nil {
		trace = vm.trace(t)
	}
	return object.Ref(vm.heap.AllocateForced(&object.ExceptionValue{Type: typ, Args: args, Trace: trace}))
}

// hostException converts an exception supplied by the host. Unknown type
// names become RuntimeError with the name kept in the message.
func (vm *VM) hostException(be boundary.Exception) object.Value {
	typ, ok := object.ExcTypeByName(be.Type)
	msg := be.Message
	if !ok {
		typ = object.RuntimeError
		if msg == "" {
			msg = be.Type
		} else {
			msg = be.Type + ": " + msg
		}
	}
	return vm.newException(nil, typ, msg)
}

func (vm *VM) trace(t *task) []object.TraceEntry {
	out := make([]object.TraceEntry, 0, len(t.frames))
	for _, f := range t.frames {
		loc := f.code.location(f.opIP)
		filename := f.code.code.Filename()
		if filename == "" {
			filename = vm.filename
		}
		out = append(out, object.TraceEntry{
			Function: vm.frameName(f),
			Filename: filename,
			Line:     loc.Line,
			Column:   loc.Column,
		})
	}
	return out
}

func (vm *VM) fillTrace(t *task, exc object.Value) {
	if e, ok := vm.heap.Lookup(exc).(*object.ExceptionValue); ok && len(e.Trace) == 0 {
		e.Trace = vm.trace(t)
	}
}

func (vm *VM) frameName(f *frame) string {
	if f.fn < 0 {
		return "<module>"
	}
	if name := vm.funcs[f.fn].Name(); name != "" {
		return name
	}
	return "<lambda>"
}

// raise implements the RAISE instruction for an exception instance or a
// builtin exception class.
func (vm *VM) raise(t *task, v object.Value) error {
	if v.Kind() == object.KindExcType {
		return &raised{exc: vm.newException(t, v.AsExcType(), "")}
	}
	if _, ok := vm.heap.Lookup(v).(*object.ExceptionValue); ok {
		vm.fillTrace(t, v)
		return &raised{exc: v}
	}
	vm.heap.Release(v)
	return object.Errorf(object.TypeError, "exceptions must derive from BaseException")
}

// excMatches reports whether exc is an instance of typ, a builtin
// exception class or a tuple of them.
func (vm *VM) excMatches(exc, typ object.Value) (bool, error) {
	e, ok := vm.heap.Lookup(exc).(*object.ExceptionValue)
	if !ok {
		return false, nil
	}
	if typ.Kind() == object.KindExcType {
		return e.Type.IsSubclass(typ.AsExcType()), nil
	}
	if tup, ok := vm.heap.Lookup(typ).(*object.Tuple); ok {
		for _, item := range tup.Items {
			if item.Kind() != object.KindExcType {
				return false, object.Errorf(object.TypeError,
					"catching classes that do not inherit from BaseException is not allowed")
			}
			if e.Type.IsSubclass(item.AsExcType()) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, object.Errorf(object.TypeError,
		"catching classes that do not inherit from BaseException is not allowed")
}

// constructException calls a builtin exception class.
func (vm *VM) constructException(typ object.ExcType, args []object.Value, kw []kwArg) (object.Value, error) {
	if len(kw) > 0 {
		vm.releaseArgs(args, kw)
		return object.None, object.Errorf(object.TypeError, "%s() takes no keyword arguments", typ)
	}
	id, err := vm.heap.Allocate(&object.ExceptionValue{Type: typ, Args: args})
	if err != nil {
		vm.heap.ReleaseAll(args)
		return object.None, err
	}
	return object.Ref(id), nil
}

// structuredError converts an uncaught exception into the error handed to
// the host.
func (vm *VM) structuredError(exc object.Value) *errz.StructuredError {
	e, ok := vm.heap.Lookup(exc).(*object.ExceptionValue)
	if !ok {
		return errz.NewStructuredErrorf("RuntimeError", errz.SourceLocation{}, nil, "non-exception raised")
	}
	msg, err := vm.heap.ExcMessage(e, vm.reprHook(nil))
	if err != nil {
		msg = "<exception str() failed>"
	}
	stack := make([]errz.StackFrame, len(e.Trace))
	for i, entry := range e.Trace {
		stack[len(e.Trace)-1-i] = errz.StackFrame{
			Function: entry.Function,
			Location: vm.sourceLocation(entry),
		}
	}
	var loc errz.SourceLocation
	if n := len(e.Trace); n > 0 {
		loc = vm.sourceLocation(e.Trace[n-1])
	}
	return &errz.StructuredError{
		Kind:     e.Type.String(),
		Message:  msg,
		Location: loc,
		Stack:    stack,
	}
}

func (vm *VM) sourceLocation(entry object.TraceEntry) errz.SourceLocation {
	loc := errz.SourceLocation{Filename: entry.Filename, Line: entry.Line, Column: entry.Column}
	for _, root := range vm.roots {
		name := root.Filename()
		if name == "" {
			name = vm.filename
		}
		if name == entry.Filename {
			loc.Source = root.GetSourceLine(entry.Line)
			break
		}
	}
	return loc
}

package object

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/deepnoodle-ai/burrow/boundary"
)

// ReprHook lets the caller render values whose text depends on state the
// heap does not hold, such as function names or a user-defined __repr__.
// handled is false to fall back to the default rendering.
type ReprHook func(v Value) (s string, handled bool, err error)

// TypeName returns the name of the type of v.
func (h *Heap) TypeName(v Value) string {
	switch v.kind {
	case KindNone:
		return "NoneType"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindStr:
		return "str"
	case KindBuiltin, KindOsFunc:
		return "builtin_function_or_method"
	case KindExcType:
		return "type"
	case KindExtFunc:
		return "function"
	case KindMarker:
		if v.AsMarker() == EllipsisMarker {
			return "ellipsis"
		}
		return "NotImplementedType"
	}
	switch d := h.Lookup(v).(type) {
	case *Str:
		return "str"
	case *Bytes:
		return "bytes"
	case *BigInt:
		return "int"
	case *List:
		return "list"
	case *Tuple:
		return "tuple"
	case *NamedTuple:
		return h.className(d.Class)
	case *Dict:
		return "dict"
	case *Set:
		if d.Frozen {
			return "frozenset"
		}
		return "set"
	case *Range:
		return "range"
	case *Iterator:
		return "iterator"
	case *Class:
		return "type"
	case *Instance:
		return h.className(d.Class)
	case *BoundMethod:
		return "method"
	case *BoundNative:
		return "builtin_function_or_method"
	case *Closure:
		return "function"
	case *Cell:
		return "cell"
	case *Coroutine:
		return "coroutine"
	case *Generator:
		return "generator"
	case *Gather:
		return "gather"
	case *ExternalFuture:
		return "future"
	case *Module:
		return "module"
	case *ExceptionValue:
		return d.Type.String()
	case *Dataclass:
		return h.className(d.Class)
	case *Path:
		return "PosixPath"
	case *Proxy:
		if d.TypeName != "" {
			return d.TypeName
		}
		return "proxy"
	case *ProxyMethod:
		return "method"
	case *WeakRef:
		return "weakref"
	}
	return "object"
}

type printer struct {
	h    *Heap
	hook ReprHook
	b    strings.Builder
	seen map[HeapID]bool
}

// Repr renders v the way the interpreted language's repr does. Containers
// that contain themselves render the inner occurrence as [...] or {...}.
func (h *Heap) Repr(v Value, hook ReprHook) (string, error) {
	p := &printer{h: h, hook: hook, seen: map[HeapID]bool{}}
	if err := p.repr(v); err != nil {
		return "", err
	}
	return p.b.String(), nil
}

// Display renders v the way str() does: strings are not quoted and
// exceptions show their message.
func (h *Heap) Display(v Value, hook ReprHook) (string, error) {
	if s, ok := h.Str(v); ok {
		return s, nil
	}
	if e, ok := h.Lookup(v).(*ExceptionValue); ok {
		return h.ExcMessage(e, hook)
	}
	return h.Repr(v, hook)
}

// ExcMessage returns str() of an exception: its single argument, nothing,
// or the repr of the argument tuple.
func (h *Heap) ExcMessage(e *ExceptionValue, hook ReprHook) (string, error) {
	switch len(e.Args) {
	case 0:
		return "", nil
	case 1:
		return h.Display(e.Args[0], hook)
	}
	p := &printer{h: h, hook: hook, seen: map[HeapID]bool{}}
	p.b.WriteString("(")
	if err := p.items(e.Args); err != nil {
		return "", err
	}
	p.b.WriteString(")")
	return p.b.String(), nil
}

func (p *printer) repr(v Value) error {
	switch v.kind {
	case KindNone:
		p.b.WriteString("None")
		return nil
	case KindBool:
		if v.AsBool() {
			p.b.WriteString("True")
		} else {
			p.b.WriteString("False")
		}
		return nil
	case KindInt:
		p.b.WriteString(strconv.FormatInt(v.AsInt(), 10))
		return nil
	case KindFloat:
		p.b.WriteString(boundary.FormatFloat(v.AsFloat()))
		return nil
	case KindStr:
		p.b.WriteString(boundary.QuoteString(p.h.interns.Get(v.AsStrID())))
		return nil
	case KindExcType:
		fmt.Fprintf(&p.b, "<class '%s'>", v.AsExcType())
		return nil
	case KindMarker:
		if v.AsMarker() == EllipsisMarker {
			p.b.WriteString("Ellipsis")
		} else {
			p.b.WriteString("NotImplemented")
		}
		return nil
	}
	if p.hook != nil {
		s, ok, err := p.hook(v)
		if err != nil {
			return err
		}
		if ok {
			p.b.WriteString(s)
			return nil
		}
	}
	id, ok := v.HeapID()
	if !ok {
		fmt.Fprintf(&p.b, "<%s>", p.h.TypeName(v))
		return nil
	}
	return p.ref(id)
}

func (p *printer) ref(id HeapID) error {
	data := p.h.Get(id)
	switch data.(type) {
	case *List, *Tuple, *NamedTuple, *Dict, *Set, *Dataclass, *Instance:
		if p.seen[id] {
			p.b.WriteString(cyclePlaceholder(data))
			return nil
		}
		p.seen[id] = true
		defer delete(p.seen, id)
	}
	switch d := data.(type) {
	case *Str:
		p.b.WriteString(boundary.QuoteString(d.S))
	case *Bytes:
		p.b.WriteString(boundary.QuoteBytes(d.B))
	case *BigInt:
		p.b.WriteString(d.N.String())
	case *List:
		p.b.WriteString("[")
		if err := p.items(d.Items); err != nil {
			return err
		}
		p.b.WriteString("]")
	case *Tuple:
		p.b.WriteString("(")
		if err := p.items(d.Items); err != nil {
			return err
		}
		if len(d.Items) == 1 {
			p.b.WriteString(",")
		}
		p.b.WriteString(")")
	case *NamedTuple:
		var fields []string
		if c, ok := p.h.Lookup(d.Class).(*Class); ok {
			fields = c.Fields
		}
		p.b.WriteString(p.h.className(d.Class))
		p.b.WriteString("(")
		for i, item := range d.Items {
			if i > 0 {
				p.b.WriteString(", ")
			}
			if i < len(fields) {
				p.b.WriteString(fields[i])
				p.b.WriteString("=")
			}
			if err := p.repr(item); err != nil {
				return err
			}
		}
		p.b.WriteString(")")
	case *Dict:
		p.b.WriteString("{")
		for i, e := range d.Entries {
			if i > 0 {
				p.b.WriteString(", ")
			}
			if err := p.repr(e.K); err != nil {
				return err
			}
			p.b.WriteString(": ")
			if err := p.repr(e.Value); err != nil {
				return err
			}
		}
		p.b.WriteString("}")
	case *Set:
		return p.set(d)
	case *Range:
		if d.Step == 1 {
			fmt.Fprintf(&p.b, "range(%d, %d)", d.Start, d.Stop)
		} else {
			fmt.Fprintf(&p.b, "range(%d, %d, %d)", d.Start, d.Stop, d.Step)
		}
	case *Class:
		fmt.Fprintf(&p.b, "<class '%s'>", d.Name)
	case *Instance:
		fmt.Fprintf(&p.b, "<%s object at %#x>", p.h.className(d.Class), id)
	case *Dataclass:
		p.b.WriteString(p.h.className(d.Class))
		p.b.WriteString("(")
		for i, attr := range d.Attrs {
			if i > 0 {
				p.b.WriteString(", ")
			}
			p.b.WriteString(attr.Name)
			p.b.WriteString("=")
			if err := p.repr(attr.Value); err != nil {
				return err
			}
		}
		p.b.WriteString(")")
	case *ExceptionValue:
		p.b.WriteString(d.Type.String())
		p.b.WriteString("(")
		if err := p.items(d.Args); err != nil {
			return err
		}
		p.b.WriteString(")")
	case *Path:
		fmt.Fprintf(&p.b, "PosixPath(%s)", boundary.QuoteString(d.P))
	case *Proxy:
		fmt.Fprintf(&p.b, "<%s #%d>", p.h.TypeName(Ref(id)), d.ID)
	case *Module:
		fmt.Fprintf(&p.b, "<module '%s'>", d.Name)
	case *BoundNative:
		fmt.Fprintf(&p.b, "<built-in method %s of %s object>", d.Name, p.h.TypeName(d.Self))
	case *ProxyMethod:
		fmt.Fprintf(&p.b, "<bound method %s of %s>", d.Name, p.h.TypeName(d.Proxy))
	case *ExternalFuture:
		fmt.Fprintf(&p.b, "<future call_id=%d>", d.CallID)
	default:
		fmt.Fprintf(&p.b, "<%s object at %#x>", p.h.TypeName(Ref(id)), id)
	}
	return nil
}

func (p *printer) set(d *Set) error {
	if d.Frozen {
		p.b.WriteString("frozenset(")
	}
	if len(d.Items) == 0 {
		if !d.Frozen {
			p.b.WriteString("set()")
		} else {
			p.b.WriteString(")")
		}
		return nil
	}
	p.b.WriteString("{")
	for i, item := range d.Items {
		if i > 0 {
			p.b.WriteString(", ")
		}
		if err := p.repr(item.Value); err != nil {
			return err
		}
	}
	p.b.WriteString("}")
	if d.Frozen {
		p.b.WriteString(")")
	}
	return nil
}

func (p *printer) items(vs []Value) error {
	for i, v := range vs {
		if i > 0 {
			p.b.WriteString(", ")
		}
		if err := p.repr(v); err != nil {
			return err
		}
	}
	return nil
}

func cyclePlaceholder(d Data) string {
	switch d.(type) {
	case *List:
		return "[...]"
	case *Dict, *Set:
		return "{...}"
	default:
		return "(...)"
	}
}

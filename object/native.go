package object

import (
	"bytes"
	"strings"

	"github.com/deepnoodle-ai/burrow/op"
)

// maxRepeatBytes caps the size of sequences built with *.
const maxRepeatBytes = 1 << 28

// maxEqualDepth bounds structural comparison of nested containers.
const maxEqualDepth = 256

// NativeBinary applies a binary operator to operands of builtin kinds.
// ok is false when neither operand's kind implements the operator, in which
// case the caller continues with the dunder protocol. The result is owned
// by the caller.
func (h *Heap) NativeBinary(opType op.BinaryOpType, a, b Value) (Value, bool, error) {
	an, aNum := h.number(a)
	bn, bNum := h.number(b)
	if aNum && bNum {
		return h.numBinary(opType, an, bn)
	}
	if opType == op.Multiply {
		if aNum && an.kind == numInt {
			return h.repeat(b, an.i)
		}
		if bNum && bn.kind == numInt {
			return h.repeat(a, bn.i)
		}
	}
	if aNum || bNum {
		return None, false, nil
	}
	if as, ok := h.Str(a); ok {
		if bs, ok := h.Str(b); ok && opType == op.Add {
			v, err := h.NewStr(as + bs)
			return v, true, err
		}
		return None, false, nil
	}
	ad, bd := h.Lookup(a), h.Lookup(b)
	if ad == nil || bd == nil {
		return None, false, nil
	}
	switch x := ad.(type) {
	case *Bytes:
		if y, ok := bd.(*Bytes); ok && opType == op.Add {
			v, err := h.New(&Bytes{B: append(append([]byte{}, x.B...), y.B...)})
			return v, true, err
		}
	case *List:
		if y, ok := bd.(*List); ok && opType == op.Add {
			items := h.concat(x.Items, y.Items)
			v, err := h.New(&List{Items: items})
			return h.ownedResult(v, err, items)
		}
	case *Tuple:
		if y, ok := bd.(*Tuple); ok && opType == op.Add {
			items := h.concat(x.Items, y.Items)
			v, err := h.New(&Tuple{Items: items})
			return h.ownedResult(v, err, items)
		}
	case *Dict:
		if y, ok := bd.(*Dict); ok && opType == op.BitwiseOr {
			return h.dictUnion(x, y)
		}
	case *Set:
		if y, ok := bd.(*Set); ok {
			return h.setAlgebra(opType, x, y)
		}
	}
	return None, false, nil
}

// ownedResult releases items, whose references were taken for a new
// container, when the container could not be allocated.
func (h *Heap) ownedResult(v Value, err error, items []Value) (Value, bool, error) {
	if err != nil {
		h.ReleaseAll(items)
		return None, true, err
	}
	return v, true, nil
}

func (h *Heap) concat(a, b []Value) []Value {
	items := make([]Value, 0, len(a)+len(b))
	items = append(items, a...)
	items = append(items, b...)
	h.RetainAll(items)
	return items
}

func (h *Heap) repeat(seq Value, n int64) (Value, bool, error) {
	if n < 0 {
		n = 0
	}
	if s, ok := h.Str(seq); ok {
		if int64(len(s))*n > maxRepeatBytes {
			return None, true, Errorf(MemoryError, "repeated string is too large")
		}
		v, err := h.NewStr(strings.Repeat(s, int(n)))
		return v, true, err
	}
	switch d := h.Lookup(seq).(type) {
	case *Bytes:
		if int64(len(d.B))*n > maxRepeatBytes {
			return None, true, Errorf(MemoryError, "repeated bytes are too large")
		}
		v, err := h.New(&Bytes{B: bytes.Repeat(d.B, int(n))})
		return v, true, err
	case *List:
		items, err := h.repeatItems(d.Items, n)
		if err != nil {
			return None, true, err
		}
		v, err := h.New(&List{Items: items})
		return h.ownedResult(v, err, items)
	case *Tuple:
		items, err := h.repeatItems(d.Items, n)
		if err != nil {
			return None, true, err
		}
		v, err := h.New(&Tuple{Items: items})
		return h.ownedResult(v, err, items)
	}
	return None, false, nil
}

func (h *Heap) repeatItems(src []Value, n int64) ([]Value, error) {
	if int64(len(src))*n*valueSize > maxRepeatBytes {
		return nil, Errorf(MemoryError, "repeated sequence is too large")
	}
	items := make([]Value, 0, int64(len(src))*n)
	for i := int64(0); i < n; i++ {
		items = append(items, src...)
	}
	h.RetainAll(items)
	return items, nil
}

func (h *Heap) dictUnion(x, y *Dict) (Value, bool, error) {
	out := &Dict{Entries: make([]DictEntry, 0, len(x.Entries)+len(y.Entries))}
	for _, src := range []*Dict{x, y} {
		for _, e := range src.Entries {
			k, old, replaced := out.Set(e.Key, h.Retain(e.K), h.Retain(e.Value))
			if replaced {
				h.Release(k)
				h.Release(old)
			}
		}
	}
	v, err := h.New(out)
	if err != nil {
		h.ReleaseAll(out.clear())
		return None, true, err
	}
	return v, true, nil
}

func (h *Heap) setAlgebra(opType op.BinaryOpType, x, y *Set) (Value, bool, error) {
	out := &Set{Frozen: x.Frozen}
	add := func(item SetItem) {
		if out.Add(item.Key, item.Value) {
			h.Retain(item.Value)
		}
	}
	switch opType {
	case op.BitwiseOr:
		for _, item := range x.Items {
			add(item)
		}
		for _, item := range y.Items {
			add(item)
		}
	case op.BitwiseAnd:
		for _, item := range x.Items {
			if y.Contains(item.Key) {
				add(item)
			}
		}
	case op.Subtract:
		for _, item := range x.Items {
			if !y.Contains(item.Key) {
				add(item)
			}
		}
	case op.BitwiseXor:
		for _, item := range x.Items {
			if !y.Contains(item.Key) {
				add(item)
			}
		}
		for _, item := range y.Items {
			if !x.Contains(item.Key) {
				add(item)
			}
		}
	default:
		return None, false, nil
	}
	v, err := h.New(out)
	if err != nil {
		h.ReleaseAll(out.clear())
		return None, true, err
	}
	return v, true, nil
}

// HasUserEquality reports whether v is an instance whose equality may be
// defined by user code.
func (h *Heap) HasUserEquality(v Value) bool {
	_, ok := h.Lookup(v).(*Instance)
	return ok
}

// Equal compares two values structurally. Instances compare by identity;
// callers that honor __eq__ check HasUserEquality first.
func (h *Heap) Equal(a, b Value) bool {
	return h.equal(a, b, 0)
}

func (h *Heap) equal(a, b Value, depth int) bool {
	an, aNum := h.number(a)
	bn, bNum := h.number(b)
	if aNum || bNum {
		if !aNum || !bNum {
			return false
		}
		c, ok := compareNum(an, bn)
		return ok && c == 0
	}
	if a.Is(b) {
		return true
	}
	if as, ok := h.Str(a); ok {
		bs, ok := h.Str(b)
		return ok && as == bs
	}
	if depth > maxEqualDepth {
		return false
	}
	ad, bd := h.Lookup(a), h.Lookup(b)
	if ad == nil || bd == nil {
		return false
	}
	switch x := ad.(type) {
	case *Bytes:
		y, ok := bd.(*Bytes)
		return ok && bytes.Equal(x.B, y.B)
	case *List:
		y, ok := bd.(*List)
		return ok && h.equalItems(x.Items, y.Items, depth)
	case *Tuple:
		if items, ok := tupleItems(bd); ok {
			return h.equalItems(x.Items, items, depth)
		}
	case *NamedTuple:
		if items, ok := tupleItems(bd); ok {
			return h.equalItems(x.Items, items, depth)
		}
	case *Dict:
		y, ok := bd.(*Dict)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for _, e := range x.Entries {
			v, ok := y.Get(e.Key)
			if !ok || !h.equal(e.Value, v, depth+1) {
				return false
			}
		}
		return true
	case *Set:
		y, ok := bd.(*Set)
		return ok && sameMembers(x, y)
	case *Range:
		y, ok := bd.(*Range)
		if !ok || x.Len() != y.Len() {
			return false
		}
		return x.Len() == 0 || (x.Start == y.Start && (x.Len() == 1 || x.Step == y.Step))
	case *Path:
		y, ok := bd.(*Path)
		return ok && x.P == y.P
	case *Proxy:
		y, ok := bd.(*Proxy)
		return ok && x.ID == y.ID
	case *Dataclass:
		y, ok := bd.(*Dataclass)
		if !ok || !x.Class.Is(y.Class) || len(x.Attrs) != len(y.Attrs) {
			return false
		}
		for i, attr := range x.Attrs {
			if attr.Name != y.Attrs[i].Name || !h.equal(attr.Value, y.Attrs[i].Value, depth+1) {
				return false
			}
		}
		return true
	case *BoundMethod:
		y, ok := bd.(*BoundMethod)
		return ok && x.Self.Is(y.Self) && x.Func.Is(y.Func)
	}
	return false
}

func tupleItems(d Data) ([]Value, bool) {
	switch t := d.(type) {
	case *Tuple:
		return t.Items, true
	case *NamedTuple:
		return t.Items, true
	}
	return nil, false
}

func (h *Heap) equalItems(a, b []Value, depth int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !h.equal(a[i], b[i], depth+1) {
			return false
		}
	}
	return true
}

func sameMembers(x, y *Set) bool {
	return x.Len() == y.Len() && subset(x, y)
}

func subset(x, y *Set) bool {
	for _, item := range x.Items {
		if !y.Contains(item.Key) {
			return false
		}
	}
	return true
}

// NativeCompare applies a comparison operator to operands of builtin kinds.
// Equality is answered for every pair that involves no instance; ordering
// only for numbers, strings, bytes, same-kind sequences and sets. ok is
// false when the caller must continue with the dunder protocol.
func (h *Heap) NativeCompare(opType op.CompareOpType, a, b Value) (Value, bool, error) {
	switch opType {
	case op.Equal, op.NotEqual:
		if h.HasUserEquality(a) || h.HasUserEquality(b) {
			return None, false, nil
		}
		eq := h.Equal(a, b)
		return Bool(eq == (opType == op.Equal)), true, nil
	}
	if x, ok := h.Lookup(a).(*Set); ok {
		y, ok := h.Lookup(b).(*Set)
		if !ok {
			return None, false, nil
		}
		var r bool
		switch opType {
		case op.LessThan:
			r = x.Len() < y.Len() && subset(x, y)
		case op.LessThanOrEqual:
			r = subset(x, y)
		case op.GreaterThan:
			r = x.Len() > y.Len() && subset(y, x)
		case op.GreaterThanOrEqual:
			r = subset(y, x)
		}
		return Bool(r), true, nil
	}
	c, ok, err := h.order(a, b, 0)
	if err != nil || !ok {
		return None, ok, err
	}
	return Bool(orderHolds(opType, c)), true, nil
}

// orderHolds reports whether the ordering c satisfies the operator. A NaN
// comparison is signalled with c == 2 and satisfies nothing.
func orderHolds(opType op.CompareOpType, c int) bool {
	if c == 2 {
		return false
	}
	switch opType {
	case op.LessThan:
		return c < 0
	case op.LessThanOrEqual:
		return c <= 0
	case op.GreaterThan:
		return c > 0
	case op.GreaterThanOrEqual:
		return c >= 0
	}
	return false
}

// Order compares two values for sorting. ok is false when the kinds have no
// native ordering.
func (h *Heap) Order(a, b Value) (int, bool, error) {
	c, ok, err := h.order(a, b, 0)
	if c == 2 {
		c = 0
	}
	return c, ok, err
}

func (h *Heap) order(a, b Value, depth int) (int, bool, error) {
	if an, ok := h.number(a); ok {
		bn, ok := h.number(b)
		if !ok {
			return 0, false, nil
		}
		c, ok := compareNum(an, bn)
		if !ok {
			return 2, true, nil
		}
		return c, true, nil
	}
	if as, ok := h.Str(a); ok {
		bs, ok := h.Str(b)
		if !ok {
			return 0, false, nil
		}
		return strings.Compare(as, bs), true, nil
	}
	if depth > maxEqualDepth {
		return 0, true, Errorf(RecursionError, "maximum recursion depth exceeded in comparison")
	}
	ad, bd := h.Lookup(a), h.Lookup(b)
	var xs, ys []Value
	switch x := ad.(type) {
	case *Bytes:
		y, ok := bd.(*Bytes)
		if !ok {
			return 0, false, nil
		}
		return bytes.Compare(x.B, y.B), true, nil
	case *List:
		y, ok := bd.(*List)
		if !ok {
			return 0, false, nil
		}
		xs, ys = x.Items, y.Items
	case *Tuple, *NamedTuple:
		items, ok := tupleItems(bd)
		if !ok {
			return 0, false, nil
		}
		xs, _ = tupleItems(ad)
		ys = items
	case *Path:
		y, ok := bd.(*Path)
		if !ok {
			return 0, false, nil
		}
		return strings.Compare(x.P, y.P), true, nil
	default:
		return 0, false, nil
	}
	for i := 0; i < len(xs) && i < len(ys); i++ {
		if h.Equal(xs[i], ys[i]) {
			continue
		}
		c, ok, err := h.order(xs[i], ys[i], depth+1)
		if err != nil {
			return 0, true, err
		}
		if !ok {
			return 0, true, Errorf(TypeError, "'<' not supported between instances of '%s' and '%s'",
				h.TypeName(xs[i]), h.TypeName(ys[i]))
		}
		return c, true, nil
	}
	switch {
	case len(xs) < len(ys):
		return -1, true, nil
	case len(xs) > len(ys):
		return 1, true, nil
	}
	return 0, true, nil
}

// Truthy reports the truth value of v. Instances are always true.
func (h *Heap) Truthy(v Value) bool {
	switch v.kind {
	case KindNone:
		return false
	case KindBool, KindInt:
		return v.bits != 0
	case KindFloat:
		return v.AsFloat() != 0
	case KindStr:
		return h.interns.Get(v.AsStrID()) != ""
	case KindRef:
		if n, ok := h.Len(v); ok {
			return n > 0
		}
		if b, ok := h.Lookup(v).(*BigInt); ok {
			return b.N.Sign() != 0
		}
	}
	return true
}

// Len returns the length of a builtin container or string.
func (h *Heap) Len(v Value) (int, bool) {
	if s, ok := h.Str(v); ok {
		return len([]rune(s)), true
	}
	switch d := h.Lookup(v).(type) {
	case *Bytes:
		return len(d.B), true
	case *List:
		return len(d.Items), true
	case *Tuple:
		return len(d.Items), true
	case *NamedTuple:
		return len(d.Items), true
	case *Dict:
		return d.Len(), true
	case *Set:
		return d.Len(), true
	case *Range:
		return int(d.Len()), true
	}
	return 0, false
}

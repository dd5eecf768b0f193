// Package object implements the value model of a run: the tagged Value
// union, the reference-counted heap that owns every non-immediate object,
// the exception vocabulary and the native tier of operator dispatch.
package object

import (
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
)

// Kind is the tag of a Value.
type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindInt
	KindFloat
	KindStr     // interned string
	KindBuiltin // builtin function
	KindExcType // builtin exception class
	KindExtFunc // declared external function
	KindOsFunc  // OS-mediated function
	KindMarker
	KindRef // heap reference
)

// Marker values are singletons with no data.
type Marker uint8

const (
	NotImplementedMarker Marker = iota + 1
	EllipsisMarker
	UnboundMarker
)

// HeapID is an opaque handle to a heap entry.
type HeapID uint32

// StrID identifies an interned string.
type StrID uint32

// Value is an immediate or a reference to a heap object. The zero Value is
// None. Immediates need no ownership bookkeeping; a KindRef value owns one
// reference count of its target wherever it is stored.
type Value struct {
	kind Kind
	bits uint64
}

var (
	None           = Value{}
	True           = Value{kind: KindBool, bits: 1}
	False          = Value{kind: KindBool}
	NotImplemented = Value{kind: KindMarker, bits: uint64(NotImplementedMarker)}
	Ellipsis       = Value{kind: KindMarker, bits: uint64(EllipsisMarker)}

	// Unbound fills namespace slots that have not been assigned. It is
	// never visible to programs.
	Unbound = Value{kind: KindMarker, bits: uint64(UnboundMarker)}
)

// Bool returns True or False.
func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

// Int returns an integer immediate.
func Int(i int64) Value {
	return Value{kind: KindInt, bits: uint64(i)}
}

// Float returns a float immediate.
func Float(f float64) Value {
	return Value{kind: KindFloat, bits: math.Float64bits(f)}
}

// InternedStr returns a reference to an interned string.
func InternedStr(id StrID) Value {
	return Value{kind: KindStr, bits: uint64(id)}
}

// BuiltinFunc returns a reference to a builtin function.
func BuiltinFunc(id uint32) Value {
	return Value{kind: KindBuiltin, bits: uint64(id)}
}

// ExcClass returns a reference to a builtin exception class.
func ExcClass(t ExcType) Value {
	return Value{kind: KindExcType, bits: uint64(t)}
}

// ExtFunc returns a reference to a declared external function.
func ExtFunc(id uint32) Value {
	return Value{kind: KindExtFunc, bits: uint64(id)}
}

// OsFunc returns a reference to an OS-mediated function.
func OsFunc(id uint32) Value {
	return Value{kind: KindOsFunc, bits: uint64(id)}
}

// Ref returns a reference to a heap entry. It does not touch the refcount.
func Ref(id HeapID) Value {
	return Value{kind: KindRef, bits: uint64(id)}
}

func (v Value) Kind() Kind         { return v.kind }
func (v Value) IsNone() bool       { return v.kind == KindNone }
func (v Value) IsRef() bool        { return v.kind == KindRef }
func (v Value) AsBool() bool       { return v.bits != 0 }
func (v Value) AsInt() int64       { return int64(v.bits) }
func (v Value) AsFloat() float64   { return math.Float64frombits(v.bits) }
func (v Value) AsStrID() StrID     { return StrID(v.bits) }
func (v Value) AsBuiltin() uint32  { return uint32(v.bits) }
func (v Value) AsExcType() ExcType { return ExcType(v.bits) }
func (v Value) AsExtFunc() uint32  { return uint32(v.bits) }
func (v Value) AsOsFunc() uint32   { return uint32(v.bits) }
func (v Value) AsMarker() Marker   { return Marker(v.bits) }

// HeapID returns the referenced heap entry, if v is a reference.
func (v Value) HeapID() (HeapID, bool) {
	if v.kind != KindRef {
		return 0, false
	}
	return HeapID(v.bits), true
}

// Is reports identity: same immediate or same heap entry.
func (v Value) Is(other Value) bool {
	return v == other
}

func (v Value) String() string {
	switch v.kind {
	case KindNone:
		return "None"
	case KindBool:
		if v.AsBool() {
			return "True"
		}
		return "False"
	case KindInt:
		return fmt.Sprintf("%d", v.AsInt())
	case KindFloat:
		return fmt.Sprintf("%g", v.AsFloat())
	case KindRef:
		return fmt.Sprintf("ref(%d)", v.bits)
	default:
		return fmt.Sprintf("value(%d:%d)", v.kind, v.bits)
	}
}

type valueWire struct {
	_    struct{} `cbor:",toarray"`
	Kind Kind
	Bits uint64
}

// MarshalCBOR encodes the value as a two element array.
func (v Value) MarshalCBOR() ([]byte, error) {
	return encMode.Marshal(valueWire{Kind: v.kind, Bits: v.bits})
}

// UnmarshalCBOR decodes a value encoded with MarshalCBOR.
func (v *Value) UnmarshalCBOR(data []byte) error {
	var w valueWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Kind > KindRef {
		return fmt.Errorf("object: invalid value kind %d", w.Kind)
	}
	v.kind = w.Kind
	v.bits = w.Bits
	return nil
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("object: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

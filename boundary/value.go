// Package boundary defines the closed set of values that cross between a
// run and its host. No heap handle ever appears here: values are copied out
// of the run when a request is built and copied in when the host resumes.
package boundary

import (
	"math/big"
)

// Kind identifies a boundary value variant.
type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindInt
	KindBigInt
	KindFloat
	KindStr
	KindBytes
	KindList
	KindTuple
	KindNamedTuple
	KindDict
	KindSet
	KindFrozenSet
	KindException
	KindType
	KindBuiltinFunction
	KindDataclass
	KindPath
	KindProxy
	KindRepr
	KindCycle
)

var kindNames = [...]string{
	KindNone:            "none",
	KindBool:            "bool",
	KindInt:             "int",
	KindBigInt:          "bigint",
	KindFloat:           "float",
	KindStr:             "str",
	KindBytes:           "bytes",
	KindList:            "list",
	KindTuple:           "tuple",
	KindNamedTuple:      "namedtuple",
	KindDict:            "dict",
	KindSet:             "set",
	KindFrozenSet:       "frozenset",
	KindException:       "exception",
	KindType:            "type",
	KindBuiltinFunction: "builtin_function",
	KindDataclass:       "dataclass",
	KindPath:            "path",
	KindProxy:           "proxy",
	KindRepr:            "repr",
	KindCycle:           "cycle",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Value is a host-visible value. The set of implementations is closed.
type Value interface {
	Kind() Kind
	isValue()
}

type (
	// None is the absent value.
	None struct{}
	// Bool is a boolean.
	Bool bool
	// Int is a fixed-precision integer.
	Int int64
	// BigInt is an arbitrary-precision integer outside the int64 range.
	BigInt struct{ V *big.Int }
	// Float is a double-precision float.
	Float float64
	// Str is a string.
	Str string
	// Bytes is an immutable byte string.
	Bytes []byte
	// List is a mutable sequence.
	List []Value
	// Tuple is an immutable sequence.
	Tuple []Value
	// NamedTuple is a tuple whose positions carry field names.
	NamedTuple struct {
		TypeName   string
		FieldNames []string
		Values     []Value
	}
	// Dict is an insertion-ordered mapping.
	Dict []Pair
	// Set is a mutable set, in insertion order.
	Set []Value
	// FrozenSet is an immutable set, in insertion order.
	FrozenSet []Value
	// Exception is an exception value.
	Exception struct {
		Type    string
		Message string
	}
	// Type is a reference to a class.
	Type struct{ Name string }
	// BuiltinFunction is a reference to a builtin.
	BuiltinFunction struct{ Name string }
	// Dataclass is an instance of a dataclass-shaped class.
	Dataclass struct {
		Name       string
		FieldNames []string
		Attrs      Dict
		Frozen     bool
	}
	// Path is a filesystem path.
	Path string
	// Proxy is an opaque handle to a host object.
	Proxy struct {
		ID       int64
		TypeName string
	}
	// Repr is the rendered text of a value with no boundary equivalent.
	// It is output-only.
	Repr string
	// Cycle stands in for a value already being exported higher up in the
	// same structure. It is output-only.
	Cycle struct{ Text string }
)

// Pair is one dict entry.
type Pair struct {
	Key   Value
	Value Value
}

func (None) Kind() Kind            { return KindNone }
func (Bool) Kind() Kind            { return KindBool }
func (Int) Kind() Kind             { return KindInt }
func (BigInt) Kind() Kind          { return KindBigInt }
func (Float) Kind() Kind           { return KindFloat }
func (Str) Kind() Kind             { return KindStr }
func (Bytes) Kind() Kind           { return KindBytes }
func (List) Kind() Kind            { return KindList }
func (Tuple) Kind() Kind           { return KindTuple }
func (NamedTuple) Kind() Kind      { return KindNamedTuple }
func (Dict) Kind() Kind            { return KindDict }
func (Set) Kind() Kind             { return KindSet }
func (FrozenSet) Kind() Kind       { return KindFrozenSet }
func (Exception) Kind() Kind       { return KindException }
func (Type) Kind() Kind            { return KindType }
func (BuiltinFunction) Kind() Kind { return KindBuiltinFunction }
func (Dataclass) Kind() Kind       { return KindDataclass }
func (Path) Kind() Kind            { return KindPath }
func (Proxy) Kind() Kind           { return KindProxy }
func (Repr) Kind() Kind            { return KindRepr }
func (Cycle) Kind() Kind           { return KindCycle }

func (None) isValue()            {}
func (Bool) isValue()            {}
func (Int) isValue()             {}
func (BigInt) isValue()          {}
func (Float) isValue()           {}
func (Str) isValue()             {}
func (Bytes) isValue()           {}
func (List) isValue()            {}
func (Tuple) isValue()           {}
func (NamedTuple) isValue()      {}
func (Dict) isValue()            {}
func (Set) isValue()             {}
func (FrozenSet) isValue()       {}
func (Exception) isValue()       {}
func (Type) isValue()            {}
func (BuiltinFunction) isValue() {}
func (Dataclass) isValue()       {}
func (Path) isValue()            {}
func (Proxy) isValue()           {}
func (Repr) isValue()            {}
func (Cycle) isValue()           {}

// OutputOnly reports whether v may appear in results handed to the host but
// never in values the host passes back in.
func OutputOnly(v Value) bool {
	switch v := v.(type) {
	case Repr, Cycle:
		return true
	case List:
		return anyOutputOnly(v)
	case Tuple:
		return anyOutputOnly(v)
	case Set:
		return anyOutputOnly(v)
	case FrozenSet:
		return anyOutputOnly(v)
	case NamedTuple:
		return anyOutputOnly(v.Values)
	case Dict:
		for _, p := range v {
			if OutputOnly(p.Key) || OutputOnly(p.Value) {
				return true
			}
		}
	case Dataclass:
		return OutputOnly(v.Attrs)
	}
	return false
}

func anyOutputOnly(vs []Value) bool {
	for _, v := range vs {
		if OutputOnly(v) {
			return true
		}
	}
	return false
}

// Error lets a host function return an Exception to raise it in the
// program.
func (e Exception) Error() string {
	if e.Message == "" {
		return e.Type
	}
	return e.Type + ": " + e.Message
}

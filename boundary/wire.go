package boundary

import (
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("boundary: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Wire is the serializable form of a Value. It is embedded in snapshots and
// continuations wherever a boundary value must be persisted.
type Wire struct {
	K      Kind     `cbor:"k"`
	B      bool     `cbor:"b,omitempty"`
	I      int64    `cbor:"i,omitempty"`
	N      *big.Int `cbor:"n,omitempty"`
	F      float64  `cbor:"f,omitempty"`
	S      string   `cbor:"s,omitempty"`
	Y      []byte   `cbor:"y,omitempty"`
	Names  []string `cbor:"names,omitempty"`
	Items  []Wire   `cbor:"items,omitempty"`
	Values []Wire   `cbor:"values,omitempty"`
}

// ToWire converts a value into its serializable form.
func ToWire(v Value) Wire {
	if v == nil {
		return Wire{K: KindNone}
	}
	switch v := v.(type) {
	case None:
		return Wire{K: KindNone}
	case Bool:
		return Wire{K: KindBool, B: bool(v)}
	case Int:
		return Wire{K: KindInt, I: int64(v)}
	case BigInt:
		return Wire{K: KindBigInt, N: v.V}
	case Float:
		return Wire{K: KindFloat, F: float64(v)}
	case Str:
		return Wire{K: KindStr, S: string(v)}
	case Bytes:
		return Wire{K: KindBytes, Y: []byte(v)}
	case List:
		return Wire{K: KindList, Items: toWires(v)}
	case Tuple:
		return Wire{K: KindTuple, Items: toWires(v)}
	case NamedTuple:
		return Wire{K: KindNamedTuple, S: v.TypeName, Names: v.FieldNames, Items: toWires(v.Values)}
	case Dict:
		keys, values := splitPairs(v)
		return Wire{K: KindDict, Items: keys, Values: values}
	case Set:
		return Wire{K: KindSet, Items: toWires(v)}
	case FrozenSet:
		return Wire{K: KindFrozenSet, Items: toWires(v)}
	case Exception:
		return Wire{K: KindException, S: v.Type, Names: []string{v.Message}}
	case Type:
		return Wire{K: KindType, S: v.Name}
	case BuiltinFunction:
		return Wire{K: KindBuiltinFunction, S: v.Name}
	case Dataclass:
		keys, values := splitPairs(v.Attrs)
		return Wire{K: KindDataclass, S: v.Name, Names: v.FieldNames, B: v.Frozen, Items: keys, Values: values}
	case Path:
		return Wire{K: KindPath, S: string(v)}
	case Proxy:
		return Wire{K: KindProxy, I: v.ID, S: v.TypeName}
	case Repr:
		return Wire{K: KindRepr, S: string(v)}
	case Cycle:
		return Wire{K: KindCycle, S: v.Text}
	default:
		panic(fmt.Sprintf("boundary: unknown value type %T", v))
	}
}

func toWires(vs []Value) []Wire {
	if len(vs) == 0 {
		return nil
	}
	out := make([]Wire, len(vs))
	for i, v := range vs {
		out[i] = ToWire(v)
	}
	return out
}

func splitPairs(d Dict) ([]Wire, []Wire) {
	if len(d) == 0 {
		return nil, nil
	}
	keys := make([]Wire, len(d))
	values := make([]Wire, len(d))
	for i, p := range d {
		keys[i] = ToWire(p.Key)
		values[i] = ToWire(p.Value)
	}
	return keys, values
}

// Value converts the wire form back into a value.
func (w Wire) Value() (Value, error) {
	switch w.K {
	case KindNone:
		return None{}, nil
	case KindBool:
		return Bool(w.B), nil
	case KindInt:
		return Int(w.I), nil
	case KindBigInt:
		if w.N == nil {
			return nil, fmt.Errorf("boundary: bigint without digits")
		}
		return BigInt{V: w.N}, nil
	case KindFloat:
		return Float(w.F), nil
	case KindStr:
		return Str(w.S), nil
	case KindBytes:
		return Bytes(append([]byte{}, w.Y...)), nil
	case KindList:
		items, err := fromWires(w.Items)
		return List(items), err
	case KindTuple:
		items, err := fromWires(w.Items)
		return Tuple(items), err
	case KindNamedTuple:
		items, err := fromWires(w.Items)
		if err != nil {
			return nil, err
		}
		if len(items) != len(w.Names) {
			return nil, fmt.Errorf("boundary: namedtuple %s has %d fields and %d values", w.S, len(w.Names), len(items))
		}
		return NamedTuple{TypeName: w.S, FieldNames: w.Names, Values: items}, nil
	case KindDict:
		return joinPairs(w.Items, w.Values)
	case KindSet:
		items, err := fromWires(w.Items)
		return Set(items), err
	case KindFrozenSet:
		items, err := fromWires(w.Items)
		return FrozenSet(items), err
	case KindException:
		exc := Exception{Type: w.S}
		if len(w.Names) > 0 {
			exc.Message = w.Names[0]
		}
		return exc, nil
	case KindType:
		return Type{Name: w.S}, nil
	case KindBuiltinFunction:
		return BuiltinFunction{Name: w.S}, nil
	case KindDataclass:
		attrs, err := joinPairs(w.Items, w.Values)
		if err != nil {
			return nil, err
		}
		return Dataclass{Name: w.S, FieldNames: w.Names, Attrs: attrs, Frozen: w.B}, nil
	case KindPath:
		return Path(w.S), nil
	case KindProxy:
		return Proxy{ID: w.I, TypeName: w.S}, nil
	case KindRepr:
		return Repr(w.S), nil
	case KindCycle:
		return Cycle{Text: w.S}, nil
	default:
		return nil, fmt.Errorf("boundary: unknown value kind %d", w.K)
	}
}

func fromWires(ws []Wire) ([]Value, error) {
	out := make([]Value, len(ws))
	for i, w := range ws {
		v, err := w.Value()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func joinPairs(keys, values []Wire) (Dict, error) {
	if len(keys) != len(values) {
		return nil, fmt.Errorf("boundary: dict has %d keys and %d values", len(keys), len(values))
	}
	d := make(Dict, len(keys))
	for i := range keys {
		k, err := keys[i].Value()
		if err != nil {
			return nil, err
		}
		v, err := values[i].Value()
		if err != nil {
			return nil, err
		}
		d[i] = Pair{Key: k, Value: v}
	}
	return d, nil
}

// ToWires converts a slice of values.
func ToWires(vs []Value) []Wire {
	return toWires(vs)
}

// FromWires converts a slice of wire values.
func FromWires(ws []Wire) ([]Value, error) {
	return fromWires(ws)
}

// Marshal encodes a value as canonical CBOR.
func Marshal(v Value) ([]byte, error) {
	return encMode.Marshal(ToWire(v))
}

// Unmarshal decodes a value encoded with Marshal.
func Unmarshal(data []byte) (Value, error) {
	var w Wire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("boundary: unmarshal value: %w", err)
	}
	return w.Value()
}

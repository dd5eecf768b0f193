package object

import (
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"
)

// HashKey returns the canonical key used to store v in a dict or set. Equal
// values share a key: 1, 1.0 and True all map to the same entry. Mutable
// containers are unhashable and raise TypeError.
func (h *Heap) HashKey(v Value) (string, error) {
	switch v.kind {
	case KindNone:
		return "N", nil
	case KindBool:
		if v.AsBool() {
			return "i1", nil
		}
		return "i0", nil
	case KindInt:
		return "i" + strconv.FormatInt(v.AsInt(), 10), nil
	case KindFloat:
		return floatKey(v.AsFloat()), nil
	case KindStr:
		return "s" + h.interns.Get(v.AsStrID()), nil
	case KindRef:
		return h.refKey(v)
	default:
		return "x" + strconv.Itoa(int(v.kind)) + ":" + strconv.FormatUint(v.bits, 10), nil
	}
}

func floatKey(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) {
		if f >= math.MinInt64 && f < math.MaxInt64 {
			return "i" + strconv.FormatInt(int64(f), 10)
		}
		b, _ := new(big.Float).SetFloat64(f).Int(nil)
		return "i" + b.String()
	}
	return "f" + strconv.FormatUint(math.Float64bits(f), 16)
}

func (h *Heap) refKey(v Value) (string, error) {
	id := HeapID(v.bits)
	switch d := h.Get(id).(type) {
	case *Str:
		return "s" + d.S, nil
	case *Bytes:
		return "y" + string(d.B), nil
	case *BigInt:
		return "i" + d.N.String(), nil
	case *Tuple:
		return h.seqKey(d.Items)
	case *NamedTuple:
		return h.seqKey(d.Items)
	case *Path:
		return "p" + d.P, nil
	case *Proxy:
		return "P" + strconv.FormatInt(d.ID, 10), nil
	case *Range:
		return "r" + strconv.FormatInt(d.Start, 10) + ":" + strconv.FormatInt(d.Stop, 10) + ":" + strconv.FormatInt(d.Step, 10), nil
	case *Set:
		if !d.Frozen {
			return "", Errorf(TypeError, "unhashable type: 'set'")
		}
		keys := make([]string, len(d.Items))
		for i, item := range d.Items {
			keys[i] = item.Key
		}
		sort.Strings(keys)
		return joinKeys("F", keys), nil
	case *List:
		return "", Errorf(TypeError, "unhashable type: 'list'")
	case *Dict:
		return "", Errorf(TypeError, "unhashable type: 'dict'")
	case *Dataclass:
		if !h.dataclassFrozen(d) {
			return "", Errorf(TypeError, "unhashable type: '%s'", h.className(d.Class))
		}
		vals := make([]Value, len(d.Attrs))
		for i, a := range d.Attrs {
			vals[i] = a.Value
		}
		k, err := h.seqKey(vals)
		if err != nil {
			return "", err
		}
		return "D" + strconv.FormatUint(d.Class.bits, 10) + k, nil
	default:
		return "h" + strconv.FormatUint(uint64(id), 10), nil
	}
}

func (h *Heap) seqKey(items []Value) (string, error) {
	keys := make([]string, len(items))
	for i, item := range items {
		k, err := h.HashKey(item)
		if err != nil {
			return "", err
		}
		keys[i] = k
	}
	return joinKeys("t", keys), nil
}

// joinKeys length-prefixes each key so that nested keys cannot collide.
func joinKeys(prefix string, keys []string) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(strconv.Itoa(len(keys)))
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(strconv.Itoa(len(k)))
		b.WriteByte(':')
		b.WriteString(k)
	}
	return b.String()
}

func (h *Heap) dataclassFrozen(d *Dataclass) bool {
	if c, ok := h.Lookup(d.Class).(*Class); ok {
		return c.Frozen
	}
	return false
}

func (h *Heap) className(v Value) string {
	if c, ok := h.Lookup(v).(*Class); ok {
		return c.Name
	}
	return "object"
}

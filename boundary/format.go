package boundary

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Equal reports whether two values are structurally identical. Kinds must
// match exactly: Int(1) and Float(1) are not equal here.
func Equal(a, b Value) bool {
	if a == nil {
		a = None{}
	}
	if b == nil {
		b = None{}
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch a := a.(type) {
	case None:
		return true
	case Bool, Int, Str, Path, Repr, Type, BuiltinFunction, Proxy, Exception, Cycle:
		return a == b
	case Float:
		bf := b.(Float)
		return a == bf || (math.IsNaN(float64(a)) && math.IsNaN(float64(bf)))
	case BigInt:
		return a.V.Cmp(b.(BigInt).V) == 0
	case Bytes:
		return bytes.Equal(a, b.(Bytes))
	case List:
		return equalSlices(a, b.(List))
	case Tuple:
		return equalSlices(a, b.(Tuple))
	case Set:
		return equalSlices(a, b.(Set))
	case FrozenSet:
		return equalSlices(a, b.(FrozenSet))
	case NamedTuple:
		bt := b.(NamedTuple)
		return a.TypeName == bt.TypeName && equalStrings(a.FieldNames, bt.FieldNames) && equalSlices(a.Values, bt.Values)
	case Dict:
		return equalDicts(a, b.(Dict))
	case Dataclass:
		bd := b.(Dataclass)
		return a.Name == bd.Name && a.Frozen == bd.Frozen && equalStrings(a.FieldNames, bd.FieldNames) && equalDicts(a.Attrs, bd.Attrs)
	}
	return false
}

func equalSlices(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalDicts(a, b Dict) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i].Key, b[i].Key) || !Equal(a[i].Value, b[i].Value) {
			return false
		}
	}
	return true
}

// Format renders a value the way the interpreted language's repr would.
func Format(v Value) string {
	var b strings.Builder
	format(&b, v)
	return b.String()
}

func format(b *strings.Builder, v Value) {
	if v == nil {
		b.WriteString("None")
		return
	}
	switch v := v.(type) {
	case None:
		b.WriteString("None")
	case Bool:
		if v {
			b.WriteString("True")
		} else {
			b.WriteString("False")
		}
	case Int:
		b.WriteString(strconv.FormatInt(int64(v), 10))
	case BigInt:
		b.WriteString(v.V.String())
	case Float:
		b.WriteString(FormatFloat(float64(v)))
	case Str:
		b.WriteString(QuoteString(string(v)))
	case Bytes:
		b.WriteString(QuoteBytes(v))
	case List:
		b.WriteString("[")
		formatItems(b, v)
		b.WriteString("]")
	case Tuple:
		b.WriteString("(")
		formatItems(b, v)
		if len(v) == 1 {
			b.WriteString(",")
		}
		b.WriteString(")")
	case NamedTuple:
		b.WriteString(v.TypeName)
		b.WriteString("(")
		for i, val := range v.Values {
			if i > 0 {
				b.WriteString(", ")
			}
			if i < len(v.FieldNames) {
				b.WriteString(v.FieldNames[i])
				b.WriteString("=")
			}
			format(b, val)
		}
		b.WriteString(")")
	case Dict:
		b.WriteString("{")
		for i, p := range v {
			if i > 0 {
				b.WriteString(", ")
			}
			format(b, p.Key)
			b.WriteString(": ")
			format(b, p.Value)
		}
		b.WriteString("}")
	case Set:
		if len(v) == 0 {
			b.WriteString("set()")
			return
		}
		b.WriteString("{")
		formatItems(b, v)
		b.WriteString("}")
	case FrozenSet:
		b.WriteString("frozenset(")
		if len(v) > 0 {
			b.WriteString("{")
			formatItems(b, v)
			b.WriteString("}")
		}
		b.WriteString(")")
	case Exception:
		b.WriteString(v.Type)
		b.WriteString("(")
		if v.Message != "" {
			b.WriteString(QuoteString(v.Message))
		}
		b.WriteString(")")
	case Type:
		fmt.Fprintf(b, "<class '%s'>", v.Name)
	case BuiltinFunction:
		fmt.Fprintf(b, "<built-in function %s>", v.Name)
	case Dataclass:
		b.WriteString(v.Name)
		b.WriteString("(")
		for i, p := range v.Attrs {
			if i > 0 {
				b.WriteString(", ")
			}
			if s, ok := p.Key.(Str); ok {
				b.WriteString(string(s))
			} else {
				format(b, p.Key)
			}
			b.WriteString("=")
			format(b, p.Value)
		}
		b.WriteString(")")
	case Path:
		fmt.Fprintf(b, "PosixPath(%s)", QuoteString(string(v)))
	case Proxy:
		name := v.TypeName
		if name == "" {
			name = "proxy"
		}
		fmt.Fprintf(b, "<%s #%d>", name, v.ID)
	case Repr:
		b.WriteString(string(v))
	case Cycle:
		b.WriteString(v.Text)
	}
}

func formatItems(b *strings.Builder, vs []Value) {
	for i, v := range vs {
		if i > 0 {
			b.WriteString(", ")
		}
		format(b, v)
	}
}

// FormatFloat renders a float like the interpreted language does: integral
// values keep a trailing ".0".
func FormatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	e := strconv.FormatFloat(f, 'e', -1, 64)
	mant, expText, _ := strings.Cut(e, "e")
	exp, _ := strconv.Atoi(expText)
	if exp >= -4 && exp < 16 {
		s := strconv.FormatFloat(f, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}
	sign := "+"
	if exp < 0 {
		sign = "-"
		exp = -exp
	}
	return fmt.Sprintf("%se%s%02d", mant, sign, exp)
}

// QuoteString renders a string literal with single quotes, switching to
// double quotes when the text holds a single quote and no double quote.
func QuoteString(s string) string {
	quote := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		quote = '"'
	}
	var b strings.Builder
	b.WriteByte(quote)
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r == rune(quote) {
				b.WriteByte('\\')
			}
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&b, `\x%02x`, r)
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte(quote)
	return b.String()
}

// QuoteBytes renders a bytes literal.
func QuoteBytes(data []byte) string {
	var b strings.Builder
	b.WriteString("b'")
	for _, c := range data {
		switch {
		case c == '\\':
			b.WriteString(`\\`)
		case c == '\'':
			b.WriteString(`\'`)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\t':
			b.WriteString(`\t`)
		case c == '\r':
			b.WriteString(`\r`)
		case c < 0x20 || c >= 0x7f:
			fmt.Fprintf(&b, `\x%02x`, c)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteString("'")
	return b.String()
}

// FromGo converts plain Go values into boundary values. Maps are converted
// with their keys sorted so the result is deterministic.
func FromGo(v any) (Value, error) {
	switch v := v.(type) {
	case nil:
		return None{}, nil
	case Value:
		return v, nil
	case bool:
		return Bool(v), nil
	case int:
		return Int(v), nil
	case int32:
		return Int(v), nil
	case int64:
		return Int(v), nil
	case uint32:
		return Int(v), nil
	case float32:
		return Float(v), nil
	case float64:
		return Float(v), nil
	case string:
		return Str(v), nil
	case []byte:
		return Bytes(v), nil
	case []string:
		out := make(List, len(v))
		for i, s := range v {
			out[i] = Str(s)
		}
		return out, nil
	case []any:
		out := make(List, len(v))
		for i, item := range v {
			bv, err := FromGo(item)
			if err != nil {
				return nil, err
			}
			out[i] = bv
		}
		return out, nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(Dict, 0, len(v))
		for _, k := range keys {
			bv, err := FromGo(v[k])
			if err != nil {
				return nil, err
			}
			out = append(out, Pair{Key: Str(k), Value: bv})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("boundary: unsupported Go type %T", v)
	}
}

// ToGo converts a value into plain Go data: nil, bool, int64, float64,
// string, []byte, []any and map[string]any. Dicts with non-string keys and
// kinds with no plain equivalent are rendered with Format.
func ToGo(v Value) any {
	switch v := v.(type) {
	case nil, None:
		return nil
	case Bool:
		return bool(v)
	case Int:
		return int64(v)
	case BigInt:
		return v.V.String()
	case Float:
		return float64(v)
	case Str:
		return string(v)
	case Bytes:
		return []byte(v)
	case Path:
		return string(v)
	case List:
		return sliceToGo(v)
	case Tuple:
		return sliceToGo(v)
	case Set:
		return sliceToGo(v)
	case FrozenSet:
		return sliceToGo(v)
	case NamedTuple:
		m := make(map[string]any, len(v.Values))
		for i, val := range v.Values {
			if i < len(v.FieldNames) {
				m[v.FieldNames[i]] = ToGo(val)
			}
		}
		return m
	case Dict:
		return dictToGo(v)
	case Dataclass:
		return dictToGo(v.Attrs)
	default:
		return Format(v)
	}
}

func sliceToGo(vs []Value) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = ToGo(v)
	}
	return out
}

func dictToGo(d Dict) any {
	m := make(map[string]any, len(d))
	for _, p := range d {
		key, ok := p.Key.(Str)
		if !ok {
			return Format(d)
		}
		m[string(key)] = ToGo(p.Value)
	}
	return m
}

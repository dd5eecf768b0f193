package object

import (
	"math"
	"math/big"

	"github.com/deepnoodle-ai/burrow/op"
)

const (
	numInt uint8 = iota + 1
	numFloat
	numBig
)

// maxBigBits caps the size of integers produced by ** and <<.
const maxBigBits = 1 << 22

type num struct {
	kind uint8
	i    int64
	f    float64
	b    *big.Int
}

func (n num) big() *big.Int {
	if n.kind == numBig {
		return n.b
	}
	return big.NewInt(n.i)
}

func (n num) float() float64 {
	switch n.kind {
	case numInt:
		return float64(n.i)
	case numBig:
		f, _ := new(big.Float).SetInt(n.b).Float64()
		return f
	default:
		return n.f
	}
}

// number returns the numeric view of v. Bools are integers.
func (h *Heap) number(v Value) (num, bool) {
	switch v.kind {
	case KindBool, KindInt:
		return num{kind: numInt, i: int64(v.bits)}, true
	case KindFloat:
		return num{kind: numFloat, f: v.AsFloat()}, true
	case KindRef:
		if b, ok := h.Get(HeapID(v.bits)).(*BigInt); ok {
			return num{kind: numBig, b: b.N}, true
		}
	}
	return num{}, false
}

// IsNumber reports whether v is a bool, int, float or big integer.
func (h *Heap) IsNumber(v Value) bool {
	_, ok := h.number(v)
	return ok
}

// NewBigInt stores n, normalizing to an int immediate when it fits.
func (h *Heap) NewBigInt(n *big.Int) (Value, error) {
	if n.IsInt64() {
		return Int(n.Int64()), nil
	}
	return h.New(&BigInt{N: n})
}

// BigOf returns the arbitrary-precision value of an integer, if v is one.
func (h *Heap) BigOf(v Value) (*big.Int, bool) {
	n, ok := h.number(v)
	if !ok || n.kind == numFloat {
		return nil, false
	}
	return n.big(), true
}

func (h *Heap) numBinary(opType op.BinaryOpType, a, b num) (Value, bool, error) {
	if a.kind == numFloat || b.kind == numFloat {
		return floatBinary(opType, a.float(), b.float())
	}
	if a.kind == numInt && b.kind == numInt {
		if v, ok, err, done := intBinary(opType, a.i, b.i); done {
			return v, ok, err
		}
	}
	return h.bigBinary(opType, a, b)
}

func floatBinary(opType op.BinaryOpType, a, b float64) (Value, bool, error) {
	switch opType {
	case op.Add:
		return Float(a + b), true, nil
	case op.Subtract:
		return Float(a - b), true, nil
	case op.Multiply:
		return Float(a * b), true, nil
	case op.Divide:
		if b == 0 {
			return None, true, Errorf(ZeroDivisionError, "float division by zero")
		}
		return Float(a / b), true, nil
	case op.FloorDivide:
		if b == 0 {
			return None, true, Errorf(ZeroDivisionError, "float floor division by zero")
		}
		return Float(math.Floor(a / b)), true, nil
	case op.Modulo:
		if b == 0 {
			return None, true, Errorf(ZeroDivisionError, "float modulo")
		}
		return Float(floatMod(a, b)), true, nil
	case op.Power:
		if a == 0 && b < 0 {
			return None, true, Errorf(ZeroDivisionError, "0.0 cannot be raised to a negative power")
		}
		return Float(math.Pow(a, b)), true, nil
	}
	return None, false, nil
}

func floatMod(a, b float64) float64 {
	r := math.Mod(a, b)
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r
}

// intBinary handles int64 operands. done is false when the result does not
// fit and the big integer path must take over.
func intBinary(opType op.BinaryOpType, a, b int64) (v Value, ok bool, err error, done bool) {
	switch opType {
	case op.Add:
		c := a + b
		if (c > a) == (b > 0) {
			return Int(c), true, nil, true
		}
	case op.Subtract:
		c := a - b
		if (c < a) == (b > 0) {
			return Int(c), true, nil, true
		}
	case op.Multiply:
		if a == 0 || b == 0 {
			return Int(0), true, nil, true
		}
		c := a * b
		if c/b == a && !(a == -1 && b == math.MinInt64) && !(b == -1 && a == math.MinInt64) {
			return Int(c), true, nil, true
		}
	case op.Divide:
		if b == 0 {
			return None, true, Errorf(ZeroDivisionError, "division by zero"), true
		}
		return Float(float64(a) / float64(b)), true, nil, true
	case op.FloorDivide:
		if b == 0 {
			return None, true, Errorf(ZeroDivisionError, "integer division or modulo by zero"), true
		}
		if a == math.MinInt64 && b == -1 {
			return None, false, nil, false
		}
		q := a / b
		if a%b != 0 && (a < 0) != (b < 0) {
			q--
		}
		return Int(q), true, nil, true
	case op.Modulo:
		if b == 0 {
			return None, true, Errorf(ZeroDivisionError, "integer division or modulo by zero"), true
		}
		r := a % b
		if r != 0 && (r < 0) != (b < 0) {
			r += b
		}
		return Int(r), true, nil, true
	case op.Power:
		if b < 0 {
			if a == 0 {
				return None, true, Errorf(ZeroDivisionError, "0.0 cannot be raised to a negative power"), true
			}
			return Float(math.Pow(float64(a), float64(b))), true, nil, true
		}
		if r, ok := intPow(a, b); ok {
			return Int(r), true, nil, true
		}
	case op.LShift:
		if b < 0 {
			return None, true, Errorf(ValueError, "negative shift count"), true
		}
		if b < 63 {
			c := a << uint(b)
			if c>>uint(b) == a {
				return Int(c), true, nil, true
			}
		}
	case op.RShift:
		if b < 0 {
			return None, true, Errorf(ValueError, "negative shift count"), true
		}
		if b >= 64 {
			if a < 0 {
				return Int(-1), true, nil, true
			}
			return Int(0), true, nil, true
		}
		return Int(a >> uint(b)), true, nil, true
	case op.BitwiseAnd:
		return Int(a & b), true, nil, true
	case op.BitwiseOr:
		return Int(a | b), true, nil, true
	case op.BitwiseXor:
		return Int(a ^ b), true, nil, true
	default:
		return None, false, nil, true
	}
	return None, false, nil, false
}

func intPow(base, exp int64) (int64, bool) {
	result := int64(1)
	for exp > 0 {
		if exp&1 == 1 {
			r, ok := mulChecked(result, base)
			if !ok {
				return 0, false
			}
			result = r
		}
		exp >>= 1
		if exp > 0 {
			b, ok := mulChecked(base, base)
			if !ok {
				return 0, false
			}
			base = b
		}
	}
	return result, true
}

func mulChecked(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	c := a * b
	if c/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, false
	}
	return c, true
}

func (h *Heap) bigBinary(opType op.BinaryOpType, an, bn num) (Value, bool, error) {
	a, b := an.big(), bn.big()
	r := new(big.Int)
	switch opType {
	case op.Add:
		r.Add(a, b)
	case op.Subtract:
		r.Sub(a, b)
	case op.Multiply:
		if a.BitLen()+b.BitLen() > maxBigBits {
			return None, true, Errorf(MemoryError, "integer result too large")
		}
		r.Mul(a, b)
	case op.Divide:
		if b.Sign() == 0 {
			return None, true, Errorf(ZeroDivisionError, "division by zero")
		}
		f, _ := new(big.Rat).SetFrac(a, b).Float64()
		return Float(f), true, nil
	case op.FloorDivide, op.Modulo:
		if b.Sign() == 0 {
			return None, true, Errorf(ZeroDivisionError, "integer division or modulo by zero")
		}
		q, m := new(big.Int).QuoRem(a, b, new(big.Int))
		if m.Sign() != 0 && (m.Sign() < 0) != (b.Sign() < 0) {
			q.Sub(q, big.NewInt(1))
			m.Add(m, b)
		}
		if opType == op.FloorDivide {
			r = q
		} else {
			r = m
		}
	case op.Power:
		if b.Sign() < 0 {
			return floatBinary(opType, an.float(), bn.float())
		}
		if !b.IsInt64() || int64(a.BitLen())*b.Int64() > maxBigBits {
			if a.CmpAbs(big.NewInt(1)) <= 0 {
				r.Exp(a, new(big.Int).Rem(b, big.NewInt(2)), nil)
				if a.Sign() == 0 && b.Sign() > 0 {
					r.SetInt64(0)
				}
				break
			}
			return None, true, Errorf(MemoryError, "integer result too large")
		}
		r.Exp(a, b, nil)
	case op.LShift:
		if b.Sign() < 0 {
			return None, true, Errorf(ValueError, "negative shift count")
		}
		if !b.IsInt64() || int64(a.BitLen())+b.Int64() > maxBigBits {
			return None, true, Errorf(MemoryError, "integer result too large")
		}
		r.Lsh(a, uint(b.Int64()))
	case op.RShift:
		if b.Sign() < 0 {
			return None, true, Errorf(ValueError, "negative shift count")
		}
		if !b.IsInt64() {
			if a.Sign() < 0 {
				return Int(-1), true, nil
			}
			return Int(0), true, nil
		}
		r.Rsh(a, uint(b.Int64()))
	case op.BitwiseAnd:
		r.And(a, b)
	case op.BitwiseOr:
		r.Or(a, b)
	case op.BitwiseXor:
		r.Xor(a, b)
	default:
		return None, false, nil
	}
	v, err := h.NewBigInt(r)
	return v, true, err
}

// compareNum orders two numbers. ok is false when either is NaN.
func compareNum(a, b num) (int, bool) {
	if a.kind == numInt && b.kind == numInt {
		switch {
		case a.i < b.i:
			return -1, true
		case a.i > b.i:
			return 1, true
		}
		return 0, true
	}
	if a.kind != numFloat && b.kind != numFloat {
		return a.big().Cmp(b.big()), true
	}
	af, bf := a.float(), b.float()
	if math.IsNaN(af) || math.IsNaN(bf) {
		return 0, false
	}
	// Compare exactly when a float meets a big integer.
	if a.kind == numBig || b.kind == numBig {
		if !math.IsInf(af, 0) && !math.IsInf(bf, 0) {
			return bigFloatOf(a).Cmp(bigFloatOf(b)), true
		}
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	}
	return 0, true
}

func bigFloatOf(n num) *big.Float {
	if n.kind == numFloat {
		return new(big.Float).SetFloat64(n.f)
	}
	return new(big.Float).SetInt(n.big())
}

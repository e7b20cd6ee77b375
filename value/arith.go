package value

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// ArithError is returned by the arithmetic helpers below for typed
// failures the VM turns into InvalidOperation errors (division by zero,
// incompatible operand kinds).
type ArithError struct {
	Op      string
	Message string
}

func (e *ArithError) Error() string { return fmt.Sprintf("%s: %s", e.Op, e.Message) }

func arithErr(op, msg string) error { return &ArithError{Op: op, Message: msg} }

// bothInt reports whether a and b are both integer-kind Numbers, the
// condition under which arithmetic stays integer
func bothInt(a, b Value) bool { return a.IsInt() && b.IsInt() }

func bigOf(v Value) decimal.Decimal {
	switch v.nk {
	case numBig:
		return v.big
	case numInt:
		return decimal.NewFromInt(v.i)
	default:
		return decimal.NewFromFloat(v.f)
	}
}

// normalizeInt collapses a decimal.Decimal back down to an int64 Value
// when it still fits, keeping small results cheap and Display-plain.
func normalizeInt(d decimal.Decimal) Value {
	if d.IsInteger() {
		if bi := d.BigInt(); bi.IsInt64() {
			return Int(bi.Int64())
		}
	}
	return BigInt(d)
}

func addOverflows(a, b int64) (int64, bool) {
	sum := a + b
	if (a > 0 && b > 0 && sum < 0) || (a < 0 && b < 0 && sum > 0) {
		return 0, true
	}
	return sum, false
}

func subOverflows(a, b int64) (int64, bool) {
	diff := a - b
	if (b < 0 && diff < a) || (b > 0 && diff > a) {
		return 0, true
	}
	return diff, false
}

func mulOverflows(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, false
	}
	prod := a * b
	if prod/b != a {
		return 0, true
	}
	return prod, false
}

// Add implements `+`: numeric addition, or sequence/string concatenation
// when both operands are Seq.
func Add(a, b Value) (Value, error) {
	if a.kind == KindSeq && b.kind == KindSeq {
		out := make([]Value, 0, len(a.seq)+len(b.seq))
		out = append(out, a.seq...)
		out = append(out, b.seq...)
		return Seq(out), nil
	}
	if a.kind == KindNumber && b.kind == KindNumber {
		if bothInt(a, b) {
			if a.nk == numInt && b.nk == numInt {
				if sum, overflow := addOverflows(a.i, b.i); !overflow {
					return Int(sum), nil
				}
			}
			return normalizeInt(bigOf(a).Add(bigOf(b))), nil
		}
		af, _ := a.AsFloat64()
		bf, _ := b.AsFloat64()
		return Float(af + bf), nil
	}
	return Value{}, arithErr("add", fmt.Sprintf("unsupported operand kinds %s and %s", a.kind, b.kind))
}

// Sub implements `-`.
func Sub(a, b Value) (Value, error) {
	if a.kind != KindNumber || b.kind != KindNumber {
		return Value{}, arithErr("sub", fmt.Sprintf("unsupported operand kinds %s and %s", a.kind, b.kind))
	}
	if bothInt(a, b) {
		if a.nk == numInt && b.nk == numInt {
			if diff, overflow := subOverflows(a.i, b.i); !overflow {
				return Int(diff), nil
			}
		}
		return normalizeInt(bigOf(a).Sub(bigOf(b))), nil
	}
	af, _ := a.AsFloat64()
	bf, _ := b.AsFloat64()
	return Float(af - bf), nil
}

// Mul implements `*`: numeric multiplication, or sequence/string
// repetition by a non-negative int.
func Mul(a, b Value) (Value, error) {
	if a.kind == KindSeq && b.IsInt() {
		n, _ := b.AsInt64()
		return repeatSeq(a.seq, n)
	}
	if b.kind == KindSeq && a.IsInt() {
		n, _ := a.AsInt64()
		return repeatSeq(b.seq, n)
	}
	if a.kind == KindString && b.IsInt() {
		n, _ := b.AsInt64()
		return repeatString(a, n)
	}
	if b.kind == KindString && a.IsInt() {
		n, _ := a.AsInt64()
		return repeatString(b, n)
	}
	if a.kind != KindNumber || b.kind != KindNumber {
		return Value{}, arithErr("mul", fmt.Sprintf("unsupported operand kinds %s and %s", a.kind, b.kind))
	}
	if bothInt(a, b) {
		if a.nk == numInt && b.nk == numInt {
			if prod, overflow := mulOverflows(a.i, b.i); !overflow {
				return Int(prod), nil
			}
		}
		return normalizeInt(bigOf(a).Mul(bigOf(b))), nil
	}
	af, _ := a.AsFloat64()
	bf, _ := b.AsFloat64()
	return Float(af * bf), nil
}

func repeatSeq(items []Value, n int64) (Value, error) {
	if n < 0 {
		return Value{}, arithErr("mul", "repetition count must be non-negative")
	}
	out := make([]Value, 0, int64(len(items))*n)
	for i := int64(0); i < n; i++ {
		out = append(out, items...)
	}
	return Seq(out), nil
}

func repeatString(v Value, n int64) (Value, error) {
	if n < 0 {
		return Value{}, arithErr("mul", "repetition count must be non-negative")
	}
	s := ""
	for i := int64(0); i < n; i++ {
		s += v.str
	}
	out := String(s)
	if v.safe {
		out = out.AsSafe()
	}
	return out, nil
}

// Div implements `/`: always float division, following IEEE (inf/NaN
// produced, not errors).
func Div(a, b Value) (Value, error) {
	if a.kind != KindNumber || b.kind != KindNumber {
		return Value{}, arithErr("div", fmt.Sprintf("unsupported operand kinds %s and %s", a.kind, b.kind))
	}
	af, _ := a.AsFloat64()
	bf, _ := b.AsFloat64()
	return Float(af / bf), nil
}

// FloorDiv implements `//`: integer floor division; division by zero on
// integer operands is a typed error.
func FloorDiv(a, b Value) (Value, error) {
	if a.kind != KindNumber || b.kind != KindNumber {
		return Value{}, arithErr("floordiv", fmt.Sprintf("unsupported operand kinds %s and %s", a.kind, b.kind))
	}
	if bothInt(a, b) {
		bi, _ := b.AsInt64()
		if bi == 0 {
			return Value{}, arithErr("floordiv", "integer division or modulo by zero")
		}
		if a.nk == numInt && b.nk == numInt {
			return Int(floorDivInt(a.i, b.i)), nil
		}
		q := bigOf(a).DivRound(bigOf(b), 0)
		return normalizeInt(q), nil
	}
	af, _ := a.AsFloat64()
	bf, _ := b.AsFloat64()
	return Float(math.Floor(af / bf)), nil
}

func floorDivInt(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Rem implements `%`.
func Rem(a, b Value) (Value, error) {
	if a.kind != KindNumber || b.kind != KindNumber {
		return Value{}, arithErr("mod", fmt.Sprintf("unsupported operand kinds %s and %s", a.kind, b.kind))
	}
	if bothInt(a, b) {
		bi, _ := b.AsInt64()
		if bi == 0 {
			return Value{}, arithErr("mod", "integer division or modulo by zero")
		}
		if a.nk == numInt && b.nk == numInt {
			m := a.i % b.i
			if m != 0 && (m < 0) != (b.i < 0) {
				m += b.i
			}
			return Int(m), nil
		}
		_, r := bigOf(a).QuoRem(bigOf(b), 0)
		return normalizeInt(r), nil
	}
	af, _ := a.AsFloat64()
	bf, _ := b.AsFloat64()
	return Float(math.Mod(af, bf)), nil
}

// Pow implements `**`.
func Pow(a, b Value) (Value, error) {
	if a.kind != KindNumber || b.kind != KindNumber {
		return Value{}, arithErr("pow", fmt.Sprintf("unsupported operand kinds %s and %s", a.kind, b.kind))
	}
	if bothInt(a, b) {
		bi, _ := b.AsInt64()
		if bi >= 0 {
			return normalizeInt(bigOf(a).Pow(bigOf(b))), nil
		}
	}
	af, _ := a.AsFloat64()
	bf, _ := b.AsFloat64()
	return Float(math.Pow(af, bf)), nil
}

// Neg implements unary `-`.
func Neg(a Value) (Value, error) {
	if a.kind != KindNumber {
		return Value{}, arithErr("neg", fmt.Sprintf("unsupported operand kind %s", a.kind))
	}
	switch a.nk {
	case numInt:
		return Int(-a.i), nil
	case numFloat:
		return Float(-a.f), nil
	default:
		return normalizeInt(a.big.Neg()), nil
	}
}

// Concat implements `~`: always coerces via Display.
func Concat(a, b Value) Value {
	return String(a.Display() + b.Display())
}

// StringConcat concatenates two String values directly, propagating the
// safe bit only if both are safe.
func StringConcat(a, b Value) Value {
	out := String(a.Display() + b.Display())
	if a.kind == KindString && b.kind == KindString && a.safe && b.safe {
		out = out.AsSafe()
	}
	return out
}

// In implements the `in` operator: membership test over Seq/Map/String.
func In(needle, haystack Value) (bool, error) {
	switch haystack.kind {
	case KindSeq:
		for _, item := range haystack.seq {
			if valuesEqual(item, needle) {
				return true, nil
			}
		}
		return false, nil
	case KindMap:
		_, ok := haystack.MapGet(needle)
		return ok, nil
	case KindString:
		n, ok := needle.AsString()
		if !ok {
			return false, arithErr("in", "needle must be a string when haystack is a string")
		}
		return indexOfRunes(haystack.str, n) >= 0, nil
	case KindObject:
		if it, ok := Iterate(haystack); ok {
			for {
				item, more := it.Next()
				if !more {
					break
				}
				if valuesEqual(item, needle) {
					return true, nil
				}
			}
			return false, nil
		}
	}
	return false, arithErr("in", fmt.Sprintf("cannot test membership in %s", haystack.kind))
}

func indexOfRunes(haystack, needle string) int {
	hr, nr := []rune(haystack), []rune(needle)
	if len(nr) == 0 {
		return 0
	}
	for i := 0; i+len(nr) <= len(hr); i++ {
		match := true
		for j := range nr {
			if hr[i+j] != nr[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

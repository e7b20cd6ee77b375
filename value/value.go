// Package value implements gojinja2's uniform dynamic value system: the
// tagged Value union every lexer/parser/compiler/VM boundary passes
// across, and the Object capability interface dynamic host values
// implement.
package value

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/shopspring/decimal"
)

// Kind tags the variant a Value currently holds.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindNone
	KindBool
	KindNumber
	KindString
	KindBytes
	KindSeq
	KindMap
	KindObject
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindNone:
		return "none"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindSeq:
		return "sequence"
	case KindMap:
		return "map"
	case KindObject:
		return "object"
	case KindInvalid:
		return "invalid"
	}
	return "unknown"
}

// numKind distinguishes the three Number payload representations:
// i64, arbitrary-precision integer, or f64.
type numKind uint8

const (
	numInt numKind = iota
	numFloat
	numBig
)

// Value is gojinja2's tagged sum type. It is semantically immutable:
// every operation that "mutates" a Value actually constructs a new one.
type Value struct {
	kind Kind

	// Bool
	b bool

	// Number
	nk  numKind
	i   int64
	f   float64
	big decimal.Decimal

	// String
	str  string
	safe bool

	// Bytes
	bytes []byte

	// Seq
	seq []Value

	// Map: insertion-ordered pairs plus an xxhash index for O(1) lookup.
	pairs []Pair
	index map[uint64][]int

	// Object
	obj Object

	// Invalid
	err error
}

// Pair is one key/value entry of a Map value.
type Pair struct {
	Key Value
	Val Value
}

// Undefined is the distinct "missing name" sentinel, never equal to None.
var Undefined = Value{kind: KindUndefined}

// None is Jinja's null value.
var None = Value{kind: KindNone}

// Bool constructs a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int constructs an integer Value.
func Int(i int64) Value { return Value{kind: KindNumber, nk: numInt, i: i} }

// Float constructs a floating point Value.
func Float(f float64) Value { return Value{kind: KindNumber, nk: numFloat, f: f} }

// BigInt constructs an arbitrary-precision integer Value, used once i64
// arithmetic overflows.
func BigInt(d decimal.Decimal) Value { return Value{kind: KindNumber, nk: numBig, big: d} }

// String constructs a non-safe string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// SafeString constructs a pre-escaped (HTML-safe) string Value.
func SafeString(s string) Value { return Value{kind: KindString, str: s, safe: true} }

// Bytes constructs a byte-sequence Value.
func Bytes(b []byte) Value { return Value{kind: KindBytes, bytes: b} }

// Seq constructs a sequence Value from a slice (copied defensively).
func Seq(items []Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindSeq, seq: cp}
}

// NewMap constructs an empty, insertion-ordered Map value.
func NewMap() Value {
	return Value{kind: KindMap, index: map[uint64][]int{}}
}

// FromObject wraps a dynamic Object as a Value.
func FromObject(o Object) Value { return Value{kind: KindObject, obj: o} }

// Invalid embeds an error as a Value; it propagates through any use and
// becomes a render error only when actually materialized.
func Invalid(err error) Value { return Value{kind: KindInvalid, err: err} }

// Kind reports the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsUndefined reports whether v is the Undefined sentinel.
func (v Value) IsUndefined() bool { return v.kind == KindUndefined }

// IsNone reports whether v is None.
func (v Value) IsNone() bool { return v.kind == KindNone }

// IsInvalid reports whether v carries an embedded error.
func (v Value) IsInvalid() bool { return v.kind == KindInvalid }

// Err returns the embedded error of an Invalid value, or nil.
func (v Value) Err() error {
	if v.kind == KindInvalid {
		return v.err
	}
	return nil
}

// IsSafe reports whether a String value is marked HTML-safe.
func (v Value) IsSafe() bool { return v.kind == KindString && v.safe }

// AsSafe returns a copy of v with the safe bit set. Only meaningful for
// strings; used by the `|safe` filter sink.
func (v Value) AsSafe() Value {
	if v.kind != KindString {
		return v
	}
	v.safe = true
	return v
}

// AsUnsafe clears the safe bit, used by `|escape` semantics when the
// caller wants to force re-escaping downstream.
func (v Value) AsUnsafe() Value {
	if v.kind != KindString {
		return v
	}
	v.safe = false
	return v
}

// AsString returns the raw string payload and whether v is a String.
func (v Value) AsString() (string, bool) {
	if v.kind == KindString {
		return v.str, true
	}
	return "", false
}

// AsBytes returns the raw bytes payload and whether v is Bytes.
func (v Value) AsBytes() ([]byte, bool) {
	if v.kind == KindBytes {
		return v.bytes, true
	}
	return nil, false
}

// AsSeq returns the sequence payload and whether v is a Seq.
func (v Value) AsSeq() ([]Value, bool) {
	if v.kind == KindSeq {
		return v.seq, true
	}
	return nil, false
}

// AsObject returns the Object payload and whether v is an Object.
func (v Value) AsObject() (Object, bool) {
	if v.kind == KindObject {
		return v.obj, true
	}
	return nil, false
}

// AsBool returns the bool payload and whether v is a Bool.
func (v Value) AsBool() (bool, bool) {
	if v.kind == KindBool {
		return v.b, true
	}
	return false, false
}

// IsInt reports whether v is a Number holding an integer representation
// (i64 or arbitrary precision); integers stay integer across arithmetic
// when both operands are integer, else the result is float.
func (v Value) IsInt() bool {
	return v.kind == KindNumber && (v.nk == numInt || v.nk == numBig)
}

// IsFloat reports whether v is a Number holding a float64.
func (v Value) IsFloat() bool { return v.kind == KindNumber && v.nk == numFloat }

// AsInt64 returns the integer value, converting from float/big as needed.
func (v Value) AsInt64() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	switch v.nk {
	case numInt:
		return v.i, true
	case numFloat:
		return int64(v.f), true
	case numBig:
		return v.big.IntPart(), true
	}
	return 0, false
}

// AsFloat64 returns the value as a float64, converting from int/big.
func (v Value) AsFloat64() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	switch v.nk {
	case numInt:
		return float64(v.i), true
	case numFloat:
		return v.f, true
	case numBig:
		f, _ := v.big.Float64()
		return f, true
	}
	return 0, false
}

// MapPairs returns the Map's insertion-ordered key/value pairs.
func (v Value) MapPairs() []Pair {
	if v.kind != KindMap {
		return nil
	}
	return v.pairs
}

// MapGet looks up key in a Map value by canonical equality.
func (v Value) MapGet(key Value) (Value, bool) {
	if v.kind != KindMap {
		return Undefined, false
	}
	h := hashValue(key)
	for _, idx := range v.index[h] {
		if valuesEqual(v.pairs[idx].Key, key) {
			return v.pairs[idx].Val, true
		}
	}
	return Undefined, false
}

// MapSet returns a new Map with key bound to val, preserving insertion
// order of existing keys (Values are immutable; this is a copy-on-write).
func (v Value) MapSet(key, val Value) Value {
	if v.kind != KindMap {
		v = NewMap()
	}
	h := hashValue(key)
	for _, idx := range v.index[h] {
		if valuesEqual(v.pairs[idx].Key, key) {
			pairs := append([]Pair(nil), v.pairs...)
			pairs[idx].Val = val
			idxCopy := copyIndex(v.index)
			return Value{kind: KindMap, pairs: pairs, index: idxCopy}
		}
	}
	pairs := append(append([]Pair(nil), v.pairs...), Pair{Key: key, Val: val})
	idxCopy := copyIndex(v.index)
	idxCopy[h] = append(idxCopy[h], len(pairs)-1)
	return Value{kind: KindMap, pairs: pairs, index: idxCopy}
}

func copyIndex(idx map[uint64][]int) map[uint64][]int {
	out := make(map[uint64][]int, len(idx))
	for k, v := range idx {
		cp := make([]int, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// MapFromPairs builds a Map preserving the given pair order.
func MapFromPairs(pairs []Pair) Value {
	v := NewMap()
	for _, p := range pairs {
		v = v.MapSet(p.Key, p.Val)
	}
	return v
}

// hashValue produces a canonical hash for Map-key lookup, grounded on the
// xxhash-keyed cache-index idiom used across the retrieval pack.
func hashValue(v Value) uint64 {
	switch v.kind {
	case KindUndefined:
		return xxhash.Sum64String("\x00undefined")
	case KindNone:
		return xxhash.Sum64String("\x00none")
	case KindBool:
		if v.b {
			return xxhash.Sum64String("\x00bool:1")
		}
		return xxhash.Sum64String("\x00bool:0")
	case KindNumber:
		f, _ := v.AsFloat64()
		return xxhash.Sum64String("\x00num:" + strconv.FormatFloat(f, 'g', -1, 64))
	case KindString:
		return xxhash.Sum64String("\x00str:" + v.str)
	case KindBytes:
		return xxhash.Sum64(v.bytes)
	default:
		return xxhash.Sum64String(fmt.Sprintf("\x00other:%p", &v))
	}
}

// Len reports the length of a String/Bytes/Seq/Map, or via the Object
// capability table; ok is false when length is undefined for v's kind.
func (v Value) Len() (int, bool) {
	switch v.kind {
	case KindString:
		return len([]rune(v.str)), true
	case KindBytes:
		return len(v.bytes), true
	case KindSeq:
		return len(v.seq), true
	case KindMap:
		return len(v.pairs), true
	case KindObject:
		if lv, ok := v.obj.(ObjectLen); ok {
			return lv.Len(), true
		}
	}
	return 0, false
}

// Truthy implements the truthiness table.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindUndefined, KindNone:
		return false
	case KindBool:
		return v.b
	case KindNumber:
		switch v.nk {
		case numInt:
			return v.i != 0
		case numFloat:
			return v.f != 0 && !math.IsNaN(v.f)
		case numBig:
			return !v.big.IsZero()
		}
	case KindString:
		return len(v.str) != 0
	case KindBytes:
		return len(v.bytes) != 0
	case KindSeq:
		return len(v.seq) != 0
	case KindMap:
		return len(v.pairs) != 0
	case KindObject:
		if tv, ok := v.obj.(ObjectBool); ok {
			return tv.Bool()
		}
		if lv, ok := v.obj.(ObjectLen); ok {
			return lv.Len() != 0
		}
		return true
	case KindInvalid:
		return false
	}
	return false
}

// Display renders v the way `{{ v }}` would before auto-escaping: floats
// always carry a decimal point, ints are plain, bool is true/false, none
// is "none".
func (v Value) Display() string {
	switch v.kind {
	case KindUndefined:
		return ""
	case KindNone:
		return "none"
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindNumber:
		switch v.nk {
		case numInt:
			return strconv.FormatInt(v.i, 10)
		case numFloat:
			return formatFloat(v.f)
		case numBig:
			return v.big.String()
		}
	case KindString:
		return v.str
	case KindBytes:
		return string(v.bytes)
	case KindSeq:
		parts := make([]string, len(v.seq))
		for i, it := range v.seq {
			parts[i] = it.Repr()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		parts := make([]string, len(v.pairs))
		for i, p := range v.pairs {
			parts[i] = p.Key.Repr() + ": " + p.Val.Repr()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case KindObject:
		return v.obj.String()
	case KindInvalid:
		return ""
	}
	return ""
}

func formatFloat(f float64) string {
	if math.IsInf(f, 1) {
		return "inf"
	}
	if math.IsInf(f, -1) {
		return "-inf"
	}
	if math.IsNaN(f) {
		return "NaN"
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Repr renders a debug representation (used inside Seq/Map Display and by
// dump-style filters); strings are quoted.
func (v Value) Repr() string {
	if v.kind == KindString {
		return strconv.Quote(v.str)
	}
	return v.Display()
}

// TypeName reports the Jinja2-style type name used by `is` tests.
func (v Value) TypeName() string {
	switch v.kind {
	case KindNumber:
		if v.IsFloat() {
			return "float"
		}
		return "int"
	default:
		return v.kind.String()
	}
}

// totalOrderRank implements the cross-kind ordering:
// Undefined < None < Bool < Number < String < Bytes < Seq < Map.
func totalOrderRank(v Value) int {
	switch v.kind {
	case KindUndefined:
		return 0
	case KindNone:
		return 1
	case KindBool:
		return 2
	case KindNumber:
		return 3
	case KindString:
		return 4
	case KindBytes:
		return 5
	case KindSeq:
		return 6
	case KindMap:
		return 7
	default:
		return 8
	}
}

// Compare implements the cross-kind total ordering, returning -1/0/1.
// Custom Objects may supply their own ordering via ObjectCompare.
func Compare(a, b Value) int {
	if a.kind == KindObject {
		if cv, ok := a.obj.(ObjectCompare); ok {
			return cv.Compare(b)
		}
	}
	ra, rb := totalOrderRank(a), totalOrderRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch a.kind {
	case KindBool:
		if a.b == b.b {
			return 0
		}
		if !a.b {
			return -1
		}
		return 1
	case KindNumber:
		af, _ := a.AsFloat64()
		bf, _ := b.AsFloat64()
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	case KindString:
		return strings.Compare(a.str, b.str)
	case KindBytes:
		n := len(a.bytes)
		if len(b.bytes) < n {
			n = len(b.bytes)
		}
		for i := 0; i < n; i++ {
			if a.bytes[i] != b.bytes[i] {
				if a.bytes[i] < b.bytes[i] {
					return -1
				}
				return 1
			}
		}
		return compareInt(len(a.bytes), len(b.bytes))
	case KindSeq:
		n := len(a.seq)
		if len(b.seq) < n {
			n = len(b.seq)
		}
		for i := 0; i < n; i++ {
			if c := Compare(a.seq[i], b.seq[i]); c != 0 {
				return c
			}
		}
		return compareInt(len(a.seq), len(b.seq))
	case KindMap:
		n := len(a.pairs)
		if len(b.pairs) < n {
			n = len(b.pairs)
		}
		for i := 0; i < n; i++ {
			if c := Compare(a.pairs[i].Key, b.pairs[i].Key); c != 0 {
				return c
			}
			if c := Compare(a.pairs[i].Val, b.pairs[i].Val); c != 0 {
				return c
			}
		}
		return compareInt(len(a.pairs), len(b.pairs))
	}
	return 0
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// valuesEqual is numeric-coercing equality: ints and floats compare by
// numeric value.
func valuesEqual(a, b Value) bool {
	if a.kind == KindNumber && b.kind == KindNumber {
		af, _ := a.AsFloat64()
		bf, _ := b.AsFloat64()
		return af == bf
	}
	if a.kind != b.kind {
		return false
	}
	return Compare(a, b) == 0
}

// Equal is the public equality predicate used by `==`, `in`, and
// `loop.changed(...)` (Open Question resolved as value equality).
func Equal(a, b Value) bool { return valuesEqual(a, b) }

// SortSeq returns a new, ascending-sorted copy of a Seq value using the
// total order from Compare.
func SortSeq(items []Value) []Value {
	out := make([]Value, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool { return Compare(out[i], out[j]) < 0 })
	return out
}

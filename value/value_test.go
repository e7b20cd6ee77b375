package value

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTruthiness(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		want bool
	}{
		{"undefined", Undefined, false},
		{"none", None, false},
		{"false", Bool(false), false},
		{"true", Bool(true), true},
		{"zero", Int(0), false},
		{"nonzero", Int(1), true},
		{"zero float", Float(0.0), false},
		{"empty string", String(""), false},
		{"nonempty string", String("x"), true},
		{"empty seq", Seq(nil), false},
		{"nonempty seq", Seq([]Value{Int(1)}), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, c.v.Truthy())
		})
	}
}

func TestArithmeticTypePreservation(t *testing.T) {
	sum, err := Add(Int(2), Int(3))
	require.NoError(t, err)
	require.True(t, sum.IsInt())
	require.Equal(t, "5", sum.Display())

	diff, err := Sub(Int(5), Int(2))
	require.NoError(t, err)
	require.Equal(t, "3", diff.Display())

	prod, err := Mul(Int(4), Int(5))
	require.NoError(t, err)
	require.Equal(t, "20", prod.Display())

	mixed, err := Add(Int(2), Float(1.5))
	require.NoError(t, err)
	require.True(t, mixed.IsFloat())
	require.Equal(t, "3.5", mixed.Display())
}

func TestIntegerOverflowPromotes(t *testing.T) {
	big := Int(1<<62 - 1)
	sum, err := Add(big, big)
	require.NoError(t, err)
	require.True(t, sum.IsInt())
}

func TestDivisionByZero(t *testing.T) {
	_, err := FloorDiv(Int(1), Int(0))
	require.Error(t, err)

	res, err := Div(Int(1), Int(0))
	require.NoError(t, err)
	f, _ := res.AsFloat64()
	require.True(t, f > 1e300 || res.Display() == "inf")
}

func TestSafeStringPropagation(t *testing.T) {
	safe := String("<b>").AsSafe()
	unsafe := String("<i>")
	concat := StringConcat(safe, safe)
	require.True(t, concat.IsSafe())

	mixed := StringConcat(safe, unsafe)
	require.False(t, mixed.IsSafe())
}

func TestTotalOrdering(t *testing.T) {
	require.Equal(t, -1, Compare(Undefined, None))
	require.Equal(t, -1, Compare(None, Bool(false)))
	require.Equal(t, -1, Compare(Bool(true), Int(0)))
	require.Equal(t, -1, Compare(Int(5), String("a")))
	require.Equal(t, -1, Compare(String("a"), Seq([]Value{})))
}

func TestMapInsertionOrder(t *testing.T) {
	m := NewMap()
	m = m.MapSet(String("b"), Int(2))
	m = m.MapSet(String("a"), Int(1))
	pairs := m.MapPairs()
	require.Len(t, pairs, 2)
	require.Equal(t, "b", pairs[0].Key.Display())
	require.Equal(t, "a", pairs[1].Key.Display())
}

func TestSliceNegativeIndices(t *testing.T) {
	seq := Seq([]Value{Int(0), Int(1), Int(2), Int(3), Int(4)})
	start := int64(-2)
	out, err := Slice(seq, SliceArgs{Start: &start})
	require.NoError(t, err)
	items, _ := out.AsSeq()
	require.Len(t, items, 2)
	require.Equal(t, "3", items[0].Display())
}

func TestOneShotIteratorPreservesRemainder(t *testing.T) {
	items := []Value{Int(1), Int(2), Int(3)}
	it := NewSliceIterator(items)
	v, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, "1", v.Display())
	// partial consumption: iterator itself retains position (break semantics
	// are handled by the VM re-wrapping the same ObjectIterator value).
	v, ok = it.Next()
	require.True(t, ok)
	require.Equal(t, "2", v.Display())
}

package modifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-db/strata/pattern"
	"github.com/strata-db/strata/value"
)

func valueRows(v pattern.Var, vals ...value.Value) []pattern.Row {
	rows := make([]pattern.Row, len(vals))
	for i, val := range vals {
		rows[i] = pattern.Row{v: pattern.ValueConcept(val)}
	}
	return rows
}

func TestSortAscendingAndDescending(t *testing.T) {
	rows := valueRows("$a", value.Int(3), value.Int(1), value.Int(2))

	asc := Sort(rows, []SortKey{{Var: "$a"}})
	assert.Equal(t, []int64{1, 2, 3}, ints(asc, "$a"))

	desc := Sort(rows, []SortKey{{Var: "$a", Desc: true}})
	assert.Equal(t, []int64{3, 2, 1}, ints(desc, "$a"))

	// The input order is untouched.
	assert.Equal(t, []int64{3, 1, 2}, ints(rows, "$a"))
}

func TestSortMissingValuesLast(t *testing.T) {
	rows := []pattern.Row{
		{"$a": pattern.ValueConcept(value.Int(2))},
		{},
		{"$a": pattern.ValueConcept(value.Int(1))},
	}
	asc := Sort(rows, []SortKey{{Var: "$a"}})
	assert.Equal(t, []int64{1, 2}, ints(asc[:2], "$a"))
	_, bound := asc[2].Get("$a")
	assert.False(t, bound, "missing sorts last even ascending")

	desc := Sort(rows, []SortKey{{Var: "$a", Desc: true}})
	_, bound = desc[2].Get("$a")
	assert.False(t, bound, "missing sorts last even descending")
}

func TestSortIsStable(t *testing.T) {
	rows := []pattern.Row{
		{"$a": pattern.ValueConcept(value.Int(1)), "$b": pattern.ValueConcept(value.MustString("x"))},
		{"$a": pattern.ValueConcept(value.Int(1)), "$b": pattern.ValueConcept(value.MustString("y"))},
	}
	sorted := Sort(rows, []SortKey{{Var: "$a"}})
	assert.Equal(t, "x", sorted[0]["$b"].Val.AsString())
	assert.Equal(t, "y", sorted[1]["$b"].Val.AsString())
}

func TestSortSecondaryKey(t *testing.T) {
	rows := []pattern.Row{
		{"$a": pattern.ValueConcept(value.Int(1)), "$b": pattern.ValueConcept(value.Int(9))},
		{"$a": pattern.ValueConcept(value.Int(1)), "$b": pattern.ValueConcept(value.Int(4))},
		{"$a": pattern.ValueConcept(value.Int(0)), "$b": pattern.ValueConcept(value.Int(7))},
	}
	sorted := Sort(rows, []SortKey{{Var: "$a"}, {Var: "$b"}})
	assert.Equal(t, []int64{7, 4, 9}, ints(sorted, "$b"))
}

func TestWindowPartitionsCompletely(t *testing.T) {
	rows := valueRows("$a",
		value.Int(0), value.Int(1), value.Int(2), value.Int(3), value.Int(4))

	var paged []int64
	for off := 0; ; off += 2 {
		page := Window(rows, off, 2)
		if len(page) == 0 {
			break
		}
		paged = append(paged, ints(page, "$a")...)
	}
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, paged, "pages partition the result with no gaps or overlaps")
}

func TestWindowEdges(t *testing.T) {
	rows := valueRows("$a", value.Int(1), value.Int(2))
	assert.Len(t, Window(rows, 0, -1), 2, "negative limit is unlimited")
	assert.Empty(t, Window(rows, 5, 10))
	assert.Len(t, Window(rows, 1, 10), 1)
	assert.Empty(t, Window(rows, 0, 0))
}

func TestAggregates(t *testing.T) {
	rows := valueRows("$a", value.Int(2), value.Int(4), value.Int(6))

	count, err := Aggregate(rows, AggCount, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count.AsInt())

	sum, err := Aggregate(rows, AggSum, "$a")
	require.NoError(t, err)
	assert.Equal(t, value.KindInteger, sum.Kind(), "sum of longs stays a long")
	assert.Equal(t, int64(12), sum.AsInt())

	mean, err := Aggregate(rows, AggMean, "$a")
	require.NoError(t, err)
	assert.Equal(t, value.KindDouble, mean.Kind(), "mean is always a double")
	assert.Equal(t, 4.0, mean.AsDouble())

	max, err := Aggregate(rows, AggMax, "$a")
	require.NoError(t, err)
	assert.Equal(t, int64(6), max.AsInt())

	min, err := Aggregate(rows, AggMin, "$a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), min.AsInt())
}

func TestSumWidensWithDoubles(t *testing.T) {
	rows := valueRows("$a", value.Int(1), value.Double(0.5))
	sum, err := Aggregate(rows, AggSum, "$a")
	require.NoError(t, err)
	assert.Equal(t, value.KindDouble, sum.Kind())
	assert.Equal(t, 1.5, sum.AsDouble())
}

func TestMedian(t *testing.T) {
	odd := valueRows("$a", value.Int(9), value.Int(1), value.Int(5))
	m, err := Aggregate(odd, AggMedian, "$a")
	require.NoError(t, err)
	assert.Equal(t, value.KindInteger, m.Kind(), "odd count keeps the element")
	assert.Equal(t, int64(5), m.AsInt())

	even := valueRows("$a", value.Int(1), value.Int(2), value.Int(3), value.Int(10))
	m, err = Aggregate(even, AggMedian, "$a")
	require.NoError(t, err)
	assert.Equal(t, 2.5, m.AsDouble())
}

func TestStdIsSampleDeviation(t *testing.T) {
	rows := valueRows("$a", value.Int(2), value.Int(4), value.Int(4), value.Int(4),
		value.Int(5), value.Int(5), value.Int(7), value.Int(9))
	s, err := Aggregate(rows, AggStd, "$a")
	require.NoError(t, err)
	assert.InDelta(t, 2.138, s.AsDouble(), 0.001)

	_, err = Aggregate(valueRows("$a", value.Int(1)), AggStd, "$a")
	require.ErrorIs(t, err, ErrEmptyAggregate)
}

func TestEmptyAggregates(t *testing.T) {
	count, err := Aggregate(nil, AggCount, "")
	require.NoError(t, err)
	assert.Zero(t, count.AsInt(), "count of nothing is zero, not an error")

	for _, kind := range []AggKind{AggSum, AggMax, AggMin, AggMean, AggMedian, AggStd} {
		_, err := Aggregate(nil, kind, "$a")
		assert.ErrorIs(t, err, ErrEmptyAggregate, kind.String())
	}
}

func TestNonNumericAggregate(t *testing.T) {
	rows := valueRows("$a", value.MustString("x"))
	_, err := Aggregate(rows, AggSum, "$a")
	require.ErrorIs(t, err, ErrNotAggregatable)
}

func TestGroupByAndAggregate(t *testing.T) {
	rows := []pattern.Row{
		{"$t": pattern.ValueConcept(value.MustString("a")), "$v": pattern.ValueConcept(value.Int(1))},
		{"$t": pattern.ValueConcept(value.MustString("b")), "$v": pattern.ValueConcept(value.Int(10))},
		{"$t": pattern.ValueConcept(value.MustString("a")), "$v": pattern.ValueConcept(value.Int(3))},
	}

	groups := GroupBy(rows, "$t")
	require.Len(t, groups, 2)
	assert.Equal(t, "a", groups[0].Key.Val.AsString())
	assert.Len(t, groups[0].Rows, 2)
	assert.Equal(t, "b", groups[1].Key.Val.AsString())

	agg, err := GroupAggregate(rows, "$t", AggSum, "$v")
	require.NoError(t, err)
	require.Len(t, agg, 2)
	assert.Equal(t, int64(4), agg[0].Val.AsInt())
	assert.Equal(t, int64(10), agg[1].Val.AsInt())
}

func ints(rows []pattern.Row, v pattern.Var) []int64 {
	out := make([]int64, 0, len(rows))
	for _, r := range rows {
		if val, ok := r.Get(v); ok {
			got, _ := val.Value()
			out = append(out, got.AsInt())
		}
	}
	return out
}

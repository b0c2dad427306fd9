// Package modifier post-processes match rows: ordering, pagination,
// aggregation, and grouping. Modifiers never touch the store; they operate on
// materialized binding rows.
package modifier

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/strata-db/strata/pattern"
	"github.com/strata-db/strata/value"
)

// Sentinel errors for the modifier pipeline.
var (
	// ErrEmptyAggregate is returned by every aggregate except count when the
	// input has no rows; there is no sum or mean of nothing.
	ErrEmptyAggregate = errors.New("modifier: aggregate over empty input")

	// ErrNotAggregatable is returned when the aggregated variable carries
	// values the function cannot digest.
	ErrNotAggregatable = errors.New("modifier: variable not aggregatable")
)

// SortKey orders rows by one variable, ascending unless Desc.
type SortKey struct {
	Var  pattern.Var
	Desc bool
}

// Sort orders rows by the given keys, stably. Rows missing a key variable or
// binding a valueless concept sort after all rows that have it, regardless of
// direction.
func Sort(rows []pattern.Row, keys []SortKey) []pattern.Row {
	if len(keys) == 0 {
		return rows
	}
	out := append([]pattern.Row(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool {
		for _, k := range keys {
			c := compareRows(out[i], out[j], k.Var)
			if c == 0 {
				continue
			}
			if k.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return out
}

// compareRows orders two rows by one variable: -1, 0, or 1, with missing
// values greatest.
func compareRows(a, b pattern.Row, v pattern.Var) int {
	av, aok := rowValue(a, v)
	bv, bok := rowValue(b, v)
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return 1
	case !bok:
		return -1
	}
	if c, err := av.Compare(bv); err == nil {
		return c
	}
	// Incomparable kinds get an arbitrary but stable order.
	switch {
	case av.Kind() < bv.Kind():
		return -1
	case av.Kind() > bv.Kind():
		return 1
	default:
		return 0
	}
}

func rowValue(r pattern.Row, v pattern.Var) (value.Value, bool) {
	c, ok := r.Get(v)
	if !ok {
		return value.Value{}, false
	}
	return c.Value()
}

// Window applies offset then limit. A negative limit means unlimited. The
// result aliases the input slice.
func Window(rows []pattern.Row, offset, limit int) []pattern.Row {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return nil
	}
	rows = rows[offset:]
	if limit >= 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

// AggKind enumerates the aggregate functions.
type AggKind int

const (
	AggCount AggKind = iota + 1
	AggSum
	AggMax
	AggMin
	AggMean
	AggMedian
	AggStd
)

// String returns the query-language name of the aggregate.
func (k AggKind) String() string {
	switch k {
	case AggCount:
		return "count"
	case AggSum:
		return "sum"
	case AggMax:
		return "max"
	case AggMin:
		return "min"
	case AggMean:
		return "mean"
	case AggMedian:
		return "median"
	case AggStd:
		return "std"
	default:
		return fmt.Sprintf("AggKind(%d)", int(k))
	}
}

// Aggregate reduces rows to a single value. Count ignores the variable and
// counts rows; every other aggregate folds the values bound to v. An empty
// input yields count 0 and ErrEmptyAggregate for everything else.
func Aggregate(rows []pattern.Row, kind AggKind, v pattern.Var) (value.Value, error) {
	if kind == AggCount {
		return value.Int(int64(len(rows))), nil
	}
	vals := make([]value.Value, 0, len(rows))
	for _, row := range rows {
		val, ok := rowValue(row, v)
		if !ok {
			return value.Value{}, fmt.Errorf("%w: %s is not bound to a value", ErrNotAggregatable, v)
		}
		vals = append(vals, val)
	}
	if len(vals) == 0 {
		return value.Value{}, fmt.Errorf("%w: %s", ErrEmptyAggregate, kind)
	}

	switch kind {
	case AggMax:
		return value.Max(vals...)
	case AggMin:
		return value.Min(vals...)
	case AggSum:
		return sum(vals)
	case AggMean:
		s, err := sum(vals)
		if err != nil {
			return value.Value{}, err
		}
		return value.Double(s.AsDouble() / float64(len(vals))), nil
	case AggMedian:
		return median(vals)
	case AggStd:
		return std(vals)
	default:
		return value.Value{}, fmt.Errorf("modifier: unknown aggregate %d", int(kind))
	}
}

func sum(vals []value.Value) (value.Value, error) {
	total := vals[0]
	if !total.IsNumeric() {
		return value.Value{}, fmt.Errorf("%w: sum over %s", ErrNotAggregatable, total.Kind())
	}
	for _, v := range vals[1:] {
		next, err := value.Add(total, v)
		if err != nil {
			return value.Value{}, fmt.Errorf("%w: %v", ErrNotAggregatable, err)
		}
		total = next
	}
	return total, nil
}

func numericSorted(vals []value.Value) ([]float64, error) {
	out := make([]float64, len(vals))
	for i, v := range vals {
		if !v.IsNumeric() {
			return nil, fmt.Errorf("%w: %s is not numeric", ErrNotAggregatable, v.Kind())
		}
		out[i] = v.AsDouble()
	}
	sort.Float64s(out)
	return out, nil
}

// median returns the middle element, or the mean of the two middle elements
// for an even count. An odd count keeps the element's kind.
func median(vals []value.Value) (value.Value, error) {
	sorted := append([]value.Value(nil), vals...)
	var sortErr error
	sort.SliceStable(sorted, func(i, j int) bool {
		c, err := sorted[i].Compare(sorted[j])
		if err != nil {
			sortErr = err
		}
		return c < 0
	})
	if sortErr != nil {
		return value.Value{}, fmt.Errorf("%w: %v", ErrNotAggregatable, sortErr)
	}
	for _, v := range sorted {
		if !v.IsNumeric() {
			return value.Value{}, fmt.Errorf("%w: median over %s", ErrNotAggregatable, v.Kind())
		}
	}
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid], nil
	}
	return value.Double((sorted[mid-1].AsDouble() + sorted[mid].AsDouble()) / 2), nil
}

// std returns the sample standard deviation (n-1 denominator); a single
// value has none.
func std(vals []value.Value) (value.Value, error) {
	xs, err := numericSorted(vals)
	if err != nil {
		return value.Value{}, err
	}
	if len(xs) < 2 {
		return value.Value{}, fmt.Errorf("%w: std needs at least two values", ErrEmptyAggregate)
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var acc float64
	for _, x := range xs {
		d := x - mean
		acc += d * d
	}
	return value.Double(math.Sqrt(acc / float64(len(xs)-1))), nil
}

// Group is one bucket of rows sharing a binding for the grouping variable.
type Group struct {
	Key  pattern.Concept
	Rows []pattern.Row
}

type groupEntry struct {
	key   string
	group *Group
}

// GroupBy buckets rows by the concept bound to v, in deterministic key
// order. Rows not binding v are dropped.
func GroupBy(rows []pattern.Row, v pattern.Var) []Group {
	byKey := make(map[string]*Group)
	var order []groupEntry
	for _, row := range rows {
		c, ok := row.Get(v)
		if !ok {
			continue
		}
		k := row.Key([]pattern.Var{v})
		g, seen := byKey[k]
		if !seen {
			g = &Group{Key: c}
			byKey[k] = g
			order = append(order, groupEntry{key: k, group: g})
		}
		g.Rows = append(g.Rows, row)
	}
	sort.Slice(order, func(i, j int) bool { return order[i].key < order[j].key })
	out := make([]Group, len(order))
	for i, e := range order {
		out[i] = *e.group
	}
	return out
}

// GroupValue is one group key with its reduced aggregate value.
type GroupValue struct {
	Key pattern.Concept
	Val value.Value
}

// GroupAggregate applies one aggregate per group.
func GroupAggregate(rows []pattern.Row, by pattern.Var, kind AggKind, v pattern.Var) ([]GroupValue, error) {
	groups := GroupBy(rows, by)
	out := make([]GroupValue, 0, len(groups))
	for _, g := range groups {
		val, err := Aggregate(g.Rows, kind, v)
		if err != nil {
			return nil, err
		}
		out = append(out, GroupValue{Key: g.Key, Val: val})
	}
	return out, nil
}

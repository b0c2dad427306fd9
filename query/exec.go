// Package query parses and executes the declarative query language: schema
// clauses (define/undefine) and data pipelines (match plus insert, delete,
// update, fetch, get, and modifiers). Parsing and data execution live here;
// applying schema clauses to a database is the façade's job, since it swaps
// registries and rule sets atomically.
package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/strata-db/strata/modifier"
	"github.com/strata-db/strata/mutate"
	"github.com/strata-db/strata/pattern"
	"github.com/strata-db/strata/store"
)

// Run executes a parsed data pipeline. Reads evaluate against view, which is
// the transaction itself or an inference overlay on top of it; mutations
// apply to tx. Schema clauses are rejected here.
func Run(ctx context.Context, tx *store.Tx, view pattern.View, q *Query) (*Answer, error) {
	if q.IsSchema() {
		return nil, fmt.Errorf("%w: schema clause in a data transaction", ErrParse)
	}

	rows := []pattern.Row{{}}
	if q.Match != nil {
		matched, err := pattern.Match(ctx, view, q.Match)
		if err != nil {
			return nil, err
		}
		rows = matched
	}

	switch {
	case q.Delete != nil && q.Insert != nil:
		out, err := mutate.Update(tx, rows, q.Delete, q.Insert)
		if err != nil {
			return nil, err
		}
		return &Answer{Kind: AnswerRows, Rows: out, Mutated: len(rows)}, nil
	case q.Delete != nil:
		n, err := mutate.Delete(tx, rows, q.Delete)
		if err != nil {
			return nil, err
		}
		return &Answer{Kind: AnswerDone, Mutated: n}, nil
	case q.Insert != nil:
		out, err := mutate.Insert(tx, rows, q.Insert)
		if err != nil {
			return nil, err
		}
		return &Answer{Kind: AnswerRows, Rows: out}, nil
	}

	rows = modifier.Sort(rows, q.Sort)

	// Aggregates and groups reduce the pre-pagination set.
	if q.GroupVar != "" {
		if q.GroupAgg != nil {
			vals, err := modifier.GroupAggregate(rows, q.GroupVar, q.GroupAgg.Kind, q.GroupAgg.Var)
			if err != nil {
				return nil, err
			}
			return &Answer{Kind: AnswerGroupValues, GroupVals: vals}, nil
		}
		return &Answer{Kind: AnswerGroups, Groups: modifier.GroupBy(rows, q.GroupVar)}, nil
	}
	if q.Agg != nil {
		v, err := modifier.Aggregate(rows, q.Agg.Kind, q.Agg.Var)
		if err != nil {
			return nil, err
		}
		return &Answer{Kind: AnswerValue, Val: v}, nil
	}

	if q.Fetch != nil {
		docs, err := fetchDocs(view, rows, q.Fetch)
		if err != nil {
			return nil, err
		}
		// Row order carries a requested sort through to pagination; absent
		// one, canonical order keeps pagination deterministic.
		if len(q.Sort) == 0 {
			sort.Slice(docs, func(i, j int) bool { return docKey(docs[i]) < docKey(docs[j]) })
		}
		docs = windowDocs(docs, q.Offset, q.Limit)
		return &Answer{Kind: AnswerDocs, Docs: docs}, nil
	}

	vars := q.Get
	if len(vars) == 0 && q.Match != nil {
		vars = q.Match.Vars()
	}
	rows = project(rows, vars)
	rows = modifier.Window(rows, q.Offset, q.Limit)
	return &Answer{Kind: AnswerRows, Vars: vars, Rows: rows}, nil
}

// project restricts rows to the requested variables and deduplicates; a get
// over fewer variables answers the distinct combinations.
func project(rows []pattern.Row, vars []pattern.Var) []pattern.Row {
	seen := make(map[string]bool, len(rows))
	out := make([]pattern.Row, 0, len(rows))
	for _, row := range rows {
		slim := make(pattern.Row, len(vars))
		for _, v := range vars {
			if c, ok := row.Get(v); ok {
				slim[v] = c
			}
		}
		k := slim.Key(vars)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, slim)
	}
	return out
}

// fetchDocs renders one document per distinct projection. Dropping bound
// variables collapses duplicate documents: fetch has set semantics.
func fetchDocs(view pattern.View, rows []pattern.Row, entries []FetchEntry) ([]Document, error) {
	reg := view.Registry()
	var docs []Document
	seen := make(map[string]bool)
	for _, row := range rows {
		doc := make(Document, len(entries))
		for _, entry := range entries {
			c, ok := row.Get(entry.Var)
			if !ok || c.Inst == nil {
				return nil, fmt.Errorf("%w: fetch variable %s is not bound to an instance", ErrParse, entry.Var)
			}
			fields := make(map[string][]any, len(entry.Attrs))
			for _, fa := range entry.Attrs {
				if !reg.Contains(fa.Attr) {
					return nil, fmt.Errorf("%w: fetch of undefined attribute %q", ErrParse, fa.Attr)
				}
				var vals []any
				var keys []string
				view.EachHas(c.Inst.IID, func(attr *store.Instance) bool {
					if reg.IsSubtype(attr.Type, fa.Attr) {
						vals = append(vals, attr.Val.Native())
						keys = append(keys, attr.Val.Key())
					}
					return true
				})
				sort.Sort(&valsByKey{vals: vals, keys: keys})
				name := fa.Attr
				if fa.As != "" {
					name = fa.As
				}
				fields[name] = vals
			}
			doc[strings.TrimLeft(string(entry.Var), "$?")] = fields
		}
		k := docKey(doc)
		if !seen[k] {
			seen[k] = true
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// docKey serializes a document canonically for set semantics and ordering.
func docKey(d Document) string {
	var b strings.Builder
	outer := make([]string, 0, len(d))
	for k := range d {
		outer = append(outer, k)
	}
	sort.Strings(outer)
	for _, ok := range outer {
		b.WriteString(ok)
		b.WriteByte('{')
		fields := d[ok]
		inner := make([]string, 0, len(fields))
		for k := range fields {
			inner = append(inner, k)
		}
		sort.Strings(inner)
		for _, ik := range inner {
			b.WriteString(ik)
			b.WriteByte('=')
			fmt.Fprintf(&b, "%v", fields[ik])
			b.WriteByte(';')
		}
		b.WriteByte('}')
	}
	return b.String()
}

func windowDocs(docs []Document, offset, limit int) []Document {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(docs) {
		return nil
	}
	docs = docs[offset:]
	if limit >= 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs
}

type valsByKey struct {
	vals []any
	keys []string
}

func (v *valsByKey) Len() int           { return len(v.vals) }
func (v *valsByKey) Less(i, j int) bool { return v.keys[i] < v.keys[j] }
func (v *valsByKey) Swap(i, j int) {
	v.vals[i], v.vals[j] = v.vals[j], v.vals[i]
	v.keys[i], v.keys[j] = v.keys[j], v.keys[i]
}

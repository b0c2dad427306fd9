package pattern

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/strata-db/strata/schema"
	"github.com/strata-db/strata/store"
	"github.com/strata-db/strata/value"
)

type parallelismKey struct{}

// WithParallelism caps the number of pattern components evaluated
// concurrently by Match calls under ctx. Zero or negative means unlimited.
func WithParallelism(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, parallelismKey{}, n)
}

func parallelism(ctx context.Context) int {
	n, _ := ctx.Value(parallelismKey{}).(int)
	return n
}

// Match evaluates a pattern against a view and returns every distinct
// variable-binding row. Rows are returned in a deterministic order; result
// ordering beyond that is the modifier pipeline's concern.
func Match(ctx context.Context, v View, p *Pattern) ([]Row, error) {
	comps := components(p.Statements)

	var joined []Row
	switch len(comps) {
	case 0:
		joined = []Row{{}}
	case 1:
		rows, err := evalStatements(ctx, v, comps[0], Row{})
		if err != nil {
			return nil, err
		}
		joined = rows
	default:
		// Independent components share no variables; evaluate them in
		// parallel and cross-join.
		results := make([][]Row, len(comps))
		g, gctx := errgroup.WithContext(ctx)
		if n := parallelism(ctx); n > 0 {
			g.SetLimit(n)
		}
		for i, comp := range comps {
			i, comp := i, comp
			g.Go(func() error {
				rows, err := evalStatements(gctx, v, comp, Row{})
				if err != nil {
					return err
				}
				results[i] = rows
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		joined = []Row{{}}
		for _, rows := range results {
			joined = crossJoin(joined, rows)
		}
	}

	rows, err := applyBranches(ctx, v, p, joined)
	if err != nil {
		return nil, err
	}
	return dedupe(rows, p.Vars()), nil
}

// matchSeeded evaluates a sub-pattern with the outer bindings fixed. Used for
// disjunction branches, negation bodies, and rule conditions.
func matchSeeded(ctx context.Context, v View, p *Pattern, seed Row) ([]Row, error) {
	rows, err := evalStatements(ctx, v, p.Statements, seed)
	if err != nil {
		return nil, err
	}
	return applyBranches(ctx, v, p, rows)
}

// applyBranches filters rows through the pattern's disjunctions and
// negations.
func applyBranches(ctx context.Context, v View, p *Pattern, rows []Row) ([]Row, error) {
	for _, branches := range p.Disjunctions {
		var kept []Row
		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			for _, branch := range branches {
				sub, err := matchSeeded(ctx, v, branch, row)
				if err != nil {
					return nil, err
				}
				if len(sub) > 0 {
					kept = append(kept, row)
					break
				}
			}
		}
		rows = kept
	}
	for _, neg := range p.Negations {
		var kept []Row
		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			sub, err := matchSeeded(ctx, v, neg, row)
			if err != nil {
				return nil, err
			}
			if len(sub) == 0 {
				kept = append(kept, row)
			}
		}
		rows = kept
	}
	return rows, nil
}

// evalStatements runs the conjunction of stmts over the seed binding,
// choosing an execution order greedily: the statement with the most already
// bound variables goes next, and comparators and assignments wait until
// their inputs are bound.
func evalStatements(ctx context.Context, v View, stmts []Statement, seed Row) ([]Row, error) {
	rows := []Row{seed}
	bound := make(map[Var]bool, len(seed))
	for vr := range seed {
		bound[vr] = true
	}
	pending := append([]Statement(nil), stmts...)

	for len(pending) > 0 {
		idx := nextStatement(pending, bound)
		if idx < 0 {
			return nil, fmt.Errorf("%w: no statement can bind %v", ErrUnboundVariable, unboundOf(pending, bound))
		}
		s := pending[idx]
		pending = append(pending[:idx], pending[idx+1:]...)

		var err error
		rows, err = applyStatement(ctx, v, s, rows)
		if err != nil {
			return nil, err
		}
		for _, vr := range s.vars() {
			bound[vr] = true
		}
		if len(rows) == 0 {
			return nil, nil
		}
	}
	return rows, nil
}

// nextStatement picks the cheapest runnable statement, or -1 when only
// blocked comparators and assignments remain.
func nextStatement(pending []Statement, bound map[Var]bool) int {
	best, bestScore := -1, -1
	for i, s := range pending {
		score := 0
		for _, vr := range s.vars() {
			if bound[vr] {
				score++
			}
		}
		switch st := s.(type) {
		case *Cmp:
			if !bound[st.Lhs] || (st.Rhs.Var != "" && !bound[st.Rhs.Var]) {
				continue
			}
			score += 100 // filters before generators
		case *Let:
			ready := true
			for _, vr := range st.Expr.vars() {
				if !bound[vr] {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			score += 100
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

func unboundOf(pending []Statement, bound map[Var]bool) []Var {
	seen := make(map[Var]bool)
	var out []Var
	for _, s := range pending {
		for _, vr := range s.vars() {
			if !bound[vr] && !seen[vr] {
				seen[vr] = true
				out = append(out, vr)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func applyStatement(ctx context.Context, v View, s Statement, rows []Row) ([]Row, error) {
	var out []Row
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var err error
		switch st := s.(type) {
		case *Isa:
			out, err = expandIsa(v, st, row, out)
		case *Sub:
			out, err = expandSub(v, st, row, out)
		case *Has:
			out, err = expandHas(v, st, row, out)
		case *Rel:
			out, err = expandRel(v, st, row, out)
		case *Cmp:
			out, err = filterCmp(st, row, out)
		case *Let:
			out, err = expandLet(st, row, out)
		default:
			err = fmt.Errorf("pattern: unknown statement %T", s)
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func expandIsa(v View, s *Isa, row Row, out []Row) ([]Row, error) {
	if c, ok := row[s.Var]; ok {
		if c.Inst != nil && instanceIsa(v.Registry(), c.Inst, s.Type, s.Exact) {
			out = append(out, row)
		}
		return out, nil
	}
	if !v.Registry().Contains(s.Type) {
		return nil, fmt.Errorf("%w: %q", schema.ErrTypeNotFound, s.Type)
	}
	v.EachInstance(s.Type, s.Exact, func(inst *store.Instance) bool {
		out = append(out, row.extend(s.Var, InstanceConcept(inst)))
		return true
	})
	return out, nil
}

func instanceIsa(reg *schema.Registry, inst *store.Instance, label string, exact bool) bool {
	if exact {
		return inst.Type == label
	}
	return reg.IsSubtype(inst.Type, label)
}

func expandSub(v View, s *Sub, row Row, out []Row) ([]Row, error) {
	reg := v.Registry()
	if !reg.Contains(s.Super) {
		return nil, fmt.Errorf("%w: %q", schema.ErrTypeNotFound, s.Super)
	}
	var labels []string
	if s.Exact {
		labels = reg.DirectSubtypes(s.Super)
	} else {
		labels = reg.Subtypes(s.Super)
	}
	if c, ok := row[s.Var]; ok {
		for _, label := range labels {
			if c.Type == label {
				out = append(out, row)
				break
			}
		}
		return out, nil
	}
	for _, label := range labels {
		out = append(out, row.extend(s.Var, TypeConcept(label)))
	}
	return out, nil
}

func expandHas(v View, s *Has, row Row, out []Row) ([]Row, error) {
	reg := v.Registry()
	if !reg.Contains(s.Attr) {
		return nil, fmt.Errorf("%w: %q", schema.ErrTypeNotFound, s.Attr)
	}

	accept := func(attr *store.Instance) (bool, error) {
		if !reg.IsSubtype(attr.Type, s.Attr) {
			return false, nil
		}
		if s.Lit != nil {
			op := s.Op
			if op == 0 {
				op = OpEq
			}
			return compareValues(op, attr.Val, *s.Lit)
		}
		if s.AttrVar != "" {
			if c, ok := row[s.AttrVar]; ok {
				return c.Inst != nil && c.Inst.IID == attr.IID, nil
			}
		}
		return true, nil
	}

	emit := func(owner, attr *store.Instance) {
		next := row
		if _, ok := row[s.Owner]; !ok {
			next = next.extend(s.Owner, InstanceConcept(owner))
		}
		if s.AttrVar != "" {
			if _, ok := next[s.AttrVar]; !ok {
				next = next.extend(s.AttrVar, InstanceConcept(attr))
			}
		}
		out = append(out, next)
	}

	if c, ok := row[s.Owner]; ok {
		if c.Inst == nil {
			return out, nil
		}
		var scanErr error
		v.EachHas(c.Inst.IID, func(attr *store.Instance) bool {
			ok, err := accept(attr)
			if err != nil {
				scanErr = err
				return false
			}
			if ok {
				emit(c.Inst, attr)
			}
			return true
		})
		return out, scanErr
	}

	// Owner unbound: drive the scan from the attribute side. An equality
	// literal hits the dedup index directly; anything else walks the
	// attribute instances of the type.
	var scanErr error
	scanAttr := func(attr *store.Instance) bool {
		ok, err := accept(attr)
		if err != nil {
			scanErr = err
			return false
		}
		if !ok {
			return true
		}
		v.EachOwner(attr.IID, func(owner *store.Instance) bool {
			emit(owner, attr)
			return true
		})
		return true
	}
	if s.Lit != nil && (s.Op == 0 || s.Op == OpEq) {
		for _, label := range reg.Subtypes(s.Attr) {
			if attr, ok := v.AttrNode(label, *s.Lit); ok {
				scanAttr(attr)
			}
		}
		return out, scanErr
	}
	v.EachInstance(s.Attr, false, scanAttr)
	return out, scanErr
}

func expandRel(v View, s *Rel, row Row, out []Row) ([]Row, error) {
	reg := v.Registry()
	if !reg.Contains(s.Type) {
		return nil, fmt.Errorf("%w: %q", schema.ErrTypeNotFound, s.Type)
	}

	bindPlayers := func(rel *store.Instance, base Row) ([]Row, error) {
		partial := []Row{base}
		for _, pair := range s.Pairs {
			var target schema.RoleRef
			if pair.Role != "" {
				ref, err := reg.ResolveRole(rel.Type, pair.Role)
				if err != nil {
					// The role may live on a sibling subtype; this relation
					// instance just cannot satisfy the pair.
					return nil, nil
				}
				target = ref
			}
			var next []Row
			for _, pr := range partial {
				if c, ok := pr[pair.Player]; ok {
					if c.Inst == nil {
						continue
					}
					if playerMatches(v, reg, rel.IID, target, c.Inst.IID) {
						next = append(next, pr)
					}
					continue
				}
				v.EachPlayer(rel.IID, func(player *store.Instance, ref schema.RoleRef) bool {
					if target == (schema.RoleRef{}) || reg.RoleSatisfies(ref, target) {
						next = append(next, pr.extend(pair.Player, InstanceConcept(player)))
					}
					return true
				})
			}
			partial = next
			if len(partial) == 0 {
				return nil, nil
			}
		}
		return partial, nil
	}

	handleRel := func(rel *store.Instance) error {
		if !instanceIsa(reg, rel, s.Type, s.Exact) || !rel.IsRelation() {
			return nil
		}
		base := row
		if s.RelVar != "" {
			if c, ok := row[s.RelVar]; ok {
				if c.Inst == nil || c.Inst.IID != rel.IID {
					return nil
				}
			} else {
				base = base.extend(s.RelVar, InstanceConcept(rel))
			}
		}
		bound, err := bindPlayers(rel, base)
		if err != nil {
			return err
		}
		out = append(out, bound...)
		return nil
	}

	// Prefer the narrowest enumeration: a bound relation variable, then a
	// bound player's relations, then a full type scan.
	if s.RelVar != "" {
		if c, ok := row[s.RelVar]; ok {
			if c.Inst == nil {
				return out, nil
			}
			return out, handleRel(c.Inst)
		}
	}
	for _, pair := range s.Pairs {
		c, ok := row[pair.Player]
		if !ok || c.Inst == nil {
			continue
		}
		seen := make(map[string]bool)
		var relErr error
		v.EachRelationOf(c.Inst.IID, func(rel *store.Instance, _ schema.RoleRef) bool {
			if seen[rel.IID] {
				return true
			}
			seen[rel.IID] = true
			relErr = handleRel(rel)
			return relErr == nil
		})
		return out, relErr
	}
	var relErr error
	v.EachInstance(s.Type, s.Exact, func(rel *store.Instance) bool {
		relErr = handleRel(rel)
		return relErr == nil
	})
	return out, relErr
}

func playerMatches(v View, reg *schema.Registry, rel string, target schema.RoleRef, player string) bool {
	if target != (schema.RoleRef{}) && v.PlaysRole(rel, target, player) {
		return true
	}
	found := false
	v.EachPlayer(rel, func(p *store.Instance, ref schema.RoleRef) bool {
		if p.IID != player {
			return true
		}
		if target == (schema.RoleRef{}) || reg.RoleSatisfies(ref, target) {
			found = true
			return false
		}
		return true
	})
	return found
}

func filterCmp(s *Cmp, row Row, out []Row) ([]Row, error) {
	lhs, err := operandValue(row, Operand{Var: s.Lhs})
	if err != nil {
		return nil, err
	}
	rhs, err := operandValue(row, s.Rhs)
	if err != nil {
		return nil, err
	}
	ok, err := compareValues(s.Op, lhs, rhs)
	if err != nil {
		return nil, err
	}
	if ok {
		out = append(out, row)
	}
	return out, nil
}

func operandValue(row Row, o Operand) (value.Value, error) {
	if o.Lit != nil {
		return *o.Lit, nil
	}
	c, ok := row[o.Var]
	if !ok {
		return value.Value{}, fmt.Errorf("%w: %s", ErrUnboundVariable, o.Var)
	}
	v, ok := c.Value()
	if !ok {
		return value.Value{}, fmt.Errorf("%w: %s", ErrNotAValue, o.Var)
	}
	return v, nil
}

func expandLet(s *Let, row Row, out []Row) ([]Row, error) {
	v, err := s.Expr.eval(row)
	if err != nil {
		return nil, err
	}
	if c, ok := row[s.Out]; ok {
		prev, has := c.Value()
		if has && prev.Equal(v) {
			out = append(out, row)
		}
		return out, nil
	}
	return append(out, row.extend(s.Out, ValueConcept(v))), nil
}

// compareValues applies a comparator. Ordering comparators on incomparable
// kinds match nothing rather than failing, so a polymorphic attribute scan
// can mix kinds.
func compareValues(op CmpOp, a, b value.Value) (bool, error) {
	switch op {
	case OpEq:
		return a.Equal(b), nil
	case OpNeq:
		return !a.Equal(b), nil
	case OpContains:
		if a.Kind() != value.KindString || b.Kind() != value.KindString {
			return false, nil
		}
		return strings.Contains(strings.ToLower(a.AsString()), strings.ToLower(b.AsString())), nil
	case OpLike:
		if a.Kind() != value.KindString || b.Kind() != value.KindString {
			return false, nil
		}
		re, err := regexp.Compile(b.AsString())
		if err != nil {
			return false, fmt.Errorf("pattern: like %q: %w", b.AsString(), err)
		}
		return re.MatchString(a.AsString()), nil
	}
	c, err := a.Compare(b)
	if err != nil {
		return false, nil
	}
	switch op {
	case OpLt:
		return c < 0, nil
	case OpLe:
		return c <= 0, nil
	case OpGt:
		return c > 0, nil
	case OpGe:
		return c >= 0, nil
	default:
		return false, fmt.Errorf("pattern: unknown comparator %d", int(op))
	}
}

// components partitions statements into groups connected by shared
// variables. Each group is independent of the others.
func components(stmts []Statement) [][]Statement {
	if len(stmts) == 0 {
		return nil
	}
	parent := make([]int, len(stmts))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}
	byVar := make(map[Var]int)
	for i, s := range stmts {
		for _, vr := range s.vars() {
			if j, ok := byVar[vr]; ok {
				union(i, j)
			} else {
				byVar[vr] = i
			}
		}
	}
	groups := make(map[int][]Statement)
	var order []int
	for i, s := range stmts {
		root := find(i)
		if _, ok := groups[root]; !ok {
			order = append(order, root)
		}
		groups[root] = append(groups[root], s)
	}
	out := make([][]Statement, 0, len(order))
	for _, root := range order {
		out = append(out, groups[root])
	}
	return out
}

// crossJoin products two row sets with disjoint variable domains.
func crossJoin(a, b []Row) []Row {
	out := make([]Row, 0, len(a)*len(b))
	for _, ra := range a {
		for _, rb := range b {
			merged := make(Row, len(ra)+len(rb))
			for k, v := range ra {
				merged[k] = v
			}
			for k, v := range rb {
				merged[k] = v
			}
			out = append(out, merged)
		}
	}
	return out
}

// dedupe drops duplicate rows and orders the result canonically by row key.
func dedupe(rows []Row, vars []Var) []Row {
	seen := make(map[string]bool, len(rows))
	out := make([]Row, 0, len(rows))
	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		k := row.Key(vars)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, row)
		keys = append(keys, k)
	}
	sort.Sort(&rowsByKey{rows: out, keys: keys})
	return out
}

type rowsByKey struct {
	rows []Row
	keys []string
}

func (r *rowsByKey) Len() int           { return len(r.rows) }
func (r *rowsByKey) Less(i, j int) bool { return r.keys[i] < r.keys[j] }
func (r *rowsByKey) Swap(i, j int) {
	r.rows[i], r.rows[j] = r.rows[j], r.rows[i]
	r.keys[i], r.keys[j] = r.keys[j], r.keys[i]
}

package pattern

import (
	"errors"
	"sort"
	"strings"

	"github.com/strata-db/strata/schema"
	"github.com/strata-db/strata/store"
	"github.com/strata-db/strata/value"
)

// Sentinel errors for pattern evaluation.
var (
	// ErrUnboundVariable is returned when a comparator or expression needs a
	// variable no statement in scope can bind.
	ErrUnboundVariable = errors.New("pattern: unbound variable")

	// ErrNotAValue is returned when a variable bound to a non-attribute
	// instance is used where a scalar is required.
	ErrNotAValue = errors.New("pattern: variable does not carry a value")
)

// Var names a pattern variable, sigil included: "$x" binds a concept,
// "?v" binds a computed value.
type Var string

// IsValueVar reports whether the variable is a computed-value variable.
func (v Var) IsValueVar() bool { return strings.HasPrefix(string(v), "?") }

// Concept is one bound item: an instance, a schema type, or a bare value.
// Exactly one of the three facets is populated.
type Concept struct {
	Inst *store.Instance
	Type string
	Val  value.Value
}

// InstanceConcept wraps a stored instance.
func InstanceConcept(inst *store.Instance) Concept { return Concept{Inst: inst} }

// TypeConcept wraps a schema type label.
func TypeConcept(label string) Concept { return Concept{Type: label} }

// ValueConcept wraps a bare scalar.
func ValueConcept(v value.Value) Concept { return Concept{Val: v} }

// Value returns the scalar carried by the concept: the value itself for
// value concepts, the attribute's value for attribute instances.
func (c Concept) Value() (value.Value, bool) {
	if !c.Val.IsZero() {
		return c.Val, true
	}
	if c.Inst != nil && c.Inst.IsAttribute() {
		return c.Inst.Val, true
	}
	return value.Value{}, false
}

// key is a canonical identity string used for row deduplication.
func (c Concept) key() string {
	switch {
	case c.Inst != nil:
		return "i:" + c.Inst.IID
	case c.Type != "":
		return "t:" + c.Type
	default:
		return "v:" + c.Val.Key()
	}
}

// Row is one variable-binding tuple. Rows are treated as immutable; extend
// copies.
type Row map[Var]Concept

// Get returns the binding for v.
func (r Row) Get(v Var) (Concept, bool) {
	c, ok := r[v]
	return c, ok
}

// Vars returns the bound variables, sorted.
func (r Row) Vars() []Var {
	out := make([]Var, 0, len(r))
	for v := range r {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r Row) extend(v Var, c Concept) Row {
	next := make(Row, len(r)+1)
	for k, val := range r {
		next[k] = val
	}
	next[v] = c
	return next
}

// Key returns a canonical identity for the row restricted to vars; rows with
// equal keys bind the same concepts.
func (r Row) Key(vars []Var) string {
	var b strings.Builder
	for _, v := range vars {
		b.WriteString(string(v))
		b.WriteByte('=')
		if c, ok := r[v]; ok {
			b.WriteString(c.key())
		}
		b.WriteByte(';')
	}
	return b.String()
}

// CmpOp enumerates comparator operators.
type CmpOp int

const (
	OpEq CmpOp = iota + 1
	OpNeq
	OpLt
	OpLe
	OpGt
	OpGe
	OpContains // case-insensitive substring
	OpLike     // regular-expression match
)

// String returns the query-language spelling of the operator.
func (op CmpOp) String() string {
	switch op {
	case OpEq:
		return "=="
	case OpNeq:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpContains:
		return "contains"
	case OpLike:
		return "like"
	default:
		return "?"
	}
}

// Operand is one comparator operand: a variable or a literal.
type Operand struct {
	Var Var
	Lit *value.Value
}

// Statement is one conjunct of a pattern.
type Statement interface {
	// vars lists every variable the statement mentions.
	vars() []Var
}

// Isa tests that a variable is an instance of a type; polymorphic unless
// Exact.
type Isa struct {
	Var   Var
	Type  string
	Exact bool
}

func (s *Isa) vars() []Var { return []Var{s.Var} }

// Sub binds a type variable to subtypes of a label at the schema level:
// the label plus transitive subtypes, or direct subtypes only when Exact.
type Sub struct {
	Var   Var
	Super string
	Exact bool
}

func (s *Sub) vars() []Var { return []Var{s.Var} }

// Has tests attribute ownership: Owner has an Attr instance. The attribute
// end is one of: a variable (AttrVar), a literal with an optional inline
// comparator, or fully unconstrained.
type Has struct {
	Owner   Var
	Attr    string
	AttrVar Var      // binds the attribute instance, optional
	Op      CmpOp    // inline comparator for Lit; OpEq when Lit set and Op zero
	Lit     *value.Value
}

func (s *Has) vars() []Var {
	out := []Var{s.Owner}
	if s.AttrVar != "" {
		out = append(out, s.AttrVar)
	}
	return out
}

// RolePair is one (role, player) leg of a relation statement. An empty Role
// matches any role of the relation.
type RolePair struct {
	Role   string
	Player Var
}

// Rel tests relation membership: a relation instance of Type in which each
// listed player plays its role. RelVar optionally binds the relation
// instance itself.
type Rel struct {
	RelVar Var // optional
	Type   string
	Exact  bool
	Pairs  []RolePair
}

func (s *Rel) vars() []Var {
	var out []Var
	if s.RelVar != "" {
		out = append(out, s.RelVar)
	}
	for _, p := range s.Pairs {
		out = append(out, p.Player)
	}
	return out
}

// Cmp compares two bound operands.
type Cmp struct {
	Lhs Var
	Op  CmpOp
	Rhs Operand
}

func (s *Cmp) vars() []Var {
	out := []Var{s.Lhs}
	if s.Rhs.Var != "" {
		out = append(out, s.Rhs.Var)
	}
	return out
}

// Let assigns a computed expression to a fresh value variable.
type Let struct {
	Out  Var
	Expr Expr
}

func (s *Let) vars() []Var {
	return append([]Var{s.Out}, s.Expr.vars()...)
}

// Pattern is a conjunction of statements plus nested disjunctions and
// negations.
type Pattern struct {
	Statements   []Statement
	Disjunctions [][]*Pattern // each element is the branch list of one `or`
	Negations    []*Pattern
}

// Vars returns every variable the pattern can bind (statements plus
// disjunction branches; negation-internal variables never escape), sorted.
func (p *Pattern) Vars() []Var {
	seen := make(map[Var]bool)
	p.collectVars(seen)
	out := make([]Var, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p *Pattern) collectVars(seen map[Var]bool) {
	for _, s := range p.Statements {
		for _, v := range s.vars() {
			seen[v] = true
		}
	}
	// Disjunction branches only export variables also bound outside, so
	// branch-local variables are deliberately not collected.
}

// View is the read surface the matcher evaluates against. *store.Tx
// implements it; the rule engine layers derived facts behind the same
// interface.
type View interface {
	Registry() *schema.Registry
	Instance(iid string) (*store.Instance, bool)
	EachInstance(label string, exact bool, fn func(*store.Instance) bool)
	AttrNode(label string, v value.Value) (*store.Instance, bool)
	HasEdge(owner, attrIID string) bool
	EachHas(owner string, fn func(*store.Instance) bool)
	EachOwner(attrIID string, fn func(*store.Instance) bool)
	EachPlayer(rel string, fn func(*store.Instance, schema.RoleRef) bool)
	EachRelationOf(player string, fn func(*store.Instance, schema.RoleRef) bool)
	PlaysRole(rel string, role schema.RoleRef, player string) bool
}

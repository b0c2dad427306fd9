// Package rule implements inference rules and forward-chaining evaluation.
//
// A rule derives new facts from existing ones: whenever its condition pattern
// matches, its conclusion (one attribute ownership or one relation) is added
// to the inferred view. Rules are validated and stratified when defined, and
// evaluated to fixpoint when a read with inference enabled opens a view.
// Derived facts are never written to the store; they live in an overlay that
// satisfies the same read interface as a transaction.
package rule

import (
	"errors"
	"fmt"

	"github.com/strata-db/strata/pattern"
	"github.com/strata-db/strata/schema"
)

// Sentinel errors for rule definition and evaluation.
var (
	// ErrRule indicates an invalid rule definition.
	ErrRule = errors.New("rule: invalid rule")

	// ErrStratification indicates a cycle of rules through negation, which has
	// no well-defined semantics. The definition is rejected atomically.
	ErrStratification = errors.New("rule: negation cycle, rules cannot be stratified")

	// ErrNoFixpoint indicates that forward chaining did not converge within
	// the iteration bound. Value-generating rules can diverge; the bound turns
	// that into an error instead of a hang.
	ErrNoFixpoint = errors.New("rule: inference did not reach a fixpoint")

	// ErrRuleNotFound indicates an undefine of an unknown rule label.
	ErrRuleNotFound = errors.New("rule: not found")
)

// HasConclusion derives an attribute ownership: Owner gets Attr with the
// given value, taken from a condition variable or a literal.
type HasConclusion struct {
	Owner pattern.Var
	Attr  string
	Value pattern.Operand
}

// RelConclusion derives a relation instance of Type with the given players.
type RelConclusion struct {
	Type  string
	Pairs []pattern.RolePair
}

// Conclusion is the single derived fact of a rule; exactly one of the two
// forms is set.
type Conclusion struct {
	Has *HasConclusion
	Rel *RelConclusion
}

// Rule is one inference rule: when the condition matches, the conclusion
// holds.
type Rule struct {
	Label string
	When  *pattern.Pattern
	Then  Conclusion
}

// Set is an immutable collection of rules. Define and Undefine return a new
// set; evaluation order (strata) is fixed at definition time.
type Set struct {
	rules  map[string]*Rule
	strata [][]string // rule labels grouped by stratum, in evaluation order
}

// NewSet returns an empty rule set.
func NewSet() *Set {
	return &Set{rules: make(map[string]*Rule)}
}

// Len returns the number of rules.
func (s *Set) Len() int { return len(s.rules) }

// Get returns the rule with the given label.
func (s *Set) Get(label string) (*Rule, bool) {
	r, ok := s.rules[label]
	return r, ok
}

// Rules returns the rules in evaluation order.
func (s *Set) Rules() []*Rule {
	var out []*Rule
	for _, stratum := range s.strata {
		for _, label := range stratum {
			out = append(out, s.rules[label])
		}
	}
	return out
}

// Define validates r against the schema and returns a new set containing it.
// Defining an existing label replaces the rule. A definition that would make
// the set unstratifiable is rejected and the receiver is unchanged.
func (s *Set) Define(reg *schema.Registry, r *Rule) (*Set, error) {
	if err := validate(reg, r); err != nil {
		return nil, err
	}
	next := s.with(r)
	if err := next.stratify(reg); err != nil {
		return nil, err
	}
	return next, nil
}

// Undefine returns a new set without the named rule.
func (s *Set) Undefine(reg *schema.Registry, label string) (*Set, error) {
	if _, ok := s.rules[label]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrRuleNotFound, label)
	}
	next := &Set{rules: make(map[string]*Rule, len(s.rules)-1)}
	for l, r := range s.rules {
		if l != label {
			next.rules[l] = r
		}
	}
	if err := next.stratify(reg); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *Set) with(r *Rule) *Set {
	next := &Set{rules: make(map[string]*Rule, len(s.rules)+1)}
	for l, rr := range s.rules {
		next.rules[l] = rr
	}
	next.rules[r.Label] = r
	return next
}

func validate(reg *schema.Registry, r *Rule) error {
	if r.Label == "" {
		return fmt.Errorf("%w: empty label", ErrRule)
	}
	if r.When == nil || (len(r.When.Statements) == 0 && len(r.When.Disjunctions) == 0) {
		return fmt.Errorf("%w: %q has an empty condition", ErrRule, r.Label)
	}
	bound := make(map[pattern.Var]bool)
	for _, v := range r.When.Vars() {
		bound[v] = true
	}

	switch {
	case r.Then.Has != nil && r.Then.Rel != nil:
		return fmt.Errorf("%w: %q concludes both an ownership and a relation", ErrRule, r.Label)
	case r.Then.Has != nil:
		c := r.Then.Has
		if !bound[c.Owner] {
			return fmt.Errorf("%w: %q concludes on unbound %s", ErrRule, r.Label, c.Owner)
		}
		if c.Value.Lit == nil && !bound[c.Value.Var] {
			return fmt.Errorf("%w: %q concludes on unbound %s", ErrRule, r.Label, c.Value.Var)
		}
		t, err := reg.Lookup(c.Attr)
		if err != nil {
			return err
		}
		if t.Kind != schema.KindAttribute {
			return fmt.Errorf("%w: %q concludes %q which is not an attribute type", ErrRule, r.Label, c.Attr)
		}
	case r.Then.Rel != nil:
		c := r.Then.Rel
		t, err := reg.Lookup(c.Type)
		if err != nil {
			return err
		}
		if t.Kind != schema.KindRelation {
			return fmt.Errorf("%w: %q concludes %q which is not a relation type", ErrRule, r.Label, c.Type)
		}
		if t.Abstract {
			return fmt.Errorf("%w: %q concludes abstract relation %q", ErrRule, r.Label, c.Type)
		}
		if len(c.Pairs) == 0 {
			return fmt.Errorf("%w: %q concludes a relation with no players", ErrRule, r.Label)
		}
		for _, p := range c.Pairs {
			if p.Role == "" {
				return fmt.Errorf("%w: %q concludes a player without a role", ErrRule, r.Label)
			}
			if _, err := reg.ResolveRole(c.Type, p.Role); err != nil {
				return err
			}
			if !bound[p.Player] {
				return fmt.Errorf("%w: %q concludes on unbound %s", ErrRule, r.Label, p.Player)
			}
		}
	default:
		return fmt.Errorf("%w: %q has no conclusion", ErrRule, r.Label)
	}
	return nil
}

// dep is one dependency edge between rules: the reader's condition mentions
// a type the writer can derive.
type dep struct {
	writer   string
	negative bool
}

// stratify orders the rules into strata. Rules that feed each other through
// positive dependencies share a stratum; a dependency through negation must
// cross strata, so a negative edge inside a cycle is an error.
func (s *Set) stratify(reg *schema.Registry) error {
	labels := make([]string, 0, len(s.rules))
	for l := range s.rules {
		labels = append(labels, l)
	}

	deps := make(map[string][]dep, len(labels))
	for _, reader := range labels {
		reads := collectReads(s.rules[reader].When, false, nil)
		for _, writer := range labels {
			neg, pos := false, false
			for _, rd := range reads {
				if !typesOverlap(reg, rd.label, writes(s.rules[writer])) {
					continue
				}
				if rd.negated {
					neg = true
				} else {
					pos = true
				}
			}
			if neg {
				deps[reader] = append(deps[reader], dep{writer: writer, negative: true})
			}
			if pos {
				deps[reader] = append(deps[reader], dep{writer: writer})
			}
		}
	}

	comps, compOf := tarjan(labels, deps)
	for reader, edges := range deps {
		for _, e := range edges {
			if e.negative && compOf[reader] == compOf[e.writer] {
				return fmt.Errorf("%w: %q depends on %q", ErrStratification, reader, e.writer)
			}
		}
	}

	// tarjan emits components in reverse topological order: dependencies
	// first. That is exactly the evaluation order.
	s.strata = comps
	return nil
}

// read is one type label mentioned by a condition, with negation context.
type read struct {
	label   string
	negated bool
}

func collectReads(p *pattern.Pattern, negated bool, acc []read) []read {
	if p == nil {
		return acc
	}
	for _, st := range p.Statements {
		switch s := st.(type) {
		case *pattern.Isa:
			acc = append(acc, read{label: s.Type, negated: negated})
		case *pattern.Has:
			acc = append(acc, read{label: s.Attr, negated: negated})
		case *pattern.Rel:
			acc = append(acc, read{label: s.Type, negated: negated})
		}
	}
	for _, branches := range p.Disjunctions {
		for _, b := range branches {
			acc = collectReads(b, negated, acc)
		}
	}
	for _, n := range p.Negations {
		acc = collectReads(n, true, acc)
	}
	return acc
}

// writes returns the type label a rule's conclusion derives.
func writes(r *Rule) string {
	if r.Then.Has != nil {
		return r.Then.Has.Attr
	}
	return r.Then.Rel.Type
}

// typesOverlap reports whether instances of derived type can show up in a
// scan of read type: either label subsumes the other.
func typesOverlap(reg *schema.Registry, read, derived string) bool {
	return reg.IsSubtype(derived, read) || reg.IsSubtype(read, derived)
}

// tarjan computes strongly connected components, returned in reverse
// topological order, plus a label-to-component index.
func tarjan(labels []string, deps map[string][]dep) ([][]string, map[string]int) {
	index := make(map[string]int, len(labels))
	low := make(map[string]int, len(labels))
	onStack := make(map[string]bool, len(labels))
	compOf := make(map[string]int, len(labels))
	var stack []string
	var comps [][]string
	counter := 0

	var visit func(string)
	visit = func(v string) {
		counter++
		index[v] = counter
		low[v] = counter
		stack = append(stack, v)
		onStack[v] = true
		for _, e := range deps[v] {
			w := e.writer
			if _, seen := index[w]; !seen {
				visit(w)
				if low[w] < low[v] {
					low[v] = low[w]
				}
			} else if onStack[w] && index[w] < low[v] {
				low[v] = index[w]
			}
		}
		if low[v] == index[v] {
			var comp []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				compOf[w] = len(comps)
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			comps = append(comps, comp)
		}
	}
	for _, l := range labels {
		if _, seen := index[l]; !seen {
			visit(l)
		}
	}
	return comps, compOf
}

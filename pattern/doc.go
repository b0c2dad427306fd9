// Package pattern implements the pattern matcher of the strata engine.
//
// A Pattern is a conjunction of statements — type tests, attribute ownership
// tests, relation-role bindings, comparators, and computed-value assignments
// — optionally combined with nested disjunctions and negations. Matching a
// pattern against a store view produces the full set of variable-binding
// rows that satisfy it.
//
//	p := &pattern.Pattern{Statements: []pattern.Statement{
//		&pattern.Isa{Var: "$x", Type: "person"},
//		&pattern.Has{Owner: "$x", Attr: "age", AttrVar: "$a"},
//		&pattern.Cmp{Lhs: "$a", Op: pattern.OpGt, Rhs: pattern.Operand{Lit: lit(30)}},
//	}}
//	rows, err := pattern.Match(ctx, tx, p)
//
// Semantics:
//
//   - Conjunction is the intersection of per-statement binding sets on
//     shared variables; the evaluation order is chosen by the engine but the
//     result set is order-independent.
//   - Disjunction is the union of its branches, restricted to the variables
//     bound outside the disjunction.
//   - Negation keeps an outer row iff the inner pattern yields zero rows
//     with the outer variables fixed.
//   - `isa` and `sub` tests are polymorphic (type plus transitive subtypes);
//     `isa!` matches the exact type only and `sub!` direct subtypes only.
//
// Independent groups of statements (connected components over shared
// variables) are evaluated in parallel and merged deterministically.
// Matching honors context cancellation: a cancelled context aborts in-flight
// scans promptly.
package pattern

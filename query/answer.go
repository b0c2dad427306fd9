package query

import (
	"github.com/strata-db/strata/modifier"
	"github.com/strata-db/strata/pattern"
	"github.com/strata-db/strata/value"
)

// AnswerKind discriminates the shapes a query can answer with.
type AnswerKind int

const (
	// AnswerRows is a sequence of variable-binding rows (match/get/insert).
	AnswerRows AnswerKind = iota + 1

	// AnswerValue is a single scalar (aggregates).
	AnswerValue

	// AnswerGroups is rows bucketed by a grouping variable.
	AnswerGroups

	// AnswerGroupValues is one aggregate value per group.
	AnswerGroupValues

	// AnswerDocs is a set of fetch documents.
	AnswerDocs

	// AnswerDone carries no payload (schema clauses, deletes).
	AnswerDone
)

// Document is one fetch result: variable name (sigil stripped) to projected
// attribute values.
type Document map[string]map[string][]any

// Answer is the result of one query. Exactly the fields implied by Kind are
// populated. Results are fully materialized: a transaction evaluates against
// a finite snapshot, so slices keep the surface simple and independent of the
// transaction's lifetime.
type Answer struct {
	Kind AnswerKind

	Vars []pattern.Var
	Rows []pattern.Row

	Val value.Value

	Groups    []modifier.Group
	GroupVals []modifier.GroupValue

	Docs []Document

	// Mutated counts binding rows a delete or update processed.
	Mutated int
}

// Len returns the number of result elements, whatever the shape.
func (a *Answer) Len() int {
	switch a.Kind {
	case AnswerRows:
		return len(a.Rows)
	case AnswerGroups:
		return len(a.Groups)
	case AnswerGroupValues:
		return len(a.GroupVals)
	case AnswerDocs:
		return len(a.Docs)
	case AnswerValue:
		return 1
	default:
		return 0
	}
}

// Package mutate applies insert, delete, and update templates to a write
// transaction, once per pre-computed match binding. Templates reference match
// variables; fresh variables in an insert template create new instances.
package mutate

import (
	"errors"
	"fmt"

	"github.com/strata-db/strata/pattern"
	"github.com/strata-db/strata/schema"
	"github.com/strata-db/strata/store"
	"github.com/strata-db/strata/value"
)

// Sentinel errors for mutation execution.
var (
	// ErrDanglingReference is returned when a template references a variable
	// that is neither bound by the match nor declared by the template, or an
	// instance that no longer exists.
	ErrDanglingReference = errors.New("mutate: dangling reference")

	// ErrTemplate indicates a malformed template.
	ErrTemplate = errors.New("mutate: invalid template")
)

// Thing declares one instance to create (or reference, when the variable is
// already bound by the match).
type Thing struct {
	Var  pattern.Var
	Type string
}

// HasEdge declares one attribute ownership to add. The value is a literal or
// a match variable carrying a value.
type HasEdge struct {
	Owner pattern.Var
	Attr  string
	Value pattern.Operand
}

// Link declares one role-player edge to add to a relation instance.
type Link struct {
	Rel    pattern.Var
	Role   string
	Player pattern.Var
}

// Template is one insert clause: instances to create, ownerships to add, and
// role players to attach, in that order.
type Template struct {
	Things []Thing
	Has    []HasEdge
	Links  []Link
}

// HasRef names ownerships to remove. With a zero Value every edge of the
// attribute type is removed from the owner.
type HasRef struct {
	Owner pattern.Var
	Attr  string
	Value pattern.Operand
}

// LinkRef names one role-player edge to remove.
type LinkRef struct {
	Rel    pattern.Var
	Role   string
	Player pattern.Var
}

// Deletion is one delete clause: instances to remove outright, plus specific
// ownership and role edges to detach.
type Deletion struct {
	Things []pattern.Var
	Has    []HasRef
	Links  []LinkRef
}

// Insert applies the template once per binding row and returns the resulting
// rows: the match bindings extended with the created instances. With no match
// clause callers pass a single empty row.
func Insert(tx *store.Tx, rows []pattern.Row, tpl *Template) ([]pattern.Row, error) {
	out := make([]pattern.Row, 0, len(rows))
	for _, row := range rows {
		inserted, err := insertOne(tx, row, tpl)
		if err != nil {
			return nil, err
		}
		out = append(out, inserted)
	}
	return out, nil
}

func insertOne(tx *store.Tx, row pattern.Row, tpl *Template) (pattern.Row, error) {
	bound := make(pattern.Row, len(row)+len(tpl.Things))
	for k, v := range row {
		bound[k] = v
	}

	for _, th := range tpl.Things {
		if c, ok := bound[th.Var]; ok {
			// Referencing an existing instance; it must still exist and
			// match the stated type.
			if c.Inst == nil {
				return nil, fmt.Errorf("%w: %s is not an instance", ErrDanglingReference, th.Var)
			}
			if _, alive := tx.Instance(c.Inst.IID); !alive {
				return nil, fmt.Errorf("%w: %s was deleted", ErrDanglingReference, th.Var)
			}
			if th.Type != "" && !tx.Registry().IsSubtype(c.Inst.Type, th.Type) {
				return nil, fmt.Errorf("%w: %s is a %s, not a %s", store.ErrTypeMismatch, th.Var, c.Inst.Type, th.Type)
			}
			continue
		}
		t, err := tx.Registry().Lookup(th.Type)
		if err != nil {
			return nil, err
		}
		var iid string
		switch t.Kind {
		case schema.KindEntity:
			iid, err = tx.PutEntity(th.Type)
		case schema.KindRelation:
			iid, err = tx.PutRelation(th.Type)
		default:
			return nil, fmt.Errorf("%w: %s isa %s; attributes are inserted via has", ErrTemplate, th.Var, th.Type)
		}
		if err != nil {
			return nil, err
		}
		inst, _ := tx.Instance(iid)
		bound = extend(bound, th.Var, pattern.InstanceConcept(inst))
	}

	for _, h := range tpl.Has {
		owner, err := resolveInstance(tx, bound, h.Owner)
		if err != nil {
			return nil, err
		}
		v, err := operandValue(bound, h.Value)
		if err != nil {
			return nil, err
		}
		if _, err := tx.PutHas(owner.IID, h.Attr, v); err != nil {
			return nil, err
		}
	}

	for _, l := range tpl.Links {
		rel, err := resolveInstance(tx, bound, l.Rel)
		if err != nil {
			return nil, err
		}
		player, err := resolveInstance(tx, bound, l.Player)
		if err != nil {
			return nil, err
		}
		if err := tx.AddPlayer(rel.IID, l.Role, player.IID); err != nil {
			return nil, err
		}
	}
	return bound, nil
}

// Delete applies the deletion once per binding row and returns the number of
// rows processed. Edges and instances already gone (for example removed by an
// earlier row's cascade) are skipped silently.
func Delete(tx *store.Tx, rows []pattern.Row, del *Deletion) (int, error) {
	for _, row := range rows {
		if err := deleteOne(tx, row, del); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

func deleteOne(tx *store.Tx, row pattern.Row, del *Deletion) error {
	for _, h := range del.Has {
		owner, ok := boundInstance(row, h.Owner)
		if !ok {
			return fmt.Errorf("%w: %s", ErrDanglingReference, h.Owner)
		}
		if h.Value.Lit == nil && h.Value.Var == "" {
			if err := deleteAllHas(tx, owner.IID, h.Attr); err != nil {
				return err
			}
			continue
		}
		v, err := operandValue(row, h.Value)
		if err != nil {
			return err
		}
		if err := tx.DeleteHas(owner.IID, h.Attr, v); err != nil {
			return err
		}
	}
	for _, l := range del.Links {
		rel, ok := boundInstance(row, l.Rel)
		if !ok {
			return fmt.Errorf("%w: %s", ErrDanglingReference, l.Rel)
		}
		player, ok := boundInstance(row, l.Player)
		if !ok {
			return fmt.Errorf("%w: %s", ErrDanglingReference, l.Player)
		}
		if _, alive := tx.Instance(rel.IID); !alive {
			continue
		}
		if err := tx.RemovePlayer(rel.IID, l.Role, player.IID); err != nil {
			return err
		}
	}
	for _, v := range del.Things {
		inst, ok := boundInstance(row, v)
		if !ok {
			return fmt.Errorf("%w: %s", ErrDanglingReference, v)
		}
		if err := tx.DeleteInstance(inst.IID); err != nil {
			return err
		}
	}
	return nil
}

func deleteAllHas(tx *store.Tx, owner, attrLabel string) error {
	if _, alive := tx.Instance(owner); !alive {
		return nil
	}
	reg := tx.Registry()
	type edge struct {
		label string
		val   value.Value
	}
	var edges []edge
	tx.EachHas(owner, func(attr *store.Instance) bool {
		if reg.IsSubtype(attr.Type, attrLabel) {
			edges = append(edges, edge{label: attr.Type, val: attr.Val})
		}
		return true
	})
	for _, e := range edges {
		if err := tx.DeleteHas(owner, e.label, e.val); err != nil {
			return err
		}
	}
	return nil
}

// Update applies the deletion then the insertion per binding row, and returns
// the post-insert rows. Bindings are taken from the pre-delete match, so an
// insert that references an instance removed by the delete clause fails with
// ErrDanglingReference.
func Update(tx *store.Tx, rows []pattern.Row, del *Deletion, ins *Template) ([]pattern.Row, error) {
	out := make([]pattern.Row, 0, len(rows))
	for _, row := range rows {
		if err := deleteOne(tx, row, del); err != nil {
			return nil, err
		}
		inserted, err := insertOne(tx, row, ins)
		if err != nil {
			return nil, err
		}
		out = append(out, inserted)
	}
	return out, nil
}

// resolveInstance returns the live instance a variable refers to.
func resolveInstance(tx *store.Tx, row pattern.Row, v pattern.Var) (*store.Instance, error) {
	inst, ok := boundInstance(row, v)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDanglingReference, v)
	}
	if _, alive := tx.Instance(inst.IID); !alive {
		return nil, fmt.Errorf("%w: %s was deleted", ErrDanglingReference, v)
	}
	return inst, nil
}

func boundInstance(row pattern.Row, v pattern.Var) (*store.Instance, bool) {
	c, ok := row.Get(v)
	if !ok || c.Inst == nil {
		return nil, false
	}
	return c.Inst, true
}

func operandValue(row pattern.Row, op pattern.Operand) (value.Value, error) {
	if op.Lit != nil {
		return *op.Lit, nil
	}
	c, ok := row.Get(op.Var)
	if !ok {
		return value.Value{}, fmt.Errorf("%w: %s", ErrDanglingReference, op.Var)
	}
	v, ok := c.Value()
	if !ok {
		return value.Value{}, fmt.Errorf("%w: %s carries no value", ErrDanglingReference, op.Var)
	}
	return v, nil
}

func extend(row pattern.Row, v pattern.Var, c pattern.Concept) pattern.Row {
	row[v] = c
	return row
}

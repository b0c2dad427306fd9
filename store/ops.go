package store

import (
	"fmt"

	"github.com/strata-db/strata/schema"
	"github.com/strata-db/strata/value"
)

// opCode enumerates the primitive change-log operations. Higher-level
// mutations (cascading deletes in particular) are expanded into primitives
// when they run, so commit replay and journal recovery stay mechanical.
type opCode int

const (
	opCreate opCode = iota + 1 // new entity or relation instance
	opAttr                     // ensure attribute node (deduplicated on replay)
	opHas                      // add has-edge
	opUnhas                    // remove has-edge
	opLink                     // add role edge
	opUnlink                   // remove role edge
	opDelete                   // remove instance and scrub residual edges
)

// op is one primitive change. Which fields are meaningful depends on Code.
type op struct {
	Code   opCode
	IID    string
	Type   string
	Kind   schema.TypeKind
	Val    value.Value
	Owner  string
	Attr   string
	Rel    string
	Role   schema.RoleRef
	Player string
}

// remapTable resolves transaction-local attribute iids to canonical ones when
// the same (type, value) node already exists in the state being replayed.
type remapTable map[string]string

func (m remapTable) resolve(iid string) string {
	if canonical, ok := m[iid]; ok {
		return canonical
	}
	return iid
}

// apply executes one primitive against st, which must be a private clone.
// Constraint checks that depend on global state (attribute dedup, key and
// uniqueness) are re-run here so replaying onto a moved-on canonical state
// stays sound.
func apply(st *state, o op, remap remapTable) error {
	switch o.Code {
	case opCreate:
		st.instances[o.IID] = &Instance{IID: o.IID, Type: o.Type, Kind: o.Kind}
		addToSet(st.byType, o.Type, o.IID)

	case opAttr:
		key := attrKey(o.Type, o.Val)
		if existing, ok := st.attrByKey[key]; ok {
			if existing != o.IID {
				remap[o.IID] = existing
			}
			return nil
		}
		st.instances[o.IID] = &Instance{IID: o.IID, Type: o.Type, Kind: schema.KindAttribute, Val: o.Val}
		addToSet(st.byType, o.Type, o.IID)
		st.attrByKey[key] = o.IID
		st.attrTree.ReplaceOrInsert(attrEntry{typeLabel: o.Type, val: o.Val, iid: o.IID})

	case opHas:
		owner, attr := remap.resolve(o.Owner), remap.resolve(o.Attr)
		ownerInst, ok := st.instances[owner]
		if !ok {
			return fmt.Errorf("%w: has-edge owner %s", ErrNotFound, owner)
		}
		attrInst, ok := st.instances[attr]
		if !ok {
			return fmt.Errorf("%w: has-edge attribute %s", ErrNotFound, attr)
		}
		if st.hasOut[owner][attr] {
			return nil
		}
		if edge, ok := st.reg.OwnsEdge(ownerInst.Type, attrInst.Type); ok && (edge.Key || edge.Unique) {
			if len(st.hasIn[attr]) > 0 {
				return fmt.Errorf("%w: %s %q already owned", ErrConstraint, attrInst.Type, attrInst.Val)
			}
			if edge.Key && ownsValueOfType(st, owner, attrInst.Type) {
				return fmt.Errorf("%w: %s already has a %s key", ErrConstraint, ownerInst.Type, attrInst.Type)
			}
		}
		addToSet(st.hasOut, owner, attr)
		addToSet(st.hasIn, attr, owner)

	case opUnhas:
		owner, attr := remap.resolve(o.Owner), remap.resolve(o.Attr)
		dropFromSet(st.hasOut, owner, attr)
		dropFromSet(st.hasIn, attr, owner)

	case opLink:
		if _, ok := st.instances[o.Rel]; !ok {
			return fmt.Errorf("%w: relation %s", ErrNotFound, o.Rel)
		}
		if _, ok := st.instances[o.Player]; !ok {
			return fmt.Errorf("%w: role player %s", ErrNotFound, o.Player)
		}
		addRole(st.players, o.Rel, o.Role, o.Player)
		addRole(st.playerOf, o.Player, o.Role, o.Rel)

	case opUnlink:
		dropRole(st.players, o.Rel, o.Role, o.Player)
		dropRole(st.playerOf, o.Player, o.Role, o.Rel)

	case opDelete:
		iid := remap.resolve(o.IID)
		inst, ok := st.instances[iid]
		if !ok {
			return nil
		}
		dropFromSet(st.byType, inst.Type, iid)
		if inst.Kind == schema.KindAttribute {
			key := attrKey(inst.Type, inst.Val)
			delete(st.attrByKey, key)
			st.attrTree.Delete(attrEntry{typeLabel: inst.Type, val: inst.Val})
		}
		for attr := range st.hasOut[iid] {
			dropFromSet(st.hasIn, attr, iid)
		}
		delete(st.hasOut, iid)
		for owner := range st.hasIn[iid] {
			dropFromSet(st.hasOut, owner, iid)
		}
		delete(st.hasIn, iid)
		for ref, set := range st.players[iid] {
			for player := range set {
				dropRole(st.playerOf, player, ref, iid)
			}
		}
		delete(st.players, iid)
		for ref, set := range st.playerOf[iid] {
			for rel := range set {
				dropRole(st.players, rel, ref, iid)
			}
		}
		delete(st.playerOf, iid)
		delete(st.instances, iid)
	}
	return nil
}

// ownsValueOfType reports whether owner already has an attribute node whose
// type is attrLabel or a subtype of it.
func ownsValueOfType(st *state, owner, attrLabel string) bool {
	for attr := range st.hasOut[owner] {
		if inst, ok := st.instances[attr]; ok && st.reg.IsSubtype(inst.Type, attrLabel) {
			return true
		}
	}
	return false
}

// touched derives the conflict-detection set of one change log: the iids a
// transaction created, deleted, or re-wired. Attribute nodes are excluded on
// the has-edge side so that concurrently tagging two entities with one shared
// attribute does not conflict; the replay-time constraint checks still guard
// unique and key attributes.
func touched(log []op) map[string]bool {
	out := make(map[string]bool, len(log))
	for _, o := range log {
		switch o.Code {
		case opCreate:
			out[o.IID] = true
		case opHas, opUnhas:
			out[o.Owner] = true
		case opLink, opUnlink:
			out[o.Rel] = true
			out[o.Player] = true
		case opDelete:
			out[o.IID] = true
		}
	}
	return out
}

package store

import (
	"github.com/google/btree"

	"github.com/strata-db/strata/schema"
	"github.com/strata-db/strata/value"
)

// attrEntry is one node of the ordered attribute index: the attribute
// instances of one attribute type, ordered by value.
type attrEntry struct {
	typeLabel string
	val       value.Value
	iid       string
}

func attrLess(a, b attrEntry) bool {
	if a.typeLabel != b.typeLabel {
		return a.typeLabel < b.typeLabel
	}
	if c, err := a.val.Compare(b.val); err == nil {
		if c != 0 {
			return c < 0
		}
		return false
	}
	// Mixed kinds under one label cannot happen through the public API;
	// order by canonical key so the tree stays total anyway.
	return a.val.Key() < b.val.Key()
}

// state is one immutable version of the data plane. Transactions never
// mutate a shared state: write transactions work on a private clone and
// commit installs a fresh clone of the canonical state.
type state struct {
	version uint64
	reg     *schema.Registry

	instances map[string]*Instance
	byType    map[string]map[string]bool // exact type label -> iid set
	attrByKey map[string]string          // type label + NUL + value key -> attr iid
	attrTree  *btree.BTreeG[attrEntry]

	hasOut map[string]map[string]bool // owner iid -> attr iid set
	hasIn  map[string]map[string]bool // attr iid -> owner iid set

	players  map[string]map[schema.RoleRef]map[string]bool // relation iid -> role -> player iids
	playerOf map[string]map[schema.RoleRef]map[string]bool // player iid -> role -> relation iids

	// modified records, per iid, the version of the last commit that wrote
	// it. Commit-time conflict detection compares it with a transaction's
	// base version.
	modified map[string]uint64
}

func newState(reg *schema.Registry) *state {
	return &state{
		version:   1,
		reg:       reg,
		instances: make(map[string]*Instance),
		byType:    make(map[string]map[string]bool),
		attrByKey: make(map[string]string),
		attrTree:  btree.NewG[attrEntry](16, attrLess),
		hasOut:    make(map[string]map[string]bool),
		hasIn:     make(map[string]map[string]bool),
		players:   make(map[string]map[schema.RoleRef]map[string]bool),
		playerOf:  make(map[string]map[schema.RoleRef]map[string]bool),
		modified:  make(map[string]uint64),
	}
}

// clone deep-copies the map spine so the copy can be mutated freely. The
// btree clone is copy-on-write and cheap; Instance values are immutable and
// shared.
func (st *state) clone() *state {
	next := &state{
		version:   st.version,
		reg:       st.reg,
		instances: make(map[string]*Instance, len(st.instances)),
		byType:    cloneSets(st.byType),
		attrByKey: make(map[string]string, len(st.attrByKey)),
		attrTree:  st.attrTree.Clone(),
		hasOut:    cloneSets(st.hasOut),
		hasIn:     cloneSets(st.hasIn),
		players:   cloneRoleSets(st.players),
		playerOf:  cloneRoleSets(st.playerOf),
		modified:  make(map[string]uint64, len(st.modified)),
	}
	for k, v := range st.instances {
		next.instances[k] = v
	}
	for k, v := range st.attrByKey {
		next.attrByKey[k] = v
	}
	for k, v := range st.modified {
		next.modified[k] = v
	}
	return next
}

func cloneSets(m map[string]map[string]bool) map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(m))
	for k, set := range m {
		cp := make(map[string]bool, len(set))
		for e := range set {
			cp[e] = true
		}
		out[k] = cp
	}
	return out
}

func cloneRoleSets(m map[string]map[schema.RoleRef]map[string]bool) map[string]map[schema.RoleRef]map[string]bool {
	out := make(map[string]map[schema.RoleRef]map[string]bool, len(m))
	for k, roles := range m {
		rcp := make(map[schema.RoleRef]map[string]bool, len(roles))
		for ref, set := range roles {
			cp := make(map[string]bool, len(set))
			for e := range set {
				cp[e] = true
			}
			rcp[ref] = cp
		}
		out[k] = rcp
	}
	return out
}

func attrKey(typeLabel string, v value.Value) string {
	return typeLabel + "\x00" + v.Key()
}

func addToSet(m map[string]map[string]bool, k, e string) {
	set := m[k]
	if set == nil {
		set = make(map[string]bool)
		m[k] = set
	}
	set[e] = true
}

func dropFromSet(m map[string]map[string]bool, k, e string) {
	if set := m[k]; set != nil {
		delete(set, e)
		if len(set) == 0 {
			delete(m, k)
		}
	}
}

func addRole(m map[string]map[schema.RoleRef]map[string]bool, k string, ref schema.RoleRef, e string) {
	roles := m[k]
	if roles == nil {
		roles = make(map[schema.RoleRef]map[string]bool)
		m[k] = roles
	}
	set := roles[ref]
	if set == nil {
		set = make(map[string]bool)
		roles[ref] = set
	}
	set[e] = true
}

func dropRole(m map[string]map[schema.RoleRef]map[string]bool, k string, ref schema.RoleRef, e string) {
	roles := m[k]
	if roles == nil {
		return
	}
	if set := roles[ref]; set != nil {
		delete(set, e)
		if len(set) == 0 {
			delete(roles, ref)
		}
	}
	if len(roles) == 0 {
		delete(m, k)
	}
}

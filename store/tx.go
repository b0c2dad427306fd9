package store

import (
	"fmt"

	"github.com/strata-db/strata/schema"
	"github.com/strata-db/strata/value"
)

// TxKind distinguishes read from write transactions.
type TxKind int

const (
	// TxRead is a snapshot-isolated read-only transaction.
	TxRead TxKind = iota + 1

	// TxWrite buffers mutations privately until Commit.
	TxWrite
)

// Tx is one transaction. A read transaction observes the snapshot taken at
// begin. A write transaction additionally sees its own pending writes, which
// no concurrent transaction can observe before Commit. Transactions are not
// safe for concurrent use by multiple goroutines.
type Tx struct {
	store  *Store
	kind   TxKind
	base   *state
	work   *state // lazily cloned private state; nil until first mutation
	log    []op
	closed bool
}

// Kind returns the transaction kind.
func (tx *Tx) Kind() TxKind { return tx.kind }

// Registry returns the schema snapshot this transaction was opened against.
func (tx *Tx) Registry() *schema.Registry { return tx.view().reg }

func (tx *Tx) view() *state {
	if tx.work != nil {
		return tx.work
	}
	return tx.base
}

func (tx *Tx) writable() (*state, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}
	if tx.kind != TxWrite {
		return nil, ErrReadOnly
	}
	if tx.work == nil {
		tx.work = tx.base.clone()
	}
	return tx.work, nil
}

// record applies one primitive to the private state and appends it to the
// change log for commit replay.
func (tx *Tx) record(o op) error {
	st, err := tx.writable()
	if err != nil {
		return err
	}
	if err := apply(st, o, remapTable{}); err != nil {
		return err
	}
	tx.log = append(tx.log, o)
	return nil
}

// Instance returns the instance with the given iid as seen by this
// transaction.
func (tx *Tx) Instance(iid string) (*Instance, bool) {
	inst, ok := tx.view().instances[iid]
	return inst, ok
}

// EachInstance calls fn for every instance of the given type, including
// transitive subtypes unless exact is set. Iteration stops when fn returns
// false.
func (tx *Tx) EachInstance(label string, exact bool, fn func(*Instance) bool) {
	st := tx.view()
	labels := []string{label}
	if !exact {
		labels = st.reg.Subtypes(label)
	}
	for _, l := range labels {
		for iid := range st.byType[l] {
			if inst, ok := st.instances[iid]; ok && !fn(inst) {
				return
			}
		}
	}
}

// CountInstances returns the number of instances of label, optionally
// including subtypes.
func (tx *Tx) CountInstances(label string, exact bool) int {
	n := 0
	tx.EachInstance(label, exact, func(*Instance) bool { n++; return true })
	return n
}

// AttrNode returns the attribute instance for (label, v) if one exists with
// exactly that type.
func (tx *Tx) AttrNode(label string, v value.Value) (*Instance, bool) {
	st := tx.view()
	iid, ok := st.attrByKey[attrKey(label, v)]
	if !ok {
		return nil, false
	}
	inst, ok := st.instances[iid]
	return inst, ok
}

// EachAttrInRange walks the attribute instances of exactly the given type in
// value order, restricted to [min, max] when the bounds are non-nil.
// Iteration stops when fn returns false.
func (tx *Tx) EachAttrInRange(label string, min, max *value.Value, fn func(*Instance) bool) {
	st := tx.view()
	walk := func(e attrEntry) bool {
		if e.typeLabel != label {
			return false
		}
		if max != nil {
			if c, err := e.val.Compare(*max); err != nil || c > 0 {
				return false
			}
		}
		inst, ok := st.instances[e.iid]
		return !ok || fn(inst)
	}
	if min != nil {
		st.attrTree.AscendGreaterOrEqual(attrEntry{typeLabel: label, val: *min}, walk)
		return
	}
	st.attrTree.AscendGreaterOrEqual(attrEntry{typeLabel: label}, walk)
}

// HasEdge reports whether owner owns the given attribute node.
func (tx *Tx) HasEdge(owner, attrIID string) bool {
	return tx.view().hasOut[owner][attrIID]
}

// EachHas calls fn for every attribute node owned by owner.
func (tx *Tx) EachHas(owner string, fn func(*Instance) bool) {
	st := tx.view()
	for attr := range st.hasOut[owner] {
		if inst, ok := st.instances[attr]; ok && !fn(inst) {
			return
		}
	}
}

// EachOwner calls fn for every owner of the given attribute node.
func (tx *Tx) EachOwner(attrIID string, fn func(*Instance) bool) {
	st := tx.view()
	for owner := range st.hasIn[attrIID] {
		if inst, ok := st.instances[owner]; ok && !fn(inst) {
			return
		}
	}
}

// EachPlayer calls fn for every (player, role) pair of a relation instance.
func (tx *Tx) EachPlayer(rel string, fn func(*Instance, schema.RoleRef) bool) {
	st := tx.view()
	for ref, set := range st.players[rel] {
		for player := range set {
			if inst, ok := st.instances[player]; ok && !fn(inst, ref) {
				return
			}
		}
	}
}

// EachRelationOf calls fn for every (relation instance, role) pair in which
// player participates.
func (tx *Tx) EachRelationOf(player string, fn func(*Instance, schema.RoleRef) bool) {
	st := tx.view()
	for ref, set := range st.playerOf[player] {
		for rel := range set {
			if inst, ok := st.instances[rel]; ok && !fn(inst, ref) {
				return
			}
		}
	}
}

// PlaysRole reports whether player plays role in the given relation instance.
func (tx *Tx) PlaysRole(rel string, role schema.RoleRef, player string) bool {
	return tx.view().players[rel][role][player]
}

// PutEntity creates a new entity instance of exactly the given type and
// returns its iid. Abstract types cannot be instantiated.
func (tx *Tx) PutEntity(label string) (string, error) {
	return tx.putThing(label, schema.KindEntity)
}

// PutRelation creates a new relation instance of exactly the given type and
// returns its iid. Players are attached with AddPlayer.
func (tx *Tx) PutRelation(label string) (string, error) {
	return tx.putThing(label, schema.KindRelation)
}

func (tx *Tx) putThing(label string, kind schema.TypeKind) (string, error) {
	st, err := tx.writable()
	if err != nil {
		return "", err
	}
	t, err := st.reg.Lookup(label)
	if err != nil {
		return "", err
	}
	if t.Kind != kind {
		return "", fmt.Errorf("%w: %q is a %s, not a %s", ErrTypeMismatch, label, t.Kind, kind)
	}
	if t.Abstract {
		return "", fmt.Errorf("%w: %q is abstract", ErrTypeMismatch, label)
	}
	iid := newIID()
	if err := tx.record(op{Code: opCreate, IID: iid, Type: label, Kind: kind}); err != nil {
		return "", err
	}
	return iid, nil
}

// PutHas attaches an attribute value to owner, creating the deduplicated
// attribute node if needed, and returns the node's iid. The ownership must be
// declared by the owner's type and the value must match the attribute's
// declared kind (integer literals widen to double-kind attributes).
func (tx *Tx) PutHas(owner, attrLabel string, v value.Value) (string, error) {
	st, err := tx.writable()
	if err != nil {
		return "", err
	}
	ownerInst, ok := st.instances[owner]
	if !ok {
		return "", fmt.Errorf("%w: owner %s", ErrNotFound, owner)
	}
	v, err = tx.checkAttrValue(ownerInst.Type, attrLabel, v)
	if err != nil {
		return "", err
	}
	attrIID, err := tx.ensureAttr(attrLabel, v)
	if err != nil {
		return "", err
	}
	if err := tx.record(op{Code: opHas, Owner: owner, Attr: attrIID}); err != nil {
		return "", err
	}
	return attrIID, nil
}

func (tx *Tx) checkAttrValue(ownerType, attrLabel string, v value.Value) (value.Value, error) {
	st := tx.view()
	if _, ok := st.reg.OwnsEdge(ownerType, attrLabel); !ok {
		return value.Value{}, fmt.Errorf("%w: %s does not own %s", ErrTypeMismatch, ownerType, attrLabel)
	}
	kind, err := st.reg.AttributeKind(attrLabel)
	if err != nil {
		return value.Value{}, err
	}
	if v.Kind() != kind {
		if v.Kind() == value.KindInteger && kind == value.KindDouble {
			return value.Double(float64(v.AsInt())), nil
		}
		return value.Value{}, fmt.Errorf("%w: %s expects %s, got %s", ErrTypeMismatch, attrLabel, kind, v.Kind())
	}
	return v, nil
}

func (tx *Tx) ensureAttr(attrLabel string, v value.Value) (string, error) {
	st := tx.view()
	t, err := st.reg.Lookup(attrLabel)
	if err != nil {
		return "", err
	}
	if t.Kind != schema.KindAttribute {
		return "", fmt.Errorf("%w: %q is not an attribute type", ErrTypeMismatch, attrLabel)
	}
	if t.Abstract {
		return "", fmt.Errorf("%w: attribute %q is abstract", ErrTypeMismatch, attrLabel)
	}
	if iid, ok := st.attrByKey[attrKey(attrLabel, v)]; ok {
		return iid, nil
	}
	iid := newIID()
	if err := tx.record(op{Code: opAttr, IID: iid, Type: attrLabel, Val: v}); err != nil {
		return "", err
	}
	return iid, nil
}

// DeleteHas removes one attribute value from owner. Removing an absent edge
// is a no-op, not an error.
func (tx *Tx) DeleteHas(owner, attrLabel string, v value.Value) error {
	st, err := tx.writable()
	if err != nil {
		return err
	}
	attrIID, ok := st.attrByKey[attrKey(attrLabel, v)]
	if !ok || !st.hasOut[owner][attrIID] {
		return nil
	}
	return tx.record(op{Code: opUnhas, Owner: owner, Attr: attrIID})
}

// AddPlayer attaches player to a role of the given relation instance. The
// role is resolved against the relation's type, and the player's type must be
// declared to play it.
func (tx *Tx) AddPlayer(rel, roleName, player string) error {
	st, err := tx.writable()
	if err != nil {
		return err
	}
	relInst, ok := st.instances[rel]
	if !ok {
		return fmt.Errorf("%w: relation %s", ErrNotFound, rel)
	}
	if !relInst.IsRelation() {
		return fmt.Errorf("%w: %s is not a relation instance", ErrTypeMismatch, rel)
	}
	playerInst, ok := st.instances[player]
	if !ok {
		return fmt.Errorf("%w: player %s", ErrNotFound, player)
	}
	ref, err := st.reg.ResolveRole(relInst.Type, roleName)
	if err != nil {
		return err
	}
	if !st.reg.Plays(playerInst.Type, ref) {
		return fmt.Errorf("%w: %s cannot play %s", ErrTypeMismatch, playerInst.Type, ref)
	}
	return tx.record(op{Code: opLink, Rel: rel, Role: ref, Player: player})
}

// RemovePlayer detaches player from a role of the relation instance. Removing
// an absent edge is a no-op. A relation instance that loses the last player
// of a role is deleted, transitively.
func (tx *Tx) RemovePlayer(rel, roleName, player string) error {
	st, err := tx.writable()
	if err != nil {
		return err
	}
	relInst, ok := st.instances[rel]
	if !ok {
		return nil
	}
	ref, err := st.reg.ResolveRole(relInst.Type, roleName)
	if err != nil {
		return err
	}
	if !st.players[rel][ref][player] {
		return nil
	}
	if err := tx.record(op{Code: opUnlink, Rel: rel, Role: ref, Player: player}); err != nil {
		return err
	}
	if len(st.players[rel][ref]) == 0 {
		return tx.DeleteInstance(rel)
	}
	return nil
}

// DeleteInstance removes an instance and cascades: every has-edge and role
// edge it participates in is removed, and any relation instance left with an
// emptied role is removed too. Deleting an absent iid is a no-op.
func (tx *Tx) DeleteInstance(iid string) error {
	st, err := tx.writable()
	if err != nil {
		return err
	}
	inst, ok := st.instances[iid]
	if !ok {
		return nil
	}

	for attr := range keys(st.hasOut[iid]) {
		if err := tx.record(op{Code: opUnhas, Owner: iid, Attr: attr}); err != nil {
			return err
		}
	}
	if inst.Kind == schema.KindAttribute {
		for owner := range keys(st.hasIn[iid]) {
			if err := tx.record(op{Code: opUnhas, Owner: owner, Attr: iid}); err != nil {
				return err
			}
		}
	}

	// Detach this instance's own players first so their removal does not
	// re-enter the cascade for this relation.
	if inst.IsRelation() {
		for ref, set := range roleEdges(st.players[iid]) {
			for _, player := range set {
				if err := tx.record(op{Code: opUnlink, Rel: iid, Role: ref, Player: player}); err != nil {
					return err
				}
			}
		}
	}

	// Withdraw from every relation this instance plays a role in; relations
	// losing the last player of a role collapse.
	var collapsed []string
	for ref, set := range roleEdges(st.playerOf[iid]) {
		for _, rel := range set {
			if err := tx.record(op{Code: opUnlink, Rel: rel, Role: ref, Player: iid}); err != nil {
				return err
			}
			if _, alive := st.instances[rel]; alive && len(st.players[rel][ref]) == 0 {
				collapsed = append(collapsed, rel)
			}
		}
	}

	if err := tx.record(op{Code: opDelete, IID: iid}); err != nil {
		return err
	}
	for _, rel := range collapsed {
		if err := tx.DeleteInstance(rel); err != nil {
			return err
		}
	}
	return nil
}

// keys snapshots a set before the underlying map is mutated mid-iteration.
func keys(set map[string]bool) map[string]bool {
	out := make(map[string]bool, len(set))
	for k := range set {
		out[k] = true
	}
	return out
}

func roleEdges(m map[schema.RoleRef]map[string]bool) map[schema.RoleRef][]string {
	out := make(map[schema.RoleRef][]string, len(m))
	for ref, set := range m {
		for e := range set {
			out[ref] = append(out[ref], e)
		}
	}
	return out
}

// Commit installs the transaction's changes into the store, or returns
// ErrWriteConflict if a concurrent transaction already committed to an
// overlapping instance. Read transactions just release their snapshot.
func (tx *Tx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.closed = true
	if tx.kind != TxWrite || len(tx.log) == 0 {
		tx.release()
		return nil
	}
	err := tx.store.commit(tx.base.version, tx.log)
	tx.release()
	return err
}

// Rollback discards pending changes and releases the snapshot. Rolling back
// twice, or after Commit, is a no-op.
func (tx *Tx) Rollback() {
	if tx.closed {
		return
	}
	tx.closed = true
	tx.release()
}

// Close is Rollback under the name callers expect from defer chains.
func (tx *Tx) Close() { tx.Rollback() }

func (tx *Tx) release() {
	tx.work = nil
	tx.log = nil
}

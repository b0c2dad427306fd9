// Package store implements the graph store of the strata engine: persisted
// entity, relation, and attribute instances with identity, secondary indexes,
// and snapshot-isolated transactions.
//
// # Model
//
// Every instance has a permanent identifier (IID) and an exact type from the
// schema registry. Attribute instances are deduplicated: one node exists per
// (attribute type, value) pair, connected to its owners by has-edges.
// Relation instances hold a role → players multimap.
//
// # Transactions
//
// A Store hands out transactions:
//
//	tx, err := st.Write(ctx)
//	iid, err := tx.PutEntity("person")
//	err = tx.PutHas(iid, "name", value.MustString("Ada"))
//	err = tx.Commit()
//
// Read transactions observe an immutable snapshot taken at begin and released
// on Close. Write transactions buffer changes privately; nothing is visible
// to concurrent transactions until Commit. Commit is first-committer-wins:
// when two write transactions touch overlapping instances, the later
// committer fails with ErrWriteConflict and must retry. Disjoint write sets
// commit independently by replaying the change log onto the latest state.
//
// # Cascades
//
// Deleting an instance removes every has-edge and role edge it participates
// in. A relation instance that loses the last player of a role is removed
// too, transitively. Deleting something already absent is a no-op.
//
// # Indexes
//
// Secondary indexes are maintained on (exact type) → instances, on
// (attribute type, value) → owners via an ordered btree supporting range
// scans, and on (relation type, role, player) → relation instances.
//
// # Durability
//
// An optional bbolt-backed journal appends one record per commit and is
// replayed on open, restoring the data plane under the current schema.
package store

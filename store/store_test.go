package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-db/strata/schema"
	"github.com/strata-db/strata/value"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.Builtin().Define([]schema.TypeDef{
		{Label: "label", Kind: schema.KindAttribute, ValueKind: value.KindString},
		{Label: "score", Kind: schema.KindAttribute, ValueKind: value.KindDouble},
		{Label: "item", Kind: schema.KindEntity,
			Owns: []schema.OwnsDef{{Attribute: "label", Key: true}, {Attribute: "score"}},
			Plays: []schema.PlaysDef{
				{Relation: "pairs-with", Role: "a"},
				{Relation: "pairs-with", Role: "b"},
			}},
		{Label: "pairs-with", Kind: schema.KindRelation,
			Relates: []schema.RelatesDef{{Role: "a"}, {Role: "b"}}},
	})
	require.NoError(t, err)
	return reg
}

func insertItem(t *testing.T, st *Store, label string) string {
	t.Helper()
	tx, err := st.Write(context.Background())
	require.NoError(t, err)
	iid, err := tx.PutEntity("item")
	require.NoError(t, err)
	_, err = tx.PutHas(iid, "label", value.MustString(label))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return iid
}

func pair(t *testing.T, st *Store, a, b string) string {
	t.Helper()
	tx, err := st.Write(context.Background())
	require.NoError(t, err)
	rel, err := tx.PutRelation("pairs-with")
	require.NoError(t, err)
	require.NoError(t, tx.AddPlayer(rel, "a", a))
	require.NoError(t, tx.AddPlayer(rel, "b", b))
	require.NoError(t, tx.Commit())
	return rel
}

func TestInsertAndReadBack(t *testing.T) {
	st := New(testRegistry(t))
	iid := insertItem(t, st, "X")

	tx, err := st.Read(context.Background())
	require.NoError(t, err)
	defer tx.Close()

	inst, ok := tx.Instance(iid)
	require.True(t, ok)
	assert.Equal(t, "item", inst.Type)

	var labels []string
	tx.EachHas(iid, func(a *Instance) bool {
		labels = append(labels, a.Val.AsString())
		return true
	})
	assert.Equal(t, []string{"X"}, labels)
}

func TestSnapshotIsolation(t *testing.T) {
	st := New(testRegistry(t))

	reader, err := st.Read(context.Background())
	require.NoError(t, err)
	defer reader.Close()

	insertItem(t, st, "X")

	// The pre-existing snapshot does not see the commit.
	assert.Equal(t, 0, reader.CountInstances("item", false))

	after, err := st.Read(context.Background())
	require.NoError(t, err)
	defer after.Close()
	assert.Equal(t, 1, after.CountInstances("item", false))
}

func TestPendingWritesInvisibleUntilCommit(t *testing.T) {
	st := New(testRegistry(t))

	w, err := st.Write(context.Background())
	require.NoError(t, err)
	_, err = w.PutEntity("item")
	require.NoError(t, err)

	concurrent, err := st.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, concurrent.CountInstances("item", false))
	concurrent.Close()

	// The writer sees its own pending writes.
	assert.Equal(t, 1, w.CountInstances("item", false))
	w.Rollback()
	assert.Equal(t, uint64(1), st.Version())
}

func TestWriteConflict(t *testing.T) {
	st := New(testRegistry(t))
	iid := insertItem(t, st, "X")

	tx1, err := st.Write(context.Background())
	require.NoError(t, err)
	tx2, err := st.Write(context.Background())
	require.NoError(t, err)

	_, err = tx1.PutHas(iid, "score", value.Double(1))
	require.NoError(t, err)
	_, err = tx2.PutHas(iid, "score", value.Double(2))
	require.NoError(t, err)

	require.NoError(t, tx1.Commit())
	// Later committer touching the same instance fails and must retry.
	require.ErrorIs(t, tx2.Commit(), ErrWriteConflict)
}

func TestDisjointWritesCommitIndependently(t *testing.T) {
	st := New(testRegistry(t))
	x := insertItem(t, st, "X")
	y := insertItem(t, st, "Y")

	tx1, err := st.Write(context.Background())
	require.NoError(t, err)
	tx2, err := st.Write(context.Background())
	require.NoError(t, err)

	_, err = tx1.PutHas(x, "score", value.Double(1))
	require.NoError(t, err)
	_, err = tx2.PutHas(y, "score", value.Double(2))
	require.NoError(t, err)

	require.NoError(t, tx1.Commit())
	require.NoError(t, tx2.Commit())

	tx, err := st.Read(context.Background())
	require.NoError(t, err)
	defer tx.Close()
	for _, iid := range []string{x, y} {
		n := 0
		tx.EachHas(iid, func(a *Instance) bool {
			if a.Type == "score" {
				n++
			}
			return true
		})
		assert.Equal(t, 1, n, "iid %s", iid)
	}
}

func TestCascadeDelete(t *testing.T) {
	st := New(testRegistry(t))
	x := insertItem(t, st, "X")
	y := insertItem(t, st, "Y")
	rel := pair(t, st, x, y)

	tx, err := st.Write(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.DeleteInstance(y))
	require.NoError(t, tx.Commit())

	r, err := st.Read(context.Background())
	require.NoError(t, err)
	defer r.Close()

	_, ok := r.Instance(y)
	assert.False(t, ok, "deleted entity must be gone")
	_, ok = r.Instance(rel)
	assert.False(t, ok, "relation with an emptied role must collapse")
	assert.Equal(t, 0, r.CountInstances("pairs-with", false))

	// The surviving player carries no stale role edges.
	r.EachRelationOf(x, func(*Instance, schema.RoleRef) bool {
		t.Fatal("unexpected surviving role edge")
		return false
	})
}

func TestDeleteAbsentIsNoop(t *testing.T) {
	st := New(testRegistry(t))
	x := insertItem(t, st, "X")

	tx, err := st.Write(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.DeleteInstance("no-such-iid"))
	require.NoError(t, tx.DeleteHas(x, "score", value.Double(9)))
	require.NoError(t, tx.Commit())
}

func TestAttributeDedup(t *testing.T) {
	st := New(testRegistry(t))
	x := insertItem(t, st, "X")
	y := insertItem(t, st, "Y")

	tx, err := st.Write(context.Background())
	require.NoError(t, err)
	a1, err := tx.PutHas(x, "score", value.Double(5))
	require.NoError(t, err)
	a2, err := tx.PutHas(y, "score", value.Double(5))
	require.NoError(t, err)
	assert.Equal(t, a1, a2, "one attribute node per (type, value)")
	require.NoError(t, tx.Commit())

	r, err := st.Read(context.Background())
	require.NoError(t, err)
	defer r.Close()
	owners := 0
	r.EachOwner(a1, func(*Instance) bool { owners++; return true })
	assert.Equal(t, 2, owners)
}

func TestKeyConstraints(t *testing.T) {
	st := New(testRegistry(t))
	insertItem(t, st, "X")

	// Key values are unique across owners.
	tx, err := st.Write(context.Background())
	require.NoError(t, err)
	dup, err := tx.PutEntity("item")
	require.NoError(t, err)
	_, err = tx.PutHas(dup, "label", value.MustString("X"))
	require.ErrorIs(t, err, ErrConstraint)
	tx.Rollback()

	// Key attributes are mandatory: an item without a label cannot commit.
	tx, err = st.Write(context.Background())
	require.NoError(t, err)
	_, err = tx.PutEntity("item")
	require.NoError(t, err)
	require.ErrorIs(t, tx.Commit(), ErrConstraint)

	// Key attributes are single-valued.
	tx, err = st.Write(context.Background())
	require.NoError(t, err)
	two, err := tx.PutEntity("item")
	require.NoError(t, err)
	_, err = tx.PutHas(two, "label", value.MustString("Y"))
	require.NoError(t, err)
	_, err = tx.PutHas(two, "label", value.MustString("Z"))
	require.ErrorIs(t, err, ErrConstraint)
	tx.Rollback()
}

func TestTypeChecking(t *testing.T) {
	st := New(testRegistry(t))
	x := insertItem(t, st, "X")

	tx, err := st.Write(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.PutHas(x, "label", value.Int(7))
	require.ErrorIs(t, err, ErrTypeMismatch)

	// Integer literals widen for double attributes.
	_, err = tx.PutHas(x, "score", value.Int(7))
	require.NoError(t, err)

	_, err = tx.PutEntity("pairs-with")
	require.ErrorIs(t, err, ErrTypeMismatch)

	rel, err := tx.PutRelation("pairs-with")
	require.NoError(t, err)
	require.ErrorIs(t, tx.AddPlayer(rel, "missing-role", x), schema.ErrTypeNotFound)
}

func TestAttrRangeScan(t *testing.T) {
	st := New(testRegistry(t))
	tx, err := st.Write(context.Background())
	require.NoError(t, err)
	for i, label := range []string{"a", "b", "c", "d"} {
		iid, err := tx.PutEntity("item")
		require.NoError(t, err)
		_, err = tx.PutHas(iid, "label", value.MustString(label))
		require.NoError(t, err)
		_, err = tx.PutHas(iid, "score", value.Double(float64(i)))
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit())

	r, err := st.Read(context.Background())
	require.NoError(t, err)
	defer r.Close()

	min, max := value.Double(1), value.Double(2)
	var got []float64
	r.EachAttrInRange("score", &min, &max, func(a *Instance) bool {
		got = append(got, a.Val.AsDouble())
		return true
	})
	assert.Equal(t, []float64{1, 2}, got, "ordered, bounded scan")
}

func TestReadOnlyTransactionRejectsWrites(t *testing.T) {
	st := New(testRegistry(t))
	tx, err := st.Read(context.Background())
	require.NoError(t, err)
	defer tx.Close()
	_, err = tx.PutEntity("item")
	require.ErrorIs(t, err, ErrReadOnly)
}

func TestClosedTransaction(t *testing.T) {
	st := New(testRegistry(t))
	tx, err := st.Write(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	_, err = tx.PutEntity("item")
	require.ErrorIs(t, err, ErrTxClosed)
	require.ErrorIs(t, tx.Commit(), ErrTxClosed)
}

func TestJournalReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := OpenJournal(path)
	require.NoError(t, err)
	st, err := Open(testRegistry(t), WithJournal(j))
	require.NoError(t, err)
	x := insertItem(t, st, "X")
	y := insertItem(t, st, "Y")
	pair(t, st, x, y)

	tx, err := st.Write(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.DeleteInstance(y))
	require.NoError(t, tx.Commit())
	require.NoError(t, j.Close())

	// Reopen: the journal restores entities, attributes, and the cascade.
	j2, err := OpenJournal(path)
	require.NoError(t, err)
	defer j2.Close()
	st2, err := Open(testRegistry(t), WithJournal(j2))
	require.NoError(t, err)

	r, err := st2.Read(context.Background())
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 1, r.CountInstances("item", false))
	assert.Equal(t, 0, r.CountInstances("pairs-with", false))

	var labels []string
	r.EachInstance("label", true, func(a *Instance) bool {
		labels = append(labels, a.Val.AsString())
		return true
	})
	assert.ElementsMatch(t, []string{"X", "Y"}, labels, "orphan attribute nodes survive")
}

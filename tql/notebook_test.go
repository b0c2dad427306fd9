package tql

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-db/strata"
	"github.com/strata-db/strata/store"
)

func loadedDB(t *testing.T) *strata.Database {
	t.Helper()
	db, err := strata.Open()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Load(context.Background(), db))
	return db
}

func TestNotebookSchemaLoads(t *testing.T) {
	db := loadedDB(t)

	reg := db.Registry()
	for _, label := range []string{
		"identifiable-entity", "domain-thing", "collection",
		"information-content-entity", "artifact", "fragment", "note",
		"agent", "contact", "author", "vocabulary-type", "tag",
		"collection-membership", "collection-nesting", "representation",
		"fragmentation", "aboutness", "classification", "tagging",
		"authorship", "note-threading", "provenance-record",
		"evidence-chain", "derivation",
	} {
		assert.True(t, reg.Contains(label), label)
	}

	ie, err := reg.Lookup("identifiable-entity")
	require.NoError(t, err)
	assert.True(t, ie.Abstract)
	assert.True(t, reg.IsSubtype("author", "agent"))
	assert.True(t, reg.IsSubtype("fragment", "identifiable-entity"))

	// Loading again is idempotent.
	require.NoError(t, Load(context.Background(), db))
}

func TestNotebookRejectsAbstractRoots(t *testing.T) {
	db := loadedDB(t)
	_, err := db.Query(context.Background(),
		`insert $x isa identifiable-entity; $x has id "x";`)
	require.ErrorIs(t, err, store.ErrTypeMismatch)
}

func TestFragmentBoundsCheck(t *testing.T) {
	db := loadedDB(t)
	ctx := context.Background()

	_, err := db.Query(ctx, `insert
		$a isa artifact; $a has id "art-1";
		$a has content "0123456789"; $a has size-in-bytes 10;
		$ok isa fragment; $ok has id "frag-ok";
		$ok has offset 4; $ok has length 3;
		$bad isa fragment; $bad has id "frag-bad";
		$bad has offset 8; $bad has length 5;
		(whole: $a, part: $ok) isa fragmentation;
		(whole: $a, part: $bad) isa fragmentation;`)
	require.NoError(t, err)

	// A fragment whose end runs past its whole's extent is a model
	// violation; the query machinery finds it.
	ans, err := db.Query(ctx, `match
		(whole: $w, part: $f) isa fragmentation;
		$w has size-in-bytes $n;
		$f has offset $o; $f has length $l;
		?end = $o + $l;
		?end > $n;
		$f has id $fid;
		get $fid;`)
	require.NoError(t, err)
	require.Len(t, ans.Rows, 1)
	assert.Equal(t, "frag-bad", ans.Rows[0]["$fid"].Inst.Val.AsString())
}

func TestCollectionMembership(t *testing.T) {
	db := loadedDB(t)
	ctx := context.Background()

	_, err := db.Query(ctx, `insert
		$c isa collection; $c has id "col-1"; $c has name "inbox";
		$empty isa collection; $empty has id "col-2"; $empty has name "archive";
		$a isa artifact; $a has id "art-1";
		$d isa domain-thing; $d has id "thing-1";
		(collection: $c, member: $a) isa collection-membership;
		(collection: $c, member: $d) isa collection-membership;
		(parent: $c, child: $empty) isa collection-nesting;`)
	require.NoError(t, err)

	ans, err := db.Query(ctx, `match
		$c has id "col-1";
		(collection: $c, member: $m) isa collection-membership;
		get $m; count;`)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ans.Val.AsInt(), "artifacts and domain things both enroll")

	ans, err = db.Query(ctx, `match
		$c isa collection;
		not { (collection: $c, member: $m) isa collection-membership; };
		$c has name $n; get $n;`)
	require.NoError(t, err)
	require.Len(t, ans.Rows, 1)
	assert.Equal(t, "archive", ans.Rows[0]["$n"].Inst.Val.AsString())
}

func TestClassificationConfidence(t *testing.T) {
	db := loadedDB(t)
	ctx := context.Background()

	_, err := db.Query(ctx, `insert
		$d isa domain-thing; $d has id "thing-1";
		$f isa vocabulary-type; $f has id "facet-1"; $f has name "protein";
		$g isa vocabulary-type; $g has id "facet-2"; $g has name "gene";
		$c1 (classified: $d, facet: $f) isa classification; $c1 has confidence 0.93;
		$c2 (classified: $d, facet: $g) isa classification; $c2 has confidence 0.40;`)
	require.NoError(t, err)

	// Multi-facet classification with per-edge confidence, thresholded.
	ans, err := db.Query(ctx, `match
		(classified: $d, facet: $f) isa classification;
		$f has name $n;
		$d has id "thing-1";
		get $f, $n; count;`)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ans.Val.AsInt())

	ans, err = db.Query(ctx, `match
		$c (classified: $d, facet: $f) isa classification;
		$c has confidence $p; $p >= 0.9;
		$f has name $n; get $n;`)
	require.NoError(t, err)
	require.Len(t, ans.Rows, 1)
	assert.Equal(t, "protein", ans.Rows[0]["$n"].Inst.Val.AsString())
}

func TestNoteAboutnessAndThreading(t *testing.T) {
	db := loadedDB(t)
	ctx := context.Background()

	_, err := db.Query(ctx, `insert
		$d isa domain-thing; $d has id "thing-1";
		$n1 isa note; $n1 has id "note-1"; $n1 has content "root observation";
		$n2 isa note; $n2 has id "note-2"; $n2 has content "followup";
		(note: $n1, subject: $d) isa aboutness;
		(parent-note: $n1, child-note: $n2) isa note-threading;`)
	require.NoError(t, err)

	// Fetch renders the subject's notes as documents.
	ans, err := db.Query(ctx, `match
		(note: $n, subject: $s) isa aboutness;
		$s has id "thing-1";
		fetch $n: content, id as "note-id";`)
	require.NoError(t, err)
	require.Len(t, ans.Docs, 1)
	doc := ans.Docs[0]["n"]
	assert.Equal(t, []any{"root observation"}, doc["content"])
	assert.Equal(t, []any{"note-1"}, doc["note-id"])

	// Deleting the parent note cascades into its thread links.
	_, err = db.Query(ctx, `match $n has id "note-1"; delete $n;`)
	require.NoError(t, err)
	ans, err = db.Query(ctx, `match $r isa note-threading; get $r; count;`)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ans.Val.AsInt())
}

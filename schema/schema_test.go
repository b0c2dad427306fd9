package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-db/strata/value"
)

func baseDefs() []TypeDef {
	return []TypeDef{
		{Label: "name", Kind: KindAttribute, ValueKind: value.KindString},
		{Label: "age", Kind: KindAttribute, ValueKind: value.KindInteger},
		{Label: "person", Kind: KindEntity,
			Owns:  []OwnsDef{{Attribute: "name", Key: true}, {Attribute: "age"}},
			Plays: []PlaysDef{{Relation: "employment", Role: "employee"}}},
		{Label: "company", Kind: KindEntity,
			Owns:  []OwnsDef{{Attribute: "name", Key: true}},
			Plays: []PlaysDef{{Relation: "employment", Role: "employer"}}},
		{Label: "employment", Kind: KindRelation,
			Relates: []RelatesDef{{Role: "employee"}, {Role: "employer"}}},
	}
}

func TestDefineAndLookup(t *testing.T) {
	reg, err := Builtin().Define(baseDefs())
	require.NoError(t, err)

	person, err := reg.Lookup("person")
	require.NoError(t, err)
	assert.Equal(t, KindEntity, person.Kind)
	assert.Equal(t, RootEntity, person.Super)

	kind, err := reg.AttributeKind("age")
	require.NoError(t, err)
	assert.Equal(t, value.KindInteger, kind)

	edge, ok := reg.OwnsEdge("person", "name")
	require.True(t, ok)
	assert.True(t, edge.Key)

	ref, err := reg.ResolveRole("employment", "employee")
	require.NoError(t, err)
	assert.True(t, reg.Plays("person", ref))
	assert.False(t, reg.Plays("company", ref))
}

func TestDefineIsIdempotent(t *testing.T) {
	reg, err := Builtin().Define(baseDefs())
	require.NoError(t, err)

	again, err := reg.Define(baseDefs())
	require.NoError(t, err)
	// Identical request: zero schema delta, same snapshot version.
	assert.Same(t, reg, again)
	assert.Equal(t, reg.Version(), again.Version())
}

func TestDefineIsAtomic(t *testing.T) {
	base := Builtin()
	_, err := base.Define([]TypeDef{
		{Label: "pet", Kind: KindEntity},
		{Label: "tag", Kind: KindEntity, Owns: []OwnsDef{{Attribute: "missing"}}},
	})
	require.ErrorIs(t, err, ErrTypeNotFound)
	// Nothing from the failed request leaked.
	assert.False(t, base.Contains("pet"))
}

func TestDefineForwardReference(t *testing.T) {
	// A request may reference types it declares later in the same request.
	reg, err := Builtin().Define([]TypeDef{
		{Label: "doc", Kind: KindEntity, Owns: []OwnsDef{{Attribute: "title"}}},
		{Label: "title", Kind: KindAttribute, ValueKind: value.KindString},
	})
	require.NoError(t, err)
	_, ok := reg.OwnsEdge("doc", "title")
	assert.True(t, ok)
}

func TestSubtyping(t *testing.T) {
	reg, err := Builtin().Define(baseDefs())
	require.NoError(t, err)
	reg, err = reg.Define([]TypeDef{
		{Label: "contractor", Kind: KindEntity, Super: "person"},
	})
	require.NoError(t, err)

	assert.True(t, reg.IsSubtype("contractor", "person"))
	assert.True(t, reg.IsSubtype("contractor", RootEntity))
	assert.False(t, reg.IsSubtype("person", "contractor"))
	assert.ElementsMatch(t, []string{"contractor", "person"}, reg.Subtypes("person"))

	// Inherited ownership and plays.
	edge, ok := reg.OwnsEdge("contractor", "name")
	require.True(t, ok)
	assert.True(t, edge.Key)
	ref, err := reg.ResolveRole("employment", "employee")
	require.NoError(t, err)
	assert.True(t, reg.Plays("contractor", ref))
}

func TestSupertypeCycleRejected(t *testing.T) {
	reg, err := Builtin().Define([]TypeDef{
		{Label: "a", Kind: KindEntity},
		{Label: "b", Kind: KindEntity, Super: "a"},
	})
	require.NoError(t, err)
	_, err = reg.Define([]TypeDef{{Label: "a", Kind: KindEntity, Super: "b"}})
	require.ErrorIs(t, err, ErrSchema)
}

func TestKindMismatchRejected(t *testing.T) {
	reg, err := Builtin().Define(baseDefs())
	require.NoError(t, err)
	_, err = reg.Define([]TypeDef{{Label: "person", Kind: KindRelation}})
	require.ErrorIs(t, err, ErrSchema)
	_, err = reg.Define([]TypeDef{{Label: "cat", Kind: KindEntity, Super: "employment"}})
	require.ErrorIs(t, err, ErrSchema)
}

func TestRoleOverride(t *testing.T) {
	reg, err := Builtin().Define(baseDefs())
	require.NoError(t, err)

	reg, err = reg.Define([]TypeDef{
		{Label: "internship", Kind: KindRelation, Super: "employment",
			Relates: []RelatesDef{{Role: "intern", Overridden: "employee"}}},
		{Label: "student", Kind: KindEntity, Super: "person",
			Plays: []PlaysDef{{Relation: "internship", Role: "intern"}}},
	})
	require.NoError(t, err)

	roles := reg.Roles("internship")
	var names []string
	for _, ref := range roles {
		names = append(names, ref.String())
	}
	// The overridden employee role is replaced; employer is inherited.
	assert.ElementsMatch(t, []string{"internship:intern", "employment:employer"}, names)

	// Playing the covariant subtype role satisfies the parent role too.
	parent, err := reg.ResolveRole("employment", "employee")
	require.NoError(t, err)
	assert.True(t, reg.Plays("student", parent))
}

func TestRoleOverrideRequiresInheritedRole(t *testing.T) {
	reg, err := Builtin().Define(baseDefs())
	require.NoError(t, err)
	_, err = reg.Define([]TypeDef{
		{Label: "internship", Kind: KindRelation, Super: "employment",
			Relates: []RelatesDef{{Role: "intern", Overridden: "supervisor"}}},
	})
	require.ErrorIs(t, err, ErrSchema)

	// Overriding without any supertype relation is rejected as well.
	_, err = reg.Define([]TypeDef{
		{Label: "solo", Kind: KindRelation,
			Relates: []RelatesDef{{Role: "only", Overridden: "employee"}}},
	})
	require.ErrorIs(t, err, ErrSchema)
}

func TestUndefine(t *testing.T) {
	reg, err := Builtin().Define(baseDefs())
	require.NoError(t, err)

	// Blocked by subtypes.
	reg2, err := reg.Define([]TypeDef{{Label: "contractor", Kind: KindEntity, Super: "person"}})
	require.NoError(t, err)
	_, err = reg2.Undefine([]string{"person"}, nil)
	require.ErrorIs(t, err, ErrSchema)

	// Blocked by live instances.
	_, err = reg.Undefine([]string{"person"}, func(label string) bool { return label == "person" })
	require.ErrorIs(t, err, ErrSchema)

	// Removing an attribute cascades the owns edges that depended on it.
	next, err := reg.Undefine([]string{"age"}, nil)
	require.NoError(t, err)
	assert.False(t, next.Contains("age"))
	_, ok := next.OwnsEdge("person", "age")
	assert.False(t, ok)
	// Receiver untouched (copy-on-write).
	assert.True(t, reg.Contains("age"))

	// Removing a relation cascades plays edges.
	next, err = reg.Undefine([]string{"employment"}, nil)
	require.NoError(t, err)
	assert.Empty(t, next.PlayedRoles("person"))

	// Unknown label and built-in roots are rejected.
	_, err = reg.Undefine([]string{"ghost"}, nil)
	require.ErrorIs(t, err, ErrTypeNotFound)
	_, err = reg.Undefine([]string{RootEntity}, nil)
	require.ErrorIs(t, err, ErrSchema)
}

func TestAbstractAttributeGroup(t *testing.T) {
	reg, err := Builtin().Define([]TypeDef{
		{Label: "identifier", Kind: KindAttribute, Abstract: true, ValueKind: value.KindString},
		{Label: "iri", Kind: KindAttribute, Super: "identifier"},
		{Label: "resource", Kind: KindEntity, Owns: []OwnsDef{{Attribute: "identifier"}}},
	})
	require.NoError(t, err)

	kind, err := reg.AttributeKind("iri")
	require.NoError(t, err)
	assert.Equal(t, value.KindString, kind)

	// Owning the abstract group admits the concrete subtype.
	_, ok := reg.OwnsEdge("resource", "iri")
	assert.True(t, ok)
}

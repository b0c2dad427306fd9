// Package schema implements the type registry of the strata engine.
//
// A Registry is an immutable snapshot of the schema: entity types, relation
// types with named roles, attribute types with a declared value kind, plus
// ownership edges (plain, @unique, or @key) and role-play edges. Mutating
// operations (Define, Undefine) validate their whole request atomically and
// return a new Registry, leaving the receiver untouched. The database swaps
// the current snapshot on schema-transaction commit, so concurrently open
// data transactions keep a consistent view.
//
// # Defining types
//
//	reg, err := schema.Builtin().Define([]schema.TypeDef{
//		{Label: "name", Kind: schema.KindAttribute, ValueKind: value.KindString},
//		{Label: "person", Kind: schema.KindEntity,
//			Owns:  []schema.OwnsDef{{Attribute: "name", Key: true}},
//			Plays: []schema.PlaysDef{{Relation: "employment", Role: "employee"}}},
//		{Label: "employment", Kind: schema.KindRelation,
//			Relates: []schema.RelatesDef{{Role: "employee"}, {Role: "employer"}}},
//	})
//
// A request may reference types it declares itself; validation sees the whole
// request at once. Re-applying an identical definition is a true no-op.
//
// # Subtyping
//
// Entity and relation types have a single optional supertype of the same
// kind; attribute subtyping is supported for abstract attribute grouping.
// Role overrides (`relates r as parent-role`) are validated strictly: the
// overriding relation must be a proper subtype of the relation declaring the
// overridden role.
package schema

package schema

import (
	"errors"
	"fmt"
	"sort"

	"github.com/strata-db/strata/value"
)

// Sentinel errors for schema operations.
var (
	// ErrSchema indicates an invalid or inconsistent schema-definition or
	// schema-removal request. Nothing is committed when it is returned.
	ErrSchema = errors.New("schema: invalid schema request")

	// ErrTypeNotFound indicates a reference to a type label that is neither
	// in the registry nor declared by the same request.
	ErrTypeNotFound = errors.New("schema: type not found")
)

// Root labels. Every entity, relation, or attribute type descends from the
// corresponding abstract root.
const (
	RootEntity    = "entity"
	RootRelation  = "relation"
	RootAttribute = "attribute"
)

// TypeKind classifies a schema type.
type TypeKind int

const (
	// KindEntity is an independently existing instance type.
	KindEntity TypeKind = iota + 1

	// KindRelation is an n-ary relation type with named roles.
	KindRelation

	// KindAttribute is a value-carrying type owned by other types.
	KindAttribute
)

// String returns the schema-language name of the kind.
func (k TypeKind) String() string {
	switch k {
	case KindEntity:
		return "entity"
	case KindRelation:
		return "relation"
	case KindAttribute:
		return "attribute"
	default:
		return fmt.Sprintf("TypeKind(%d)", int(k))
	}
}

// Ownership describes one owns edge from a type to an attribute type.
// Key implies unique, mandatory, and single-valued; Unique implies unique
// but optional. A plain ownership is multi-valued and optional.
type Ownership struct {
	Attribute string
	Key       bool
	Unique    bool
}

// RoleRef names one role of one relation type.
type RoleRef struct {
	Relation string
	Role     string
}

// String returns the scoped role label, e.g. "employment:employee".
func (r RoleRef) String() string { return r.Relation + ":" + r.Role }

// Role describes one declared role of a relation type. Overridden, when
// non-empty, names the inherited role this declaration specializes.
type Role struct {
	Name       string
	Overridden string
}

// Type is one schema type. Instances are immutable; the registry hands out
// pointers into its own snapshot and callers must not mutate them.
type Type struct {
	Label     string
	Kind      TypeKind
	Super     string // parent label; root types have ""
	Abstract  bool
	ValueKind value.Kind // attribute types only
	Relates   []Role     // relation types only, declared (not inherited) roles
}

// IsRoot reports whether the type is one of the three built-in roots.
func (t *Type) IsRoot() bool { return t.Super == "" }

// Registry is an immutable schema snapshot. The zero value is not usable;
// start from Builtin().
type Registry struct {
	version uint64
	types   map[string]*Type
	owns    map[string]map[string]Ownership // owner label -> attribute label -> edge
	plays   map[string]map[RoleRef]bool     // player label -> role -> declared
	// children is derived: parent label -> sorted child labels.
	children map[string][]string
}

// Builtin returns a registry holding only the three abstract roots.
func Builtin() *Registry {
	r := &Registry{
		version:  1,
		types:    make(map[string]*Type),
		owns:     make(map[string]map[string]Ownership),
		plays:    make(map[string]map[RoleRef]bool),
		children: make(map[string][]string),
	}
	r.types[RootEntity] = &Type{Label: RootEntity, Kind: KindEntity, Abstract: true}
	r.types[RootRelation] = &Type{Label: RootRelation, Kind: KindRelation, Abstract: true}
	r.types[RootAttribute] = &Type{Label: RootAttribute, Kind: KindAttribute, Abstract: true}
	return r
}

// Version returns the snapshot version, bumped on every committed change.
func (r *Registry) Version() uint64 { return r.version }

// Lookup returns the type with the given label, or ErrTypeNotFound.
func (r *Registry) Lookup(label string) (*Type, error) {
	t, ok := r.types[label]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTypeNotFound, label)
	}
	return t, nil
}

// Contains reports whether a label is defined.
func (r *Registry) Contains(label string) bool {
	_, ok := r.types[label]
	return ok
}

// Supertypes returns the chain of ancestor labels from the direct supertype
// up to (and including) the root.
func (r *Registry) Supertypes(label string) []string {
	var out []string
	t, ok := r.types[label]
	for ok && t.Super != "" {
		out = append(out, t.Super)
		t, ok = r.types[t.Super]
	}
	return out
}

// IsSubtype reports whether sub is label itself or a transitive subtype of it.
func (r *Registry) IsSubtype(sub, super string) bool {
	if sub == super {
		return true
	}
	for _, a := range r.Supertypes(sub) {
		if a == super {
			return true
		}
	}
	return false
}

// Subtypes returns label and all transitive subtypes, sorted.
func (r *Registry) Subtypes(label string) []string {
	if !r.Contains(label) {
		return nil
	}
	out := []string{label}
	for i := 0; i < len(out); i++ {
		out = append(out, r.children[out[i]]...)
	}
	sort.Strings(out)
	return out
}

// DirectSubtypes returns the immediate children of label, sorted.
func (r *Registry) DirectSubtypes(label string) []string {
	out := make([]string, len(r.children[label]))
	copy(out, r.children[label])
	return out
}

// AttributeKind resolves the value kind of an attribute type, walking up the
// supertype chain for abstract attribute groups.
func (r *Registry) AttributeKind(label string) (value.Kind, error) {
	t, err := r.Lookup(label)
	if err != nil {
		return value.KindNone, err
	}
	for t != nil {
		if t.Kind != KindAttribute {
			return value.KindNone, fmt.Errorf("%w: %q is a %s, not an attribute", ErrSchema, label, t.Kind)
		}
		if t.ValueKind.IsValid() {
			return t.ValueKind, nil
		}
		t = r.types[t.Super]
	}
	return value.KindNone, fmt.Errorf("%w: attribute %q has no value kind", ErrSchema, label)
}

// OwnsEdge resolves the effective ownership of attr by owner, searching the
// owner's supertype chain. The bool result reports whether any edge exists.
// The attribute may be owned via one of its own supertypes as well: owning an
// abstract attribute admits all its subtypes.
func (r *Registry) OwnsEdge(owner, attr string) (Ownership, bool) {
	for _, label := range append([]string{owner}, r.Supertypes(owner)...) {
		edges := r.owns[label]
		if edges == nil {
			continue
		}
		for _, cand := range append([]string{attr}, r.Supertypes(attr)...) {
			if e, ok := edges[cand]; ok {
				return e, true
			}
		}
	}
	return Ownership{}, false
}

// OwnedAttributes returns the labels of every attribute type owner may carry,
// including inherited ownerships, sorted.
func (r *Registry) OwnedAttributes(owner string) []string {
	seen := make(map[string]bool)
	for _, label := range append([]string{owner}, r.Supertypes(owner)...) {
		for attr := range r.owns[label] {
			seen[attr] = true
		}
	}
	out := make([]string, 0, len(seen))
	for attr := range seen {
		out = append(out, attr)
	}
	sort.Strings(out)
	return out
}

// KeyAttributes returns the attribute labels owner must carry exactly once,
// including inherited key ownerships, sorted.
func (r *Registry) KeyAttributes(owner string) []string {
	var out []string
	for _, attr := range r.OwnedAttributes(owner) {
		if e, ok := r.OwnsEdge(owner, attr); ok && e.Key {
			out = append(out, attr)
		}
	}
	return out
}

// Roles returns the effective roles of a relation type: declared roles plus
// inherited roles that are not overridden, as scoped refs, sorted.
func (r *Registry) Roles(relation string) []RoleRef {
	t, ok := r.types[relation]
	if !ok || t.Kind != KindRelation {
		return nil
	}
	overridden := make(map[string]bool)
	var out []RoleRef
	for cur := t; cur != nil; cur = r.types[cur.Super] {
		for _, role := range cur.Relates {
			if overridden[role.Name] {
				continue
			}
			out = append(out, RoleRef{Relation: cur.Label, Role: role.Name})
			if role.Overridden != "" {
				overridden[role.Overridden] = true
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// ResolveRole finds the effective role named name on relation, searching
// declared and inherited roles.
func (r *Registry) ResolveRole(relation, name string) (RoleRef, error) {
	for _, ref := range r.Roles(relation) {
		if ref.Role == name {
			return ref, nil
		}
	}
	return RoleRef{}, fmt.Errorf("%w: relation %q has no role %q", ErrTypeNotFound, relation, name)
}

// Plays reports whether player (or one of its supertypes) may play the given
// role. A plays edge on a role that overrides the requested role satisfies it
// as well (covariant override).
func (r *Registry) Plays(player string, role RoleRef) bool {
	for _, label := range append([]string{player}, r.Supertypes(player)...) {
		for ref := range r.plays[label] {
			if r.RoleSatisfies(ref, role) {
				return true
			}
		}
	}
	return false
}

// RoleSatisfies reports whether playing ref also satisfies target: either the
// two are the same role, or ref transitively overrides target.
func (r *Registry) RoleSatisfies(ref, target RoleRef) bool {
	for {
		if ref == target {
			return true
		}
		t := r.types[ref.Relation]
		if t == nil {
			return false
		}
		idx := roleIndex(t.Relates, ref.Role)
		if idx < 0 || t.Relates[idx].Overridden == "" {
			return false
		}
		over := t.Relates[idx].Overridden
		next := RoleRef{}
		for _, super := range r.Supertypes(ref.Relation) {
			st := r.types[super]
			if st != nil && st.Kind == KindRelation && roleIndex(st.Relates, over) >= 0 {
				next = RoleRef{Relation: super, Role: over}
				break
			}
		}
		if next == (RoleRef{}) {
			return false
		}
		ref = next
	}
}

// PlayedRoles returns every role player may play, including inherited plays
// edges, sorted by scoped label.
func (r *Registry) PlayedRoles(player string) []RoleRef {
	seen := make(map[RoleRef]bool)
	for _, label := range append([]string{player}, r.Supertypes(player)...) {
		for ref := range r.plays[label] {
			seen[ref] = true
		}
	}
	out := make([]RoleRef, 0, len(seen))
	for ref := range seen {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Labels returns every defined label including the roots, sorted.
func (r *Registry) Labels() []string {
	out := make([]string, 0, len(r.types))
	for label := range r.types {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// clone produces a deep copy with the version bumped; Define and Undefine
// mutate the clone and return it.
func (r *Registry) clone() *Registry {
	next := &Registry{
		version:  r.version + 1,
		types:    make(map[string]*Type, len(r.types)),
		owns:     make(map[string]map[string]Ownership, len(r.owns)),
		plays:    make(map[string]map[RoleRef]bool, len(r.plays)),
		children: make(map[string][]string, len(r.children)),
	}
	for label, t := range r.types {
		cp := *t
		cp.Relates = append([]Role(nil), t.Relates...)
		next.types[label] = &cp
	}
	for owner, edges := range r.owns {
		m := make(map[string]Ownership, len(edges))
		for attr, e := range edges {
			m[attr] = e
		}
		next.owns[owner] = m
	}
	for player, roles := range r.plays {
		m := make(map[RoleRef]bool, len(roles))
		for ref := range roles {
			m[ref] = true
		}
		next.plays[player] = m
	}
	for parent, kids := range r.children {
		next.children[parent] = append([]string(nil), kids...)
	}
	return next
}

func (r *Registry) rebuildChildren() {
	r.children = make(map[string][]string)
	for label, t := range r.types {
		if t.Super != "" {
			r.children[t.Super] = append(r.children[t.Super], label)
		}
	}
	for _, kids := range r.children {
		sort.Strings(kids)
	}
}

package schema

import (
	"fmt"

	"github.com/strata-db/strata/value"
)

// OwnsDef declares one ownership edge in a definition request.
type OwnsDef struct {
	Attribute string
	Key       bool
	Unique    bool
}

// PlaysDef declares one role-play edge in a definition request.
type PlaysDef struct {
	Relation string
	Role     string
}

// RelatesDef declares one role of a relation type. Overridden, when set,
// names an inherited role this role specializes (`relates r as parent-role`).
type RelatesDef struct {
	Role       string
	Overridden string
}

// TypeDef is one declaration inside a schema-definition request.
type TypeDef struct {
	Label     string
	Kind      TypeKind
	Super     string // empty means the kind's root
	Abstract  bool
	ValueKind value.Kind // attribute declarations only
	Owns      []OwnsDef
	Plays     []PlaysDef
	Relates   []RelatesDef
}

// Define validates a whole definition request and returns a new Registry with
// it applied. Validation is all-or-nothing: any violation returns ErrSchema
// (or ErrTypeNotFound) and commits nothing. Declarations may reference types
// declared in the same request. Re-applying declarations already present
// yields the receiver unchanged, at the same version.
func (r *Registry) Define(defs []TypeDef) (*Registry, error) {
	next := r.clone()
	changed := false

	// Pass 1: create or reconcile every declared type so later references,
	// including forward references inside the request, resolve.
	for _, def := range defs {
		if def.Label == "" {
			return nil, fmt.Errorf("%w: declaration with empty label", ErrSchema)
		}
		if !def.Kind.isDeclarable() {
			return nil, fmt.Errorf("%w: %q must be declared as entity, relation, or attribute", ErrSchema, def.Label)
		}
		super := def.Super
		if super == "" {
			super = rootOf(def.Kind)
		}
		if existing, ok := next.types[def.Label]; ok {
			if existing.Super == "" {
				return nil, fmt.Errorf("%w: cannot redeclare built-in root %q", ErrSchema, def.Label)
			}
			if existing.Kind != def.Kind {
				return nil, fmt.Errorf("%w: %q is already defined as a %s", ErrSchema, def.Label, existing.Kind)
			}
			if def.ValueKind.IsValid() && existing.ValueKind.IsValid() && def.ValueKind != existing.ValueKind {
				return nil, fmt.Errorf("%w: attribute %q already has value kind %s", ErrSchema, def.Label, existing.ValueKind)
			}
			if existing.Super != super || existing.Abstract != def.Abstract ||
				(def.ValueKind.IsValid() && !existing.ValueKind.IsValid()) {
				existing.Super = super
				existing.Abstract = def.Abstract
				if def.ValueKind.IsValid() {
					existing.ValueKind = def.ValueKind
				}
				changed = true
			}
		} else {
			next.types[def.Label] = &Type{
				Label:     def.Label,
				Kind:      def.Kind,
				Super:     super,
				Abstract:  def.Abstract,
				ValueKind: def.ValueKind,
			}
			changed = true
		}
	}

	// Pass 2: merge relates declarations, so role references resolve.
	for _, def := range defs {
		t := next.types[def.Label]
		if len(def.Relates) > 0 && t.Kind != KindRelation {
			return nil, fmt.Errorf("%w: %s type %q cannot declare roles", ErrSchema, t.Kind, def.Label)
		}
		for _, rel := range def.Relates {
			if rel.Role == "" {
				return nil, fmt.Errorf("%w: relation %q declares an unnamed role", ErrSchema, def.Label)
			}
			if idx := roleIndex(t.Relates, rel.Role); idx >= 0 {
				if t.Relates[idx].Overridden != rel.Overridden {
					return nil, fmt.Errorf("%w: role %s:%s already declared with a different override", ErrSchema, def.Label, rel.Role)
				}
				continue
			}
			t.Relates = append(t.Relates, Role{Name: rel.Role, Overridden: rel.Overridden})
			changed = true
		}
	}

	// Pass 3: structural validation of the merged type graph.
	next.rebuildChildren()
	if err := next.validateTypes(); err != nil {
		return nil, err
	}

	// Pass 4: merge owns and plays edges, now that every target resolves.
	for _, def := range defs {
		for _, o := range def.Owns {
			attr, ok := next.types[o.Attribute]
			if !ok {
				return nil, fmt.Errorf("%w: %q owns undefined attribute %q", ErrTypeNotFound, def.Label, o.Attribute)
			}
			if attr.Kind != KindAttribute {
				return nil, fmt.Errorf("%w: %q owns %q, which is a %s", ErrSchema, def.Label, o.Attribute, attr.Kind)
			}
			if o.Key && o.Unique {
				return nil, fmt.Errorf("%w: %q owns %q as both @key and @unique", ErrSchema, def.Label, o.Attribute)
			}
			edge := Ownership{Attribute: o.Attribute, Key: o.Key, Unique: o.Unique}
			edges := next.owns[def.Label]
			if edges == nil {
				edges = make(map[string]Ownership)
				next.owns[def.Label] = edges
			}
			if prev, ok := edges[o.Attribute]; ok {
				if prev != edge {
					return nil, fmt.Errorf("%w: %q already owns %q with different constraints", ErrSchema, def.Label, o.Attribute)
				}
				continue
			}
			edges[o.Attribute] = edge
			changed = true
		}
		for _, p := range def.Plays {
			rel, ok := next.types[p.Relation]
			if !ok {
				return nil, fmt.Errorf("%w: %q plays role of undefined relation %q", ErrTypeNotFound, def.Label, p.Relation)
			}
			if rel.Kind != KindRelation {
				return nil, fmt.Errorf("%w: %q plays %s:%s, but %q is a %s", ErrSchema, def.Label, p.Relation, p.Role, p.Relation, rel.Kind)
			}
			ref, err := next.ResolveRole(p.Relation, p.Role)
			if err != nil {
				return nil, err
			}
			roles := next.plays[def.Label]
			if roles == nil {
				roles = make(map[RoleRef]bool)
				next.plays[def.Label] = roles
			}
			if !roles[ref] {
				roles[ref] = true
				changed = true
			}
		}
	}

	if !changed {
		return r, nil
	}
	return next, nil
}

// Undefine removes the named types and returns a new Registry. It fails if a
// target does not exist, is a built-in root, still has subtypes, or still has
// live instances per hasInstances. Ownership and role-play edges that exist
// only because of a removed type are removed with it. Undefining within one
// request is atomic: any failure commits nothing.
func (r *Registry) Undefine(labels []string, hasInstances func(label string) bool) (*Registry, error) {
	if len(labels) == 0 {
		return r, nil
	}
	doomed := make(map[string]bool, len(labels))
	for _, label := range labels {
		doomed[label] = true
	}
	for _, label := range labels {
		t, ok := r.types[label]
		if !ok {
			return nil, fmt.Errorf("%w: cannot undefine %q", ErrTypeNotFound, label)
		}
		if t.Super == "" {
			return nil, fmt.Errorf("%w: cannot undefine built-in root %q", ErrSchema, label)
		}
		for _, child := range r.children[label] {
			if !doomed[child] {
				return nil, fmt.Errorf("%w: %q still has subtype %q", ErrSchema, label, child)
			}
		}
		if hasInstances != nil && hasInstances(label) {
			return nil, fmt.Errorf("%w: %q still has live instances", ErrSchema, label)
		}
	}

	next := r.clone()
	for label := range doomed {
		t := next.types[label]
		delete(next.types, label)
		delete(next.owns, label)
		delete(next.plays, label)
		switch t.Kind {
		case KindAttribute:
			for _, edges := range next.owns {
				delete(edges, label)
			}
		case KindRelation:
			for _, roles := range next.plays {
				for ref := range roles {
					if ref.Relation == label {
						delete(roles, ref)
					}
				}
			}
		}
	}
	next.rebuildChildren()
	return next, nil
}

// validateTypes checks supertype existence, kind agreement, acyclicity,
// attribute value kinds, and role overrides over the whole merged graph.
func (r *Registry) validateTypes() error {
	labels := r.Labels()
	for _, label := range labels {
		t := r.types[label]
		if t.Super == "" {
			continue
		}
		super, ok := r.types[t.Super]
		if !ok {
			return fmt.Errorf("%w: %q extends undefined type %q", ErrTypeNotFound, label, t.Super)
		}
		if super.Kind != t.Kind {
			return fmt.Errorf("%w: %s type %q cannot extend %s type %q", ErrSchema, t.Kind, label, super.Kind, t.Super)
		}
	}

	// Supertype cycles: walk each chain with a budget of the type count.
	for _, label := range labels {
		seen := map[string]bool{label: true}
		for t := r.types[label]; t != nil && t.Super != ""; t = r.types[t.Super] {
			if seen[t.Super] {
				return fmt.Errorf("%w: supertype cycle through %q", ErrSchema, t.Super)
			}
			seen[t.Super] = true
		}
	}

	for _, label := range labels {
		t := r.types[label]
		switch t.Kind {
		case KindAttribute:
			if t.Super == "" {
				continue
			}
			if !t.Abstract {
				if _, err := r.AttributeKind(label); err != nil {
					return err
				}
			}
		case KindRelation:
			for _, role := range t.Relates {
				if role.Overridden == "" {
					continue
				}
				if err := r.validateOverride(t, role); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// validateOverride enforces strict role subtyping: the overridden role must
// be declared on a proper supertype of the overriding relation, and the
// override must not shadow a role the relation declares itself.
func (r *Registry) validateOverride(rel *Type, role Role) error {
	if role.Overridden == role.Name {
		return fmt.Errorf("%w: role %s:%s overrides itself", ErrSchema, rel.Label, role.Name)
	}
	for _, super := range r.Supertypes(rel.Label) {
		st := r.types[super]
		if st == nil || st.Kind != KindRelation {
			continue
		}
		if roleIndex(st.Relates, role.Overridden) >= 0 {
			return nil
		}
	}
	return fmt.Errorf("%w: role %s:%s overrides %q, which no supertype relation declares",
		ErrSchema, rel.Label, role.Name, role.Overridden)
}

func (k TypeKind) isDeclarable() bool {
	return k == KindEntity || k == KindRelation || k == KindAttribute
}

func rootOf(k TypeKind) string {
	switch k {
	case KindEntity:
		return RootEntity
	case KindRelation:
		return RootRelation
	default:
		return RootAttribute
	}
}

func roleIndex(roles []Role, name string) int {
	for i, role := range roles {
		if role.Name == name {
			return i
		}
	}
	return -1
}

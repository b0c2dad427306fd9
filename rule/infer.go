package rule

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/strata-db/strata/pattern"
	"github.com/strata-db/strata/schema"
	"github.com/strata-db/strata/store"
	"github.com/strata-db/strata/value"
)

// maxRounds bounds the fixpoint loop per stratum. A well-formed rule set
// converges long before this; value-generating rules may not.
const maxRounds = 10000

// Infer forward-chains the rule set over a base view until no rule derives a
// new fact, and returns a view exposing base plus derived facts. The base
// view is never mutated. With no rules defined the base view is returned
// unchanged.
func (s *Set) Infer(ctx context.Context, base pattern.View) (pattern.View, error) {
	if len(s.rules) == 0 {
		return base, nil
	}
	ov := newOverlay(base)
	for _, stratum := range s.strata {
		for round := 0; ; round++ {
			if round == maxRounds {
				return nil, fmt.Errorf("%w after %d rounds", ErrNoFixpoint, round)
			}
			grew := false
			for _, label := range stratum {
				r := s.rules[label]
				rows, err := pattern.Match(ctx, ov, r.When)
				if err != nil {
					return nil, err
				}
				for _, row := range rows {
					added, err := ov.conclude(r, row)
					if err != nil {
						return nil, err
					}
					grew = grew || added
				}
			}
			if !grew {
				break
			}
		}
	}
	if len(ov.instances) == 0 && len(ov.hasOut) == 0 {
		return base, nil
	}
	return ov, nil
}

// Derived returns the number of facts a view carries beyond its base: derived
// instances plus derived ownership edges. A view that did not come from Infer
// reports zero.
func Derived(v pattern.View) int {
	ov, ok := v.(*overlay)
	if !ok {
		return 0
	}
	n := len(ov.instances)
	for _, set := range ov.hasOut {
		n += len(set)
	}
	return n
}

// overlay layers derived facts over a base view. It satisfies pattern.View,
// so matching, fetching, and chained rule rounds see base and derived facts
// uniformly.
type overlay struct {
	base pattern.View
	reg  *schema.Registry

	instances map[string]*store.Instance
	byType    map[string]map[string]bool
	attrByKey map[string]string
	hasOut    map[string]map[string]bool
	hasIn     map[string]map[string]bool
	players   map[string]map[schema.RoleRef]map[string]bool
	playerOf  map[string]map[schema.RoleRef]map[string]bool
}

func newOverlay(base pattern.View) *overlay {
	return &overlay{
		base:      base,
		reg:       base.Registry(),
		instances: make(map[string]*store.Instance),
		byType:    make(map[string]map[string]bool),
		attrByKey: make(map[string]string),
		hasOut:    make(map[string]map[string]bool),
		hasIn:     make(map[string]map[string]bool),
		players:   make(map[string]map[schema.RoleRef]map[string]bool),
		playerOf:  make(map[string]map[schema.RoleRef]map[string]bool),
	}
}

// conclude applies one rule conclusion under one binding. It reports whether
// a fact the view did not already contain was added. Bindings whose concepts
// cannot legally carry the conclusion are skipped, not errors: the condition
// may be more polymorphic than the conclusion.
func (o *overlay) conclude(r *Rule, row pattern.Row) (bool, error) {
	if c := r.Then.Has; c != nil {
		owner, ok := row.Get(c.Owner)
		if !ok || owner.Inst == nil {
			return false, nil
		}
		v, err := concludedValue(row, c.Value)
		if err != nil {
			return false, err
		}
		return o.deriveHas(owner.Inst, c.Attr, v)
	}

	c := r.Then.Rel
	players := make([]derivedPlayer, 0, len(c.Pairs))
	for _, p := range c.Pairs {
		pc, ok := row.Get(p.Player)
		if !ok || pc.Inst == nil {
			return false, nil
		}
		ref, err := o.reg.ResolveRole(c.Type, p.Role)
		if err != nil {
			return false, err
		}
		if !o.reg.Plays(pc.Inst.Type, ref) {
			return false, nil
		}
		players = append(players, derivedPlayer{ref: ref, iid: pc.Inst.IID})
	}
	return o.deriveRel(c.Type, players), nil
}

func concludedValue(row pattern.Row, op pattern.Operand) (value.Value, error) {
	if op.Lit != nil {
		return *op.Lit, nil
	}
	c, ok := row.Get(op.Var)
	if !ok {
		return value.Value{}, fmt.Errorf("%w: %s", pattern.ErrUnboundVariable, op.Var)
	}
	v, ok := c.Value()
	if !ok {
		return value.Value{}, fmt.Errorf("%w: %s", pattern.ErrNotAValue, op.Var)
	}
	return v, nil
}

func (o *overlay) deriveHas(owner *store.Instance, attrLabel string, v value.Value) (bool, error) {
	if _, ok := o.reg.OwnsEdge(owner.Type, attrLabel); !ok {
		return false, nil
	}
	kind, err := o.reg.AttributeKind(attrLabel)
	if err != nil {
		return false, err
	}
	if v.Kind() != kind {
		if v.Kind() == value.KindInteger && kind == value.KindDouble {
			v = value.Double(float64(v.AsInt()))
		} else {
			return false, nil
		}
	}
	attr := o.ensureAttr(attrLabel, v)
	if o.base.HasEdge(owner.IID, attr.IID) || o.hasOut[owner.IID][attr.IID] {
		return false, nil
	}
	addSet(o.hasOut, owner.IID, attr.IID)
	addSet(o.hasIn, attr.IID, owner.IID)
	return true, nil
}

func (o *overlay) ensureAttr(label string, v value.Value) *store.Instance {
	if inst, ok := o.base.AttrNode(label, v); ok {
		return inst
	}
	key := label + "\x00" + v.Key()
	if iid, ok := o.attrByKey[key]; ok {
		return o.instances[iid]
	}
	inst := &store.Instance{
		IID:  "inferred-attr:" + key,
		Type: label,
		Kind: schema.KindAttribute,
		Val:  v,
	}
	o.instances[inst.IID] = inst
	addSet(o.byType, label, inst.IID)
	o.attrByKey[key] = inst.IID
	return inst
}

type derivedPlayer struct {
	ref schema.RoleRef
	iid string
}

func (o *overlay) deriveRel(label string, players []derivedPlayer) bool {
	// Derived relations are keyed by their full player set, which both
	// deduplicates and guarantees the fixpoint terminates.
	legs := make([]string, len(players))
	for i, p := range players {
		legs[i] = p.ref.String() + "=" + p.iid
	}
	sort.Strings(legs)
	iid := "inferred-rel:" + label + ":" + strings.Join(legs, ",")
	if _, ok := o.instances[iid]; ok {
		return false
	}
	if o.baseRelExists(label, players) {
		return false
	}
	inst := &store.Instance{IID: iid, Type: label, Kind: schema.KindRelation}
	o.instances[iid] = inst
	addSet(o.byType, label, iid)
	for _, p := range players {
		addRole(o.players, iid, p.ref, p.iid)
		addRole(o.playerOf, p.iid, p.ref, iid)
	}
	return true
}

// baseRelExists reports whether the base view already stores a relation of
// the given type with exactly these role edges.
func (o *overlay) baseRelExists(label string, players []derivedPlayer) bool {
	if len(players) == 0 {
		return false
	}
	found := false
	o.base.EachRelationOf(players[0].iid, func(rel *store.Instance, _ schema.RoleRef) bool {
		if rel.Type != label {
			return true
		}
		for _, p := range players {
			if !o.base.PlaysRole(rel.IID, p.ref, p.iid) {
				return true
			}
		}
		found = true
		return false
	})
	return found
}

// pattern.View implementation.

func (o *overlay) Registry() *schema.Registry { return o.reg }

func (o *overlay) Instance(iid string) (*store.Instance, bool) {
	if inst, ok := o.base.Instance(iid); ok {
		return inst, true
	}
	inst, ok := o.instances[iid]
	return inst, ok
}

func (o *overlay) EachInstance(label string, exact bool, fn func(*store.Instance) bool) {
	stopped := false
	o.base.EachInstance(label, exact, func(inst *store.Instance) bool {
		if !fn(inst) {
			stopped = true
			return false
		}
		return true
	})
	if stopped {
		return
	}
	labels := []string{label}
	if !exact {
		labels = o.reg.Subtypes(label)
	}
	for _, l := range labels {
		for iid := range o.byType[l] {
			if !fn(o.instances[iid]) {
				return
			}
		}
	}
}

func (o *overlay) AttrNode(label string, v value.Value) (*store.Instance, bool) {
	if inst, ok := o.base.AttrNode(label, v); ok {
		return inst, true
	}
	iid, ok := o.attrByKey[label+"\x00"+v.Key()]
	if !ok {
		return nil, false
	}
	return o.instances[iid], true
}

func (o *overlay) HasEdge(owner, attrIID string) bool {
	return o.base.HasEdge(owner, attrIID) || o.hasOut[owner][attrIID]
}

func (o *overlay) EachHas(owner string, fn func(*store.Instance) bool) {
	stopped := false
	o.base.EachHas(owner, func(inst *store.Instance) bool {
		if !fn(inst) {
			stopped = true
			return false
		}
		return true
	})
	if stopped {
		return
	}
	for attr := range o.hasOut[owner] {
		inst, ok := o.Instance(attr)
		if ok && !fn(inst) {
			return
		}
	}
}

func (o *overlay) EachOwner(attrIID string, fn func(*store.Instance) bool) {
	stopped := false
	o.base.EachOwner(attrIID, func(inst *store.Instance) bool {
		if !fn(inst) {
			stopped = true
			return false
		}
		return true
	})
	if stopped {
		return
	}
	for owner := range o.hasIn[attrIID] {
		inst, ok := o.Instance(owner)
		if ok && !fn(inst) {
			return
		}
	}
}

func (o *overlay) EachPlayer(rel string, fn func(*store.Instance, schema.RoleRef) bool) {
	if _, derived := o.instances[rel]; !derived {
		o.base.EachPlayer(rel, fn)
		return
	}
	for ref, set := range o.players[rel] {
		for player := range set {
			inst, ok := o.Instance(player)
			if ok && !fn(inst, ref) {
				return
			}
		}
	}
}

func (o *overlay) EachRelationOf(player string, fn func(*store.Instance, schema.RoleRef) bool) {
	stopped := false
	o.base.EachRelationOf(player, func(inst *store.Instance, ref schema.RoleRef) bool {
		if !fn(inst, ref) {
			stopped = true
			return false
		}
		return true
	})
	if stopped {
		return
	}
	for ref, set := range o.playerOf[player] {
		for rel := range set {
			if !fn(o.instances[rel], ref) {
				return
			}
		}
	}
}

func (o *overlay) PlaysRole(rel string, role schema.RoleRef, player string) bool {
	if _, derived := o.instances[rel]; derived {
		return o.players[rel][role][player]
	}
	return o.base.PlaysRole(rel, role, player)
}

func addSet(m map[string]map[string]bool, k, v string) {
	if m[k] == nil {
		m[k] = make(map[string]bool)
	}
	m[k][v] = true
}

func addRole(m map[string]map[schema.RoleRef]map[string]bool, k string, ref schema.RoleRef, v string) {
	if m[k] == nil {
		m[k] = make(map[schema.RoleRef]map[string]bool)
	}
	if m[k][ref] == nil {
		m[k][ref] = make(map[string]bool)
	}
	m[k][ref][v] = true
}

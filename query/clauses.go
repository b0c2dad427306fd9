package query

import (
	"fmt"

	"github.com/strata-db/strata/mutate"
	"github.com/strata-db/strata/pattern"
	"github.com/strata-db/strata/rule"
	"github.com/strata-db/strata/schema"
	"github.com/strata-db/strata/value"
)

// parseDefine parses the body of a define clause: type declarations and rule
// definitions, each terminated by a semicolon.
func (p *parser) parseDefine() (*DefineClause, error) {
	def := &DefineClause{}
	for !p.atEOF() {
		if p.accept(tokIdent, "rule") {
			r, err := p.parseRule()
			if err != nil {
				return nil, err
			}
			def.Rules = append(def.Rules, r)
			continue
		}
		td, err := p.parseTypeDecl()
		if err != nil {
			return nil, err
		}
		def.Types = append(def.Types, td)
	}
	if len(def.Types) == 0 && len(def.Rules) == 0 {
		return nil, p.errHere("empty define")
	}
	return def, nil
}

// parseTypeDecl parses `label sub super [, clause]... ;`.
func (p *parser) parseTypeDecl() (schema.TypeDef, error) {
	var td schema.TypeDef
	label, err := p.ident()
	if err != nil {
		return td, err
	}
	td.Label = label
	if err := p.expect(tokIdent, "sub"); err != nil {
		return td, err
	}
	super, err := p.ident()
	if err != nil {
		return td, err
	}
	switch super {
	case schema.RootEntity:
		td.Kind = schema.KindEntity
	case schema.RootRelation:
		td.Kind = schema.KindRelation
	case schema.RootAttribute:
		td.Kind = schema.KindAttribute
	default:
		// Kind is inherited from the supertype; ResolveKinds fills it in.
		td.Super = super
	}

	for p.accept(tokPunct, ",") {
		switch {
		case p.accept(tokIdent, "abstract"):
			td.Abstract = true

		case p.accept(tokIdent, "value"):
			kindName, err := p.ident()
			if err != nil {
				return td, err
			}
			k, err := value.ParseKind(kindName)
			if err != nil {
				return td, fmt.Errorf("%w: %v", ErrParse, err)
			}
			td.ValueKind = k

		case p.accept(tokIdent, "owns"):
			attr, err := p.ident()
			if err != nil {
				return td, err
			}
			o := schema.OwnsDef{Attribute: attr}
			if t := p.peek(); t.kind == tokAt {
				p.i++
				switch t.text {
				case "key":
					o.Key = true
				case "unique":
					o.Unique = true
				default:
					return td, p.errHere("unknown annotation @%s", t.text)
				}
			}
			td.Owns = append(td.Owns, o)

		case p.accept(tokIdent, "plays"):
			rel, err := p.ident()
			if err != nil {
				return td, err
			}
			if err := p.expect(tokPunct, ":"); err != nil {
				return td, err
			}
			role, err := p.ident()
			if err != nil {
				return td, err
			}
			td.Plays = append(td.Plays, schema.PlaysDef{Relation: rel, Role: role})

		case p.accept(tokIdent, "relates"):
			role, err := p.ident()
			if err != nil {
				return td, err
			}
			rd := schema.RelatesDef{Role: role}
			if p.accept(tokIdent, "as") {
				over, err := p.ident()
				if err != nil {
					return td, err
				}
				rd.Overridden = over
			}
			td.Relates = append(td.Relates, rd)

		default:
			return td, p.errHere("unknown declaration clause %q", p.peek().text)
		}
	}
	return td, p.expect(tokPunct, ";")
}

// parseRule parses `rule label: when { pattern } then { statement };`.
func (p *parser) parseRule() (*rule.Rule, error) {
	label, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokPunct, ":"); err != nil {
		return nil, err
	}
	if err := p.expect(tokIdent, "when"); err != nil {
		return nil, err
	}
	when, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokIdent, "then"); err != nil {
		return nil, err
	}
	then, err := p.parseConclusion()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokPunct, ";"); err != nil {
		return nil, err
	}
	return &rule.Rule{Label: label, When: when, Then: then}, nil
}

// parseConclusion parses the single statement of a rule's then-block.
func (p *parser) parseConclusion() (rule.Conclusion, error) {
	var c rule.Conclusion
	if err := p.expect(tokPunct, "{"); err != nil {
		return c, err
	}
	t := p.peek()
	switch {
	case t.kind == tokVar:
		owner, _ := p.variable()
		if p.peek().kind == tokPunct && p.peek().text == "(" {
			rel, err := p.parseRelPairs()
			if err != nil {
				return c, err
			}
			c.Rel = rel
			break
		}
		if err := p.expect(tokIdent, "has"); err != nil {
			return c, err
		}
		attr, err := p.ident()
		if err != nil {
			return c, err
		}
		operand, err := p.parseOperand()
		if err != nil {
			return c, err
		}
		c.Has = &rule.HasConclusion{Owner: owner, Attr: attr, Value: operand}
	case t.kind == tokPunct && t.text == "(":
		rel, err := p.parseRelPairs()
		if err != nil {
			return c, err
		}
		c.Rel = rel
	default:
		return c, p.errHere("unexpected %q in rule conclusion", t.text)
	}
	if err := p.expect(tokPunct, ";"); err != nil {
		return c, err
	}
	return c, p.expect(tokPunct, "}")
}

func (p *parser) parseRelPairs() (*rule.RelConclusion, error) {
	stmt, err := p.parseRelStatement("")
	if err != nil {
		return nil, err
	}
	return &rule.RelConclusion{Type: stmt.Type, Pairs: stmt.Pairs}, nil
}

// parseUndefine parses `undefine label; label; rule label; ...`.
func (p *parser) parseUndefine() (*UndefineClause, error) {
	undef := &UndefineClause{}
	for !p.atEOF() {
		if p.accept(tokIdent, "rule") {
			label, err := p.ident()
			if err != nil {
				return nil, err
			}
			undef.Rules = append(undef.Rules, label)
		} else {
			label, err := p.ident()
			if err != nil {
				return nil, err
			}
			// A trailing `sub supertype` tag is allowed and ignored.
			if p.accept(tokIdent, "sub") {
				if _, err := p.ident(); err != nil {
					return nil, err
				}
			}
			undef.Types = append(undef.Types, label)
		}
		if err := p.expect(tokPunct, ";"); err != nil {
			return nil, err
		}
	}
	if len(undef.Types) == 0 && len(undef.Rules) == 0 {
		return nil, p.errHere("empty undefine")
	}
	return undef, nil
}

// ResolveKinds fills in the kind of declarations that extend a non-root
// supertype, resolving against the registry and the batch itself.
func ResolveKinds(reg *schema.Registry, defs []schema.TypeDef) error {
	kindOf := func(label string) schema.TypeKind {
		if t, err := reg.Lookup(label); err == nil {
			return t.Kind
		}
		for _, d := range defs {
			if d.Label == label {
				return d.Kind
			}
		}
		return 0
	}
	for progress := true; progress; {
		progress = false
		for i := range defs {
			if defs[i].Kind != 0 || defs[i].Super == "" {
				continue
			}
			if k := kindOf(defs[i].Super); k != 0 {
				defs[i].Kind = k
				progress = true
			}
		}
	}
	for _, d := range defs {
		if d.Kind == 0 {
			return fmt.Errorf("%w: %q extends undefined type %q", schema.ErrTypeNotFound, d.Label, d.Super)
		}
	}
	return nil
}

// parseInsertClause parses insert statements until the end of the query.
func (p *parser) parseInsertClause() (*mutate.Template, error) {
	tpl := &mutate.Template{}
	anon := 0
	for !p.atEOF() {
		t := p.peek()
		switch {
		case t.kind == tokVar:
			v, _ := p.variable()
			if err := p.parseInsertVarStatement(tpl, v); err != nil {
				return nil, err
			}
		case t.kind == tokPunct && t.text == "(":
			anon++
			v := pattern.Var(fmt.Sprintf("$_rel%d", anon))
			if err := p.parseInsertRel(tpl, v); err != nil {
				return nil, err
			}
		default:
			return nil, p.errHere("unexpected %q in insert", t.text)
		}
	}
	if len(tpl.Things) == 0 && len(tpl.Has) == 0 && len(tpl.Links) == 0 {
		return nil, p.errHere("empty insert")
	}
	return tpl, nil
}

func (p *parser) parseInsertVarStatement(tpl *mutate.Template, v pattern.Var) error {
	t := p.peek()
	switch {
	case t.kind == tokIdent && t.text == "isa":
		p.i++
		label, err := p.ident()
		if err != nil {
			return err
		}
		tpl.Things = append(tpl.Things, mutate.Thing{Var: v, Type: label})
		return p.expect(tokPunct, ";")
	case t.kind == tokIdent && t.text == "has":
		p.i++
		attr, err := p.ident()
		if err != nil {
			return err
		}
		operand, err := p.parseOperand()
		if err != nil {
			return err
		}
		tpl.Has = append(tpl.Has, mutate.HasEdge{Owner: v, Attr: attr, Value: operand})
		return p.expect(tokPunct, ";")
	case t.kind == tokPunct && t.text == "(":
		return p.parseInsertRel(tpl, v)
	default:
		return p.errHere("unexpected %q in insert", t.text)
	}
}

func (p *parser) parseInsertRel(tpl *mutate.Template, v pattern.Var) error {
	stmt, err := p.parseRelStatement(v)
	if err != nil {
		return err
	}
	tpl.Things = append(tpl.Things, mutate.Thing{Var: v, Type: stmt.Type})
	for _, pair := range stmt.Pairs {
		if pair.Role == "" {
			return p.errHere("insert requires explicit roles")
		}
		tpl.Links = append(tpl.Links, mutate.Link{Rel: v, Role: pair.Role, Player: pair.Player})
	}
	return p.expect(tokPunct, ";")
}

// parseDeleteClause parses delete statements; it stops at `insert` so the
// update form `match ... delete ... insert ...` composes.
func (p *parser) parseDeleteClause() (*mutate.Deletion, error) {
	del := &mutate.Deletion{}
	for !p.atEOF() {
		t := p.peek()
		if t.kind == tokIdent && t.text == "insert" {
			break
		}
		if t.kind != tokVar {
			return nil, p.errHere("unexpected %q in delete", t.text)
		}
		v, _ := p.variable()
		if err := p.parseDeleteVarStatement(del, v); err != nil {
			return nil, err
		}
	}
	if len(del.Things) == 0 && len(del.Has) == 0 && len(del.Links) == 0 {
		return nil, p.errHere("empty delete")
	}
	return del, nil
}

func (p *parser) parseDeleteVarStatement(del *mutate.Deletion, v pattern.Var) error {
	t := p.peek()
	switch {
	case t.kind == tokPunct && t.text == ";":
		p.i++
		del.Things = append(del.Things, v)
		return nil
	case t.kind == tokIdent && t.text == "isa":
		// `$x isa T;` deletes the instance; the type tag is documentation.
		p.i++
		if _, err := p.ident(); err != nil {
			return err
		}
		del.Things = append(del.Things, v)
		return p.expect(tokPunct, ";")
	case t.kind == tokIdent && t.text == "has":
		p.i++
		attr, err := p.ident()
		if err != nil {
			return err
		}
		ref := mutate.HasRef{Owner: v, Attr: attr}
		if !(p.peek().kind == tokPunct && p.peek().text == ";") {
			operand, err := p.parseOperand()
			if err != nil {
				return err
			}
			ref.Value = operand
		}
		del.Has = append(del.Has, ref)
		return p.expect(tokPunct, ";")
	case t.kind == tokPunct && t.text == "(":
		stmt, err := p.parseRelStatement(v)
		if err != nil {
			return err
		}
		for _, pair := range stmt.Pairs {
			if pair.Role == "" {
				return p.errHere("delete requires explicit roles")
			}
			del.Links = append(del.Links, mutate.LinkRef{Rel: v, Role: pair.Role, Player: pair.Player})
		}
		return p.expect(tokPunct, ";")
	default:
		return p.errHere("unexpected %q in delete", t.text)
	}
}

// parseFetchClause parses `$x: attr [as "alias"], ...;` groups.
func (p *parser) parseFetchClause() ([]FetchEntry, error) {
	var entries []FetchEntry
	for p.peek().kind == tokVar {
		v, _ := p.variable()
		if err := p.expect(tokPunct, ":"); err != nil {
			return nil, err
		}
		entry := FetchEntry{Var: v}
		for {
			attr, err := p.ident()
			if err != nil {
				return nil, err
			}
			fa := FetchAttr{Attr: attr}
			if p.accept(tokIdent, "as") {
				t := p.next()
				if t.kind != tokString && t.kind != tokIdent {
					return nil, p.errHere("expected an alias after as, got %q", t.text)
				}
				fa.As = t.text
			}
			entry.Attrs = append(entry.Attrs, fa)
			if !p.accept(tokPunct, ",") {
				break
			}
		}
		if err := p.expect(tokPunct, ";"); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return nil, p.errHere("empty fetch")
	}
	return entries, nil
}

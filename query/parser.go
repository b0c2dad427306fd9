package query

import (
	"fmt"
	"strconv"

	"github.com/strata-db/strata/modifier"
	"github.com/strata-db/strata/mutate"
	"github.com/strata-db/strata/pattern"
	"github.com/strata-db/strata/rule"
	"github.com/strata-db/strata/schema"
	"github.com/strata-db/strata/value"
)

// DefineClause is a parsed schema-definition request: type declarations plus
// rule definitions. Type kinds may still be unresolved (zero) when a
// declaration extends a non-root type; ResolveKinds fills them in.
type DefineClause struct {
	Types []schema.TypeDef
	Rules []*rule.Rule
}

// UndefineClause names types and rules to remove.
type UndefineClause struct {
	Types []string
	Rules []string
}

// FetchAttr is one projected attribute, optionally renamed.
type FetchAttr struct {
	Attr string
	As   string
}

// FetchEntry projects the attributes of one bound variable into a document.
type FetchEntry struct {
	Var   pattern.Var
	Attrs []FetchAttr
}

// AggClause is one aggregate reduction.
type AggClause struct {
	Kind modifier.AggKind
	Var  pattern.Var
}

// Query is one parsed query: either a schema clause or a data pipeline.
type Query struct {
	Define   *DefineClause
	Undefine *UndefineClause

	Match  *pattern.Pattern
	Insert *mutate.Template
	Delete *mutate.Deletion
	Fetch  []FetchEntry
	Get    []pattern.Var
	HasGet bool

	Sort     []modifier.SortKey
	Offset   int // -1 when absent
	Limit    int // -1 when absent
	Agg      *AggClause
	GroupVar pattern.Var
	GroupAgg *AggClause
}

// IsSchema reports whether the query is a schema clause.
func (q *Query) IsSchema() bool { return q.Define != nil || q.Undefine != nil }

// Parse parses one query text.
func Parse(text string) (*Query, error) {
	toks, err := lex(text)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, src: text}
	q, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	if !p.atEOF() {
		return nil, p.errHere("trailing input %q", p.peek().text)
	}
	return q, nil
}

type parser struct {
	toks []token
	i    int
	src  string
}

func (p *parser) peek() token  { return p.toks[p.i] }
func (p *parser) atEOF() bool  { return p.peek().kind == tokEOF }
func (p *parser) next() token  { t := p.toks[p.i]; p.i++; return t }

func (p *parser) errHere(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrParse, fmt.Sprintf(format, args...))
}

func (p *parser) accept(kind tokenKind, text string) bool {
	t := p.peek()
	if t.kind == kind && t.text == text {
		p.i++
		return true
	}
	return false
}

func (p *parser) expect(kind tokenKind, text string) error {
	if !p.accept(kind, text) {
		return p.errHere("expected %q, got %q", text, p.peek().text)
	}
	return nil
}

func (p *parser) acceptIdent(words ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokIdent {
		return "", false
	}
	for _, w := range words {
		if t.text == w {
			p.i++
			return w, true
		}
	}
	return "", false
}

func (p *parser) ident() (string, error) {
	t := p.peek()
	if t.kind != tokIdent {
		return "", p.errHere("expected an identifier, got %q", t.text)
	}
	p.i++
	return t.text, nil
}

func (p *parser) variable() (pattern.Var, error) {
	t := p.peek()
	if t.kind != tokVar {
		return "", p.errHere("expected a variable, got %q", t.text)
	}
	p.i++
	return pattern.Var(t.text), nil
}

func (p *parser) parseQuery() (*Query, error) {
	q := &Query{Offset: -1, Limit: -1}
	switch {
	case p.accept(tokIdent, "define"):
		def, err := p.parseDefine()
		if err != nil {
			return nil, err
		}
		q.Define = def
		return q, nil
	case p.accept(tokIdent, "undefine"):
		undef, err := p.parseUndefine()
		if err != nil {
			return nil, err
		}
		q.Undefine = undef
		return q, nil
	}

	if p.accept(tokIdent, "match") {
		pat, err := p.parsePattern(true)
		if err != nil {
			return nil, err
		}
		q.Match = pat
	}
	if err := p.parsePipelineTail(q); err != nil {
		return nil, err
	}
	if q.Match == nil && q.Insert == nil {
		return nil, p.errHere("query has no effect")
	}
	if q.Match != nil && q.Insert == nil && q.Delete == nil &&
		q.Fetch == nil && !q.HasGet && q.Agg == nil && q.GroupVar == "" {
		// A bare match answers its bindings.
		q.HasGet = true
	}
	return q, nil
}

// pipeline terminals and modifiers, in clause order.
func (p *parser) parsePipelineTail(q *Query) error {
	if p.accept(tokIdent, "delete") {
		del, err := p.parseDeleteClause()
		if err != nil {
			return err
		}
		q.Delete = del
	}
	if p.accept(tokIdent, "insert") {
		ins, err := p.parseInsertClause()
		if err != nil {
			return err
		}
		q.Insert = ins
	}
	if q.Delete == nil && q.Insert == nil {
		switch {
		case p.accept(tokIdent, "fetch"):
			entries, err := p.parseFetchClause()
			if err != nil {
				return err
			}
			q.Fetch = entries
		case p.accept(tokIdent, "get"):
			q.HasGet = true
			for p.peek().kind == tokVar {
				v, _ := p.variable()
				q.Get = append(q.Get, v)
				if !p.accept(tokPunct, ",") {
					break
				}
			}
			if err := p.expect(tokPunct, ";"); err != nil {
				return err
			}
		}
	}
	return p.parseModifiers(q)
}

func (p *parser) parseModifiers(q *Query) error {
	for {
		switch {
		case p.accept(tokIdent, "sort"):
			for {
				v, err := p.variable()
				if err != nil {
					return err
				}
				key := modifier.SortKey{Var: v}
				if dir, ok := p.acceptIdent("asc", "desc"); ok {
					key.Desc = dir == "desc"
				}
				q.Sort = append(q.Sort, key)
				if !p.accept(tokPunct, ",") {
					break
				}
			}
			if err := p.expect(tokPunct, ";"); err != nil {
				return err
			}
		case p.accept(tokIdent, "offset"):
			n, err := p.parseCount()
			if err != nil {
				return err
			}
			q.Offset = n
		case p.accept(tokIdent, "limit"):
			n, err := p.parseCount()
			if err != nil {
				return err
			}
			q.Limit = n
		case p.accept(tokIdent, "group"):
			v, err := p.variable()
			if err != nil {
				return err
			}
			q.GroupVar = v
			if err := p.expect(tokPunct, ";"); err != nil {
				return err
			}
		default:
			agg, ok, err := p.parseAggClause()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if q.GroupVar != "" {
				q.GroupAgg = agg
			} else {
				q.Agg = agg
			}
		}
	}
}

func (p *parser) parseAggClause() (*AggClause, bool, error) {
	kinds := map[string]modifier.AggKind{
		"count": modifier.AggCount, "sum": modifier.AggSum,
		"max": modifier.AggMax, "min": modifier.AggMin,
		"mean": modifier.AggMean, "median": modifier.AggMedian,
		"std": modifier.AggStd,
	}
	name, ok := p.acceptIdent("count", "sum", "max", "min", "mean", "median", "std")
	if !ok {
		return nil, false, nil
	}
	clause := &AggClause{Kind: kinds[name]}
	if clause.Kind != modifier.AggCount {
		v, err := p.variable()
		if err != nil {
			return nil, false, err
		}
		clause.Var = v
	}
	if err := p.expect(tokPunct, ";"); err != nil {
		return nil, false, err
	}
	return clause, true, nil
}

func (p *parser) parseCount() (int, error) {
	t := p.peek()
	if t.kind != tokInt {
		return 0, p.errHere("expected a number, got %q", t.text)
	}
	p.i++
	n, err := strconv.Atoi(t.text)
	if err != nil || n < 0 {
		return 0, p.errHere("bad count %q", t.text)
	}
	return n, p.expect(tokPunct, ";")
}

// pipeline keywords that terminate a top-level match pattern.
var pipelineKeywords = map[string]bool{
	"insert": true, "delete": true, "fetch": true, "get": true,
	"sort": true, "offset": true, "limit": true, "group": true,
	"count": true, "sum": true, "max": true, "min": true,
	"mean": true, "median": true, "std": true,
}

// parsePattern parses pattern statements. At the top level it stops at a
// pipeline keyword; inside braces it stops at '}'.
func (p *parser) parsePattern(topLevel bool) (*pattern.Pattern, error) {
	pat := &pattern.Pattern{}
	for {
		t := p.peek()
		if t.kind == tokEOF {
			break
		}
		if topLevel && t.kind == tokIdent && pipelineKeywords[t.text] {
			break
		}
		if !topLevel && t.kind == tokPunct && t.text == "}" {
			break
		}
		if err := p.parsePatternStatement(pat); err != nil {
			return nil, err
		}
	}
	if len(pat.Statements) == 0 && len(pat.Disjunctions) == 0 && len(pat.Negations) == 0 {
		return nil, p.errHere("empty pattern")
	}
	return pat, nil
}

func (p *parser) parsePatternStatement(pat *pattern.Pattern) error {
	t := p.peek()
	switch {
	case t.kind == tokIdent && t.text == "not":
		p.i++
		inner, err := p.parseBlock()
		if err != nil {
			return err
		}
		pat.Negations = append(pat.Negations, inner)
		return p.expect(tokPunct, ";")

	case t.kind == tokPunct && t.text == "{":
		branches, err := p.parseDisjunction()
		if err != nil {
			return err
		}
		pat.Disjunctions = append(pat.Disjunctions, branches)
		return p.expect(tokPunct, ";")

	case t.kind == tokPunct && t.text == "(":
		rel, err := p.parseRelStatement("")
		if err != nil {
			return err
		}
		pat.Statements = append(pat.Statements, rel)
		return p.expect(tokPunct, ";")

	case t.kind == tokVar:
		v, _ := p.variable()
		return p.parseVarStatement(pat, v)

	default:
		return p.errHere("unexpected %q in pattern", t.text)
	}
}

func (p *parser) parseBlock() (*pattern.Pattern, error) {
	if err := p.expect(tokPunct, "{"); err != nil {
		return nil, err
	}
	inner, err := p.parsePattern(false)
	if err != nil {
		return nil, err
	}
	return inner, p.expect(tokPunct, "}")
}

func (p *parser) parseDisjunction() ([]*pattern.Pattern, error) {
	var branches []*pattern.Pattern
	for {
		b, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		branches = append(branches, b)
		if !p.accept(tokIdent, "or") {
			break
		}
	}
	if len(branches) < 2 {
		return nil, p.errHere("or needs at least two branches")
	}
	return branches, nil
}

func (p *parser) parseVarStatement(pat *pattern.Pattern, v pattern.Var) error {
	t := p.peek()
	switch {
	case t.kind == tokIdent && (t.text == "isa" || t.text == "isa!"):
		p.i++
		label, err := p.ident()
		if err != nil {
			return err
		}
		pat.Statements = append(pat.Statements, &pattern.Isa{
			Var: v, Type: label, Exact: t.text == "isa!",
		})
		return p.expect(tokPunct, ";")

	case t.kind == tokIdent && (t.text == "sub" || t.text == "sub!"):
		p.i++
		label, err := p.ident()
		if err != nil {
			return err
		}
		pat.Statements = append(pat.Statements, &pattern.Sub{
			Var: v, Super: label, Exact: t.text == "sub!",
		})
		return p.expect(tokPunct, ";")

	case t.kind == tokIdent && t.text == "has":
		p.i++
		has, err := p.parseHasTail(v)
		if err != nil {
			return err
		}
		pat.Statements = append(pat.Statements, has)
		return p.expect(tokPunct, ";")

	case t.kind == tokPunct && t.text == "(":
		rel, err := p.parseRelStatement(v)
		if err != nil {
			return err
		}
		pat.Statements = append(pat.Statements, rel)
		return p.expect(tokPunct, ";")

	case t.kind == tokOp && t.text == "=" && v.IsValueVar():
		p.i++
		expr, err := p.parseExpr()
		if err != nil {
			return err
		}
		pat.Statements = append(pat.Statements, &pattern.Let{Out: v, Expr: expr})
		return p.expect(tokPunct, ";")

	case t.kind == tokOp || (t.kind == tokIdent && (t.text == "contains" || t.text == "like")):
		op, err := p.parseCmpOp()
		if err != nil {
			return err
		}
		operand, err := p.parseOperand()
		if err != nil {
			return err
		}
		pat.Statements = append(pat.Statements, &pattern.Cmp{Lhs: v, Op: op, Rhs: operand})
		return p.expect(tokPunct, ";")

	default:
		return p.errHere("unexpected %q after %s", t.text, v)
	}
}

// parseHasTail parses what follows `$x has attr`: a variable, an optional
// comparator with a literal, a bare literal, or nothing.
func (p *parser) parseHasTail(owner pattern.Var) (*pattern.Has, error) {
	attr, err := p.ident()
	if err != nil {
		return nil, err
	}
	has := &pattern.Has{Owner: owner, Attr: attr}
	t := p.peek()
	switch {
	case t.kind == tokVar:
		v, _ := p.variable()
		has.AttrVar = v
	case t.kind == tokOp || (t.kind == tokIdent && (t.text == "contains" || t.text == "like")):
		op, err := p.parseCmpOp()
		if err != nil {
			return nil, err
		}
		lit, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		has.Op = op
		has.Lit = &lit
	case t.kind == tokPunct && t.text == ";":
	default:
		lit, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		has.Lit = &lit
	}
	return has, nil
}

func (p *parser) parseRelStatement(relVar pattern.Var) (*pattern.Rel, error) {
	if err := p.expect(tokPunct, "("); err != nil {
		return nil, err
	}
	rel := &pattern.Rel{RelVar: relVar}
	for {
		var role string
		if p.peek().kind == tokIdent {
			r, err := p.ident()
			if err != nil {
				return nil, err
			}
			if err := p.expect(tokPunct, ":"); err != nil {
				return nil, err
			}
			role = r
		}
		player, err := p.variable()
		if err != nil {
			return nil, err
		}
		rel.Pairs = append(rel.Pairs, pattern.RolePair{Role: role, Player: player})
		if !p.accept(tokPunct, ",") {
			break
		}
	}
	if err := p.expect(tokPunct, ")"); err != nil {
		return nil, err
	}
	exact := false
	if p.accept(tokIdent, "isa!") {
		exact = true
	} else if err := p.expect(tokIdent, "isa"); err != nil {
		return nil, err
	}
	label, err := p.ident()
	if err != nil {
		return nil, err
	}
	rel.Type = label
	rel.Exact = exact
	return rel, nil
}

func (p *parser) parseCmpOp() (pattern.CmpOp, error) {
	t := p.next()
	switch t.text {
	case "==", "=":
		return pattern.OpEq, nil
	case "!=":
		return pattern.OpNeq, nil
	case "<":
		return pattern.OpLt, nil
	case "<=":
		return pattern.OpLe, nil
	case ">":
		return pattern.OpGt, nil
	case ">=":
		return pattern.OpGe, nil
	case "contains":
		return pattern.OpContains, nil
	case "like":
		return pattern.OpLike, nil
	default:
		return 0, p.errHere("unknown comparator %q", t.text)
	}
}

func (p *parser) parseOperand() (pattern.Operand, error) {
	if p.peek().kind == tokVar {
		v, _ := p.variable()
		return pattern.Operand{Var: v}, nil
	}
	lit, err := p.parseLiteral()
	if err != nil {
		return pattern.Operand{}, err
	}
	return pattern.Operand{Lit: &lit}, nil
}

// parseLiteral parses a scalar literal with an optional leading minus.
func (p *parser) parseLiteral() (value.Value, error) {
	neg := p.accept(tokOp, "-")
	v, err := literal(p.next())
	if err != nil {
		return value.Value{}, err
	}
	if neg {
		v, err = value.Neg(v)
		if err != nil {
			return value.Value{}, fmt.Errorf("%w: %v", ErrParse, err)
		}
	}
	return v, nil
}

// Expression grammar: parens bind tightest, then ^, then * / %, then + -.

func (p *parser) parseExpr() (pattern.Expr, error) {
	lhs, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		var op pattern.BinOp
		switch {
		case p.accept(tokOp, "+"):
			op = pattern.BinAdd
		case p.accept(tokOp, "-"):
			op = pattern.BinSub
		default:
			return lhs, nil
		}
		rhs, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		lhs = &pattern.Binary{Op: op, Lhs: lhs, Rhs: rhs}
	}
}

func (p *parser) parseTerm() (pattern.Expr, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op pattern.BinOp
		switch {
		case p.accept(tokOp, "*"):
			op = pattern.BinMul
		case p.accept(tokOp, "/"):
			op = pattern.BinDiv
		case p.accept(tokOp, "%"):
			op = pattern.BinMod
		default:
			return lhs, nil
		}
		rhs, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		lhs = &pattern.Binary{Op: op, Lhs: lhs, Rhs: rhs}
	}
}

func (p *parser) parseUnary() (pattern.Expr, error) {
	if p.accept(tokOp, "-") {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &pattern.Neg{Operand: operand}, nil
	}
	return p.parsePower()
}

func (p *parser) parsePower() (pattern.Expr, error) {
	base, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	if p.accept(tokOp, "^") {
		exp, err := p.parseUnary() // right associative
		if err != nil {
			return nil, err
		}
		return &pattern.Binary{Op: pattern.BinPow, Lhs: base, Rhs: exp}, nil
	}
	return base, nil
}

func (p *parser) parseAtom() (pattern.Expr, error) {
	t := p.peek()
	switch {
	case t.kind == tokVar:
		v, _ := p.variable()
		return &pattern.Ref{Var: v}, nil
	case t.kind == tokPunct && t.text == "(":
		p.i++
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return e, p.expect(tokPunct, ")")
	case t.kind == tokIdent:
		switch t.text {
		case "min", "max", "floor", "ceil", "round", "abs":
			p.i++
			if err := p.expect(tokPunct, "("); err != nil {
				return nil, err
			}
			call := &pattern.Call{Fn: t.text}
			for {
				arg, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				call.Args = append(call.Args, arg)
				if !p.accept(tokPunct, ",") {
					break
				}
			}
			return call, p.expect(tokPunct, ")")
		case "true", "false":
			v, err := literal(p.next())
			if err != nil {
				return nil, err
			}
			return &pattern.Lit{Val: v}, nil
		}
		return nil, p.errHere("unexpected %q in expression", t.text)
	default:
		v, err := literal(p.next())
		if err != nil {
			return nil, err
		}
		return &pattern.Lit{Val: v}, nil
	}
}

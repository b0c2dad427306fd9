package pattern

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-db/strata/schema"
	"github.com/strata-db/strata/store"
	"github.com/strata-db/strata/value"
)

func lit(v value.Value) *value.Value { return &v }

type fixture struct {
	st   *store.Store
	iids map[string]string
}

// buildFixture creates a small company graph: three people (one a student),
// one company, and two employments with salaries.
func buildFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := schema.Builtin().Define([]schema.TypeDef{
		{Label: "name", Kind: schema.KindAttribute, ValueKind: value.KindString},
		{Label: "nickname", Kind: schema.KindAttribute, ValueKind: value.KindString},
		{Label: "age", Kind: schema.KindAttribute, ValueKind: value.KindInteger},
		{Label: "salary", Kind: schema.KindAttribute, ValueKind: value.KindDouble},
		{Label: "person", Kind: schema.KindEntity,
			Owns:  []schema.OwnsDef{{Attribute: "name"}, {Attribute: "nickname"}, {Attribute: "age"}},
			Plays: []schema.PlaysDef{{Relation: "employment", Role: "employee"}}},
		{Label: "student", Kind: schema.KindEntity, Super: "person"},
		{Label: "company", Kind: schema.KindEntity,
			Owns:  []schema.OwnsDef{{Attribute: "name"}},
			Plays: []schema.PlaysDef{{Relation: "employment", Role: "employer"}}},
		{Label: "employment", Kind: schema.KindRelation,
			Owns:    []schema.OwnsDef{{Attribute: "salary"}},
			Relates: []schema.RelatesDef{{Role: "employer"}, {Role: "employee"}}},
	})
	require.NoError(t, err)

	st := store.New(reg)
	tx, err := st.Write(context.Background())
	require.NoError(t, err)

	iids := make(map[string]string)
	put := func(key, label string, attrs map[string]value.Value) {
		iid, err := tx.PutEntity(label)
		require.NoError(t, err)
		for attr, v := range attrs {
			_, err = tx.PutHas(iid, attr, v)
			require.NoError(t, err)
		}
		iids[key] = iid
	}
	put("alice", "person", map[string]value.Value{
		"name": value.MustString("Alice"), "age": value.Int(30),
	})
	put("bob", "person", map[string]value.Value{
		"name": value.MustString("Bob"), "age": value.Int(42),
		"nickname": value.MustString("Bobby"),
	})
	put("carol", "student", map[string]value.Value{
		"name": value.MustString("Carol"), "age": value.Int(20),
	})
	put("acme", "company", map[string]value.Value{
		"name": value.MustString("Acme"),
	})

	employ := func(key, employee string, salary float64) {
		rel, err := tx.PutRelation("employment")
		require.NoError(t, err)
		require.NoError(t, tx.AddPlayer(rel, "employer", iids["acme"]))
		require.NoError(t, tx.AddPlayer(rel, "employee", iids[employee]))
		_, err = tx.PutHas(rel, "salary", value.Double(salary))
		require.NoError(t, err)
		iids[key] = rel
	}
	employ("job-alice", "alice", 100.5)
	employ("job-bob", "bob", 90)

	require.NoError(t, tx.Commit())
	return &fixture{st: st, iids: iids}
}

func (f *fixture) match(t *testing.T, p *Pattern) []Row {
	t.Helper()
	tx, err := f.st.Read(context.Background())
	require.NoError(t, err)
	defer tx.Close()
	rows, err := Match(context.Background(), tx, p)
	require.NoError(t, err)
	return rows
}

func bindings(rows []Row, v Var) []string {
	var out []string
	for _, row := range rows {
		c := row[v]
		switch {
		case c.Inst != nil && c.Inst.IsAttribute():
			out = append(out, c.Inst.Val.String())
		case c.Inst != nil:
			out = append(out, c.Inst.IID)
		case c.Type != "":
			out = append(out, c.Type)
		default:
			out = append(out, c.Val.String())
		}
	}
	return out
}

func TestIsaPolymorphic(t *testing.T) {
	f := buildFixture(t)

	rows := f.match(t, &Pattern{Statements: []Statement{
		&Isa{Var: "$x", Type: "person"},
	}})
	assert.Len(t, rows, 3, "person admits its student subtype")

	rows = f.match(t, &Pattern{Statements: []Statement{
		&Isa{Var: "$x", Type: "person", Exact: true},
	}})
	assert.ElementsMatch(t,
		[]string{f.iids["alice"], f.iids["bob"]},
		bindings(rows, "$x"))
}

func TestHasLiteral(t *testing.T) {
	f := buildFixture(t)

	rows := f.match(t, &Pattern{Statements: []Statement{
		&Has{Owner: "$x", Attr: "name", Lit: lit(value.MustString("Alice"))},
	}})
	require.Len(t, rows, 1)
	assert.Equal(t, f.iids["alice"], rows[0]["$x"].Inst.IID)

	rows = f.match(t, &Pattern{Statements: []Statement{
		&Isa{Var: "$x", Type: "person"},
		&Has{Owner: "$x", Attr: "age", Op: OpGt, Lit: lit(value.Int(25))},
	}})
	assert.ElementsMatch(t,
		[]string{f.iids["alice"], f.iids["bob"]},
		bindings(rows, "$x"))
}

func TestHasBindsAttribute(t *testing.T) {
	f := buildFixture(t)

	rows := f.match(t, &Pattern{Statements: []Statement{
		&Isa{Var: "$x", Type: "person"},
		&Has{Owner: "$x", Attr: "age", AttrVar: "$a"},
		&Cmp{Lhs: "$a", Op: OpGe, Rhs: Operand{Lit: lit(value.Int(30))}},
	}})
	assert.ElementsMatch(t, []string{"30", "42"}, bindings(rows, "$a"))
}

func TestRelationRoles(t *testing.T) {
	f := buildFixture(t)

	rows := f.match(t, &Pattern{Statements: []Statement{
		&Rel{RelVar: "$r", Type: "employment", Pairs: []RolePair{
			{Role: "employer", Player: "$c"},
			{Role: "employee", Player: "$p"},
		}},
	}})
	assert.Len(t, rows, 2)
	assert.ElementsMatch(t,
		[]string{f.iids["alice"], f.iids["bob"]},
		bindings(rows, "$p"))

	// A bound player narrows the relation scan.
	rows = f.match(t, &Pattern{Statements: []Statement{
		&Has{Owner: "$p", Attr: "name", Lit: lit(value.MustString("Alice"))},
		&Rel{Type: "employment", Pairs: []RolePair{
			{Role: "employer", Player: "$c"},
			{Role: "employee", Player: "$p"},
		}},
	}})
	require.Len(t, rows, 1)
	assert.Equal(t, f.iids["acme"], rows[0]["$c"].Inst.IID)
}

func TestRelationAnyRole(t *testing.T) {
	f := buildFixture(t)

	rows := f.match(t, &Pattern{Statements: []Statement{
		&Rel{RelVar: "$r", Type: "employment", Pairs: []RolePair{
			{Player: "$who"},
		}},
	}})
	// Each of the two employments contributes its employer and its employee.
	assert.Len(t, rows, 4)
}

func TestRelationOwnsAttribute(t *testing.T) {
	f := buildFixture(t)

	rows := f.match(t, &Pattern{Statements: []Statement{
		&Rel{RelVar: "$r", Type: "employment", Pairs: []RolePair{
			{Role: "employee", Player: "$p"},
		}},
		&Has{Owner: "$r", Attr: "salary", Op: OpGt, Lit: lit(value.Double(95))},
	}})
	require.Len(t, rows, 1)
	assert.Equal(t, f.iids["alice"], rows[0]["$p"].Inst.IID)
}

func TestNegation(t *testing.T) {
	f := buildFixture(t)

	rows := f.match(t, &Pattern{
		Statements: []Statement{&Isa{Var: "$x", Type: "person"}},
		Negations: []*Pattern{
			{Statements: []Statement{&Has{Owner: "$x", Attr: "nickname"}}},
		},
	})
	assert.ElementsMatch(t,
		[]string{f.iids["alice"], f.iids["carol"]},
		bindings(rows, "$x"))
}

func TestNegationIsSetDifference(t *testing.T) {
	f := buildFixture(t)

	all := f.match(t, &Pattern{Statements: []Statement{
		&Isa{Var: "$x", Type: "person"},
	}})
	with := f.match(t, &Pattern{Statements: []Statement{
		&Isa{Var: "$x", Type: "person"},
		&Has{Owner: "$x", Attr: "nickname"},
	}})
	without := f.match(t, &Pattern{
		Statements: []Statement{&Isa{Var: "$x", Type: "person"}},
		Negations: []*Pattern{
			{Statements: []Statement{&Has{Owner: "$x", Attr: "nickname"}}},
		},
	})
	assert.Equal(t, len(all), len(with)+len(without))
}

func TestDisjunction(t *testing.T) {
	f := buildFixture(t)

	rows := f.match(t, &Pattern{
		Statements: []Statement{&Isa{Var: "$x", Type: "person"}},
		Disjunctions: [][]*Pattern{{
			{Statements: []Statement{&Has{Owner: "$x", Attr: "age", Op: OpLt, Lit: lit(value.Int(25))}}},
			{Statements: []Statement{&Has{Owner: "$x", Attr: "nickname"}}},
		}},
	})
	assert.ElementsMatch(t,
		[]string{f.iids["bob"], f.iids["carol"]},
		bindings(rows, "$x"))
}

func TestSubBindsTypes(t *testing.T) {
	f := buildFixture(t)

	rows := f.match(t, &Pattern{Statements: []Statement{
		&Sub{Var: "$t", Super: "person"},
	}})
	assert.ElementsMatch(t, []string{"person", "student"}, bindings(rows, "$t"))

	rows = f.match(t, &Pattern{Statements: []Statement{
		&Sub{Var: "$t", Super: "person", Exact: true},
	}})
	assert.Equal(t, []string{"student"}, bindings(rows, "$t"))
}

func TestLetExpression(t *testing.T) {
	f := buildFixture(t)

	rows := f.match(t, &Pattern{Statements: []Statement{
		&Has{Owner: "$x", Attr: "name", Lit: lit(value.MustString("Alice"))},
		&Has{Owner: "$x", Attr: "age", AttrVar: "$a"},
		&Let{Out: "?d", Expr: &Binary{Op: BinMul, Lhs: &Ref{Var: "$a"}, Rhs: &Lit{Val: value.Int(2)}}},
	}})
	require.Len(t, rows, 1)
	assert.Equal(t, int64(60), rows[0]["?d"].Val.AsInt())
}

func TestLetBuiltins(t *testing.T) {
	f := buildFixture(t)

	rows := f.match(t, &Pattern{Statements: []Statement{
		&Has{Owner: "$x", Attr: "name", Lit: lit(value.MustString("Bob"))},
		&Has{Owner: "$x", Attr: "age", AttrVar: "$a"},
		&Let{Out: "?m", Expr: &Call{Fn: "min", Args: []Expr{&Ref{Var: "$a"}, &Lit{Val: value.Int(40)}}}},
		&Let{Out: "?h", Expr: &Call{Fn: "round", Args: []Expr{
			&Binary{Op: BinDiv, Lhs: &Ref{Var: "$a"}, Rhs: &Lit{Val: value.Int(4)}},
		}}},
	}})
	require.Len(t, rows, 1)
	assert.Equal(t, int64(40), rows[0]["?m"].Val.AsInt())
	assert.Equal(t, int64(11), rows[0]["?h"].Val.AsInt(), "42/4 = 10.5 rounds away from zero")
}

func TestStringComparators(t *testing.T) {
	f := buildFixture(t)

	rows := f.match(t, &Pattern{Statements: []Statement{
		&Has{Owner: "$x", Attr: "name", Op: OpContains, Lit: lit(value.MustString("ali"))},
	}})
	require.Len(t, rows, 1, "contains is case-insensitive")
	assert.Equal(t, f.iids["alice"], rows[0]["$x"].Inst.IID)

	rows = f.match(t, &Pattern{Statements: []Statement{
		&Has{Owner: "$x", Attr: "name", Op: OpLike, Lit: lit(value.MustString("^[AB].*"))},
	}})
	assert.Len(t, rows, 3, "Alice, Bob, Acme")
}

func TestIndependentComponentsCrossJoin(t *testing.T) {
	f := buildFixture(t)

	rows := f.match(t, &Pattern{Statements: []Statement{
		&Isa{Var: "$p", Type: "person"},
		&Isa{Var: "$c", Type: "company"},
	}})
	assert.Len(t, rows, 3, "3 people x 1 company")
}

func TestDeterministicOrder(t *testing.T) {
	f := buildFixture(t)

	p := &Pattern{Statements: []Statement{
		&Isa{Var: "$x", Type: "person"},
		&Has{Owner: "$x", Attr: "age", AttrVar: "$a"},
	}}
	first := f.match(t, p)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, f.match(t, p))
	}
}

func TestUnboundComparator(t *testing.T) {
	f := buildFixture(t)

	tx, err := f.st.Read(context.Background())
	require.NoError(t, err)
	defer tx.Close()

	_, err = Match(context.Background(), tx, &Pattern{Statements: []Statement{
		&Cmp{Lhs: "$nowhere", Op: OpGt, Rhs: Operand{Lit: lit(value.Int(1))}},
	}})
	require.ErrorIs(t, err, ErrUnboundVariable)
}

func TestUnknownTypeErrors(t *testing.T) {
	f := buildFixture(t)

	tx, err := f.st.Read(context.Background())
	require.NoError(t, err)
	defer tx.Close()

	_, err = Match(context.Background(), tx, &Pattern{Statements: []Statement{
		&Isa{Var: "$x", Type: "unicorn"},
	}})
	require.ErrorIs(t, err, schema.ErrTypeNotFound)
}

func TestCancelledContext(t *testing.T) {
	f := buildFixture(t)

	tx, err := f.st.Read(context.Background())
	require.NoError(t, err)
	defer tx.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Match(ctx, tx, &Pattern{Statements: []Statement{
		&Isa{Var: "$x", Type: "person"},
	}})
	require.ErrorIs(t, err, context.Canceled)
}

package pattern

import (
	"fmt"

	"github.com/strata-db/strata/value"
)

// Expr is an arithmetic expression over value variables, attribute variables,
// and literals. Expressions appear on the right-hand side of Let statements.
type Expr interface {
	vars() []Var
	eval(row Row) (value.Value, error)
}

// Lit is a literal operand.
type Lit struct {
	Val value.Value
}

func (e *Lit) vars() []Var { return nil }

func (e *Lit) eval(Row) (value.Value, error) { return e.Val, nil }

// Ref reads the scalar carried by a bound variable.
type Ref struct {
	Var Var
}

func (e *Ref) vars() []Var { return []Var{e.Var} }

func (e *Ref) eval(row Row) (value.Value, error) {
	c, ok := row[e.Var]
	if !ok {
		return value.Value{}, fmt.Errorf("%w: %s", ErrUnboundVariable, e.Var)
	}
	v, ok := c.Value()
	if !ok {
		return value.Value{}, fmt.Errorf("%w: %s", ErrNotAValue, e.Var)
	}
	return v, nil
}

// BinOp enumerates binary arithmetic operators.
type BinOp int

const (
	BinAdd BinOp = iota + 1
	BinSub
	BinMul
	BinDiv
	BinMod
	BinPow
)

// Binary applies a binary arithmetic operator.
type Binary struct {
	Op       BinOp
	Lhs, Rhs Expr
}

func (e *Binary) vars() []Var {
	return append(e.Lhs.vars(), e.Rhs.vars()...)
}

func (e *Binary) eval(row Row) (value.Value, error) {
	a, err := e.Lhs.eval(row)
	if err != nil {
		return value.Value{}, err
	}
	b, err := e.Rhs.eval(row)
	if err != nil {
		return value.Value{}, err
	}
	switch e.Op {
	case BinAdd:
		return value.Add(a, b)
	case BinSub:
		return value.Sub(a, b)
	case BinMul:
		return value.Mul(a, b)
	case BinDiv:
		return value.Div(a, b)
	case BinMod:
		return value.Mod(a, b)
	case BinPow:
		return value.Pow(a, b)
	default:
		return value.Value{}, fmt.Errorf("pattern: unknown binary operator %d", int(e.Op))
	}
}

// Neg is unary numeric negation.
type Neg struct {
	Operand Expr
}

func (e *Neg) vars() []Var { return e.Operand.vars() }

func (e *Neg) eval(row Row) (value.Value, error) {
	v, err := e.Operand.eval(row)
	if err != nil {
		return value.Value{}, err
	}
	return value.Neg(v)
}

// Call applies a built-in function: min, max, floor, ceil, round, abs.
type Call struct {
	Fn   string
	Args []Expr
}

func (e *Call) vars() []Var {
	var out []Var
	for _, a := range e.Args {
		out = append(out, a.vars()...)
	}
	return out
}

func (e *Call) eval(row Row) (value.Value, error) {
	args := make([]value.Value, len(e.Args))
	for i, a := range e.Args {
		v, err := a.eval(row)
		if err != nil {
			return value.Value{}, err
		}
		args[i] = v
	}
	one := func() (value.Value, error) {
		if len(args) != 1 {
			return value.Value{}, fmt.Errorf("pattern: %s expects 1 argument, got %d", e.Fn, len(args))
		}
		return args[0], nil
	}
	switch e.Fn {
	case "min":
		return value.Min(args...)
	case "max":
		return value.Max(args...)
	case "floor":
		v, err := one()
		if err != nil {
			return value.Value{}, err
		}
		return value.Floor(v)
	case "ceil":
		v, err := one()
		if err != nil {
			return value.Value{}, err
		}
		return value.Ceil(v)
	case "round":
		v, err := one()
		if err != nil {
			return value.Value{}, err
		}
		return value.Round(v)
	case "abs":
		v, err := one()
		if err != nil {
			return value.Value{}, err
		}
		return value.Abs(v)
	default:
		return value.Value{}, fmt.Errorf("pattern: unknown function %q", e.Fn)
	}
}

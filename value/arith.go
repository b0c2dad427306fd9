package value

import (
	"fmt"
	"math"
)

// Arithmetic over numeric values. Two longs yield a long except for true
// division and exponentiation, which always yield doubles; any operand that
// is a double widens the result to a double.

// Add returns a + b.
func Add(a, b Value) (Value, error) {
	if err := numeric("+", a, b); err != nil {
		return Value{}, err
	}
	if bothLong(a, b) {
		return Int(a.i + b.i), nil
	}
	return Double(a.AsDouble() + b.AsDouble()), nil
}

// Sub returns a - b.
func Sub(a, b Value) (Value, error) {
	if err := numeric("-", a, b); err != nil {
		return Value{}, err
	}
	if bothLong(a, b) {
		return Int(a.i - b.i), nil
	}
	return Double(a.AsDouble() - b.AsDouble()), nil
}

// Mul returns a * b.
func Mul(a, b Value) (Value, error) {
	if err := numeric("*", a, b); err != nil {
		return Value{}, err
	}
	if bothLong(a, b) {
		return Int(a.i * b.i), nil
	}
	return Double(a.AsDouble() * b.AsDouble()), nil
}

// Div returns a / b as a double. Division by zero is an error.
func Div(a, b Value) (Value, error) {
	if err := numeric("/", a, b); err != nil {
		return Value{}, err
	}
	if b.AsDouble() == 0 {
		return Value{}, fmt.Errorf("%w: division by zero", ErrKindMismatch)
	}
	return Double(a.AsDouble() / b.AsDouble()), nil
}

// Mod returns a % b. Two longs use integer remainder; otherwise math.Mod.
func Mod(a, b Value) (Value, error) {
	if err := numeric("%", a, b); err != nil {
		return Value{}, err
	}
	if bothLong(a, b) {
		if b.i == 0 {
			return Value{}, fmt.Errorf("%w: modulo by zero", ErrKindMismatch)
		}
		return Int(a.i % b.i), nil
	}
	if b.AsDouble() == 0 {
		return Value{}, fmt.Errorf("%w: modulo by zero", ErrKindMismatch)
	}
	return Double(math.Mod(a.AsDouble(), b.AsDouble())), nil
}

// Pow returns a raised to b as a double.
func Pow(a, b Value) (Value, error) {
	if err := numeric("^", a, b); err != nil {
		return Value{}, err
	}
	return Double(math.Pow(a.AsDouble(), b.AsDouble())), nil
}

// Neg returns the numeric negation of a.
func Neg(a Value) (Value, error) {
	switch a.kind {
	case KindInteger:
		return Int(-a.i), nil
	case KindDouble:
		return Double(-a.f), nil
	default:
		return Value{}, fmt.Errorf("%w: unary minus expects a numeric value, got %s", ErrKindMismatch, a.kind)
	}
}

// Min returns the least of one or more comparable values.
func Min(vs ...Value) (Value, error) {
	return pick("min", -1, vs)
}

// Max returns the greatest of one or more comparable values.
func Max(vs ...Value) (Value, error) {
	return pick("max", 1, vs)
}

func pick(name string, dir int, vs []Value) (Value, error) {
	if len(vs) == 0 {
		return Value{}, fmt.Errorf("%w: %s requires at least one argument", ErrKindMismatch, name)
	}
	best := vs[0]
	for _, v := range vs[1:] {
		c, err := v.Compare(best)
		if err != nil {
			return Value{}, fmt.Errorf("%s: %w", name, err)
		}
		if c == dir {
			best = v
		}
	}
	return best, nil
}

// Floor returns the largest integer not greater than a.
func Floor(a Value) (Value, error) {
	switch a.kind {
	case KindInteger:
		return a, nil
	case KindDouble:
		return Int(int64(math.Floor(a.f))), nil
	default:
		return Value{}, fmt.Errorf("%w: floor expects a numeric value, got %s", ErrKindMismatch, a.kind)
	}
}

// Ceil returns the smallest integer not less than a.
func Ceil(a Value) (Value, error) {
	switch a.kind {
	case KindInteger:
		return a, nil
	case KindDouble:
		return Int(int64(math.Ceil(a.f))), nil
	default:
		return Value{}, fmt.Errorf("%w: ceil expects a numeric value, got %s", ErrKindMismatch, a.kind)
	}
}

// Abs returns the absolute value of a.
func Abs(a Value) (Value, error) {
	switch a.kind {
	case KindInteger:
		if a.i < 0 {
			return Int(-a.i), nil
		}
		return a, nil
	case KindDouble:
		return Double(math.Abs(a.f)), nil
	default:
		return Value{}, fmt.Errorf("%w: abs expects a numeric value, got %s", ErrKindMismatch, a.kind)
	}
}

func bothLong(a, b Value) bool {
	return a.kind == KindInteger && b.kind == KindInteger
}

func numeric(op string, a, b Value) error {
	if !a.IsNumeric() || !b.IsNumeric() {
		return fmt.Errorf("%w: operator %q expects numeric operands, got %s and %s", ErrKindMismatch, op, a.kind, b.kind)
	}
	return nil
}

package value

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// MaxStringBytes is the upper bound on the UTF-8 byte length of a string value.
const MaxStringBytes = 64 * 1024

// Sentinel errors for value operations.
var (
	// ErrKindMismatch is returned when two values of incomparable kinds are
	// compared, or when a value of the wrong kind is supplied for a declared
	// attribute type.
	ErrKindMismatch = errors.New("value: kind mismatch")

	// ErrStringTooLong is returned when a string value exceeds MaxStringBytes.
	ErrStringTooLong = errors.New("value: string exceeds 64 KB bound")
)

// Kind identifies the scalar kind of a Value.
type Kind int

const (
	// KindNone is the zero Kind; no valid Value carries it.
	KindNone Kind = iota

	// KindBoolean is a true/false value.
	KindBoolean

	// KindInteger is a 64-bit signed integer.
	KindInteger

	// KindDouble is a 64-bit IEEE 754 float.
	KindDouble

	// KindString is a UTF-8 string bounded to MaxStringBytes.
	KindString

	// KindDateTime is a timezone-less timestamp with millisecond precision.
	KindDateTime
)

// String returns the schema-language name of the kind.
func (k Kind) String() string {
	switch k {
	case KindBoolean:
		return "boolean"
	case KindInteger:
		return "long"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindDateTime:
		return "datetime"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// IsValid returns true if the kind is one of the five scalar kinds.
func (k Kind) IsValid() bool {
	return k >= KindBoolean && k <= KindDateTime
}

// ParseKind parses a schema-language kind name ("boolean", "long", "double",
// "string", "datetime") into a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "boolean", "bool":
		return KindBoolean, nil
	case "long", "integer":
		return KindInteger, nil
	case "double":
		return KindDouble, nil
	case "string":
		return KindString, nil
	case "datetime":
		return KindDateTime, nil
	default:
		return KindNone, fmt.Errorf("%w: unknown value kind %q", ErrKindMismatch, s)
	}
}

// Value is an immutable typed scalar. The zero Value has KindNone and is
// treated as "missing" by the modifier pipeline.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	t    time.Time
}

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBoolean, b: b} }

// Int returns a 64-bit integer value.
func Int(i int64) Value { return Value{kind: KindInteger, i: i} }

// Double returns a 64-bit float value.
func Double(f float64) Value { return Value{kind: KindDouble, f: f} }

// String returns a string value, enforcing the 64 KB byte bound.
func String(s string) (Value, error) {
	if len(s) > MaxStringBytes {
		return Value{}, fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(s))
	}
	return Value{kind: KindString, s: s}, nil
}

// MustString is String for literals known to be in bounds; it panics on
// oversized input and exists for tests and canned schema text.
func MustString(s string) Value {
	v, err := String(s)
	if err != nil {
		panic(err)
	}
	return v
}

// DateTime returns a datetime value truncated to millisecond precision.
// Sub-millisecond input precision is discarded, never rounded. The location
// is dropped; datetimes are timezone-less wall-clock instants.
func DateTime(t time.Time) Value {
	t = t.UTC().Truncate(time.Millisecond)
	return Value{kind: KindDateTime, t: t}
}

// Kind returns the scalar kind of the value.
func (v Value) Kind() Kind { return v.kind }

// IsZero reports whether the value is the missing zero Value.
func (v Value) IsZero() bool { return v.kind == KindNone }

// AsBool returns the boolean payload; valid only for KindBoolean.
func (v Value) AsBool() bool { return v.b }

// AsInt returns the integer payload; valid only for KindInteger.
func (v Value) AsInt() int64 { return v.i }

// AsDouble returns the float payload. For KindInteger the integer is widened,
// so numeric callers can treat long and double uniformly.
func (v Value) AsDouble() float64 {
	if v.kind == KindInteger {
		return float64(v.i)
	}
	return v.f
}

// AsString returns the string payload; valid only for KindString.
func (v Value) AsString() string { return v.s }

// AsDateTime returns the datetime payload; valid only for KindDateTime.
func (v Value) AsDateTime() time.Time { return v.t }

// IsNumeric reports whether the value is a long or a double.
func (v Value) IsNumeric() bool {
	return v.kind == KindInteger || v.kind == KindDouble
}

// Equal reports whether two values are equal. Longs and doubles compare
// numerically across kinds; any other kind pairing is unequal.
func (v Value) Equal(o Value) bool {
	c, err := v.Compare(o)
	return err == nil && c == 0
}

// Compare totally orders two values of the same kind, with numeric coercion
// between longs and doubles. It returns -1, 0, or 1, or ErrKindMismatch for
// any other cross-kind pairing. Booleans order false < true.
func (v Value) Compare(o Value) (int, error) {
	if v.kind != o.kind {
		if v.IsNumeric() && o.IsNumeric() {
			return cmpFloat(v.AsDouble(), o.AsDouble()), nil
		}
		return 0, fmt.Errorf("%w: cannot compare %s with %s", ErrKindMismatch, v.kind, o.kind)
	}
	switch v.kind {
	case KindBoolean:
		switch {
		case v.b == o.b:
			return 0, nil
		case !v.b:
			return -1, nil
		default:
			return 1, nil
		}
	case KindInteger:
		switch {
		case v.i < o.i:
			return -1, nil
		case v.i > o.i:
			return 1, nil
		default:
			return 0, nil
		}
	case KindDouble:
		return cmpFloat(v.f, o.f), nil
	case KindString:
		switch {
		case v.s < o.s:
			return -1, nil
		case v.s > o.s:
			return 1, nil
		default:
			return 0, nil
		}
	case KindDateTime:
		switch {
		case v.t.Before(o.t):
			return -1, nil
		case v.t.After(o.t):
			return 1, nil
		default:
			return 0, nil
		}
	default:
		return 0, fmt.Errorf("%w: invalid kind %s", ErrKindMismatch, v.kind)
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Key returns a canonical string for use as a map key. Values that are Equal
// produce identical keys; longs that equal a double produce the double's key.
func (v Value) Key() string {
	switch v.kind {
	case KindBoolean:
		return "b:" + strconv.FormatBool(v.b)
	case KindInteger:
		if int64(float64(v.i)) == v.i {
			return "n:" + strconv.FormatFloat(float64(v.i), 'g', -1, 64)
		}
		return "n:" + strconv.FormatInt(v.i, 10)
	case KindDouble:
		return "n:" + strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return "s:" + v.s
	case KindDateTime:
		return "t:" + strconv.FormatInt(v.t.UnixMilli(), 10)
	default:
		return ""
	}
}

// String renders the value in query-literal form.
func (v Value) String() string {
	switch v.kind {
	case KindBoolean:
		return strconv.FormatBool(v.b)
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindDouble:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.s)
	case KindDateTime:
		return v.t.Format("2006-01-02T15:04:05.000")
	default:
		return "<none>"
	}
}

// Native returns the value as a plain Go value (bool, int64, float64, string,
// or time.Time). Used when rendering fetch documents.
func (v Value) Native() any {
	switch v.kind {
	case KindBoolean:
		return v.b
	case KindInteger:
		return v.i
	case KindDouble:
		return v.f
	case KindString:
		return v.s
	case KindDateTime:
		return v.t
	default:
		return nil
	}
}

// Round returns the value rounded half away from zero to the nearest integer.
// Longs pass through; any non-numeric kind is an error.
func Round(v Value) (Value, error) {
	switch v.kind {
	case KindInteger:
		return v, nil
	case KindDouble:
		return Int(int64(math.Round(v.f))), nil
	default:
		return Value{}, fmt.Errorf("%w: round expects a numeric value, got %s", ErrKindMismatch, v.kind)
	}
}

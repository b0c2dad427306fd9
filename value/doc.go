// Package value implements the typed scalar layer of the strata engine.
//
// Five scalar kinds are supported: boolean, 64-bit signed integer, 64-bit
// float, UTF-8 string (bounded to 64 KB), and millisecond-precision datetime
// without timezone. Values are immutable once constructed.
//
// # Construction
//
// Each kind has a constructor that normalizes its input:
//
//	b := value.Bool(true)
//	n := value.Int(42)
//	d := value.Double(3.14)
//	s, err := value.String("hello")          // enforces the 64 KB bound
//	t := value.DateTime(time.Now())          // truncates to milliseconds
//
// DateTime truncation discards sub-millisecond precision; it never rounds.
//
// # Comparison
//
// Values of the same kind have a total order via Compare. Integer and double
// values compare numerically across the two kinds; all other cross-kind
// comparisons return ErrKindMismatch. Equal follows the same coercion rule.
package value

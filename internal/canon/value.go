package canon

import (
	"math"
	"sort"

	"github.com/cockroachdb/apd/v3"
)

// Value is a sealed interface over the canonical value tree.
// Only Null, String, Number, Bool, Array and Object implement it.
type Value interface {
	canonValue() // Sealed - only these types implement it
}

// Null is the JSON null value.
type Null struct{}

func (Null) canonValue() {}

// String is a JSON string value.
type String string

func (String) canonValue() {}

// Bool is a JSON boolean value.
type Bool bool

func (Bool) canonValue() {}

// Number is an exact decimal. The zero Number is "unset" and has no
// canonical form; use IsSet before marshaling values that may be absent.
//
// Numbers are immutable once constructed.
type Number struct {
	d *apd.Decimal
}

func (Number) canonValue() {}

// Array is an ordered sequence of values.
type Array []Value

func (Array) canonValue() {}

// Object maps string keys to values. Iterate with SortedKeys for
// deterministic order.
type Object map[string]Value

func (Object) canonValue() {}

// ParseNumber parses a decimal literal such as "1250.75" or "-3e2".
// Infinities and NaN are rejected.
func ParseNumber(s string) (Number, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return Number{}, newError("", "invalid number %q", s)
	}
	if d.Form != apd.Finite {
		return Number{}, newError("", "non-finite number %q", s)
	}
	return Number{d: d}, nil
}

// MustNumber is like ParseNumber but panics on error.
// Use only in tests or with literal inputs.
func MustNumber(s string) Number {
	n, err := ParseNumber(s)
	if err != nil {
		panic(err)
	}
	return n
}

// IntNumber returns the Number for an integer.
func IntNumber(i int64) Number {
	return Number{d: apd.New(i, 0)}
}

// FloatNumber converts a float64 using its shortest round-trip
// representation. NaN and infinities fail with a CanonicalizationError.
func FloatNumber(f float64) (Number, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Number{}, newError("", "non-finite number %v", f)
	}
	d, err := new(apd.Decimal).SetFloat64(f)
	if err != nil {
		return Number{}, newError("", "convert float %v: %v", f, err)
	}
	return Number{d: d}, nil
}

// IsSet reports whether n holds a value.
func (n Number) IsSet() bool {
	return n.d != nil
}

// String returns the canonical decimal text, or "" for an unset Number.
func (n Number) String() string {
	if n.d == nil {
		return ""
	}
	return formatDecimal(n.d)
}

// Int64 returns n as an int64 when it is integral and in range.
func (n Number) Int64() (int64, bool) {
	if n.d == nil {
		return 0, false
	}
	i, err := n.d.Int64()
	return i, err == nil
}

// Equal reports whether two numbers denote the same decimal value.
func (n Number) Equal(o Number) bool {
	if n.d == nil || o.d == nil {
		return n.d == nil && o.d == nil
	}
	return n.d.Cmp(o.d) == 0
}

// formatDecimal renders a finite decimal in fixed notation with trailing
// fractional zeros removed. Negative zero renders as "0".
func formatDecimal(d *apd.Decimal) string {
	if d.IsZero() {
		return "0"
	}
	var reduced apd.Decimal
	reduced.Reduce(d)
	return reduced.Text('f')
}

// SortedKeys returns the object's keys in byte-wise ordinal order.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy of the object.
func (obj Object) Clone() Object {
	if obj == nil {
		return nil
	}
	out := make(Object, len(obj))
	for k, v := range obj {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue returns a deep copy of v. Numbers are shared since they are
// immutable.
func CloneValue(v Value) Value {
	switch val := v.(type) {
	case Object:
		return val.Clone()
	case Array:
		out := make(Array, len(val))
		for i, elem := range val {
			out[i] = CloneValue(elem)
		}
		return out
	default:
		return v
	}
}

// IsEmpty reports whether v counts as absent for merge purposes:
// nil, Null, "", an unset Number, or an empty Array/Object.
// false and 0 are values, not absences.
func IsEmpty(v Value) bool {
	switch val := v.(type) {
	case nil, Null:
		return true
	case String:
		return val == ""
	case Number:
		return !val.IsSet()
	case Array:
		return len(val) == 0
	case Object:
		return len(val) == 0
	default:
		return false
	}
}

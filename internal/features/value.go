package features

import "strconv"

// Kind identifies the dynamic type of a Value.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindNumber
	KindString
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	default:
		return "absent"
	}
}

// Value is a feature value. The zero Value is Absent.
type Value struct {
	kind Kind
	num  float64
	str  string
	b    bool
}

// Absent is the value of any attribute that is not present.
var Absent = Value{}

// Number returns a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether the attribute was missing.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

func (v Value) Num() float64    { return v.num }
func (v Value) Str() string     { return v.str }
func (v Value) BoolValue() bool { return v.b }

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindString:
		return strconv.Quote(v.str)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return "<absent>"
	}
}

// FromAny converts a decoded JSON scalar into a Value. Nested objects,
// arrays and null have no feature representation and become Absent.
func FromAny(x any) Value {
	switch t := x.(type) {
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case string:
		return String(t)
	case bool:
		return Bool(t)
	default:
		return Absent
	}
}

package registry

import (
	"strconv"
)

// Kind tags the runtime type of a control value.
type Kind int

const (
	KindBool Kind = iota
	KindNumber
	KindText
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "boolean"
	case KindNumber:
		return "numeric"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// Value is a control value tagged with its kind.
type Value struct {
	Kind Kind
	Bool bool
	Num  float64
	Text string
}

// Bool returns a boolean value.
func Bool(b bool) Value {
	return Value{Kind: KindBool, Bool: b}
}

// Number returns a numeric value.
func Number(n float64) Value {
	return Value{Kind: KindNumber, Num: n}
}

// Text returns a text value.
func Text(s string) Value {
	return Value{Kind: KindText, Text: s}
}

// Truthy reports whether the value counts as "on": true, non-zero, or non-empty text.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Num != 0
	case KindText:
		return v.Text != "" && v.Text != "0" && v.Text != "false"
	}
	return false
}

// Float returns the numeric interpretation of the value.
// Booleans map to 0/1; unparsable text maps to 0.
func (v Value) Float() float64 {
	switch v.Kind {
	case KindBool:
		if v.Bool {
			return 1
		}
		return 0
	case KindNumber:
		return v.Num
	case KindText:
		f, err := strconv.ParseFloat(v.Text, 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindBool:
		return v.Bool == o.Bool
	case KindNumber:
		return v.Num == o.Num
	default:
		return v.Text == o.Text
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	default:
		return v.Text
	}
}

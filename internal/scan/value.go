// Package scan defines the dynamic row model shared by every part of the
// scan table: tagged scalar values, ordered rows and versioned row sets.
package scan

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Kind identifies which scalar variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "null"
	}
}

// Value is a tagged scalar: null, string, number or boolean. The zero Value
// is null.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
}

// Null returns the null value.
func Null() Value { return Value{} }

// Str returns a string value.
func Str(s string) Value { return Value{kind: KindString, str: s} }

// Num returns a numeric value.
func Num(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// ValueOf converts a Go scalar into a Value. Unsupported types become null.
func ValueOf(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case string:
		return Str(x)
	case bool:
		return Bool(x)
	case int:
		return Num(float64(x))
	case int32:
		return Num(float64(x))
	case int64:
		return Num(float64(x))
	case float32:
		return Num(float64(x))
	case float64:
		return Num(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Str(x.String())
		}
		return Num(f)
	default:
		return Null()
	}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

// IsEmpty reports whether v is null or the empty string. Empty values always
// sort last and count as "absent" for target-hit evaluation.
func (v Value) IsEmpty() bool {
	return v.kind == KindNull || (v.kind == KindString && v.str == "")
}

// Text renders the value the way a table cell shows it. Null renders as "".
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// Float interprets the value as a number. Numbers convert directly; strings
// convert when they start with a decimal literal (leading whitespace allowed,
// trailing garbage ignored), so "12.5%" yields 12.5. Null, booleans and
// non-numeric strings report ok=false.
func (v Value) Float() (f float64, ok bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindString:
		return leadingFloat(v.str)
	default:
		return 0, false
	}
}

// Boolean returns the boolean payload. Strings "true" and "false" are
// accepted case-insensitively.
func (v Value) Boolean() (b bool, ok bool) {
	switch v.kind {
	case KindBool:
		return v.b, true
	case KindString:
		switch strings.ToLower(strings.TrimSpace(v.str)) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	default:
		return true
	}
}

// MarshalJSON encodes the value as its JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	default:
		return []byte("null"), nil
	}
}

func leadingFloat(s string) (float64, bool) {
	s = strings.TrimLeft(s, " \t\n\r\f\v\u00a0")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
		digits++
	}
	if end < len(s) && s[end] == '.' {
		end++
		for end < len(s) && s[end] >= '0' && s[end] <= '9' {
			end++
			digits++
		}
	}
	if digits == 0 {
		return 0, false
	}
	if end < len(s) && (s[end] == 'e' || s[end] == 'E') {
		exp := end + 1
		if exp < len(s) && (s[exp] == '+' || s[exp] == '-') {
			exp++
		}
		start := exp
		for exp < len(s) && s[exp] >= '0' && s[exp] <= '9' {
			exp++
		}
		if exp > start {
			end = exp
		}
	}
	f, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

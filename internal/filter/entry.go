package filter

import "fmt"

// Entry is the wire form of one column filter.
type Entry struct {
	Column string   `json:"column"`
	Kind   Kind     `json:"kind"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
	Values []string `json:"values,omitempty"`
	Value  *bool    `json:"value,omitempty"`
}

// Constraint converts the entry into a Constraint. A boolean entry without a
// value converts to nil, which clears the column when passed to Spec.With.
func (e Entry) Constraint() (Constraint, error) {
	switch e.Kind {
	case KindNumber:
		return NumberRange{Min: e.Min, Max: e.Max}, nil
	case KindString:
		return NewStringSet(e.Values...), nil
	case KindBool:
		if e.Value == nil {
			return nil, nil
		}
		return BoolMatch{Value: *e.Value}, nil
	}
	return nil, fmt.Errorf("filter: unknown kind %q for column %q", e.Kind, e.Column)
}

// Entries returns the spec in column order.
func (s Spec) Entries() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, col := range s.Columns() {
		e := Entry{Column: col, Kind: s.entries[col].Kind()}
		switch c := s.entries[col].(type) {
		case NumberRange:
			e.Min, e.Max = c.Min, c.Max
		case StringSet:
			e.Values = c.Values()
		case BoolMatch:
			v := c.Value
			e.Value = &v
		}
		out = append(out, e)
	}
	return out
}

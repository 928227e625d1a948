// Package filter evaluates scan rows against a per-column filter
// specification and the two positional target-hit flags.
package filter

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"scanwatch/internal/scan"
)

// ErrInvalidBound is returned when a numeric bound cannot be parsed.
var ErrInvalidBound = errors.New("filter: invalid numeric bound")

// Kind tags the variant of a Constraint.
type Kind string

const (
	KindNumber Kind = "number"
	KindString Kind = "string"
	KindBool   Kind = "boolean"
)

// Constraint is a single column's filter. Implementations are immutable
// values.
type Constraint interface {
	Kind() Kind
	// Active reports whether the constraint restricts anything. Inactive
	// constraints are never stored in a Spec.
	Active() bool
	Match(v scan.Value) bool
}

// NumberRange passes values within [Min, Max]. Either bound may be nil.
type NumberRange struct {
	Min *float64
	Max *float64
}

func (NumberRange) Kind() Kind { return KindNumber }

func (n NumberRange) Active() bool { return n.Min != nil || n.Max != nil }

// Match fails any value that does not parse as a number when a bound is set.
func (n NumberRange) Match(v scan.Value) bool {
	if !n.Active() {
		return true
	}
	f, ok := v.Float()
	if !ok {
		return false
	}
	if n.Min != nil && f < *n.Min {
		return false
	}
	if n.Max != nil && f > *n.Max {
		return false
	}
	return true
}

// StringSet passes values whose text is a member of the set. Matching is
// exact and case-sensitive.
type StringSet struct {
	values []string // sorted, unique
}

// NewStringSet builds a set from values, dropping duplicates.
func NewStringSet(values ...string) StringSet {
	vs := slices.Clone(values)
	slices.Sort(vs)
	return StringSet{values: slices.Compact(vs)}
}

func (StringSet) Kind() Kind { return KindString }

func (s StringSet) Active() bool { return len(s.values) > 0 }

func (s StringSet) Values() []string { return slices.Clone(s.values) }

func (s StringSet) Contains(v string) bool {
	_, ok := slices.BinarySearch(s.values, v)
	return ok
}

func (s StringSet) Match(v scan.Value) bool {
	if v.Kind() != scan.KindString {
		return false
	}
	return s.Contains(v.Text())
}

// Toggle returns a copy of s with v added if absent or removed if present.
func (s StringSet) Toggle(v string) StringSet {
	if s.Contains(v) {
		return StringSet{values: slices.DeleteFunc(slices.Clone(s.values), func(x string) bool { return x == v })}
	}
	return NewStringSet(append(slices.Clone(s.values), v)...)
}

// BoolMatch passes values equal to Value.
type BoolMatch struct {
	Value bool
}

func (BoolMatch) Kind() Kind { return KindBool }

func (BoolMatch) Active() bool { return true }

func (b BoolMatch) Match(v scan.Value) bool {
	got, ok := v.Boolean()
	return ok && got == b.Value
}

// ParseBound parses a user-entered numeric bound. Blank input means "no
// bound" and yields nil.
func ParseBound(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBound, s)
	}
	return &f, nil
}

// Spec maps column names to active constraints. A Spec is immutable; every
// mutator returns a new Spec, so a Spec can be shared with a renderer while
// the owner keeps editing.
type Spec struct {
	entries map[string]Constraint
}

// NewSpec builds a spec from a column→constraint map, dropping inactive
// entries.
func NewSpec(m map[string]Constraint) Spec {
	s := Spec{}
	for col, c := range m {
		s = s.With(col, c)
	}
	return s
}

// With returns a copy of s with col constrained by c. An inactive or nil
// constraint removes col instead.
func (s Spec) With(col string, c Constraint) Spec {
	if c == nil || !c.Active() {
		return s.Without(col)
	}
	next := maps.Clone(s.entries)
	if next == nil {
		next = make(map[string]Constraint, 1)
	}
	next[col] = c
	return Spec{entries: next}
}

// Without returns a copy of s with no constraint on col.
func (s Spec) Without(col string) Spec {
	if _, ok := s.entries[col]; !ok {
		return s
	}
	next := maps.Clone(s.entries)
	delete(next, col)
	return Spec{entries: next}
}

// Get returns the constraint on col.
func (s Spec) Get(col string) (Constraint, bool) {
	c, ok := s.entries[col]
	return c, ok
}

// Len is the number of active filters.
func (s Spec) Len() int { return len(s.entries) }

// IsEmpty reports whether no filter is active.
func (s Spec) IsEmpty() bool { return len(s.entries) == 0 }

// Columns returns the filtered columns in sorted order.
func (s Spec) Columns() []string {
	return slices.Sorted(maps.Keys(s.entries))
}

// ToggleValue flips membership of v in the string filter on col.
func (s Spec) ToggleValue(col, v string) Spec {
	set, _ := s.entries[col].(StringSet)
	return s.With(col, set.Toggle(v))
}

// SetMin sets the lower bound of the numeric filter on col, keeping any
// upper bound. A nil lo clears the lower bound.
func (s Spec) SetMin(col string, lo *float64) Spec {
	r, _ := s.entries[col].(NumberRange)
	r.Min = lo
	return s.With(col, r)
}

// SetMax sets the upper bound of the numeric filter on col.
func (s Spec) SetMax(col string, hi *float64) Spec {
	r, _ := s.entries[col].(NumberRange)
	r.Max = hi
	return s.With(col, r)
}

// SetBool sets or clears (nil) the boolean filter on col.
func (s Spec) SetBool(col string, v *bool) Spec {
	if v == nil {
		return s.Without(col)
	}
	return s.With(col, BoolMatch{Value: *v})
}

// Package tablesort orders scan rows by a single column using the scan
// table's typed comparison cascade.
package tablesort

import (
	"fmt"
	"slices"
	"strings"

	"scanwatch/internal/scan"
)

// Direction is the sort direction.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// ParseDirection accepts "asc" and "desc".
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(s)) {
	case Ascending:
		return Ascending, nil
	case Descending:
		return Descending, nil
	}
	return "", fmt.Errorf("tablesort: unknown direction %q", s)
}

// State is the active sort. The zero State means unsorted.
type State struct {
	Column    string    `json:"column,omitempty"`
	Direction Direction `json:"direction,omitempty"`
}

// IsZero reports whether no sort is active.
func (s State) IsZero() bool { return s.Column == "" }

// Toggle implements header clicks: the active column flips direction, any
// other column starts ascending.
func (s State) Toggle(col string) State {
	if s.Column == col && s.Direction == Ascending {
		return State{Column: col, Direction: Descending}
	}
	return State{Column: col, Direction: Ascending}
}

// semanticRank orders directional labels. Differently-cased spellings keep
// distinct ranks.
var semanticRank = map[string]int{
	"BULLISH": 7,
	"Bullish": 6,
	"LONG":    5,
	"SHORT":   4,
	"Neutral": 3,
	"FLAT":    2,
	"bearish": 1,
	"BEARISH": 0,
}

var rangeRank = map[string]int{
	"Contraction":  0,
	"Normal Range": 1,
	"Expansion":    2,
}

// Compare orders a and b by column. Empty values sort after non-empty values
// in both directions; every other rule is inverted for Descending.
func Compare(a, b scan.Row, column string, dir Direction) int {
	va, vb := a.Get(column), b.Get(column)
	ea, eb := va.IsEmpty(), vb.IsEmpty()
	switch {
	case ea && eb:
		return 0
	case ea:
		return 1
	case eb:
		return -1
	}
	c := compareValues(va, vb)
	if dir == Descending {
		return -c
	}
	return c
}

func compareValues(a, b scan.Value) int {
	if fa, ok := a.Float(); ok {
		if fb, ok := b.Float(); ok {
			return cmpFloat(fa, fb)
		}
	}
	ta, tb := a.Text(), b.Text()
	if ra, ok := semanticRank[strings.TrimSpace(ta)]; ok {
		if rb, ok := semanticRank[strings.TrimSpace(tb)]; ok {
			return ra - rb
		}
	}
	if ra, ok := rangeRank[ta]; ok {
		if rb, ok := rangeRank[tb]; ok {
			return ra - rb
		}
	}
	return strings.Compare(ta, tb)
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Sort returns a stably sorted copy of rows. A zero State returns the rows in
// their original order.
func Sort(rows []scan.Row, s State) []scan.Row {
	out := slices.Clone(rows)
	if s.IsZero() {
		return out
	}
	dir := s.Direction
	if dir == "" {
		dir = Ascending
	}
	slices.SortStableFunc(out, func(a, b scan.Row) int {
		return Compare(a, b, s.Column, dir)
	})
	return out
}

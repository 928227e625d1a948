package filter

import "fmt"

// TargetFlag is the tri-state constraint on one target-hit column.
type TargetFlag uint8

const (
	Unconstrained TargetFlag = iota
	Hit
	NotHit
)

func (f TargetFlag) String() string {
	switch f {
	case Hit:
		return "hit"
	case NotHit:
		return "not-hit"
	default:
		return "unconstrained"
	}
}

// ParseTargetFlag accepts "hit", "not-hit" and "unconstrained" (or "").
func ParseTargetFlag(s string) (TargetFlag, error) {
	switch s {
	case "", "unconstrained", "any":
		return Unconstrained, nil
	case "hit":
		return Hit, nil
	case "not-hit", "not_hit":
		return NotHit, nil
	}
	return Unconstrained, fmt.Errorf("filter: unknown target flag %q", s)
}

// TargetFromBool maps an optional boolean (nil = unconstrained) onto a flag.
func TargetFromBool(b *bool) TargetFlag {
	switch {
	case b == nil:
		return Unconstrained
	case *b:
		return Hit
	default:
		return NotHit
	}
}

// TargetState holds the flags for the first and second target columns.
type TargetState [2]TargetFlag

// IsZero reports whether both flags are unconstrained.
func (t TargetState) IsZero() bool { return t == TargetState{} }

// Active counts constrained positions.
func (t TargetState) Active() int {
	n := 0
	for _, f := range t {
		if f != Unconstrained {
			n++
		}
	}
	return n
}

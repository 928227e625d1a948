package filter

import "scanwatch/internal/scan"

// Passes reports whether row satisfies every active filter in spec and both
// target flags. targetCols are the derived target-hit columns in column
// order; a flag whose position has no column is vacuously satisfied.
//
// Passes has no side effects and may be memoized per (row, spec, targets).
func Passes(row scan.Row, spec Spec, targets TargetState, targetCols []string) bool {
	for i, flag := range targets {
		if flag == Unconstrained || i >= len(targetCols) {
			continue
		}
		hit := !row.Get(targetCols[i]).IsEmpty()
		if (flag == Hit) != hit {
			return false
		}
	}
	for col, c := range spec.entries {
		if !c.Match(row.Get(col)) {
			return false
		}
	}
	return true
}

// Apply returns the rows of rows that pass, preserving order. The input slice
// is not modified.
func Apply(rows []scan.Row, spec Spec, targets TargetState, targetCols []string) []scan.Row {
	out := make([]scan.Row, 0, len(rows))
	for _, r := range rows {
		if Passes(r, spec, targets, targetCols) {
			out = append(out, r)
		}
	}
	return out
}

// ActiveCount is the number of filter entries plus constrained target flags,
// as shown on the filter toggle badge.
func ActiveCount(spec Spec, targets TargetState) int {
	return spec.Len() + targets.Active()
}

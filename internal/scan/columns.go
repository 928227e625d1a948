package scan

import (
	"strings"
)

// HashColumn holds the server-computed row content hash.
const HashColumn = "_row_hash"

const colorSuffix = " Color"

// NormalizeKey collapses runs of whitespace (non-breaking spaces included)
// into single spaces and trims the result. Column names from CSV uploads are compared this way.
func NormalizeKey(k string) string {
	return strings.Join(strings.Fields(k), " ")
}

// IsHidden reports whether the column is internal (leading underscore).
func IsHidden(col string) bool { return strings.HasPrefix(col, "_") }

// IsColorColumn reports whether the column is a colour hint for another
// column ("<X> Color").
func IsColorColumn(col string) bool { return strings.HasSuffix(col, colorSuffix) }

// ColorColumn returns the colour hint column name for col.
func ColorColumn(col string) string { return col + colorSuffix }

// IsDataColumn reports whether col should be rendered as its own column.
func IsDataColumn(col string) bool { return !IsHidden(col) && !IsColorColumn(col) }

// DataColumns filters cols down to renderable columns, keeping order.
func DataColumns(cols []string) []string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if IsDataColumn(c) {
			out = append(out, c)
		}
	}
	return out
}

// TargetColumns returns the derived target-hit columns (names containing both
// "Target" and "DateTime") in column order.
func TargetColumns(cols []string) []string {
	var out []string
	for _, c := range cols {
		if strings.Contains(c, "Target") && strings.Contains(c, "DateTime") {
			out = append(out, c)
		}
	}
	return out
}

// SymbolIntervalColumn returns the first column whose lower-cased name
// contains both "sym" and "int", or "" when there is none.
func SymbolIntervalColumn(cols []string) string {
	for _, c := range cols {
		lc := strings.ToLower(c)
		if strings.Contains(lc, "sym") && strings.Contains(lc, "int") {
			return c
		}
	}
	return ""
}

package dashboard

import (
	"fmt"
	"strconv"
	"strings"

	"scanwatch/internal/scan"
)

// dateColumns pairs TTScanner value columns with the DateTime column shown
// beneath them.
var dateColumns = map[string]string{
	"Entry Price": "Entry DateTime",
	"Target #1":   "Target #1 DateTime",
	"Target #2":   "Target #2 DateTime",
	"Stop Price":  "Stop DateTime",
}

// Headers returns the columns to render, in source order. Colour and hidden
// columns are dropped, visible (when non-empty) restricts the set by
// normalised name, and TTScanner DateTime columns are folded into their
// value columns.
func Headers(cols, visible []string, k Kind) []string {
	var want map[string]bool
	if len(visible) > 0 {
		want = make(map[string]bool, len(visible))
		for _, v := range visible {
			want[scan.NormalizeKey(v)] = true
		}
	}
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		n := scan.NormalizeKey(c)
		if strings.HasPrefix(c, "_") || strings.HasSuffix(n, " Color") {
			continue
		}
		if want != nil && !want[n] {
			continue
		}
		if k == KindTTScanner && strings.HasSuffix(n, "DateTime") {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Cell is a rendered table cell.
type Cell struct {
	Text string `json:"text"`
	// Date is the merged DateTime shown under TTScanner price columns.
	Date  string `json:"date,omitempty"`
	Color string `json:"color,omitempty"`
}

// RenderCell renders header of row for a file kind.
func RenderCell(row scan.Row, header string, k Kind) Cell {
	c := Cell{Text: FormatValue(row.Get(header))}
	if color, ok := CellColor(row, header); ok {
		c.Color = color
	}
	if k != KindTTScanner {
		return c
	}
	dateKey, ok := dateColumns[scan.NormalizeKey(header)]
	if !ok {
		return c
	}
	date := row.Get(dateKey)
	dir, ok := row.Lookup("Direction")
	if !ok || dir.IsNull() {
		dir = row.Get("Thrust")
	}
	if !date.IsEmpty() && dir.Text() != "FLAT" {
		c.Date = date.Text()
	}
	return c
}

// CellColor returns the colour hint for header when the row carries a valid
// "<header> Color" value.
func CellColor(row scan.Row, header string) (string, bool) {
	want := scan.NormalizeKey(scan.ColorColumn(header))
	for _, col := range row.Columns() {
		if scan.NormalizeKey(col) != want {
			continue
		}
		v := row.Get(col)
		if v.Kind() != scan.KindString || !IsValidColor(v.Text()) {
			return "", false
		}
		return strings.TrimSpace(v.Text()), true
	}
	return "", false
}

// IsValidColor accepts hex, rgb(a), hsl(a) and bare colour names.
func IsValidColor(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	for _, p := range []string{"#", "rgb(", "rgba(", "hsl(", "hsla("} {
		if strings.HasPrefix(v, p) {
			return true
		}
	}
	for _, r := range v {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

var namedColors = map[string]string{
	"black":   "#000000",
	"white":   "#ffffff",
	"red":     "#ff0000",
	"green":   "#008000",
	"lime":    "#00ff00",
	"blue":    "#0000ff",
	"yellow":  "#ffff00",
	"orange":  "#ffa500",
	"purple":  "#800080",
	"gray":    "#808080",
	"grey":    "#808080",
	"cyan":    "#00ffff",
	"magenta": "#ff00ff",
	"pink":    "#ffc0cb",
	"teal":    "#008080",
}

// TerminalColor converts a colour hint into a #rrggbb value a terminal
// renderer understands. hsl() and unknown names are not converted.
func TerminalColor(c string) (string, bool) {
	c = strings.ToLower(strings.TrimSpace(c))
	switch {
	case strings.HasPrefix(c, "#"):
		h := c[1:]
		if len(h) == 3 {
			return "#" + string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]}), true
		}
		if len(h) == 6 || len(h) == 8 {
			return "#" + h[:6], true
		}
		return "", false
	case strings.HasPrefix(c, "rgb(") || strings.HasPrefix(c, "rgba("):
		inner := c[strings.IndexByte(c, '(')+1:]
		inner = strings.TrimSuffix(inner, ")")
		parts := strings.Split(inner, ",")
		if len(parts) < 3 {
			return "", false
		}
		var rgb [3]int
		for i := 0; i < 3; i++ {
			n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
			if err != nil || n < 0 || n > 255 {
				return "", false
			}
			rgb[i] = n
		}
		return fmt.Sprintf("#%02x%02x%02x", rgb[0], rgb[1], rgb[2]), true
	}
	hex, ok := namedColors[c]
	return hex, ok
}

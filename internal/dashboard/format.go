package dashboard

import (
	"fmt"
	"strings"

	"scanwatch/internal/scan"
)

// FormatInt formats an integer with comma separators.
func FormatInt(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	start := len(s) % 3
	if start > 0 {
		b.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatCount renders "shown/total" row counts, e.g. "12 of 1,204".
func FormatCount(shown, total int) string {
	if shown == total {
		return FormatInt(total)
	}
	return FormatInt(shown) + " of " + FormatInt(total)
}

// FormatValue renders a cell value. Null renders as "-".
func FormatValue(v scan.Value) string {
	if v.IsNull() {
		return "-"
	}
	return v.Text()
}

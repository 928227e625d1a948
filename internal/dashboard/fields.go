package dashboard

import "scanwatch/internal/filter"

// FilterField describes one control in the filter panel.
type FilterField struct {
	Label   string      `json:"label"`
	Column  string      `json:"column"`
	Kind    filter.Kind `json:"kind"`
	Options []string    `json:"options,omitempty"`
	// Target is the target-hit position (0 or 1) a boolean field drives
	// instead of a column filter, or -1.
	Target int `json:"target"`
}

var trendOptions = []string{"Bullish", "Bearish", "BULLISH", "BEARISH"}

func num(col string) FilterField {
	return FilterField{Label: col, Column: col, Kind: filter.KindNumber, Target: -1}
}

func str(col string, opts ...string) FilterField {
	return FilterField{Label: col, Column: col, Kind: filter.KindString, Options: opts, Target: -1}
}

func target(label string, pos int) FilterField {
	return FilterField{Label: label, Kind: filter.KindBool, Target: pos}
}

var fieldsByKind = map[Kind][]FilterField{
	KindTTScanner: {
		str("Direction", "LONG", "SHORT", "FLAT"),
		num("Bars Since Entry"),
		target("Target #1 Hit", 0),
		target("Target #2 Hit", 1),
		num("Thrust"),
		num("Profit Factor"),
		num("Win Rate"),
		num("BulBear Shift"),
		num("BulBear Rank"),
	},
	KindFSOptions: {
		str("Trend Dir", trendOptions...),
		num("Call Level"),
		num("Put Level"),
	},
	KindMENTFib: {
		num("Last Price"),
		str("Fib Pivot Trend", trendOptions...),
		num("Bull Fib Trigger Level"),
		num("Bear Fib Trigger Level"),
	},
}

// FilterFields returns the filter panel fields for a file kind. Unknown
// kinds have none.
func FilterFields(k Kind) []FilterField {
	fs := fieldsByKind[k]
	out := make([]FilterField, len(fs))
	copy(out, fs)
	return out
}

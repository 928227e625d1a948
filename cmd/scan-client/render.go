package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"scanwatch/internal/dashboard"
	"scanwatch/internal/favorites"
	"scanwatch/internal/filter"
	"scanwatch/internal/live"
	"scanwatch/internal/scan"
	"scanwatch/internal/tablesort"
	"scanwatch/internal/viewmodel"
)

const (
	maxColWidth = 24
	markerWidth = 2
)

var (
	colHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	colSelStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Underline(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	favStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	updatedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	pickTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	pickSelStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("12"))
	activeStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	errStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	highlightBG    = lipgloss.Color("236") // dark grey background
)

var channelColors = map[live.State]lipgloss.Color{
	live.Open:         "10",
	live.Connecting:   "11",
	live.Reconnecting: "9",
	live.Closed:       "245",
}

var noticeColors = map[viewmodel.Level]lipgloss.Color{
	viewmodel.LevelInfo:    "4",
	viewmodel.LevelSuccess: "2",
	viewmodel.LevelError:   "1",
}

func hlStyle(s lipgloss.Style, hl bool) lipgloss.Style {
	if hl {
		return s.Background(highlightBG)
	}
	return s
}

func (m model) View() string {
	if !m.ready {
		return "Loading..."
	}
	return m.headerBar() + "\n" + m.viewport.View() + "\n" + m.footerBar()
}

func (m model) headerBar() string {
	v := m.view
	var text string
	switch {
	case v.Selection == nil && v.Source == "":
		text = " scanwatch    no source selected "
	case v.Loading:
		text = fmt.Sprintf(" %s    loading... ", v.Name)
	default:
		sortLabel := "none"
		if !v.Sort.IsZero() {
			arrow := "^"
			if v.Sort.Direction == tablesort.Descending {
				arrow = "v"
			}
			sortLabel = v.Sort.Column + " " + arrow
		}
		text = fmt.Sprintf(" %s  v%d    rows: %s    filters: %d    sort: %s    live: %s ",
			v.Name,
			v.Version,
			dashboard.FormatCount(len(v.Rows), v.Total),
			v.ActiveFilters(),
			sortLabel,
			v.Channel,
		)
	}
	bg := lipgloss.Color("4")
	if c, ok := channelColors[v.Channel]; ok && v.Source != "" && v.Channel != live.Open {
		bg = c
	}
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("15")).
		Background(bg).
		Render(padOrTrunc(text, m.width))
}

func (m model) footerBar() string {
	if m.notice != nil {
		bg, ok := noticeColors[m.notice.Level]
		if !ok {
			bg = "8"
		}
		return lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(bg).
			Render(padOrTrunc(" "+m.notice.Text, m.width))
	}

	var left string
	switch {
	case m.mode == modePicker:
		left = " q quit  up/dn move  enter choose  esc back  r reload"
	case m.mode == modeFilters && m.editing:
		left = " enter apply  esc cancel    bounds: \"min max\", \"min,max\", \"..max\""
	case m.mode == modeFilters:
		left = " up/dn field  left/right option  space toggle  enter bounds  x clear  c clear all  esc back"
	default:
		left = " q quit  o source  up/dn row  left/right col  s sort  space fav  f filters  1/2 targets  c clear  e export"
	}
	right := ""
	if m.mode == modeTable {
		right = fmt.Sprintf("%.0f%% ", m.viewport.ScrollPercent()*100)
	}
	gap := m.width - len(left) - len(right)
	if gap < 0 {
		gap = 0
	}
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("15")).
		Background(lipgloss.Color("8")).
		Render(padOrTrunc(left+strings.Repeat(" ", gap)+right, m.width))
}

func (m model) renderContent() string {
	var b strings.Builder
	switch m.mode {
	case modePicker:
		m.renderPicker(&b)
	case modeFilters:
		m.renderFilters(&b)
	default:
		m.renderTable(&b)
	}
	return b.String()
}

func (m model) renderPicker(b *strings.Builder) {
	var title string
	var items []string
	switch m.stage {
	case stageAlgo:
		title = "Select algo"
		for _, a := range m.algos {
			items = append(items, a.Name)
		}
	case stageGroup:
		title = "Select group for " + m.pickAlgo.Name
		for _, g := range m.groups {
			items = append(items, g.Name)
		}
	case stageInterval:
		group := "No Group"
		if m.pickGroup != nil {
			group = m.pickGroup.Name
		}
		title = fmt.Sprintf("Select interval for %s / %s", m.pickAlgo.Name, group)
		for _, iv := range m.intervals {
			items = append(items, iv.Name)
		}
	}

	b.WriteString("  " + pickTitleStyle.Render(title) + "\n\n")
	switch {
	case m.pickLoading:
		b.WriteString(dimStyle.Render("  Loading...") + "\n")
		return
	case m.pickErr != "":
		b.WriteString("  " + errStyle.Render(m.pickErr) + "\n")
		b.WriteString(dimStyle.Render("  press r to retry") + "\n")
		return
	case len(items) == 0:
		b.WriteString(dimStyle.Render("  nothing available") + "\n")
		return
	}
	for i, item := range items {
		if i == m.pickIdx {
			b.WriteString("  " + pickSelStyle.Render(" "+item+" ") + "\n")
		} else {
			b.WriteString("   " + item + "\n")
		}
	}
}

// columnWidths sizes each header to its widest rendered cell.
func (m model) columnWidths() []int {
	widths := make([]int, len(m.headers))
	for i, h := range m.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range m.view.Rows {
		for i, h := range m.headers {
			c := dashboard.RenderCell(row, h, m.kind)
			w := lipgloss.Width(c.Text)
			if c.Date != "" {
				w += 1 + lipgloss.Width(c.Date)
			}
			if w > widths[i] {
				widths[i] = w
			}
		}
	}
	for i := range widths {
		widths[i] = min(widths[i], maxColWidth)
	}
	return widths
}

// firstColumn is the leftmost rendered column so the selected one fits.
func (m model) firstColumn(widths []int) int {
	start := 0
	for start < m.colIdx {
		used := markerWidth
		for i := start; i <= m.colIdx; i++ {
			used += widths[i] + 1
		}
		if used <= m.width {
			break
		}
		start++
	}
	return start
}

func (m model) renderTable(b *strings.Builder) {
	v := m.view
	if v.Source == "" {
		if v.Loading {
			b.WriteString(dimStyle.Render("  Loading...") + "\n")
		} else {
			b.WriteString(dimStyle.Render("  press o to select a scan source") + "\n")
		}
		return
	}
	if len(m.headers) == 0 {
		b.WriteString(dimStyle.Render("  no columns") + "\n")
		return
	}

	widths := m.columnWidths()
	start := m.firstColumn(widths)

	// Column header line.
	b.WriteString(strings.Repeat(" ", markerWidth))
	used := markerWidth
	for i := start; i < len(m.headers); i++ {
		if used+widths[i] > m.width {
			break
		}
		label := m.headers[i]
		if v.Sort.Column == label {
			if v.Sort.Direction == tablesort.Descending {
				label += " v"
			} else {
				label += " ^"
			}
		}
		style := colHeaderStyle
		if i == m.colIdx {
			style = colSelStyle
		}
		b.WriteString(style.Render(fit(label, widths[i])) + " ")
		used += widths[i] + 1
	}
	b.WriteString("\n")

	if len(v.Rows) == 0 {
		b.WriteString(dimStyle.Render("  no rows match the current filters") + "\n")
		return
	}

	for ri, row := range v.Rows {
		hl := ri == m.rowIdx
		b.WriteString(m.marker(row, hl))
		used := markerWidth
		for i := start; i < len(m.headers); i++ {
			if used+widths[i] > m.width {
				break
			}
			b.WriteString(renderCell(dashboard.RenderCell(row, m.headers[i], m.kind), widths[i], hl))
			b.WriteString(hlStyle(lipgloss.NewStyle(), hl).Render(" "))
			used += widths[i] + 1
		}
		b.WriteString("\n")
	}
}

// marker is the two-cell gutter: favorite state then update flag.
func (m model) marker(row scan.Row, hl bool) string {
	fav := hlStyle(lipgloss.NewStyle(), hl).Render(" ")
	if key, err := row.SymbolInterval(); err == nil {
		if slot, ok := m.view.Favorites[key]; ok {
			if slot.Phase == favorites.Pending {
				fav = hlStyle(pendingStyle, hl).Render("*")
			} else {
				fav = hlStyle(favStyle, hl).Render("*")
			}
		}
	}
	upd := hlStyle(lipgloss.NewStyle(), hl).Render(" ")
	if m.view.Updated[row.Hash()] {
		upd = hlStyle(updatedStyle, hl).Render("~")
	}
	return fav + upd
}

func renderCell(c dashboard.Cell, width int, hl bool) string {
	style := lipgloss.NewStyle()
	if c.Color != "" {
		if tc, ok := dashboard.TerminalColor(c.Color); ok {
			style = style.Foreground(lipgloss.Color(tc))
		}
	}
	if c.Date == "" {
		return hlStyle(style, hl).Render(fit(c.Text, width))
	}
	text := c.Text
	room := width - lipgloss.Width(text) - 1
	if room <= 0 {
		return hlStyle(style, hl).Render(fit(text, width))
	}
	return hlStyle(style, hl).Render(text) +
		hlStyle(lipgloss.NewStyle(), hl).Render(" ") +
		hlStyle(dimStyle, hl).Render(fit(c.Date, room))
}

func (m model) renderFilters(b *strings.Builder) {
	v := m.view
	b.WriteString("  " + pickTitleStyle.Render(fmt.Sprintf("Filters (%d active)", v.ActiveFilters())) + "\n\n")
	if len(m.fields) == 0 {
		b.WriteString(dimStyle.Render("  no filters for this scan") + "\n")
		return
	}

	labelW := 0
	for _, f := range m.fields {
		labelW = max(labelW, len(f.Label))
	}

	for fi, f := range m.fields {
		cur := fi == m.fieldIdx
		prefix := "   "
		if cur {
			prefix = "  >"
		}
		b.WriteString(prefix + " " + fit(f.Label, labelW) + "  ")

		switch {
		case f.Target >= 0:
			flag := v.Targets[f.Target]
			for _, opt := range []filter.TargetFlag{filter.Unconstrained, filter.Hit, filter.NotHit} {
				b.WriteString(optionLabel(targetLabel(opt), flag == opt, false) + " ")
			}

		case f.Kind == filter.KindNumber:
			if cur && m.editing {
				b.WriteString(m.input.View())
				break
			}
			text := boundsText(v.Filters, f.Column)
			if text == "" {
				b.WriteString(dimStyle.Render("any"))
			} else {
				b.WriteString(activeStyle.Render(text))
			}

		default:
			var set filter.StringSet
			if c, ok := v.Filters.Get(f.Column); ok {
				set, _ = c.(filter.StringSet)
			}
			for oi, opt := range f.Options {
				b.WriteString(optionLabel(opt, set.Contains(opt), cur && oi == m.optIdx) + " ")
			}
		}
		b.WriteString("\n")
	}
}

func targetLabel(f filter.TargetFlag) string {
	switch f {
	case filter.Hit:
		return "Yes"
	case filter.NotHit:
		return "No"
	default:
		return "All"
	}
}

func optionLabel(s string, active, focused bool) string {
	text := "[ ] " + s
	style := lipgloss.NewStyle()
	if active {
		text = "[x] " + s
		style = activeStyle
	}
	if focused {
		style = style.Underline(true)
	}
	return style.Render(text)
}

// fit pads or truncates s to exactly width terminal cells.
func fit(s string, width int) string {
	w := lipgloss.Width(s)
	if w == width {
		return s
	}
	if w < width {
		return s + strings.Repeat(" ", width-w)
	}
	r := []rune(s)
	for len(r) > 0 && lipgloss.Width(string(r)) > width {
		r = r[:len(r)-1]
	}
	return string(r) + strings.Repeat(" ", width-lipgloss.Width(string(r)))
}

func padOrTrunc(s string, width int) string {
	n := len(s)
	if n >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-n)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"scanwatch/internal/dashboard"
	"scanwatch/internal/favorites"
	"scanwatch/internal/filter"
	"scanwatch/internal/scan"
	"scanwatch/internal/store"
	"scanwatch/internal/viewmodel"
	"scanwatch/pkg/ttscanner"
)

// catalog is the part of the backend the source picker needs.
type catalog interface {
	Algos(ctx context.Context) ([]ttscanner.Algo, error)
	Groups(ctx context.Context, algoID int64) ([]ttscanner.Group, error)
	Intervals(ctx context.Context, algoID int64, group *ttscanner.Group) ([]ttscanner.Interval, error)
}

type mode int

const (
	modePicker mode = iota
	modeTable
	modeFilters
)

type pickStage int

const (
	stageAlgo pickStage = iota
	stageGroup
	stageInterval
)

const noticeTTL = 4 * time.Second

// Messages.
type (
	tickMsg    time.Time
	vmEventMsg viewmodel.Event
	algosMsg   struct {
		algos []ttscanner.Algo
		err   error
	}
	groupsMsg struct {
		groups []ttscanner.Group
		err    error
	}
	intervalsMsg struct {
		intervals []ttscanner.Interval
		err       error
	}
	selectedMsg struct{ err error }
	favoriteMsg struct {
		res favorites.Result
		err error
	}
	exportMsg struct {
		path string
		err  error
	}
)

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitEvent blocks for the next orchestrator event.
func waitEvent(ch <-chan viewmodel.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return vmEventMsg(ev)
	}
}

// Model.
type model struct {
	ctx       context.Context
	cancel    context.CancelFunc
	vm        *viewmodel.Orchestrator
	catalog   catalog
	events    <-chan viewmodel.Event
	subID     int
	exportDir string
	logger    *slog.Logger

	mode mode

	// Source picker.
	stage       pickStage
	algos       []ttscanner.Algo
	groups      []ttscanner.Group // index 0 is the ungrouped entry
	intervals   []ttscanner.Interval
	pickIdx     int
	pickAlgo    ttscanner.Algo
	pickGroup   *ttscanner.Group
	pickLoading bool
	pickErr     string

	// Table.
	view    viewmodel.View
	kind    dashboard.Kind
	headers []string
	rowIdx  int
	colIdx  int

	// Filter panel.
	fields   []dashboard.FilterField
	fieldIdx int
	optIdx   int
	editing  bool
	input    textinput.Model

	notice   *viewmodel.Notice
	noticeAt time.Time

	viewport      viewport.Model
	ready         bool
	width, height int
}

func initialModel(ctx context.Context, cancel context.CancelFunc, vm *viewmodel.Orchestrator, cat catalog, exportDir string, logger *slog.Logger) model {
	id, ch := vm.Subscribe(64)
	in := textinput.New()
	in.Placeholder = "min max (blank clears)"
	in.CharLimit = 64
	return model{
		ctx:         ctx,
		cancel:      cancel,
		vm:          vm,
		catalog:     cat,
		events:      ch,
		subID:       id,
		exportDir:   exportDir,
		logger:      logger,
		mode:        modePicker,
		pickLoading: true,
		input:       in,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), waitEvent(m.events), m.loadAlgos())
}

func (m model) loadAlgos() tea.Cmd {
	ctx, cat := m.ctx, m.catalog
	return func() tea.Msg {
		algos, err := cat.Algos(ctx)
		return algosMsg{algos: algos, err: err}
	}
}

func (m model) loadGroups(algoID int64) tea.Cmd {
	ctx, cat := m.ctx, m.catalog
	return func() tea.Msg {
		groups, err := cat.Groups(ctx, algoID)
		return groupsMsg{groups: groups, err: err}
	}
}

func (m model) loadIntervals(algoID int64, group *ttscanner.Group) tea.Cmd {
	ctx, cat := m.ctx, m.catalog
	return func() tea.Msg {
		intervals, err := cat.Intervals(ctx, algoID, group)
		return intervalsMsg{intervals: intervals, err: err}
	}
}

func (m model) selectSource(sel ttscanner.Selection) tea.Cmd {
	ctx, vm := m.ctx, m.vm
	return func() tea.Msg {
		return selectedMsg{err: vm.SelectSource(ctx, sel)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m.quit()
		}
		switch m.mode {
		case modePicker:
			return m.updatePicker(msg)
		case modeFilters:
			return m.updateFilters(msg)
		default:
			return m.updateTable(msg)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := m.height - 2 // header + footer
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.viewport.MouseWheelEnabled = true
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
		}
		m.refresh()
		return m, nil

	case tickMsg:
		if m.notice != nil && time.Since(m.noticeAt) > noticeTTL {
			m.notice = nil
		}
		return m, tickCmd()

	case vmEventMsg:
		switch msg.Type {
		case viewmodel.EventNotice:
			m.notice = msg.Notice
			m.noticeAt = time.Now()
		case viewmodel.EventView:
			m.refresh()
		}
		return m, waitEvent(m.events)

	case algosMsg:
		m.pickLoading = false
		if msg.err != nil {
			m.pickErr = "Failed to load algos: " + errText(msg.err)
			m.logger.Error("loading algos", "error", msg.err)
		} else {
			m.algos, m.pickErr = msg.algos, ""
		}
		m.refresh()
		return m, nil

	case groupsMsg:
		m.pickLoading = false
		if msg.err != nil {
			m.pickErr = "Failed to load groups: " + errText(msg.err)
			m.logger.Error("loading groups", "algo", m.pickAlgo.Name, "error", msg.err)
		} else {
			m.groups = append([]ttscanner.Group{{Name: ttscanner.NoGroup}}, msg.groups...)
			m.pickErr = ""
		}
		m.refresh()
		return m, nil

	case intervalsMsg:
		m.pickLoading = false
		if msg.err != nil {
			m.pickErr = "Failed to load intervals: " + errText(msg.err)
			m.logger.Error("loading intervals", "algo", m.pickAlgo.Name, "error", msg.err)
		} else {
			m.intervals, m.pickErr = msg.intervals, ""
		}
		m.refresh()
		return m, nil

	case selectedMsg:
		if msg.err != nil && !errors.Is(msg.err, viewmodel.ErrStale) {
			// The orchestrator already published a notice.
			m.logger.Warn("selecting source", "error", msg.err)
		}
		return m, nil

	case favoriteMsg:
		if msg.err != nil {
			m.logger.Warn("toggling favorite", "key", msg.res.Key, "error", msg.err)
		}
		return m, nil

	case exportMsg:
		if msg.err != nil {
			m.notice = &viewmodel.Notice{Level: viewmodel.LevelError, Text: "Export failed: " + msg.err.Error()}
		} else {
			m.notice = &viewmodel.Notice{Level: viewmodel.LevelSuccess, Text: "Exported " + msg.path}
		}
		m.noticeAt = time.Now()
		return m, nil
	}

	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m model) quit() (tea.Model, tea.Cmd) {
	m.vm.Unsubscribe(m.subID)
	m.cancel()
	return m, tea.Quit
}

func (m model) pickLen() int {
	switch m.stage {
	case stageGroup:
		return len(m.groups)
	case stageInterval:
		return len(m.intervals)
	default:
		return len(m.algos)
	}
}

func (m model) updatePicker(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m.quit()
	case "up", "k":
		if m.pickIdx > 0 {
			m.pickIdx--
		}
	case "down", "j":
		if m.pickIdx < m.pickLen()-1 {
			m.pickIdx++
		}
	case "esc", "backspace":
		switch {
		case m.stage > stageAlgo:
			m.stage--
			m.pickIdx = 0
			m.pickErr = ""
		case m.view.Source != "":
			m.mode = modeTable
		}
	case "r":
		m.pickLoading = true
		m.pickErr = ""
		switch m.stage {
		case stageGroup:
			return m, m.loadGroups(m.pickAlgo.ID)
		case stageInterval:
			return m, m.loadIntervals(m.pickAlgo.ID, m.pickGroup)
		default:
			return m, m.loadAlgos()
		}
	case "enter":
		if m.pickLoading || m.pickIdx >= m.pickLen() {
			return m, nil
		}
		switch m.stage {
		case stageAlgo:
			m.pickAlgo = m.algos[m.pickIdx]
			m.stage, m.pickIdx, m.pickLoading = stageGroup, 0, true
			m.groups = nil
			m.refresh()
			return m, m.loadGroups(m.pickAlgo.ID)
		case stageGroup:
			m.pickGroup = nil
			if m.pickIdx > 0 {
				g := m.groups[m.pickIdx]
				m.pickGroup = &g
			}
			m.stage, m.pickIdx, m.pickLoading = stageInterval, 0, true
			m.intervals = nil
			m.refresh()
			return m, m.loadIntervals(m.pickAlgo.ID, m.pickGroup)
		case stageInterval:
			sel := ttscanner.Selection{Algo: m.pickAlgo, Group: m.pickGroup, Interval: m.intervals[m.pickIdx]}
			m.mode = modeTable
			m.stage, m.pickIdx = stageAlgo, 0
			m.rowIdx, m.colIdx = 0, 0
			m.refresh()
			return m, m.selectSource(sel)
		}
	}
	m.refresh()
	return m, nil
}

func (m model) updateTable(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m.quit()
	case "up", "k":
		if m.rowIdx > 0 {
			m.rowIdx--
		}
	case "down", "j":
		if m.rowIdx < len(m.view.Rows)-1 {
			m.rowIdx++
		}
	case "pgup":
		m.rowIdx = max(0, m.rowIdx-m.viewport.Height)
	case "pgdown":
		m.rowIdx = max(0, min(len(m.view.Rows)-1, m.rowIdx+m.viewport.Height))
	case "home", "g":
		m.rowIdx = 0
	case "end", "G":
		m.rowIdx = max(0, len(m.view.Rows)-1)
	case "left", "h":
		if m.colIdx > 0 {
			m.colIdx--
		}
	case "right", "l":
		if m.colIdx < len(m.headers)-1 {
			m.colIdx++
		}
	case "s":
		if m.colIdx < len(m.headers) {
			m.vm.ToggleSort(m.headers[m.colIdx])
		}
		return m, nil
	case "enter", " ":
		if m.rowIdx < len(m.view.Rows) {
			row := m.view.Rows[m.rowIdx]
			ctx, vm := m.ctx, m.vm
			return m, func() tea.Msg {
				res, err := vm.ToggleFavorite(ctx, row)
				return favoriteMsg{res: res, err: err}
			}
		}
	case "f":
		m.mode = modeFilters
		m.fieldIdx, m.optIdx = 0, 0
	case "c":
		m.vm.ClearAll()
		return m, nil
	case "1", "2":
		pos := int(msg.String()[0] - '1')
		m.vm.SetTarget(pos, nextFlag(m.view.Targets[pos]))
		return m, nil
	case "e":
		return m, m.export()
	case "o":
		m.mode = modePicker
		m.stage, m.pickIdx = stageAlgo, 0
		if len(m.algos) == 0 {
			m.pickLoading = true
			m.refresh()
			return m, m.loadAlgos()
		}
	}
	m.refresh()
	m.ensureVisible()
	return m, nil
}

func (m model) updateFilters(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.editing {
		switch msg.String() {
		case "enter":
			lo, hi := splitBounds(m.input.Value())
			if err := m.vm.SetFilterBounds(m.fields[m.fieldIdx].Column, lo, hi); err != nil {
				m.notice = &viewmodel.Notice{Level: viewmodel.LevelError, Text: err.Error()}
				m.noticeAt = time.Now()
			}
			m.editing = false
			m.input.Blur()
		case "esc":
			m.editing = false
			m.input.Blur()
		default:
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			m.refresh()
			return m, cmd
		}
		m.refresh()
		return m, nil
	}

	if len(m.fields) == 0 {
		if msg.String() == "esc" || msg.String() == "f" {
			m.mode = modeTable
		}
		m.refresh()
		return m, nil
	}
	field := m.fields[m.fieldIdx]

	switch msg.String() {
	case "q":
		return m.quit()
	case "esc", "f":
		m.mode = modeTable
	case "up", "k":
		if m.fieldIdx > 0 {
			m.fieldIdx--
			m.optIdx = 0
		}
	case "down", "j":
		if m.fieldIdx < len(m.fields)-1 {
			m.fieldIdx++
			m.optIdx = 0
		}
	case "left", "h":
		if m.optIdx > 0 {
			m.optIdx--
		}
	case "right", "l":
		if m.optIdx < len(field.Options)-1 {
			m.optIdx++
		}
	case " ":
		switch {
		case field.Target >= 0:
			m.vm.SetTarget(field.Target, nextFlag(m.view.Targets[field.Target]))
		case field.Kind == filter.KindString && m.optIdx < len(field.Options):
			m.vm.ToggleFilterValue(field.Column, field.Options[m.optIdx])
		}
		return m, nil
	case "enter":
		if field.Kind == filter.KindNumber {
			m.editing = true
			m.input.SetValue(boundsText(m.view.Filters, field.Column))
			m.input.CursorEnd()
			m.refresh()
			return m, m.input.Focus()
		}
	case "x", "delete":
		if field.Target >= 0 {
			m.vm.SetTarget(field.Target, filter.Unconstrained)
		} else {
			m.vm.ClearFilter(field.Column)
		}
		return m, nil
	case "c":
		m.vm.ClearAll()
		return m, nil
	}
	m.refresh()
	return m, nil
}

func (m model) export() tea.Cmd {
	v := m.view
	dir := m.exportDir
	return func() tea.Msg {
		if v.Source == "" {
			return exportMsg{err: viewmodel.ErrNoSource}
		}
		cols := dashboard.Headers(v.Columns, v.VisibleColumns, dashboard.KindUnknown)
		name := fmt.Sprintf("scan-%s-v%d-%s.parquet", v.Source, v.Version, time.Now().Format("20060102-150405"))
		path := filepath.Join(dir, name)
		return exportMsg{path: path, err: store.ExportFile(path, cols, v.Rows)}
	}
}

// refresh re-reads the view and re-renders the viewport content.
func (m *model) refresh() {
	m.view = m.vm.View()
	m.kind = dashboard.DetectKind(m.view.Name)
	m.headers = dashboard.Headers(m.view.Columns, m.view.VisibleColumns, m.kind)
	m.fields = dashboard.FilterFields(m.kind)
	if m.rowIdx >= len(m.view.Rows) {
		m.rowIdx = max(0, len(m.view.Rows)-1)
	}
	if m.colIdx >= len(m.headers) {
		m.colIdx = max(0, len(m.headers)-1)
	}
	if m.fieldIdx >= len(m.fields) {
		m.fieldIdx = max(0, len(m.fields)-1)
	}
	if m.ready {
		m.viewport.SetContent(m.renderContent())
	}
}

// ensureVisible scrolls the viewport so the selected row is visible. Line 0
// is the column header.
func (m *model) ensureVisible() {
	if m.mode != modeTable || len(m.view.Rows) == 0 {
		return
	}
	line := m.rowIdx + 1
	yOff := m.viewport.YOffset
	vpH := m.viewport.Height
	if line < yOff+1 {
		m.viewport.SetYOffset(max(0, line-1))
	} else if line >= yOff+vpH {
		m.viewport.SetYOffset(line - vpH + 1)
	}
}

func nextFlag(f filter.TargetFlag) filter.TargetFlag {
	switch f {
	case filter.Unconstrained:
		return filter.Hit
	case filter.Hit:
		return filter.NotHit
	default:
		return filter.Unconstrained
	}
}

// splitBounds reads "lo hi", "lo,hi" or "lo..hi". A lone value is the lower
// bound unless it follows a separator.
func splitBounds(s string) (lo, hi string) {
	s = strings.TrimRight(s, " ")
	upperOnly := strings.HasPrefix(s, " ") || strings.HasPrefix(s, ",") || strings.HasPrefix(s, "..")
	s = strings.ReplaceAll(s, "..", " ")
	s = strings.ReplaceAll(s, ",", " ")
	parts := strings.Fields(s)
	switch {
	case len(parts) == 0:
		return "", ""
	case len(parts) == 1 && upperOnly:
		return "", parts[0]
	case len(parts) == 1:
		return parts[0], ""
	default:
		return parts[0], parts[1]
	}
}

func boundsText(spec filter.Spec, col string) string {
	c, ok := spec.Get(col)
	if !ok {
		return ""
	}
	r, ok := c.(filter.NumberRange)
	if !ok {
		return ""
	}
	var lo, hi string
	if r.Min != nil {
		lo = scan.Num(*r.Min).Text()
	}
	if r.Max != nil {
		hi = scan.Num(*r.Max).Text()
	}
	if hi == "" {
		return lo
	}
	if lo == "" {
		return ".." + hi
	}
	return lo + " " + hi
}

func errText(err error) string {
	var apiErr *ttscanner.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message()
	}
	return err.Error()
}

package viewmodel

import (
	"slices"

	"scanwatch/internal/favorites"
	"scanwatch/internal/filter"
	"scanwatch/internal/live"
	"scanwatch/internal/scan"
	"scanwatch/internal/tablesort"
	"scanwatch/pkg/ttscanner"
)

// View is a snapshot of the orchestrator state. Its slices and maps are
// shared with the orchestrator and must be treated as read-only.
type View struct {
	Revision  uint64
	Selection *ttscanner.Selection
	Name      string
	Loading   bool
	Channel   live.State

	Source        scan.SourceID
	Version       int64
	Columns       []string
	TargetColumns []string
	// Rows is sort(filter(all rows)).
	Rows  []scan.Row
	Total int

	Filters        filter.Spec
	Targets        filter.TargetState
	Sort           tablesort.State
	VisibleColumns []string
	Favorites      map[string]favorites.Slot
	// Updated holds hashes of rows that changed with the latest snapshot.
	Updated map[string]bool
}

// ActiveFilters is the filter badge count.
func (v View) ActiveFilters() int { return filter.ActiveCount(v.Filters, v.Targets) }

// IsFavorite reports whether row is shown as favorited.
func (v View) IsFavorite(row scan.Row) bool {
	key, err := row.SymbolInterval()
	if err != nil {
		return false
	}
	_, ok := v.Favorites[key]
	return ok
}

// View returns the current snapshot. The derived rows are recomputed only
// when the row set, filters, target flags or sort changed since the last
// call.
func (o *Orchestrator) View() View {
	o.mu.Lock()
	if o.cacheRev != o.dataRev {
		o.cache = tablesort.Sort(filter.Apply(o.rows.Rows, o.filters, o.targets, o.targetCols), o.sort)
		o.cacheRev = o.dataRev
	}
	v := View{
		Revision:       o.rev.Load(),
		Selection:      o.selection,
		Name:           o.name,
		Loading:        o.loading,
		Channel:        o.chanState,
		Source:         o.rows.Source,
		Version:        o.rows.Version,
		Columns:        o.rows.Columns(),
		TargetColumns:  o.targetCols,
		Rows:           o.cache,
		Total:          len(o.rows.Rows),
		Filters:        o.filters,
		Targets:        o.targets,
		Sort:           o.sort,
		VisibleColumns: slices.Clone(o.visible),
		Updated:        o.updated,
	}
	favs := o.favs
	o.mu.Unlock()

	if favs != nil {
		v.Favorites = favs.Snapshot()
	} else {
		v.Favorites = map[string]favorites.Slot{}
	}
	return v
}

// Package httpapi serves the scan view model over HTTP for browser
// front-ends: JSON snapshots of the derived view, commands that mutate user
// state, and a server-sent event stream of view revisions.
package httpapi

import (
	"scanwatch/internal/dashboard"
	"scanwatch/internal/filter"
	"scanwatch/internal/scan"
	"scanwatch/internal/tablesort"
	"scanwatch/pkg/ttscanner"
)

// RowJSON is one rendered row of the derived view.
type RowJSON struct {
	Hash     string                    `json:"hash,omitempty"`
	Key      string                    `json:"key,omitempty"`
	Favorite bool                      `json:"favorite"`
	Pending  bool                      `json:"pending,omitempty"`
	Updated  bool                      `json:"updated,omitempty"`
	Values   scan.Row                  `json:"values"`
	Cells    map[string]dashboard.Cell `json:"cells"`
}

// ViewResponse is the JSON form of the current view.
type ViewResponse struct {
	Revision  uint64               `json:"revision"`
	Selection *ttscanner.Selection `json:"selection,omitempty"`
	Name      string               `json:"name"`
	Kind      dashboard.Kind       `json:"kind,omitempty"`
	Loading   bool                 `json:"loading"`
	Channel   string               `json:"channel"`

	Source        scan.SourceID `json:"source,omitempty"`
	Version       int64         `json:"version"`
	Columns       []string      `json:"columns"`
	Headers       []string      `json:"headers"`
	TargetColumns []string      `json:"targetColumns"`
	Rows          []RowJSON     `json:"rows"`
	Shown         int           `json:"shown"`
	Total         int           `json:"total"`

	Filters        []filter.Entry          `json:"filters"`
	Targets        [2]string               `json:"targets"`
	Sort           tablesort.State         `json:"sort"`
	VisibleColumns []string                `json:"visibleColumns"`
	ActiveFilters  int                     `json:"activeFilters"`
	FilterFields   []dashboard.FilterField `json:"filterFields"`
}

// SourceRequest selects a file association.
type SourceRequest struct {
	Algo     ttscanner.Algo     `json:"algo"`
	Group    *ttscanner.Group   `json:"group,omitempty"`
	Interval ttscanner.Interval `json:"interval"`
}

// BoundsRequest sets numeric bounds from user-entered text.
type BoundsRequest struct {
	Min string `json:"min"`
	Max string `json:"max"`
}

// TargetRequest sets a target-hit flag: "hit", "not-hit" or "unconstrained".
type TargetRequest struct {
	Flag string `json:"flag"`
}

// SortRequest sets the sort. An empty direction toggles the column the way
// a header click does.
type SortRequest struct {
	Column    string              `json:"column"`
	Direction tablesort.Direction `json:"direction,omitempty"`
}

// ColumnsRequest sets the visible columns.
type ColumnsRequest struct {
	Columns []string `json:"columns"`
}

// FavoriteRequest toggles a favorite by key or by row hash.
type FavoriteRequest struct {
	Key     string `json:"key,omitempty"`
	RowHash string `json:"rowHash,omitempty"`
}

// FavoriteResponse reports how a toggle settled.
type FavoriteResponse struct {
	Key     string `json:"key"`
	Outcome string `json:"outcome"`
	ID      int64  `json:"id,omitempty"`
}

// FavoriteBatchJSON is one source's favorites.
type FavoriteBatchJSON struct {
	Source  scan.SourceID `json:"source"`
	Name    string        `json:"name"`
	Headers []string      `json:"headers"`
	Rows    []scan.Row    `json:"rows"`
}

// StringsResponse wraps a list of strings.
type StringsResponse struct {
	Values []string `json:"values"`
}

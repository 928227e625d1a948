package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"scanwatch/internal/dashboard"
	"scanwatch/internal/favorites"
	"scanwatch/internal/filter"
	"scanwatch/internal/scan"
	"scanwatch/internal/store"
	"scanwatch/internal/tablesort"
	"scanwatch/internal/viewmodel"
	"scanwatch/pkg/ttscanner"
)

// buildView renders the orchestrator view into its JSON form.
func buildView(v viewmodel.View) ViewResponse {
	kind := dashboard.DetectKind(v.Name)
	headers := dashboard.Headers(v.Columns, v.VisibleColumns, kind)

	resp := ViewResponse{
		Revision:       v.Revision,
		Selection:      v.Selection,
		Name:           v.Name,
		Kind:           kind,
		Loading:        v.Loading,
		Channel:        v.Channel.String(),
		Source:         v.Source,
		Version:        v.Version,
		Columns:        nonNil(v.Columns),
		Headers:        nonNil(headers),
		TargetColumns:  nonNil(v.TargetColumns),
		Rows:           make([]RowJSON, 0, len(v.Rows)),
		Shown:          len(v.Rows),
		Total:          v.Total,
		Filters:        v.Filters.Entries(),
		Targets:        [2]string{v.Targets[0].String(), v.Targets[1].String()},
		Sort:           v.Sort,
		VisibleColumns: nonNil(v.VisibleColumns),
		ActiveFilters:  v.ActiveFilters(),
		FilterFields:   dashboard.FilterFields(kind),
	}
	for _, row := range v.Rows {
		rj := RowJSON{
			Hash:    row.Hash(),
			Values:  row,
			Updated: v.Updated[row.Hash()],
			Cells:   make(map[string]dashboard.Cell, len(headers)),
		}
		if key, err := row.SymbolInterval(); err == nil {
			rj.Key = key
			if slot, ok := v.Favorites[key]; ok {
				rj.Favorite = true
				rj.Pending = slot.Phase == favorites.Pending
			}
		}
		for _, h := range headers {
			rj.Cells[h] = dashboard.RenderCell(row, h, kind)
		}
		resp.Rows = append(resp.Rows, rj)
	}
	return resp
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (s *DashboardServer) handleView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildView(s.vm.View()))
}

func (s *DashboardServer) handleAlgos(w http.ResponseWriter, r *http.Request) {
	algos, err := s.catalog.Algos(r.Context())
	if err != nil {
		s.writeBackendError(w, "loading algos", err)
		return
	}
	writeJSON(w, algos)
}

func (s *DashboardServer) handleGroups(w http.ResponseWriter, r *http.Request) {
	algoID, err := strconv.ParseInt(r.PathValue("algo"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid algo id")
		return
	}
	groups, err := s.catalog.Groups(r.Context(), algoID)
	if err != nil {
		s.writeBackendError(w, "loading groups", err)
		return
	}
	writeJSON(w, groups)
}

func (s *DashboardServer) handleIntervals(w http.ResponseWriter, r *http.Request) {
	algoID, err := strconv.ParseInt(r.PathValue("algo"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid algo id")
		return
	}
	var group *ttscanner.Group
	if g := r.PathValue("group"); g != "none" {
		gid, err := strconv.ParseInt(g, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid group id")
			return
		}
		group = &ttscanner.Group{ID: gid}
	}
	intervals, err := s.catalog.Intervals(r.Context(), algoID, group)
	if err != nil {
		s.writeBackendError(w, "loading intervals", err)
		return
	}
	writeJSON(w, intervals)
}

func (s *DashboardServer) handleSelectSource(w http.ResponseWriter, r *http.Request) {
	var req SourceRequest
	if !readJSON(w, r, &req) {
		return
	}
	sel := ttscanner.Selection{Algo: req.Algo, Group: req.Group, Interval: req.Interval}
	err := s.vm.SelectSource(r.Context(), sel)
	switch {
	case errors.Is(err, viewmodel.ErrStale):
		writeError(w, http.StatusConflict, "superseded by a newer selection")
		return
	case err != nil:
		s.writeBackendError(w, "Failed to load "+sel.DisplayName(), err)
		return
	}
	writeJSON(w, buildView(s.vm.View()))
}

func (s *DashboardServer) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	var e filter.Entry
	if !readJSON(w, r, &e) {
		return
	}
	e.Column = r.PathValue("column")
	c, err := e.Constraint()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.vm.SetFilter(e.Column, c)
	w.WriteHeader(http.StatusNoContent)
}

func (s *DashboardServer) handleSetBounds(w http.ResponseWriter, r *http.Request) {
	var req BoundsRequest
	if !readJSON(w, r, &req) {
		return
	}
	col := r.PathValue("column")
	if err := s.vm.SetFilterBounds(col, req.Min, req.Max); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid number for %s", col))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *DashboardServer) handleToggleValue(w http.ResponseWriter, r *http.Request) {
	s.vm.ToggleFilterValue(r.PathValue("column"), r.PathValue("value"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *DashboardServer) handleClearFilter(w http.ResponseWriter, r *http.Request) {
	s.vm.ClearFilter(r.PathValue("column"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *DashboardServer) handleClearAll(w http.ResponseWriter, r *http.Request) {
	s.vm.ClearAll()
	w.WriteHeader(http.StatusNoContent)
}

func (s *DashboardServer) handleSetTarget(w http.ResponseWriter, r *http.Request) {
	pos, err := strconv.Atoi(r.PathValue("pos"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid target position")
		return
	}
	var req TargetRequest
	if !readJSON(w, r, &req) {
		return
	}
	flag, err := filter.ParseTargetFlag(req.Flag)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.vm.SetTarget(pos, flag); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *DashboardServer) handleSetSort(w http.ResponseWriter, r *http.Request) {
	var req SortRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Column == "" {
		writeError(w, http.StatusBadRequest, "column is required")
		return
	}
	if req.Direction == "" {
		s.vm.ToggleSort(req.Column)
	} else {
		dir, err := tablesort.ParseDirection(string(req.Direction))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.vm.SetSort(tablesort.State{Column: req.Column, Direction: dir})
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *DashboardServer) handleClearSort(w http.ResponseWriter, r *http.Request) {
	s.vm.SetSort(tablesort.State{})
	w.WriteHeader(http.StatusNoContent)
}

func (s *DashboardServer) handleSetColumns(w http.ResponseWriter, r *http.Request) {
	var req ColumnsRequest
	if !readJSON(w, r, &req) {
		return
	}
	s.vm.SetVisibleColumns(req.Columns)
	w.WriteHeader(http.StatusNoContent)
}

func (s *DashboardServer) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	var req FavoriteRequest
	if !readJSON(w, r, &req) {
		return
	}
	var (
		res favorites.Result
		err error
	)
	switch {
	case req.Key != "":
		res, err = s.vm.ToggleFavoriteKey(r.Context(), req.Key)
	case req.RowHash != "":
		row, ok := findRow(s.vm.View().Rows, req.RowHash)
		if !ok {
			writeError(w, http.StatusNotFound, "row not found")
			return
		}
		res, err = s.vm.ToggleFavorite(r.Context(), row)
	default:
		writeError(w, http.StatusBadRequest, "key or rowHash is required")
		return
	}

	var rejected *favorites.RejectedError
	switch {
	case errors.Is(err, scan.ErrMissingKey):
		writeError(w, http.StatusBadRequest, "Cannot favorite: Sym/Int missing")
	case errors.Is(err, viewmodel.ErrNoSource):
		writeError(w, http.StatusConflict, "no source loaded")
	case errors.As(err, &rejected):
		writeError(w, http.StatusBadGateway, "Server error: Action failed!")
	case err != nil:
		s.writeBackendError(w, "toggling favorite", err)
	default:
		writeJSON(w, FavoriteResponse{Key: res.Key, Outcome: res.Outcome.String(), ID: res.ID})
	}
}

func findRow(rows []scan.Row, hash string) (scan.Row, bool) {
	for _, r := range rows {
		if r.Hash() == hash {
			return r, true
		}
	}
	return scan.Row{}, false
}

func (s *DashboardServer) handleFavorites(w http.ResponseWriter, r *http.Request) {
	batches, err := s.catalog.FavoriteBatches(r.Context())
	if err != nil {
		s.writeBackendError(w, "loading favorites", err)
		return
	}
	out := make([]FavoriteBatchJSON, 0, len(batches))
	for _, b := range batches {
		fb := FavoriteBatchJSON{Source: b.Source, Name: b.Name, Headers: nonNil(b.Headers), Rows: make([]scan.Row, 0, len(b.Rows))}
		for _, fr := range b.Rows {
			fb.Rows = append(fb.Rows, fr.Row)
		}
		out = append(out, fb)
	}
	writeJSON(w, out)
}

// sourceParam returns the "source" query parameter, defaulting to the
// currently loaded source.
func (s *DashboardServer) sourceParam(r *http.Request) scan.SourceID {
	if q := r.URL.Query().Get("source"); q != "" {
		return scan.SourceID(q)
	}
	return s.vm.View().Source
}

func (s *DashboardServer) handleHeaders(w http.ResponseWriter, r *http.Request) {
	src := s.sourceParam(r)
	if src == "" {
		writeError(w, http.StatusConflict, "no source loaded")
		return
	}
	headers, err := s.catalog.CSVHeaders(r.Context(), src)
	if err != nil {
		s.writeBackendError(w, "loading headers", err)
		return
	}
	writeJSON(w, StringsResponse{Values: nonNil(headers)})
}

func (s *DashboardServer) handleSymbolIntervals(w http.ResponseWriter, r *http.Request) {
	src := s.sourceParam(r)
	if src == "" {
		writeError(w, http.StatusConflict, "no source loaded")
		return
	}
	vals, err := s.catalog.SymbolIntervals(r.Context(), src)
	if err != nil {
		s.writeBackendError(w, "loading symbol intervals", err)
		return
	}
	writeJSON(w, StringsResponse{Values: nonNil(vals)})
}

func (s *DashboardServer) handleExport(w http.ResponseWriter, r *http.Request) {
	v := s.vm.View()
	if v.Source == "" {
		writeError(w, http.StatusConflict, "no source loaded")
		return
	}
	cols := dashboard.Headers(v.Columns, v.VisibleColumns, dashboard.KindUnknown)
	if len(cols) == 0 {
		writeError(w, http.StatusConflict, "no columns to export")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apache.parquet")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("scan-%s-v%d.parquet", v.Source, v.Version)))
	if err := store.WriteParquet(w, cols, v.Rows); err != nil {
		s.log.Error("exporting parquet", "source", v.Source, "error", err)
	}
}

func (s *DashboardServer) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeJSON(w, []store.SnapshotInfo{})
		return
	}
	src := s.sourceParam(r)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	infos, err := s.archive.Snapshots(r.Context(), src, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}
	if infos == nil {
		infos = []store.SnapshotInfo{}
	}
	writeJSON(w, infos)
}

func (s *DashboardServer) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	if s.watchlist == nil {
		writeJSON(w, StringsResponse{Values: []string{}})
		return
	}
	syms, err := s.watchlist.Symbols(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get watchlist")
		return
	}
	writeJSON(w, StringsResponse{Values: nonNil(syms)})
}

// writeBackendError maps backend failures onto HTTP statuses and the
// normalised backend message.
func (s *DashboardServer) writeBackendError(w http.ResponseWriter, what string, err error) {
	var apiErr *ttscanner.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.Status
		if status == 0 || status >= 500 {
			status = http.StatusBadGateway
		}
		s.log.Warn(what, "status", apiErr.Status, "error", err)
		writeError(w, status, what+": "+apiErr.Message())
		return
	}
	s.log.Warn(what, "error", err)
	writeError(w, http.StatusBadGateway, what+": "+err.Error())
}

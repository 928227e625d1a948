package viewmodel

import (
	"context"
	"errors"
	"fmt"

	"scanwatch/internal/favorites"
	"scanwatch/internal/filter"
	"scanwatch/internal/live"
	"scanwatch/internal/scan"
	"scanwatch/internal/tablesort"
	"scanwatch/pkg/ttscanner"
)

// SelectSource switches to sel. Filters, target flags, sort and visible
// columns reset immediately; the previous live channel is closed before the
// new row set is fetched. If another selection starts before the fetch
// completes, the result is discarded and ErrStale returned.
func (o *Orchestrator) SelectSource(ctx context.Context, sel ttscanner.Selection) error {
	o.mu.Lock()
	o.epoch++
	ep := o.epoch
	o.selection = &sel
	o.name = sel.DisplayName()
	o.loading = true
	o.rows = scan.RowSet{}
	o.targetCols = nil
	o.filters = filter.Spec{}
	o.targets = filter.TargetState{}
	o.sort = tablesort.State{}
	o.visible = nil
	o.favs = nil
	o.updated = nil
	o.chanState = live.Closed
	o.touchData()
	o.mu.Unlock()
	o.changed()

	o.chanMu.Lock()
	if o.channel != nil {
		o.channel.Close()
	}
	o.chanMu.Unlock()

	o.log.Info("selecting source", "name", sel.DisplayName())
	rs, err := o.backend.LoadRowSet(ctx, sel)

	o.mu.Lock()
	if o.epoch != ep {
		o.mu.Unlock()
		o.log.Debug("discarding superseded row set", "name", sel.DisplayName())
		return ErrStale
	}
	o.loading = false
	if err != nil {
		o.mu.Unlock()
		o.changed()
		o.log.Error("loading row set", "name", sel.DisplayName(), "error", err)
		o.notice(LevelError, "Failed to load "+sel.DisplayName()+": "+errorText(err), err)
		return fmt.Errorf("loading %s: %w", sel.DisplayName(), err)
	}
	o.rows = rs
	o.targetCols = scan.TargetColumns(rs.Columns())
	o.favs = favorites.New(rs.Source, o.backend, o.log, o.changed)
	o.touchData()
	o.mu.Unlock()
	o.changed()

	o.log.Info("row set loaded", "source", rs.Source, "version", rs.Version, "rows", len(rs.Rows))
	o.record(rs)
	o.openChannel(ep, rs.Source)

	if err := o.Hydrate(ctx); err != nil && !errors.Is(err, ErrStale) {
		o.log.Warn("hydrating favorites", "source", rs.Source, "error", err)
	}
	return nil
}

func (o *Orchestrator) openChannel(ep uint64, source scan.SourceID) {
	if o.channel == nil {
		return
	}
	o.chanMu.Lock()
	defer o.chanMu.Unlock()
	o.mu.Lock()
	current := o.epoch == ep
	o.mu.Unlock()
	if current {
		o.channel.Open(o.life, source)
	}
}

// ApplySnapshot installs rs when it belongs to the current source and its
// version is strictly greater than the held one. Row data and version are
// replaced together. It implements live.Sink.
func (o *Orchestrator) ApplySnapshot(rs scan.RowSet) bool {
	o.mu.Lock()
	if o.loading || o.rows.Source == "" || rs.Source != o.rows.Source {
		o.mu.Unlock()
		o.log.Debug("discarding snapshot for inactive source", "source", rs.Source)
		return false
	}
	if rs.Version <= o.rows.Version {
		held := o.rows.Version
		o.mu.Unlock()
		o.log.Debug("discarding stale snapshot", "source", rs.Source, "version", rs.Version, "held", held)
		return false
	}
	o.updated = changedHashes(o.rows.Rows, rs.Rows)
	o.rows = rs
	o.targetCols = scan.TargetColumns(rs.Columns())
	o.touchData()
	o.mu.Unlock()
	o.changed()

	o.log.Debug("snapshot applied", "source", rs.Source, "version", rs.Version, "rows", len(rs.Rows))
	o.record(rs)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.Hydrate(o.life); err != nil && !errors.Is(err, ErrStale) && !errors.Is(err, context.Canceled) {
			o.log.Warn("re-hydrating favorites", "source", rs.Source, "error", err)
		}
	}()
	return true
}

// changedHashes returns the hashes of rows in next that were not present in
// prev. Row hashes are content hashes, so an edited row shows up as new.
func changedHashes(prev, next []scan.Row) map[string]bool {
	old := make(map[string]bool, len(prev))
	for _, r := range prev {
		if h := r.Hash(); h != "" {
			old[h] = true
		}
	}
	out := make(map[string]bool)
	for _, r := range next {
		if h := r.Hash(); h != "" && !old[h] {
			out[h] = true
		}
	}
	return out
}

// Hydrate fetches the user's favorites and keys them against the current
// rows. If the row set is replaced while the fetch is in flight the result
// is discarded with ErrStale; the replacement triggers its own hydration.
// Keys toggled or settled during the fetch keep their local state.
func (o *Orchestrator) Hydrate(ctx context.Context) error {
	o.mu.Lock()
	ep, ver, src, favs := o.epoch, o.rows.Version, o.rows.Source, o.favs
	o.mu.Unlock()
	if favs == nil {
		return ErrNoSource
	}
	gen := favs.Generation()

	recs, err := o.backend.FavoriteRecords(ctx)
	if err != nil {
		return fmt.Errorf("fetching favorites: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.epoch != ep || o.rows.Version != ver || o.rows.Source != src || o.favs != favs {
		return ErrStale
	}
	ids := favorites.Hydrate(recs, o.rows.Rows)
	favs.ReplaceSince(ids, gen)
	o.log.Debug("favorites hydrated", "source", src, "version", ver, "favorites", len(ids))
	return nil
}

// SetChannelState records the live channel state for source. Transitions
// for sources other than the current one are ignored.
func (o *Orchestrator) SetChannelState(source scan.SourceID, s live.State) {
	o.mu.Lock()
	if source != o.rows.Source || o.chanState == s {
		o.mu.Unlock()
		return
	}
	o.chanState = s
	o.mu.Unlock()
	o.changed()
}

func (o *Orchestrator) record(rs scan.RowSet) {
	if o.recorder == nil {
		return
	}
	o.mu.Lock()
	name := o.name
	o.mu.Unlock()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.recorder.RecordSnapshot(o.life, name, rs); err != nil {
			o.log.Warn("archiving snapshot", "source", rs.Source, "version", rs.Version, "error", err)
		}
	}()
}

func errorText(err error) string {
	var apiErr *ttscanner.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message()
	}
	return err.Error()
}

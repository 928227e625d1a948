package viewmodel

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"scanwatch/internal/favorites"
	"scanwatch/internal/filter"
	"scanwatch/internal/scan"
	"scanwatch/internal/tablesort"
)

// update applies fn to the state under the lock and notifies observers when
// fn reports a change.
func (o *Orchestrator) update(fn func() bool) {
	o.mu.Lock()
	ok := fn()
	if ok {
		o.touchData()
	}
	o.mu.Unlock()
	if ok {
		o.changed()
	}
}

// SetFilter replaces the constraint on col. A nil or inactive constraint
// removes the column's filter.
func (o *Orchestrator) SetFilter(col string, c filter.Constraint) {
	o.update(func() bool {
		o.filters = o.filters.With(col, c)
		return true
	})
}

// ToggleFilterValue flips v in the string filter on col.
func (o *Orchestrator) ToggleFilterValue(col, v string) {
	o.update(func() bool {
		o.filters = o.filters.ToggleValue(col, v)
		return true
	})
}

// SetFilterBounds parses user-entered numeric bounds for col. Blank input
// clears that bound. A malformed bound is rejected with a notice and leaves
// the filters untouched.
func (o *Orchestrator) SetFilterBounds(col, lo, hi string) error {
	lower, errLo := filter.ParseBound(lo)
	upper, errHi := filter.ParseBound(hi)
	if err := errors.Join(errLo, errHi); err != nil {
		o.notice(LevelError, fmt.Sprintf("Invalid number for %s", col), err)
		return err
	}
	o.update(func() bool {
		o.filters = o.filters.With(col, filter.NumberRange{Min: lower, Max: upper})
		return true
	})
	return nil
}

// SetBoolFilter sets or clears (nil) the boolean filter on col.
func (o *Orchestrator) SetBoolFilter(col string, v *bool) {
	o.update(func() bool {
		o.filters = o.filters.SetBool(col, v)
		return true
	})
}

// ClearFilter removes the filter on col.
func (o *Orchestrator) ClearFilter(col string) {
	o.update(func() bool {
		if _, ok := o.filters.Get(col); !ok {
			return false
		}
		o.filters = o.filters.Without(col)
		return true
	})
}

// ClearAll resets filters, target flags and visible columns.
func (o *Orchestrator) ClearAll() {
	o.update(func() bool {
		o.filters = filter.Spec{}
		o.targets = filter.TargetState{}
		o.visible = nil
		return true
	})
}

// SetTarget sets the flag for target position pos (0 or 1).
func (o *Orchestrator) SetTarget(pos int, flag filter.TargetFlag) error {
	if pos < 0 || pos > 1 {
		return fmt.Errorf("viewmodel: target position %d out of range", pos)
	}
	o.update(func() bool {
		if o.targets[pos] == flag {
			return false
		}
		o.targets[pos] = flag
		return true
	})
	return nil
}

// ToggleSort applies a header click on col.
func (o *Orchestrator) ToggleSort(col string) {
	o.update(func() bool {
		o.sort = o.sort.Toggle(col)
		return true
	})
}

// SetSort replaces the sort state. The zero State clears sorting.
func (o *Orchestrator) SetSort(s tablesort.State) {
	if !s.IsZero() && s.Direction == "" {
		s.Direction = tablesort.Ascending
	}
	o.update(func() bool {
		if o.sort == s {
			return false
		}
		o.sort = s
		return true
	})
}

// SetVisibleColumns limits rendered columns. Empty shows every data column.
// Names are matched after key normalisation.
func (o *Orchestrator) SetVisibleColumns(cols []string) {
	norm := make([]string, 0, len(cols))
	for _, c := range cols {
		if n := scan.NormalizeKey(c); n != "" && !slices.Contains(norm, n) {
			norm = append(norm, n)
		}
	}
	o.mu.Lock()
	o.visible = norm
	o.mu.Unlock()
	o.changed()
}

// ToggleFavorite flips the favorite state of row. A row without a
// symbol/interval value is rejected before any state changes.
func (o *Orchestrator) ToggleFavorite(ctx context.Context, row scan.Row) (favorites.Result, error) {
	key, err := row.SymbolInterval()
	if err != nil {
		o.notice(LevelError, "Cannot favorite: Sym/Int missing", err)
		return favorites.Result{}, err
	}
	return o.ToggleFavoriteKey(ctx, key)
}

// ToggleFavoriteKey is ToggleFavorite for an already derived key.
func (o *Orchestrator) ToggleFavoriteKey(ctx context.Context, key string) (favorites.Result, error) {
	o.mu.Lock()
	favs, ep := o.favs, o.epoch
	o.mu.Unlock()
	if favs == nil {
		return favorites.Result{}, ErrNoSource
	}

	res, err := favs.ToggleKey(ctx, key)
	if errors.Is(err, scan.ErrMissingKey) {
		o.notice(LevelError, "Cannot favorite: Sym/Int missing", err)
		return res, err
	}

	o.mu.Lock()
	current := o.epoch == ep
	o.mu.Unlock()

	switch {
	case err != nil:
		if current {
			o.notice(LevelError, "Server error: Action failed!", err)
		}
	case res.Outcome == favorites.Added:
		if current {
			o.notice(LevelSuccess, "Added to favorites!", nil)
		}
		o.mirrorChange(ctx, res.Key, true)
	case res.Outcome == favorites.Removed:
		if current {
			o.notice(LevelInfo, "Removed from favorites!", nil)
		}
		o.mirrorChange(ctx, res.Key, false)
	}
	return res, err
}

func (o *Orchestrator) mirrorChange(ctx context.Context, key string, added bool) {
	if o.mirror == nil {
		return
	}
	var err error
	if added {
		err = o.mirror.Favorite(ctx, key)
	} else {
		err = o.mirror.Unfavorite(ctx, key)
	}
	if err != nil {
		o.log.Warn("mirroring favorite", "key", key, "added", added, "error", err)
	}
}

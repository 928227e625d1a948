package broker

import (
	"context"
	"log/slog"
)

// Mirror applies confirmed favorite changes to a watchlist. It satisfies
// viewmodel.Mirror.
type Mirror struct {
	list Watchlist
	log  *slog.Logger
}

// NewMirror creates a Mirror over list.
func NewMirror(list Watchlist, log *slog.Logger) *Mirror {
	if log == nil {
		log = slog.Default()
	}
	return &Mirror{list: list, log: log}
}

// Watchlist returns the underlying list.
func (m *Mirror) Watchlist() Watchlist { return m.list }

// Favorite adds the ticker of key to the watchlist.
func (m *Mirror) Favorite(ctx context.Context, key string) error {
	sym, err := Ticker(key)
	if err != nil {
		return err
	}
	if err := m.list.Add(ctx, sym); err != nil {
		return err
	}
	m.log.Info("watchlist add", "provider", m.list.Name(), "symbol", sym, "key", key)
	return nil
}

// Unfavorite removes the ticker of key from the watchlist.
func (m *Mirror) Unfavorite(ctx context.Context, key string) error {
	sym, err := Ticker(key)
	if err != nil {
		return err
	}
	if err := m.list.Remove(ctx, sym); err != nil {
		return err
	}
	m.log.Info("watchlist remove", "provider", m.list.Name(), "symbol", sym, "key", key)
	return nil
}

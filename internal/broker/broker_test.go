package broker

import (
	"context"
	"errors"
	"testing"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

type fakeAlpaca struct {
	lists   []alpacaapi.Watchlist
	created int
	assets  map[string]bool
	addErr  error
	rmErr   error
}

func (f *fakeAlpaca) GetWatchlists() ([]alpacaapi.Watchlist, error) { return f.lists, nil }

func (f *fakeAlpaca) CreateWatchlist(req alpacaapi.CreateWatchlistRequest) (*alpacaapi.Watchlist, error) {
	f.created++
	w := alpacaapi.Watchlist{ID: "wl-new", Name: req.Name}
	f.lists = append(f.lists, w)
	return &w, nil
}

func (f *fakeAlpaca) GetWatchlist(id string) (*alpacaapi.Watchlist, error) {
	w := &alpacaapi.Watchlist{ID: id}
	for s := range f.assets {
		w.Assets = append(w.Assets, alpacaapi.Asset{Symbol: s})
	}
	return w, nil
}

func (f *fakeAlpaca) AddSymbolToWatchlist(id string, req alpacaapi.AddSymbolToWatchlistRequest) (*alpacaapi.Watchlist, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.assets[req.Symbol] = true
	return &alpacaapi.Watchlist{ID: id}, nil
}

func (f *fakeAlpaca) RemoveSymbolFromWatchlist(_ string, req alpacaapi.RemoveSymbolFromWatchlistRequest) error {
	if f.rmErr != nil {
		return f.rmErr
	}
	delete(f.assets, req.Symbol)
	return nil
}

func TestTicker(t *testing.T) {
	tests := []struct {
		key  string
		want string
		err  bool
	}{
		{"AAPL 1D", "AAPL", false},
		{"msft/4H", "MSFT", false},
		{"  BRK.B  1W", "BRK.B", false},
		{"", "", true},
		{"$$$ 1D", "", true},
	}
	for _, tc := range tests {
		got, err := Ticker(tc.key)
		if tc.err {
			if !errors.Is(err, ErrNoTicker) {
				t.Errorf("Ticker(%q) err = %v, want ErrNoTicker", tc.key, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("Ticker(%q) = %q, %v; want %q", tc.key, got, err, tc.want)
		}
	}
}

func TestAlpacaWatchlistCreatesOnce(t *testing.T) {
	api := &fakeAlpaca{assets: map[string]bool{}}
	w := newAlpacaWatchlist(api, "scanwatch")
	ctx := context.Background()

	if got := w.Name(); got != "alpaca" {
		t.Errorf("Name() = %q, want %q", got, "alpaca")
	}
	if err := w.Add(ctx, "aapl"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := w.Add(ctx, "TSLA"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if api.created != 1 {
		t.Errorf("watchlist created %d times, want 1", api.created)
	}
	syms, err := w.Symbols(ctx)
	if err != nil {
		t.Fatalf("Symbols: %v", err)
	}
	if len(syms) != 2 || syms[0] != "AAPL" || syms[1] != "TSLA" {
		t.Errorf("Symbols = %v, want [AAPL TSLA]", syms)
	}
	if err := w.Remove(ctx, "aapl"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if api.assets["AAPL"] {
		t.Error("AAPL still on watchlist")
	}
}

func TestAlpacaWatchlistFindsExisting(t *testing.T) {
	api := &fakeAlpaca{
		lists:  []alpacaapi.Watchlist{{ID: "wl-1", Name: "other"}, {ID: "wl-2", Name: "scanwatch"}},
		assets: map[string]bool{},
	}
	w := newAlpacaWatchlist(api, "scanwatch")
	id, err := w.ensure(context.Background())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if id != "wl-2" || api.created != 0 {
		t.Errorf("ensure = %q (created %d), want wl-2 without create", id, api.created)
	}
}

func TestAlpacaWatchlistIgnoresDuplicateAndMissing(t *testing.T) {
	api := &fakeAlpaca{
		assets: map[string]bool{},
		addErr: &alpacaapi.APIError{StatusCode: 422, Message: "duplicate symbol"},
		rmErr:  &alpacaapi.APIError{StatusCode: 404, Message: "symbol not found"},
	}
	w := newAlpacaWatchlist(api, "scanwatch")
	ctx := context.Background()
	if err := w.Add(ctx, "AAPL"); err != nil {
		t.Errorf("Add duplicate: %v", err)
	}
	if err := w.Remove(ctx, "AAPL"); err != nil {
		t.Errorf("Remove missing: %v", err)
	}

	api.addErr = errors.New("boom")
	if err := w.Add(ctx, "AAPL"); err == nil {
		t.Error("expected Add error")
	}
}

func TestMirror(t *testing.T) {
	list := NewMemoryWatchlist()
	m := NewMirror(list, nil)
	ctx := context.Background()

	if err := m.Favorite(ctx, "nvda 1D"); err != nil {
		t.Fatalf("Favorite: %v", err)
	}
	if err := m.Favorite(ctx, "AMD/4H"); err != nil {
		t.Fatalf("Favorite: %v", err)
	}
	syms, _ := list.Symbols(ctx)
	if len(syms) != 2 || syms[0] != "AMD" || syms[1] != "NVDA" {
		t.Errorf("Symbols = %v, want [AMD NVDA]", syms)
	}
	if err := m.Unfavorite(ctx, "NVDA 1D"); err != nil {
		t.Fatalf("Unfavorite: %v", err)
	}
	syms, _ = list.Symbols(ctx)
	if len(syms) != 1 || syms[0] != "AMD" {
		t.Errorf("Symbols = %v, want [AMD]", syms)
	}
	if err := m.Favorite(ctx, ""); !errors.Is(err, ErrNoTicker) {
		t.Errorf("Favorite(\"\") err = %v, want ErrNoTicker", err)
	}
	if m.Watchlist().Name() != "memory" {
		t.Errorf("Watchlist().Name() = %q", m.Watchlist().Name())
	}
}

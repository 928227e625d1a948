package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// Compile-time interface check.
var _ Watchlist = (*AlpacaWatchlist)(nil)

// watchlistAPI is the subset of *alpacaapi.Client used here.
type watchlistAPI interface {
	GetWatchlists() ([]alpacaapi.Watchlist, error)
	CreateWatchlist(req alpacaapi.CreateWatchlistRequest) (*alpacaapi.Watchlist, error)
	GetWatchlist(watchlistID string) (*alpacaapi.Watchlist, error)
	AddSymbolToWatchlist(watchlistID string, req alpacaapi.AddSymbolToWatchlistRequest) (*alpacaapi.Watchlist, error)
	RemoveSymbolFromWatchlist(watchlistID string, req alpacaapi.RemoveSymbolFromWatchlistRequest) error
}

// AlpacaWatchlist keeps a named Alpaca watchlist, creating it on first use.
type AlpacaWatchlist struct {
	api  watchlistAPI
	name string

	mu sync.Mutex
	id string
}

// NewAlpacaWatchlist creates a watchlist mirror using the given credentials.
// baseURL may be empty for the default (paper or live per key).
func NewAlpacaWatchlist(apiKey, apiSecret, baseURL, name string) *AlpacaWatchlist {
	client := alpacaapi.NewClient(alpacaapi.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	return newAlpacaWatchlist(client, name)
}

func newAlpacaWatchlist(api watchlistAPI, name string) *AlpacaWatchlist {
	return &AlpacaWatchlist{api: api, name: name}
}

// Name returns "alpaca".
func (w *AlpacaWatchlist) Name() string {
	return "alpaca"
}

// ensure finds the watchlist by name, creating it when absent. The id is
// cached once found.
func (w *AlpacaWatchlist) ensure(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.id != "" {
		return w.id, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	lists, err := w.api.GetWatchlists()
	if err != nil {
		return "", fmt.Errorf("listing watchlists: %w", err)
	}
	for _, l := range lists {
		if l.Name == w.name {
			w.id = l.ID
			return w.id, nil
		}
	}
	created, err := w.api.CreateWatchlist(alpacaapi.CreateWatchlistRequest{Name: w.name})
	if err != nil {
		return "", fmt.Errorf("creating watchlist %q: %w", w.name, err)
	}
	w.id = created.ID
	return w.id, nil
}

// Symbols returns the watchlist symbols, sorted.
func (w *AlpacaWatchlist) Symbols(ctx context.Context) ([]string, error) {
	id, err := w.ensure(ctx)
	if err != nil {
		return nil, err
	}
	wl, err := w.api.GetWatchlist(id)
	if err != nil {
		return nil, fmt.Errorf("getting watchlist: %w", err)
	}
	symbols := make([]string, 0, len(wl.Assets))
	for _, a := range wl.Assets {
		symbols = append(symbols, a.Symbol)
	}
	sort.Strings(symbols)
	return symbols, nil
}

// Add puts symbol on the watchlist.
func (w *AlpacaWatchlist) Add(ctx context.Context, symbol string) error {
	id, err := w.ensure(ctx)
	if err != nil {
		return err
	}
	symbol = strings.ToUpper(symbol)
	if _, err := w.api.AddSymbolToWatchlist(id, alpacaapi.AddSymbolToWatchlistRequest{Symbol: symbol}); err != nil {
		if isDuplicate(err) {
			return nil
		}
		return fmt.Errorf("adding %s: %w", symbol, err)
	}
	return nil
}

// Remove takes symbol off the watchlist.
func (w *AlpacaWatchlist) Remove(ctx context.Context, symbol string) error {
	id, err := w.ensure(ctx)
	if err != nil {
		return err
	}
	symbol = strings.ToUpper(symbol)
	if err := w.api.RemoveSymbolFromWatchlist(id, alpacaapi.RemoveSymbolFromWatchlistRequest{Symbol: symbol}); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("removing %s: %w", symbol, err)
	}
	return nil
}

func isDuplicate(err error) bool {
	var apiErr *alpacaapi.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 422
}

func isNotFound(err error) bool {
	var apiErr *alpacaapi.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}

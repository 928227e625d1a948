// Package broker mirrors favorited symbols into brokerage watchlists.
package broker

import (
	"context"
	"errors"
	"strings"
	"unicode"
)

// ErrNoTicker is returned when a symbol/interval key has no usable ticker.
var ErrNoTicker = errors.New("broker: no ticker in key")

// Watchlist abstracts a named symbol list held at a brokerage.
type Watchlist interface {
	// Name returns the watchlist provider identifier (e.g. "alpaca", "memory").
	Name() string

	// Symbols returns the symbols currently on the list, sorted.
	Symbols(ctx context.Context) ([]string, error)

	// Add puts symbol on the list. Adding a present symbol is not an error.
	Add(ctx context.Context, symbol string) error

	// Remove takes symbol off the list. Removing an absent symbol is not an
	// error.
	Remove(ctx context.Context, symbol string) error
}

// Ticker extracts the leading symbol token of a symbol/interval key, e.g.
// "aapl 1D" and "AAPL/1D" both give "AAPL".
func Ticker(key string) (string, error) {
	tok := strings.FieldsFunc(key, func(r rune) bool {
		return unicode.IsSpace(r) || r == '/' || r == ',' || r == ':' || r == '|'
	})
	if len(tok) == 0 {
		return "", ErrNoTicker
	}
	sym := strings.ToUpper(tok[0])
	for _, r := range sym {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '.' && r != '-' {
			return "", ErrNoTicker
		}
	}
	return sym, nil
}

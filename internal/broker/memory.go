package broker

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Compile-time interface check.
var _ Watchlist = (*MemoryWatchlist)(nil)

// MemoryWatchlist keeps symbols in memory. It stands in for a brokerage
// when no credentials are configured.
type MemoryWatchlist struct {
	mu      sync.Mutex
	symbols map[string]bool
}

// NewMemoryWatchlist creates an empty in-memory watchlist.
func NewMemoryWatchlist() *MemoryWatchlist {
	return &MemoryWatchlist{symbols: make(map[string]bool)}
}

// Name returns "memory".
func (w *MemoryWatchlist) Name() string {
	return "memory"
}

func (w *MemoryWatchlist) Symbols(_ context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.symbols))
	for s := range w.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func (w *MemoryWatchlist) Add(_ context.Context, symbol string) error {
	w.mu.Lock()
	w.symbols[strings.ToUpper(symbol)] = true
	w.mu.Unlock()
	return nil
}

func (w *MemoryWatchlist) Remove(_ context.Context, symbol string) error {
	w.mu.Lock()
	delete(w.symbols, strings.ToUpper(symbol))
	w.mu.Unlock()
	return nil
}

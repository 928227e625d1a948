package viewmodel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanwatch/internal/favorites"
	"scanwatch/internal/filter"
	"scanwatch/internal/live"
	"scanwatch/internal/scan"
	"scanwatch/internal/tablesort"
	"scanwatch/pkg/ttscanner"
)

type fakeBackend struct {
	mu        sync.Mutex
	sets      map[int64]scan.RowSet // by interval id
	gates     map[int64]chan struct{}
	records   []favorites.Record
	recGate   chan struct{}
	recCalled chan struct{} // when non-nil, signalled as FavoriteRecords starts
	createErr error
	nextID    int64
	creates   int
}

func (b *fakeBackend) LoadRowSet(ctx context.Context, sel ttscanner.Selection) (scan.RowSet, error) {
	b.mu.Lock()
	gate := b.gates[sel.Interval.ID]
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return scan.RowSet{}, ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	rs, ok := b.sets[sel.Interval.ID]
	if !ok {
		return scan.RowSet{}, &ttscanner.APIError{Status: 404, Fields: map[string][]string{"general": {"Not found."}}}
	}
	return rs, nil
}

func (b *fakeBackend) FavoriteRecords(ctx context.Context) ([]favorites.Record, error) {
	b.mu.Lock()
	gate, called := b.recGate, b.recCalled
	b.mu.Unlock()
	if called != nil {
		called <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]favorites.Record(nil), b.records...), nil
}

func (b *fakeBackend) CreateFavorite(_ context.Context, _ scan.SourceID, _ string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.creates++
	if b.createErr != nil {
		return 0, b.createErr
	}
	b.nextID++
	return b.nextID, nil
}

func (b *fakeBackend) DeleteFavorite(context.Context, int64) error { return nil }

func sel(interval int64) ttscanner.Selection {
	return ttscanner.Selection{
		Algo:     ttscanner.Algo{ID: 1, Name: "TTScanner"},
		Interval: ttscanner.Interval{ID: interval, Name: fmt.Sprintf("I%d", interval)},
	}
}

func priceRows(tag string) []scan.Row {
	return []scan.Row{
		scan.NewRow(scan.F("Sym/Int", "AAPL 1D"), scan.F("price", 10), scan.F("Direction", "LONG"),
			scan.F("Target #1 DateTime", "2024-05-01"), scan.F("_row_hash", "a-"+tag)),
		scan.NewRow(scan.F("Sym/Int", "MSFT 1D"), scan.F("price", 30), scan.F("Direction", "SHORT"),
			scan.F("Target #1 DateTime", ""), scan.F("_row_hash", "m-"+tag)),
		scan.NewRow(scan.F("Sym/Int", "TSLA 1D"), scan.F("price", nil), scan.F("Direction", "FLAT"),
			scan.F("Target #1 DateTime", nil), scan.F("_row_hash", "t-"+tag)),
	}
}

func newBackend() *fakeBackend {
	return &fakeBackend{
		sets: map[int64]scan.RowSet{
			1: {Source: "A", Version: 1, Rows: priceRows("1")},
			2: {Source: "B", Version: 1, Rows: []scan.Row{
				scan.NewRow(scan.F("Symbol", "ES"), scan.F("Trend Dir", "BULLISH")),
			}},
		},
		gates: map[int64]chan struct{}{},
	}
}

func syms(v View) []string {
	out := make([]string, len(v.Rows))
	for i, r := range v.Rows {
		out[i] = r.Get("Sym/Int").Text()
	}
	return out
}

func collectNotices(o *Orchestrator) (func() []Notice, func()) {
	id, ch := o.Subscribe(64)
	var mu sync.Mutex
	var got []Notice
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range ch {
			if e.Type == EventNotice {
				mu.Lock()
				got = append(got, *e.Notice)
				mu.Unlock()
			}
		}
	}()
	return func() []Notice {
			mu.Lock()
			defer mu.Unlock()
			return append([]Notice(nil), got...)
		}, func() {
			o.Unsubscribe(id)
			<-done
		}
}

func TestSelectSourceLoadsAndDerives(t *testing.T) {
	o := New(newBackend(), Options{})
	defer o.Close()

	require.NoError(t, o.SelectSource(context.Background(), sel(1)))
	v := o.View()
	assert.Equal(t, scan.SourceID("A"), v.Source)
	assert.Equal(t, "TTScanner I1 Swing Trades", v.Name)
	assert.False(t, v.Loading)
	assert.Equal(t, []string{"Target #1 DateTime"}, v.TargetColumns)
	assert.Equal(t, []string{"AAPL 1D", "MSFT 1D", "TSLA 1D"}, syms(v))

	o.ToggleSort("price")
	o.ToggleSort("price")
	v = o.View()
	assert.Equal(t, tablesort.State{Column: "price", Direction: tablesort.Descending}, v.Sort)
	assert.Equal(t, []string{"MSFT 1D", "AAPL 1D", "TSLA 1D"}, syms(v))

	require.NoError(t, o.SetTarget(0, filter.NotHit))
	v = o.View()
	assert.Equal(t, []string{"MSFT 1D", "TSLA 1D"}, syms(v))
	assert.Equal(t, 1, v.ActiveFilters())

	o.ToggleFilterValue("Direction", "FLAT")
	v = o.View()
	assert.Equal(t, []string{"TSLA 1D"}, syms(v))
	assert.Equal(t, 3, v.Total)

	o.ClearAll()
	v = o.View()
	assert.Len(t, v.Rows, 3)
	assert.Equal(t, 0, v.ActiveFilters())
}

func TestSourceSwitchClearsFilters(t *testing.T) {
	o := New(newBackend(), Options{})
	defer o.Close()
	ctx := context.Background()

	require.NoError(t, o.SelectSource(ctx, sel(1)))
	require.NoError(t, o.SetFilterBounds("price", "5", ""))
	require.NoError(t, o.SetTarget(1, filter.Hit))
	o.ToggleSort("price")
	o.SetVisibleColumns([]string{"price"})
	require.Equal(t, 1, o.View().Filters.Len())

	require.NoError(t, o.SelectSource(ctx, sel(2)))
	v := o.View()
	assert.True(t, v.Filters.IsEmpty())
	assert.True(t, v.Targets.IsZero())
	assert.True(t, v.Sort.IsZero())
	assert.Empty(t, v.VisibleColumns)
	assert.Len(t, v.Rows, 1)
}

func TestStaleVersionIsDiscarded(t *testing.T) {
	o := New(newBackend(), Options{})
	defer o.Close()
	require.NoError(t, o.SelectSource(context.Background(), sel(1)))

	v5 := scan.RowSet{Source: "A", Version: 5, Rows: priceRows("5")[:2]}
	v3 := scan.RowSet{Source: "A", Version: 3, Rows: priceRows("3")[:1]}

	assert.True(t, o.ApplySnapshot(v5))
	assert.False(t, o.ApplySnapshot(v3))
	assert.False(t, o.ApplySnapshot(v5), "duplicate version")
	assert.False(t, o.ApplySnapshot(scan.RowSet{Source: "B", Version: 9}), "foreign source")

	v := o.View()
	assert.Equal(t, int64(5), v.Version)
	assert.Equal(t, []string{"AAPL 1D", "MSFT 1D"}, syms(v))
	assert.True(t, v.Updated["a-5"])
}

func TestVersionMonotonicUnderReordering(t *testing.T) {
	o := New(newBackend(), Options{})
	defer o.Close()
	require.NoError(t, o.SelectSource(context.Background(), sel(1)))

	last := o.View().Version
	for _, ver := range []int64{4, 2, 7, 7, 5, 6, 3} {
		o.ApplySnapshot(scan.RowSet{Source: "A", Version: ver, Rows: priceRows(fmt.Sprint(ver))})
		got := o.View().Version
		assert.GreaterOrEqual(t, got, last)
		last = got
	}
	assert.Equal(t, int64(7), last)
	assert.Equal(t, "a-7", o.View().Rows[0].Hash())
}

func TestSnapshotsKeepUserState(t *testing.T) {
	o := New(newBackend(), Options{})
	defer o.Close()
	require.NoError(t, o.SelectSource(context.Background(), sel(1)))
	o.ToggleFilterValue("Direction", "LONG")
	o.ToggleSort("price")

	require.True(t, o.ApplySnapshot(scan.RowSet{Source: "A", Version: 2, Rows: priceRows("2")}))
	v := o.View()
	assert.Equal(t, 1, v.Filters.Len())
	assert.Equal(t, "price", v.Sort.Column)
	assert.Equal(t, []string{"AAPL 1D"}, syms(v))
}

func TestInvalidBoundIsRejectedLocally(t *testing.T) {
	o := New(newBackend(), Options{})
	defer o.Close()
	notices, stop := collectNotices(o)
	require.NoError(t, o.SelectSource(context.Background(), sel(1)))

	err := o.SetFilterBounds("price", "abc", "10")
	require.ErrorIs(t, err, filter.ErrInvalidBound)
	assert.True(t, o.View().Filters.IsEmpty())

	stop()
	require.Len(t, notices(), 1)
	assert.Equal(t, LevelError, notices()[0].Level)
}

func TestFavoriteRollbackOnServerError(t *testing.T) {
	be := newBackend()
	be.createErr = errors.New("boom")
	o := New(be, Options{})
	defer o.Close()
	notices, stop := collectNotices(o)
	require.NoError(t, o.SelectSource(context.Background(), sel(1)))

	row := o.View().Rows[0]
	res, err := o.ToggleFavorite(context.Background(), row)
	require.Error(t, err)
	assert.Equal(t, favorites.RolledBack, res.Outcome)
	assert.Empty(t, o.View().Favorites)
	assert.False(t, o.View().IsFavorite(row))

	stop()
	require.NotEmpty(t, notices())
	assert.Equal(t, Notice{Level: LevelError, Text: "Server error: Action failed!", Err: err}, notices()[len(notices())-1])
}

func TestFavoriteMissingKey(t *testing.T) {
	be := newBackend()
	o := New(be, Options{})
	defer o.Close()
	notices, stop := collectNotices(o)
	require.NoError(t, o.SelectSource(context.Background(), sel(2)))

	_, err := o.ToggleFavorite(context.Background(), o.View().Rows[0])
	require.ErrorIs(t, err, scan.ErrMissingKey)
	assert.Equal(t, 0, be.creates)

	stop()
	require.Len(t, notices(), 1)
	assert.Equal(t, "Cannot favorite: Sym/Int missing", notices()[0].Text)
}

type recordingMirror struct {
	mu    sync.Mutex
	calls []string
}

func (m *recordingMirror) Favorite(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "+"+key)
	return nil
}

func (m *recordingMirror) Unfavorite(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "-"+key)
	return nil
}

func TestFavoriteToggleMirrors(t *testing.T) {
	mirror := &recordingMirror{}
	o := New(newBackend(), Options{Mirror: mirror})
	defer o.Close()
	require.NoError(t, o.SelectSource(context.Background(), sel(1)))

	row := o.View().Rows[1]
	res, err := o.ToggleFavorite(context.Background(), row)
	require.NoError(t, err)
	assert.Equal(t, favorites.Added, res.Outcome)
	assert.True(t, o.View().IsFavorite(row))

	_, err = o.ToggleFavorite(context.Background(), row)
	require.NoError(t, err)
	assert.Equal(t, []string{"+MSFT 1D", "-MSFT 1D"}, mirror.calls)
}

func TestHydrateMatchesByHash(t *testing.T) {
	be := newBackend()
	be.records = []favorites.Record{{RowHash: "m-1", FavoriteID: 77}, {RowHash: "gone", FavoriteID: 78}}
	o := New(be, Options{})
	defer o.Close()

	require.NoError(t, o.SelectSource(context.Background(), sel(1)))
	favs := o.View().Favorites
	assert.Equal(t, map[string]favorites.Slot{"MSFT 1D": {ID: 77, Phase: favorites.Confirmed}}, favs)
}

func TestHydrationAgainstReplacedRowsIsDiscarded(t *testing.T) {
	be := newBackend()
	o := New(be, Options{})
	defer o.Close()
	require.NoError(t, o.SelectSource(context.Background(), sel(1)))

	be.mu.Lock()
	be.recGate = make(chan struct{})
	be.records = []favorites.Record{{RowHash: "a-1", FavoriteID: 5}}
	be.mu.Unlock()

	errc := make(chan error, 1)
	go func() { errc <- o.Hydrate(context.Background()) }()

	// The snapshot replaces the rows the in-flight hydration was keyed on.
	be.mu.Lock()
	gate := be.recGate
	be.recGate = nil
	be.mu.Unlock()
	require.True(t, o.ApplySnapshot(scan.RowSet{Source: "A", Version: 2, Rows: priceRows("2")}))
	close(gate)

	select {
	case err := <-errc:
		if err != nil {
			assert.ErrorIs(t, err, ErrStale)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("hydrate did not return")
	}
	o.Close()
	assert.Empty(t, o.View().Favorites, "hash a-1 is not in version 2")
}

// hydrateDuring runs Hydrate with FavoriteRecords held open, calls fn while
// the fetch is in flight, then lets the fetch complete.
func hydrateDuring(t *testing.T, o *Orchestrator, be *fakeBackend, fn func()) {
	t.Helper()
	be.mu.Lock()
	be.recGate = make(chan struct{})
	be.recCalled = make(chan struct{}, 1)
	gate, called := be.recGate, be.recCalled
	be.mu.Unlock()

	errc := make(chan error, 1)
	go func() { errc <- o.Hydrate(context.Background()) }()
	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("hydrate did not fetch favorites")
	}

	fn()
	close(gate)
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("hydrate did not return")
	}
}

func TestHydrationKeepsFavoriteAddedDuringFetch(t *testing.T) {
	be := newBackend()
	o := New(be, Options{})
	defer o.Close()
	require.NoError(t, o.SelectSource(context.Background(), sel(1)))

	hydrateDuring(t, o, be, func() {
		res, err := o.ToggleFavoriteKey(context.Background(), "AAPL 1D")
		require.NoError(t, err)
		require.Equal(t, favorites.Added, res.Outcome)
	})

	favs := o.View().Favorites
	require.Contains(t, favs, "AAPL 1D")
	assert.Equal(t, favorites.Slot{ID: 1, Phase: favorites.Confirmed}, favs["AAPL 1D"])

	// The next toggle deletes rather than creating a duplicate.
	res, err := o.ToggleFavoriteKey(context.Background(), "AAPL 1D")
	require.NoError(t, err)
	assert.Equal(t, favorites.Removed, res.Outcome)
	assert.Equal(t, 1, be.creates)
}

func TestHydrationKeepsFavoriteRemovedDuringFetch(t *testing.T) {
	be := newBackend()
	be.records = []favorites.Record{{RowHash: "a-1", FavoriteID: 5}}
	o := New(be, Options{})
	defer o.Close()
	require.NoError(t, o.SelectSource(context.Background(), sel(1)))
	require.Contains(t, o.View().Favorites, "AAPL 1D")

	// The fetched list still carries the deleted favorite.
	hydrateDuring(t, o, be, func() {
		res, err := o.ToggleFavoriteKey(context.Background(), "AAPL 1D")
		require.NoError(t, err)
		require.Equal(t, favorites.Removed, res.Outcome)
	})

	assert.NotContains(t, o.View().Favorites, "AAPL 1D")

	// A later hydration with an up-to-date list applies normally.
	be.mu.Lock()
	be.records = []favorites.Record{{RowHash: "m-1", FavoriteID: 8}}
	be.mu.Unlock()
	hydrateDuring(t, o, be, func() {})
	assert.Equal(t, map[string]favorites.Slot{"MSFT 1D": {ID: 8, Phase: favorites.Confirmed}}, o.View().Favorites)
}

func TestSupersededSelectionIsDiscarded(t *testing.T) {
	be := newBackend()
	gate := make(chan struct{})
	be.gates[1] = gate
	o := New(be, Options{})
	defer o.Close()

	errc := make(chan error, 1)
	go func() { errc <- o.SelectSource(context.Background(), sel(1)) }()

	require.Eventually(t, func() bool { return o.View().Loading }, time.Second, time.Millisecond)
	require.NoError(t, o.SelectSource(context.Background(), sel(2)))
	close(gate)

	assert.ErrorIs(t, <-errc, ErrStale)
	v := o.View()
	assert.Equal(t, scan.SourceID("B"), v.Source)
	assert.Equal(t, "TTScanner I2 Swing Trades", v.Name)
}

func TestLoadFailureSurfacesNotice(t *testing.T) {
	o := New(newBackend(), Options{})
	defer o.Close()
	notices, stop := collectNotices(o)

	err := o.SelectSource(context.Background(), sel(9))
	require.Error(t, err)
	v := o.View()
	assert.False(t, v.Loading)
	assert.Empty(t, v.Rows)

	stop()
	require.Len(t, notices(), 1)
	assert.Equal(t, "Failed to load TTScanner I9 Swing Trades: Not found.", notices()[0].Text)
}

type fakeChannel struct {
	mu  sync.Mutex
	log []string
}

func (c *fakeChannel) Open(_ context.Context, id scan.SourceID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, "open:"+string(id))
}

func (c *fakeChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, "close")
}

func TestChannelClosedBeforeNextSource(t *testing.T) {
	ch := &fakeChannel{}
	var sink live.Sink
	o := New(newBackend(), Options{Channel: func(s live.Sink) Channel { sink = s; return ch }})
	require.NotNil(t, sink)

	require.NoError(t, o.SelectSource(context.Background(), sel(1)))
	require.NoError(t, o.SelectSource(context.Background(), sel(2)))
	o.Close()

	assert.Equal(t, []string{"close", "open:A", "close", "open:B", "close"}, ch.log)

	o.SetChannelState("A", live.Open)
	assert.Equal(t, live.Closed, o.View().Channel)
	o.SetChannelState("B", live.Open)
	assert.Equal(t, live.Open, o.View().Channel)
}

func TestSubscribersSeeViewEvents(t *testing.T) {
	o := New(newBackend(), Options{})
	defer o.Close()
	id, ch := o.Subscribe(16)
	defer o.Unsubscribe(id)

	require.NoError(t, o.SelectSource(context.Background(), sel(1)))
	select {
	case e := <-ch:
		assert.Equal(t, EventView, e.Type)
		assert.Positive(t, e.Revision)
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
}

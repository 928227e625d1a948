package favorites

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanwatch/internal/scan"
)

type fakeService struct {
	mu        sync.Mutex
	nextID    int64
	createErr error
	deleteErr error
	gate      chan struct{} // when non-nil, each call waits for a receive
	entered   chan string
	creates   []string
	deletes   []int64
}

func (f *fakeService) wait(op string) {
	if f.entered != nil {
		f.entered <- op
	}
	if f.gate != nil {
		<-f.gate
	}
}

func (f *fakeService) CreateFavorite(_ context.Context, _ scan.SourceID, symInt string) (int64, error) {
	f.wait("create")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, symInt)
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.nextID++
	return f.nextID, nil
}

func (f *fakeService) DeleteFavorite(_ context.Context, id int64) error {
	f.wait("delete")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	return f.deleteErr
}

func symRow(key string) scan.Row {
	return scan.NewRow(scan.F("Sym/Int", key), scan.F("Price", 1))
}

func TestToggleAddsAndRemoves(t *testing.T) {
	svc := &fakeService{nextID: 40}
	var notified atomic.Int32
	m := New("7", svc, nil, func() { notified.Add(1) })

	res, err := m.Toggle(context.Background(), symRow("AAPL 1D"))
	require.NoError(t, err)
	assert.Equal(t, Result{Key: "AAPL 1D", Outcome: Added, ID: 41}, res)

	slot, ok := m.Lookup("AAPL 1D")
	require.True(t, ok)
	assert.Equal(t, int64(41), slot.ID)
	assert.Equal(t, Confirmed, slot.Phase)

	res, err = m.Toggle(context.Background(), symRow("AAPL 1D"))
	require.NoError(t, err)
	assert.Equal(t, Removed, res.Outcome)
	assert.False(t, m.Marked("AAPL 1D"))
	assert.Equal(t, []int64{41}, svc.deletes)
	assert.Positive(t, notified.Load())
}

func TestToggleMissingKeyLeavesStateUntouched(t *testing.T) {
	svc := &fakeService{}
	m := New("7", svc, nil, nil)

	_, err := m.Toggle(context.Background(), scan.NewRow(scan.F("Price", 1)))
	assert.ErrorIs(t, err, scan.ErrMissingKey)
	assert.Equal(t, 0, m.Len())
	assert.Empty(t, svc.creates)
}

func TestFailedCreateRollsBack(t *testing.T) {
	boom := errors.New("500 internal")
	svc := &fakeService{createErr: boom}
	m := New("7", svc, nil, nil)

	res, err := m.Toggle(context.Background(), symRow("AAPL 1D"))
	require.Error(t, err)

	var rej *RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "create", rej.Op)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, RolledBack, res.Outcome)

	assert.Empty(t, m.Snapshot())
	assert.False(t, m.Marked("AAPL 1D"))
}

func TestFailedDeleteRestoresPriorMapping(t *testing.T) {
	svc := &fakeService{deleteErr: errors.New("403")}
	m := New("7", svc, nil, nil)
	m.Replace(map[string]int64{"AAPL 1D": 9})

	res, err := m.Toggle(context.Background(), symRow("AAPL 1D"))
	require.Error(t, err)
	assert.Equal(t, Result{Key: "AAPL 1D", Outcome: RolledBack, ID: 9}, res)

	slot, ok := m.Lookup("AAPL 1D")
	require.True(t, ok)
	assert.Equal(t, int64(9), slot.ID)
}

func TestPendingIsVisibleWhileCreateInFlight(t *testing.T) {
	svc := &fakeService{gate: make(chan struct{}), entered: make(chan string, 4)}
	m := New("7", svc, nil, nil)

	done := make(chan Result, 1)
	go func() {
		res, _ := m.Toggle(context.Background(), symRow("AAPL 1D"))
		done <- res
	}()

	assert.Equal(t, "create", <-svc.entered)
	slot, ok := m.Lookup("AAPL 1D")
	require.True(t, ok)
	assert.Equal(t, PendingID, slot.ID)
	assert.Equal(t, Pending, slot.Phase)

	svc.gate <- struct{}{}
	res := <-done
	assert.Equal(t, Added, res.Outcome)
}

func TestSecondToggleActsOnOptimisticState(t *testing.T) {
	svc := &fakeService{gate: make(chan struct{}), entered: make(chan string, 4)}
	m := New("7", svc, nil, nil)

	done := make(chan Result, 1)
	go func() {
		res, _ := m.Toggle(context.Background(), symRow("AAPL 1D"))
		done <- res
	}()
	require.Equal(t, "create", <-svc.entered)

	// Unfavorite before the create returns.
	res, err := m.Toggle(context.Background(), symRow("AAPL 1D"))
	require.NoError(t, err)
	assert.Equal(t, Queued, res.Outcome)
	assert.False(t, m.Marked("AAPL 1D"))

	svc.gate <- struct{}{} // create completes with id 1
	require.Equal(t, "delete", <-svc.entered)
	svc.gate <- struct{}{}

	select {
	case res := <-done:
		assert.Equal(t, Removed, res.Outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("reconcile did not settle")
	}
	assert.Equal(t, []int64{1}, svc.deletes)
	assert.Equal(t, 0, m.Len())
}

func TestIndependentKeysDoNotInterfere(t *testing.T) {
	svc := &fakeService{}
	m := New("7", svc, nil, nil)

	var wg sync.WaitGroup
	keys := []string{"A 1D", "B 1D", "C 1D", "D 1D"}
	for _, k := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.ToggleKey(context.Background(), k)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, len(keys), m.Len())
}

func TestReplaceKeepsInFlightKeys(t *testing.T) {
	svc := &fakeService{gate: make(chan struct{}), entered: make(chan string, 4)}
	m := New("7", svc, nil, nil)

	done := make(chan struct{})
	go func() {
		_, _ = m.ToggleKey(context.Background(), "AAPL 1D")
		close(done)
	}()
	require.Equal(t, "create", <-svc.entered)

	m.Replace(map[string]int64{"MSFT 1D": 3})
	assert.True(t, m.Marked("AAPL 1D"))
	assert.True(t, m.Marked("MSFT 1D"))

	svc.gate <- struct{}{}
	<-done
	assert.Equal(t, 2, m.Len())
}

func TestReplaceSinceKeepsSettledKeys(t *testing.T) {
	svc := &fakeService{}
	m := New("7", svc, nil, nil)
	m.Replace(map[string]int64{"MSFT 1D": 3})

	since := m.Generation()
	_, err := m.ToggleKey(context.Background(), "AAPL 1D")
	require.NoError(t, err)
	_, err = m.ToggleKey(context.Background(), "MSFT 1D")
	require.NoError(t, err)
	assert.Greater(t, m.Generation(), since)

	// A list fetched before both toggles settled.
	m.ReplaceSince(map[string]int64{"MSFT 1D": 3, "TSLA 1D": 4}, since)

	slot, ok := m.Lookup("AAPL 1D")
	require.True(t, ok)
	assert.Equal(t, Confirmed, slot.Phase)
	assert.False(t, m.Marked("MSFT 1D"))
	assert.True(t, m.Marked("TSLA 1D"))
	assert.Equal(t, 2, m.Len())

	// A fresh list replaces everything.
	m.ReplaceSince(map[string]int64{"MSFT 1D": 9}, m.Generation())
	assert.False(t, m.Marked("AAPL 1D"))
	assert.True(t, m.Marked("MSFT 1D"))
}

func TestHydrate(t *testing.T) {
	rows := []scan.Row{
		scan.NewRow(scan.F("Symbol Interval", "AAPL 1D"), scan.F("_row_hash", "h1")),
		scan.NewRow(scan.F("Symbol Interval", "MSFT 1D"), scan.F("_row_hash", " h2 ")),
		scan.NewRow(scan.F("Symbol Interval", ""), scan.F("_row_hash", "h3")),
	}
	recs := []Record{
		{RowHash: "h1", FavoriteID: 10},
		{RowHash: "h2 ", FavoriteID: 11},
		{RowHash: "h3", FavoriteID: 12},
		{RowHash: "gone", FavoriteID: 13},
	}
	got := Hydrate(recs, rows)
	assert.Equal(t, map[string]int64{"AAPL 1D": 10, "MSFT 1D": 11}, got)
}

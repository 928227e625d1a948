// Package favorites tracks which rows of a source the user has favorited,
// keyed by the row's symbol/interval value. Toggles are applied to the local
// view immediately and reconciled with the server afterwards; a rejected
// request reverts the key to the last state the server confirmed.
package favorites

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"scanwatch/internal/scan"
)

// PendingID is reported as the identifier of a favorite whose create request
// has not completed yet.
const PendingID int64 = -1

// Service issues favorite mutations against the backend.
type Service interface {
	CreateFavorite(ctx context.Context, source scan.SourceID, symInt string) (int64, error)
	DeleteFavorite(ctx context.Context, id int64) error
}

// Phase is the lifecycle position of one key.
type Phase uint8

const (
	// Idle: not favorited, nothing in flight.
	Idle Phase = iota
	// Pending: marked locally, create not yet confirmed.
	Pending
	// Confirmed: favorited with a server identifier.
	Confirmed
	// Removing: unmarked locally, delete not yet confirmed.
	Removing
)

func (p Phase) String() string {
	switch p {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Removing:
		return "removing"
	default:
		return "idle"
	}
}

// Slot is the rendered state of one key.
type Slot struct {
	ID    int64 `json:"id"`
	Phase Phase `json:"-"`
}

// Outcome describes how a toggle settled.
type Outcome uint8

const (
	Added Outcome = iota + 1
	Removed
	// Queued means another request for the key was already in flight; the
	// toggle was recorded and will be reconciled by that request's owner.
	Queued
	RolledBack
)

func (o Outcome) String() string {
	switch o {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Queued:
		return "queued"
	case RolledBack:
		return "rolled back"
	default:
		return "unknown"
	}
}

// Result reports the settled state of a toggled key.
type Result struct {
	Key     string
	Outcome Outcome
	// ID is the server identifier after settling, 0 when not favorited.
	ID int64
}

// RejectedError is returned when the server rejected a mutation and the key
// was rolled back.
type RejectedError struct {
	Key string
	Op  string
	Err error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("favorites: %s %q rejected: %v", e.Op, e.Key, e.Err)
}

func (e *RejectedError) Unwrap() error { return e.Err }

type slot struct {
	confirmed int64 // server identifier, 0 when not favorited server-side
	want      bool  // local (optimistic) state
	busy      bool  // a reconcile loop owns this slot
}

func (s *slot) phase() Phase {
	switch {
	case s.busy && s.want && s.confirmed == 0:
		return Pending
	case s.busy && !s.want && s.confirmed != 0:
		return Removing
	case s.want:
		return Confirmed
	default:
		return Idle
	}
}

// Map is the favorite state for one source. It is safe for concurrent use;
// toggles on different keys proceed independently.
type Map struct {
	source scan.SourceID
	svc    Service
	logger *slog.Logger
	notify func()

	mu    sync.Mutex
	slots map[string]*slot
	// gen advances on every local change or settled request; touched holds
	// the generation of each key's latest change.
	gen     uint64
	touched map[string]uint64
}

// New returns an empty Map for source. notify, when non-nil, is called after
// every visible state change, outside the Map's lock.
func New(source scan.SourceID, svc Service, logger *slog.Logger, notify func()) *Map {
	if logger == nil {
		logger = slog.Default()
	}
	return &Map{
		source: source,
		svc:    svc,
		logger: logger.With("component", "favorites", "source", source),
		notify: notify,
		slots:   make(map[string]*slot),
		touched: make(map[string]uint64),
	}
}

// Source returns the source the map belongs to.
func (m *Map) Source() scan.SourceID { return m.source }

func (m *Map) changed() {
	if m.notify != nil {
		m.notify()
	}
}

// Marked reports whether key is favorited in the local view.
func (m *Map) Marked(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.slots[key]
	return s != nil && s.want
}

// Lookup returns the slot for key. ok is false for keys shown as not
// favorited.
func (m *Map) Lookup(key string) (Slot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.slots[key]
	if s == nil || !s.want {
		return Slot{}, false
	}
	return s.view(), true
}

func (s *slot) view() Slot {
	if s.confirmed == 0 {
		return Slot{ID: PendingID, Phase: s.phase()}
	}
	return Slot{ID: s.confirmed, Phase: s.phase()}
}

// Snapshot returns every key shown as favorited.
func (m *Map) Snapshot() map[string]Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Slot, len(m.slots))
	for k, s := range m.slots {
		if s.want {
			out[k] = s.view()
		}
	}
	return out
}

// Len is the number of keys shown as favorited.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.slots {
		if s.want {
			n++
		}
	}
	return n
}

// Generation identifies the map's current mutation state. Capture it before
// fetching the server list and pass it to ReplaceSince.
func (m *Map) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// touch records a change to key. Caller holds m.mu.
func (m *Map) touch(key string) {
	m.gen++
	m.touched[key] = m.gen
}

// Replace installs a hydrated key→id mapping. Keys with a request in flight
// keep their current state.
func (m *Map) Replace(ids map[string]int64) {
	m.mu.Lock()
	m.replaceLocked(ids, m.gen)
	m.mu.Unlock()
	m.changed()
}

// ReplaceSince is Replace for a mapping fetched when the map was at
// generation since. Keys toggled or settled after that keep their current
// state, including being absent.
func (m *Map) ReplaceSince(ids map[string]int64, since uint64) {
	m.mu.Lock()
	m.replaceLocked(ids, since)
	m.mu.Unlock()
	m.changed()
}

func (m *Map) replaceLocked(ids map[string]int64, since uint64) {
	keep := func(k string) bool {
		s := m.slots[k]
		return (s != nil && s.busy) || m.touched[k] > since
	}
	next := make(map[string]*slot, len(ids))
	for k, s := range m.slots {
		if keep(k) {
			next[k] = s
		}
	}
	for k, id := range ids {
		if keep(k) || id <= 0 {
			continue
		}
		next[k] = &slot{confirmed: id, want: true}
	}
	m.slots = next
}

// Toggle flips the favorite state of row's key. The missing-key condition is
// reported before any state changes.
//
// When no request is in flight for the key, Toggle issues requests until the
// server agrees with the local state and returns how the key settled. If a
// request is already in flight, Toggle only records the new local state and
// returns Queued; the in-flight caller picks it up.
//
// On rejection the key reverts to the last server-confirmed state and a
// *RejectedError is returned alongside a RolledBack result.
func (m *Map) Toggle(ctx context.Context, row scan.Row) (Result, error) {
	key, err := row.SymbolInterval()
	if err != nil {
		return Result{}, err
	}
	return m.ToggleKey(ctx, key)
}

// ToggleKey is Toggle for an already derived key.
func (m *Map) ToggleKey(ctx context.Context, key string) (Result, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Result{}, scan.ErrMissingKey
	}

	m.mu.Lock()
	s := m.slots[key]
	if s == nil {
		s = &slot{}
		m.slots[key] = s
	}
	s.want = !s.want
	m.touch(key)
	if s.busy {
		m.mu.Unlock()
		m.changed()
		return Result{Key: key, Outcome: Queued}, nil
	}
	s.busy = true
	m.mu.Unlock()
	m.changed()

	return m.reconcile(ctx, key, s)
}

func (m *Map) reconcile(ctx context.Context, key string, s *slot) (Result, error) {
	for {
		m.mu.Lock()
		want, id := s.want, s.confirmed
		if want == (id != 0) {
			s.busy = false
			m.release(key, s)
			m.mu.Unlock()
			if want {
				return Result{Key: key, Outcome: Added, ID: id}, nil
			}
			return Result{Key: key, Outcome: Removed}, nil
		}
		m.mu.Unlock()

		if want {
			newID, err := m.svc.CreateFavorite(ctx, m.source, key)
			if err == nil && newID <= 0 {
				err = fmt.Errorf("server returned invalid favorite id %d", newID)
			}
			if err != nil {
				return m.rollback(key, s, "create", err)
			}
			m.logger.Debug("favorite created", "key", key, "id", newID)
			m.mu.Lock()
			s.confirmed = newID
			m.touch(key)
			m.mu.Unlock()
		} else {
			if err := m.svc.DeleteFavorite(ctx, id); err != nil {
				return m.rollback(key, s, "delete", err)
			}
			m.logger.Debug("favorite deleted", "key", key, "id", id)
			m.mu.Lock()
			s.confirmed = 0
			m.touch(key)
			m.mu.Unlock()
		}
		m.changed()
	}
}

func (m *Map) rollback(key string, s *slot, op string, err error) (Result, error) {
	m.mu.Lock()
	s.want = s.confirmed != 0
	s.busy = false
	m.touch(key)
	id := s.confirmed
	m.release(key, s)
	m.mu.Unlock()
	m.changed()

	m.logger.Warn("favorite mutation rejected, rolled back", "key", key, "op", op, "error", err)
	return Result{Key: key, Outcome: RolledBack, ID: id}, &RejectedError{Key: key, Op: op, Err: err}
}

// release drops an idle slot so the map holds only meaningful keys. Caller
// holds m.mu.
func (m *Map) release(key string, s *slot) {
	if !s.busy && !s.want && s.confirmed == 0 && m.slots[key] == s {
		delete(m.slots, key)
	}
}

// Record is one server-side favorite, identified by the content hash of the
// row it was created from.
type Record struct {
	RowHash    string `json:"row_hash"`
	FavoriteID int64  `json:"favorite_id"`
}

// Hydrate cross-references server favorites against rows by content hash and
// returns the symbol/interval → favorite id mapping. Records whose row is no
// longer present, or whose row has no key, are skipped.
func Hydrate(records []Record, rows []scan.Row) map[string]int64 {
	byHash := make(map[string]scan.Row, len(rows))
	for _, r := range rows {
		if h := r.Hash(); h != "" {
			byHash[h] = r
		}
	}
	out := make(map[string]int64, len(records))
	for _, rec := range records {
		row, ok := byHash[strings.TrimSpace(rec.RowHash)]
		if !ok {
			continue
		}
		key, err := row.SymbolInterval()
		if err != nil {
			continue
		}
		out[key] = rec.FavoriteID
	}
	return out
}


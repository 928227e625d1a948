// Package viewmodel owns the scan table's authoritative state (row set,
// filters, target flags, sort, favorites) and derives the rendered rows from
// it. Renderers observe changes through Subscribe and read a consistent
// snapshot with View.
package viewmodel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"scanwatch/internal/favorites"
	"scanwatch/internal/filter"
	"scanwatch/internal/live"
	"scanwatch/internal/scan"
	"scanwatch/internal/tablesort"
	"scanwatch/pkg/ttscanner"
)

var (
	// ErrNoSource is returned by operations that need a loaded source.
	ErrNoSource = errors.New("viewmodel: no source loaded")
	// ErrStale is returned when an async completion was superseded by a
	// later source selection and its result was discarded.
	ErrStale = errors.New("viewmodel: superseded by a newer selection")
)

// Backend is the REST collaborator.
type Backend interface {
	LoadRowSet(ctx context.Context, sel ttscanner.Selection) (scan.RowSet, error)
	FavoriteRecords(ctx context.Context) ([]favorites.Record, error)
	favorites.Service
}

// Channel is the live update channel; *live.Consumer implements it.
type Channel interface {
	Open(ctx context.Context, source scan.SourceID)
	Close()
}

// Recorder archives applied snapshots.
type Recorder interface {
	RecordSnapshot(ctx context.Context, name string, rs scan.RowSet) error
}

// Mirror propagates confirmed favorite changes to another system.
type Mirror interface {
	Favorite(ctx context.Context, key string) error
	Unfavorite(ctx context.Context, key string) error
}

// Options wires optional collaborators.
type Options struct {
	// Channel builds the live channel delivering into the given sink.
	Channel  func(live.Sink) Channel
	Recorder Recorder
	Mirror   Mirror
	Logger   *slog.Logger
}

// EventType classifies observer events.
type EventType string

const (
	// EventView means View() would now return something different.
	EventView EventType = "view"
	// EventNotice carries a display-ready message.
	EventNotice EventType = "notice"
)

// Level is a notice severity.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notice is a message meant for the user.
type Notice struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
	Err   error  `json:"-"`
}

// Event is delivered to subscribers.
type Event struct {
	Type     EventType `json:"type"`
	Revision uint64    `json:"revision"`
	Notice   *Notice   `json:"notice,omitempty"`
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	backend  Backend
	channel  Channel
	recorder Recorder
	mirror   Mirror
	log      *slog.Logger

	life context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	chanMu sync.Mutex // serialises channel open/close against selection

	rev atomic.Uint64

	mu         sync.Mutex
	epoch      uint64
	selection  *ttscanner.Selection
	name       string
	loading    bool
	rows       scan.RowSet
	targetCols []string
	filters    filter.Spec
	targets    filter.TargetState
	sort       tablesort.State
	visible    []string
	favs       *favorites.Map
	chanState  live.State
	updated    map[string]bool

	dataRev  uint64 // bumped by rows/filters/targets/sort changes
	cacheRev uint64
	cache    []scan.Row

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan Event
}

// New creates an orchestrator. Call Close to stop the live channel and wait
// for background work.
func New(backend Backend, opts Options) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	life, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		backend:  backend,
		recorder: opts.Recorder,
		mirror:   opts.Mirror,
		log:      log.With("component", "viewmodel"),
		life:     life,
		stop:     stop,
		subs:     make(map[int]chan Event),
		cacheRev: ^uint64(0),
	}
	if opts.Channel != nil {
		o.channel = opts.Channel(o)
	}
	return o
}

// Close stops the live channel and waits for background hydration and
// archiving to finish.
func (o *Orchestrator) Close() {
	o.chanMu.Lock()
	if o.channel != nil {
		o.channel.Close()
	}
	o.chanMu.Unlock()
	o.stop()
	o.wg.Wait()
}

// Subscribe returns a channel that receives events. bufSize controls the
// channel buffer; slow consumers will have events dropped, so treat
// EventView as "re-read View" rather than a delta.
func (o *Orchestrator) Subscribe(bufSize int) (int, <-chan Event) {
	ch := make(chan Event, bufSize)
	o.subsMu.Lock()
	id := o.nextSubID
	o.nextSubID++
	o.subs[id] = ch
	o.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (o *Orchestrator) Unsubscribe(id int) {
	o.subsMu.Lock()
	if ch, ok := o.subs[id]; ok {
		delete(o.subs, id)
		close(ch)
	}
	o.subsMu.Unlock()
}

func (o *Orchestrator) broadcast(e Event) {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	for _, ch := range o.subs {
		select {
		case ch <- e:
		default:
			// Slow consumer, drop event.
		}
	}
}

// changed bumps the revision and tells subscribers to re-read the view.
func (o *Orchestrator) changed() {
	rev := o.rev.Add(1)
	o.broadcast(Event{Type: EventView, Revision: rev})
}

func (o *Orchestrator) notice(level Level, text string, err error) {
	if err != nil {
		o.log.Debug("notice", "level", string(level), "text", text, "error", err)
	}
	o.broadcast(Event{Type: EventNotice, Revision: o.rev.Load(), Notice: &Notice{Level: level, Text: text, Err: err}})
}

// touchData marks the derived rows dirty. Caller holds o.mu.
func (o *Orchestrator) touchData() { o.dataRev++ }

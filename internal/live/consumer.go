// Package live consumes the per-source push channel that delivers versioned
// row snapshots, reconnecting silently whenever the transport drops.
package live

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"scanwatch/internal/scan"
)

// State is the channel lifecycle position.
type State int32

const (
	Closed State = iota
	Connecting
	Open
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Reconnecting:
		return "reconnecting"
	default:
		return "closed"
	}
}

// Sink receives decoded snapshots. Apply reports whether the snapshot was
// accepted; a false return means it was stale or for another source.
type Sink interface {
	ApplySnapshot(scan.RowSet) bool
}

// Streamer is the transport used by the Consumer; *Client implements it.
type Streamer interface {
	Stream(ctx context.Context, url, lastID string, onOpen func(), onEvent func(Event)) (*EventReader, error)
}

// Options configures a Consumer.
type Options struct {
	// URL returns the stream endpoint for a source.
	URL func(scan.SourceID) string
	// MinBackoff and MaxBackoff bound the reconnect delay, which doubles
	// after every failed attempt and resets once a connection opens.
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// OnState, when set, observes every state transition of the current
	// channel.
	OnState func(scan.SourceID, State)
}

// Consumer holds at most one open channel at a time.
type Consumer struct {
	stream Streamer
	sink   Sink
	opts   Options
	log    *slog.Logger

	opMu sync.Mutex // serialises Open/Close

	mu      sync.Mutex
	gen     uint64
	source  scan.SourceID
	state   State
	version int64
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewConsumer builds a consumer delivering snapshots to sink.
func NewConsumer(stream Streamer, sink Sink, opts Options, log *slog.Logger) *Consumer {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 30 * time.Second
		if opts.MaxBackoff < opts.MinBackoff {
			opts.MaxBackoff = opts.MinBackoff
		}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{
		stream: stream,
		sink:   sink,
		opts:   opts,
		log:    log.With("component", "live"),
	}
}

// State returns the current channel's source and state.
func (c *Consumer) State() (scan.SourceID, State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source, c.state
}

// Open starts listening to source. Any previous channel is closed, and its
// goroutine has exited, before the new one starts. The channel keeps
// reconnecting until Close, another Open, or ctx cancellation.
func (c *Consumer) Open(ctx context.Context, source scan.SourceID) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.closeLocked()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.source = source
	c.version = 0
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.run(runCtx, gen, source, done)
}

// Close stops the current channel and waits for it to exit. No snapshot is
// delivered to the sink after Close returns.
func (c *Consumer) Close() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.closeLocked()
}

func (c *Consumer) closeLocked() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Consumer) setState(gen uint64, source scan.SourceID, s State) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = s
	c.mu.Unlock()

	if prev != s {
		c.log.Debug("channel state", "source", source, "from", prev.String(), "to", s.String())
		if c.opts.OnState != nil {
			c.opts.OnState(source, s)
		}
	}
}

func (c *Consumer) run(ctx context.Context, gen uint64, source scan.SourceID, done chan struct{}) {
	defer close(done)
	defer c.setState(gen, source, Closed)

	url := c.opts.URL(source)
	backoff := c.opts.MinBackoff
	var lastID string

	for {
		c.setState(gen, source, Connecting)
		er, err := c.stream.Stream(ctx, url, lastID,
			func() {
				c.setState(gen, source, Open)
				backoff = c.opts.MinBackoff
			},
			func(ev Event) { c.handle(ctx, gen, source, ev) },
		)
		if ctx.Err() != nil {
			return
		}

		delay := backoff
		if er != nil {
			lastID = er.LastID()
			if r := er.Retry(); r > 0 {
				delay = r
			}
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		c.log.Info("live channel dropped, reconnecting", "source", source, "error", err, "delay", delay)
		c.setState(gen, source, Reconnecting)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		backoff = min(backoff*2, c.opts.MaxBackoff)
	}
}

func (c *Consumer) handle(ctx context.Context, gen uint64, source scan.SourceID, ev Event) {
	if ev.Type != "" && ev.Type != "message" {
		c.log.Debug("ignoring event", "source", source, "type", ev.Type)
		return
	}
	msg, err := ParseMessage(source, []byte(ev.Data))
	if err != nil {
		c.log.Warn("discarding malformed live message", "source", source, "error", err)
		return
	}
	if msg.Source != source {
		c.log.Debug("discarding message for other source", "channel", source, "source", msg.Source)
		return
	}

	c.mu.Lock()
	if c.gen != gen || ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	if msg.Version <= c.version {
		held := c.version
		c.mu.Unlock()
		c.log.Debug("discarding stale live message", "source", source, "version", msg.Version, "held", held)
		return
	}
	c.mu.Unlock()

	if c.sink.ApplySnapshot(msg.RowSet()) {
		c.mu.Lock()
		if c.gen == gen && msg.Version > c.version {
			c.version = msg.Version
		}
		c.mu.Unlock()
	}
}

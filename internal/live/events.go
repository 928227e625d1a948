package live

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"
)

// Event is one dispatched text/event-stream event.
type Event struct {
	ID   string
	Type string // "" means the default "message" type
	Data string
}

// EventReader decodes a text/event-stream body. Lines may be arbitrarily
// long; row snapshots routinely exceed bufio.Scanner's default token size.
type EventReader struct {
	r      *bufio.Reader
	lastID string
	retry  time.Duration
}

// NewEventReader wraps r.
func NewEventReader(r io.Reader) *EventReader {
	return &EventReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// LastID returns the most recent event id seen on the stream.
func (er *EventReader) LastID() string { return er.lastID }

// Retry returns the reconnection delay most recently requested by the server,
// or 0 when none was sent.
func (er *EventReader) Retry() time.Duration { return er.retry }

// Next blocks until a complete event is available. Comment lines and events
// without data are skipped. An event cut off by the end of the stream is
// discarded and io.EOF returned.
func (er *EventReader) Next() (Event, error) {
	var (
		ev   Event
		data strings.Builder
		seen bool
	)
	for {
		line, err := er.r.ReadString('\n')
		if err != nil {
			// A partial trailing line never completes an event.
			if errors.Is(err, io.EOF) {
				return Event{}, io.EOF
			}
			return Event{}, err
		}
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")

		if line == "" {
			if !seen {
				ev = Event{}
				continue
			}
			ev.Data = strings.TrimSuffix(data.String(), "\n")
			ev.ID = er.lastID
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data.WriteString(value)
			data.WriteByte('\n')
			seen = true
		case "event":
			ev.Type = value
		case "id":
			if !strings.ContainsRune(value, 0) {
				er.lastID = value
			}
		case "retry":
			if ms, err := strconv.ParseUint(value, 10, 32); err == nil {
				er.retry = time.Duration(ms) * time.Millisecond
			}
		}
	}
}

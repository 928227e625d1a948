package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"scanwatch/internal/viewmodel"
)

// handleEvents streams orchestrator events as server-sent events. A view
// event for the current revision is sent first so clients render at once.
func (s *DashboardServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id, ch := s.vm.Subscribe(64)
	defer s.vm.Unsubscribe(id)

	send := func(ev viewmodel.Event) error {
		b, err := json.Marshal(ev)
		if err != nil {
			return nil
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, b); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := send(viewmodel.Event{Type: viewmodel.EventView, Revision: s.vm.View().Revision}); err != nil {
		return
	}

	ping := time.NewTicker(s.keepAlive)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := send(ev); err != nil {
				return
			}
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

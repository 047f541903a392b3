package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/tablewatch/tablewatch/notify"
)

// handleEvents streams a connection's events as server-sent events until the
// client goes away or the hub closes. Each event carries its activity log id
// so clients can resume through /activity?since=.
func (h *Handlers) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "connection")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeFailure(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	if _, err := h.conns.Lookup(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	events, cancel := h.hub.Subscribe(notify.Filter{Connections: []string{id}})
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, ": subscribed to %s\n\n", id)
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	log.Debug().Str("connection", id).Msg("Event stream opened")
	defer log.Debug().Str("connection", id).Msg("Event stream closed")

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Warn().Err(err).Int64("event_id", ev.ID).Msg("Failed to encode event")
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bdobrica/Sekimori/common/version"
	"github.com/bdobrica/Sekimori/internal/sekimori/notify"
)

// keepAliveInterval spaces the SSE comment lines that keep intermediary
// proxies from dropping idle connections.
const keepAliveInterval = 15 * time.Second

// capabilities is the first event on every SSE connection, so clients can
// discover what the engine will send before anything happens.
type capabilities struct {
	Engine  string   `json:"engine"`
	Version string   `json:"version"`
	Events  []string `json:"events"`
}

// handleEvents serves GET /api/v1/events as a Server-Sent Events stream.
//
// The stream opens with a capabilities event.  With ?pending=true the
// current pending set is replayed as approval_request events before live
// delivery starts, so a reconnecting client misses nothing actionable.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event channel not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe before the pending snapshot so nothing slips between the
	// snapshot read and live delivery.
	sub := s.events.Subscribe()
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, "capabilities", capabilities{
		Engine:  "sekimori",
		Version: version.Version,
		Events: []string{
			string(notify.EventRequest),
			string(notify.EventDecision),
			string(notify.EventCancelled),
			string(notify.EventExpired),
		},
	})
	flusher.Flush()

	if r.URL.Query().Get("pending") == "true" {
		pending, err := s.ledger.ListPending(r.Context())
		if err != nil {
			slog.Warn("sse: pending snapshot failed", "err", err)
		}
		for _, req := range pending {
			writeSSE(w, string(notify.EventRequest), notify.Event{
				Type:      notify.EventRequest,
				Timestamp: time.Now(),
				Request:   req,
			})
		}
		flusher.Flush()
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.C:
			if !open {
				// Dropped as a slow subscriber or the fanout shut down.
				return
			}
			writeSSE(w, string(ev.Type), ev)
			flusher.Flush()
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

// writeSSE writes one event in text/event-stream framing.
func writeSSE(w http.ResponseWriter, name string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("sse: marshal event", "event", name, "err", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}

package controlplane

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsPollInterval is how often handleWSEvents re-checks the store for new
// events on a given run, pushing each new batch as it's found.
const wsPollInterval = 500 * time.Millisecond

// handleWSEvents upgrades to a websocket and pushes the same Event payloads
// GET /v1/runs/{id}/events delivers via long-poll, for clients that prefer a
// push channel. Best-effort: a write failure just closes the socket, the
// underlying event stream is unaffected.
func (s *Server) handleWSEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("runId")
	if runID == "" {
		writeError(w, http.StatusBadRequest, errRequired("runId"))
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	after := queryInt64(r, "after", 0)
	ticker := time.NewTicker(wsPollInterval)
	defer ticker.Stop()

	var notify <-chan struct{}
	if s.EventBus != nil {
		var unsubscribe func()
		notify, unsubscribe = s.EventBus.Subscribe(runID)
		defer unsubscribe()
	}

	for {
		select {
		case <-notify:
		case <-ticker.C:
		}

		events, err := s.Store.ListEventsAfter(r.Context(), runID, after, 200)
		if err != nil {
			return
		}
		if len(events) == 0 {
			continue
		}
		if err := conn.WriteJSON(map[string]any{"events": events}); err != nil {
			return
		}
		after = events[len(events)-1].Ts
	}
}

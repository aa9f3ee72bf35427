package controlplane

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/advatar/clawdex-sub000/internal/taskengine"
)

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskID      string `json:"taskId"`
		Title       string `json:"title"`
		Prompt      string `json:"prompt"`
		CodexPath   string `json:"codexPath"`
		AutoApprove *bool  `json:"autoApprove"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	autoApprove := true
	if req.AutoApprove != nil {
		autoApprove = *req.AutoApprove
	}

	run, err := s.TaskEngine.StartTaskAsyncWithBroker(r.Context(), taskengine.TaskRunOptions{
		TaskID:      req.TaskID,
		Title:       req.Title,
		Prompt:      req.Prompt,
		CodexPath:   req.CodexPath,
		AutoApprove: autoApprove,
	}, s.Broker)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

// eventPollInterval is how often handleRunEvents re-checks the store while
// long-polling, mirroring daemon_server.rs's wait_for_events.
const eventPollInterval = 200 * time.Millisecond

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	after := queryInt64(r, "after", 0)
	limit := queryInt(r, "limit", 200)
	waitMs := queryInt64(r, "wait", 0)

	events, err := s.Store.ListEventsAfter(r.Context(), runID, after, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if len(events) > 0 || waitMs <= 0 {
		writeJSON(w, http.StatusOK, map[string]any{"events": events})
		return
	}

	var notify <-chan struct{}
	if s.EventBus != nil {
		var unsubscribe func()
		notify, unsubscribe = s.EventBus.Subscribe(runID)
		defer unsubscribe()
	}

	deadline := time.Now().Add(time.Duration(waitMs) * time.Millisecond)
	for time.Now().Before(deadline) {
		wait := eventPollInterval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		select {
		case <-notify:
		case <-time.After(wait):
		}

		events, err = s.Store.ListEventsAfter(r.Context(), runID, after, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if len(events) > 0 {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

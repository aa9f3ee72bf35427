package controlplane

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/advatar/clawdex-sub000/internal/daemon"
)

func (s *Server) handleListCronJobs(w http.ResponseWriter, r *http.Request) {
	includeDisabled := queryBool(r, "includeDisabled", true)
	jobs, err := s.CronEngine.Registry.List(includeDisabled)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleAddCronJob(w http.ResponseWriter, r *http.Request) {
	var fields map[string]any
	if err := decodeJSON(r, &fields); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	job, err := s.CronEngine.Registry.Add(fields)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) handlePatchCronJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body map[string]any
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	patch := body
	if nested, ok := body["patch"].(map[string]any); ok {
		patch = nested
	}
	job, err := s.CronEngine.Registry.Update(id, patch)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

// handleRunCronJobNow triggers a job out of band: {mode: "due"|"force"}.
// "force" bypasses the enabled/due checks; "due" (the default) still
// requires the job to be enabled and due. Routed through the daemon's
// command channel since only the running loop holds the JobRunner adapter.
func (s *Server) handleRunCronJobNow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Mode string `json:"mode"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	forced := req.Mode == "force"

	resultCh := make(chan daemon.RunCronJobResult, 1)
	s.Daemon.Commands() <- daemon.Command{
		RunCronJob: &daemon.RunCronJobCommand{JobID: id, Force: forced, Result: resultCh},
	}
	result := <-resultCh
	if result.Err != nil {
		writeError(w, http.StatusInternalServerError, result.Err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ran": result.Ran, "reason": result.Reason})
}

package controlplane

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/advatar/clawdex-sub000/internal/broker"
)

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"approvals":  s.Broker.ListPendingApprovals(),
		"userInputs": s.Broker.ListPendingInputs(),
	})
}

func (s *Server) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Decision string         `json:"decision"`
		Evidence map[string]any `json:"evidence"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var decision broker.ApprovalDecision
	switch strings.ToLower(req.Decision) {
	case "accept", "approved":
		decision = broker.DecisionAccept
	case "cancel":
		decision = broker.DecisionCancel
	default:
		decision = broker.DecisionDecline
	}

	result := s.Broker.ResolveApproval(id, decision, req.Evidence)
	switch result.Status {
	case broker.ResolveNotFound:
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "status": result.Status})
	case broker.ResolveRejected:
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "status": result.Status, "reason": result.Reason})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": result.Status})
	}
}

// userInputAnswer is one question's submitted answer list, matching the
// original's ToolRequestUserInputAnswer shape.
type userInputAnswer struct {
	Answers []string `json:"answers"`
}

func (s *Server) handleResolveUserInput(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Action  string                      `json:"action"`
		Answers map[string]userInputAnswer `json:"answers"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var resolution broker.UserInputResolution
	switch req.Action {
	case "skip":
		resolution = broker.SkipUserInput()
	case "cancel":
		resolution = broker.CancelUserInput()
	default:
		flat := make(map[string]string, len(req.Answers))
		for question, answer := range req.Answers {
			flat[question] = strings.Join(answer.Answers, ", ")
		}
		resolution = broker.SubmitUserInput(flat)
	}

	ok := s.Broker.ResolveUserInput(id, resolution)
	writeJSON(w, http.StatusOK, map[string]any{"ok": ok})
}

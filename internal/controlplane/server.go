// Package controlplane exposes the daemon's HTTP surface: task/run CRUD,
// event long-polling, cron job management, and approval/user-input
// resolution, plus a Prometheus metrics endpoint and an optional websocket
// event push channel. Ported from clawdex/src/daemon_server.rs's
// handle_request dispatch.
package controlplane

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/advatar/clawdex-sub000/internal/broker"
	"github.com/advatar/clawdex-sub000/internal/cronengine"
	"github.com/advatar/clawdex-sub000/internal/daemon"
	"github.com/advatar/clawdex-sub000/internal/gateway"
	"github.com/advatar/clawdex-sub000/internal/store"
	"github.com/advatar/clawdex-sub000/internal/taskengine"
)

// Server holds every dependency a route handler needs.
type Server struct {
	Store      store.Store
	Broker     *broker.Broker
	TaskEngine *taskengine.Engine
	CronEngine *cronengine.Engine
	Daemon     *daemon.Daemon
	GatewayDir string
	RouteTTLMs *int64
	// EventBus shortcuts handleRunEvents/handleWSEvents's poll wait when the
	// store notifies a run's events changed; nil falls back to pure polling.
	EventBus store.EventBus
}

// New returns a Server wired to the given daemon components. bus may be nil.
func New(st store.Store, b *broker.Broker, te *taskengine.Engine, ce *cronengine.Engine, d *daemon.Daemon, gatewayDir string, routeTTLMs *int64, bus store.EventBus) *Server {
	return &Server{
		Store:      st,
		Broker:     b,
		TaskEngine: te,
		CronEngine: ce,
		Daemon:     d,
		GatewayDir: gatewayDir,
		RouteTTLMs: routeTTLMs,
		EventBus:   bus,
	}
}

// Router builds the mux.Router exposing every route in spec.md §6 and
// SPEC_FULL.md §6A.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/v1/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/v1/tasks", s.handleListTasks).Methods(http.MethodGet)
	r.HandleFunc("/v1/tasks", s.handleCreateTask).Methods(http.MethodPost)

	r.HandleFunc("/v1/runs", s.handleCreateRun).Methods(http.MethodPost)
	r.HandleFunc("/v1/runs/{id}/events", s.handleRunEvents).Methods(http.MethodGet)

	r.HandleFunc("/v1/cron/jobs", s.handleListCronJobs).Methods(http.MethodGet)
	r.HandleFunc("/v1/cron/jobs", s.handleAddCronJob).Methods(http.MethodPost)
	r.HandleFunc("/v1/cron/jobs/{id}", s.handlePatchCronJob).Methods(http.MethodPost)
	r.HandleFunc("/v1/cron/jobs/{id}/run", s.handleRunCronJobNow).Methods(http.MethodPost)

	r.HandleFunc("/v1/approvals", s.handleListApprovals).Methods(http.MethodGet)
	r.HandleFunc("/v1/approvals/{id}", s.handleResolveApproval).Methods(http.MethodPost)
	r.HandleFunc("/v1/user-input/{id}", s.handleResolveUserInput).Methods(http.MethodPost)

	r.HandleFunc("/v1/gateway/channels", s.handleGatewayChannels).Methods(http.MethodGet)
	r.HandleFunc("/v1/gateway/incoming", s.handleGatewayIncoming).Methods(http.MethodPost)

	r.Handle("/v1/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/v1/ws/events", s.handleWSEvents).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{
		"ok":    false,
		"error": err.Error(),
		"ts":    time.Now().UnixMilli(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGatewayChannels(w http.ResponseWriter, r *http.Request) {
	result, err := gateway.ListChannels(s.GatewayDir, s.RouteTTLMs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGatewayIncoming(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Channel   string  `json:"channel"`
		From      string  `json:"from"`
		Text      string  `json:"text"`
		AccountID *string `json:"accountId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := gateway.RecordIncoming(s.GatewayDir, gateway.RecordIncomingArgs{
		Channel:   req.Channel,
		From:      req.From,
		Text:      req.Text,
		AccountID: req.AccountID,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/advatar/clawdex-sub000/internal/agentproc"
	"github.com/advatar/clawdex-sub000/internal/audit"
	"github.com/advatar/clawdex-sub000/internal/clock"
	"github.com/advatar/clawdex-sub000/internal/store"
)

// approvalTimeout is how long a pending approval or input request waits
// for an operator before it is auto-declined/cancelled.
const approvalTimeout = 30 * time.Minute

type approvalResolution struct {
	decision ApprovalDecision
	evidence map[string]any
}

type pendingApprovalEntry struct {
	pending  PendingApproval
	resultCh chan approvalResolution
}

type pendingUserInputEntry struct {
	pending  PendingUserInput
	resultCh chan UserInputResolution
}

// Broker holds every approval and user-input request currently awaiting a
// decision, and persists the outcome to the store and audit log once one
// arrives. A single Broker is shared by every run on the daemon.
type Broker struct {
	store    store.Store
	auditDir string

	// OnResolve, if set, is called after every approval or user-input
	// request reaches a terminal decision (accept/decline/timeout/skip/
	// cancel/submit). Used by internal/daemon to drive its approval-
	// resolution metric without this package depending on Prometheus.
	OnResolve func(kind, decision string)

	mu        sync.Mutex
	approvals map[string]pendingApprovalEntry
	inputs    map[string]pendingUserInputEntry
}

// New returns a Broker backed by st for durable records and auditDir for
// the hash-chained trail. Either may be left zero-valued by a caller that
// only wants in-memory rendezvous (e.g. tests).
func New(st store.Store, auditDir string) *Broker {
	return &Broker{
		store:     st,
		auditDir:  auditDir,
		approvals: make(map[string]pendingApprovalEntry),
		inputs:    make(map[string]pendingUserInputEntry),
	}
}

// ListPendingApprovals returns every approval currently awaiting a decision.
func (b *Broker) ListPendingApprovals() []PendingApproval {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PendingApproval, 0, len(b.approvals))
	for _, entry := range b.approvals {
		out = append(out, entry.pending)
	}
	return out
}

// ListPendingInputs returns every user-input request currently awaiting an
// answer.
func (b *Broker) ListPendingInputs() []PendingUserInput {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PendingUserInput, 0, len(b.inputs))
	for _, entry := range b.inputs {
		out = append(out, entry.pending)
	}
	return out
}

// ResolveApproval answers a pending approval. An accept decision on a
// high-risk approval is rejected unless evidence carries the exact
// confirmation phrase the pending approval requires.
func (b *Broker) ResolveApproval(id string, decision ApprovalDecision, evidence map[string]any) ResolveApprovalResult {
	b.mu.Lock()
	entry, ok := b.approvals[id]
	if !ok {
		b.mu.Unlock()
		return ResolveApprovalResult{Status: ResolveNotFound}
	}
	if decision == DecisionAccept && entry.pending.HighRisk {
		required := ""
		if entry.pending.ConfirmationPhrase != nil {
			required = *entry.pending.ConfirmationPhrase
		}
		if required == "" || confirmationText(evidence) != required {
			b.mu.Unlock()
			return ResolveApprovalResult{
				Status: ResolveRejected,
				Reason: fmt.Sprintf("high-risk approval requires explicit confirmation phrase: %s", required),
			}
		}
	}
	delete(b.approvals, id)
	b.mu.Unlock()

	entry.resultCh <- approvalResolution{decision: decision, evidence: normalizeEvidence(evidence, entry.pending)}
	return ResolveApprovalResult{Status: ResolveResolved}
}

// ResolveUserInput answers a pending user-input request. Reports false if
// no such request is pending (already resolved, timed out, or unknown id).
func (b *Broker) ResolveUserInput(id string, resolution UserInputResolution) bool {
	b.mu.Lock()
	entry, ok := b.inputs[id]
	if ok {
		delete(b.inputs, id)
	}
	b.mu.Unlock()
	if !ok {
		return false
	}
	entry.resultCh <- resolution
	return true
}

// RequestCommandApproval blocks until a command approval is resolved or
// times out, returning an agentproc decision string.
func (b *Broker) RequestCommandApproval(runID string, params agentproc.CommandApprovalParams) string {
	request, _ := json.Marshal(params)
	if b.requestApproval(runID, "command", request) == DecisionAccept {
		return agentproc.DecisionAccept
	}
	return agentproc.DecisionDecline
}

// RequestFileApproval blocks until a file-change approval is resolved or
// times out, returning an agentproc decision string.
func (b *Broker) RequestFileApproval(runID string, params agentproc.FileChangeApprovalParams) string {
	request, _ := json.Marshal(params)
	if b.requestApproval(runID, "file_change", request) == DecisionAccept {
		return agentproc.DecisionAccept
	}
	return agentproc.DecisionDecline
}

func (b *Broker) requestApproval(runID, kind string, request json.RawMessage) ApprovalDecision {
	highRisk, reasons, phrase := approvalRisk(kind, request)
	pending := PendingApproval{
		ID:                 clock.NewID(),
		RunID:              runID,
		Kind:               kind,
		Request:            request,
		CreatedAtMs:        clock.NowMillis(),
		HighRisk:           highRisk,
		RiskReasons:        reasons,
		ConfirmationPhrase: phrase,
	}
	resultCh := make(chan approvalResolution, 1)

	b.mu.Lock()
	b.approvals[pending.ID] = pendingApprovalEntry{pending: pending, resultCh: resultCh}
	b.mu.Unlock()

	var resolution approvalResolution
	select {
	case resolution = <-resultCh:
	case <-time.After(approvalTimeout):
		resolution = approvalResolution{decision: DecisionDecline, evidence: map[string]any{"reason": "timeout"}}
	}

	b.mu.Lock()
	delete(b.approvals, pending.ID)
	b.mu.Unlock()

	b.recordApproval(runID, kind, request, resolution)
	return resolution.decision
}

// RequestUserInput blocks until a user-input request is answered or times
// out, returning the answers (empty on skip, cancel, or timeout).
func (b *Broker) RequestUserInput(runID string, params agentproc.UserInputParams) map[string]string {
	request, _ := json.Marshal(params)
	pending := PendingUserInput{
		ID:          clock.NewID(),
		RunID:       runID,
		Params:      request,
		CreatedAtMs: clock.NowMillis(),
	}
	resultCh := make(chan UserInputResolution, 1)

	b.mu.Lock()
	b.inputs[pending.ID] = pendingUserInputEntry{pending: pending, resultCh: resultCh}
	b.mu.Unlock()

	var resolution UserInputResolution
	select {
	case resolution = <-resultCh:
	case <-time.After(approvalTimeout):
		resolution = CancelUserInput()
	}

	b.mu.Lock()
	delete(b.inputs, pending.ID)
	b.mu.Unlock()

	answers := resolution.Answers
	if resolution.Kind != InputSubmit {
		answers = map[string]string{}
	}

	eventPayload, err := json.Marshal(struct {
		Action  string            `json:"action"`
		Answers map[string]string `json:"answers"`
	}{Action: string(resolution.Kind), Answers: answers})
	if err == nil {
		b.recordEvent(runID, "tool_user_input", eventPayload)
	}

	decisionStr := string(resolution.Kind)
	b.recordApprovalResult(runID, "tool_user_input", request, &decisionStr)

	return answers
}

func (b *Broker) recordApproval(runID, kind string, request json.RawMessage, resolution approvalResolution) {
	decisionStr := string(resolution.decision)
	b.recordApprovalResult(runID, kind, request, &decisionStr)
	if len(resolution.evidence) == 0 {
		return
	}
	if payload, err := json.Marshal(resolution.evidence); err == nil {
		b.recordEvent(runID, kind+"_evidence", payload)
	}
}

func (b *Broker) recordApprovalResult(runID, kind string, request json.RawMessage, decision *string) {
	if b.store != nil {
		_, _ = b.store.RecordApproval(context.Background(), runID, kind, request, decision)
	}
	if b.auditDir != "" {
		_ = audit.AppendApproval(b.auditDir, runID, kind, request, decision)
	}
	if b.OnResolve != nil && decision != nil {
		b.OnResolve(kind, *decision)
	}
}

func (b *Broker) recordEvent(runID, kind string, payload json.RawMessage) {
	if b.store != nil {
		_, _ = b.store.RecordEvent(context.Background(), runID, kind, payload)
	}
	if b.auditDir != "" {
		_ = audit.AppendEvent(b.auditDir, runID, clock.NewID(), kind, payload)
	}
}

// ApprovalHandler adapts a Broker and a fixed run id to agentproc's
// ApprovalHandler interface.
type ApprovalHandler struct {
	Broker *Broker
	RunID  string
}

func (h ApprovalHandler) CommandDecision(params agentproc.CommandApprovalParams) string {
	return h.Broker.RequestCommandApproval(h.RunID, params)
}

func (h ApprovalHandler) FileDecision(params agentproc.FileChangeApprovalParams) string {
	return h.Broker.RequestFileApproval(h.RunID, params)
}

// UserInputHandler adapts a Broker and a fixed run id to agentproc's
// UserInputHandler interface.
type UserInputHandler struct {
	Broker *Broker
	RunID  string
}

func (h UserInputHandler) RequestUserInput(params agentproc.UserInputParams) map[string]string {
	return h.Broker.RequestUserInput(h.RunID, params)
}

var (
	_ agentproc.ApprovalHandler  = ApprovalHandler{}
	_ agentproc.UserInputHandler = UserInputHandler{}
)

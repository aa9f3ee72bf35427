// Package broker is the rendezvous between the agent process's nested
// approval/user-input requests and whatever answers them: an operator
// acting through the control plane, or the daemon's auto-approval policy.
// A request blocks the calling goroutine on a buffered channel until a
// resolution arrives or the approval window expires. Ported from
// clawdex/src/approvals.rs.
package broker

import "encoding/json"

// PendingApproval is a command or file-change approval awaiting a decision.
type PendingApproval struct {
	ID                 string          `json:"id"`
	RunID              string          `json:"runId"`
	Kind               string          `json:"kind"`
	Request            json.RawMessage `json:"request"`
	CreatedAtMs        int64           `json:"createdAtMs"`
	HighRisk           bool            `json:"highRisk"`
	RiskReasons        []string        `json:"riskReasons,omitempty"`
	ConfirmationPhrase *string         `json:"confirmationPhrase,omitempty"`
}

// PendingUserInput is a tool-originated input request awaiting an answer.
type PendingUserInput struct {
	ID          string          `json:"id"`
	RunID       string          `json:"runId"`
	Params      json.RawMessage `json:"params"`
	CreatedAtMs int64           `json:"createdAtMs"`
}

// ApprovalDecision is how an operator (or the timeout) resolved a pending
// approval.
type ApprovalDecision string

const (
	DecisionAccept  ApprovalDecision = "accept"
	DecisionDecline ApprovalDecision = "decline"
	DecisionCancel  ApprovalDecision = "cancel"
)

// ResolveStatus is the outcome of attempting to resolve a pending approval.
type ResolveStatus string

const (
	ResolveResolved ResolveStatus = "resolved"
	ResolveNotFound ResolveStatus = "not_found"
	ResolveRejected ResolveStatus = "rejected"
)

// ResolveApprovalResult reports whether a resolution attempt took effect.
type ResolveApprovalResult struct {
	Status ResolveStatus
	Reason string
}

// UserInputResolutionKind is how a pending user-input request was answered.
type UserInputResolutionKind string

const (
	InputSubmit UserInputResolutionKind = "submit"
	InputSkip   UserInputResolutionKind = "skip"
	InputCancel UserInputResolutionKind = "cancel"
)

// UserInputResolution is an operator's answer to a pending user-input
// request.
type UserInputResolution struct {
	Kind    UserInputResolutionKind
	Answers map[string]string
}

// SubmitUserInput builds a Submit resolution carrying the given answers.
func SubmitUserInput(answers map[string]string) UserInputResolution {
	return UserInputResolution{Kind: InputSubmit, Answers: answers}
}

// SkipUserInput builds a Skip resolution.
func SkipUserInput() UserInputResolution {
	return UserInputResolution{Kind: InputSkip}
}

// CancelUserInput builds a Cancel resolution, also used as the
// timeout fallback.
func CancelUserInput() UserInputResolution {
	return UserInputResolution{Kind: InputCancel}
}

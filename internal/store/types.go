// Package store is the durable record of tasks, runs, events, approvals,
// and artifacts. The default backend is a local JSON-document file; an
// optional Postgres-backed implementation is available behind the same
// Store interface. See DESIGN.md for why no SQLite driver is used despite
// spec.md naming tasks.sqlite.
package store

import "encoding/json"

// Task is a named unit of recurring work; runs are executed against it.
type Task struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	CreatedAt  int64    `json:"createdAtMs"`
	LastRunAt  *int64   `json:"lastRunAtMs,omitempty"`
	Pinned     bool     `json:"pinned"`
	Tags       []string `json:"tags,omitempty"`
}

// Run statuses. Once terminal, a run's status is never rewritten.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// IsTerminalRunStatus reports whether status is a terminal run state.
func IsTerminalRunStatus(status string) bool {
	switch status {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, "canceled", "interrupted":
		return true
	default:
		return false
	}
}

// Run is one execution of a task against the agent process.
type Run struct {
	ID                 string  `json:"id"`
	TaskID             string  `json:"taskId"`
	Status             string  `json:"status"`
	StartedAt          int64   `json:"startedAtMs"`
	EndedAt            *int64  `json:"endedAtMs,omitempty"`
	ThreadID           *string `json:"threadId,omitempty"`
	SandboxLabel       *string `json:"sandboxLabel,omitempty"`
	ApprovalPolicyName *string `json:"approvalPolicy,omitempty"`
}

// Event is one append-only notification, decision, or artifact milestone
// recorded against a run.
type Event struct {
	ID      string          `json:"id"`
	RunID   string          `json:"runId"`
	Ts      int64           `json:"tsMs"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Approval kinds.
const (
	ApprovalKindCommand        = "command"
	ApprovalKindFileChange     = "file_change"
	ApprovalKindToolUserInput  = "tool_user_input"
)

// Approval is a recorded rendezvous between the agent process and an operator.
type Approval struct {
	ID        string          `json:"id"`
	RunID     string          `json:"runId"`
	Ts        int64           `json:"tsMs"`
	Kind      string          `json:"kind"`
	Request   json.RawMessage `json:"request"`
	Decision  *string         `json:"decision,omitempty"`
	DecidedAt *int64          `json:"decidedAtMs,omitempty"`
}

// Artifact references a file produced by an external artifact generator
// during a run.
type Artifact struct {
	ID           string  `json:"id"`
	RunID        string  `json:"runId"`
	RelativePath string  `json:"relativePath"`
	Mime         *string `json:"mime,omitempty"`
	SHA256       *string `json:"sha256,omitempty"`
	CreatedAt    int64   `json:"createdAtMs"`
}

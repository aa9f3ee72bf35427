// Package audit is the hash-chained append-only record of everything that
// happens during a run: events, approval decisions, artifacts, and tool
// calls, each annotated with a risk-scored action intent. Ported line for
// line from clawdex/src/audit.rs; hashing follows the teacher's own
// sha256+hex idiom in internal/ledger/merkle.go.
package audit

import "encoding/json"

// Risk levels, ordered low to high.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// CheckpointExplicitApproval is the only checkpoint kind the original emits;
// kept as a named constant rather than a free string for callers.
const CheckpointExplicitApproval = "explicit_approval"

// Risk is a classifier's verdict on a prospective action.
type Risk struct {
	Level      string   `json:"level"`
	Score      float32  `json:"score"`
	Reasons    []string `json:"reasons"`
	Checkpoint *string  `json:"checkpoint,omitempty"`
}

// ActionIntent summarizes what an entry's payload is about to do, for
// operators reviewing the audit trail without reading raw payloads.
type ActionIntent struct {
	ID      string   `json:"id"`
	Kind    string   `json:"kind"`
	Summary string   `json:"summary"`
	Targets []string `json:"targets"`
	Risk    Risk     `json:"risk"`
}

// Entry is one hash-chained record. Hash covers every other field (a copy of
// the entry with no Hash field at all, marshaled with PrevHash already set)
// so the chain can be independently re-verified.
type Entry struct {
	ID           string          `json:"id"`
	RunID        string          `json:"runId"`
	Ts           int64           `json:"tsMs"`
	Kind         string          `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
	ActionIntent *ActionIntent   `json:"actionIntent,omitempty"`
	PrevHash     *string         `json:"prevHash,omitempty"`
	Hash         string          `json:"hash"`
}

// Entry kinds.
const (
	KindEvent    = "event"
	KindApproval = "approval"
	KindArtifact = "artifact"
	KindToolCall = "tool_call"
)

// Package cronengine schedules and journals recurring task runs: a job
// registry held as a whole-JSON-array file, exclusive per-job lock files
// guarding concurrent execution, and a run-history journal per job.
// Ported from clawdex/src/cron.rs and the cron-facing half of
// clawdex/share/src/daemon.rs.
package cronengine

import "encoding/json"

// Schedule kinds.
const (
	ScheduleAt    = "at"
	ScheduleEvery = "every"
	ScheduleCron  = "cron"
)

// Schedule is the tagged union of ways a job can be due: a one-shot
// timestamp, a fixed interval, or a cron expression (optionally in a named
// timezone). Only the fields matching Kind are meaningful.
type Schedule struct {
	Kind     string `json:"kind"`
	AtMs     *int64 `json:"atMs,omitempty"`
	EveryMs  *int64 `json:"everyMs,omitempty"`
	Cron     string `json:"cron,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// Delivery is a job's structured announce plan. Channel "last" means
// "resolve the most recently used inbound route at run time".
type Delivery struct {
	Mode       string  `json:"mode"`
	Channel    *string `json:"channel,omitempty"`
	To         *string `json:"to,omitempty"`
	BestEffort *bool   `json:"bestEffort,omitempty"`
}

// PolicyOverride narrows or relaxes the daemon's default sandbox policy for
// one job's execution.
type PolicyOverride struct {
	ApprovalPolicy *string  `json:"approvalPolicy,omitempty"`
	ReadOnly       *bool    `json:"readOnly,omitempty"`
	NetworkAccess  *bool    `json:"networkAccess,omitempty"`
	AllowedRoots   []string `json:"allowedRoots,omitempty"`
	Workspace      *string  `json:"workspace,omitempty"`
}

// SessionTarget values for a job's "sessionTarget" field.
const (
	SessionTargetMain     = "main"
	SessionTargetIsolated = "isolated"
)

// Job is a typed view over one registered job, decoded on demand from the
// loose JSON object the registry actually stores and patches. Keeping the
// registry's storage shape as generic objects (rather than this struct)
// means a caller's custom fields and future-added keys survive an
// add/update round trip untouched, mirroring the original's
// serde_json::Value-backed job record.
type Job struct {
	ID             string
	Title          string
	Prompt         string
	Schedule       *Schedule
	Enabled        bool
	SessionTarget  string
	Delivery       *Delivery
	Policy         *PolicyOverride
	DeleteAfterRun bool
	CreatedAtMs    int64
	UpdatedAtMs    int64
	LastRunAtMs    *int64
	Channel        *string
	To             *string
	BestEffort     bool
}

// RunEntry is one line of a job's run-history journal.
type RunEntry struct {
	RunID       string          `json:"runId"`
	JobID       string          `json:"jobId"`
	StartedAtMs int64           `json:"startedAtMs"`
	EndedAtMs   int64           `json:"endedAtMs"`
	Status      string          `json:"status"`
	Reason      string          `json:"reason"`
	Details     json.RawMessage `json:"details,omitempty"`
}

// Run-history statuses.
const (
	RunResultCompleted      = "completed"
	RunResultSkipped        = "skipped"
	RunResultDeliveryFailed = "delivery_failed"
)

// DeliveryPlan is the resolved announce decision for one job execution:
// whether to announce at all, and where.
type DeliveryPlan struct {
	Channel    *string
	To         *string
	BestEffort bool
	Requested  bool
}

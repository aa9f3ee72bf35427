// Package taskengine prepares and executes a task run against the agent
// process: resolving or creating the task, starting a fresh thread or
// resuming/forking an existing one, wiring the approval/user-input path
// (broker-backed for the daemon, interactive or auto-approve for direct
// CLI use), and recording every notification to the store and audit log.
// Ported from clawdex/src/tasks.rs.
package taskengine

import "github.com/advatar/clawdex-sub000/internal/policy"

// TaskRunOptions configures one PrepareRun/ExecuteRun cycle.
type TaskRunOptions struct {
	CodexPath       string
	AutoApprove     bool
	ApprovalPolicy  string
	Prompt          string
	Title           string
	TaskID          string
	ResumeFromRunID string
	ForkFromRunID   string

	// WorkspacePolicyOverride and WorkspaceDirOverride narrow or relocate
	// the sandbox for this run only, leaving the daemon's base policy
	// untouched for every other run. Used by cron jobs with a per-job
	// policy override; nil/empty means "use the engine's configured
	// workspace policy and directory".
	WorkspacePolicyOverride *policy.WorkspacePolicy
	WorkspaceDirOverride    string
}

// threadLaunchKind discriminates how a run's thread is obtained.
type threadLaunchKind int

const (
	launchStart threadLaunchKind = iota
	launchResume
	launchFork
)

// threadLaunch is the resolved plan for obtaining this run's thread id.
type threadLaunch struct {
	kind             threadLaunchKind
	sourceRunID      string
	sourceThreadID   string
}

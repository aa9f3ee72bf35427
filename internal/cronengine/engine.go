package cronengine

import (
	"context"
	"fmt"
	"strings"

	"github.com/advatar/clawdex-sub000/internal/clock"
	"github.com/advatar/clawdex-sub000/internal/policy"
)

// RunRequest is everything a JobRunner needs to execute one due job's turn.
type RunRequest struct {
	JobID         string
	Prompt        string
	SessionTarget string
	Policy        policy.WorkspacePolicy
	Workspace     string
	ApprovalPolicy string
}

// RunOutcome is what a JobRunner reports back after running a turn.
type RunOutcome struct {
	Summary string
}

// JobRunner executes one cron job's prompt against the agent process. The
// daemon (internal/daemon) supplies the concrete implementation, adapting
// internal/taskengine; cronengine itself only decides *when* and *with what
// policy* a job runs, not how a turn is actually driven. This mirrors the
// original's separation between cron.rs's pure scheduling/bookkeeping and
// share/src/daemon.rs's CodexRunner-backed execute_job, translated into an
// explicit Go interface instead of two source files sharing one process.
type JobRunner interface {
	RunJob(ctx context.Context, req RunRequest) (RunOutcome, error)
}

// Engine owns the job registry and executes due jobs against a JobRunner.
type Engine struct {
	Registry     *Registry
	GatewayDir   string
	LocksDir     string
	BasePolicy   policy.WorkspacePolicy
	BaseWorkspace string
	ApprovalPolicy string
}

// NewEngine builds an Engine rooted at paths, with base sandbox policy and
// default approval policy applied to any job that doesn't override them.
func NewEngine(paths policy.Paths, basePolicy policy.WorkspacePolicy, approvalPolicy string) *Engine {
	return &Engine{
		Registry:       NewRegistry(paths.CronDir()),
		GatewayDir:     paths.GatewayDir(),
		LocksDir:       paths.CronLocksDir(),
		BasePolicy:     basePolicy,
		BaseWorkspace:  paths.WorkspaceDir,
		ApprovalPolicy: approvalPolicy,
	}
}

// DueJob pairs a raw job record with its decoded id, for callers that want
// to know what's about to run before running it.
type DueJob struct {
	ID  string
	Raw map[string]any
}

// CollectDue returns every enabled job whose schedule says it's due at now.
func (e *Engine) CollectDue(now int64) ([]DueJob, error) {
	jobs, err := e.Registry.load()
	if err != nil {
		return nil, err
	}
	var due []DueJob
	for _, raw := range jobs {
		if enabled, ok := boolField(raw, "enabled"); ok && !enabled {
			continue
		}
		scheduleRaw, _ := raw["schedule"].(map[string]any)
		schedule := scheduleFromMap(scheduleRaw)
		if schedule == nil {
			continue
		}
		lastRun, hasLastRun := int64Field(raw, "lastRunAtMs", "last_run_at_ms")
		createdAt, hasCreatedAt := int64Field(raw, "createdAtMs", "created_at_ms")
		var lastRunPtr, createdAtPtr *int64
		if hasLastRun {
			lastRunPtr = &lastRun
		}
		if hasCreatedAt {
			createdAtPtr = &createdAt
		}
		if !schedule.IsDue(lastRunPtr, createdAtPtr, now) {
			continue
		}
		due = append(due, DueJob{ID: jobID(raw), Raw: raw})
	}
	return due, nil
}

// RunDue collects and executes every due job, returning the run-history
// entry each executed job recorded (a job another execution holds locked is
// journaled as skipped with reason "locked"). It stops at the first job that
// returns an error, returning the entries collected so far.
func (e *Engine) RunDue(ctx context.Context, runner JobRunner) ([]RunEntry, error) {
	due, err := e.CollectDue(clock.NowMillis())
	if err != nil {
		return nil, err
	}
	entries := make([]RunEntry, 0, len(due))
	for _, job := range due {
		entry, ran, err := e.ExecuteJob(ctx, runner, job.Raw)
		if err != nil {
			return entries, err
		}
		if ran {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// RunJobNow runs one job out of band, bypassing CollectDue's schedule scan:
// used when an operator or the control plane asks for a specific job right
// away. forced skips the enabled/due checks entirely; otherwise the job
// still only runs if it's enabled and its schedule says it's due. ran is
// false when the job doesn't exist or isn't due (reason explains why), or
// when ExecuteJob fails; a job locked by another execution is journaled as
// skipped and reports ran true. Ported from daemon.rs's
// run_cron_job_now.
func (e *Engine) RunJobNow(ctx context.Context, runner JobRunner, id string, forced bool) (ran bool, reason string, err error) {
	raw, ok, err := e.Registry.Get(id)
	if err != nil {
		return false, "", err
	}
	if !ok {
		return false, "not-found", nil
	}

	if !forced {
		if enabled, hasEnabled := boolField(raw, "enabled"); hasEnabled && !enabled {
			return false, "not-due", nil
		}
		scheduleRaw, _ := raw["schedule"].(map[string]any)
		schedule := scheduleFromMap(scheduleRaw)
		if schedule == nil {
			return false, "not-due", nil
		}
		lastRun, hasLastRun := int64Field(raw, "lastRunAtMs", "last_run_at_ms")
		createdAt, hasCreatedAt := int64Field(raw, "createdAtMs", "created_at_ms")
		var lastRunPtr, createdAtPtr *int64
		if hasLastRun {
			lastRunPtr = &lastRun
		}
		if hasCreatedAt {
			createdAtPtr = &createdAt
		}
		if !schedule.IsDue(lastRunPtr, createdAtPtr, clock.NowMillis()) {
			return false, "not-due", nil
		}
	}

	_, ran, err = e.ExecuteJob(ctx, runner, raw)
	return ran, "", err
}

// ExecuteJob runs one job if it isn't locked, recording a run-history entry
// either way (a job another execution holds locked is journaled as skipped
// with reason "locked"). ran is false only when it returns an error before
// anything was journaled: the lock could not be acquired, the job could not
// be marked running, or the agent turn failed. Ported from daemon.rs's
// execute_job.
func (e *Engine) ExecuteJob(ctx context.Context, runner JobRunner, raw map[string]any) (RunEntry, bool, error) {
	id := jobID(raw)
	startedAt := clock.NowMillis()

	prompt, ok := stringField(raw, "prompt")
	if !ok || prompt == "" {
		entry, err := e.Registry.recordRun(id, RunResultSkipped, "missing payload message", map[string]any{"applyState": false})
		return entry, true, err
	}

	lock, err := acquireJobLock(e.LocksDir, id)
	if err != nil {
		return RunEntry{}, false, fmt.Errorf("acquire lock for job %q: %w", id, err)
	}
	if lock == nil {
		entry, err := e.Registry.recordRun(id, RunResultSkipped, "locked", map[string]any{"applyState": false})
		return entry, true, err
	}
	defer lock.Release()

	if err := e.Registry.markRunning(id, startedAt); err != nil {
		return RunEntry{}, false, err
	}

	override := policyOverrideFromMap(raw)
	runPolicy, workspace := applyPolicyOverride(e.BasePolicy, e.BaseWorkspace, override)
	approvalPolicy := e.ApprovalPolicy
	if override.ApprovalPolicy != nil && *override.ApprovalPolicy != "" {
		approvalPolicy = *override.ApprovalPolicy
	}
	sessionTarget, _ := stringField(raw, "sessionTarget")
	if sessionTarget == "" {
		sessionTarget = SessionTargetMain
	}

	outcome, runErr := runner.RunJob(ctx, RunRequest{
		JobID:          id,
		Prompt:         prompt,
		SessionTarget:  sessionTarget,
		Policy:         runPolicy,
		Workspace:      workspace,
		ApprovalPolicy: approvalPolicy,
	})
	// A turn-execution failure is not a delivery failure: daemon.rs's
	// execute_job propagates this case with `?` and never records a run at
	// all, leaving "delivery_failed" reserved for the delivery phase below.
	if runErr != nil {
		return RunEntry{}, false, fmt.Errorf("run job %q: %w", id, runErr)
	}

	endedAt := clock.NowMillis()
	summary := outcome.Summary
	plan := resolveDeliveryPlan(raw)
	status, reason, deliveryErr := deliverResult(e.GatewayDir, id, startedAt, plan, summary)

	details := map[string]any{
		"summary":     summary,
		"runAtMs":     startedAt,
		"durationMs":  endedAt - startedAt,
	}
	if deliveryErr != "" {
		details["error"] = deliveryErr
	}
	entry, err := e.Registry.recordRun(id, status, reason, details)
	if err != nil {
		return entry, true, err
	}

	deleteAfter, _ := boolField(raw, "deleteAfterRun")
	if deleteAfter {
		if _, err := e.Registry.Remove(id); err != nil {
			return entry, true, err
		}
	}
	return entry, true, nil
}

func policyOverrideFromMap(raw map[string]any) PolicyOverride {
	var override PolicyOverride
	policyRaw, ok := raw["policy"].(map[string]any)
	if !ok {
		return override
	}
	if v, ok := stringField(policyRaw, "approvalPolicy", "approval_policy"); ok {
		override.ApprovalPolicy = &v
	}
	if mode, ok := stringField(policyRaw, "sandboxMode", "sandbox_mode"); ok {
		switch {
		case equalsFold(mode, "read-only", "readonly"):
			v := true
			override.ReadOnly = &v
		case equalsFold(mode, "workspace-write", "workspace", "write"):
			v := false
			override.ReadOnly = &v
		}
	}
	if v, ok := boolField(policyRaw, "readOnly", "read_only"); ok {
		override.ReadOnly = &v
	}
	if v, ok := boolField(policyRaw, "networkAccess", "network_access", "internet"); ok {
		override.NetworkAccess = &v
	}
	if roots, ok := stringSliceField(policyRaw, "allowedRoots", "allowed_roots"); ok {
		override.AllowedRoots = roots
	}
	if v, ok := stringField(policyRaw, "workspace"); ok {
		override.Workspace = &v
	}
	return override
}

func equalsFold(s string, candidates ...string) bool {
	for _, c := range candidates {
		if strings.EqualFold(s, c) {
			return true
		}
	}
	return false
}

// applyPolicyOverride layers a job's policy override on top of the
// daemon's base sandbox policy, mirroring apply_workspace_overrides.
func applyPolicyOverride(base policy.WorkspacePolicy, baseWorkspace string, override PolicyOverride) (policy.WorkspacePolicy, string) {
	result := base
	workspace := baseWorkspace

	if override.ReadOnly != nil {
		result.ReadOnly = *override.ReadOnly
	}
	if override.NetworkAccess != nil {
		result.NetworkAccess = *override.NetworkAccess
	}
	if override.AllowedRoots != nil {
		result.AllowedRoots = override.AllowedRoots
	}
	if override.Workspace != nil {
		workspace = *override.Workspace
		if override.AllowedRoots == nil {
			result.AllowedRoots = []string{workspace}
		}
	}
	return result, workspace
}

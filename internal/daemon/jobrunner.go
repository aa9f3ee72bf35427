package daemon

import (
	"context"
	"fmt"
	"strings"

	"github.com/advatar/clawdex-sub000/internal/broker"
	"github.com/advatar/clawdex-sub000/internal/cronengine"
	"github.com/advatar/clawdex-sub000/internal/store"
	"github.com/advatar/clawdex-sub000/internal/taskengine"
)

// latestRunIDForTitle finds the task named taskTitle and returns the id of
// its most recently started run, if that run ever reached a thread id —
// the shared lookup behind both cron's and inbound-session's thread-resume
// logic.
func latestRunIDForTitle(ctx context.Context, st store.Store, taskTitle string) (string, bool, error) {
	task, ok, err := st.FindTaskByTitle(ctx, taskTitle)
	if err != nil || !ok {
		return "", false, err
	}
	run, ok, err := st.LatestRunForTask(ctx, task.ID)
	if err != nil || !ok || run.ThreadID == nil || *run.ThreadID == "" {
		return "", false, err
	}
	return run.ID, true, nil
}

// taskJobRunner adapts taskengine.Engine to cronengine.JobRunner: it's the
// one place that turns a due cron job into an actual agent-process turn,
// keeping agent-process spawning owned by taskengine alone. Ported from the
// cron-facing half of daemon.rs's execute_job, which instead called
// CodexRunner.run_main/run_isolated_with_policy directly.
type taskJobRunner struct {
	engine *taskengine.Engine
	broker *broker.Broker
}

func newTaskJobRunner(engine *taskengine.Engine, b *broker.Broker) *taskJobRunner {
	return &taskJobRunner{engine: engine, broker: b}
}

// RunJob resolves (or creates) the task backing req's session, resuming its
// last run's thread when one exists so a cron job's conversation persists
// across executions exactly like the original's long-lived CodexRunner
// session state.
func (r *taskJobRunner) RunJob(ctx context.Context, req cronengine.RunRequest) (cronengine.RunOutcome, error) {
	title := cronSessionTitle(req.JobID, req.SessionTarget)

	opts := taskengine.TaskRunOptions{
		Title:                   title,
		Prompt:                  req.Prompt,
		ApprovalPolicy:          req.ApprovalPolicy,
		WorkspacePolicyOverride: &req.Policy,
		WorkspaceDirOverride:    req.Workspace,
	}

	if resumeID, ok, err := latestRunIDForTitle(ctx, r.engine.Store, title); err == nil && ok {
		opts.ResumeFromRunID = resumeID
	}

	prepared, err := r.engine.PrepareRun(ctx, opts)
	if err != nil {
		return cronengine.RunOutcome{}, fmt.Errorf("prepare cron run: %w", err)
	}
	message, err := r.engine.ExecuteRun(ctx, prepared, taskengine.ExecuteOptions{Broker: r.broker})
	if err != nil {
		return cronengine.RunOutcome{}, fmt.Errorf("execute cron run: %w", err)
	}
	return cronengine.RunOutcome{Summary: strings.TrimSpace(message)}, nil
}

// cronSessionTitle names the task backing a cron job's session: the shared
// main-thread task for session_target="main", or a job-scoped isolated task
// for session_target="isolated", so concurrent isolated jobs never share a
// thread.
func cronSessionTitle(jobID, sessionTarget string) string {
	if sessionTarget == cronengine.SessionTargetIsolated {
		return "cron:job:" + jobID
	}
	return "cron:main"
}

var _ cronengine.JobRunner = (*taskJobRunner)(nil)

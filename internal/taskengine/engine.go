package taskengine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/advatar/clawdex-sub000/internal/agentproc"
	"github.com/advatar/clawdex-sub000/internal/audit"
	"github.com/advatar/clawdex-sub000/internal/broker"
	"github.com/advatar/clawdex-sub000/internal/clock"
	"github.com/advatar/clawdex-sub000/internal/daemonconfig"
	"github.com/advatar/clawdex-sub000/internal/policy"
	"github.com/advatar/clawdex-sub000/internal/store"
)

// Engine runs tasks against a fixed config/paths/store triple.
type Engine struct {
	Cfg   daemonconfig.Config
	Paths policy.Paths
	Store store.Store
}

// New returns an Engine for the given config, paths, and store.
func New(cfg daemonconfig.Config, paths policy.Paths, st store.Store) *Engine {
	return &Engine{Cfg: cfg, Paths: paths, Store: st}
}

// PreparedRun is the resolved plan for a run, ready for ExecuteRun.
type PreparedRun struct {
	Task           store.Task
	Created        bool
	Run            store.Run
	Prompt         string
	CodexPath      string
	ApprovalPolicy string
	WorkspacePolicy policy.WorkspacePolicy
	WorkspaceDir    string
	launch          threadLaunch
}

// ExecuteOptions tunes how a prepared run is executed.
type ExecuteOptions struct {
	// Broker, if set, routes approvals and user-input requests through it
	// instead of the auto-approve/auto-deny fallback.
	Broker *broker.Broker
	// AutoApprove, when Broker is nil, accepts every approval automatically.
	AutoApprove bool
	// EmitOutput prints progress and the final message to Out (defaults to
	// os.Stdout), mirroring the CLI's synchronous `clawdex task run`.
	EmitOutput bool
	Out        *os.File
}

// PrepareRun resolves the task, allocates a run record, and decides how the
// run's thread will be obtained (start fresh, resume, or fork), without
// talking to the agent process yet.
func (e *Engine) PrepareRun(ctx context.Context, opts TaskRunOptions) (PreparedRun, error) {
	if opts.ResumeFromRunID != "" && opts.ForkFromRunID != "" {
		return PreparedRun{}, fmt.Errorf("cannot set both resume and fork source run ids")
	}
	if opts.Prompt == "" {
		return PreparedRun{}, fmt.Errorf("prompt required")
	}

	if opts.ResumeFromRunID != "" {
		return e.prepareFromExisting(ctx, opts, opts.ResumeFromRunID, launchResume)
	}
	if opts.ForkFromRunID != "" {
		return e.prepareFromExisting(ctx, opts, opts.ForkFromRunID, launchFork)
	}

	task, created, err := e.resolveTask(ctx, opts)
	if err != nil {
		return PreparedRun{}, err
	}

	approvalPolicy := opts.ApprovalPolicy
	if approvalPolicy == "" {
		approvalPolicy = daemonconfig.ResolveApprovalPolicy(e.Cfg)
	}
	wsPolicy, wsDir := e.resolveWorkspace(opts)
	sandbox, err := policy.Resolve(wsPolicy)
	if err != nil {
		return PreparedRun{}, err
	}
	run, err := e.Store.CreateRun(ctx, store.Run{
		TaskID:             task.ID,
		Status:             store.RunStatusRunning,
		SandboxLabel:       ptr(sandbox.Label),
		ApprovalPolicyName: ptr(approvalPolicy),
	})
	if err != nil {
		return PreparedRun{}, err
	}

	return PreparedRun{
		Task:            task,
		Created:         created,
		Run:             run,
		Prompt:          opts.Prompt,
		CodexPath:       daemonconfig.ResolveCodexPath(e.Cfg, opts.CodexPath),
		ApprovalPolicy:  approvalPolicy,
		WorkspacePolicy: wsPolicy,
		WorkspaceDir:    wsDir,
		launch:          threadLaunch{kind: launchStart},
	}, nil
}

// resolveWorkspace returns the sandbox policy and workspace directory to
// use for this run: the caller's override if set, else the engine's own.
func (e *Engine) resolveWorkspace(opts TaskRunOptions) (policy.WorkspacePolicy, string) {
	wsPolicy := e.Paths.WorkspacePolicy
	if opts.WorkspacePolicyOverride != nil {
		wsPolicy = *opts.WorkspacePolicyOverride
	}
	wsDir := e.Paths.WorkspaceDir
	if opts.WorkspaceDirOverride != "" {
		wsDir = opts.WorkspaceDirOverride
	}
	return wsPolicy, wsDir
}

func (e *Engine) prepareFromExisting(ctx context.Context, opts TaskRunOptions, sourceRunID string, kind threadLaunchKind) (PreparedRun, error) {
	sourceRun, ok, err := e.Store.GetRun(ctx, sourceRunID)
	if err != nil {
		return PreparedRun{}, err
	}
	if !ok {
		return PreparedRun{}, fmt.Errorf("source run not found: %s", sourceRunID)
	}
	if sourceRun.ThreadID == nil || *sourceRun.ThreadID == "" {
		return PreparedRun{}, fmt.Errorf("source run missing thread id: %s", sourceRunID)
	}
	task, ok, err := e.Store.GetTask(ctx, sourceRun.TaskID)
	if err != nil {
		return PreparedRun{}, err
	}
	if !ok {
		return PreparedRun{}, fmt.Errorf("task missing for source run: %s", sourceRun.TaskID)
	}

	approvalPolicy := opts.ApprovalPolicy
	if approvalPolicy == "" {
		approvalPolicy = daemonconfig.ResolveApprovalPolicy(e.Cfg)
	}
	wsPolicy, wsDir := e.resolveWorkspace(opts)
	sandbox, err := policy.Resolve(wsPolicy)
	if err != nil {
		return PreparedRun{}, err
	}
	run, err := e.Store.CreateRun(ctx, store.Run{
		TaskID:             task.ID,
		Status:             store.RunStatusRunning,
		ThreadID:           sourceRun.ThreadID,
		SandboxLabel:       ptr(sandbox.Label),
		ApprovalPolicyName: ptr(approvalPolicy),
	})
	if err != nil {
		return PreparedRun{}, err
	}

	return PreparedRun{
		Task:            task,
		Run:             run,
		Prompt:          opts.Prompt,
		CodexPath:       daemonconfig.ResolveCodexPath(e.Cfg, opts.CodexPath),
		ApprovalPolicy:  approvalPolicy,
		WorkspacePolicy: wsPolicy,
		WorkspaceDir:    wsDir,
		launch: threadLaunch{
			kind:           kind,
			sourceRunID:    sourceRunID,
			sourceThreadID: *sourceRun.ThreadID,
		},
	}, nil
}

// RunTask prepares and executes a run synchronously, emitting progress.
func (e *Engine) RunTask(ctx context.Context, opts TaskRunOptions) error {
	prepared, err := e.PrepareRun(ctx, opts)
	if err != nil {
		return err
	}
	_, err = e.ExecuteRun(ctx, prepared, ExecuteOptions{AutoApprove: opts.AutoApprove, EmitOutput: true})
	return err
}

// StartTaskAsync prepares a run and executes it on a background goroutine,
// returning immediately with the run record.
func (e *Engine) StartTaskAsync(ctx context.Context, opts TaskRunOptions) (store.Run, error) {
	prepared, err := e.PrepareRun(ctx, opts)
	if err != nil {
		return store.Run{}, err
	}
	run := prepared.Run
	go func() {
		_, _ = e.ExecuteRun(context.Background(), prepared, ExecuteOptions{AutoApprove: opts.AutoApprove})
	}()
	return run, nil
}

// StartTaskAsyncWithBroker is StartTaskAsync with every approval and
// user-input request routed through b instead of the auto-approve fallback.
func (e *Engine) StartTaskAsyncWithBroker(ctx context.Context, opts TaskRunOptions, b *broker.Broker) (store.Run, error) {
	prepared, err := e.PrepareRun(ctx, opts)
	if err != nil {
		return store.Run{}, err
	}
	run := prepared.Run
	go func() {
		_, _ = e.ExecuteRun(context.Background(), prepared, ExecuteOptions{Broker: b})
	}()
	return run, nil
}

// ExecuteRun spawns the agent process, launches or resumes/forks its
// thread, runs the prompt as a single turn, and records the outcome. It
// returns the turn's final message on success so callers that need the
// result (cron job delivery, in particular) don't have to re-read it back
// out of the store.
func (e *Engine) ExecuteRun(ctx context.Context, prepared PreparedRun, opts ExecuteOptions) (string, error) {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	codexHome := e.Paths.CodexHomeDir()
	if err := os.MkdirAll(codexHome, 0o755); err != nil {
		return "", fmt.Errorf("create %q: %w", codexHome, err)
	}

	env := []string{
		"CODEX_HOME=" + codexHome,
		"CODEX_WORKSPACE_DIR=" + prepared.WorkspaceDir,
		"CLAWDEX_TASK_RUN_ID=" + prepared.Run.ID,
	}
	overrides := daemonconfig.ResolveCodexOverrides(e.Cfg)

	auditDir := e.Paths.AuditDir()
	eventSink := storeEventSink{st: e.Store, auditDir: auditDir, runID: prepared.Run.ID}

	client, err := agentproc.Spawn(prepared.CodexPath, overrides, env)
	if err != nil {
		return "", fmt.Errorf("spawn agent process: %w", err)
	}
	defer client.Close()

	client.SetEventSink(eventSink)
	switch {
	case opts.Broker != nil:
		client.SetApprovalHandler(broker.ApprovalHandler{Broker: opts.Broker, RunID: prepared.Run.ID})
		client.SetUserInputHandler(broker.UserInputHandler{Broker: opts.Broker, RunID: prepared.Run.ID})
	case opts.AutoApprove:
		client.SetApprovalHandler(agentproc.AutoApprovalHandler{Mode: agentproc.ApprovalModeAutoApprove})
		client.SetUserInputHandler(agentproc.AutoUserInputHandler{})
	default:
		stdin := bufio.NewReader(os.Stdin)
		client.SetApprovalHandler(interactiveApprovalHandler{st: e.Store, auditDir: auditDir, runID: prepared.Run.ID, in: stdin, out: out})
		client.SetUserInputHandler(interactiveUserInputHandler{st: e.Store, auditDir: auditDir, runID: prepared.Run.ID, in: stdin, out: out})
	}

	if err := client.Initialize("clawdex", "1.0.0"); err != nil {
		return "", fmt.Errorf("initialize agent process: %w", err)
	}

	threadID, eventKind, eventPayload, err := launchThread(client, prepared.launch)
	if err != nil {
		return "", fmt.Errorf("launch thread: %w", err)
	}
	_ = e.Store.SetRunThread(ctx, prepared.Run.ID, threadID)
	recordEvent(e.Store, auditDir, prepared.Run.ID, eventKind, eventPayload)

	sandbox, err := policy.Resolve(prepared.WorkspacePolicy)
	if err != nil {
		return "", err
	}
	turnOpts := agentproc.TurnStartOptions{
		ApprovalPolicy: ptr(prepared.ApprovalPolicy),
		SandboxPolicy:  ptr(sandbox.Label),
		Cwd:            ptr(prepared.WorkspaceDir),
	}
	outcome, runErr := client.RunTurn(threadID, prepared.Prompt, turnOpts)

	if runErr != nil {
		_ = e.Store.UpdateRunStatus(ctx, prepared.Run.ID, store.RunStatusFailed, nil)
		recordEvent(e.Store, auditDir, prepared.Run.ID, "turn_failed", map[string]string{"error": runErr.Error()})
		return "", runErr
	}

	_ = e.Store.UpdateRunStatus(ctx, prepared.Run.ID, store.RunStatusCompleted, nil)
	recordEvent(e.Store, auditDir, prepared.Run.ID, "turn_completed", map[string]any{
		"message": outcome.Message, "warnings": outcome.Warnings,
	})

	if artifacts, err := e.Store.ListArtifacts(ctx, prepared.Run.ID); err == nil && len(artifacts) > 0 {
		recordEvent(e.Store, auditDir, prepared.Run.ID, "artifacts", map[string]any{"artifacts": artifacts})
		if opts.EmitOutput {
			fmt.Fprintln(out, "\n[task] outputs:")
			for _, a := range artifacts {
				if a.Mime != nil {
					fmt.Fprintf(out, "  - %s (%s)\n", a.RelativePath, *a.Mime)
				} else {
					fmt.Fprintf(out, "  - %s\n", a.RelativePath)
				}
			}
		}
	}

	if opts.EmitOutput {
		if prepared.Created {
			fmt.Fprintf(out, "[task] created %s (%s)\n", prepared.Task.ID, prepared.Task.Title)
		}
		fmt.Fprintln(out, outcome.Message)
	}
	return outcome.Message, nil
}

func recordEvent(st store.Store, auditDir, runID, kind string, payload any) {
	ctx := context.Background()
	_, _ = st.RecordEvent(ctx, runID, kind, payload)
	if auditDir == "" {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = audit.AppendEvent(auditDir, runID, clock.NewID(), kind, raw)
}

func launchThread(client *agentproc.Client, launch threadLaunch) (string, string, map[string]any, error) {
	switch launch.kind {
	case launchResume:
		threadID, err := client.ThreadResume(launch.sourceThreadID)
		if err != nil {
			return "", "", nil, err
		}
		return threadID, "thread_resumed", map[string]any{
			"threadId": threadID, "sourceRunId": launch.sourceRunID, "sourceThreadId": launch.sourceThreadID,
		}, nil
	case launchFork:
		threadID, err := client.ThreadFork(launch.sourceThreadID)
		if err != nil {
			return "", "", nil, err
		}
		return threadID, "thread_forked", map[string]any{
			"threadId": threadID, "sourceRunId": launch.sourceRunID, "sourceThreadId": launch.sourceThreadID,
		}, nil
	default:
		threadID, err := client.ThreadStart()
		if err != nil {
			return "", "", nil, err
		}
		return threadID, "thread_started", map[string]any{"threadId": threadID}, nil
	}
}

func (e *Engine) resolveTask(ctx context.Context, opts TaskRunOptions) (store.Task, bool, error) {
	if opts.TaskID != "" {
		task, ok, err := e.Store.GetTask(ctx, opts.TaskID)
		if err != nil {
			return store.Task{}, false, err
		}
		if !ok {
			return store.Task{}, false, fmt.Errorf("task id not found: %s", opts.TaskID)
		}
		return task, false, nil
	}
	if opts.Title != "" {
		task, ok, err := e.Store.FindTaskByTitle(ctx, opts.Title)
		if err != nil {
			return store.Task{}, false, err
		}
		if ok {
			return task, false, nil
		}
		task, err = e.Store.CreateTask(ctx, opts.Title)
		if err != nil {
			return store.Task{}, false, err
		}
		return task, true, nil
	}
	return store.Task{}, false, fmt.Errorf("task run requires a task id or title")
}

func ptr[T any](v T) *T { return &v }

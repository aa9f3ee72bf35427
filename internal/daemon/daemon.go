// Package daemon drives the long-running loop that ties cron, the gateway
// inbox, the heartbeat cycle, and task execution together into one process.
// Ported from clawdex/share/src/daemon.rs's run_daemon_loop.
package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/advatar/clawdex-sub000/internal/broker"
	"github.com/advatar/clawdex-sub000/internal/cronengine"
	"github.com/advatar/clawdex-sub000/internal/daemonconfig"
	"github.com/advatar/clawdex-sub000/internal/gateway"
	"github.com/advatar/clawdex-sub000/internal/policy"
	"github.com/advatar/clawdex-sub000/internal/store"
	"github.com/advatar/clawdex-sub000/internal/taskengine"
)

// tickInterval is the daemon loop's cadence: shutdown check, command drain,
// gateway drain, due-cron execution, heartbeat cycle, sleep.
const tickInterval = 500 * time.Millisecond

// Command is a manually-issued instruction the control plane hands the
// daemon loop between ticks, mirroring daemon.rs's DaemonCommand enum.
type Command struct {
	RunCronJob *RunCronJobCommand
}

// RunCronJobCommand asks the loop to run a specific cron job immediately on
// its next tick, optionally bypassing its enabled/due checks.
type RunCronJobCommand struct {
	JobID  string
	Forced string // reserved for future auth-tagged forcing; "" is untrusted
	Force  bool
	Result chan<- RunCronJobResult
}

// RunCronJobResult reports back the outcome of a RunCronJobCommand.
type RunCronJobResult struct {
	Ran    bool
	Reason string
	Err    error
}

// Daemon holds everything the loop needs: the resolved paths and config, the
// durable store, the approval broker, the cron engine, and the task engine
// used to actually drive agent-process turns for cron jobs, inbound
// messages, and heartbeat cycles alike.
type Daemon struct {
	Cfg            daemonconfig.Config
	Paths          policy.Paths
	Store          store.Store
	Broker         *broker.Broker
	TaskEngine     *taskengine.Engine
	CronEngine     *cronengine.Engine
	Metrics        *Metrics
	ApprovalPolicy string
	RouteTTLMs     *int64

	jobRunner     *taskJobRunner
	commands      chan Command
	lastHeartbeat time.Time
}

// New wires a Daemon from its resolved config/paths/store, along with the
// approval broker and cron engine the caller has already constructed (both
// depend on details — audit directories, base sandbox policy — that belong
// to process startup, not this package).
func New(cfg daemonconfig.Config, paths policy.Paths, st store.Store, b *broker.Broker, cronEngine *cronengine.Engine) *Daemon {
	taskEngine := taskengine.New(cfg, paths, st)
	metrics := NewMetrics()
	b.OnResolve = func(kind, decision string) {
		metrics.ApprovalResolutions.WithLabelValues(decision).Inc()
	}

	gatewayCfg := daemonconfig.GatewayConfig{}
	if cfg.Gateway != nil {
		gatewayCfg = *cfg.Gateway
	}

	d := &Daemon{
		Cfg:            cfg,
		Paths:          paths,
		Store:          st,
		Broker:         b,
		TaskEngine:     taskEngine,
		CronEngine:     cronEngine,
		Metrics:        metrics,
		ApprovalPolicy: daemonconfig.ResolveApprovalPolicy(cfg),
		RouteTTLMs:     gatewayCfg.RouteTTLMs,
		commands:       make(chan Command, 16),
	}
	d.jobRunner = newTaskJobRunner(taskEngine, b)
	return d
}

// Commands returns the channel the control plane sends manual commands on.
func (d *Daemon) Commands() chan<- Command {
	return d.commands
}

// RunJobNow triggers jobID directly, bypassing the command channel. Safe to
// call even when Run's loop isn't active (the CLI's "cron run" subcommand
// uses this; the control plane instead goes through Commands() so the
// already-running loop stays the sole caller of the job runner while the
// daemon is up).
func (d *Daemon) RunJobNow(ctx context.Context, jobID string, force bool) (bool, string, error) {
	return d.CronEngine.RunJobNow(ctx, d.jobRunner, jobID, force)
}

// Run drives the loop until ctx is cancelled. Each tick drains any queued
// commands, drains the gateway inbox, executes every due cron job, and, once
// the heartbeat interval has elapsed since the last cycle, runs one heartbeat
// cycle, in that order, matching run_daemon_loop.
func (d *Daemon) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Daemon) tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		d.Metrics.LoopTickDuration.Observe(time.Since(start).Seconds())
	}()

	d.drainCommands(ctx)

	if err := d.drainInbox(ctx); err != nil {
		slog.Error("gateway inbox drain failed", "error", err)
	}

	if daemonconfig.CronEnabled(d.Cfg) {
		if err := d.runDueCron(ctx); err != nil {
			slog.Error("cron run failed", "error", err)
		}
	}

	heartbeatInterval := time.Duration(daemonconfig.HeartbeatIntervalMs(d.Cfg)) * time.Millisecond
	if daemonconfig.HeartbeatEnabled(d.Cfg) && time.Since(d.lastHeartbeat) >= heartbeatInterval {
		if err := d.runHeartbeatCycle(ctx); err != nil {
			slog.Error("heartbeat cycle failed", "error", err)
		}
		d.lastHeartbeat = time.Now()
	}
}

func (d *Daemon) drainCommands(ctx context.Context) {
	for {
		select {
		case cmd := <-d.commands:
			d.handleCommand(ctx, cmd)
		default:
			return
		}
	}
}

func (d *Daemon) handleCommand(ctx context.Context, cmd Command) {
	if cmd.RunCronJob == nil {
		return
	}
	req := cmd.RunCronJob
	ran, reason, err := d.CronEngine.RunJobNow(ctx, d.jobRunner, req.JobID, req.Force)
	if req.Result != nil {
		req.Result <- RunCronJobResult{Ran: ran, Reason: reason, Err: err}
	}
	if err != nil {
		slog.Error("manual cron trigger failed", "jobId", req.JobID, "error", err)
	}
}

func (d *Daemon) drainInbox(ctx context.Context) error {
	entries, err := gateway.DrainInbox(d.Paths.GatewayDir())
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := d.handleIncomingMessage(ctx, entry); err != nil {
			slog.Error("handle incoming message failed", "sessionKey", entry.SessionKey, "error", err)
		}
	}
	return nil
}

func (d *Daemon) runDueCron(ctx context.Context) error {
	entries, err := d.CronEngine.RunDue(ctx, d.jobRunner)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		d.Metrics.CronExecutions.WithLabelValues(entry.Status).Inc()
	}
	return nil
}

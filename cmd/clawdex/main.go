// Command clawdex is the direct CLI for tasks and cron jobs: create/list/run
// tasks against the agent process without the daemon running, and inspect
// or trigger cron jobs registered under the state directory. Ported from
// clawdex/src/main.rs's Tasks/Cron subcommand dispatch.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/advatar/clawdex-sub000/internal/broker"
	"github.com/advatar/clawdex-sub000/internal/cronengine"
	"github.com/advatar/clawdex-sub000/internal/daemon"
	"github.com/advatar/clawdex-sub000/internal/daemonconfig"
	"github.com/advatar/clawdex-sub000/internal/policy"
	"github.com/advatar/clawdex-sub000/internal/store"
	"github.com/advatar/clawdex-sub000/internal/taskengine"
)

// openStore connects to Postgres when a DSN is configured, falling back to
// the default local FileStore when unset or unreachable. Mirrors
// cmd/clawdexd's openStore so both entrypoints select a backend the same way.
func openStore(cfg daemonconfig.Config, paths policy.Paths) (store.Store, error) {
	dsn := daemonconfig.ResolveDatabaseDSN(cfg)
	if dsn == "" {
		return store.NewFileStore(paths.TasksFile(), paths.EventsDir())
	}
	ps, err := store.OpenPostgresStore(context.Background(), dsn)
	if err != nil {
		slog.Warn("postgres connection failed, falling back to local file store", "error", err)
		return store.NewFileStore(paths.TasksFile(), paths.EventsDir())
	}
	return ps, nil
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	group, rest := os.Args[1], os.Args[2:]

	var err error
	switch group {
	case "tasks":
		err = runTasks(rest)
	case "cron":
		err = runCron(rest)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "clawdex:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: clawdex <tasks|cron> <subcommand> [flags]

tasks list                       list tasks
tasks create --title T            create a task
tasks run [--task-id ID] [--title T] --prompt P [--auto-approve]
tasks resume --run-id ID --prompt P [--auto-approve]
tasks fork --run-id ID --prompt P [--auto-approve]
tasks events --run-id ID [--limit N]

cron list [--include-disabled]
cron add <json-fields>
cron run --id ID [--force]`)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func runTasks(args []string) error {
	if len(args) == 0 {
		usage()
		return fmt.Errorf("missing tasks subcommand")
	}
	sub, rest := args[0], args[1:]

	fs := flag.NewFlagSet("tasks "+sub, flag.ExitOnError)
	stateDir := fs.String("state-dir", "", "state directory override")
	workspace := fs.String("workspace", "", "workspace directory override")

	switch sub {
	case "list":
		fs.Parse(rest)
		cfg, paths, err := daemonconfig.Load(optionalString(*stateDir), optionalString(*workspace))
		if err != nil {
			return err
		}
		st, err := openStore(cfg, paths)
		if err != nil {
			return err
		}
		tasks, err := st.ListTasks(context.Background())
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"tasks": tasks})

	case "create":
		title := fs.String("title", "", "task title")
		fs.Parse(rest)
		if *title == "" {
			return fmt.Errorf("--title is required")
		}
		cfg, paths, err := daemonconfig.Load(optionalString(*stateDir), optionalString(*workspace))
		if err != nil {
			return err
		}
		st, err := openStore(cfg, paths)
		if err != nil {
			return err
		}
		task, err := st.CreateTask(context.Background(), *title)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"task": task})

	case "run", "resume", "fork":
		taskID := fs.String("task-id", "", "existing task id")
		title := fs.String("title", "", "task title (creates or finds by title)")
		prompt := fs.String("prompt", "", "prompt text")
		codexPath := fs.String("codex-path", "", "agent binary override")
		runID := fs.String("run-id", "", "source run id (resume/fork)")
		autoApprove := fs.Bool("auto-approve", false, "auto-approve tool calls and approvals")
		fs.Parse(rest)

		cfg, paths, err := daemonconfig.Load(optionalString(*stateDir), optionalString(*workspace))
		if err != nil {
			return err
		}
		st, err := openStore(cfg, paths)
		if err != nil {
			return err
		}
		engine := taskengine.New(cfg, paths, st)

		opts := taskengine.TaskRunOptions{
			TaskID:         *taskID,
			Title:          *title,
			Prompt:         *prompt,
			CodexPath:      daemonconfig.ResolveCodexPath(cfg, *codexPath),
			AutoApprove:    *autoApprove,
			ApprovalPolicy: daemonconfig.ResolveApprovalPolicy(cfg),
		}
		switch sub {
		case "resume":
			opts.ResumeFromRunID = *runID
		case "fork":
			opts.ForkFromRunID = *runID
		}
		return engine.RunTask(context.Background(), opts)

	case "events":
		runID := fs.String("run-id", "", "run id")
		limit := fs.Int("limit", 200, "max events to return")
		fs.Parse(rest)
		if *runID == "" {
			return fmt.Errorf("--run-id is required")
		}
		cfg, paths, err := daemonconfig.Load(optionalString(*stateDir), optionalString(*workspace))
		if err != nil {
			return err
		}
		st, err := openStore(cfg, paths)
		if err != nil {
			return err
		}
		events, err := st.ListEventsAfter(context.Background(), *runID, 0, *limit)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"events": events})

	default:
		usage()
		return fmt.Errorf("unknown tasks subcommand %q", sub)
	}
}

func runCron(args []string) error {
	if len(args) == 0 {
		usage()
		return fmt.Errorf("missing cron subcommand")
	}
	sub, rest := args[0], args[1:]

	fs := flag.NewFlagSet("cron "+sub, flag.ExitOnError)
	stateDir := fs.String("state-dir", "", "state directory override")
	workspace := fs.String("workspace", "", "workspace directory override")

	switch sub {
	case "list":
		includeDisabled := fs.Bool("include-disabled", true, "include disabled jobs")
		fs.Parse(rest)
		_, paths, err := daemonconfig.Load(optionalString(*stateDir), optionalString(*workspace))
		if err != nil {
			return err
		}
		registry := cronengine.NewRegistry(paths.CronDir())
		jobs, err := registry.List(*includeDisabled)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"jobs": jobs})

	case "add":
		fs.Parse(rest)
		if fs.NArg() != 1 {
			return fmt.Errorf("usage: cron add '<json-fields>'")
		}
		var fields map[string]any
		if err := json.Unmarshal([]byte(fs.Arg(0)), &fields); err != nil {
			return fmt.Errorf("parse job fields: %w", err)
		}
		_, paths, err := daemonconfig.Load(optionalString(*stateDir), optionalString(*workspace))
		if err != nil {
			return err
		}
		registry := cronengine.NewRegistry(paths.CronDir())
		job, err := registry.Add(fields)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"job": job})

	case "run":
		id := fs.String("id", "", "job id")
		force := fs.Bool("force", false, "bypass the enabled/due checks")
		fs.Parse(rest)
		if *id == "" {
			return fmt.Errorf("--id is required")
		}
		cfg, paths, err := daemonconfig.Load(optionalString(*stateDir), optionalString(*workspace))
		if err != nil {
			return err
		}
		st, err := openStore(cfg, paths)
		if err != nil {
			return err
		}
		b := broker.New(st, paths.AuditDir())
		basePolicy := policy.WorkspacePolicy{AllowedRoots: []string{paths.WorkspaceDir}}
		if cfg.WorkspacePolicy != nil {
			basePolicy = *cfg.WorkspacePolicy
		}
		cronEngine := cronengine.NewEngine(paths, basePolicy, daemonconfig.ResolveApprovalPolicy(cfg))
		d := daemon.New(cfg, paths, st, b, cronEngine)

		ran, reason, err := d.RunJobNow(context.Background(), *id, *force)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"ran": ran, "reason": reason})

	default:
		usage()
		return fmt.Errorf("unknown cron subcommand %q", sub)
	}
}

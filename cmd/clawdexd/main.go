// Command clawdexd runs the daemon loop (cron + heartbeat + gateway inbox)
// alongside its HTTP control plane. Ported from clawdex/src/daemon_server.rs's
// run_daemon_server, which spawns the loop on a background thread and then
// serves HTTP in the foreground.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/advatar/clawdex-sub000/internal/broker"
	"github.com/advatar/clawdex-sub000/internal/controlplane"
	"github.com/advatar/clawdex-sub000/internal/cronengine"
	"github.com/advatar/clawdex-sub000/internal/daemon"
	"github.com/advatar/clawdex-sub000/internal/daemonconfig"
	"github.com/advatar/clawdex-sub000/internal/policy"
	"github.com/advatar/clawdex-sub000/internal/store"
)

const shutdownGrace = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found")
	}

	stateDir := flag.String("state-dir", "", "state directory (overrides config/env)")
	workspace := flag.String("workspace", "", "workspace directory (overrides config/env)")
	flag.Parse()

	cfg, paths, err := daemonconfig.Load(optionalString(*stateDir), optionalString(*workspace))
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	st, err := openStore(cfg, paths)
	if err != nil {
		slog.Error("open store", "error", err)
		os.Exit(1)
	}

	bus := newEventBus(cfg)
	st.SetEventBus(bus)

	b := broker.New(st, paths.AuditDir())

	basePolicy := policy.WorkspacePolicy{AllowedRoots: []string{paths.WorkspaceDir}}
	if cfg.WorkspacePolicy != nil {
		basePolicy = *cfg.WorkspacePolicy
	}
	cronEngine := cronengine.NewEngine(paths, basePolicy, daemonconfig.ResolveApprovalPolicy(cfg))

	d := daemon.New(cfg, paths, st, b, cronEngine)
	server := controlplane.New(st, b, d.TaskEngine, cronEngine, d, paths.GatewayDir(), d.RouteTTLMs, bus)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go d.Run(ctx)

	bind := daemonconfig.Bind(cfg)
	httpServer := &http.Server{Addr: bind, Handler: server.Router()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("clawdexd listening", "bind", bind, "stateDir", paths.StateDir, "workspace", paths.WorkspaceDir)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("control plane server exited", "error", err)
		os.Exit(1)
	}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// openStore connects to Postgres when a DSN is configured, falling back to
// the default local FileStore when unset or unreachable.
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

// newEventBus dials Redis for a cross-process event bus when configured,
// falling back to a single-process LocalEventBus on any connection error so
// a missing or unreachable Redis never blocks startup.
func newEventBus(cfg daemonconfig.Config) store.EventBus {
	if !daemonconfig.RedisEnabled(cfg) {
		return store.NewLocalEventBus()
	}
	addr := daemonconfig.ResolveRedisAddr(cfg)
	adapter, err := store.NewGoRedisAdapter(addr, daemonconfig.ResolveRedisPassword(cfg), daemonconfig.ResolveRedisDB(cfg))
	if err != nil {
		slog.Warn("redis connection failed, falling back to in-memory event bus", "addr", addr, "error", err)
		return store.NewLocalEventBus()
	}
	return store.NewRedisEventBus(adapter, "")
}

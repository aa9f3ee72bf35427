// Package daemonconfig loads the daemon's configuration file and resolves
// the state directory / workspace directory / config paths from explicit
// overrides, environment variables, and file contents, in that precedence
// order.
package daemonconfig

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/advatar/clawdex-sub000/internal/policy"
)

// CronConfig toggles the cron engine.
type CronConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// HeartbeatConfig toggles and tunes the heartbeat cycle.
type HeartbeatConfig struct {
	Enabled    *bool                    `yaml:"enabled"`
	IntervalMs *int64                   `yaml:"intervalMs"`
	Prompt     *string                  `yaml:"prompt"`
	AckMaxChars *int                    `yaml:"ackMaxChars"`
	Delivery   *HeartbeatDeliveryConfig `yaml:"delivery"`
}

// HeartbeatDeliveryConfig pins where a non-trivial heartbeat acknowledgement
// gets announced, falling back to the freshest inbound route when unset.
type HeartbeatDeliveryConfig struct {
	Channel   *string `yaml:"channel"`
	To        *string `yaml:"to"`
	AccountID *string `yaml:"accountId"`
}

// MemoryConfig toggles the workspace-memory helper (external collaborator;
// only its enable/citations flags are relevant here).
type MemoryConfig struct {
	Enabled   *bool   `yaml:"enabled"`
	Citations *string `yaml:"citations"`
}

// GatewayConfig tunes the messaging surface.
type GatewayConfig struct {
	RouteTTLMs *int64 `yaml:"routeTtlMs"`
}

// RedisConfig wires a shared event bus across clawdexd processes watching
// the same state directory; unset or unreachable leaves the daemon on its
// single-process LocalEventBus fallback.
type RedisConfig struct {
	Enabled  *bool   `yaml:"enabled"`
	Addr     *string `yaml:"addr"`
	Password *string `yaml:"password"`
	DB       *int    `yaml:"db"`
}

// DatabaseConfig selects the durable store backend; an unset or empty DSN
// leaves the daemon on its default local JSON-document FileStore.
type DatabaseConfig struct {
	DSN *string `yaml:"dsn"`
}

// CodexConfig configures the agent process invocation.
type CodexConfig struct {
	Path            *string  `yaml:"path"`
	ApprovalPolicy  *string  `yaml:"approvalPolicy"`
	ConfigOverrides []string `yaml:"configOverrides"`
}

// MCPConfig lists allow/deny/plugin toggles for MCP tool servers.
type MCPConfig struct {
	Allow   []string        `yaml:"allow"`
	Deny    []string        `yaml:"deny"`
	Plugins map[string]bool `yaml:"plugins"`
}

// PermissionsConfig gates network access and MCP tool exposure.
type PermissionsConfig struct {
	Internet *bool      `yaml:"internet"`
	MCP      *MCPConfig `yaml:"mcp"`
}

// Config is the daemon's top-level configuration document.
type Config struct {
	Workspace       *string                  `yaml:"workspace"`
	Cron            *CronConfig              `yaml:"cron"`
	Heartbeat       *HeartbeatConfig         `yaml:"heartbeat"`
	Memory          *MemoryConfig            `yaml:"memory"`
	Gateway         *GatewayConfig           `yaml:"gateway"`
	Redis           *RedisConfig             `yaml:"redis"`
	Database        *DatabaseConfig          `yaml:"database"`
	Codex           *CodexConfig             `yaml:"codex"`
	Permissions     *PermissionsConfig       `yaml:"permissions"`
	WorkspacePolicy *policy.WorkspacePolicy  `yaml:"workspacePolicy"`
	Bind            *string                  `yaml:"bind"`
}

const (
	defaultHeartbeatIntervalMs = 30 * 60 * 1000
	defaultBind                = "127.0.0.1:18791"
	defaultHeartbeatPrompt     = "Check HEARTBEAT.md for pending instructions and act on them, then reply HEARTBEAT_OK if there is nothing to do."
	defaultHeartbeatAckChars   = 500
)

// Load resolves state dir / workspace dir / config file precedence exactly
// like the original: explicit override, then environment variable, then
// config-file value, then a computed default.
func Load(stateDirOverride, workspaceOverride *string) (Config, policy.Paths, error) {
	stateDir := resolveStateDir(stateDirOverride)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return Config{}, policy.Paths{}, fmt.Errorf("create state dir %q: %w", stateDir, err)
	}

	cfg, err := loadConfigFile(stateDir)
	if err != nil {
		return Config{}, policy.Paths{}, err
	}

	workspaceDir, err := resolveWorkspaceDir(workspaceOverride, cfg)
	if err != nil {
		return Config{}, policy.Paths{}, err
	}

	wp := policy.WorkspacePolicy{}
	if cfg.WorkspacePolicy != nil {
		wp = *cfg.WorkspacePolicy
	}

	paths := policy.Paths{
		StateDir:        stateDir,
		WorkspaceDir:    workspaceDir,
		WorkspacePolicy: wp,
	}

	for _, dir := range []string{paths.CronDir(), paths.SessionsDir(), paths.GatewayDir(), paths.EventsDir(), paths.AuditDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Config{}, policy.Paths{}, fmt.Errorf("create %q: %w", dir, err)
		}
	}

	return cfg, paths, nil
}

func loadConfigFile(stateDir string) (Config, error) {
	if explicit := os.Getenv("CLAWDEX_CONFIG_PATH"); explicit != "" {
		return readConfigFile(explicit)
	}
	yamlPath := filepath.Join(stateDir, "config.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return readConfigFile(yamlPath)
	}
	jsonPath := filepath.Join(stateDir, "config.json")
	if _, err := os.Stat(jsonPath); err == nil {
		return readConfigFile(jsonPath)
	}
	return Config{}, nil
}

func readConfigFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %q: %w", path, err)
	}
	slog.Info("loaded daemon config", "path", path)
	return cfg, nil
}

func resolveStateDir(override *string) string {
	if override != nil && *override != "" {
		return *override
	}
	for _, env := range []string{"CLAWDEX_STATE_DIR", "CODEX_CLAWD_STATE_DIR"} {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".codex", "clawdex")
}

func resolveWorkspaceDir(override *string, cfg Config) (string, error) {
	if override != nil && *override != "" {
		return *override, nil
	}
	for _, env := range []string{"CLAWDEX_WORKSPACE", "CODEX_CLAWD_WORKSPACE_DIR", "CODEX_WORKSPACE_DIR"} {
		if v := os.Getenv(env); v != "" {
			return v, nil
		}
	}
	if cfg.Workspace != nil && *cfg.Workspace != "" {
		return *cfg.Workspace, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve current dir: %w", err)
	}
	return cwd, nil
}

// CronEnabled reports whether the cron engine should run, defaulting to true.
func CronEnabled(cfg Config) bool {
	if cfg.Cron != nil && cfg.Cron.Enabled != nil {
		return *cfg.Cron.Enabled
	}
	return true
}

// HeartbeatEnabled reports whether the heartbeat cycle should run, defaulting to true.
func HeartbeatEnabled(cfg Config) bool {
	if cfg.Heartbeat != nil && cfg.Heartbeat.Enabled != nil {
		return *cfg.Heartbeat.Enabled
	}
	return true
}

// HeartbeatIntervalMs is the heartbeat cadence, defaulting to 30 minutes.
func HeartbeatIntervalMs(cfg Config) int64 {
	if cfg.Heartbeat != nil && cfg.Heartbeat.IntervalMs != nil {
		return *cfg.Heartbeat.IntervalMs
	}
	return defaultHeartbeatIntervalMs
}

// ResolveHeartbeatPrompt is the turn prompt run when the heartbeat cycle
// decides HEARTBEAT.md has pending instructions.
func ResolveHeartbeatPrompt(cfg Config) string {
	if cfg.Heartbeat != nil && cfg.Heartbeat.Prompt != nil && *cfg.Heartbeat.Prompt != "" {
		return *cfg.Heartbeat.Prompt
	}
	return defaultHeartbeatPrompt
}

// ResolveHeartbeatAckMaxChars bounds how much of a heartbeat turn's reply
// gets announced; 0 suppresses delivery entirely.
func ResolveHeartbeatAckMaxChars(cfg Config) int {
	if cfg.Heartbeat != nil && cfg.Heartbeat.AckMaxChars != nil {
		return *cfg.Heartbeat.AckMaxChars
	}
	return defaultHeartbeatAckChars
}

// ResolveHeartbeatDelivery returns the configured channel/to/accountId for
// heartbeat acknowledgements, any of which may be nil.
func ResolveHeartbeatDelivery(cfg Config) (channel, to, accountID *string) {
	if cfg.Heartbeat == nil || cfg.Heartbeat.Delivery == nil {
		return nil, nil, nil
	}
	d := cfg.Heartbeat.Delivery
	return d.Channel, d.To, d.AccountID
}

// Bind is the control-plane HTTP listen address, defaulting to 127.0.0.1:18791.
func Bind(cfg Config) string {
	if cfg.Bind != nil && *cfg.Bind != "" {
		return *cfg.Bind
	}
	return defaultBind
}

// ResolveCodexPath resolves the agent process binary path: explicit override,
// then CLAWDEX_CODEX_PATH, then config, then the bare "codex" lookup-on-PATH
// fallback.
func ResolveCodexPath(cfg Config, override string) string {
	if override != "" {
		return override
	}
	if env := os.Getenv("CLAWDEX_CODEX_PATH"); env != "" {
		return env
	}
	if cfg.Codex != nil && cfg.Codex.Path != nil && *cfg.Codex.Path != "" {
		return *cfg.Codex.Path
	}
	return "codex"
}

// ResolveApprovalPolicy resolves the default approval policy label.
func ResolveApprovalPolicy(cfg Config) string {
	if cfg.Codex != nil && cfg.Codex.ApprovalPolicy != nil && *cfg.Codex.ApprovalPolicy != "" {
		return *cfg.Codex.ApprovalPolicy
	}
	return "on-request"
}

// ResolveCodexOverrides returns the --config key=value overrides for the
// agent process invocation.
func ResolveCodexOverrides(cfg Config) []string {
	if cfg.Codex == nil {
		return nil
	}
	return cfg.Codex.ConfigOverrides
}

// RedisEnabled reports whether clawdexd should dial Redis for its event bus,
// defaulting to false (env var CLAWDEX_REDIS_ADDR also opts in implicitly).
func RedisEnabled(cfg Config) bool {
	if cfg.Redis != nil && cfg.Redis.Enabled != nil {
		return *cfg.Redis.Enabled
	}
	return os.Getenv("CLAWDEX_REDIS_ADDR") != ""
}

// ResolveRedisAddr resolves the Redis address: env var, then config, then
// the conventional local default.
func ResolveRedisAddr(cfg Config) string {
	if env := os.Getenv("CLAWDEX_REDIS_ADDR"); env != "" {
		return env
	}
	if cfg.Redis != nil && cfg.Redis.Addr != nil && *cfg.Redis.Addr != "" {
		return *cfg.Redis.Addr
	}
	return "127.0.0.1:6379"
}

// ResolveRedisPassword resolves the Redis auth password, if any.
func ResolveRedisPassword(cfg Config) string {
	if env := os.Getenv("CLAWDEX_REDIS_PASSWORD"); env != "" {
		return env
	}
	if cfg.Redis != nil && cfg.Redis.Password != nil {
		return *cfg.Redis.Password
	}
	return ""
}

// ResolveRedisDB resolves the Redis logical database index, defaulting to 0.
func ResolveRedisDB(cfg Config) int {
	if cfg.Redis != nil && cfg.Redis.DB != nil {
		return *cfg.Redis.DB
	}
	return 0
}

// ResolveDatabaseDSN resolves the Postgres connection string: env var, then
// config. An empty result means "use the default FileStore".
func ResolveDatabaseDSN(cfg Config) string {
	if env := os.Getenv("CLAWDEX_DATABASE_DSN"); env != "" {
		return env
	}
	if cfg.Database != nil && cfg.Database.DSN != nil {
		return *cfg.Database.DSN
	}
	return ""
}

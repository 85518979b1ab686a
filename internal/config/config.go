// Package config loads and validates paw's YAML configuration: one typed
// struct per concern, defaults applied by a single Normalize pass rather
// than zero-value guessing scattered through business logic.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure for paw.
type Config struct {
	Version int `yaml:"version"`

	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Session   SessionConfig   `yaml:"session"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Shell     ShellConfig     `yaml:"shell"`
	Recall    RecallConfig    `yaml:"recall"`
	Branch    BranchConfig    `yaml:"branch"`
	Tools     ToolsConfig     `yaml:"tools"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the optional network presentation adapter. The
// core treats host/port as reserved for a future adapter; the stdio
// reference adapter ignores them.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LLMConfig configures the OpenAI-compatible chat-completions endpoint.
// Temperature, MaxTokens and RequestTimeout are not sent with chat requests;
// MaxTokens serves only as the token budget in serve's branch auto-trigger
// check.
type LLMConfig struct {
	// Endpoint is the provider's base URL (e.g. "https://api.openai.com/v1"
	// or a local model server's equivalent), not the full chat-completions
	// path — go-openai appends that itself.
	Endpoint       string        `yaml:"endpoint"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	Temperature    float64       `yaml:"temperature"`
	MaxTokens      int           `yaml:"max_tokens"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// SessionConfig configures the Session Manager's backing store.
type SessionConfig struct {
	// Backend is "file" (default) or "postgres".
	Backend string           `yaml:"backend"`
	Dir     string           `yaml:"dir"`
	Postgres PostgresConfig  `yaml:"postgres"`
}

// PostgresConfig configures the optional CockroachDB/Postgres session
// backing store.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// WorkspaceConfig configures the sandboxed filesystem root; `paw serve`
// uses it when no workspace argument is given.
type WorkspaceConfig struct {
	Root string `yaml:"root"`
}

// ShellConfig configures the sandboxed interactive shell worker. Only
// BufferBytes is read; the worker's idle detection uses a fixed 300ms quiet
// window and 3s ceiling whatever IdlePollInterval and IdleTimeout say.
type ShellConfig struct {
	IdlePollInterval time.Duration `yaml:"idle_poll_interval"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	BufferBytes      int           `yaml:"buffer_bytes"`
}

// RecallConfig configures the Recall Engine's decay/promotion behavior and
// embedding provider.
type RecallConfig struct {
	// Backend is "memory" (default, lost on restart) or "sqlite" (durable,
	// backed by SQLitePath).
	Backend    string          `yaml:"backend"`
	SQLitePath string          `yaml:"sqlite_path"`
	DecayStep  float64         `yaml:"decay_step"`
	K          int             `yaml:"k"`
	MinScore   float64         `yaml:"min_score"`
	Embedding  EmbeddingConfig `yaml:"embedding"`
}

// EmbeddingConfig configures the OpenAI-compatible embeddings provider.
type EmbeddingConfig struct {
	// Endpoint is the provider's base URL, as LLMConfig.Endpoint. Empty
	// disables recall embedding (see buildEmbeddingProvider).
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	Dim      int           `yaml:"dim"`
	Timeout  time.Duration `yaml:"timeout"`
}

// BranchConfig configures the Branch Engine's iteration budget and bounded
// history. The two threshold fields are not read: branch.ShouldTrigger uses
// its own constants (0.7 and 20).
type BranchConfig struct {
	TokenUtilizationThreshold float64 `yaml:"token_utilization_threshold"`
	UserTurnCountThreshold    int     `yaml:"user_turn_count_threshold"`
	MaxIterations             int     `yaml:"max_iterations"`
	HistoryCap                int     `yaml:"history_cap"`
}

// ToolsConfig configures the approval policy. MaxCallPairs is not applied
// to any registered tool; retention comes from each tool's own registry
// entry.
type ToolsConfig struct {
	MaxCallPairs int                       `yaml:"max_call_pairs"`
	Approval     map[string]ApprovalConfig `yaml:"approval"`
}

// ApprovalConfig gates a tool before its handler executes. Its key in
// ToolsConfig.Approval is either a tool name or "category:<name>".
type ApprovalConfig struct {
	// Verdict is "allow", "deny", or "ask". Default "allow".
	Verdict string `yaml:"verdict"`
}

// LoggingConfig configures the structured slog logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Normalize fills every zero-valued field with its documented default.
// Called once after decode, never scattered through business logic.
func (c *Config) Normalize() {
	if c.Version == 0 {
		c.Version = CurrentVersion
	}
	normalizeServer(&c.Server)
	normalizeLLM(&c.LLM)
	normalizeSession(&c.Session)
	normalizeWorkspace(&c.Workspace)
	normalizeShell(&c.Shell)
	normalizeRecall(&c.Recall)
	normalizeBranch(&c.Branch)
	normalizeTools(&c.Tools)
	normalizeLogging(&c.Logging)
}

func normalizeServer(c *ServerConfig) {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
}

func normalizeLLM(c *LLMConfig) {
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 60 * time.Second
	}
}

func normalizeSession(c *SessionConfig) {
	if c.Backend == "" {
		c.Backend = "file"
	}
	if c.Dir == "" {
		c.Dir = "~/.paw/sessions"
	}
	if c.Postgres.MaxConns == 0 {
		c.Postgres.MaxConns = 10
	}
	if c.Postgres.ConnMaxLifetime == 0 {
		c.Postgres.ConnMaxLifetime = 5 * time.Minute
	}
}

func normalizeWorkspace(c *WorkspaceConfig) {
	if c.Root == "" {
		c.Root = "."
	}
}

func normalizeShell(c *ShellConfig) {
	if c.IdlePollInterval == 0 {
		c.IdlePollInterval = 300 * time.Millisecond
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 3 * time.Second
	}
	if c.BufferBytes == 0 {
		c.BufferBytes = 64 * 1024
	}
}

func normalizeRecall(c *RecallConfig) {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.DecayStep == 0 {
		c.DecayStep = 0.2
	}
	if c.K == 0 {
		c.K = 3
	}
	if c.MinScore == 0 {
		c.MinScore = 0.75
	}
	if c.Embedding.Timeout == 0 {
		c.Embedding.Timeout = 15 * time.Second
	}
}

func normalizeBranch(c *BranchConfig) {
	if c.TokenUtilizationThreshold == 0 {
		c.TokenUtilizationThreshold = 0.7
	}
	if c.UserTurnCountThreshold == 0 {
		c.UserTurnCountThreshold = 20
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 10
	}
	if c.HistoryCap == 0 {
		c.HistoryCap = 20
	}
}

func normalizeTools(c *ToolsConfig) {
	if c.MaxCallPairs == 0 {
		c.MaxCallPairs = 3
	}
}

func normalizeLogging(c *LoggingConfig) {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

// Validate reports the first configuration error found. Called after
// Normalize so missing-with-no-default fields (like an empty LLM
// endpoint) are caught explicitly rather than silently defaulted.
func (c *Config) Validate() error {
	if c.LLM.Endpoint == "" {
		return fmt.Errorf("llm.endpoint is required")
	}
	if c.Session.Backend != "file" && c.Session.Backend != "postgres" {
		return fmt.Errorf("session.backend must be \"file\" or \"postgres\", got %q", c.Session.Backend)
	}
	if c.Session.Backend == "postgres" && c.Session.Postgres.DSN == "" {
		return fmt.Errorf("session.postgres.dsn is required when session.backend is \"postgres\"")
	}
	if c.Recall.Backend != "memory" && c.Recall.Backend != "sqlite" {
		return fmt.Errorf("recall.backend must be \"memory\" or \"sqlite\", got %q", c.Recall.Backend)
	}
	if err := ValidateVersion(c.Version); err != nil {
		return err
	}
	for name, a := range c.Tools.Approval {
		switch a.Verdict {
		case "", "allow", "deny", "ask":
		default:
			return fmt.Errorf("tools.approval[%s].verdict must be allow, deny, or ask, got %q", name, a.Verdict)
		}
	}
	return nil
}

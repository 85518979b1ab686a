package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/hujiyo/Paw-sub000/internal/agent"
	"github.com/hujiyo/Paw-sub000/internal/branch"
	"github.com/hujiyo/Paw-sub000/internal/chunkstore"
	"github.com/hujiyo/Paw-sub000/internal/config"
	"github.com/hujiyo/Paw-sub000/internal/llm"
	"github.com/hujiyo/Paw-sub000/internal/policy"
	"github.com/hujiyo/Paw-sub000/internal/recall"
	"github.com/hujiyo/Paw-sub000/internal/recall/embeddings"
	"github.com/hujiyo/Paw-sub000/internal/sandbox"
	"github.com/hujiyo/Paw-sub000/internal/session"
	"github.com/hujiyo/Paw-sub000/internal/shell"
	"github.com/hujiyo/Paw-sub000/internal/tools"
	"github.com/hujiyo/Paw-sub000/internal/tools/builtin"
	"github.com/hujiyo/Paw-sub000/pkg/models"
)

const defaultSystemPrompt = "You are paw, an interactive coding agent. Use the available tools to satisfy the user's request; call stay_silent when no visible reply is warranted."

// buildServeCmd creates the "serve" command, the stdio reference
// presentation adapter driving the Turn Engine end to end.
func buildServeCmd() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve [workspace]",
		Short: "Run the interactive agent loop against stdio",
		Long: `Run paw's interactive loop against stdio, the presentation adapter's
minimal reference implementation. --host and --port are reserved for a
future network adapter and otherwise unused by the core.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := ""
			if len(args) == 1 {
				workspace = args[0]
			}
			cfgPath, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfgPath, workspace)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "reserved for a future network adapter")
	cmd.Flags().IntVar(&port, "port", 0, "reserved for a future network adapter")
	return cmd
}

func runServe(ctx context.Context, configPath, workspace string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if workspace == "" {
		workspace = cfg.Workspace.Root
	}

	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := chunkstore.New()
	store.Append(models.KindSystem, defaultSystemPrompt, nil)

	shellWorker := shell.New(workspace, cfg.Shell.BufferBytes, logger)

	registry := tools.NewRegistry()
	resolver := sandbox.Resolver{Root: workspace}
	if err := builtin.Register(registry, resolver, shellWorker); err != nil {
		return fmt.Errorf("register builtin tools: %w", err)
	}

	llmClient := llm.NewClient(cfg.LLM.Endpoint, cfg.LLM.APIKey)

	sessionStore, closeSessionStore, err := buildSessionStore(ctx, cfg.Session)
	if err != nil {
		return fmt.Errorf("build session store: %w", err)
	}
	defer closeSessionStore()
	sessions := session.NewManager(sessionStore)

	recallBackend, closeRecallBackend, err := buildRecallBackend(cfg.Recall)
	if err != nil {
		return fmt.Errorf("build recall backend: %w", err)
	}
	defer closeRecallBackend()
	recallEngine := recall.New(recallBackend, buildEmbeddingProvider(cfg.Recall.Embedding))
	recallEngine.DecayStep = cfg.Recall.DecayStep
	recallEngine.K = cfg.Recall.K
	recallEngine.MinScore = cfg.Recall.MinScore
	recallEngine.Logger = logger

	branchMgr := branch.NewManager(store, registry, llmClient)
	branchMgr.MaxIterations = cfg.Branch.MaxIterations
	branchMgr.HistoryCap = cfg.Branch.HistoryCap
	branchMgr.Model = cfg.LLM.Model
	branchMgr.Logger = logger

	repl := &replLoop{
		store:     store,
		sessions:  sessions,
		branchMgr: branchMgr,
		shell:     shellWorker,
		cfg:       cfg,
		workspace: workspace,
		out:       os.Stdout,
		stdin:     bufio.NewReader(os.Stdin),
	}

	policyEngine := buildPolicyEngine(cfg.Tools, repl.askApproval)
	branchMgr.Policy = policyEngine

	eng := agent.New(store, registry, llmClient)
	eng.Recall = recallEngine
	eng.Sessions = sessions
	eng.Shell = shellWorker
	eng.Model = cfg.LLM.Model
	eng.Workspace = workspace
	eng.Logger = logger
	eng.Policy = policyEngine
	eng.Notify = func(text string) {
		fmt.Fprintln(os.Stdout, text)
	}
	repl.eng = eng

	return repl.run(ctx)
}

// buildPolicyEngine converts the configured approval rules into the
// Approval Policy gate consulted before every tool dispatch (SPEC_FULL.md
// §4.6). ask is invoked synchronously for any rule with verdict "ask".
func buildPolicyEngine(cfg config.ToolsConfig, ask func(policy.Decision) bool) *policy.Engine {
	rules := make(map[string]policy.Rule, len(cfg.Approval))
	for name, a := range cfg.Approval {
		rules[name] = policy.Rule{Verdict: policy.Verdict(a.Verdict)}
	}
	eng := policy.New(rules)
	eng.Ask = ask
	return eng
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func buildRecallBackend(cfg config.RecallConfig) (recall.Backend, func(), error) {
	if cfg.Backend != "sqlite" {
		return recall.NewMemoryBackend(), func() {}, nil
	}
	path := cfg.SQLitePath
	if path == "" {
		path = expandHome("~/.paw/recall.db")
	}
	backend, err := recall.NewSQLiteBackend(path)
	if err != nil {
		return nil, nil, err
	}
	return backend, func() { backend.Close() }, nil
}

func buildEmbeddingProvider(cfg config.EmbeddingConfig) embeddings.Provider {
	if cfg.Endpoint == "" {
		return embeddings.Noop{}
	}
	p := embeddings.NewOpenAICompatible(cfg.Endpoint, cfg.APIKey, cfg.Model, cfg.Dim)
	if cfg.Timeout > 0 {
		p.Timeout = cfg.Timeout
	}
	return p
}

func buildSessionStore(ctx context.Context, cfg config.SessionConfig) (session.Store, func(), error) {
	switch cfg.Backend {
	case "postgres":
		poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("parse postgres dsn: %w", err)
		}
		if cfg.Postgres.MaxConns > 0 {
			poolCfg.MaxConns = cfg.Postgres.MaxConns
		}
		if cfg.Postgres.ConnMaxLifetime > 0 {
			poolCfg.MaxConnLifetime = cfg.Postgres.ConnMaxLifetime
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		store, err := session.NewPGStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	default:
		dir := expandHome(cfg.Dir)
		store, err := session.NewFileStore(dir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return home + strings.TrimPrefix(path, "~")
}

// replLoop drives the stdio presentation adapter: one RunTurn call per
// input line, plus the in-process session command vocabulary from
// spec.md §6.
type replLoop struct {
	eng       *agent.Engine
	store     *chunkstore.Store
	sessions  *session.Manager
	branchMgr *branch.Manager
	shell     *shell.Shell
	cfg       *config.Config
	workspace string
	out       *os.File
	stdin     *bufio.Reader
}

func (r *replLoop) run(ctx context.Context) error {
	fmt.Fprintln(r.out, "paw ready. Type a message, or /help for session commands.")
	for {
		fmt.Fprint(r.out, "> ")
		line, err := r.stdin.ReadString('\n')
		if err != nil {
			return nil
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if trimmed == "exit" || trimmed == "quit" || trimmed == "bye" {
			return nil
		}
		if strings.HasPrefix(trimmed, "/") {
			if done, err := r.handleCommand(ctx, trimmed); err != nil {
				fmt.Fprintln(r.out, "error:", err)
			} else if done {
				return nil
			}
			continue
		}
		result, err := r.eng.RunTurn(ctx, trimmed)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintln(r.out, "error:", err)
			continue
		}
		if result.State == agent.StateEmpty {
			continue
		}
		fmt.Fprintln(r.out, result.FinalContent)

		if trigger, ok := branch.ShouldTrigger(utilization(r.store, r.cfg), countUserTurns(r.store)); ok && r.branchMgr.ActiveBranch() == nil {
			fmt.Fprintf(r.out, "[branch auto-trigger: %s]\n", trigger)
			if err := r.runBranch(ctx, trigger, "Review the parent conversation above and compact it: compress or remove stale turns, then commit and exit the branch."); err != nil {
				fmt.Fprintln(r.out, "branch error:", err)
			}
		}
	}
}

// runBranch opens a branch for trigger and drives its own bounded,
// model-led loop until the branch's own tool calls close it (commit or
// rollback, then exit_branch) or its iteration budget runs out.
func (r *replLoop) runBranch(ctx context.Context, trigger, instruction string) error {
	systemPrompt := defaultSystemPrompt
	if chunks := r.store.Chunks(); len(chunks) > 0 && chunks[0].Kind == models.KindSystem {
		systemPrompt = chunks[0].Content
	}
	if _, err := r.branchMgr.Create(ctx, trigger, systemPrompt, ""); err != nil {
		return err
	}
	result, err := r.branchMgr.Run(ctx, instruction)
	if err != nil {
		return err
	}
	if r.branchMgr.ActiveBranch() != nil {
		fmt.Fprintln(r.out, "[branch still open after its iteration budget]")
	}
	fmt.Fprintln(r.out, "[branch]", result.FinalContent)
	return nil
}

// askApproval is the stdio adapter's synchronous decision callback for an
// "ask" verdict: it surfaces the pending decision on stdout and reads one
// line of operator input from the same reader the REPL loop uses, per
// SPEC_FULL.md §4.6 ("surfaced to the presentation adapter, which the core
// treats as an injected synchronous decision callback").
func (r *replLoop) askApproval(d policy.Decision) bool {
	fmt.Fprintf(r.out, "[approval requested] tool=%s category=%s (%s) — allow? [y/N] ", d.Tool, d.Category, d.Reason)
	line, err := r.stdin.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func utilization(store *chunkstore.Store, cfg *config.Config) float64 {
	if cfg.LLM.MaxTokens <= 0 {
		return 0
	}
	return float64(store.TokenTotal()) / float64(cfg.LLM.MaxTokens)
}

func countUserTurns(store *chunkstore.Store) int {
	count := 0
	for _, c := range store.Chunks() {
		if c.Kind == models.KindUser {
			count++
		}
	}
	return count
}

func (r *replLoop) handleCommand(ctx context.Context, cmd string) (bool, error) {
	fields := strings.Fields(cmd)
	switch fields[0] {
	case "/help":
		fmt.Fprintln(r.out, "/clear /chunks /model <name> /messages /edit <id> <text> /memory /memory edit <text> /sessions /load <id> /delete-session <id> /new /context /context stats /shell [command|close] /branch [instruction] /pass /stop exit|quit|bye")
	case "/clear":
		r.store.ReplaceAll(nil)
		r.store.Append(models.KindSystem, defaultSystemPrompt, nil)
	case "/chunks", "/messages":
		for i, c := range r.store.Chunks() {
			fmt.Fprintf(r.out, "%d [%s] %s\n", i, c.Kind, preview(c.Content))
		}
	case "/model":
		if len(fields) < 2 {
			fmt.Fprintln(r.out, r.eng.Model)
			return false, nil
		}
		r.eng.Model = fields[1]
	case "/edit":
		if len(fields) < 3 {
			return false, fmt.Errorf("usage: /edit <chunk-id> <text>")
		}
		return false, r.store.Edit(fields[1], strings.Join(fields[2:], " "))
	case "/memory":
		if len(fields) >= 2 && fields[1] == "edit" {
			r.store.UpsertMemory(strings.Join(fields[2:], " "))
			return false, nil
		}
		for _, c := range r.store.Chunks() {
			if c.Kind == models.KindMemory {
				fmt.Fprintln(r.out, c.Content)
			}
		}
	case "/sessions":
		summaries, err := r.sessions.List(ctx, 20)
		if err != nil {
			return false, err
		}
		for _, s := range summaries {
			fmt.Fprintf(r.out, "%s  %-30s  %s\n", s.SessionID, s.Title, s.Timestamp.Format("2006-01-02 15:04"))
		}
	case "/load":
		if len(fields) < 2 {
			return false, fmt.Errorf("usage: /load <id>")
		}
		restored, _, ok, err := r.sessions.Load(ctx, fields[1])
		if err != nil {
			return false, err
		}
		if !ok {
			return false, fmt.Errorf("no such session: %s", fields[1])
		}
		r.store.ReplaceAll(restored.Chunks())
	case "/delete-session":
		if len(fields) < 2 {
			return false, fmt.Errorf("usage: /delete-session <id>")
		}
		return false, r.sessions.Delete(ctx, fields[1])
	case "/new":
		r.sessions.New()
		r.store.ReplaceAll(nil)
		r.store.Append(models.KindSystem, defaultSystemPrompt, nil)
	case "/context", "/ctx":
		if len(fields) >= 2 && fields[1] == "stats" {
			fmt.Fprintf(r.out, "chunks=%d tokens=%d\n", r.store.Len(), r.store.TokenTotal())
			return false, nil
		}
		fmt.Fprintf(r.out, "active session: %s\n", r.sessions.ActiveID())
	case "/shell":
		if len(fields) < 2 {
			fmt.Fprintln(r.out, r.shell.Snapshot())
			return false, nil
		}
		if fields[1] == "close" {
			return false, r.shell.Close()
		}
		if err := r.shell.Enqueue(ctx, strings.Join(fields[1:], " "), 400*time.Millisecond); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, r.shell.Snapshot())
	case "/branch":
		instruction := "Review the parent conversation above and compact it: compress or remove stale turns, then commit and exit the branch."
		if len(fields) > 1 {
			instruction = strings.Join(fields[1:], " ")
		}
		return false, r.runBranch(ctx, branch.TriggerManual, instruction)
	case "/pass":
		return false, nil
	case "/stop":
		r.eng.RequestStop()
	default:
		return false, fmt.Errorf("unknown command: %s", fields[0])
	}
	return false, nil
}

func preview(content string) string {
	const max = 80
	runes := []rune(strings.ReplaceAll(content, "\n", " "))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max]) + "..."
}

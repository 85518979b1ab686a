// Package branch implements the Branch Engine: a temporary, isolated agent
// instance whose job is to edit its parent's Chunk Store via a restricted
// tool set, staging edits until a single atomic commit (or rollback).
package branch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hujiyo/Paw-sub000/internal/agent"
	"github.com/hujiyo/Paw-sub000/internal/chunkstore"
	"github.com/hujiyo/Paw-sub000/internal/llm"
	"github.com/hujiyo/Paw-sub000/internal/policy"
	"github.com/hujiyo/Paw-sub000/internal/tools"
	"github.com/hujiyo/Paw-sub000/pkg/models"
)

// Trigger names the condition that opened a branch.
const (
	TriggerTokenUtilization = "token_utilization"
	TriggerUserTurnCount    = "user_turn_count"
	TriggerManual           = "manual"
)

// TokenUtilizationThreshold and UserTurnCountThreshold are the trigger
// thresholds from spec.md §4.8: token utilization >= 0.7 of max, or
// user-turn count >= 20.
const (
	TokenUtilizationThreshold = 0.7
	UserTurnCountThreshold    = 20
)

var (
	// ErrBranchActive is returned by Create when a branch is already open.
	ErrBranchActive = errors.New("branch: a branch is already active")
	// ErrNoBranch is returned by operations that require an active branch.
	ErrNoBranch = errors.New("branch: no branch is active")
	// ErrPendingOps is returned by ExitBranch while ops remain staged.
	ErrPendingOps = errors.New("branch: cannot exit with pending ops")
	// ErrAlreadyCommitted is returned by a second CommitChanges call.
	ErrAlreadyCommitted = errors.New("branch: already committed")
	// ErrNoPendingOps is returned by CommitChanges with nothing staged.
	ErrNoPendingOps = errors.New("branch: no pending ops to commit")
)

// ShouldTrigger reports whether the parent should open a branch given its
// current token utilization (0..1) and user-turn count, per spec.md §4.8.
func ShouldTrigger(tokenUtilization float64, userTurnCount int) (string, bool) {
	if tokenUtilization >= TokenUtilizationThreshold {
		return TriggerTokenUtilization, true
	}
	if userTurnCount >= UserTurnCountThreshold {
		return TriggerUserTurnCount, true
	}
	return "", false
}

// EditOp is one staged, not-yet-applied edit against the parent store.
type EditOp struct {
	Kind    string // "rewrite" | "compress" | "remove"
	Indices []int
	Content string // new content (rewrite) or summary (compress)
}

// ClosureRecord is one entry of the bounded branch-closure history.
type ClosureRecord struct {
	Timestamp time.Time
	Trigger   string
	OpsCount  int
	Committed bool
}

// Branch is one open branch instance: its own working chunk store (seeded
// with an overview of the parent) plus the staged edit queue.
type Branch struct {
	Store          *chunkstore.Store
	ParentSnapshot []models.Chunk
	Pending        []EditOp
	Committed      bool
	// Trigger is the condition that opened this branch.
	Trigger string
	// committedOps is the number of ops applied by the commit.
	committedOps int
}

// restrictedToolset is the branch-mode tool set enabled in place of the
// main toolset for the branch's lifetime.
var restrictedToolset = []string{
	"view_chunk_detail",
	"compress_chunks",
	"remove_chunks",
	"rewrite_chunk",
	"preview_changes",
	"commit_changes",
	"rollback_changes",
	"exit_branch",
}

// Manager owns the branch lifecycle for one parent Chunk Store. It
// registers the restricted branch toolset against the shared Tool
// Registry at construction time, disabled, and flips the registry between
// the main and branch toolsets as branches open and close.
type Manager struct {
	Parent *chunkstore.Store
	Tools  *tools.Registry
	LLM    *llm.Client
	Model  string

	// Policy, if set, gates the branch's own tool dispatch the same way it
	// gates the main Turn Engine's.
	Policy *policy.Engine

	// MaxIterations bounds the branch's own Turn-Engine-style loop.
	MaxIterations int
	// HistoryCap bounds the closure history list.
	HistoryCap int

	Logger *slog.Logger

	mu            sync.Mutex
	active        *Branch
	enabledBefore []string
	history       []ClosureRecord
}

// NewManager constructs a Manager and registers the restricted branch
// toolset (disabled) against registry.
func NewManager(parent *chunkstore.Store, registry *tools.Registry, client *llm.Client) *Manager {
	m := &Manager{
		Parent:        parent,
		Tools:         registry,
		LLM:           client,
		MaxIterations: 10,
		HistoryCap:    20,
		Logger:        slog.Default().With("component", "branch"),
	}
	m.registerTools()
	return m
}

// ActiveBranch returns the currently open branch, if any.
func (m *Manager) ActiveBranch() *Branch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// History returns a copy of the bounded closure history, newest last.
func (m *Manager) History() []ClosureRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ClosureRecord, len(m.history))
	copy(out, m.history)
	return out
}

// Create opens a new branch, capturing a deep snapshot of the parent for
// potential abort, seeding the branch's own store with a system prompt
// assembled from parentSystemPrompt, a branch-mode directive, a compact
// overview of the parent store, and skillsBlurb. Fails if a branch is
// already active.
func (m *Manager) Create(ctx context.Context, trigger, parentSystemPrompt, skillsBlurb string) (*Branch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return nil, ErrBranchActive
	}

	raw, err := chunkstore.MarshalChunks(m.Parent.Chunks())
	if err != nil {
		return nil, fmt.Errorf("snapshot parent store: %w", err)
	}
	snapshot, err := chunkstore.UnmarshalChunks(raw)
	if err != nil {
		return nil, fmt.Errorf("snapshot parent store: %w", err)
	}

	seed := strings.Join([]string{
		parentSystemPrompt,
		branchModeDirective,
		buildOverview(m.Parent.Chunks()),
		skillsBlurb,
	}, "\n\n")

	store := chunkstore.New()
	store.Append(models.KindSystem, seed, nil)

	b := &Branch{Store: store, ParentSnapshot: snapshot, Trigger: trigger}
	m.active = b
	m.enabledBefore = enabledToolNames(m.Tools)
	m.Tools.EnableOnly(restrictedToolset)
	return b, nil
}

const branchModeDirective = "You are operating in branch mode: edit the parent conversation's " +
	"chunk list using the restricted tools available. Stage edits, preview them, then commit or " +
	"roll back, and exit the branch when done."

// buildOverview renders a compact one-line-per-chunk summary: index, kind,
// token count, short content preview.
func buildOverview(chunks []models.Chunk) string {
	var b strings.Builder
	b.WriteString("Parent store overview:")
	for i, c := range chunks {
		preview := c.Content
		if len(preview) > 60 {
			preview = preview[:60] + "..."
		}
		preview = strings.ReplaceAll(preview, "\n", " ")
		fmt.Fprintf(&b, "\n[%d] %s (%d tok): %s", i, c.Kind, c.TokensEstimate, preview)
	}
	return b.String()
}

func enabledToolNames(registry *tools.Registry) []string {
	schemas := registry.GetEnabledSchemas()
	names := make([]string, 0, len(schemas))
	for _, s := range schemas {
		names = append(names, s.Function.Name)
	}
	return names
}

// Run drives the branch's own bounded Turn-Engine-style loop with the
// given initial instruction (user-provided, or a canned directive to
// analyze/edit/preview/commit/exit).
func (m *Manager) Run(ctx context.Context, initialInstruction string) (*agent.TurnResult, error) {
	m.mu.Lock()
	b := m.active
	m.mu.Unlock()
	if b == nil {
		return nil, ErrNoBranch
	}
	eng := agent.New(b.Store, m.Tools, m.LLM)
	eng.Model = m.Model
	eng.MaxIterations = m.MaxIterations
	eng.Logger = m.Logger
	eng.Policy = m.Policy
	return eng.RunTurn(ctx, initialInstruction)
}

// stage appends an edit op to the active branch's pending list.
func (m *Manager) stage(op EditOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ErrNoBranch
	}
	if m.active.Committed {
		return ErrAlreadyCommitted
	}
	m.active.Pending = append(m.active.Pending, op)
	return nil
}

// preview enumerates the active branch's pending ops and estimates the
// total token delta they would apply.
func (m *Manager) preview() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return "", ErrNoBranch
	}
	if len(m.active.Pending) == 0 {
		return "No pending changes.", nil
	}
	chunks := m.Parent.Chunks()
	var b strings.Builder
	totalDelta := 0
	for i, op := range m.active.Pending {
		delta := estimateDelta(chunks, op)
		totalDelta += delta
		fmt.Fprintf(&b, "%d. %s %v (delta %+d tok)\n", i+1, op.Kind, op.Indices, delta)
	}
	fmt.Fprintf(&b, "Total estimated delta: %+d tok", totalDelta)
	return b.String(), nil
}

func estimateDelta(chunks []models.Chunk, op EditOp) int {
	original := 0
	for _, idx := range op.Indices {
		if idx >= 0 && idx < len(chunks) {
			original += chunks[idx].TokensEstimate
		}
	}
	switch op.Kind {
	case "remove":
		return -original
	case "rewrite", "compress":
		return models.EstimateTokens(op.Content) - original
	default:
		return 0
	}
}

// commit applies the active branch's pending ops to the parent store in
// the order rewrites, then compresses, then removals (back-to-front), all
// on a private copy of the parent's chunks, and only swaps the parent's
// live chunk list in with ReplaceAll if every op applies cleanly.
func (m *Manager) commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ErrNoBranch
	}
	if m.active.Committed {
		return ErrAlreadyCommitted
	}
	if len(m.active.Pending) == 0 {
		return ErrNoPendingOps
	}

	chunks := m.Parent.Chunks()
	removeSet := make(map[int]bool)

	for _, op := range m.active.Pending {
		if op.Kind != "rewrite" {
			continue
		}
		if len(op.Indices) != 1 || !validIndex(chunks, op.Indices[0]) {
			return fmt.Errorf("branch: rewrite op has invalid index %v", op.Indices)
		}
		idx := op.Indices[0]
		chunks[idx].Content = op.Content
		chunks[idx].TokensEstimate = models.EstimateTokens(op.Content)
	}

	for _, op := range m.active.Pending {
		if op.Kind != "compress" {
			continue
		}
		if len(op.Indices) == 0 {
			return fmt.Errorf("branch: compress op has no indices")
		}
		sorted := append([]int(nil), op.Indices...)
		sort.Ints(sorted)
		for _, idx := range sorted {
			if !validIndex(chunks, idx) {
				return fmt.Errorf("branch: compress op has invalid index %d", idx)
			}
		}
		head := sorted[0]
		chunks[head].Content = op.Content
		chunks[head].TokensEstimate = models.EstimateTokens(op.Content)
		for _, idx := range sorted[1:] {
			removeSet[idx] = true
		}
	}

	for _, op := range m.active.Pending {
		if op.Kind != "remove" {
			continue
		}
		for _, idx := range op.Indices {
			if !validIndex(chunks, idx) {
				return fmt.Errorf("branch: remove op has invalid index %d", idx)
			}
			removeSet[idx] = true
		}
	}

	if len(removeSet) > 0 {
		indices := make([]int, 0, len(removeSet))
		for idx := range removeSet {
			indices = append(indices, idx)
		}
		sort.Sort(sort.Reverse(sort.IntSlice(indices)))
		for _, idx := range indices {
			chunks = append(chunks[:idx], chunks[idx+1:]...)
		}
	}

	m.Parent.ReplaceAll(chunks)
	m.active.Committed = true
	m.active.committedOps = len(m.active.Pending)
	m.active.Pending = nil
	return nil
}

func validIndex(chunks []models.Chunk, idx int) bool {
	return idx >= 0 && idx < len(chunks)
}

// rollback clears the active branch's pending ops without touching the
// parent store.
func (m *Manager) rollback() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ErrNoBranch
	}
	m.active.Pending = nil
	return nil
}

// exit refuses to close the branch while ops are pending; on success it
// restores the parent's main tool set and records the closure.
func (m *Manager) exit(trigger string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ErrNoBranch
	}
	if len(m.active.Pending) > 0 {
		return ErrPendingOps
	}
	m.Tools.EnableOnly(m.enabledBefore)
	record := ClosureRecord{
		Timestamp: time.Now(),
		Trigger:   trigger,
		OpsCount:  m.active.committedOps,
		Committed: m.active.Committed,
	}
	m.history = append(m.history, record)
	if m.HistoryCap > 0 && len(m.history) > m.HistoryCap {
		m.history = m.history[len(m.history)-m.HistoryCap:]
	}
	m.active = nil
	m.enabledBefore = nil
	return nil
}

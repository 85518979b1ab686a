// Package agent implements the Turn Engine: the loop that, per user input,
// repeatedly calls the LLM, dispatches tool calls against the Tool
// Registry, appends results to the Chunk Store, and terminates when no
// tools were requested.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hujiyo/Paw-sub000/internal/chunkstore"
	"github.com/hujiyo/Paw-sub000/internal/llm"
	"github.com/hujiyo/Paw-sub000/internal/policy"
	"github.com/hujiyo/Paw-sub000/internal/tools"
	"github.com/hujiyo/Paw-sub000/pkg/models"
)

// staySilentTool is the distinguished tool name the model uses to ask the
// engine to produce no visible reply.
const staySilentTool = "stay_silent"

// shellToolCategory marks a tool entry whose dispatch should refresh and
// move the shell snapshot chunk to the end of the store.
const shellToolCategory = "shell"

// recentWindowBytes bounds the recent-conversation text handed to the
// Recall Engine alongside a fresh query.
const recentWindowBytes = 16 * 1024

// TurnState is a state in the per-turn state machine:
// idle -> streaming -> dispatching -> streaming -> ... -> done|stopped|empty.
type TurnState string

const (
	StateIdle        TurnState = "idle"
	StateStreaming   TurnState = "streaming"
	StateDispatching TurnState = "dispatching"
	StateDone        TurnState = "done"
	StateStopped     TurnState = "stopped"
	StateEmpty       TurnState = "empty"
)

// RecallEngine is the narrow surface the Turn Engine needs from the Recall
// Engine. The concrete implementation lives in package recall.
type RecallEngine interface {
	Tick(ctx context.Context)
	Recall(ctx context.Context, query, recentContext string) (int, error)
	RenderActive() string
	Save(ctx context.Context, userText, assistantText string) error
}

// SessionSaver is the narrow surface the Turn Engine needs from the Session
// Manager. The concrete implementation lives in package session.
type SessionSaver interface {
	Save(ctx context.Context, store *chunkstore.Store, workspace, model string, shellOpen bool, shellPID int) error
}

// ShellController is the narrow surface the Turn Engine needs from a live
// Shell worker, used only to refresh the shell chunk after a shell-category
// tool dispatch.
type ShellController interface {
	Snapshot() string
	IsOpen() bool
}

// TurnResult summarizes the outcome of one call to RunTurn.
type TurnResult struct {
	State        TurnState
	FinalContent string
	Iterations   int
}

// Engine is the Turn Engine: it owns no chunk store of its own but drives
// one for the duration of each turn.
type Engine struct {
	Store    *chunkstore.Store
	Tools    *tools.Registry
	LLM      *llm.Client
	Recall   RecallEngine
	Sessions SessionSaver
	Shell    ShellController

	// Policy, if set, gates every tool dispatch per SPEC_FULL.md §4.6. A
	// nil Policy allows every call, matching the zero-config default.
	Policy *policy.Engine

	Model     string
	Workspace string
	Logger    *slog.Logger

	// Notify, if set, surfaces a visible diagnostic message to the
	// presentation adapter (out of scope for this package beyond this one
	// narrow capability).
	Notify func(text string)

	// MaxIterations bounds the inner loop as a runaway backstop; the spec
	// models the loop as unbounded with cooperative cancellation, so this
	// should be set generously.
	MaxIterations int

	cancel atomic.Bool

	mu         sync.Mutex
	singletons map[string]string // "tool\x00key" -> chunk id
}

// New constructs an Engine with sane defaults. Callers must still assign
// Store, Tools, and LLM before calling RunTurn.
func New(store *chunkstore.Store, registry *tools.Registry, client *llm.Client) *Engine {
	return &Engine{
		Store:         store,
		Tools:         registry,
		LLM:           client,
		Logger:        slog.Default().With("component", "agent"),
		MaxIterations: 64,
		singletons:    make(map[string]string),
	}
}

// RequestStop sets the turn-scoped cancel flag. The streaming callback
// observes it between fragments; tool dispatch observes it between calls.
func (e *Engine) RequestStop() {
	e.cancel.Store(true)
}

func (e *Engine) notify(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if e.Logger != nil {
		e.Logger.Warn(msg)
	}
	if e.Notify != nil {
		e.Notify(msg)
	}
}

// RunTurn executes one full turn for userInput: append the user chunk,
// consult recall, run the inner stream/dispatch loop to quiescence, save
// the recall pair, and persist the session.
func (e *Engine) RunTurn(ctx context.Context, userInput string) (*TurnResult, error) {
	if e.LLM == nil {
		return nil, ErrNoLLMClient
	}
	e.cancel.Store(false)

	e.Store.Append(models.KindUser, userInput, nil)

	prelude := e.consultRecall(ctx, userInput)

	result := &TurnResult{State: StateIdle}
	iteration := 0
	var lastAssistantContent string
	sawAnything := false

	for {
		iteration++
		if e.MaxIterations > 0 && iteration > e.MaxIterations {
			result.State = StateDone
			break
		}

		result.State = StateStreaming
		messages := e.Store.RenderForLLM()
		if iteration == 1 && prelude != "" {
			messages = append(messages, models.Message{Role: "assistant", Content: &prelude})
		}

		resp, err := e.LLM.Chat(ctx, llm.Request{
			Messages: messages,
			Model:    e.Model,
			Tools:    e.Tools.GetEnabledSchemas(),
			Stream:   true,
			OnContent: func(fragment string) error {
				if e.cancel.Load() {
					return llm.ErrCancelled
				}
				return nil
			},
		})
		if err != nil {
			e.notify("llm request failed: %v", err)
			result.State = StateDone
			break
		}
		if resp.FinishReason == "error" {
			content := ""
			if resp.Content != nil {
				content = *resp.Content
			}
			e.Store.Append(models.KindSystem, "LLM error: "+content, nil)
			result.State = StateDone
			break
		}
		if resp.FinishReason == "stopped" {
			content := ""
			if resp.Content != nil {
				content = *resp.Content
			}
			e.Store.Append(models.KindAssistant, content, &models.AssistantMetadata{})
			result.State = StateStopped
			result.FinalContent = content
			break
		}

		toolCalls := resp.ToolCalls
		content := ""
		if resp.Content != nil {
			content = *resp.Content
		}
		if !sawAnything && content == "" && len(toolCalls) == 0 {
			result.State = StateEmpty
			break
		}
		sawAnything = true

		if silent, ok := findStaySilent(toolCalls); ok {
			content = ""
			toolCalls = []models.ToolCallWire{silent}
		}

		records := make([]models.ToolCallRecord, 0, len(toolCalls))
		for _, tc := range toolCalls {
			records = append(records, models.ToolCallRecord{
				ID:            tc.ID,
				Name:          tc.Function.Name,
				ArgumentsText: tc.Function.Arguments,
			})
		}
		e.Store.Append(models.KindAssistant, content, &models.AssistantMetadata{ToolCalls: records})
		lastAssistantContent = content

		if len(toolCalls) == 0 {
			result.State = StateDone
			break
		}

		result.State = StateDispatching
		dispatchedStaySilent := false
		for _, tc := range toolCalls {
			e.dispatchToolCall(ctx, tc)
			if tc.Function.Name == staySilentTool {
				dispatchedStaySilent = true
			}
			if e.cancel.Load() {
				result.State = StateStopped
				break
			}
		}
		if dispatchedStaySilent {
			if e.Sessions != nil {
				shellOpen := e.Shell != nil && e.Shell.IsOpen()
				if err := e.Sessions.Save(ctx, e.Store, e.Workspace, e.Model, shellOpen, 0); err != nil {
					e.notify("session save failed: %v", err)
				}
			}
			result.State = StateDone
			result.FinalContent = lastAssistantContent
			result.Iterations = iteration
			return result, nil
		}
		if result.State == StateStopped {
			break
		}
	}

	result.Iterations = iteration
	if result.FinalContent == "" {
		result.FinalContent = lastAssistantContent
	}

	if e.Recall != nil && result.State != StateStopped && result.State != StateEmpty {
		if err := e.Recall.Save(ctx, userInput, lastAssistantContent); err != nil {
			e.notify("recall save failed: %v", err)
		}
	}
	if e.Sessions != nil {
		shellOpen := e.Shell != nil && e.Shell.IsOpen()
		if err := e.Sessions.Save(ctx, e.Store, e.Workspace, e.Model, shellOpen, 0); err != nil {
			e.notify("session save failed: %v", err)
		}
	}

	return result, nil
}

// consultRecall performs step 2-3 of the turn: decay active memories by one
// tick, retrieve new candidates for the fresh input plus a bounded window of
// recent text, and render the active digest for transient injection.
func (e *Engine) consultRecall(ctx context.Context, userInput string) string {
	if e.Recall == nil {
		return ""
	}
	e.Recall.Tick(ctx)
	window := e.recentWindow()
	if _, err := e.Recall.Recall(ctx, userInput, window); err != nil {
		e.notify("recall retrieval failed: %v", err)
		return ""
	}
	return e.Recall.RenderActive()
}

// recentWindow returns up to recentWindowBytes of the most recent chunk
// content, oldest-first, for use as recall context.
func (e *Engine) recentWindow() string {
	chunks := e.Store.Chunks()
	var total int
	start := len(chunks)
	for start > 0 {
		c := chunks[start-1]
		if total+len(c.Content) > recentWindowBytes {
			break
		}
		total += len(c.Content)
		start--
	}
	var out []byte
	for _, c := range chunks[start:] {
		out = append(out, c.Content...)
		out = append(out, '\n')
	}
	return string(out)
}

func findStaySilent(calls []models.ToolCallWire) (models.ToolCallWire, bool) {
	for _, tc := range calls {
		if tc.Function.Name == staySilentTool {
			return tc, true
		}
	}
	return models.ToolCallWire{}, false
}

// dispatchToolCall parses and repairs tc's arguments, validates and
// dispatches it through the Tool Registry, and appends the resulting
// tool_result chunk (unless the arguments were unrepairable, in which case
// no tool_result is appended and the assistant's tool_call is left an
// orphan for the model to self-correct).
func (e *Engine) dispatchToolCall(ctx context.Context, tc models.ToolCallWire) {
	args, ok := repairArguments(tc.Function.Arguments)
	if !ok {
		e.notify("%s", repairError(tc.Function.Name, tc.Function.Arguments))
		return
	}

	entry, found := e.Tools.Get(tc.Function.Name)
	if !found {
		e.appendToolResult(tc, "Error: tool not found: "+tc.Function.Name, nil)
		return
	}
	if !entry.Enabled {
		e.appendToolResult(tc, "Error: tool disabled: "+tc.Function.Name, nil)
		return
	}
	if e.Policy != nil {
		decision := e.Policy.Decide(entry.Name, entry.Category)
		if !decision.Allowed() {
			e.appendToolResult(tc, fmt.Sprintf("Error: tool call denied by policy: %s", decision.Reason), entry)
			return
		}
	}
	if err := entry.ValidateArgs(args); err != nil {
		e.appendToolResult(tc, fmt.Sprintf("Error: invalid arguments: %v", err), entry)
		return
	}

	raw, err := entry.Handler(ctx, args)
	text := coerceResultText(raw, err)
	if entry.ResultTransform != nil {
		if transformed, terr := entry.ResultTransform(args, raw); terr == nil {
			text = transformed
		}
	}

	e.displaceSingleton(entry, args, raw)
	id := e.appendToolResult(tc, text, entry)
	e.recordSingleton(entry, args, raw, id)
}

// appendToolResult appends the tool_result chunk for tc with the given
// text, applying the tool's retention policy and refreshing the shell
// snapshot if the tool's category is "shell". Returns the new chunk's id.
func (e *Engine) appendToolResult(tc models.ToolCallWire, text string, entry *tools.Entry) string {
	maxPairs := 0
	category := ""
	if entry != nil {
		maxPairs = entry.MaxCallPairs
		category = entry.Category
	}
	id := e.Store.AppendToolResult(text, tc.ID, tc.Function.Name, maxPairs)

	if category == shellToolCategory && e.Shell != nil {
		e.Store.UpsertShell(e.Shell.Snapshot(), true)
	}
	return id
}

// displaceSingleton removes the previously stored tool_result chunk sharing
// this tool's singleton key, if one exists, so the new result replaces it
// rather than accumulating.
func (e *Engine) displaceSingleton(entry *tools.Entry, args json.RawMessage, result any) {
	if entry.SingletonKey == nil {
		return
	}
	key := entry.Name + "\x00" + entry.SingletonKey(args, result)
	e.mu.Lock()
	prior, had := e.singletons[key]
	e.mu.Unlock()
	if had {
		_ = e.Store.Delete(prior)
	}
}

// recordSingleton remembers which chunk id now holds entry's singleton key,
// so a future call with the same key displaces this one.
func (e *Engine) recordSingleton(entry *tools.Entry, args json.RawMessage, result any, id string) {
	if entry == nil || entry.SingletonKey == nil {
		return
	}
	key := entry.Name + "\x00" + entry.SingletonKey(args, result)
	e.mu.Lock()
	e.singletons[key] = id
	e.mu.Unlock()
}

// coerceResultText converts a tool handler's return value into the text
// stored in a tool_result chunk, per the success-detection rule: strings
// starting with a recognized error prefix are errors; StructuredResult
// values carry their own success flag explicitly.
func coerceResultText(result any, err error) string {
	if err != nil {
		return "Error: " + err.Error()
	}
	switch v := result.(type) {
	case string:
		return v
	case tools.StructuredResult:
		if !v.Success && !tools.IsErrorResult(v.Text) {
			return "Error: " + v.Text
		}
		return v.Text
	case *tools.StructuredResult:
		if v == nil {
			return ""
		}
		if !v.Success && !tools.IsErrorResult(v.Text) {
			return "Error: " + v.Text
		}
		return v.Text
	case nil:
		return ""
	default:
		encoded, encErr := json.Marshal(v)
		if encErr != nil {
			return fmt.Sprintf("Error: could not encode tool result: %v", encErr)
		}
		return string(encoded)
	}
}

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hujiyo/Paw-sub000/internal/chunkstore"
	"github.com/hujiyo/Paw-sub000/internal/llm"
	"github.com/hujiyo/Paw-sub000/internal/policy"
	"github.com/hujiyo/Paw-sub000/internal/tools"
	"github.com/hujiyo/Paw-sub000/pkg/models"
)

type fakeRecall struct {
	savedUser, savedAssistant string
	saveCalled                bool
}

func (f *fakeRecall) Tick(ctx context.Context) {}
func (f *fakeRecall) Recall(ctx context.Context, query, recentContext string) (int, error) {
	return 0, nil
}
func (f *fakeRecall) RenderActive() string { return "" }
func (f *fakeRecall) Save(ctx context.Context, userText, assistantText string) error {
	f.saveCalled = true
	f.savedUser, f.savedAssistant = userText, assistantText
	return nil
}

type fakeSessions struct {
	saveCount int
}

func (f *fakeSessions) Save(ctx context.Context, store *chunkstore.Store, workspace, model string, shellOpen bool, shellPID int) error {
	f.saveCount++
	return nil
}

// TestRunTurnStreamedAssistantWithOneToolCall exercises the literal
// end-to-end scenario from the spec's testable properties.
func TestRunTurnStreamedAssistantWithOneToolCall(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "text/event-stream")
		switch n {
		case 1:
			fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":"Let me check."}}]}`)
			fmt.Fprintln(w, `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"c1","function":{"name":"read_file","arguments":"{\"file_path\":\"today.txt\"}"}}]}}]}`)
			fmt.Fprintln(w, `data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`)
			fmt.Fprintln(w, `data: [DONE]`)
		case 2:
			fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":"It says: Hello, world."}}]}`)
			fmt.Fprintln(w, `data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`)
			fmt.Fprintln(w, `data: [DONE]`)
		}
	}))
	defer srv.Close()

	store := chunkstore.New()
	store.Append(models.KindSystem, "You are Paw.", nil)

	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(&tools.Entry{
		Name:    "read_file",
		Enabled: true,
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var parsed struct {
				FilePath string `json:"file_path"`
			}
			require.NoError(t, json.Unmarshal(args, &parsed))
			assert.Equal(t, "today.txt", parsed.FilePath)
			return "Hello, world.", nil
		},
	}))

	eng := New(store, registry, llm.NewClient(srv.URL, ""))
	recall := &fakeRecall{}
	sessions := &fakeSessions{}
	eng.Recall = recall
	eng.Sessions = sessions
	eng.Model = "test-model"

	result, err := eng.RunTurn(context.Background(), "What is in today.txt?")
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, "It says: Hello, world.", result.FinalContent)

	chunks := store.Chunks()
	require.Len(t, chunks, 5)
	assert.Equal(t, models.KindSystem, chunks[0].Kind)
	assert.Equal(t, models.KindUser, chunks[1].Kind)
	assert.Equal(t, "What is in today.txt?", chunks[1].Content)
	assert.Equal(t, models.KindAssistant, chunks[2].Kind)
	assert.Equal(t, "Let me check.", chunks[2].Content)
	require.NotNil(t, chunks[2].AssistantMeta())
	require.Len(t, chunks[2].AssistantMeta().ToolCalls, 1)
	assert.Equal(t, "c1", chunks[2].AssistantMeta().ToolCalls[0].ID)
	assert.Equal(t, models.KindToolResult, chunks[3].Kind)
	assert.Equal(t, "Hello, world.", chunks[3].Content)
	assert.Equal(t, "c1", chunks[3].ToolResultMeta().ToolCallID)
	assert.Equal(t, models.KindAssistant, chunks[4].Kind)
	assert.Equal(t, "It says: Hello, world.", chunks[4].Content)

	assert.True(t, recall.saveCalled)
	assert.Equal(t, "What is in today.txt?", recall.savedUser)
	assert.Equal(t, "It says: Hello, world.", recall.savedAssistant)
	assert.Equal(t, 1, sessions.saveCount)
}

// TestRunTurnStaySilentSkipsRecallSave exercises the documented open
// question's preserved split: stay_silent saves the session but not the
// recall pair.
func TestRunTurnStaySilentSkipsRecallSave(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":"ignored"}}]}`)
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"s1","function":{"name":"stay_silent","arguments":"{}"}}]}}]}`)
		fmt.Fprintln(w, `data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`)
		fmt.Fprintln(w, `data: [DONE]`)
	}))
	defer srv.Close()

	store := chunkstore.New()
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(&tools.Entry{
		Name:    staySilentTool,
		Enabled: true,
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			return "", nil
		},
	}))

	eng := New(store, registry, llm.NewClient(srv.URL, ""))
	recall := &fakeRecall{}
	sessions := &fakeSessions{}
	eng.Recall = recall
	eng.Sessions = sessions

	result, err := eng.RunTurn(context.Background(), "be quiet")
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)
	assert.False(t, recall.saveCalled)
	assert.Equal(t, 1, sessions.saveCount)

	chunks := store.Chunks()
	require.Len(t, chunks, 3)
	assert.Equal(t, models.KindAssistant, chunks[1].Kind)
	assert.Equal(t, "", chunks[1].Content)
	require.Len(t, chunks[1].AssistantMeta().ToolCalls, 1)
	assert.Equal(t, staySilentTool, chunks[1].AssistantMeta().ToolCalls[0].Name)
}

// TestRunTurnToolDispatchStopsBetweenCalls exercises the rule that tool
// dispatch checks the cancel flag between calls but never mid-call: a
// handler that requests a stop must still finish and record its own
// tool_result, while the next queued call is never dispatched.
func TestRunTurnToolDispatchStopsBetweenCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"a1","function":{"name":"first","arguments":"{}"}}]}}]}`)
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"tool_calls":[{"index":1,"id":"a2","function":{"name":"second","arguments":"{}"}}]}}]}`)
		fmt.Fprintln(w, `data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`)
		fmt.Fprintln(w, `data: [DONE]`)
	}))
	defer srv.Close()

	store := chunkstore.New()
	registry := tools.NewRegistry()

	var eng *Engine
	require.NoError(t, registry.Register(&tools.Entry{
		Name:    "first",
		Enabled: true,
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			eng.RequestStop()
			return "ok", nil
		},
	}))
	secondCalled := false
	require.NoError(t, registry.Register(&tools.Entry{
		Name:    "second",
		Enabled: true,
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			secondCalled = true
			return "ok", nil
		},
	}))

	eng = New(store, registry, llm.NewClient(srv.URL, ""))
	eng.Sessions = &fakeSessions{}

	result, err := eng.RunTurn(context.Background(), "run both")
	require.NoError(t, err)
	assert.Equal(t, StateStopped, result.State)
	assert.False(t, secondCalled)

	chunks := store.Chunks()
	require.Len(t, chunks, 3)
	assert.Equal(t, models.KindToolResult, chunks[2].Kind)
	assert.Equal(t, "a1", chunks[2].ToolResultMeta().ToolCallID)
}

// TestDispatchToolCallDeniedByPolicySkipsHandler exercises SPEC_FULL.md
// §4.6: a tool call denied by the Approval Policy never reaches its
// handler and instead produces an Error:-prefixed tool_result.
func TestDispatchToolCallDeniedByPolicySkipsHandler(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "text/event-stream")
		switch n {
		case 1:
			fmt.Fprintln(w, `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"d1","function":{"name":"run_shell","arguments":"{}"}}]}}]}`)
			fmt.Fprintln(w, `data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`)
			fmt.Fprintln(w, `data: [DONE]`)
		case 2:
			fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":"can't do that."}}]}`)
			fmt.Fprintln(w, `data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`)
			fmt.Fprintln(w, `data: [DONE]`)
		}
	}))
	defer srv.Close()

	store := chunkstore.New()
	registry := tools.NewRegistry()
	handlerCalled := false
	require.NoError(t, registry.Register(&tools.Entry{
		Name:     "run_shell",
		Category: "shell",
		Enabled:  true,
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			handlerCalled = true
			return "ok", nil
		},
	}))

	eng := New(store, registry, llm.NewClient(srv.URL, ""))
	eng.Sessions = &fakeSessions{}
	eng.Policy = policy.New(map[string]policy.Rule{
		"category:shell": {Verdict: policy.VerdictDeny},
	})

	result, err := eng.RunTurn(context.Background(), "run something")
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)
	assert.False(t, handlerCalled)

	chunks := store.Chunks()
	require.Len(t, chunks, 4)
	assert.Equal(t, models.KindToolResult, chunks[2].Kind)
	assert.Contains(t, chunks[2].Content, "Error: tool call denied by policy")
	assert.Equal(t, "can't do that.", chunks[3].Content)
}

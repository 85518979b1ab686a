package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatNonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"hi there"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	resp, err := c.Chat(context.Background(), Request{Model: "m", Stream: false})
	require.NoError(t, err)
	require.NotNil(t, resp.Content)
	assert.Equal(t, "hi there", *resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestChatStreamingAccumulatesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		lines := []string{
			`data: {"choices":[{"delta":{"content":"Let me check."}}]}`,
			`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"c1","function":{"name":"read_","arguments":"{\"file_"}}]}}]}`,
			`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"name":"file","arguments":"path\":\"today.txt\"}"}}]}}]}`,
			`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
			`data: [DONE]`,
		}
		for _, l := range lines {
			fmt.Fprintln(w, l)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	var got []string
	resp, err := c.Chat(context.Background(), Request{
		Model:  "m",
		Stream: true,
		OnContent: func(frag string) error {
			got = append(got, frag)
			return nil
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Content)
	assert.Equal(t, "Let me check.", *resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "c1", resp.ToolCalls[0].ID)
	assert.Equal(t, "read_file", resp.ToolCalls[0].Function.Name)
	assert.Equal(t, `{"file_path":"today.txt"}`, resp.ToolCalls[0].Function.Arguments)
	assert.Equal(t, "tool_calls", resp.FinishReason)
	assert.Equal(t, []string{"Let me check."}, got)
}

func TestChatStreamingCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":"Let me"}}]}`)
		if flusher != nil {
			flusher.Flush()
		}
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":" check further"}}]}`)
		if flusher != nil {
			flusher.Flush()
		}
		fmt.Fprintln(w, `data: [DONE]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	resp, err := c.Chat(context.Background(), Request{
		Model:  "m",
		Stream: true,
		OnContent: func(frag string) error {
			return ErrCancelled
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "stopped", resp.FinishReason)
	require.NotNil(t, resp.Content)
	assert.Equal(t, "", *resp.Content)
}

func TestChatHTTPErrorBecomesErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "boom")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	resp, err := c.Chat(context.Background(), Request{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "error", resp.FinishReason)
}

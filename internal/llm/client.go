// Package llm implements the streaming/non-streaming request/response
// client over an OpenAI-compatible chat-completions endpoint, built on
// go-openai's ChatCompletionStream rather than a hand-rolled SSE reader.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hujiyo/Paw-sub000/pkg/models"
)

// ErrCancelled is the narrow, local protocol signal raised by an on-content
// callback to tell Chat to stop consuming the stream.
var ErrCancelled = errors.New("llm: stream cancelled")

// Request bundles every parameter of a chat completion call.
type Request struct {
	Messages    []models.Message
	Model       string
	Tools       []models.ToolSchema
	ToolChoice  string
	Temperature float64
	MaxTokens   int
	Stream      bool
	Timeout     time.Duration

	// OnContent, when set, receives each streamed content fragment in wire
	// order. Returning an error (typically ErrCancelled) stops the stream.
	OnContent func(fragment string) error
}

// Response is the unified result of a chat completion call, whether
// streamed or not.
type Response struct {
	Content      *string
	ToolCalls    []models.ToolCallWire
	FinishReason string
}

// Client talks to one configured chat-completions endpoint via go-openai.
type Client struct {
	client   *openai.Client
	Endpoint string
	APIKey   string
}

// NewClient returns a client for endpoint, the OpenAI-compatible base URL
// (e.g. "https://api.openai.com/v1" or a local model server's equivalent);
// an empty endpoint falls back to go-openai's own default.
func NewClient(endpoint, apiKey string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if endpoint != "" {
		cfg.BaseURL = endpoint
	}
	return &Client{
		client:   openai.NewClientWithConfig(cfg),
		Endpoint: endpoint,
		APIKey:   apiKey,
	}
}

// Chat performs a chat completion, streaming or not depending on
// req.Stream, and returns the unified Response. Errors never propagate as
// Go errors from protocol/network failures: they come back as a Response
// with FinishReason "error" and a human-readable Content.
func (c *Client) Chat(ctx context.Context, req Request) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    convertMessages(req.Messages),
		Temperature: float32(req.Temperature),
		Stream:      req.Stream,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}
	if req.ToolChoice != "" {
		chatReq.ToolChoice = req.ToolChoice
	}

	if !req.Stream {
		return c.chatNonStreaming(ctx, chatReq)
	}
	return c.chatStreaming(ctx, chatReq, req.OnContent)
}

func (c *Client) chatNonStreaming(ctx context.Context, chatReq openai.ChatCompletionRequest) (*Response, error) {
	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return errorResponse(fmt.Sprintf("request failed: %v", err)), nil
	}
	if len(resp.Choices) == 0 {
		return errorResponse("response missing choices"), nil
	}
	choice := resp.Choices[0]
	return &Response{
		Content:      contentPtr(choice.Message.Content, choice.Message.ToolCalls),
		ToolCalls:    convertToolCallsBack(choice.Message.ToolCalls),
		FinishReason: string(choice.FinishReason),
	}, nil
}

// chatStreaming consumes go-openai's ChatCompletionStream, accumulating
// content and tool_call fragments (keyed by index) in wire order until the
// stream's io.EOF, mirroring the accumulation shape of
// haasonsaas-nexus/internal/agent/providers/openai.go's processStream.
func (c *Client) chatStreaming(ctx context.Context, chatReq openai.ChatCompletionRequest, onContent func(string) error) (*Response, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return errorResponse(fmt.Sprintf("request failed: %v", err)), nil
	}
	defer stream.Close()

	var contentBuilder strings.Builder
	firstFragment := true
	finishReason := ""
	stopped := false

	type callAccum struct {
		id, name, args string
	}
	callsByIndex := map[int]*callAccum{}
	var callOrder []int

	for {
		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return errorResponse(fmt.Sprintf("stream failed: %v", err)), nil
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finishReason = string(choice.FinishReason)
		}
		if frag := choice.Delta.Content; frag != "" {
			if firstFragment {
				frag = strings.TrimLeft(frag, "\n")
				firstFragment = false
			}
			if onContent != nil {
				if err := onContent(frag); err != nil {
					stopped = true
					break
				}
			}
			contentBuilder.WriteString(frag)
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			acc, ok := callsByIndex[idx]
			if !ok {
				acc = &callAccum{}
				callsByIndex[idx] = acc
				callOrder = append(callOrder, idx)
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			acc.name += tc.Function.Name
			acc.args += tc.Function.Arguments
		}
	}

	var toolCalls []models.ToolCallWire
	for _, idx := range callOrder {
		acc := callsByIndex[idx]
		toolCalls = append(toolCalls, models.ToolCallWire{
			ID:   acc.id,
			Type: "function",
			Function: models.ToolCallFunction{
				Name:      acc.name,
				Arguments: acc.args,
			},
		})
	}

	content := contentBuilder.String()
	resp := &Response{FinishReason: finishReason}
	if content != "" || len(toolCalls) == 0 {
		resp.Content = &content
	}
	resp.ToolCalls = toolCalls
	if stopped {
		resp.FinishReason = "stopped"
	}
	return resp, nil
}

func errorResponse(msg string) *Response {
	return &Response{Content: &msg, FinishReason: "error"}
}

// contentPtr mirrors the non-streaming Response's nil-when-tool-call-only
// convention despite go-openai's Message.Content being a plain string
// rather than a nullable field.
func contentPtr(content string, toolCalls []openai.ToolCall) *string {
	if content == "" && len(toolCalls) > 0 {
		return nil
	}
	return &content
}

func convertMessages(in []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(in))
	for _, m := range in {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		if m.Content != nil {
			msg.Content = *m.Content
		}
		if len(m.ToolCalls) > 0 {
			msg.ToolCalls = make([]openai.ToolCall, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				msg.ToolCalls[i] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				}
			}
		}
		out = append(out, msg)
	}
	return out
}

func convertTools(in []models.ToolSchema) []openai.Tool {
	out := make([]openai.Tool, len(in))
	for i, t := range in {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		}
	}
	return out
}

func convertToolCallsBack(in []openai.ToolCall) []models.ToolCallWire {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.ToolCallWire, len(in))
	for i, tc := range in {
		out[i] = models.ToolCallWire{
			ID:   tc.ID,
			Type: string(tc.Type),
			Function: models.ToolCallFunction{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		}
	}
	return out
}

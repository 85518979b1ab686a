package models

import "encoding/json"

// Message is one entry of the rendered, LLM-facing conversation — the output
// of Store.RenderForLLM and the input to the LLM Client.
type Message struct {
	Role       string           `json:"role"`
	Content    *string          `json:"content"`
	ToolCalls  []ToolCallWire   `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

// ToolCallWire is the OpenAI-style wire shape of a tool call inside an
// assistant message.
type ToolCallWire struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction carries the function name and argument text of a tool
// call, accumulated from streamed deltas.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSchema is the OpenAI function-calling schema for one tool.
type ToolSchema struct {
	Type     string             `json:"type"`
	Function ToolSchemaFunction `json:"function"`
}

// ToolSchemaFunction describes a callable tool's name, description, and
// JSON Schema parameters.
type ToolSchemaFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

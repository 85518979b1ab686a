// Package models defines the wire and storage types shared by the chunk
// store, turn engine, branch engine, and session manager.
package models

import (
	"encoding/json"
	"time"
)

// Kind tags the role a Chunk plays in the conversation. It is assigned once,
// at creation time, and never inferred from content.
type Kind string

const (
	KindSystem     Kind = "system"
	KindMemory     Kind = "memory"
	KindUser       Kind = "user"
	KindAssistant  Kind = "assistant"
	KindThought    Kind = "thought"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
	KindShell      Kind = "shell"
)

// ToolCallRecord is one entry of an assistant chunk's tool_calls metadata.
type ToolCallRecord struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ArgumentsText string `json:"arguments"`
}

// AssistantMetadata is the metadata carried by a KindAssistant chunk.
type AssistantMetadata struct {
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
}

// ToolResultMetadata is the metadata carried by a KindToolResult chunk.
type ToolResultMetadata struct {
	ToolCallID  string `json:"tool_call_id"`
	Name        string `json:"name"`
	DisplayHint string `json:"display_hint,omitempty"`
}

// Chunk is the atomic, typed unit of conversation state.
type Chunk struct {
	ID             string `json:"id"`
	Content        string `json:"content"`
	Kind           Kind   `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
	TokensEstimate int    `json:"tokens"`

	// Metadata is one of *AssistantMetadata, *ToolResultMetadata, or nil,
	// depending on Kind. Use the typed accessors below rather than asserting
	// directly.
	Metadata any `json:"metadata,omitempty"`
}

// EstimateTokens returns content length divided by four, the same cheap
// proxy every component in this system uses for budget accounting.
func EstimateTokens(content string) int {
	return len(content) / 4
}

// AssistantMeta returns the chunk's assistant metadata, or nil if absent or
// of the wrong kind.
func (c *Chunk) AssistantMeta() *AssistantMetadata {
	if m, ok := c.Metadata.(*AssistantMetadata); ok {
		return m
	}
	return nil
}

// ToolResultMeta returns the chunk's tool_result metadata, or nil if absent
// or of the wrong kind.
func (c *Chunk) ToolResultMeta() *ToolResultMetadata {
	if m, ok := c.Metadata.(*ToolResultMetadata); ok {
		return m
	}
	return nil
}

// serializedChunk is the on-disk/wire shape of a Chunk, with metadata
// flattened to raw JSON so it round-trips without knowing the Kind ahead of
// unmarshal time.
type serializedChunk struct {
	ID        string          `json:"id"`
	Content   string          `json:"content"`
	Type      Kind            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Tokens    int             `json:"tokens"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// MarshalJSON flattens typed metadata into a raw JSON object.
func (c Chunk) MarshalJSON() ([]byte, error) {
	sc := serializedChunk{
		ID:        c.ID,
		Content:   c.Content,
		Type:      c.Kind,
		Timestamp: c.Timestamp,
		Tokens:    c.TokensEstimate,
	}
	if c.Metadata != nil {
		raw, err := json.Marshal(c.Metadata)
		if err != nil {
			return nil, err
		}
		sc.Metadata = raw
	}
	return json.Marshal(sc)
}

// UnmarshalJSON restores typed metadata based on the chunk's Kind.
func (c *Chunk) UnmarshalJSON(data []byte) error {
	var sc serializedChunk
	if err := json.Unmarshal(data, &sc); err != nil {
		return err
	}
	c.ID = sc.ID
	c.Content = sc.Content
	c.Kind = sc.Type
	c.Timestamp = sc.Timestamp
	c.TokensEstimate = sc.Tokens
	c.Metadata = nil

	if len(sc.Metadata) == 0 || string(sc.Metadata) == "null" {
		return nil
	}
	switch c.Kind {
	case KindAssistant:
		var m AssistantMetadata
		if err := json.Unmarshal(sc.Metadata, &m); err != nil {
			return err
		}
		c.Metadata = &m
	case KindToolResult:
		var m ToolResultMetadata
		if err := json.Unmarshal(sc.Metadata, &m); err != nil {
			return err
		}
		c.Metadata = &m
	}
	return nil
}

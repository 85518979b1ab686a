package chunkstore

import (
	"strings"

	"github.com/hujiyo/Paw-sub000/pkg/models"
)

const (
	shellScreenPrefix = "[current terminal screen]\n"
	shellScreenSuffix = "\n[end terminal screen]"
)

// RenderForLLM walks the chunks in order and produces the message sequence
// sent to the LLM, per the coalescing and kind-to-role rules of the chunk
// store specification.
func (s *Store) RenderForLLM() []models.Message {
	s.mu.RLock()
	chunks := make([]models.Chunk, len(s.chunks))
	copy(chunks, s.chunks)
	s.mu.RUnlock()

	return renderChunks(chunks)
}

func renderChunks(chunks []models.Chunk) []models.Message {
	var out []models.Message
	var systemBuf []string

	flushSystem := func() {
		if len(systemBuf) == 0 {
			return
		}
		body := strings.Join(systemBuf, "\n")
		out = append(out, models.Message{Role: "system", Content: &body})
		systemBuf = nil
	}

	for _, c := range chunks {
		switch c.Kind {
		case models.KindThought, models.KindToolCall:
			continue
		case models.KindSystem, models.KindMemory:
			systemBuf = append(systemBuf, c.Content)
		case models.KindUser:
			flushSystem()
			content := c.Content
			out = append(out, models.Message{Role: "user", Content: &content})
		case models.KindAssistant:
			flushSystem()
			out = append(out, renderAssistant(c))
		case models.KindToolResult:
			flushSystem()
			m := c.ToolResultMeta()
			msg := models.Message{Role: "tool", Content: strPtr(c.Content)}
			if m != nil {
				msg.ToolCallID = m.ToolCallID
				msg.Name = m.Name
			}
			out = append(out, msg)
		case models.KindShell:
			flushSystem()
			body := shellScreenPrefix + c.Content + shellScreenSuffix
			out = append(out, models.Message{Role: "user", Content: &body})
		}
	}
	flushSystem()
	return out
}

func renderAssistant(c models.Chunk) models.Message {
	msg := models.Message{Role: "assistant"}
	m := c.AssistantMeta()
	if m != nil && len(m.ToolCalls) > 0 {
		msg.ToolCalls = make([]models.ToolCallWire, 0, len(m.ToolCalls))
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, models.ToolCallWire{
				ID:   tc.ID,
				Type: "function",
				Function: models.ToolCallFunction{
					Name:      tc.Name,
					Arguments: tc.ArgumentsText,
				},
			})
		}
		if c.Content == "" {
			msg.Content = nil
			return msg
		}
	}
	content := c.Content
	msg.Content = &content
	return msg
}

func strPtr(s string) *string { return &s }

package chunkstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hujiyo/Paw-sub000/pkg/models"
)

func TestAppendToolResultEvictsOldestPairs(t *testing.T) {
	s := New()
	s.Append(models.KindSystem, "You are Paw.", nil)

	for i := 0; i < 10; i++ {
		callID := "c" + string(rune('0'+i))
		s.Append(models.KindAssistant, "", &models.AssistantMetadata{
			ToolCalls: []models.ToolCallRecord{{ID: callID, Name: "wait", ArgumentsText: "{}"}},
		})
		s.AppendToolResult("done", callID, "wait", 3)
	}

	var results []models.Chunk
	for _, c := range s.Chunks() {
		if c.Kind == models.KindToolResult {
			results = append(results, c)
		}
	}
	require.Len(t, results, 3)

	assistantIDs := map[string]bool{}
	for _, c := range s.Chunks() {
		if c.Kind != models.KindAssistant {
			continue
		}
		if m := c.AssistantMeta(); m != nil {
			for _, tc := range m.ToolCalls {
				assistantIDs[tc.ID] = true
			}
		}
	}
	for _, r := range results {
		m := r.ToolResultMeta()
		require.NotNil(t, m)
		assert.True(t, assistantIDs[m.ToolCallID], "retained result must have a matching tool_call id")
	}
}

func TestUpsertShellSingleInvariant(t *testing.T) {
	s := New()
	s.UpsertShell("line1", false)
	s.UpsertShell("line2", false)

	var shellChunks int
	for _, c := range s.Chunks() {
		if c.Kind == models.KindShell {
			shellChunks++
		}
	}
	assert.Equal(t, 1, shellChunks)
}

func TestUpsertShellMoveToEndConcatenates(t *testing.T) {
	s := New()
	s.UpsertShell("old screen", false)
	s.Append(models.KindToolResult, "other", &models.ToolResultMetadata{ToolCallID: "x", Name: "echo"})
	s.UpsertShell("new screen", true)

	chunks := s.Chunks()
	last := chunks[len(chunks)-1]
	require.Equal(t, models.KindShell, last.Kind)
	assert.Contains(t, last.Content, "old screen")
	assert.Contains(t, last.Content, "=== new terminal ===")
	assert.Contains(t, last.Content, "new screen")
}

func TestUpsertMemoryIdempotent(t *testing.T) {
	s := New()
	s.UpsertMemory("x")
	s.UpsertMemory("x")

	var memChunks int
	for _, c := range s.Chunks() {
		if c.Kind == models.KindMemory {
			memChunks++
		}
	}
	assert.Equal(t, 1, memChunks)
}

func TestUpdateSystemKeepsOneTrailingChunk(t *testing.T) {
	s := New()
	s.Append(models.KindSystem, "first", nil)
	s.UpdateSystem("second")
	s.UpdateSystem("third")

	var systemChunks []models.Chunk
	for _, c := range s.Chunks() {
		if c.Kind == models.KindSystem {
			systemChunks = append(systemChunks, c)
		}
	}
	require.Len(t, systemChunks, 1)
	assert.Equal(t, "third", systemChunks[0].Content)
}

func TestEditSystemChunkFails(t *testing.T) {
	s := New()
	id := s.Append(models.KindSystem, "immutable", nil)
	err := s.Edit(id, "changed")
	assert.ErrorIs(t, err, ErrSystemImmutable)
}

func TestDeleteAssistantCascadesToolResults(t *testing.T) {
	s := New()
	aID := s.Append(models.KindAssistant, "checking", &models.AssistantMetadata{
		ToolCalls: []models.ToolCallRecord{{ID: "c1", Name: "read_file"}},
	})
	s.AppendToolResult("contents", "c1", "read_file", 0)

	require.NoError(t, s.Delete(aID))

	for _, c := range s.Chunks() {
		assert.NotEqual(t, models.KindToolResult, c.Kind)
	}
}

func TestDeleteToolResultCollapsesEmptyAssistant(t *testing.T) {
	s := New()
	aID := s.Append(models.KindAssistant, "", &models.AssistantMetadata{
		ToolCalls: []models.ToolCallRecord{{ID: "c1", Name: "read_file"}},
	})
	rID := s.AppendToolResult("contents", "c1", "read_file", 0)

	require.NoError(t, s.Delete(rID))

	for _, c := range s.Chunks() {
		assert.NotEqual(t, aID, c.ID)
	}
}

func TestRenderRoundTripsThroughSerialize(t *testing.T) {
	s := New()
	s.Append(models.KindSystem, "You are Paw.", nil)
	s.Append(models.KindUser, "hello", nil)
	s.Append(models.KindAssistant, "hi there", nil)

	before := renderMessagesEqual(s.RenderForLLM())

	chunks, err := s.Serialize()
	require.NoError(t, err)
	raw, err := MarshalChunks(chunks)
	require.NoError(t, err)
	restoredChunks, err := UnmarshalChunks(raw)
	require.NoError(t, err)

	restored := Deserialize(restoredChunks)
	after := renderMessagesEqual(restored.RenderForLLM())

	assert.Equal(t, before, after)
}

func renderMessagesEqual(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		content := ""
		if m.Content != nil {
			content = *m.Content
		}
		out[i] = m.Role + ":" + content
	}
	return out
}

// Package chunkstore implements the ordered, typed conversation log that is
// the single source of truth for an agent turn: the Chunk Store.
package chunkstore

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hujiyo/Paw-sub000/pkg/models"
)

// Store is the ordered log of chunks that constitutes a conversation. All
// mutation goes through a single lock so the Turn Engine and the Shell
// worker never race on chunk order or the cached token sum.
type Store struct {
	mu     sync.RWMutex
	chunks []models.Chunk
	tokens int
}

// New returns an empty chunk store.
func New() *Store {
	return &Store{}
}

func newID() string {
	return uuid.NewString()
}

// Append adds a chunk of the given kind and content, updating the cached
// token sum, and returns its id. It applies no retention limit; use
// AppendToolResult for tool results that are subject to max_call_pairs.
func (s *Store) Append(kind models.Kind, content string, metadata any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(kind, content, metadata)
}

func (s *Store) appendLocked(kind models.Kind, content string, metadata any) string {
	c := models.Chunk{
		ID:             newID(),
		Content:        content,
		Kind:           kind,
		Timestamp:      time.Now(),
		TokensEstimate: models.EstimateTokens(content),
		Metadata:       metadata,
	}
	s.chunks = append(s.chunks, c)
	s.tokens += c.TokensEstimate
	return c.ID
}

// AppendToolResult appends a tool_result chunk and, if maxCallPairs > 0,
// evicts the oldest (tool_call, tool_result) pairs for the named tool until
// at most maxCallPairs remain.
func (s *Store) AppendToolResult(content, toolCallID, name string, maxCallPairs int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.appendLocked(models.KindToolResult, content, &models.ToolResultMetadata{
		ToolCallID: toolCallID,
		Name:       name,
	})
	if maxCallPairs > 0 {
		s.evictOldestPairsLocked(name, maxCallPairs)
	}
	return id
}

// evictOldestPairsLocked finds all tool_result chunks for name in order and,
// if there are more than keep, removes the oldest ones along with their
// matching assistant tool_call entries.
func (s *Store) evictOldestPairsLocked(name string, keep int) {
	var resultIdx []int
	for i, c := range s.chunks {
		if c.Kind != models.KindToolResult {
			continue
		}
		if m := c.ToolResultMeta(); m != nil && m.Name == name {
			resultIdx = append(resultIdx, i)
		}
	}
	excess := len(resultIdx) - keep
	if excess <= 0 {
		return
	}
	// Remove the evicted results while their indices are still valid, then
	// drop their ids from the owning assistant chunks (which may remove those
	// chunks and shift indices).
	var callIDs []string
	for _, idx := range resultIdx[:excess] {
		if m := s.chunks[idx].ToolResultMeta(); m != nil {
			callIDs = append(callIDs, m.ToolCallID)
		}
	}
	s.removeIndicesLocked(resultIdx[:excess])
	for _, id := range callIDs {
		s.removeToolCallIDLocked(id)
	}
}

// removeToolCallIDLocked removes id from whichever assistant chunk's
// tool_calls list contains it. If that leaves the list empty and the
// assistant chunk has no content, the whole chunk is removed.
func (s *Store) removeToolCallIDLocked(id string) {
	for i := range s.chunks {
		c := &s.chunks[i]
		if c.Kind != models.KindAssistant {
			continue
		}
		m := c.AssistantMeta()
		if m == nil {
			continue
		}
		for j, tc := range m.ToolCalls {
			if tc.ID != id {
				continue
			}
			m.ToolCalls = append(m.ToolCalls[:j], m.ToolCalls[j+1:]...)
			if len(m.ToolCalls) == 0 && strings.TrimSpace(c.Content) == "" {
				s.removeIndicesLocked([]int{i})
			}
			return
		}
	}
}

// removeIndicesLocked deletes the chunks at the given indices (assumed
// sorted ascending) and adjusts the cached token sum.
func (s *Store) removeIndicesLocked(idx []int) {
	if len(idx) == 0 {
		return
	}
	remove := make(map[int]bool, len(idx))
	for _, i := range idx {
		remove[i] = true
	}
	kept := s.chunks[:0:0]
	for i, c := range s.chunks {
		if remove[i] {
			s.tokens -= c.TokensEstimate
			continue
		}
		kept = append(kept, c)
	}
	s.chunks = kept
}

const newTerminalSeparator = "\n\n=== new terminal ===\n"

// UpsertShell enforces the single-shell invariant: at most one shell chunk
// exists at any time. If moveToEnd is false the existing shell chunk (if
// any) is rewritten in place; if true the existing chunk is dropped and a
// new one is appended, concatenating old content with a separator when old
// content existed.
func (s *Store) UpsertShell(content string, moveToEnd bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, existing := s.findLocked(models.KindShell)
	if !moveToEnd {
		if idx >= 0 {
			s.setContentLocked(idx, content)
			return s.chunks[idx].ID
		}
		return s.appendLocked(models.KindShell, content, nil)
	}

	newContent := content
	if idx >= 0 {
		if strings.TrimSpace(existing.Content) != "" {
			newContent = existing.Content + newTerminalSeparator + content
		}
		s.removeIndicesLocked([]int{idx})
	}
	return s.appendLocked(models.KindShell, newContent, nil)
}

// UpsertMemory enforces at most one memory chunk, replacing its content if
// one exists.
func (s *Store) UpsertMemory(content string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, _ := s.findLocked(models.KindMemory)
	if idx >= 0 {
		s.setContentLocked(idx, content)
		return s.chunks[idx].ID
	}
	return s.appendLocked(models.KindMemory, content, nil)
}

// RemoveMemory deletes the memory chunk if one exists, reporting whether it
// did.
func (s *Store) RemoveMemory() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, _ := s.findLocked(models.KindMemory)
	if idx < 0 {
		return false
	}
	s.removeIndicesLocked([]int{idx})
	return true
}

// UpdateSystem replaces the most recent system chunk's content, or appends
// one if none exists.
func (s *Store) UpdateSystem(content string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.chunks) - 1; i >= 0; i-- {
		if s.chunks[i].Kind == models.KindSystem {
			s.setContentLocked(i, content)
			return s.chunks[i].ID
		}
	}
	return s.appendLocked(models.KindSystem, content, nil)
}

func (s *Store) findLocked(kind models.Kind) (int, models.Chunk) {
	for i, c := range s.chunks {
		if c.Kind == kind {
			return i, c
		}
	}
	return -1, models.Chunk{}
}

func (s *Store) setContentLocked(idx int, content string) {
	old := s.chunks[idx]
	s.tokens -= old.TokensEstimate
	old.Content = content
	old.TokensEstimate = models.EstimateTokens(content)
	old.Timestamp = time.Now()
	s.chunks[idx] = old
	s.tokens += old.TokensEstimate
}

// ErrSystemImmutable is returned by Edit and Delete when the target is a
// system chunk; system chunks are never user-editable.
var ErrSystemImmutable = fmt.Errorf("system chunks are not editable")

// Edit replaces a chunk's content by id. Editing a system chunk fails.
func (s *Store) Edit(id, newContent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOfLocked(id)
	if idx < 0 {
		return fmt.Errorf("chunk %s not found", id)
	}
	if s.chunks[idx].Kind == models.KindSystem {
		return ErrSystemImmutable
	}
	s.setContentLocked(idx, newContent)
	return nil
}

// Delete removes a chunk by id, cascading per the invariants: deleting an
// assistant chunk removes its matching tool_result chunks, and deleting a
// tool_result chunk removes its id from the owning assistant's tool_calls
// (collapsing the assistant chunk if that empties it and it has no text).
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOfLocked(id)
	if idx < 0 {
		return fmt.Errorf("chunk %s not found", id)
	}
	c := s.chunks[idx]
	if c.Kind == models.KindSystem {
		return ErrSystemImmutable
	}
	s.deleteLocked(idx)
	return nil
}

func (s *Store) deleteLocked(idx int) {
	c := s.chunks[idx]
	switch c.Kind {
	case models.KindAssistant:
		if m := c.AssistantMeta(); m != nil {
			ids := make(map[string]bool, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				ids[tc.ID] = true
			}
			s.removeIndicesLocked([]int{idx})
			if len(ids) > 0 {
				var toRemove []int
				for i, other := range s.chunks {
					if other.Kind != models.KindToolResult {
						continue
					}
					if om := other.ToolResultMeta(); om != nil && ids[om.ToolCallID] {
						toRemove = append(toRemove, i)
					}
				}
				s.removeIndicesLocked(toRemove)
			}
			return
		}
		s.removeIndicesLocked([]int{idx})
	case models.KindToolResult:
		s.removeIndicesLocked([]int{idx})
		if m := c.ToolResultMeta(); m != nil {
			s.removeToolCallIDLocked(m.ToolCallID)
		}
	default:
		s.removeIndicesLocked([]int{idx})
	}
}

// TruncateFrom removes the chunk with id and every chunk after it, applying
// the same cascade as Delete for every removed chunk. System chunks in that
// range are kept.
func (s *Store) TruncateFrom(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOfLocked(id)
	if idx < 0 {
		return fmt.Errorf("chunk %s not found", id)
	}
	ids := make([]string, 0, len(s.chunks)-idx)
	for _, c := range s.chunks[idx:] {
		ids = append(ids, c.ID)
	}
	// Delete from the back forward, looking each chunk up by id: a cascade
	// may already have removed it or shifted the chunks before it.
	for i := len(ids) - 1; i >= 0; i-- {
		j := s.indexOfLocked(ids[i])
		if j < 0 || s.chunks[j].Kind == models.KindSystem {
			continue
		}
		s.deleteLocked(j)
	}
	return nil
}

func (s *Store) indexOfLocked(id string) int {
	for i, c := range s.chunks {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// ReplaceAll atomically swaps the entire chunk log for newChunks and
// recomputes the cached token sum. Used by the Branch Engine's
// commit_changes, which builds the post-commit chunk list on a private
// copy and only calls ReplaceAll once every staged op has been applied
// successfully, so a failed commit never partially mutates the store.
func (s *Store) ReplaceAll(newChunks []models.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, c := range newChunks {
		total += c.TokensEstimate
	}
	s.chunks = newChunks
	s.tokens = total
}

// Chunks returns a copy of the current chunk slice.
func (s *Store) Chunks() []models.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Chunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// TokenTotal returns the cached running token sum.
func (s *Store) TokenTotal() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

// Len returns the number of chunks currently stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hujiyo/Paw-sub000/internal/chunkstore"
	"github.com/hujiyo/Paw-sub000/pkg/models"
)

// terminalClosedMarker is appended to a restored shell chunk's content when
// the snapshot recorded an open shell; restoring never resurrects the live
// process, only the snapshot text.
const terminalClosedMarker = "[Terminal closed. Reopen available]"

// titlePreviewRunes is the number of runes kept from the first user chunk
// when deriving a session title, per spec.md §3.
const titlePreviewRunes = 30

// Manager drives session save/load/list/delete against a Store, deriving
// titles and ids and implementing the restore-time shell-marker rule.
// Satisfies agent.SessionSaver.
type Manager struct {
	Store  Store
	Logger *slog.Logger

	activeID string
}

// NewManager constructs a Session Manager over store.
func NewManager(store Store) *Manager {
	return &Manager{
		Store:  store,
		Logger: slog.Default().With("component", "session"),
	}
}

// ActiveID returns the id of the session currently being rewritten on each
// turn boundary, or "" if none has been established yet.
func (m *Manager) ActiveID() string {
	return m.activeID
}

// SetActiveID pins the session id Save will use, e.g. after Load.
func (m *Manager) SetActiveID(id string) {
	m.activeID = id
}

func newSessionID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	return hex.EncodeToString(b)
}

// deriveTitle returns the first titlePreviewRunes runes of text, with an
// ellipsis if truncated, or "empty conversation" if text is empty.
func deriveTitle(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "empty conversation"
	}
	runes := []rune(trimmed)
	if len(runes) <= titlePreviewRunes {
		return trimmed
	}
	return string(runes[:titlePreviewRunes]) + "..."
}

func firstUserChunkContent(chunks []models.Chunk) string {
	for _, c := range chunks {
		if c.Kind == models.KindUser {
			return c.Content
		}
	}
	return ""
}

// Save snapshots store under the active session id (generating one on the
// first call), deriving the title from the first user chunk. Satisfies
// agent.SessionSaver.
func (m *Manager) Save(ctx context.Context, store *chunkstore.Store, workspace, model string, shellOpen bool, shellPID int) error {
	if m.activeID == "" {
		m.activeID = newSessionID()
	}
	chunks := store.Chunks()
	snap := models.SessionSnapshot{
		SessionID:    m.activeID,
		Title:        deriveTitle(firstUserChunkContent(chunks)),
		Timestamp:    time.Now(),
		WorkspaceDir: workspace,
		Model:        model,
		Chunks:       chunks,
		TokenCount:   store.TokenTotal(),
		MessageCount: len(chunks),
		ShellOpen:    shellOpen,
		ShellPID:     shellPID,
	}
	if err := m.Store.Write(ctx, snap); err != nil {
		// Persistence errors are logged to the operator but never
		// interrupt the turn, per spec.md §7.
		m.Logger.Error("save session", "session_id", m.activeID, "error", err)
		return err
	}
	return nil
}

// Load reconstructs a chunk store from the session id's snapshot, applying
// the idempotent terminal-closed marker to a previously open shell chunk.
// ok is false if the session does not exist or its file is unreadable.
func (m *Manager) Load(ctx context.Context, id string) (*chunkstore.Store, models.SessionSnapshot, bool, error) {
	snap, ok, err := m.Store.Read(ctx, id)
	if err != nil || !ok {
		return nil, models.SessionSnapshot{}, false, err
	}

	chunks := snap.Chunks
	if snap.ShellOpen {
		for i := range chunks {
			if chunks[i].Kind != models.KindShell {
				continue
			}
			if !strings.HasSuffix(chunks[i].Content, terminalClosedMarker) {
				sep := "\n"
				if strings.TrimSpace(chunks[i].Content) == "" {
					sep = ""
				}
				chunks[i].Content += sep + terminalClosedMarker
				chunks[i].TokensEstimate = models.EstimateTokens(chunks[i].Content)
			}
		}
	}

	store := chunkstore.Deserialize(chunks)
	m.activeID = snap.SessionID
	return store, snap, true, nil
}

// List returns up to limit session summaries, newest first.
func (m *Manager) List(ctx context.Context, limit int) ([]models.SessionSummary, error) {
	return m.Store.List(ctx, limit)
}

// Delete removes the session with id. If it is the active session, the
// manager forgets it so the next Save mints a fresh id.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.Store.Delete(ctx, id); err != nil {
		return err
	}
	if m.activeID == id {
		m.activeID = ""
	}
	return nil
}

// New starts a fresh session: the manager forgets any active id so the
// next Save mints a new one.
func (m *Manager) New() {
	m.activeID = ""
}

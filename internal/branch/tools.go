package branch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hujiyo/Paw-sub000/internal/tools"
)

type viewChunkArgs struct {
	Index int `json:"index"`
}

type indicesArgs struct {
	Indices []int `json:"indices"`
}

type compressArgs struct {
	Indices []int  `json:"indices"`
	Summary string `json:"summary"`
}

type rewriteArgs struct {
	Index   int    `json:"index"`
	Content string `json:"content"`
}

// registerTools registers the 8 branch-mode tools into m.Tools, disabled
// until a branch is created. Handlers close over m so they always act on
// whichever branch is currently active.
func (m *Manager) registerTools() {
	entries := []*tools.Entry{
		{
			Name:        "view_chunk_detail",
			Description: "Show the full content of one chunk from the parent conversation by index.",
			Schema:      mustSchema(`{"type":"object","properties":{"index":{"type":"integer"}},"required":["index"]}`),
			Category:    "branch",
			Handler:     m.handleViewChunkDetail,
		},
		{
			Name:        "compress_chunks",
			Description: "Stage replacing a contiguous or scattered set of chunks with a single summary chunk.",
			Schema:      mustSchema(`{"type":"object","properties":{"indices":{"type":"array","items":{"type":"integer"}},"summary":{"type":"string"}},"required":["indices","summary"]}`),
			Category:    "branch",
			Handler:     m.handleCompressChunks,
		},
		{
			Name:        "remove_chunks",
			Description: "Stage deleting a set of chunks outright.",
			Schema:      mustSchema(`{"type":"object","properties":{"indices":{"type":"array","items":{"type":"integer"}}},"required":["indices"]}`),
			Category:    "branch",
			Handler:     m.handleRemoveChunks,
		},
		{
			Name:        "rewrite_chunk",
			Description: "Stage replacing a single chunk's content in place.",
			Schema:      mustSchema(`{"type":"object","properties":{"index":{"type":"integer"},"content":{"type":"string"}},"required":["index","content"]}`),
			Category:    "branch",
			Handler:     m.handleRewriteChunk,
		},
		{
			Name:        "preview_changes",
			Description: "List staged edits and the estimated total token delta.",
			Schema:      mustSchema(`{"type":"object","properties":{}}`),
			Category:    "branch",
			Handler:     m.handlePreviewChanges,
		},
		{
			Name:        "commit_changes",
			Description: "Atomically apply all staged edits to the parent conversation.",
			Schema:      mustSchema(`{"type":"object","properties":{}}`),
			Category:    "branch",
			Handler:     m.handleCommitChanges,
		},
		{
			Name:        "rollback_changes",
			Description: "Discard all staged edits without touching the parent conversation.",
			Schema:      mustSchema(`{"type":"object","properties":{}}`),
			Category:    "branch",
			Handler:     m.handleRollbackChanges,
		},
		{
			Name:        "exit_branch",
			Description: "Close the branch and return control to the parent conversation. Fails while edits remain staged.",
			Schema:      mustSchema(`{"type":"object","properties":{}}`),
			Category:    "branch",
			Handler:     m.handleExitBranch,
		},
	}
	for _, e := range entries {
		e.Enabled = false
		if err := m.Tools.Register(e); err != nil {
			m.Logger.Error("register branch tool", "tool", e.Name, "error", err)
		}
	}
}

func mustSchema(s string) json.RawMessage {
	return json.RawMessage(s)
}

func (m *Manager) handleViewChunkDetail(ctx context.Context, raw json.RawMessage) (any, error) {
	var args viewChunkArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	chunks := m.Parent.Chunks()
	if args.Index < 0 || args.Index >= len(chunks) {
		return nil, fmt.Errorf("index %d out of range (0..%d)", args.Index, len(chunks)-1)
	}
	c := chunks[args.Index]
	return fmt.Sprintf("[%d] %s (%d tok, id=%s):\n%s", args.Index, c.Kind, c.TokensEstimate, c.ID, c.Content), nil
}

func (m *Manager) handleCompressChunks(ctx context.Context, raw json.RawMessage) (any, error) {
	var args compressArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if len(args.Indices) == 0 {
		return nil, fmt.Errorf("indices must not be empty")
	}
	if err := m.stage(EditOp{Kind: "compress", Indices: args.Indices, Content: args.Summary}); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Staged compression of %d chunk(s).", len(args.Indices)), nil
}

func (m *Manager) handleRemoveChunks(ctx context.Context, raw json.RawMessage) (any, error) {
	var args indicesArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if len(args.Indices) == 0 {
		return nil, fmt.Errorf("indices must not be empty")
	}
	if err := m.stage(EditOp{Kind: "remove", Indices: args.Indices}); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Staged removal of %d chunk(s).", len(args.Indices)), nil
}

func (m *Manager) handleRewriteChunk(ctx context.Context, raw json.RawMessage) (any, error) {
	var args rewriteArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if err := m.stage(EditOp{Kind: "rewrite", Indices: []int{args.Index}, Content: args.Content}); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Staged rewrite of chunk %d.", args.Index), nil
}

func (m *Manager) handlePreviewChanges(ctx context.Context, raw json.RawMessage) (any, error) {
	return m.preview()
}

func (m *Manager) handleCommitChanges(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := m.commit(); err != nil {
		return nil, err
	}
	return "Changes committed to the parent conversation.", nil
}

func (m *Manager) handleRollbackChanges(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := m.rollback(); err != nil {
		return nil, err
	}
	return "Staged changes discarded.", nil
}

func (m *Manager) handleExitBranch(ctx context.Context, raw json.RawMessage) (any, error) {
	trigger := TriggerManual
	if b := m.ActiveBranch(); b != nil {
		trigger = b.Trigger
	}
	if err := m.exit(trigger); err != nil {
		return nil, err
	}
	return "Branch closed.", nil
}

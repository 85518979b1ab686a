package models

import "time"

// SessionSnapshot is a persisted, resumable snapshot of a chunk store plus
// minimal environment metadata.
type SessionSnapshot struct {
	SessionID     string    `json:"session_id"`
	Title         string    `json:"title"`
	Timestamp     time.Time `json:"timestamp"`
	WorkspaceDir  string    `json:"workspace_dir"`
	Model         string    `json:"model"`
	Chunks        []Chunk   `json:"chunks"`
	TokenCount    int       `json:"token_count"`
	MessageCount  int       `json:"message_count"`
	ShellOpen     bool      `json:"shell_open"`
	ShellPID      int       `json:"shell_pid,omitempty"`
}

// SessionSummary is the index entry for a session, used by Store.List
// without loading the full chunk log.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	Title        string    `json:"title"`
	Timestamp    time.Time `json:"timestamp"`
	WorkspaceDir string    `json:"workspace_dir"`
	Model        string    `json:"model"`
	MessageCount int       `json:"message_count"`
	TokenCount   int       `json:"token_count"`
	ShellOpen    bool      `json:"shell_open"`
}

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hujiyo/Paw-sub000/internal/chunkstore"
	"github.com/hujiyo/Paw-sub000/pkg/models"
)

// PGStore persists session snapshots to Postgres/CockroachDB, implementing
// the same Store interface as FileStore so the Turn Engine and Session
// Manager never know which backend is active. Grounded on the teacher's
// pgxpool-based store pattern (schema-on-connect, parameterized
// INSERT..ON CONFLICT upserts, QueryRow/Scan reads).
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps an already-connected pool and ensures the sessions
// table exists.
func NewPGStore(ctx context.Context, pool *pgxpool.Pool) (*PGStore, error) {
	s := &PGStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PGStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS paw_sessions (
  session_id    TEXT PRIMARY KEY,
  title         TEXT NOT NULL DEFAULT '',
  timestamp     TIMESTAMPTZ NOT NULL,
  workspace_dir TEXT NOT NULL DEFAULT '',
  model         TEXT NOT NULL DEFAULT '',
  chunks        JSONB NOT NULL DEFAULT '[]',
  token_count   INTEGER NOT NULL DEFAULT 0,
  message_count INTEGER NOT NULL DEFAULT 0,
  shell_open    BOOLEAN NOT NULL DEFAULT false,
  shell_pid     INTEGER NOT NULL DEFAULT 0
)
`)
	return err
}

// Write upserts snap by session_id.
func (s *PGStore) Write(ctx context.Context, snap models.SessionSnapshot) error {
	chunksJSON, err := chunkstore.MarshalChunks(snap.Chunks)
	if err != nil {
		return fmt.Errorf("marshal chunks: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO paw_sessions(session_id, title, timestamp, workspace_dir, model, chunks,
                          token_count, message_count, shell_open, shell_pid)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (session_id) DO UPDATE SET
  title=EXCLUDED.title,
  timestamp=EXCLUDED.timestamp,
  workspace_dir=EXCLUDED.workspace_dir,
  model=EXCLUDED.model,
  chunks=EXCLUDED.chunks,
  token_count=EXCLUDED.token_count,
  message_count=EXCLUDED.message_count,
  shell_open=EXCLUDED.shell_open,
  shell_pid=EXCLUDED.shell_pid
`, snap.SessionID, snap.Title, snap.Timestamp, snap.WorkspaceDir, snap.Model, chunksJSON,
		snap.TokenCount, snap.MessageCount, snap.ShellOpen, snap.ShellPID)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// Read loads the snapshot for id. A missing row is reported as ok=false,
// not an error, matching FileStore's "unreadable is nonexistent" rule.
func (s *PGStore) Read(ctx context.Context, id string) (models.SessionSnapshot, bool, error) {
	var snap models.SessionSnapshot
	var chunksJSON []byte
	row := s.pool.QueryRow(ctx, `
SELECT session_id, title, timestamp, workspace_dir, model, chunks,
       token_count, message_count, shell_open, shell_pid
FROM paw_sessions WHERE session_id=$1
`, id)
	err := row.Scan(&snap.SessionID, &snap.Title, &snap.Timestamp, &snap.WorkspaceDir, &snap.Model,
		&chunksJSON, &snap.TokenCount, &snap.MessageCount, &snap.ShellOpen, &snap.ShellPID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SessionSnapshot{}, false, nil
	}
	if err != nil {
		return models.SessionSnapshot{}, false, nil
	}
	if err := json.Unmarshal(chunksJSON, &snap.Chunks); err != nil {
		return models.SessionSnapshot{}, false, nil
	}
	return snap, true, nil
}

// List returns up to limit summaries, newest first.
func (s *PGStore) List(ctx context.Context, limit int) ([]models.SessionSummary, error) {
	query := `
SELECT session_id, title, timestamp, workspace_dir, model, message_count, token_count, shell_open
FROM paw_sessions ORDER BY timestamp DESC`
	var rows pgx.Rows
	var err error
	if limit > 0 {
		rows, err = s.pool.Query(ctx, query+" LIMIT $1", limit)
	} else {
		rows, err = s.pool.Query(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []models.SessionSummary
	for rows.Next() {
		var sum models.SessionSummary
		if err := rows.Scan(&sum.SessionID, &sum.Title, &sum.Timestamp, &sum.WorkspaceDir,
			&sum.Model, &sum.MessageCount, &sum.TokenCount, &sum.ShellOpen); err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete removes id's row. Not an error if it does not exist.
func (s *PGStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM paw_sessions WHERE session_id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

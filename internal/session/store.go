// Package session implements the Session Manager: named, indexed,
// resumable snapshots of a Chunk Store plus minimal workspace/model
// metadata.
package session

import (
	"context"

	"github.com/hujiyo/Paw-sub000/pkg/models"
)

// Store is the persistence interface the Session Manager drives. The
// default implementation is a directory of JSON files; pgstore.go ships an
// alternate Postgres/CockroachDB-backed implementation of the same
// interface, selected by config.
type Store interface {
	// Write persists snap, creating or overwriting its file, and rewrites
	// the index.
	Write(ctx context.Context, snap models.SessionSnapshot) error

	// Read loads the snapshot for id. ok is false if the file is missing
	// or unreadable; unreadable files are treated as nonexistent, never as
	// a fatal error.
	Read(ctx context.Context, id string) (models.SessionSnapshot, bool, error)

	// List returns up to limit summaries, newest first. limit <= 0 means
	// unbounded.
	List(ctx context.Context, limit int) ([]models.SessionSummary, error)

	// Delete removes the session's file and its index entry. Deleting a
	// nonexistent id is not an error.
	Delete(ctx context.Context, id string) error
}

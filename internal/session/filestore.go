package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hujiyo/Paw-sub000/pkg/models"
)

// FileStore is the default Session Store: one JSON file per session
// (`<id>.json`) plus an `index.json` mapping id to summary, rewritten
// after every write. Grounded on the teacher's artifacts.LocalStore
// write-temp-then-rename pattern for crash-safe writes and its in-memory
// index mirrored to disk.
type FileStore struct {
	dir string

	mu    sync.Mutex
	index map[string]models.SessionSummary
}

// NewFileStore opens (creating if necessary) a directory-of-files session
// store at dir, loading its index. A corrupt or missing index.json is
// recovered by rebuilding from the directory contents rather than failing.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	fs := &FileStore{dir: dir, index: make(map[string]models.SessionSummary)}
	if err := fs.loadIndex(); err != nil {
		if err := fs.rebuildIndex(); err != nil {
			return nil, fmt.Errorf("rebuild session index: %w", err)
		}
	}
	return fs, nil
}

func (fs *FileStore) indexPath() string {
	return filepath.Join(fs.dir, "index.json")
}

func (fs *FileStore) sessionPath(id string) string {
	return filepath.Join(fs.dir, id+".json")
}

func (fs *FileStore) loadIndex() error {
	data, err := os.ReadFile(fs.indexPath())
	if err != nil {
		return err
	}
	var entries []models.SessionSummary
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, e := range entries {
		fs.index[e.SessionID] = e
	}
	return nil
}

// rebuildIndex recovers the index by scanning every <id>.json file in the
// directory, per spec.md §4.9's "index corruption is recovered by
// rebuilding from the directory contents on next list" failure semantics.
func (fs *FileStore) rebuildIndex() error {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.index = make(map[string]models.SessionSummary)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == "index.json" || filepath.Ext(name) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(fs.dir, name))
		if err != nil {
			continue
		}
		var snap models.SessionSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			continue
		}
		fs.index[snap.SessionID] = summaryOf(snap)
	}
	return fs.persistIndexLocked()
}

func (fs *FileStore) persistIndexLocked() error {
	entries := make([]models.SessionSummary, 0, len(fs.index))
	for _, e := range fs.index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp.After(entries[j].Timestamp) })
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(fs.indexPath(), data)
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func summaryOf(snap models.SessionSnapshot) models.SessionSummary {
	return models.SessionSummary{
		SessionID:    snap.SessionID,
		Title:        snap.Title,
		Timestamp:    snap.Timestamp,
		WorkspaceDir: snap.WorkspaceDir,
		Model:        snap.Model,
		MessageCount: snap.MessageCount,
		TokenCount:   snap.TokenCount,
		ShellOpen:    snap.ShellOpen,
	}
}

// Write persists snap and rewrites the index.
func (fs *FileStore) Write(ctx context.Context, snap models.SessionSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session snapshot: %w", err)
	}
	if err := writeAtomic(fs.sessionPath(snap.SessionID), data); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	fs.mu.Lock()
	fs.index[snap.SessionID] = summaryOf(snap)
	err = fs.persistIndexLocked()
	fs.mu.Unlock()
	if err != nil {
		return fmt.Errorf("persist session index: %w", err)
	}
	return nil
}

// Read loads the snapshot for id. An unreadable or malformed file is
// treated as nonexistent rather than a fatal error, per spec.md §4.9.
func (fs *FileStore) Read(ctx context.Context, id string) (models.SessionSnapshot, bool, error) {
	data, err := os.ReadFile(fs.sessionPath(id))
	if err != nil {
		return models.SessionSnapshot{}, false, nil
	}
	var snap models.SessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return models.SessionSnapshot{}, false, nil
	}
	return snap, true, nil
}

// List returns up to limit summaries, newest first.
func (fs *FileStore) List(ctx context.Context, limit int) ([]models.SessionSummary, error) {
	fs.mu.Lock()
	entries := make([]models.SessionSummary, 0, len(fs.index))
	for _, e := range fs.index {
		entries = append(entries, e)
	}
	fs.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp.After(entries[j].Timestamp) })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Delete removes id's file and index entry. Not an error if id is already
// gone.
func (fs *FileStore) Delete(ctx context.Context, id string) error {
	if err := os.Remove(fs.sessionPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session file: %w", err)
	}
	fs.mu.Lock()
	delete(fs.index, id)
	err := fs.persistIndexLocked()
	fs.mu.Unlock()
	if err != nil {
		return fmt.Errorf("persist session index: %w", err)
	}
	return nil
}

package recall

import (
	"context"
	"sync"

	"github.com/hujiyo/Paw-sub000/pkg/models"
)

// Backend is the corpus store: every (user, assistant) pair ever saved,
// keyed by its stable content hash. This package ships the in-process
// default (NewMemoryBackend) and a durable SQLite one (NewSQLiteBackend).
type Backend interface {
	// Put inserts or overwrites the record for its hash.
	Put(ctx context.Context, rec models.RecallRecord) error

	// Get returns the record for hash, if present.
	Get(ctx context.Context, hash string) (models.RecallRecord, bool, error)

	// All returns every record in the corpus, in no particular order.
	All(ctx context.Context) ([]models.RecallRecord, error)
}

// memoryBackend is an in-process, cosine-similarity-searchable corpus
// store. Grounded on the teacher's sqlitevec backend's role (a Backend
// implementation behind the Recall Engine) but held entirely in memory —
// justified because the embedding provider's own transport, and any real
// vector database, is explicitly out of scope per spec.md §1; this is the
// degenerate in-process case of the same Backend interface.
type memoryBackend struct {
	mu      sync.RWMutex
	records map[string]models.RecallRecord
}

// NewMemoryBackend returns the default in-process corpus store.
func NewMemoryBackend() Backend {
	return &memoryBackend{records: make(map[string]models.RecallRecord)}
}

func (b *memoryBackend) Put(ctx context.Context, rec models.RecallRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[rec.Hash] = rec
	return nil
}

func (b *memoryBackend) Get(ctx context.Context, hash string) (models.RecallRecord, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.records[hash]
	return rec, ok, nil
}

func (b *memoryBackend) All(ctx context.Context) ([]models.RecallRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.RecallRecord, 0, len(b.records))
	for _, rec := range b.records {
		out = append(out, rec)
	}
	return out, nil
}

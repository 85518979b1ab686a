package recall

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, registers as "sqlite"

	"github.com/hujiyo/Paw-sub000/pkg/models"
)

// SQLiteBackend is a durable Backend implementation: the corpus survives a
// process restart, at the cost of doing the cosine-similarity scan in Go
// rather than against a vector index. Grounded on the teacher's
// sqlitevec.Backend — same embedding-as-blob encoding, same "no vec0
// extension available" caveat — adapted from a multi-scope memory store to
// this package's single flat corpus.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (creating if absent) a corpus database at path.
// Pass ":memory:" for an ephemeral in-process database.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite recall corpus: %w", err)
	}
	b := &SQLiteBackend{db: db}
	if err := b.init(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) init() error {
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS recall_corpus (
			hash TEXT PRIMARY KEY,
			user_text TEXT NOT NULL,
			assistant_text TEXT NOT NULL,
			embedding BLOB,
			created_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create recall_corpus table: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (b *SQLiteBackend) Close() error { return b.db.Close() }

// Put implements Backend.
func (b *SQLiteBackend) Put(ctx context.Context, rec models.RecallRecord) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO recall_corpus (hash, user_text, assistant_text, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (hash) DO UPDATE SET
			user_text = excluded.user_text,
			assistant_text = excluded.assistant_text,
			embedding = excluded.embedding,
			created_at = excluded.created_at
	`, rec.Hash, rec.UserText, rec.AssistantText, encodeEmbedding(rec.Embedding), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("put recall record: %w", err)
	}
	return nil
}

// Get implements Backend.
func (b *SQLiteBackend) Get(ctx context.Context, hash string) (models.RecallRecord, bool, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT hash, user_text, assistant_text, embedding, created_at
		FROM recall_corpus WHERE hash = ?
	`, hash)
	rec, err := scanRecallRow(row)
	if err == sql.ErrNoRows {
		return models.RecallRecord{}, false, nil
	}
	if err != nil {
		return models.RecallRecord{}, false, fmt.Errorf("get recall record: %w", err)
	}
	return rec, true, nil
}

// All implements Backend.
func (b *SQLiteBackend) All(ctx context.Context) ([]models.RecallRecord, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT hash, user_text, assistant_text, embedding, created_at FROM recall_corpus
	`)
	if err != nil {
		return nil, fmt.Errorf("list recall records: %w", err)
	}
	defer rows.Close()

	var out []models.RecallRecord
	for rows.Next() {
		rec, err := scanRecallRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recall record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecallRow(row *sql.Row) (models.RecallRecord, error) {
	return scanRecallAny(row)
}

func scanRecallRows(rows *sql.Rows) (models.RecallRecord, error) {
	return scanRecallAny(rows)
}

func scanRecallAny(s rowScanner) (models.RecallRecord, error) {
	var rec models.RecallRecord
	var embeddingBlob []byte
	var createdAt time.Time
	if err := s.Scan(&rec.Hash, &rec.UserText, &rec.AssistantText, &embeddingBlob, &createdAt); err != nil {
		return models.RecallRecord{}, err
	}
	rec.Embedding = decodeEmbedding(embeddingBlob)
	rec.CreatedAt = createdAt
	return rec, nil
}

// encodeEmbedding serializes a []float32 to a little-endian byte blob.
func encodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	data := make([]byte, len(embedding)*4)
	for i, f := range embedding {
		bits := math.Float32bits(f)
		data[i*4] = byte(bits)
		data[i*4+1] = byte(bits >> 8)
		data[i*4+2] = byte(bits >> 16)
		data[i*4+3] = byte(bits >> 24)
	}
	return data
}

// decodeEmbedding is encodeEmbedding's inverse.
func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		bits := uint32(data[i*4]) |
			uint32(data[i*4+1])<<8 |
			uint32(data[i*4+2])<<16 |
			uint32(data[i*4+3])<<24
		embedding[i] = math.Float32frombits(bits)
	}
	return embedding
}

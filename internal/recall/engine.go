// Package recall implements the Recall Engine: vector-backed retrieval
// over past conversation pairs with a life-points decay rule, so
// frequently-relevant memories persist and one-off matches fade within a
// few turns.
package recall

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hujiyo/Paw-sub000/internal/recall/embeddings"
	"github.com/hujiyo/Paw-sub000/pkg/models"
)

// DefaultDecayStep is the fixed per-tick life-points decrement.
const DefaultDecayStep = 0.2

// DefaultK is the default number of corpus entries promoted per recall call.
const DefaultK = 3

// DefaultMinScore is the default cosine-similarity acceptance threshold.
const DefaultMinScore = 0.75

const recallDelimiter = "[recall: memories surfaced from past conversations]"

// Engine is the Recall Engine: a corpus store plus an active set with
// life-points decay, both keyed by content hash.
type Engine struct {
	Backend  Backend
	Provider embeddings.Provider
	Logger   *slog.Logger

	DecayStep float64
	K         int
	MinScore  float64
	Capacity  int // not enforced: the active set is unbounded whatever its value

	mu     sync.Mutex
	active map[string]*models.RecallRecord
}

// New constructs a Recall Engine over backend, embedding new corpus entries
// with provider (embeddings.Noop{} if nil).
func New(backend Backend, provider embeddings.Provider) *Engine {
	if provider == nil {
		provider = embeddings.Noop{}
	}
	return &Engine{
		Backend:   backend,
		Provider:  provider,
		Logger:    slog.Default().With("component", "recall"),
		DecayStep: DefaultDecayStep,
		K:         DefaultK,
		MinScore:  DefaultMinScore,
		active:    make(map[string]*models.RecallRecord),
	}
}

func contentHash(userText, assistantText string) string {
	sum := sha256.Sum256([]byte(userText + "\x00" + assistantText))
	return hex.EncodeToString(sum[:])
}

// Save computes userText+assistantText's embedding and appends it to the
// corpus. Idempotent on a duplicate hash (spec.md §4.7).
func (e *Engine) Save(ctx context.Context, userText, assistantText string) error {
	hash := contentHash(userText, assistantText)
	if _, exists, err := e.Backend.Get(ctx, hash); err == nil && exists {
		return nil
	}
	embedding, err := e.Provider.Embed(ctx, userText+"\n"+assistantText)
	if err != nil {
		return fmt.Errorf("embed recall pair: %w", err)
	}
	return e.Backend.Put(ctx, models.RecallRecord{
		Hash:          hash,
		UserText:      userText,
		AssistantText: assistantText,
		Embedding:     embedding,
		CreatedAt:     time.Now(),
	})
}

// Tick decrements every active entry's life points by DecayStep and drops
// entries that reach zero or below. The forgotten entries are not reported
// to the caller.
func (e *Engine) Tick(ctx context.Context) {
	step := e.DecayStep
	if step <= 0 {
		step = DefaultDecayStep
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for hash, rec := range e.active {
		rec.LifePoints -= step
		// Repeated float subtraction leaves a tiny residue (five steps of 0.2
		// from 1 leave about 5.6e-17), so treat anything that small as zero.
		if rec.LifePoints <= 1e-9 {
			delete(e.active, hash)
		}
	}
}

// Recall scores every corpus entry against query (optionally contextualised
// by recentContext), promotes up to K entries scoring >= MinScore into the
// active set, and returns the count of entries newly activated (reinforced
// entries that were already active do not count). Embedding failures
// degrade silently to zero new activations, per spec.md §4.7.
func (e *Engine) Recall(ctx context.Context, query, recentContext string) (int, error) {
	text := query
	if recentContext != "" {
		text = query + "\n" + recentContext
	}
	queryVec, err := e.Provider.Embed(ctx, text)
	if err != nil {
		if e.Logger != nil {
			e.Logger.Debug("recall embedding failed", "error", err)
		}
		return 0, nil
	}
	if len(queryVec) == 0 {
		return 0, nil
	}

	corpus, err := e.Backend.All(ctx)
	if err != nil {
		return 0, err
	}

	type scored struct {
		rec   models.RecallRecord
		score float64
	}
	var candidates []scored
	minScore := e.MinScore
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	for _, rec := range corpus {
		score := cosineSimilarity(queryVec, rec.Embedding)
		if score >= minScore {
			candidates = append(candidates, scored{rec, score})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	k := e.K
	if k <= 0 {
		k = DefaultK
	}
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	newlyActivated := 0
	for _, c := range candidates {
		if existing, ok := e.active[c.rec.Hash]; ok {
			existing.LifePoints = 1 // reinforcement
			continue
		}
		rec := c.rec
		rec.LifePoints = 1
		rec.Active = true
		e.active[rec.Hash] = &rec
		newlyActivated++
	}
	return newlyActivated, nil
}

// RenderActive returns a concise digest of the currently active entries,
// suitable for transient injection ahead of the first inner-loop iteration.
func (e *Engine) RenderActive() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.active) == 0 {
		return ""
	}
	entries := make([]*models.RecallRecord, 0, len(e.active))
	for _, rec := range e.active {
		entries = append(entries, rec)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].LifePoints > entries[j].LifePoints })

	var b strings.Builder
	b.WriteString(recallDelimiter)
	for _, rec := range entries {
		b.WriteString("\n- user: ")
		b.WriteString(rec.UserText)
		b.WriteString("\n  assistant: ")
		b.WriteString(rec.AssistantText)
	}
	return b.String()
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

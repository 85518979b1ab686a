package chunkstore

import (
	"encoding/json"

	"github.com/hujiyo/Paw-sub000/pkg/models"
)

// Serialize returns the chunk log in its on-disk wire shape.
func (s *Store) Serialize() ([]models.Chunk, error) {
	return s.Chunks(), nil
}

// Deserialize builds a new store from chunks loaded from persisted state,
// re-estimating token counts for any chunk whose count is
// missing (zero) and a non-empty content.
func Deserialize(chunks []models.Chunk) *Store {
	s := New()
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	restored := make([]models.Chunk, len(chunks))
	for i, c := range chunks {
		if c.TokensEstimate == 0 && c.Content != "" {
			c.TokensEstimate = models.EstimateTokens(c.Content)
		}
		if c.ID == "" {
			c.ID = newID()
		}
		restored[i] = c
		total += c.TokensEstimate
	}
	s.chunks = restored
	s.tokens = total
	return s
}

// MarshalChunks/UnmarshalChunks are JSON convenience wrappers over a chunk
// slice, used by the Postgres session store and the branch snapshot.
func MarshalChunks(chunks []models.Chunk) ([]byte, error) {
	return json.Marshal(chunks)
}

func UnmarshalChunks(data []byte) ([]models.Chunk, error) {
	var chunks []models.Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, err
	}
	return chunks, nil
}
